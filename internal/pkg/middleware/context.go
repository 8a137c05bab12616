package middleware

import (
	"context"

	"github.com/fekuna/omnipos-lot-service/internal/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// ContextInterceptor copies caller identity from incoming metadata into the context.
func ContextInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if val := md.Get("x-merchant-id"); len(val) > 0 {
				ctx = auth.WithMerchantID(ctx, val[0])
			}
			if val := md.Get("x-user-id"); len(val) > 0 {
				ctx = auth.WithUserID(ctx, val[0])
			}
		}
		return handler(ctx, req)
	}
}
