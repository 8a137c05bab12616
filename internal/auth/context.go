package auth

import (
	"context"

	"google.golang.org/grpc/metadata"
)

type contextKey string

const (
	merchantIDKey contextKey = "merchant_id"
	userIDKey     contextKey = "user_id"
)

func WithMerchantID(ctx context.Context, merchantID string) context.Context {
	return context.WithValue(ctx, merchantIDKey, merchantID)
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetMerchantID prefers the interceptor-populated value and falls back to metadata.
func GetMerchantID(ctx context.Context) string {
	if val, ok := ctx.Value(merchantIDKey).(string); ok {
		return val
	}
	return fromMetadata(ctx, "x-merchant-id")
}

// GetUserID returns the acting user, "system" when the call carries none.
func GetUserID(ctx context.Context) string {
	if val, ok := ctx.Value(userIDKey).(string); ok && val != "" {
		return val
	}
	if val := fromMetadata(ctx, "x-user-id"); val != "" {
		return val
	}
	return "system"
}

func fromMetadata(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if ok {
		if val := md.Get(key); len(val) > 0 {
			return val[0]
		}
	}
	return ""
}
