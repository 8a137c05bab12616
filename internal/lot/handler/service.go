package handler

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "omnipos.lot.v1.LotService"

// LotServiceServer is the LotService contract. Requests and responses are
// JSON objects carried as google.protobuf.Struct.
type LotServiceServer interface {
	ReceiveLot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetLot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListLots(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListAvailable(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Allocate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reserve(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReserveQuantity(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Release(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ConsumeReservation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetReservation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListReservationsByConsumer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ChangeStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AdjustLot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListLedger(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReconcileLot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetStockPolicy(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListStockPolicies(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type method func(LotServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call method) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LotServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ServiceName + "/" + name,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(LotServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func methodDesc(name string, call method) grpc.MethodDesc {
	return grpc.MethodDesc{MethodName: name, Handler: unaryHandler(name, call)}
}

var LotService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LotServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		methodDesc("ReceiveLot", LotServiceServer.ReceiveLot),
		methodDesc("GetLot", LotServiceServer.GetLot),
		methodDesc("ListLots", LotServiceServer.ListLots),
		methodDesc("ListAvailable", LotServiceServer.ListAvailable),
		methodDesc("Allocate", LotServiceServer.Allocate),
		methodDesc("Reserve", LotServiceServer.Reserve),
		methodDesc("ReserveQuantity", LotServiceServer.ReserveQuantity),
		methodDesc("Release", LotServiceServer.Release),
		methodDesc("ConsumeReservation", LotServiceServer.ConsumeReservation),
		methodDesc("GetReservation", LotServiceServer.GetReservation),
		methodDesc("ListReservationsByConsumer", LotServiceServer.ListReservationsByConsumer),
		methodDesc("ChangeStatus", LotServiceServer.ChangeStatus),
		methodDesc("AdjustLot", LotServiceServer.AdjustLot),
		methodDesc("ListLedger", LotServiceServer.ListLedger),
		methodDesc("ReconcileLot", LotServiceServer.ReconcileLot),
		methodDesc("SetStockPolicy", LotServiceServer.SetStockPolicy),
		methodDesc("ListStockPolicies", LotServiceServer.ListStockPolicies),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "omnipos/lot/v1/lot.proto",
}

func RegisterLotServiceServer(s grpc.ServiceRegistrar, srv LotServiceServer) {
	s.RegisterService(&LotService_ServiceDesc, srv)
}

// LotServiceClient calls LotService methods by name.
type LotServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewLotServiceClient(cc grpc.ClientConnInterface) *LotServiceClient {
	return &LotServiceClient{cc: cc}
}

func (c *LotServiceClient) Call(ctx context.Context, name string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+name, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
