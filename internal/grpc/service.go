package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "pizzarun.v1.DeliveryService"

// Full method names, used by the auth allow-list and the client.
const (
	MethodGenerateOrder     = "/" + ServiceName + "/GenerateOrder"
	MethodListQueuedOrders  = "/" + ServiceName + "/ListQueuedOrders"
	MethodClaimOrders       = "/" + ServiceName + "/ClaimOrders"
	MethodListMyOrders      = "/" + ServiceName + "/ListMyOrders"
	MethodReportLocation    = "/" + ServiceName + "/ReportLocation"
	MethodStartSession      = "/" + ServiceName + "/StartSession"
	MethodEndSession        = "/" + ServiceName + "/EndSession"
	MethodGetStats          = "/" + ServiceName + "/GetStats"
	MethodListAchievements  = "/" + ServiceName + "/ListAchievements"
	MethodRegisterPushToken = "/" + ServiceName + "/RegisterPushToken"
	MethodWatchAchievements = "/" + ServiceName + "/WatchAchievements"
)

// DeliveryServiceServer is the server API. Requests and responses are
// google.protobuf.Struct messages.
type DeliveryServiceServer interface {
	GenerateOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListQueuedOrders(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClaimOrders(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMyOrders(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReportLocation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StartSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EndSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListAchievements(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RegisterPushToken(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchAchievements(*structpb.Struct, grpc.ServerStream) error
}

type unaryCall func(DeliveryServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryCall) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(DeliveryServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(DeliveryServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// DeliveryServiceDesc describes the service for grpc.Server.RegisterService.
var DeliveryServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DeliveryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GenerateOrder", DeliveryServiceServer.GenerateOrder),
		unary("ListQueuedOrders", DeliveryServiceServer.ListQueuedOrders),
		unary("ClaimOrders", DeliveryServiceServer.ClaimOrders),
		unary("ListMyOrders", DeliveryServiceServer.ListMyOrders),
		unary("ReportLocation", DeliveryServiceServer.ReportLocation),
		unary("StartSession", DeliveryServiceServer.StartSession),
		unary("EndSession", DeliveryServiceServer.EndSession),
		unary("GetStats", DeliveryServiceServer.GetStats),
		unary("ListAchievements", DeliveryServiceServer.ListAchievements),
		unary("RegisterPushToken", DeliveryServiceServer.RegisterPushToken),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "WatchAchievements",
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(structpb.Struct)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(DeliveryServiceServer).WatchAchievements(in, stream)
			},
			ServerStreams: true,
		},
	},
	Metadata: "pizzarun/v1/delivery.proto",
}

// RegisterDeliveryServiceServer registers srv with s.
func RegisterDeliveryServiceServer(s grpc.ServiceRegistrar, srv DeliveryServiceServer) {
	s.RegisterService(&DeliveryServiceDesc, srv)
}

// Client calls DeliveryService over conn.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Call invokes a unary method by its full name.
func (c *Client) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// WatchAchievements opens the event stream. Each Recv returns one event.
func (c *Client) WatchAchievements(ctx context.Context, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.conn.NewStream(ctx, &DeliveryServiceDesc.Streams[0], MethodWatchAchievements, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(&structpb.Struct{}); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
