package rpcgw

import (
	"context"

	"google.golang.org/grpc"
)

// serviceDesc is the hand-written substitute for a protoc-generated
// grpc.ServiceDesc: the same shape, registered directly against a
// Server that implements each method concretely instead of through a
// generated interface.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "kestrel.Kestrel",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deploy", Handler: deployHandler},
		{MethodName: "Swap", Handler: swapHandler},
		{MethodName: "Replace", Handler: replaceHandler},
		{MethodName: "Status", Handler: statusHandler},
		{MethodName: "Kill", Handler: killHandler},
		{MethodName: "List", Handler: listHandler},
		{MethodName: "SetSecret", Handler: setSecretHandler},
		{MethodName: "GetSecret", Handler: getSecretHandler},
		{MethodName: "DeleteSecret", Handler: deleteSecretHandler},
		{MethodName: "ListSecrets", Handler: listSecretsHandler},
		{MethodName: "Health", Handler: healthHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchEvents", Handler: watchEventsHandler, ServerStreams: true},
	},
	Metadata: "kestrel.proto",
}

func deployHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DeployRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).Deploy(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/kestrel.Kestrel/Deploy"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).Deploy(ctx, req.(*DeployRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func swapHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SwapRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).Swap(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/kestrel.Kestrel/Swap"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).Swap(ctx, req.(*SwapRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func replaceHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ReplaceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).Replace(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/kestrel.Kestrel/Replace"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).Replace(ctx, req.(*ReplaceRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/kestrel.Kestrel/Status"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).Status(ctx, req.(*StatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func killHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(KillRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).Kill(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/kestrel.Kestrel/Kill"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).Kill(ctx, req.(*KillRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).List(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/kestrel.Kestrel/List"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).List(ctx, req.(*ListRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func setSecretHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SetSecretRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).SetSecret(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/kestrel.Kestrel/SetSecret"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).SetSecret(ctx, req.(*SetSecretRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getSecretHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetSecretRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).GetSecret(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/kestrel.Kestrel/GetSecret"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).GetSecret(ctx, req.(*GetSecretRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func deleteSecretHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DeleteSecretRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).DeleteSecret(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/kestrel.Kestrel/DeleteSecret"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).DeleteSecret(ctx, req.(*DeleteSecretRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listSecretsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListSecretsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).ListSecrets(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/kestrel.Kestrel/ListSecrets"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).ListSecrets(ctx, req.(*ListSecretsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func healthHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(HealthRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).Health(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/kestrel.Kestrel/Health"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).Health(ctx, req.(*HealthRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchEventsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(*Server).WatchEvents(in, stream)
}
