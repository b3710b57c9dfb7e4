// Package rpcgw is Kestrel's RPC gateway: a google.golang.org/grpc
// server exposing the kernel's core operations through a
// hand-registered grpc.ServiceDesc carried over a JSON wire codec,
// since no .proto toolchain is available in this environment. The
// mTLS setup is the teacher's pkg/api.NewServer pattern, generalized
// from a single manager certificate to Kestrel's CA-issued
// server/client material.
package rpcgw

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net"
	"time"

	"github.com/cuemby/kestrel/pkg/events"
	"github.com/cuemby/kestrel/pkg/kernel"
	"github.com/cuemby/kestrel/pkg/log"
	"github.com/cuemby/kestrel/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/peer"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// Server implements the kestrel RPC gateway over k.
type Server struct {
	k      *kernel.Kernel
	grpc   *grpc.Server
	logger zerolog.Logger
}

// New builds a Server with mTLS credentials sourced from k.CA: the
// server presents k.CA.ServerCertificate() and requires and verifies a
// client certificate signed by k.CA against every connection.
func New(k *kernel.Kernel) (*Server, error) {
	cert, err := k.CA.ServerCertificate()
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		ClientAuth:   tls.RequireAndVerifyClientCert,
		Certificates: []tls.Certificate{cert},
		ClientCAs:    k.CA.CertPool(),
		MinVersion:   tls.VersionTLS13,
	}
	creds := credentials.NewTLS(tlsConfig)

	s := &Server{k: k, logger: log.WithComponent("rpcgw")}
	s.grpc = grpc.NewServer(
		grpc.Creds(creds),
		grpc.UnaryInterceptor(s.tenantUnaryInterceptor),
		grpc.StreamInterceptor(s.tenantStreamInterceptor),
	)
	s.grpc.RegisterService(&serviceDesc, s)
	return s, nil
}

// Start serves the gRPC gateway on addr, blocking until Stop is called
// or the listener fails.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.logger.Info().Str("addr", addr).Msg("rpc gateway listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the gRPC server.
func (s *Server) Stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}

type tenantKey struct{}

// tenantFromContext reads the tenant identity the mTLS interceptor
// verified for this call.
func tenantFromContext(ctx context.Context) (types.TenantID, error) {
	t, ok := ctx.Value(tenantKey{}).(types.TenantID)
	if !ok || t == "" {
		return "", types.NewError(types.ErrUnauthorized, "no verified client certificate for this call")
	}
	return t, nil
}

// verifyPeer extracts and verifies the client certificate's Common
// Name from ctx's peer info, per spec.md §6's mTLS tenant
// identification path.
func (s *Server) verifyPeer(ctx context.Context) (types.TenantID, error) {
	p, ok := peer.FromContext(ctx)
	if !ok || p.AuthInfo == nil {
		return "", types.NewError(types.ErrUnauthorized, "no peer certificate presented")
	}
	tlsInfo, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok || len(tlsInfo.State.PeerCertificates) == 0 {
		return "", types.NewError(types.ErrUnauthorized, "no peer certificate presented")
	}
	cn, err := s.k.CA.VerifyClientCertificate(tlsInfo.State.PeerCertificates[0])
	if err != nil {
		return "", types.Wrap(types.ErrUnauthorized, "client certificate verification failed", err)
	}
	return types.TenantID(cn), nil
}

func (s *Server) tenantUnaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	tenant, err := s.verifyPeer(ctx)
	if err != nil {
		return nil, err
	}
	return handler(context.WithValue(ctx, tenantKey{}, tenant), req)
}

func (s *Server) tenantStreamInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	tenant, err := s.verifyPeer(ss.Context())
	if err != nil {
		return err
	}
	return handler(srv, &tenantServerStream{ServerStream: ss, ctx: context.WithValue(ss.Context(), tenantKey{}, tenant)})
}

type tenantServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tenantServerStream) Context() context.Context { return s.ctx }

// --- unary operation handlers ---

func (s *Server) Deploy(ctx context.Context, req *DeployRequest) (*DeployResponse, error) {
	tenant, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	spec := types.ServiceSpec{Tenant: tenant, Name: types.ServiceID(req.Name), Code: req.Code, Format: types.CodeFormat(req.Format)}
	if err := s.k.Deploy(ctx, spec); err != nil {
		return nil, err
	}
	return &DeployResponse{Tenant: string(tenant), Service: req.Name}, nil
}

func (s *Server) Swap(ctx context.Context, req *SwapRequest) (*Empty, error) {
	tenant, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	ref := types.ServiceRef{Tenant: tenant, Service: types.ServiceID(req.Service)}
	spec := types.ServiceSpec{Tenant: tenant, Name: ref.Service, Code: req.Code, Format: types.CodeFormat(req.Format)}
	window := durationFromMs(req.WindowMs)
	if err := s.k.Swap(ctx, ref, spec, window); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *Server) Replace(ctx context.Context, req *ReplaceRequest) (*Empty, error) {
	tenant, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	ref := types.ServiceRef{Tenant: tenant, Service: types.ServiceID(req.Service)}
	spec := types.ServiceSpec{Tenant: tenant, Name: ref.Service, Code: req.Code, Format: types.CodeFormat(req.Format)}
	if err := s.k.Replace(ctx, ref, spec); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *Server) Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error) {
	tenant, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	ref := types.ServiceRef{Tenant: tenant, Service: types.ServiceID(req.Service)}
	status, err := s.k.Status(ref)
	if err != nil {
		return nil, err
	}
	return &StatusResponse{WorkerStatus: status}, nil
}

func (s *Server) Kill(ctx context.Context, req *KillRequest) (*Empty, error) {
	tenant, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	ref := types.ServiceRef{Tenant: tenant, Service: types.ServiceID(req.Service)}
	if err := s.k.Kill(ref); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *Server) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	tenant, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return &ListResponse{Services: s.k.GetServices(tenant, req.Name)}, nil
}

func (s *Server) SetSecret(ctx context.Context, req *SetSecretRequest) (*Empty, error) {
	tenant, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	key, err := hex.DecodeString(req.MasterKey)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidInput, "master_key must be hex-encoded")
	}
	if err := s.k.SetSecret(ctx, tenant, req.Name, []byte(req.Value), key); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *Server) GetSecret(ctx context.Context, req *GetSecretRequest) (*GetSecretResponse, error) {
	tenant, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	key, err := hex.DecodeString(req.MasterKey)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidInput, "master_key must be hex-encoded")
	}
	value, err := s.k.GetSecret(ctx, tenant, req.Name, key)
	if err != nil {
		return nil, err
	}
	return &GetSecretResponse{Value: string(value)}, nil
}

func (s *Server) DeleteSecret(ctx context.Context, req *DeleteSecretRequest) (*Empty, error) {
	tenant, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.k.DeleteSecret(ctx, tenant, req.Name); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *Server) ListSecrets(ctx context.Context, req *ListSecretsRequest) (*ListSecretsResponse, error) {
	tenant, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	names, err := s.k.ListSecrets(tenant)
	if err != nil {
		return nil, err
	}
	return &ListSecretsResponse{Names: names}, nil
}

func (s *Server) Health(ctx context.Context, req *HealthRequest) (*HealthResponse, error) {
	return &HealthResponse{Components: s.k.Health()}, nil
}

// WatchEvents is the one server-streaming method: it sends every
// event matching req as a stream message until the client cancels.
func (s *Server) WatchEvents(req *WatchEventsRequest, stream grpc.ServerStream) error {
	tenant, err := tenantFromContext(stream.Context())
	if err != nil {
		return err
	}
	sub := s.k.Events().Subscribe(eventsFilter(tenant, req.Subject))
	defer sub.Close()

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case event, ok := <-sub.Events:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(event); err != nil {
				return err
			}
		}
	}
}

func durationFromMs(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }

func eventsFilter(tenant types.TenantID, subject string) events.Filter {
	return events.Filter{Tenant: tenant, Subject: subject}
}
