// Package sigchain exposes the chain engine as the sigchain.v1 gRPC service.
package sigchain

import (
	"context"

	apperrors "github.com/louisbranch/sigchain/internal/platform/errors"
	"github.com/louisbranch/sigchain/internal/platform/errors/i18n"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/protocol"
	"github.com/louisbranch/sigchain/internal/services/sigchain/engine"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// LocaleMetadataKey carries the caller's preferred languages for error messages.
const LocaleMetadataKey = "accept-language"

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "sigchain.v1.SigchainService"

const (
	submitMethod           = "/" + ServiceName + "/Submit"
	readBlocksMethod       = "/" + ServiceName + "/ReadBlocks"
	readLogBlocksMethod    = "/" + ServiceName + "/ReadLogBlocks"
	inviteCiphertextMethod = "/" + ServiceName + "/InviteCiphertext"
)

// SigchainServer is the server API for the sigchain service.
type SigchainServer interface {
	Submit(context.Context, *protocol.SignedMessage) (*protocol.SubmitResponse, error)
	ReadBlocks(context.Context, *protocol.SignedMessage) (*protocol.ReadBlocksResponse, error)
	ReadLogBlocks(context.Context, *protocol.SignedMessage) (*protocol.ReadLogBlocksResponse, error)
	InviteCiphertext(context.Context, *protocol.InviteCiphertextRequest) (*protocol.InviteCiphertextResponse, error)
}

// Service exposes sigchain.v1 gRPC operations over an engine.
type Service struct {
	engine *engine.Engine
}

// NewService creates a sigchain service backed by engine.
func NewService(e *engine.Engine) *Service {
	return &Service{engine: e}
}

// Submit applies a main-chain or log-chain write.
func (s *Service) Submit(ctx context.Context, in *protocol.SignedMessage) (*protocol.SubmitResponse, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "signed message is required")
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	hash, err := s.engine.Submit(ctx, *in)
	if err != nil {
		return nil, apperrors.HandleError(err, requestLocale(ctx))
	}
	return &protocol.SubmitResponse{BlockHash: hash}, nil
}

// ReadBlocks returns a page of a team main chain.
func (s *Service) ReadBlocks(ctx context.Context, in *protocol.SignedMessage) (*protocol.ReadBlocksResponse, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "signed read request is required")
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	resp, err := s.engine.ReadBlocks(ctx, *in)
	if err != nil {
		return nil, apperrors.HandleError(err, requestLocale(ctx))
	}
	return &resp, nil
}

// ReadLogBlocks returns a page of log blocks for a member chain or a team.
func (s *Service) ReadLogBlocks(ctx context.Context, in *protocol.SignedMessage) (*protocol.ReadLogBlocksResponse, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "signed read request is required")
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	resp, err := s.engine.ReadLogBlocks(ctx, *in)
	if err != nil {
		return nil, apperrors.HandleError(err, requestLocale(ctx))
	}
	return &resp, nil
}

// InviteCiphertext returns the sealed invitation secret for a link key hash.
func (s *Service) InviteCiphertext(ctx context.Context, in *protocol.InviteCiphertextRequest) (*protocol.InviteCiphertextResponse, error) {
	if in == nil || len(in.SymmetricKeyHash) == 0 {
		return nil, status.Error(codes.InvalidArgument, "symmetric key hash is required")
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	ciphertext, err := s.engine.InviteCiphertext(ctx, in.SymmetricKeyHash)
	if err != nil {
		return nil, apperrors.HandleError(err, requestLocale(ctx))
	}
	return &protocol.InviteCiphertextResponse{Ciphertext: ciphertext}, nil
}

func (s *Service) ready() error {
	if s == nil || s.engine == nil {
		return status.Error(codes.Internal, "sigchain engine is not configured")
	}
	return nil
}

// RegisterSigchainServer registers srv with the gRPC server.
func RegisterSigchainServer(s grpc.ServiceRegistrar, srv SigchainServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc is the grpc.ServiceDesc for the sigchain service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SigchainServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: submitHandler},
		{MethodName: "ReadBlocks", Handler: readBlocksHandler},
		{MethodName: "ReadLogBlocks", Handler: readLogBlocksHandler},
		{MethodName: "InviteCiphertext", Handler: inviteCiphertextHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sigchain/v1/sigchain.json",
}

func submitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unary(srv, ctx, dec, interceptor, submitMethod, SigchainServer.Submit)
}

func readBlocksHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unary(srv, ctx, dec, interceptor, readBlocksMethod, SigchainServer.ReadBlocks)
}

func readLogBlocksHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unary(srv, ctx, dec, interceptor, readLogBlocksMethod, SigchainServer.ReadLogBlocks)
}

func inviteCiphertextHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unary(srv, ctx, dec, interceptor, inviteCiphertextMethod, SigchainServer.InviteCiphertext)
}

func unary[Req, Resp any](
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
	method string,
	call func(SigchainServer, context.Context, *Req) (*Resp, error),
) (any, error) {
	in := new(Req)
	if err := dec(in); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	if interceptor == nil {
		return call(srv.(SigchainServer), ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
	handler := func(ctx context.Context, req any) (any, error) {
		return call(srv.(SigchainServer), ctx, req.(*Req))
	}
	return interceptor(ctx, in, info, handler)
}

func requestLocale(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return apperrors.DefaultLocale
	}
	values := md.Get(LocaleMetadataKey)
	if len(values) == 0 {
		return apperrors.DefaultLocale
	}
	return i18n.MatchLocale(values[0])
}
