// Package grpcserver hosts the gRPC endpoint: the authentication gate,
// permission checks, logging/recover interceptors, the health service and the
// forum.auth.v1.Session service.
package grpcserver

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/and161185/forum-auth/internal/authctx"
	"github.com/and161185/forum-auth/internal/errs"
	"github.com/and161185/forum-auth/internal/metrics"
	"github.com/and161185/forum-auth/internal/model"
	"github.com/and161185/forum-auth/internal/permission"
)

// Authenticator resolves the principal behind an access token.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*model.Principal, error)
}

// Options configures the gate.
type Options struct {
	// Public lists full method names served without a principal.
	Public map[string]bool
	// Permissions maps full method names to required permission codes (any one suffices).
	Permissions map[string][]string
	// Metrics counts permission denials; may be nil.
	Metrics *metrics.Metrics
}

// New builds a gRPC server with the interceptor chain and a registered health service.
func New(log *zap.Logger, auth Authenticator, opts Options, extra ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	public := map[string]bool{
		healthpb.Health_Check_FullMethodName: true,
		healthpb.Health_Watch_FullMethodName: true,
	}
	for m, ok := range opts.Public {
		public[m] = ok
	}

	serverOpts := append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			RecoverUnary(log),
			LoggingUnary(log),
			AuthUnary(auth, public),
			PermissionUnary(opts.Permissions, opts.Metrics),
		),
		grpc.ChainStreamInterceptor(
			RecoverStream(log),
			LoggingStream(log),
			AuthStream(auth, public),
			PermissionStream(opts.Permissions, opts.Metrics),
		),
	}, extra...)

	s := grpc.NewServer(serverOpts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	return s, hs
}

// AuthUnary attaches the principal resolved from "authorization: Bearer <token>".
// Any failure rejects the call without a partial principal.
func AuthUnary(auth Authenticator, public map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if public[info.FullMethod] {
			return next(ctx, req)
		}
		p, err := authenticate(ctx, auth)
		if err != nil {
			return nil, err
		}
		return next(authctx.WithPrincipal(ctx, p), req)
	}
}

// AuthStream is AuthUnary for streaming calls.
func AuthStream(auth Authenticator, public map[string]bool) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, next grpc.StreamHandler) error {
		if public[info.FullMethod] {
			return next(srv, ss)
		}
		p, err := authenticate(ss.Context(), auth)
		if err != nil {
			return err
		}
		return next(srv, &principalStream{ServerStream: ss, ctx: authctx.WithPrincipal(ss.Context(), p)})
	}
}

type principalStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *principalStream) Context() context.Context { return s.ctx }

func authenticate(ctx context.Context, auth Authenticator) (*model.Principal, error) {
	tok, err := bearerTokenFromMD(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	p, err := auth.Authenticate(ctx, tok)
	if err != nil {
		return nil, ErrorToStatus(err)
	}
	return p, nil
}

// PermissionUnary enforces per-method permission requirements on the attached principal.
func PermissionUnary(required map[string][]string, met *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		need := required[info.FullMethod]
		if len(need) == 0 {
			return next(ctx, req)
		}
		p, _ := authctx.PrincipalFromCtx(ctx)
		if !permission.Authorize(p, need) {
			met.AuthzDenied(info.FullMethod)
			return nil, status.Error(codes.PermissionDenied, "insufficient permissions")
		}
		return next(ctx, req)
	}
}

// PermissionStream is PermissionUnary for streaming calls.
func PermissionStream(required map[string][]string, met *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, next grpc.StreamHandler) error {
		need := required[info.FullMethod]
		if len(need) == 0 {
			return next(srv, ss)
		}
		p, _ := authctx.PrincipalFromCtx(ss.Context())
		if !permission.Authorize(p, need) {
			met.AuthzDenied(info.FullMethod)
			return status.Error(codes.PermissionDenied, "insufficient permissions")
		}
		return next(srv, ss)
	}
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}

// ErrorToStatus maps domain errors to gRPC status errors.
func ErrorToStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errs.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, errs.ErrSecurity),
		errors.Is(err, errs.ErrUnauthorized),
		errors.Is(err, errs.ErrInvalidToken):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, errs.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, errs.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, err.Error())
	default:
		return status.Error(codes.Internal, "internal")
	}
}
