package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/forum-auth/internal/authctx"
	"github.com/and161185/forum-auth/internal/model"
)

// Full method names of forum.auth.v1.Session.
const (
	SessionProfileMethod     = "/forum.auth.v1.Session/Profile"
	SessionLogoutAllMethod   = "/forum.auth.v1.Session/LogoutAll"
	SessionListRolesMethod   = "/forum.auth.v1.Session/ListRoles"
	SessionStreamRolesMethod = "/forum.auth.v1.Session/StreamRoles"
)

// SessionPermissions are the permission requirements of the Session service,
// ready to pass as Options.Permissions.
var SessionPermissions = map[string][]string{
	SessionListRolesMethod:   {"role:read"},
	SessionStreamRolesMethod: {"role:read"},
}

// SessionBackend is the session manager surface the service needs.
type SessionBackend interface {
	Authenticator
	LogoutAll(ctx context.Context, userID int64) error
}

// RoleLister lists roles with their user counts.
type RoleLister interface {
	ListRoles(ctx context.Context) ([]model.Role, error)
}

// SessionServer is the server API of forum.auth.v1.Session. Messages are
// well-known protobuf types, so no generated code is needed.
type SessionServer interface {
	Profile(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
	LogoutAll(ctx context.Context, in *emptypb.Empty) (*emptypb.Empty, error)
	ListRoles(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
	StreamRoles(in *emptypb.Empty, stream grpc.ServerStream) error
}

// SessionService serves forum.auth.v1.Session for the principal attached by the gate.
type SessionService struct {
	auth  SessionBackend
	roles RoleLister
}

var _ SessionServer = (*SessionService)(nil)

// NewSessionService constructs the Session service.
func NewSessionService(auth SessionBackend, roles RoleLister) *SessionService {
	return &SessionService{auth: auth, roles: roles}
}

// RegisterSessionServer registers srv on s.
func RegisterSessionServer(s grpc.ServiceRegistrar, srv SessionServer) {
	s.RegisterService(&SessionServiceDesc, srv)
}

func mustPrincipal(ctx context.Context) (*model.Principal, error) {
	p, ok := authctx.PrincipalFromCtx(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no principal")
	}
	return p, nil
}

// Profile returns the caller's identity and effective permissions.
func (s *SessionService) Profile(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	p, err := mustPrincipal(ctx)
	if err != nil {
		return nil, err
	}
	m := map[string]any{
		"id":          p.UserID,
		"username":    p.Username,
		"email":       p.Email,
		"avatar":      nil,
		"role":        "",
		"permissions": anySlice(p.Permissions()),
	}
	if p.Avatar != nil {
		m["avatar"] = *p.Avatar
	}
	if p.Role != nil {
		m["role"] = p.Role.Name
	}
	return toStruct(m)
}

// LogoutAll revokes every refresh token of the caller.
func (s *SessionService) LogoutAll(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	p, err := mustPrincipal(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.auth.LogoutAll(ctx, p.UserID); err != nil {
		return nil, ErrorToStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// ListRoles returns {"roles": [...]}.
func (s *SessionService) ListRoles(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	roles, err := s.roles.ListRoles(ctx)
	if err != nil {
		return nil, ErrorToStatus(err)
	}
	list := make([]any, 0, len(roles))
	for _, r := range roles {
		list = append(list, roleMap(r))
	}
	return toStruct(map[string]any{"roles": list})
}

// StreamRoles sends one message per role.
func (s *SessionService) StreamRoles(_ *emptypb.Empty, stream grpc.ServerStream) error {
	roles, err := s.roles.ListRoles(stream.Context())
	if err != nil {
		return ErrorToStatus(err)
	}
	for _, r := range roles {
		msg, err := toStruct(roleMap(r))
		if err != nil {
			return err
		}
		if err := stream.SendMsg(msg); err != nil {
			return err
		}
	}
	return nil
}

func roleMap(r model.Role) map[string]any {
	return map[string]any{
		"id":          r.ID.String(),
		"name":        r.Name,
		"is_default":  r.IsDefault,
		"permissions": anySlice(r.Permissions),
		"description": r.Description,
		"user_count":  r.UserCount,
	}
}

// anySlice converts codes for structpb, which only accepts []any.
func anySlice(in []string) []any {
	out := make([]any, 0, len(in))
	for _, c := range in {
		out = append(out, c)
	}
	return out
}

func toStruct(m map[string]any) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal")
	}
	return st, nil
}

func sessionProfileHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionServer).Profile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SessionProfileMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(SessionServer).Profile(ctx, req.(*emptypb.Empty))
	})
}

func sessionLogoutAllHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionServer).LogoutAll(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SessionLogoutAllMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(SessionServer).LogoutAll(ctx, req.(*emptypb.Empty))
	})
}

func sessionListRolesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionServer).ListRoles(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SessionListRolesMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(SessionServer).ListRoles(ctx, req.(*emptypb.Empty))
	})
}

func sessionStreamRolesHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SessionServer).StreamRoles(in, stream)
}

// SessionServiceDesc describes forum.auth.v1.Session for grpc.RegisterService.
var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: "forum.auth.v1.Session",
	HandlerType: (*SessionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Profile", Handler: sessionProfileHandler},
		{MethodName: "LogoutAll", Handler: sessionLogoutAllHandler},
		{MethodName: "ListRoles", Handler: sessionListRolesHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamRoles", Handler: sessionStreamRolesHandler, ServerStreams: true},
	},
	Metadata: "forum/auth/v1/session.proto",
}
