package service

import (
	"context"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/forum-auth/internal/model"
	"github.com/and161185/forum-auth/internal/permission"
	"github.com/and161185/forum-auth/internal/repository"
)

// RoleService defines role administration operations.
type RoleService interface {
	// ListRoles returns every role with its user count.
	ListRoles(ctx context.Context) ([]model.Role, error)
	// PermissionGroups returns the permission catalog grouped for display.
	PermissionGroups() []permission.Group
	// UpdateRolePermissions replaces a role's permissions after validating them against the catalog.
	UpdateRolePermissions(ctx context.Context, roleID uuid.UUID, codes []string) (*model.Role, error)
	// AssignUserRole sets a user's role; nil clears it so the default role applies.
	AssignUserRole(ctx context.Context, userID int64, roleID *uuid.UUID) error
}

type RoleServiceImpl struct {
	roles repository.RoleRepository
	users repository.UserRepository
	log   *zap.Logger
}

var _ RoleService = (*RoleServiceImpl)(nil)

// NewRoleService constructs RoleService.
func NewRoleService(roles repository.RoleRepository, users repository.UserRepository, log *zap.Logger) *RoleServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &RoleServiceImpl{roles: roles, users: users, log: log}
}

// ListRoles returns all roles.
func (s *RoleServiceImpl) ListRoles(ctx context.Context) ([]model.Role, error) {
	return s.roles.List(ctx)
}

// PermissionGroups returns catalog metadata.
func (s *RoleServiceImpl) PermissionGroups() []permission.Group {
	return permission.Groups()
}

// UpdateRolePermissions validates codes on write; unknown codes are rejected together.
func (s *RoleServiceImpl) UpdateRolePermissions(ctx context.Context, roleID uuid.UUID, codes []string) (*model.Role, error) {
	clean, err := permission.Validate(codes)
	if err != nil {
		return nil, err
	}
	role, err := s.roles.UpdatePermissions(ctx, roleID, clean)
	if err != nil {
		return nil, err
	}
	s.log.Info("role permissions updated", zap.String("role", role.Name), zap.Strings("permissions", clean))
	return role, nil
}

// AssignUserRole checks the role exists before assigning it.
func (s *RoleServiceImpl) AssignUserRole(ctx context.Context, userID int64, roleID *uuid.UUID) error {
	if roleID != nil {
		if _, err := s.roles.GetByID(ctx, *roleID); err != nil {
			return err
		}
	}
	if err := s.users.SetRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.log.Info("user role assigned", zap.Int64("user_id", userID), zap.Bool("cleared", roleID == nil))
	return nil
}
