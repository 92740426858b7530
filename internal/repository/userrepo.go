// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/forum-auth/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepository is the user directory consumed by the session manager.
type UserRepository interface {
	// Create inserts a new user and sets its ID.
	Create(ctx context.Context, u *model.User) error
	// FindByLogin loads a user (with role, if assigned) whose username or email equals identifier.
	FindByLogin(ctx context.Context, identifier string) (*model.User, error)
	// FindConflicts returns every user sharing the username or the email.
	FindConflicts(ctx context.Context, username, email string) ([]model.User, error)
	// GetByIDWithRole loads a user by ID together with its assigned role.
	GetByIDWithRole(ctx context.Context, id int64) (*model.User, error)
	// SetRole assigns a role, or clears it when roleID is nil.
	SetRole(ctx context.Context, userID int64, roleID *uuid.UUID) error
}

// RoleRepository provides access to roles.
type RoleRepository interface {
	// GetByID loads a role.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Role, error)
	// GetDefault loads the role flagged as default.
	GetDefault(ctx context.Context) (*model.Role, error)
	// List returns all roles ordered by name, with user counts.
	List(ctx context.Context) ([]model.Role, error)
	// UpdatePermissions replaces a role's permission set.
	UpdatePermissions(ctx context.Context, id uuid.UUID, perms []string) (*model.Role, error)
}
