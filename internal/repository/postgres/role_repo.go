package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/forum-auth/internal/errs"
	"github.com/and161185/forum-auth/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// RoleRepo implements RoleRepository using PostgreSQL.
type RoleRepo struct{ db *DB }

// NewRoleRepo constructs a role repository.
func NewRoleRepo(db *DB) *RoleRepo { return &RoleRepo{db: db} }

// GetByID selects a role by ID.
func (r *RoleRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Role, error) {
	const q = `
SELECT id, name, is_default, permissions, description
FROM roles WHERE id = $1`
	return scanRole(r.db.Pool.QueryRow(ctx, q, id))
}

// GetDefault selects the role flagged as default.
func (r *RoleRepo) GetDefault(ctx context.Context) (*model.Role, error) {
	const q = `
SELECT id, name, is_default, permissions, description
FROM roles WHERE is_default
ORDER BY name
LIMIT 1`
	return scanRole(r.db.Pool.QueryRow(ctx, q))
}

// List returns all roles with the number of users holding each.
func (r *RoleRepo) List(ctx context.Context) ([]model.Role, error) {
	const q = `
SELECT r.id, r.name, r.is_default, r.permissions, r.description,
       (SELECT count(*) FROM users u WHERE u.role_id = r.id)
FROM roles r
ORDER BY r.name`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var out []model.Role
	for rows.Next() {
		var role model.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.IsDefault, &role.Permissions, &role.Description, &role.UserCount); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

// UpdatePermissions replaces the permission set of a role.
func (r *RoleRepo) UpdatePermissions(ctx context.Context, id uuid.UUID, perms []string) (*model.Role, error) {
	const q = `
UPDATE roles SET permissions = $2
WHERE id = $1
RETURNING id, name, is_default, permissions, description`
	if perms == nil {
		perms = []string{}
	}
	return scanRole(r.db.Pool.QueryRow(ctx, q, id, perms))
}

func scanRole(row pgx.Row) (*model.Role, error) {
	var role model.Role
	if err := row.Scan(&role.ID, &role.Name, &role.IsDefault, &role.Permissions, &role.Description); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFoundf("role not found")
		}
		return nil, err
	}
	return &role, nil
}
