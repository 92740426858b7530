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

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const userSelect = `
SELECT u.id, u.username, u.email, u.pwd_hash, u.avatar, u.role_id, u.point, u.exp, u.created_at,
       r.name, r.is_default, r.permissions, r.description
FROM users u
LEFT JOIN roles r ON r.id = u.role_id`

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (username, email, pwd_hash, avatar, role_id)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at`
	err := r.db.Pool.QueryRow(ctx, q, u.Username, u.Email, u.PwdHash, u.Avatar, nullUUID(u.RoleID)).
		Scan(&u.ID, &u.CreatedAt)
	if constraint, ok := uniqueViolation(err); ok {
		// lost a race with a concurrent registration
		switch constraint {
		case "users_email_key":
			return &errs.ConflictError{Fields: []string{"email"}}
		default:
			return &errs.ConflictError{Fields: []string{"username"}}
		}
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// FindByLogin selects a user whose username or email equals identifier.
func (r *UserRepo) FindByLogin(ctx context.Context, identifier string) (*model.User, error) {
	const q = userSelect + `
WHERE u.username = $1 OR u.email = $1
ORDER BY u.id
LIMIT 1`
	return scanUser(r.db.Pool.QueryRow(ctx, q, identifier))
}

// FindConflicts selects users sharing the username or the email in one round trip.
func (r *UserRepo) FindConflicts(ctx context.Context, username, email string) ([]model.User, error) {
	const q = `
SELECT id, username, email
FROM users
WHERE username = $1 OR email = $2`
	rows, err := r.db.Pool.Query(ctx, q, username, email)
	if err != nil {
		return nil, fmt.Errorf("find conflicts: %w", err)
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// GetByIDWithRole selects a user by ID with its assigned role.
func (r *UserRepo) GetByIDWithRole(ctx context.Context, id int64) (*model.User, error) {
	const q = userSelect + `
WHERE u.id = $1`
	return scanUser(r.db.Pool.QueryRow(ctx, q, id))
}

// SetRole assigns or clears a user's role.
func (r *UserRepo) SetRole(ctx context.Context, userID int64, roleID *uuid.UUID) error {
	const q = `UPDATE users SET role_id = $2 WHERE id = $1`
	tag, err := r.db.Pool.Exec(ctx, q, userID, nullUUID(roleID))
	if err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFoundf("user not found")
	}
	return nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u        model.User
		roleID   uuid.NullUUID
		rName    *string
		rDefault *bool
		rPerms   []string
		rDesc    *string
	)
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PwdHash, &u.Avatar, &roleID, &u.Point, &u.Exp, &u.CreatedAt,
		&rName, &rDefault, &rPerms, &rDesc,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	if roleID.Valid && rName != nil {
		id := roleID.UUID
		u.RoleID = &id
		u.Role = &model.Role{ID: id, Name: *rName, Permissions: rPerms}
		if rDefault != nil {
			u.Role.IsDefault = *rDefault
		}
		if rDesc != nil {
			u.Role.Description = *rDesc
		}
	}
	return &u, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
