package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/forum-auth/internal/errs"
	"github.com/and161185/forum-auth/internal/model"
	"github.com/and161185/forum-auth/internal/repository"
	"github.com/jackc/pgx/v5"
)

// RefreshTokenRepo implements RefreshTokenRepository using PostgreSQL.
//
// Rotation and bulk revocation both lock the owning users row first, so a
// rotation in flight either commits before a bulk revoke (and its new row is
// revoked by it) or observes the revocation.
type RefreshTokenRepo struct{ db *DB }

// NewRefreshTokenRepo constructs a refresh token repository.
func NewRefreshTokenRepo(db *DB) *RefreshTokenRepo { return &RefreshTokenRepo{db: db} }

const (
	insertToken = `
INSERT INTO refresh_tokens (user_id, token_hash, device_ip, user_agent, expires_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at`
	lockUser   = `SELECT id FROM users WHERE id = $1 FOR UPDATE`
	revokeUser = `UPDATE refresh_tokens SET is_revoked = TRUE WHERE user_id = $1 AND is_revoked = FALSE`
)

// Create inserts a refresh token row.
func (r *RefreshTokenRepo) Create(ctx context.Context, t *model.RefreshToken) error {
	return createToken(ctx, r.db.Pool, t)
}

// Revoke marks one token of the user revoked without a grace window.
func (r *RefreshTokenRepo) Revoke(ctx context.Context, userID, tokenID int64) error {
	const q = `
UPDATE refresh_tokens SET is_revoked = TRUE
WHERE id = $1 AND user_id = $2 AND is_revoked = FALSE`
	if _, err := r.db.Pool.Exec(ctx, q, tokenID, userID); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes all active tokens of a user under the user row lock.
func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		var id int64
		if err := tx.QueryRow(ctx, lockUser, userID).Scan(&id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("lock user: %w", err)
		}
		tag, err := tx.Exec(ctx, revokeUser, userID)
		if err != nil {
			return fmt.Errorf("revoke all: %w", err)
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}

// InTx runs fn inside one transaction.
func (r *RefreshTokenRepo) InTx(ctx context.Context, fn func(tx repository.RefreshTokenTx) error) error {
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		return fn(&tokenTx{tx: tx})
	})
}

type tokenTx struct{ tx pgx.Tx }

var _ repository.RefreshTokenTx = (*tokenTx)(nil)

// LockOwner locks the users row owning the token.
func (t *tokenTx) LockOwner(ctx context.Context, tokenID int64) (int64, error) {
	const q = `
SELECT u.id
FROM refresh_tokens rt
JOIN users u ON u.id = rt.user_id
WHERE rt.id = $1
FOR UPDATE OF u`
	var userID int64
	if err := t.tx.QueryRow(ctx, q, tokenID).Scan(&userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, errs.ErrNotFound
		}
		return 0, fmt.Errorf("lock owner: %w", err)
	}
	return userID, nil
}

// GetForUpdate loads and locks a token row.
func (t *tokenTx) GetForUpdate(ctx context.Context, tokenID int64) (*model.RefreshToken, error) {
	const q = `
SELECT rt.id, rt.user_id, u.username, rt.token_hash, rt.device_ip, rt.user_agent,
       rt.is_revoked, rt.revoke_at, rt.expires_at, rt.created_at
FROM refresh_tokens rt
JOIN users u ON u.id = rt.user_id
WHERE rt.id = $1
FOR UPDATE OF rt`
	var rt model.RefreshToken
	err := t.tx.QueryRow(ctx, q, tokenID).Scan(
		&rt.ID, &rt.UserID, &rt.Username, &rt.TokenHash, &rt.DeviceIP, &rt.UserAgent,
		&rt.IsRevoked, &rt.RevokeAt, &rt.ExpiresAt, &rt.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	return &rt, nil
}

// Create inserts a token row within the transaction.
func (t *tokenTx) Create(ctx context.Context, rt *model.RefreshToken) error {
	return createToken(ctx, t.tx, rt)
}

// MarkRotated revokes the token and opens its grace window.
func (t *tokenTx) MarkRotated(ctx context.Context, tokenID int64, revokeAt time.Time) error {
	const q = `UPDATE refresh_tokens SET is_revoked = TRUE, revoke_at = $2 WHERE id = $1`
	if _, err := t.tx.Exec(ctx, q, tokenID, revokeAt); err != nil {
		return fmt.Errorf("mark rotated: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes all active tokens; the caller holds the user lock.
func (t *tokenTx) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	tag, err := t.tx.Exec(ctx, revokeUser, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke all: %w", err)
	}
	return tag.RowsAffected(), nil
}

func createToken(ctx context.Context, q querier, t *model.RefreshToken) error {
	err := q.QueryRow(ctx, insertToken, t.UserID, t.TokenHash, t.DeviceIP, t.UserAgent, t.ExpiresAt).
		Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}
