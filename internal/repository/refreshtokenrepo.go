package repository

import (
	"context"
	"time"

	"github.com/and161185/forum-auth/internal/model"
)

// RefreshTokenRepository persists refresh tokens.
type RefreshTokenRepository interface {
	// Create inserts a token row and sets its ID.
	Create(ctx context.Context, t *model.RefreshToken) error
	// Revoke marks a single token revoked (no grace window) if owned by userID.
	Revoke(ctx context.Context, userID, tokenID int64) error
	// RevokeAllForUser revokes every non-revoked token of the user atomically with
	// respect to in-flight rotations. Returns the number of rows revoked.
	RevokeAllForUser(ctx context.Context, userID int64) (int64, error)
	// InTx runs fn in a single transaction. fn's error rolls the transaction back.
	InTx(ctx context.Context, fn func(tx RefreshTokenTx) error) error
}

// RefreshTokenTx is the refresh token store seen from inside a rotation transaction.
type RefreshTokenTx interface {
	// LockOwner locks the user row owning tokenID and returns its ID.
	LockOwner(ctx context.Context, tokenID int64) (int64, error)
	// GetForUpdate loads and locks a token row including its owner's username.
	GetForUpdate(ctx context.Context, tokenID int64) (*model.RefreshToken, error)
	// Create inserts a token row and sets its ID.
	Create(ctx context.Context, t *model.RefreshToken) error
	// MarkRotated revokes a token leaving a grace window until revokeAt.
	MarkRotated(ctx context.Context, tokenID int64, revokeAt time.Time) error
	// RevokeAllForUser revokes every non-revoked token of an already locked user.
	RevokeAllForUser(ctx context.Context, userID int64) (int64, error)
}
