// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Tokens collects issued access/refresh tokens.
type Tokens struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string // "<row id>.<secret>", handed to the client only
	RefreshExpiresAt time.Time
}

// DeviceInfo is the client metadata bound to a refresh token.
type DeviceInfo struct {
	IP        string
	UserAgent string
}

// Role is a named permission bundle.
type Role struct {
	ID          uuid.UUID
	Name        string // unique
	IsDefault   bool   // backfills users with no role
	Permissions []string
	Description string
	UserCount   int64 // populated by listings only
}

// User represents an account stored on the server. The password is stored as a bcrypt hash.
type User struct {
	ID        int64
	Username  string // unique
	Email     string // unique
	PwdHash   string
	Avatar    *string
	RoleID    *uuid.UUID // nil falls back to the default role
	Role      *Role      // loaded by lookups that join roles
	Point     int64      // owned by the economy subsystem
	Exp       int64      // owned by the economy subsystem
	CreatedAt time.Time
}

// NewUser is a registration candidate before hashing.
type NewUser struct {
	Email    string
	Username string
	Password string
	Avatar   *string
}

// PublicUser is the projection returned by registration.
type PublicUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// UserInfo is the projection returned by login.
type UserInfo struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	Avatar   *string `json:"avatar"`
}

// Principal is the authenticated identity plus its effective role.
// It never carries the password hash.
type Principal struct {
	UserID   int64
	Username string
	Email    string
	Avatar   *string
	Role     *Role // nil when neither an assigned nor a default role resolves
}

// Permissions returns the effective permission codes, or nil without a role.
func (p *Principal) Permissions() []string {
	if p == nil || p.Role == nil {
		return nil
	}
	return p.Role.Permissions
}

// Info projects the principal for login responses.
func (p *Principal) Info() UserInfo {
	return UserInfo{ID: p.UserID, Username: p.Username, Avatar: p.Avatar}
}

// RefreshToken is one issued refresh token. Only the secret's hash is stored.
type RefreshToken struct {
	ID        int64 // routing key embedded in the token string
	UserID    int64
	Username  string // owner, loaded on lookup
	TokenHash string
	DeviceIP  string
	UserAgent string
	IsRevoked bool
	RevokeAt  *time.Time // end of the rotation grace window; nil for plain revocation
	ExpiresAt time.Time
	CreatedAt time.Time
}

// InGrace reports whether the token was rotated out and its grace window is still open.
func (t *RefreshToken) InGrace(now time.Time) bool {
	return t.IsRevoked && t.RevokeAt != nil && t.RevokeAt.After(now)
}

// Rotated reports whether the token was retired by rotation (as opposed to logout).
func (t *RefreshToken) Rotated() bool {
	return t.IsRevoked && t.RevokeAt != nil
}
