// Package token issues and verifies short-lived HS256 access tokens.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/forum-auth/internal/errs"
)

// Claims are the identity claims carried by an access token.
type Claims struct {
	UserID   int64
	Username string
	Expires  time.Time
}

type jwtClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Codec signs and verifies access tokens with a symmetric key. It keeps no
// state: a leaked token stays valid until it expires.
type Codec struct {
	key    []byte
	ttl    time.Duration
	leeway time.Duration
	now    func() time.Time
}

// NewCodec constructs a Codec. ttl is the access token lifetime.
func NewCodec(key []byte, ttl time.Duration) *Codec {
	return &Codec{key: key, ttl: ttl, leeway: 30 * time.Second, now: time.Now}
}

// TTL returns the access token lifetime.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Sign issues a token for the subject.
func (c *Codec) Sign(userID int64, username string) (string, time.Time, error) {
	now := c.now()
	exp := now.Add(c.ttl)
	claims := jwtClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(c.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, algorithm and expiry and returns the claims.
// Every failure is reported as errs.ErrInvalidToken.
func (c *Codec) Verify(raw string) (Claims, error) {
	var claims jwtClaims
	parsed, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return c.key, nil
	},
		jwt.WithLeeway(c.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !parsed.Valid {
		return Claims{}, errs.ErrInvalidToken
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return Claims{}, errs.ErrInvalidToken
	}
	return Claims{UserID: id, Username: claims.Username, Expires: claims.ExpiresAt.Time}, nil
}
