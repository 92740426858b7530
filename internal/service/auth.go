// Package service contains the session manager and role administration services.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/forum-auth/internal/crypto"
	"github.com/and161185/forum-auth/internal/errs"
	"github.com/and161185/forum-auth/internal/events"
	"github.com/and161185/forum-auth/internal/limiter"
	"github.com/and161185/forum-auth/internal/metrics"
	"github.com/and161185/forum-auth/internal/model"
	"github.com/and161185/forum-auth/internal/repository"
	"github.com/and161185/forum-auth/internal/token"
)

// AuthService defines registration, login and refresh token session operations.
type AuthService interface {
	// Register creates a user after checking username and email uniqueness.
	Register(ctx context.Context, c model.NewUser) (model.PublicUser, error)
	// ValidateCredentials returns the principal, nil on a wrong password, or
	// errs.ErrInvalidCredentials when the identifier matches no user.
	ValidateCredentials(ctx context.Context, identifier, password string) (*model.Principal, error)
	// Login issues an access token and a refresh token bound to the device.
	Login(ctx context.Context, p *model.Principal, dev model.DeviceInfo) (model.Tokens, error)
	// LoginWithPassword applies rate limiting, validates credentials and logs in.
	LoginWithPassword(ctx context.Context, identifier, password string, dev model.DeviceInfo) (model.Tokens, *model.Principal, error)
	// Refresh rotates a refresh token, detecting reuse of retired tokens.
	Refresh(ctx context.Context, raw string, dev model.DeviceInfo) (model.Tokens, error)
	// Logout revokes the presented refresh token if it belongs to userID.
	Logout(ctx context.Context, userID int64, raw string) error
	// LogoutAll revokes every active refresh token of the user.
	LogoutAll(ctx context.Context, userID int64) error
	// Authenticate verifies an access token and resolves its principal.
	Authenticate(ctx context.Context, accessToken string) (*model.Principal, error)
	// ResolvePrincipal loads a user with its effective role.
	ResolvePrincipal(ctx context.Context, userID int64) (*model.Principal, error)
}

// SessionConfig holds refresh token lifetimes and hashing costs.
type SessionConfig struct {
	RefreshTTL   time.Duration
	Grace        time.Duration
	PasswordCost int
	RefreshCost  int
}

// DefaultSessionConfig is a seven day refresh lifetime with a thirty second rotation grace window.
var DefaultSessionConfig = SessionConfig{
	RefreshTTL:   7 * 24 * time.Hour,
	Grace:        30 * time.Second,
	PasswordCost: crypto.PasswordCost,
	RefreshCost:  crypto.RefreshSecretCost,
}

// AuthDeps are the collaborators of AuthServiceImpl. Limiter, Events, Metrics
// and Log are optional.
type AuthDeps struct {
	Users   repository.UserRepository
	Roles   repository.RoleRepository
	Tokens  repository.RefreshTokenRepository
	Codec   *token.Codec
	Limiter limiter.Limiter
	Events  events.Publisher
	Metrics *metrics.Metrics
	Log     *zap.Logger
}

type AuthServiceImpl struct {
	users     repository.UserRepository
	roles     repository.RoleRepository
	tokens    repository.RefreshTokenRepository
	codec     *token.Codec
	lim       limiter.Limiter
	pub       events.Publisher
	met       *metrics.Metrics
	log       *zap.Logger
	passwords crypto.Hasher
	secrets   crypto.Hasher
	cfg       SessionConfig
	now       func() time.Time
	newSecret func() (string, error)
}

var _ AuthService = (*AuthServiceImpl)(nil)

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(d AuthDeps, cfg SessionConfig) *AuthServiceImpl {
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &AuthServiceImpl{
		users:     d.Users,
		roles:     d.Roles,
		tokens:    d.Tokens,
		codec:     d.Codec,
		lim:       d.Limiter,
		pub:       d.Events,
		met:       d.Metrics,
		log:       d.Log,
		passwords: crypto.NewHasher(cfg.PasswordCost),
		secrets:   crypto.NewHasher(cfg.RefreshCost),
		cfg:       cfg,
		now:       time.Now,
		newSecret: func() (string, error) {
			id, err := uuid.NewV4()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		},
	}
}

// Register checks both unique fields in one lookup, then hashes and stores the user.
func (s *AuthServiceImpl) Register(ctx context.Context, c model.NewUser) (model.PublicUser, error) {
	if c.Username == "" || c.Email == "" || c.Password == "" {
		return model.PublicUser{}, errs.Validationf("username, email and password are required")
	}

	existing, err := s.users.FindConflicts(ctx, c.Username, c.Email)
	if err != nil {
		return model.PublicUser{}, err
	}
	if fields := conflictFields(existing, c); len(fields) > 0 {
		return model.PublicUser{}, &errs.ConflictError{Fields: fields}
	}

	hash, err := s.passwords.Hash(c.Password)
	if err != nil {
		return model.PublicUser{}, fmt.Errorf("hash password: %w", err)
	}
	u := &model.User{Username: c.Username, Email: c.Email, PwdHash: hash, Avatar: c.Avatar}
	if err := s.users.Create(ctx, u); err != nil {
		return model.PublicUser{}, err
	}
	s.log.Info("user registered", zap.Int64("user_id", u.ID))
	return model.PublicUser{ID: u.ID, Username: u.Username, Email: u.Email}, nil
}

func conflictFields(existing []model.User, c model.NewUser) []string {
	var byName, byEmail bool
	for _, u := range existing {
		byName = byName || u.Username == c.Username
		byEmail = byEmail || u.Email == c.Email
	}
	var fields []string
	if byName {
		fields = append(fields, "username")
	}
	if byEmail {
		fields = append(fields, "email")
	}
	return fields
}

// ValidateCredentials looks the identifier up as username or email and checks the password.
func (s *AuthServiceImpl) ValidateCredentials(ctx context.Context, identifier, password string) (*model.Principal, error) {
	u, err := s.users.FindByLogin(ctx, identifier)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !s.passwords.Verify(password, u.PwdHash) {
		return nil, nil
	}
	return s.principalFor(ctx, u)
}

// Login issues an access token and a fresh refresh token row.
func (s *AuthServiceImpl) Login(ctx context.Context, p *model.Principal, dev model.DeviceInfo) (model.Tokens, error) {
	access, accessExp, err := s.codec.Sign(p.UserID, p.Username)
	if err != nil {
		return model.Tokens{}, err
	}
	refresh, refreshExp, err := s.issueRefresh(ctx, s.tokens, p.UserID, dev, s.now())
	if err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// LoginWithPassword authenticates with rate limiting by (identifier, ip).
func (s *AuthServiceImpl) LoginWithPassword(ctx context.Context, identifier, password string, dev model.DeviceInfo) (model.Tokens, *model.Principal, error) {
	ipHash := limiter.HashIP(dev.IP)

	if s.lim != nil {
		allowed, retry, err := s.lim.Allow(ctx, identifier, ipHash)
		if err != nil {
			s.met.Login(metrics.ResultError)
			return model.Tokens{}, nil, err
		}
		if !allowed {
			s.met.Login(metrics.ResultBlocked)
			s.log.Warn("login throttled", zap.String("ip", dev.IP), zap.Duration("retry_after", retry))
			return model.Tokens{}, nil, errs.ErrRateLimited
		}
	}

	p, err := s.ValidateCredentials(ctx, identifier, password)
	if err != nil && !errors.Is(err, errs.ErrUnauthorized) {
		s.met.Login(metrics.ResultError)
		return model.Tokens{}, nil, err
	}
	if p == nil {
		s.met.Login(metrics.ResultInvalid)
		if s.lim != nil {
			if blocked, _, ferr := s.lim.Failure(ctx, identifier, ipHash); ferr != nil {
				s.log.Warn("limiter failure record", zap.Error(ferr))
			} else if blocked {
				s.log.Warn("login blocked", zap.String("ip", dev.IP))
				s.publish(ctx, events.Event{Type: events.TypeLoginBlocked, Login: identifier, IP: dev.IP, UserAgent: dev.UserAgent})
				return model.Tokens{}, nil, errs.ErrRateLimited
			}
		}
		return model.Tokens{}, nil, errs.ErrInvalidCredentials
	}

	if s.lim != nil {
		if err := s.lim.Success(ctx, identifier, ipHash); err != nil {
			s.log.Warn("limiter reset", zap.Error(err))
		}
	}

	tokens, err := s.Login(ctx, p, dev)
	if err != nil {
		s.met.Login(metrics.ResultError)
		return model.Tokens{}, nil, err
	}
	s.met.Login(metrics.ResultOK)
	s.log.Info("user logged in", zap.Int64("user_id", p.UserID), zap.String("ip", dev.IP))
	return tokens, p, nil
}

// Refresh rotates a refresh token. Locks are taken on the owner and then on the
// token row, so concurrent rotations of one token and bulk revocations of its
// owner are serialized.
func (s *AuthServiceImpl) Refresh(ctx context.Context, raw string, dev model.DeviceInfo) (model.Tokens, error) {
	id, secret, err := ParseRefreshToken(raw)
	if err != nil {
		s.met.Refresh(metrics.ResultInvalid)
		return model.Tokens{}, err
	}

	var (
		out     model.Tokens
		reused  *model.RefreshToken
		revoked int64
	)
	err = s.tokens.InTx(ctx, func(tx repository.RefreshTokenTx) error {
		if _, err := tx.LockOwner(ctx, id); err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return errs.ErrTokenNotFound
			}
			return err
		}
		cur, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return errs.ErrTokenNotFound
			}
			return err
		}

		now := s.now()
		if cur.IsRevoked {
			switch {
			case cur.InGrace(now):
				return errs.ErrTokenRotating
			case cur.Rotated():
				// retired by rotation and presented after the grace window: burn the family
				n, err := tx.RevokeAllForUser(ctx, cur.UserID)
				if err != nil {
					return fmt.Errorf("revoke after reuse: %w", err)
				}
				reused, revoked = cur, n
				return nil
			default:
				return errs.ErrTokenRevoked
			}
		}

		if !s.secrets.Verify(secret, cur.TokenHash) {
			return errs.ErrInvalidTokenSignature
		}
		if !cur.ExpiresAt.After(now) {
			return errs.ErrTokenExpired
		}

		if err := tx.MarkRotated(ctx, cur.ID, now.Add(s.cfg.Grace)); err != nil {
			return err
		}
		refresh, refreshExp, err := s.issueRefresh(ctx, tx, cur.UserID, dev, now)
		if err != nil {
			return err
		}
		access, accessExp, err := s.codec.Sign(cur.UserID, cur.Username)
		if err != nil {
			return err
		}
		out = model.Tokens{
			AccessToken:      access,
			AccessExpiresAt:  accessExp,
			RefreshToken:     refresh,
			RefreshExpiresAt: refreshExp,
		}
		return nil
	})
	if err != nil {
		s.met.Refresh(refreshResult(err))
		return model.Tokens{}, err
	}

	if reused != nil {
		s.met.Refresh(metrics.ResultReuse)
		s.met.TokenReuse()
		s.met.Revoked(revoked)
		s.log.Warn("refresh token reuse detected",
			zap.Int64("user_id", reused.UserID),
			zap.Int64("token_id", reused.ID),
			zap.String("ip", dev.IP),
			zap.Int64("revoked", revoked),
		)
		s.publish(ctx, events.Event{
			Type:      events.TypeTokenReuse,
			UserID:    reused.UserID,
			TokenID:   reused.ID,
			IP:        dev.IP,
			UserAgent: dev.UserAgent,
			Revoked:   revoked,
		})
		return model.Tokens{}, errs.ErrTokenReuse
	}

	s.met.Refresh(metrics.ResultOK)
	return out, nil
}

func refreshResult(err error) string {
	switch {
	case errors.Is(err, errs.ErrTokenRotating):
		return metrics.ResultRotating
	case errors.Is(err, errs.ErrUnauthorized):
		return metrics.ResultInvalid
	default:
		return metrics.ResultError
	}
}

// Logout revokes the presented refresh token. Unparseable tokens are ignored.
func (s *AuthServiceImpl) Logout(ctx context.Context, userID int64, raw string) error {
	if raw == "" {
		return nil
	}
	id, _, err := ParseRefreshToken(raw)
	if err != nil {
		return nil
	}
	return s.tokens.Revoke(ctx, userID, id)
}

// LogoutAll revokes all refresh tokens of the user. Issued access tokens stay
// valid until they expire.
func (s *AuthServiceImpl) LogoutAll(ctx context.Context, userID int64) error {
	n, err := s.tokens.RevokeAllForUser(ctx, userID)
	if err != nil {
		return err
	}
	s.met.Revoked(n)
	s.log.Info("sessions revoked", zap.Int64("user_id", userID), zap.Int64("revoked", n))
	s.publish(ctx, events.Event{Type: events.TypeLogoutAll, UserID: userID, Revoked: n})
	return nil
}

// Authenticate verifies the access token and resolves the principal it names.
func (s *AuthServiceImpl) Authenticate(ctx context.Context, accessToken string) (*model.Principal, error) {
	if accessToken == "" {
		return nil, errs.ErrUnauthorized
	}
	claims, err := s.codec.Verify(accessToken)
	if err != nil {
		return nil, err
	}
	return s.ResolvePrincipal(ctx, claims.UserID)
}

// ResolvePrincipal loads the user and falls back to the default role when none is assigned.
func (s *AuthServiceImpl) ResolvePrincipal(ctx context.Context, userID int64) (*model.Principal, error) {
	u, err := s.users.GetByIDWithRole(ctx, userID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.ErrUnknownPrincipal
	}
	if err != nil {
		return nil, err
	}
	return s.principalFor(ctx, u)
}

func (s *AuthServiceImpl) principalFor(ctx context.Context, u *model.User) (*model.Principal, error) {
	role := u.Role
	if role == nil {
		def, err := s.roles.GetDefault(ctx)
		switch {
		case err == nil:
			role = def
		case errors.Is(err, errs.ErrNotFound):
			s.log.Warn("no default role configured", zap.Int64("user_id", u.ID))
		default:
			return nil, err
		}
	}
	return &model.Principal{
		UserID:   u.ID,
		Username: u.Username,
		Email:    u.Email,
		Avatar:   u.Avatar,
		Role:     role,
	}, nil
}

type tokenCreator interface {
	Create(ctx context.Context, t *model.RefreshToken) error
}

// issueRefresh stores the hash of a new random secret and returns "<id>.<secret>".
func (s *AuthServiceImpl) issueRefresh(ctx context.Context, store tokenCreator, userID int64, dev model.DeviceInfo, now time.Time) (string, time.Time, error) {
	secret, err := s.newSecret()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("refresh secret: %w", err)
	}
	hash, err := s.secrets.Hash(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("hash refresh secret: %w", err)
	}
	rt := &model.RefreshToken{
		UserID:    userID,
		TokenHash: hash,
		DeviceIP:  dev.IP,
		UserAgent: dev.UserAgent,
		ExpiresAt: now.Add(s.cfg.RefreshTTL),
	}
	if err := store.Create(ctx, rt); err != nil {
		return "", time.Time{}, err
	}
	return strconv.FormatInt(rt.ID, 10) + "." + secret, rt.ExpiresAt, nil
}

// ParseRefreshToken splits "<id>.<secret>". The id must be a positive decimal
// integer and the secret non-empty.
func ParseRefreshToken(raw string) (int64, string, error) {
	idPart, secret, ok := strings.Cut(raw, ".")
	if !ok || secret == "" {
		return 0, "", errs.ErrInvalidTokenFormat
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 || strconv.FormatInt(id, 10) != idPart {
		return 0, "", errs.ErrInvalidTokenFormat
	}
	return id, secret, nil
}

func (s *AuthServiceImpl) publish(ctx context.Context, e events.Event) {
	if e.At.IsZero() {
		e.At = s.now()
	}
	if err := s.pub.Publish(ctx, e); err != nil {
		s.log.Warn("security event not published", zap.String("type", e.Type), zap.Error(err))
	}
}
