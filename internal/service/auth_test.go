package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/forum-auth/internal/crypto"
	"github.com/and161185/forum-auth/internal/errs"
	"github.com/and161185/forum-auth/internal/events"
	"github.com/and161185/forum-auth/internal/metrics"
	"github.com/and161185/forum-auth/internal/model"
	"github.com/and161185/forum-auth/internal/token"
)

type harness struct {
	svc    *AuthServiceImpl
	users  *fakeUsers
	roles  *fakeRoles
	tokens *fakeTokens
	lim    *fakeLimiter
	pub    *recordingPublisher
	clock  *fakeClock
	codec  *token.Codec
}

var dev = model.DeviceInfo{IP: "203.0.113.7", UserAgent: "test-agent"}

func newHarness(t *testing.T) *harness {
	t.Helper()
	users := newFakeUsers()
	roles := &fakeRoles{roles: []model.Role{
		{ID: uuid.Must(uuid.NewV4()), Name: "admin", Permissions: []string{"*"}},
		{ID: uuid.Must(uuid.NewV4()), Name: "user", IsDefault: true, Permissions: []string{"article:create", "comment:create", "upload:image"}},
	}}
	tokens := newFakeTokens(users)
	h := &harness{
		users:  users,
		roles:  roles,
		tokens: tokens,
		lim:    &fakeLimiter{allowOK: true},
		pub:    &recordingPublisher{},
		clock:  &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		codec:  token.NewCodec([]byte("test-signing-key"), time.Hour),
	}
	h.svc = NewAuthService(AuthDeps{
		Users:   users,
		Roles:   roles,
		Tokens:  tokens,
		Codec:   h.codec,
		Limiter: h.lim,
		Events:  h.pub,
		Metrics: metrics.New(),
		Log:     zaptest.NewLogger(t),
	}, SessionConfig{
		RefreshTTL:   7 * 24 * time.Hour,
		Grace:        30 * time.Second,
		PasswordCost: 4,
		RefreshCost:  4,
	})
	h.svc.now = h.clock.Now
	return h
}

func (h *harness) register(t *testing.T, username, email, password string) model.PublicUser {
	t.Helper()
	u, err := h.svc.Register(context.Background(), model.NewUser{Username: username, Email: email, Password: password})
	require.NoError(t, err)
	return u
}

func (h *harness) login(t *testing.T, identifier, password string) (model.Tokens, *model.Principal) {
	t.Helper()
	tk, p, err := h.svc.LoginWithPassword(context.Background(), identifier, password, dev)
	require.NoError(t, err)
	return tk, p
}

func tokenID(t *testing.T, raw string) int64 {
	t.Helper()
	id, _, err := ParseRefreshToken(raw)
	require.NoError(t, err)
	return id
}

func TestAuth_Register_Conflicts(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	got := h.register(t, "a", "a@x.com", "secret1")
	require.Equal(t, model.PublicUser{ID: got.ID, Username: "a", Email: "a@x.com"}, got)
	stored, err := h.users.GetByIDWithRole(ctx, got.ID)
	require.NoError(t, err)
	require.NotEqual(t, "secret1", stored.PwdHash)
	require.True(t, crypto.Verify("secret1", stored.PwdHash))

	h.register(t, "b", "b@x.com", "secret2")

	_, err = h.svc.Register(ctx, model.NewUser{Username: "a", Email: "new@x.com", Password: "p"})
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
	require.Equal(t, "username already registered", err.Error())

	_, err = h.svc.Register(ctx, model.NewUser{Username: "new", Email: "a@x.com", Password: "p"})
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
	require.Equal(t, "email already registered", err.Error())

	_, err = h.svc.Register(ctx, model.NewUser{Username: "a", Email: "b@x.com", Password: "p"})
	var ce *errs.ConflictError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, []string{"username", "email"}, ce.Fields)
	require.Equal(t, "username already registered and email already registered", err.Error())

	_, err = h.svc.Register(ctx, model.NewUser{Username: "c"})
	require.ErrorIs(t, err, errs.ErrValidation)

	h.users.createErr = errors.New("boom")
	_, err = h.svc.Register(ctx, model.NewUser{Username: "d", Email: "d@x.com", Password: "p"})
	require.Error(t, err)
}

func TestAuth_ValidateCredentials(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	u := h.register(t, "alice", "alice@x.com", "correct")

	p, err := h.svc.ValidateCredentials(ctx, "alice@x.com", "correct")
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, u.ID, p.UserID)
	require.NotNil(t, p.Role)
	require.Equal(t, "user", p.Role.Name, "default role backfills a user without one")

	p, err = h.svc.ValidateCredentials(ctx, "alice", "wrong")
	require.NoError(t, err)
	require.Nil(t, p)

	_, err = h.svc.ValidateCredentials(ctx, "nobody", "correct")
	require.ErrorIs(t, err, errs.ErrInvalidCredentials)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	require.Equal(t, "invalid credentials", err.Error())

	h.users.findErr = errors.New("db down")
	_, err = h.svc.ValidateCredentials(ctx, "alice", "correct")
	require.Error(t, err)
	require.False(t, errors.Is(err, errs.ErrUnauthorized))
}

func TestAuth_AssignedRoleWins(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	u := h.register(t, "root", "root@x.com", "pw")
	admin := h.roles.roles[0]
	h.users.byID[u.ID].Role = &admin

	p, err := h.svc.ResolvePrincipal(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"*"}, p.Permissions())
}

func TestAuth_NoDefaultRole(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.roles.roles = nil
	u := h.register(t, "x", "x@x.com", "pw")

	p, err := h.svc.ResolvePrincipal(context.Background(), u.ID)
	require.NoError(t, err)
	require.Nil(t, p.Role)
	require.Nil(t, p.Permissions())
}

func TestAuth_Login_CreatesOneHashedRow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.register(t, "alice", "alice@x.com", "pw")
	p, err := h.svc.ValidateCredentials(context.Background(), "alice", "pw")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		before := h.tokens.creates
		tk, err := h.svc.Login(context.Background(), p, dev)
		require.NoError(t, err)
		require.Equal(t, before+1, h.tokens.creates)

		id, secret, err := ParseRefreshToken(tk.RefreshToken)
		require.NoError(t, err)
		row := h.tokens.get(id)
		require.NotEqual(t, secret, row.TokenHash)
		require.False(t, strings.Contains(row.TokenHash, secret))
		require.True(t, crypto.Verify(secret, row.TokenHash))
		require.Equal(t, dev.IP, row.DeviceIP)
		require.Equal(t, dev.UserAgent, row.UserAgent)
		require.Equal(t, h.clock.Now().Add(7*24*time.Hour), row.ExpiresAt)

		claims, err := h.codec.Verify(tk.AccessToken)
		require.NoError(t, err)
		require.Equal(t, p.UserID, claims.UserID)
		require.Equal(t, "alice", claims.Username)
	}
}

func TestAuth_LoginWithPassword_RateLimiterAndCreds(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "alice", "alice@x.com", "correct")

	h.lim.allowErr = errors.New("lim-err")
	_, _, err := h.svc.LoginWithPassword(ctx, "alice", "correct", dev)
	require.Error(t, err)
	h.lim.allowErr = nil

	h.lim.allowOK = false
	_, _, err = h.svc.LoginWithPassword(ctx, "alice", "correct", dev)
	require.ErrorIs(t, err, errs.ErrRateLimited)
	h.lim.allowOK = true

	_, _, err = h.svc.LoginWithPassword(ctx, "nope", "x", dev)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	require.Equal(t, 1, h.lim.failureCalls)

	h.lim.failBlocked = true
	_, _, err = h.svc.LoginWithPassword(ctx, "alice", "wrong", dev)
	require.ErrorIs(t, err, errs.ErrRateLimited)
	require.Contains(t, h.pub.types(), events.TypeLoginBlocked)

	h.lim.failBlocked = false
	_, _, err = h.svc.LoginWithPassword(ctx, "alice", "wrong", dev)
	require.ErrorIs(t, err, errs.ErrInvalidCredentials)

	tk, p, err := h.svc.LoginWithPassword(ctx, "alice@x.com", "correct", dev)
	require.NoError(t, err)
	require.NotEmpty(t, tk.AccessToken)
	require.NotEmpty(t, tk.RefreshToken)
	require.Equal(t, "alice", p.Info().Username)
	require.Equal(t, 1, h.lim.successCalls)
}

func TestAuth_EndToEnd_RotationGraceAndReuse(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	pubUser := h.register(t, "a", "a@x.com", "secret1")
	require.Equal(t, "a", pubUser.Username)
	require.Equal(t, "a@x.com", pubUser.Email)

	first, p := h.login(t, "a", "secret1")
	info := p.Info()
	require.Equal(t, pubUser.ID, info.ID)
	require.Equal(t, "a", info.Username)
	require.Nil(t, info.Avatar)

	second, err := h.svc.Refresh(ctx, first.RefreshToken, dev)
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	require.NotEmpty(t, second.AccessToken)

	old := h.tokens.get(tokenID(t, first.RefreshToken))
	require.True(t, old.IsRevoked)
	require.NotNil(t, old.RevokeAt)
	require.Equal(t, h.clock.Now().Add(30*time.Second), *old.RevokeAt)

	_, err = h.svc.Refresh(ctx, first.RefreshToken, dev)
	require.ErrorIs(t, err, errs.ErrTokenRotating)
	require.Equal(t, "token is rotating, retry", err.Error())
	require.Equal(t, 1, h.tokens.activeFor(pubUser.ID), "retry must not revoke other sessions")

	h.clock.Advance(31 * time.Second)
	_, err = h.svc.Refresh(ctx, first.RefreshToken, dev)
	require.ErrorIs(t, err, errs.ErrTokenReuse)
	require.ErrorIs(t, err, errs.ErrSecurity)
	require.Equal(t, "token reuse detected", err.Error())
	require.Zero(t, h.tokens.activeFor(pubUser.ID))
	require.Contains(t, h.pub.types(), events.TypeTokenReuse)

	_, err = h.svc.Refresh(ctx, second.RefreshToken, dev)
	require.Error(t, err)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestAuth_Reuse_RevokesEverySession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	u := h.register(t, "a", "a@x.com", "pw")

	laptop, _ := h.login(t, "a", "pw")
	phone, _ := h.login(t, "a", "pw")

	_, err := h.svc.Refresh(ctx, laptop.RefreshToken, dev)
	require.NoError(t, err)
	require.Equal(t, 2, h.tokens.activeFor(u.ID))

	h.clock.Advance(time.Minute)
	_, err = h.svc.Refresh(ctx, laptop.RefreshToken, dev)
	require.ErrorIs(t, err, errs.ErrTokenReuse)

	_, err = h.svc.Refresh(ctx, phone.RefreshToken, dev)
	require.ErrorIs(t, err, errs.ErrTokenRevoked)
}

func TestAuth_Reuse_RevocationFailureIsLoud(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	u := h.register(t, "a", "a@x.com", "pw")
	tk, _ := h.login(t, "a", "pw")

	_, err := h.svc.Refresh(ctx, tk.RefreshToken, dev)
	require.NoError(t, err)
	h.clock.Advance(time.Minute)

	h.tokens.revokeAllErr = errors.New("db down")
	_, err = h.svc.Refresh(ctx, tk.RefreshToken, dev)
	require.Error(t, err)
	require.False(t, errors.Is(err, errs.ErrSecurity))
	require.Equal(t, 1, h.tokens.activeFor(u.ID))
	require.NotContains(t, h.pub.types(), events.TypeTokenReuse)
}

func TestAuth_LogoutAllThenRefresh_IsAuthError(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	u := h.register(t, "a", "a@x.com", "pw")
	tk, _ := h.login(t, "a", "pw")
	h.login(t, "a", "pw")

	require.NoError(t, h.svc.LogoutAll(ctx, u.ID))
	require.Zero(t, h.tokens.activeFor(u.ID))
	require.NoError(t, h.svc.LogoutAll(ctx, u.ID), "idempotent")

	_, err := h.svc.Refresh(ctx, tk.RefreshToken, dev)
	require.ErrorIs(t, err, errs.ErrTokenRevoked)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	require.False(t, errors.Is(err, errs.ErrSecurity))
	require.Contains(t, h.pub.types(), events.TypeLogoutAll)
}

func TestAuth_Refresh_Failures(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "a", "a@x.com", "pw")
	tk, _ := h.login(t, "a", "pw")
	id := tokenID(t, tk.RefreshToken)

	for _, raw := range []string{"", "abc", "1.", ".abc", "0.abc", "-1.abc", "x.abc", "01.abc", "+1.abc"} {
		_, err := h.svc.Refresh(ctx, raw, dev)
		require.ErrorIs(t, err, errs.ErrInvalidTokenFormat, raw)
	}

	_, err := h.svc.Refresh(ctx, "999.abc", dev)
	require.ErrorIs(t, err, errs.ErrTokenNotFound)

	_, err = h.svc.Refresh(ctx, strconv.FormatInt(id, 10)+".not-the-secret", dev)
	require.ErrorIs(t, err, errs.ErrInvalidTokenSignature)
	require.False(t, h.tokens.get(id).IsRevoked, "a bad secret leaves the row untouched")

	h.clock.Advance(7*24*time.Hour + time.Second)
	_, err = h.svc.Refresh(ctx, tk.RefreshToken, dev)
	require.ErrorIs(t, err, errs.ErrTokenExpired)
}

func TestAuth_Refresh_ConcurrentSameToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	u := h.register(t, "a", "a@x.com", "pw")
	tk, _ := h.login(t, "a", "pw")

	const n = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		rotating int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Refresh(context.Background(), tk.RefreshToken, dev)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, errs.ErrTokenRotating):
				rotating++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, ok)
	require.Equal(t, n-1, rotating)
	require.Equal(t, 1, h.tokens.activeFor(u.ID))
}

func TestAuth_Logout(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	u := h.register(t, "a", "a@x.com", "pw")
	one, _ := h.login(t, "a", "pw")
	two, _ := h.login(t, "a", "pw")

	require.NoError(t, h.svc.Logout(ctx, u.ID+100, one.RefreshToken))
	require.False(t, h.tokens.get(tokenID(t, one.RefreshToken)).IsRevoked, "foreign tokens are left alone")

	require.NoError(t, h.svc.Logout(ctx, u.ID, one.RefreshToken))
	require.True(t, h.tokens.get(tokenID(t, one.RefreshToken)).IsRevoked)
	require.False(t, h.tokens.get(tokenID(t, two.RefreshToken)).IsRevoked)

	_, err := h.svc.Refresh(ctx, one.RefreshToken, dev)
	require.ErrorIs(t, err, errs.ErrTokenRevoked)

	require.NoError(t, h.svc.Logout(ctx, u.ID, "garbage"))
	require.NoError(t, h.svc.Logout(ctx, u.ID, ""))
}

func TestAuth_Authenticate(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	u := h.register(t, "a", "a@x.com", "pw")
	tk, _ := h.login(t, "a", "pw")

	p, err := h.svc.Authenticate(ctx, tk.AccessToken)
	require.NoError(t, err)
	require.Equal(t, u.ID, p.UserID)
	require.Equal(t, "a@x.com", p.Email)
	require.Contains(t, p.Permissions(), "article:create")

	_, err = h.svc.Authenticate(ctx, "")
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	_, err = h.svc.Authenticate(ctx, "not.a.jwt")
	require.ErrorIs(t, err, errs.ErrInvalidToken)

	ghost, _, err := h.codec.Sign(999, "ghost")
	require.NoError(t, err)
	_, err = h.svc.Authenticate(ctx, ghost)
	require.ErrorIs(t, err, errs.ErrUnknownPrincipal)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}
