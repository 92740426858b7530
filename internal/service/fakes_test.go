package service

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/forum-auth/internal/errs"
	"github.com/and161185/forum-auth/internal/events"
	"github.com/and161185/forum-auth/internal/limiter"
	"github.com/and161185/forum-auth/internal/model"
	"github.com/and161185/forum-auth/internal/repository"
)

type fakeUsers struct {
	mu     sync.Mutex
	byID   map[int64]*model.User
	nextID int64

	createErr error
	findErr   error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func newFakeUsers() *fakeUsers { return &fakeUsers{byID: map[int64]*model.User{}} }

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	u.ID = f.nextID
	u.CreatedAt = time.Now()
	cpy := *u
	f.byID[u.ID] = &cpy
	return nil
}

func (f *fakeUsers) FindByLogin(_ context.Context, identifier string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	for id := int64(1); id <= f.nextID; id++ {
		if u, ok := f.byID[id]; ok && (u.Username == identifier || u.Email == identifier) {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeUsers) FindConflicts(_ context.Context, username, email string) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	var out []model.User
	for _, u := range f.byID {
		if u.Username == username || u.Email == email {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (f *fakeUsers) GetByIDWithRole(_ context.Context, id int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (f *fakeUsers) SetRole(_ context.Context, userID int64, roleID *uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[userID]
	if !ok {
		return errs.NotFoundf("user not found")
	}
	u.RoleID = roleID
	return nil
}

func (f *fakeUsers) username(id int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byID[id]; ok {
		return u.Username
	}
	return ""
}

type fakeRoles struct {
	roles   []model.Role
	listErr error
}

var _ repository.RoleRepository = (*fakeRoles)(nil)

func (f *fakeRoles) GetByID(_ context.Context, id uuid.UUID) (*model.Role, error) {
	for i := range f.roles {
		if f.roles[i].ID == id {
			r := f.roles[i]
			return &r, nil
		}
	}
	return nil, errs.NotFoundf("role not found")
}

func (f *fakeRoles) GetDefault(_ context.Context) (*model.Role, error) {
	for i := range f.roles {
		if f.roles[i].IsDefault {
			r := f.roles[i]
			return &r, nil
		}
	}
	return nil, errs.NotFoundf("role not found")
}

func (f *fakeRoles) List(_ context.Context) ([]model.Role, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]model.Role(nil), f.roles...), nil
}

func (f *fakeRoles) UpdatePermissions(_ context.Context, id uuid.UUID, perms []string) (*model.Role, error) {
	for i := range f.roles {
		if f.roles[i].ID == id {
			f.roles[i].Permissions = perms
			r := f.roles[i]
			return &r, nil
		}
	}
	return nil, errs.NotFoundf("role not found")
}

// fakeTokens serializes transactions with one mutex and applies a transaction's
// writes only when fn succeeds.
type fakeTokens struct {
	mu     sync.Mutex
	rows   map[int64]model.RefreshToken
	nextID int64
	users  *fakeUsers

	revokeAllErr error
	creates      int
}

var _ repository.RefreshTokenRepository = (*fakeTokens)(nil)

func newFakeTokens(users *fakeUsers) *fakeTokens {
	return &fakeTokens{rows: map[int64]model.RefreshToken{}, users: users}
}

func (f *fakeTokens) Create(_ context.Context, t *model.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insert(f.rows, t)
	return nil
}

func (f *fakeTokens) insert(rows map[int64]model.RefreshToken, t *model.RefreshToken) {
	f.nextID++
	f.creates++
	t.ID = f.nextID
	t.CreatedAt = time.Now()
	rows[t.ID] = *t
}

func (f *fakeTokens) Revoke(_ context.Context, userID, tokenID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rows[tokenID]; ok && r.UserID == userID && !r.IsRevoked {
		r.IsRevoked = true
		f.rows[tokenID] = r
	}
	return nil
}

func (f *fakeTokens) RevokeAllForUser(_ context.Context, userID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revokeAll(f.rows, userID)
}

func (f *fakeTokens) revokeAll(rows map[int64]model.RefreshToken, userID int64) (int64, error) {
	if f.revokeAllErr != nil {
		return 0, f.revokeAllErr
	}
	var n int64
	for id, r := range rows {
		if r.UserID == userID && !r.IsRevoked {
			r.IsRevoked = true
			rows[id] = r
			n++
		}
	}
	return n, nil
}

func (f *fakeTokens) InTx(_ context.Context, fn func(tx repository.RefreshTokenTx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	work := make(map[int64]model.RefreshToken, len(f.rows))
	for k, v := range f.rows {
		work[k] = v
	}
	if err := fn(&fakeTx{f: f, rows: work}); err != nil {
		return err
	}
	f.rows = work
	return nil
}

func (f *fakeTokens) get(id int64) model.RefreshToken {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id]
}

func (f *fakeTokens) activeFor(userID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.rows {
		if r.UserID == userID && !r.IsRevoked {
			n++
		}
	}
	return n
}

type fakeTx struct {
	f    *fakeTokens
	rows map[int64]model.RefreshToken
}

func (t *fakeTx) LockOwner(_ context.Context, tokenID int64) (int64, error) {
	r, ok := t.rows[tokenID]
	if !ok {
		return 0, errs.ErrNotFound
	}
	return r.UserID, nil
}

func (t *fakeTx) GetForUpdate(_ context.Context, tokenID int64) (*model.RefreshToken, error) {
	r, ok := t.rows[tokenID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	r.Username = t.f.users.username(r.UserID)
	return &r, nil
}

func (t *fakeTx) Create(_ context.Context, rt *model.RefreshToken) error {
	t.f.insert(t.rows, rt)
	return nil
}

func (t *fakeTx) MarkRotated(_ context.Context, tokenID int64, revokeAt time.Time) error {
	r := t.rows[tokenID]
	r.IsRevoked = true
	r.RevokeAt = &revokeAt
	t.rows[tokenID] = r
	return nil
}

func (t *fakeTx) RevokeAllForUser(_ context.Context, userID int64) (int64, error) {
	return t.f.revokeAll(t.rows, userID)
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error

	successErr error

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, time.Minute, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return l.successErr
}
func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, l.failErr
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
