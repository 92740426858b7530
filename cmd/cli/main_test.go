package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func withTmpConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "forum-auth")
}

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

// fakeAPI mimics the cookie and error contract of the auth server.
type fakeAPI struct {
	t       *testing.T
	mu      sync.Mutex
	access  string
	refresh int
	reuse   bool
	calls   []string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)

	writeErr := func(status int, code, msg string) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
	}
	issue := func() {
		f.refresh++
		http.SetCookie(w, &http.Cookie{Name: accessCookie, Value: f.access})
		http.SetCookie(w, &http.Cookie{Name: refreshCookie, Value: "r" + string(rune('0'+f.refresh))})
	}

	switch r.URL.Path {
	case "/auth/login":
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in["password"] != "pw" {
			writeErr(http.StatusUnauthorized, "unauthorized", "invalid credentials")
			return
		}
		issue()
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 1, "username": in["username"]})
	case "/auth/refresh":
		if f.reuse {
			writeErr(http.StatusUnauthorized, "token_reuse_detected", "token reuse detected")
			return
		}
		if ck, err := r.Cookie(refreshCookie); err != nil || ck.Value == "" {
			writeErr(http.StatusUnauthorized, "unauthorized", "refresh token not found")
			return
		}
		issue()
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "token refreshed"})
	case "/auth/profile":
		if r.Header.Get("Authorization") != "Bearer "+f.access {
			writeErr(http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 1, "username": "alice"})
	case "/auth/logout":
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "logged out"})
	default:
		writeErr(http.StatusNotFound, "http_error", "Not Found")
	}
}

func newFakeAPI(t *testing.T) (*fakeAPI, *client) {
	t.Helper()
	api := &fakeAPI{t: t, access: signed(t, time.Now().Add(time.Hour))}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return api, newClient(srv.URL+"/", 5*time.Second)
}

func Test_cfgDir_And_Paths(t *testing.T) {
	base := withTmpConfig(t)
	if got := cfgDir(); got != base {
		t.Fatalf("cfgDir=%q, want %q", got, base)
	}
	if !strings.HasPrefix(sessionPath(), base) || !strings.HasSuffix(sessionPath(), "session.json") {
		t.Fatalf("sessionPath unexpected: %s", sessionPath())
	}
}

func Test_session_SaveLoadClear(t *testing.T) {
	_ = withTmpConfig(t)

	if _, err := loadSession(); !errors.Is(err, errNoSession) {
		t.Fatalf("want errNoSession, got %v", err)
	}
	exp := time.Now().Add(time.Minute).UTC().Truncate(time.Second)
	if err := saveSession(session{AccessToken: "a", RefreshToken: "1.s", ExpiresAt: exp}); err != nil {
		t.Fatalf("saveSession: %v", err)
	}
	fi, err := os.Stat(sessionPath())
	if err != nil || fi.Mode().Perm() != 0o600 {
		t.Fatalf("session file mode: %v %v", fi, err)
	}
	s, err := loadSession()
	if err != nil || s.AccessToken != "a" || s.RefreshToken != "1.s" || !s.ExpiresAt.Equal(exp) {
		t.Fatalf("loadSession: %+v %v", s, err)
	}
	if !s.fresh(time.Now()) || s.fresh(exp.Add(time.Second)) {
		t.Fatalf("fresh boundaries wrong")
	}
	if err := clearSession(); err != nil {
		t.Fatalf("clearSession: %v", err)
	}
	if err := clearSession(); err != nil {
		t.Fatalf("clearSession twice: %v", err)
	}
}

func Test_accessExpiry(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(42 * time.Minute).Truncate(time.Second)
	if got := accessExpiry(signed(t, exp), time.Time{}); !got.Equal(exp) {
		t.Fatalf("accessExpiry=%v want %v", got, exp)
	}
	fb := time.Unix(1, 0)
	if got := accessExpiry("garbage", fb); !got.Equal(fb) {
		t.Fatalf("fallback not used: %v", got)
	}
}

func Test_readAll_File_And_Stdin(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "f.txt")
	_ = os.WriteFile(tmp, []byte("hello"), 0o600)
	b, err := readAll(tmp)
	if err != nil || string(b) != "hello" {
		t.Fatalf("readAll(file): %q %v", b, err)
	}

	r, w, _ := os.Pipe()
	old := os.Stdin
	os.Stdin = r
	defer func() { os.Stdin = old }()
	go func() { _, _ = io.WriteString(w, "from-stdin"); _ = w.Close() }()
	b, err = readAll("-")
	if err != nil || string(b) != "from-stdin" {
		t.Fatalf("readAll(stdin): %q %v", b, err)
	}
}

func Test_printJSON_WritesPretty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printJSON(&buf, map[string]any{"a": 1})

	var m map[string]any
	if json.Unmarshal(buf.Bytes(), &m) != nil || m["a"] != float64(1) {
		t.Fatalf("printJSON produced invalid json: %s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\n  ")) {
		t.Fatalf("printJSON should indent")
	}
}

func Test_run_LoginProfileLogout(t *testing.T) {
	_ = withTmpConfig(t)
	api, c := newFakeAPI(t)
	ctx := context.Background()

	var out bytes.Buffer
	if err := run(ctx, c, []string{"login", "-u", "alice", "-p", "bad"}, &out); err == nil {
		t.Fatalf("login with bad password should fail")
	} else {
		var ae *apiError
		if !errors.As(err, &ae) || ae.Status != http.StatusUnauthorized || ae.Message != "invalid credentials" {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if err := run(ctx, c, []string{"login", "-u", "alice", "-p", "pw"}, &out); err != nil {
		t.Fatalf("login: %v", err)
	}
	s, err := loadSession()
	if err != nil || s.RefreshToken != "r1" || s.AccessToken != api.access {
		t.Fatalf("session after login: %+v %v", s, err)
	}

	out.Reset()
	if err := run(ctx, c, []string{"profile"}, &out); err != nil {
		t.Fatalf("profile: %v", err)
	}
	if !strings.Contains(out.String(), `"alice"`) {
		t.Fatalf("profile output: %s", out.String())
	}

	if err := run(ctx, c, []string{"logout"}, &out); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := loadSession(); !errors.Is(err, errNoSession) {
		t.Fatalf("session should be cleared, got %v", err)
	}
}

func Test_run_RefreshesExpiredAccess(t *testing.T) {
	_ = withTmpConfig(t)
	api, c := newFakeAPI(t)
	ctx := context.Background()

	if err := saveSession(session{AccessToken: "old", RefreshToken: "r0", ExpiresAt: time.Now().Add(-time.Minute)}); err != nil {
		t.Fatalf("saveSession: %v", err)
	}
	var out bytes.Buffer
	if err := run(ctx, c, []string{"profile"}, &out); err != nil {
		t.Fatalf("profile: %v", err)
	}
	s, _ := loadSession()
	if s.RefreshToken != "r1" || s.AccessToken != api.access {
		t.Fatalf("session not rotated: %+v", s)
	}
	if len(api.calls) != 2 || api.calls[0] != "POST /auth/refresh" {
		t.Fatalf("calls: %v", api.calls)
	}
}

func Test_run_ReuseDropsSession(t *testing.T) {
	_ = withTmpConfig(t)
	api, c := newFakeAPI(t)
	api.reuse = true

	if err := saveSession(session{AccessToken: "a", RefreshToken: "r0"}); err != nil {
		t.Fatalf("saveSession: %v", err)
	}
	err := run(context.Background(), c, []string{"refresh"}, io.Discard)
	var ae *apiError
	if !errors.As(err, &ae) || ae.Code != "token_reuse_detected" {
		t.Fatalf("want reuse error, got %v", err)
	}
	if _, err := loadSession(); !errors.Is(err, errNoSession) {
		t.Fatalf("session should be dropped after reuse, got %v", err)
	}
}

func Test_run_ArgumentErrors(t *testing.T) {
	_ = withTmpConfig(t)
	_, c := newFakeAPI(t)
	ctx := context.Background()

	cases := [][]string{
		{"register", "-u", "a"},
		{"login", "-u", "a"},
		{"set-perms", "-role", "nope", "-file", "x"},
		{"assign-role"},
		{"assign-role", "-user", "3", "-role", "bad"},
		{"profile"}, // no session
		{"frobnicate"},
	}
	for _, args := range cases {
		if err := run(ctx, c, args, io.Discard); err == nil {
			t.Fatalf("run(%v) should fail", args)
		}
	}

	var out bytes.Buffer
	if err := run(ctx, c, []string{"version"}, &out); err != nil || !strings.HasPrefix(out.String(), "forumctl ") {
		t.Fatalf("version: %q %v", out.String(), err)
	}
}
