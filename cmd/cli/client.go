package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	accessCookie  = "access_token"
	refreshCookie = "refresh_token"
)

// apiError is a non-2xx response decoded from the server's error body.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("http %d: %s (%s)", e.Status, e.Message, e.Code)
}

type client struct {
	base string
	hc   *http.Client
	now  func() time.Time
}

func newClient(base string, timeout time.Duration) *client {
	return &client{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{Timeout: timeout},
		now:  time.Now,
	}
}

// do sends a JSON request. A non-nil session supplies the bearer access token
// and the refresh cookie. Cookies set by the response are returned.
func (c *client) do(ctx context.Context, method, path string, s *session, in, out any) (map[string]string, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s != nil {
		if s.AccessToken != "" {
			req.Header.Set("Authorization", "Bearer "+s.AccessToken)
		}
		if s.RefreshToken != "" {
			req.AddCookie(&http.Cookie{Name: refreshCookie, Value: s.RefreshToken})
		}
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	cookies := map[string]string{}
	for _, ck := range resp.Cookies() {
		cookies[ck.Name] = ck.Value
	}
	if resp.StatusCode >= 300 {
		var eb struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return cookies, &apiError{Status: resp.StatusCode, Code: eb.Code, Message: eb.Error}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return cookies, fmt.Errorf("decode response: %w", err)
		}
	}
	return cookies, nil
}

// sessionFrom builds a session from the cookies of a login or refresh response.
func (c *client) sessionFrom(cookies map[string]string) (session, error) {
	s := session{AccessToken: cookies[accessCookie], RefreshToken: cookies[refreshCookie]}
	if s.AccessToken == "" || s.RefreshToken == "" {
		return s, fmt.Errorf("server did not return session cookies")
	}
	s.ExpiresAt = accessExpiry(s.AccessToken, c.now().Add(15*time.Minute))
	return s, nil
}

func (c *client) login(ctx context.Context, username, password string) (session, map[string]any, error) {
	var info map[string]any
	cookies, err := c.do(ctx, http.MethodPost, "/auth/login", nil,
		map[string]string{"username": username, "password": password}, &info)
	if err != nil {
		return session{}, nil, err
	}
	s, err := c.sessionFrom(cookies)
	return s, info, err
}

func (c *client) refresh(ctx context.Context, s session) (session, error) {
	cookies, err := c.do(ctx, http.MethodPost, "/auth/refresh", &session{RefreshToken: s.RefreshToken}, nil, nil)
	if err != nil {
		return session{}, err
	}
	return c.sessionFrom(cookies)
}

// ensure returns a session with a usable access token, rotating the refresh
// token when the access token has expired. rotated reports whether s changed.
func (c *client) ensure(ctx context.Context, s session) (out session, rotated bool, err error) {
	if s.fresh(c.now()) {
		return s, false, nil
	}
	if s.RefreshToken == "" {
		return s, false, errNoSession
	}
	out, err = c.refresh(ctx, s)
	if err != nil {
		return s, false, err
	}
	return out, true, nil
}
