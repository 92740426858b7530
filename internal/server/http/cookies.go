package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/and161185/forum-auth/internal/model"
)

func (s *Server) setAuthCookies(c echo.Context, t model.Tokens) {
	c.SetCookie(s.cookie(AccessCookie, t.AccessToken, int(s.cfg.AccessCookieTTL.Seconds())))
	c.SetCookie(s.cookie(RefreshCookie, t.RefreshToken, int(s.cfg.RefreshCookieTTL.Seconds())))
}

func (s *Server) clearAuthCookies(c echo.Context) {
	c.SetCookie(s.cookie(AccessCookie, "", -1))
	c.SetCookie(s.cookie(RefreshCookie, "", -1))
}

func (s *Server) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

func refreshTokenFromCookie(c echo.Context) string {
	ck, err := c.Cookie(RefreshCookie)
	if err != nil {
		return ""
	}
	return ck.Value
}
