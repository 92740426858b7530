package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/and161185/forum-auth/internal/errs"
	"github.com/and161185/forum-auth/internal/model"
)

type messageResponse struct {
	Message string `json:"message"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type profileResponse struct {
	ID          int64    `json:"id"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	Avatar      *string  `json:"avatar"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

func device(c echo.Context) model.DeviceInfo {
	return model.DeviceInfo{IP: c.RealIP(), UserAgent: c.Request().UserAgent()}
}

func (s *Server) register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return errs.Validationf("invalid body")
	}
	req.normalize()
	if err := req.validate(); err != nil {
		return err
	}
	u, err := s.auth.Register(c.Request().Context(), model.NewUser{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
		Avatar:   req.Avatar,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, u)
}

func (s *Server) login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return errs.Validationf("invalid body")
	}
	if err := req.validate(); err != nil {
		return err
	}
	tokens, p, err := s.auth.LoginWithPassword(c.Request().Context(), req.Username, req.Password, device(c))
	if err != nil {
		return err
	}
	s.setAuthCookies(c, tokens)
	return c.JSON(http.StatusOK, p.Info())
}

// refresh reads the refresh token from its cookie, or from the JSON body for
// clients that do not keep cookies.
func (s *Server) refresh(c echo.Context) error {
	raw := refreshTokenFromCookie(c)
	if raw == "" {
		var req refreshRequest
		if err := c.Bind(&req); err == nil {
			raw = strings.TrimSpace(req.RefreshToken)
		}
	}
	if raw == "" {
		return &errs.ReasonError{Kind: errs.ErrUnauthorized, Reason: "refresh token not found"}
	}
	tokens, err := s.auth.Refresh(c.Request().Context(), raw, device(c))
	if err != nil {
		if errors.Is(err, errs.ErrSecurity) {
			// the whole session family is gone; drop the client's copies too
			s.clearAuthCookies(c)
		}
		return err
	}
	s.setAuthCookies(c, tokens)
	return c.JSON(http.StatusOK, messageResponse{Message: "token refreshed"})
}

func (s *Server) logout(c echo.Context) error {
	p := principal(c)
	if err := s.auth.Logout(c.Request().Context(), p.UserID, refreshTokenFromCookie(c)); err != nil {
		return err
	}
	s.clearAuthCookies(c)
	return c.JSON(http.StatusOK, messageResponse{Message: "logged out"})
}

func (s *Server) logoutAll(c echo.Context) error {
	if refreshTokenFromCookie(c) == "" {
		return &errs.ReasonError{Kind: errs.ErrUnauthorized, Reason: "refresh token not found"}
	}
	p := principal(c)
	if err := s.auth.LogoutAll(c.Request().Context(), p.UserID); err != nil {
		return err
	}
	s.clearAuthCookies(c)
	return c.JSON(http.StatusOK, messageResponse{Message: "logged out from all devices"})
}

func (s *Server) profile(c echo.Context) error {
	p := principal(c)
	resp := profileResponse{
		ID:          p.UserID,
		Username:    p.Username,
		Email:       p.Email,
		Avatar:      p.Avatar,
		Permissions: p.Permissions(),
	}
	if p.Role != nil {
		resp.Role = p.Role.Name
	}
	if resp.Permissions == nil {
		resp.Permissions = []string{}
	}
	return c.JSON(http.StatusOK, resp)
}
