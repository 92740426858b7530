package httpserver

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/and161185/forum-auth/internal/authctx"
	"github.com/and161185/forum-auth/internal/errs"
	"github.com/and161185/forum-auth/internal/model"
	"github.com/and161185/forum-auth/internal/permission"
)

// Gate resolves the principal from the access token and attaches it to the
// request context. The access_token cookie is tried first, then the bearer header.
// Any failure rejects the request; a principal is never partially attached.
func (s *Server) Gate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tok := accessToken(c.Request())
		if tok == "" {
			return errs.ErrUnauthorized
		}
		ctx := c.Request().Context()
		p, err := s.auth.Authenticate(ctx, tok)
		if err != nil {
			return err
		}
		c.SetRequest(c.Request().WithContext(authctx.WithPrincipal(ctx, p)))
		return next(c)
	}
}

func accessToken(r *http.Request) string {
	if ck, err := r.Cookie(AccessCookie); err == nil && ck.Value != "" {
		return ck.Value
	}
	h := strings.TrimSpace(r.Header.Get(echo.HeaderAuthorization))
	if len(h) >= 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// RequirePermissions allows the request when the principal holds any of codes.
func (s *Server) RequirePermissions(codes ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, _ := authctx.PrincipalFromCtx(c.Request().Context())
			if !permission.Authorize(p, codes) {
				s.met.AuthzDenied(c.Path())
				return errs.ErrForbidden
			}
			return next(c)
		}
	}
}

func principal(c echo.Context) *model.Principal {
	p, _ := authctx.PrincipalFromCtx(c.Request().Context())
	return p
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogRoutePath: true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			lvl := zapcore.InfoLevel
			switch {
			case v.Status >= http.StatusInternalServerError:
				lvl = zapcore.ErrorLevel
			case v.Status >= http.StatusBadRequest:
				lvl = zapcore.WarnLevel
			}
			// metadata only: no bodies, no cookies
			s.log.Log(lvl, "http",
				zap.String("method", v.Method),
				zap.String("route", v.RoutePath),
				zap.Int("status", v.Status),
				zap.Duration("dur", v.Latency),
				zap.String("ip", v.RemoteIP),
				zap.String("request_id", v.RequestID),
			)
			return nil
		},
	})
}

func (s *Server) recoverer() echo.MiddlewareFunc {
	return middleware.RecoverWithConfig(middleware.RecoverConfig{
		DisablePrintStack: true,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			s.log.Error("panic",
				zap.Error(err),
				zap.ByteString("stack", stack),
				zap.String("route", c.Path()),
			)
			return fmt.Errorf("panic recovered: %w", err)
		},
	})
}
