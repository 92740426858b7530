// Package httpserver exposes the auth and role administration API over HTTP (echo).
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/and161185/forum-auth/internal/metrics"
	"github.com/and161185/forum-auth/internal/service"
)

// Cookie names.
const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
)

// Config controls cookie attributes.
type Config struct {
	SecureCookies    bool // set in production
	AccessCookieTTL  time.Duration
	RefreshCookieTTL time.Duration
}

// Pinger reports backend readiness for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires services into echo handlers.
type Server struct {
	e     *echo.Echo
	auth  service.AuthService
	roles service.RoleService
	db    Pinger
	met   *metrics.Metrics
	log   *zap.Logger
	cfg   Config
}

// New constructs the HTTP server and registers all routes. db and met may be nil.
func New(auth service.AuthService, roles service.RoleService, db Pinger, met *metrics.Metrics, log *zap.Logger, cfg Config) *Server {
	if cfg.AccessCookieTTL <= 0 {
		cfg.AccessCookieTTL = time.Hour
	}
	if cfg.RefreshCookieTTL <= 0 {
		cfg.RefreshCookieTTL = 7 * 24 * time.Hour
	}
	s := &Server{e: echo.New(), auth: auth, roles: roles, db: db, met: met, log: log, cfg: cfg}
	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.HTTPErrorHandler = s.handleError

	s.e.Use(
		middleware.RequestIDWithConfig(middleware.RequestIDConfig{
			Generator: func() string { return ulid.Make().String() },
		}),
		s.requestLogger(),
		s.recoverer(),
	)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.e.GET("/healthz", s.health)
	if s.met != nil {
		s.e.GET("/metrics", echo.WrapHandler(s.met.Handler()))
	}

	a := s.e.Group("/auth")
	a.POST("/register", s.register)
	a.POST("/login", s.login)
	a.POST("/refresh", s.refresh)
	a.POST("/logout", s.logout, s.Gate)
	a.POST("/logout-all", s.logoutAll, s.Gate)
	a.GET("/profile", s.profile, s.Gate)

	adm := s.e.Group("/admin", s.Gate)
	adm.GET("/permissions", s.listPermissions, s.RequirePermissions("role:read"))
	adm.GET("/roles", s.listRoles, s.RequirePermissions("role:read"))
	adm.PUT("/roles/:id/permissions", s.updateRolePermissions, s.RequirePermissions("role:edit"))
	adm.PUT("/users/:id/role", s.assignUserRole, s.RequirePermissions("user:assign:role", "role:assign"))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.e.ServeHTTP(w, r) }

// Start listens on addr. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start(addr string) error { return s.e.Start(addr) }

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

func (s *Server) health(c echo.Context) error {
	if s.db != nil {
		if err := s.db.Ping(c.Request().Context()); err != nil {
			s.log.Warn("health: database unreachable", zap.Error(err))
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unavailable"})
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
