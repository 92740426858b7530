// Command forum-auth starts the forum authentication server (HTTP API plus gRPC gate).
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/and161185/forum-auth/internal/config"
	"github.com/and161185/forum-auth/internal/events"
	"github.com/and161185/forum-auth/internal/limiter"
	"github.com/and161185/forum-auth/internal/metrics"
	"github.com/and161185/forum-auth/internal/migrate"
	"github.com/and161185/forum-auth/internal/repository/postgres"
	grpcserver "github.com/and161185/forum-auth/internal/server/grpc"
	httpserver "github.com/and161185/forum-auth/internal/server/http"
	"github.com/and161185/forum-auth/internal/service"
	"github.com/and161185/forum-auth/internal/token"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, runs migrations, and serves HTTP and gRPC until signalled.
func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	if err := config.LoadDotEnv(); err != nil {
		logger.Warn("load .env", zap.Error(err))
	}
	cfg, err := config.Parse(os.Args[0], os.Args[1:])
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("env", cfg.Env),
		zap.String("http", cfg.HTTPAddr),
		zap.String("grpc", cfg.GRPCAddr),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DSN, logger); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		logger.Fatal("pgxpool.New", zap.Error(err))
	}
	defer db.Close()

	policy := limiter.Policy{Window: cfg.LoginWindow, MaxFails: cfg.LoginMaxFails, BlockFor: cfg.LoginBlock}
	var lim limiter.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		lim = limiter.NewRedis(rdb, policy)
		logger.Info("login limiter: redis", zap.String("addr", cfg.RedisAddr))
	} else {
		lim = limiter.NewPG(db.Pool, policy)
		logger.Info("login limiter: postgres")
	}

	var pub events.Publisher = events.Nop{}
	if cfg.AMQPURL != "" {
		amqpPub, err := events.Dial(cfg.AMQPURL, events.DefaultQueue)
		if err != nil {
			logger.Fatal("amqp dial", zap.Error(err))
		}
		defer func() { _ = amqpPub.Close() }()
		pub = amqpPub
	}

	met := metrics.New()

	// Repositories
	users := postgres.NewUserRepo(db)
	roles := postgres.NewRoleRepo(db)
	tokens := postgres.NewRefreshTokenRepo(db)

	// Services
	authSvc := service.NewAuthService(service.AuthDeps{
		Users:   users,
		Roles:   roles,
		Tokens:  tokens,
		Codec:   token.NewCodec([]byte(cfg.JWTSecret), cfg.AccessTTL),
		Limiter: lim,
		Events:  pub,
		Metrics: met,
		Log:     logger,
	}, service.SessionConfig{
		RefreshTTL:   cfg.RefreshTTL,
		Grace:        cfg.RefreshGrace,
		PasswordCost: cfg.PasswordCost,
		RefreshCost:  cfg.RefreshCost,
	})
	roleSvc := service.NewRoleService(roles, users, logger)

	httpSrv := httpserver.New(authSvc, roleSvc, db, met, logger, httpserver.Config{
		SecureCookies:    cfg.Production(),
		AccessCookieTTL:  cfg.AccessTTL,
		RefreshCookieTTL: cfg.RefreshTTL,
	})

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	grpcSrv, hs := grpcserver.New(logger, authSvc, grpcserver.Options{
		Permissions: grpcserver.SessionPermissions,
		Metrics:     met,
	})
	grpcserver.RegisterSessionServer(grpcSrv, grpcserver.NewSessionService(authSvc, roleSvc))
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Fatal("listen", zap.Error(err))
		}
		hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		go func() {
			logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
			errCh <- grpcSrv.Serve(lis)
		}()
	}

	// Wait for stop
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		stop()
	}

	hs.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	// graceful shutdown
	done := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		grpcSrv.Stop()
	}

	logger.Info("shutdown complete")
}
