package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/authapi"
	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/config"
	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/httpserver"
	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/i18n"
	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/metrics"
	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/observability"
	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/session"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	srv, err := buildServer(cfg, logger)
	if err != nil {
		logger.Fatal("build server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	logger.Info("login client listening",
		zap.String("addr", cfg.Server.Addr),
		zap.String("environment", cfg.Environment),
		zap.String("login_path", cfg.Server.LoginPath),
		zap.String("redirect_target", cfg.Server.RedirectTarget),
	)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		cancel()
		stop()
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("login client stopped")
}

func buildServer(cfg config.Config, logger *zap.Logger) (*http.Server, error) {
	service, err := buildAuthService(cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Session.Ephemeral {
		logger.Warn("session keys generated at start-up; sessions will not survive a restart")
	}
	sessions, err := session.NewManager(session.Config{
		CookieName:   cfg.Session.CookieName,
		HashKey:      cfg.Session.HashKey,
		BlockKey:     cfg.Session.BlockKey,
		CookieSecure: cfg.Session.CookieSecure,
		IdleTimeout:  cfg.Session.IdleTimeout,
		Lifetime:     cfg.Session.Lifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("session manager: %w", err)
	}

	bundle, err := i18n.Load(cfg.I18n.DefaultLanguage)
	if err != nil {
		return nil, fmt.Errorf("message catalogs: %w", err)
	}

	return httpserver.New(httpserver.Config{
		Address:            cfg.Server.Addr,
		LoginPath:          cfg.Server.LoginPath,
		RedirectTarget:     cfg.Server.RedirectTarget,
		AuthService:        service,
		Sessions:           sessions,
		Bundle:             bundle,
		Logger:             logger,
		Metrics:            metrics.New(nil),
		LoginRatePerMinute: cfg.RateLimit.LoginPerMinute,
		LoginRateBurst:     cfg.RateLimit.LoginBurst,
		ReadTimeout:        cfg.Server.ReadTimeout,
		WriteTimeout:       cfg.Server.WriteTimeout,
		IdleTimeout:        cfg.Server.IdleTimeout,
	}), nil
}

func buildAuthService(cfg config.Config, logger *zap.Logger) (authapi.Service, error) {
	if cfg.Auth.Offline {
		logger.Warn("CLIENT_AUTH_OFFLINE set; every login is accepted without contacting the remote endpoint")
		return authapi.NewStaticService(), nil
	}
	service, err := authapi.NewHTTPService(cfg.Auth.LoginURL,
		authapi.WithTimeout(cfg.Auth.Timeout),
		authapi.WithLogger(logger.Named("authapi")),
	)
	if err != nil {
		return nil, fmt.Errorf("login service: %w", err)
	}
	logger.Info("login endpoint configured", zap.String("url", cfg.Auth.LoginURL))
	return service, nil
}
