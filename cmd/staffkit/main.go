// Command staffkit serves the account API backed by Redis rate limiting.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nhalm/staffkit"
	"github.com/nhalm/staffkit/api"
	"github.com/nhalm/staffkit/config"
	"github.com/nhalm/staffkit/internal/logger"
	"github.com/nhalm/staffkit/password"
	"github.com/nhalm/staffkit/store"
	"github.com/nhalm/staffkit/token"
	"github.com/nhalm/staffkit/users"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// No logger yet.
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	st, err := store.NewRedis(store.RedisConfig{
		URL:      cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("failed to close redis store", zap.Error(err))
		}
	}()
	log.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))

	counter := staffkit.NewFixedWindow(st, staffkit.FixedWindowWithTimeout(cfg.Redis.Timeout))

	accountOpts := []staffkit.RateLimitOption{
		staffkit.RateLimitWithExceeded(cfg.RateLimit.Status, staffkit.DefaultExceededBody),
	}
	if cfg.RateLimit.FailOpen {
		accountOpts = append(accountOpts, staffkit.RateLimitWithFailOpen())
	}
	accountLimiter := staffkit.NewRateLimiter(counter, cfg.RateLimit.Requests, cfg.RateLimit.Window, accountOpts...)

	var loginLimiter *staffkit.RateLimiter
	if cfg.RateLimit.LoginRequests > 0 {
		loginOpts := []staffkit.RateLimitOption{
			staffkit.RateLimitWithName("login"),
			staffkit.RateLimitWithRoute(),
			staffkit.RateLimitWithIP(),
			staffkit.RateLimitWithExceeded(cfg.RateLimit.Status, staffkit.DefaultExceededBody),
		}
		if cfg.RateLimit.FailOpen {
			loginOpts = append(loginOpts, staffkit.RateLimitWithFailOpen())
		}
		loginLimiter = staffkit.NewRateLimiter(counter, cfg.RateLimit.LoginRequests, cfg.RateLimit.LoginWindow, loginOpts...)
	}

	// Tokens do not survive a restart.
	secret, err := token.NewSecret()
	if err != nil {
		return err
	}
	tokens, err := token.New(token.Config{Secret: secret, Issuer: cfg.Token.Issuer})
	if err != nil {
		return err
	}

	passwordConfig := password.DefaultConfig()
	passwordConfig.Memory = cfg.Password.MemoryKB
	passwordConfig.Time = cfg.Password.Time
	passwordConfig.Parallelism = cfg.Password.Parallelism
	hasher, err := password.NewArgon2(passwordConfig)
	if err != nil {
		return err
	}

	userStore := users.NewMemory()

	a, err := api.New(api.Config{
		Users:             userStore,
		Tokens:            tokens,
		Passwords:         hasher,
		Gate:              staffkit.NewGate(userStore, tokens, hasher),
		AccountLimiter:    accountLimiter,
		LoginLimiter:      loginLimiter,
		LoginTTL:          cfg.Token.LoginTTL,
		EndpointTTL:       cfg.Token.EndpointTTL,
		MaxBodyBytes:      cfg.Server.MaxBodyBytes,
		StrictStatusCodes: cfg.Server.StrictStatusCodes,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
	return nil
}
