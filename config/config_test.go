package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected addr :8080, got %s", cfg.Server.Addr)
	}
	if cfg.Server.MaxBodyBytes != 1<<20 {
		t.Errorf("expected 1 MiB body limit, got %d", cfg.Server.MaxBodyBytes)
	}
	if cfg.Server.StrictStatusCodes {
		t.Error("expected strict status codes off by default")
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.Prefix != "ratelimit:" {
		t.Errorf("unexpected redis config %+v", cfg.Redis)
	}
	if cfg.Redis.Timeout != 250*time.Millisecond {
		t.Errorf("expected 250ms redis timeout, got %s", cfg.Redis.Timeout)
	}
	if cfg.RateLimit.Requests != 300 || cfg.RateLimit.Window != 15*time.Minute {
		t.Errorf("expected 300 per 15m, got %d per %s", cfg.RateLimit.Requests, cfg.RateLimit.Window)
	}
	if cfg.RateLimit.Status != 400 || cfg.RateLimit.FailOpen {
		t.Errorf("unexpected rate limit defaults %+v", cfg.RateLimit)
	}
	if cfg.RateLimit.LoginRequests != 0 {
		t.Errorf("expected login limit disabled, got %d", cfg.RateLimit.LoginRequests)
	}
	if cfg.Token.LoginTTL != 600*time.Second || cfg.Token.EndpointTTL != 600*time.Second {
		t.Errorf("unexpected token ttls %+v", cfg.Token)
	}
	if cfg.Password.MemoryKB != 65536 || cfg.Password.Time != 3 || cfg.Password.Parallelism != 2 {
		t.Errorf("unexpected argon2 config %+v", cfg.Password)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected log level info, got %s", cfg.LogLevel)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SERVER_ADDR", ":9090")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("RATE_LIMIT_REQUESTS", "3")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "60")
	t.Setenv("RATE_LIMIT_FAIL_OPEN", "true")
	t.Setenv("RATE_LIMIT_STATUS", "429")
	t.Setenv("LOGIN_RATE_LIMIT_REQUESTS", "5")
	t.Setenv("TOKEN_ENDPOINT_TTL_SECONDS", "3600")
	t.Setenv("STRICT_STATUS_CODES", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":9090" || !cfg.Server.StrictStatusCodes {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Redis.DB != 3 {
		t.Errorf("expected redis db 3, got %d", cfg.Redis.DB)
	}
	if cfg.RateLimit.Requests != 3 || cfg.RateLimit.Window != time.Minute {
		t.Errorf("unexpected rule %d per %s", cfg.RateLimit.Requests, cfg.RateLimit.Window)
	}
	if !cfg.RateLimit.FailOpen || cfg.RateLimit.Status != 429 || cfg.RateLimit.LoginRequests != 5 {
		t.Errorf("unexpected rate limit config %+v", cfg.RateLimit)
	}
	if cfg.Token.EndpointTTL != time.Hour {
		t.Errorf("expected endpoint ttl 1h, got %s", cfg.Token.EndpointTTL)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"REDIS_DB", "zero"},
		{"REDIS_TIMEOUT_MS", "0"},
		{"RATE_LIMIT_REQUESTS", "0"},
		{"RATE_LIMIT_WINDOW_SECONDS", "-5"},
		{"RATE_LIMIT_FAIL_OPEN", "sometimes"},
		{"RATE_LIMIT_STATUS", "200"},
		{"LOGIN_RATE_LIMIT_REQUESTS", "-1"},
		{"TOKEN_LOGIN_TTL_SECONDS", "abc"},
		{"ARGON2_PARALLELISM", "300"},
		{"MAX_BODY_BYTES", "0"},
		{"STRICT_STATUS_CODES", "yes please"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("expected error to name %s, got %v", tt.key, err)
			}
		})
	}
}
