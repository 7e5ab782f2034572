// Package config loads process configuration from the environment, with an
// optional .env file in the working directory.
package config

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Token     TokenConfig
	Password  PasswordConfig
	LogLevel  string
}

type ServerConfig struct {
	Addr         string
	MaxBodyBytes int64

	// StrictStatusCodes answers failed logins with 401, duplicate
	// registrations with 409 and mismatched passwords with 400 instead of 200.
	StrictStatusCodes bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Timeout  time.Duration
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	FailOpen bool

	// Status is returned for over-limit requests.
	Status int

	// LoginRequests limits POST /v1/login per client; 0 disables it.
	LoginRequests int
	LoginWindow   time.Duration
}

type TokenConfig struct {
	Issuer      string
	LoginTTL    time.Duration
	EndpointTTL time.Duration
}

type PasswordConfig struct {
	MemoryKB    uint32
	Time        uint32
	Parallelism uint8
}

func Load() (Config, error) {
	_ = godotenv.Load()

	redisConfig, err := buildRedisConfig()
	if err != nil {
		return Config{}, err
	}

	rateLimitConfig, err := buildRateLimitConfig()
	if err != nil {
		return Config{}, err
	}

	tokenConfig, err := buildTokenConfig()
	if err != nil {
		return Config{}, err
	}

	passwordConfig, err := buildPasswordConfig()
	if err != nil {
		return Config{}, err
	}

	maxBody, err := getInt64("MAX_BODY_BYTES", 1<<20)
	if err != nil {
		return Config{}, err
	}
	if maxBody < 1 {
		return Config{}, fmt.Errorf("invalid MAX_BODY_BYTES: must be positive, got %d", maxBody)
	}

	strict, err := getBool("STRICT_STATUS_CODES", false)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Server: ServerConfig{
			Addr:              getEnv("SERVER_ADDR", ":8080"),
			MaxBodyBytes:      maxBody,
			StrictStatusCodes: strict,
		},
		Redis:     redisConfig,
		RateLimit: rateLimitConfig,
		Token:     tokenConfig,
		Password:  passwordConfig,
		LogLevel:  getEnv("LOG_LEVEL", "info"),
	}, nil
}

func buildRedisConfig() (RedisConfig, error) {
	db, err := getInt("REDIS_DB", 0)
	if err != nil {
		return RedisConfig{}, err
	}
	timeoutMS, err := getInt("REDIS_TIMEOUT_MS", 250)
	if err != nil {
		return RedisConfig{}, err
	}
	if timeoutMS < 1 {
		return RedisConfig{}, fmt.Errorf("invalid REDIS_TIMEOUT_MS: must be positive, got %d", timeoutMS)
	}

	return RedisConfig{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		Prefix:   getEnv("REDIS_PREFIX", "ratelimit:"),
		Timeout:  time.Duration(timeoutMS) * time.Millisecond,
	}, nil
}

func buildRateLimitConfig() (RateLimitConfig, error) {
	requests, err := getInt("RATE_LIMIT_REQUESTS", 300)
	if err != nil {
		return RateLimitConfig{}, err
	}
	if requests < 1 {
		return RateLimitConfig{}, fmt.Errorf("invalid RATE_LIMIT_REQUESTS: must be >= 1, got %d", requests)
	}
	window, err := getSeconds("RATE_LIMIT_WINDOW_SECONDS", 900)
	if err != nil {
		return RateLimitConfig{}, err
	}
	failOpen, err := getBool("RATE_LIMIT_FAIL_OPEN", false)
	if err != nil {
		return RateLimitConfig{}, err
	}
	status, err := getInt("RATE_LIMIT_STATUS", http.StatusBadRequest)
	if err != nil {
		return RateLimitConfig{}, err
	}
	if status < 400 || status > 599 {
		return RateLimitConfig{}, fmt.Errorf("invalid RATE_LIMIT_STATUS: must be a 4xx or 5xx code, got %d", status)
	}
	loginRequests, err := getInt("LOGIN_RATE_LIMIT_REQUESTS", 0)
	if err != nil {
		return RateLimitConfig{}, err
	}
	if loginRequests < 0 {
		return RateLimitConfig{}, fmt.Errorf("invalid LOGIN_RATE_LIMIT_REQUESTS: must be >= 0, got %d", loginRequests)
	}
	loginWindow, err := getSeconds("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60)
	if err != nil {
		return RateLimitConfig{}, err
	}

	return RateLimitConfig{
		Requests:      requests,
		Window:        window,
		FailOpen:      failOpen,
		Status:        status,
		LoginRequests: loginRequests,
		LoginWindow:   loginWindow,
	}, nil
}

func buildTokenConfig() (TokenConfig, error) {
	loginTTL, err := getSeconds("TOKEN_LOGIN_TTL_SECONDS", 600)
	if err != nil {
		return TokenConfig{}, err
	}
	endpointTTL, err := getSeconds("TOKEN_ENDPOINT_TTL_SECONDS", 600)
	if err != nil {
		return TokenConfig{}, err
	}

	return TokenConfig{
		Issuer:      getEnv("TOKEN_ISSUER", "staffkit"),
		LoginTTL:    loginTTL,
		EndpointTTL: endpointTTL,
	}, nil
}

func buildPasswordConfig() (PasswordConfig, error) {
	memory, err := getUint("ARGON2_MEMORY_KB", 64*1024, 32)
	if err != nil {
		return PasswordConfig{}, err
	}
	passes, err := getUint("ARGON2_TIME", 3, 32)
	if err != nil {
		return PasswordConfig{}, err
	}
	parallelism, err := getUint("ARGON2_PARALLELISM", 2, 8)
	if err != nil {
		return PasswordConfig{}, err
	}

	return PasswordConfig{
		MemoryKB:    uint32(memory),
		Time:        uint32(passes),
		Parallelism: uint8(parallelism),
	}, nil
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getInt(key string, fallback int) (int, error) {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getInt64(key string, fallback int64) (int64, error) {
	n, err := strconv.ParseInt(getEnv(key, strconv.FormatInt(fallback, 10)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getUint(key string, fallback uint64, bits int) (uint64, error) {
	n, err := strconv.ParseUint(getEnv(key, strconv.FormatUint(fallback, 10)), 10, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	b, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(fallback)))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

// getSeconds reads a whole number of seconds; zero and negative are rejected.
func getSeconds(key string, fallback int) (time.Duration, error) {
	n, err := getInt(key, fallback)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("invalid %s: must be >= 1, got %d", key, n)
	}
	return time.Duration(n) * time.Second, nil
}
