// Package config reads client and fake-backend settings from the
// environment, after an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"smartwaste.org/internal/api"
)

// Session store kinds.
const (
	StoreFile     = "file"
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds the client settings.
type Config struct {
	APIURL       string
	APITimeout   time.Duration
	RatePerSec   float64
	RateBurst    int
	SessionStore string
	SessionPath  string
	PostgresDSN  string
	MetricsAddr  string
}

// FakeAPI holds the settings of the local fake backend.
type FakeAPI struct {
	Addr      string
	JWTSecret string
	TokenTTL  time.Duration
	MLOffline bool
}

// Load reads the client settings. A missing .env file is not an error.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		APIURL:       strings.TrimRight(getEnv("SMARTWASTE_API_URL", api.DefaultBaseURL), "/"),
		SessionStore: strings.ToLower(getEnv("SMARTWASTE_SESSION_STORE", StoreFile)),
		SessionPath:  getEnv("SMARTWASTE_SESSION_PATH", ""),
		PostgresDSN:  getEnv("SMARTWASTE_PG_DSN", ""),
		MetricsAddr:  getEnv("SMARTWASTE_METRICS_ADDR", ""),
	}
	var err error
	if cfg.APITimeout, err = getEnvDuration("SMARTWASTE_API_TIMEOUT", api.DefaultTimeout); err != nil {
		return Config{}, err
	}
	if cfg.RatePerSec, err = getEnvFloat("SMARTWASTE_RATE_PER_SEC", 0); err != nil {
		return Config{}, err
	}
	if cfg.RateBurst, err = getEnvInt("SMARTWASTE_RATE_BURST", 1); err != nil {
		return Config{}, err
	}

	switch cfg.SessionStore {
	case StoreFile, StoreMemory:
	case StorePostgres:
		if cfg.PostgresDSN == "" {
			return Config{}, fmt.Errorf("config: SMARTWASTE_PG_DSN must be set for the postgres session store")
		}
	default:
		return Config{}, fmt.Errorf("config: unknown SMARTWASTE_SESSION_STORE %q", cfg.SessionStore)
	}
	if cfg.APITimeout <= 0 {
		return Config{}, fmt.Errorf("config: SMARTWASTE_API_TIMEOUT must be positive")
	}
	return cfg, nil
}

// LoadFakeAPI reads the fake backend settings.
func LoadFakeAPI() (FakeAPI, error) {
	_ = godotenv.Load()

	cfg := FakeAPI{
		Addr:      getEnv("FAKEAPI_ADDR", ":8080"),
		JWTSecret: getEnv("FAKEAPI_JWT_SECRET", "smartwaste-local-secret"),
		MLOffline: getEnv("FAKEAPI_ML_OFFLINE", "false") == "true",
	}
	var err error
	if cfg.TokenTTL, err = getEnvDuration("FAKEAPI_TOKEN_TTL", 24*time.Hour); err != nil {
		return FakeAPI{}, err
	}
	if cfg.JWTSecret == "" {
		return FakeAPI{}, fmt.Errorf("config: FAKEAPI_JWT_SECRET must not be empty")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}

func getEnvInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}
