package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	storePostgres = "postgres"
	storeMemory   = "memory"
)

type config struct {
	HTTPAddr         string        `yaml:"http_addr"`
	DatabaseURL      string        `yaml:"database_url"`
	Store            string        `yaml:"store"`
	SeedFile         string        `yaml:"seed_file"`
	JWTSecret        string        `yaml:"jwt_secret"`
	CORSOrigins      []string      `yaml:"cors_allowed_origins"`
	LogLevel         string        `yaml:"log_level"`
	LogFormat        string        `yaml:"log_format"`
	PaymentBatchSize int           `yaml:"payment_batch_size"`
	StoreTimeout     time.Duration `yaml:"store_timeout"`
}

// loadConfig reads .env (if present), then the YAML file named by CLINIC_CONFIG,
// then environment variables. Environment values win.
func loadConfig() (config, error) {
	envFile := getenvDefault("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config{}, fmt.Errorf("config: load %s: %w", envFile, err)
	}

	cfg := config{
		HTTPAddr:         ":8080",
		Store:            storePostgres,
		LogLevel:         "info",
		LogFormat:        "json",
		PaymentBatchSize: 500,
		StoreTimeout:     30 * time.Second,
	}
	if path := os.Getenv("CLINIC_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.DatabaseURL = getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", cfg.DatabaseURL))
	cfg.Store = strings.ToLower(getenvDefault("STORE", cfg.Store))
	cfg.SeedFile = getenvDefault("SEED_FILE", cfg.SeedFile)
	cfg.JWTSecret = getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", cfg.JWTSecret))
	if origins := splitCSV(os.Getenv("CORS_ALLOWED_ORIGINS")); len(origins) > 0 {
		cfg.CORSOrigins = origins
	}
	cfg.LogLevel = getenvDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenvDefault("LOG_FORMAT", cfg.LogFormat)
	cfg.PaymentBatchSize = getenvIntDefault("PAYMENT_BATCH_SIZE", cfg.PaymentBatchSize)
	cfg.StoreTimeout = getenvDuration("STORE_TIMEOUT", cfg.StoreTimeout)

	return cfg, cfg.validate()
}

func (c config) validate() error {
	switch c.Store {
	case storePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL or PG_DSN is required for the postgres store")
		}
	case storeMemory:
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	if c.PaymentBatchSize <= 0 {
		return errors.New("config: payment batch size must be positive")
	}
	if c.StoreTimeout < 0 {
		return errors.New("config: store timeout must not be negative")
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}
