package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "peopleforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PEOPLEFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "PEOPLEFORGE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "PEOPLEFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "PEOPLEFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "PEOPLEFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "PEOPLEFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "PEOPLEFORGE_PG_HEALTH_CHECK")
	setDuration(&cfg.Postgres.QueryTimeout, "PEOPLEFORGE_PG_QUERY_TIMEOUT")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "PEOPLEFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "PEOPLEFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "PEOPLEFORGE_LOG_ASYNC")
	setString(&cfg.Auth.JWTSecret, "PEOPLEFORGE_JWT_SECRET")
	setDuration(&cfg.Auth.AccessTokenExpiry, "PEOPLEFORGE_ACCESS_TOKEN_EXPIRY")
	setDuration(&cfg.Auth.RefreshTokenExpiry, "PEOPLEFORGE_REFRESH_TOKEN_EXPIRY")
	setInt(&cfg.Auth.BcryptCost, "PEOPLEFORGE_BCRYPT_COST")
	setDuration(&cfg.Tenant.CacheTTL, "PEOPLEFORGE_TENANT_CACHE_TTL")
	setInt(&cfg.Rate.Login.Limit, "PEOPLEFORGE_RATE_LOGIN_LIMIT")
	setDuration(&cfg.Rate.Login.Window, "PEOPLEFORGE_RATE_LOGIN_WINDOW")
	setInt(&cfg.Rate.Refresh.Limit, "PEOPLEFORGE_RATE_REFRESH_LIMIT")
	setDuration(&cfg.Rate.Refresh.Window, "PEOPLEFORGE_RATE_REFRESH_WINDOW")
	setInt(&cfg.Rate.Logout.Limit, "PEOPLEFORGE_RATE_LOGOUT_LIMIT")
	setDuration(&cfg.Rate.Logout.Window, "PEOPLEFORGE_RATE_LOGOUT_WINDOW")
	setInt(&cfg.Rate.Default.Limit, "PEOPLEFORGE_RATE_DEFAULT_LIMIT")
	setDuration(&cfg.Rate.Default.Window, "PEOPLEFORGE_RATE_DEFAULT_WINDOW")
	setBool(&cfg.Rate.BlockEnabled, "PEOPLEFORGE_RATE_BLOCK_ENABLED")
	setDuration(&cfg.Rate.BlockDuration, "PEOPLEFORGE_RATE_BLOCK_DURATION")
	setBool(&cfg.Rate.TrustProxy, "PEOPLEFORGE_RATE_TRUST_PROXY")
	setDuration(&cfg.Rate.CleanupEvery, "PEOPLEFORGE_RATE_CLEANUP_EVERY")
	setInt(&cfg.Breaker.MaxFailures, "PEOPLEFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "PEOPLEFORGE_BREAKER_TIMEOUT")
	setInt64(&cfg.Cache.MaxSizeMB, "PEOPLEFORGE_CACHE_SIZE_MB")
	setBool(&cfg.Telemetry.Enabled, "PEOPLEFORGE_OTEL_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.Telemetry.Insecure, "PEOPLEFORGE_OTEL_INSECURE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	for _, rl := range []struct {
		name string
		l    RouteLimit
	}{
		{"rate.login", cfg.Rate.Login},
		{"rate.refresh", cfg.Rate.Refresh},
		{"rate.logout", cfg.Rate.Logout},
		{"rate.default", cfg.Rate.Default},
	} {
		if rl.l.Limit < 1 {
			return fmt.Errorf("%s.limit must be >= 1", rl.name)
		}
		if rl.l.Window <= 0 {
			return fmt.Errorf("%s.window must be positive", rl.name)
		}
	}
	if cfg.Rate.BlockEnabled && cfg.Rate.BlockDuration <= 0 {
		return errors.New("rate.block_duration must be positive when blocking is enabled")
	}
	if cfg.Tenant.CacheTTL <= 0 {
		return errors.New("tenant.cache_ttl must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
