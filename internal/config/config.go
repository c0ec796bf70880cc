// Package config loads Kestrel configuration from YAML or TOML files and
// KESTREL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Load builds the configuration: tier defaults, then the file at path (if any),
// then environment overrides. The result is validated.
func Load(path string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if strings.EqualFold(os.Getenv("KESTREL_TIER"), string(domain.TierPro)) {
		cfg = domain.ProConfig()
	}

	if path != "" {
		var err error
		cfg, err = LoadFromFile(path, cfg)
		if err != nil {
			return nil, err
		}
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

type decodeFunc func([]byte, any) error

func decoderFor(path string) (decodeFunc, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal, nil
	case ".toml":
		return toml.Unmarshal, nil
	default:
		return nil, fmt.Errorf("unsupported config format %q (want .yaml, .yml or .toml)", filepath.Ext(path))
	}
}

// LoadFromFile decodes path over base. A file that sets tier "pro" is decoded
// over the Pro defaults instead.
func LoadFromFile(path string, base *domain.Config) (*domain.Config, error) {
	decode, err := decoderFor(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var peek struct {
		Tier domain.Tier `yaml:"tier" toml:"tier"`
	}
	if err := decode(data, &peek); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := base
	if cfg == nil {
		cfg = domain.DefaultConfig()
	}
	if peek.Tier == domain.TierPro && cfg.Tier != domain.TierPro {
		cfg = domain.ProConfig()
	}

	if err := decode(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies environment variable overrides.
// Environment variables use the KESTREL_ prefix:
//   - KESTREL_HOST, KESTREL_PORT
//   - KESTREL_DB_DRIVER, KESTREL_SQLITE_PATH
//   - KESTREL_POSTGRES_HOST, KESTREL_POSTGRES_PORT, KESTREL_POSTGRES_USER,
//     KESTREL_POSTGRES_PASSWORD, KESTREL_POSTGRES_DB, KESTREL_POSTGRES_SSLMODE
//   - KESTREL_CACHE_TYPE, KESTREL_REDIS_ADDR, KESTREL_REDIS_PASSWORD,
//     KESTREL_REDIS_NAMESPACE
//   - KESTREL_BUS_TYPE, KESTREL_NATS_URL, KESTREL_NATS_TOKEN
//   - KESTREL_SCAN_AUTOSTART, KESTREL_SCAN_INTERVAL_SEC, KESTREL_SCAN_WORKERS
//   - KESTREL_WEBHOOK_URL
//   - KESTREL_LOG_LEVEL, KESTREL_LOG_FORMAT, KESTREL_DEBUG
//
// Malformed numeric or boolean values are ignored.
func ApplyEnvOverrides(cfg *domain.Config) {
	setString(&cfg.Server.Host, "KESTREL_HOST")
	setInt(&cfg.Server.Port, "KESTREL_PORT")

	setString(&cfg.Repository.Driver, "KESTREL_DB_DRIVER")
	setString(&cfg.Repository.SQLitePath, "KESTREL_SQLITE_PATH")
	setString(&cfg.Repository.PostgresHost, "KESTREL_POSTGRES_HOST")
	setInt(&cfg.Repository.PostgresPort, "KESTREL_POSTGRES_PORT")
	setString(&cfg.Repository.PostgresUser, "KESTREL_POSTGRES_USER")
	setString(&cfg.Repository.PostgresPassword, "KESTREL_POSTGRES_PASSWORD")
	setString(&cfg.Repository.PostgresDB, "KESTREL_POSTGRES_DB")
	setString(&cfg.Repository.PostgresSSLMode, "KESTREL_POSTGRES_SSLMODE")

	setString(&cfg.Cache.Type, "KESTREL_CACHE_TYPE")
	setString(&cfg.Cache.RedisAddr, "KESTREL_REDIS_ADDR")
	setString(&cfg.Cache.RedisPassword, "KESTREL_REDIS_PASSWORD")
	setString(&cfg.Cache.RedisNamespace, "KESTREL_REDIS_NAMESPACE")

	setString(&cfg.EventBus.Type, "KESTREL_BUS_TYPE")
	setString(&cfg.EventBus.NATSUrl, "KESTREL_NATS_URL")
	setString(&cfg.EventBus.NATSToken, "KESTREL_NATS_TOKEN")

	setBool(&cfg.Scanner.AutoStart, "KESTREL_SCAN_AUTOSTART")
	setInt(&cfg.Scanner.IntervalSec, "KESTREL_SCAN_INTERVAL_SEC")
	setInt(&cfg.Scanner.Workers, "KESTREL_SCAN_WORKERS")

	setString(&cfg.Notify.WebhookURL, "KESTREL_WEBHOOK_URL")

	setString(&cfg.Logging.Level, "KESTREL_LOG_LEVEL")
	setString(&cfg.Logging.Format, "KESTREL_LOG_FORMAT")
	if os.Getenv("KESTREL_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
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

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Validate reports every problem found in cfg.
func Validate(cfg *domain.Config) error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(cfg.Tier == domain.TierCommunity || cfg.Tier == domain.TierPro, "tier must be community or pro, got %q", cfg.Tier)
	check(cfg.Server.Port > 0 && cfg.Server.Port <= 65535, "server.port out of range: %d", cfg.Server.Port)

	switch cfg.Repository.Driver {
	case "sqlite":
		check(cfg.Repository.SQLitePath != "", "repository.sqlite_path is required for sqlite")
	case "postgres":
		check(cfg.Repository.PostgresHost != "", "repository.postgres_host is required for postgres")
		check(cfg.Repository.PostgresDB != "", "repository.postgres_db is required for postgres")
	default:
		check(false, "repository.driver must be sqlite or postgres, got %q", cfg.Repository.Driver)
	}

	switch cfg.Cache.Type {
	case "memory", "":
	case "redis":
		check(cfg.Cache.RedisAddr != "", "cache.redis_addr is required for redis")
	default:
		check(false, "cache.type must be memory or redis, got %q", cfg.Cache.Type)
	}

	switch cfg.EventBus.Type {
	case "channel", "":
	case "nats":
		check(cfg.EventBus.NATSUrl != "", "event_bus.nats_url is required for nats")
	default:
		check(false, "event_bus.type must be channel or nats, got %q", cfg.EventBus.Type)
	}

	s := cfg.Scanner
	check(s.IntervalSec > 0, "scanner.interval_sec must be positive")
	check(s.BatchSize > 0, "scanner.batch_size must be positive")
	check(s.Workers > 0, "scanner.workers must be positive")
	check(s.EntityTimeoutSec > 0, "scanner.entity_timeout_sec must be positive")
	check(s.OnDemandTimeoutSec > 0, "scanner.on_demand_timeout_sec must be positive")
	check(s.EntitiesPerSecond >= 0, "scanner.entities_per_second must not be negative")

	if cfg.Notify.WebhookURL != "" {
		u, err := url.Parse(cfg.Notify.WebhookURL)
		check(err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "",
			"notify.webhook_url must be an absolute http(s) URL, got %q", cfg.Notify.WebhookURL)
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		check(false, "logging.level must be debug, info, warn or error, got %q", cfg.Logging.Level)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text", "":
	default:
		check(false, "logging.format must be json or text, got %q", cfg.Logging.Format)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
