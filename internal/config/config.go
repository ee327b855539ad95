// Package config loads and validates application configuration from .env
// files, YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverMongo    = "mongo"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Store         StoreConfig         `yaml:"store"`
	Definitions   DefinitionsConfig   `yaml:"definitions"`
	Workflow      WorkflowConfig      `yaml:"workflow"`
	Capability    CapabilityConfig    `yaml:"capability"`
	Idempotency   IdempotencyConfig   `yaml:"idempotency"`
	Events        EventsConfig        `yaml:"events"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes bearer token verification. Tokens are signed
// with a shared secret read from the environment variable SecretEnv.
type IdentityConfig struct {
	Issuer     string            `yaml:"issuer"`
	Audience   string            `yaml:"audience"`
	SecretEnv  string            `yaml:"secret_env"`
	Algorithms []string          `yaml:"algorithms"`
	ClaimPaths map[string]string `yaml:"claim_paths"`
}

// Secret returns the signing secret from the environment.
func (c IdentityConfig) Secret() string {
	return os.Getenv(c.SecretEnv)
}

// StoreConfig describes the record store backend.
type StoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	Path            string        `yaml:"path"`
	Database        string        `yaml:"database"`
	Prefix          string        `yaml:"prefix"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Timeout         time.Duration `yaml:"timeout"`
}

// DSN returns the connection string from the environment.
func (c StoreConfig) DSN() string {
	return os.Getenv(c.DSNEnv)
}

// DefinitionsConfig describes where to find definition seed files.
type DefinitionsConfig struct {
	Directories []string `yaml:"directories"`
	SeedOnStart bool     `yaml:"seed_on_start"`
}

// WorkflowConfig describes transition engine settings.
type WorkflowConfig struct {
	ArchiveRole  string                  `yaml:"archive_role"`
	StatusMirror bool                    `yaml:"status_mirror"`
	Modules      map[string]ModuleConfig `yaml:"modules"`
}

// ModuleConfig holds per-module engine and inbox settings.
type ModuleConfig struct {
	// Broadcast makes every pending item of the module visible to all users.
	Broadcast bool `yaml:"broadcast"`
	// StatusByStep overrides the mirrored status for specific step ids.
	StatusByStep map[string]string `yaml:"status_by_step"`
}

// BroadcastModules returns the modules configured for broadcast visibility.
func (c WorkflowConfig) BroadcastModules() []string {
	var out []string
	for name, m := range c.Modules {
		if m.Broadcast {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// CapabilityConfig describes authorization settings.
type CapabilityConfig struct {
	StaticPolicyFile string      `yaml:"static_policy_file"`
	Cache            CacheConfig `yaml:"cache"`
}

// CacheConfig describes cache settings.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// IdempotencyConfig describes idempotency store settings.
type IdempotencyConfig struct {
	Enabled bool                   `yaml:"enabled"`
	Store   IdempotencyStoreConfig `yaml:"store"`
}

// IdempotencyStoreConfig describes idempotency persistence settings.
type IdempotencyStoreConfig struct {
	Driver     string        `yaml:"driver"`
	AddrEnv    string        `yaml:"addr_env"`
	DB         int           `yaml:"db"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// EventsConfig describes transition event publishing.
type EventsConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Brokers        []string      `yaml:"brokers"`
	Topic          string        `yaml:"topic"`
	ClientID       string        `yaml:"client_id"`
	BatchTimeout   time.Duration `yaml:"batch_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	Breaker        BreakerConfig `yaml:"breaker"`
}

// BreakerConfig guards the publisher against a broker outage.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	CoolDown         time.Duration `yaml:"cool_down"`
}

// JobsConfig describes scheduled background jobs. Schedules use cron
// syntax; an empty schedule disables the job.
type JobsConfig struct {
	PendingGaugeSchedule string `yaml:"pending_gauge_schedule"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`
	// LogFormat is "json" (default) or "console".
	LogFormat string        `yaml:"log_format"`
	Tracing   TracingConfig `yaml:"tracing"`
	Metrics   MetricsConfig `yaml:"metrics"`
	// SensitiveFields are item data keys masked in debug logs, on top of
	// the built-in list.
	SensitiveFields []string `yaml:"sensitive_fields"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type",
					"X-Correlation-Id", "X-Idempotency-Key"},
				MaxAge: 86400,
			},
		},
		Identity: IdentityConfig{
			SecretEnv:  "CARTABLE_JWT_SECRET",
			Algorithms: []string{"HS256"},
			ClaimPaths: map[string]string{
				"subject_id": "sub",
				"role":       "role",
				"name":       "name",
			},
		},
		Store: StoreConfig{
			Driver:          DriverMemory,
			DSNEnv:          "CARTABLE_STORE_DSN",
			Path:            "cartable.db",
			Database:        "cartable",
			Prefix:          "cartable:",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			Timeout:         5 * time.Second,
		},
		Definitions: DefinitionsConfig{
			Directories: []string{"/definitions"},
			SeedOnStart: true,
		},
		Workflow: WorkflowConfig{
			ArchiveRole:  "ARCHIVE",
			StatusMirror: true,
		},
		Capability: CapabilityConfig{
			Cache: CacheConfig{
				TTL:        5 * time.Minute,
				MaxEntries: 10000,
			},
		},
		Idempotency: IdempotencyConfig{
			Store: IdempotencyStoreConfig{
				Driver:     DriverMemory,
				AddrEnv:    "CARTABLE_REDIS_ADDR",
				DefaultTTL: 24 * time.Hour,
			},
		},
		Events: EventsConfig{
			Topic:          "cartable.events",
			ClientID:       "cartable",
			BatchTimeout:   50 * time.Millisecond,
			PublishTimeout: 5 * time.Second,
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 1,
				CoolDown:         30 * time.Second,
			},
		},
		Jobs: JobsConfig{
			PendingGaugeSchedule: "@every 1m",
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load builds the configuration in layers: defaults, then variables from
// envFiles (existing process variables win), then the YAML file at path
// (skipped when path is empty), then CARTABLE_* overrides. The result is
// validated.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Defaults()

	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// loadEnvFiles loads .env files; missing files are skipped.
func loadEnvFiles(files []string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: loading %s: %w", f, err)
		}
	}
	return nil
}

var validDrivers = []string{DriverMemory, DriverPostgres, DriverSQLite, DriverRedis, DriverMongo}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Identity.SecretEnv == "" {
		errs = append(errs, "identity.secret_env is required")
	}
	if len(c.Identity.Algorithms) == 0 {
		errs = append(errs, "identity.algorithms must not be empty")
	}
	if !slices.Contains(validDrivers, c.Store.Driver) {
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of %s", c.Store.Driver, strings.Join(validDrivers, ", ")))
	}
	if c.Workflow.ArchiveRole == "" {
		errs = append(errs, "workflow.archive_role is required")
	}
	if c.Idempotency.Enabled {
		switch c.Idempotency.Store.Driver {
		case DriverMemory, DriverRedis:
		default:
			errs = append(errs, fmt.Sprintf("idempotency.store.driver %q must be memory or redis", c.Idempotency.Store.Driver))
		}
	}
	if c.Events.Enabled {
		if len(c.Events.Brokers) == 0 {
			errs = append(errs, "events.brokers is required when events are enabled")
		}
		if c.Events.Topic == "" {
			errs = append(errs, "events.topic is required when events are enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads CARTABLE_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CARTABLE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CARTABLE_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("CARTABLE_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("CARTABLE_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("CARTABLE_WORKFLOW_ARCHIVE_ROLE"); v != "" {
		cfg.Workflow.ArchiveRole = v
	}
	if v := os.Getenv("CARTABLE_EVENTS_BROKERS"); v != "" {
		cfg.Events.Brokers = strings.Split(v, ",")
		cfg.Events.Enabled = true
	}
	if v := os.Getenv("CARTABLE_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("CARTABLE_OBSERVABILITY_LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
