// Package config loads service configuration from the environment, an
// optional .env file and an optional YAML file of tunables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mindlog/social_layer/internal/domain/graph"
)

// Backend names accepted in BACKEND.
const (
	BackendSupabase = "supabase"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config is the full service configuration.
type Config struct {
	ServiceName string `env:"SERVICE_NAME,default=socialgraph"`
	HTTPAddr    string `env:"HTTP_ADDR,default=:8080"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	LogFormat   string `env:"LOG_FORMAT,default=json"`
	ConfigFile  string `env:"CONFIG_FILE"`

	Backend string `env:"BACKEND,default=supabase"`

	Supabase Supabase
	Postgres Postgres
	Redis    Redis

	Tunables Tunables
}

// Supabase holds the project connection settings.
type Supabase struct {
	URL            string `env:"SUPABASE_URL"`
	AnonKey        string `env:"SUPABASE_ANON_KEY"`
	ServiceRoleKey string `env:"SUPABASE_SERVICE_ROLE_KEY"`
	JWTSecret      string `env:"SUPABASE_JWT_SECRET"`
}

// APIKey returns the service role key when set, otherwise the anon key.
func (s Supabase) APIKey() string {
	if s.ServiceRoleKey != "" {
		return s.ServiceRoleKey
	}
	return s.AnonKey
}

// Postgres holds direct database settings.
type Postgres struct {
	DSN          string `env:"DATABASE_URL"`
	MaxOpenConns int    `env:"DATABASE_MAX_OPEN_CONNS,default=10"`
}

// Redis holds the exclusion cache connection. An empty Addr disables the cache.
type Redis struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,default=0"`
}

// Tunables are behavioural knobs. Values in CONFIG_FILE override the
// environment.
type Tunables struct {
	PageSize           int           `env:"PAGE_SIZE,default=20" yaml:"page_size"`
	BackendTimeout     time.Duration `env:"BACKEND_TIMEOUT,default=10s" yaml:"backend_timeout"`
	ExclusionCacheTTL  time.Duration `env:"EXCLUSION_CACHE_TTL,default=30s" yaml:"exclusion_cache_ttl"`
	RepairSchedule     string        `env:"REPAIR_SCHEDULE,default=@every 5m" yaml:"repair_schedule"`
	MutationRatePerSec float64       `env:"MUTATION_RATE_PER_SEC,default=5" yaml:"mutation_rate_per_sec"`
	MutationBurst      int           `env:"MUTATION_BURST,default=10" yaml:"mutation_burst"`
	StatsFilterBlocked bool          `env:"STATS_FILTER_BLOCKED,default=false" yaml:"stats_filter_blocked"`
	RealtimeHeartbeat  time.Duration `env:"REALTIME_HEARTBEAT,default=30s" yaml:"realtime_heartbeat"`
	CORSOrigins        []string      `env:"CORS_ORIGINS" yaml:"cors_origins"`
}

// Load reads .env when present, decodes the environment and applies the
// YAML overlay named by CONFIG_FILE.
func Load() (*Config, error) {
	return LoadFrom(".env")
}

// LoadFrom is Load with an explicit .env path. A missing file is not an error.
func LoadFrom(envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load env (%s): %w", envFile, err)
			}
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if cfg.ConfigFile != "" {
		if err := cfg.applyFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &c.Tunables); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// Validate checks that the selected backend is fully configured and the
// tunables are in range.
func (c *Config) Validate() error {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	switch c.Backend {
	case BackendSupabase:
		if c.Supabase.URL == "" || c.Supabase.APIKey() == "" {
			return fmt.Errorf("backend supabase requires SUPABASE_URL and SUPABASE_ANON_KEY or SUPABASE_SERVICE_ROLE_KEY")
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("backend postgres requires DATABASE_URL")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	if c.Tunables.PageSize <= 0 || c.Tunables.PageSize > graph.MaxPageSize {
		return fmt.Errorf("page_size must be between 1 and %d", graph.MaxPageSize)
	}
	if c.Tunables.BackendTimeout <= 0 {
		return fmt.Errorf("backend_timeout must be positive")
	}
	if c.Tunables.RepairSchedule == "" {
		return fmt.Errorf("repair_schedule is required")
	}
	if c.Tunables.MutationRatePerSec <= 0 || c.Tunables.MutationBurst <= 0 {
		return fmt.Errorf("mutation rate and burst must be positive")
	}
	return nil
}

// CacheEnabled reports whether the Redis exclusion cache is configured.
func (c *Config) CacheEnabled() bool {
	return c.Redis.Addr != "" && c.Tunables.ExclusionCacheTTL > 0
}
