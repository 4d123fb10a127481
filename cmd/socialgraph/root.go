package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/mindlog/social_layer/internal/config"
	"github.com/mindlog/social_layer/internal/logging"
	"github.com/mindlog/social_layer/internal/metrics"
	"github.com/mindlog/social_layer/internal/storage"
	"github.com/mindlog/social_layer/internal/storage/memory"
	"github.com/mindlog/social_layer/internal/storage/postgres"
	"github.com/mindlog/social_layer/internal/storage/supabase"
	"github.com/mindlog/social_layer/supabase/client"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:           "socialgraph",
	Short:         "Social graph and visibility service over Supabase",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file loaded before the environment is decoded")
	rootCmd.AddCommand(serveCmd, migrateCmd, watchUnreadCmd, listCmd)
}

func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadFrom(envFile)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.New(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat), nil
}

// backend is an opened storage adapter plus the resources it holds.
type backend struct {
	storage.Backend
	supabase *client.Client
	db       *sqlx.DB
}

func (b *backend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// openBackend opens the adapter selected by cfg.Backend. When m is non-nil
// the Supabase client's counters are exported.
func openBackend(ctx context.Context, cfg *config.Config, m *metrics.Metrics, log *logging.Logger) (*backend, error) {
	switch cfg.Backend {
	case config.BackendSupabase:
		c, resilient, err := client.NewEnhanced(client.EnhancedConfig{
			Config: client.Config{
				URL:        cfg.Supabase.URL,
				APIKey:     cfg.Supabase.APIKey(),
				HTTPClient: &http.Client{Timeout: cfg.Tunables.BackendTimeout},
			},
			RetryConfig:          client.DefaultRetryConfig(),
			CircuitBreakerConfig: client.DefaultCircuitBreakerConfig(),
		})
		if err != nil {
			return nil, fmt.Errorf("supabase client: %w", err)
		}
		if m != nil {
			m.RegisterBackend(config.BackendSupabase, func() metrics.BackendStats {
				s := resilient.Stats()
				stats := metrics.BackendStats{Total: s.Total, Success: s.Success, Failed: s.Failed, Retried: s.Retried}
				if resilient.CircuitState() == client.CircuitOpen {
					stats.CircuitOpen = 1
				}
				return stats
			})
		}
		log.Component("backend").WithField("url", cfg.Supabase.URL).Info("using supabase backend")
		return &backend{Backend: supabase.New(c), supabase: c}, nil

	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxOpenConns)
		if err != nil {
			return nil, err
		}
		log.Component("backend").Info("using postgres backend")
		return &backend{Backend: postgres.New(db), db: db}, nil

	default:
		log.Component("backend").Warn("using in-memory backend; data is lost on exit")
		return &backend{Backend: memory.New()}, nil
	}
}

func withTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
