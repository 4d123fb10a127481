package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mindlog/social_layer/internal/app"
	"github.com/mindlog/social_layer/internal/httpapi"
	"github.com/mindlog/social_layer/internal/metrics"
	"github.com/mindlog/social_layer/internal/middleware"
	"github.com/mindlog/social_layer/internal/session"
	"github.com/mindlog/social_layer/internal/visibility"
)

const (
	shutdownTimeout     = 15 * time.Second
	limiterCleanupEvery = 10 * time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		m := metrics.New()
		openCtx, cancel := withTimeout(cfg.Tunables.BackendTimeout)
		b, err := openBackend(openCtx, cfg, m, log)
		cancel()
		if err != nil {
			return err
		}
		defer b.Close()

		opts := app.Options{
			Metrics:        m,
			Logger:         log,
			FilterStats:    cfg.Tunables.StatsFilterBlocked,
			RepairSchedule: cfg.Tunables.RepairSchedule,
		}
		if cfg.CacheEnabled() {
			dialCtx, cancel := withTimeout(cfg.Tunables.BackendTimeout)
			rdb, err := visibility.DialRedis(dialCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			cancel()
			if err != nil {
				log.WithContext(ctx).WithError(err).Warn("exclusion cache disabled")
			} else {
				defer rdb.Close()
				opts.Cache = visibility.NewRedisCache(rdb, cfg.ServiceName+":")
				opts.CacheTTL = cfg.Tunables.ExclusionCacheTTL
			}
		}

		application := app.New(b, opts)
		if err := application.Start(ctx); err != nil {
			return err
		}

		var auth *middleware.AuthMiddleware
		if cfg.Supabase.JWTSecret != "" {
			auth = middleware.NewAuthMiddleware(session.NewVerifier(cfg.Supabase.JWTSecret, session.Audience), log, []string{"/health", "/metrics"})
		} else {
			log.WithContext(ctx).Warn("SUPABASE_JWT_SECRET not set; every request is anonymous")
		}
		limiter := middleware.NewRateLimiter(cfg.Tunables.MutationRatePerSec, cfg.Tunables.MutationBurst, log)
		limiter.StartCleanup(limiterCleanupEvery, ctx.Done())

		server := &http.Server{
			Addr: cfg.HTTPAddr,
			Handler: httpapi.NewHandler(application.APIServices(), httpapi.Options{
				ServiceName: cfg.ServiceName,
				Auth:        auth,
				RateLimiter: limiter,
				CORSOrigins: cfg.Tunables.CORSOrigins,
				PageSize:    cfg.Tunables.PageSize,
				Timeout:     cfg.Tunables.BackendTimeout,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.WithContext(ctx).WithField("addr", cfg.HTTPAddr).WithField("backend", cfg.Backend).Info("listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return err
			}
		case <-ctx.Done():
		}

		log.WithContext(ctx).Info("shutting down")
		shutdownCtx, cancel := withTimeout(shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithContext(shutdownCtx).WithError(err).Warn("http shutdown")
		}
		return application.Stop(shutdownCtx)
	},
}
