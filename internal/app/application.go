package app

import (
	"context"
	"time"

	"github.com/mindlog/social_layer/internal/httpapi"
	"github.com/mindlog/social_layer/internal/listing"
	"github.com/mindlog/social_layer/internal/logging"
	"github.com/mindlog/social_layer/internal/metrics"
	"github.com/mindlog/social_layer/internal/poststats"
	"github.com/mindlog/social_layer/internal/relationship"
	"github.com/mindlog/social_layer/internal/storage"
	"github.com/mindlog/social_layer/internal/storage/memory"
	"github.com/mindlog/social_layer/internal/visibility"
)

// Options tune how the application is assembled.
type Options struct {
	Metrics *metrics.Metrics
	Logger  *logging.Logger

	// Cache enables the exclusion set cache when non-nil.
	Cache    visibility.ExclusionCache
	CacheTTL time.Duration

	// FilterStats drops blocked users from post stats.
	FilterStats bool

	// RepairSchedule is the cron expression of the cascade repair sweep. Empty
	// disables the schedule; queued pairs are still repaired on RunOnce.
	RepairSchedule string
}

// Application ties the social graph components together and manages their
// lifecycle.
type Application struct {
	Backend    storage.Backend
	Store      *relationship.Store
	Repairer   *relationship.Repairer
	Cascade    *relationship.Cascade
	Visibility *visibility.Filter
	Toggler    *relationship.Toggler
	Assembler  *listing.Assembler
	Stats      *poststats.Aggregator

	metrics        *metrics.Metrics
	log            *logging.Logger
	repairSchedule string
}

// New builds a fully wired application. A nil backend defaults to the
// in-memory store.
func New(backend storage.Backend, opts Options) *Application {
	if backend == nil {
		backend = memory.New()
	}
	log := logging.OrDiscard(opts.Logger)

	store := relationship.NewStore(backend, log)
	repairer := relationship.NewRepairer(store, opts.Metrics, log)
	store.SetRepairQueue(repairer)
	cascade := relationship.NewCascade(store, repairer, opts.Metrics, log)

	filterOpts := []visibility.Option{visibility.WithMetrics(opts.Metrics), visibility.WithLogger(log)}
	if opts.Cache != nil {
		filterOpts = append(filterOpts, visibility.WithCache(opts.Cache, opts.CacheTTL))
	}
	filter := visibility.New(store, filterOpts...)
	cascade.SetInvalidator(filter)

	statsOpts := []poststats.Option{poststats.WithMetrics(opts.Metrics), poststats.WithLogger(log)}
	if opts.FilterStats {
		statsOpts = append(statsOpts, poststats.FilterBlocked(filter))
	}

	return &Application{
		Backend:        backend,
		Store:          store,
		Repairer:       repairer,
		Cascade:        cascade,
		Visibility:     filter,
		Toggler:        relationship.NewToggler(store, cascade, opts.Metrics, log),
		Assembler:      listing.NewAssembler(backend, filter, opts.Metrics, log),
		Stats:          poststats.New(backend, statsOpts...),
		metrics:        opts.Metrics,
		log:            log,
		repairSchedule: opts.RepairSchedule,
	}
}

// Start launches the background repair schedule.
func (a *Application) Start(ctx context.Context) error {
	if a.repairSchedule == "" {
		return nil
	}
	return a.Repairer.Start(a.repairSchedule)
}

// Stop halts the repair schedule and runs a final sweep over queued pairs.
func (a *Application) Stop(ctx context.Context) error {
	a.Repairer.Stop()
	if a.Repairer.Pending() == 0 {
		return nil
	}
	fixed, err := a.Repairer.RunOnce(ctx)
	a.log.WithContext(ctx).WithField("fixed", fixed).WithField("pending", a.Repairer.Pending()).Info("final cascade repair sweep")
	return err
}

// APIServices returns the components the HTTP handlers call.
func (a *Application) APIServices() httpapi.Services {
	return httpapi.Services{
		Store:     a.Store,
		Toggler:   a.Toggler,
		Assembler: a.Assembler,
		Stats:     a.Stats,
		Posts:     a.Backend,
		Unread:    a.Backend,
		Metrics:   a.metrics,
		Logger:    a.log,
	}
}
