// Package visibility removes users from results when either side of a block
// involves the viewer.
package visibility

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mindlog/social_layer/internal/domain/graph"
	"github.com/mindlog/social_layer/internal/logging"
	"github.com/mindlog/social_layer/internal/metrics"
	"github.com/mindlog/social_layer/internal/relationship"
)

// DefaultCacheTTL bounds how long a cached exclusion set may be served.
const DefaultCacheTTL = 30 * time.Second

// Filter computes exclusion sets from block edges.
type Filter struct {
	store   *relationship.Store
	cache   ExclusionCache
	ttl     time.Duration
	metrics *metrics.Metrics
	log     *logrus.Entry
}

var _ relationship.Invalidator = (*Filter)(nil)

// Option configures a Filter.
type Option func(*Filter)

// WithCache serves exclusion sets from cache for ttl. A non-positive ttl
// uses DefaultCacheTTL.
func WithCache(cache ExclusionCache, ttl time.Duration) Option {
	return func(f *Filter) {
		if ttl <= 0 {
			ttl = DefaultCacheTTL
		}
		f.cache = cache
		f.ttl = ttl
	}
}

// WithMetrics records cache lookups.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Filter) { f.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(f *Filter) { f.log = l.Component("visibility") }
}

// New creates a Filter. Without WithCache every call recomputes the set.
func New(store *relationship.Store, opts ...Option) *Filter {
	f := &Filter{
		store: store,
		log:   logging.Discard().Component("visibility"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ExcludedIDs returns every user the viewer blocks or is blocked by. The two
// directions are read concurrently; an empty viewer excludes nobody.
func (f *Filter) ExcludedIDs(ctx context.Context, viewer string) (graph.Set, error) {
	if viewer == "" {
		return graph.NewSet(), nil
	}

	if f.cache != nil {
		ids, ok, err := f.cache.Get(ctx, viewer)
		switch {
		case err != nil:
			f.metrics.RecordCacheLookup("error")
			f.log.WithContext(ctx).WithError(err).WithField("viewer", viewer).Warn("exclusion cache read failed")
		case ok:
			f.metrics.RecordCacheLookup("hit")
			return graph.NewSet(ids...), nil
		default:
			f.metrics.RecordCacheLookup("miss")
		}
	}

	var blocking, blockedBy []graph.Edge
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		edges, err := f.store.ListEdges(gctx, graph.EdgeQuery{Kind: graph.KindBlock, Anchor: viewer, Direction: graph.Outgoing})
		if err != nil {
			return fmt.Errorf("list blocks by %s: %w", viewer, err)
		}
		blocking = edges
		return nil
	})
	g.Go(func() error {
		edges, err := f.store.ListEdges(gctx, graph.EdgeQuery{Kind: graph.KindBlock, Anchor: viewer, Direction: graph.Incoming})
		if err != nil {
			return fmt.Errorf("list blocks of %s: %w", viewer, err)
		}
		blockedBy = edges
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	excluded := graph.NewSet()
	for _, e := range blocking {
		excluded.Add(e.Target)
	}
	for _, e := range blockedBy {
		excluded.Add(e.Source)
	}

	if f.cache != nil {
		if err := f.cache.Set(ctx, viewer, excluded.Slice(), f.ttl); err != nil {
			f.log.WithContext(ctx).WithError(err).WithField("viewer", viewer).Warn("exclusion cache write failed")
		}
	}
	return excluded, nil
}

// Filter returns ids without excluded users, preserving order.
func (f *Filter) Filter(ctx context.Context, viewer string, ids []string) ([]string, error) {
	if viewer == "" || len(ids) == 0 {
		return ids, nil
	}
	excluded, err := f.ExcludedIDs(ctx, viewer)
	if err != nil {
		return nil, err
	}
	return Apply(excluded, ids), nil
}

// FilterSubject filters ids belonging to a list owned by subject. When the
// subject itself is excluded the whole list is hidden.
func (f *Filter) FilterSubject(ctx context.Context, viewer, subject string, ids []string) ([]string, error) {
	if viewer == "" {
		return ids, nil
	}
	excluded, err := f.ExcludedIDs(ctx, viewer)
	if err != nil {
		return nil, err
	}
	if subject != "" && excluded.Has(subject) {
		return []string{}, nil
	}
	return Apply(excluded, ids), nil
}

// Invalidate drops cached sets for the given users.
func (f *Filter) Invalidate(ctx context.Context, userIDs ...string) error {
	if f.cache == nil || len(userIDs) == 0 {
		return nil
	}
	return f.cache.Delete(ctx, userIDs...)
}

// Apply removes excluded members from ids, preserving order.
func Apply(excluded graph.Set, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !excluded.Has(id) {
			out = append(out, id)
		}
	}
	return out
}
