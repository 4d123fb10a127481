// Package poststats computes reply and like counters for a batch of posts,
// personalized for an optional viewer.
package poststats

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mindlog/social_layer/internal/domain/graph"
	"github.com/mindlog/social_layer/internal/logging"
	"github.com/mindlog/social_layer/internal/metrics"
	"github.com/mindlog/social_layer/internal/storage"
)

// Excluder returns the users hidden from a viewer.
type Excluder interface {
	ExcludedIDs(ctx context.Context, viewer string) (graph.Set, error)
}

// Aggregator runs the stats queries for a batch of posts.
type Aggregator struct {
	posts    storage.PostStore
	excluder Excluder
	metrics  *metrics.Metrics
	log      *logrus.Entry
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// FilterBlocked makes counts ignore replies and likes from users excluded
// for the viewer.
func FilterBlocked(ex Excluder) Option {
	return func(a *Aggregator) { a.excluder = ex }
}

// WithMetrics records aggregation durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *Aggregator) { a.log = l.Component("poststats") }
}

// New creates an Aggregator.
func New(posts storage.PostStore, opts ...Option) *Aggregator {
	a := &Aggregator{
		posts: posts,
		log:   logging.Discard().Component("poststats"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate returns stats for every post in postIDs. Posts without replies
// or likes are present with zero counts. The reply and like queries always
// run; the two viewer queries run only when viewer is set. All of them run
// concurrently.
func (a *Aggregator) Aggregate(ctx context.Context, postIDs []string, viewer string) (map[string]graph.PostStats, error) {
	ids := graph.Dedupe(postIDs)
	if len(ids) == 0 {
		return nil, graph.ErrNoPosts
	}
	start := time.Now()

	var (
		replies, likes     []graph.Interaction
		viewerLiked        []string
		viewerReplied      []string
		excluded           graph.Set
		filterInteractions = a.excluder != nil && viewer != ""
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := a.posts.RepliesTo(gctx, ids)
		if err != nil {
			return fmt.Errorf("replies: %w", err)
		}
		replies = rows
		return nil
	})
	g.Go(func() error {
		rows, err := a.posts.LikesOf(gctx, ids)
		if err != nil {
			return fmt.Errorf("likes: %w", err)
		}
		likes = rows
		return nil
	})
	if viewer != "" {
		g.Go(func() error {
			liked, err := a.posts.LikedBy(gctx, viewer, ids)
			if err != nil {
				return fmt.Errorf("viewer likes: %w", err)
			}
			viewerLiked = liked
			return nil
		})
		g.Go(func() error {
			replied, err := a.posts.RepliedBy(gctx, viewer, ids)
			if err != nil {
				return fmt.Errorf("viewer replies: %w", err)
			}
			viewerReplied = replied
			return nil
		})
	}
	if filterInteractions {
		g.Go(func() error {
			set, err := a.excluder.ExcludedIDs(gctx, viewer)
			if err != nil {
				return fmt.Errorf("excluded ids: %w", err)
			}
			excluded = set
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		a.log.WithContext(ctx).WithError(err).WithField("posts", len(ids)).Warn("post stats failed")
		return nil, err
	}

	stats := make(map[string]graph.PostStats, len(ids))
	for _, id := range ids {
		stats[id] = graph.PostStats{}
	}
	for _, r := range replies {
		if filterInteractions && excluded.Has(r.UserID) {
			continue
		}
		if s, ok := stats[r.PostID]; ok {
			s.RepliesCount++
			stats[r.PostID] = s
		}
	}
	for _, l := range likes {
		if filterInteractions && excluded.Has(l.UserID) {
			continue
		}
		if s, ok := stats[l.PostID]; ok {
			s.LikesCount++
			stats[l.PostID] = s
		}
	}
	for _, id := range viewerLiked {
		if s, ok := stats[id]; ok {
			s.IsLikedByViewer = true
			stats[id] = s
		}
	}
	for _, id := range viewerReplied {
		if s, ok := stats[id]; ok {
			s.HasRepliedByViewer = true
			stats[id] = s
		}
	}

	a.metrics.RecordAggregate(time.Since(start))
	return stats, nil
}
