package relationship

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mindlog/social_layer/internal/domain/graph"
	"github.com/mindlog/social_layer/internal/logging"
	"github.com/mindlog/social_layer/internal/metrics"
)

// Invalidator drops cached visibility state for users whose blocks changed.
type Invalidator interface {
	Invalidate(ctx context.Context, userIDs ...string) error
}

// CascadeResult describes a recorded block. Warning is set when a follow
// deletion failed; the block itself stands.
type CascadeResult struct {
	Blocker string
	Blocked string
	Warning *graph.PartialCascadeError
}

// Cascade records blocks and severs follow edges in both directions.
type Cascade struct {
	store       *Store
	repairs     RepairQueue
	invalidator Invalidator
	metrics     *metrics.Metrics
	log         *logrus.Entry
}

// NewCascade creates a Cascade. repairs and m may be nil.
func NewCascade(store *Store, repairs RepairQueue, m *metrics.Metrics, logger *logging.Logger) *Cascade {
	return &Cascade{
		store:   store,
		repairs: repairs,
		metrics: m,
		log:     logging.OrDiscard(logger).Component("relationship.cascade"),
	}
}

// SetInvalidator registers the exclusion cache to clear after block changes.
func (c *Cascade) SetInvalidator(inv Invalidator) {
	c.invalidator = inv
}

// ApplyBlock records blocker blocking blocked, then deletes the follow edges
// in both directions concurrently. Only a failure to record the block is
// returned as an error.
func (c *Cascade) ApplyBlock(ctx context.Context, blocker, blocked string) (CascadeResult, error) {
	result := CascadeResult{Blocker: blocker, Blocked: blocked}
	if err := c.store.CreateEdge(ctx, graph.KindBlock, blocker, blocked); err != nil {
		return result, fmt.Errorf("record block: %w", err)
	}

	directions := [2]struct {
		follower, following, label string
	}{
		{blocker, blocked, "blocker_follows_blocked"},
		{blocked, blocker, "blocked_follows_blocker"},
	}
	var errs [2]error

	// Deletions run independently; one failing must not cancel the other.
	var g errgroup.Group
	for i, d := range directions {
		i, d := i, d
		g.Go(func() error {
			errs[i] = c.store.DeleteEdge(ctx, graph.KindFollow, d.follower, d.following)
			return nil
		})
	}
	_ = g.Wait()

	var failures []graph.CascadeFailure
	for i, err := range errs {
		if err == nil {
			continue
		}
		d := directions[i]
		failures = append(failures, graph.CascadeFailure{Follower: d.follower, Following: d.following, Err: err})
		c.metrics.RecordCascadeFailure(d.label)
		c.log.WithContext(ctx).WithError(err).WithFields(logrus.Fields{
			"blocker":   blocker,
			"blocked":   blocked,
			"follower":  d.follower,
			"following": d.following,
		}).Warn("cascade unfollow failed; queued for repair")
	}
	if len(failures) > 0 {
		result.Warning = &graph.PartialCascadeError{Blocker: blocker, Blocked: blocked, Failures: failures}
		if c.repairs != nil {
			c.repairs.Enqueue(blocker, blocked)
		}
	}

	c.invalidate(ctx, blocker, blocked)
	return result, nil
}

// RemoveBlock deletes the block edge only. Follow edges removed by the
// cascade are never restored.
func (c *Cascade) RemoveBlock(ctx context.Context, blocker, blocked string) error {
	if err := c.store.DeleteEdge(ctx, graph.KindBlock, blocker, blocked); err != nil {
		return fmt.Errorf("remove block: %w", err)
	}
	c.invalidate(ctx, blocker, blocked)
	return nil
}

func (c *Cascade) invalidate(ctx context.Context, userIDs ...string) {
	if c.invalidator == nil {
		return
	}
	if err := c.invalidator.Invalidate(ctx, userIDs...); err != nil {
		c.log.WithContext(ctx).WithError(err).Warn("exclusion cache invalidation failed")
	}
}
