package relationship

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/mindlog/social_layer/internal/domain/graph"
	"github.com/mindlog/social_layer/internal/logging"
	"github.com/mindlog/social_layer/internal/metrics"
)

const repairRunTimeout = time.Minute

type pairKey struct {
	blocker string
	blocked string
}

// Repairer retries follow deletions the cascade could not complete. Pairs
// are swept on a cron schedule and whenever RunOnce is called.
type Repairer struct {
	store   *Store
	metrics *metrics.Metrics
	log     *logrus.Entry

	mu       sync.Mutex
	pending  map[pairKey]int
	running  bool
	schedule *cron.Cron
}

// NewRepairer creates an idle Repairer.
func NewRepairer(store *Store, m *metrics.Metrics, logger *logging.Logger) *Repairer {
	return &Repairer{
		store:   store,
		metrics: m,
		log:     logging.OrDiscard(logger).Component("relationship.repair"),
		pending: make(map[pairKey]int),
	}
}

// Enqueue records a block pair whose follow edges must be re-checked.
func (r *Repairer) Enqueue(blocker, blocked string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := pairKey{blocker, blocked}
	if _, ok := r.pending[key]; !ok {
		r.pending[key] = 0
	}
}

// Pending returns the number of queued pairs.
func (r *Repairer) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// RunOnce sweeps the queue. A pair leaves the queue when both follow edges
// are gone or the block no longer exists. Overlapping sweeps are skipped.
func (r *Repairer) RunOnce(ctx context.Context) (fixed int, err error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return 0, nil
	}
	r.running = true
	keys := make([]pairKey, 0, len(r.pending))
	for k := range r.pending {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	var firstErr error
	for _, k := range keys {
		if ctx.Err() != nil {
			return fixed, ctx.Err()
		}
		done, err := r.repair(ctx, k)

		r.mu.Lock()
		switch {
		case err != nil:
			r.pending[k]++
		case done:
			delete(r.pending, k)
		}
		attempts := r.pending[k]
		remaining := len(r.pending)
		r.mu.Unlock()

		if err != nil {
			r.metrics.RecordRepair("failed", remaining)
			r.log.WithError(err).WithFields(logrus.Fields{
				"blocker":  k.blocker,
				"blocked":  k.blocked,
				"attempts": attempts,
			}).Warn("cascade repair failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		fixed++
		r.metrics.RecordRepair("fixed", remaining)
	}
	return fixed, firstErr
}

func (r *Repairer) repair(ctx context.Context, k pairKey) (bool, error) {
	blocked, err := r.store.HasEdge(ctx, graph.KindBlock, k.blocker, k.blocked)
	if err != nil {
		return false, fmt.Errorf("check block: %w", err)
	}
	if !blocked {
		return true, nil
	}
	if err := r.store.DeleteEdge(ctx, graph.KindFollow, k.blocker, k.blocked); err != nil {
		return false, err
	}
	if err := r.store.DeleteEdge(ctx, graph.KindFollow, k.blocked, k.blocker); err != nil {
		return false, err
	}
	return true, nil
}

// Start runs RunOnce on schedule, a robfig/cron expression such as "@every 5m".
func (r *Repairer) Start(schedule string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.schedule != nil {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), repairRunTimeout)
		defer cancel()
		if fixed, err := r.RunOnce(ctx); fixed > 0 || err != nil {
			r.log.WithField("fixed", fixed).WithError(err).Info("cascade repair sweep finished")
		}
	}); err != nil {
		return fmt.Errorf("repair schedule %q: %w", schedule, err)
	}
	c.Start()
	r.schedule = c
	r.log.WithField("schedule", schedule).Info("cascade repair scheduled")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Repairer) Stop() {
	r.mu.Lock()
	c := r.schedule
	r.schedule = nil
	r.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
