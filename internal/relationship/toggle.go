package relationship

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mindlog/social_layer/internal/domain/graph"
	"github.com/mindlog/social_layer/internal/logging"
	"github.com/mindlog/social_layer/internal/metrics"
)

// ToggleView is the state a caller renders for one toggle: whether the edge
// exists and the target's counter (followers for follow, reposts for repost;
// zero for block and mute).
type ToggleView struct {
	Kind    graph.EdgeKind             `json:"kind"`
	Target  string                     `json:"target"`
	Active  bool                       `json:"active"`
	Count   int                        `json:"count"`
	Warning *graph.PartialCascadeError `json:"-"`
}

type toggleKey struct {
	kind   graph.EdgeKind
	viewer string
	target string
}

// Toggler applies follow, block, mute and repost changes for a viewer. At
// most one change per (kind, viewer, target) runs at a time; a concurrent
// call fails with graph.ErrToggleInFlight.
type Toggler struct {
	store   *Store
	cascade *Cascade
	metrics *metrics.Metrics
	log     *logrus.Entry

	mu       sync.Mutex
	inflight map[toggleKey]struct{}
}

// NewToggler creates a Toggler. Block changes go through cascade.
func NewToggler(store *Store, cascade *Cascade, m *metrics.Metrics, logger *logging.Logger) *Toggler {
	return &Toggler{
		store:    store,
		cascade:  cascade,
		metrics:  m,
		log:      logging.OrDiscard(logger).Component("relationship.toggle"),
		inflight: make(map[toggleKey]struct{}),
	}
}

func (t *Toggler) acquire(k toggleKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.inflight[k]; busy {
		return false
	}
	t.inflight[k] = struct{}{}
	return true
}

func (t *Toggler) release(k toggleKey) {
	t.mu.Lock()
	delete(t.inflight, k)
	t.mu.Unlock()
}

// InFlight reports whether a change for the edge is running.
func (t *Toggler) InFlight(kind graph.EdgeKind, viewer, target string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, busy := t.inflight[toggleKey{kind, viewer, target}]
	return busy
}

// View reads the current state of one toggle.
func (t *Toggler) View(ctx context.Context, kind graph.EdgeKind, viewer, target string) (ToggleView, error) {
	if viewer == "" {
		return ToggleView{}, graph.ErrNoViewer
	}
	active, err := t.store.HasEdge(ctx, kind, viewer, target)
	if err != nil {
		return ToggleView{}, err
	}
	count, err := t.count(ctx, kind, target)
	if err != nil {
		return ToggleView{}, err
	}
	return ToggleView{Kind: kind, Target: target, Active: active, Count: count}, nil
}

// Toggle flips the edge from viewer to target. When observe is non-nil it
// receives the optimistic view before the write, then the original view
// again if the write fails.
func (t *Toggler) Toggle(ctx context.Context, kind graph.EdgeKind, viewer, target string, observe func(ToggleView)) (ToggleView, error) {
	return t.run(ctx, kind, viewer, target, nil, observe)
}

// Set makes the edge exist (on) or not. Setting the current state is a no-op
// write that still returns the view.
func (t *Toggler) Set(ctx context.Context, kind graph.EdgeKind, viewer, target string, on bool) (ToggleView, error) {
	return t.run(ctx, kind, viewer, target, &on, nil)
}

func (t *Toggler) run(ctx context.Context, kind graph.EdgeKind, viewer, target string, want *bool, observe func(ToggleView)) (ToggleView, error) {
	if viewer == "" {
		return ToggleView{}, graph.ErrNoViewer
	}
	if err := validate(kind, viewer, target); err != nil {
		return ToggleView{}, err
	}

	key := toggleKey{kind, viewer, target}
	if !t.acquire(key) {
		t.metrics.RecordToggle(string(kind), "busy")
		return ToggleView{}, graph.ErrToggleInFlight
	}
	defer t.release(key)

	before, err := t.View(ctx, kind, viewer, target)
	if err != nil {
		t.metrics.RecordToggle(string(kind), "failed")
		return ToggleView{}, err
	}

	next := !before.Active
	if want != nil {
		next = *want
	}
	after := before
	after.Active = next
	if next != before.Active && t.counted(kind) {
		if next {
			after.Count++
		} else if after.Count > 0 {
			after.Count--
		}
	}
	if observe != nil {
		observe(after)
	}

	warning, err := t.write(ctx, kind, viewer, target, next)
	if err != nil {
		if observe != nil {
			observe(before)
		}
		t.metrics.RecordToggle(string(kind), "failed")
		t.log.WithContext(ctx).WithError(err).WithFields(logrus.Fields{
			"kind":   kind,
			"viewer": viewer,
			"target": target,
		}).Warn("toggle failed; reverted")
		return before, err
	}

	after.Warning = warning
	outcome := "off"
	if next {
		outcome = "on"
	}
	t.metrics.RecordToggle(string(kind), outcome)
	return after, nil
}

func (t *Toggler) write(ctx context.Context, kind graph.EdgeKind, viewer, target string, on bool) (*graph.PartialCascadeError, error) {
	if kind == graph.KindBlock && t.cascade != nil {
		if on {
			res, err := t.cascade.ApplyBlock(ctx, viewer, target)
			return res.Warning, err
		}
		return nil, t.cascade.RemoveBlock(ctx, viewer, target)
	}
	if on {
		return nil, t.store.CreateEdge(ctx, kind, viewer, target)
	}
	return nil, t.store.DeleteEdge(ctx, kind, viewer, target)
}

func (t *Toggler) counted(kind graph.EdgeKind) bool {
	return kind == graph.KindFollow || kind == graph.KindRepost
}

func (t *Toggler) count(ctx context.Context, kind graph.EdgeKind, target string) (int, error) {
	if !t.counted(kind) {
		return 0, nil
	}
	n, err := t.store.CountEdges(ctx, kind, target, graph.Incoming)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", kind, err)
	}
	return n, nil
}
