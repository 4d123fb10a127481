// Package relationship owns the follow, block, mute and repost edges: the
// idempotent store over a backend, the block cascade that severs follows,
// the lazy cascade repairer and the guarded toggles.
package relationship

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mindlog/social_layer/internal/domain/graph"
	"github.com/mindlog/social_layer/internal/logging"
	"github.com/mindlog/social_layer/internal/storage"
)

// RepairQueue receives block pairs whose follow edges still need removing.
type RepairQueue interface {
	Enqueue(blocker, blocked string)
}

// Store is the relationship graph over a storage.EdgeStore. It holds no
// client-side lock; concurrent writers rely on the backend's unique keys.
type Store struct {
	edges   storage.EdgeStore
	log     *logrus.Entry
	repairs RepairQueue
}

// NewStore creates a Store.
func NewStore(edges storage.EdgeStore, logger *logging.Logger) *Store {
	return &Store{
		edges: edges,
		log:   logging.OrDiscard(logger).Component("relationship.store"),
	}
}

// SetRepairQueue makes Relationship enqueue follow edges it finds across a
// block.
func (s *Store) SetRepairQueue(q RepairQueue) {
	s.repairs = q
}

func validate(kind graph.EdgeKind, a, b string) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", graph.ErrInvalidKind, kind)
	}
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return graph.ErrMissingID
	}
	if kind.UserToUser() && a == b {
		return graph.ErrSelfEdge
	}
	return nil
}

// HasEdge reports whether edge (a, b) of kind exists.
func (s *Store) HasEdge(ctx context.Context, kind graph.EdgeKind, a, b string) (bool, error) {
	if err := validate(kind, a, b); err != nil {
		if errors.Is(err, graph.ErrSelfEdge) {
			return false, nil
		}
		return false, err
	}
	return s.edges.EdgeExists(ctx, kind, a, b)
}

// ListEdges returns one page of edges newest first. A non-positive limit
// returns every edge.
func (s *Store) ListEdges(ctx context.Context, q graph.EdgeQuery) ([]graph.Edge, error) {
	if !q.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", graph.ErrInvalidKind, q.Kind)
	}
	if strings.TrimSpace(q.Anchor) == "" {
		return nil, graph.ErrMissingID
	}
	if _, err := q.Cursor.Offset(); err != nil {
		return nil, err
	}
	return s.edges.ListEdges(ctx, q)
}

// CountEdges returns the exact number of edges anchored at anchor.
func (s *Store) CountEdges(ctx context.Context, kind graph.EdgeKind, anchor string, dir graph.Direction) (int, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: %q", graph.ErrInvalidKind, kind)
	}
	if strings.TrimSpace(anchor) == "" {
		return 0, graph.ErrMissingID
	}
	return s.edges.CountEdges(ctx, kind, anchor, dir)
}

// CreateEdge inserts (a, b). An existing edge is success. A follow is
// rejected with graph.ErrBlocked while a block exists in either direction.
func (s *Store) CreateEdge(ctx context.Context, kind graph.EdgeKind, a, b string) error {
	if err := validate(kind, a, b); err != nil {
		return err
	}
	if kind == graph.KindFollow {
		blocked, err := s.blockedEitherWay(ctx, a, b)
		if err != nil {
			return err
		}
		if blocked {
			return fmt.Errorf("follow %s->%s: %w", a, b, graph.ErrBlocked)
		}
	}
	_, err := s.edges.InsertEdge(ctx, kind, a, b)
	if errors.Is(err, graph.ErrUniqueViolation) {
		s.log.WithFields(logrus.Fields{"kind": kind, "source": a, "target": b}).Debug("edge already exists")
		return nil
	}
	return err
}

func (s *Store) blockedEitherWay(ctx context.Context, a, b string) (bool, error) {
	var ab, ba bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ok, err := s.edges.EdgeExists(gctx, graph.KindBlock, a, b)
		if err != nil {
			return fmt.Errorf("check block %s->%s: %w", a, b, err)
		}
		ab = ok
		return nil
	})
	g.Go(func() error {
		ok, err := s.edges.EdgeExists(gctx, graph.KindBlock, b, a)
		if err != nil {
			return fmt.Errorf("check block %s->%s: %w", b, a, err)
		}
		ba = ok
		return nil
	})
	if err := g.Wait(); err != nil {
		return false, err
	}
	return ab || ba, nil
}

// DeleteEdge removes (a, b). A missing edge is success.
func (s *Store) DeleteEdge(ctx context.Context, kind graph.EdgeKind, a, b string) error {
	if err := validate(kind, a, b); err != nil {
		return err
	}
	return s.edges.DeleteEdge(ctx, kind, a, b)
}

// Relationship reads every edge between viewer and target concurrently.
// A follow found across a block is reported as absent and queued for repair.
func (s *Store) Relationship(ctx context.Context, viewer, target string) (graph.Relationship, error) {
	var rel graph.Relationship
	if err := validate(graph.KindFollow, viewer, target); err != nil {
		if errors.Is(err, graph.ErrSelfEdge) {
			return rel, nil
		}
		return rel, err
	}

	checks := []struct {
		kind graph.EdgeKind
		a, b string
		dst  *bool
	}{
		{graph.KindFollow, viewer, target, &rel.Following},
		{graph.KindFollow, target, viewer, &rel.FollowedBy},
		{graph.KindBlock, viewer, target, &rel.Blocking},
		{graph.KindBlock, target, viewer, &rel.BlockedBy},
		{graph.KindMute, viewer, target, &rel.Muting},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range checks {
		c := c
		g.Go(func() error {
			ok, err := s.edges.EdgeExists(gctx, c.kind, c.a, c.b)
			if err != nil {
				return fmt.Errorf("check %s %s->%s: %w", c.kind, c.a, c.b, err)
			}
			*c.dst = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return graph.Relationship{}, err
	}

	if rel.Blocked() && (rel.Following || rel.FollowedBy) {
		blocker, blocked := viewer, target
		if !rel.Blocking {
			blocker, blocked = target, viewer
		}
		s.log.WithFields(logrus.Fields{"blocker": blocker, "blocked": blocked}).Warn("follow edge found across block")
		if s.repairs != nil {
			s.repairs.Enqueue(blocker, blocked)
		}
		rel.Following, rel.FollowedBy = false, false
	}
	return rel, nil
}
