package listing

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
	"github.com/mindlog/social_layer/internal/visibility"
)

// Excluder returns the users hidden from a viewer.
type Excluder interface {
	ExcludedIDs(ctx context.Context, viewer string) (graph.Set, error)
}

// Assembler builds list pages: fetch raw IDs, drop excluded users, hydrate
// profiles and restore edge order.
type Assembler struct {
	profiles storage.ProfileStore
	excluder Excluder
	metrics  *metrics.Metrics
	log      *logrus.Entry
}

// NewAssembler creates an Assembler. m and logger may be nil.
func NewAssembler(profiles storage.ProfileStore, excluder Excluder, m *metrics.Metrics, logger *logging.Logger) *Assembler {
	return &Assembler{
		profiles: profiles,
		excluder: excluder,
		metrics:  m,
		log:      logging.OrDiscard(logger).Component("listing"),
	}
}

// Assemble returns one page of src as seen by viewer. Filtered rows are not
// backfilled, so a page may hold fewer than limit items while HasMore is
// still true. A list whose owner is hidden from viewer is one empty, final
// page.
func (a *Assembler) Assemble(ctx context.Context, src EdgeSource, viewer string, cursor graph.Cursor, limit int) (graph.Page, error) {
	start := time.Now()
	offset, err := cursor.Offset()
	if err != nil {
		return graph.Page{}, err
	}
	limit = graph.NormalizeLimit(limit)

	var (
		raw      []string
		subject  string
		excluded = graph.NewSet()
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ids, err := src.Fetch(gctx, offset, limit)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", src.Name(), err)
		}
		raw = ids
		return nil
	})
	if viewer != "" {
		g.Go(func() error {
			set, err := a.excluder.ExcludedIDs(gctx, viewer)
			if err != nil {
				return fmt.Errorf("excluded ids: %w", err)
			}
			excluded = set
			return nil
		})
		g.Go(func() error {
			s, err := src.Subject(gctx)
			if err != nil {
				return err
			}
			subject = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		a.log.WithContext(ctx).WithError(err).WithField("source", src.Name()).Warn("list page failed")
		return graph.Page{}, err
	}

	if len(raw) == 0 {
		a.metrics.RecordAssemble(src.Name(), time.Since(start), 0)
		return graph.Page{Items: []graph.UserSummary{}}, nil
	}

	page := graph.Page{Items: []graph.UserSummary{}}
	if len(raw) == limit {
		page.HasMore = true
		page.NextCursor = graph.OffsetCursor(offset + len(raw))
	}

	visible := raw
	if subject != "" && excluded.Has(subject) {
		visible = nil
		page.HasMore = false
		page.NextCursor = ""
	} else if len(excluded) > 0 {
		visible = visibility.Apply(excluded, raw)
	}
	visible = graph.Dedupe(visible)

	if len(visible) > 0 {
		profiles, err := a.profiles.ProfilesByIDs(ctx, visible)
		if err != nil {
			return graph.Page{}, fmt.Errorf("hydrate %s: %w", src.Name(), err)
		}
		page.Items = Reproject(visible, profiles)
	}

	a.metrics.RecordAssemble(src.Name(), time.Since(start), len(raw)-len(page.Items))
	return page, nil
}

// Reproject orders profiles by ids. IDs without a profile are dropped.
func Reproject(ids []string, profiles []graph.UserSummary) []graph.UserSummary {
	byID := make(map[string]graph.UserSummary, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}
	out := make([]graph.UserSummary, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out
}
