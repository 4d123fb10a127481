package listing

import (
	"context"
	"sync"

	"github.com/mindlog/social_layer/internal/domain/graph"
)

// Ticket identifies one page request made through an Accumulator.
type Ticket struct {
	generation uint64
	cursor     graph.Cursor
}

// Cursor is the cursor the request must be made with.
func (t Ticket) Cursor() graph.Cursor { return t.cursor }

// Accumulator collects consecutive pages of one list for one viewer, the
// way an infinite-scroll view does. It de-duplicates by user ID, ignores
// responses that arrive after a newer request or a reset, and keeps its
// items when a page fails.
type Accumulator struct {
	viewer string
	list   string

	mu         sync.Mutex
	generation uint64
	items      []graph.UserSummary
	seen       graph.Set
	next       graph.Cursor
	hasMore    bool
	lastErr    error
}

// NewAccumulator creates an empty accumulator for the list key.
func NewAccumulator(viewer, list string) *Accumulator {
	return &Accumulator{
		viewer:  viewer,
		list:    list,
		seen:    graph.NewSet(),
		hasMore: true,
	}
}

// Key returns the viewer and list this accumulator belongs to.
func (a *Accumulator) Key() (viewer, list string) { return a.viewer, a.list }

// Begin starts a request for the next page.
func (a *Accumulator) Begin() Ticket {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Ticket{generation: a.generation, cursor: a.next}
}

// Apply merges the result of the request identified by t. It reports false
// when the response is stale and was discarded.
func (a *Accumulator) Apply(t Ticket, page graph.Page, err error) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if t.generation != a.generation || t.cursor != a.next {
		return false
	}
	if err != nil {
		a.lastErr = err
		return true
	}

	a.lastErr = nil
	for _, item := range page.Items {
		if a.seen.Has(item.ID) {
			continue
		}
		a.seen.Add(item.ID)
		a.items = append(a.items, item)
	}
	a.hasMore = page.HasMore
	a.next = page.NextCursor
	// A page with no next cursor ends the list even if HasMore was set.
	if a.next == "" {
		a.hasMore = false
	}
	return true
}

// Reset drops all items and invalidates outstanding requests.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.generation++
	a.items = nil
	a.seen = graph.NewSet()
	a.next = ""
	a.hasMore = true
	a.lastErr = nil
}

// Items returns a copy of the accumulated items.
func (a *Accumulator) Items() []graph.UserSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]graph.UserSummary, len(a.items))
	copy(out, a.items)
	return out
}

// HasMore reports whether another page may exist.
func (a *Accumulator) HasMore() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hasMore
}

// Err returns the error of the last applied request.
func (a *Accumulator) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// LoadMore fetches and applies the next page of src.
func (a *Accumulator) LoadMore(ctx context.Context, asm *Assembler, src EdgeSource, limit int) error {
	if !a.HasMore() {
		return nil
	}
	t := a.Begin()
	page, err := asm.Assemble(ctx, src, a.viewer, t.Cursor(), limit)
	a.Apply(t, page, err)
	return err
}

// Refresh resets the accumulator and loads the first page.
func (a *Accumulator) Refresh(ctx context.Context, asm *Assembler, src EdgeSource, limit int) error {
	a.Reset()
	return a.LoadMore(ctx, asm, src, limit)
}
