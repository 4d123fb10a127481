package listing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindlog/social_layer/internal/domain/graph"
	"github.com/mindlog/social_layer/internal/metrics"
	"github.com/mindlog/social_layer/internal/relationship"
	"github.com/mindlog/social_layer/internal/storage/memory"
	"github.com/mindlog/social_layer/internal/visibility"
)

type fixture struct {
	backend *memory.Store
	store   *relationship.Store
	cascade *relationship.Cascade
	asm     *Assembler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := memory.New()
	var mu sync.Mutex
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	backend.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	})
	store := relationship.NewStore(backend, nil)
	return &fixture{
		backend: backend,
		store:   store,
		cascade: relationship.NewCascade(store, nil, nil, nil),
		asm:     NewAssembler(backend, visibility.New(store), metrics.New(), nil),
	}
}

func (f *fixture) users(ids ...string) {
	for _, id := range ids {
		f.backend.PutProfile(graph.UserSummary{ID: id, DisplayName: "user " + id})
	}
}

func (f *fixture) follow(t *testing.T, a, b string) {
	t.Helper()
	require.NoError(t, f.store.CreateEdge(context.Background(), graph.KindFollow, a, b))
}

func ids(items []graph.UserSummary) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestAssembleKeepsEdgeOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.users("x", "zed", "mia", "amy", "viewer")

	// Oldest first, so amy is T3 and zed is T1.
	f.follow(t, "amy", "x")
	f.follow(t, "mia", "x")
	f.follow(t, "zed", "x")

	page, err := f.asm.Assemble(ctx, Followers(f.store, "x"), "viewer", "", 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"zed", "mia", "amy"}, ids(page.Items))
	assert.False(t, page.HasMore)
	assert.Empty(t, page.NextCursor)

	_, err = f.cascade.ApplyBlock(ctx, "viewer", "mia")
	require.NoError(t, err)

	page, err = f.asm.Assemble(ctx, Followers(f.store, "x"), "viewer", "", 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"zed", "amy"}, ids(page.Items))
}

func TestAssembleBlockScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.users("a", "b", "c")

	f.follow(t, "a", "b")
	f.follow(t, "b", "a")
	f.follow(t, "c", "a")
	f.follow(t, "c", "b")
	f.follow(t, "a", "c")
	f.follow(t, "b", "c")

	_, err := f.cascade.ApplyBlock(ctx, "a", "b")
	require.NoError(t, err)

	for _, tc := range []struct {
		name   string
		src    EdgeSource
		viewer string
		want   []string
	}{
		{"a following", Following(f.store, "a"), "a", []string{"c"}},
		{"a followers", Followers(f.store, "a"), "a", []string{"c"}},
		{"b following", Following(f.store, "b"), "b", []string{"c"}},
		{"b followers", Followers(f.store, "b"), "b", []string{"c"}},
		{"c followers seen by a", Followers(f.store, "c"), "a", []string{"a"}},
		{"c followers seen by b", Followers(f.store, "c"), "b", []string{"b"}},
		{"c followers anonymous", Followers(f.store, "c"), "", []string{"b", "a"}},
		{"b following seen by a", Following(f.store, "b"), "a", []string{}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			page, err := f.asm.Assemble(ctx, tc.src, tc.viewer, "", 20)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ids(page.Items))
		})
	}
}

func TestAssemblePagination(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.users("x")
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("u%d", i)
		f.users(id)
		f.follow(t, id, "x")
	}
	_, err := f.cascade.ApplyBlock(ctx, "viewer", "u3")
	require.NoError(t, err)

	src := Followers(f.store, "x")
	page, err := f.asm.Assemble(ctx, src, "viewer", "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"u4"}, ids(page.Items), "filtered rows are not backfilled")
	assert.True(t, page.HasMore)
	assert.Equal(t, graph.Cursor("2"), page.NextCursor)

	page, err = f.asm.Assemble(ctx, src, "viewer", page.NextCursor, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2", "u1"}, ids(page.Items))
	assert.True(t, page.HasMore)

	page, err = f.asm.Assemble(ctx, src, "viewer", page.NextCursor, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"u0"}, ids(page.Items))
	assert.False(t, page.HasMore)

	page, err = f.asm.Assemble(ctx, src, "viewer", "10", 2)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.NotNil(t, page.Items)
	assert.False(t, page.HasMore)

	_, err = f.asm.Assemble(ctx, src, "viewer", "bogus", 2)
	assert.ErrorIs(t, err, graph.ErrInvalidCursor)
}

func TestAssembleDropsMissingProfiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.users("x", "a", "b")
	f.follow(t, "a", "x")
	f.follow(t, "b", "x")
	f.backend.DeleteProfile("b")

	page, err := f.asm.Assemble(ctx, Followers(f.store, "x"), "", "", 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(page.Items))
}

func TestAssembleSkipsHydrationWhenAllFiltered(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.users("x", "a")
	f.follow(t, "a", "x")
	_, err := f.cascade.ApplyBlock(ctx, "a", "viewer")
	require.NoError(t, err)

	page, err := f.asm.Assemble(ctx, Followers(f.store, "x"), "viewer", "", 1)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.True(t, page.HasMore)
	assert.Zero(t, f.backend.Calls("ProfilesByIDs"))
}

func TestAssembleHidesListOfExcludedSubject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.users("author", "fan", "viewer")
	f.backend.PutPost("p1", "author", "")
	f.backend.Like("fan", "p1")
	require.NoError(t, f.store.CreateEdge(ctx, graph.KindRepost, "fan", "p1"))

	page, err := f.asm.Assemble(ctx, Likers(f.backend, "p1"), "viewer", "", 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"fan"}, ids(page.Items))

	_, err = f.cascade.ApplyBlock(ctx, "author", "viewer")
	require.NoError(t, err)

	page, err = f.asm.Assemble(ctx, Likers(f.backend, "p1"), "viewer", "", 20)
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	page, err = f.asm.Assemble(ctx, Reposters(f.store, f.backend, "p1"), "viewer", "", 20)
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	page, err = f.asm.Assemble(ctx, Reposters(f.store, f.backend, "p1"), "", "", 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"fan"}, ids(page.Items))
}

func TestAssembleHiddenSubjectEndsPaging(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.users("x", "viewer")
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("u%d", i)
		f.users(id)
		f.follow(t, id, "x")
	}
	_, err := f.cascade.ApplyBlock(ctx, "viewer", "x")
	require.NoError(t, err)

	page, err := f.asm.Assemble(ctx, Followers(f.store, "x"), "viewer", "", 2)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.NextCursor)

	src := Followers(f.store, "x")
	acc := NewAccumulator("viewer", "followers:x")
	calls := f.backend.Calls("ListEdges")
	require.NoError(t, acc.Refresh(ctx, f.asm, src, 2))
	assert.False(t, acc.HasMore())
	require.NoError(t, acc.LoadMore(ctx, f.asm, src, 2))
	assert.Empty(t, acc.Items())
	assert.Equal(t, calls+3, f.backend.Calls("ListEdges"), "a single page request, then paging stops")
}

func TestAssembleAnonymousSkipsExclusion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.users("x", "a")
	f.follow(t, "a", "x")

	before := f.backend.Calls("ListEdges")
	_, err := f.asm.Assemble(ctx, Followers(f.store, "x"), "", "", 20)
	require.NoError(t, err)
	assert.Equal(t, before+1, f.backend.Calls("ListEdges"))
}

func TestAssemblePropagatesErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.users("x", "a")
	f.follow(t, "a", "x")

	boom := errors.New("timeout")
	f.backend.SetHook("ProfilesByIDs", func(context.Context, ...string) error { return boom })
	_, err := f.asm.Assemble(ctx, Followers(f.store, "x"), "", "", 20)
	assert.ErrorIs(t, err, boom)

	f.backend.SetHook("ProfilesByIDs", nil)
	f.backend.SetHook("ListEdges", func(_ context.Context, args ...string) error {
		if args[0] == string(graph.KindBlock) {
			return boom
		}
		return nil
	})
	_, err = f.asm.Assemble(ctx, Followers(f.store, "x"), "viewer", "", 20)
	assert.ErrorIs(t, err, boom)
}

func TestReproject(t *testing.T) {
	profiles := []graph.UserSummary{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	got := Reproject([]string{"c", "x", "a"}, profiles)
	assert.Equal(t, []string{"c", "a"}, ids(got))
}
