package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindlog/social_layer/internal/domain/graph"
)

func steppingClock() func() time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestEdgesOrderedNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.SetClock(steppingClock())

	for _, follower := range []string{"a", "b", "c"} {
		_, err := s.InsertEdge(ctx, graph.KindFollow, follower, "x")
		require.NoError(t, err)
	}

	edges, err := s.ListEdges(ctx, graph.EdgeQuery{Kind: graph.KindFollow, Anchor: "x", Direction: graph.Incoming, Limit: 2})
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, "c", edges[0].Source)
	assert.Equal(t, "b", edges[1].Source)

	edges, err = s.ListEdges(ctx, graph.EdgeQuery{Kind: graph.KindFollow, Anchor: "x", Direction: graph.Incoming, Cursor: graph.OffsetCursor(2), Limit: 2})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "a", edges[0].Source)

	n, err := s.CountEdges(ctx, graph.KindFollow, "x", graph.Incoming)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestInsertDuplicateAndDeleteMissing(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.InsertEdge(ctx, graph.KindBlock, "a", "b")
	require.NoError(t, err)
	_, err = s.InsertEdge(ctx, graph.KindBlock, "a", "b")
	assert.ErrorIs(t, err, graph.ErrUniqueViolation)

	require.NoError(t, s.DeleteEdge(ctx, graph.KindFollow, "nobody", "b"))

	ok, err := s.EdgeExists(ctx, graph.KindBlock, "a", "b")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.EdgeExists(ctx, graph.KindBlock, "b", "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHooksAndCalls(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")
	s.SetHook("DeleteEdge", func(_ context.Context, args ...string) error {
		if args[1] == "a" {
			return boom
		}
		return nil
	})

	assert.ErrorIs(t, s.DeleteEdge(ctx, graph.KindFollow, "a", "b"), boom)
	assert.NoError(t, s.DeleteEdge(ctx, graph.KindFollow, "b", "a"))
	assert.Equal(t, 2, s.Calls("DeleteEdge"))

	s.SetHook("DeleteEdge", nil)
	assert.NoError(t, s.DeleteEdge(ctx, graph.KindFollow, "a", "b"))
}

func TestPostQueries(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.SetClock(steppingClock())
	s.PutPost("p", "author", "")
	s.PutPost("r1", "a", "p")
	s.PutPost("r2", "b", "p")
	s.Like("a", "p")
	s.Like("c", "p")
	s.Like("a", "p")

	author, err := s.PostAuthor(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, "author", author)
	_, err = s.PostAuthor(ctx, "missing")
	assert.ErrorIs(t, err, graph.ErrNotFound)

	replies, err := s.RepliesTo(ctx, []string{"p"})
	require.NoError(t, err)
	assert.Len(t, replies, 2)

	likes, err := s.LikesOf(ctx, []string{"p", "q"})
	require.NoError(t, err)
	assert.Len(t, likes, 2)

	replied, err := s.RepliedBy(ctx, "a", []string{"p"})
	require.NoError(t, err)
	assert.Equal(t, []string{"p"}, replied)

	liked, err := s.LikedBy(ctx, "b", []string{"p"})
	require.NoError(t, err)
	assert.Empty(t, liked)

	likers, err := s.ListLikers(ctx, "p", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, likers)
}

func TestProfilesAndUnread(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutProfile(graph.UserSummary{ID: "b", DisplayName: "B"})
	s.PutProfile(graph.UserSummary{ID: "a", DisplayName: "A"})

	got, err := s.ProfilesByIDs(ctx, []string{"b", "a", "zz", "a"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	s.AddNotification("u", false)
	s.AddNotification("u", false)
	s.AddNotification("u", true)
	n, err := s.CountUnread(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	s.MarkAllRead("u")
	n, err = s.CountUnread(ctx, "u")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().CountUnread(ctx, "u")
	assert.ErrorIs(t, err, context.Canceled)
}
