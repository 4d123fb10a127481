package listing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindlog/social_layer/internal/domain/graph"
)

func summaries(idList ...string) []graph.UserSummary {
	out := make([]graph.UserSummary, len(idList))
	for i, id := range idList {
		out[i] = graph.UserSummary{ID: id}
	}
	return out
}

func TestAccumulatorAppendsAndDedupes(t *testing.T) {
	acc := NewAccumulator("viewer", "followers:x")

	t1 := acc.Begin()
	assert.Empty(t, t1.Cursor())
	assert.True(t, acc.Apply(t1, graph.Page{Items: summaries("a", "b"), HasMore: true, NextCursor: "2"}, nil))

	t2 := acc.Begin()
	assert.Equal(t, graph.Cursor("2"), t2.Cursor())
	// A concurrent insert shifted b onto the second page.
	assert.True(t, acc.Apply(t2, graph.Page{Items: summaries("b", "c")}, nil))

	assert.Equal(t, []string{"a", "b", "c"}, ids(acc.Items()))
	assert.False(t, acc.HasMore())
}

func TestAccumulatorDiscardsStaleResponses(t *testing.T) {
	acc := NewAccumulator("viewer", "following:x")

	first := acc.Begin()
	duplicate := acc.Begin()
	require.True(t, acc.Apply(first, graph.Page{Items: summaries("a"), HasMore: true, NextCursor: "1"}, nil))
	assert.False(t, acc.Apply(duplicate, graph.Page{Items: summaries("z")}, nil), "same cursor already applied")

	pending := acc.Begin()
	acc.Reset()
	assert.False(t, acc.Apply(pending, graph.Page{Items: summaries("b")}, nil), "reset invalidates requests")
	assert.Empty(t, acc.Items())
	assert.True(t, acc.HasMore())
}

func TestAccumulatorKeepsItemsOnError(t *testing.T) {
	acc := NewAccumulator("viewer", "likers:p")
	t1 := acc.Begin()
	acc.Apply(t1, graph.Page{Items: summaries("a"), HasMore: true, NextCursor: "1"}, nil)

	boom := errors.New("offline")
	t2 := acc.Begin()
	assert.True(t, acc.Apply(t2, graph.Page{}, boom))
	assert.ErrorIs(t, acc.Err(), boom)
	assert.Equal(t, []string{"a"}, ids(acc.Items()))
	assert.True(t, acc.HasMore())

	t3 := acc.Begin()
	assert.Equal(t, graph.Cursor("1"), t3.Cursor(), "retry uses the same cursor")
	assert.True(t, acc.Apply(t3, graph.Page{Items: summaries("b")}, nil))
	assert.NoError(t, acc.Err())
	assert.Equal(t, []string{"a", "b"}, ids(acc.Items()))
}

func TestAccumulatorLoadsWholeList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.users("x")
	var want []string
	for i := 0; i < 7; i++ {
		id := fmt.Sprintf("u%d", i)
		f.users(id)
		f.follow(t, id, "x")
		want = append([]string{id}, want...)
	}

	acc := NewAccumulator("viewer", "followers:x")
	src := Followers(f.store, "x")
	require.NoError(t, acc.Refresh(ctx, f.asm, src, 3))
	for acc.HasMore() {
		require.NoError(t, acc.LoadMore(ctx, f.asm, src, 3))
	}
	assert.Equal(t, want, ids(acc.Items()))

	viewer, list := acc.Key()
	assert.Equal(t, "viewer", viewer)
	assert.Equal(t, "followers:x", list)
}
