package relationship

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindlog/social_layer/internal/domain/graph"
	"github.com/mindlog/social_layer/internal/storage/memory"
)

func TestRepairerFixesQueuedPairs(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	s := NewStore(backend, nil)
	r := NewRepairer(s, nil, nil)
	c := NewCascade(s, r, nil, nil)

	require.NoError(t, s.CreateEdge(ctx, graph.KindFollow, "b", "a"))
	backend.SetHook("DeleteEdge", func(context.Context, ...string) error { return errors.New("flaky") })

	res, err := c.ApplyBlock(ctx, "a", "b")
	require.NoError(t, err)
	require.NotNil(t, res.Warning)
	assert.Equal(t, 1, r.Pending())

	fixed, err := r.RunOnce(ctx)
	assert.Error(t, err)
	assert.Zero(t, fixed)
	assert.Equal(t, 1, r.Pending())

	backend.SetHook("DeleteEdge", nil)
	fixed, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fixed)
	assert.Zero(t, r.Pending())

	_, ba := followState(t, s, "a", "b")
	assert.False(t, ba)
}

func TestRepairerDropsPairAfterUnblock(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	s := NewStore(backend, nil)
	r := NewRepairer(s, nil, nil)

	require.NoError(t, s.CreateEdge(ctx, graph.KindFollow, "a", "b"))
	r.Enqueue("a", "b")
	r.Enqueue("a", "b")
	assert.Equal(t, 1, r.Pending())

	fixed, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fixed)
	assert.Zero(t, backend.Calls("DeleteEdge"), "no block means nothing to sever")

	ab, _ := followState(t, s, "a", "b")
	assert.True(t, ab)
}

func TestRepairerSchedule(t *testing.T) {
	r := NewRepairer(NewStore(memory.New(), nil), nil, nil)
	assert.Error(t, r.Start("not a schedule"))
	require.NoError(t, r.Start("@every 1h"))
	require.NoError(t, r.Start("@every 1h"))
	r.Stop()
	r.Stop()
}
