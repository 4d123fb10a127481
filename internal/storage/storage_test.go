package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindlog/social_layer/internal/domain/graph"
)

func TestTableFor(t *testing.T) {
	follows, err := TableFor(graph.KindFollow)
	require.NoError(t, err)
	assert.Equal(t, "follows", follows.Name)

	anchor, far := follows.AnchorColumns(graph.Incoming)
	assert.Equal(t, "following_id", anchor)
	assert.Equal(t, "follower_id", far)

	anchor, far = follows.AnchorColumns(graph.Outgoing)
	assert.Equal(t, "follower_id", anchor)
	assert.Equal(t, "following_id", far)

	for _, k := range graph.Kinds {
		_, err := TableFor(k)
		assert.NoError(t, err, k)
	}

	_, err = TableFor("like")
	assert.ErrorIs(t, err, graph.ErrInvalidKind)
}
