// Package listing assembles paged user lists (followers, following, likers,
// reposters) with visibility filtering and profile hydration.
package listing

import (
	"context"
	"errors"
	"fmt"

	"github.com/mindlog/social_layer/internal/domain/graph"
	"github.com/mindlog/social_layer/internal/relationship"
	"github.com/mindlog/social_layer/internal/storage"
)

// EdgeSource yields the user IDs of one list, newest first.
type EdgeSource interface {
	// Name labels the list in metrics and logs.
	Name() string
	// Subject is the user who owns the list. When the viewer cannot see the
	// subject the whole list is hidden. Empty means no owner.
	Subject(ctx context.Context) (string, error)
	// Fetch returns up to limit user IDs starting at offset.
	Fetch(ctx context.Context, offset, limit int) ([]string, error)
}

type edgeSource struct {
	name  string
	store *relationship.Store
	kind  graph.EdgeKind
	dir   graph.Direction
	owner string
	// subject resolves the list owner when it is not owner itself.
	subject func(ctx context.Context) (string, error)
}

func (s *edgeSource) Name() string { return s.name }

func (s *edgeSource) Subject(ctx context.Context) (string, error) {
	if s.subject != nil {
		return s.subject(ctx)
	}
	return s.owner, nil
}

func (s *edgeSource) Fetch(ctx context.Context, offset, limit int) ([]string, error) {
	edges, err := s.store.ListEdges(ctx, graph.EdgeQuery{
		Kind:      s.kind,
		Anchor:    s.owner,
		Direction: s.dir,
		Cursor:    graph.OffsetCursor(offset),
		Limit:     limit,
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(edges))
	for i, e := range edges {
		ids[i] = e.FarSide(s.dir)
	}
	return ids, nil
}

// Followers lists users who follow userID.
func Followers(store *relationship.Store, userID string) EdgeSource {
	return &edgeSource{name: "followers", store: store, kind: graph.KindFollow, dir: graph.Incoming, owner: userID}
}

// Following lists users userID follows.
func Following(store *relationship.Store, userID string) EdgeSource {
	return &edgeSource{name: "following", store: store, kind: graph.KindFollow, dir: graph.Outgoing, owner: userID}
}

// Reposters lists users who reposted postID. The post author owns the list.
func Reposters(store *relationship.Store, posts storage.PostStore, postID string) EdgeSource {
	return &edgeSource{
		name:    "reposters",
		store:   store,
		kind:    graph.KindRepost,
		dir:     graph.Incoming,
		owner:   postID,
		subject: authorOf(posts, postID),
	}
}

type likersSource struct {
	posts  storage.PostStore
	postID string
}

// Likers lists users who liked postID. The post author owns the list.
func Likers(posts storage.PostStore, postID string) EdgeSource {
	return &likersSource{posts: posts, postID: postID}
}

func (s *likersSource) Name() string { return "likers" }

func (s *likersSource) Subject(ctx context.Context) (string, error) {
	return authorOf(s.posts, s.postID)(ctx)
}

func (s *likersSource) Fetch(ctx context.Context, offset, limit int) ([]string, error) {
	if s.postID == "" {
		return nil, graph.ErrMissingID
	}
	return s.posts.ListLikers(ctx, s.postID, offset, limit)
}

// authorOf resolves a post's author. A missing post has no owner.
func authorOf(posts storage.PostStore, postID string) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		author, err := posts.PostAuthor(ctx, postID)
		if errors.Is(err, graph.ErrNotFound) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("post author %s: %w", postID, err)
		}
		return author, nil
	}
}
