// Package storage defines the backend ports the social graph core reads and
// writes through, and the table layout shared by the SQL-shaped adapters.
package storage

import (
	"context"
	"fmt"

	"github.com/mindlog/social_layer/internal/domain/graph"
)

// EdgeStore persists follow, block, mute and repost edges.
type EdgeStore interface {
	// EdgeExists reports whether (source, target) exists. Zero rows is false, nil.
	EdgeExists(ctx context.Context, kind graph.EdgeKind, source, target string) (bool, error)
	// ListEdges returns edges ordered by created_at descending.
	ListEdges(ctx context.Context, q graph.EdgeQuery) ([]graph.Edge, error)
	// CountEdges returns the exact number of edges anchored at anchor.
	CountEdges(ctx context.Context, kind graph.EdgeKind, anchor string, dir graph.Direction) (int, error)
	// InsertEdge returns graph.ErrUniqueViolation when the edge exists.
	InsertEdge(ctx context.Context, kind graph.EdgeKind, source, target string) (graph.Edge, error)
	// DeleteEdge succeeds when no row matches.
	DeleteEdge(ctx context.Context, kind graph.EdgeKind, source, target string) error
}

// ProfileStore hydrates user summaries.
type ProfileStore interface {
	// ProfilesByIDs returns the summaries that exist, in no particular order.
	ProfilesByIDs(ctx context.Context, ids []string) ([]graph.UserSummary, error)
}

// PostStore answers the reply and like queries behind post statistics and
// liker lists.
type PostStore interface {
	// PostAuthor returns graph.ErrNotFound when the post does not exist.
	PostAuthor(ctx context.Context, postID string) (string, error)
	// RepliesTo returns one row per reply whose parent is in postIDs.
	RepliesTo(ctx context.Context, postIDs []string) ([]graph.Interaction, error)
	// LikesOf returns one row per like on a post in postIDs.
	LikesOf(ctx context.Context, postIDs []string) ([]graph.Interaction, error)
	// RepliedBy returns the subset of postIDs userID has replied to.
	RepliedBy(ctx context.Context, userID string, postIDs []string) ([]string, error)
	// LikedBy returns the subset of postIDs userID has liked.
	LikedBy(ctx context.Context, userID string, postIDs []string) ([]string, error)
	// ListLikers returns user IDs that liked postID, newest like first.
	ListLikers(ctx context.Context, postID string, offset, limit int) ([]string, error)
}

// NotificationStore counts unread notifications.
type NotificationStore interface {
	CountUnread(ctx context.Context, userID string) (int, error)
}

// Backend bundles every port. Adapters implement all of them.
type Backend interface {
	EdgeStore
	ProfileStore
	PostStore
	NotificationStore
}

// EdgeTable maps an edge kind to its table and tuple columns.
type EdgeTable struct {
	Name         string
	SourceColumn string
	TargetColumn string
}

var edgeTables = map[graph.EdgeKind]EdgeTable{
	graph.KindFollow: {Name: "follows", SourceColumn: "follower_id", TargetColumn: "following_id"},
	graph.KindBlock:  {Name: "blocks", SourceColumn: "blocker_id", TargetColumn: "blocked_id"},
	graph.KindMute:   {Name: "mutes", SourceColumn: "muter_id", TargetColumn: "muted_id"},
	graph.KindRepost: {Name: "reposts", SourceColumn: "user_id", TargetColumn: "post_id"},
}

// TableFor returns the table layout for kind.
func TableFor(kind graph.EdgeKind) (EdgeTable, error) {
	t, ok := edgeTables[kind]
	if !ok {
		return EdgeTable{}, fmt.Errorf("%w: %q", graph.ErrInvalidKind, kind)
	}
	return t, nil
}

// AnchorColumns returns the anchored column and the far-side column for dir.
func (t EdgeTable) AnchorColumns(dir graph.Direction) (anchor, far string) {
	if dir == graph.Incoming {
		return t.TargetColumn, t.SourceColumn
	}
	return t.SourceColumn, t.TargetColumn
}

// Other table and column names.
const (
	TableProfiles      = "profiles"
	TablePosts         = "posts"
	TableLikes         = "likes"
	TableNotifications = "notifications"

	ColumnParentPostID = "parent_post_id"
)
