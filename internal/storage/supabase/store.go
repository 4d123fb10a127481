// Package supabase implements the storage ports over the Supabase PostgREST API.
package supabase

import (
	"context"
	"fmt"
	"time"

	"github.com/mindlog/social_layer/internal/domain/graph"
	"github.com/mindlog/social_layer/internal/storage"
	"github.com/mindlog/social_layer/supabase/client"
)

// Store implements storage.Backend on a Supabase project.
type Store struct {
	client *client.Client
}

var _ storage.Backend = (*Store)(nil)

// New creates a Store using the provided client.
func New(c *client.Client) *Store {
	return &Store{client: c}
}

type edgeRow map[string]any

func (r edgeRow) edge(kind graph.EdgeKind, t storage.EdgeTable) graph.Edge {
	e := graph.Edge{Kind: kind}
	e.Source, _ = r[t.SourceColumn].(string)
	e.Target, _ = r[t.TargetColumn].(string)
	if ts, ok := r["created_at"].(string); ok {
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return e
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case client.IsNoRows(err):
		return fmt.Errorf("%w: %v", graph.ErrNotFound, err)
	case client.IsUniqueViolation(err):
		return fmt.Errorf("%w: %v", graph.ErrUniqueViolation, err)
	}
	return err
}

// --- EdgeStore ----------------------------------------------------------------

func (s *Store) EdgeExists(ctx context.Context, kind graph.EdgeKind, source, target string) (bool, error) {
	t, err := storage.TableFor(kind)
	if err != nil {
		return false, err
	}
	_, err = s.client.From(t.Name).
		Select(t.SourceColumn).
		Eq(t.SourceColumn, source).
		Eq(t.TargetColumn, target).
		Single().
		Execute(ctx)
	if client.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check %s edge: %w", kind, err)
	}
	return true, nil
}

// edgePageSize is the window used to read an unlimited edge list. It stays
// at or below PostgREST's default max-rows so no window is truncated.
const edgePageSize = 1000

// ListEdges returns edges newest first with the far-side column as tie
// breaker. A non-positive limit reads every edge in edgePageSize windows.
func (s *Store) ListEdges(ctx context.Context, q graph.EdgeQuery) ([]graph.Edge, error) {
	t, err := storage.TableFor(q.Kind)
	if err != nil {
		return nil, err
	}
	offset, err := q.Cursor.Offset()
	if err != nil {
		return nil, err
	}

	if q.Limit > 0 {
		return s.listEdgeWindow(ctx, q, t, offset, q.Limit)
	}
	var edges []graph.Edge
	for {
		page, err := s.listEdgeWindow(ctx, q, t, offset, edgePageSize)
		if err != nil {
			return nil, err
		}
		edges = append(edges, page...)
		if len(page) < edgePageSize {
			return edges, nil
		}
		offset += len(page)
	}
}

func (s *Store) listEdgeWindow(ctx context.Context, q graph.EdgeQuery, t storage.EdgeTable, offset, limit int) ([]graph.Edge, error) {
	anchorCol, farCol := t.AnchorColumns(q.Direction)

	var rows []edgeRow
	err := s.client.From(t.Name).
		Select(t.SourceColumn+","+t.TargetColumn+",created_at").
		Eq(anchorCol, q.Anchor).
		Order("created_at", false).
		Order(farCol, false).
		Range(offset, offset+limit-1).
		ExecuteInto(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("list %s edges: %w", q.Kind, err)
	}

	edges := make([]graph.Edge, 0, len(rows))
	for _, r := range rows {
		edges = append(edges, r.edge(q.Kind, t))
	}
	return edges, nil
}

func (s *Store) CountEdges(ctx context.Context, kind graph.EdgeKind, anchor string, dir graph.Direction) (int, error) {
	t, err := storage.TableFor(kind)
	if err != nil {
		return 0, err
	}
	anchorCol, _ := t.AnchorColumns(dir)
	n, err := s.client.From(t.Name).Select(anchorCol).Eq(anchorCol, anchor).ExecuteCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("count %s edges: %w", kind, err)
	}
	return n, nil
}

func (s *Store) InsertEdge(ctx context.Context, kind graph.EdgeKind, source, target string) (graph.Edge, error) {
	t, err := storage.TableFor(kind)
	if err != nil {
		return graph.Edge{}, err
	}
	var rows []edgeRow
	err = s.client.From(t.Name).
		Insert(map[string]any{t.SourceColumn: source, t.TargetColumn: target}).
		ExecuteInto(ctx, &rows)
	if err != nil {
		return graph.Edge{}, fmt.Errorf("insert %s edge: %w", kind, translate(err))
	}
	if len(rows) == 0 {
		return graph.Edge{Kind: kind, Source: source, Target: target, CreatedAt: time.Now().UTC()}, nil
	}
	return rows[0].edge(kind, t), nil
}

func (s *Store) DeleteEdge(ctx context.Context, kind graph.EdgeKind, source, target string) error {
	t, err := storage.TableFor(kind)
	if err != nil {
		return err
	}
	_, err = s.client.From(t.Name).
		Delete().
		Eq(t.SourceColumn, source).
		Eq(t.TargetColumn, target).
		Execute(ctx)
	if err != nil {
		return fmt.Errorf("delete %s edge: %w", kind, err)
	}
	return nil
}

// --- ProfileStore -------------------------------------------------------------

func (s *Store) ProfilesByIDs(ctx context.Context, ids []string) ([]graph.UserSummary, error) {
	ids = graph.Dedupe(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	var out []graph.UserSummary
	err := s.client.From(storage.TableProfiles).
		Select("id,display_name,avatar_url,bio").
		InStrings("id", ids).
		ExecuteInto(ctx, &out)
	if err != nil {
		return nil, fmt.Errorf("hydrate profiles: %w", err)
	}
	return out, nil
}

// --- PostStore ----------------------------------------------------------------

func (s *Store) PostAuthor(ctx context.Context, postID string) (string, error) {
	var row struct {
		UserID string `json:"user_id"`
	}
	err := s.client.From(storage.TablePosts).
		Select("user_id").
		Eq("id", postID).
		Single().
		ExecuteInto(ctx, &row)
	if err != nil {
		return "", fmt.Errorf("post author: %w", translate(err))
	}
	return row.UserID, nil
}

type replyRow struct {
	ParentPostID string `json:"parent_post_id"`
	UserID       string `json:"user_id"`
}

func (s *Store) RepliesTo(ctx context.Context, postIDs []string) ([]graph.Interaction, error) {
	var rows []replyRow
	err := s.client.From(storage.TablePosts).
		Select("parent_post_id,user_id").
		InStrings(storage.ColumnParentPostID, postIDs).
		ExecuteInto(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("query replies: %w", err)
	}
	out := make([]graph.Interaction, len(rows))
	for i, r := range rows {
		out[i] = graph.Interaction{PostID: r.ParentPostID, UserID: r.UserID}
	}
	return out, nil
}

func (s *Store) LikesOf(ctx context.Context, postIDs []string) ([]graph.Interaction, error) {
	var out []graph.Interaction
	err := s.client.From(storage.TableLikes).
		Select("post_id,user_id").
		InStrings("post_id", postIDs).
		ExecuteInto(ctx, &out)
	if err != nil {
		return nil, fmt.Errorf("query likes: %w", err)
	}
	return out, nil
}

func (s *Store) RepliedBy(ctx context.Context, userID string, postIDs []string) ([]string, error) {
	var rows []replyRow
	err := s.client.From(storage.TablePosts).
		Select("parent_post_id").
		Eq("user_id", userID).
		InStrings(storage.ColumnParentPostID, postIDs).
		ExecuteInto(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("query viewer replies: %w", err)
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ParentPostID
	}
	return out, nil
}

func (s *Store) LikedBy(ctx context.Context, userID string, postIDs []string) ([]string, error) {
	var rows []graph.Interaction
	err := s.client.From(storage.TableLikes).
		Select("post_id").
		Eq("user_id", userID).
		InStrings("post_id", postIDs).
		ExecuteInto(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("query viewer likes: %w", err)
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.PostID
	}
	return out, nil
}

func (s *Store) ListLikers(ctx context.Context, postID string, offset, limit int) ([]string, error) {
	var rows []graph.Interaction
	err := s.client.From(storage.TableLikes).
		Select("user_id").
		Eq("post_id", postID).
		Order("created_at", false).
		Offset(offset).
		Limit(limit).
		ExecuteInto(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("list likers: %w", err)
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.UserID
	}
	return out, nil
}

// --- NotificationStore --------------------------------------------------------

func (s *Store) CountUnread(ctx context.Context, userID string) (int, error) {
	n, err := s.client.From(storage.TableNotifications).
		Select("id").
		Eq("user_id", userID).
		Eq("is_read", false).
		ExecuteCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}
