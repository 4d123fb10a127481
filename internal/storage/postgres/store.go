// Package postgres implements the storage ports directly on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/mindlog/social_layer/internal/domain/graph"
	"github.com/mindlog/social_layer/internal/storage"
)

const (
	pqUniqueViolation = "23505"
	pqCheckViolation  = "23514"
)

// Store implements storage.Backend backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.Backend = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn with the lib/pq driver.
func Open(ctx context.Context, dsn string, maxOpen int) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func translate(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqUniqueViolation:
			return fmt.Errorf("%w: %s", graph.ErrUniqueViolation, pqErr.Constraint)
		case pqCheckViolation:
			return fmt.Errorf("%w: %s", graph.ErrSelfEdge, pqErr.Constraint)
		}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return graph.ErrNotFound
	}
	return err
}

type edgeRecord struct {
	Source    string    `db:"source"`
	Target    string    `db:"target"`
	CreatedAt time.Time `db:"created_at"`
}

func (r edgeRecord) edge(kind graph.EdgeKind) graph.Edge {
	return graph.Edge{Kind: kind, Source: r.Source, Target: r.Target, CreatedAt: r.CreatedAt.UTC()}
}

// --- EdgeStore ----------------------------------------------------------------

func (s *Store) EdgeExists(ctx context.Context, kind graph.EdgeKind, source, target string) (bool, error) {
	t, err := storage.TableFor(kind)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1 AND %s = $2)`,
		t.Name, t.SourceColumn, t.TargetColumn)
	var exists bool
	if err := s.db.GetContext(ctx, &exists, query, source, target); err != nil {
		return false, fmt.Errorf("check %s edge: %w", kind, err)
	}
	return exists, nil
}

func (s *Store) ListEdges(ctx context.Context, q graph.EdgeQuery) ([]graph.Edge, error) {
	t, err := storage.TableFor(q.Kind)
	if err != nil {
		return nil, err
	}
	offset, err := q.Cursor.Offset()
	if err != nil {
		return nil, err
	}
	anchorCol, farCol := t.AnchorColumns(q.Direction)

	query := fmt.Sprintf(`
		SELECT %s AS source, %s AS target, created_at
		FROM %s
		WHERE %s = $1
		ORDER BY created_at DESC, %s DESC
		OFFSET $2`, t.SourceColumn, t.TargetColumn, t.Name, anchorCol, farCol)
	args := []any{q.Anchor, offset}
	if q.Limit > 0 {
		query += ` LIMIT $3`
		args = append(args, q.Limit)
	}

	var rows []edgeRecord
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list %s edges: %w", q.Kind, err)
	}
	edges := make([]graph.Edge, len(rows))
	for i, r := range rows {
		edges[i] = r.edge(q.Kind)
	}
	return edges, nil
}

func (s *Store) CountEdges(ctx context.Context, kind graph.EdgeKind, anchor string, dir graph.Direction) (int, error) {
	t, err := storage.TableFor(kind)
	if err != nil {
		return 0, err
	}
	anchorCol, _ := t.AnchorColumns(dir)
	var n int
	if err := s.db.GetContext(ctx, &n, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s = $1`, t.Name, anchorCol), anchor); err != nil {
		return 0, fmt.Errorf("count %s edges: %w", kind, err)
	}
	return n, nil
}

func (s *Store) InsertEdge(ctx context.Context, kind graph.EdgeKind, source, target string) (graph.Edge, error) {
	t, err := storage.TableFor(kind)
	if err != nil {
		return graph.Edge{}, err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s) VALUES ($1, $2)
		RETURNING %s AS source, %s AS target, created_at`,
		t.Name, t.SourceColumn, t.TargetColumn, t.SourceColumn, t.TargetColumn)
	var row edgeRecord
	if err := s.db.GetContext(ctx, &row, query, source, target); err != nil {
		return graph.Edge{}, fmt.Errorf("insert %s edge: %w", kind, translate(err))
	}
	return row.edge(kind), nil
}

func (s *Store) DeleteEdge(ctx context.Context, kind graph.EdgeKind, source, target string) error {
	t, err := storage.TableFor(kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1 AND %s = $2`, t.Name, t.SourceColumn, t.TargetColumn)
	if _, err := s.db.ExecContext(ctx, query, source, target); err != nil {
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
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, display_name, avatar_url, bio
		FROM profiles
		WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("hydrate profiles: %w", err)
	}
	return out, nil
}

// --- PostStore ----------------------------------------------------------------

func (s *Store) PostAuthor(ctx context.Context, postID string) (string, error) {
	var author string
	if err := s.db.GetContext(ctx, &author, `SELECT user_id FROM posts WHERE id = $1`, postID); err != nil {
		return "", fmt.Errorf("post author: %w", translate(err))
	}
	return author, nil
}

func (s *Store) RepliesTo(ctx context.Context, postIDs []string) ([]graph.Interaction, error) {
	var out []graph.Interaction
	err := s.db.SelectContext(ctx, &out, `
		SELECT parent_post_id AS post_id, user_id
		FROM posts
		WHERE parent_post_id = ANY($1)`, pq.Array(postIDs))
	if err != nil {
		return nil, fmt.Errorf("query replies: %w", err)
	}
	return out, nil
}

func (s *Store) LikesOf(ctx context.Context, postIDs []string) ([]graph.Interaction, error) {
	var out []graph.Interaction
	err := s.db.SelectContext(ctx, &out, `
		SELECT post_id, user_id
		FROM likes
		WHERE post_id = ANY($1)`, pq.Array(postIDs))
	if err != nil {
		return nil, fmt.Errorf("query likes: %w", err)
	}
	return out, nil
}

func (s *Store) RepliedBy(ctx context.Context, userID string, postIDs []string) ([]string, error) {
	var out []string
	err := s.db.SelectContext(ctx, &out, `
		SELECT DISTINCT parent_post_id
		FROM posts
		WHERE user_id = $1 AND parent_post_id = ANY($2)`, userID, pq.Array(postIDs))
	if err != nil {
		return nil, fmt.Errorf("query viewer replies: %w", err)
	}
	return out, nil
}

func (s *Store) LikedBy(ctx context.Context, userID string, postIDs []string) ([]string, error) {
	var out []string
	err := s.db.SelectContext(ctx, &out, `
		SELECT post_id
		FROM likes
		WHERE user_id = $1 AND post_id = ANY($2)`, userID, pq.Array(postIDs))
	if err != nil {
		return nil, fmt.Errorf("query viewer likes: %w", err)
	}
	return out, nil
}

func (s *Store) ListLikers(ctx context.Context, postID string, offset, limit int) ([]string, error) {
	query := `
		SELECT user_id
		FROM likes
		WHERE post_id = $1
		ORDER BY created_at DESC, user_id DESC
		OFFSET $2`
	args := []any{postID, offset}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	var out []string
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list likers: %w", err)
	}
	return out, nil
}

// --- NotificationStore --------------------------------------------------------

func (s *Store) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_read`, userID)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}
