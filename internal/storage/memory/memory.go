package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mindlog/social_layer/internal/domain/graph"
	"github.com/mindlog/social_layer/internal/storage"
)

// Hook runs before an operation. Returning an error fails the operation;
// blocking delays it. args are the operation's identifiers in call order.
type Hook func(ctx context.Context, args ...string) error

// Store is an in-memory implementation of the storage ports. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu            sync.RWMutex
	seq           int64
	now           func() time.Time
	edges         map[graph.EdgeKind]map[[2]string]edgeRow
	profiles      map[string]graph.UserSummary
	posts         map[string]postRow
	likes         map[[2]string]likeRow
	notifications map[string][]notificationRow

	hookMu sync.RWMutex
	hooks  map[string]Hook
	calls  map[string]int
}

type edgeRow struct {
	graph.Edge
	seq int64
}

type postRow struct {
	id       string
	authorID string
	parentID string
	seq      int64
}

type likeRow struct {
	userID    string
	postID    string
	createdAt time.Time
	seq       int64
}

type notificationRow struct {
	id   string
	read bool
}

var _ storage.Backend = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		now:           time.Now,
		edges:         make(map[graph.EdgeKind]map[[2]string]edgeRow),
		profiles:      make(map[string]graph.UserSummary),
		posts:         make(map[string]postRow),
		likes:         make(map[[2]string]likeRow),
		notifications: make(map[string][]notificationRow),
		hooks:         make(map[string]Hook),
		calls:         make(map[string]int),
	}
}

// SetClock replaces the time source used for created_at.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// SetHook installs fn for op (the method name, e.g. "DeleteEdge"). A nil fn
// removes the hook.
func (s *Store) SetHook(op string, fn Hook) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	if fn == nil {
		delete(s.hooks, op)
		return
	}
	s.hooks[op] = fn
}

// Calls returns how many times op has been invoked.
func (s *Store) Calls(op string) int {
	s.hookMu.RLock()
	defer s.hookMu.RUnlock()
	return s.calls[op]
}

func (s *Store) enter(ctx context.Context, op string, args ...string) error {
	s.hookMu.Lock()
	s.calls[op]++
	hook := s.hooks[op]
	s.hookMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if hook != nil {
		return hook(ctx, args...)
	}
	return nil
}

// Seeding ---------------------------------------------------------------------

// PutProfile inserts or replaces a profile.
func (s *Store) PutProfile(p graph.UserSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

// DeleteProfile removes a profile, leaving its edges in place.
func (s *Store) DeleteProfile(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, id)
}

// PutPost inserts a post. parentID is empty for top level posts.
func (s *Store) PutPost(id, authorID, parentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.posts[id] = postRow{id: id, authorID: authorID, parentID: parentID, seq: s.seq}
}

// Like records userID liking postID. Repeated likes are ignored.
func (s *Store) Like(userID, postID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{userID, postID}
	if _, ok := s.likes[key]; ok {
		return
	}
	s.seq++
	s.likes[key] = likeRow{userID: userID, postID: postID, createdAt: s.now().UTC(), seq: s.seq}
}

// AddNotification stores a notification for userID and returns its ID.
func (s *Store) AddNotification(userID string, read bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.notifications[userID] = append(s.notifications[userID], notificationRow{id: id, read: read})
	return id
}

// MarkAllRead marks every notification for userID as read.
func (s *Store) MarkAllRead(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.notifications[userID]
	for i := range rows {
		rows[i].read = true
	}
}

// EdgeStore implementation -----------------------------------------------------

func (s *Store) EdgeExists(ctx context.Context, kind graph.EdgeKind, source, target string) (bool, error) {
	if err := s.enter(ctx, "EdgeExists", string(kind), source, target); err != nil {
		return false, err
	}
	if !kind.Valid() {
		return false, graph.ErrInvalidKind
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.edges[kind][[2]string{source, target}]
	return ok, nil
}

func (s *Store) ListEdges(ctx context.Context, q graph.EdgeQuery) ([]graph.Edge, error) {
	if err := s.enter(ctx, "ListEdges", string(q.Kind), q.Anchor, q.Direction.String()); err != nil {
		return nil, err
	}
	if !q.Kind.Valid() {
		return nil, graph.ErrInvalidKind
	}
	offset, err := q.Cursor.Offset()
	if err != nil {
		return nil, err
	}

	rows := s.anchored(q.Kind, q.Anchor, q.Direction)
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].seq > rows[j].seq
	})

	if offset >= len(rows) {
		return []graph.Edge{}, nil
	}
	rows = rows[offset:]
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	out := make([]graph.Edge, len(rows))
	for i, r := range rows {
		out[i] = r.Edge
	}
	return out, nil
}

func (s *Store) CountEdges(ctx context.Context, kind graph.EdgeKind, anchor string, dir graph.Direction) (int, error) {
	if err := s.enter(ctx, "CountEdges", string(kind), anchor, dir.String()); err != nil {
		return 0, err
	}
	if !kind.Valid() {
		return 0, graph.ErrInvalidKind
	}
	return len(s.anchored(kind, anchor, dir)), nil
}

func (s *Store) anchored(kind graph.EdgeKind, anchor string, dir graph.Direction) []edgeRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rows []edgeRow
	for _, r := range s.edges[kind] {
		side := r.Source
		if dir == graph.Incoming {
			side = r.Target
		}
		if side == anchor {
			rows = append(rows, r)
		}
	}
	return rows
}

func (s *Store) InsertEdge(ctx context.Context, kind graph.EdgeKind, source, target string) (graph.Edge, error) {
	if err := s.enter(ctx, "InsertEdge", string(kind), source, target); err != nil {
		return graph.Edge{}, err
	}
	if !kind.Valid() {
		return graph.Edge{}, graph.ErrInvalidKind
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{source, target}
	if _, ok := s.edges[kind][key]; ok {
		return graph.Edge{}, graph.ErrUniqueViolation
	}
	if s.edges[kind] == nil {
		s.edges[kind] = make(map[[2]string]edgeRow)
	}
	s.seq++
	e := graph.Edge{Kind: kind, Source: source, Target: target, CreatedAt: s.now().UTC()}
	s.edges[kind][key] = edgeRow{Edge: e, seq: s.seq}
	return e, nil
}

func (s *Store) DeleteEdge(ctx context.Context, kind graph.EdgeKind, source, target string) error {
	if err := s.enter(ctx, "DeleteEdge", string(kind), source, target); err != nil {
		return err
	}
	if !kind.Valid() {
		return graph.ErrInvalidKind
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.edges[kind], [2]string{source, target})
	return nil
}

// ProfileStore implementation --------------------------------------------------

func (s *Store) ProfilesByIDs(ctx context.Context, ids []string) ([]graph.UserSummary, error) {
	if err := s.enter(ctx, "ProfilesByIDs", ids...); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]graph.UserSummary, 0, len(ids))
	for _, id := range graph.Dedupe(ids) {
		if p, ok := s.profiles[id]; ok {
			out = append(out, p)
		}
	}
	// Callers must not rely on request order.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PostStore implementation -----------------------------------------------------

func (s *Store) PostAuthor(ctx context.Context, postID string) (string, error) {
	if err := s.enter(ctx, "PostAuthor", postID); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.posts[postID]
	if !ok {
		return "", graph.ErrNotFound
	}
	return p.authorID, nil
}

func (s *Store) RepliesTo(ctx context.Context, postIDs []string) ([]graph.Interaction, error) {
	if err := s.enter(ctx, "RepliesTo", postIDs...); err != nil {
		return nil, err
	}
	want := graph.NewSet(postIDs...)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []graph.Interaction
	for _, p := range s.posts {
		if p.parentID != "" && want.Has(p.parentID) {
			out = append(out, graph.Interaction{PostID: p.parentID, UserID: p.authorID})
		}
	}
	return out, nil
}

func (s *Store) LikesOf(ctx context.Context, postIDs []string) ([]graph.Interaction, error) {
	if err := s.enter(ctx, "LikesOf", postIDs...); err != nil {
		return nil, err
	}
	want := graph.NewSet(postIDs...)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []graph.Interaction
	for _, l := range s.likes {
		if want.Has(l.postID) {
			out = append(out, graph.Interaction{PostID: l.postID, UserID: l.userID})
		}
	}
	return out, nil
}

func (s *Store) RepliedBy(ctx context.Context, userID string, postIDs []string) ([]string, error) {
	if err := s.enter(ctx, "RepliedBy", append([]string{userID}, postIDs...)...); err != nil {
		return nil, err
	}
	want := graph.NewSet(postIDs...)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, p := range s.posts {
		if p.authorID == userID && p.parentID != "" && want.Has(p.parentID) {
			out = append(out, p.parentID)
		}
	}
	return out, nil
}

func (s *Store) LikedBy(ctx context.Context, userID string, postIDs []string) ([]string, error) {
	if err := s.enter(ctx, "LikedBy", append([]string{userID}, postIDs...)...); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, id := range graph.Dedupe(postIDs) {
		if _, ok := s.likes[[2]string{userID, id}]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *Store) ListLikers(ctx context.Context, postID string, offset, limit int) ([]string, error) {
	if err := s.enter(ctx, "ListLikers", postID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var rows []likeRow
	for _, l := range s.likes {
		if l.postID == postID {
			rows = append(rows, l)
		}
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].createdAt.Equal(rows[j].createdAt) {
			return rows[i].createdAt.After(rows[j].createdAt)
		}
		return rows[i].seq > rows[j].seq
	})
	if offset >= len(rows) {
		return []string{}, nil
	}
	rows = rows[offset:]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.userID
	}
	return out, nil
}

// NotificationStore implementation ---------------------------------------------

func (s *Store) CountUnread(ctx context.Context, userID string) (int, error) {
	if err := s.enter(ctx, "CountUnread", userID); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, row := range s.notifications[userID] {
		if !row.read {
			n++
		}
	}
	return n, nil
}
