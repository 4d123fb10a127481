// Package graph holds the social relationship model shared by the store,
// visibility, listing, stats and notification packages.
package graph

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EdgeKind identifies one of the directed edge sets.
type EdgeKind string

const (
	KindFollow EdgeKind = "follow"
	KindBlock  EdgeKind = "block"
	KindMute   EdgeKind = "mute"
	KindRepost EdgeKind = "repost"
)

// Kinds lists every supported edge kind.
var Kinds = []EdgeKind{KindFollow, KindBlock, KindMute, KindRepost}

// Valid reports whether k is a known kind.
func (k EdgeKind) Valid() bool {
	switch k {
	case KindFollow, KindBlock, KindMute, KindRepost:
		return true
	}
	return false
}

// UserToUser reports whether both ends of the edge are user IDs.
// Repost edges point from a user to a post.
func (k EdgeKind) UserToUser() bool {
	return k == KindFollow || k == KindBlock || k == KindMute
}

// ParseEdgeKind parses a kind name.
func ParseEdgeKind(s string) (EdgeKind, error) {
	k := EdgeKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
	return k, nil
}

// Direction selects which side of the edge tuple is fixed to the anchor.
type Direction int

const (
	// Outgoing fixes the source (follower, blocker, muter, reposting user):
	// "who does X follow".
	Outgoing Direction = iota
	// Incoming fixes the target (followed user, blocked user, post):
	// "who follows X".
	Incoming
)

func (d Direction) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}

// Edge is a directed relationship with its creation time. For repost edges
// Target is a post ID.
type Edge struct {
	Kind      EdgeKind  `json:"kind"`
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	CreatedAt time.Time `json:"created_at"`
}

// FarSide returns the end of the edge that is not the anchor.
func (e Edge) FarSide(dir Direction) string {
	if dir == Incoming {
		return e.Source
	}
	return e.Target
}

// DefaultPageSize is the edge page size used when a caller passes no limit.
const DefaultPageSize = 20

// MaxPageSize caps caller supplied limits.
const MaxPageSize = 100

// EdgeQuery describes one page of an ordered edge listing.
type EdgeQuery struct {
	Kind      EdgeKind
	Anchor    string
	Direction Direction
	Cursor    Cursor
	// Limit <= 0 means no limit (used for exclusion sets).
	Limit int
}

// Cursor is an opaque pagination token. The current encoding is the row
// offset into the created_at descending ordering.
type Cursor string

// OffsetCursor builds a cursor for the given offset.
func OffsetCursor(offset int) Cursor {
	if offset <= 0 {
		return ""
	}
	return Cursor(strconv.Itoa(offset))
}

// Offset decodes the cursor. The empty cursor is offset zero.
func (c Cursor) Offset() (int, error) {
	if c == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(string(c))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCursor, string(c))
	}
	return n, nil
}

// NormalizeLimit applies the default and the cap.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// UserSummary is the hydrated profile shown in lists.
type UserSummary struct {
	ID          string  `json:"id" db:"id"`
	DisplayName string  `json:"display_name" db:"display_name"`
	AvatarURL   *string `json:"avatar_url,omitempty" db:"avatar_url"`
	Bio         *string `json:"bio,omitempty" db:"bio"`
}

// Page is one assembled list page.
type Page struct {
	Items      []UserSummary `json:"items"`
	NextCursor Cursor        `json:"next_cursor,omitempty"`
	HasMore    bool          `json:"has_more"`
}

// Relationship summarizes every edge between a viewer and a target user.
type Relationship struct {
	Following  bool `json:"following"`
	FollowedBy bool `json:"followed_by"`
	Blocking   bool `json:"blocking"`
	BlockedBy  bool `json:"blocked_by"`
	Muting     bool `json:"muting"`
}

// Blocked reports whether a block exists in either direction.
func (r Relationship) Blocked() bool {
	return r.Blocking || r.BlockedBy
}
