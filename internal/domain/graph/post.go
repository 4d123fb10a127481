package graph

// PostStats is derived per request and never persisted.
type PostStats struct {
	RepliesCount       int  `json:"replies_count"`
	LikesCount         int  `json:"likes_count"`
	IsLikedByViewer    bool `json:"is_liked_by_viewer"`
	HasRepliedByViewer bool `json:"has_replied_by_viewer"`
}

// Interaction is a reply or like row reduced to the two columns the
// aggregator needs: the post it targets and the user who authored it.
type Interaction struct {
	PostID string `json:"post_id" db:"post_id"`
	UserID string `json:"user_id" db:"user_id"`
}
