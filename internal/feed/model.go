package feed

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	maxIdentifierLength = 190
	maxContentLength    = 4000
)

var (
	// ErrInvalidRowID indicates an empty or oversized row identifier.
	ErrInvalidRowID = errors.New("feed: invalid row id")
	// ErrInvalidContent indicates empty or oversized post/comment content.
	ErrInvalidContent = errors.New("feed: invalid content")
)

// RowID represents a validated record identifier.
type RowID string

// NewRowID validates raw input and returns a RowID.
func NewRowID(rawInput string) (RowID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRowID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidRowID, maxIdentifierLength)
	}
	return RowID(trimmed), nil
}

// String returns the underlying string identifier.
func (id RowID) String() string {
	return string(id)
}

// Content represents validated post or comment text.
type Content string

// NewContent validates raw input and returns Content.
func NewContent(rawInput string) (Content, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidContent)
	}
	if len(trimmed) > maxContentLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidContent, maxContentLength)
	}
	return Content(trimmed), nil
}

// String returns the underlying text.
func (c Content) String() string {
	return string(c)
}

// Post is a top-level feed entry.
type Post struct {
	PostID    string    `gorm:"column:post_id;primaryKey;size:190;not null" json:"post_id"`
	AuthorID  string    `gorm:"column:author_id;size:190;not null;index:idx_posts_author_created,priority:1" json:"author_id"`
	Content   string    `gorm:"column:content;type:text;not null" json:"content"`
	ImageURL  string    `gorm:"column:image_url;size:512" json:"image_url"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index:idx_posts_author_created,priority:2" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Post) TableName() string {
	return "posts"
}

// Comment belongs to a post.
type Comment struct {
	CommentID string    `gorm:"column:comment_id;primaryKey;size:190;not null" json:"comment_id"`
	PostID    string    `gorm:"column:post_id;size:190;not null;index:idx_comments_post_created,priority:1" json:"post_id"`
	AuthorID  string    `gorm:"column:author_id;size:190;not null" json:"author_id"`
	Content   string    `gorm:"column:content;type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index:idx_comments_post_created,priority:2" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "comments"
}

// CommentWithAuthor is a comment joined with its author's profile row.
type CommentWithAuthor struct {
	Comment
	AuthorUsername  string `gorm:"column:author_username" json:"author_username"`
	AuthorAvatarURL string `gorm:"column:author_avatar_url" json:"author_avatar_url"`
}

// Like marks a user's like on a post. The (post, user) pair is unique; LikeID
// gives the row a stable identifier for change events.
type Like struct {
	LikeID    string    `gorm:"column:like_id;primaryKey;size:190;not null" json:"like_id"`
	PostID    string    `gorm:"column:post_id;size:190;not null;uniqueIndex:idx_likes_post_user,priority:1" json:"post_id"`
	UserID    string    `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_likes_post_user,priority:2" json:"user_id"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Like) TableName() string {
	return "likes"
}
