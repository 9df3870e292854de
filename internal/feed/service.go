package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ripplehq/ripple/internal/realtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrPostNotFound indicates the referenced post does not exist.
	ErrPostNotFound = errors.New("feed: post not found")
	// ErrCommentNotFound indicates the referenced comment does not exist.
	ErrCommentNotFound = errors.New("feed: comment not found")
	// ErrNotAuthor indicates a mutation attempted by a non-owner.
	ErrNotAuthor = errors.New("feed: caller is not the author")
)

// ServiceError carries a stable operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable error code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew    = "feed.service.new"
	opCreatePost    = "feed.create_post"
	opDeletePost    = "feed.delete_post"
	opListPosts     = "feed.list_posts"
	opGetPost       = "feed.get_post"
	opCreateComment = "feed.create_comment"
	opDeleteComment = "feed.delete_comment"
	opListComments  = "feed.list_comments"
	opLikePost      = "feed.like_post"
	opUnlikePost    = "feed.unlike_post"
	opListLikes     = "feed.list_likes"
	opLikeCount     = "feed.like_count"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider supplies identifiers for new rows.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the feed service.
type ServiceConfig struct {
	Database   *gorm.DB
	Changes    realtime.Publisher
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service owns posts, comments, and likes, and publishes a change event for
// every accepted mutation.
type Service struct {
	db         *gorm.DB
	changes    realtime.Publisher
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the feed service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	changes := cfg.Changes
	if changes == nil {
		changes = realtime.NopPublisher{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		changes:    changes,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// CreatePost inserts a new post authored by authorID.
func (s *Service) CreatePost(ctx context.Context, authorID string, content Content, imageURL string) (Post, error) {
	postID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreatePost, "id_generation_failed", err)
		return Post{}, newServiceError(opCreatePost, "id_generation_failed", err)
	}

	post := Post{
		PostID:    postID,
		AuthorID:  authorID,
		Content:   content.String(),
		ImageURL:  imageURL,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&post).Error; err != nil {
		s.logError(opCreatePost, "insert_failed", err, zap.String("author_id", authorID))
		return Post{}, newServiceError(opCreatePost, "insert_failed", err)
	}

	s.changes.Publish(realtime.TablePosts, realtime.OperationInsert, post.PostID, post)
	return post, nil
}

// DeletePost removes a post owned by callerID, cascading its comments and
// likes. The delete event carries the prior row values.
func (s *Service) DeletePost(ctx context.Context, callerID string, postID RowID) error {
	var post Post
	err := s.db.WithContext(ctx).Where("post_id = ?", postID.String()).Take(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrPostNotFound
	}
	if err != nil {
		s.logError(opDeletePost, "select_failed", err, zap.String("post_id", postID.String()))
		return newServiceError(opDeletePost, "select_failed", err)
	}
	if post.AuthorID != callerID {
		return ErrNotAuthor
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", post.PostID).Delete(&Comment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", post.PostID).Delete(&Like{}).Error; err != nil {
			return err
		}
		return tx.Delete(&post).Error
	})
	if txErr != nil {
		s.logError(opDeletePost, "delete_failed", txErr, zap.String("post_id", postID.String()))
		return newServiceError(opDeletePost, "delete_failed", txErr)
	}

	s.changes.Publish(realtime.TablePosts, realtime.OperationDelete, post.PostID, post)
	return nil
}

// GetPost returns a single post.
func (s *Service) GetPost(ctx context.Context, postID RowID) (Post, error) {
	var post Post
	err := s.db.WithContext(ctx).Where("post_id = ?", postID.String()).Take(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Post{}, ErrPostNotFound
	}
	if err != nil {
		s.logError(opGetPost, "select_failed", err, zap.String("post_id", postID.String()))
		return Post{}, newServiceError(opGetPost, "select_failed", err)
	}
	return post, nil
}

// ListPosts returns posts ordered newest first. An empty authorID lists the
// global feed.
func (s *Service) ListPosts(ctx context.Context, authorID string, limit int) ([]Post, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC, post_id DESC")
	if authorID != "" {
		query = query.Where("author_id = ?", authorID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var posts []Post
	if err := query.Find(&posts).Error; err != nil {
		s.logError(opListPosts, "query_failed", err, zap.String("author_id", authorID))
		return nil, newServiceError(opListPosts, "query_failed", err)
	}
	return posts, nil
}

// CreateComment inserts a comment on the post and returns the row joined with
// the author's profile.
func (s *Service) CreateComment(ctx context.Context, postID RowID, authorID string, content Content) (CommentWithAuthor, error) {
	if _, err := s.GetPost(ctx, postID); err != nil {
		return CommentWithAuthor{}, err
	}

	commentID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateComment, "id_generation_failed", err)
		return CommentWithAuthor{}, newServiceError(opCreateComment, "id_generation_failed", err)
	}

	comment := Comment{
		CommentID: commentID,
		PostID:    postID.String(),
		AuthorID:  authorID,
		Content:   content.String(),
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&comment).Error; err != nil {
		s.logError(opCreateComment, "insert_failed", err, zap.String("post_id", postID.String()))
		return CommentWithAuthor{}, newServiceError(opCreateComment, "insert_failed", err)
	}

	joined, err := s.commentWithAuthor(ctx, comment.CommentID)
	if err != nil {
		return CommentWithAuthor{}, err
	}

	s.changes.Publish(realtime.TableComments, realtime.OperationInsert, joined.CommentID, joined)
	return joined, nil
}

// DeleteComment removes a comment owned by callerID.
func (s *Service) DeleteComment(ctx context.Context, callerID string, commentID RowID) error {
	var comment Comment
	err := s.db.WithContext(ctx).Where("comment_id = ?", commentID.String()).Take(&comment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrCommentNotFound
	}
	if err != nil {
		s.logError(opDeleteComment, "select_failed", err, zap.String("comment_id", commentID.String()))
		return newServiceError(opDeleteComment, "select_failed", err)
	}
	if comment.AuthorID != callerID {
		return ErrNotAuthor
	}

	if err := s.db.WithContext(ctx).Delete(&comment).Error; err != nil {
		s.logError(opDeleteComment, "delete_failed", err, zap.String("comment_id", commentID.String()))
		return newServiceError(opDeleteComment, "delete_failed", err)
	}

	s.changes.Publish(realtime.TableComments, realtime.OperationDelete, comment.CommentID, comment)
	return nil
}

// ListComments returns a post's comments joined with author profiles, ordered
// oldest first.
func (s *Service) ListComments(ctx context.Context, postID RowID) ([]CommentWithAuthor, error) {
	var comments []CommentWithAuthor
	err := s.db.WithContext(ctx).
		Table("comments").
		Select("comments.*, profiles.username AS author_username, profiles.avatar_url AS author_avatar_url").
		Joins("LEFT JOIN profiles ON profiles.user_id = comments.author_id").
		Where("comments.post_id = ?", postID.String()).
		Order("comments.created_at ASC, comments.comment_id ASC").
		Find(&comments).Error
	if err != nil {
		s.logError(opListComments, "query_failed", err, zap.String("post_id", postID.String()))
		return nil, newServiceError(opListComments, "query_failed", err)
	}
	return comments, nil
}

// Like records userID's like on the post. Liking an already liked post is a
// no-op and publishes nothing.
func (s *Service) Like(ctx context.Context, postID RowID, userID string) (Like, error) {
	if _, err := s.GetPost(ctx, postID); err != nil {
		return Like{}, err
	}

	var existing Like
	err := s.db.WithContext(ctx).
		Where("post_id = ? AND user_id = ?", postID.String(), userID).
		Take(&existing).Error
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opLikePost, "select_failed", err, zap.String("post_id", postID.String()))
		return Like{}, newServiceError(opLikePost, "select_failed", err)
	}

	likeID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opLikePost, "id_generation_failed", err)
		return Like{}, newServiceError(opLikePost, "id_generation_failed", err)
	}

	like := Like{
		LikeID:    likeID,
		PostID:    postID.String(),
		UserID:    userID,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&like).Error; err != nil {
		s.logError(opLikePost, "insert_failed", err, zap.String("post_id", postID.String()))
		return Like{}, newServiceError(opLikePost, "insert_failed", err)
	}

	s.changes.Publish(realtime.TableLikes, realtime.OperationInsert, like.LikeID, like)
	return like, nil
}

// Unlike removes userID's like from the post. Removing an absent like is a
// no-op and publishes nothing.
func (s *Service) Unlike(ctx context.Context, postID RowID, userID string) error {
	var like Like
	err := s.db.WithContext(ctx).
		Where("post_id = ? AND user_id = ?", postID.String(), userID).
		Take(&like).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		s.logError(opUnlikePost, "select_failed", err, zap.String("post_id", postID.String()))
		return newServiceError(opUnlikePost, "select_failed", err)
	}

	if err := s.db.WithContext(ctx).Delete(&like).Error; err != nil {
		s.logError(opUnlikePost, "delete_failed", err, zap.String("post_id", postID.String()))
		return newServiceError(opUnlikePost, "delete_failed", err)
	}

	s.changes.Publish(realtime.TableLikes, realtime.OperationDelete, like.LikeID, like)
	return nil
}

// ListLikes returns the like rows for a post, oldest first.
func (s *Service) ListLikes(ctx context.Context, postID RowID) ([]Like, error) {
	var likes []Like
	err := s.db.WithContext(ctx).
		Where("post_id = ?", postID.String()).
		Order("created_at ASC, like_id ASC").
		Find(&likes).Error
	if err != nil {
		s.logError(opListLikes, "query_failed", err, zap.String("post_id", postID.String()))
		return nil, newServiceError(opListLikes, "query_failed", err)
	}
	return likes, nil
}

// LikeCount returns the number of likes on a post.
func (s *Service) LikeCount(ctx context.Context, postID RowID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Like{}).
		Where("post_id = ?", postID.String()).
		Count(&count).Error
	if err != nil {
		s.logError(opLikeCount, "query_failed", err, zap.String("post_id", postID.String()))
		return 0, newServiceError(opLikeCount, "query_failed", err)
	}
	return count, nil
}

func (s *Service) commentWithAuthor(ctx context.Context, commentID string) (CommentWithAuthor, error) {
	var joined CommentWithAuthor
	err := s.db.WithContext(ctx).
		Table("comments").
		Select("comments.*, profiles.username AS author_username, profiles.avatar_url AS author_avatar_url").
		Joins("LEFT JOIN profiles ON profiles.user_id = comments.author_id").
		Where("comments.comment_id = ?", commentID).
		Take(&joined).Error
	if err != nil {
		s.logError(opCreateComment, "join_failed", err, zap.String("comment_id", commentID))
		return CommentWithAuthor{}, newServiceError(opCreateComment, "join_failed", err)
	}
	return joined, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("feed service error", attrs...)
}
