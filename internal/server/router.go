package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/ripplehq/ripple/internal/auth"
	"github.com/ripplehq/ripple/internal/feed"
	"github.com/ripplehq/ripple/internal/messaging"
	"github.com/ripplehq/ripple/internal/profiles"
	"github.com/ripplehq/ripple/internal/realtime"
	"github.com/ripplehq/ripple/internal/storage"
	"go.uber.org/zap"
)

const userIDContextKey = "ripple_user_id"

// Upload size cap for storage objects.
const maxUploadBytes = 8 << 20

var (
	errMissingAuthService      = errors.New("auth service dependency required")
	errMissingProfileService   = errors.New("profile service dependency required")
	errMissingFeedService      = errors.New("feed service dependency required")
	errMissingMessagingService = errors.New("messaging service dependency required")
	errMissingStorage          = errors.New("storage dependency required")
	errMissingRealtime         = errors.New("realtime dispatcher dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// Dependencies wires the HTTP layer to the domain services.
type Dependencies struct {
	Auth      *auth.Service
	Profiles  *profiles.Service
	Feed      *feed.Service
	Messaging *messaging.Service
	Storage   *storage.Store
	Realtime  *realtime.Dispatcher
	Logger    *zap.Logger
}

// NewHTTPHandler builds the gin router for the API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Auth == nil {
		return nil, errMissingAuthService
	}
	if deps.Profiles == nil {
		return nil, errMissingProfileService
	}
	if deps.Feed == nil {
		return nil, errMissingFeedService
	}
	if deps.Messaging == nil {
		return nil, errMissingMessagingService
	}
	if deps.Storage == nil {
		return nil, errMissingStorage
	}
	if deps.Realtime == nil {
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		auth:      deps.Auth,
		profiles:  deps.Profiles,
		feed:      deps.Feed,
		messaging: deps.Messaging,
		storage:   deps.Storage,
		realtime:  deps.Realtime,
		logger:    logger,
	}

	router.POST("/auth/signup", handler.handleSignUp)
	router.POST("/auth/signin", handler.handleSignIn)
	router.POST("/auth/recover", handler.handleStartRecovery)
	router.POST("/auth/recover/confirm", handler.handleConfirmRecovery)
	router.GET("/profiles/:username", handler.handleGetProfile)
	router.GET("/storage/:bucket/*path", handler.handleDownload)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/auth/session", handler.handleGetSession)
	protected.POST("/auth/signout", handler.handleSignOut)
	protected.PATCH("/auth/user", handler.handleUpdateUser)
	protected.GET("/posts", handler.handleListPosts)
	protected.POST("/posts", handler.handleCreatePost)
	protected.GET("/posts/:id", handler.handleGetPost)
	protected.DELETE("/posts/:id", handler.handleDeletePost)
	protected.GET("/posts/:id/comments", handler.handleListComments)
	protected.POST("/posts/:id/comments", handler.handleCreateComment)
	protected.DELETE("/comments/:id", handler.handleDeleteComment)
	protected.PUT("/posts/:id/like", handler.handleLike)
	protected.DELETE("/posts/:id/like", handler.handleUnlike)
	protected.GET("/posts/:id/likes", handler.handleListLikes)
	protected.GET("/posts/:id/likes/count", handler.handleLikeCount)
	protected.GET("/conversations", handler.handleListConversations)
	protected.POST("/conversations", handler.handleEnsureConversation)
	protected.GET("/conversations/:id/messages", handler.handleListMessages)
	protected.POST("/conversations/:id/messages", handler.handleSendMessage)
	protected.POST("/storage/:bucket/*path", handler.handleUpload)
	protected.GET("/realtime", handler.handleRealtimeStream)

	return router, nil
}

type httpHandler struct {
	auth      *auth.Service
	profiles  *profiles.Service
	feed      *feed.Service
	messaging *messaging.Service
	storage   *storage.Store
	realtime  *realtime.Dispatcher
	logger    *zap.Logger
}

type credentialsPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

type grantPayload struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func grantResponse(grant auth.Grant) grantPayload {
	return grantPayload{
		UserID:      grant.UserID,
		Email:       grant.Email,
		AccessToken: grant.AccessToken,
		ExpiresIn:   grant.ExpiresIn,
		TokenType:   "Bearer",
	}
}

func (h *httpHandler) handleSignUp(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	// Check the handle before touching the accounts table so a rejected
	// sign-up leaves no partial state behind.
	if _, err := h.profiles.GetByUsername(c.Request.Context(), request.Username); err == nil {
		h.writeDomainError(c, profiles.ErrUsernameTaken)
		return
	} else if !errors.Is(err, profiles.ErrProfileNotFound) {
		h.writeDomainError(c, err)
		return
	}

	grant, err := h.auth.SignUp(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.writeAuthError(c, err)
		return
	}

	if _, err := h.profiles.Create(c.Request.Context(), grant.UserID, request.Username); err != nil {
		// Unwind the account row; a lost handle race must not burn the address.
		if deleteErr := h.auth.DeleteAccount(c.Request.Context(), grant.UserID); deleteErr != nil {
			h.logger.Error("sign-up unwind failed",
				zap.Error(deleteErr),
				zap.String("user_id", grant.UserID))
		}
		h.writeDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, grantResponse(grant))
}

func (h *httpHandler) handleSignIn(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	grant, err := h.auth.SignIn(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.writeAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, grantResponse(grant))
}

type recoveryPayload struct {
	Email string `json:"email"`
}

func (h *httpHandler) handleStartRecovery(c *gin.Context) {
	var request recoveryPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.auth.StartRecovery(c.Request.Context(), request.Email); err != nil {
		h.writeAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

type recoveryConfirmPayload struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *httpHandler) handleConfirmRecovery(c *gin.Context) {
	var request recoveryConfirmPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	grant, err := h.auth.ConfirmRecovery(c.Request.Context(), request.Token, request.Password)
	if err != nil {
		h.writeAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, grantResponse(grant))
}

func (h *httpHandler) handleGetSession(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	profile, err := h.profiles.Get(c.Request.Context(), userID)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "profile": profile})
}

type signOutPayload struct {
	Scope string `json:"scope"`
}

func (h *httpHandler) handleSignOut(c *gin.Context) {
	var request signOutPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Scope == "" {
		request.Scope = string(auth.SignOutScopeLocal)
	}

	err := h.auth.SignOut(c.Request.Context(), c.GetString(userIDContextKey), auth.SignOutScope(request.Scope))
	if err != nil {
		h.writeAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "signed_out"})
}

type updateUserPayload struct {
	Password    *string `json:"password"`
	Username    *string `json:"username"`
	DisplayName *string `json:"display_name"`
	AvatarURL   *string `json:"avatar_url"`
	Bio         *string `json:"bio"`
}

func (h *httpHandler) handleUpdateUser(c *gin.Context) {
	var request updateUserPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	userID := c.GetString(userIDContextKey)

	if request.Password != nil {
		if err := h.auth.UpdatePassword(c.Request.Context(), userID, *request.Password); err != nil {
			h.writeAuthError(c, err)
			return
		}
	}

	profile, err := h.profiles.Apply(c.Request.Context(), userID, profiles.Update{
		Username:    request.Username,
		DisplayName: request.DisplayName,
		AvatarURL:   request.AvatarURL,
		Bio:         request.Bio,
	})
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	profile, err := h.profiles.GetByUsername(c.Request.Context(), c.Param("username"))
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

type createPostPayload struct {
	Content  string `json:"content"`
	ImageURL string `json:"image_url"`
}

func (h *httpHandler) handleCreatePost(c *gin.Context) {
	var request createPostPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	content, err := feed.NewContent(request.Content)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_content"})
		return
	}

	post, err := h.feed.CreatePost(c.Request.Context(), c.GetString(userIDContextKey), content, request.ImageURL)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func (h *httpHandler) handleGetPost(c *gin.Context) {
	postID, err := feed.NewRowID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_post_id"})
		return
	}
	post, err := h.feed.GetPost(c.Request.Context(), postID)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func (h *httpHandler) handleDeletePost(c *gin.Context) {
	postID, err := feed.NewRowID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_post_id"})
		return
	}
	if err := h.feed.DeletePost(c.Request.Context(), c.GetString(userIDContextKey), postID); err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *httpHandler) handleListPosts(c *gin.Context) {
	limit := 0
	if rawLimit := c.Query("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = parsed
	}

	posts, err := h.feed.ListPosts(c.Request.Context(), c.Query("author"), limit)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": posts})
}

type createCommentPayload struct {
	Content string `json:"content"`
}

func (h *httpHandler) handleCreateComment(c *gin.Context) {
	postID, err := feed.NewRowID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_post_id"})
		return
	}
	var request createCommentPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	content, err := feed.NewContent(request.Content)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_content"})
		return
	}

	comment, err := h.feed.CreateComment(c.Request.Context(), postID, c.GetString(userIDContextKey), content)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, comment)
}

func (h *httpHandler) handleDeleteComment(c *gin.Context) {
	commentID, err := feed.NewRowID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_comment_id"})
		return
	}
	if err := h.feed.DeleteComment(c.Request.Context(), c.GetString(userIDContextKey), commentID); err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	postID, err := feed.NewRowID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_post_id"})
		return
	}
	comments, err := h.feed.ListComments(c.Request.Context(), postID)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments})
}

func (h *httpHandler) handleLike(c *gin.Context) {
	postID, err := feed.NewRowID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_post_id"})
		return
	}
	like, err := h.feed.Like(c.Request.Context(), postID, c.GetString(userIDContextKey))
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, like)
}

func (h *httpHandler) handleUnlike(c *gin.Context) {
	postID, err := feed.NewRowID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_post_id"})
		return
	}
	if err := h.feed.Unlike(c.Request.Context(), postID, c.GetString(userIDContextKey)); err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unliked"})
}

func (h *httpHandler) handleListLikes(c *gin.Context) {
	postID, err := feed.NewRowID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_post_id"})
		return
	}
	likes, err := h.feed.ListLikes(c.Request.Context(), postID)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"likes": likes})
}

func (h *httpHandler) handleLikeCount(c *gin.Context) {
	postID, err := feed.NewRowID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_post_id"})
		return
	}
	count, err := h.feed.LikeCount(c.Request.Context(), postID)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

type ensureConversationPayload struct {
	UserID string `json:"user_id"`
}

func (h *httpHandler) handleEnsureConversation(c *gin.Context) {
	var request ensureConversationPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	conversation, err := h.messaging.EnsureConversation(c.Request.Context(), c.GetString(userIDContextKey), request.UserID)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, conversation)
}

func (h *httpHandler) handleListConversations(c *gin.Context) {
	conversations, err := h.messaging.ListConversations(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

func (h *httpHandler) handleListMessages(c *gin.Context) {
	messages, err := h.messaging.ListMessages(c.Request.Context(), c.Param("id"), c.GetString(userIDContextKey))
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

type sendMessagePayload struct {
	Body string `json:"body"`
}

func (h *httpHandler) handleSendMessage(c *gin.Context) {
	var request sendMessagePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	message, err := h.messaging.SendMessage(c.Request.Context(), c.Param("id"), c.GetString(userIDContextKey), request.Body)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, message)
}

func (h *httpHandler) handleUpload(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty_body"})
		return
	}
	if len(data) > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "object_too_large"})
		return
	}

	publicURL, err := h.storage.Upload(c.Param("bucket"), c.Param("path"), data)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"public_url": publicURL})
}

func (h *httpHandler) handleDownload(c *gin.Context) {
	data, err := h.storage.Open(c.Param("bucket"), c.Param("path"))
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	session, err := h.auth.ValidateSession(c.Request.Context(), token)
	if err != nil {
		h.logger.Warn("session validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, session.UserID)
	c.Next()
}

// bearerToken accepts the Authorization header or, for websocket upgrades
// where custom headers are awkward, the access_token query parameter.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(c.Query("access_token"))
}

func (h *httpHandler) writeAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrInvalidSignOutScope):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "detail": err.Error()})
	case errors.Is(err, auth.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "email_taken"})
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
	case errors.Is(err, auth.ErrRecoverySession):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "recovery_session_invalid"})
	case errors.Is(err, auth.ErrSessionRevoked), errors.Is(err, auth.ErrExpiredToken), errors.Is(err, auth.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	default:
		h.logger.Error("auth request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func (h *httpHandler) writeDomainError(c *gin.Context, err error) {
	var serviceErr *feed.ServiceError
	switch {
	case errors.Is(err, feed.ErrInvalidRowID),
		errors.Is(err, feed.ErrInvalidContent),
		errors.Is(err, profiles.ErrInvalidUsername),
		errors.Is(err, messaging.ErrEmptyMessage),
		errors.Is(err, messaging.ErrSelfConversation),
		errors.Is(err, storage.ErrInvalidBucket),
		errors.Is(err, storage.ErrInvalidPath):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "detail": err.Error()})
	case errors.Is(err, feed.ErrNotAuthor), errors.Is(err, messaging.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, feed.ErrPostNotFound),
		errors.Is(err, feed.ErrCommentNotFound),
		errors.Is(err, profiles.ErrProfileNotFound),
		errors.Is(err, messaging.ErrConversationNotFound),
		errors.Is(err, storage.ErrObjectNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, profiles.ErrUsernameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "username_taken"})
	case errors.As(err, &serviceErr):
		h.logger.Error("feed request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "code": serviceErr.Code()})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
