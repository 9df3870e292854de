package messaging

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ripplehq/ripple/internal/realtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("messaging: database handle is required")
	errMissingIDProvider = errors.New("messaging: id provider is required")
	// ErrConversationNotFound indicates the referenced thread does not exist.
	ErrConversationNotFound = errors.New("messaging: conversation not found")
	// ErrNotParticipant indicates the caller is not part of the conversation.
	ErrNotParticipant = errors.New("messaging: caller is not a participant")
	// ErrSelfConversation indicates an attempt to open a thread with oneself.
	ErrSelfConversation = errors.New("messaging: cannot message yourself")
	// ErrEmptyMessage indicates a message with no body.
	ErrEmptyMessage = errors.New("messaging: message body is empty")
)

// IDProvider supplies identifiers for new rows.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the messaging service.
type ServiceConfig struct {
	Database   *gorm.DB
	Changes    realtime.Publisher
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service owns conversations and messages. Message events are addressed to
// the two participants only.
type Service struct {
	db         *gorm.DB
	changes    realtime.Publisher
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the messaging service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
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
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		changes:    changes,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// EnsureConversation returns the thread between the two users, creating it on
// first contact.
func (s *Service) EnsureConversation(ctx context.Context, userID, otherID string) (Conversation, error) {
	first, second := orderPair(userID, otherID)
	if first == second {
		return Conversation{}, ErrSelfConversation
	}

	var conversation Conversation
	err := s.db.WithContext(ctx).
		Where("participant_a = ? AND participant_b = ?", first, second).
		Take(&conversation).Error
	if err == nil {
		return conversation, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Conversation{}, err
	}

	conversationID, err := s.idProvider.NewID()
	if err != nil {
		return Conversation{}, err
	}
	conversation = Conversation{
		ConversationID: conversationID,
		ParticipantA:   first,
		ParticipantB:   second,
		CreatedAt:      s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&conversation).Error; err != nil {
		s.logger.Error("conversation create failed", zap.Error(err),
			zap.String("participant_a", first),
			zap.String("participant_b", second))
		return Conversation{}, err
	}
	return conversation, nil
}

// ListConversations returns every thread the user participates in, most
// recent first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	var conversations []Conversation
	err := s.db.WithContext(ctx).
		Where("participant_a = ? OR participant_b = ?", userID, userID).
		Order("created_at DESC").
		Find(&conversations).Error
	if err != nil {
		return nil, err
	}
	return conversations, nil
}

// SendMessage appends a message to the thread and publishes an insert event
// addressed to both participants.
func (s *Service) SendMessage(ctx context.Context, conversationID, senderID, body string) (Message, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return Message{}, ErrEmptyMessage
	}

	conversation, err := s.conversation(ctx, conversationID)
	if err != nil {
		return Message{}, err
	}
	if !conversation.Includes(senderID) {
		return Message{}, ErrNotParticipant
	}

	messageID, err := s.idProvider.NewID()
	if err != nil {
		return Message{}, err
	}
	message := Message{
		MessageID:      messageID,
		ConversationID: conversation.ConversationID,
		SenderID:       senderID,
		Body:           trimmed,
		CreatedAt:      s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		s.logger.Error("message insert failed", zap.Error(err),
			zap.String("conversation_id", conversation.ConversationID))
		return Message{}, err
	}

	s.changes.Publish(realtime.TableMessages, realtime.OperationInsert, message.MessageID, message,
		conversation.ParticipantA, conversation.ParticipantB)
	return message, nil
}

// ListMessages returns a thread's messages oldest first. The caller must be a
// participant.
func (s *Service) ListMessages(ctx context.Context, conversationID, callerID string) ([]Message, error) {
	conversation, err := s.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.Includes(callerID) {
		return nil, ErrNotParticipant
	}

	var messages []Message
	err = s.db.WithContext(ctx).
		Where("conversation_id = ?", conversation.ConversationID).
		Order("created_at ASC, message_id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *Service) conversation(ctx context.Context, conversationID string) (Conversation, error) {
	var conversation Conversation
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Take(&conversation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	return conversation, nil
}

func orderPair(a, b string) (string, string) {
	if strings.Compare(a, b) <= 0 {
		return a, b
	}
	return b, a
}
