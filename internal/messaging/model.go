package messaging

import "time"

// Conversation is a two-party message thread. Participants are stored in
// lexical order so each pair maps to exactly one row.
type Conversation struct {
	ConversationID string    `gorm:"column:conversation_id;primaryKey;size:190;not null" json:"conversation_id"`
	ParticipantA   string    `gorm:"column:participant_a;size:190;not null;uniqueIndex:idx_conversations_pair,priority:1" json:"participant_a"`
	ParticipantB   string    `gorm:"column:participant_b;size:190;not null;uniqueIndex:idx_conversations_pair,priority:2" json:"participant_b"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Conversation) TableName() string {
	return "conversations"
}

// Includes reports whether userID is a participant.
func (c Conversation) Includes(userID string) bool {
	return c.ParticipantA == userID || c.ParticipantB == userID
}

// Message is a single entry in a conversation.
type Message struct {
	MessageID      string    `gorm:"column:message_id;primaryKey;size:190;not null" json:"message_id"`
	ConversationID string    `gorm:"column:conversation_id;size:190;not null;index:idx_messages_conversation_created,priority:1" json:"conversation_id"`
	SenderID       string    `gorm:"column:sender_id;size:190;not null" json:"sender_id"`
	Body           string    `gorm:"column:body;type:text;not null" json:"body"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime;index:idx_messages_conversation_created,priority:2" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Message) TableName() string {
	return "messages"
}
