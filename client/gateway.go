package client

import (
	"context"
	"encoding/json"
)

// Filter narrows a query to matching rows, keyed by column name.
type Filter map[string]string

// Payload carries the fields of a mutation, keyed by column name.
type Payload map[string]string

// Order selects the arrangement of query results.
type Order int

const (
	// OrderDefault keeps the server's canonical order for the table.
	OrderDefault Order = iota
	// OrderCreatedAscending sorts oldest first.
	OrderCreatedAscending
	// OrderCreatedDescending sorts newest first.
	OrderCreatedDescending
)

// SignOutScope selects how far a sign-out reaches.
type SignOutScope string

const (
	// SignOutLocal drops only this client's token.
	SignOutLocal SignOutScope = "local"
	// SignOutGlobal revokes every outstanding session for the user.
	SignOutGlobal SignOutScope = "global"
)

// Session describes the authenticated user.
type Session struct {
	UserID  string          `json:"user_id"`
	Profile json.RawMessage `json:"profile"`
}

// UserUpdate carries the optional account and profile fields to change. Nil
// fields are left untouched.
type UserUpdate struct {
	Password    *string `json:"password,omitempty"`
	Username    *string `json:"username,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
	Bio         *string `json:"bio,omitempty"`
}

// Subscription is the handle for an open change-event stream. After Close
// returns, no further events reach the subscription's handlers.
type Subscription interface {
	Close() error
}

// Gateway is the backend boundary the SDK's screens talk through: queries,
// mutations, change-event subscriptions, file upload, and the auth surface.
type Gateway interface {
	Query(ctx context.Context, table string, filter Filter, order Order) ([]Row, error)
	Mutate(ctx context.Context, table string, op Operation, payload Payload) (Row, error)
	Subscribe(ctx context.Context, handlers map[string]ChangeHandlers) (Subscription, error)
	UploadFile(ctx context.Context, bucket, path string, data []byte) (string, error)
	GetSession(ctx context.Context) (Session, error)
	UpdateUser(ctx context.Context, update UserUpdate) error
	SignOut(ctx context.Context, scope SignOutScope) error
}
