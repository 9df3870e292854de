package profiles

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 32
)

// ErrInvalidUsername indicates a username outside length or charset bounds.
var ErrInvalidUsername = errors.New("profiles: invalid username")

// Username represents a validated, lower-cased handle.
type Username string

// NewUsername validates raw input and returns a Username.
func NewUsername(rawInput string) (Username, error) {
	trimmed := strings.ToLower(strings.TrimSpace(rawInput))
	if len(trimmed) < minUsernameLength || len(trimmed) > maxUsernameLength {
		return "", fmt.Errorf("%w: must be %d-%d characters", ErrInvalidUsername, minUsernameLength, maxUsernameLength)
	}
	for _, r := range trimmed {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' || r == '.' {
			continue
		}
		return "", fmt.Errorf("%w: character %q not allowed", ErrInvalidUsername, r)
	}
	return Username(trimmed), nil
}

// String returns the underlying handle.
func (u Username) String() string {
	return string(u)
}

// Profile is the public-facing record for a user.
type Profile struct {
	UserID      string    `gorm:"column:user_id;primaryKey;size:190;not null" json:"user_id"`
	Username    string    `gorm:"column:username;size:32;not null;uniqueIndex:idx_profiles_username" json:"username"`
	DisplayName string    `gorm:"column:display_name;size:320" json:"display_name"`
	AvatarURL   string    `gorm:"column:avatar_url;size:512" json:"avatar_url"`
	Bio         string    `gorm:"column:bio;size:1024" json:"bio"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Profile) TableName() string {
	return "profiles"
}

// Update carries the optional profile fields a user may change. Nil fields are
// left untouched.
type Update struct {
	Username    *string
	DisplayName *string
	AvatarURL   *string
	Bio         *string
}
