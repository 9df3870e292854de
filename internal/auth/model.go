package auth

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

const (
	maxIdentifierLength = 190
	minPasswordLength   = 6
)

var (
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("auth: invalid user id")
	// ErrInvalidEmail indicates that an email address failed validation.
	ErrInvalidEmail = errors.New("auth: invalid email")
	// ErrPasswordTooShort indicates that a password is below the minimum length.
	ErrPasswordTooShort = fmt.Errorf("auth: password must be at least %d characters", minPasswordLength)
)

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Email represents a validated email address, normalized to lower case.
type Email string

// NewEmail validates raw input and returns an Email.
func NewEmail(rawInput string) (Email, error) {
	trimmed := strings.ToLower(strings.TrimSpace(rawInput))
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEmail)
	}
	if _, err := mail.ParseAddress(trimmed); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidEmail, trimmed)
	}
	return Email(trimmed), nil
}

// String returns the underlying address.
func (e Email) String() string {
	return string(e)
}

// ValidatePassword enforces the minimum password length before any hashing occurs.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}

// Account stores first-party credentials for a user.
type Account struct {
	UserID          string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Email           string    `gorm:"column:email;size:320;not null;uniqueIndex:idx_accounts_email"`
	PasswordHash    string    `gorm:"column:password_hash;size:128;not null"`
	TokenGeneration int64     `gorm:"column:token_generation;not null;default:0"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Account) TableName() string {
	return "accounts"
}
