package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SignOutScope selects how far a sign-out reaches.
type SignOutScope string

const (
	// SignOutScopeLocal invalidates only the caller's own token (client side).
	SignOutScopeLocal SignOutScope = "local"
	// SignOutScopeGlobal invalidates every outstanding session for the user.
	SignOutScopeGlobal SignOutScope = "global"
)

var (
	errMissingDatabase    = errors.New("auth: database handle is required")
	errMissingTokenIssuer = errors.New("auth: token issuer is required")
	errMissingIDProvider  = errors.New("auth: id provider is required")
	// ErrInvalidCredentials indicates an unknown email or wrong password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrEmailTaken indicates a sign-up against an already registered address.
	ErrEmailTaken = errors.New("auth: email already registered")
	// ErrAccountNotFound indicates no account exists for the identifier.
	ErrAccountNotFound = errors.New("auth: account not found")
	// ErrRecoverySession indicates a missing, expired, or superseded recovery token.
	ErrRecoverySession = errors.New("auth: recovery session missing or expired")
	// ErrSessionRevoked indicates a session invalidated by a global sign-out.
	ErrSessionRevoked = errors.New("auth: session revoked")
	// ErrInvalidSignOutScope indicates an unknown sign-out scope value.
	ErrInvalidSignOutScope = errors.New("auth: invalid sign-out scope")
)

// IDProvider supplies unique identifiers for new accounts.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required by the auth service.
type ServiceConfig struct {
	Database      *gorm.DB
	Tokens        *TokenIssuer
	IDProvider    IDProvider
	MagicLinks    MagicLinkSender
	PublicBaseURL string
	Clock         func() time.Time
	Logger        *zap.Logger
}

// Service owns accounts, credentials, and session lifecycle.
type Service struct {
	db            *gorm.DB
	tokens        *TokenIssuer
	idProvider    IDProvider
	magicLinks    MagicLinkSender
	publicBaseURL string
	clock         func() time.Time
	logger        *zap.Logger
}

// NewService constructs the auth service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Tokens == nil {
		return nil, errMissingTokenIssuer
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	magicLinks := cfg.MagicLinks
	if magicLinks == nil {
		magicLinks = LoggingMagicLinkSender{Logger: logger}
	}
	return &Service{
		db:            cfg.Database,
		tokens:        cfg.Tokens,
		idProvider:    cfg.IDProvider,
		magicLinks:    magicLinks,
		publicBaseURL: cfg.PublicBaseURL,
		clock:         clock,
		logger:        logger,
	}, nil
}

// Grant is the result of a successful authentication.
type Grant struct {
	UserID      string
	Email       string
	AccessToken string
	ExpiresIn   int64
}

// Session describes a validated access token.
type Session struct {
	UserID    string
	Email     string
	ExpiresAt time.Time
}

// SignUp registers a new account and returns a session grant.
func (s *Service) SignUp(ctx context.Context, rawEmail, password string) (Grant, error) {
	email, err := NewEmail(rawEmail)
	if err != nil {
		return Grant{}, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Grant{}, err
	}

	var existing Account
	err = s.db.WithContext(ctx).Where("email = ?", email.String()).Take(&existing).Error
	if err == nil {
		return Grant{}, ErrEmailTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Grant{}, err
	}

	userID, err := s.idProvider.NewID()
	if err != nil {
		return Grant{}, err
	}

	account := Account{
		UserID:       userID,
		Email:        email.String(),
		PasswordHash: hash,
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		s.logger.Error("account create failed", zap.Error(err), zap.String("email", email.String()))
		return Grant{}, err
	}

	return s.grantFor(account)
}

// SignIn authenticates an existing account and returns a session grant.
func (s *Service) SignIn(ctx context.Context, rawEmail, password string) (Grant, error) {
	email, err := NewEmail(rawEmail)
	if err != nil {
		return Grant{}, err
	}

	var account Account
	err = s.db.WithContext(ctx).Where("email = ?", email.String()).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Grant{}, ErrInvalidCredentials
	}
	if err != nil {
		return Grant{}, err
	}
	if err := ComparePassword(account.PasswordHash, password); err != nil {
		return Grant{}, ErrInvalidCredentials
	}

	return s.grantFor(account)
}

// StartRecovery issues a magic link for the account behind the address. To
// avoid leaking which addresses exist, an unknown address is not an error.
func (s *Service) StartRecovery(ctx context.Context, rawEmail string) error {
	email, err := NewEmail(rawEmail)
	if err != nil {
		return err
	}

	var account Account
	err = s.db.WithContext(ctx).Where("email = ?", email.String()).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Info("recovery requested for unknown address", zap.String("email", email.String()))
		return nil
	}
	if err != nil {
		return err
	}

	token, _, err := s.tokens.IssueRecoveryToken(account.UserID, account.TokenGeneration, account.Email)
	if err != nil {
		return err
	}

	link := fmt.Sprintf("%s/auth/recover/confirm?token=%s", s.publicBaseURL, url.QueryEscape(token))
	return s.magicLinks.SendMagicLink(account.Email, link)
}

// ConfirmRecovery redeems a magic-link token, sets the new password, revokes
// every outstanding session, and returns a fresh grant.
func (s *Service) ConfirmRecovery(ctx context.Context, recoveryToken, newPassword string) (Grant, error) {
	if err := ValidatePassword(newPassword); err != nil {
		return Grant{}, err
	}

	claims, err := s.tokens.ValidateToken(recoveryToken, TokenPurposeRecovery)
	if err != nil {
		return Grant{}, fmt.Errorf("%w: %v", ErrRecoverySession, err)
	}

	var account Account
	err = s.db.WithContext(ctx).Where("user_id = ?", claims.Subject).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Grant{}, ErrRecoverySession
	}
	if err != nil {
		return Grant{}, err
	}
	if account.TokenGeneration != claims.Generation {
		return Grant{}, ErrRecoverySession
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return Grant{}, err
	}
	account.PasswordHash = hash
	account.TokenGeneration++
	if err := s.db.WithContext(ctx).Save(&account).Error; err != nil {
		return Grant{}, err
	}

	return s.grantFor(account)
}

// DeleteAccount removes an account row. Registration uses this to unwind the
// account when a later step fails, so the address stays free for a retry.
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	result := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&Account{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// UpdatePassword sets a new password for an authenticated user.
func (s *Service) UpdatePassword(ctx context.Context, userID, newPassword string) error {
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Model(&Account{}).
		Where("user_id = ?", userID).
		Update("password_hash", hash)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SignOut ends sessions for the user. Local scope is a client-side discard;
// global scope bumps the token generation so every outstanding token fails
// validation.
func (s *Service) SignOut(ctx context.Context, userID string, scope SignOutScope) error {
	switch scope {
	case SignOutScopeLocal:
		return nil
	case SignOutScopeGlobal:
		result := s.db.WithContext(ctx).Model(&Account{}).
			Where("user_id = ?", userID).
			Update("token_generation", gorm.Expr("token_generation + 1"))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrAccountNotFound
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSignOutScope, scope)
	}
}

// ValidateSession checks an access token and returns the session it represents.
func (s *Service) ValidateSession(ctx context.Context, token string) (Session, error) {
	claims, err := s.tokens.ValidateToken(token, TokenPurposeSession)
	if err != nil {
		return Session{}, err
	}

	var account Account
	err = s.db.WithContext(ctx).Where("user_id = ?", claims.Subject).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, ErrAccountNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if account.TokenGeneration != claims.Generation {
		return Session{}, ErrSessionRevoked
	}

	return Session{
		UserID:    account.UserID,
		Email:     account.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) grantFor(account Account) (Grant, error) {
	token, expiresIn, err := s.tokens.IssueSessionToken(account.UserID, account.TokenGeneration, account.Email)
	if err != nil {
		return Grant{}, err
	}
	return Grant{
		UserID:      account.UserID,
		Email:       account.Email,
		AccessToken: token,
		ExpiresIn:   expiresIn,
	}, nil
}
