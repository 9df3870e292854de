package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultSessionTTL  = time.Hour
	defaultRecoveryTTL = 15 * time.Minute

	// TokenPurposeSession marks a token usable for regular API access.
	TokenPurposeSession = "session"
	// TokenPurposeRecovery marks a token usable only to set a new password.
	TokenPurposeRecovery = "recovery"
)

var (
	errMissingSigningSecret = errors.New("auth: signing secret must be provided")
	errMissingSubjectClaim  = errors.New("auth: subject claim must be provided")
	// ErrExpiredToken indicates a structurally valid token past its expiry.
	ErrExpiredToken = errors.New("auth: token expired")
	// ErrInvalidToken indicates a malformed, mis-signed, or mis-purposed token.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// TokenClaims is the JWT payload for both session and recovery tokens.
type TokenClaims struct {
	Purpose    string `json:"purpose"`
	Generation int64  `json:"gen"`
	Email      string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuerConfig configures the backend JWT issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	SessionTTL    time.Duration
	RecoveryTTL   time.Duration
	Clock         func() time.Time
}

// TokenIssuer issues and validates session and recovery JWTs.
type TokenIssuer struct {
	config TokenIssuerConfig
	clock  func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer with sane defaults.
func NewTokenIssuer(cfg TokenIssuerConfig) *TokenIssuer {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.RecoveryTTL <= 0 {
		cfg.RecoveryTTL = defaultRecoveryTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	cfg.Clock = clock
	return &TokenIssuer{config: cfg, clock: clock}
}

// IssueSessionToken produces a signed session JWT and its expiry in seconds.
func (i *TokenIssuer) IssueSessionToken(userID string, generation int64, email string) (string, int64, error) {
	return i.issue(userID, TokenPurposeSession, generation, email, i.config.SessionTTL)
}

// IssueRecoveryToken produces a short-lived JWT embedded in a magic link.
func (i *TokenIssuer) IssueRecoveryToken(userID string, generation int64, email string) (string, int64, error) {
	return i.issue(userID, TokenPurposeRecovery, generation, email, i.config.RecoveryTTL)
}

func (i *TokenIssuer) issue(subject, purpose string, generation int64, email string, ttl time.Duration) (string, int64, error) {
	if len(i.config.SigningSecret) == 0 {
		return "", 0, errMissingSigningSecret
	}
	if subject == "" {
		return "", 0, errMissingSubjectClaim
	}

	now := i.clock().UTC()
	expiresAt := now.Add(ttl).UTC()

	claims := TokenClaims{
		Purpose:    purpose,
		Generation: generation,
		Email:      email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.config.Issuer,
			Audience:  []string{i.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.config.SigningSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateToken ensures the JWT is well formed, carries the expected purpose,
// and returns the parsed claims.
func (i *TokenIssuer) ValidateToken(tokenString, expectedPurpose string) (TokenClaims, error) {
	if len(i.config.SigningSecret) == 0 {
		return TokenClaims{}, errMissingSigningSecret
	}

	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidToken, token.Method.Alg())
			}
			return i.config.SigningSecret, nil
		},
		jwt.WithAudience(i.config.Audience),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithTimeFunc(i.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return TokenClaims{}, ErrExpiredToken
		}
		return TokenClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return TokenClaims{}, errMissingSubjectClaim
	}
	if claims.Purpose != expectedPurpose {
		return TokenClaims{}, fmt.Errorf("%w: purpose %q", ErrInvalidToken, claims.Purpose)
	}
	return *claims, nil
}
