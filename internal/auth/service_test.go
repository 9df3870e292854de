package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequentialIDProvider struct {
	next int
}

func (p *sequentialIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("user-%04d", p.next), nil
}

type capturingMagicLinkSender struct {
	emails []string
	links  []string
}

func (s *capturingMagicLinkSender) SendMagicLink(email, link string) error {
	s.emails = append(s.emails, email)
	s.links = append(s.links, link)
	return nil
}

func openAccountDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "auth.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access pool: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := db.AutoMigrate(&Account{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (*Service, *capturingMagicLinkSender) {
	t.Helper()
	sender := &capturingMagicLinkSender{}
	service, err := NewService(ServiceConfig{
		Database:      openAccountDatabase(t),
		Tokens:        newTestIssuer(nil),
		IDProvider:    &sequentialIDProvider{},
		MagicLinks:    sender,
		PublicBaseURL: "https://ripple.example",
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, sender
}

func TestSignUpThenSignIn(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	grant, err := service.SignUp(ctx, "Person@Example.com", "sturdy-password")
	if err != nil {
		t.Fatalf("unexpected sign-up error: %v", err)
	}
	if grant.Email != "person@example.com" {
		t.Fatalf("expected normalized email, got %q", grant.Email)
	}
	if grant.AccessToken == "" {
		t.Fatal("expected an access token")
	}

	again, err := service.SignIn(ctx, "person@example.com", "sturdy-password")
	if err != nil {
		t.Fatalf("unexpected sign-in error: %v", err)
	}
	if again.UserID != grant.UserID {
		t.Fatalf("sign-in returned a different user: %q vs %q", again.UserID, grant.UserID)
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.SignUp(ctx, "person@example.com", "sturdy-password"); err != nil {
		t.Fatalf("unexpected sign-up error: %v", err)
	}
	if _, err := service.SignUp(ctx, "PERSON@example.com", "another-password"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestSignInRejectsWrongPassword(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.SignUp(ctx, "person@example.com", "sturdy-password"); err != nil {
		t.Fatalf("unexpected sign-up error: %v", err)
	}
	if _, err := service.SignIn(ctx, "person@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := service.SignIn(ctx, "stranger@example.com", "sturdy-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown address, got %v", err)
	}
}

func TestValidateSessionReturnsGrantOwner(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	grant, err := service.SignUp(ctx, "person@example.com", "sturdy-password")
	if err != nil {
		t.Fatalf("unexpected sign-up error: %v", err)
	}

	session, err := service.ValidateSession(ctx, grant.AccessToken)
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if session.UserID != grant.UserID {
		t.Fatalf("unexpected session user %q", session.UserID)
	}
	if session.ExpiresAt.Before(time.Now()) {
		t.Fatal("expected a future expiry")
	}
}

func TestGlobalSignOutRevokesOutstandingTokens(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	grant, err := service.SignUp(ctx, "person@example.com", "sturdy-password")
	if err != nil {
		t.Fatalf("unexpected sign-up error: %v", err)
	}

	if err := service.SignOut(ctx, grant.UserID, SignOutScopeGlobal); err != nil {
		t.Fatalf("unexpected sign-out error: %v", err)
	}
	if _, err := service.ValidateSession(ctx, grant.AccessToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}

	// A fresh sign-in works and yields a token bound to the new generation.
	fresh, err := service.SignIn(ctx, "person@example.com", "sturdy-password")
	if err != nil {
		t.Fatalf("unexpected sign-in error: %v", err)
	}
	if _, err := service.ValidateSession(ctx, fresh.AccessToken); err != nil {
		t.Fatalf("fresh token should validate: %v", err)
	}
}

func TestLocalSignOutKeepsOtherSessionsValid(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	grant, err := service.SignUp(ctx, "person@example.com", "sturdy-password")
	if err != nil {
		t.Fatalf("unexpected sign-up error: %v", err)
	}
	if err := service.SignOut(ctx, grant.UserID, SignOutScopeLocal); err != nil {
		t.Fatalf("unexpected sign-out error: %v", err)
	}
	if _, err := service.ValidateSession(ctx, grant.AccessToken); err != nil {
		t.Fatalf("local sign-out must not revoke server-side: %v", err)
	}
}

func TestSignOutRejectsUnknownScope(t *testing.T) {
	service, _ := newTestService(t)
	if err := service.SignOut(context.Background(), "user-1", SignOutScope("everywhere")); !errors.Is(err, ErrInvalidSignOutScope) {
		t.Fatalf("expected ErrInvalidSignOutScope, got %v", err)
	}
}

func recoveryTokenFromLink(t *testing.T, link string) string {
	t.Helper()
	parsed, err := url.Parse(link)
	if err != nil {
		t.Fatalf("failed to parse magic link: %v", err)
	}
	token := parsed.Query().Get("token")
	if token == "" {
		t.Fatalf("magic link carries no token: %s", link)
	}
	return token
}

func TestRecoveryFlowResetsPasswordAndRevokesSessions(t *testing.T) {
	service, sender := newTestService(t)
	ctx := context.Background()

	grant, err := service.SignUp(ctx, "person@example.com", "old-password")
	if err != nil {
		t.Fatalf("unexpected sign-up error: %v", err)
	}

	if err := service.StartRecovery(ctx, "person@example.com"); err != nil {
		t.Fatalf("unexpected recovery error: %v", err)
	}
	if len(sender.links) != 1 {
		t.Fatalf("expected one magic link, got %d", len(sender.links))
	}
	if !strings.HasPrefix(sender.links[0], "https://ripple.example/auth/recover/confirm?") {
		t.Fatalf("unexpected link %s", sender.links[0])
	}

	token := recoveryTokenFromLink(t, sender.links[0])
	fresh, err := service.ConfirmRecovery(ctx, token, "new-password")
	if err != nil {
		t.Fatalf("unexpected confirm error: %v", err)
	}

	if _, err := service.SignIn(ctx, "person@example.com", "old-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password to be rejected, got %v", err)
	}
	if _, err := service.SignIn(ctx, "person@example.com", "new-password"); err != nil {
		t.Fatalf("new password should work: %v", err)
	}

	if _, err := service.ValidateSession(ctx, grant.AccessToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected pre-recovery session to be revoked, got %v", err)
	}
	if _, err := service.ValidateSession(ctx, fresh.AccessToken); err != nil {
		t.Fatalf("post-recovery grant should validate: %v", err)
	}
}

func TestRecoveryTokenIsSingleUse(t *testing.T) {
	service, sender := newTestService(t)
	ctx := context.Background()

	if _, err := service.SignUp(ctx, "person@example.com", "old-password"); err != nil {
		t.Fatalf("unexpected sign-up error: %v", err)
	}
	if err := service.StartRecovery(ctx, "person@example.com"); err != nil {
		t.Fatalf("unexpected recovery error: %v", err)
	}
	token := recoveryTokenFromLink(t, sender.links[0])

	if _, err := service.ConfirmRecovery(ctx, token, "new-password"); err != nil {
		t.Fatalf("unexpected confirm error: %v", err)
	}
	if _, err := service.ConfirmRecovery(ctx, token, "another-password"); !errors.Is(err, ErrRecoverySession) {
		t.Fatalf("expected ErrRecoverySession on reuse, got %v", err)
	}
}

func TestStartRecoveryHidesUnknownAddresses(t *testing.T) {
	service, sender := newTestService(t)

	if err := service.StartRecovery(context.Background(), "nobody@example.com"); err != nil {
		t.Fatalf("unknown address must not be an error, got %v", err)
	}
	if len(sender.links) != 0 {
		t.Fatalf("expected no magic link, got %d", len(sender.links))
	}
}

func TestConfirmRecoveryRejectsShortPassword(t *testing.T) {
	service, _ := newTestService(t)
	if _, err := service.ConfirmRecovery(context.Background(), "irrelevant", "abc"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
}

func TestDeleteAccountFreesAddress(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	grant, err := service.SignUp(ctx, "person@example.com", "sturdy-password")
	if err != nil {
		t.Fatalf("unexpected sign-up error: %v", err)
	}

	if err := service.DeleteAccount(ctx, grant.UserID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if _, err := service.SignIn(ctx, "person@example.com", "sturdy-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected deleted account to be gone, got %v", err)
	}
	if _, err := service.SignUp(ctx, "person@example.com", "sturdy-password"); err != nil {
		t.Fatalf("address must be reusable after delete: %v", err)
	}

	if err := service.DeleteAccount(ctx, "user-missing"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestUpdatePassword(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	grant, err := service.SignUp(ctx, "person@example.com", "old-password")
	if err != nil {
		t.Fatalf("unexpected sign-up error: %v", err)
	}

	if err := service.UpdatePassword(ctx, grant.UserID, "new-password"); err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if _, err := service.SignIn(ctx, "person@example.com", "new-password"); err != nil {
		t.Fatalf("new password should work: %v", err)
	}

	if err := service.UpdatePassword(ctx, "user-missing", "whatever-password"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}
