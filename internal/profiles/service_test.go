package profiles

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/ripplehq/ripple/internal/realtime"
	"gorm.io/gorm"
)

type recordedEvent struct {
	table string
	op    realtime.Operation
	rowID string
}

type recordingPublisher struct {
	events []recordedEvent
}

func (p *recordingPublisher) Publish(table string, op realtime.Operation, rowID string, row any, audience ...string) {
	p.events = append(p.events, recordedEvent{table: table, op: op, rowID: rowID})
}

func newTestProfileService(t *testing.T) (*Service, *recordingPublisher) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.db")
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
	if err := db.AutoMigrate(&Profile{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	publisher := &recordingPublisher{}
	service, err := NewService(ServiceConfig{
		Database: db,
		Changes:  publisher,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, publisher
}

func TestNewUsernameNormalizesAndValidates(t *testing.T) {
	username, err := NewUsername("  Wave.Rider_9  ")
	if err != nil {
		t.Fatalf("unexpected username error: %v", err)
	}
	if username.String() != "wave.rider_9" {
		t.Fatalf("expected lower-cased handle, got %q", username)
	}

	invalid := []string{"ab", "with space", "has-dash", "waytoolongforahandle_waytoolongforahandle"}
	for _, raw := range invalid {
		if _, err := NewUsername(raw); !errors.Is(err, ErrInvalidUsername) {
			t.Fatalf("expected ErrInvalidUsername for %q, got %v", raw, err)
		}
	}
}

func TestCreateAndGetProfile(t *testing.T) {
	service, publisher := newTestProfileService(t)
	ctx := context.Background()

	profile, err := service.Create(ctx, "u-1", "WaveRider")
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if profile.Username != "waverider" {
		t.Fatalf("expected normalized handle, got %q", profile.Username)
	}

	loaded, err := service.Get(ctx, "u-1")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if loaded.Username != "waverider" {
		t.Fatalf("unexpected handle %q", loaded.Username)
	}

	byHandle, err := service.GetByUsername(ctx, "waverider")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if byHandle.UserID != "u-1" {
		t.Fatalf("unexpected user %q", byHandle.UserID)
	}

	if len(publisher.events) != 1 || publisher.events[0].op != realtime.OperationInsert {
		t.Fatalf("expected one insert event, got %+v", publisher.events)
	}
}

func TestCreateRejectsTakenUsername(t *testing.T) {
	service, _ := newTestProfileService(t)
	ctx := context.Background()

	if _, err := service.Create(ctx, "u-1", "waverider"); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if _, err := service.Create(ctx, "u-2", "waverider"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestApplyUpdatesOnlyProvidedFields(t *testing.T) {
	service, publisher := newTestProfileService(t)
	ctx := context.Background()

	if _, err := service.Create(ctx, "u-1", "waverider"); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	bio := "surfing the change feed"
	updated, err := service.Apply(ctx, "u-1", Update{Bio: &bio})
	if err != nil {
		t.Fatalf("unexpected apply error: %v", err)
	}
	if updated.Bio != bio {
		t.Fatalf("expected updated bio, got %q", updated.Bio)
	}
	if updated.Username != "waverider" {
		t.Fatalf("username must be untouched, got %q", updated.Username)
	}

	last := publisher.events[len(publisher.events)-1]
	if last.op != realtime.OperationUpdate || last.rowID != "u-1" {
		t.Fatalf("expected update event for u-1, got %+v", last)
	}
}

func TestApplyEmptyUpdateIsRead(t *testing.T) {
	service, publisher := newTestProfileService(t)
	ctx := context.Background()

	if _, err := service.Create(ctx, "u-1", "waverider"); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	eventsBefore := len(publisher.events)

	profile, err := service.Apply(ctx, "u-1", Update{})
	if err != nil {
		t.Fatalf("unexpected apply error: %v", err)
	}
	if profile.Username != "waverider" {
		t.Fatalf("unexpected handle %q", profile.Username)
	}
	if len(publisher.events) != eventsBefore {
		t.Fatal("an empty update must not publish an event")
	}
}

func TestApplyRejectsTakenUsername(t *testing.T) {
	service, _ := newTestProfileService(t)
	ctx := context.Background()

	if _, err := service.Create(ctx, "u-1", "waverider"); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if _, err := service.Create(ctx, "u-2", "beachgoer"); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	taken := "waverider"
	if _, err := service.Apply(ctx, "u-2", Update{Username: &taken}); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestGetMissingProfile(t *testing.T) {
	service, _ := newTestProfileService(t)
	if _, err := service.Get(context.Background(), "u-404"); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
	if _, err := service.GetByUsername(context.Background(), "nobodyhere"); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}
