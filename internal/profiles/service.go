package profiles

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ripplehq/ripple/internal/realtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("profiles: database handle is required")
	// ErrProfileNotFound indicates no profile exists for the identifier.
	ErrProfileNotFound = errors.New("profiles: profile not found")
	// ErrUsernameTaken indicates the requested handle is already in use.
	ErrUsernameTaken = errors.New("profiles: username already taken")
)

// ServiceConfig describes the dependencies for profile management.
type ServiceConfig struct {
	Database *gorm.DB
	Changes  realtime.Publisher
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages profile rows and publishes change events on mutation.
type Service struct {
	db      *gorm.DB
	changes realtime.Publisher
	now     func() time.Time
	logger  *zap.Logger
	cache   sync.Map
}

// NewService constructs the profile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
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
		db:      cfg.Database,
		changes: changes,
		now:     clock,
		logger:  logger,
	}, nil
}

// Create inserts the initial profile row for a new account.
func (s *Service) Create(ctx context.Context, userID, rawUsername string) (Profile, error) {
	username, err := NewUsername(rawUsername)
	if err != nil {
		return Profile{}, err
	}

	profile := Profile{
		UserID:   userID,
		Username: username.String(),
	}
	err = s.db.WithContext(ctx).Create(&profile).Error
	if err != nil {
		if isUniqueViolation(err) {
			return Profile{}, ErrUsernameTaken
		}
		s.logger.Error("profile create failed", zap.Error(err), zap.String("user_id", userID))
		return Profile{}, err
	}

	s.cache.Store(userID, profile)
	s.changes.Publish(realtime.TableProfiles, realtime.OperationInsert, profile.UserID, profile)
	return profile, nil
}

// Get returns the profile for a user id, consulting the in-process cache first.
func (s *Service) Get(ctx context.Context, userID string) (Profile, error) {
	if cached, ok := s.cache.Load(userID); ok {
		if profile, ok := cached.(Profile); ok {
			return profile, nil
		}
	}

	var profile Profile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	s.cache.Store(userID, profile)
	return profile, nil
}

// GetByUsername returns the profile behind a handle.
func (s *Service) GetByUsername(ctx context.Context, rawUsername string) (Profile, error) {
	username, err := NewUsername(rawUsername)
	if err != nil {
		return Profile{}, err
	}
	var profile Profile
	err = s.db.WithContext(ctx).Where("username = ?", username.String()).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

// Apply updates the non-nil fields of the user's profile and publishes the
// resulting row as an update event.
func (s *Service) Apply(ctx context.Context, userID string, update Update) (Profile, error) {
	updates := map[string]interface{}{}
	if update.Username != nil {
		username, err := NewUsername(*update.Username)
		if err != nil {
			return Profile{}, err
		}
		updates["username"] = username.String()
	}
	if update.DisplayName != nil {
		updates["display_name"] = strings.TrimSpace(*update.DisplayName)
	}
	if update.AvatarURL != nil {
		updates["avatar_url"] = strings.TrimSpace(*update.AvatarURL)
	}
	if update.Bio != nil {
		updates["bio"] = strings.TrimSpace(*update.Bio)
	}
	if len(updates) == 0 {
		return s.Get(ctx, userID)
	}
	updates["updated_at"] = s.now().UTC()

	result := s.db.WithContext(ctx).Model(&Profile{}).
		Where("user_id = ?", userID).
		Updates(updates)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return Profile{}, ErrUsernameTaken
		}
		return Profile{}, result.Error
	}
	if result.RowsAffected == 0 {
		return Profile{}, ErrProfileNotFound
	}

	s.cache.Delete(userID)
	profile, err := s.Get(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	s.changes.Publish(realtime.TableProfiles, realtime.OperationUpdate, profile.UserID, profile)
	return profile, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique")
}
