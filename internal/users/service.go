package users

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/auth"
)

const defaultProvider = "default"

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrMissingDatabase indicates the service was built without a database.
	ErrMissingDatabase = errors.New("users: database connection required")
)

// ServiceConfig describes the dependencies required for identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service maps session claims to canonical user ids.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, ErrMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, now: clock, logger: logger}, nil
}

// Resolve returns the identity for the session, creating it on first sight
// and refreshing its profile fields afterwards.
func (s *Service) Resolve(ctx context.Context, claims auth.SessionClaims) (Identity, error) {
	provider, subject := providerSubject(claims)
	if subject == "" {
		return Identity{}, ErrInvalidIdentity
	}
	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if identity, ok := cached.(Identity); ok && !profileChanged(identity, claims) {
			return identity, nil
		}
	}

	db := s.db.WithContext(ctx)
	var identity Identity
	err := db.Where("provider = ? AND subject = ?", provider, subject).First(&identity).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			UserID:      subject,
			Email:       normalize(claims.UserEmail),
			DisplayName: normalize(claims.UserDisplayName),
			CursorColor: normalize(claims.CursorColor),
			LastSeenAt:  s.now().UTC(),
		}
		if err := db.Create(&identity).Error; err != nil {
			return Identity{}, err
		}
	case err != nil:
		return Identity{}, err
	default:
		updates := profileUpdates(identity, claims)
		updates["last_seen_at"] = s.now().UTC()
		if err := db.Model(&Identity{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).Error; err != nil {
			s.logger.Warn("identity refresh failed", zap.String("user_id", identity.UserID), zap.Error(err))
		}
		applyProfile(&identity, claims)
	}

	s.cache.Store(cacheKey, identity)
	return identity, nil
}

// ResolveCanonicalUserID returns only the canonical user id for the session.
func (s *Service) ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (string, error) {
	identity, err := s.Resolve(ctx, claims)
	if err != nil {
		return "", err
	}
	return identity.UserID, nil
}

// providerSubject splits "provider:subject" user ids. Unprefixed ids use the
// default provider; the email is the last resort.
func providerSubject(claims auth.SessionClaims) (string, string) {
	raw := normalize(claims.UserID)
	if provider, subject, ok := strings.Cut(raw, ":"); ok && normalize(provider) != "" && normalize(subject) != "" {
		return normalize(provider), normalize(subject)
	}
	for _, candidate := range []string{raw, claims.Subject, claims.UserEmail} {
		if subject := normalize(candidate); subject != "" {
			return defaultProvider, subject
		}
	}
	return defaultProvider, ""
}

func profileUpdates(identity Identity, claims auth.SessionClaims) map[string]interface{} {
	updates := map[string]interface{}{}
	if email := normalize(claims.UserEmail); email != "" && email != identity.Email {
		updates["user_email"] = email
	}
	if display := normalize(claims.UserDisplayName); display != "" && display != identity.DisplayName {
		updates["user_display_name"] = display
	}
	if color := normalize(claims.CursorColor); color != "" && color != identity.CursorColor {
		updates["cursor_color"] = color
	}
	return updates
}

func profileChanged(identity Identity, claims auth.SessionClaims) bool {
	return len(profileUpdates(identity, claims)) > 0
}

func applyProfile(identity *Identity, claims auth.SessionClaims) {
	if email := normalize(claims.UserEmail); email != "" {
		identity.Email = email
	}
	if display := normalize(claims.UserDisplayName); display != "" {
		identity.DisplayName = display
	}
	if color := normalize(claims.CursorColor); color != "" {
		identity.CursorColor = color
	}
}
