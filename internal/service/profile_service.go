package service

import (
	"context"
	"fmt"
	"time"

	"agrihub/internal/identity"
	"agrihub/internal/models"
	"agrihub/internal/util"

	"go.uber.org/zap"
)

// ProfileStoreBackend is the slice of the local store the profile service needs
type ProfileStoreBackend interface {
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	UpsertProfile(ctx context.Context, profile *models.Profile) error
}

// Profile defaults synthesized when a user has never saved a profile
const (
	DefaultLocation = "Ghana"
	DefaultName     = "Farmer"
)

// ProfileService owns user profiles: read-with-defaults and write-through
// with fan-out to denormalized listing copies
type ProfileService struct {
	store    ProfileStoreBackend
	registry *ListingRegistry
	logger   *zap.Logger
}

// NewProfileService creates a profile service
func NewProfileService(store ProfileStoreBackend, registry *ListingRegistry) *ProfileService {
	return &ProfileService{
		store:    store,
		registry: registry,
		logger:   util.GetLogger(),
	}
}

// defaults synthesizes the read-time profile for a user who has never saved one
func defaults(sess *identity.Session) *models.Profile {
	name := sess.Name
	if name == "" {
		name = sess.Email
	}
	if name == "" {
		name = DefaultName
	}
	return &models.Profile{
		ID:       sess.UserID,
		Name:     name,
		Location: DefaultLocation,
		Role:     models.RoleFarmer,
	}
}

// Effective returns the user's profile merged with identity-provider
// defaults. Stored fields win per field; defaults fill only what is absent.
func (s *ProfileService) Effective(ctx context.Context, sess *identity.Session) (*models.Profile, error) {
	stored, err := s.store.GetProfile(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}

	base := defaults(sess)
	if stored == nil {
		return base, nil
	}

	merged := *stored
	if merged.Name == "" {
		merged.Name = base.Name
	}
	if merged.Location == "" {
		merged.Location = base.Location
	}
	if merged.Role == "" {
		merged.Role = base.Role
	}
	return &merged, nil
}

// Save upserts the caller's profile, then fans the new display name and photo
// out to the caller's listings. The fan-out is eventual, not transactional:
// a synchronous attempt runs here and the journaled profile change lets the
// fan-out worker re-apply it until it sticks.
func (s *ProfileService) Save(ctx context.Context, sess *identity.Session, profile *models.Profile) error {
	ctx, span := util.StartSpan(ctx, "ProfileService.Save")
	defer span.End()

	switch profile.Role {
	case models.RoleFarmer, models.RoleBuyer, models.RoleExtensionOfficer:
	case "":
		profile.Role = models.RoleFarmer
	default:
		return fmt.Errorf("unknown role %q", profile.Role)
	}

	profile.ID = sess.UserID
	profile.UpdatedAt = time.Now()

	if err := s.store.UpsertProfile(ctx, profile); err != nil {
		return err
	}

	s.logger.Info("Profile saved", zap.String("user_id", profile.ID))

	if err := s.registry.OnProfileChanged(ctx, profile.ID, profile.Name, profile.ProfileImage); err != nil {
		// listings keep the stale owner name until the fan-out worker
		// replays the journaled profile change
		s.logger.Warn("Profile fan-out failed, deferring to worker",
			zap.String("user_id", profile.ID),
			zap.Error(err))
	}
	return nil
}
