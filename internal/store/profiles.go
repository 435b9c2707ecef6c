package store

import (
	"context"
	"database/sql"
	"fmt"

	"agrihub/internal/models"
)

// GetProfile retrieves a profile by identity user ID. Returns nil when the
// user has never saved a profile.
func (s *Store) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	var profile models.Profile
	err := s.db.GetContext(ctx, &profile, "SELECT * FROM profiles WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// UpsertProfile fully replaces a profile by ID and journals it for sync
func (s *Store) UpsertProfile(ctx context.Context, profile *models.Profile) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO profiles (id, name, location, phone_number, role, profile_image, updated_at)
		VALUES (:id, :name, :location, :phone_number, :role, :profile_image, :updated_at)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, location = EXCLUDED.location, phone_number = EXCLUDED.phone_number,
			role = EXCLUDED.role, profile_image = EXCLUDED.profile_image, updated_at = EXCLUDED.updated_at`, profile); err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}

	if err := appendJournalTx(ctx, tx, models.CollectionProfiles, profile.ID, models.OpUpsert, profile); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.hub.Notify(models.CollectionProfiles)
	return nil
}

// ApplyRemoteProfile applies a replicated profile, last-writer-wins on updated_at
func (s *Store) ApplyRemoteProfile(ctx context.Context, profile *models.Profile) (bool, error) {
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO profiles (id, name, location, phone_number, role, profile_image, updated_at)
		VALUES (:id, :name, :location, :phone_number, :role, :profile_image, :updated_at)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, location = EXCLUDED.location, phone_number = EXCLUDED.phone_number,
			role = EXCLUDED.role, profile_image = EXCLUDED.profile_image, updated_at = EXCLUDED.updated_at
		WHERE profiles.updated_at <= EXCLUDED.updated_at`, profile)
	if err != nil {
		return false, fmt.Errorf("failed to apply remote profile: %w", err)
	}

	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}

	s.hub.Notify(models.CollectionProfiles)
	return true, nil
}
