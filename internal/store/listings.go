package store

import (
	"context"
	"database/sql"
	"fmt"

	"agrihub/internal/models"
)

// GetListing retrieves a listing by ID. Returns nil when absent.
func (s *Store) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	var listing models.Listing
	err := s.db.GetContext(ctx, &listing, "SELECT * FROM listings WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

// ListListings retrieves listings filtered by type, category or owner.
// Empty filters match everything. Newest first.
func (s *Store) ListListings(ctx context.Context, listingType, category, userID string) ([]models.Listing, error) {
	var listings []models.Listing
	err := s.db.SelectContext(ctx, &listings, `
		SELECT * FROM listings
		WHERE ($1 = '' OR type = $1)
		  AND ($2 = '' OR category = $2)
		  AND ($3 = '' OR user_id = $3)
		ORDER BY created_at DESC`, listingType, category, userID)
	return listings, err
}

// InsertListing inserts a new listing and journals it for sync
func (s *Store) InsertListing(ctx context.Context, listing *models.Listing) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO listings (id, user_id, user_name, user_profile_image, title, description, price, type, category, contact, created_at, updated_at)
		VALUES (:id, :user_id, :user_name, :user_profile_image, :title, :description, :price, :type, :category, :contact, :created_at, :updated_at)`, listing); err != nil {
		return fmt.Errorf("failed to insert listing: %w", err)
	}

	if err := appendJournalTx(ctx, tx, models.CollectionListings, listing.ID, models.OpUpsert, listing); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.hub.Notify(models.CollectionListings)
	return nil
}

// UpdateListing fully replaces a listing by primary key and journals it
func (s *Store) UpdateListing(ctx context.Context, listing *models.Listing) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.NamedExecContext(ctx, `
		UPDATE listings SET user_name = :user_name, user_profile_image = :user_profile_image,
			title = :title, description = :description, price = :price, type = :type,
			category = :category, contact = :contact, updated_at = :updated_at
		WHERE id = :id`, listing)
	if err != nil {
		return fmt.Errorf("failed to update listing: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}

	if err := appendJournalTx(ctx, tx, models.CollectionListings, listing.ID, models.OpUpsert, listing); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.hub.Notify(models.CollectionListings)
	return nil
}

// DeleteListing removes a listing. Idempotent: deleting an absent listing is
// a no-op and nothing is journaled for it.
func (s *Store) DeleteListing(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM listings WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete listing: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// already absent, nothing to journal
		return nil
	}

	if err := appendJournalTx(ctx, tx, models.CollectionListings, id, models.OpDelete, nil); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.hub.Notify(models.CollectionListings)
	return nil
}

// UpdateListingsOwner rewrites the denormalized owner name and photo on every
// listing of a user. Re-running it is always safe: it only ever sets fields to
// the profile's current values.
func (s *Store) UpdateListingsOwner(ctx context.Context, userID, name, profileImage string) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE listings SET user_name = $1, user_profile_image = $2, updated_at = NOW()
		WHERE user_id = $3 AND (user_name <> $1 OR user_profile_image IS DISTINCT FROM $2)`,
		name, profileImage, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to fan out profile to listings: %w", err)
	}

	changed, _ := res.RowsAffected()
	if changed == 0 {
		return 0, nil
	}

	var touched []models.Listing
	if err := tx.SelectContext(ctx, &touched, "SELECT * FROM listings WHERE user_id = $1", userID); err != nil {
		return 0, err
	}
	for i := range touched {
		if err := appendJournalTx(ctx, tx, models.CollectionListings, touched[i].ID, models.OpUpsert, &touched[i]); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	s.hub.Notify(models.CollectionListings)
	return changed, nil
}

// ApplyRemoteListing applies a replicated listing upsert, last-writer-wins on
// updated_at
func (s *Store) ApplyRemoteListing(ctx context.Context, listing *models.Listing) (bool, error) {
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO listings (id, user_id, user_name, user_profile_image, title, description, price, type, category, contact, created_at, updated_at)
		VALUES (:id, :user_id, :user_name, :user_profile_image, :title, :description, :price, :type, :category, :contact, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE
		SET user_name = EXCLUDED.user_name, user_profile_image = EXCLUDED.user_profile_image,
			title = EXCLUDED.title, description = EXCLUDED.description, price = EXCLUDED.price,
			type = EXCLUDED.type, category = EXCLUDED.category, contact = EXCLUDED.contact,
			updated_at = EXCLUDED.updated_at
		WHERE listings.updated_at <= EXCLUDED.updated_at`, listing)
	if err != nil {
		return false, fmt.Errorf("failed to apply remote listing: %w", err)
	}

	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}

	s.hub.Notify(models.CollectionListings)
	return true, nil
}

// ApplyRemoteListingDelete applies a replicated listing delete. Idempotent.
func (s *Store) ApplyRemoteListingDelete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM listings WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to apply remote listing delete: %w", err)
	}
	s.hub.Notify(models.CollectionListings)
	return nil
}
