package store

import (
	"context"
	"database/sql"
	"fmt"

	"agrihub/internal/models"
)

// GetPrice retrieves a market price by ID. Returns nil when absent.
func (s *Store) GetPrice(ctx context.Context, id string) (*models.MarketPrice, error) {
	var price models.MarketPrice
	err := s.db.GetContext(ctx, &price, "SELECT * FROM market_prices WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &price, nil
}

// ListPrices retrieves market prices, optionally filtered by commodity and location
func (s *Store) ListPrices(ctx context.Context, commodity, location string) ([]models.MarketPrice, error) {
	var prices []models.MarketPrice
	err := s.db.SelectContext(ctx, &prices, `
		SELECT * FROM market_prices
		WHERE ($1 = '' OR commodity = $1)
		  AND ($2 = '' OR location = $2)
		ORDER BY commodity`, commodity, location)
	return prices, err
}

// CommitPriceChange applies a guarded price update atomically: the audit row,
// the price record and both journal entries commit in one transaction, so no
// audit entry can exist for a price that was never committed and no price can
// change without its audit entry.
func (s *Store) CommitPriceChange(ctx context.Context, price *models.MarketPrice, audit *models.PriceAudit) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO price_audit (id, price_id, commodity, old_price, new_price, base_old_price, changed_by, created_at)
		VALUES (:id, :price_id, :commodity, :old_price, :new_price, :base_old_price, :changed_by, :created_at)`, audit); err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE market_prices SET price = $1, trend = $2, updated_at = $3 WHERE id = $4`,
		price.Price, price.Trend, price.UpdatedAt, price.ID)
	if err != nil {
		return fmt.Errorf("failed to update price: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("price vanished during update: %s", price.ID)
	}

	if err := appendJournalTx(ctx, tx, models.CollectionPriceAudit, audit.ID, models.OpUpsert, audit); err != nil {
		return err
	}
	if err := appendJournalTx(ctx, tx, models.CollectionPrices, price.ID, models.OpUpsert, price); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.hub.Notify(models.CollectionPrices)
	s.hub.Notify(models.CollectionPriceAudit)
	return nil
}

// ListAudit retrieves audit entries, most recent first. An empty priceID
// returns the full trail.
func (s *Store) ListAudit(ctx context.Context, priceID string, limit int) ([]models.PriceAudit, error) {
	var entries []models.PriceAudit
	err := s.db.SelectContext(ctx, &entries, `
		SELECT * FROM price_audit
		WHERE ($1 = '' OR price_id = $1)
		ORDER BY created_at DESC LIMIT $2`, priceID, limit)
	return entries, err
}

// ApplyRemotePrice applies a replicated price record using last-writer-wins
// on updated_at. Returns false when the local record was newer and the remote
// change was dropped. Remote applies are not journaled.
func (s *Store) ApplyRemotePrice(ctx context.Context, price *models.MarketPrice) (bool, error) {
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO market_prices (id, commodity, price, unit, location, trend, updated_at)
		VALUES (:id, :commodity, :price, :unit, :location, :trend, :updated_at)
		ON CONFLICT (id) DO UPDATE
		SET price = EXCLUDED.price, trend = EXCLUDED.trend, updated_at = EXCLUDED.updated_at
		WHERE market_prices.updated_at <= EXCLUDED.updated_at`, price)
	if err != nil {
		return false, fmt.Errorf("failed to apply remote price: %w", err)
	}

	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}

	s.hub.Notify(models.CollectionPrices)
	return true, nil
}

// ApplyRemoteAudit appends a replicated audit entry. The trail is append-only,
// so replays are absorbed by the conflict clause.
func (s *Store) ApplyRemoteAudit(ctx context.Context, audit *models.PriceAudit) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO price_audit (id, price_id, commodity, old_price, new_price, base_old_price, changed_by, created_at)
		VALUES (:id, :price_id, :commodity, :old_price, :new_price, :base_old_price, :changed_by, :created_at)
		ON CONFLICT (id) DO NOTHING`, audit)
	if err != nil {
		return fmt.Errorf("failed to apply remote audit entry: %w", err)
	}

	s.hub.Notify(models.CollectionPriceAudit)
	return nil
}
