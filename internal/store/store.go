package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agrihub/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Store is the local store: the single source of truth for all four
// collections, with live-query notification on every committed write.
type Store struct {
	db  *sqlx.DB
	hub *Hub
}

// NewStore creates a new local store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, hub: NewHub()}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Hub returns the live-query notification hub
func (s *Store) Hub() *Hub {
	return s.hub
}

// SeedPricesIfEmpty bulk-loads the fixed price template set on first run.
// It is a one-time initialization, not a recurring sync; seed rows are not
// journaled because every node starts from the same template.
func (s *Store) SeedPricesIfEmpty(ctx context.Context, seeds []models.MarketPrice) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM market_prices"); err != nil {
		return false, fmt.Errorf("failed to count prices: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	now := time.Now()
	for _, p := range seeds {
		p.UpdatedAt = now
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO market_prices (id, commodity, price, unit, location, trend, updated_at)
			VALUES (:id, :commodity, :price, :unit, :location, :trend, :updated_at)
			ON CONFLICT (id) DO NOTHING`, p); err != nil {
			return false, fmt.Errorf("failed to seed price %s: %w", p.Commodity, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}

	s.hub.Notify(models.CollectionPrices)
	return true, nil
}

// WipeLocal removes every record from all four collections plus the journal.
// Used by the destructive logout policy.
func (s *Store) WipeLocal(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"price_audit", "market_prices", "listings", "profiles", "change_journal", "processed_events"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to wipe %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	for _, c := range []string{models.CollectionPrices, models.CollectionPriceAudit, models.CollectionListings, models.CollectionProfiles} {
		s.hub.Notify(c)
	}
	return nil
}

// appendJournalTx records a committed write in the outbox within the caller's
// transaction, so the journal entry exists iff the write committed
func appendJournalTx(ctx context.Context, tx *sqlx.Tx, collection, recordID, op string, record interface{}) error {
	var payload []byte
	if record != nil {
		var err error
		payload, err = json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal journal payload: %w", err)
		}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO change_journal (event_id, collection, record_id, op, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`,
		uuid.New().String(), collection, recordID, op, payload)
	if err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}
	return nil
}

// UnpushedJournal returns journal entries not yet delivered to the remote
// authority, oldest first
func (s *Store) UnpushedJournal(ctx context.Context, limit int) ([]models.JournalEntry, error) {
	var entries []models.JournalEntry
	err := s.db.SelectContext(ctx, &entries,
		"SELECT * FROM change_journal WHERE pushed_at IS NULL ORDER BY seq LIMIT $1", limit)
	return entries, err
}

// MarkJournalPushed stamps a journal entry as delivered
func (s *Store) MarkJournalPushed(ctx context.Context, seq int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE change_journal SET pushed_at = NOW() WHERE seq = $1", seq)
	return err
}

// IsEventProcessed checks if an inbound sync event has been applied
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an inbound sync event as applied
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
