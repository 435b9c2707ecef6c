package service

import (
	"context"
	"math"
	"time"

	"agrihub/internal/identity"
	"agrihub/internal/models"
	"agrihub/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PriceStore is the slice of the local store the ledger needs
type PriceStore interface {
	GetPrice(ctx context.Context, id string) (*models.MarketPrice, error)
	ListPrices(ctx context.Context, commodity, location string) ([]models.MarketPrice, error)
	CommitPriceChange(ctx context.Context, price *models.MarketPrice, audit *models.PriceAudit) error
	ListAudit(ctx context.Context, priceID string, limit int) ([]models.PriceAudit, error)
}

// PriceLocker serializes guarded updates per price record
type PriceLocker interface {
	AcquirePriceLock(ctx context.Context, priceID string, ttl time.Duration) (bool, error)
	ReleasePriceLock(ctx context.Context, priceID string) error
}

// ConfirmationRequest describes a volatile price change awaiting confirmation
type ConfirmationRequest struct {
	PriceID   string
	Commodity string
	OldPrice  float64
	NewPrice  float64
	Deviation float64
}

// Confirmer is the human-confirmation capability supplied by the caller for
// changes beyond the volatility threshold
type Confirmer interface {
	Confirm(ctx context.Context, req ConfirmationRequest) (bool, error)
}

// ConfirmerFunc adapts a function to the Confirmer interface
type ConfirmerFunc func(ctx context.Context, req ConfirmationRequest) (bool, error)

func (f ConfirmerFunc) Confirm(ctx context.Context, req ConfirmationRequest) (bool, error) {
	return f(ctx, req)
}

const priceLockTTL = 10 * time.Second

// PriceLedger is the sole writer of market prices and the audit trail.
// It derives the trend, enforces the volatility guard and commits the audit
// entry and the price change atomically.
type PriceLedger struct {
	store     PriceStore
	locks     PriceLocker
	threshold float64
	logger    *zap.Logger
}

// NewPriceLedger creates a price ledger. locks may be nil, in which case
// concurrent guarded updates race on the old price (last writer wins).
func NewPriceLedger(store PriceStore, locks PriceLocker, threshold float64) *PriceLedger {
	return &PriceLedger{
		store:     store,
		locks:     locks,
		threshold: threshold,
		logger:    util.GetLogger(),
	}
}

// UpdatePrice applies a guarded price change on behalf of an extension
// officer. A declined confirmation cancels the whole operation with zero
// side effects.
func (l *PriceLedger) UpdatePrice(ctx context.Context, actor *identity.Session, priceID string, newPrice float64, confirm Confirmer) error {
	ctx, span := util.StartSpan(ctx, "PriceLedger.UpdatePrice")
	defer span.End()

	if actor == nil || actor.Role != models.RoleExtensionOfficer {
		util.PriceUpdatesRejectedTotal.WithLabelValues("forbidden").Inc()
		return ErrForbidden
	}

	if newPrice <= 0 {
		util.PriceUpdatesRejectedTotal.WithLabelValues("invalid_price").Inc()
		return ErrInvalidPrice
	}

	if l.locks != nil {
		acquired, err := l.locks.AcquirePriceLock(ctx, priceID, priceLockTTL)
		if err != nil {
			// degrade to an unguarded update rather than block edits when
			// the lock backend is down
			l.logger.Warn("Price lock unavailable, proceeding without it",
				zap.String("price_id", priceID),
				zap.Error(err))
		} else if !acquired {
			util.PriceUpdatesRejectedTotal.WithLabelValues("in_flight").Inc()
			return ErrUpdateInFlight
		} else {
			defer func() {
				if err := l.locks.ReleasePriceLock(context.WithoutCancel(ctx), priceID); err != nil {
					l.logger.Warn("Failed to release price lock", zap.Error(err))
				}
			}()
		}
	}

	current, err := l.store.GetPrice(ctx, priceID)
	if err != nil {
		return err
	}
	if current == nil {
		util.PriceUpdatesRejectedTotal.WithLabelValues("not_found").Inc()
		return ErrNotFound
	}

	oldPrice := current.Price
	deviation := math.Abs(newPrice-oldPrice) / oldPrice

	if deviation > l.threshold {
		util.VolatilityConfirmationsTotal.Inc()

		ok, err := confirm.Confirm(ctx, ConfirmationRequest{
			PriceID:   priceID,
			Commodity: current.Commodity,
			OldPrice:  oldPrice,
			NewPrice:  newPrice,
			Deviation: deviation,
		})
		if err != nil {
			return err
		}
		if !ok {
			util.PriceUpdatesCancelledTotal.Inc()
			l.logger.Info("Volatile price update declined",
				zap.String("price_id", priceID),
				zap.Float64("deviation", deviation))
			return &CancelledError{Deviation: deviation}
		}
	}

	now := time.Now()
	audit := &models.PriceAudit{
		ID:           uuid.New().String(),
		PriceID:      priceID,
		Commodity:    current.Commodity,
		OldPrice:     oldPrice,
		NewPrice:     newPrice,
		BaseOldPrice: oldPrice,
		ChangedBy:    actor.Name,
		CreatedAt:    now,
	}

	updated := *current
	updated.Price = newPrice
	updated.Trend = models.DeriveTrend(oldPrice, newPrice)
	updated.UpdatedAt = now

	if err := l.store.CommitPriceChange(ctx, &updated, audit); err != nil {
		util.PriceUpdatesRejectedTotal.WithLabelValues("storage_error").Inc()
		return err
	}

	util.PriceUpdatesTotal.Inc()
	l.logger.Info("Price updated",
		zap.String("price_id", priceID),
		zap.String("commodity", current.Commodity),
		zap.Float64("old_price", oldPrice),
		zap.Float64("new_price", newPrice),
		zap.String("trend", updated.Trend),
		zap.String("changed_by", actor.Name))
	return nil
}

// GetPrice retrieves a single price record
func (l *PriceLedger) GetPrice(ctx context.Context, priceID string) (*models.MarketPrice, error) {
	price, err := l.store.GetPrice(ctx, priceID)
	if err != nil {
		return nil, err
	}
	if price == nil {
		return nil, ErrNotFound
	}
	return price, nil
}

// ListPrices retrieves prices with optional commodity/location filters
func (l *PriceLedger) ListPrices(ctx context.Context, commodity, location string) ([]models.MarketPrice, error) {
	return l.store.ListPrices(ctx, commodity, location)
}

// AuditTrail returns audit entries for a price, most recent first
func (l *PriceLedger) AuditTrail(ctx context.Context, priceID string, limit int) ([]models.PriceAudit, error) {
	if limit <= 0 {
		limit = 100
	}
	return l.store.ListAudit(ctx, priceID, limit)
}
