package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"agrihub/internal/identity"
	"agrihub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePriceStore struct {
	prices  map[string]*models.MarketPrice
	audit   []models.PriceAudit
	failTx  error
	commits int
}

func newFakePriceStore(prices ...models.MarketPrice) *fakePriceStore {
	s := &fakePriceStore{prices: make(map[string]*models.MarketPrice)}
	for i := range prices {
		p := prices[i]
		s.prices[p.ID] = &p
	}
	return s
}

func (s *fakePriceStore) GetPrice(_ context.Context, id string) (*models.MarketPrice, error) {
	p, ok := s.prices[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *fakePriceStore) ListPrices(_ context.Context, commodity, location string) ([]models.MarketPrice, error) {
	var out []models.MarketPrice
	for _, p := range s.prices {
		if (commodity == "" || p.Commodity == commodity) && (location == "" || p.Location == location) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakePriceStore) CommitPriceChange(_ context.Context, price *models.MarketPrice, audit *models.PriceAudit) error {
	if s.failTx != nil {
		return s.failTx
	}
	cp := *price
	s.prices[price.ID] = &cp
	s.audit = append(s.audit, *audit)
	s.commits++
	return nil
}

func (s *fakePriceStore) ListAudit(_ context.Context, priceID string, limit int) ([]models.PriceAudit, error) {
	var out []models.PriceAudit
	for i := len(s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		if priceID == "" || s.audit[i].PriceID == priceID {
			out = append(out, s.audit[i])
		}
	}
	return out, nil
}

func officer() *identity.Session {
	return &identity.Session{UserID: "u-officer", Email: "kojo@agrihub.test", Name: "Officer Kojo", Role: models.RoleExtensionOfficer}
}

func approve(ok bool) Confirmer {
	return ConfirmerFunc(func(context.Context, ConfirmationRequest) (bool, error) {
		return ok, nil
	})
}

func maizeSeed() models.MarketPrice {
	return models.MarketPrice{
		ID: "maize-id", Commodity: "Maize", Price: 450.00, Unit: "100kg bag",
		Location: "Makola, Accra", Trend: models.TrendStable, UpdatedAt: time.Now().Add(-time.Hour),
	}
}

func TestUpdatePriceDerivesTrend(t *testing.T) {
	cases := []struct {
		name     string
		newPrice float64
		trend    string
	}{
		{"higher price trends up", 470, models.TrendUp},
		{"lower price trends down", 430, models.TrendDown},
		{"equal price is stable", 450, models.TrendStable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakePriceStore(maizeSeed())
			ledger := NewPriceLedger(store, nil, 0.5)

			err := ledger.UpdatePrice(context.Background(), officer(), "maize-id", tc.newPrice, approve(true))
			require.NoError(t, err)
			assert.Equal(t, tc.trend, store.prices["maize-id"].Trend)
			assert.Equal(t, tc.newPrice, store.prices["maize-id"].Price)
		})
	}
}

func TestUpdatePriceWritesAuditAtomically(t *testing.T) {
	store := newFakePriceStore(maizeSeed())
	ledger := NewPriceLedger(store, nil, 0.5)

	err := ledger.UpdatePrice(context.Background(), officer(), "maize-id", 470, approve(true))
	require.NoError(t, err)

	require.Len(t, store.audit, 1)
	entry := store.audit[0]
	assert.Equal(t, "maize-id", entry.PriceID)
	assert.Equal(t, 450.00, entry.OldPrice)
	assert.Equal(t, 470.00, entry.NewPrice)
	assert.Equal(t, 450.00, entry.BaseOldPrice)
	assert.Equal(t, "Officer Kojo", entry.ChangedBy)
	assert.Equal(t, entry.NewPrice, store.prices["maize-id"].Price)
	assert.Equal(t, 1, store.commits)
}

func TestUpdatePriceBelowThresholdSkipsConfirmation(t *testing.T) {
	store := newFakePriceStore(maizeSeed())
	ledger := NewPriceLedger(store, nil, 0.5)

	confirmCalled := false
	confirm := ConfirmerFunc(func(context.Context, ConfirmationRequest) (bool, error) {
		confirmCalled = true
		return false, nil
	})

	// 450 -> 470 is ~4.4% deviation, well below the 50% threshold
	err := ledger.UpdatePrice(context.Background(), officer(), "maize-id", 470, confirm)
	require.NoError(t, err)
	assert.False(t, confirmCalled)
}

func TestUpdatePriceVolatileDeclinedIsNoOp(t *testing.T) {
	store := newFakePriceStore(maizeSeed())
	ledger := NewPriceLedger(store, nil, 0.5)

	// 450 -> 1000 is ~122% deviation
	err := ledger.UpdatePrice(context.Background(), officer(), "maize-id", 1000, approve(false))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)

	var cancelled *CancelledError
	require.ErrorAs(t, err, &cancelled)
	assert.InDelta(t, 550.0/450.0, cancelled.Deviation, 1e-9)

	assert.Equal(t, 450.00, store.prices["maize-id"].Price)
	assert.Equal(t, models.TrendStable, store.prices["maize-id"].Trend)
	assert.Empty(t, store.audit)
}

func TestUpdatePriceVolatileConfirmedCommits(t *testing.T) {
	store := newFakePriceStore(maizeSeed())
	ledger := NewPriceLedger(store, nil, 0.5)

	confirmed := false
	confirm := ConfirmerFunc(func(_ context.Context, req ConfirmationRequest) (bool, error) {
		confirmed = true
		assert.Equal(t, "Maize", req.Commodity)
		assert.Equal(t, 450.00, req.OldPrice)
		assert.Equal(t, 1000.00, req.NewPrice)
		return true, nil
	})

	err := ledger.UpdatePrice(context.Background(), officer(), "maize-id", 1000, confirm)
	require.NoError(t, err)
	assert.True(t, confirmed)
	assert.Equal(t, 1000.00, store.prices["maize-id"].Price)
	assert.Equal(t, models.TrendUp, store.prices["maize-id"].Trend)
	require.Len(t, store.audit, 1)
}

func TestUpdatePriceRequiresOfficerRole(t *testing.T) {
	store := newFakePriceStore(maizeSeed())
	ledger := NewPriceLedger(store, nil, 0.5)

	farmer := &identity.Session{UserID: "u-farmer", Name: "Ama", Role: models.RoleFarmer}
	err := ledger.UpdatePrice(context.Background(), farmer, "maize-id", 470, approve(true))
	assert.ErrorIs(t, err, ErrForbidden)

	err = ledger.UpdatePrice(context.Background(), nil, "maize-id", 470, approve(true))
	assert.ErrorIs(t, err, ErrForbidden)

	assert.Equal(t, 450.00, store.prices["maize-id"].Price)
	assert.Empty(t, store.audit)
}

func TestUpdatePriceRejectsNonPositive(t *testing.T) {
	store := newFakePriceStore(maizeSeed())
	ledger := NewPriceLedger(store, nil, 0.5)

	assert.ErrorIs(t, ledger.UpdatePrice(context.Background(), officer(), "maize-id", 0, approve(true)), ErrInvalidPrice)
	assert.ErrorIs(t, ledger.UpdatePrice(context.Background(), officer(), "maize-id", -5, approve(true)), ErrInvalidPrice)
	assert.Empty(t, store.audit)
}

func TestUpdatePriceNotFound(t *testing.T) {
	store := newFakePriceStore()
	ledger := NewPriceLedger(store, nil, 0.5)

	err := ledger.UpdatePrice(context.Background(), officer(), "missing", 470, approve(true))
	assert.ErrorIs(t, err, ErrNotFound)
}

type fakeLocker struct {
	held   map[string]bool
	broken bool
}

func (l *fakeLocker) AcquirePriceLock(_ context.Context, priceID string, _ time.Duration) (bool, error) {
	if l.broken {
		return false, errors.New("lock backend down")
	}
	if l.held[priceID] {
		return false, nil
	}
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	l.held[priceID] = true
	return true, nil
}

func (l *fakeLocker) ReleasePriceLock(_ context.Context, priceID string) error {
	delete(l.held, priceID)
	return nil
}

func TestUpdatePriceLockContention(t *testing.T) {
	store := newFakePriceStore(maizeSeed())
	locker := &fakeLocker{held: map[string]bool{"maize-id": true}}
	ledger := NewPriceLedger(store, locker, 0.5)

	err := ledger.UpdatePrice(context.Background(), officer(), "maize-id", 470, approve(true))
	assert.ErrorIs(t, err, ErrUpdateInFlight)
	assert.Empty(t, store.audit)
}

func TestUpdatePriceLockReleasedAfterCommit(t *testing.T) {
	store := newFakePriceStore(maizeSeed())
	locker := &fakeLocker{}
	ledger := NewPriceLedger(store, locker, 0.5)

	require.NoError(t, ledger.UpdatePrice(context.Background(), officer(), "maize-id", 470, approve(true)))
	assert.False(t, locker.held["maize-id"])
}

func TestUpdatePriceDegradesWhenLockBackendDown(t *testing.T) {
	store := newFakePriceStore(maizeSeed())
	ledger := NewPriceLedger(store, &fakeLocker{broken: true}, 0.5)

	err := ledger.UpdatePrice(context.Background(), officer(), "maize-id", 470, approve(true))
	require.NoError(t, err)
	assert.Equal(t, 470.00, store.prices["maize-id"].Price)
}

func TestUpdatePriceStorageFailureSurfaces(t *testing.T) {
	store := newFakePriceStore(maizeSeed())
	store.failTx = errors.New("disk full")
	ledger := NewPriceLedger(store, nil, 0.5)

	err := ledger.UpdatePrice(context.Background(), officer(), "maize-id", 470, approve(true))
	require.Error(t, err)
	assert.Equal(t, 450.00, store.prices["maize-id"].Price)
}

func TestAuditTrailMostRecentFirst(t *testing.T) {
	store := newFakePriceStore(maizeSeed())
	ledger := NewPriceLedger(store, nil, 0.5)

	require.NoError(t, ledger.UpdatePrice(context.Background(), officer(), "maize-id", 470, approve(true)))
	require.NoError(t, ledger.UpdatePrice(context.Background(), officer(), "maize-id", 460, approve(true)))

	trail, err := ledger.AuditTrail(context.Background(), "maize-id", 0)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, 460.00, trail[0].NewPrice)
	assert.Equal(t, 470.00, trail[0].OldPrice)
	assert.Equal(t, 470.00, trail[1].NewPrice)
}
