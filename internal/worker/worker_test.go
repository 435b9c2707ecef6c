package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"agrihub/internal/models"
	"agrihub/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeApplier struct {
	prices    map[string]*models.MarketPrice
	audits    []models.PriceAudit
	listings  map[string]*models.Listing
	profiles  map[string]*models.Profile
	processed map[string]string
	applyAll  bool // when false, applies report a lost last-writer-wins race
	applyErr  error
}

func newFakeApplier() *fakeApplier {
	return &fakeApplier{
		prices:    make(map[string]*models.MarketPrice),
		listings:  make(map[string]*models.Listing),
		profiles:  make(map[string]*models.Profile),
		processed: make(map[string]string),
		applyAll:  true,
	}
}

func (a *fakeApplier) ApplyRemotePrice(_ context.Context, price *models.MarketPrice) (bool, error) {
	if a.applyErr != nil {
		return false, a.applyErr
	}
	if !a.applyAll {
		return false, nil
	}
	a.prices[price.ID] = price
	return true, nil
}

func (a *fakeApplier) ApplyRemoteAudit(_ context.Context, audit *models.PriceAudit) error {
	if a.applyErr != nil {
		return a.applyErr
	}
	a.audits = append(a.audits, *audit)
	return nil
}

func (a *fakeApplier) ApplyRemoteListing(_ context.Context, listing *models.Listing) (bool, error) {
	if !a.applyAll {
		return false, nil
	}
	a.listings[listing.ID] = listing
	return true, nil
}

func (a *fakeApplier) ApplyRemoteListingDelete(_ context.Context, id string) error {
	delete(a.listings, id)
	return nil
}

func (a *fakeApplier) ApplyRemoteProfile(_ context.Context, profile *models.Profile) (bool, error) {
	if !a.applyAll {
		return false, nil
	}
	a.profiles[profile.ID] = profile
	return true, nil
}

func (a *fakeApplier) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	_, ok := a.processed[eventID]
	return ok, nil
}

func (a *fakeApplier) MarkEventProcessed(_ context.Context, eventID, eventType string) error {
	a.processed[eventID] = eventType
	return nil
}

func changeEvent(t *testing.T, eventID, origin, collection, recordID, op string, record interface{}) *models.ChangeEvent {
	t.Helper()
	var payload json.RawMessage
	if record != nil {
		raw, err := json.Marshal(record)
		require.NoError(t, err)
		payload = raw
	}
	return &models.ChangeEvent{
		BaseEvent: models.BaseEvent{
			EventID:   eventID,
			EventType: models.EventTypeForChange(collection, op),
			Origin:    origin,
			Timestamp: time.Now(),
		},
		Collection: collection,
		RecordID:   recordID,
		Op:         op,
		Record:     payload,
	}
}

func TestApplyChangeSkipsOwnOrigin(t *testing.T) {
	applier := newFakeApplier()
	w := NewSyncWorker(nil, applier, nil, "node-a")

	price := models.MarketPrice{ID: "maize-id", Commodity: "Maize", Price: 470}
	event := changeEvent(t, "ev-1", "node-a", models.CollectionPrices, "maize-id", models.OpUpsert, price)

	require.NoError(t, w.ApplyChange(context.Background(), event))
	assert.Empty(t, applier.prices)
	assert.Empty(t, applier.processed)
}

func TestApplyChangeAppliesRemotePrice(t *testing.T) {
	applier := newFakeApplier()
	w := NewSyncWorker(nil, applier, nil, "node-a")

	price := models.MarketPrice{ID: "maize-id", Commodity: "Maize", Price: 470, UpdatedAt: time.Now()}
	event := changeEvent(t, "ev-1", "node-b", models.CollectionPrices, "maize-id", models.OpUpsert, price)

	require.NoError(t, w.ApplyChange(context.Background(), event))
	require.Contains(t, applier.prices, "maize-id")
	assert.Equal(t, 470.00, applier.prices["maize-id"].Price)
	assert.Equal(t, models.EventTypePriceChanged, applier.processed["ev-1"])
}

func TestApplyChangeSkipsProcessedEvent(t *testing.T) {
	applier := newFakeApplier()
	applier.processed["ev-1"] = models.EventTypePriceChanged
	w := NewSyncWorker(nil, applier, nil, "node-a")

	price := models.MarketPrice{ID: "maize-id", Price: 470}
	event := changeEvent(t, "ev-1", "node-b", models.CollectionPrices, "maize-id", models.OpUpsert, price)

	require.NoError(t, w.ApplyChange(context.Background(), event))
	assert.Empty(t, applier.prices)
}

func TestApplyChangeLostRaceStillMarksProcessed(t *testing.T) {
	applier := newFakeApplier()
	applier.applyAll = false
	w := NewSyncWorker(nil, applier, nil, "node-a")

	price := models.MarketPrice{ID: "maize-id", Price: 470}
	event := changeEvent(t, "ev-1", "node-b", models.CollectionPrices, "maize-id", models.OpUpsert, price)

	require.NoError(t, w.ApplyChange(context.Background(), event))
	assert.Empty(t, applier.prices)
	// the event is settled even though the local record won
	assert.Contains(t, applier.processed, "ev-1")
}

func TestApplyChangeErrorLeavesEventUnprocessed(t *testing.T) {
	applier := newFakeApplier()
	applier.applyErr = errors.New("db down")
	w := NewSyncWorker(nil, applier, nil, "node-a")

	price := models.MarketPrice{ID: "maize-id", Price: 470}
	event := changeEvent(t, "ev-1", "node-b", models.CollectionPrices, "maize-id", models.OpUpsert, price)

	require.Error(t, w.ApplyChange(context.Background(), event))
	assert.Empty(t, applier.processed)
}

func TestApplyChangeAuditAppend(t *testing.T) {
	applier := newFakeApplier()
	w := NewSyncWorker(nil, applier, nil, "node-a")

	audit := models.PriceAudit{ID: "a-1", PriceID: "maize-id", OldPrice: 450, NewPrice: 470, ChangedBy: "Officer Kojo"}
	event := changeEvent(t, "ev-2", "node-b", models.CollectionPriceAudit, "a-1", models.OpUpsert, audit)

	require.NoError(t, w.ApplyChange(context.Background(), event))
	require.Len(t, applier.audits, 1)
	assert.Equal(t, "Officer Kojo", applier.audits[0].ChangedBy)
}

func TestApplyChangeListingUpsertAndDelete(t *testing.T) {
	applier := newFakeApplier()
	w := NewSyncWorker(nil, applier, nil, "node-a")

	listing := models.Listing{ID: "l-1", UserID: "u-ama", Title: "Fresh maize"}
	upsert := changeEvent(t, "ev-3", "node-b", models.CollectionListings, "l-1", models.OpUpsert, listing)
	require.NoError(t, w.ApplyChange(context.Background(), upsert))
	assert.Contains(t, applier.listings, "l-1")

	del := changeEvent(t, "ev-4", "node-b", models.CollectionListings, "l-1", models.OpDelete, nil)
	require.NoError(t, w.ApplyChange(context.Background(), del))
	assert.NotContains(t, applier.listings, "l-1")
}

func TestApplyChangeProfileUpsert(t *testing.T) {
	applier := newFakeApplier()
	w := NewSyncWorker(nil, applier, nil, "node-a")

	profile := models.Profile{ID: "u-ama", Name: "Ama Serwaa", Location: "Kumasi"}
	event := changeEvent(t, "ev-5", "node-b", models.CollectionProfiles, "u-ama", models.OpUpsert, profile)

	require.NoError(t, w.ApplyChange(context.Background(), event))
	require.Contains(t, applier.profiles, "u-ama")
	assert.Equal(t, "Ama Serwaa", applier.profiles["u-ama"].Name)
}

func TestApplyChangeUnknownCollectionIsDropped(t *testing.T) {
	applier := newFakeApplier()
	w := NewSyncWorker(nil, applier, nil, "node-a")

	event := &models.ChangeEvent{
		BaseEvent:  models.BaseEvent{EventID: "ev-6", EventType: "SOMETHING_ELSE", Origin: "node-b"},
		Collection: "unknown",
		RecordID:   "x",
		Op:         models.OpUpsert,
	}
	require.NoError(t, w.ApplyChange(context.Background(), event))
	assert.Contains(t, applier.processed, "ev-6")
}

type fanoutListingStore struct {
	updated []string
	name    string
	image   string
	err     error
}

func (s *fanoutListingStore) GetListing(context.Context, string) (*models.Listing, error) {
	return nil, nil
}

func (s *fanoutListingStore) ListListings(context.Context, string, string, string) ([]models.Listing, error) {
	return nil, nil
}

func (s *fanoutListingStore) InsertListing(context.Context, *models.Listing) error { return nil }
func (s *fanoutListingStore) UpdateListing(context.Context, *models.Listing) error { return nil }
func (s *fanoutListingStore) DeleteListing(context.Context, string) error          { return nil }

func (s *fanoutListingStore) UpdateListingsOwner(_ context.Context, userID, name, profileImage string) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.updated = append(s.updated, userID)
	s.name = name
	s.image = profileImage
	return 1, nil
}

func TestHandleProfileSavedFansOut(t *testing.T) {
	store := &fanoutListingStore{}
	registry := service.NewListingRegistry(store)
	w := NewFanoutWorker(nil, registry)

	profile := models.Profile{ID: "u-ama", Name: "Ama Serwaa", ProfileImage: "new.jpg"}
	event := changeEvent(t, "ev-7", "node-a", models.CollectionProfiles, "u-ama", models.OpUpsert, profile)

	require.NoError(t, w.HandleProfileSaved(context.Background(), event))
	assert.Equal(t, []string{"u-ama"}, store.updated)
	assert.Equal(t, "Ama Serwaa", store.name)
	assert.Equal(t, "new.jpg", store.image)
}

func TestHandleProfileSavedErrorPropagates(t *testing.T) {
	store := &fanoutListingStore{err: errors.New("db down")}
	registry := service.NewListingRegistry(store)
	w := NewFanoutWorker(nil, registry)

	profile := models.Profile{ID: "u-ama", Name: "Ama"}
	event := changeEvent(t, "ev-8", "node-a", models.CollectionProfiles, "u-ama", models.OpUpsert, profile)

	// the error leaves the message uncommitted so the consumer retries
	assert.Error(t, w.HandleProfileSaved(context.Background(), event))
}
