package syncengine

import (
	"context"
	"errors"
	"testing"
	"time"

	"agrihub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJournal struct {
	entries []models.JournalEntry
	pushed  []int64
	listErr error
	markErr error
}

func (j *fakeJournal) UnpushedJournal(_ context.Context, limit int) ([]models.JournalEntry, error) {
	if j.listErr != nil {
		return nil, j.listErr
	}
	var out []models.JournalEntry
	for _, e := range j.entries {
		if e.PushedAt == nil && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (j *fakeJournal) MarkJournalPushed(_ context.Context, seq int64) error {
	if j.markErr != nil {
		return j.markErr
	}
	for i := range j.entries {
		if j.entries[i].Seq == seq {
			now := time.Now()
			j.entries[i].PushedAt = &now
		}
	}
	j.pushed = append(j.pushed, seq)
	return nil
}

type fakePublisher struct {
	published []int64
	failAfter int // fail once this many entries have been accepted; -1 never
}

func (p *fakePublisher) PublishChange(_ context.Context, entry *models.JournalEntry) error {
	if p.failAfter >= 0 && len(p.published) >= p.failAfter {
		return errors.New("broker unreachable")
	}
	p.published = append(p.published, entry.Seq)
	return nil
}

func entry(seq int64, collection, recordID string) models.JournalEntry {
	return models.JournalEntry{
		Seq:        seq,
		EventID:    recordID + "-event",
		Collection: collection,
		RecordID:   recordID,
		Op:         models.OpUpsert,
		CreatedAt:  time.Now(),
	}
}

func TestPushOnceDrainsInJournalOrder(t *testing.T) {
	journal := &fakeJournal{entries: []models.JournalEntry{
		entry(1, models.CollectionPrices, "maize-id"),
		entry(2, models.CollectionPriceAudit, "audit-1"),
		entry(3, models.CollectionListings, "l-1"),
	}}
	publisher := &fakePublisher{failAfter: -1}
	engine := NewEngine(journal, publisher, nil, time.Second)

	require.NoError(t, engine.PushOnce(context.Background()))

	assert.Equal(t, []int64{1, 2, 3}, publisher.published)
	assert.Equal(t, []int64{1, 2, 3}, journal.pushed)
	assert.Equal(t, StateConnected, engine.State())
}

func TestPushOnceEmptyJournalIsNoOp(t *testing.T) {
	journal := &fakeJournal{}
	publisher := &fakePublisher{failAfter: -1}
	engine := NewEngine(journal, publisher, nil, time.Second)

	require.NoError(t, engine.PushOnce(context.Background()))
	assert.Empty(t, publisher.published)
	assert.Equal(t, StateConnected, engine.State())
}

func TestPushOnceGoesOfflineOnPublishFailure(t *testing.T) {
	journal := &fakeJournal{entries: []models.JournalEntry{
		entry(1, models.CollectionPrices, "maize-id"),
		entry(2, models.CollectionListings, "l-1"),
	}}
	publisher := &fakePublisher{failAfter: 1}
	engine := NewEngine(journal, publisher, nil, time.Second)

	err := engine.PushOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateOffline, engine.State())

	// the first entry made it out, the second stays queued for the next tick
	assert.Equal(t, []int64{1}, publisher.published)
	assert.Equal(t, []int64{1}, journal.pushed)
	assert.Nil(t, journal.entries[1].PushedAt)
}

func TestPushOnceRecoversAfterOutage(t *testing.T) {
	journal := &fakeJournal{entries: []models.JournalEntry{
		entry(1, models.CollectionPrices, "maize-id"),
	}}
	publisher := &fakePublisher{failAfter: 0}
	engine := NewEngine(journal, publisher, nil, time.Second)

	require.Error(t, engine.PushOnce(context.Background()))
	assert.Equal(t, StateOffline, engine.State())

	publisher.failAfter = -1
	require.NoError(t, engine.PushOnce(context.Background()))
	assert.Equal(t, StateConnected, engine.State())
	assert.Equal(t, []int64{1}, publisher.published)
}

func TestPushOnceKeepsGoingWhenMarkFails(t *testing.T) {
	journal := &fakeJournal{
		entries: []models.JournalEntry{
			entry(1, models.CollectionPrices, "maize-id"),
			entry(2, models.CollectionListings, "l-1"),
		},
		markErr: errors.New("disk full"),
	}
	publisher := &fakePublisher{failAfter: -1}
	engine := NewEngine(journal, publisher, nil, time.Second)

	// a mark failure means a duplicate push next tick, not a stalled queue
	require.NoError(t, engine.PushOnce(context.Background()))
	assert.Equal(t, []int64{1, 2}, publisher.published)
	assert.Equal(t, StateConnected, engine.State())
}

func TestPushOnceSurfacesJournalReadError(t *testing.T) {
	journal := &fakeJournal{listErr: errors.New("db down")}
	engine := NewEngine(journal, &fakePublisher{failAfter: -1}, nil, time.Second)

	assert.Error(t, engine.PushOnce(context.Background()))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	journal := &fakeJournal{}
	engine := NewEngine(journal, &fakePublisher{failAfter: -1}, nil, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- engine.Run(ctx)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("engine did not stop after cancel")
	}
}
