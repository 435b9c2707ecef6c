package syncengine

import (
	"context"
	"sync"
	"time"

	"agrihub/internal/models"
	"agrihub/internal/redisclient"
	"agrihub/internal/util"

	"go.uber.org/zap"
)

// State is the sync engine connectivity state
type State string

const (
	StateOffline   State = "offline"
	StateConnected State = "connected"
	StatePushing   State = "pushing"
)

const pushBatchSize = 100

// JournalSource is the slice of the local store the push loop needs
type JournalSource interface {
	UnpushedJournal(ctx context.Context, limit int) ([]models.JournalEntry, error)
	MarkJournalPushed(ctx context.Context, seq int64) error
}

// ChangePublisher delivers a journal entry to the remote authority
type ChangePublisher interface {
	PublishChange(ctx context.Context, entry *models.JournalEntry) error
}

// Engine drains the outbox journal to the remote authority. Once connectivity
// is available every committed local write is eventually delivered; entries
// are pushed in journal order and only marked pushed after the broker accepts
// them, so a crash mid-push re-delivers rather than drops.
type Engine struct {
	journal   JournalSource
	publisher ChangePublisher
	redis     *redisclient.Client
	logger    *zap.Logger
	interval  time.Duration

	mu    sync.RWMutex
	state State
}

// NewEngine creates a sync engine
func NewEngine(journal JournalSource, publisher ChangePublisher, redis *redisclient.Client, interval time.Duration) *Engine {
	return &Engine{
		journal:   journal,
		publisher: publisher,
		redis:     redis,
		logger:    util.GetLogger(),
		interval:  interval,
		state:     StateConnected,
	}
}

// State returns the current connectivity state
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) setState(ctx context.Context, next State) {
	e.mu.Lock()
	prev := e.state
	e.state = next
	e.mu.Unlock()

	if prev == next {
		return
	}

	switch next {
	case StateOffline:
		util.SyncState.Set(0)
	case StateConnected:
		util.SyncState.Set(1)
	case StatePushing:
		util.SyncState.Set(2)
	}

	if e.redis != nil {
		if err := e.redis.SetSyncState(ctx, string(next)); err != nil {
			e.logger.Warn("Failed to cache sync state", zap.Error(err))
		}
	}

	e.logger.Info("Sync state changed",
		zap.String("from", string(prev)),
		zap.String("to", string(next)))
}

// Run pushes the journal on a fixed interval until the context is cancelled
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.PushOnce(ctx); err != nil && ctx.Err() == nil {
				e.logger.Warn("Journal push failed, will retry", zap.Error(err))
			}
		}
	}
}

// PushOnce drains one batch of unpushed journal entries. A publish failure
// flips the engine offline and leaves the entry unpushed for the next tick.
func (e *Engine) PushOnce(ctx context.Context) error {
	entries, err := e.journal.UnpushedJournal(ctx, pushBatchSize)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	e.setState(ctx, StatePushing)
	start := time.Now()
	defer func() {
		util.SyncPushLatency.Observe(time.Since(start).Seconds())
	}()

	for i := range entries {
		if err := e.publisher.PublishChange(ctx, &entries[i]); err != nil {
			e.setState(ctx, StateOffline)
			return err
		}

		if err := e.journal.MarkJournalPushed(ctx, entries[i].Seq); err != nil {
			// the change is on the wire; an unmarked entry means a duplicate
			// push later, absorbed by inbound idempotency
			e.logger.Error("Failed to mark journal entry pushed",
				zap.Int64("seq", entries[i].Seq),
				zap.Error(err))
		}
		util.SyncPushedTotal.Inc()
	}

	e.setState(ctx, StateConnected)
	return nil
}
