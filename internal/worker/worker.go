package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"agrihub/internal/broker"
	"agrihub/internal/models"
	"agrihub/internal/redisclient"
	"agrihub/internal/service"
	"agrihub/internal/util"

	"go.uber.org/zap"
)

// RemoteApplier is the slice of the local store the sync worker needs to
// apply replicated changes
type RemoteApplier interface {
	ApplyRemotePrice(ctx context.Context, price *models.MarketPrice) (bool, error)
	ApplyRemoteAudit(ctx context.Context, audit *models.PriceAudit) error
	ApplyRemoteListing(ctx context.Context, listing *models.Listing) (bool, error)
	ApplyRemoteListingDelete(ctx context.Context, id string) error
	ApplyRemoteProfile(ctx context.Context, profile *models.Profile) (bool, error)
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

const eventSeenTTL = 24 * time.Hour

// SyncWorker applies remote change events to the local store: skip own
// pushes, drop already-processed events, last-writer-wins per record.
type SyncWorker struct {
	consumer *broker.Consumer
	handler  *broker.ChangeHandler
	applier  RemoteApplier
	redis    *redisclient.Client
	nodeID   string
	logger   *zap.Logger
}

// NewSyncWorker creates the inbound sync worker
func NewSyncWorker(consumer *broker.Consumer, applier RemoteApplier, redis *redisclient.Client, nodeID string) *SyncWorker {
	w := &SyncWorker{
		consumer: consumer,
		applier:  applier,
		redis:    redis,
		nodeID:   nodeID,
		logger:   util.GetLogger(),
	}

	handler := broker.NewChangeHandler()
	handler.OnRecordChanged(w.ApplyChange)
	w.handler = handler
	return w
}

// Start starts the worker
func (w *SyncWorker) Start(ctx context.Context) error {
	log.Println("Starting sync worker...")
	return w.consumer.StartConsuming(ctx, w.handler.HandleMessage)
}

// Stop stops the worker
func (w *SyncWorker) Stop() error {
	log.Println("Stopping sync worker...")
	return w.consumer.Close()
}

// ApplyChange applies a single replicated change event
func (w *SyncWorker) ApplyChange(ctx context.Context, event *models.ChangeEvent) error {
	if event.Origin == w.nodeID {
		return nil
	}

	if w.redis != nil {
		if seen, err := w.redis.EventSeen(ctx, event.EventID); err == nil && seen {
			return nil
		}
	}
	processed, err := w.applier.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		return nil
	}

	applied, err := w.apply(ctx, event)
	if err != nil {
		return err
	}

	if applied {
		util.SyncAppliedTotal.Inc()
	} else {
		util.SyncConflictsTotal.Inc()
		w.logger.Info("Remote change dropped, local record newer",
			zap.String("collection", event.Collection),
			zap.String("record_id", event.RecordID))
	}

	if err := w.applier.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		w.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	if w.redis != nil {
		if err := w.redis.MarkEventSeen(ctx, event.EventID, eventSeenTTL); err != nil {
			w.logger.Warn("Failed to cache event id", zap.Error(err))
		}
	}
	return nil
}

func (w *SyncWorker) apply(ctx context.Context, event *models.ChangeEvent) (bool, error) {
	switch event.Collection {
	case models.CollectionPrices:
		var price models.MarketPrice
		if err := json.Unmarshal(event.Record, &price); err != nil {
			return false, fmt.Errorf("failed to unmarshal remote price: %w", err)
		}
		return w.applier.ApplyRemotePrice(ctx, &price)

	case models.CollectionPriceAudit:
		var audit models.PriceAudit
		if err := json.Unmarshal(event.Record, &audit); err != nil {
			return false, fmt.Errorf("failed to unmarshal remote audit entry: %w", err)
		}
		return true, w.applier.ApplyRemoteAudit(ctx, &audit)

	case models.CollectionListings:
		if event.Op == models.OpDelete {
			return true, w.applier.ApplyRemoteListingDelete(ctx, event.RecordID)
		}
		var listing models.Listing
		if err := json.Unmarshal(event.Record, &listing); err != nil {
			return false, fmt.Errorf("failed to unmarshal remote listing: %w", err)
		}
		return w.applier.ApplyRemoteListing(ctx, &listing)

	case models.CollectionProfiles:
		var profile models.Profile
		if err := json.Unmarshal(event.Record, &profile); err != nil {
			return false, fmt.Errorf("failed to unmarshal remote profile: %w", err)
		}
		return w.applier.ApplyRemoteProfile(ctx, &profile)

	default:
		w.logger.Warn("Unknown collection in change event", zap.String("collection", event.Collection))
		return false, nil
	}
}

// FanoutWorker replays profile saves against the listing registry so the
// denormalized owner fields converge even when the synchronous fan-out
// attempt failed. The fan-out is idempotent, so replays are safe.
type FanoutWorker struct {
	consumer *broker.Consumer
	handler  *broker.ChangeHandler
	registry *service.ListingRegistry
	logger   *zap.Logger
}

// NewFanoutWorker creates the fan-out worker
func NewFanoutWorker(consumer *broker.Consumer, registry *service.ListingRegistry) *FanoutWorker {
	w := &FanoutWorker{
		consumer: consumer,
		registry: registry,
		logger:   util.GetLogger(),
	}

	handler := broker.NewChangeHandler()
	handler.OnProfileSaved(w.HandleProfileSaved)
	w.handler = handler
	return w
}

// Start starts the worker
func (w *FanoutWorker) Start(ctx context.Context) error {
	log.Println("Starting fan-out worker...")
	return w.consumer.StartConsuming(ctx, w.handler.HandleMessage)
}

// Stop stops the worker
func (w *FanoutWorker) Stop() error {
	log.Println("Stopping fan-out worker...")
	return w.consumer.Close()
}

// HandleProfileSaved re-runs the fan-out for a saved profile. Own-origin
// events are handled too: this is the retry path for local saves whose
// synchronous fan-out failed. An error leaves the message uncommitted so the
// consumer redelivers it.
func (w *FanoutWorker) HandleProfileSaved(ctx context.Context, event *models.ChangeEvent) error {
	var profile models.Profile
	if err := json.Unmarshal(event.Record, &profile); err != nil {
		return fmt.Errorf("failed to unmarshal profile for fan-out: %w", err)
	}

	return w.registry.OnProfileChanged(ctx, profile.ID, profile.Name, profile.ProfileImage)
}
