package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"agrihub/internal/models"

	"github.com/segmentio/kafka-go"
)

// ChangePublisher publishes committed local writes as change events on the
// sync topic
type ChangePublisher struct {
	producer *Producer
	origin   string
}

// NewChangePublisher creates a change publisher stamped with this node's origin ID
func NewChangePublisher(producer *Producer, origin string) *ChangePublisher {
	return &ChangePublisher{producer: producer, origin: origin}
}

// PublishChange publishes a journal entry as a change event
func (cp *ChangePublisher) PublishChange(ctx context.Context, entry *models.JournalEntry) error {
	eventType := models.EventTypeForChange(entry.Collection, entry.Op)
	if eventType == "" {
		return fmt.Errorf("no event type for collection %q", entry.Collection)
	}

	event := &models.ChangeEvent{
		BaseEvent: models.BaseEvent{
			EventID:   entry.EventID,
			EventType: eventType,
			Origin:    cp.origin,
			Timestamp: time.Now(),
		},
		Collection: entry.Collection,
		RecordID:   entry.RecordID,
		Op:         entry.Op,
		Record:     entry.Payload,
	}

	key := fmt.Sprintf("%s-%s", entry.Collection, entry.RecordID)
	return cp.producer.PublishEvent(ctx, key, event)
}

// ChangeHandler routes inbound change events to registered handlers
type ChangeHandler struct {
	onRecordChanged func(context.Context, *models.ChangeEvent) error
	onProfileSaved  func(context.Context, *models.ChangeEvent) error
}

// NewChangeHandler creates a new change handler
func NewChangeHandler() *ChangeHandler {
	return &ChangeHandler{}
}

// OnRecordChanged registers a handler for replicated record changes
func (ch *ChangeHandler) OnRecordChanged(handler func(context.Context, *models.ChangeEvent) error) {
	ch.onRecordChanged = handler
}

// OnProfileSaved registers a handler for profile saves, used as the fan-out
// trigger
func (ch *ChangeHandler) OnProfileSaved(handler func(context.Context, *models.ChangeEvent) error) {
	ch.onProfileSaved = handler
}

// HandleMessage routes a Kafka message to the appropriate handler
func (ch *ChangeHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var event models.ChangeEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal change event: %w", err)
	}

	switch event.EventType {
	case models.EventTypePriceChanged, models.EventTypeAuditAppended,
		models.EventTypeListingChanged, models.EventTypeListingDeleted:
		if ch.onRecordChanged != nil {
			return ch.onRecordChanged(ctx, &event)
		}

	case models.EventTypeProfileSaved:
		if ch.onProfileSaved != nil {
			return ch.onProfileSaved(ctx, &event)
		}
		if ch.onRecordChanged != nil {
			return ch.onRecordChanged(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", event.EventType)
	}

	return nil
}
