package models

import (
	"encoding/json"
	"time"
)

// Event types carried on the sync topic
const (
	EventTypePriceChanged   = "PRICE_CHANGED"
	EventTypeListingChanged = "LISTING_CHANGED"
	EventTypeListingDeleted = "LISTING_DELETED"
	EventTypeProfileSaved   = "PROFILE_SAVED"
	EventTypeAuditAppended  = "AUDIT_APPENDED"
)

// BaseEvent contains common fields for all change events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Origin    string    `json:"origin"`
	Timestamp time.Time `json:"timestamp"`
}

// ChangeEvent is the replication envelope for a single committed write.
// Record holds the full post-write record for upserts and is empty for deletes.
type ChangeEvent struct {
	BaseEvent
	Collection string          `json:"collection"`
	RecordID   string          `json:"record_id"`
	Op         string          `json:"op"`
	Record     json.RawMessage `json:"record,omitempty"`
}

// EventTypeForChange maps a journal entry to its event type
func EventTypeForChange(collection, op string) string {
	switch collection {
	case CollectionPrices:
		return EventTypePriceChanged
	case CollectionPriceAudit:
		return EventTypeAuditAppended
	case CollectionProfiles:
		return EventTypeProfileSaved
	case CollectionListings:
		if op == OpDelete {
			return EventTypeListingDeleted
		}
		return EventTypeListingChanged
	default:
		return ""
	}
}
