package models

import "time"

// MarketPrice represents the current market price for a commodity at a location
type MarketPrice struct {
	ID        string    `db:"id" json:"id"`
	Commodity string    `db:"commodity" json:"commodity"`
	Price     float64   `db:"price" json:"price"`
	Unit      string    `db:"unit" json:"unit"`
	Location  string    `db:"location" json:"location"`
	Trend     string    `db:"trend" json:"trend"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// PriceAudit is an append-only record of a committed price change
type PriceAudit struct {
	ID        string  `db:"id" json:"id"`
	PriceID   string  `db:"price_id" json:"price_id"`
	Commodity string  `db:"commodity" json:"commodity"`
	OldPrice  float64 `db:"old_price" json:"old_price"`
	NewPrice  float64 `db:"new_price" json:"new_price"`
	// BaseOldPrice is the price the editor saw when the change was made.
	// Under last-writer-wins sync it allows post-hoc detection of lost updates.
	BaseOldPrice float64   `db:"base_old_price" json:"base_old_price"`
	ChangedBy    string    `db:"changed_by" json:"changed_by"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Listing represents a marketplace listing owned by a user
type Listing struct {
	ID               string    `db:"id" json:"id"`
	UserID           string    `db:"user_id" json:"user_id"`
	UserName         string    `db:"user_name" json:"user_name"`
	UserProfileImage string    `db:"user_profile_image" json:"user_profile_image,omitempty"`
	Title            string    `db:"title" json:"title"`
	Description      string    `db:"description" json:"description"`
	Price            string    `db:"price" json:"price"`
	Type             string    `db:"type" json:"type"`
	Category         string    `db:"category" json:"category"`
	Contact          string    `db:"contact" json:"contact"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Profile represents a user profile keyed by the identity provider user ID
type Profile struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Location     string    `db:"location" json:"location"`
	PhoneNumber  string    `db:"phone_number" json:"phone_number,omitempty"`
	Role         string    `db:"role" json:"role"`
	ProfileImage string    `db:"profile_image" json:"profile_image,omitempty"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Price trends (derived from price changes, never set directly)
const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"
)

// Listing types
const (
	ListingTypeSale   = "sale"
	ListingTypeWanted = "wanted"
)

// Profile roles
const (
	RoleFarmer           = "farmer"
	RoleBuyer            = "buyer"
	RoleExtensionOfficer = "extension-officer"
)

// Collection names used for live-query notification and sync change events
const (
	CollectionPrices     = "prices"
	CollectionPriceAudit = "price_audit"
	CollectionListings   = "listings"
	CollectionProfiles   = "profiles"
)

// JournalEntry is an outbox row recording a committed local write that still
// has to be replicated to the remote authority
type JournalEntry struct {
	Seq        int64      `db:"seq" json:"seq"`
	EventID    string     `db:"event_id" json:"event_id"`
	Collection string     `db:"collection" json:"collection"`
	RecordID   string     `db:"record_id" json:"record_id"`
	Op         string     `db:"op" json:"op"`
	Payload    []byte     `db:"payload" json:"payload"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	PushedAt   *time.Time `db:"pushed_at" json:"pushed_at,omitempty"`
}

// Journal operations
const (
	OpUpsert = "upsert"
	OpDelete = "delete"
)

// ProcessedEvent for inbound sync idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

// SeedPrices is the fixed template set loaded once when the prices collection
// is empty on first run
var SeedPrices = []MarketPrice{
	{ID: "seed-maize", Commodity: "Maize", Price: 450.00, Unit: "100kg bag", Location: "Makola, Accra", Trend: TrendStable},
	{ID: "seed-cocoa", Commodity: "Cocoa", Price: 1250.00, Unit: "64kg sack", Location: "Kejetia, Kumasi", Trend: TrendStable},
	{ID: "seed-yam", Commodity: "Yam (Pona)", Price: 35.00, Unit: "3 Tubers", Location: "Tamale Central", Trend: TrendStable},
	{ID: "seed-cassava", Commodity: "Cassava", Price: 85.00, Unit: "Bag", Location: "Techiman", Trend: TrendStable},
	{ID: "seed-plantain", Commodity: "Plantain", Price: 65.00, Unit: "Bunch", Location: "Koforidua", Trend: TrendStable},
	{ID: "seed-groundnut", Commodity: "Groundnut", Price: 120.00, Unit: "Bag", Location: "Tamale", Trend: TrendStable},
	{ID: "seed-cowpea", Commodity: "Cowpea", Price: 95.00, Unit: "Bag", Location: "Techiman", Trend: TrendStable},
	{ID: "seed-mango", Commodity: "Mango", Price: 15.00, Unit: "Crate", Location: "Greater Accra", Trend: TrendStable},
	{ID: "seed-pineapple", Commodity: "Pineapple", Price: 8.00, Unit: "Size 1", Location: "Nsawam", Trend: TrendStable},
}

// DeriveTrend computes the trend for a price change
func DeriveTrend(oldPrice, newPrice float64) string {
	switch {
	case newPrice > oldPrice:
		return TrendUp
	case newPrice < oldPrice:
		return TrendDown
	default:
		return TrendStable
	}
}
