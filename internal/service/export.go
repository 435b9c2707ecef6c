package service

import (
	"context"
	"time"

	"agrihub/internal/identity"
	"agrihub/internal/models"
	"agrihub/internal/util"
)

// Snapshot is a user-triggered backup of the caller's view of the data:
// all prices, the caller's own listings and the effective profile.
type Snapshot struct {
	ExportedAt time.Time            `json:"exported_at"`
	Prices     []models.MarketPrice `json:"prices"`
	MyListings []models.Listing     `json:"my_listings"`
	Profile    *models.Profile      `json:"profile"`
}

// ExportService assembles snapshots. Export is a pure read; no core behavior
// changes based on it.
type ExportService struct {
	prices   PriceStore
	listings ListingStore
	profiles *ProfileService
}

// NewExportService creates an export service
func NewExportService(prices PriceStore, listings ListingStore, profiles *ProfileService) *ExportService {
	return &ExportService{
		prices:   prices,
		listings: listings,
		profiles: profiles,
	}
}

// Snapshot builds a serializable backup for the authenticated caller
func (s *ExportService) Snapshot(ctx context.Context, sess *identity.Session) (*Snapshot, error) {
	ctx, span := util.StartSpan(ctx, "ExportService.Snapshot")
	defer span.End()

	prices, err := s.prices.ListPrices(ctx, "", "")
	if err != nil {
		return nil, err
	}

	mine, err := s.listings.ListListings(ctx, "", "", sess.UserID)
	if err != nil {
		return nil, err
	}

	profile, err := s.profiles.Effective(ctx, sess)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		ExportedAt: time.Now(),
		Prices:     prices,
		MyListings: mine,
		Profile:    profile,
	}, nil
}
