package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveTrend(t *testing.T) {
	assert.Equal(t, TrendUp, DeriveTrend(450, 470))
	assert.Equal(t, TrendDown, DeriveTrend(450, 430))
	assert.Equal(t, TrendStable, DeriveTrend(450, 450))
}

func TestEventTypeForChange(t *testing.T) {
	assert.Equal(t, EventTypePriceChanged, EventTypeForChange(CollectionPrices, OpUpsert))
	assert.Equal(t, EventTypeAuditAppended, EventTypeForChange(CollectionPriceAudit, OpUpsert))
	assert.Equal(t, EventTypeListingChanged, EventTypeForChange(CollectionListings, OpUpsert))
	assert.Equal(t, EventTypeListingDeleted, EventTypeForChange(CollectionListings, OpDelete))
	assert.Equal(t, EventTypeProfileSaved, EventTypeForChange(CollectionProfiles, OpUpsert))
	assert.Empty(t, EventTypeForChange("unknown", OpUpsert))
}

func TestSeedPricesCoverMajorMarkets(t *testing.T) {
	assert.Len(t, SeedPrices, 9)

	byID := make(map[string]MarketPrice, len(SeedPrices))
	for _, p := range SeedPrices {
		byID[p.ID] = p
		assert.Greater(t, p.Price, 0.0, "seed %s must have a positive price", p.ID)
		assert.NotEmpty(t, p.Unit)
		assert.NotEmpty(t, p.Location)
	}

	maize, ok := byID["seed-maize"]
	assert.True(t, ok)
	assert.Equal(t, 450.00, maize.Price)
	assert.Equal(t, "100kg bag", maize.Unit)
}
