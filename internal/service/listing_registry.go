package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"agrihub/internal/models"
	"agrihub/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ListingStore is the slice of the local store the registry needs
type ListingStore interface {
	GetListing(ctx context.Context, id string) (*models.Listing, error)
	ListListings(ctx context.Context, listingType, category, userID string) ([]models.Listing, error)
	InsertListing(ctx context.Context, listing *models.Listing) error
	UpdateListing(ctx context.Context, listing *models.Listing) error
	DeleteListing(ctx context.Context, id string) error
	UpdateListingsOwner(ctx context.Context, userID, name, profileImage string) (int64, error)
}

// Owner is the denormalized owner snapshot stamped onto a listing at creation
type Owner struct {
	ID           string
	Name         string
	ProfileImage string
}

// ListingDraft is the caller-supplied part of a new listing
type ListingDraft struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Price       string `json:"price" binding:"required"`
	Type        string `json:"type" binding:"required,oneof=sale wanted"`
	Category    string `json:"category" binding:"required"`
	Contact     string `json:"contact" binding:"required"`
}

// ListingPatch carries partial updates; nil fields are left unchanged
type ListingPatch struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Price       *string `json:"price"`
	Type        *string `json:"type"`
	Category    *string `json:"category"`
	Contact     *string `json:"contact"`
}

// ListingRegistry owns marketplace listings: owner-scoped CRUD plus the
// profile fan-out over denormalized owner fields
type ListingRegistry struct {
	store  ListingStore
	logger *zap.Logger
}

// NewListingRegistry creates a listing registry
func NewListingRegistry(store ListingStore) *ListingRegistry {
	return &ListingRegistry{
		store:  store,
		logger: util.GetLogger(),
	}
}

// normalizePrice prepends the cedi prefix when the caller did not supply one
func normalizePrice(price string) string {
	trimmed := strings.TrimSpace(price)
	if trimmed == "" {
		return trimmed
	}
	if strings.HasPrefix(trimmed, "GH₵") || strings.HasPrefix(trimmed, "₵") {
		return trimmed
	}
	return "GH₵ " + trimmed
}

// Create inserts a new listing owned by the authenticated creator
func (r *ListingRegistry) Create(ctx context.Context, owner Owner, draft *ListingDraft) (*models.Listing, error) {
	ctx, span := util.StartSpan(ctx, "ListingRegistry.Create")
	defer span.End()

	now := time.Now()
	listing := &models.Listing{
		ID:               uuid.New().String(),
		UserID:           owner.ID,
		UserName:         owner.Name,
		UserProfileImage: owner.ProfileImage,
		Title:            draft.Title,
		Description:      draft.Description,
		Price:            normalizePrice(draft.Price),
		Type:             draft.Type,
		Category:         draft.Category,
		Contact:          draft.Contact,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := r.store.InsertListing(ctx, listing); err != nil {
		return nil, err
	}

	util.ListingsCreatedTotal.Inc()
	r.logger.Info("Listing created",
		zap.String("listing_id", listing.ID),
		zap.String("user_id", owner.ID),
		zap.String("type", listing.Type))
	return listing, nil
}

// Get retrieves a listing
func (r *ListingRegistry) Get(ctx context.Context, id string) (*models.Listing, error) {
	listing, err := r.store.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, ErrNotFound
	}
	return listing, nil
}

// List retrieves listings with optional type/category/owner filters
func (r *ListingRegistry) List(ctx context.Context, listingType, category, userID string) ([]models.Listing, error) {
	return r.store.ListListings(ctx, listingType, category, userID)
}

// Update merges a patch into a listing. Only the owner may update.
func (r *ListingRegistry) Update(ctx context.Context, id, callerID string, patch *ListingPatch) (*models.Listing, error) {
	ctx, span := util.StartSpan(ctx, "ListingRegistry.Update")
	defer span.End()

	listing, err := r.store.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, ErrNotFound
	}
	if listing.UserID != callerID {
		util.ListingWritesDeniedTotal.Inc()
		return nil, ErrNotOwner
	}

	if patch.Title != nil {
		listing.Title = *patch.Title
	}
	if patch.Description != nil {
		listing.Description = *patch.Description
	}
	if patch.Price != nil {
		listing.Price = normalizePrice(*patch.Price)
	}
	if patch.Type != nil {
		listing.Type = *patch.Type
	}
	if patch.Category != nil {
		listing.Category = *patch.Category
	}
	if patch.Contact != nil {
		listing.Contact = *patch.Contact
	}
	listing.UpdatedAt = time.Now()

	if err := r.store.UpdateListing(ctx, listing); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return listing, nil
}

// Delete removes a listing. Only the owner may delete.
func (r *ListingRegistry) Delete(ctx context.Context, id, callerID string) error {
	ctx, span := util.StartSpan(ctx, "ListingRegistry.Delete")
	defer span.End()

	listing, err := r.store.GetListing(ctx, id)
	if err != nil {
		return err
	}
	if listing == nil {
		return ErrNotFound
	}
	if listing.UserID != callerID {
		util.ListingWritesDeniedTotal.Inc()
		return ErrNotOwner
	}

	if err := r.store.DeleteListing(ctx, id); err != nil {
		return err
	}

	util.ListingsDeletedTotal.Inc()
	r.logger.Info("Listing deleted",
		zap.String("listing_id", id),
		zap.String("user_id", callerID))
	return nil
}

// OnProfileChanged rewrites the denormalized owner name and photo on every
// listing of a user. Idempotent: it only ever sets fields to the profile's
// current values, so re-running it is always safe.
func (r *ListingRegistry) OnProfileChanged(ctx context.Context, userID, name, profileImage string) error {
	ctx, span := util.StartSpan(ctx, "ListingRegistry.OnProfileChanged")
	defer span.End()

	changed, err := r.store.UpdateListingsOwner(ctx, userID, name, profileImage)
	if err != nil {
		util.FanoutFailuresTotal.Inc()
		return err
	}

	util.FanoutRunsTotal.Inc()
	if changed > 0 {
		r.logger.Info("Profile fanned out to listings",
			zap.String("user_id", userID),
			zap.Int64("listings", changed))
	}
	return nil
}
