// internal/storage/memory.go
// Package storage provides implementations of the Repository interface
// for both in-memory and PostgreSQL storage backends.
package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/SellerBridge/sellerbridge-listing-go/internal/model"
)

// Standard errors returned by the storage layer
var (
	ErrNotFound = errors.New("not found") // Returned when a listing is not found
	ErrConflict = errors.New("conflict")  // Returned when a listing already exists
)

// Repository defines the persistence operations required by the listing
// service. It is implemented by both in-memory and PostgreSQL backends.
type Repository interface {
	// Find returns a listing by ID.
	Find(ctx context.Context, id string) (*model.ListingRecord, error)
	// Save inserts or replaces a listing by ID.
	Save(ctx context.Context, listing model.ListingRecord) error
	// FindBySKU returns the listing carrying the given seller SKU within a
	// marketplace. SKU comparison is case-sensitive.
	FindBySKU(ctx context.Context, marketplaceID, sku string) (*model.ListingRecord, error)
	// List returns a filtered, cursor-paginated page of listings.
	List(ctx context.Context, query model.ListListingsQuery) (*model.ListListingsResult, error)
	// Close releases backend resources.
	Close()
}

// memory implements Repository with in-process maps. It is intended for
// development and testing.
type memory struct {
	mu       sync.RWMutex
	listings map[string]*model.ListingRecord // ID to listing
}

// NewMemory creates a new in-memory repository.
func NewMemory() Repository {
	return &memory{
		listings: make(map[string]*model.ListingRecord),
	}
}

func (m *memory) Close() {}

func (m *memory) Find(ctx context.Context, id string) (*model.ListingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	listing, exists := m.listings[id]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *listing
	return &copied, nil
}

func (m *memory) Save(ctx context.Context, listing model.ListingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := listing
	m.listings[listing.ID] = &copied
	return nil
}

func (m *memory) FindBySKU(ctx context.Context, marketplaceID, sku string) (*model.ListingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Several listings may share a SKU (duplicates are a validation
	// finding, not a storage constraint); prefer one that is live on the
	// marketplace over one stuck in error status.
	var match *model.ListingRecord
	for _, listing := range m.listings {
		if listing.MarketplaceID != marketplaceID || recordSKU(listing) != sku {
			continue
		}
		if listing.Status != model.StatusError {
			copied := *listing
			return &copied, nil
		}
		if match == nil {
			match = listing
		}
	}
	if match == nil {
		return nil, ErrNotFound
	}
	copied := *match
	return &copied, nil
}

func (m *memory) List(ctx context.Context, query model.ListListingsQuery) (*model.ListListingsResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	filtered := make([]*model.ListingRecord, 0, len(m.listings))
	for _, listing := range m.listings {
		if query.MarketplaceID != "" && listing.MarketplaceID != query.MarketplaceID {
			continue
		}
		if query.ProductType != "" && listing.ProductType != query.ProductType {
			continue
		}
		if query.Status != "" && listing.Status != query.Status {
			continue
		}
		filtered = append(filtered, listing)
	}

	// Newest first, ID ascending for a stable order on ties.
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].UpdatedAt.Equal(filtered[j].UpdatedAt) {
			return filtered[i].ID < filtered[j].ID
		}
		return filtered[i].UpdatedAt.After(filtered[j].UpdatedAt)
	})

	startIndex := 0
	if query.Cursor != "" {
		cursor, err := decodeCursor(query.Cursor)
		if err == nil {
			for i, listing := range filtered {
				if listing.UpdatedAt.Before(cursor.LastUpdatedAt) ||
					(listing.UpdatedAt.Equal(cursor.LastUpdatedAt) && listing.ID > cursor.LastID) {
					startIndex = i
					break
				}
				startIndex = i + 1
			}
		}
	}

	limit := normalizeLimit(query.Limit)
	endIndex := startIndex + limit
	if endIndex > len(filtered) {
		endIndex = len(filtered)
	}

	page := filtered[startIndex:endIndex]
	result := &model.ListListingsResult{
		Listings: make([]model.ListingRecord, len(page)),
	}
	for i, listing := range page {
		result.Listings[i] = *listing
	}

	if endIndex < len(filtered) && len(result.Listings) > 0 {
		last := result.Listings[len(result.Listings)-1]
		result.NextCursor = encodeCursor(last.UpdatedAt, last.ID)
	}

	return result, nil
}

// recordSKU extracts the seller SKU from a listing's form data, checking
// the common SKU field names in priority order.
func recordSKU(listing *model.ListingRecord) string {
	for _, field := range []string{"seller_sku", "sku", "merchant_sku", "item_sku"} {
		if v, ok := listing.FormData[field]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return ""
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 25
	}
	if limit > 100 {
		return 100
	}
	return limit
}
