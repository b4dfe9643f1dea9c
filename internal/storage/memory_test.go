package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/SellerBridge/sellerbridge-listing-go/internal/model"
)

func testListing(id, sku string, updatedAt time.Time) model.ListingRecord {
	return model.ListingRecord{
		ID:            id,
		ProductType:   "LUGGAGE",
		MarketplaceID: "ATVPDKIKX0DER",
		FormData:      map[string]interface{}{"seller_sku": sku, "item_name": "Trail Backpack"},
		Status:        model.StatusDraft,
		CreatedAt:     updatedAt,
		UpdatedAt:     updatedAt,
	}
}

func TestMemorySaveAndFind(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	listing := testListing("01ABC", "SKU-1", now)
	if err := repo.Save(ctx, listing); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := repo.Find(ctx, "01ABC")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got.ProductType != "LUGGAGE" || got.Status != model.StatusDraft {
		t.Errorf("unexpected listing: %+v", got)
	}

	if _, err := repo.Find(ctx, "missing"); err != ErrNotFound {
		t.Errorf("Find missing = %v, want ErrNotFound", err)
	}
}

func TestMemorySaveReplaces(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	listing := testListing("01ABC", "SKU-1", now)
	if err := repo.Save(ctx, listing); err != nil {
		t.Fatal(err)
	}

	listing.Status = model.StatusValidated
	listing.FormData["seller_sku"] = "SKU-2"
	if err := repo.Save(ctx, listing); err != nil {
		t.Fatal(err)
	}

	got, err := repo.Find(ctx, "01ABC")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusValidated {
		t.Errorf("status = %s, want validated", got.Status)
	}

	// SKU index follows the update.
	if _, err := repo.FindBySKU(ctx, "ATVPDKIKX0DER", "SKU-1"); err != ErrNotFound {
		t.Errorf("stale SKU still indexed: %v", err)
	}
	if _, err := repo.FindBySKU(ctx, "ATVPDKIKX0DER", "SKU-2"); err != nil {
		t.Errorf("new SKU not indexed: %v", err)
	}
}

func TestMemoryFindBySKUScopedToMarketplace(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := repo.Save(ctx, testListing("01ABC", "SKU-1", now)); err != nil {
		t.Fatal(err)
	}

	if _, err := repo.FindBySKU(ctx, "A2EUQ1WTGCTBG2", "SKU-1"); err != ErrNotFound {
		t.Errorf("SKU leaked across marketplaces: %v", err)
	}
}

func TestMemoryListPagination(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 7; i++ {
		l := testListing(fmt.Sprintf("01ABC%02d", i), fmt.Sprintf("SKU-%d", i), base.Add(time.Duration(i)*time.Minute))
		if err := repo.Save(ctx, l); err != nil {
			t.Fatal(err)
		}
	}

	page1, err := repo.List(ctx, model.ListListingsQuery{Limit: 3})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page1.Listings) != 3 {
		t.Fatalf("page 1 has %d listings, want 3", len(page1.Listings))
	}
	if page1.NextCursor == "" {
		t.Fatal("expected a next cursor")
	}
	// Newest first.
	if page1.Listings[0].ID != "01ABC06" {
		t.Errorf("first listing = %s, want 01ABC06", page1.Listings[0].ID)
	}

	page2, err := repo.List(ctx, model.ListListingsQuery{Limit: 3, Cursor: page1.NextCursor})
	if err != nil {
		t.Fatalf("List page 2: %v", err)
	}
	if len(page2.Listings) != 3 {
		t.Fatalf("page 2 has %d listings, want 3", len(page2.Listings))
	}
	if page2.Listings[0].ID == page1.Listings[2].ID {
		t.Error("page 2 repeats the end of page 1")
	}

	page3, err := repo.List(ctx, model.ListListingsQuery{Limit: 3, Cursor: page2.NextCursor})
	if err != nil {
		t.Fatalf("List page 3: %v", err)
	}
	if len(page3.Listings) != 1 || page3.NextCursor != "" {
		t.Errorf("page 3 = %d listings, cursor %q", len(page3.Listings), page3.NextCursor)
	}
}

func TestMemoryListFilters(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	a := testListing("01AAA", "SKU-A", now)
	b := testListing("01BBB", "SKU-B", now)
	b.ProductType = "SHOES"
	b.Status = model.StatusValidated
	for _, l := range []model.ListingRecord{a, b} {
		if err := repo.Save(ctx, l); err != nil {
			t.Fatal(err)
		}
	}

	byType, err := repo.List(ctx, model.ListListingsQuery{ProductType: "SHOES"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byType.Listings) != 1 || byType.Listings[0].ID != "01BBB" {
		t.Errorf("product type filter returned %+v", byType.Listings)
	}

	byStatus, err := repo.List(ctx, model.ListListingsQuery{Status: model.StatusDraft})
	if err != nil {
		t.Fatal(err)
	}
	if len(byStatus.Listings) != 1 || byStatus.Listings[0].ID != "01AAA" {
		t.Errorf("status filter returned %+v", byStatus.Listings)
	}
}
