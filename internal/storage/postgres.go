// internal/storage/postgres.go
// PostgreSQL implementation of the Repository interface, intended for
// production use with persistent data storage.
package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SellerBridge/sellerbridge-listing-go/internal/model"
)

type postgres struct {
	db *pgxpool.Pool
}

// NewPostgres creates a PostgreSQL repository. It establishes a connection
// pool and initializes the schema.
func NewPostgres(dsn string) (Repository, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30
	config.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &postgres{db: pool}, nil
}

// initSchema creates the listings table and its indexes if they do not
// already exist.
func initSchema(ctx context.Context, db *pgxpool.Pool) error {
	schema := `
		CREATE TABLE IF NOT EXISTS listings (
		    id TEXT PRIMARY KEY,                     -- ULID
		    product_type TEXT NOT NULL,              -- Marketplace product type
		    marketplace_id TEXT NOT NULL,            -- Marketplace the listing targets
		    seller_sku TEXT,                         -- Extracted seller SKU, may be NULL
		    form_data JSONB NOT NULL,                -- Raw seller-entered field values
		    requirements_snapshot JSONB NOT NULL,    -- Requirements in force at validation time
		    status TEXT NOT NULL,                    -- draft / validated / error / submitted
		    validation_errors JSONB,                 -- Field name to message, NULL when clean
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_listings_marketplace_updated_at ON listings(marketplace_id, updated_at DESC);
		CREATE INDEX IF NOT EXISTS idx_listings_product_type ON listings(product_type);
		CREATE INDEX IF NOT EXISTS idx_listings_status ON listings(status);
		CREATE INDEX IF NOT EXISTS idx_listings_marketplace_sku ON listings(marketplace_id, seller_sku) WHERE seller_sku IS NOT NULL;
	`

	_, err := db.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool
func (p *postgres) Close() {
	p.db.Close()
}

const listingColumns = `id, product_type, marketplace_id, form_data, requirements_snapshot, status, validation_errors, created_at, updated_at`

// scanListing reads one listing row, unpacking the JSONB columns.
func scanListing(row pgx.Row) (*model.ListingRecord, error) {
	var listing model.ListingRecord
	var formJSON, snapshotJSON []byte
	var errorsJSON []byte

	err := row.Scan(
		&listing.ID,
		&listing.ProductType,
		&listing.MarketplaceID,
		&formJSON,
		&snapshotJSON,
		&listing.Status,
		&errorsJSON,
		&listing.CreatedAt,
		&listing.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(formJSON, &listing.FormData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal form data: %w", err)
	}
	if err := json.Unmarshal(snapshotJSON, &listing.RequirementsSnapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal requirements snapshot: %w", err)
	}
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &listing.ValidationErrors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal validation errors: %w", err)
		}
	}

	return &listing, nil
}

func (p *postgres) Find(ctx context.Context, id string) (*model.ListingRecord, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`

	listing, err := scanListing(p.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return listing, nil
}

func (p *postgres) Save(ctx context.Context, listing model.ListingRecord) error {
	formJSON, err := json.Marshal(listing.FormData)
	if err != nil {
		return fmt.Errorf("failed to marshal form data: %w", err)
	}
	snapshotJSON, err := json.Marshal(listing.RequirementsSnapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal requirements snapshot: %w", err)
	}
	var errorsJSON []byte
	if len(listing.ValidationErrors) > 0 {
		errorsJSON, err = json.Marshal(listing.ValidationErrors)
		if err != nil {
			return fmt.Errorf("failed to marshal validation errors: %w", err)
		}
	}

	var sku interface{}
	if s := recordSKU(&listing); s != "" {
		sku = s
	}

	query := `INSERT INTO listings (id, product_type, marketplace_id, seller_sku, form_data, requirements_snapshot, status, validation_errors, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	          ON CONFLICT (id) DO UPDATE
	          SET product_type = $2, marketplace_id = $3, seller_sku = $4, form_data = $5,
	              requirements_snapshot = $6, status = $7, validation_errors = $8, updated_at = $10`

	_, err = p.db.Exec(ctx, query,
		listing.ID,
		listing.ProductType,
		listing.MarketplaceID,
		sku,
		formJSON,
		snapshotJSON,
		listing.Status,
		errorsJSON,
		listing.CreatedAt,
		listing.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save listing: %w", err)
	}
	return nil
}

func (p *postgres) FindBySKU(ctx context.Context, marketplaceID, sku string) (*model.ListingRecord, error) {
	// Prefer a listing that is live on the marketplace over one stuck in
	// error status; duplicates are a validation finding, not a storage
	// constraint.
	query := `SELECT ` + listingColumns + ` FROM listings WHERE marketplace_id = $1 AND seller_sku = $2
	          ORDER BY (status = 'error') ASC, updated_at DESC LIMIT 1`

	listing, err := scanListing(p.db.QueryRow(ctx, query, marketplaceID, sku))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get listing by SKU: %w", err)
	}
	return listing, nil
}

// cursorData represents the data encoded in a pagination cursor
type cursorData struct {
	LastUpdatedAt time.Time // Timestamp of the last listing on the page
	LastID        string    // ID of the last listing on the page
}

// encodeCursor encodes cursor data into a base64 string
func encodeCursor(lastUpdatedAt time.Time, lastID string) string {
	data := cursorData{
		LastUpdatedAt: lastUpdatedAt,
		LastID:        lastID,
	}
	jsonBytes, _ := json.Marshal(data)
	return base64.URLEncoding.EncodeToString(jsonBytes)
}

// decodeCursor decodes a base64 cursor string into cursor data
func decodeCursor(cursor string) (*cursorData, error) {
	dataBytes, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor format: %w", err)
	}

	var data cursorData
	if err := json.Unmarshal(dataBytes, &data); err != nil {
		return nil, fmt.Errorf("invalid cursor data: %w", err)
	}

	return &data, nil
}

func (p *postgres) List(ctx context.Context, query model.ListListingsQuery) (*model.ListListingsResult, error) {
	baseQuery := `SELECT ` + listingColumns + ` FROM listings WHERE 1=1`
	args := []interface{}{}
	argIndex := 1

	if query.MarketplaceID != "" {
		baseQuery += fmt.Sprintf(" AND marketplace_id = $%d", argIndex)
		args = append(args, query.MarketplaceID)
		argIndex++
	}
	if query.ProductType != "" {
		baseQuery += fmt.Sprintf(" AND product_type = $%d", argIndex)
		args = append(args, query.ProductType)
		argIndex++
	}
	if query.Status != "" {
		baseQuery += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, query.Status)
		argIndex++
	}

	if query.Cursor != "" {
		cursor, err := decodeCursor(query.Cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor: %w", err)
		}
		baseQuery += fmt.Sprintf(" AND (updated_at < $%d OR (updated_at = $%d AND id > $%d))", argIndex, argIndex, argIndex+1)
		args = append(args, cursor.LastUpdatedAt, cursor.LastID)
		argIndex += 2
	}

	baseQuery += " ORDER BY updated_at DESC, id ASC"

	limit := normalizeLimit(query.Limit)
	baseQuery += fmt.Sprintf(" LIMIT $%d", argIndex)
	// One extra row decides whether another page exists.
	args = append(args, limit+1)

	rows, err := p.db.Query(ctx, baseQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	defer rows.Close()

	var listings []model.ListingRecord
	rowCount := 0
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		rowCount++
		if rowCount <= limit {
			listings = append(listings, *listing)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating listings: %w", err)
	}

	result := &model.ListListingsResult{Listings: listings}
	if rowCount > limit && len(listings) > 0 {
		last := listings[len(listings)-1]
		result.NextCursor = encodeCursor(last.UpdatedAt, last.ID)
	}

	return result, nil
}
