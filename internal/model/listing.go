// internal/model/listing.go
// Package model defines the data structures used throughout the listing service.
// These structures represent the core domain objects for listings, schema
// requirements, and access tokens.
package model

import (
	"time"
)

// Status represents the lifecycle state of a listing record.
type Status string

const (
	StatusDraft     Status = "draft"     // Created, not yet validated
	StatusValidated Status = "validated" // Passed validation, ready for submission
	StatusError     Status = "error"     // Failed validation, see ValidationErrors
	StatusSubmitted Status = "submitted" // Sent to the marketplace
)

// AccessToken represents an OAuth2 access token obtained from the
// marketplace authorization endpoint. A token is usable only while its
// remaining lifetime exceeds the refresh buffer.
type AccessToken struct {
	Value      string    `json:"value"`
	TokenType  string    `json:"tokenType"`
	ObtainedAt time.Time `json:"obtainedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// TokenInfo is a diagnostic snapshot of the cached access token.
type TokenInfo struct {
	HasToken         bool      `json:"hasToken"`
	ObtainedAt       time.Time `json:"obtainedAt"`
	ExpiresAt        time.Time `json:"expiresAt"`
	ExpiresInSeconds int64     `json:"expiresInSeconds"`
	IsValid          bool      `json:"isValid"`
	TokenType        string    `json:"tokenType"`
}

// Requirement is a normalized schema field descriptor derived from a
// marketplace's raw attribute schema. Name is the identity key and is
// unique within a schema.
type Requirement struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"displayName"`
	Description string   `json:"description"`
	Type        string   `json:"type"` // string, number, integer, boolean
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
	Example     string   `json:"example,omitempty"`
	Grouping    string   `json:"grouping"` // Defaults to "Other"
}

// ListingRecord represents a marketplace listing and its validation state.
// Invariants: Status == StatusError iff ValidationErrors is non-empty;
// Status == StatusValidated implies ValidationErrors is empty.
// This corresponds to the listings table in storage.
type ListingRecord struct {
	ID                   string                 `json:"id" db:"id"`
	ProductType          string                 `json:"productType" db:"product_type"`
	MarketplaceID        string                 `json:"marketplaceId" db:"marketplace_id"`
	FormData             map[string]interface{} `json:"formData" db:"form_data"`
	RequirementsSnapshot []Requirement          `json:"requirementsSnapshot" db:"requirements_snapshot"`
	Status               Status                 `json:"status" db:"status"`
	ValidationErrors     map[string]string      `json:"validationErrors,omitempty" db:"validation_errors"`
	CreatedAt            time.Time              `json:"createdAt" db:"created_at"`
	UpdatedAt            time.Time              `json:"updatedAt" db:"updated_at"`
}

// ListListingsQuery carries the filters for a listing list operation.
// Cursor-based pagination orders by updated_at descending, then ID
// ascending for a stable sort.
type ListListingsQuery struct {
	MarketplaceID string // Optional marketplace filter
	ProductType   string // Optional product type filter
	Status        Status // Optional status filter
	Limit         int    // Defaults to 25, capped at 100
	Cursor        string // Opaque cursor from a previous page
}

// ListListingsResult is a page of listings plus an optional continuation
// cursor.
type ListListingsResult struct {
	Listings   []ListingRecord `json:"listings"`
	NextCursor string          `json:"nextCursor,omitempty"`
}

// ProductTypeSummary is a single result of a product-type search.
type ProductTypeSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ExistingListing describes a catalog item already known to the
// marketplace, looked up by external identifier (ASIN/UPC/EAN/GTIN/ISBN).
type ExistingListing struct {
	Title        string                   `json:"title"`
	ProductTypes []string                 `json:"productTypes"`
	Attributes   map[string]interface{}   `json:"attributes"`
	SalesRanks   []map[string]interface{} `json:"salesRanks"`
}

// FieldDescriptor is a renderable form-field description generated from a
// Requirement. InputType is "select" when the requirement carries an enum;
// InputTypeAux then holds the enum values joined by "||".
type FieldDescriptor struct {
	Name         string `json:"name"`
	Label        string `json:"label"`
	InputType    string `json:"inputType"`
	InputTypeAux string `json:"inputTypeAux,omitempty"`
	Tooltip      string `json:"tooltip,omitempty"`
	Required     bool   `json:"required"`
	Grouping     string `json:"grouping"`
	Marketplace  string `json:"marketplace"`
}

// ValidationResult is the outcome of running validation over a listing.
// Validation failures are never errors in the Go sense; they are always
// expressed through this structure.
type ValidationResult struct {
	IsValid bool              `json:"isValid"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// ValidationSummary reports completion progress for a listing against its
// requirements snapshot.
type ValidationSummary struct {
	Status               Status            `json:"status"`
	TotalFields          int               `json:"totalFields"`
	CompletedFields      int               `json:"completedFields"`
	ValidationErrors     map[string]string `json:"validationErrors,omitempty"`
	CompletionPercentage int               `json:"completionPercentage"`
}

// SubmissionRequest represents the request body for submitting listing
// form data for validation.
type SubmissionRequest struct {
	ListingID     string                 `json:"listingId,omitempty"` // Empty for a new listing
	ProductType   string                 `json:"productType"`
	MarketplaceID string                 `json:"marketplaceId,omitempty"` // Defaults to the configured marketplace
	FormData      map[string]interface{} `json:"formData"`
}

// SubmissionResponse wraps the persisted listing returned after a
// submission or revalidation.
type SubmissionResponse struct {
	Data ListingRecord `json:"data"`
}
