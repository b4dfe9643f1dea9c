// internal/listing/engine.go
// Package listing implements submission processing and validation for
// marketplace listings. The engine consumes normalized requirements from
// the schema resolver, runs three validation passes over submitted form
// data, and drives the listing status state machine:
//
//	draft -> validated | error
//	error -> validated | error
//	validated -> error | submitted
//
// Validation failures are never Go errors; they are recorded on the
// listing as field-to-message pairs with status set to error.
package listing

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/SellerBridge/sellerbridge-listing-go/internal/config"
	apperrors "github.com/SellerBridge/sellerbridge-listing-go/internal/errors"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/event"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/metrics"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/model"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/storage"
)

// SchemaSource supplies the requirements for a product type. Satisfied by
// the schema resolver.
type SchemaSource interface {
	GetRequirements(ctx context.Context, productType string) ([]model.Requirement, error)
}

// Engine processes listing submissions.
type Engine struct {
	schemas       SchemaSource
	repo          storage.Repository
	events        event.Publisher
	marketplaceID string
	metrics       *metrics.Metrics
	now           func() time.Time
}

// NewEngine creates a validation engine. The configured marketplace ID is
// the default for submissions that do not name one.
func NewEngine(cfg config.Config, schemas SchemaSource, repo storage.Repository, events event.Publisher) *Engine {
	return &Engine{
		schemas:       schemas,
		repo:          repo,
		events:        events,
		marketplaceID: cfg.MarketplaceID,
		metrics:       metrics.NewMetrics(),
		now:           time.Now,
	}
}

// newListingID generates a ULID for a new listing.
func newListingID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// ProcessSubmission validates submitted form data against the current
// requirements for the product type and persists the outcome. Requirements
// are always re-fetched through the resolver so a schema change between
// submissions is picked up. Invalid form data is not an error; it yields a
// persisted listing in error status.
func (e *Engine) ProcessSubmission(ctx context.Context, req model.SubmissionRequest) (*model.ListingRecord, error) {
	if req.ProductType == "" {
		return nil, apperrors.New(apperrors.LST_BAD_REQUEST, "productType is required", "")
	}

	requirements, err := e.schemas.GetRequirements(ctx, req.ProductType)
	if err != nil {
		return nil, err
	}

	marketplaceID := req.MarketplaceID
	if marketplaceID == "" {
		marketplaceID = e.marketplaceID
	}

	now := e.now().UTC()
	var record *model.ListingRecord
	if req.ListingID != "" {
		record, err = e.repo.Find(ctx, req.ListingID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, apperrors.New(apperrors.LST_NOT_FOUND,
					fmt.Sprintf("listing %s not found", req.ListingID), "")
			}
			return nil, apperrors.New(apperrors.LST_INTERNAL, err.Error(), "")
		}
		// A prior failed pass must not leak its messages into this one;
		// the schema may have changed since.
		if record.Status == model.StatusError {
			record.ValidationErrors = nil
		}
	} else {
		record = &model.ListingRecord{
			ID:        newListingID(),
			Status:    model.StatusDraft,
			CreatedAt: now,
		}
	}

	record.FormData = req.FormData
	record.ProductType = req.ProductType
	record.MarketplaceID = marketplaceID
	record.RequirementsSnapshot = requirements
	record.UpdatedAt = now

	e.applyValidation(ctx, record)

	if err := e.repo.Save(ctx, *record); err != nil {
		return nil, apperrors.New(apperrors.LST_INTERNAL, err.Error(), "")
	}
	fresh, err := e.repo.Find(ctx, record.ID)
	if err != nil {
		return nil, apperrors.New(apperrors.LST_INTERNAL, err.Error(), "")
	}

	e.publishOutcome(ctx, *fresh)
	return fresh, nil
}

// Revalidate re-runs validation over a persisted listing's stored form
// data. The stored requirements snapshot is reused; an empty snapshot is
// refreshed through the resolver first.
func (e *Engine) Revalidate(ctx context.Context, listingID string) (*model.ListingRecord, error) {
	record, err := e.repo.Find(ctx, listingID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.New(apperrors.LST_NOT_FOUND,
				fmt.Sprintf("listing %s not found", listingID), "")
		}
		return nil, apperrors.New(apperrors.LST_INTERNAL, err.Error(), "")
	}

	if len(record.RequirementsSnapshot) == 0 {
		requirements, err := e.schemas.GetRequirements(ctx, record.ProductType)
		if err != nil {
			return nil, err
		}
		record.RequirementsSnapshot = requirements
	}

	if record.Status == model.StatusError {
		record.ValidationErrors = nil
	}
	record.UpdatedAt = e.now().UTC()

	e.applyValidation(ctx, record)

	if err := e.repo.Save(ctx, *record); err != nil {
		return nil, apperrors.New(apperrors.LST_INTERNAL, err.Error(), "")
	}
	fresh, err := e.repo.Find(ctx, record.ID)
	if err != nil {
		return nil, apperrors.New(apperrors.LST_INTERNAL, err.Error(), "")
	}

	e.publishOutcome(ctx, *fresh)
	return fresh, nil
}

// applyValidation runs Validate and folds the result into the record's
// status and validation errors.
func (e *Engine) applyValidation(ctx context.Context, record *model.ListingRecord) {
	start := time.Now()
	result := e.Validate(ctx, record, record.RequirementsSnapshot)

	outcome := "valid"
	if result.IsValid {
		record.Status = model.StatusValidated
		record.ValidationErrors = nil
	} else {
		record.Status = model.StatusError
		record.ValidationErrors = result.Errors
		outcome = "invalid"
	}

	e.metrics.ValidationTotal.WithLabelValues(outcome).Inc()
	e.metrics.ValidationDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// publishOutcome emits the lifecycle event for a validation result.
// Publish failures are logged, never surfaced; events are best effort.
func (e *Engine) publishOutcome(ctx context.Context, record model.ListingRecord) {
	var err error
	switch record.Status {
	case model.StatusValidated:
		err = e.events.PublishListingValidated(ctx, record)
	case model.StatusError:
		err = e.events.PublishListingRejected(ctx, record)
	}
	if err != nil {
		slog.Warn("failed to publish listing event", "listing_id", record.ID, "status", record.Status, "error", err)
	}
}

// GetValidationSummary reports completion progress for a listing against
// its requirements snapshot.
func (e *Engine) GetValidationSummary(record *model.ListingRecord) model.ValidationSummary {
	seen := make(map[string]bool, len(record.RequirementsSnapshot))
	completed := 0
	for _, req := range record.RequirementsSnapshot {
		if seen[req.Name] {
			continue
		}
		seen[req.Name] = true
		if v, ok := record.FormData[req.Name]; ok && !isEmptyValue(v) {
			completed++
		}
	}

	total := len(seen)
	percentage := 0
	if total > 0 {
		percentage = int(math.Round(100 * float64(completed) / float64(total)))
	}

	return model.ValidationSummary{
		Status:               record.Status,
		TotalFields:          total,
		CompletedFields:      completed,
		ValidationErrors:     record.ValidationErrors,
		CompletionPercentage: percentage,
	}
}

// MarkSubmitted transitions a validated listing to submitted. Only
// validated listings may be submitted.
func (e *Engine) MarkSubmitted(ctx context.Context, listingID string) (*model.ListingRecord, error) {
	record, err := e.repo.Find(ctx, listingID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.New(apperrors.LST_NOT_FOUND,
				fmt.Sprintf("listing %s not found", listingID), "")
		}
		return nil, apperrors.New(apperrors.LST_INTERNAL, err.Error(), "")
	}
	if record.Status != model.StatusValidated {
		return nil, apperrors.New(apperrors.LST_CONFLICT,
			fmt.Sprintf("listing %s is %s, only validated listings can be submitted", listingID, record.Status), "")
	}

	record.Status = model.StatusSubmitted
	record.UpdatedAt = e.now().UTC()
	if err := e.repo.Save(ctx, *record); err != nil {
		return nil, apperrors.New(apperrors.LST_INTERNAL, err.Error(), "")
	}
	return record, nil
}

// isEmptyValue reports whether a submitted form value counts as absent
// for completeness and required checks.
func isEmptyValue(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []interface{}:
		return len(val) == 0
	case map[string]interface{}:
		return len(val) == 0
	}
	return false
}
