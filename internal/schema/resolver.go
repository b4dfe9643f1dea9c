// internal/schema/resolver.go
// Package schema resolves a marketplace product type into the normalized,
// ordered list of field requirements a seller must satisfy. Resolution is
// cached at two tiers: a fast KV tier for normalized requirements and
// search results, and a durable blob tier for raw schema documents fetched
// from marketplace URLs. The blob tier doubles as a fallback when the
// network is unavailable; resilience wins over freshness.
package schema

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/SellerBridge/sellerbridge-listing-go/internal/blob"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/cache"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/config"
	apperrors "github.com/SellerBridge/sellerbridge-listing-go/internal/errors"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/metrics"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/model"
)

// TokenProvider supplies access tokens for outbound marketplace calls.
type TokenProvider interface {
	GetAccessToken(ctx context.Context) (string, error)
}

// Resolver fetches, normalizes, and caches marketplace attribute schemas.
type Resolver struct {
	apiEndpoint     string
	marketplaceID   string
	marketplaceName string
	locale          string

	requirementsTTL time.Duration
	searchTTL       time.Duration

	tokens  TokenProvider
	kv      cache.Cache
	blobs   blob.Store
	hc      *http.Client
	metrics *metrics.Metrics
}

// NewResolver creates a schema resolver with both cache tiers injected.
func NewResolver(cfg config.Config, tokens TokenProvider, kv cache.Cache, blobs blob.Store) *Resolver {
	return &Resolver{
		apiEndpoint:     cfg.APIEndpoint,
		marketplaceID:   cfg.MarketplaceID,
		marketplaceName: cfg.MarketplaceName,
		locale:          cfg.Locale,
		requirementsTTL: cfg.RequirementsTTL,
		searchTTL:       cfg.SearchTTL,
		tokens:          tokens,
		kv:              kv,
		blobs:           blobs,
		hc:              &http.Client{Timeout: 10 * time.Second},
		metrics:         metrics.NewMetrics(),
	}
}

// requirementsKey builds the KV key for a product type's normalized
// requirements. Marketplace and locale are part of the key so entries for
// different marketplaces never bleed into each other.
func (r *Resolver) requirementsKey(productType string) string {
	return fmt.Sprintf("requirements:%s:%s:%s", productType, r.marketplaceID, r.locale)
}

// searchKey builds the KV key for a product-type search query.
func (r *Resolver) searchKey(query string) string {
	sum := sha256.Sum256([]byte(query + ":" + r.marketplaceID))
	return "search:" + hex.EncodeToString(sum[:16])
}

// GetRequirements returns the ordered requirements for a product type,
// consulting the KV tier, then the marketplace API (with the blob tier
// backing any schema-document URL the API hands back).
func (r *Resolver) GetRequirements(ctx context.Context, productType string) ([]model.Requirement, error) {
	key := r.requirementsKey(productType)
	if v, ok := r.kv.Get(key); ok {
		if reqs, ok := v.([]model.Requirement); ok {
			r.metrics.SchemaCacheTotal.WithLabelValues("kv", "hit").Inc()
			return reqs, nil
		}
	}
	r.metrics.SchemaCacheTotal.WithLabelValues("kv", "miss").Inc()

	accessToken, err := r.tokens.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	desc, err := r.describeProductType(ctx, productType, accessToken)
	if err != nil {
		return nil, err
	}

	props := desc.Schema.Properties
	required := desc.Schema.Required

	// A large schema is handed back as a URL rather than inline.
	if desc.Schema.Link.Resource != "" {
		doc, err := r.resolveSchemaDocument(ctx, desc.Schema.Link.Resource)
		if err != nil {
			return nil, err
		}
		var parsed schemaDocument
		if err := json.Unmarshal(doc, &parsed); err != nil {
			return nil, apperrors.New(apperrors.LST_SCHEMA_FETCH,
				fmt.Sprintf("schema document for %s is not valid JSON: %v", productType, err), "")
		}
		props = parsed.Properties
		required = parsed.Required
	}

	if len(props) == 0 {
		return nil, apperrors.New(apperrors.LST_SCHEMA_FETCH,
			fmt.Sprintf("describe response for %s carries neither properties nor a schema link", productType), "")
	}

	reqs, err := normalizeRequirements(props, required)
	if err != nil {
		return nil, apperrors.New(apperrors.LST_SCHEMA_FETCH,
			fmt.Sprintf("failed to normalize schema for %s: %v", productType, err), "")
	}

	r.kv.Set(key, reqs, r.requirementsTTL)
	return reqs, nil
}

// describeResponse mirrors the describe-product-type endpoint body.
type describeResponse struct {
	Schema struct {
		Link struct {
			Resource string `json:"resource"`
		} `json:"link"`
		Properties json.RawMessage `json:"properties"`
		Required   []string        `json:"required"`
	} `json:"schema"`
}

// schemaDocument is the shape of a standalone schema blob.
type schemaDocument struct {
	Properties json.RawMessage `json:"properties"`
	Required   []string        `json:"required"`
}

// describeProductType calls the describe endpoint for a product type.
func (r *Resolver) describeProductType(ctx context.Context, productType, accessToken string) (*describeResponse, error) {
	u := fmt.Sprintf("%s/definitions/2020-09-01/productTypes/%s?marketplaceIds=%s&requirements=LISTING&locale=%s",
		r.apiEndpoint, url.PathEscape(productType), url.QueryEscape(r.marketplaceID), url.QueryEscape(r.locale))

	body, err := r.fetch(ctx, u, accessToken, "describe")
	if err != nil {
		return nil, apperrors.New(apperrors.LST_SCHEMA_FETCH,
			fmt.Sprintf("describe product type %s failed: %v", productType, err), "")
	}

	var desc describeResponse
	if err := json.Unmarshal(body, &desc); err != nil {
		return nil, apperrors.New(apperrors.LST_SCHEMA_FETCH,
			fmt.Sprintf("describe response for %s is not valid JSON: %v", productType, err), "")
	}
	return &desc, nil
}

// resolveSchemaDocument returns the raw schema document for a URL,
// applying the blob-cache policy:
//
//	valid cached document        -> served, no network call
//	corrupted cached document    -> discarded, network fetched, cache repaired
//	network failure, valid cache -> stale document served
//	network failure, no cache    -> schema fetch error
func (r *Resolver) resolveSchemaDocument(ctx context.Context, docURL string) ([]byte, error) {
	key := blob.Key(docURL)

	cached, err := r.blobs.Get(ctx, key)
	if err == nil {
		if ValidDocument(cached) {
			r.metrics.SchemaCacheTotal.WithLabelValues("blob", "hit").Inc()
			return cached, nil
		}
		// Present but unusable; remember nothing and refetch.
		r.metrics.SchemaCacheTotal.WithLabelValues("blob", "corrupt").Inc()
		slog.Warn("ignoring corrupted schema cache entry", "url", docURL)
	} else if err != blob.ErrNotFound {
		// A failing blob backend behaves like a miss; the network can
		// still satisfy the call.
		slog.Warn("blob cache read failed", "url", docURL, "error", err)
	} else {
		r.metrics.SchemaCacheTotal.WithLabelValues("blob", "miss").Inc()
	}

	body, fetchErr := r.fetch(ctx, docURL, "", "schema_document")
	if fetchErr == nil && ValidDocument(body) {
		// Best effort write-back; a failure here must not fail the call.
		if err := r.blobs.Put(ctx, key, body); err != nil {
			slog.Warn("failed to write schema document to blob cache", "url", docURL, "error", err)
		}
		return body, nil
	}
	if fetchErr == nil {
		fetchErr = fmt.Errorf("fetched document failed schema compilation")
	}

	if stale := r.staleDocument(ctx, key); stale != nil {
		r.metrics.SchemaCacheTotal.WithLabelValues("blob", "stale").Inc()
		slog.Warn("serving stale schema document after fetch failure", "url", docURL, "error", fetchErr)
		return stale, nil
	}

	return nil, apperrors.New(apperrors.LST_SCHEMA_FETCH,
		fmt.Sprintf("schema document fetch failed and no cached copy exists: %v", fetchErr), "")
}

// staleDocument re-reads the blob tier after a failed fetch. A concurrent
// writer may have populated the key while the fetch was in flight.
func (r *Resolver) staleDocument(ctx context.Context, key string) []byte {
	cached, err := r.blobs.Get(ctx, key)
	if err != nil || !ValidDocument(cached) {
		return nil
	}
	return cached
}

// fetch performs an authenticated GET and returns the body on a 2xx
// response. endpoint labels the metrics series.
func (r *Resolver) fetch(ctx context.Context, fetchURL, accessToken, endpoint string) ([]byte, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, err
	}
	if accessToken != "" {
		req.Header.Set("x-amz-access-token", accessToken)
	}

	resp, err := r.hc.Do(req)
	if err != nil {
		r.observeFetch(endpoint, "error", start)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		r.observeFetch(endpoint, "error", start)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		r.observeFetch(endpoint, fmt.Sprintf("%d", resp.StatusCode), start)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	r.observeFetch(endpoint, "ok", start)
	return body, nil
}

func (r *Resolver) observeFetch(endpoint, status string, start time.Time) {
	r.metrics.SchemaFetchTotal.WithLabelValues(endpoint, status).Inc()
	r.metrics.SchemaFetchDuration.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())
}

// searchResponse mirrors the product-type search endpoint body.
type searchResponse struct {
	ProductTypes []struct {
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
		Description string `json:"description"`
	} `json:"productTypes"`
}

// SearchProductTypes looks up product types matching a free-text query.
// This is a best-effort discovery feature: every failure degrades to an
// empty result, never an error.
func (r *Resolver) SearchProductTypes(ctx context.Context, query string) []model.ProductTypeSummary {
	key := r.searchKey(query)
	if v, ok := r.kv.Get(key); ok {
		if results, ok := v.([]model.ProductTypeSummary); ok {
			r.metrics.SchemaCacheTotal.WithLabelValues("kv", "hit").Inc()
			return results
		}
	}

	accessToken, err := r.tokens.GetAccessToken(ctx)
	if err != nil {
		slog.Warn("product-type search skipped, no access token", "error", err)
		return []model.ProductTypeSummary{}
	}

	u := fmt.Sprintf("%s/definitions/2020-09-01/productTypes?marketplaceIds=%s&keywords=%s",
		r.apiEndpoint, url.QueryEscape(r.marketplaceID), url.QueryEscape(query))

	body, err := r.fetch(ctx, u, accessToken, "search")
	if err != nil {
		slog.Warn("product-type search failed", "query", query, "error", err)
		return []model.ProductTypeSummary{}
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		slog.Warn("product-type search returned malformed body", "query", query, "error", err)
		return []model.ProductTypeSummary{}
	}

	results := make([]model.ProductTypeSummary, 0, len(sr.ProductTypes))
	for _, pt := range sr.ProductTypes {
		name := pt.DisplayName
		if name == "" {
			name = pt.Name
		}
		results = append(results, model.ProductTypeSummary{
			ID:          pt.Name,
			Name:        name,
			Description: pt.Description,
		})
	}

	r.kv.Set(key, results, r.searchTTL)
	return results
}

// catalogResponse mirrors the catalog item lookup endpoint body.
type catalogResponse struct {
	NumberOfResults int `json:"numberOfResults"`
	Items           []struct {
		ASIN      string `json:"asin"`
		Summaries []struct {
			ItemName string `json:"itemName"`
		} `json:"summaries"`
		Attributes   map[string]interface{} `json:"attributes"`
		ProductTypes []struct {
			ProductType string `json:"productType"`
		} `json:"productTypes"`
		SalesRanks []map[string]interface{} `json:"salesRanks"`
	} `json:"items"`
}

// GetExistingListing looks up a catalog item by external identifier
// (ASIN/UPC/EAN/GTIN/ISBN). A missing item or any upstream failure yields
// nil rather than an error; failures are logged internally.
func (r *Resolver) GetExistingListing(ctx context.Context, identifier, identifierType string) (*model.ExistingListing, error) {
	accessToken, err := r.tokens.GetAccessToken(ctx)
	if err != nil {
		slog.Warn("catalog lookup skipped, no access token", "error", err)
		return nil, nil
	}

	u := fmt.Sprintf("%s/catalog/2022-04-01/items?identifiers=%s&identifiersType=%s&marketplaceIds=%s&includedData=summaries,attributes,productTypes,salesRanks",
		r.apiEndpoint, url.QueryEscape(identifier), url.QueryEscape(identifierType), url.QueryEscape(r.marketplaceID))

	body, err := r.fetch(ctx, u, accessToken, "catalog")
	if err != nil {
		slog.Warn("catalog lookup failed", "identifier", identifier, "error", err)
		return nil, nil
	}

	var cr catalogResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		slog.Warn("catalog lookup returned malformed body", "identifier", identifier, "error", err)
		return nil, nil
	}
	if cr.NumberOfResults == 0 || len(cr.Items) == 0 {
		return nil, nil
	}

	item := cr.Items[0]
	listing := &model.ExistingListing{
		Attributes: item.Attributes,
		SalesRanks: item.SalesRanks,
	}
	for _, s := range item.Summaries {
		if s.ItemName != "" {
			listing.Title = s.ItemName
			break
		}
	}
	for _, pt := range item.ProductTypes {
		listing.ProductTypes = append(listing.ProductTypes, pt.ProductType)
	}
	return listing, nil
}

// GenerateFormFields maps requirements to renderable field descriptors.
// Requirements with an enum become selects; everything else maps to a
// type-appropriate primitive input.
func (r *Resolver) GenerateFormFields(requirements []model.Requirement) []model.FieldDescriptor {
	fields := make([]model.FieldDescriptor, 0, len(requirements))
	for _, req := range requirements {
		fd := model.FieldDescriptor{
			Name:        req.Name,
			Label:       req.DisplayName,
			Tooltip:     req.Description,
			Required:    req.Required,
			Grouping:    req.Grouping,
			Marketplace: r.marketplaceName,
		}
		if len(req.Enum) > 0 {
			fd.InputType = "select"
			fd.InputTypeAux = joinEnum(req.Enum)
		} else {
			fd.InputType = inputTypeFor(req.Type)
		}
		fields = append(fields, fd)
	}
	return fields
}

// ClearCache evicts every resolver entry from the KV tier and purges the
// entire blob cache.
func (r *Resolver) ClearCache(ctx context.Context) error {
	evicted := r.kv.DeletePrefix("requirements:")
	evicted += r.kv.DeletePrefix("search:")
	slog.Info("schema caches cleared", "kv_entries", evicted)
	return r.blobs.Purge(ctx)
}

// ClearProductTypeCache evicts the KV entries for one product type across
// all of its cached marketplace/locale variants. The blob tier is left
// alone; its entries remain a valid fallback.
func (r *Resolver) ClearProductTypeCache(productType string) {
	evicted := r.kv.DeletePrefix("requirements:" + productType + ":")
	slog.Info("product type cache cleared", "product_type", productType, "kv_entries", evicted)
}
