// Package conformance provides an end-to-end harness for exercising the
// listing service against a controllable fake marketplace API.
package conformance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/SellerBridge/sellerbridge-listing-go/internal/auth"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/blob"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/cache"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/config"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/event"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/listing"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/model"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/schema"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/server"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/storage"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/token"
)

// marketplace is a fake selling-partner API whose failure behavior can be
// toggled mid-test. All mutation goes through the mutex.
type marketplace struct {
	mu sync.Mutex

	// Failure switches
	describeDown bool
	documentDown bool

	// When set, describe responses carry a schema link to /schemas/doc.json
	// instead of inline properties.
	linkedSchema bool

	// Call counters
	describeCalls int
	documentCalls int

	srv *httptest.Server
}

const schemaBody = `{
	"properties": {
		"item_name": {"title": "Title", "type": "string"},
		"seller_sku": {"title": "Seller SKU", "type": "string"},
		"price": {"title": "Price", "type": "number"},
		"condition": {"title": "Condition", "type": "string", "enum": ["NEW", "USED"]}
	},
	"required": ["item_name", "seller_sku"]
}`

func newMarketplace() *marketplace {
	m := &marketplace{}
	m.srv = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

func (m *marketplace) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case r.URL.Path == "/auth/o2/token":
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token": "conformance-token", "token_type": "bearer", "expires_in": 3600}`)

	case r.URL.Path == "/schemas/doc.json":
		m.documentCalls++
		if m.documentDown {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, schemaBody)

	case strings.HasPrefix(r.URL.Path, "/definitions/2020-09-01/productTypes/"):
		m.describeCalls++
		if m.describeDown {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		if m.linkedSchema {
			fmt.Fprintf(w, `{"schema": {"link": {"resource": "%s/schemas/doc.json"}}}`, m.srv.URL)
			return
		}
		fmt.Fprintf(w, `{"schema": %s}`, schemaBody)

	case r.URL.Path == "/definitions/2020-09-01/productTypes":
		fmt.Fprint(w, `{"productTypes": [{"name": "LUGGAGE", "displayName": "Luggage"}]}`)

	case strings.HasPrefix(r.URL.Path, "/catalog/2022-04-01/items"):
		fmt.Fprint(w, `{"items": [{"asin": "B0CONFORM", "summaries": [{"itemName": "Known Backpack"}]}]}`)

	default:
		http.NotFound(w, r)
	}
}

func (m *marketplace) setDescribeDown(down bool) {
	m.mu.Lock()
	m.describeDown = down
	m.mu.Unlock()
}

func (m *marketplace) setDocumentDown(down bool) {
	m.mu.Lock()
	m.documentDown = down
	m.mu.Unlock()
}

func (m *marketplace) setLinkedSchema(linked bool) {
	m.mu.Lock()
	m.linkedSchema = linked
	m.mu.Unlock()
}

// Harness wires a full service stack over in-memory storage and the fake
// marketplace, exposed through a real HTTP listener.
type Harness struct {
	server *httptest.Server
	api    *marketplace
	repo   storage.Repository

	issuer   string
	audience string
}

// Config holds configuration for the conformance harness.
type Config struct {
	// JWTIssuer is the expected JWT issuer
	JWTIssuer string

	// JWTAudience is the expected JWT audience
	JWTAudience string

	// BlobDir is the directory backing the durable schema tier
	BlobDir string
}

// NewHarness creates a conformance harness around a fresh service stack.
func NewHarness(cfg Config) (*Harness, error) {
	api := newMarketplace()

	svcCfg := config.Config{
		ClientID:        "conformance-client",
		ClientSecret:    "conformance-secret",
		RefreshToken:    "conformance-refresh",
		AuthEndpoint:    api.srv.URL + "/auth/o2/token",
		APIEndpoint:     api.srv.URL,
		MarketplaceID:   "ATVPDKIKX0DER",
		MarketplaceName: "amazon",
		Locale:          "en_US",
		RequirementsTTL: time.Hour,
		SearchTTL:       time.Hour,
	}

	kv := cache.NewMemory()
	tokens := token.NewManager(svcCfg, kv)
	resolver := schema.NewResolver(svcCfg, tokens, kv, blob.NewDisk(cfg.BlobDir))
	repo := storage.NewMemory()
	engine := listing.NewEngine(svcCfg, resolver, repo, event.NewPublisher(""))

	mux := server.NewMux(engine, resolver, tokens, repo, auth.NewTestVerifier(), cfg.JWTIssuer, cfg.JWTAudience)

	return &Harness{
		server:   httptest.NewServer(mux),
		api:      api,
		repo:     repo,
		issuer:   cfg.JWTIssuer,
		audience: cfg.JWTAudience,
	}, nil
}

// URL returns the base URL of the service under test.
func (h *Harness) URL() string {
	return h.server.URL
}

// Close shuts down the service and the fake marketplace.
func (h *Harness) Close() {
	h.server.Close()
	h.api.srv.Close()
	h.repo.Close()
}

// bearer mints a JWT that passes the test verifier's claim checks.
func (h *Harness) bearer(t *testing.T) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss": h.issuer,
		"aud": h.audience,
		"sub": "conformance",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("conformance"))
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + tok
}

func (h *Harness) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest("POST", h.URL()+path, bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", h.bearer(t))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeListing(t *testing.T, resp *http.Response) model.ListingRecord {
	t.Helper()
	defer resp.Body.Close()
	var out struct {
		Data model.ListingRecord `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out.Data
}

// RunConformanceTests runs the full suite against the service under test.
func (h *Harness) RunConformanceTests(t *testing.T) {
	t.Run("HealthEndpoints", h.testHealthEndpoints)
	t.Run("ListingLifecycle", h.testListingLifecycle)
	t.Run("SchemaCacheFallback", h.testSchemaCacheFallback)
	t.Run("Pagination", h.testPagination)
}

// testHealthEndpoints verifies liveness and readiness probes.
func (h *Harness) testHealthEndpoints(t *testing.T) {
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(h.URL() + path)
		if err != nil {
			t.Fatalf("failed to GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected status 200 for %s, got %d", path, resp.StatusCode)
		}
	}
}

// testListingLifecycle walks a listing from invalid submission through
// correction, validation, and final submission.
func (h *Harness) testListingLifecycle(t *testing.T) {
	// Missing required seller_sku
	resp := h.post(t, "/v1/listings/submit", model.SubmissionRequest{
		ProductType: "LUGGAGE",
		FormData: map[string]interface{}{
			"item_name": "Trail Backpack",
			"condition": "REFURBISHED",
		},
	})
	created := decodeListing(t, resp)
	if created.Status != model.StatusError {
		t.Fatalf("initial status = %s, want error", created.Status)
	}
	if len(created.ValidationErrors) != 2 {
		t.Errorf("validation errors = %v, want seller_sku and condition", created.ValidationErrors)
	}

	// Corrected resubmission of the same listing
	resp = h.post(t, "/v1/listings/submit", model.SubmissionRequest{
		ListingID:   created.ID,
		ProductType: "LUGGAGE",
		FormData: map[string]interface{}{
			"item_name":  "Trail Backpack",
			"seller_sku": "TRAIL-40",
			"condition":  "NEW",
		},
	})
	corrected := decodeListing(t, resp)
	if corrected.ID != created.ID {
		t.Fatalf("resubmission created a new listing: %s vs %s", corrected.ID, created.ID)
	}
	if corrected.Status != model.StatusValidated {
		t.Fatalf("corrected status = %s, want validated (errors: %v)", corrected.Status, corrected.ValidationErrors)
	}
	if len(corrected.ValidationErrors) != 0 {
		t.Errorf("stale validation errors survived correction: %v", corrected.ValidationErrors)
	}

	// Duplicate SKU in the same marketplace is rejected
	resp = h.post(t, "/v1/listings/submit", model.SubmissionRequest{
		ProductType: "LUGGAGE",
		FormData: map[string]interface{}{
			"item_name":  "Another Backpack",
			"seller_sku": "TRAIL-40",
			"condition":  "NEW",
		},
	})
	dup := decodeListing(t, resp)
	if dup.Status != model.StatusError {
		t.Errorf("duplicate SKU status = %s, want error", dup.Status)
	}

	// Validated listing can be marked submitted exactly once
	resp = h.post(t, "/v1/listings/markSubmitted", map[string]string{"listingId": corrected.ID})
	submitted := decodeListing(t, resp)
	if submitted.Status != model.StatusSubmitted {
		t.Fatalf("status = %s, want submitted", submitted.Status)
	}

	resp = h.post(t, "/v1/listings/markSubmitted", map[string]string{"listingId": corrected.ID})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second markSubmitted status = %d, want 409", resp.StatusCode)
	}
}

// testSchemaCacheFallback drives the resolver through the degraded paths of
// the two-tier schema cache: blob-backed serving without network, stale
// serving on upstream failure, and a fetch error when both tiers are gone.
func (h *Harness) testSchemaCacheFallback(t *testing.T) {
	h.api.setLinkedSchema(true)
	defer h.api.setLinkedSchema(false)
	defer h.api.setDescribeDown(false)
	defer h.api.setDocumentDown(false)

	// Warm both tiers through the linked-schema path.
	resp, err := http.Get(h.URL() + "/v1/productTypes/requirements?productType=LUGGAGE")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("warm fetch status = %d", resp.StatusCode)
	}

	// Drop the KV tier only; the raw document stays in the blob tier.
	clearResp := h.post(t, "/v1/cache/clear?productType=LUGGAGE", nil)
	clearResp.Body.Close()

	// Upstream document endpoint is now down. Describe still answers with
	// the link, and the blob tier serves the document.
	h.api.setDocumentDown(true)
	resp, err = http.Get(h.URL() + "/v1/productTypes/requirements?productType=LUGGAGE")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("blob-backed fetch status = %d, want 200", resp.StatusCode)
	}

	// Purge every tier, then take the whole upstream down: nothing left to
	// serve from, so resolution fails with a schema fetch error.
	clearResp = h.post(t, "/v1/cache/clear", nil)
	clearResp.Body.Close()
	h.api.setDescribeDown(true)

	resp, err = http.Get(h.URL() + "/v1/productTypes/requirements?productType=LUGGAGE")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("exhausted-tiers status = %d, want 502", resp.StatusCode)
	}
	var errBody struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatal(err)
	}
	if errBody.Error.Code != "LST_SCHEMA_FETCH" {
		t.Errorf("error code = %s, want LST_SCHEMA_FETCH", errBody.Error.Code)
	}
}

// testPagination seeds listings and walks them page by page.
func (h *Harness) testPagination(t *testing.T) {
	for i := 0; i < 5; i++ {
		resp := h.post(t, "/v1/listings/submit", model.SubmissionRequest{
			ProductType: "LUGGAGE",
			FormData: map[string]interface{}{
				"item_name":  fmt.Sprintf("Bag %d", i),
				"seller_sku": fmt.Sprintf("PAGE-%d", i),
				"condition":  "NEW",
			},
		})
		resp.Body.Close()
	}

	seen := map[string]bool{}
	cursor := ""
	pages := 0
	for {
		u := h.URL() + "/v1/listings?limit=2&productType=LUGGAGE"
		if cursor != "" {
			u += "&cursor=" + cursor
		}
		resp, err := http.Get(u)
		if err != nil {
			t.Fatal(err)
		}
		var out struct {
			Data model.ListListingsResult `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()

		for _, l := range out.Data.Listings {
			if seen[l.ID] {
				t.Errorf("listing %s returned on more than one page", l.ID)
			}
			seen[l.ID] = true
		}
		pages++
		if out.Data.NextCursor == "" {
			break
		}
		cursor = out.Data.NextCursor
		if pages > 10 {
			t.Fatal("pagination did not terminate")
		}
	}

	if len(seen) < 5 {
		t.Errorf("walked %d listings across %d pages, want at least 5", len(seen), pages)
	}
}
