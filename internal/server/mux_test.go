// internal/server/mux_test.go
// Package server provides unit tests for the HTTP handlers and routing.
package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
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
	"github.com/SellerBridge/sellerbridge-listing-go/internal/storage"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/token"
)

const (
	testIssuer   = "test-issuer"
	testAudience = "test-audience"
)

// fakeMarketplace serves the token, describe, and search endpoints the
// resolver and token manager call during tests.
func fakeMarketplace(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/auth/o2/token":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token": "test-access", "token_type": "bearer", "expires_in": 3600}`))
		case strings.Contains(r.URL.Path, "/productTypes/"):
			w.Write([]byte(`{
				"schema": {
					"properties": {
						"item_name": {"title": "Title", "type": "string"},
						"seller_sku": {"title": "Seller SKU", "type": "string"},
						"condition": {"title": "Condition", "type": "string", "enum": ["NEW"]}
					},
					"required": ["item_name", "seller_sku"]
				}
			}`))
		case strings.Contains(r.URL.Path, "/productTypes"):
			w.Write([]byte(`{"productTypes": [{"name": "LUGGAGE", "displayName": "Luggage"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
}

// newTestMux builds a mux over in-memory storage, a fake marketplace, and
// a signature-skipping JWT verifier.
func newTestMux(t *testing.T) (*http.ServeMux, storage.Repository) {
	t.Helper()

	srv := fakeMarketplace(t)
	t.Cleanup(srv.Close)

	cfg := config.Config{
		ClientID:        "client",
		ClientSecret:    "secret",
		RefreshToken:    "refresh",
		AuthEndpoint:    srv.URL + "/auth/o2/token",
		APIEndpoint:     srv.URL,
		MarketplaceID:   "ATVPDKIKX0DER",
		MarketplaceName: "amazon",
		Locale:          "en_US",
		RequirementsTTL: time.Hour,
		SearchTTL:       time.Hour,
	}

	kv := cache.NewMemory()
	tokens := token.NewManager(cfg, kv)
	resolver := schema.NewResolver(cfg, tokens, kv, blob.NewDisk(t.TempDir()))
	repo := storage.NewMemory()
	engine := listing.NewEngine(cfg, resolver, repo, event.NewPublisher(""))

	mux := NewMux(engine, resolver, tokens, repo, auth.NewTestVerifier(), testIssuer, testAudience)
	return mux, repo
}

// bearerToken builds a JWT accepted by the test verifier. The signature is
// never checked in test mode, only the claims.
func bearerToken(t *testing.T) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss": testIssuer,
		"aud": testAudience,
		"sub": "ops-user",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + tok
}

func postJSON(t *testing.T, mux *http.ServeMux, path string, body interface{}, authorize bool) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("POST", path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if authorize {
		req.Header.Set("Authorization", bearerToken(t))
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestHealthzEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}
	if rr.Body.String() != "ok" {
		t.Errorf("handler returned unexpected body: got %v want ok", rr.Body.String())
	}
}

func TestReadyzEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}
}

func TestSubmitRequiresAuth(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := postJSON(t, mux, "/v1/listings/submit", model.SubmissionRequest{
		ProductType: "LUGGAGE",
		FormData:    map[string]interface{}{"item_name": "Backpack"},
	}, false)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "LST_AUTHN") {
		t.Errorf("body = %s, want LST_AUTHN error", rr.Body.String())
	}
}

func TestSubmitValidListing(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := postJSON(t, mux, "/v1/listings/submit", model.SubmissionRequest{
		ProductType: "LUGGAGE",
		FormData: map[string]interface{}{
			"item_name":  "Trail Backpack 40L",
			"seller_sku": "PACK-40L",
			"condition":  "NEW",
		},
	}, true)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Data model.ListingRecord `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data.Status != model.StatusValidated {
		t.Errorf("status = %s, want validated", resp.Data.Status)
	}
	if resp.Data.ID == "" {
		t.Error("no listing ID assigned")
	}
	if rr.Header().Get("X-Correlation-Id") == "" {
		t.Error("no correlation ID header")
	}
}

func TestSubmitInvalidListingReturnsErrorStatus(t *testing.T) {
	mux, _ := newTestMux(t)

	// Missing required seller_sku; invalid input is still a 200 with the
	// failure encoded on the listing.
	rr := postJSON(t, mux, "/v1/listings/submit", model.SubmissionRequest{
		ProductType: "LUGGAGE",
		FormData:    map[string]interface{}{"item_name": "Backpack", "condition": "USED"},
	}, true)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Data model.ListingRecord `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data.Status != model.StatusError {
		t.Errorf("status = %s, want error", resp.Data.Status)
	}
	if _, ok := resp.Data.ValidationErrors["seller_sku"]; !ok {
		t.Errorf("validation errors = %v, want seller_sku entry", resp.Data.ValidationErrors)
	}
	if _, ok := resp.Data.ValidationErrors["condition"]; !ok {
		t.Errorf("validation errors = %v, want condition entry", resp.Data.ValidationErrors)
	}
}

func TestSubmitBadRequest(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := postJSON(t, mux, "/v1/listings/submit", model.SubmissionRequest{
		FormData: map[string]interface{}{"item_name": "x"},
	}, true)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing productType: status = %d, want 400", rr.Code)
	}
}

func TestSubmitMethodGuard(t *testing.T) {
	mux, _ := newTestMux(t)

	req := httptest.NewRequest("GET", "/v1/listings/submit", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestRevalidateEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := postJSON(t, mux, "/v1/listings/submit", model.SubmissionRequest{
		ProductType: "LUGGAGE",
		FormData:    map[string]interface{}{"item_name": "Backpack"},
	}, true)
	var created struct {
		Data model.ListingRecord `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	rr = postJSON(t, mux, "/v1/listings/revalidate", map[string]string{"listingId": created.Data.ID}, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	// Unknown listing is a 404.
	rr = postJSON(t, mux, "/v1/listings/revalidate", map[string]string{"listingId": "01MISSING"}, true)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown listing: status = %d, want 404", rr.Code)
	}
}

func TestSummaryEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := postJSON(t, mux, "/v1/listings/submit", model.SubmissionRequest{
		ProductType: "LUGGAGE",
		FormData: map[string]interface{}{
			"item_name":  "Backpack",
			"seller_sku": "PACK-1",
		},
	}, true)
	var created struct {
		Data model.ListingRecord `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/v1/listings/summary?id="+created.Data.ID, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data model.ValidationSummary `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data.TotalFields != 3 {
		t.Errorf("total fields = %d, want 3", resp.Data.TotalFields)
	}
	if resp.Data.CompletedFields != 2 {
		t.Errorf("completed fields = %d, want 2", resp.Data.CompletedFields)
	}

	req = httptest.NewRequest("GET", "/v1/listings/summary?id=01MISSING", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown listing: status = %d, want 404", rec.Code)
	}
}

func TestRequirementsEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)

	req := httptest.NewRequest("GET", "/v1/productTypes/requirements?productType=LUGGAGE", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Data []model.Requirement `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != 3 {
		t.Errorf("got %d requirements, want 3", len(resp.Data))
	}
	if resp.Data[0].Name != "item_name" || !resp.Data[0].Required {
		t.Errorf("first requirement = %+v", resp.Data[0])
	}

	// Missing productType is a 400.
	req = httptest.NewRequest("GET", "/v1/productTypes/requirements", nil)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestFormFieldsEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)

	req := httptest.NewRequest("GET", "/v1/productTypes/formFields?productType=LUGGAGE", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Data []model.FieldDescriptor `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	var condition *model.FieldDescriptor
	for i := range resp.Data {
		if resp.Data[i].Name == "condition" {
			condition = &resp.Data[i]
		}
	}
	if condition == nil {
		t.Fatal("condition field missing")
	}
	if condition.InputType != "select" || condition.InputTypeAux != "NEW" {
		t.Errorf("condition field = %+v", condition)
	}
}

func TestSearchEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)

	req := httptest.NewRequest("GET", "/v1/productTypes/search?q=backpack", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Data []model.ProductTypeSummary `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != 1 || resp.Data[0].ID != "LUGGAGE" {
		t.Errorf("results = %+v", resp.Data)
	}
}

func TestTokenInfoEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)

	// Nothing cached yet.
	req := httptest.NewRequest("GET", "/v1/token/info", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp struct {
		Data model.TokenInfo `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data.HasToken {
		t.Error("expected no cached token before first use")
	}
}

func TestCacheClearEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := postJSON(t, mux, "/v1/cache/clear?productType=LUGGAGE", nil, true)
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	rr = postJSON(t, mux, "/v1/cache/clear", nil, true)
	if rr.Code != http.StatusOK {
		t.Errorf("full clear: status = %d, body = %s", rr.Code, rr.Body.String())
	}

	// Mutating endpoint: auth required.
	rr = postJSON(t, mux, "/v1/cache/clear", nil, false)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated clear: status = %d, want 401", rr.Code)
	}
}

func TestListListingsEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)

	for _, sku := range []string{"PACK-1", "PACK-2"} {
		rr := postJSON(t, mux, "/v1/listings/submit", model.SubmissionRequest{
			ProductType: "LUGGAGE",
			FormData: map[string]interface{}{
				"item_name":  "Backpack " + sku,
				"seller_sku": sku,
			},
		}, true)
		if rr.Code != http.StatusOK {
			t.Fatalf("seed submit failed: %s", rr.Body.String())
		}
	}

	req := httptest.NewRequest("GET", "/v1/listings?status=validated", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Data model.ListListingsResult `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data.Listings) != 2 {
		t.Errorf("got %d listings, want 2", len(resp.Data.Listings))
	}
}

func TestMarkSubmittedEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := postJSON(t, mux, "/v1/listings/submit", model.SubmissionRequest{
		ProductType: "LUGGAGE",
		FormData: map[string]interface{}{
			"item_name":  "Backpack",
			"seller_sku": "PACK-1",
		},
	}, true)
	var created struct {
		Data model.ListingRecord `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	rr = postJSON(t, mux, "/v1/listings/markSubmitted", map[string]string{"listingId": created.Data.ID}, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	// Submitting twice conflicts.
	rr = postJSON(t, mux, "/v1/listings/markSubmitted", map[string]string{"listingId": created.Data.ID}, true)
	if rr.Code != http.StatusConflict {
		t.Errorf("double submit: status = %d, want 409", rr.Code)
	}
}
