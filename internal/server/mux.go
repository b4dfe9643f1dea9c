// internal/server/mux.go
// Package server implements the HTTP handlers and routing for the listing
// service. It exposes listing submission and validation, product-type
// discovery, catalog lookup, and cache administration, with JWT
// authentication on mutating endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/SellerBridge/sellerbridge-listing-go/internal/auth"
	errordefs "github.com/SellerBridge/sellerbridge-listing-go/internal/errors"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/listing"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/metrics"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/model"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/schema"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/storage"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/token"
)

// ContextKey is used for context values to avoid collisions
// when storing values in request context
type ContextKey string

const (
	// Context keys for storing request-scoped values
	ContextKeySubject       ContextKey = "subject"       // Stores the subject from JWT
	ContextKeyCorrelationID ContextKey = "correlationId" // Unique ID for request tracking
)

// Mux handles HTTP requests for the listing service.
type Mux struct {
	mux         *http.ServeMux
	engine      *listing.Engine
	resolver    *schema.Resolver
	tokens      *token.Manager
	repo        storage.Repository
	verifier    *auth.Verifier
	jwtIssuer   string
	jwtAudience string
	metrics     *metrics.Metrics
}

// NewMux creates the HTTP mux with all listing endpoints registered.
func NewMux(engine *listing.Engine, resolver *schema.Resolver, tokens *token.Manager, repo storage.Repository, verifier *auth.Verifier, jwtIssuer, jwtAudience string) *http.ServeMux {
	if verifier == nil {
		verifier = auth.NewVerifier(fmt.Sprintf("%s/.well-known/jwks.json", jwtIssuer))
	}

	m := &Mux{
		mux:         http.NewServeMux(),
		engine:      engine,
		resolver:    resolver,
		tokens:      tokens,
		repo:        repo,
		verifier:    verifier,
		jwtIssuer:   jwtIssuer,
		jwtAudience: jwtAudience,
		metrics:     metrics.NewMetrics(),
	}

	// Health and observability endpoints
	m.mux.HandleFunc("/healthz", m.handleHealthz)
	m.mux.HandleFunc("/readyz", m.handleReadyz)
	m.mux.Handle("/metrics", promhttp.Handler())

	// Listing lifecycle
	m.mux.HandleFunc("/v1/listings/submit", m.method("POST", m.withMiddleware(m.handleSubmit)))
	m.mux.HandleFunc("/v1/listings/revalidate", m.method("POST", m.withMiddleware(m.handleRevalidate)))
	m.mux.HandleFunc("/v1/listings/markSubmitted", m.method("POST", m.withMiddleware(m.handleMarkSubmitted)))
	m.mux.HandleFunc("/v1/listings/summary", m.method("GET", m.withMiddleware(m.handleSummary)))
	m.mux.HandleFunc("/v1/listings", m.method("GET", m.withMiddleware(m.handleListListings)))

	// Product type discovery
	m.mux.HandleFunc("/v1/productTypes/search", m.method("GET", m.withMiddleware(m.handleSearch)))
	m.mux.HandleFunc("/v1/productTypes/requirements", m.method("GET", m.withMiddleware(m.handleRequirements)))
	m.mux.HandleFunc("/v1/productTypes/formFields", m.method("GET", m.withMiddleware(m.handleFormFields)))

	// Catalog and diagnostics
	m.mux.HandleFunc("/v1/catalog/item", m.method("GET", m.withMiddleware(m.handleCatalogItem)))
	m.mux.HandleFunc("/v1/token/info", m.method("GET", m.withMiddleware(m.handleTokenInfo)))
	m.mux.HandleFunc("/v1/cache/clear", m.method("POST", m.withMiddleware(m.handleCacheClear)))

	return m.mux
}

// method ensures the HTTP method matches the expected method
func (m *Mux) method(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			err := errordefs.New(errordefs.LST_BAD_REQUEST, "method not allowed", "")
			m.writeErrorDef(w, err)
			return
		}
		h(w, r)
	}
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// withMiddleware applies correlation IDs, JWT authentication on mutating
// requests, metrics, and request logging.
func (m *Mux) withMiddleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		correlationID := r.Header.Get("X-Correlation-Id")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		r = r.WithContext(context.WithValue(r.Context(), ContextKeyCorrelationID, correlationID))
		w.Header().Set("X-Correlation-Id", correlationID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		// Mutating endpoints require a verified bearer token.
		if r.Method == "POST" {
			subject, err := m.validateJWT(r)
			if err != nil {
				var errorDef *errordefs.Error
				if e, ok := err.(*errordefs.Error); ok {
					errorDef = e
					errorDef.CorrelationID = correlationID
				} else {
					errorDef = errordefs.New(errordefs.LST_AUTHN, err.Error(), correlationID)
				}
				m.writeErrorDef(rec, errorDef)
				m.observe(r, rec.status, start)
				m.logRequest(r, errorDef.HTTPStatus, time.Since(start), correlationID, err)
				return
			}
			r = r.WithContext(context.WithValue(r.Context(), ContextKeySubject, subject))
		}

		h(rec, r)
		m.observe(r, rec.status, start)
		m.logRequest(r, rec.status, time.Since(start), correlationID, nil)
	}
}

func (m *Mux) observe(r *http.Request, status int, start time.Time) {
	code := strconv.Itoa(status)
	m.metrics.HTTPRequestTotal.WithLabelValues(r.Method, r.URL.Path, code).Inc()
	m.metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path, code).Observe(time.Since(start).Seconds())
}

// validateJWT validates a bearer JWT and extracts its subject.
func (m *Mux) validateJWT(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errordefs.New(errordefs.LST_AUTHN, "missing Authorization header", "")
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", errordefs.New(errordefs.LST_AUTHN, "invalid Authorization header format", "")
	}

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")

	claims, err := m.verifier.ValidateJWT(r.Context(), tokenString, m.jwtIssuer, m.jwtAudience)
	if err != nil {
		errStr := err.Error()
		switch {
		case strings.Contains(errStr, "expired"):
			return "", errordefs.New(errordefs.LST_JWT_EXPIRED, "JWT token expired", "")
		case strings.Contains(errStr, "invalid issuer"):
			return "", errordefs.New(errordefs.LST_JWT_INVALID, "invalid JWT issuer", "")
		case strings.Contains(errStr, "invalid audience"):
			return "", errordefs.New(errordefs.LST_JWT_INVALID, "invalid JWT audience", "")
		case strings.Contains(errStr, "kid"):
			return "", errordefs.New(errordefs.LST_JWT_MALFORMED, "missing or invalid kid in JWT header", "")
		case strings.Contains(errStr, "key"):
			return "", errordefs.New(errordefs.LST_JWT_INVALID, "failed to get key for JWT validation", "")
		case strings.Contains(errStr, "signature"), strings.Contains(errStr, "verify"):
			return "", errordefs.New(errordefs.LST_JWT_INVALID, "invalid JWT signature", "")
		default:
			return "", errordefs.New(errordefs.LST_JWT_INVALID, fmt.Sprintf("failed to validate JWT: %v", err), "")
		}
	}

	subject, ok := claims["sub"].(string)
	if !ok || subject == "" {
		return "", errordefs.New(errordefs.LST_JWT_INVALID, "missing or invalid sub claim", "")
	}

	return subject, nil
}

// writeSuccess writes a successful response
func (m *Mux) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]interface{}{
		"data": data,
	}
	_ = json.NewEncoder(w).Encode(response)
}

// writeError writes an error response following the listing error taxonomy
func (m *Mux) writeError(w http.ResponseWriter, statusCode int, code, message, correlationID string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]interface{}{
		"error": map[string]interface{}{
			"code":          code,
			"message":       message,
			"correlationId": correlationID,
		},
	}

	if details != nil {
		response["error"].(map[string]interface{})["details"] = details
	}

	_ = json.NewEncoder(w).Encode(response)
}

// writeErrorDef writes an error response using the error definitions package
func (m *Mux) writeErrorDef(w http.ResponseWriter, err *errordefs.Error) {
	m.writeError(w, err.HTTPStatus, string(err.Code), err.Message, err.CorrelationID, err.Details)
}

// writeAppError maps any error to a response, defaulting to LST_INTERNAL.
func (m *Mux) writeAppError(w http.ResponseWriter, err error, correlationID string) {
	var appErr *errordefs.Error
	if errors.As(err, &appErr) {
		appErr.CorrelationID = correlationID
		m.writeErrorDef(w, appErr)
		return
	}
	m.writeErrorDef(w, errordefs.New(errordefs.LST_INTERNAL, err.Error(), correlationID))
}

// logRequest logs request details
func (m *Mux) logRequest(r *http.Request, status int, duration time.Duration, correlationID string, err error) {
	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", duration),
		slog.String("user_agent", r.UserAgent()),
		slog.String("remote_addr", r.RemoteAddr),
	}

	if correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", correlationID))
	}

	if subject, ok := r.Context().Value(ContextKeySubject).(string); ok && subject != "" {
		attrs = append(attrs, slog.String("subject", subject))
	}

	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		slog.LogAttrs(r.Context(), slog.LevelError, "request completed with error", attrs...)
	} else {
		slog.LogAttrs(r.Context(), slog.LevelInfo, "request completed", attrs...)
	}
}

// correlationID pulls the request correlation ID from the context.
func correlationID(ctx context.Context) string {
	if id, ok := ctx.Value(ContextKeyCorrelationID).(string); ok {
		return id
	}
	return ""
}

// handleHealthz handles liveness health check requests
func (m *Mux) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz handles readiness health check requests
func (m *Mux) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// A not-found on a probe ID means the repository is reachable.
	_, err := m.repo.Find(ctx, "health-check")
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleSubmit handles POST /v1/listings/submit
func (m *Mux) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("listing-service").Start(r.Context(), "handleSubmit")
	defer span.End()
	defer r.Body.Close()

	cid := correlationID(ctx)
	var req model.SubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.SetStatus(codes.Error, "invalid JSON")
		m.writeErrorDef(w, errordefs.New(errordefs.LST_BAD_REQUEST, "invalid JSON", cid))
		return
	}

	span.SetAttributes(
		attribute.String("product_type", req.ProductType),
		attribute.Bool("is_update", req.ListingID != ""),
	)

	if req.ProductType == "" || len(req.FormData) == 0 {
		m.writeErrorDef(w, errordefs.New(errordefs.LST_BAD_REQUEST, "productType and formData are required", cid))
		return
	}

	record, err := m.engine.ProcessSubmission(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, "submission failed")
		m.writeAppError(w, err, cid)
		return
	}

	span.SetAttributes(attribute.String("status", string(record.Status)))
	m.writeSuccess(w, http.StatusOK, record)
}

// handleRevalidate handles POST /v1/listings/revalidate
func (m *Mux) handleRevalidate(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("listing-service").Start(r.Context(), "handleRevalidate")
	defer span.End()
	defer r.Body.Close()

	cid := correlationID(ctx)
	var req struct {
		ListingID string `json:"listingId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.SetStatus(codes.Error, "invalid JSON")
		m.writeErrorDef(w, errordefs.New(errordefs.LST_BAD_REQUEST, "invalid JSON", cid))
		return
	}
	if req.ListingID == "" {
		m.writeErrorDef(w, errordefs.New(errordefs.LST_BAD_REQUEST, "listingId is required", cid))
		return
	}

	span.SetAttributes(attribute.String("listing_id", req.ListingID))

	record, err := m.engine.Revalidate(ctx, req.ListingID)
	if err != nil {
		span.SetStatus(codes.Error, "revalidation failed")
		m.writeAppError(w, err, cid)
		return
	}

	m.writeSuccess(w, http.StatusOK, record)
}

// handleMarkSubmitted handles POST /v1/listings/markSubmitted
func (m *Mux) handleMarkSubmitted(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("listing-service").Start(r.Context(), "handleMarkSubmitted")
	defer span.End()
	defer r.Body.Close()

	cid := correlationID(ctx)
	var req struct {
		ListingID string `json:"listingId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		m.writeErrorDef(w, errordefs.New(errordefs.LST_BAD_REQUEST, "invalid JSON", cid))
		return
	}
	if req.ListingID == "" {
		m.writeErrorDef(w, errordefs.New(errordefs.LST_BAD_REQUEST, "listingId is required", cid))
		return
	}

	record, err := m.engine.MarkSubmitted(ctx, req.ListingID)
	if err != nil {
		span.SetStatus(codes.Error, "mark submitted failed")
		m.writeAppError(w, err, cid)
		return
	}

	m.writeSuccess(w, http.StatusOK, record)
}

// handleSummary handles GET /v1/listings/summary
func (m *Mux) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("listing-service").Start(r.Context(), "handleSummary")
	defer span.End()

	cid := correlationID(ctx)
	id := r.URL.Query().Get("id")
	if id == "" {
		m.writeErrorDef(w, errordefs.New(errordefs.LST_BAD_REQUEST, "id is required", cid))
		return
	}

	span.SetAttributes(attribute.String("listing_id", id))

	record, err := m.repo.Find(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			m.writeErrorDef(w, errordefs.New(errordefs.LST_NOT_FOUND, "listing not found", cid))
			return
		}
		m.writeAppError(w, err, cid)
		return
	}

	m.writeSuccess(w, http.StatusOK, m.engine.GetValidationSummary(record))
}

// handleListListings handles GET /v1/listings
func (m *Mux) handleListListings(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("listing-service").Start(r.Context(), "handleListListings")
	defer span.End()

	cid := correlationID(ctx)
	query := model.ListListingsQuery{
		MarketplaceID: r.URL.Query().Get("marketplaceId"),
		ProductType:   r.URL.Query().Get("productType"),
		Status:        model.Status(r.URL.Query().Get("status")),
		Cursor:        r.URL.Query().Get("cursor"),
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if v, err := strconv.Atoi(limitStr); err == nil {
			query.Limit = v
		}
	}

	result, err := m.repo.List(ctx, query)
	if err != nil {
		if strings.Contains(err.Error(), "invalid cursor") {
			m.writeErrorDef(w, errordefs.New(errordefs.LST_BAD_REQUEST, err.Error(), cid))
			return
		}
		span.SetStatus(codes.Error, "failed to list listings")
		m.writeAppError(w, err, cid)
		return
	}

	m.writeSuccess(w, http.StatusOK, result)
}

// handleSearch handles GET /v1/productTypes/search
func (m *Mux) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("listing-service").Start(r.Context(), "handleSearch")
	defer span.End()

	cid := correlationID(ctx)
	q := r.URL.Query().Get("q")
	if q == "" {
		m.writeErrorDef(w, errordefs.New(errordefs.LST_BAD_REQUEST, "q is required", cid))
		return
	}

	span.SetAttributes(attribute.String("query", q))

	// Best effort by contract; an upstream failure is an empty result.
	results := m.resolver.SearchProductTypes(ctx, q)
	m.writeSuccess(w, http.StatusOK, results)
}

// handleRequirements handles GET /v1/productTypes/requirements
func (m *Mux) handleRequirements(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("listing-service").Start(r.Context(), "handleRequirements")
	defer span.End()

	cid := correlationID(ctx)
	productType := r.URL.Query().Get("productType")
	if productType == "" {
		m.writeErrorDef(w, errordefs.New(errordefs.LST_BAD_REQUEST, "productType is required", cid))
		return
	}

	span.SetAttributes(attribute.String("product_type", productType))

	requirements, err := m.resolver.GetRequirements(ctx, productType)
	if err != nil {
		span.SetStatus(codes.Error, "requirements fetch failed")
		m.writeAppError(w, err, cid)
		return
	}

	m.writeSuccess(w, http.StatusOK, requirements)
}

// handleFormFields handles GET /v1/productTypes/formFields
func (m *Mux) handleFormFields(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("listing-service").Start(r.Context(), "handleFormFields")
	defer span.End()

	cid := correlationID(ctx)
	productType := r.URL.Query().Get("productType")
	if productType == "" {
		m.writeErrorDef(w, errordefs.New(errordefs.LST_BAD_REQUEST, "productType is required", cid))
		return
	}

	requirements, err := m.resolver.GetRequirements(ctx, productType)
	if err != nil {
		span.SetStatus(codes.Error, "requirements fetch failed")
		m.writeAppError(w, err, cid)
		return
	}

	m.writeSuccess(w, http.StatusOK, m.resolver.GenerateFormFields(requirements))
}

// handleCatalogItem handles GET /v1/catalog/item
func (m *Mux) handleCatalogItem(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("listing-service").Start(r.Context(), "handleCatalogItem")
	defer span.End()

	cid := correlationID(ctx)
	identifier := r.URL.Query().Get("identifier")
	identifierType := r.URL.Query().Get("identifierType")
	if identifier == "" || identifierType == "" {
		m.writeErrorDef(w, errordefs.New(errordefs.LST_BAD_REQUEST, "identifier and identifierType are required", cid))
		return
	}

	span.SetAttributes(
		attribute.String("identifier", identifier),
		attribute.String("identifier_type", identifierType),
	)

	item, err := m.resolver.GetExistingListing(ctx, identifier, identifierType)
	if err != nil {
		m.writeAppError(w, err, cid)
		return
	}
	if item == nil {
		m.writeErrorDef(w, errordefs.New(errordefs.LST_NOT_FOUND, "catalog item not found", cid))
		return
	}

	m.writeSuccess(w, http.StatusOK, item)
}

// handleTokenInfo handles GET /v1/token/info
func (m *Mux) handleTokenInfo(w http.ResponseWriter, r *http.Request) {
	info := m.tokens.GetTokenInfo()
	if info == nil {
		info = &model.TokenInfo{HasToken: false}
	}
	m.writeSuccess(w, http.StatusOK, info)
}

// handleCacheClear handles POST /v1/cache/clear
func (m *Mux) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("listing-service").Start(r.Context(), "handleCacheClear")
	defer span.End()

	cid := correlationID(ctx)
	if productType := r.URL.Query().Get("productType"); productType != "" {
		span.SetAttributes(attribute.String("product_type", productType))
		m.resolver.ClearProductTypeCache(productType)
		m.writeSuccess(w, http.StatusOK, map[string]string{"cleared": productType})
		return
	}

	if err := m.resolver.ClearCache(ctx); err != nil {
		span.SetStatus(codes.Error, "cache clear failed")
		m.writeAppError(w, err, cid)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]string{"cleared": "all"})
}
