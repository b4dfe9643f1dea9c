// internal/token/manager.go
// Package token owns the OAuth2 access-token lifecycle against the
// marketplace authorization endpoint: acquisition, caching, and
// coordinated refresh. Concurrent callers share a single in-flight
// refresh; none of them issues a duplicate network call.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/SellerBridge/sellerbridge-listing-go/internal/cache"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/config"
	apperrors "github.com/SellerBridge/sellerbridge-listing-go/internal/errors"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/metrics"
	"github.com/SellerBridge/sellerbridge-listing-go/internal/model"
)

const (
	// RefreshBuffer is how much remaining lifetime a token must have to be
	// considered usable. A token closer to expiry than this triggers a
	// refresh before use.
	RefreshBuffer = 600 * time.Second

	// minCacheTTL floors the cache TTL so a token with a tiny expires_in
	// is still reused briefly instead of refreshed on every call.
	minCacheTTL = 60 * time.Second

	// tokenCacheKey is where the access token lives in the KV tier.
	tokenCacheKey = "token:access"
)

// Manager acquires and caches OAuth2 access tokens. The cached token is
// stored in the shared KV tier with a TTL shorter than the token lifetime
// by RefreshBuffer, so a cache hit is always a usable token.
type Manager struct {
	clientID     string
	clientSecret string
	refreshToken string
	endpoint     string

	hc      *http.Client
	cache   cache.Cache
	metrics *metrics.Metrics

	// mu serializes refreshes; callers that miss the cache block here and
	// re-check before issuing their own network call.
	mu  sync.Mutex
	now func() time.Time
}

// tokenResponse mirrors the authorization endpoint's success body.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// NewManager creates a token manager backed by the given KV cache.
func NewManager(cfg config.Config, c cache.Cache) *Manager {
	return &Manager{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		refreshToken: cfg.RefreshToken,
		endpoint:     cfg.AuthEndpoint,
		hc:           &http.Client{Timeout: 10 * time.Second},
		cache:        c,
		metrics:      metrics.NewMetrics(),
		now:          time.Now,
	}
}

// cached returns the cached access token, if any.
func (m *Manager) cached() (model.AccessToken, bool) {
	v, ok := m.cache.Get(tokenCacheKey)
	if !ok {
		return model.AccessToken{}, false
	}
	tok, ok := v.(model.AccessToken)
	return tok, ok
}

// GetAccessToken returns a usable access token, refreshing first when the
// cached one is absent or expiring soon. Only one refresh is in flight at
// a time; concurrent callers await its result.
func (m *Manager) GetAccessToken(ctx context.Context) (string, error) {
	if tok, ok := m.cached(); ok && !m.IsExpiringSoon(tok) {
		return tok.Value, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-check after acquiring the lock; another caller may have already
	// refreshed while we waited.
	if tok, ok := m.cached(); ok && !m.IsExpiringSoon(tok) {
		return tok.Value, nil
	}

	tok, err := m.refresh(ctx)
	if err != nil {
		return "", err
	}
	return tok.Value, nil
}

// Refresh forces a token refresh, bypassing the cached token. It is
// serialized against concurrent GetAccessToken refreshes.
func (m *Manager) Refresh(ctx context.Context) (model.AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refresh(ctx)
}

// refresh performs the actual token exchange. Callers must hold m.mu.
func (m *Manager) refresh(ctx context.Context) (model.AccessToken, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", m.refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return model.AccessToken{}, apperrors.New(apperrors.LST_AUTH, fmt.Sprintf("failed to build token request: %v", err), "")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(m.clientID, m.clientSecret)

	resp, err := m.hc.Do(req)
	if err != nil {
		m.metrics.TokenRefreshTotal.WithLabelValues("error").Inc()
		slog.Error("token refresh transport failure", "endpoint", m.endpoint, "error", err)
		return model.AccessToken{}, apperrors.New(apperrors.LST_AUTH, fmt.Sprintf("token refresh failed: %v", err), "")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		m.metrics.TokenRefreshTotal.WithLabelValues("error").Inc()
		return model.AccessToken{}, apperrors.New(apperrors.LST_AUTH, fmt.Sprintf("failed to read token response: %v", err), "")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		m.metrics.TokenRefreshTotal.WithLabelValues("error").Inc()
		slog.Error("token refresh rejected", "status", resp.StatusCode)
		return model.AccessToken{}, apperrors.New(apperrors.LST_AUTH, fmt.Sprintf("token endpoint returned status %d", resp.StatusCode), "")
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		m.metrics.TokenRefreshTotal.WithLabelValues("error").Inc()
		slog.Error("token refresh returned malformed body")
		return model.AccessToken{}, apperrors.New(apperrors.LST_AUTH, "token response missing access_token", "")
	}

	obtained := m.now()
	tok := model.AccessToken{
		Value:      tr.AccessToken,
		TokenType:  tr.TokenType,
		ObtainedAt: obtained,
		ExpiresAt:  obtained.Add(time.Duration(tr.ExpiresIn) * time.Second),
	}

	ttl := time.Duration(tr.ExpiresIn)*time.Second - RefreshBuffer
	if ttl < minCacheTTL {
		ttl = minCacheTTL
	}
	m.cache.Set(tokenCacheKey, tok, ttl)

	m.metrics.TokenRefreshTotal.WithLabelValues("ok").Inc()
	slog.Info("access token refreshed", "expires_in", tr.ExpiresIn, "token_type", tr.TokenType)

	return tok, nil
}

// IsExpiringSoon reports whether tok has less than RefreshBuffer of
// lifetime left. A token without an expiry is always expiring soon.
func (m *Manager) IsExpiringSoon(tok model.AccessToken) bool {
	if tok.ExpiresAt.IsZero() {
		return true
	}
	return tok.ExpiresAt.Sub(m.now()) < RefreshBuffer
}

// IsTokenValid reports whether a cached token exists and is not expiring soon.
func (m *Manager) IsTokenValid() bool {
	tok, ok := m.cached()
	return ok && !m.IsExpiringSoon(tok)
}

// InvalidateToken evicts the cached token, forcing the next caller to refresh.
func (m *Manager) InvalidateToken() {
	m.cache.Delete(tokenCacheKey)
	slog.Info("access token invalidated")
}

// GetTokenInfo returns a diagnostic snapshot of the cached token, or nil
// when nothing is cached.
func (m *Manager) GetTokenInfo() *model.TokenInfo {
	tok, ok := m.cached()
	if !ok {
		return nil
	}
	return &model.TokenInfo{
		HasToken:         true,
		ObtainedAt:       tok.ObtainedAt,
		ExpiresAt:        tok.ExpiresAt,
		ExpiresInSeconds: int64(tok.ExpiresAt.Sub(m.now()).Seconds()),
		IsValid:          !m.IsExpiringSoon(tok),
		TokenType:        tok.TokenType,
	}
}

// ValidateConfiguration returns a human-readable problem for each
// credential that is unusable. Empty, absent, and the literal "0" all
// count as unset; "0" is the placeholder default used by the
// configuration templates this service ships with.
func (m *Manager) ValidateConfiguration() []string {
	var problems []string
	if isUnsetCredential(m.clientID) {
		problems = append(problems, "client_id is not configured (set SLE_LWA_CLIENT_ID)")
	}
	if isUnsetCredential(m.clientSecret) {
		problems = append(problems, "client_secret is not configured (set SLE_LWA_CLIENT_SECRET)")
	}
	if isUnsetCredential(m.refreshToken) {
		problems = append(problems, "refresh_token is not configured (set SLE_LWA_REFRESH_TOKEN)")
	}
	return problems
}

func isUnsetCredential(v string) bool {
	return v == "" || v == "0"
}
