package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ledgerlink/ledgerlink/internal/secrets"
)

// tokenExpiryBuffer is the safety margin before an expiry at which a token
// is treated as already expired.
const tokenExpiryBuffer = 300 * time.Second

// TokenMetrics records token endpoint calls. Implemented by
// observability.Metrics; nil disables recording.
type TokenMetrics interface {
	ObserveTokenRequest(op string, ok bool)
}

// TokenManager owns the two-tier token lifecycle. AccessToken is the only
// path by which any caller obtains a bearer token.
type TokenManager struct {
	store   secrets.Store
	proxy   Proxy
	baseURL string
	logger  *slog.Logger
	metrics TokenMetrics

	now   func() time.Time
	group singleflight.Group

	mu     sync.Mutex
	cached *TokenPair
}

// NewTokenManager wires the manager. metrics may be nil.
func NewTokenManager(store secrets.Store, proxy Proxy, baseURL string, logger *slog.Logger, metrics TokenMetrics) *TokenManager {
	return &TokenManager{
		store:   store,
		proxy:   proxy,
		baseURL: baseURL,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// AccessToken returns a valid bearer token, creating or refreshing the
// stored pair as needed. Concurrent callers share one in-flight acquisition.
func (m *TokenManager) AccessToken(ctx context.Context) (string, error) {
	v, err, _ := m.group.Do("access-token", func() (any, error) {
		return m.accessToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *TokenManager) accessToken(ctx context.Context) (string, error) {
	pair, err := m.currentPair(ctx)
	if err != nil {
		return "", err
	}

	now := m.now()
	if pair != nil && !expiresWithin(pair.AccessExpiresAt, now) {
		return pair.Access, nil
	}

	if pair == nil || pair.Refresh == "" || expiresWithin(pair.RefreshExpiresAt, now) {
		created, err := m.createPair(ctx)
		if err != nil {
			return "", err
		}
		return created.Access, nil
	}

	refreshed, err := m.refreshPair(ctx, pair)
	if err != nil {
		// Expired or revoked refresh tokens are recoverable: fall back to
		// a full re-creation instead of propagating.
		m.logger.Warn("token refresh failed, recreating pair", slog.Any("error", err))
		created, err := m.createPair(ctx)
		if err != nil {
			return "", err
		}
		return created.Access, nil
	}
	return refreshed.Access, nil
}

// SaveCredentials stores the secret pair and drops any tokens issued for
// previously stored credentials.
func (m *TokenManager) SaveCredentials(ctx context.Context, creds Credentials) error {
	if creds.SecretID == "" || creds.SecretKey == "" {
		return errors.New("aggregator: secret id and key required")
	}
	raw, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("aggregator: marshal credentials: %w", err)
	}
	if err := m.store.Set(ctx, secrets.CredentialsKey(), string(raw)); err != nil {
		return err
	}
	return m.clearTokens(ctx)
}

// CredentialsConfigured reports whether a secret pair is stored.
func (m *TokenManager) CredentialsConfigured(ctx context.Context) (bool, error) {
	_, err := m.loadCredentials(ctx)
	if errors.Is(err, ErrCredentialsMissing) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteCredentials removes the secret pair and all tokens issued for it.
// A token is meaningless without its issuing credentials.
func (m *TokenManager) DeleteCredentials(ctx context.Context) error {
	if err := m.store.Delete(ctx, secrets.CredentialsKey()); err != nil {
		return err
	}
	return m.clearTokens(ctx)
}

func (m *TokenManager) clearTokens(ctx context.Context) error {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
	return m.store.Delete(ctx, secrets.TokensKey())
}

func (m *TokenManager) currentPair(ctx context.Context) (*TokenPair, error) {
	m.mu.Lock()
	cached := m.cached
	m.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	raw, err := m.store.Get(ctx, secrets.TokensKey())
	if errors.Is(err, secrets.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var pair TokenPair
	if err := json.Unmarshal([]byte(raw), &pair); err != nil {
		return nil, fmt.Errorf("aggregator: decode stored tokens: %w", err)
	}
	m.mu.Lock()
	m.cached = &pair
	m.mu.Unlock()
	return &pair, nil
}

func (m *TokenManager) loadCredentials(ctx context.Context) (*Credentials, error) {
	raw, err := m.store.Get(ctx, secrets.CredentialsKey())
	if errors.Is(err, secrets.ErrNotFound) {
		return nil, ErrCredentialsMissing
	}
	if err != nil {
		return nil, err
	}
	var creds Credentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return nil, fmt.Errorf("aggregator: decode stored credentials: %w", err)
	}
	if creds.SecretID == "" || creds.SecretKey == "" {
		return nil, ErrCredentialsMissing
	}
	return &creds, nil
}

func (m *TokenManager) createPair(ctx context.Context) (*TokenPair, error) {
	creds, err := m.loadCredentials(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := m.postToken(ctx, "/token/new/", map[string]string{
		"secret_id":  creds.SecretID,
		"secret_key": creds.SecretKey,
	})
	if m.metrics != nil {
		m.metrics.ObserveTokenRequest("create", err == nil)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: create: %v", ErrTokenAcquisition, err)
	}

	now := m.now().Unix()
	pair := &TokenPair{
		Access:           resp.Access,
		AccessExpiresAt:  now + resp.AccessExpires,
		Refresh:          resp.Refresh,
		RefreshExpiresAt: now + resp.RefreshExpires,
	}
	if err := m.persist(ctx, pair); err != nil {
		return nil, err
	}
	m.logger.Info("created aggregator token pair",
		slog.Time("access_expires", time.Unix(pair.AccessExpiresAt, 0)),
		slog.Time("refresh_expires", time.Unix(pair.RefreshExpiresAt, 0)))
	return pair, nil
}

func (m *TokenManager) refreshPair(ctx context.Context, pair *TokenPair) (*TokenPair, error) {
	resp, err := m.postToken(ctx, "/token/refresh/", map[string]string{
		"refresh": pair.Refresh,
	})
	if m.metrics != nil {
		m.metrics.ObserveTokenRequest("refresh", err == nil)
	}
	if err != nil {
		return nil, err
	}

	now := m.now().Unix()
	merged := &TokenPair{
		Access:           resp.Access,
		AccessExpiresAt:  now + resp.AccessExpires,
		Refresh:          pair.Refresh,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
	// The server only supplies refresh fields when it rotates the token.
	if resp.Refresh != "" {
		merged.Refresh = resp.Refresh
		merged.RefreshExpiresAt = now + resp.RefreshExpires
	}
	if err := m.persist(ctx, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

func (m *TokenManager) postToken(ctx context.Context, path string, payload map[string]string) (*tokenResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	resp, err := m.proxy.Do(ctx, ProxyRequest{
		Method: http.MethodPost,
		URL:    m.baseURL + path,
		Headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		},
		Body: body,
	})
	if err != nil {
		return nil, err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return nil, newAPIError(resp.Status, resp.Body)
	}
	var parsed tokenResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, fmt.Errorf("aggregator: decode token response: %w", err)
	}
	return &parsed, nil
}

func (m *TokenManager) persist(ctx context.Context, pair *TokenPair) error {
	raw, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("aggregator: marshal tokens: %w", err)
	}
	if err := m.store.Set(ctx, secrets.TokensKey(), string(raw)); err != nil {
		return err
	}
	m.mu.Lock()
	m.cached = pair
	m.mu.Unlock()
	return nil
}

func expiresWithin(epoch int64, now time.Time) bool {
	return epoch-now.Unix() <= int64(tokenExpiryBuffer/time.Second)
}
