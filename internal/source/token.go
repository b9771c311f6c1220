// Package source holds the clients for the upstream benefit and accumulator
// services: OAuth client-credentials auth, retry with backoff, and circuit
// breaking per source.
package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/carecost/carecost/internal/metrics"
)

// TokenManager caches one client-credentials token shared by every source
// client. Tokens are refreshed before their server expiry and never later
// than the configured TTL, whichever comes first.
type TokenManager struct {
	cfg *clientcredentials.Config
	ttl time.Duration

	mu        sync.Mutex
	token     *oauth2.Token
	fetchedAt time.Time
}

// NewTokenManager builds a manager for the given token endpoint. ttl caps
// how long a token is reused regardless of its reported expiry.
func NewTokenManager(tokenURL, clientID, clientSecret string, scopes []string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = 59 * time.Minute
	}
	return &TokenManager{
		cfg: &clientcredentials.Config{
			TokenURL:     tokenURL,
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       scopes,
		},
		ttl: ttl,
	}
}

// Token returns a valid bearer token, refreshing if needed.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != nil && m.token.Valid() && time.Since(m.fetchedAt) < m.ttl {
		return m.token.AccessToken, nil
	}

	tok, err := m.cfg.Token(ctx)
	if err != nil {
		metrics.TokenRefreshTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("acquiring token: %w", err)
	}
	metrics.TokenRefreshTotal.WithLabelValues("ok").Inc()

	m.token = tok
	m.fetchedAt = time.Now()
	return tok.AccessToken, nil
}

// Invalidate clears the cached token. Called when a source answers 401 so
// the next request fetches a fresh token.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.token = nil
	m.fetchedAt = time.Time{}
	m.mu.Unlock()
}
