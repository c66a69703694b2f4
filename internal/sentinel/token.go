package sentinel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/croplens/croplens/internal/httputil"
	"github.com/croplens/croplens/internal/metrics"
	"github.com/croplens/croplens/internal/models"
)

const (
	DefaultTokenURL = "https://services.sentinel-hub.com/auth/realms/main/protocol/openid-connect/token"

	// Refresh when the cached token is within this window of expiry.
	expirySkew = 10 * time.Second
)

// Credentials is the OAuth client-credentials pair for the imagery
// provider.
type Credentials struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// Configured reports whether both halves of the credential are present.
func (c Credentials) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// TokenBroker caches one bearer token per process and refreshes it on
// demand. Refreshes are single-flighted so concurrent requests racing past
// an expired token trigger one round trip, not a herd.
type TokenBroker struct {
	creds  Credentials
	client *http.Client
	now    func() time.Time

	group singleflight.Group
	mu    sync.RWMutex
	token *models.AccessToken
}

func NewTokenBroker(creds Credentials) *TokenBroker {
	if creds.TokenURL == "" {
		creds.TokenURL = DefaultTokenURL
	}
	return &TokenBroker{
		creds:  creds,
		client: httputil.NewClientWithTimeout(httputil.TokenTimeout),
		now:    time.Now,
	}
}

// Token returns a valid bearer token, refreshing only when the cached one
// is absent or within the skew window of expiry.
func (b *TokenBroker) Token(ctx context.Context) (string, error) {
	b.mu.RLock()
	tok := b.token
	b.mu.RUnlock()
	if tok.ValidFor(b.now(), expirySkew) {
		return tok.Value, nil
	}

	v, err, _ := b.group.Do("token", func() (interface{}, error) {
		// Another caller may have refreshed while we queued.
		b.mu.RLock()
		cur := b.token
		b.mu.RUnlock()
		if cur.ValidFor(b.now(), expirySkew) {
			return cur.Value, nil
		}

		fresh, err := b.refresh(ctx)
		if err != nil {
			return "", err
		}
		b.mu.Lock()
		b.token = fresh
		b.mu.Unlock()
		return fresh.Value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (b *TokenBroker) refresh(ctx context.Context) (*models.AccessToken, error) {
	if !b.creds.Configured() {
		return nil, &ConfigurationError{Reason: "client id or secret not set"}
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", b.creds.ClientID)
	form.Set("client_secret", b.creds.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.creds.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := b.now()
	resp, err := b.client.Do(req)
	metrics.ProviderCallLatency.WithLabelValues("token").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ProviderCallsTotal.WithLabelValues("token", "error").Inc()
		return nil, &TransportError{Op: "token", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.ProviderCallsTotal.WithLabelValues("token", resp.Status).Inc()
		return nil, &TransportError{Op: "token", Status: resp.StatusCode}
	}
	metrics.ProviderCallsTotal.WithLabelValues("token", "ok").Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "token", Err: err}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" || tr.ExpiresIn <= 0 {
		return nil, &TransportError{Op: "token", Err: fmt.Errorf("incomplete token response")}
	}

	return &models.AccessToken{
		Value:     tr.AccessToken,
		ExpiresAt: b.now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}
