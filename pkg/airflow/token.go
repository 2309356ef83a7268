package airflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	// Airflow issues 24h tokens; we stop using them an hour early so a
	// token never expires mid-request.
	defaultTokenLifetime = 24 * time.Hour
	tokenSafetyMargin    = time.Hour
)

// TokenManager owns the cached bearer token for the Airflow API. It is the
// only holder of the service credentials; callers never see the token
// except through Token.
//
// The mutex covers the whole check-and-exchange, so concurrent callers that
// find no valid token block on the first caller's exchange instead of each
// logging in themselves.
type TokenManager struct {
	endpoint string
	username string
	password string
	client   *http.Client
	logger   *slog.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewTokenManager creates a token manager against the Airflow token endpoint
// derived from baseURL.
func NewTokenManager(baseURL, username, password string, client *http.Client, logger *slog.Logger) *TokenManager {
	return &TokenManager{
		endpoint: baseURL + "/auth/token",
		username: username,
		password: password,
		client:   client,
		logger:   logger.With("component", "token_manager"),
	}
}

// Token returns a cached, still-valid bearer token, or exchanges the
// configured credentials for a fresh one. Failure to exchange is returned
// as *AuthError.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" && time.Now().Before(m.expiresAt) {
		return m.token, nil
	}

	return m.exchange(ctx)
}

// Invalidate discards the cached token, forcing the next Token call to
// re-authenticate. Called by the client on an authentication rejection.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.token = ""
	m.expiresAt = time.Time{}
}

// exchange performs the credential exchange. Caller must hold m.mu.
func (m *TokenManager) exchange(ctx context.Context) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"username": m.username,
		"password": m.password,
	})
	if err != nil {
		return "", &AuthError{Err: fmt.Errorf("failed to encode credentials: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", &AuthError{Err: fmt.Errorf("failed to create token request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", &AuthError{Err: fmt.Errorf("token endpoint unreachable: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &AuthError{Err: fmt.Errorf("failed to read token response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", &AuthError{Err: fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, string(body))}
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in,omitempty"`
	}

	err = json.Unmarshal(body, &tokenResp)
	if err != nil {
		return "", &AuthError{Err: fmt.Errorf("failed to decode token response: %w", err)}
	}

	if tokenResp.AccessToken == "" {
		return "", &AuthError{Err: fmt.Errorf("token endpoint returned an empty access token")}
	}

	lifetime := defaultTokenLifetime
	if tokenResp.ExpiresIn > 0 {
		lifetime = time.Duration(tokenResp.ExpiresIn) * time.Second
	}

	if lifetime > tokenSafetyMargin {
		lifetime -= tokenSafetyMargin
	}

	m.token = tokenResp.AccessToken
	m.expiresAt = time.Now().Add(lifetime)

	m.logger.DebugContext(ctx, "Obtained fresh Airflow token", "expires_at", m.expiresAt)

	return m.token, nil
}
