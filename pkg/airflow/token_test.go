package airflow_test

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vspedr/airlock/pkg/airflow"
)

func newTokenServer(t *testing.T, logins *atomic.Int64) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/token", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var creds struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}

		err := json.NewDecoder(r.Body).Decode(&creds)
		require.NoError(t, err)

		if creds.Username != "svc-airlock" || creds.Password != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)

			return
		}

		count := logins.Add(1)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"token-%d"}`, count)
	}))
}

func TestTokenManager_CachesToken(t *testing.T) {
	t.Parallel()

	var logins atomic.Int64

	server := newTokenServer(t, &logins)
	defer server.Close()

	manager := airflow.NewTokenManager(server.URL, "svc-airlock", "hunter2", server.Client(), slog.Default())

	first, err := manager.Token(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "token-1", first)

	second, err := manager.Token(t.Context())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, int64(1), logins.Load())
}

func TestTokenManager_InvalidateForcesFreshExchange(t *testing.T) {
	t.Parallel()

	var logins atomic.Int64

	server := newTokenServer(t, &logins)
	defer server.Close()

	manager := airflow.NewTokenManager(server.URL, "svc-airlock", "hunter2", server.Client(), slog.Default())

	first, err := manager.Token(t.Context())
	require.NoError(t, err)

	manager.Invalidate()

	second, err := manager.Token(t.Context())
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, int64(2), logins.Load())
}

func TestTokenManager_ConcurrentCallersSingleExchange(t *testing.T) {
	t.Parallel()

	var logins atomic.Int64

	server := newTokenServer(t, &logins)
	defer server.Close()

	manager := airflow.NewTokenManager(server.URL, "svc-airlock", "hunter2", server.Client(), slog.Default())

	var wg sync.WaitGroup

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			token, err := manager.Token(t.Context())
			assert.NoError(t, err)
			assert.Equal(t, "token-1", token)
		}()
	}

	wg.Wait()

	assert.Equal(t, int64(1), logins.Load())
}

func TestTokenManager_RejectedCredentials(t *testing.T) {
	t.Parallel()

	var logins atomic.Int64

	server := newTokenServer(t, &logins)
	defer server.Close()

	manager := airflow.NewTokenManager(server.URL, "svc-airlock", "wrong", server.Client(), slog.Default())

	_, err := manager.Token(t.Context())
	require.Error(t, err)

	var authErr *airflow.AuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestTokenManager_EndpointUnreachable(t *testing.T) {
	t.Parallel()

	manager := airflow.NewTokenManager(
		"http://127.0.0.1:1",
		"svc-airlock",
		"hunter2",
		&http.Client{Timeout: time.Second},
		slog.Default(),
	)

	_, err := manager.Token(t.Context())
	require.Error(t, err)

	var authErr *airflow.AuthError
	assert.ErrorAs(t, err, &authErr)
}
