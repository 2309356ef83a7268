package airflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const apiPrefix = "/api/v2"

// TokenSource supplies bearer tokens for outbound requests. *TokenManager is
// the production implementation.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Client issues authenticated calls against the Airflow REST API. A 401
// response invalidates the cached token and the call is retried exactly once
// with a fresh one; a second 401 is a hard failure. Looping further would
// mask a persistently broken credential as backpressure.
type Client struct {
	baseURL string
	tokens  TokenSource
	client  *http.Client
	logger  *slog.Logger
}

// NewClient creates an Airflow API client. Every request is bounded by
// timeout; Airflow being slow must not pin gateway goroutines forever.
func NewClient(baseURL string, tokens TokenSource, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "airflow_client"),
	}
}

// ListDags returns the DAGs registered with the Airflow instance.
func (c *Client) ListDags(ctx context.Context) ([]Dag, error) {
	body, err := c.do(ctx, http.MethodGet, "/dags", nil, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Dags []Dag `json:"dags"`
	}

	err = json.Unmarshal(body, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to decode DAG list: %w", err)
	}

	return result.Dags, nil
}

// RecentRuns returns up to limit DAG runs across all DAGs, most recently
// started first. State filtering is deliberately left to the caller:
// Airflow's server-side state filter is unreliable across versions, so the
// gate always fetches a bounded recent window and filters locally.
func (c *Client) RecentRuns(ctx context.Context, limit int) ([]DagRun, error) {
	query := url.Values{}
	query.Set("order_by", "-start_date")
	query.Set("limit", strconv.Itoa(limit))

	body, err := c.do(ctx, http.MethodGet, "/dags/~/dagRuns", nil, query)
	if err != nil {
		return nil, err
	}

	var result struct {
		DagRuns []DagRun `json:"dag_runs"`
	}

	err = json.Unmarshal(body, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to decode DAG runs: %w", err)
	}

	return result.DagRuns, nil
}

// TriggerRun starts a new run of the given DAG with an optional free-form
// configuration. The logical_date field is required-but-nullable in some
// Airflow versions, so it is always sent explicitly as null.
func (c *Client) TriggerRun(ctx context.Context, dagID string, conf map[string]any) (*DagRun, error) {
	if conf == nil {
		conf = map[string]any{}
	}

	payload := map[string]any{
		"conf":         conf,
		"logical_date": nil,
	}

	body, err := c.do(ctx, http.MethodPost, "/dags/"+url.PathEscape(dagID)+"/dagRuns", payload, nil)
	if err != nil {
		return nil, err
	}

	var run DagRun

	err = json.Unmarshal(body, &run)
	if err != nil {
		return nil, fmt.Errorf("failed to decode triggered run: %w", err)
	}

	return &run, nil
}

// SetPaused pauses or unpauses a DAG.
func (c *Client) SetPaused(ctx context.Context, dagID string, paused bool) (*Dag, error) {
	query := url.Values{}
	query.Set("update_mask", "is_paused")

	payload := map[string]any{"is_paused": paused}

	body, err := c.do(ctx, http.MethodPatch, "/dags/"+url.PathEscape(dagID), payload, query)
	if err != nil {
		return nil, err
	}

	var dag Dag

	err = json.Unmarshal(body, &dag)
	if err != nil {
		return nil, fmt.Errorf("failed to decode DAG: %w", err)
	}

	return &dag, nil
}

// do issues one API call with the invalidate-and-retry-once policy for
// authentication rejections.
func (c *Client) do(ctx context.Context, method, path string, payload any, query url.Values) ([]byte, error) {
	var encoded []byte

	if payload != nil {
		var err error

		encoded, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	status, body, err := c.attempt(ctx, method, path, query, encoded, token)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		c.logger.WarnContext(ctx, "Airflow rejected the bearer token, refreshing and retrying once",
			"method", method, "path", path)
		c.tokens.Invalidate()

		token, err = c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}

		status, body, err = c.attempt(ctx, method, path, query, encoded, token)
		if err != nil {
			return nil, err
		}
	}

	if status < 200 || status > 299 {
		return nil, &UpstreamError{Status: status, Body: string(body)}
	}

	return body, nil
}

func (c *Client) attempt(ctx context.Context, method, path string, query url.Values, payload []byte, token string) (int, []byte, error) {
	target := c.baseURL + apiPrefix + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("airflow request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read airflow response: %w", err)
	}

	return resp.StatusCode, body, nil
}
