// Package n2sql implements the client for the natural-language-to-SQL
// backend service and the decoding of its result payloads.
//
// The wire contract is a single endpoint:
//
//	POST {base}{queryPath}
//	{"dataset": "...", "intent": "<natural-language question>", "params": {}}
//
// with an optional bearer token. The response is JSON in one of the tabular
// shapes recognized by Detect, or anything else (rendered as a raw fallback
// upstream).
package n2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	defaultQueryPath = "/query"
	defaultDataset   = "odoo"
	defaultTimeout   = 30 * time.Second

	// maxResponseBytes caps the response body read to keep one oversized
	// result from exhausting memory.
	maxResponseBytes = 4 * 1024 * 1024
)

// ErrBackendUnavailable is returned for any transport failure, timeout, or
// non-2xx status from the backend. Callers should surface a user-visible
// apology instead of the raw error text.
var ErrBackendUnavailable = errors.New("n2sql: backend unavailable")

// Config configures the backend client.
type Config struct {
	// BaseURL is the backend base URL (no trailing slash required).
	BaseURL string

	// QueryPath is the query endpoint path. Defaults to "/query".
	QueryPath string

	// APIKey is the bearer token sent on every request. Empty disables auth.
	APIKey string

	// DefaultDataset is used when a query carries no dataset override.
	// Defaults to "odoo".
	DefaultDataset string

	// Timeout bounds the whole request. Defaults to 30 s.
	Timeout time.Duration
}

// Client submits natural-language questions to the backend.
//
// Implementations must be safe for concurrent use. Ask never retries: the
// backend may execute side-effectful SQL, so a duplicate submission is worse
// than a reported failure.
type Client interface {
	// Ask runs query against dataset (the configured default when empty) and
	// returns the raw result. Failures are reported as ErrBackendUnavailable.
	Ask(ctx context.Context, query, dataset string) (*Result, error)
}

// httpClient is the production Client.
type httpClient struct {
	cfg    Config
	client *http.Client
}

// New returns a Client with Config defaults applied. The returned client is
// safe for concurrent use.
func New(cfg Config) Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.QueryPath == "" {
		cfg.QueryPath = defaultQueryPath
	}
	if cfg.DefaultDataset == "" {
		cfg.DefaultDataset = defaultDataset
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &httpClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// askRequest is the backend request body.
type askRequest struct {
	Dataset string         `json:"dataset"`
	Intent  string         `json:"intent"`
	Params  map[string]any `json:"params"`
}

func (c *httpClient) Ask(ctx context.Context, query, dataset string) (*Result, error) {
	if dataset == "" {
		dataset = c.cfg.DefaultDataset
	}

	data, err := json.Marshal(askRequest{
		Dataset: dataset,
		Intent:  query,
		Params:  map[string]any{},
	})
	if err != nil {
		return nil, fmt.Errorf("n2sql: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+c.cfg.QueryPath, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("n2sql: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrBackendUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrBackendUnavailable, resp.StatusCode)
	}

	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: response is not valid JSON", ErrBackendUnavailable)
	}

	return &Result{Raw: body}, nil
}
