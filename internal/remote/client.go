// Package remote provides the client for the remote metadata catalog.
//
// The client speaks the catalog's paginated entity API (scroll-token
// pagination) and normalizes the heterogeneous response envelopes into the
// canonical Record shape. Reads are side-effect free; transient page
// failures are retried a fixed number of times before surfacing a
// FetchError. Records that fail all extraction strategies are excluded
// with a logged warning instead of aborting the fetch.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/catalogops/metasync/internal/entity"
)

// Config holds client configuration.
type Config struct {
	// BaseURL is the catalog root, e.g. "http://localhost:8080".
	BaseURL string

	// Token is the bearer token sent with every request (optional).
	Token string

	// PageTimeout bounds each page fetch (default: 30s).
	PageTimeout time.Duration

	// MaxRetries is the per-page retry bound for transient failures
	// (default: 3).
	MaxRetries int

	// HTTPClient overrides the default http.Client (mainly for tests).
	HTTPClient *http.Client

	// Logger for fetch activity (default: stderr logger).
	Logger *log.Logger
}

// Client is the remote catalog client.
type Client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	pageTimeout time.Duration
	maxRetries  int
	logger      *log.Logger
}

// NewClient creates a catalog client from config.
func NewClient(cfg *Config) *Client {
	c := &Client{
		baseURL:     cfg.BaseURL,
		token:       cfg.Token,
		httpClient:  cfg.HTTPClient,
		pageTimeout: cfg.PageTimeout,
		maxRetries:  cfg.MaxRetries,
		logger:      cfg.Logger,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.pageTimeout <= 0 {
		c.pageTimeout = 30 * time.Second
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 3
	}
	if c.logger == nil {
		c.logger = log.New(os.Stderr, "[fetch] ", log.LstdFlags)
	}
	return c
}

// page is the wire envelope for one page of entities. Older servers call
// the cursor "nextScrollId" and the list "results".
type page struct {
	Entities     []json.RawMessage `json:"entities"`
	Results      []json.RawMessage `json:"results"`
	ScrollID     string            `json:"scrollId"`
	NextScrollID string            `json:"nextScrollId"`
}

func (p *page) records() []json.RawMessage {
	if p.Entities != nil {
		return p.Entities
	}
	return p.Results
}

func (p *page) cursor() string {
	if p.ScrollID != "" {
		return p.ScrollID
	}
	return p.NextScrollID
}

// FetchAll retrieves every entity of the given type from the catalog.
//
// Pages are fetched with scroll-token pagination; each page gets its own
// timeout and retry budget. Records that fail normalization are returned
// in parseErrs and logged, not fatal. A page that exhausts its retries
// fails the whole fetch with a *FetchError.
func (c *Client) FetchAll(ctx context.Context, entityType entity.Type, pageSize int) (records []Record, parseErrs []error, err error) {
	if pageSize <= 0 {
		pageSize = 100
	}

	scroll := ""
	for {
		p, err := c.fetchPage(ctx, entityType, pageSize, scroll)
		if err != nil {
			return nil, nil, &FetchError{EntityType: entityType, Err: err}
		}

		for _, raw := range p.records() {
			rec, err := Extract(entityType, raw)
			if err != nil {
				c.logger.Printf("Warning: skipping malformed %s record: %v", entityType, err)
				parseErrs = append(parseErrs, err)
				continue
			}
			records = append(records, rec)
		}

		scroll = p.cursor()
		if scroll == "" {
			break
		}
	}

	c.logger.Printf("Fetched %d %s entities (%d malformed)", len(records), entityType, len(parseErrs))
	return records, parseErrs, nil
}

// fetchPage retrieves one page, retrying transient failures up to the
// configured bound.
func (c *Client) fetchPage(ctx context.Context, entityType entity.Type, pageSize int, scroll string) (*page, error) {
	u := fmt.Sprintf("%s/openapi/v3/entity/%s?count=%d", c.baseURL, entityType.APIName(), pageSize)
	if scroll != "" {
		u += "&scrollId=" + url.QueryEscape(scroll)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		pageCtx, cancel := context.WithTimeout(ctx, c.pageTimeout)
		body, status, err := c.do(pageCtx, http.MethodGet, u, nil)
		cancel()

		switch {
		case err != nil:
			lastErr = err
		case status == http.StatusOK:
			var p page
			if err := json.Unmarshal(body, &p); err != nil {
				return nil, fmt.Errorf("failed to decode page: %w", err)
			}
			return &p, nil
		case transientStatus(status):
			lastErr = fmt.Errorf("server returned %d", status)
		default:
			// Auth failures and other client errors are not retryable.
			return nil, fmt.Errorf("server returned %d: %s", status, truncate(string(body), 200))
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Printf("Retrying %s page (attempt %d/%d): %v", entityType, attempt, c.maxRetries, lastErr)
		time.Sleep(time.Duration(attempt) * 250 * time.Millisecond)
	}

	return nil, fmt.Errorf("page fetch failed after %d attempts: %w", c.maxRetries, lastErr)
}

// FetchOne retrieves a single entity by URN.
// Returns *NotFoundError when the catalog has no such entity.
func (c *Client) FetchOne(ctx context.Context, entityType entity.Type, urn string) (Record, error) {
	u := fmt.Sprintf("%s/openapi/v3/entity/%s/%s", c.baseURL, entityType.APIName(), url.PathEscape(urn))

	reqCtx, cancel := context.WithTimeout(ctx, c.pageTimeout)
	defer cancel()

	body, status, err := c.do(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return Record{}, &FetchError{EntityType: entityType, Err: err}
	}
	switch status {
	case http.StatusOK:
		return Extract(entityType, body)
	case http.StatusNotFound:
		return Record{}, &NotFoundError{URN: urn}
	default:
		return Record{}, &FetchError{
			EntityType: entityType,
			Err:        fmt.Errorf("server returned %d: %s", status, truncate(string(body), 200)),
		}
	}
}

// Upsert pushes one record to the catalog. Failures return a *WriteError
// without retry; the caller decides whether to try again.
func (c *Client) Upsert(ctx context.Context, entityType entity.Type, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return &WriteError{URN: rec.URN, Err: fmt.Errorf("failed to marshal record: %w", err)}
	}

	u := fmt.Sprintf("%s/openapi/v3/entity/%s", c.baseURL, entityType.APIName())
	body, status, err := c.do(ctx, http.MethodPost, u, payload)
	if err != nil {
		return &WriteError{URN: rec.URN, Err: err}
	}
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusAccepted {
		return &WriteError{URN: rec.URN, Err: fmt.Errorf("server returned %d: %s", status, truncate(string(body), 200))}
	}

	c.logger.Printf("Deployed %s entity: %s", entityType, rec.URN)
	return nil
}

// Delete removes one entity from the catalog by URN.
// A 404 is treated as success (idempotent).
func (c *Client) Delete(ctx context.Context, entityType entity.Type, urn string) error {
	u := fmt.Sprintf("%s/openapi/v3/entity/%s/%s", c.baseURL, entityType.APIName(), url.PathEscape(urn))
	body, status, err := c.do(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return &WriteError{URN: urn, Err: err}
	}
	if status != http.StatusOK && status != http.StatusNoContent && status != http.StatusNotFound {
		return &WriteError{URN: urn, Err: fmt.Errorf("server returned %d: %s", status, truncate(string(body), 200))}
	}

	c.logger.Printf("Deleted remote entity: %s", urn)
	return nil
}

// do issues one HTTP request and returns the response body and status.
func (c *Client) do(ctx context.Context, method, u string, payload []byte) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	return body, resp.StatusCode, nil
}

// transientStatus reports whether an HTTP status is worth retrying.
func transientStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
