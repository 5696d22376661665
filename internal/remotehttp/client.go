// Package remotehttp is a reference RemoteCollaborator implementation
// talking to a generic JSON REST backend, grounded on the teacher's
// internal/graph HTTP client: status-code sentinel classification, retry
// with exponential backoff, and an injectable token source so callers never
// see auth secrets directly. The Retry-After header of a 429 response is not
// read: the delay before each retry depends only on the attempt number.
package remotehttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/brightloom/syncengine/internal/snapshot"
	"github.com/brightloom/syncengine/internal/syncengine"
	"github.com/brightloom/syncengine/internal/syncerrors"
)

const (
	maxRetries     = 5
	baseBackoff    = time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	userAgent      = "syncengine/1.0"
)

// Client is a reference RemoteCollaborator backed by a JSON REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     oauth2.TokenSource
	sleepFunc  func(ctx context.Context, d time.Duration) error
}

// New builds a Client targeting baseURL, authenticating every request with
// tokens.
func New(baseURL string, tokens oauth2.TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		tokens:     tokens,
		sleepFunc:  timeSleep,
	}
}

func timeSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var enc []byte

	if body != nil {
		var err error

		enc, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := calcBackoff(attempt)
			if err := c.sleepFunc(ctx, delay); err != nil {
				return err
			}
		}

		var reqBody io.Reader
		if enc != nil {
			reqBody = bytes.NewReader(enc)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return err
		}

		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Content-Type", "application/json")

		if c.tokens != nil {
			tok, err := c.tokens.Token()
			if err != nil {
				return syncerrors.ErrUnauthorized
			}

			req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err

			if ctx.Err() != nil {
				return syncerrors.ErrCancelled
			}

			continue
		}

		defer resp.Body.Close() //nolint:errcheck

		classified := classifyStatus(resp.StatusCode)

		if classified == nil {
			if out != nil {
				return json.NewDecoder(resp.Body).Decode(out)
			}

			return nil
		}

		if !isRetryable(resp.StatusCode) {
			return classified
		}

		lastErr = classified
	}

	return fmt.Errorf("remotehttp: exhausted retries: %w", lastErr)
}

func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized:
		return syncerrors.ErrUnauthorized
	case code == http.StatusForbidden:
		return syncerrors.ErrForbidden
	case code == http.StatusNotFound:
		return syncerrors.ErrNotFound
	case code == http.StatusTooManyRequests:
		return &syncerrors.RateLimited{}
	case code >= 500:
		return &syncerrors.ServerError{Status: code}
	default:
		return fmt.Errorf("remotehttp: unexpected status %d", code)
	}
}

func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func calcBackoff(attempt int) time.Duration {
	d := time.Duration(float64(baseBackoff) * pow(backoffFactor, attempt-1))
	if d > maxBackoff {
		d = maxBackoff
	}

	return d
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}

	return result
}

// UpsertBatch implements syncengine.RemoteCollaborator.
func (c *Client) UpsertBatch(ctx context.Context, family string, snapshots []snapshot.Snapshot) ([]syncengine.ApplyResult, error) {
	var results []syncengine.ApplyResult

	err := c.do(ctx, http.MethodPost, "/tables/"+family+"/upsert", snapshots, &results)
	if err != nil {
		return nil, err
	}

	return results, nil
}

// Delete implements syncengine.RemoteCollaborator.
func (c *Client) Delete(ctx context.Context, family, syncID string) error {
	return c.do(ctx, http.MethodDelete, "/tables/"+family+"/records/"+syncID, nil, nil)
}

// Fetch implements syncengine.RemoteCollaborator.
func (c *Client) Fetch(ctx context.Context, family, syncID string) (snapshot.Snapshot, bool, error) {
	var s snapshot.Snapshot

	err := c.do(ctx, http.MethodGet, "/tables/"+family+"/records/"+syncID, nil, &s)
	if errors.Is(err, syncerrors.ErrNotFound) {
		return snapshot.Snapshot{}, false, nil
	}
	if err != nil {
		return snapshot.Snapshot{}, false, err
	}

	return s, true, nil
}

// FetchModifiedAfter implements syncengine.RemoteCollaborator.
func (c *Client) FetchModifiedAfter(ctx context.Context, family string, t time.Time, limit int) ([]snapshot.Snapshot, error) {
	var rows []snapshot.Snapshot

	path := fmt.Sprintf("/tables/%s/records?modified_after=%s&limit=%d", family, t.UTC().Format(time.RFC3339Nano), limit)

	if err := c.do(ctx, http.MethodGet, path, nil, &rows); err != nil {
		return nil, err
	}

	return rows, nil
}

// FetchDeleted implements syncengine.RemoteCollaborator.
func (c *Client) FetchDeleted(ctx context.Context, family string, since time.Time, limit int) ([]snapshot.Snapshot, error) {
	var rows []snapshot.Snapshot

	path := fmt.Sprintf("/tables/%s/records?deleted_since=%s&limit=%d", family, since.UTC().Format(time.RFC3339Nano), limit)

	if err := c.do(ctx, http.MethodGet, path, nil, &rows); err != nil {
		return nil, err
	}

	return rows, nil
}

// TableExists implements syncengine.RemoteCollaborator.
func (c *Client) TableExists(ctx context.Context, family string) (bool, error) {
	err := c.do(ctx, http.MethodGet, "/tables/"+family, nil, nil)
	if errors.Is(err, syncerrors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}
