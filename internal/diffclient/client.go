// Package diffclient calls the external spreadsheet diff service over HTTP.
package diffclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PerfectisXit/Intelligent-Project-Mortgage-Data-System-IPMDS-2.0/internal/core"
	"github.com/PerfectisXit/Intelligent-Project-Mortgage-Data-System-IPMDS-2.0/internal/logging"
)

const (
	diffPath = "/excel/diff"

	// maxErrorBody bounds how much of a failed response ends up in the error.
	maxErrorBody = 4 << 10
)

// Client implements core.Differ.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ core.Differ = (*Client)(nil)

// New builds a client for the service at baseURL. A zero timeout keeps
// the http.Client default of no timeout; the caller's context still applies.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("diff service url is empty")
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// WithHTTPClient replaces the underlying client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// Diff posts the file path and the project snapshot and decodes the rows.
// Every transport, status, and decoding failure wraps core.ErrDiffUnavailable.
func (c *Client) Diff(ctx context.Context, req core.DiffRequest) (core.DiffResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return core.DiffResult{}, fmt.Errorf("encode diff request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+diffPath, bytes.NewReader(payload))
	if err != nil {
		return core.DiffResult{}, fmt.Errorf("%w: build request: %v", core.ErrDiffUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return core.DiffResult{}, fmt.Errorf("%w: %w", core.ErrDiffUnavailable, ctxErr)
		}
		return core.DiffResult{}, fmt.Errorf("%w: %v", core.ErrDiffUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return core.DiffResult{}, fmt.Errorf("%w: status %d: %s",
			core.ErrDiffUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result core.DiffResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return core.DiffResult{}, fmt.Errorf("%w: decode response: %v", core.ErrDiffUnavailable, err)
	}

	logging.FromContext(ctx).Debug("diff service responded",
		slog.Int("rows", len(result.Rows)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}
