package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultMaxBytes bounds a single download.
const DefaultMaxBytes = 50 << 20

// HTTPFetcher downloads documents over http(s). Notion file URLs are
// short-lived signed S3 links and need no extra headers.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPFetcher creates an HTTPFetcher whose requests time out after timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: DefaultMaxBytes,
	}
}

// NewHTTPFetcherWithClient creates an HTTPFetcher using the provided client.
func NewHTTPFetcherWithClient(client *http.Client, maxBytes int64) *HTTPFetcher {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &HTTPFetcher{client: client, maxBytes: maxBytes}
}

// Fetch implements Fetcher.
func (h *HTTPFetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, &Error{Locator: locator, Reason: "building request", Err: err}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{Locator: locator, Reason: "timed out", Err: err}
		}
		return nil, &Error{Locator: locator, Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &Error{Locator: locator, Reason: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBytes+1))
	if err != nil {
		return nil, &Error{Locator: locator, Reason: "reading body", Err: err}
	}
	if int64(len(data)) > h.maxBytes {
		return nil, &Error{Locator: locator, Reason: fmt.Sprintf("document larger than %d bytes", h.maxBytes)}
	}

	return data, nil
}
