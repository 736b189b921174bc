// Package llm holds the completion service clients used for structured
// transaction extraction.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// Request is a single-turn completion request.
type Request struct {
	// Instruction is the fixed task description.
	Instruction string
	// Input is the document text the instruction applies to.
	Input string
}

// Completer sends a prompt to a language model and returns the raw text reply.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	Model() string
}

// Settings common to every completer.
type Settings struct {
	Model           string
	Temperature     float32
	MaxOutputTokens int32
}

// APIError is a non-success answer from a completion service.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Retryable reports whether the request may succeed if sent again.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode >= 500
}

// Unauthorized reports whether the service rejected the credentials.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// ErrEmptyResponse is returned when the model answers with no text.
var ErrEmptyResponse = errors.New("empty response from model")

// IsRetryable classifies completion errors for the retry policy: rate limits,
// server errors, timeouts and transport failures are retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	if errors.Is(err, ErrEmptyResponse) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
