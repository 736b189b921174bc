// Package fetch retrieves document bytes from a locator: an http(s) URL, a
// gs://bucket/object URI or a local file path.
package fetch

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// Fetcher retrieves the bytes a locator points to.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// Error reports a failed retrieval. Every error returned by a Fetcher in this
// package is an *Error.
type Error struct {
	Locator string
	Reason  string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %s", redact(e.Locator), e.Reason)
	}
	return fmt.Sprintf("fetch %s: %s: %v", redact(e.Locator), e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Router dispatches a locator to the fetcher registered for its scheme.
type Router struct {
	HTTP  Fetcher
	GCS   Fetcher
	Local Fetcher
}

// Fetch implements Fetcher.
func (r *Router) Fetch(ctx context.Context, locator string) ([]byte, error) {
	var f Fetcher
	switch Scheme(locator) {
	case "http", "https":
		f = r.HTTP
	case "gs":
		f = r.GCS
	case "file", "":
		f = r.Local
	default:
		return nil, &Error{Locator: locator, Reason: "unsupported locator scheme " + Scheme(locator)}
	}
	if f == nil {
		return nil, &Error{Locator: locator, Reason: "no fetcher configured for scheme " + Scheme(locator)}
	}
	return f.Fetch(ctx, locator)
}

// Scheme returns the lower-cased scheme of a locator, or "" for a bare path.
func Scheme(locator string) string {
	idx := strings.Index(locator, "://")
	if idx <= 0 {
		return ""
	}
	return strings.ToLower(locator[:idx])
}

// FileName returns the last path element of a locator without query or fragment.
// e.g., "gs://bucket/folder/file.pdf" → "file.pdf"
func FileName(locator string) string {
	switch Scheme(locator) {
	case "":
		return filepath.Base(locator)
	case "gs":
		return ExtractFilenameFromGCSURI(locator)
	}
	u, err := url.Parse(locator)
	if err != nil || u.Path == "" {
		return ""
	}
	return path.Base(u.Path)
}

// redact drops the query string, which for signed URLs carries credentials.
func redact(locator string) string {
	if i := strings.IndexAny(locator, "?#"); i != -1 {
		return locator[:i]
	}
	return locator
}
