package fetch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"
)

// FileFetcher reads documents from the local file system.
type FileFetcher struct{}

// Fetch implements Fetcher. Both "file://" locators and bare paths are accepted.
func (FileFetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Locator: locator, Reason: "cancelled", Err: err}
	}

	p := strings.TrimPrefix(locator, "file://")
	data, err := os.ReadFile(p)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, &Error{Locator: locator, Reason: "file not found", Err: err}
		case errors.Is(err, fs.ErrPermission):
			return nil, &Error{Locator: locator, Reason: "permission denied", Err: err}
		}
		return nil, &Error{Locator: locator, Reason: "reading file", Err: err}
	}
	return data, nil
}
