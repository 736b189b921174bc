package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// GCSFetcher reads objects addressed as gs://bucket/object.
type GCSFetcher struct {
	client *storage.Client
}

// NewGCSFetcher creates a GCSFetcher. The client is owned by the caller.
func NewGCSFetcher(client *storage.Client) *GCSFetcher {
	return &GCSFetcher{client: client}
}

// ParseGCSURI splits a gs:// URI into bucket and object path.
func ParseGCSURI(gcsURI string) (bucket, object string, err error) {
	// gcsURI example: gs://my-bucket/path/to/file.pdf
	if !strings.HasPrefix(gcsURI, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", gcsURI)
	}

	trimmed := strings.TrimPrefix(gcsURI, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", gcsURI)
	}

	return parts[0], parts[1], nil
}

// Fetch downloads the object bytes.
func (g *GCSFetcher) Fetch(ctx context.Context, gcsURI string) ([]byte, error) {
	bucketName, objectPath, err := ParseGCSURI(gcsURI)
	if err != nil {
		return nil, &Error{Locator: gcsURI, Reason: "malformed locator", Err: err}
	}

	rc, err := g.client.Bucket(bucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, &Error{Locator: gcsURI, Reason: "object not found", Err: err}
		}
		return nil, &Error{Locator: gcsURI, Reason: fmt.Sprintf("reading object %s/%s", bucketName, objectPath), Err: err}
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, &Error{Locator: gcsURI, Reason: "reading bytes", Err: err}
	}

	return data, nil
}

// ExtractFilenameFromGCSURI extracts the filename from a GCS URI.
// e.g., "gs://bucket/folder/file.pdf" → "file.pdf"
func ExtractFilenameFromGCSURI(uri string) string {
	// Remove "gs://"
	trimmed := strings.TrimPrefix(uri, "gs://")

	// Remove bucket name
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}

	return path.Base(parts[1])
}
