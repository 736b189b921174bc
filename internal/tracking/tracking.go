// Package tracking records which source documents have been fully written to
// their ledgers. A document that was never recorded is pending.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/statement-sync/internal/domain"
)

// Entry is the tracked state of one source document.
type Entry struct {
	DocumentID string
	Status     domain.Status
	UpdatedAt  time.Time
}

// Store persists processing status. SetStatus is an upsert and must be durable
// before it returns, so a crash after a successful call never loses the mark.
type Store interface {
	// GetStatus returns StatusPending for documents the store has never seen.
	GetStatus(ctx context.Context, documentID string) (domain.Status, error)

	// SetStatus records status for documentID at time at.
	SetStatus(ctx context.Context, documentID string, status domain.Status, at time.Time) error

	// ListPending returns entries recorded as pending, oldest first.
	ListPending(ctx context.Context) ([]Entry, error)
}

// ErrInvalidStatus is returned by SetStatus for unknown status values.
var ErrInvalidStatus = errors.New("invalid status")

// CheckSet validates SetStatus arguments. Backends call it before writing.
func CheckSet(documentID string, status domain.Status) error {
	if documentID == "" {
		return fmt.Errorf("document ID is required")
	}
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return nil
}
