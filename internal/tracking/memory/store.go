// Package memory provides a process-local tracking store. Nothing survives a
// restart, so it is only useful for dry runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/statement-sync/internal/domain"
	"github.com/dvloznov/statement-sync/internal/tracking"
)

// Store is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]tracking.Entry
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]tracking.Entry),
	}
}

// GetStatus implements tracking.Store.
func (s *Store) GetStatus(ctx context.Context, documentID string) (domain.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[documentID]
	if !ok {
		return domain.StatusPending, nil
	}
	return entry.Status, nil
}

// SetStatus implements tracking.Store.
func (s *Store) SetStatus(ctx context.Context, documentID string, status domain.Status, at time.Time) error {
	if err := tracking.CheckSet(documentID, status); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[documentID] = tracking.Entry{DocumentID: documentID, Status: status, UpdatedAt: at}
	return nil
}

// ListPending implements tracking.Store.
func (s *Store) ListPending(ctx context.Context) ([]tracking.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []tracking.Entry
	for _, entry := range s.entries {
		if entry.Status == domain.StatusPending {
			result = append(result, entry)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].DocumentID < result[j].DocumentID
		}
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	return result, nil
}

var _ tracking.Store = (*Store)(nil)
