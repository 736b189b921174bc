// Package firestore keeps the processing ledger as one Firestore document per
// source document.
package firestore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dvloznov/statement-sync/internal/domain"
	"github.com/dvloznov/statement-sync/internal/tracking"
)

// ledgerDoc is the stored shape of an entry.
type ledgerDoc struct {
	DocumentID string    `firestore:"documentId"`
	Status     string    `firestore:"status"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

// Store is a tracking.Store backed by a Firestore collection.
type Store struct {
	client     *firestore.Client
	collection string
}

// NewStore creates a Firestore client for projectID.
func NewStore(ctx context.Context, projectID, collection string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return NewStoreWithClient(client, collection), nil
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(client *firestore.Client, collection string) *Store {
	return &Store{client: client, collection: collection}
}

// Close closes the Firestore client.
func (s *Store) Close() error {
	return s.client.Close()
}

// GetStatus implements tracking.Store.
func (s *Store) GetStatus(ctx context.Context, documentID string) (domain.Status, error) {
	snap, err := s.client.Collection(s.collection).Doc(docKey(documentID)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return domain.StatusPending, nil
	}
	if err != nil {
		return "", fmt.Errorf("GetStatus: %w", err)
	}

	var doc ledgerDoc
	if err := snap.DataTo(&doc); err != nil {
		return "", fmt.Errorf("GetStatus: decoding %s: %w", documentID, err)
	}
	return domain.Status(doc.Status), nil
}

// SetStatus implements tracking.Store.
func (s *Store) SetStatus(ctx context.Context, documentID string, st domain.Status, at time.Time) error {
	if err := tracking.CheckSet(documentID, st); err != nil {
		return err
	}

	doc := ledgerDoc{DocumentID: documentID, Status: string(st), UpdatedAt: at.UTC()}
	if _, err := s.client.Collection(s.collection).Doc(docKey(documentID)).Set(ctx, doc); err != nil {
		return fmt.Errorf("SetStatus: %w", err)
	}
	return nil
}

// ListPending implements tracking.Store. Ordering happens client side so the
// query needs no composite index.
func (s *Store) ListPending(ctx context.Context) ([]tracking.Entry, error) {
	snaps, err := s.client.Collection(s.collection).
		Where("status", "==", string(domain.StatusPending)).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("ListPending: %w", err)
	}

	entries := make([]tracking.Entry, 0, len(snaps))
	for _, snap := range snaps {
		var doc ledgerDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("ListPending: decoding %s: %w", snap.Ref.ID, err)
		}
		entries = append(entries, tracking.Entry{
			DocumentID: doc.DocumentID,
			Status:     domain.Status(doc.Status),
			UpdatedAt:  doc.UpdatedAt.UTC(),
		})
	}
	sortEntries(entries)
	return entries, nil
}

// docKey maps a document ID to a Firestore document name, which may not
// contain slashes.
func docKey(documentID string) string {
	return strings.ReplaceAll(documentID, "/", "%2F")
}

func sortEntries(entries []tracking.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].UpdatedAt.Equal(entries[j].UpdatedAt) {
			return entries[i].DocumentID < entries[j].DocumentID
		}
		return entries[i].UpdatedAt.Before(entries[j].UpdatedAt)
	})
}

var _ tracking.Store = (*Store)(nil)
