// Package trackingtest holds behaviour checks shared by every tracking.Store.
package trackingtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-sync/internal/domain"
	"github.com/dvloznov/statement-sync/internal/tracking"
)

// Run exercises store against the tracking.Store contract. newStore must
// return an empty store each time it is called.
func Run(t *testing.T, newStore func(t *testing.T) tracking.Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("unknown document is pending", func(t *testing.T) {
		store := newStore(t)
		status, err := store.GetStatus(ctx, "never-seen")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, status)
	})

	t.Run("processed mark is read back", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.SetStatus(ctx, "doc-1", domain.StatusProcessed, base))

		status, err := store.GetStatus(ctx, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusProcessed, status)
	})

	t.Run("set is an upsert", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.SetStatus(ctx, "doc-1", domain.StatusPending, base))
		require.NoError(t, store.SetStatus(ctx, "doc-1", domain.StatusProcessed, base.Add(time.Minute)))
		require.NoError(t, store.SetStatus(ctx, "doc-1", domain.StatusProcessed, base.Add(2*time.Minute)))

		status, err := store.GetStatus(ctx, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusProcessed, status)

		pending, err := store.ListPending(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("list pending is oldest first", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.SetStatus(ctx, "late", domain.StatusPending, base.Add(time.Hour)))
		require.NoError(t, store.SetStatus(ctx, "done", domain.StatusProcessed, base))
		require.NoError(t, store.SetStatus(ctx, "early", domain.StatusPending, base))

		pending, err := store.ListPending(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, "early", pending[0].DocumentID)
		assert.Equal(t, "late", pending[1].DocumentID)
		assert.Equal(t, domain.StatusPending, pending[0].Status)
		assert.True(t, pending[0].UpdatedAt.Equal(base), "got %v", pending[0].UpdatedAt)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		store := newStore(t)
		assert.ErrorIs(t, store.SetStatus(ctx, "doc-1", domain.Status("failed"), base), tracking.ErrInvalidStatus)
		assert.Error(t, store.SetStatus(ctx, "", domain.StatusProcessed, base))
	})
}
