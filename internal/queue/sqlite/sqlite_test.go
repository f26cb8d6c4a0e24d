package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warungpos/terminal/internal/domain"
	"warungpos/terminal/internal/queue"
)

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := New(context.Background(), path)
	require.NoError(t, err)
	return store
}

func enqueue(t *testing.T, s *Store, localID int64, payload string) {
	t.Helper()
	_, err := s.Enqueue(context.Background(), domain.PendingSale{
		LocalID: localID,
		Ref:     "pos-test",
		Payload: []byte(payload),
	})
	require.NoError(t, err)
}

func TestDurabilityAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pending_sales.db")

	store := openStore(t, path)
	enqueue(t, store, 1, `{"amount_paid":"25"}`)
	enqueue(t, store, 2, `{"amount_paid":"7"}`)
	require.NoError(t, store.MarkSyncing(ctx, 2))
	require.NoError(t, store.MarkFailed(ctx, 2, "connection refused", true))
	require.NoError(t, store.Close())

	reopened := openStore(t, path)
	defer reopened.Close()

	sale, err := reopened.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, sale.Status)
	assert.JSONEq(t, `{"amount_paid":"25"}`, string(sale.Payload))

	failed, err := reopened.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, failed.Status)
	assert.True(t, failed.Retryable)
	assert.Equal(t, "connection refused", failed.LastError)
	assert.Equal(t, 1, failed.Attempts)
}

func TestEnqueueRejectsDuplicateID(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "q.db"))
	defer store.Close()

	enqueue(t, store, 1, `{}`)
	_, err := store.Enqueue(context.Background(), domain.PendingSale{LocalID: 1, Payload: []byte(`{}`)})
	assert.ErrorIs(t, err, queue.ErrDuplicateID)
}

func TestListByStatusOrdersByLocalID(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "q.db"))
	defer store.Close()

	for _, id := range []int64{3, 1, 2} {
		enqueue(t, store, id, `{}`)
	}

	sales, err := store.ListByStatus(context.Background(), domain.StatusQueued)
	require.NoError(t, err)
	require.Len(t, sales, 3)
	assert.Equal(t, int64(1), sales[0].LocalID)
	assert.Equal(t, int64(2), sales[1].LocalID)
	assert.Equal(t, int64(3), sales[2].LocalID)
}

func TestTransitionGuards(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "q.db"))
	defer store.Close()
	ctx := context.Background()

	enqueue(t, store, 1, `{}`)

	assert.ErrorIs(t, store.MarkSynced(ctx, 1, "INV-1"), queue.ErrBadTransition)
	assert.ErrorIs(t, store.MarkSyncing(ctx, 404), queue.ErrNotFound)

	require.NoError(t, store.MarkSyncing(ctx, 1))
	assert.ErrorIs(t, store.MarkSyncing(ctx, 1), queue.ErrBadTransition)

	require.NoError(t, store.MarkSynced(ctx, 1, "INV-1"))
	assert.ErrorIs(t, store.Requeue(ctx, 1), queue.ErrBadTransition)

	sale, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "INV-1", sale.InvoiceNumber)
	assert.False(t, sale.Retryable)
}

func TestRequeueFailedSale(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "q.db"))
	defer store.Close()
	ctx := context.Background()

	enqueue(t, store, 1, `{}`)
	require.NoError(t, store.Requeue(ctx, 1), "requeueing a queued sale is a no-op")

	require.NoError(t, store.MarkSyncing(ctx, 1))
	require.NoError(t, store.MarkFailed(ctx, 1, "timeout", true))
	require.NoError(t, store.Requeue(ctx, 1))

	sale, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, sale.Status)
	assert.True(t, sale.Retryable)
	assert.Equal(t, 1, sale.Attempts)

	assert.ErrorIs(t, store.Requeue(ctx, 404), queue.ErrNotFound)
}

func TestStatsBuckets(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "q.db"))
	defer store.Close()
	ctx := context.Background()

	enqueue(t, store, 1, `{}`)

	enqueue(t, store, 2, `{}`)
	require.NoError(t, store.MarkSyncing(ctx, 2))

	enqueue(t, store, 3, `{}`)
	require.NoError(t, store.MarkSyncing(ctx, 3))
	require.NoError(t, store.MarkSynced(ctx, 3, "INV-3"))

	enqueue(t, store, 4, `{}`)
	require.NoError(t, store.MarkSyncing(ctx, 4))
	require.NoError(t, store.MarkFailed(ctx, 4, "timeout", true))

	enqueue(t, store, 5, `{}`)
	require.NoError(t, store.MarkSyncing(ctx, 5))
	require.NoError(t, store.MarkFailed(ctx, 5, "rejected", false))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStats{
		Queued:          1,
		Syncing:         1,
		Synced:          1,
		FailedRetryable: 1,
		FailedPermanent: 1,
	}, stats)
	assert.Equal(t, 3, stats.Pending())
}

func TestPruneSyncedHonorsCutoff(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "q.db"))
	defer store.Close()
	ctx := context.Background()

	enqueue(t, store, 1, `{}`)
	require.NoError(t, store.MarkSyncing(ctx, 1))
	require.NoError(t, store.MarkSynced(ctx, 1, "INV-1"))

	enqueue(t, store, 2, `{}`)
	require.NoError(t, store.MarkSyncing(ctx, 2))
	require.NoError(t, store.MarkFailed(ctx, 2, "rejected", false))

	pruned, err := store.PruneSynced(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, pruned)

	pruned, err = store.PruneSynced(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	_, err = store.Get(ctx, 1)
	assert.ErrorIs(t, err, queue.ErrNotFound)

	// Failed sales survive pruning regardless of age.
	_, err = store.Get(ctx, 2)
	require.NoError(t, err)
}
