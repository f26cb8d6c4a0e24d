package queue

import (
	"context"
	"errors"
	"time"

	"warungpos/terminal/internal/domain"
)

var (
	ErrNotFound      = errors.New("pending sale not found")
	ErrDuplicateID   = errors.New("duplicate local id")
	ErrBadTransition = errors.New("invalid status transition")
)

// Store is the durable queue of sales awaiting submission. Implementations
// must make Enqueue atomic with respect to concurrent reads: once it
// returns, the record is visible to ListByStatus even across a process
// restart. ListByStatus returns records in enqueue order (ascending local
// id). Records are never deleted on failure; only Synced records may be
// pruned.
type Store interface {
	Enqueue(ctx context.Context, sale domain.PendingSale) (*domain.PendingSale, error)
	Get(ctx context.Context, localID int64) (*domain.PendingSale, error)
	ListByStatus(ctx context.Context, status domain.SaleStatus) ([]domain.PendingSale, error)
	MarkSyncing(ctx context.Context, localID int64) error
	MarkSynced(ctx context.Context, localID int64, invoiceNumber string) error
	MarkFailed(ctx context.Context, localID int64, reason string, retryable bool) error
	Requeue(ctx context.Context, localID int64) error
	Stats(ctx context.Context) (domain.QueueStats, error)
	PruneSynced(ctx context.Context, before time.Time) (int, error)
	Close() error
}

// CanMark reports whether a record in from may move to to. Enqueue creates
// records as Queued; Requeue moves Syncing or Failed records back to Queued.
func CanMark(from domain.SaleStatus, to domain.SaleStatus) bool {
	switch to {
	case domain.StatusSyncing:
		return from == domain.StatusQueued
	case domain.StatusSynced, domain.StatusFailed:
		return from == domain.StatusSyncing
	case domain.StatusQueued:
		return from == domain.StatusSyncing || from == domain.StatusFailed || from == domain.StatusQueued
	}
	return false
}
