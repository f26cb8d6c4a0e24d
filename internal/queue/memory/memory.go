package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"warungpos/terminal/internal/domain"
	"warungpos/terminal/internal/queue"
)

// Store keeps the pending-sale queue in process memory. It backs tests and
// ephemeral kiosk setups; anything that must survive a restart uses the
// sqlite or postgres store.
type Store struct {
	mu    sync.RWMutex
	sales map[int64]*domain.PendingSale
}

func New() *Store {
	return &Store{sales: make(map[int64]*domain.PendingSale)}
}

func (s *Store) Enqueue(_ context.Context, sale domain.PendingSale) (*domain.PendingSale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sales[sale.LocalID]; exists {
		return nil, queue.ErrDuplicateID
	}

	now := time.Now().UTC()
	sale.Status = domain.StatusQueued
	sale.Retryable = true
	sale.Attempts = 0
	sale.LastError = ""
	sale.InvoiceNumber = ""
	sale.CreatedAt = now
	sale.UpdatedAt = now

	s.sales[sale.LocalID] = &sale
	stored := sale
	return &stored, nil
}

func (s *Store) Get(_ context.Context, localID int64) (*domain.PendingSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[localID]
	if !ok {
		return nil, queue.ErrNotFound
	}
	copied := *sale
	return &copied, nil
}

func (s *Store) ListByStatus(_ context.Context, status domain.SaleStatus) ([]domain.PendingSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.PendingSale, 0, len(s.sales))
	for _, sale := range s.sales {
		if sale.Status == status {
			sales = append(sales, *sale)
		}
	}
	sort.Slice(sales, func(i, j int) bool { return sales[i].LocalID < sales[j].LocalID })
	return sales, nil
}

func (s *Store) MarkSyncing(_ context.Context, localID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[localID]
	if !ok {
		return queue.ErrNotFound
	}
	if !queue.CanMark(sale.Status, domain.StatusSyncing) {
		return queue.ErrBadTransition
	}
	sale.Status = domain.StatusSyncing
	sale.Attempts++
	sale.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) MarkSynced(_ context.Context, localID int64, invoiceNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[localID]
	if !ok {
		return queue.ErrNotFound
	}
	if !queue.CanMark(sale.Status, domain.StatusSynced) {
		return queue.ErrBadTransition
	}
	sale.Status = domain.StatusSynced
	sale.Retryable = false
	sale.LastError = ""
	sale.InvoiceNumber = invoiceNumber
	sale.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) MarkFailed(_ context.Context, localID int64, reason string, retryable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[localID]
	if !ok {
		return queue.ErrNotFound
	}
	if !queue.CanMark(sale.Status, domain.StatusFailed) {
		return queue.ErrBadTransition
	}
	sale.Status = domain.StatusFailed
	sale.Retryable = retryable
	sale.LastError = reason
	sale.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) Requeue(_ context.Context, localID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[localID]
	if !ok {
		return queue.ErrNotFound
	}
	if sale.Status == domain.StatusQueued {
		return nil
	}
	if !queue.CanMark(sale.Status, domain.StatusQueued) {
		return queue.ErrBadTransition
	}
	sale.Status = domain.StatusQueued
	sale.Retryable = true
	sale.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) Stats(_ context.Context) (domain.QueueStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats domain.QueueStats
	for _, sale := range s.sales {
		switch sale.Status {
		case domain.StatusQueued:
			stats.Queued++
		case domain.StatusSyncing:
			stats.Syncing++
		case domain.StatusSynced:
			stats.Synced++
		case domain.StatusFailed:
			if sale.Retryable {
				stats.FailedRetryable++
			} else {
				stats.FailedPermanent++
			}
		}
	}
	return stats, nil
}

func (s *Store) PruneSynced(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for id, sale := range s.sales {
		if sale.Status == domain.StatusSynced && sale.UpdatedAt.Before(before) {
			delete(s.sales, id)
			pruned++
		}
	}
	return pruned, nil
}

func (s *Store) Close() error {
	return nil
}
