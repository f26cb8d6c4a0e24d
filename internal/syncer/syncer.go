package syncer

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"warungpos/terminal/internal/connectivity"
	"warungpos/terminal/internal/domain"
	"warungpos/terminal/internal/ledger"
	"warungpos/terminal/internal/metrics"
	"warungpos/terminal/internal/queue"
)

// Submitter sends one sale to the remote ledger.
type Submitter interface {
	SubmitSale(ctx context.Context, localID int64, sale domain.SaleRequest) (*domain.SaleReceipt, error)
}

// Manager drains the pending-sale queue toward the ledger. Drains are
// serialized: a trigger arriving mid-drain queues exactly one follow-up
// drain, and extra triggers merge into it.
type Manager struct {
	store      queue.Store
	ledger     Submitter
	watcher    connectivity.Watcher
	metrics    *metrics.TerminalMetrics
	backoff    Backoff
	keepSynced time.Duration

	kick chan string

	subMu  sync.Mutex
	nextID int
	subs   map[int]chan domain.SyncResult
}

func New(store queue.Store, submitter Submitter, watcher connectivity.Watcher, m *metrics.TerminalMetrics, backoff Backoff, keepSynced time.Duration) *Manager {
	return &Manager{
		store:      store,
		ledger:     submitter,
		watcher:    watcher,
		metrics:    m,
		backoff:    backoff,
		keepSynced: keepSynced,
		kick:       make(chan string, 1),
		subs:       make(map[int]chan domain.SyncResult),
	}
}

// Trigger requests a drain. When one is already running the request is
// held until it completes; concurrent requests collapse into that one
// held drain, which keeps the label of whichever request arrived first.
func (m *Manager) Trigger(reason string) {
	select {
	case m.kick <- reason:
	default:
	}
}

// Subscribe returns a channel receiving every drain result and a cancel
// func that detaches it. The channel is never closed.
func (m *Manager) Subscribe() (<-chan domain.SyncResult, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan domain.SyncResult, 8)
	m.subs[id] = ch

	cancel := func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.subs, id)
	}
	return ch, cancel
}

// Run owns the drain loop until ctx is cancelled. It first requeues
// leftovers from a previous process, then drains on startup, on
// connectivity recovery, on explicit triggers and on the backoff timer.
func (m *Manager) Run(ctx context.Context) {
	online, cancelSub := m.watcher.Subscribe()
	defer cancelSub()

	m.recover(ctx)

	attempts := 0
	var retryC <-chan time.Time

	runDrain := func(trigger string, force bool) {
		retryC = nil
		if !force && !m.watcher.Online() {
			return
		}
		result := m.drain(ctx, trigger)
		if countRetryable(result) > 0 && m.watcher.Online() {
			attempts++
			retryC = time.After(m.backoff.Delay(attempts))
		} else {
			attempts = 0
		}
	}

	runDrain(domain.TriggerStartup, false)

	for {
		select {
		case <-ctx.Done():
			return
		case trigger := <-m.kick:
			// An operator trigger is an explicit "try now": it skips
			// both the backoff wait and the offline check, since the
			// probe result may be stale.
			runDrain(trigger, trigger == domain.TriggerManual)
		case up := <-online:
			if up {
				attempts = 0
				runDrain(domain.TriggerConnectivity, false)
			} else {
				retryC = nil
			}
		case <-retryC:
			runDrain(domain.TriggerBackoff, false)
		}
	}
}

// recover returns interrupted work to the queue: sales stuck in syncing
// when the previous process died, plus parked retryable failures.
func (m *Manager) recover(ctx context.Context) {
	for _, status := range []domain.SaleStatus{domain.StatusSyncing, domain.StatusFailed} {
		sales, err := m.store.ListByStatus(ctx, status)
		if err != nil {
			log.Printf("[sync] WARN: recovery list %s: %v", status, err)
			continue
		}
		for _, sale := range sales {
			if status == domain.StatusFailed && !sale.Retryable {
				continue
			}
			if err := m.store.Requeue(ctx, sale.LocalID); err != nil {
				log.Printf("[sync] WARN: recovery requeue %d: %v", sale.LocalID, err)
				continue
			}
			log.Printf("[sync] recovered sale %d (%s)", sale.LocalID, status)
		}
	}
}

func (m *Manager) drain(ctx context.Context, trigger string) domain.SyncResult {
	result := domain.SyncResult{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: time.Now(),
	}

	m.requeueRetryable(ctx)

	queued, err := m.store.ListByStatus(ctx, domain.StatusQueued)
	if err != nil {
		log.Printf("[sync] WARN: list queued: %v", err)
		result.FinishedAt = time.Now()
		return result
	}

	for _, sale := range queued {
		if ctx.Err() != nil {
			break
		}
		if failure := m.submitOne(ctx, sale); failure != nil {
			result.Failed++
			result.Failures = append(result.Failures, *failure)
			continue
		}
		result.Succeeded++
	}
	result.FinishedAt = time.Now()

	m.metrics.DrainSeconds.Observe(result.FinishedAt.Sub(result.StartedAt).Seconds())
	m.metrics.SalesSynced.Add(float64(result.Succeeded))
	for _, failure := range result.Failures {
		kind := "permanent"
		if failure.Retryable {
			kind = "retryable"
		}
		m.metrics.SyncFailures.WithLabelValues(kind).Inc()
	}
	if stats, err := m.store.Stats(ctx); err == nil {
		m.metrics.QueuePending.Set(float64(stats.Pending()))
	}

	m.pruneSynced(ctx)

	if len(queued) > 0 {
		log.Printf("[sync] drain %s (%s): %d synced, %d failed", result.ID, trigger, result.Succeeded, result.Failed)
	}
	m.publish(result)
	return result
}

// requeueRetryable returns parked retryable failures to the queue so this
// drain picks them up in their original position.
func (m *Manager) requeueRetryable(ctx context.Context) {
	failed, err := m.store.ListByStatus(ctx, domain.StatusFailed)
	if err != nil {
		log.Printf("[sync] WARN: list failed: %v", err)
		return
	}
	for _, sale := range failed {
		if !sale.Retryable {
			continue
		}
		if err := m.store.Requeue(ctx, sale.LocalID); err != nil {
			log.Printf("[sync] WARN: requeue %d: %v", sale.LocalID, err)
		}
	}
}

func (m *Manager) submitOne(ctx context.Context, sale domain.PendingSale) *domain.SyncFailure {
	if err := m.store.MarkSyncing(ctx, sale.LocalID); err != nil {
		log.Printf("[sync] WARN: mark syncing %d: %v", sale.LocalID, err)
		return &domain.SyncFailure{LocalID: sale.LocalID, Ref: sale.Ref, Reason: err.Error(), Retryable: true}
	}

	var req domain.SaleRequest
	if err := json.Unmarshal(sale.Payload, &req); err != nil {
		reason := "corrupt payload: " + err.Error()
		if markErr := m.store.MarkFailed(ctx, sale.LocalID, reason, false); markErr != nil {
			log.Printf("[sync] WARN: mark failed %d: %v", sale.LocalID, markErr)
		}
		return &domain.SyncFailure{LocalID: sale.LocalID, Ref: sale.Ref, Reason: reason, Retryable: false}
	}

	started := time.Now()
	receipt, err := m.ledger.SubmitSale(ctx, sale.LocalID, req)
	m.metrics.SubmitLatencyMS.Observe(float64(time.Since(started).Milliseconds()))
	if err != nil {
		retryable := !ledger.IsPermanent(err)
		if markErr := m.store.MarkFailed(ctx, sale.LocalID, err.Error(), retryable); markErr != nil {
			log.Printf("[sync] WARN: mark failed %d: %v", sale.LocalID, markErr)
		}
		log.Printf("[sync] WARN: sale %d (%s) failed: %v", sale.LocalID, sale.Ref, err)
		return &domain.SyncFailure{LocalID: sale.LocalID, Ref: sale.Ref, Reason: err.Error(), Retryable: retryable}
	}

	if err := m.store.MarkSynced(ctx, sale.LocalID, receipt.InvoiceNumber); err != nil {
		// The ledger accepted the sale; the idempotency key makes the
		// re-submission on the next drain a no-op server side.
		log.Printf("[sync] WARN: mark synced %d: %v", sale.LocalID, err)
		return &domain.SyncFailure{LocalID: sale.LocalID, Ref: sale.Ref, Reason: err.Error(), Retryable: true}
	}
	return nil
}

func (m *Manager) pruneSynced(ctx context.Context) {
	if m.keepSynced <= 0 {
		return
	}
	pruned, err := m.store.PruneSynced(ctx, time.Now().Add(-m.keepSynced))
	if err != nil {
		log.Printf("[sync] WARN: prune synced: %v", err)
		return
	}
	if pruned > 0 {
		log.Printf("[sync] pruned %d synced sales", pruned)
	}
}

func (m *Manager) publish(result domain.SyncResult) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- result:
		default:
		}
	}
}

func countRetryable(result domain.SyncResult) int {
	n := 0
	for _, failure := range result.Failures {
		if failure.Retryable {
			n++
		}
	}
	return n
}
