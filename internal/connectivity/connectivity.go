package connectivity

import (
	"context"
	"log"
	"sync"
	"time"
)

// Watcher reports whether the remote ledger is currently reachable and lets
// interested parties hear about transitions.
type Watcher interface {
	Online() bool
	Subscribe() (<-chan bool, func())
}

// Pinger probes the remote ledger, usually the ledger client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor is the single source of truth for the online/offline state.
// State changes arrive either from the prober or from an explicit operator
// override on the local API.
type Monitor struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]chan bool
}

func NewMonitor(initial bool) *Monitor {
	return &Monitor{
		online: initial,
		subs:   make(map[int]chan bool),
	}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records the new state. Subscribers are only notified on an actual
// transition, so repeated probes of an unchanged state stay silent.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if online == m.online {
		return
	}
	m.online = online

	for _, ch := range m.subs {
		// Slow subscribers keep only the latest state; stale
		// notifications are dropped, never blocked on.
		select {
		case ch <- online:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- online:
			default:
			}
		}
	}
}

// Subscribe returns a channel that receives each state transition and a
// cancel func that detaches the subscriber. The channel is never closed.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan bool, 1)
	m.subs[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
	return ch, cancel
}

// Prober drives a Monitor by pinging the ledger on an interval.
type Prober struct {
	monitor  *Monitor
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
}

func NewProber(monitor *Monitor, pinger Pinger, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	timeout := interval / 2
	if timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	return &Prober{
		monitor:  monitor,
		pinger:   pinger,
		interval: interval,
		timeout:  timeout,
	}
}

// Run probes once immediately, then on every tick until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	p.probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

func (p *Prober) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.pinger.Ping(probeCtx)
	online := err == nil
	if online != p.monitor.Online() {
		if online {
			log.Printf("[connectivity] ledger reachable")
		} else {
			log.Printf("[connectivity] WARN: ledger unreachable: %v", err)
		}
	}
	p.monitor.Set(online)
}
