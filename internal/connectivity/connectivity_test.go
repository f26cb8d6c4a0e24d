package connectivity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMonitorDedupsRepeatedStates(t *testing.T) {
	m := NewMonitor(true)
	events, cancel := m.Subscribe()
	defer cancel()

	m.Set(true)
	m.Set(true)
	select {
	case got := <-events:
		t.Fatalf("unexpected notification %v for unchanged state", got)
	default:
	}

	m.Set(false)
	select {
	case got := <-events:
		if got {
			t.Fatal("expected offline notification")
		}
	case <-time.After(time.Second):
		t.Fatal("no notification for transition")
	}
	if m.Online() {
		t.Fatal("monitor should report offline")
	}
}

func TestMonitorSlowSubscriberKeepsLatest(t *testing.T) {
	m := NewMonitor(false)
	events, cancel := m.Subscribe()
	defer cancel()

	// Nobody reads between transitions; only the newest state survives.
	m.Set(true)
	m.Set(false)
	m.Set(true)

	select {
	case got := <-events:
		if !got {
			t.Fatal("expected latest state true")
		}
	case <-time.After(time.Second):
		t.Fatal("no notification delivered")
	}
}

func TestMonitorCancelDetaches(t *testing.T) {
	m := NewMonitor(false)
	events, cancel := m.Subscribe()
	cancel()
	cancel()

	m.Set(true)
	select {
	case got := <-events:
		t.Fatalf("cancelled subscriber received %v", got)
	default:
	}
}

type scriptedPinger struct {
	mu   sync.Mutex
	errs []error
	idx  int
}

func (p *scriptedPinger) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.idx >= len(p.errs) {
		return p.errs[len(p.errs)-1]
	}
	err := p.errs[p.idx]
	p.idx++
	return err
}

func TestProberDrivesMonitor(t *testing.T) {
	m := NewMonitor(true)
	pinger := &scriptedPinger{errs: []error{errors.New("conn refused"), nil}}
	prober := NewProber(m, pinger, 10*time.Millisecond)

	events, cancelSub := m.Subscribe()
	defer cancelSub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go prober.Run(ctx)

	select {
	case got := <-events:
		if got {
			t.Fatal("expected offline after failed probe")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("prober never reported offline")
	}

	select {
	case got := <-events:
		if !got {
			t.Fatal("expected online after successful probe")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("prober never reported recovery")
	}
}
