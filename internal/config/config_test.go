package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("LEDGER_BASE_URL", "")
	t.Setenv("SYNC_BACKOFF_BASE_MS", "")

	cfg := Load()
	if cfg.Address() != ":7373" {
		t.Fatalf("address = %q, want :7373", cfg.Address())
	}
	if cfg.LedgerBaseURL != "http://127.0.0.1:8000" {
		t.Fatalf("ledger base url = %q", cfg.LedgerBaseURL)
	}
	if cfg.BackoffBase() != time.Second {
		t.Fatalf("backoff base = %s, want 1s", cfg.BackoffBase())
	}
	if cfg.BackoffCap() != 2*time.Minute {
		t.Fatalf("backoff cap = %s, want 2m", cfg.BackoffCap())
	}
}

func TestLoadRejectsGarbageNumbers(t *testing.T) {
	t.Setenv("RATES_TTL_SECONDS", "not-a-number")
	t.Setenv("PROBE_INTERVAL_SECONDS", "-4")

	cfg := Load()
	if cfg.RatesTTL() != 300*time.Second {
		t.Fatalf("rates ttl = %s, want default 300s", cfg.RatesTTL())
	}
	if cfg.ProbeInterval() != 15*time.Second {
		t.Fatalf("probe interval = %s, want default 15s", cfg.ProbeInterval())
	}
}

func TestLoadProfileMissingFileUsesDefaults(t *testing.T) {
	p, err := LoadProfile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if p.BranchID != "branch-1" || p.BaseCurrency != "USD" || p.Currency != "USD" {
		t.Fatalf("unexpected default profile: %+v", p)
	}
	if len(p.Rules()) != 0 {
		t.Fatalf("default profile must have no promotions")
	}
}

func TestLoadProfileParsesRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terminal.yaml")
	content := `branch_id: branch-7
base_currency: USD
currency: IDR
tax_rate: 0.11
promotions:
  - id: weekend
    name: Weekend 5%
    type: cart_percent
    min_subtotal: 50
    percent: 5
    active: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if p.BranchID != "branch-7" || p.Currency != "IDR" {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if !p.TaxRateDecimal().Equal(decimal.NewFromFloat(0.11)) {
		t.Fatalf("tax rate = %s", p.TaxRateDecimal())
	}

	rules := p.Rules()
	if len(rules) != 1 {
		t.Fatalf("rules = %d, want 1", len(rules))
	}
	if rules[0].ID != "weekend" || !rules[0].Active {
		t.Fatalf("unexpected rule: %+v", rules[0])
	}
	if !rules[0].MinSubtotal.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("min subtotal = %s", rules[0].MinSubtotal)
	}
}

func TestLoadProfileRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terminal.yaml")
	if err := os.WriteFile(path, []byte("branch_id: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadProfile(path); err == nil {
		t.Fatal("expected parse error")
	}
}
