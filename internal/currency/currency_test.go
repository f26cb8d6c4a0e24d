package currency

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestConvertIdentity(t *testing.T) {
	snap := Snapshot{Base: "USD"}

	got, ok := snap.Convert(decimal.NewFromInt(15), "USD", "USD")
	if !ok {
		t.Fatalf("identity conversion must always succeed")
	}
	if !got.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("expected 15, got %s", got)
	}
}

func TestConvertAppliesRate(t *testing.T) {
	snap := Snapshot{
		Base:  "USD",
		Rates: map[string]decimal.Decimal{"IDR": decimal.NewFromInt(16000)},
	}

	got, ok := snap.Convert(decimal.RequireFromString("1.5"), "USD", "IDR")
	if !ok {
		t.Fatalf("expected known rate")
	}
	if !got.Equal(decimal.NewFromInt(24000)) {
		t.Fatalf("expected 24000, got %s", got)
	}
}

func TestConvertMissingRatePassesThrough(t *testing.T) {
	snap := Snapshot{
		Base:  "USD",
		Rates: map[string]decimal.Decimal{"IDR": decimal.NewFromInt(16000)},
	}

	got, ok := snap.Convert(decimal.NewFromInt(15), "USD", "EUR")
	if ok {
		t.Fatalf("missing rate must report ok=false")
	}
	if !got.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("missing rate must return the amount unchanged, got %s", got)
	}
}

func TestConvertNilRateTable(t *testing.T) {
	snap := Snapshot{Base: "USD"}

	if _, ok := snap.Convert(decimal.NewFromInt(1), "USD", "IDR"); ok {
		t.Fatalf("empty table must degrade, not convert")
	}
}

func TestRate(t *testing.T) {
	snap := Snapshot{Rates: map[string]decimal.Decimal{"IDR": decimal.NewFromInt(16000)}}

	if rate, ok := snap.Rate("IDR"); !ok || !rate.Equal(decimal.NewFromInt(16000)) {
		t.Fatalf("expected 16000, got %s (ok=%v)", rate, ok)
	}
	if _, ok := snap.Rate("EUR"); ok {
		t.Fatalf("unknown currency must not report a rate")
	}
}
