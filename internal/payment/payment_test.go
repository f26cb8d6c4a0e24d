package payment

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"warungpos/terminal/internal/currency"
	"warungpos/terminal/internal/domain"
)

func usdRates() currency.Snapshot {
	return currency.Snapshot{
		Base:  "USD",
		Rates: map[string]decimal.Decimal{"IDR": decimal.NewFromInt(16000)},
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize([]domain.PaymentSplit{{
		Method:    "  QRIS ",
		Currency:  "idr",
		Amount:    decimal.NewFromInt(5),
		Reference: " trx-1 ",
	}})

	if got[0].Method != "qris" {
		t.Fatalf("expected lowercased method, got %q", got[0].Method)
	}
	if got[0].Currency != "IDR" {
		t.Fatalf("expected uppercased currency, got %q", got[0].Currency)
	}
	if got[0].Reference != "trx-1" {
		t.Fatalf("expected trimmed reference, got %q", got[0].Reference)
	}
}

func TestValidateEmptySplits(t *testing.T) {
	if err := Validate(nil, decimal.NewFromInt(10), "USD", usdRates()); err != nil {
		t.Fatalf("no splits means single payment, got %v", err)
	}
}

func TestValidateRejectsMissingMethod(t *testing.T) {
	splits := []domain.PaymentSplit{{Amount: decimal.NewFromInt(10)}}
	err := Validate(splits, decimal.NewFromInt(10), "USD", usdRates())
	if !errors.Is(err, ErrInvalidSplit) {
		t.Fatalf("expected ErrInvalidSplit, got %v", err)
	}
}

func TestValidateRejectsNonPositiveAmount(t *testing.T) {
	splits := []domain.PaymentSplit{{Method: "cash", Amount: decimal.Zero}}
	err := Validate(splits, decimal.NewFromInt(10), "USD", usdRates())
	if !errors.Is(err, ErrInvalidSplit) {
		t.Fatalf("expected ErrInvalidSplit, got %v", err)
	}
}

func TestValidateReconciles(t *testing.T) {
	splits := []domain.PaymentSplit{
		{Method: "cash", Amount: decimal.NewFromInt(13)},
		{Method: "card", Amount: decimal.NewFromInt(10)},
	}
	if err := Validate(splits, decimal.NewFromInt(23), "USD", usdRates()); err != nil {
		t.Fatalf("expected reconciliation, got %v", err)
	}
}

func TestValidateToleratesOneMinorUnit(t *testing.T) {
	splits := []domain.PaymentSplit{
		{Method: "cash", Amount: decimal.NewFromInt(13)},
		{Method: "card", Amount: decimal.RequireFromString("9.99")},
	}
	if err := Validate(splits, decimal.NewFromInt(23), "USD", usdRates()); err != nil {
		t.Fatalf("one cent under should reconcile, got %v", err)
	}

	splits[1].Amount = decimal.RequireFromString("9.98")
	err := Validate(splits, decimal.NewFromInt(23), "USD", usdRates())

	var mismatch *MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected MismatchError, got %v", err)
	}
	if !mismatch.Expected.Equal(decimal.NewFromInt(23)) || !mismatch.Actual.Equal(decimal.RequireFromString("22.98")) {
		t.Fatalf("expected mismatch 23 vs 22.98, got %+v", mismatch)
	}
}

func TestValidateConvertsBaseCurrencySplit(t *testing.T) {
	// An IDR transaction paid partly with a USD note at 16000.
	splits := []domain.PaymentSplit{
		{Method: "cash", Currency: "USD", Amount: decimal.NewFromInt(1)},
		{Method: "qris", Amount: decimal.NewFromInt(8000)},
	}
	if err := Validate(splits, decimal.NewFromInt(24000), "IDR", usdRates()); err != nil {
		t.Fatalf("expected converted reconciliation, got %v", err)
	}
}

func TestValidateDefaultsSplitCurrency(t *testing.T) {
	splits := []domain.PaymentSplit{{Method: "cash", Amount: decimal.NewFromInt(10)}}
	if err := Validate(splits, decimal.NewFromInt(10), "IDR", usdRates()); err != nil {
		t.Fatalf("blank split currency must inherit the transaction currency, got %v", err)
	}
}
