package promo

import (
	"testing"

	"github.com/shopspring/decimal"
)

func percentRule(id string, min, pct int64) Rule {
	return Rule{
		ID:          id,
		Name:        "rule " + id,
		Type:        TypeCartPercent,
		MinSubtotal: decimal.NewFromInt(min),
		Percent:     decimal.NewFromInt(pct),
		Active:      true,
	}
}

func flatRule(id string, min, flat int64) Rule {
	return Rule{
		ID:          id,
		Name:        "rule " + id,
		Type:        TypeFlatCart,
		MinSubtotal: decimal.NewFromInt(min),
		Flat:        decimal.NewFromInt(flat),
		Active:      true,
	}
}

func TestEvaluateEmptyCart(t *testing.T) {
	resolver := NewResolver([]Rule{percentRule("pct10", 0, 10)})

	if got := resolver.Evaluate(nil, decimal.Zero); got != nil {
		t.Fatalf("expected no promotion on an empty cart, got %+v", got)
	}
}

func TestEvaluateMinSubtotalGate(t *testing.T) {
	resolver := NewResolver([]Rule{percentRule("pct10", 20, 10)})

	if got := resolver.Evaluate(nil, decimal.NewFromInt(19)); got != nil {
		t.Fatalf("expected no promotion under the minimum, got %+v", got)
	}

	got := resolver.Evaluate(nil, decimal.NewFromInt(20))
	if got == nil {
		t.Fatalf("expected promotion at the minimum")
	}
	if !got.Discount.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected discount 2, got %s", got.Discount)
	}
}

func TestEvaluateSkipsInactiveRules(t *testing.T) {
	rule := percentRule("pct10", 0, 10)
	rule.Active = false
	resolver := NewResolver([]Rule{rule})

	if got := resolver.Evaluate(nil, decimal.NewFromInt(100)); got != nil {
		t.Fatalf("inactive rule must not apply, got %+v", got)
	}
}

func TestEvaluatePicksLargestDiscount(t *testing.T) {
	resolver := NewResolver([]Rule{
		percentRule("pct10", 0, 10),
		flatRule("flat15", 0, 15),
	})

	// Subtotal 100: 10% gives 10, the flat rule gives 15.
	got := resolver.Evaluate(nil, decimal.NewFromInt(100))
	if got == nil || got.RuleID != "flat15" {
		t.Fatalf("expected flat15 to win, got %+v", got)
	}

	// Subtotal 200: 10% gives 20 and overtakes the flat 15.
	got = resolver.Evaluate(nil, decimal.NewFromInt(200))
	if got == nil || got.RuleID != "pct10" {
		t.Fatalf("expected pct10 to win, got %+v", got)
	}
}

func TestEvaluateCapsDiscountAtSubtotal(t *testing.T) {
	resolver := NewResolver([]Rule{flatRule("flat50", 0, 50)})

	got := resolver.Evaluate(nil, decimal.NewFromInt(30))
	if got == nil {
		t.Fatalf("expected promotion")
	}
	if !got.Discount.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("discount must not exceed the subtotal, got %s", got.Discount)
	}
}

func TestEvaluateRoundsPercentDiscount(t *testing.T) {
	resolver := NewResolver([]Rule{percentRule("pct15", 0, 15)})

	// 15% of 33.33 is 4.9995, rounded to 5.00.
	got := resolver.Evaluate(nil, decimal.RequireFromString("33.33"))
	if got == nil {
		t.Fatalf("expected promotion")
	}
	if !got.Discount.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected rounded discount 5, got %s", got.Discount)
	}
}

func TestReplaceSwapsRules(t *testing.T) {
	resolver := NewResolver([]Rule{percentRule("old", 0, 10)})
	resolver.Replace([]Rule{percentRule("new", 0, 20)})

	got := resolver.Evaluate(nil, decimal.NewFromInt(100))
	if got == nil || got.RuleID != "new" {
		t.Fatalf("expected replaced rule set to apply, got %+v", got)
	}
}
