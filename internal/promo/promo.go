package promo

import (
	"sync"

	"github.com/shopspring/decimal"

	"warungpos/terminal/internal/domain"
)

const (
	TypeCartPercent = "cart_percent"
	TypeFlatCart    = "flat_cart"
)

type Rule struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	MinSubtotal decimal.Decimal `json:"min_subtotal"`
	Percent     decimal.Decimal `json:"percent"`
	Flat        decimal.Decimal `json:"flat"`
	Active      bool            `json:"active"`
}

// Resolver proposes a cart discount from the configured rule set. Proposals
// are advisory: the orchestrator may drop one in favour of a manual discount.
type Resolver struct {
	mu    sync.RWMutex
	rules []Rule
}

func NewResolver(rules []Rule) *Resolver {
	return &Resolver{rules: rules}
}

// Replace swaps the rule set, e.g. after a profile reload.
func (r *Resolver) Replace(rules []Rule) {
	r.mu.Lock()
	r.rules = rules
	r.mu.Unlock()
}

// Evaluate picks the single best applicable rule for the cart. Returns nil
// when no rule applies. The discount never exceeds the subtotal.
func (r *Resolver) Evaluate(_ []domain.CartLine, subtotal decimal.Decimal) *domain.AppliedPromotion {
	if !subtotal.IsPositive() {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *domain.AppliedPromotion
	for _, rule := range r.rules {
		if !rule.Active || subtotal.LessThan(rule.MinSubtotal) {
			continue
		}

		discount := decimal.Zero
		switch rule.Type {
		case TypeCartPercent:
			discount = subtotal.Mul(rule.Percent).Div(decimal.NewFromInt(100)).Round(2)
		case TypeFlatCart:
			discount = rule.Flat
		}
		if !discount.IsPositive() {
			continue
		}
		if discount.GreaterThan(subtotal) {
			discount = subtotal
		}

		if best == nil || discount.GreaterThan(best.Discount) {
			best = &domain.AppliedPromotion{RuleID: rule.ID, Name: rule.Name, Discount: discount}
		}
	}
	return best
}
