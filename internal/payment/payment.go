package payment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"warungpos/terminal/internal/currency"
	"warungpos/terminal/internal/domain"
)

var ErrInvalidSplit = errors.New("invalid payment split")

// Tolerance is one minor unit of a two-decimal currency. Converted split
// sums within this distance of the total reconcile.
var Tolerance = decimal.New(1, -2)

type MismatchError struct {
	Expected decimal.Decimal
	Actual   decimal.Decimal
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("split total %s does not reconcile with %s", e.Actual, e.Expected)
}

// Normalize trims split fields and lowercases methods. Currencies default to
// the transaction currency at validation time, not here.
func Normalize(splits []domain.PaymentSplit) []domain.PaymentSplit {
	normalized := make([]domain.PaymentSplit, 0, len(splits))
	for _, split := range splits {
		normalized = append(normalized, domain.PaymentSplit{
			Method:    strings.ToLower(strings.TrimSpace(split.Method)),
			Currency:  strings.ToUpper(strings.TrimSpace(split.Currency)),
			Amount:    split.Amount,
			Reference: strings.TrimSpace(split.Reference),
		})
	}
	return normalized
}

// Validate converts every split amount into the transaction currency, sums
// them, and requires the sum to land within Tolerance of the total. An empty
// split list is valid and means "single payment method".
func Validate(splits []domain.PaymentSplit, total decimal.Decimal, txnCurrency string, rates currency.Snapshot) error {
	if len(splits) == 0 {
		return nil
	}

	sum := decimal.Zero
	for i, split := range splits {
		if split.Method == "" {
			return fmt.Errorf("%w: split %d has no method", ErrInvalidSplit, i+1)
		}
		if !split.Amount.IsPositive() {
			return fmt.Errorf("%w: split %d amount must be positive", ErrInvalidSplit, i+1)
		}
		from := split.Currency
		if from == "" {
			from = txnCurrency
		}
		converted, _ := rates.Convert(split.Amount, from, txnCurrency)
		sum = sum.Add(converted)
	}

	if sum.Sub(total).Abs().GreaterThan(Tolerance) {
		return &MismatchError{Expected: total, Actual: sum}
	}
	return nil
}
