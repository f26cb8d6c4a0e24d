package cart

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"warungpos/terminal/internal/currency"
	"warungpos/terminal/internal/domain"
)

var (
	ErrInvalidProduct  = errors.New("invalid product")
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrInvalidPrice    = errors.New("invalid unit price")
	ErrInvalidDiscount = errors.New("invalid discount")
	ErrUnknownLine     = errors.New("line not in cart")

	// ErrSerialsRequired is a capture signal, not a failure: the caller must
	// re-invoke with one serial number per unit. Nothing is mutated when it
	// is returned.
	ErrSerialsRequired = errors.New("serial numbers required")
)

// Cart owns the line items of the active checkout session. One line per
// product; insertion order is preserved for display and submission.
type Cart struct {
	lines map[string]*domain.CartLine
	order []string
}

func New() *Cart {
	return &Cart{lines: make(map[string]*domain.CartLine)}
}

// AddItem merges into an existing line (summing quantity, concatenating
// serials) or opens a new line at the product's current price. Products that
// require serial tracking must arrive with exactly one serial per unit,
// otherwise ErrSerialsRequired is returned and the cart is untouched.
func (c *Cart) AddItem(product domain.Product, quantity int, serials []string) error {
	if strings.TrimSpace(product.ID) == "" {
		return ErrInvalidProduct
	}
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	if product.UnitPrice.IsNegative() {
		return ErrInvalidPrice
	}
	serials = cleanSerials(serials)

	if existing, ok := c.lines[product.ID]; ok {
		newQty := existing.Quantity + quantity
		merged := append(append([]string{}, existing.SerialNumbers...), serials...)
		if existing.RequiresSerials && len(merged) != newQty {
			return ErrSerialsRequired
		}
		existing.Quantity = newQty
		existing.SerialNumbers = merged
		return nil
	}

	if product.RequiresSerials && len(serials) != quantity {
		return ErrSerialsRequired
	}

	c.lines[product.ID] = &domain.CartLine{
		ProductID:       product.ID,
		Name:            product.Name,
		Quantity:        quantity,
		UnitPrice:       product.UnitPrice,
		Discount:        decimal.Zero,
		SerialNumbers:   serials,
		RequiresSerials: product.RequiresSerials,
	}
	c.order = append(c.order, product.ID)
	return nil
}

// UpdateLine applies a partial update and revalidates the line. The update
// is all-or-nothing: on any validation failure the line keeps its previous
// state.
func (c *Cart) UpdateLine(productID string, patch domain.LineUpdateRequest) error {
	existing, ok := c.lines[productID]
	if !ok {
		return ErrUnknownLine
	}

	next := *existing
	if patch.Quantity != nil {
		next.Quantity = *patch.Quantity
	}
	if patch.UnitPrice != nil {
		next.UnitPrice = *patch.UnitPrice
	}
	if patch.Discount != nil {
		next.Discount = *patch.Discount
	}
	if patch.SerialNumbers != nil {
		next.SerialNumbers = cleanSerials(*patch.SerialNumbers)
	}

	if next.Quantity < 1 {
		return ErrInvalidQuantity
	}
	if next.UnitPrice.IsNegative() {
		return ErrInvalidPrice
	}
	lineGross := next.UnitPrice.Mul(decimal.NewFromInt(int64(next.Quantity)))
	if next.Discount.IsNegative() || next.Discount.GreaterThan(lineGross) {
		return ErrInvalidDiscount
	}
	if next.RequiresSerials && len(next.SerialNumbers) != next.Quantity {
		return ErrSerialsRequired
	}

	*existing = next
	return nil
}

func (c *Cart) RemoveLine(productID string) {
	if _, ok := c.lines[productID]; !ok {
		return
	}
	delete(c.lines, productID)
	for i, id := range c.order {
		if id == productID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Cart) Clear() {
	c.lines = make(map[string]*domain.CartLine)
	c.order = nil
}

func (c *Cart) Len() int {
	return len(c.lines)
}

// Lines returns the cart lines in insertion order. The slice and its
// elements are copies.
func (c *Cart) Lines() []domain.CartLine {
	lines := make([]domain.CartLine, 0, len(c.order))
	for _, id := range c.order {
		line := *c.lines[id]
		line.SerialNumbers = append([]string(nil), line.SerialNumbers...)
		lines = append(lines, line)
	}
	return lines
}

// Subtotal sums line totals in the tenant base currency.
func (c *Cart) Subtotal() decimal.Decimal {
	return SumLines(c.Lines())
}

func LineTotal(line domain.CartLine) decimal.Decimal {
	gross := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
	return gross.Sub(line.Discount)
}

func SumLines(lines []domain.CartLine) decimal.Decimal {
	sum := decimal.Zero
	for _, line := range lines {
		sum = sum.Add(LineTotal(line))
	}
	return sum
}

type TotalsInput struct {
	BaseCurrency string
	Currency     string
	TaxRate      decimal.Decimal
	CartDiscount decimal.Decimal
	Rates        currency.Snapshot
	AmountPaid   decimal.Decimal
}

// ComputeTotals is a pure function over the given lines: no cart state is
// read or written. The subtotal is converted into the display currency
// before tax, so tax applies to the converted amount. The total is clamped
// at zero; change goes negative when the tender is short.
func ComputeTotals(lines []domain.CartLine, in TotalsInput) domain.Totals {
	subtotal, subOK := in.Rates.Convert(SumLines(lines), in.BaseCurrency, in.Currency)
	discount, discOK := in.Rates.Convert(in.CartDiscount, in.BaseCurrency, in.Currency)

	tax := subtotal.Mul(in.TaxRate).Round(2)
	total := subtotal.Add(tax).Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return domain.Totals{
		Currency:    in.Currency,
		Subtotal:    subtotal,
		Tax:         tax,
		Discount:    discount,
		Total:       total,
		AmountPaid:  in.AmountPaid,
		Change:      in.AmountPaid.Sub(total),
		RateMissing: !subOK || !discOK,
	}
}

func cleanSerials(serials []string) []string {
	cleaned := make([]string, 0, len(serials))
	for _, s := range serials {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		cleaned = append(cleaned, s)
	}
	return cleaned
}
