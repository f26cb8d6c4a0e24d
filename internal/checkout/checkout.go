package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"warungpos/terminal/internal/cart"
	"warungpos/terminal/internal/connectivity"
	"warungpos/terminal/internal/currency"
	"warungpos/terminal/internal/domain"
	"warungpos/terminal/internal/ledger"
	"warungpos/terminal/internal/metrics"
	"warungpos/terminal/internal/payment"
	"warungpos/terminal/internal/promo"
	"warungpos/terminal/internal/queue"
)

var (
	ErrEmptyCart       = errors.New("cart is empty")
	ErrPaymentShort    = errors.New("payment does not cover total")
	ErrNoPaymentMethod = errors.New("payment method required")
	ErrNoPromotion     = errors.New("no promotion applies")
)

// RateSource serves the current exchange-rate snapshot.
type RateSource interface {
	Current(ctx context.Context) currency.Snapshot
}

// Submitter sends one sale to the remote ledger.
type Submitter interface {
	SubmitSale(ctx context.Context, localID int64, sale domain.SaleRequest) (*domain.SaleReceipt, error)
}

// SyncTrigger kicks the queue drain loop.
type SyncTrigger interface {
	Trigger(reason string)
}

type Config struct {
	BranchID     string
	BaseCurrency string
	Currency     string
	TaxRate      decimal.Decimal
	TerminalNode int64
}

type Deps struct {
	Rates   RateSource
	Promos  *promo.Resolver
	Queue   queue.Store
	Ledger  Submitter
	Watcher connectivity.Watcher
	Syncs   SyncTrigger
	Metrics *metrics.TerminalMetrics
}

// Orchestrator owns the one checkout session of this terminal: the cart, the
// active discount or promotion, and the submit path. A sale either commits
// against the ledger right away or lands in the durable queue; connectivity
// problems never surface as checkout failures.
type Orchestrator struct {
	cfg  Config
	deps Deps
	node *snowflake.Node

	mu           sync.Mutex
	cart         *cart.Cart
	cartDiscount decimal.Decimal
	promotion    *domain.AppliedPromotion
}

func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if cfg.Currency == "" {
		cfg.Currency = cfg.BaseCurrency
	}
	if deps.Promos == nil {
		deps.Promos = promo.NewResolver(nil)
	}
	node, err := snowflake.NewNode(cfg.TerminalNode)
	if err != nil {
		return nil, fmt.Errorf("terminal node %d: %w", cfg.TerminalNode, err)
	}
	return &Orchestrator{
		cfg:  cfg,
		deps: deps,
		node: node,
		cart: cart.New(),
	}, nil
}

func (o *Orchestrator) AddItem(req domain.AddItemRequest) (*domain.CartView, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.cart.AddItem(req.Product, req.Quantity, req.SerialNumbers); err != nil {
		return nil, err
	}
	o.refreshPromotionLocked()
	return o.viewLocked(), nil
}

func (o *Orchestrator) UpdateLine(productID string, patch domain.LineUpdateRequest) (*domain.CartView, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.cart.UpdateLine(productID, patch); err != nil {
		return nil, err
	}
	o.refreshPromotionLocked()
	return o.viewLocked(), nil
}

func (o *Orchestrator) RemoveLine(productID string) *domain.CartView {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.cart.RemoveLine(productID)
	o.refreshPromotionLocked()
	return o.viewLocked()
}

// SetManualDiscount replaces any applied promotion; cashier judgment wins
// over rule-derived discounts.
func (o *Orchestrator) SetManualDiscount(amount decimal.Decimal) (*domain.CartView, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if amount.IsNegative() {
		return nil, cart.ErrInvalidDiscount
	}
	o.cartDiscount = amount
	o.promotion = nil
	return o.viewLocked(), nil
}

// ApplyPromotion evaluates the configured rules against the current cart and
// applies the best one, clearing any manual discount.
func (o *Orchestrator) ApplyPromotion() (*domain.CartView, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	proposal := o.deps.Promos.Evaluate(o.cart.Lines(), o.cart.Subtotal())
	if proposal == nil {
		return nil, ErrNoPromotion
	}
	o.promotion = proposal
	o.cartDiscount = decimal.Zero
	return o.viewLocked(), nil
}

func (o *Orchestrator) ClearCart() *domain.CartView {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.resetSessionLocked()
	return o.viewLocked()
}

// View returns the cart and its totals with no tender applied.
func (o *Orchestrator) View(ctx context.Context) (*domain.CartView, domain.Totals) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.viewLocked(), o.totalsLocked(ctx, decimal.Zero)
}

// Totals previews totals and change for a candidate tender amount.
func (o *Orchestrator) Totals(ctx context.Context, amountPaid decimal.Decimal) domain.Totals {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.totalsLocked(ctx, amountPaid)
}

// SubmitSale validates the tender, then either commits the sale against the
// ledger or queues it. The cart survives validation failures untouched and is
// cleared only once the sale has a definitive outcome: committed or durably
// queued.
func (o *Orchestrator) SubmitSale(ctx context.Context, pay domain.PaymentRequest) (*domain.CheckoutOutcome, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cart.Len() == 0 {
		return nil, ErrEmptyCart
	}
	method := strings.ToLower(strings.TrimSpace(pay.Method))
	if method == "" {
		if len(pay.Splits) == 0 {
			return nil, ErrNoPaymentMethod
		}
		method = "split"
	}

	snap := o.deps.Rates.Current(ctx)
	totals := o.computeTotalsLocked(snap, pay.AmountPaid)

	if len(pay.Splits) > 0 {
		pay.Splits = payment.Normalize(pay.Splits)
		if err := payment.Validate(pay.Splits, totals.Total, o.cfg.Currency, snap); err != nil {
			return nil, err
		}
		// Reconciled splits cover the total exactly; per-split change
		// does not exist.
		totals.AmountPaid = totals.Total
		totals.Change = decimal.Zero
	} else if totals.AmountPaid.LessThan(totals.Total) {
		return nil, ErrPaymentShort
	}

	localID := o.node.Generate().Int64()
	ref := "pos-" + uuid.NewString()
	sale := o.buildSaleRequestLocked(pay, method, totals, snap)

	if o.deps.Watcher.Online() {
		receipt, err := o.deps.Ledger.SubmitSale(ctx, localID, sale)
		if err == nil {
			o.resetSessionLocked()
			return &domain.CheckoutOutcome{
				InvoiceNumber: receipt.InvoiceNumber,
				ServerID:      receipt.ID,
				Date:          receipt.Date,
				Totals:        totals,
			}, nil
		}
		log.Printf("[checkout] WARN: immediate submit failed, queueing sale: %v", err)
		return o.enqueueLocked(ctx, localID, ref, sale, totals, err)
	}
	return o.enqueueLocked(ctx, localID, ref, sale, totals, nil)
}

// enqueueLocked writes the sale durably and hands back the provisional
// outcome. Only a broken local store makes this fail, and then the cart is
// kept so the cashier can retry.
func (o *Orchestrator) enqueueLocked(ctx context.Context, localID int64, ref string, sale domain.SaleRequest, totals domain.Totals, submitErr error) (*domain.CheckoutOutcome, error) {
	payload, err := json.Marshal(sale)
	if err != nil {
		return nil, fmt.Errorf("encode sale: %w", err)
	}

	queued, err := o.deps.Queue.Enqueue(ctx, domain.PendingSale{
		LocalID: localID,
		Ref:     ref,
		Payload: payload,
	})
	if err != nil {
		return nil, fmt.Errorf("queue sale: %w", err)
	}
	o.deps.Metrics.SalesQueued.Inc()
	if stats, statsErr := o.deps.Queue.Stats(ctx); statsErr == nil {
		o.deps.Metrics.QueuePending.Set(float64(stats.Pending()))
	}

	switch {
	case submitErr != nil && ledger.IsPermanent(submitErr):
		// The ledger already rejected this payload; park it for operator
		// review instead of letting the drain retry a hopeless record.
		o.parkRejectedLocked(ctx, localID, submitErr)
	case submitErr != nil:
		o.deps.Syncs.Trigger(domain.TriggerEnqueue)
	}

	o.resetSessionLocked()
	return &domain.CheckoutOutcome{
		Offline: true,
		LocalID: queued.LocalID,
		Ref:     queued.Ref,
		Totals:  totals,
	}, nil
}

func (o *Orchestrator) parkRejectedLocked(ctx context.Context, localID int64, submitErr error) {
	if err := o.deps.Queue.MarkSyncing(ctx, localID); err != nil {
		log.Printf("[checkout] WARN: park rejected sale %d: %v", localID, err)
		return
	}
	if err := o.deps.Queue.MarkFailed(ctx, localID, submitErr.Error(), false); err != nil {
		log.Printf("[checkout] WARN: park rejected sale %d: %v", localID, err)
	}
}

func (o *Orchestrator) buildSaleRequestLocked(pay domain.PaymentRequest, method string, totals domain.Totals, snap currency.Snapshot) domain.SaleRequest {
	lines := o.cart.Lines()
	items := make([]domain.SaleItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.SaleItem{
			ProductID:      line.ProductID,
			Quantity:       line.Quantity,
			UnitPrice:      line.UnitPrice,
			DiscountAmount: line.Discount,
			SerialNumbers:  line.SerialNumbers,
		})
	}

	sale := domain.SaleRequest{
		BranchID:       o.cfg.BranchID,
		CustomerID:     pay.CustomerID,
		Items:          items,
		PaymentMethod:  method,
		Currency:       o.cfg.Currency,
		AmountPaid:     totals.AmountPaid,
		DiscountAmount: o.effectiveDiscountLocked(),
		PaymentSplits:  pay.Splits,
	}
	if o.cfg.Currency != o.cfg.BaseCurrency {
		if rate, ok := snap.Rate(o.cfg.Currency); ok {
			sale.ExchangeRate = &rate
		}
	}
	return sale
}

func (o *Orchestrator) computeTotalsLocked(snap currency.Snapshot, amountPaid decimal.Decimal) domain.Totals {
	return cart.ComputeTotals(o.cart.Lines(), cart.TotalsInput{
		BaseCurrency: o.cfg.BaseCurrency,
		Currency:     o.cfg.Currency,
		TaxRate:      o.cfg.TaxRate,
		CartDiscount: o.effectiveDiscountLocked(),
		Rates:        snap,
		AmountPaid:   amountPaid,
	})
}

func (o *Orchestrator) totalsLocked(ctx context.Context, amountPaid decimal.Decimal) domain.Totals {
	return o.computeTotalsLocked(o.deps.Rates.Current(ctx), amountPaid)
}

// effectiveDiscountLocked is the cart-level discount in base currency:
// the applied promotion when one is active, the manual amount otherwise.
// The two never stack.
func (o *Orchestrator) effectiveDiscountLocked() decimal.Decimal {
	if o.promotion != nil {
		return o.promotion.Discount
	}
	return o.cartDiscount
}

// refreshPromotionLocked recomputes an applied promotion after the cart
// changed; a cart that no longer qualifies loses it.
func (o *Orchestrator) refreshPromotionLocked() {
	if o.promotion == nil {
		return
	}
	o.promotion = o.deps.Promos.Evaluate(o.cart.Lines(), o.cart.Subtotal())
}

func (o *Orchestrator) resetSessionLocked() {
	o.cart.Clear()
	o.cartDiscount = decimal.Zero
	o.promotion = nil
}

func (o *Orchestrator) viewLocked() *domain.CartView {
	view := &domain.CartView{
		Lines:        o.cart.Lines(),
		CartDiscount: o.cartDiscount,
		Currency:     o.cfg.Currency,
		TaxRate:      o.cfg.TaxRate,
	}
	if o.promotion != nil {
		applied := *o.promotion
		view.Promotion = &applied
	}
	return view
}
