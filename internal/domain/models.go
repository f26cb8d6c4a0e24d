package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Product carries the catalog fields the terminal needs to price a line.
// Catalog lookup itself happens on the server; the UI shell sends the
// descriptor along with the add-item request.
type Product struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	RequiresSerials bool            `json:"requires_serials"`
}

type CartLine struct {
	ProductID       string          `json:"product_id"`
	Name            string          `json:"name"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Discount        decimal.Decimal `json:"discount"`
	SerialNumbers   []string        `json:"serial_numbers,omitempty"`
	RequiresSerials bool            `json:"requires_serials"`
}

type AppliedPromotion struct {
	RuleID   string          `json:"rule_id"`
	Name     string          `json:"name"`
	Discount decimal.Decimal `json:"discount"`
}

type CartView struct {
	Lines        []CartLine        `json:"lines"`
	CartDiscount decimal.Decimal   `json:"cart_discount"`
	Promotion    *AppliedPromotion `json:"promotion,omitempty"`
	Currency     string            `json:"currency"`
	TaxRate      decimal.Decimal   `json:"tax_rate"`
}

// Totals is the result of the pure cart computation. RateMissing is set when
// a cross-currency amount could not be converted because the rate snapshot
// had no entry for the target currency; the amounts are then unconverted.
type Totals struct {
	Currency    string          `json:"currency"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total"`
	AmountPaid  decimal.Decimal `json:"amount_paid"`
	Change      decimal.Decimal `json:"change"`
	RateMissing bool            `json:"rate_missing,omitempty"`
}

type PaymentSplit struct {
	Method    string          `json:"method"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
}

type AddItemRequest struct {
	Product       Product  `json:"product"`
	Quantity      int      `json:"quantity"`
	SerialNumbers []string `json:"serial_numbers,omitempty"`
}

type LineUpdateRequest struct {
	Quantity      *int             `json:"quantity,omitempty"`
	UnitPrice     *decimal.Decimal `json:"unit_price,omitempty"`
	Discount      *decimal.Decimal `json:"discount,omitempty"`
	SerialNumbers *[]string        `json:"serial_numbers,omitempty"`
}

type CartDiscountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type PaymentRequest struct {
	Method     string          `json:"method"`
	AmountPaid decimal.Decimal `json:"amount_paid"`
	Reference  string          `json:"reference,omitempty"`
	Splits     []PaymentSplit  `json:"splits,omitempty"`
	CustomerID string          `json:"customer_id,omitempty"`
}

// CheckoutOutcome is what submitSale hands back to the cashier. Offline
// outcomes carry the provisional ref and local id instead of an invoice
// number; the invoice arrives later through the sync result stream.
type CheckoutOutcome struct {
	Offline       bool   `json:"offline"`
	LocalID       int64  `json:"local_id,omitempty"`
	Ref           string `json:"ref,omitempty"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
	ServerID      string `json:"server_id,omitempty"`
	Date          string `json:"date,omitempty"`
	Totals        Totals `json:"totals"`
}

// SaleItem and SaleRequest mirror the remote ledger wire contract for
// POST /pos/sales/.
type SaleItem struct {
	ProductID      string          `json:"product_id"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	SerialNumbers  []string        `json:"serial_numbers,omitempty"`
}

type SaleRequest struct {
	BranchID       string           `json:"branch_id"`
	CustomerID     string           `json:"customer_id,omitempty"`
	Items          []SaleItem       `json:"items"`
	PaymentMethod  string           `json:"payment_method"`
	Currency       string           `json:"currency"`
	ExchangeRate   *decimal.Decimal `json:"exchange_rate,omitempty"`
	AmountPaid     decimal.Decimal  `json:"amount_paid"`
	DiscountAmount decimal.Decimal  `json:"discount_amount"`
	PaymentSplits  []PaymentSplit   `json:"payment_splits,omitempty"`
}

type SaleReceipt struct {
	InvoiceNumber string `json:"invoice_number"`
	ID            string `json:"id"`
	Date          string `json:"date"`
}

type SaleStatus string

const (
	StatusQueued  SaleStatus = "queued"
	StatusSyncing SaleStatus = "syncing"
	StatusSynced  SaleStatus = "synced"
	StatusFailed  SaleStatus = "failed"
)

// PendingSale is one durably queued sale awaiting submission. Failed records
// are never deleted; they stay visible for operator review. Retryable is only
// meaningful while Status is StatusFailed.
type PendingSale struct {
	LocalID       int64           `json:"local_id"`
	Ref           string          `json:"ref"`
	Payload       json.RawMessage `json:"payload"`
	Status        SaleStatus      `json:"status"`
	Retryable     bool            `json:"retryable"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"last_error,omitempty"`
	InvoiceNumber string          `json:"invoice_number,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type QueueStats struct {
	Queued          int `json:"queued"`
	Syncing         int `json:"syncing"`
	Synced          int `json:"synced"`
	FailedRetryable int `json:"failed_retryable"`
	FailedPermanent int `json:"failed_permanent"`
}

// Pending counts the records that will still reach the ledger without
// operator action.
func (s QueueStats) Pending() int {
	return s.Queued + s.Syncing + s.FailedRetryable
}

type SyncFailure struct {
	LocalID   int64  `json:"local_id"`
	Ref       string `json:"ref,omitempty"`
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable"`
}

type SyncResult struct {
	ID         string        `json:"id"`
	Trigger    string        `json:"trigger"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Failures   []SyncFailure `json:"failures,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

type ConnectivityRequest struct {
	Online bool `json:"online"`
}

const (
	TriggerStartup      = "startup"
	TriggerConnectivity = "connectivity"
	TriggerManual       = "manual"
	TriggerBackoff      = "backoff"
	TriggerEnqueue      = "enqueue"
)
