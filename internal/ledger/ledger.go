package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"warungpos/terminal/internal/currency"
	"warungpos/terminal/internal/domain"
)

// IdempotencyHeader carries the client-generated token the ledger dedups
// duplicate submissions on.
const IdempotencyHeader = "Idempotency-Key"

// ErrUnavailable wraps every transient failure: connection errors, timeouts,
// 5xx responses and an open circuit. Callers queue the sale and retry later.
var ErrUnavailable = errors.New("ledger unavailable")

// RejectionError is a 4xx refusal. Retrying the same payload cannot fix it,
// so the sale is parked for operator review instead.
type RejectionError struct {
	Status int
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("ledger rejected sale (status %d): %s", e.Status, e.Reason)
}

// IsPermanent reports whether err is a rejection no retry can fix.
func IsPermanent(err error) bool {
	var rejection *RejectionError
	return errors.As(err, &rejection)
}

type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*domain.SaleReceipt]
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[*domain.SaleReceipt](gobreaker.Settings{
		Name:        "ledger",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A 4xx is the ledger answering, not the ledger being down; only
		// transport-level failures may open the circuit.
		IsSuccessful: func(err error) bool {
			return err == nil || IsPermanent(err)
		},
	})

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
	}
}

// SubmitSale posts one sale to the ledger with localID as the idempotency
// token. The error is either a *RejectionError (permanent) or wraps
// ErrUnavailable (retryable).
func (c *Client) SubmitSale(ctx context.Context, localID int64, sale domain.SaleRequest) (*domain.SaleReceipt, error) {
	receipt, err := c.breaker.Execute(func() (*domain.SaleReceipt, error) {
		return c.submit(ctx, localID, sale)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		return nil, err
	}
	return receipt, nil
}

func (c *Client) submit(ctx context.Context, localID int64, sale domain.SaleRequest) (*domain.SaleReceipt, error) {
	body, err := json.Marshal(sale)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/pos/sales/", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyHeader, strconv.FormatInt(localID, 10))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var receipt domain.SaleReceipt
		if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
			return nil, fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
		}
		return &receipt, nil
	}

	detail := readErrorDetail(resp.Body)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, &RejectionError{Status: resp.StatusCode, Reason: detail}
	}
	return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, detail)
}

// FetchRates pulls the current exchange-rate snapshot. Failures are
// tolerable; the rate provider serves its last good snapshot instead.
func (c *Client) FetchRates(ctx context.Context) (*currency.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/pos/exchange-rates/", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var snap currency.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode rates: %w", err)
	}
	return &snap, nil
}

// Ping probes the ledger health endpoint; the connectivity prober uses it.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/pos/health/", nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("health status %d", resp.StatusCode)
}

func readErrorDetail(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4<<10))
	if err != nil || len(raw) == 0 {
		return "no detail"
	}

	var parsed struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Detail != "" {
			return parsed.Detail
		}
	}

	detail := strings.TrimSpace(string(raw))
	if len(detail) > 200 {
		detail = detail[:200]
	}
	return detail
}
