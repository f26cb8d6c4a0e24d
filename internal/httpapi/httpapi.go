package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"warungpos/terminal/internal/cart"
	"warungpos/terminal/internal/checkout"
	"warungpos/terminal/internal/connectivity"
	"warungpos/terminal/internal/domain"
	"warungpos/terminal/internal/metrics"
	"warungpos/terminal/internal/payment"
	"warungpos/terminal/internal/queue"
	"warungpos/terminal/internal/syncer"
)

// API is the local HTTP surface the UI shell talks to. It listens on
// loopback only; the terminal trusts its own shell.
type API struct {
	checkout *checkout.Orchestrator
	queue    queue.Store
	syncs    *syncer.Manager
	monitor  *connectivity.Monitor
	metrics  *metrics.TerminalMetrics
}

func New(orch *checkout.Orchestrator, store queue.Store, syncs *syncer.Manager, monitor *connectivity.Monitor, m *metrics.TerminalMetrics) *API {
	return &API{
		checkout: orch,
		queue:    store,
		syncs:    syncs,
		monitor:  monitor,
		metrics:  m,
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(a.withObservability)

	r.Get("/healthz", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", a.handleCartView)
			r.Delete("/", a.handleCartClear)
			r.Post("/items", a.handleAddItem)
			r.Patch("/items/{productID}", a.handleUpdateLine)
			r.Delete("/items/{productID}", a.handleRemoveLine)
			r.Post("/discount", a.handleManualDiscount)
			r.Post("/promotion", a.handleApplyPromotion)
		})
		r.Post("/checkout", a.handleCheckout)
		r.Route("/sync", func(r chi.Router) {
			r.Get("/pending", a.handlePending)
			r.Post("/trigger", a.handleTrigger)
			r.Get("/events", a.handleSyncEvents)
			r.Post("/requeue/{localID}", a.handleRequeue)
		})
		r.Post("/connectivity", a.handleConnectivity)
	})

	return r
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"online": a.monitor.Online(),
	})
}

func (a *API) handleCartView(w http.ResponseWriter, r *http.Request) {
	view, totals := a.checkout.View(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"cart": view, "totals": totals})
}

func (a *API) handleCartClear(w http.ResponseWriter, r *http.Request) {
	view := a.checkout.ClearCart()
	writeJSON(w, http.StatusOK, map[string]any{"cart": view})
}

func (a *API) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req domain.AddItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	view, err := a.checkout.AddItem(req)
	if err != nil {
		a.writeCartError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": view})
}

func (a *API) handleUpdateLine(w http.ResponseWriter, r *http.Request) {
	var patch domain.LineUpdateRequest
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	view, err := a.checkout.UpdateLine(chi.URLParam(r, "productID"), patch)
	if err != nil {
		a.writeCartError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": view})
}

func (a *API) handleRemoveLine(w http.ResponseWriter, r *http.Request) {
	view := a.checkout.RemoveLine(chi.URLParam(r, "productID"))
	writeJSON(w, http.StatusOK, map[string]any{"cart": view})
}

func (a *API) handleManualDiscount(w http.ResponseWriter, r *http.Request) {
	var req domain.CartDiscountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	view, err := a.checkout.SetManualDiscount(req.Amount)
	if err != nil {
		a.writeCartError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": view})
}

func (a *API) handleApplyPromotion(w http.ResponseWriter, r *http.Request) {
	view, err := a.checkout.ApplyPromotion()
	if err != nil {
		if errors.Is(err, checkout.ErrNoPromotion) {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": view})
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	outcome, err := a.checkout.SubmitSale(r.Context(), req)
	if err != nil {
		var mismatch *payment.MismatchError
		switch {
		case errors.Is(err, checkout.ErrEmptyCart),
			errors.Is(err, checkout.ErrNoPaymentMethod),
			errors.Is(err, checkout.ErrPaymentShort),
			errors.Is(err, payment.ErrInvalidSplit):
			writeError(w, http.StatusBadRequest, err)
		case errors.As(err, &mismatch):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":    err.Error(),
				"expected": mismatch.Expected,
				"actual":   mismatch.Actual,
			})
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	// A queued sale is accepted, not yet committed; the invoice arrives
	// through the sync event stream.
	status := http.StatusOK
	if outcome.Offline {
		status = http.StatusAccepted
	}
	writeJSON(w, status, outcome)
}

func (a *API) handlePending(w http.ResponseWriter, r *http.Request) {
	stats, err := a.queue.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending": stats.Pending(),
		"stats":   stats,
	})
}

func (a *API) handleTrigger(w http.ResponseWriter, r *http.Request) {
	a.syncs.Trigger(domain.TriggerManual)
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "sync requested"})
}

func (a *API) handleRequeue(w http.ResponseWriter, r *http.Request) {
	localID, err := strconv.ParseInt(chi.URLParam(r, "localID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid sale id"))
		return
	}

	if err := a.queue.Requeue(r.Context(), localID); err != nil {
		switch {
		case errors.Is(err, queue.ErrNotFound):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, queue.ErrBadTransition):
			writeError(w, http.StatusConflict, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	a.syncs.Trigger(domain.TriggerManual)
	writeJSON(w, http.StatusOK, map[string]any{"status": "requeued"})
}

// handleSyncEvents streams drain results as server-sent events until the
// client disconnects.
func (a *API) handleSyncEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	results, cancel := a.syncs.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case result := <-results:
			data, err := json.Marshal(result)
			if err != nil {
				log.Printf("[httpapi] WARN: encode sync result: %v", err)
				continue
			}
			fmt.Fprintf(w, "event: sync\ndata: %s\n\n", data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func (a *API) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	var req domain.ConnectivityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	a.monitor.Set(req.Online)
	writeJSON(w, http.StatusOK, map[string]any{"online": req.Online})
}

// writeCartError maps session errors onto statuses. The serial-capture
// signal is not a failure: the UI gets a structured prompt and re-submits
// with serials.
func (a *API) writeCartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cart.ErrSerialsRequired):
		writeJSON(w, http.StatusOK, map[string]any{
			"needs_serial_capture": true,
			"message":              err.Error(),
		})
	case errors.Is(err, cart.ErrUnknownLine):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, cart.ErrInvalidProduct),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrInvalidPrice),
		errors.Is(err, cart.ErrInvalidDiscount):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (a *API) withObservability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		startedAt := time.Now()
		next.ServeHTTP(rec, r)
		elapsed := time.Since(startedAt)

		// The route pattern is only known after routing ran.
		pattern := r.URL.Path
		if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil && routeCtx.RoutePattern() != "" {
			pattern = routeCtx.RoutePattern()
		}
		a.metrics.HTTPRequests.WithLabelValues(pattern, strconv.Itoa(rec.status)).Inc()
		a.metrics.HTTPLatencyMS.WithLabelValues(pattern).Observe(float64(elapsed.Milliseconds()))
		log.Printf("%s %s %d %s", r.Method, r.URL.Path, rec.status, elapsed)
	})
}

// statusRecorder captures the response status for metrics and passes Flush
// through so the event stream keeps working behind the middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx responses get a generic message; the real error is logged, not
	// leaked. 4xx messages are user-facing.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
