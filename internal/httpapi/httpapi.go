package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasirinaja/pos/internal/cart"
	"kasirinaja/pos/internal/checkout"
	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/gateway"
	"kasirinaja/pos/internal/held"
	"kasirinaja/pos/internal/payment"
	"kasirinaja/pos/internal/service"
	"kasirinaja/pos/internal/shift"
	"kasirinaja/pos/internal/store"
)

const (
	supervisorPINHeader = "X-Supervisor-PIN"
	defaultAwait        = 30 * time.Second
	maxAwait            = 2 * time.Minute
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	logger        *zap.Logger
	allowedOrigin string
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		logger:        logger.Named("http"),
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(a.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{a.allowedOrigin},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", supervisorPINHeader},
		MaxAge:         300,
	}))
	r.Use(limitBody)

	r.Get("/healthz", a.handleHealth)
	r.Post("/api/v1/auth/login", a.handleLogin)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(a.requireAuth(domain.RoleCashier, domain.RoleSupervisor, domain.RoleAdmin))

		r.Get("/products", a.handleProducts)

		r.Route("/terminals/{terminalID}", func(r chi.Router) {
			r.Use(a.withSupervisorPIN)

			r.Get("/", a.handleSnapshot)
			r.Post("/items", a.handleAddItem)
			r.Delete("/items", a.handleClearCart)
			r.Patch("/items/{lineKey}", a.handleSetQuantity)
			r.Delete("/items/{lineKey}", a.handleRemoveItem)
			r.Put("/customer", a.handleSetCustomer)

			r.Put("/payments/split", a.handleSetSplit)
			r.Post("/payments", a.handleAddPayment)
			r.Patch("/payments/{index}", a.handleUpdatePayment)
			r.Delete("/payments/{index}", a.handleRemovePayment)

			r.Post("/checkout", a.handleCheckout)
			r.Get("/checkout", a.handleAwaitCheckout)
			r.Post("/checkout/confirm", a.handleConfirmPayment)
			r.Post("/checkout/cancel", a.handleCancelCheckout)
			r.Post("/checkout/retry", a.handleRetryCheckout)

			r.Post("/hold", a.handleHold)
			r.Post("/resume/{heldID}", a.handleResume)
		})

		r.Get("/held-orders", a.handleListHeld)
		r.Delete("/held-orders/{heldID}", a.handleDeleteHeld)

		r.Post("/shifts/open", a.handleShiftOpen)
		r.Post("/shifts/close", a.handleShiftClose)
		r.Get("/shifts/active", a.handleShiftActive)

		r.With(a.requireRole(domain.RoleSupervisor, domain.RoleAdmin)).Get("/audit-logs", a.handleAuditLogs)
	})

	return r
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			token := strings.TrimSpace(authorization[len("Bearer "):])
			actor, err := a.auth.ParseToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}

			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}

			next.ServeHTTP(w, r.WithContext(domain.WithActor(r.Context(), actor)))
		})
	}
}

func (a *API) requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := domain.ActorFromContext(r.Context())
			if !ok || !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// withSupervisorPIN carries the supervisor PIN header into the request
// context, rate limited per client.
func (a *API) withSupervisorPIN(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pin := strings.TrimSpace(r.Header.Get(supervisorPINHeader))
		if pin == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !a.pinLimiter.Allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, errors.New("too many supervisor PIN attempts"))
			return
		}
		next.ServeHTTP(w, r.WithContext(domain.WithSupervisorPIN(r.Context(), pin)))
	})
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context(), outletID(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := a.service.Snapshot(outletID(r), chi.URLParam(r, "terminalID"))
	a.writeSnapshot(w, snap, err)
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
}

func (a *API) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	snap, err := a.service.AddItem(r.Context(), outletID(r), chi.URLParam(r, "terminalID"), req.ProductID, req.VariantID)
	a.writeSnapshot(w, snap, err)
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func (a *API) handleSetQuantity(w http.ResponseWriter, r *http.Request) {
	var req setQuantityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	key := domain.ParseLineKey(chi.URLParam(r, "lineKey"))
	snap, err := a.service.SetQuantity(r.Context(), outletID(r), chi.URLParam(r, "terminalID"), key, req.Quantity)
	a.writeSnapshot(w, snap, err)
}

func (a *API) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	key := domain.ParseLineKey(chi.URLParam(r, "lineKey"))
	snap, err := a.service.RemoveItem(r.Context(), outletID(r), chi.URLParam(r, "terminalID"), key)
	a.writeSnapshot(w, snap, err)
}

func (a *API) handleClearCart(w http.ResponseWriter, r *http.Request) {
	snap, err := a.service.ClearCart(r.Context(), outletID(r), chi.URLParam(r, "terminalID"))
	a.writeSnapshot(w, snap, err)
}

type setCustomerRequest struct {
	CustomerID string `json:"customer_id"`
}

func (a *API) handleSetCustomer(w http.ResponseWriter, r *http.Request) {
	var req setCustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	snap, err := a.service.SetCustomer(r.Context(), outletID(r), chi.URLParam(r, "terminalID"), req.CustomerID)
	a.writeSnapshot(w, snap, err)
}

type setSplitRequest struct {
	Enabled bool `json:"enabled"`
}

func (a *API) handleSetSplit(w http.ResponseWriter, r *http.Request) {
	var req setSplitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	snap, err := a.service.SetSplit(outletID(r), chi.URLParam(r, "terminalID"), req.Enabled)
	a.writeSnapshot(w, snap, err)
}

type addPaymentRequest struct {
	MethodID string `json:"method_id"`
}

func (a *API) handleAddPayment(w http.ResponseWriter, r *http.Request) {
	var req addPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	snap, err := a.service.AddPayment(outletID(r), chi.URLParam(r, "terminalID"), req.MethodID)
	a.writeSnapshot(w, snap, err)
}

type updatePaymentRequest struct {
	Amount           *decimal.Decimal `json:"amount"`
	GatewayRef       *string          `json:"gateway_ref"`
	ManualAccountRef *string          `json:"manual_account_ref"`
}

func (a *API) handleUpdatePayment(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("payment index must be an integer"))
		return
	}
	var req updatePaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Amount == nil && req.GatewayRef == nil && req.ManualAccountRef == nil {
		writeError(w, http.StatusBadRequest, errors.New("amount or sub-selection required"))
		return
	}

	terminalID := chi.URLParam(r, "terminalID")
	var snap checkout.Snapshot
	if req.Amount != nil {
		if snap, err = a.service.SetPaymentAmount(outletID(r), terminalID, index, *req.Amount); err != nil {
			a.writeServiceError(w, err)
			return
		}
	}
	if req.GatewayRef != nil || req.ManualAccountRef != nil {
		snap, err = a.service.SetSubSelection(outletID(r), terminalID, index, deref(req.GatewayRef), deref(req.ManualAccountRef))
	}
	a.writeSnapshot(w, snap, err)
}

func (a *API) handleRemovePayment(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("payment index must be an integer"))
		return
	}
	snap, err := a.service.RemovePayment(outletID(r), chi.URLParam(r, "terminalID"), index)
	a.writeSnapshot(w, snap, err)
}

type checkoutRequest struct {
	Tendered *decimal.Decimal `json:"tendered"`
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.service.Checkout(r.Context(), outletID(r), chi.URLParam(r, "terminalID"), req.Tendered)
	a.writeAttempt(w, view, err)
}

// handleAwaitCheckout long-polls the terminal's attempt. The wait query
// parameter bounds the wait; on expiry the still-pending attempt is
// returned with 202.
func (a *API) handleAwaitCheckout(w http.ResponseWriter, r *http.Request) {
	wait := defaultAwait
	if raw := strings.TrimSpace(r.URL.Query().Get("wait")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, errors.New("wait must be a non-negative duration"))
			return
		}
		wait = min(parsed, maxAwait)
	}

	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()

	terminalID := chi.URLParam(r, "terminalID")
	view, err := a.service.AwaitCheckout(ctx, outletID(r), terminalID)
	if errors.Is(err, context.DeadlineExceeded) {
		snap, serr := a.service.Snapshot(outletID(r), terminalID)
		if serr != nil || snap.Attempt == nil {
			a.writeServiceError(w, domain.ErrNoPendingCheckout)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"attempt": snap.Attempt})
		return
	}
	a.writeAttempt(w, view, err)
}

func (a *API) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.ConfirmPayment(r.Context(), outletID(r), chi.URLParam(r, "terminalID"))
	a.writeAttempt(w, view, err)
}

func (a *API) handleCancelCheckout(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.CancelCheckout(r.Context(), outletID(r), chi.URLParam(r, "terminalID"))
	a.writeAttempt(w, view, err)
}

func (a *API) handleRetryCheckout(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.RetryCheckout(r.Context(), outletID(r), chi.URLParam(r, "terminalID"))
	a.writeAttempt(w, view, err)
}

type holdRequest struct {
	Notes string `json:"notes"`
}

func (a *API) handleHold(w http.ResponseWriter, r *http.Request) {
	var req holdRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	order, err := a.service.HoldCart(r.Context(), outletID(r), chi.URLParam(r, "terminalID"), req.Notes)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"held_order": order})
}

type resumeRequest struct {
	DiscardCurrent bool `json:"discard_current"`
}

func (a *API) handleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	terminalID := chi.URLParam(r, "terminalID")
	order, err := a.service.ResumeHeld(r.Context(), outletID(r), terminalID, chi.URLParam(r, "heldID"), req.DiscardCurrent)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	snap, err := a.service.Snapshot(outletID(r), terminalID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"held_order": order, "terminal": snap})
}

func (a *API) handleListHeld(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 200)
	orders, err := a.service.ListHeld(r.Context(), outletID(r), limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"held_orders": orders})
}

func (a *API) handleDeleteHeld(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteHeld(r.Context(), chi.URLParam(r, "heldID")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type shiftOpenRequest struct {
	StartingCash decimal.Decimal `json:"starting_cash"`
}

func (a *API) handleShiftOpen(w http.ResponseWriter, r *http.Request) {
	var req shiftOpenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	opened, err := a.service.OpenShift(r.Context(), outletID(r), req.StartingCash)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"shift": opened})
}

type shiftCloseRequest struct {
	EndingCash decimal.Decimal `json:"ending_cash"`
	Notes      string          `json:"notes"`
}

func (a *API) handleShiftClose(w http.ResponseWriter, r *http.Request) {
	var req shiftCloseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	closed, err := a.service.CloseShift(r.Context(), outletID(r), req.EndingCash, req.Notes)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shift": closed})
}

func (a *API) handleShiftActive(w http.ResponseWriter, r *http.Request) {
	active, err := a.service.ActiveShift(r.Context(), outletID(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shift": active})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), outletID(r), limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(startedAt)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) writeSnapshot(w http.ResponseWriter, snap checkout.Snapshot, err error) {
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"terminal": snap})
}

// writeAttempt reports a checkout attempt. Failures tied to an invoice
// still carry the attempt so the terminal can show what to do next.
func (a *API) writeAttempt(w http.ResponseWriter, view checkout.AttemptView, err error) {
	if err == nil {
		status := http.StatusOK
		if view.Status == checkout.AttemptAwaitingPayment {
			status = http.StatusAccepted
		}
		writeJSON(w, status, map[string]any{"attempt": view})
		return
	}
	if view.Invoice == "" {
		a.writeServiceError(w, err)
		return
	}
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		a.logger.Error("checkout request failed", zap.String("invoice", view.Invoice), zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error":     msg,
		"retryable": domain.IsRetryable(err),
		"attempt":   view,
	})
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.logger.Error("request failed", zap.Error(err))
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrSupervisorRequired):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound), errors.Is(err, cart.ErrLineNotFound), errors.Is(err, service.ErrUnknownTerminal):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPaymentFailed), errors.Is(err, domain.ErrPaymentCancelled):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrGatewayUnavailable), errors.Is(err, service.ErrTerminalLimit):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrCheckoutFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrStockConflict),
		errors.Is(err, domain.ErrShiftNotOpen),
		errors.Is(err, domain.ErrShiftAlreadyOpen),
		errors.Is(err, domain.ErrCheckoutPending),
		errors.Is(err, domain.ErrNoPendingCheckout),
		errors.Is(err, domain.ErrCartNotEmpty),
		errors.Is(err, held.ErrNotHeld),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, gateway.ErrNotPending),
		errors.Is(err, gateway.ErrConfirmForbidden):
		return http.StatusConflict
	case errors.Is(err, domain.ErrVariantRequired),
		errors.Is(err, domain.ErrAllocationImbalance),
		errors.Is(err, domain.ErrMissingSubSelection),
		errors.Is(err, domain.ErrEmptyCart),
		errors.Is(err, store.ErrInvalidTransaction),
		errors.Is(err, shift.ErrNegativeCash),
		errors.Is(err, payment.ErrUnknownMethod),
		errors.Is(err, payment.ErrSplitOnly),
		errors.Is(err, payment.ErrIndexOutOfRange),
		errors.Is(err, payment.ErrNegativeAmount),
		errors.Is(err, payment.ErrAmbiguousSubSelection),
		errors.Is(err, payment.ErrMultipleSettlements),
		errors.Is(err, payment.ErrInsufficientTender),
		errors.Is(err, payment.ErrTenderRequiresCashOnly):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func outletID(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("outlet_id"))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, dest any) error {
	if err := decodeJSON(r, dest); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 500s get a generic message; callers log the cause.
	msg := err.Error()
	if status == http.StatusInternalServerError {
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
