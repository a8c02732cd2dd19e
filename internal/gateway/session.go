// Package gateway correlates a checkout attempt with settlement at an
// external payment gateway.
//
// A Session walks Idle -> Requested -> Pending and ends in Settled, Failed
// or Cancelled. Integrated sessions are settled by Watch polling the
// gateway; manual sessions are settled by the operator through Confirm.
// Sessions are never reused: a retry starts a new session with a new
// invoice number.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasirinaja/pos/internal/domain"
)

const DefaultPollInterval = 3 * time.Second

type Status string

const (
	StatusIdle      Status = "idle"
	StatusRequested Status = "requested"
	StatusPending   Status = "pending"
	StatusSettled   Status = "settled"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusFailed || s == StatusCancelled
}

var (
	ErrSessionUsed      = errors.New("payment session already requested")
	ErrNotPending       = errors.New("payment session is not pending")
	ErrConfirmForbidden = errors.New("integrated payments settle through the gateway only")
)

var (
	settledIndicators = map[string]bool{
		"settlement": true, "capture": true, "settled": true,
		"captured": true, "paid": true, "success": true,
	}
	failedIndicators = map[string]bool{
		"deny": true, "expire": true, "expired": true,
		"cancel": true, "failure": true, "failed": true,
	}
)

type View struct {
	InvoiceID  string             `json:"invoice_id"`
	Kind       domain.PaymentKind `json:"kind"`
	Amount     decimal.Decimal    `json:"amount"`
	Manual     bool               `json:"manual"`
	Status     Status             `json:"status"`
	Indicator  string             `json:"indicator,omitempty"`
	Charge     *ChargeResult      `json:"charge,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	ResolvedAt *time.Time         `json:"resolved_at,omitempty"`
}

type Session struct {
	mu         sync.Mutex
	invoiceID  string
	allocation domain.PaymentAllocation
	status     Status
	indicator  string
	charge     *ChargeResult
	createdAt  time.Time
	resolvedAt *time.Time
	logger     *zap.Logger
}

// NewSession opens an idle session for the allocation that must settle.
func NewSession(invoiceID string, allocation domain.PaymentAllocation, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		invoiceID:  invoiceID,
		allocation: allocation,
		status:     StatusIdle,
		createdAt:  time.Now().UTC(),
		logger:     logger.With(zap.String("invoice", invoiceID)),
	}
}

func (s *Session) InvoiceID() string {
	return s.invoiceID
}

func (s *Session) Manual() bool {
	return s.allocation.ManualConfirmation()
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		InvoiceID:  s.invoiceID,
		Kind:       s.allocation.Kind,
		Amount:     s.allocation.Amount,
		Manual:     s.allocation.ManualConfirmation(),
		Status:     s.status,
		Indicator:  s.indicator,
		Charge:     s.charge,
		CreatedAt:  s.createdAt,
		ResolvedAt: s.resolvedAt,
	}
}

// Request asks the gateway for a charge and moves the session to Pending.
// Manual sessions skip the gateway and expose the merchant account as the
// payment artifact. A gateway error returns the session to Idle.
func (s *Session) Request(ctx context.Context, client Client) error {
	s.mu.Lock()
	if s.status != StatusIdle {
		s.mu.Unlock()
		return ErrSessionUsed
	}
	s.status = StatusRequested
	s.mu.Unlock()

	if s.Manual() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.status != StatusRequested {
			return domain.ErrPaymentCancelled
		}
		s.charge = &ChargeResult{ArtifactType: ArtifactManualAccount, Artifact: s.allocation.ManualAccountRef}
		s.status = StatusPending
		return nil
	}

	result, err := client.Charge(ctx, ChargeRequest{
		InvoiceID: s.invoiceID,
		Amount:    s.allocation.Amount,
		Kind:      s.allocation.Kind,
		SubMethod: s.allocation.GatewayRef,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRequested {
		return domain.ErrPaymentCancelled
	}
	if err != nil {
		s.status = StatusIdle
		if errors.Is(err, domain.ErrGatewayUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	if result == nil {
		result = &ChargeResult{}
	}
	s.charge = result
	s.status = StatusPending
	s.logger.Info("payment charge created", zap.String("kind", string(s.allocation.Kind)), zap.String("artifact_type", result.ArtifactType))
	return nil
}

// Confirm records the operator's assertion that a manual payment arrived.
func (s *Session) Confirm() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.allocation.ManualConfirmation() {
		return ErrConfirmForbidden
	}
	if s.status != StatusPending {
		return ErrNotPending
	}
	s.resolve(StatusSettled, "manual")
	return nil
}

// Cancel aborts a session that has not resolved yet. It reports whether
// the call changed the state; cancelling a resolved session is a no-op.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return false
	}
	s.resolve(StatusCancelled, s.indicator)
	return true
}

// Watch polls the gateway until the session resolves, ctx is cancelled or
// maxWait elapses. Zero maxWait polls until resolution or cancellation.
// Poll errors are logged and retried on the next tick.
func (s *Session) Watch(ctx context.Context, client Client, interval, maxWait time.Duration) Status {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if maxWait > 0 {
		timer := time.NewTimer(maxWait)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		if status := s.Status(); status.Terminal() {
			return status
		}

		select {
		case <-ctx.Done():
			s.Cancel()
			return s.Status()
		case <-deadline:
			s.mu.Lock()
			if !s.status.Terminal() {
				s.resolve(StatusFailed, "timeout")
				s.logger.Warn("payment polling timed out", zap.Duration("max_wait", maxWait))
			}
			s.mu.Unlock()
			return s.Status()
		case <-ticker.C:
			indicator, err := client.Status(ctx, s.invoiceID)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("payment status poll failed", zap.Error(err))
				}
				continue
			}
			s.observe(indicator)
		}
	}
}

func (s *Session) observe(indicator string) {
	indicator = strings.ToLower(strings.TrimSpace(indicator))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPending {
		return
	}
	s.indicator = indicator
	switch {
	case settledIndicators[indicator]:
		s.resolve(StatusSettled, indicator)
		s.logger.Info("payment settled")
	case failedIndicators[indicator]:
		s.resolve(StatusFailed, indicator)
		s.logger.Info("payment failed at gateway", zap.String("indicator", indicator))
	}
}

// resolve must be called with mu held.
func (s *Session) resolve(status Status, indicator string) {
	at := time.Now().UTC()
	s.status = status
	s.indicator = indicator
	s.resolvedAt = &at
}
