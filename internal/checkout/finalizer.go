// Package checkout turns a terminal's cart and payment allocations into a
// committed sale.
//
// A Finalizer owns one terminal: its cart, its ledger and at most one
// checkout attempt. Sales paid in cash, card or e-wallet commit
// immediately. Sales that include a QRIS or bank transfer allocation wait
// for settlement first, either by polling the gateway or by operator
// confirmation, and the cart is frozen until the attempt resolves.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasirinaja/pos/internal/cart"
	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/gateway"
	"kasirinaja/pos/internal/held"
	"kasirinaja/pos/internal/money"
	"kasirinaja/pos/internal/payment"
	"kasirinaja/pos/internal/store"
	"kasirinaja/pos/internal/xid"
)

const (
	defaultCommitTimeout = 15 * time.Second
	// invoiceAttempts bounds how often a commit draws a fresh invoice after
	// finding its number taken by another sale.
	invoiceAttempts = 3
)

type Repository interface {
	store.Catalog
	GetTaxPolicy(ctx context.Context, outletID string) (domain.TaxPolicy, error)
	CommitTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
}

type Shifts interface {
	Active(ctx context.Context, outletID string, employeeID string) (*domain.Shift, error)
}

type Loyalty interface {
	DiscountPercent(ctx context.Context, customerID string) (decimal.Decimal, error)
	AwardPoints(ctx context.Context, customerID string, amount decimal.Decimal) (int, error)
}

type HeldOrders interface {
	Hold(ctx context.Context, c *cart.Cart, req held.HoldRequest) (*domain.HeldOrder, error)
	Resume(ctx context.Context, id string, c *cart.Cart, discardCurrent bool) (*domain.HeldOrder, error)
	Complete(ctx context.Context, id string) error
}

type Config struct {
	OutletID      string
	TerminalID    string
	PollInterval  time.Duration
	MaxWait       time.Duration
	CommitTimeout time.Duration
}

type Deps struct {
	Repo       Repository
	Shifts     Shifts
	Loyalty    Loyalty
	Held       HeldOrders
	Gateway    gateway.Client
	Authorizer cart.Authorizer
	Logger     *zap.Logger
}

type Finalizer struct {
	cfg     Config
	repo    Repository
	shifts  Shifts
	loyalty Loyalty
	held    HeldOrders
	client  gateway.Client
	logger  *zap.Logger
	now     func() time.Time
	invoice func(time.Time) string

	mu          sync.Mutex
	cart        *cart.Cart
	ledger      *payment.Ledger
	policy      domain.TaxPolicy
	discountPct decimal.Decimal
	totals      money.Totals
	resumedFrom string
	attempt     *attempt
}

func New(cfg Config, deps Deps) *Finalizer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = gateway.DefaultPollInterval
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = defaultCommitTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := deps.Gateway
	if client == nil {
		client = gateway.OfflineClient{}
	}
	return &Finalizer{
		cfg:     cfg,
		repo:    deps.Repo,
		shifts:  deps.Shifts,
		loyalty: deps.Loyalty,
		held:    deps.Held,
		client:  client,
		logger: logger.Named("checkout").With(
			zap.String("outlet_id", cfg.OutletID),
			zap.String("terminal_id", cfg.TerminalID),
		),
		now:         func() time.Time { return time.Now().UTC() },
		invoice:     xid.Invoice,
		cart:        cart.New(deps.Authorizer),
		ledger:      payment.NewLedger(),
		discountPct: decimal.Zero,
	}
}

// Snapshot is a consistent view of the terminal for display.
type Snapshot struct {
	OutletID        string                     `json:"outlet_id"`
	TerminalID      string                     `json:"terminal_id"`
	Items           []domain.LineItem          `json:"items"`
	CustomerID      string                     `json:"customer_id,omitempty"`
	DiscountPercent decimal.Decimal            `json:"discount_percent"`
	TaxPolicy       domain.TaxPolicy           `json:"tax_policy"`
	Totals          money.Totals               `json:"totals"`
	Split           bool                       `json:"split"`
	Payments        []domain.PaymentAllocation `json:"payments"`
	Remaining       decimal.Decimal            `json:"remaining"`
	ResumedFrom     string                     `json:"resumed_from,omitempty"`
	Attempt         *AttemptView               `json:"attempt,omitempty"`
}

func (f *Finalizer) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := Snapshot{
		OutletID:        f.cfg.OutletID,
		TerminalID:      f.cfg.TerminalID,
		Items:           f.cart.Items(),
		CustomerID:      f.cart.CustomerID(),
		DiscountPercent: f.discountPct,
		TaxPolicy:       f.policy,
		Totals:          f.totals.Rounded(),
		Split:           f.ledger.IsSplit(),
		Payments:        f.ledger.Allocations(),
		Remaining:       money.Round(f.ledger.Remaining()),
		ResumedFrom:     f.resumedFrom,
	}
	if f.attempt != nil {
		view := f.attempt.view()
		snap.Attempt = &view
	}
	return snap
}

func (f *Finalizer) AddItem(ctx context.Context, productID string, variantID string) (domain.LineItem, error) {
	product, err := f.repo.GetProduct(ctx, f.cfg.OutletID, productID)
	if err != nil {
		return domain.LineItem{}, fmt.Errorf("load product %s: %w", productID, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ensureEditableLocked(); err != nil {
		return domain.LineItem{}, err
	}
	line, err := f.cart.AddItem(*product, variantID)
	if err != nil {
		return domain.LineItem{}, err
	}
	return line, f.recalculateLocked(ctx)
}

func (f *Finalizer) SetQuantity(ctx context.Context, key domain.LineKey, qty int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ensureEditableLocked(); err != nil {
		return err
	}
	if err := f.cart.SetQuantity(ctx, key, qty); err != nil {
		return err
	}
	return f.recalculateLocked(ctx)
}

func (f *Finalizer) RemoveItem(ctx context.Context, key domain.LineKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ensureEditableLocked(); err != nil {
		return err
	}
	if err := f.cart.RemoveItem(ctx, key); err != nil {
		return err
	}
	return f.recalculateLocked(ctx)
}

// ClearCart empties the cart and forgets the held order it was resumed
// from. The held order stays Resumed.
func (f *Finalizer) ClearCart(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ensureEditableLocked(); err != nil {
		return err
	}
	if err := f.cart.Clear(ctx); err != nil {
		return err
	}
	f.resumedFrom = ""
	f.discountPct = decimal.Zero
	return f.recalculateLocked(ctx)
}

// SetCustomer attaches a member to the sale and applies their tier
// discount. An empty id makes it a walk-in sale.
func (f *Finalizer) SetCustomer(ctx context.Context, customerID string) error {
	pct := decimal.Zero
	if customerID != "" && f.loyalty != nil {
		var err error
		if pct, err = f.loyalty.DiscountPercent(ctx, customerID); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ensureEditableLocked(); err != nil {
		return err
	}
	f.cart.SetCustomer(customerID)
	f.discountPct = pct
	return f.recalculateLocked(ctx)
}

func (f *Finalizer) SetSplit(on bool) error {
	return f.editLedger(func(l *payment.Ledger) error {
		l.SetSplit(on)
		return nil
	})
}

func (f *Finalizer) AddPayment(methodID string) (int, error) {
	method, err := payment.LookupMethod(methodID)
	if err != nil {
		return 0, err
	}
	index := 0
	err = f.editLedger(func(l *payment.Ledger) error {
		index = l.AddPayment(method)
		return nil
	})
	return index, err
}

func (f *Finalizer) RemovePayment(index int) error {
	return f.editLedger(func(l *payment.Ledger) error {
		return l.RemovePayment(index)
	})
}

func (f *Finalizer) SetPaymentAmount(index int, amount decimal.Decimal) error {
	return f.editLedger(func(l *payment.Ledger) error {
		return l.SetAmount(index, amount)
	})
}

func (f *Finalizer) SetSubSelection(index int, gatewayRef string, manualAccountRef string) error {
	return f.editLedger(func(l *payment.Ledger) error {
		return l.SetSubSelection(index, gatewayRef, manualAccountRef)
	})
}

func (f *Finalizer) editLedger(edit func(*payment.Ledger) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ensureEditableLocked(); err != nil {
		return err
	}
	return edit(f.ledger)
}

// Hold parks the current cart and leaves the terminal empty.
func (f *Finalizer) Hold(ctx context.Context, notes string) (*domain.HeldOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ensureEditableLocked(); err != nil {
		return nil, err
	}
	actor, _ := domain.ActorFromContext(ctx)
	order, err := f.held.Hold(ctx, f.cart, held.HoldRequest{
		OutletID:   f.cfg.OutletID,
		TerminalID: f.cfg.TerminalID,
		EmployeeID: actor.Username,
		Notes:      notes,
		Total:      money.Round(f.totals.Total),
	})
	if err != nil {
		return nil, err
	}
	f.resumedFrom = ""
	f.discountPct = decimal.Zero
	return order, f.recalculateLocked(ctx)
}

// Resume restores a held order into the cart. The order is marked
// Completed once the resumed cart is sold.
func (f *Finalizer) Resume(ctx context.Context, heldID string, discardCurrent bool) (*domain.HeldOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ensureEditableLocked(); err != nil {
		return nil, err
	}
	order, err := f.held.Resume(ctx, heldID, f.cart, discardCurrent)
	if err != nil {
		return nil, err
	}
	f.resumedFrom = order.ID
	f.discountPct = decimal.Zero
	if order.CustomerID != "" && f.loyalty != nil {
		pct, err := f.loyalty.DiscountPercent(ctx, order.CustomerID)
		if err != nil {
			f.logger.Warn("failed to resolve member discount for resumed order", zap.String("held_id", order.ID), zap.Error(err))
		} else {
			f.discountPct = pct
		}
	}
	return order, f.recalculateLocked(ctx)
}

// Checkout validates the sale and starts an attempt. Without a settling
// allocation the sale is committed before returning. Otherwise the
// returned view is awaiting payment; use Await, Confirm or Cancel.
// tendered, when set, is the cash handed over for a single cash payment.
func (f *Finalizer) Checkout(ctx context.Context, tendered *decimal.Decimal) (AttemptView, error) {
	actor, _ := domain.ActorFromContext(ctx)

	f.mu.Lock()
	if err := f.ensureEditableLocked(); err != nil {
		f.mu.Unlock()
		return AttemptView{}, err
	}

	shift, err := f.shifts.Active(ctx, f.cfg.OutletID, actor.Username)
	if err != nil {
		f.mu.Unlock()
		return AttemptView{}, err
	}
	if f.cart.IsEmpty() {
		f.mu.Unlock()
		return AttemptView{}, domain.ErrEmptyCart
	}
	if err := f.ledger.Validate(); err != nil {
		f.mu.Unlock()
		return AttemptView{}, err
	}
	change := decimal.Zero
	if tendered != nil {
		if change, err = f.ledger.Change(*tendered); err != nil {
			f.mu.Unlock()
			return AttemptView{}, err
		}
	}

	now := f.now()
	a := newAttempt(f.invoice(now), actor, change, f.resumedFrom, f.buildTransactionLocked(shift, now))
	prior := f.attempt
	f.attempt = a

	allocation, needsSettlement := f.ledger.Settlement()
	if !needsSettlement {
		err := f.commitLocked(ctx, a)
		view := a.view()
		f.mu.Unlock()
		stopPoller(prior)
		return view, err
	}
	a.session = gateway.NewSession(a.invoice, allocation, f.logger)
	f.mu.Unlock()
	stopPoller(prior)

	if err := a.session.Request(ctx, f.client); err != nil {
		f.mu.Lock()
		if a.status == AttemptAwaitingPayment {
			a.finish(AttemptPaymentFailed, err)
		}
		f.mu.Unlock()
		return AttemptView{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attempt != a || a.status != AttemptAwaitingPayment {
		return a.view(), a.err
	}
	if !a.session.Manual() {
		f.startPollerLocked(ctx, a)
	}
	f.logger.Info("checkout awaiting payment",
		zap.String("invoice", a.invoice),
		zap.String("kind", string(allocation.Kind)),
		zap.Bool("manual", a.session.Manual()),
	)
	return a.view(), nil
}

// Await blocks until the current attempt resolves or ctx ends.
func (f *Finalizer) Await(ctx context.Context) (AttemptView, error) {
	f.mu.Lock()
	a := f.attempt
	f.mu.Unlock()
	if a == nil {
		return AttemptView{}, domain.ErrNoPendingCheckout
	}

	select {
	case <-ctx.Done():
		return AttemptView{}, ctx.Err()
	case <-a.done:
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return a.view(), a.err
}

// Confirm settles a manual transfer or QRIS payment on the operator's word
// and commits the sale.
func (f *Finalizer) Confirm(ctx context.Context) (AttemptView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	a := f.attempt
	if a == nil || a.session == nil || a.status != AttemptAwaitingPayment {
		return AttemptView{}, domain.ErrNoPendingCheckout
	}
	if err := a.session.Confirm(); err != nil {
		return a.view(), err
	}
	f.logger.Info("manual payment confirmed", zap.String("invoice", a.invoice), zap.String("actor", actorName(ctx)))
	err := f.commitLocked(ctx, a)
	return a.view(), err
}

// Cancel aborts an attempt awaiting payment, or abandons one whose commit
// failed. The cart is kept so the operator can choose another method.
func (f *Finalizer) Cancel(ctx context.Context) (AttemptView, error) {
	f.mu.Lock()
	a := f.attempt
	if a == nil || !a.blocking() {
		f.mu.Unlock()
		return AttemptView{}, domain.ErrNoPendingCheckout
	}

	if a.status == AttemptCommitFailed {
		f.logger.Warn("abandoning settled checkout that failed to record",
			zap.String("invoice", a.invoice),
			zap.String("actor", actorName(ctx)),
			zap.Error(a.err),
		)
	}
	if a.session != nil {
		a.session.Cancel()
	}
	a.finish(AttemptCancelled, domain.ErrPaymentCancelled)
	view := a.view()
	f.mu.Unlock()

	stopPoller(a)
	return view, nil
}

// Retry records a settled sale whose commit failed, reusing its invoice
// number. The customer is never charged again.
func (f *Finalizer) Retry(ctx context.Context) (AttemptView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	a := f.attempt
	if a == nil || a.status != AttemptCommitFailed {
		return AttemptView{}, domain.ErrNoPendingCheckout
	}
	f.logger.Info("retrying checkout commit", zap.String("invoice", a.invoice))
	err := f.commitLocked(ctx, a)
	return a.view(), err
}

// Attempt returns the latest checkout attempt, if any.
func (f *Finalizer) Attempt() (AttemptView, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attempt == nil {
		return AttemptView{}, false
	}
	return f.attempt.view(), true
}

// Idle reports whether the terminal holds no lines and no attempt that
// still needs the operator.
func (f *Finalizer) Idle() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cart.IsEmpty() && f.resumedFrom == "" && (f.attempt == nil || !f.attempt.blocking())
}

// Close stops any running poller, which cancels the attempt it watches.
func (f *Finalizer) Close() {
	f.mu.Lock()
	a := f.attempt
	f.mu.Unlock()
	stopPoller(a)
}

func (f *Finalizer) startPollerLocked(ctx context.Context, a *attempt) {
	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancelPoll = cancel
	a.pollDone = make(chan struct{})

	go func() {
		defer close(a.pollDone)
		defer cancel()
		status := a.session.Watch(pollCtx, f.client, f.cfg.PollInterval, f.cfg.MaxWait)
		f.onSessionResolved(a, status)
	}()
}

func (f *Finalizer) onSessionResolved(a *attempt, status gateway.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attempt != a || a.status != AttemptAwaitingPayment {
		return
	}

	switch status {
	case gateway.StatusSettled:
		ctx, cancel := context.WithTimeout(domain.WithActor(context.Background(), a.actor), f.cfg.CommitTimeout)
		defer cancel()
		_ = f.commitLocked(ctx, a)
	case gateway.StatusFailed:
		indicator := a.session.View().Indicator
		f.logger.Warn("payment failed", zap.String("invoice", a.invoice), zap.String("indicator", indicator))
		a.finish(AttemptPaymentFailed, fmt.Errorf("%w: %s", domain.ErrPaymentFailed, indicator))
	case gateway.StatusCancelled:
		a.finish(AttemptCancelled, domain.ErrPaymentCancelled)
	case gateway.StatusIdle, gateway.StatusRequested, gateway.StatusPending:
	}
}

// commitLocked records the attempt's sale. It must be called with mu held.
func (f *Finalizer) commitLocked(ctx context.Context, a *attempt) error {
	committed, err := f.repo.CommitTransaction(ctx, a.tx)
	for n := 1; errors.Is(err, store.ErrConflict) && n < invoiceAttempts; n++ {
		taken := a.invoice
		a.reissue(f.invoice(f.now()))
		f.logger.Warn("invoice number taken by another sale, reissuing",
			zap.String("invoice", taken),
			zap.String("reissued", a.invoice),
			zap.Bool("payment_settled", a.session != nil),
		)
		committed, err = f.repo.CommitTransaction(ctx, a.tx)
	}
	if err != nil {
		return f.failCommitLocked(a, err)
	}

	if f.loyalty != nil && committed.CustomerID != "" {
		if points, err := f.loyalty.AwardPoints(ctx, committed.CustomerID, committed.Total); err != nil {
			f.logger.Warn("failed to award loyalty points", zap.String("invoice", a.invoice), zap.Error(err))
		} else if points > 0 {
			f.logger.Debug("loyalty points awarded", zap.String("customer_id", committed.CustomerID), zap.Int("points", points))
		}
	}
	if a.resumedFrom != "" && f.held != nil {
		_ = f.held.Complete(ctx, a.resumedFrom)
	}
	f.logAudit(ctx, a, committed)

	a.result = committed
	a.finish(AttemptCompleted, nil)

	f.cart.Reset()
	f.resumedFrom = ""
	f.discountPct = decimal.Zero
	if err := f.recalculateLocked(ctx); err != nil {
		f.logger.Warn("failed to refresh totals after checkout", zap.Error(err))
	}

	f.logger.Info("sale committed",
		zap.String("invoice", a.invoice),
		zap.String("total", money.Round(committed.Total).String()),
		zap.Int("lines", len(committed.Items)),
	)
	return nil
}

func (f *Finalizer) failCommitLocked(a *attempt, err error) error {
	settled := a.session != nil
	var cerr *domain.CheckoutError
	switch {
	case errors.Is(err, store.ErrInsufficientStock):
		cerr = &domain.CheckoutError{Invoice: a.invoice, Err: domain.ErrStockConflict, Cause: err}
	default:
		cerr = &domain.CheckoutError{Invoice: a.invoice, Err: domain.ErrCheckoutFailed, Cause: err}
	}

	// An unsettled sale rejected for stock goes back to the operator to
	// edit the cart. Anything else keeps the attempt so Retry can record it
	// under the same invoice.
	if errors.Is(cerr, domain.ErrStockConflict) && !settled {
		a.finish(AttemptRejected, cerr)
	} else {
		a.finish(AttemptCommitFailed, cerr)
	}
	f.logger.Error("checkout commit failed",
		zap.String("invoice", a.invoice),
		zap.Bool("payment_settled", settled),
		zap.Error(err),
	)
	return cerr
}

func (f *Finalizer) logAudit(ctx context.Context, a *attempt, tx *domain.Transaction) {
	detail := fmt.Sprintf("total=%s payments=%d", money.Round(tx.Total).String(), len(tx.Payments))
	if a.resumedFrom != "" {
		detail += " resumed_from=" + a.resumedFrom
	}
	err := f.repo.CreateAuditLog(ctx, domain.AuditLog{
		OutletID:      f.cfg.OutletID,
		ActorUsername: a.actor.Username,
		ActorRole:     a.actor.Role,
		Action:        "checkout.completed",
		EntityType:    "transaction",
		EntityID:      tx.InvoiceNumber,
		Detail:        detail,
		CreatedAt:     f.now(),
	})
	if err != nil {
		f.logger.Warn("failed to write audit log", zap.String("action", "checkout.completed"), zap.Error(err))
	}
}

// buildTransactionLocked records amounts at the currency minor unit, the
// same figures the payments were allocated against.
func (f *Finalizer) buildTransactionLocked(shift *domain.Shift, now time.Time) domain.Transaction {
	totals := f.totals.Rounded()
	return domain.Transaction{
		OutletID:        f.cfg.OutletID,
		TerminalID:      f.cfg.TerminalID,
		ShiftID:         shift.ID,
		ShiftEmployeeID: shift.EmployeeID,
		CustomerID:      f.cart.CustomerID(),
		Items:           f.cart.Items(),
		Subtotal:        totals.Subtotal,
		Discount:        totals.Discount,
		Tax:             totals.Tax,
		TaxName:         f.policy.Name,
		TaxRatePercent:  f.policy.RatePercent,
		TaxInclusive:    f.policy.Inclusive,
		Total:           totals.Total,
		Payments:        f.ledger.Allocations(),
		PaymentStatus:   domain.PaymentStatusPaid,
		Status:          domain.TxStatusCompleted,
		CreatedAt:       now,
	}
}

// recalculateLocked refreshes totals after a cart or customer change and
// resets payment allocations against the new total.
func (f *Finalizer) recalculateLocked(ctx context.Context) error {
	policy, err := f.repo.GetTaxPolicy(ctx, f.cfg.OutletID)
	if err != nil {
		return fmt.Errorf("load tax policy: %w", err)
	}
	f.policy = policy
	f.totals = money.Calculate(f.cart.Items(), policy, f.discountPct)
	f.ledger.Reset(f.totals.Total)
	return nil
}

func (f *Finalizer) ensureEditableLocked() error {
	if f.attempt != nil && f.attempt.blocking() {
		return domain.ErrCheckoutPending
	}
	return nil
}

func stopPoller(a *attempt) {
	if a == nil || a.cancelPoll == nil {
		return
	}
	a.cancelPoll()
	<-a.pollDone
}

func actorName(ctx context.Context) string {
	actor, _ := domain.ActorFromContext(ctx)
	return actor.Username
}
