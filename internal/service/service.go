// Package service fronts the transaction engine for the HTTP layer. It
// keeps one checkout.Finalizer per terminal and records an audit trail for
// operator actions.
package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasirinaja/pos/internal/cache"
	"kasirinaja/pos/internal/cart"
	"kasirinaja/pos/internal/checkout"
	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/gateway"
	"kasirinaja/pos/internal/held"
	"kasirinaja/pos/internal/loyalty"
	"kasirinaja/pos/internal/money"
	"kasirinaja/pos/internal/shift"
	"kasirinaja/pos/internal/store"
	"kasirinaja/pos/internal/xid"
)

const (
	defaultAuditLimit   = 100
	defaultMaxTerminals = 64
)

var (
	ErrUnauthenticated = errors.New("authenticated actor required")
	ErrUnknownTerminal = errors.New("unknown terminal")
	ErrTerminalLimit   = errors.New("too many active terminals")
)

var terminalIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

type Options struct {
	DefaultOutletID string
	PollInterval    time.Duration
	MaxWait         time.Duration
	CommitTimeout   time.Duration
	// Terminals, when set, is the only set of terminal IDs accepted.
	Terminals []string
	// MaxTerminals caps the finalizers kept in memory across outlets.
	MaxTerminals int
}

type Deps struct {
	Repo       store.Repository
	Catalog    *cache.Catalog
	Shifts     *shift.Manager
	Held       *held.Store
	Loyalty    *loyalty.Program
	Gateway    gateway.Client
	Authorizer cart.Authorizer
	Logger     *zap.Logger
}

type Service struct {
	repo    store.Repository
	catalog *cache.Catalog
	shifts  *shift.Manager
	held    *held.Store
	loyalty *loyalty.Program
	gateway gateway.Client
	authz   cart.Authorizer
	logger  *zap.Logger
	opts    Options

	mu        sync.Mutex
	terminals map[terminalKey]*checkout.Finalizer
}

type terminalKey struct {
	outletID   string
	terminalID string
}

func New(opts Options, deps Deps) *Service {
	if opts.DefaultOutletID == "" {
		opts.DefaultOutletID = "main-outlet"
	}
	if opts.MaxTerminals <= 0 {
		opts.MaxTerminals = defaultMaxTerminals
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	catalog := deps.Catalog
	if catalog == nil {
		catalog = cache.NewCatalog(deps.Repo, cache.NoopProductCache{}, 0, logger)
	}
	shifts := deps.Shifts
	if shifts == nil {
		shifts = shift.NewManager(deps.Repo, logger)
	}
	heldStore := deps.Held
	if heldStore == nil {
		heldStore = held.NewStore(deps.Repo, logger)
	}
	program := deps.Loyalty
	if program == nil {
		program = loyalty.NewProgram(deps.Repo, loyalty.DefaultSpendPerPoint)
	}
	return &Service{
		repo:      deps.Repo,
		catalog:   catalog,
		shifts:    shifts,
		held:      heldStore,
		loyalty:   program,
		gateway:   deps.Gateway,
		authz:     deps.Authorizer,
		logger:    logger.Named("service"),
		opts:      opts,
		terminals: make(map[terminalKey]*checkout.Finalizer),
	}
}

func (s *Service) DefaultOutletID() string {
	return s.opts.DefaultOutletID
}

func (s *Service) ListProducts(ctx context.Context, outletID string) ([]domain.Product, error) {
	return s.catalog.ListProducts(ctx, s.outlet(outletID))
}

// Terminal returns the finalizer for a terminal, creating it on first use.
// When the registry is full an idle terminal is dropped to make room.
func (s *Service) Terminal(outletID string, terminalID string) (*checkout.Finalizer, error) {
	terminalID = strings.TrimSpace(terminalID)
	if terminalID == "" {
		return nil, store.ErrInvalidTransaction
	}
	if !terminalIDPattern.MatchString(terminalID) {
		return nil, fmt.Errorf("terminal id %q: %w", terminalID, store.ErrInvalidTransaction)
	}
	if len(s.opts.Terminals) > 0 && !slices.Contains(s.opts.Terminals, terminalID) {
		return nil, fmt.Errorf("%s: %w", terminalID, ErrUnknownTerminal)
	}
	key := terminalKey{outletID: s.outlet(outletID), terminalID: terminalID}

	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.terminals[key]; ok {
		return f, nil
	}
	if len(s.terminals) >= s.opts.MaxTerminals && !s.evictIdleLocked() {
		return nil, ErrTerminalLimit
	}
	f := checkout.New(checkout.Config{
		OutletID:      key.outletID,
		TerminalID:    key.terminalID,
		PollInterval:  s.opts.PollInterval,
		MaxWait:       s.opts.MaxWait,
		CommitTimeout: s.opts.CommitTimeout,
	}, checkout.Deps{
		Repo:       &invalidatingRepo{Repository: s.repo, catalog: s.catalog},
		Shifts:     s.shifts,
		Loyalty:    s.loyalty,
		Held:       s.held,
		Gateway:    s.gateway,
		Authorizer: s.authz,
		Logger:     s.logger,
	})
	s.terminals[key] = f
	return f, nil
}

func (s *Service) evictIdleLocked() bool {
	for key, f := range s.terminals {
		if !f.Idle() {
			continue
		}
		f.Close()
		delete(s.terminals, key)
		s.logger.Debug("idle terminal evicted",
			zap.String("outlet_id", key.outletID),
			zap.String("terminal_id", key.terminalID),
		)
		return true
	}
	return false
}

func (s *Service) Snapshot(outletID string, terminalID string) (checkout.Snapshot, error) {
	f, err := s.Terminal(outletID, terminalID)
	if err != nil {
		return checkout.Snapshot{}, err
	}
	return f.Snapshot(), nil
}

func (s *Service) AddItem(ctx context.Context, outletID string, terminalID string, productID string, variantID string) (checkout.Snapshot, error) {
	return s.edit(outletID, terminalID, func(f *checkout.Finalizer) error {
		_, err := f.AddItem(ctx, strings.TrimSpace(productID), strings.TrimSpace(variantID))
		return err
	})
}

func (s *Service) SetQuantity(ctx context.Context, outletID string, terminalID string, key domain.LineKey, qty int) (checkout.Snapshot, error) {
	return s.edit(outletID, terminalID, func(f *checkout.Finalizer) error {
		if err := f.SetQuantity(ctx, key, qty); err != nil {
			return err
		}
		if qty <= 0 {
			s.logAudit(ctx, outletID, "cart.line_removed", "terminal", terminalID, "line="+key.String())
		}
		return nil
	})
}

func (s *Service) RemoveItem(ctx context.Context, outletID string, terminalID string, key domain.LineKey) (checkout.Snapshot, error) {
	return s.edit(outletID, terminalID, func(f *checkout.Finalizer) error {
		if err := f.RemoveItem(ctx, key); err != nil {
			return err
		}
		s.logAudit(ctx, outletID, "cart.line_removed", "terminal", terminalID, "line="+key.String())
		return nil
	})
}

func (s *Service) ClearCart(ctx context.Context, outletID string, terminalID string) (checkout.Snapshot, error) {
	return s.edit(outletID, terminalID, func(f *checkout.Finalizer) error {
		items := len(f.Snapshot().Items)
		if err := f.ClearCart(ctx); err != nil {
			return err
		}
		s.logAudit(ctx, outletID, "cart.cleared", "terminal", terminalID, fmt.Sprintf("items=%d", items))
		return nil
	})
}

func (s *Service) SetCustomer(ctx context.Context, outletID string, terminalID string, customerID string) (checkout.Snapshot, error) {
	return s.edit(outletID, terminalID, func(f *checkout.Finalizer) error {
		return f.SetCustomer(ctx, strings.TrimSpace(customerID))
	})
}

func (s *Service) SetSplit(outletID string, terminalID string, on bool) (checkout.Snapshot, error) {
	return s.edit(outletID, terminalID, func(f *checkout.Finalizer) error {
		return f.SetSplit(on)
	})
}

func (s *Service) AddPayment(outletID string, terminalID string, methodID string) (checkout.Snapshot, error) {
	return s.edit(outletID, terminalID, func(f *checkout.Finalizer) error {
		_, err := f.AddPayment(strings.ToLower(strings.TrimSpace(methodID)))
		return err
	})
}

func (s *Service) RemovePayment(outletID string, terminalID string, index int) (checkout.Snapshot, error) {
	return s.edit(outletID, terminalID, func(f *checkout.Finalizer) error {
		return f.RemovePayment(index)
	})
}

func (s *Service) SetPaymentAmount(outletID string, terminalID string, index int, amount decimal.Decimal) (checkout.Snapshot, error) {
	return s.edit(outletID, terminalID, func(f *checkout.Finalizer) error {
		return f.SetPaymentAmount(index, amount)
	})
}

func (s *Service) SetSubSelection(outletID string, terminalID string, index int, gatewayRef string, manualAccountRef string) (checkout.Snapshot, error) {
	return s.edit(outletID, terminalID, func(f *checkout.Finalizer) error {
		return f.SetSubSelection(index, strings.TrimSpace(gatewayRef), strings.TrimSpace(manualAccountRef))
	})
}

func (s *Service) HoldCart(ctx context.Context, outletID string, terminalID string, notes string) (*domain.HeldOrder, error) {
	f, err := s.Terminal(outletID, terminalID)
	if err != nil {
		return nil, err
	}
	order, err := f.Hold(ctx, strings.TrimSpace(notes))
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, order.OutletID, "held.hold", "held_order", order.ID, fmt.Sprintf("items=%d", len(order.Items)))
	return order, nil
}

func (s *Service) ResumeHeld(ctx context.Context, outletID string, terminalID string, heldID string, discardCurrent bool) (*domain.HeldOrder, error) {
	heldID = strings.TrimSpace(heldID)
	if heldID == "" {
		return nil, store.ErrInvalidTransaction
	}
	f, err := s.Terminal(outletID, terminalID)
	if err != nil {
		return nil, err
	}
	order, err := f.Resume(ctx, heldID, discardCurrent)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, order.OutletID, "held.resume", "held_order", order.ID, "terminal="+terminalID)
	return order, nil
}

func (s *Service) DeleteHeld(ctx context.Context, heldID string) error {
	heldID = strings.TrimSpace(heldID)
	if heldID == "" {
		return store.ErrInvalidTransaction
	}
	if err := s.held.Delete(ctx, heldID); err != nil {
		return err
	}
	s.logAudit(ctx, "", "held.delete", "held_order", heldID, "deleted")
	return nil
}

func (s *Service) ListHeld(ctx context.Context, outletID string, limit int) ([]domain.HeldOrder, error) {
	return s.held.List(ctx, s.outlet(outletID), limit)
}

func (s *Service) Checkout(ctx context.Context, outletID string, terminalID string, tendered *decimal.Decimal) (checkout.AttemptView, error) {
	f, err := s.Terminal(outletID, terminalID)
	if err != nil {
		return checkout.AttemptView{}, err
	}
	return f.Checkout(ctx, tendered)
}

func (s *Service) AwaitCheckout(ctx context.Context, outletID string, terminalID string) (checkout.AttemptView, error) {
	f, err := s.Terminal(outletID, terminalID)
	if err != nil {
		return checkout.AttemptView{}, err
	}
	return f.Await(ctx)
}

func (s *Service) ConfirmPayment(ctx context.Context, outletID string, terminalID string) (checkout.AttemptView, error) {
	f, err := s.Terminal(outletID, terminalID)
	if err != nil {
		return checkout.AttemptView{}, err
	}
	view, err := f.Confirm(ctx)
	if view.Invoice != "" {
		s.logAudit(ctx, outletID, "payment.confirmed", "transaction", view.Invoice, "status="+string(view.Status))
	}
	return view, err
}

func (s *Service) CancelCheckout(ctx context.Context, outletID string, terminalID string) (checkout.AttemptView, error) {
	f, err := s.Terminal(outletID, terminalID)
	if err != nil {
		return checkout.AttemptView{}, err
	}
	view, err := f.Cancel(ctx)
	if err != nil {
		return view, err
	}
	s.logAudit(ctx, outletID, "checkout.cancelled", "transaction", view.Invoice, "")
	return view, nil
}

func (s *Service) RetryCheckout(ctx context.Context, outletID string, terminalID string) (checkout.AttemptView, error) {
	f, err := s.Terminal(outletID, terminalID)
	if err != nil {
		return checkout.AttemptView{}, err
	}
	return f.Retry(ctx)
}

func (s *Service) OpenShift(ctx context.Context, outletID string, startingCash decimal.Decimal) (*domain.Shift, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	opened, err := s.shifts.Open(ctx, s.outlet(outletID), actor.Username, startingCash)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, opened.OutletID, "shift.open", "shift", opened.ID, "starting_cash="+money.Round(startingCash).String())
	return opened, nil
}

func (s *Service) CloseShift(ctx context.Context, outletID string, endingCash decimal.Decimal, notes string) (*domain.Shift, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	closed, err := s.shifts.Close(ctx, s.outlet(outletID), actor.Username, endingCash, strings.TrimSpace(notes))
	if err != nil {
		return nil, err
	}
	detail := fmt.Sprintf("ending_cash=%s difference=%s", money.Round(endingCash).String(), money.Round(closed.Difference).String())
	s.logAudit(ctx, closed.OutletID, "shift.close", "shift", closed.ID, detail)
	return closed, nil
}

func (s *Service) ActiveShift(ctx context.Context, outletID string) (*domain.Shift, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.shifts.Active(ctx, s.outlet(outletID), actor.Username)
}

func (s *Service) ListAuditLogs(ctx context.Context, outletID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = defaultAuditLimit
	}
	return s.repo.ListAuditLogs(ctx, s.outlet(outletID), limit)
}

// Close stops every terminal's poller.
func (s *Service) Close() {
	s.mu.Lock()
	terminals := make([]*checkout.Finalizer, 0, len(s.terminals))
	for _, f := range s.terminals {
		terminals = append(terminals, f)
	}
	s.mu.Unlock()

	for _, f := range terminals {
		f.Close()
	}
}

func (s *Service) edit(outletID string, terminalID string, fn func(*checkout.Finalizer) error) (checkout.Snapshot, error) {
	f, err := s.Terminal(outletID, terminalID)
	if err != nil {
		return checkout.Snapshot{}, err
	}
	if err := fn(f); err != nil {
		return checkout.Snapshot{}, err
	}
	return f.Snapshot(), nil
}

func (s *Service) outlet(outletID string) string {
	outletID = strings.TrimSpace(outletID)
	if outletID == "" {
		return s.opts.DefaultOutletID
	}
	return outletID
}

func (s *Service) logAudit(ctx context.Context, outletID string, action string, entityType string, entityID string, detail string) {
	actor, ok := domain.ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		OutletID:      s.outlet(outletID),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := domain.ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return domain.Actor{}, ErrUnauthenticated
	}
	return actor, nil
}

// invalidatingRepo drops the cached product listing after a sale changes
// stock.
type invalidatingRepo struct {
	store.Repository
	catalog *cache.Catalog
}

func (r *invalidatingRepo) CommitTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	saved, err := r.Repository.CommitTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}
	r.catalog.Invalidate(ctx, saved.OutletID)
	return saved, nil
}
