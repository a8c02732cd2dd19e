// Package held parks in-progress carts so the terminal can serve another
// customer, and restores them later.
package held

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasirinaja/pos/internal/cart"
	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/store"
)

var ErrNotHeld = errors.New("order is not held")

const defaultListLimit = 50

type Repository interface {
	store.Catalog
	CreateHeldOrder(ctx context.Context, order domain.HeldOrder) (*domain.HeldOrder, error)
	GetHeldOrder(ctx context.Context, id string) (*domain.HeldOrder, error)
	ListHeldOrders(ctx context.Context, outletID string, status domain.HeldStatus, limit int) ([]domain.HeldOrder, error)
	TransitionHeldOrder(ctx context.Context, id string, from domain.HeldStatus, to domain.HeldStatus, at time.Time) (*domain.HeldOrder, error)
	ExpireHeldOrders(ctx context.Context, heldBefore time.Time, at time.Time) (int, error)
}

type HoldRequest struct {
	OutletID   string
	TerminalID string
	EmployeeID string
	Notes      string
	Total      decimal.Decimal
}

type Store struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

func NewStore(repo Repository, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		repo:   repo,
		logger: logger.Named("held"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Hold snapshots the cart as a held order and resets the cart once the
// order is persisted.
func (s *Store) Hold(ctx context.Context, c *cart.Cart, req HoldRequest) (*domain.HeldOrder, error) {
	if c.IsEmpty() {
		return nil, domain.ErrEmptyCart
	}
	saved, err := s.repo.CreateHeldOrder(ctx, domain.HeldOrder{
		OutletID:    req.OutletID,
		TerminalID:  req.TerminalID,
		EmployeeID:  req.EmployeeID,
		CustomerID:  c.CustomerID(),
		Items:       c.Items(),
		Notes:       strings.TrimSpace(req.Notes),
		TotalAmount: req.Total,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("hold order: %w", err)
	}
	c.Reset()

	s.logger.Info("order held",
		zap.String("held_id", saved.ID),
		zap.String("terminal_id", req.TerminalID),
		zap.Int("lines", len(saved.Items)),
	)
	return saved, nil
}

// Resume restores a held order into c. Stock ceilings are re-read from the
// catalog; when a line no longer fits, the order stays held and the cart
// is untouched. A non-empty cart is only overwritten with discardCurrent,
// which needs the same authorization as clearing it.
func (s *Store) Resume(ctx context.Context, id string, c *cart.Cart, discardCurrent bool) (*domain.HeldOrder, error) {
	if !c.IsEmpty() {
		if !discardCurrent {
			return nil, domain.ErrCartNotEmpty
		}
		if err := c.AuthorizeClear(ctx); err != nil {
			return nil, err
		}
	}

	order, err := s.repo.GetHeldOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load held order %s: %w", id, err)
	}
	if order.Status != domain.HeldStatusHeld {
		return nil, fmt.Errorf("%s is %s: %w", id, order.Status, ErrNotHeld)
	}

	items, err := s.refreshCeilings(ctx, order.OutletID, order.Items)
	if err != nil {
		return nil, err
	}

	resumed, err := s.repo.TransitionHeldOrder(ctx, id, domain.HeldStatusHeld, domain.HeldStatusResumed, s.now())
	if errors.Is(err, store.ErrConflict) {
		return nil, fmt.Errorf("%s was taken by another terminal: %w", id, ErrNotHeld)
	}
	if err != nil {
		return nil, fmt.Errorf("resume held order %s: %w", id, err)
	}

	c.Replace(items, order.CustomerID)
	resumed.Items = items
	s.logger.Info("held order resumed", zap.String("held_id", id), zap.Bool("discarded_current", discardCurrent))
	return resumed, nil
}

func (s *Store) refreshCeilings(ctx context.Context, outletID string, items []domain.LineItem) ([]domain.LineItem, error) {
	refreshed := make([]domain.LineItem, 0, len(items))
	for _, item := range items {
		product, err := s.repo.GetProduct(ctx, outletID, item.ProductID)
		ceiling := 0
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("load product %s: %w", item.ProductID, err)
		case item.VariantID != "":
			if variant, ok := product.Variant(item.VariantID); ok {
				ceiling = variant.Stock
			}
		default:
			ceiling = product.Stock
		}
		if item.Quantity > ceiling {
			return nil, &domain.InsufficientStockError{Key: item.Key(), Requested: item.Quantity, Ceiling: ceiling}
		}
		item.StockCeiling = ceiling
		refreshed = append(refreshed, item)
	}
	return refreshed, nil
}

// Delete discards a held order. Deleted orders cannot be resumed.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.repo.TransitionHeldOrder(ctx, id, domain.HeldStatusHeld, domain.HeldStatusDeleted, s.now())
	if errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("%s: %w", id, ErrNotHeld)
	}
	if err != nil {
		return fmt.Errorf("delete held order %s: %w", id, err)
	}
	s.logger.Info("held order deleted", zap.String("held_id", id))
	return nil
}

// Complete marks a resumed order as sold. Failures are logged and returned
// for the caller to ignore; the sale itself is already recorded.
func (s *Store) Complete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if _, err := s.repo.TransitionHeldOrder(ctx, id, domain.HeldStatusResumed, domain.HeldStatusCompleted, s.now()); err != nil {
		s.logger.Warn("failed to mark held order completed", zap.String("held_id", id), zap.Error(err))
		return err
	}
	return nil
}

func (s *Store) List(ctx context.Context, outletID string, limit int) ([]domain.HeldOrder, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.repo.ListHeldOrders(ctx, outletID, domain.HeldStatusHeld, limit)
}

// Expire deletes orders held since before the cutoff.
func (s *Store) Expire(ctx context.Context, before time.Time) (int, error) {
	n, err := s.repo.ExpireHeldOrders(ctx, before, s.now())
	if err != nil {
		return 0, fmt.Errorf("expire held orders: %w", err)
	}
	if n > 0 {
		s.logger.Info("expired stale held orders", zap.Int("count", n), zap.Time("before", before))
	}
	return n, nil
}
