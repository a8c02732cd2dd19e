// Package shift opens and reconciles cashier shifts.
package shift

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/store"
)

var ErrNegativeCash = errors.New("cash amount must not be negative")

type Repository interface {
	CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	GetActiveShift(ctx context.Context, outletID string, employeeID string) (*domain.Shift, error)
	CloseActiveShift(ctx context.Context, outletID string, employeeID string, endingCash decimal.Decimal, notes string, closedAt time.Time) (*domain.Shift, error)
}

// Manager keeps at most one open shift per employee and outlet. Cash sales
// are accrued by the store as part of each committed transaction.
type Manager struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

func NewManager(repo Repository, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		repo:   repo,
		logger: logger.Named("shift"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) Open(ctx context.Context, outletID string, employeeID string, startingCash decimal.Decimal) (*domain.Shift, error) {
	outletID = strings.TrimSpace(outletID)
	employeeID = strings.TrimSpace(employeeID)
	if outletID == "" || employeeID == "" {
		return nil, fmt.Errorf("outlet and employee are required: %w", store.ErrInvalidTransaction)
	}
	if startingCash.IsNegative() {
		return nil, ErrNegativeCash
	}

	opened, err := m.repo.CreateShift(ctx, domain.Shift{
		OutletID:     outletID,
		EmployeeID:   employeeID,
		StartingCash: startingCash,
		OpenedAt:     m.now(),
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, domain.ErrShiftAlreadyOpen
	}
	if err != nil {
		return nil, fmt.Errorf("open shift: %w", err)
	}

	m.logger.Info("shift opened",
		zap.String("shift_id", opened.ID),
		zap.String("outlet_id", outletID),
		zap.String("employee_id", employeeID),
		zap.String("starting_cash", startingCash.StringFixed(2)),
	)
	return opened, nil
}

// Active returns the open shift of the employee at the outlet.
func (m *Manager) Active(ctx context.Context, outletID string, employeeID string) (*domain.Shift, error) {
	active, err := m.repo.GetActiveShift(ctx, outletID, employeeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.ErrShiftNotOpen
	}
	if err != nil {
		return nil, fmt.Errorf("load active shift: %w", err)
	}
	return active, nil
}

// Close counts the drawer against startingCash plus cash sales. The
// difference is recorded as-is; closing never adjusts figures.
func (m *Manager) Close(ctx context.Context, outletID string, employeeID string, endingCash decimal.Decimal, notes string) (*domain.Shift, error) {
	if endingCash.IsNegative() {
		return nil, ErrNegativeCash
	}

	closed, err := m.repo.CloseActiveShift(ctx, outletID, employeeID, endingCash, strings.TrimSpace(notes), m.now())
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.ErrShiftNotOpen
	}
	if err != nil {
		return nil, fmt.Errorf("close shift: %w", err)
	}

	fields := []zap.Field{
		zap.String("shift_id", closed.ID),
		zap.String("expected_cash", closed.ExpectedCash.StringFixed(2)),
		zap.String("ending_cash", endingCash.StringFixed(2)),
		zap.String("difference", closed.Difference.StringFixed(2)),
		zap.Int("sale_count", closed.SaleCount),
	}
	if closed.Difference.IsZero() {
		m.logger.Info("shift closed", fields...)
	} else {
		m.logger.Warn("shift closed with cash difference", fields...)
	}
	return closed, nil
}
