package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/pos/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	// ErrConflict reports a uniqueness or state-transition conflict.
	ErrConflict = errors.New("conflict")
)

// Catalog is the read side used to price and bound cart lines.
type Catalog interface {
	ListProducts(ctx context.Context, outletID string) ([]domain.Product, error)
	GetProduct(ctx context.Context, outletID string, productID string) (*domain.Product, error)
}

type Repository interface {
	Catalog
	GetTaxPolicy(ctx context.Context, outletID string) (domain.TaxPolicy, error)

	// CommitTransaction records the sale, decrements stock and accrues the
	// shift cash total in one atomic step. Stock is re-validated at commit;
	// a shortfall aborts everything with ErrInsufficientStock. Committing
	// the same sale again under its invoice returns the stored transaction;
	// a different sale under a taken invoice fails with ErrConflict.
	CommitTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	FindTransaction(ctx context.Context, invoiceNumber string) (*domain.Transaction, error)

	CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	GetActiveShift(ctx context.Context, outletID string, employeeID string) (*domain.Shift, error)
	CloseActiveShift(ctx context.Context, outletID string, employeeID string, endingCash decimal.Decimal, notes string, closedAt time.Time) (*domain.Shift, error)

	CreateHeldOrder(ctx context.Context, order domain.HeldOrder) (*domain.HeldOrder, error)
	GetHeldOrder(ctx context.Context, id string) (*domain.HeldOrder, error)
	ListHeldOrders(ctx context.Context, outletID string, status domain.HeldStatus, limit int) ([]domain.HeldOrder, error)
	// TransitionHeldOrder moves an order from one status to another and
	// fails with ErrConflict when the order is not in the expected status.
	TransitionHeldOrder(ctx context.Context, id string, from domain.HeldStatus, to domain.HeldStatus, at time.Time) (*domain.HeldOrder, error)
	ExpireHeldOrders(ctx context.Context, heldBefore time.Time, at time.Time) (int, error)

	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	AddCustomerPoints(ctx context.Context, id string, points int) (int, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, outletID string, limit int) ([]domain.AuditLog, error)

	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// SameSale reports whether incoming replays the stored transaction rather
// than being another sale that drew the same invoice number.
func SameSale(stored, incoming *domain.Transaction) bool {
	if stored.OutletID != incoming.OutletID || stored.TerminalID != incoming.TerminalID {
		return false
	}
	if !stored.Total.Equal(incoming.Total) {
		return false
	}
	qty := make(map[domain.LineKey]int, len(stored.Items))
	for _, item := range stored.Items {
		qty[item.Key()] += item.Quantity
	}
	for _, item := range incoming.Items {
		qty[item.Key()] -= item.Quantity
	}
	for _, n := range qty {
		if n != 0 {
			return false
		}
	}
	return true
}
