package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Variant struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

// Product is the catalog view used to price and bound line items. Stock is
// the on-hand quantity at the requested outlet.
type Product struct {
	ID       string          `json:"id"`
	SKU      string          `json:"sku"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	Active   bool            `json:"active"`
	Variants []Variant       `json:"variants,omitempty"`
}

func (p Product) HasVariants() bool {
	return len(p.Variants) > 0
}

func (p Product) Variant(id string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

type TaxPolicy struct {
	Enabled     bool            `json:"enabled"`
	Name        string          `json:"name"`
	RatePercent decimal.Decimal `json:"rate_percent"`
	Inclusive   bool            `json:"inclusive"`
}

type Customer struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Tier            string          `json:"tier"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Points          int             `json:"points"`
}

type PaymentStatus string

const (
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusPending PaymentStatus = "pending"
)

const TxStatusCompleted = "completed"

// Transaction is written once by the finalizer and never updated.
type Transaction struct {
	InvoiceNumber   string              `json:"invoice_number"`
	OutletID        string              `json:"outlet_id"`
	TerminalID      string              `json:"terminal_id"`
	ShiftID         string              `json:"shift_id,omitempty"`
	ShiftEmployeeID string              `json:"shift_employee_id,omitempty"`
	CustomerID      string              `json:"customer_id,omitempty"`
	Items           []LineItem          `json:"items"`
	Subtotal        decimal.Decimal     `json:"subtotal"`
	Discount        decimal.Decimal     `json:"discount"`
	Tax             decimal.Decimal     `json:"tax"`
	TaxName         string              `json:"tax_name,omitempty"`
	TaxRatePercent  decimal.Decimal     `json:"tax_rate_percent"`
	TaxInclusive    bool                `json:"tax_inclusive"`
	Total           decimal.Decimal     `json:"total_amount"`
	Payments        []PaymentAllocation `json:"payments"`
	PaymentStatus   PaymentStatus       `json:"payment_status"`
	Status          string              `json:"status"`
	CreatedAt       time.Time           `json:"created_at"`
}

// CashSales is the part of the sale that lands in the cash drawer.
func (t Transaction) CashSales() decimal.Decimal {
	sum := decimal.Zero
	for _, p := range t.Payments {
		if p.Kind == PaymentCash {
			sum = sum.Add(p.Amount)
		}
	}
	return sum
}

const (
	ShiftStatusOpen   = "open"
	ShiftStatusClosed = "closed"
)

type Shift struct {
	ID             string              `json:"id"`
	EmployeeID     string              `json:"employee_id"`
	OutletID       string              `json:"outlet_id"`
	StartingCash   decimal.Decimal     `json:"starting_cash"`
	CashSalesTotal decimal.Decimal     `json:"cash_sales_total"`
	SaleCount      int                 `json:"sale_count"`
	EndingCash     decimal.NullDecimal `json:"ending_cash"`
	ExpectedCash   decimal.Decimal     `json:"expected_cash"`
	Difference     decimal.Decimal     `json:"difference"`
	Notes          string              `json:"notes,omitempty"`
	Status         string              `json:"status"`
	OpenedAt       time.Time           `json:"opened_at"`
	ClosedAt       *time.Time          `json:"closed_at,omitempty"`
}

func (s Shift) IsOpen() bool {
	return s.Status == ShiftStatusOpen
}

// Close reconciles the drawer and moves the shift to its terminal state.
// A non-zero Difference is recorded as-is.
func (s *Shift) Close(endingCash decimal.Decimal, notes string, at time.Time) {
	s.ExpectedCash = s.StartingCash.Add(s.CashSalesTotal)
	s.Difference = endingCash.Sub(s.ExpectedCash)
	s.EndingCash = decimal.NewNullDecimal(endingCash)
	s.Notes = notes
	s.Status = ShiftStatusClosed
	s.ClosedAt = &at
}

type HeldStatus string

const (
	HeldStatusHeld      HeldStatus = "held"
	HeldStatusResumed   HeldStatus = "resumed"
	HeldStatusDeleted   HeldStatus = "deleted"
	HeldStatusCompleted HeldStatus = "completed"
)

type HeldOrder struct {
	ID          string          `json:"id"`
	OutletID    string          `json:"outlet_id"`
	TerminalID  string          `json:"terminal_id"`
	EmployeeID  string          `json:"employee_id"`
	CustomerID  string          `json:"customer_id,omitempty"`
	Items       []LineItem      `json:"items"`
	Notes       string          `json:"notes,omitempty"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      HeldStatus      `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	OutletID      string    `json:"outlet_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}
