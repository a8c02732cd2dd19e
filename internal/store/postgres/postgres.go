package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/store"
	"kasirinaja/pos/internal/xid"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates missing tables and indexes. It is safe to run on every
// start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context, outletID string) ([]domain.Product, error) {
	return s.queryProducts(ctx, outletID, "")
}

func (s *Store) GetProduct(ctx context.Context, outletID string, productID string) (*domain.Product, error) {
	products, err := s.queryProducts(ctx, outletID, productID)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, store.ErrNotFound
	}
	return &products[0], nil
}

// queryProducts loads active products with stock at the outlet, limited to
// one product when productID is set.
func (s *Store) queryProducts(ctx context.Context, outletID string, productID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.sku, p.name, p.category, p.price, p.active, COALESCE(st.qty, 0)
		FROM products p
		LEFT JOIN inventory_stocks st
			ON st.product_id = p.id AND st.variant_id = '' AND st.outlet_id = $1
		WHERE p.active = true AND ($2 = '' OR p.id = $2)
		ORDER BY p.category, p.name
	`, outletID, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	index := make(map[string]int)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.Price, &p.Active, &p.Stock); err != nil {
			return nil, err
		}
		index[p.ID] = len(products)
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return products, nil
	}

	variantRows, err := s.db.QueryContext(ctx, `
		SELECT v.product_id, v.variant_id, v.name, v.price, COALESCE(st.qty, 0)
		FROM product_variants v
		JOIN products p ON p.id = v.product_id AND p.active = true
		LEFT JOIN inventory_stocks st
			ON st.product_id = v.product_id AND st.variant_id = v.variant_id AND st.outlet_id = $1
		WHERE ($2 = '' OR v.product_id = $2)
		ORDER BY v.product_id, v.position, v.variant_id
	`, outletID, productID)
	if err != nil {
		return nil, err
	}
	defer variantRows.Close()

	for variantRows.Next() {
		var productID string
		var v domain.Variant
		if err := variantRows.Scan(&productID, &v.ID, &v.Name, &v.Price, &v.Stock); err != nil {
			return nil, err
		}
		i, ok := index[productID]
		if !ok {
			continue
		}
		if len(products[i].Variants) == 0 {
			products[i].Stock = 0
		}
		products[i].Variants = append(products[i].Variants, v)
		products[i].Stock += v.Stock
	}
	if err := variantRows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetTaxPolicy(ctx context.Context, outletID string) (domain.TaxPolicy, error) {
	var policy domain.TaxPolicy
	err := s.db.QueryRowContext(ctx, `
		SELECT enabled, name, rate_percent, inclusive
		FROM tax_policies
		WHERE outlet_id = $1
	`, outletID).Scan(&policy.Enabled, &policy.Name, &policy.RatePercent, &policy.Inclusive)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TaxPolicy{}, nil
	}
	if err != nil {
		return domain.TaxPolicy{}, err
	}
	return policy, nil
}

func (s *Store) CommitTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if tx.InvoiceNumber == "" || len(tx.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if existing, err := s.FindTransaction(ctx, tx.InvoiceNumber); err == nil {
		return replay(existing, &tx)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	needed := make(map[domain.LineKey]int, len(tx.Items))
	for _, item := range tx.Items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidTransaction
		}
		needed[item.Key()] += item.Quantity
	}
	keys := make([]domain.LineKey, 0, len(needed))
	for key := range needed {
		keys = append(keys, key)
	}
	// Lock in a fixed order so concurrent commits cannot deadlock.
	slices.SortFunc(keys, func(a, b domain.LineKey) int {
		return strings.Compare(a.String(), b.String())
	})

	for _, key := range keys {
		var qty int
		err := pgTx.QueryRowContext(ctx, `
			SELECT qty
			FROM inventory_stocks
			WHERE outlet_id = $1 AND product_id = $2 AND variant_id = $3
			FOR UPDATE
		`, tx.OutletID, key.ProductID, key.VariantID).Scan(&qty)
		if errors.Is(err, sql.ErrNoRows) {
			qty = 0
		} else if err != nil {
			return nil, err
		}
		if qty < needed[key] {
			return nil, fmt.Errorf("%s: requested %d, available %d: %w", key, needed[key], qty, store.ErrInsufficientStock)
		}
	}
	for _, key := range keys {
		_, err := pgTx.ExecContext(ctx, `
			UPDATE inventory_stocks
			SET qty = qty - $1, updated_at = now()
			WHERE outlet_id = $2 AND product_id = $3 AND variant_id = $4
		`, needed[key], tx.OutletID, key.ProductID, key.VariantID)
		if err != nil {
			return nil, err
		}
	}

	if tx.ShiftID != "" {
		res, err := pgTx.ExecContext(ctx, `
			UPDATE shifts
			SET cash_sales_total = cash_sales_total + $2, sale_count = sale_count + 1
			WHERE id = $1 AND status = 'open'
		`, tx.ShiftID, tx.CashSales())
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, fmt.Errorf("shift %s is not open: %w", tx.ShiftID, store.ErrNotFound)
		}
	}

	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if tx.Status == "" {
		tx.Status = domain.TxStatusCompleted
	}
	if tx.PaymentStatus == "" {
		tx.PaymentStatus = domain.PaymentStatusPaid
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO transactions (
			invoice_number, outlet_id, terminal_id, shift_id, shift_employee_id, customer_id,
			subtotal, discount, tax, tax_name, tax_rate_percent, tax_inclusive, total,
			payment_status, status, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, tx.InvoiceNumber, tx.OutletID, tx.TerminalID, nullIfEmpty(tx.ShiftID), tx.ShiftEmployeeID, nullIfEmpty(tx.CustomerID),
		tx.Subtotal, tx.Discount, tx.Tax, tx.TaxName, tx.TaxRatePercent, tx.TaxInclusive, tx.Total,
		string(tx.PaymentStatus), tx.Status, tx.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			_ = pgTx.Rollback()
			existing, ferr := s.FindTransaction(ctx, tx.InvoiceNumber)
			if ferr != nil {
				return nil, ferr
			}
			return replay(existing, &tx)
		}
		return nil, err
	}

	for _, item := range tx.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO transaction_items (invoice_number, product_id, variant_id, name, unit_price, qty)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, tx.InvoiceNumber, item.ProductID, item.VariantID, item.Name, item.UnitPrice, item.Quantity)
		if err != nil {
			return nil, err
		}
	}
	for _, p := range tx.Payments {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO transaction_payments (invoice_number, method_id, kind, amount, gateway_ref, manual_account_ref)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, tx.InvoiceNumber, p.MethodID, string(p.Kind), p.Amount, p.GatewayRef, p.ManualAccountRef)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &tx, nil
}

func replay(existing, incoming *domain.Transaction) (*domain.Transaction, error) {
	if !store.SameSale(existing, incoming) {
		return nil, fmt.Errorf("invoice %s belongs to another sale: %w", incoming.InvoiceNumber, store.ErrConflict)
	}
	return existing, nil
}

func (s *Store) FindTransaction(ctx context.Context, invoiceNumber string) (*domain.Transaction, error) {
	var tx domain.Transaction
	var shiftID, customerID sql.NullString
	var paymentStatus string
	err := s.db.QueryRowContext(ctx, `
		SELECT invoice_number, outlet_id, terminal_id, shift_id, shift_employee_id, customer_id,
			subtotal, discount, tax, tax_name, tax_rate_percent, tax_inclusive, total,
			payment_status, status, created_at
		FROM transactions
		WHERE invoice_number = $1
	`, invoiceNumber).Scan(
		&tx.InvoiceNumber,
		&tx.OutletID,
		&tx.TerminalID,
		&shiftID,
		&tx.ShiftEmployeeID,
		&customerID,
		&tx.Subtotal,
		&tx.Discount,
		&tx.Tax,
		&tx.TaxName,
		&tx.TaxRatePercent,
		&tx.TaxInclusive,
		&tx.Total,
		&paymentStatus,
		&tx.Status,
		&tx.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	tx.ShiftID = shiftID.String
	tx.CustomerID = customerID.String
	tx.PaymentStatus = domain.PaymentStatus(paymentStatus)
	tx.CreatedAt = tx.CreatedAt.UTC()

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT product_id, variant_id, name, unit_price, qty
		FROM transaction_items
		WHERE invoice_number = $1
		ORDER BY id ASC
	`, invoiceNumber)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var item domain.LineItem
		if err := itemRows.Scan(&item.ProductID, &item.VariantID, &item.Name, &item.UnitPrice, &item.Quantity); err != nil {
			return nil, err
		}
		tx.Items = append(tx.Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	paymentRows, err := s.db.QueryContext(ctx, `
		SELECT method_id, kind, amount, gateway_ref, manual_account_ref
		FROM transaction_payments
		WHERE invoice_number = $1
		ORDER BY id ASC
	`, invoiceNumber)
	if err != nil {
		return nil, err
	}
	defer paymentRows.Close()
	for paymentRows.Next() {
		var p domain.PaymentAllocation
		var kind string
		if err := paymentRows.Scan(&p.MethodID, &kind, &p.Amount, &p.GatewayRef, &p.ManualAccountRef); err != nil {
			return nil, err
		}
		p.Kind = domain.PaymentKind(kind)
		tx.Payments = append(tx.Payments, p)
	}
	if err := paymentRows.Err(); err != nil {
		return nil, err
	}

	return &tx, nil
}

const shiftColumns = `id, outlet_id, employee_id, starting_cash, cash_sales_total, sale_count,
	ending_cash, expected_cash, difference, notes, status, opened_at, closed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShift(row rowScanner) (*domain.Shift, error) {
	var shift domain.Shift
	var expected, difference decimal.NullDecimal
	var closedAt sql.NullTime
	err := row.Scan(
		&shift.ID,
		&shift.OutletID,
		&shift.EmployeeID,
		&shift.StartingCash,
		&shift.CashSalesTotal,
		&shift.SaleCount,
		&shift.EndingCash,
		&expected,
		&difference,
		&shift.Notes,
		&shift.Status,
		&shift.OpenedAt,
		&closedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	shift.ExpectedCash = expected.Decimal
	shift.Difference = difference.Decimal
	shift.OpenedAt = shift.OpenedAt.UTC()
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		shift.ClosedAt = &at
	}
	return &shift, nil
}

func (s *Store) CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(shift.OutletID) == "" || strings.TrimSpace(shift.EmployeeID) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}

	saved, err := scanShift(s.db.QueryRowContext(ctx, `
		INSERT INTO shifts (id, outlet_id, employee_id, starting_cash, status, opened_at)
		VALUES ($1,$2,$3,$4,'open',$5)
		RETURNING `+shiftColumns,
		shift.ID, shift.OutletID, shift.EmployeeID, shift.StartingCash, shift.OpenedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return saved, nil
}

func (s *Store) GetActiveShift(ctx context.Context, outletID string, employeeID string) (*domain.Shift, error) {
	return scanShift(s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE outlet_id = $1 AND employee_id = $2 AND status = 'open'
	`, outletID, employeeID))
}

// CloseActiveShift reconciles in a single statement so a sale committing
// concurrently is either counted or rejected, never lost.
func (s *Store) CloseActiveShift(ctx context.Context, outletID string, employeeID string, endingCash decimal.Decimal, notes string, closedAt time.Time) (*domain.Shift, error) {
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	return scanShift(s.db.QueryRowContext(ctx, `
		UPDATE shifts
		SET status = 'closed',
			ending_cash = $3,
			expected_cash = starting_cash + cash_sales_total,
			difference = $3 - (starting_cash + cash_sales_total),
			notes = $4,
			closed_at = $5
		WHERE outlet_id = $1 AND employee_id = $2 AND status = 'open'
		RETURNING `+shiftColumns,
		outletID, employeeID, endingCash, notes, closedAt))
}

const heldColumns = `id, outlet_id, terminal_id, employee_id, customer_id, items, notes, total_amount, status, created_at, updated_at`

func scanHeldOrder(row rowScanner) (*domain.HeldOrder, error) {
	var order domain.HeldOrder
	var customerID sql.NullString
	var items []byte
	var status string
	err := row.Scan(
		&order.ID,
		&order.OutletID,
		&order.TerminalID,
		&order.EmployeeID,
		&customerID,
		&items,
		&order.Notes,
		&order.TotalAmount,
		&status,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(items, &order.Items); err != nil {
		return nil, fmt.Errorf("decode held order %s items: %w", order.ID, err)
	}
	order.CustomerID = customerID.String
	order.Status = domain.HeldStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return &order, nil
}

func (s *Store) CreateHeldOrder(ctx context.Context, order domain.HeldOrder) (*domain.HeldOrder, error) {
	if strings.TrimSpace(order.OutletID) == "" || len(order.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if order.ID == "" {
		order.ID = xid.New("held")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	items, err := json.Marshal(order.Items)
	if err != nil {
		return nil, err
	}

	saved, err := scanHeldOrder(s.db.QueryRowContext(ctx, `
		INSERT INTO held_orders (id, outlet_id, terminal_id, employee_id, customer_id, items, notes, total_amount, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
		RETURNING `+heldColumns,
		order.ID, order.OutletID, order.TerminalID, order.EmployeeID, nullIfEmpty(order.CustomerID),
		items, order.Notes, order.TotalAmount, string(domain.HeldStatusHeld), order.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return saved, nil
}

func (s *Store) GetHeldOrder(ctx context.Context, id string) (*domain.HeldOrder, error) {
	return scanHeldOrder(s.db.QueryRowContext(ctx, `
		SELECT `+heldColumns+`
		FROM held_orders
		WHERE id = $1
	`, id))
}

func (s *Store) ListHeldOrders(ctx context.Context, outletID string, status domain.HeldStatus, limit int) ([]domain.HeldOrder, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+heldColumns+`
		FROM held_orders
		WHERE outlet_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, outletID, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.HeldOrder, 0, limit)
	for rows.Next() {
		order, err := scanHeldOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) TransitionHeldOrder(ctx context.Context, id string, from domain.HeldStatus, to domain.HeldStatus, at time.Time) (*domain.HeldOrder, error) {
	order, err := scanHeldOrder(s.db.QueryRowContext(ctx, `
		UPDATE held_orders
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING `+heldColumns,
		id, string(from), string(to), at))
	if !errors.Is(err, store.ErrNotFound) {
		return order, err
	}

	var current string
	lookupErr := s.db.QueryRowContext(ctx, `SELECT status FROM held_orders WHERE id = $1`, id).Scan(&current)
	if errors.Is(lookupErr, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if lookupErr != nil {
		return nil, lookupErr
	}
	return nil, fmt.Errorf("held order %s is %s, not %s: %w", id, current, from, store.ErrConflict)
}

func (s *Store) ExpireHeldOrders(ctx context.Context, heldBefore time.Time, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE held_orders
		SET status = $3, updated_at = $2
		WHERE status = $4 AND created_at < $1
	`, heldBefore, at, string(domain.HeldStatusDeleted), string(domain.HeldStatusHeld))
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, tier, discount_percent, points
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Tier, &c.DiscountPercent, &c.Points)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) AddCustomerPoints(ctx context.Context, id string, points int) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET points = points + $2
		WHERE id = $1
		RETURNING points
	`, id, points).Scan(&total)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	return total, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, outlet_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.OutletID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, outletID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, outlet_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR outlet_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, outletID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.OutletID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
