package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/store"
	"kasirinaja/pos/internal/xid"
)

const DefaultOutletID = "main-outlet"

type Store struct {
	mu                sync.RWMutex
	products          map[string]domain.Product
	inventory         map[string]map[string]int
	taxPolicies       map[string]domain.TaxPolicy
	customers         map[string]domain.Customer
	transactionsByInv map[string]*domain.Transaction
	shiftsByID        map[string]domain.Shift
	activeShiftByKey  map[string]string
	heldOrdersByID    map[string]domain.HeldOrder
	auditLogs         []domain.AuditLog
	usersByUsername   map[string]domain.UserAccount
}

// DefaultCredentialsInUse reports whether seeded accounts fall back to the
// dev passwords because SEED_ADMIN_PASSWORD or SEED_CASHIER_PASSWORD is unset.
func DefaultCredentialsInUse() bool {
	return os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == ""
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD, SEED_SUPERVISOR_PASSWORD
// and SEED_CASHIER_PASSWORD, falling back to dev defaults.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	supervisorPwd := envOr("SEED_SUPERVISOR_PASSWORD", "supervisor123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"supervisor", supervisorPwd, domain.RoleSupervisor},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			panic(fmt.Sprintf("memory store: hash seed password for %s: %v", u.username, err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func rupiah(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func NewSeeded() *Store {
	products := []domain.Product{
		{ID: "SKU-MIE-01", SKU: "SKU-MIE-01", Name: "Mie Goreng Instan", Category: "grocery", Price: rupiah(3500), Active: true},
		{ID: "SKU-TELUR-01", SKU: "SKU-TELUR-01", Name: "Telur 10 Butir", Category: "grocery", Price: rupiah(26500), Active: true},
		{ID: "SKU-SUSU-01", SKU: "SKU-SUSU-01", Name: "Susu UHT 1L", Category: "dairy", Price: rupiah(18900), Active: true},
		{ID: "SKU-ROTI-01", SKU: "SKU-ROTI-01", Name: "Roti Tawar", Category: "bakery", Price: rupiah(17800), Active: true},
		{ID: "SKU-KOPI-01", SKU: "SKU-KOPI-01", Name: "Kopi Sachet", Category: "beverage", Price: rupiah(2600), Active: true},
		{ID: "SKU-GULA-01", SKU: "SKU-GULA-01", Name: "Gula 1kg", Category: "grocery", Price: rupiah(17400), Active: true},
		{ID: "SKU-AIR-01", SKU: "SKU-AIR-01", Name: "Air Mineral 600ml", Category: "beverage", Price: rupiah(3900), Active: true},
		{ID: "SKU-KERIPIK-01", SKU: "SKU-KERIPIK-01", Name: "Keripik Singkong", Category: "snack", Price: rupiah(12800), Active: true},
		{ID: "SKU-SABUN-01", SKU: "SKU-SABUN-01", Name: "Sabun Mandi", Category: "household", Price: rupiah(7400), Active: true},
		{
			ID: "SKU-KAOS-01", SKU: "SKU-KAOS-01", Name: "Kaos Polos", Category: "apparel", Price: rupiah(45000), Active: true,
			Variants: []domain.Variant{
				{ID: "M", Name: "M", Price: rupiah(45000)},
				{ID: "L", Name: "L", Price: rupiah(45000)},
				{ID: "XL", Name: "XL", Price: rupiah(50000)},
			},
		},
	}

	productMap := make(map[string]domain.Product, len(products))
	stock := make(map[string]int)
	for _, p := range products {
		productMap[p.ID] = p
		if p.HasVariants() {
			for _, v := range p.Variants {
				stock[stockKey(p.ID, v.ID)] = 20
			}
			continue
		}
		stock[stockKey(p.ID, "")] = 120
	}

	return &Store{
		products:  productMap,
		inventory: map[string]map[string]int{DefaultOutletID: stock},
		taxPolicies: map[string]domain.TaxPolicy{
			DefaultOutletID: {Enabled: true, Name: "PPN", RatePercent: decimal.NewFromInt(11), Inclusive: false},
		},
		customers: map[string]domain.Customer{
			"CUST-GOLD-01":   {ID: "CUST-GOLD-01", Name: "Sari Wulandari", Tier: "gold", DiscountPercent: decimal.NewFromInt(10)},
			"CUST-SILVER-01": {ID: "CUST-SILVER-01", Name: "Budi Santoso", Tier: "silver", DiscountPercent: decimal.NewFromInt(5)},
			"CUST-REG-01":    {ID: "CUST-REG-01", Name: "Dewi Lestari", Tier: "regular", DiscountPercent: decimal.Zero},
		},
		transactionsByInv: make(map[string]*domain.Transaction),
		shiftsByID:        make(map[string]domain.Shift),
		activeShiftByKey:  make(map[string]string),
		heldOrdersByID:    make(map[string]domain.HeldOrder),
		auditLogs:         make([]domain.AuditLog, 0, 128),
		usersByUsername:   seedUsers(),
	}
}

// SetStock overrides the on-hand quantity of a product or variant.
func (s *Store) SetStock(_ context.Context, outletID string, productID string, variantID string, qty int) error {
	if qty < 0 {
		return store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[productID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := s.inventory[outletID]; !ok {
		s.inventory[outletID] = make(map[string]int)
	}
	s.inventory[outletID][stockKey(productID, variantID)] = qty
	return nil
}

// SetTaxPolicy overrides the tax policy of an outlet.
func (s *Store) SetTaxPolicy(_ context.Context, outletID string, policy domain.TaxPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taxPolicies[outletID] = policy
}

func (s *Store) ListProducts(_ context.Context, outletID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, s.withStock(outletID, p))
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) GetProduct(_ context.Context, outletID string, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[productID]
	if !exists || !product.Active {
		return nil, store.ErrNotFound
	}
	withStock := s.withStock(outletID, product)
	return &withStock, nil
}

// withStock must be called with mu held.
func (s *Store) withStock(outletID string, p domain.Product) domain.Product {
	stock := s.inventory[outletID]
	p.Variants = slices.Clone(p.Variants)
	if p.HasVariants() {
		total := 0
		for i := range p.Variants {
			p.Variants[i].Stock = stock[stockKey(p.ID, p.Variants[i].ID)]
			total += p.Variants[i].Stock
		}
		p.Stock = total
		return p
	}
	p.Stock = stock[stockKey(p.ID, "")]
	return p
}

func (s *Store) GetTaxPolicy(_ context.Context, outletID string) (domain.TaxPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.taxPolicies[outletID], nil
}

func (s *Store) CommitTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.InvoiceNumber == "" || len(tx.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if existing, ok := s.transactionsByInv[tx.InvoiceNumber]; ok {
		if !store.SameSale(existing, &tx) {
			return nil, fmt.Errorf("invoice %s belongs to another sale: %w", tx.InvoiceNumber, store.ErrConflict)
		}
		return cloneTransaction(existing), nil
	}

	outletStock, ok := s.inventory[tx.OutletID]
	if !ok {
		return nil, fmt.Errorf("outlet %s unavailable", tx.OutletID)
	}

	needed := make(map[string]int, len(tx.Items))
	for _, item := range tx.Items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidTransaction
		}
		needed[stockKey(item.ProductID, item.VariantID)] += item.Quantity
	}
	for key, qty := range needed {
		if outletStock[key] < qty {
			return nil, fmt.Errorf("%s: %w", key, store.ErrInsufficientStock)
		}
	}

	var shift domain.Shift
	if tx.ShiftID != "" {
		shift, ok = s.shiftsByID[tx.ShiftID]
		if !ok || !shift.IsOpen() {
			return nil, fmt.Errorf("shift %s is not open: %w", tx.ShiftID, store.ErrNotFound)
		}
	}

	for key, qty := range needed {
		outletStock[key] -= qty
	}
	if tx.ShiftID != "" {
		shift.CashSalesTotal = shift.CashSalesTotal.Add(tx.CashSales())
		shift.SaleCount++
		s.shiftsByID[shift.ID] = shift
	}

	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if tx.Status == "" {
		tx.Status = domain.TxStatusCompleted
	}
	txCopy := cloneTransaction(&tx)
	s.transactionsByInv[tx.InvoiceNumber] = txCopy

	return cloneTransaction(txCopy), nil
}

func (s *Store) FindTransaction(_ context.Context, invoiceNumber string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactionsByInv[invoiceNumber]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *Store) CreateShift(_ context.Context, shift domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(shift.OutletID) == "" || strings.TrimSpace(shift.EmployeeID) == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := shiftMapKey(shift.OutletID, shift.EmployeeID)
	if _, exists := s.activeShiftByKey[key]; exists {
		return nil, store.ErrConflict
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpen
	shift.CashSalesTotal = decimal.Zero
	shift.ClosedAt = nil

	s.shiftsByID[shift.ID] = shift
	s.activeShiftByKey[key] = shift.ID
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) CloseActiveShift(_ context.Context, outletID string, employeeID string, endingCash decimal.Decimal, notes string, closedAt time.Time) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := shiftMapKey(outletID, employeeID)
	shiftID, exists := s.activeShiftByKey[key]
	if !exists {
		return nil, store.ErrNotFound
	}
	shift, exists := s.shiftsByID[shiftID]
	if !exists || !shift.IsOpen() {
		return nil, store.ErrNotFound
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	shift.Close(endingCash, notes, closedAt)

	delete(s.activeShiftByKey, key)
	s.shiftsByID[shiftID] = shift
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) GetActiveShift(_ context.Context, outletID string, employeeID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shiftID, exists := s.activeShiftByKey[shiftMapKey(outletID, employeeID)]
	if !exists {
		return nil, store.ErrNotFound
	}
	shift, exists := s.shiftsByID[shiftID]
	if !exists || !shift.IsOpen() {
		return nil, store.ErrNotFound
	}
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) CreateHeldOrder(_ context.Context, order domain.HeldOrder) (*domain.HeldOrder, error) {
	if strings.TrimSpace(order.OutletID) == "" || len(order.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if order.ID == "" {
		order.ID = xid.New("held")
	}
	if _, exists := s.heldOrdersByID[order.ID]; exists {
		return nil, store.ErrConflict
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.UpdatedAt = order.CreatedAt
	order.Status = domain.HeldStatusHeld
	saved := cloneHeldOrder(order)
	s.heldOrdersByID[order.ID] = saved
	return ptr(cloneHeldOrder(saved)), nil
}

func (s *Store) GetHeldOrder(_ context.Context, id string) (*domain.HeldOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, exists := s.heldOrdersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return ptr(cloneHeldOrder(order)), nil
}

func (s *Store) ListHeldOrders(_ context.Context, outletID string, status domain.HeldStatus, limit int) ([]domain.HeldOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.HeldOrder, 0, len(s.heldOrdersByID))
	for _, order := range s.heldOrdersByID {
		if order.OutletID != outletID || order.Status != status {
			continue
		}
		orders = append(orders, cloneHeldOrder(order))
	}
	slices.SortFunc(orders, func(a, b domain.HeldOrder) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (s *Store) TransitionHeldOrder(_ context.Context, id string, from domain.HeldStatus, to domain.HeldStatus, at time.Time) (*domain.HeldOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, exists := s.heldOrdersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if order.Status != from {
		return nil, fmt.Errorf("held order %s is %s, not %s: %w", id, order.Status, from, store.ErrConflict)
	}
	order.Status = to
	order.UpdatedAt = at
	s.heldOrdersByID[id] = order
	return ptr(cloneHeldOrder(order)), nil
}

func (s *Store) ExpireHeldOrders(_ context.Context, heldBefore time.Time, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for id, order := range s.heldOrdersByID {
		if order.Status != domain.HeldStatusHeld || !order.CreatedAt.Before(heldBefore) {
			continue
		}
		order.Status = domain.HeldStatusDeleted
		order.UpdatedAt = at
		s.heldOrdersByID[id] = order
		expired++
	}
	return expired, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customers[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) AddCustomerPoints(_ context.Context, id string, points int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, exists := s.customers[id]
	if !exists {
		return 0, store.ErrNotFound
	}
	customer.Points += points
	s.customers[id] = customer
	return customer.Points, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, outletID string, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		if outletID != "" && s.auditLogs[i].OutletID != outletID {
			continue
		}
		logs = append(logs, s.auditLogs[i])
		if limit > 0 && len(logs) == limit {
			break
		}
	}
	return logs, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func stockKey(productID string, variantID string) string {
	return domain.LineKey{ProductID: productID, VariantID: variantID}.String()
}

func shiftMapKey(outletID string, employeeID string) string {
	return strings.TrimSpace(outletID) + "::" + strings.TrimSpace(employeeID)
}

func ptr[T any](v T) *T {
	return &v
}

func cloneTransaction(src *domain.Transaction) *domain.Transaction {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Items = slices.Clone(src.Items)
	dst.Payments = slices.Clone(src.Payments)
	return &dst
}

func cloneHeldOrder(src domain.HeldOrder) domain.HeldOrder {
	dst := src
	dst.Items = slices.Clone(src.Items)
	return dst
}
