package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"saldopos/backend/internal/domain"
	"saldopos/backend/internal/store"
	"saldopos/backend/internal/xid"
)

// Store is the in-memory repository used by tests and dev mode. One mutex
// serializes all mutations, which trivially satisfies the
// single-writer-per-account requirement.
type Store struct {
	mu              sync.RWMutex
	customers       map[string]domain.Customer
	customerTypes   map[string]domain.CustomerType
	products        map[string]domain.Product
	productsByCode  map[string]string
	transactions    map[string]*domain.Transaction
	ledgerOrder     []string
	settings        domain.AppSettings
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		customers:       make(map[string]domain.Customer),
		customerTypes:   make(map[string]domain.CustomerType),
		products:        make(map[string]domain.Product),
		productsByCode:  make(map[string]string),
		transactions:    make(map[string]*domain.Transaction),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory staff accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD; if
// unset, hardcoded dev defaults are used with a warning. These are never used
// in production (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"staff", staffPwd, "staff"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
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

// NewSeeded returns a store preloaded with a small demo catalog and a few
// prepaid accounts.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	for _, ct := range []domain.CustomerType{
		{ID: "type-standard", Name: "Standard"},
		{ID: "type-member", Name: "Member", DiscountPercent: 5},
	} {
		s.customerTypes[ct.ID] = ct
	}

	for _, c := range []domain.Customer{
		{ID: "1001", Name: "Budi Santoso", BalanceCents: 2500, TypeID: "type-standard", CreatedAt: now, UpdatedAt: now},
		{ID: "1002", Name: "Sari Lestari", BalanceCents: 10000, TypeID: "type-member", CreatedAt: now, UpdatedAt: now},
		{ID: "1003", Name: "Agus Wijaya", BalanceCents: 500, DiscountPercent: 10, TypeID: "type-member", CreatedAt: now, UpdatedAt: now},
	} {
		s.customers[c.ID] = c
	}

	for _, p := range []domain.Product{
		{ID: "prd-americano", Name: "Americano", PriceCents: 250, Barcode: "8990000000019", Category: "beverage", Active: true, CreatedAt: now, UpdatedAt: now},
		{ID: "prd-cake", Name: "Marble Cake", PriceCents: 1000, Barcode: "8990000000026", Category: "bakery", Active: true, CreatedAt: now, UpdatedAt: now},
		{ID: "prd-combo", Name: "Lunch Combo", PriceCents: 800, Category: "meal", Active: true, DiscountPercent: 10, DiscountFlatCents: 50, CreatedAt: now, UpdatedAt: now},
		{ID: "prd-retired", Name: "Retired Item", PriceCents: 300, Category: "misc", Active: false, CreatedAt: now, UpdatedAt: now},
		{
			ID: "prd-latte", Name: "Latte", PriceCents: 450, Barcode: "8990000000033", Category: "beverage", Active: true,
			CreatedAt: now, UpdatedAt: now,
			Options: []domain.OptionGroup{
				{
					ID: "grp-size", Name: "Size", Required: true,
					Choices: []domain.OptionChoice{
						{ID: "ch-small", Label: "Small"},
						{ID: "ch-large", Label: "Large", PriceDeltaCents: 75},
					},
				},
				{
					ID: "grp-extras", Name: "Extras", Multiple: true,
					Choices: []domain.OptionChoice{
						{ID: "ch-shot", Label: "Extra Shot", PriceDeltaCents: 50},
						{ID: "ch-syrup", Label: "Syrup", PriceDeltaCents: 30},
					},
				},
			},
		},
	} {
		s.products[p.ID] = p
		if p.Barcode != "" {
			s.productsByCode[p.Barcode] = p.ID
		}
	}

	s.settings = domain.AppSettings{UpdatedAt: now}
	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := customer
	return &copied, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || customer.Name == "" {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.customers[customer.ID]; exists {
		return nil, store.ErrConstraint
	}
	now := time.Now().UTC()
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = now
	}
	customer.UpdatedAt = now
	s.customers[customer.ID] = customer

	created := customer
	return &created, nil
}

func (s *Store) GetCustomerType(ctx context.Context, id string) (*domain.CustomerType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctype, ok := s.customerTypes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := ctype
	return &copied, nil
}

func (s *Store) CreateCustomerType(ctx context.Context, ctype domain.CustomerType) (*domain.CustomerType, error) {
	if ctype.ID == "" || ctype.Name == "" {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.customerTypes[ctype.ID]; exists {
		return nil, store.ErrConstraint
	}
	s.customerTypes[ctype.ID] = ctype

	created := ctype
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := product
	return &copied, nil
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.productsByCode[barcode]
	if !ok {
		return nil, store.ErrNotFound
	}
	product := s.products[id]
	copied := product
	return &copied, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.PriceCents < 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrConstraint
	}
	if product.Barcode != "" {
		if _, exists := s.productsByCode[product.Barcode]; exists {
			return nil, store.ErrConstraint
		}
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now
	s.products[product.ID] = product
	if product.Barcode != "" {
		s.productsByCode[product.Barcode] = product.ID
	}

	created := product
	return &created, nil
}

func (s *Store) GetSettings(ctx context.Context) (domain.AppSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

func (s *Store) UpdateSettings(ctx context.Context, settings domain.AppSettings) (domain.AppSettings, error) {
	if settings.GlobalDiscountPercent < 0 || settings.GlobalDiscountPercent > 100 || settings.GlobalDiscountFlatCents < 0 {
		return domain.AppSettings{}, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	settings.UpdatedAt = time.Now().UTC()
	s.settings = settings
	return s.settings, nil
}

func (s *Store) ApplyTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if tx.CustomerID == "" || !isLedgerType(tx.Type) {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	customer, ok := s.customers[tx.CustomerID]
	if !ok {
		return nil, store.ErrNotFound
	}

	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if _, exists := s.transactions[tx.ID]; exists {
		return nil, store.ErrConstraint
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	balanceAfter := customer.BalanceCents + tx.AmountCents
	if err := store.CheckBalanceGuards(tx.Type, tx.AmountCents, balanceAfter); err != nil {
		return nil, err
	}

	customer.BalanceCents = balanceAfter
	customer.UpdatedAt = time.Now().UTC()
	s.customers[customer.ID] = customer

	tx.BalanceAfterCents = balanceAfter
	stored := tx
	s.transactions[tx.ID] = &stored
	s.ledgerOrder = append(s.ledgerOrder, tx.ID)

	created := stored
	return &created, nil
}

func (s *Store) FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *tx
	return &copied, nil
}

func (s *Store) VoidTransaction(ctx context.Context, id string, note string, at time.Time) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if tx.Voided {
		return nil, store.ErrAlreadyVoided
	}

	customer, ok := s.customers[tx.CustomerID]
	if !ok {
		return nil, store.ErrNotFound
	}

	// Reversal is relative to the live balance; other rows' balance_after
	// snapshots stay untouched.
	customer.BalanceCents -= tx.AmountCents
	customer.UpdatedAt = time.Now().UTC()
	s.customers[customer.ID] = customer

	voidedAt := at.UTC()
	tx.Voided = true
	tx.VoidedAt = &voidedAt
	tx.VoidNote = note

	copied := *tx
	return &copied, nil
}

func (s *Store) UnvoidTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !tx.Voided {
		return nil, store.ErrNotVoided
	}

	customer, ok := s.customers[tx.CustomerID]
	if !ok {
		return nil, store.ErrNotFound
	}

	customer.BalanceCents += tx.AmountCents
	customer.UpdatedAt = time.Now().UTC()
	s.customers[customer.ID] = customer

	tx.Voided = false
	tx.VoidedAt = nil
	tx.VoidNote = ""

	copied := *tx
	return &copied, nil
}

func (s *Store) SetVoidNote(ctx context.Context, id string, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return store.ErrNotFound
	}
	if !tx.Voided {
		return store.ErrNotVoided
	}
	tx.VoidNote = note
	return nil
}

func (s *Store) ListTransactionsByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, limit)
	for i := len(s.ledgerOrder) - 1; i >= 0; i-- {
		tx := s.transactions[s.ledgerOrder[i]]
		if tx.CustomerID != customerID {
			continue
		}
		result = append(result, *tx)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, limit)
	for i := len(s.ledgerOrder) - 1; i >= 0; i-- {
		result = append(result, *s.transactions[s.ledgerOrder[i]])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) ExportSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := &domain.Snapshot{
		ExportedAt:    time.Now().UTC(),
		Settings:      s.settings,
		CustomerTypes: make([]domain.CustomerType, 0, len(s.customerTypes)),
		Customers:     make([]domain.Customer, 0, len(s.customers)),
		Products:      make([]domain.Product, 0, len(s.products)),
		Transactions:  make([]domain.Transaction, 0, len(s.ledgerOrder)),
	}

	for _, ctype := range s.customerTypes {
		snapshot.CustomerTypes = append(snapshot.CustomerTypes, ctype)
	}
	sort.Slice(snapshot.CustomerTypes, func(i, j int) bool { return snapshot.CustomerTypes[i].ID < snapshot.CustomerTypes[j].ID })

	for _, customer := range s.customers {
		snapshot.Customers = append(snapshot.Customers, customer)
	}
	sort.Slice(snapshot.Customers, func(i, j int) bool { return snapshot.Customers[i].ID < snapshot.Customers[j].ID })

	for _, product := range s.products {
		snapshot.Products = append(snapshot.Products, product)
	}
	sort.Slice(snapshot.Products, func(i, j int) bool { return snapshot.Products[i].ID < snapshot.Products[j].ID })

	// Creation order is the ledger's canonical order.
	for _, id := range s.ledgerOrder {
		snapshot.Transactions = append(snapshot.Transactions, *s.transactions[id])
	}

	return snapshot, nil
}

func (s *Store) ImportSnapshot(ctx context.Context, snapshot domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	customers := make(map[string]domain.Customer, len(snapshot.Customers))
	for _, customer := range snapshot.Customers {
		if customer.ID == "" {
			return fmt.Errorf("%w: customer without id", store.ErrValidation)
		}
		customers[customer.ID] = customer
	}

	customerTypes := make(map[string]domain.CustomerType, len(snapshot.CustomerTypes))
	for _, ctype := range snapshot.CustomerTypes {
		customerTypes[ctype.ID] = ctype
	}

	products := make(map[string]domain.Product, len(snapshot.Products))
	productsByCode := make(map[string]string, len(snapshot.Products))
	for _, product := range snapshot.Products {
		if product.ID == "" {
			return fmt.Errorf("%w: product without id", store.ErrValidation)
		}
		products[product.ID] = product
		if product.Barcode != "" {
			productsByCode[product.Barcode] = product.ID
		}
	}

	transactions := make(map[string]*domain.Transaction, len(snapshot.Transactions))
	order := make([]string, 0, len(snapshot.Transactions))
	for _, tx := range snapshot.Transactions {
		if tx.ID == "" {
			return fmt.Errorf("%w: transaction without id", store.ErrValidation)
		}
		if _, exists := transactions[tx.ID]; exists {
			return fmt.Errorf("%w: duplicate transaction id %s", store.ErrConstraint, tx.ID)
		}
		copied := tx
		transactions[tx.ID] = &copied
		order = append(order, tx.ID)
	}

	s.customers = customers
	s.customerTypes = customerTypes
	s.products = products
	s.productsByCode = productsByCode
	s.transactions = transactions
	s.ledgerOrder = order
	s.settings = snapshot.Settings

	return nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConstraint
	}
	user.Username = username
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func isLedgerType(txType string) bool {
	switch txType {
	case domain.TxTypePurchase, domain.TxTypeDeposit, domain.TxTypeWithdrawal, domain.TxTypeAdjustment:
		return true
	default:
		return false
	}
}
