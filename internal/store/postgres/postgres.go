package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"saldopos/backend/internal/domain"
	"saldopos/backend/internal/store"
	"saldopos/backend/internal/xid"
)

// Store is the PostgreSQL repository. Every balance mutation runs in a
// serializable transaction holding a FOR UPDATE lock on the customer row, so
// writers on the same account are serialized while different accounts
// proceed concurrently.
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

func (s *Store) GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error) {
	return scanCustomer(s.db.QueryRowContext(ctx, `
		SELECT id, name, balance_cents, discount_percent, discount_flat_cents, COALESCE(type_id,''), created_at, updated_at
		FROM customers
		WHERE id = $1
	`, id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row rowScanner) (*domain.Customer, error) {
	var c domain.Customer
	err := row.Scan(&c.ID, &c.Name, &c.BalanceCents, &c.DiscountPercent, &c.DiscountFlatCents, &c.TypeID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || customer.Name == "" {
		return nil, store.ErrValidation
	}

	now := time.Now().UTC()
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = now
	}
	customer.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, balance_cents, discount_percent, discount_flat_cents, type_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, customer.ID, customer.Name, customer.BalanceCents, customer.DiscountPercent, customer.DiscountFlatCents,
		nullIfEmpty(customer.TypeID), customer.CreatedAt, customer.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConstraint
		}
		return nil, err
	}

	created := customer
	return &created, nil
}

func (s *Store) GetCustomerType(ctx context.Context, id string) (*domain.CustomerType, error) {
	var ctype domain.CustomerType
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, discount_percent, discount_flat_cents
		FROM customer_types
		WHERE id = $1
	`, id).Scan(&ctype.ID, &ctype.Name, &ctype.DiscountPercent, &ctype.DiscountFlatCents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &ctype, nil
}

func (s *Store) CreateCustomerType(ctx context.Context, ctype domain.CustomerType) (*domain.CustomerType, error) {
	if ctype.ID == "" || ctype.Name == "" {
		return nil, store.ErrValidation
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customer_types (id, name, discount_percent, discount_flat_cents)
		VALUES ($1,$2,$3,$4)
	`, ctype.ID, ctype.Name, ctype.DiscountPercent, ctype.DiscountFlatCents)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConstraint
		}
		return nil, err
	}

	created := ctype
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	return s.findProduct(ctx, "id", id)
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	return s.findProduct(ctx, "barcode", barcode)
}

func (s *Store) findProduct(ctx context.Context, column string, value string) (*domain.Product, error) {
	if column != "id" && column != "barcode" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	var p domain.Product
	var barcode sql.NullString
	var optionsRaw []byte

	query := fmt.Sprintf(`
		SELECT id, name, price_cents, barcode, category, active, discount_percent, discount_flat_cents, options, created_at, updated_at
		FROM products
		WHERE %s = $1
	`, column)

	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&p.ID, &p.Name, &p.PriceCents, &barcode, &p.Category, &p.Active,
		&p.DiscountPercent, &p.DiscountFlatCents, &optionsRaw, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if barcode.Valid {
		p.Barcode = barcode.String
	}
	if len(optionsRaw) > 0 {
		if err := json.Unmarshal(optionsRaw, &p.Options); err != nil {
			return nil, fmt.Errorf("decode product options: %w", err)
		}
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.PriceCents < 0 {
		return nil, store.ErrValidation
	}

	optionsRaw, err := json.Marshal(product.Options)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price_cents, barcode, category, active, discount_percent, discount_flat_cents, options, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, product.ID, product.Name, product.PriceCents, nullIfEmpty(product.Barcode), product.Category, product.Active,
		product.DiscountPercent, product.DiscountFlatCents, optionsRaw, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConstraint
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetSettings(ctx context.Context) (domain.AppSettings, error) {
	var settings domain.AppSettings
	err := s.db.QueryRowContext(ctx, `
		SELECT global_discount_percent, global_discount_flat_cents, updated_at
		FROM app_settings
		WHERE id = 1
	`).Scan(&settings.GlobalDiscountPercent, &settings.GlobalDiscountFlatCents, &settings.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.AppSettings{}, nil
		}
		return domain.AppSettings{}, err
	}
	settings.UpdatedAt = settings.UpdatedAt.UTC()
	return settings, nil
}

func (s *Store) UpdateSettings(ctx context.Context, settings domain.AppSettings) (domain.AppSettings, error) {
	if settings.GlobalDiscountPercent < 0 || settings.GlobalDiscountPercent > 100 || settings.GlobalDiscountFlatCents < 0 {
		return domain.AppSettings{}, store.ErrValidation
	}

	settings.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_settings (id, global_discount_percent, global_discount_flat_cents, updated_at)
		VALUES (1,$1,$2,$3)
		ON CONFLICT (id)
		DO UPDATE SET global_discount_percent = EXCLUDED.global_discount_percent,
			global_discount_flat_cents = EXCLUDED.global_discount_flat_cents,
			updated_at = EXCLUDED.updated_at
	`, settings.GlobalDiscountPercent, settings.GlobalDiscountFlatCents, settings.UpdatedAt)
	if err != nil {
		return domain.AppSettings{}, err
	}
	return settings, nil
}

func (s *Store) ApplyTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if tx.CustomerID == "" {
		return nil, store.ErrValidation
	}
	switch tx.Type {
	case domain.TxTypePurchase, domain.TxTypeDeposit, domain.TxTypeWithdrawal, domain.TxTypeAdjustment:
	default:
		return nil, store.ErrValidation
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var balance int64
	err = pgTx.QueryRowContext(ctx, `
		SELECT balance_cents
		FROM customers
		WHERE id = $1
		FOR UPDATE
	`, tx.CustomerID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	balanceAfter := balance + tx.AmountCents
	if err := store.CheckBalanceGuards(tx.Type, tx.AmountCents, balanceAfter); err != nil {
		return nil, err
	}

	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	tx.BalanceAfterCents = balanceAfter

	optionsRaw, err := json.Marshal(tx.Options)
	if err != nil {
		return nil, err
	}
	discountsRaw, err := json.Marshal(tx.Discounts)
	if err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO transactions (
			id, customer_id, type, product_id, product_name, product_price_cents,
			amount_cents, balance_after_cents, note, options, discounts,
			voided, voided_at, void_note, edit_parent_id, staff_id, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, tx.ID, tx.CustomerID, tx.Type, nullIfEmpty(tx.ProductID), nullIfEmpty(tx.ProductName), tx.ProductPriceCents,
		tx.AmountCents, tx.BalanceAfterCents, nullIfEmpty(tx.Note), optionsRaw, discountsRaw,
		tx.Voided, nullTime(tx.VoidedAt), nullIfEmpty(tx.VoidNote), nullIfEmpty(tx.EditParentID), nullIfEmpty(tx.StaffID), tx.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConstraint
		}
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE customers
		SET balance_cents = $2, updated_at = now()
		WHERE id = $1
	`, tx.CustomerID, balanceAfter)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return &tx, nil
}

func (s *Store) FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, type, COALESCE(product_id,''), COALESCE(product_name,''), product_price_cents,
			amount_cents, balance_after_cents, COALESCE(note,''), options, discounts,
			voided, voided_at, COALESCE(void_note,''), COALESCE(edit_parent_id,''), COALESCE(staff_id,''), created_at
		FROM transactions
		WHERE id = $1
	`, id)
	return scanTransaction(row)
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var optionsRaw, discountsRaw []byte
	var voidedAt sql.NullTime

	err := row.Scan(
		&tx.ID, &tx.CustomerID, &tx.Type, &tx.ProductID, &tx.ProductName, &tx.ProductPriceCents,
		&tx.AmountCents, &tx.BalanceAfterCents, &tx.Note, &optionsRaw, &discountsRaw,
		&tx.Voided, &voidedAt, &tx.VoidNote, &tx.EditParentID, &tx.StaffID, &tx.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if voidedAt.Valid {
		at := voidedAt.Time.UTC()
		tx.VoidedAt = &at
	}
	if len(optionsRaw) > 0 {
		if err := json.Unmarshal(optionsRaw, &tx.Options); err != nil {
			return nil, fmt.Errorf("decode transaction options: %w", err)
		}
	}
	if len(discountsRaw) > 0 {
		if err := json.Unmarshal(discountsRaw, &tx.Discounts); err != nil {
			return nil, fmt.Errorf("decode transaction discounts: %w", err)
		}
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	return &tx, nil
}

func (s *Store) VoidTransaction(ctx context.Context, id string, note string, at time.Time) (*domain.Transaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var customerID string
	var amount int64
	var voided bool
	err = pgTx.QueryRowContext(ctx, `
		SELECT customer_id, amount_cents, voided
		FROM transactions
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&customerID, &amount, &voided)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if voided {
		return nil, store.ErrAlreadyVoided
	}

	// Reverse against the live balance. Snapshots on other rows are left as
	// they were written.
	var balance int64
	err = pgTx.QueryRowContext(ctx, `
		SELECT balance_cents
		FROM customers
		WHERE id = $1
		FOR UPDATE
	`, customerID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	voidedAt := at.UTC()
	_, err = pgTx.ExecContext(ctx, `
		UPDATE transactions
		SET voided = true, voided_at = $2, void_note = $3
		WHERE id = $1 AND voided = false
	`, id, voidedAt, nullIfEmpty(note))
	if err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE customers
		SET balance_cents = $2, updated_at = now()
		WHERE id = $1
	`, customerID, balance-amount)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return s.FindTransactionByID(ctx, id)
}

func (s *Store) UnvoidTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var customerID string
	var amount int64
	var voided bool
	err = pgTx.QueryRowContext(ctx, `
		SELECT customer_id, amount_cents, voided
		FROM transactions
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&customerID, &amount, &voided)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if !voided {
		return nil, store.ErrNotVoided
	}

	var balance int64
	err = pgTx.QueryRowContext(ctx, `
		SELECT balance_cents
		FROM customers
		WHERE id = $1
		FOR UPDATE
	`, customerID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE transactions
		SET voided = false, voided_at = NULL, void_note = NULL
		WHERE id = $1 AND voided = true
	`, id)
	if err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE customers
		SET balance_cents = $2, updated_at = now()
		WHERE id = $1
	`, customerID, balance+amount)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return s.FindTransactionByID(ctx, id)
}

func (s *Store) SetVoidNote(ctx context.Context, id string, note string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET void_note = $2
		WHERE id = $1 AND voided = true
	`, id, nullIfEmpty(note))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := s.FindTransactionByID(ctx, id); err != nil {
			return err
		}
		return store.ErrNotVoided
	}
	return nil
}

const transactionColumns = `
	id, customer_id, type, COALESCE(product_id,''), COALESCE(product_name,''), product_price_cents,
	amount_cents, balance_after_cents, COALESCE(note,''), options, discounts,
	voided, voided_at, COALESCE(void_note,''), COALESCE(edit_parent_id,''), COALESCE(staff_id,''), created_at`

func (s *Store) ListTransactionsByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Transaction, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE customer_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTransactions(rows, limit)
}

func (s *Store) ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		ORDER BY seq DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTransactions(rows, limit)
}

func collectTransactions(rows *sql.Rows, capacity int) ([]domain.Transaction, error) {
	result := make([]domain.Transaction, 0, capacity)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ExportSnapshot reads everything inside one repeatable-read transaction so
// the backup is a consistent point in time, not a read racing live writers.
func (s *Store) ExportSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	snapshot := &domain.Snapshot{ExportedAt: time.Now().UTC()}

	err = pgTx.QueryRowContext(ctx, `
		SELECT global_discount_percent, global_discount_flat_cents, updated_at
		FROM app_settings
		WHERE id = 1
	`).Scan(&snapshot.Settings.GlobalDiscountPercent, &snapshot.Settings.GlobalDiscountFlatCents, &snapshot.Settings.UpdatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	typeRows, err := pgTx.QueryContext(ctx, `
		SELECT id, name, discount_percent, discount_flat_cents
		FROM customer_types
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	for typeRows.Next() {
		var ctype domain.CustomerType
		if err := typeRows.Scan(&ctype.ID, &ctype.Name, &ctype.DiscountPercent, &ctype.DiscountFlatCents); err != nil {
			_ = typeRows.Close()
			return nil, err
		}
		snapshot.CustomerTypes = append(snapshot.CustomerTypes, ctype)
	}
	if err := typeRows.Err(); err != nil {
		_ = typeRows.Close()
		return nil, err
	}
	_ = typeRows.Close()

	customerRows, err := pgTx.QueryContext(ctx, `
		SELECT id, name, balance_cents, discount_percent, discount_flat_cents, COALESCE(type_id,''), created_at, updated_at
		FROM customers
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	for customerRows.Next() {
		customer, err := scanCustomer(customerRows)
		if err != nil {
			_ = customerRows.Close()
			return nil, err
		}
		snapshot.Customers = append(snapshot.Customers, *customer)
	}
	if err := customerRows.Err(); err != nil {
		_ = customerRows.Close()
		return nil, err
	}
	_ = customerRows.Close()

	productRows, err := pgTx.QueryContext(ctx, `
		SELECT id, name, price_cents, barcode, category, active, discount_percent, discount_flat_cents, options, created_at, updated_at
		FROM products
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	for productRows.Next() {
		var p domain.Product
		var barcode sql.NullString
		var optionsRaw []byte
		if err := productRows.Scan(&p.ID, &p.Name, &p.PriceCents, &barcode, &p.Category, &p.Active,
			&p.DiscountPercent, &p.DiscountFlatCents, &optionsRaw, &p.CreatedAt, &p.UpdatedAt); err != nil {
			_ = productRows.Close()
			return nil, err
		}
		if barcode.Valid {
			p.Barcode = barcode.String
		}
		if len(optionsRaw) > 0 {
			if err := json.Unmarshal(optionsRaw, &p.Options); err != nil {
				_ = productRows.Close()
				return nil, fmt.Errorf("decode product options: %w", err)
			}
		}
		snapshot.Products = append(snapshot.Products, p)
	}
	if err := productRows.Err(); err != nil {
		_ = productRows.Close()
		return nil, err
	}
	_ = productRows.Close()

	txRows, err := pgTx.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, err
	}
	for txRows.Next() {
		tx, err := scanTransaction(txRows)
		if err != nil {
			_ = txRows.Close()
			return nil, err
		}
		snapshot.Transactions = append(snapshot.Transactions, *tx)
	}
	if err := txRows.Err(); err != nil {
		_ = txRows.Close()
		return nil, err
	}
	_ = txRows.Close()

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// ImportSnapshot replaces the store wholesale. The caller is responsible for
// excluding writers while a restore runs.
func (s *Store) ImportSnapshot(ctx context.Context, snapshot domain.Snapshot) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	for _, table := range []string{"transactions", "customers", "customer_types", "products"} {
		if _, err := pgTx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}

	for _, ctype := range snapshot.CustomerTypes {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO customer_types (id, name, discount_percent, discount_flat_cents)
			VALUES ($1,$2,$3,$4)
		`, ctype.ID, ctype.Name, ctype.DiscountPercent, ctype.DiscountFlatCents)
		if err != nil {
			return err
		}
	}

	for _, customer := range snapshot.Customers {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO customers (id, name, balance_cents, discount_percent, discount_flat_cents, type_id, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, customer.ID, customer.Name, customer.BalanceCents, customer.DiscountPercent, customer.DiscountFlatCents,
			nullIfEmpty(customer.TypeID), customer.CreatedAt, customer.UpdatedAt)
		if err != nil {
			return err
		}
	}

	for _, product := range snapshot.Products {
		optionsRaw, err := json.Marshal(product.Options)
		if err != nil {
			return err
		}
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO products (id, name, price_cents, barcode, category, active, discount_percent, discount_flat_cents, options, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, product.ID, product.Name, product.PriceCents, nullIfEmpty(product.Barcode), product.Category, product.Active,
			product.DiscountPercent, product.DiscountFlatCents, optionsRaw, product.CreatedAt, product.UpdatedAt)
		if err != nil {
			return err
		}
	}

	for _, tx := range snapshot.Transactions {
		optionsRaw, err := json.Marshal(tx.Options)
		if err != nil {
			return err
		}
		discountsRaw, err := json.Marshal(tx.Discounts)
		if err != nil {
			return err
		}
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO transactions (
				id, customer_id, type, product_id, product_name, product_price_cents,
				amount_cents, balance_after_cents, note, options, discounts,
				voided, voided_at, void_note, edit_parent_id, staff_id, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		`, tx.ID, tx.CustomerID, tx.Type, nullIfEmpty(tx.ProductID), nullIfEmpty(tx.ProductName), tx.ProductPriceCents,
			tx.AmountCents, tx.BalanceAfterCents, nullIfEmpty(tx.Note), optionsRaw, discountsRaw,
			tx.Voided, nullTime(tx.VoidedAt), nullIfEmpty(tx.VoidNote), nullIfEmpty(tx.EditParentID), nullIfEmpty(tx.StaffID), tx.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrConstraint
			}
			return err
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO app_settings (id, global_discount_percent, global_discount_flat_cents, updated_at)
		VALUES (1,$1,$2,$3)
		ON CONFLICT (id)
		DO UPDATE SET global_discount_percent = EXCLUDED.global_discount_percent,
			global_discount_flat_cents = EXCLUDED.global_discount_flat_cents,
			updated_at = EXCLUDED.updated_at
	`, snapshot.Settings.GlobalDiscountPercent, snapshot.Settings.GlobalDiscountFlatCents, time.Now().UTC())
	if err != nil {
		return err
	}

	return pgTx.Commit()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
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

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConstraint
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
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
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password = $2
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

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
