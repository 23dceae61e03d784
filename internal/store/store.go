package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"saldopos/backend/internal/domain"
	"saldopos/backend/internal/money"
)

// Sentinel errors shared by every repository implementation. All of them are
// terminal business-rule rejections: nothing here is retried.
var (
	ErrNotFound            = errors.New("not found")
	ErrInactiveProduct     = errors.New("product is inactive")
	ErrValidation          = errors.New("validation failed")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAlreadyVoided       = errors.New("transaction already voided")
	ErrNotVoided           = errors.New("transaction is not voided")
	ErrConstraint          = errors.New("constraint violation")
)

// Repository is the ledger's storage contract. Mutating operations on a
// customer are serialized inside the implementation (row lock or mutex), so
// the balance update and the transaction row always land together or not at
// all.
type Repository interface {
	GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomerType(ctx context.Context, id string) (*domain.CustomerType, error)
	CreateCustomerType(ctx context.Context, ctype domain.CustomerType) (*domain.CustomerType, error)

	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	GetSettings(ctx context.Context) (domain.AppSettings, error)
	UpdateSettings(ctx context.Context, settings domain.AppSettings) (domain.AppSettings, error)

	// ApplyTransaction atomically re-reads the customer's live balance under
	// a lock, enforces sufficiency (purchase/withdrawal) and the adjustment
	// sanity guard, then persists the new balance together with the ledger
	// row. The returned transaction carries the final BalanceAfterCents.
	ApplyTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)

	FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error)
	// VoidTransaction reverses the row's amount against the customer's
	// current balance and sets the void fields. Already-voided rows are
	// rejected with ErrAlreadyVoided.
	VoidTransaction(ctx context.Context, id string, note string, at time.Time) (*domain.Transaction, error)
	// UnvoidTransaction re-applies the original amount and clears the void
	// fields. Non-voided rows are rejected with ErrNotVoided.
	UnvoidTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	// SetVoidNote restamps the void note of an already-voided row (used to
	// reference the replacement after an edit). Never touches amounts.
	SetVoidNote(ctx context.Context, id string, note string) error

	ListTransactionsByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Transaction, error)
	ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error)

	// ExportSnapshot reads a consistent point-in-time copy of the store;
	// ImportSnapshot replaces the store contents wholesale. Callers must hold
	// exclusive access during import.
	ExportSnapshot(ctx context.Context) (*domain.Snapshot, error)
	ImportSnapshot(ctx context.Context, snapshot domain.Snapshot) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// CheckBalanceGuards enforces the balance rules shared by every repository:
// purchases and withdrawals must never overdraw the account, and a negative
// adjustment must not push the balance below zero by more than its own
// magnitude (a sanity guard against fat-fingered corrections, not a hard
// business rule). Positive adjustments always pass; recovering a negative
// balance toward zero is never overshoot.
func CheckBalanceGuards(txType string, amountCents int64, balanceAfterCents int64) error {
	switch txType {
	case domain.TxTypePurchase, domain.TxTypeWithdrawal:
		if balanceAfterCents < 0 {
			return ErrInsufficientBalance
		}
	case domain.TxTypeAdjustment:
		if amountCents < 0 && balanceAfterCents < 0 && -balanceAfterCents > money.Abs(amountCents) {
			return fmt.Errorf("%w: adjustment would leave balance at %s", ErrValidation, money.FormatCents(balanceAfterCents))
		}
	}
	return nil
}
