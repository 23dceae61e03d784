package memory

import (
	"context"
	"errors"
	"testing"

	"saldopos/backend/internal/domain"
	"saldopos/backend/internal/store"
)

func TestCreateCustomerRejectsDuplicateCode(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.CreateCustomer(ctx, domain.Customer{ID: "4242", Name: "First"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreateCustomer(ctx, domain.Customer{ID: "4242", Name: "Second"}); !errors.Is(err, store.ErrConstraint) {
		t.Fatalf("duplicate error = %v, want ErrConstraint", err)
	}
	if _, err := s.CreateCustomer(ctx, domain.Customer{ID: "", Name: "Nameless"}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("missing id error = %v, want ErrValidation", err)
	}
}

func TestCreateProductBarcodeUniqueness(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.CreateProduct(ctx, domain.Product{ID: "prd-a", Name: "A", PriceCents: 100, Barcode: "111", Active: true}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreateProduct(ctx, domain.Product{ID: "prd-b", Name: "B", PriceCents: 100, Barcode: "111", Active: true}); !errors.Is(err, store.ErrConstraint) {
		t.Fatalf("duplicate barcode error = %v, want ErrConstraint", err)
	}

	found, err := s.GetProductByBarcode(ctx, "111")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if found.ID != "prd-a" {
		t.Fatalf("barcode resolves to %s", found.ID)
	}
}

func TestCreateCustomerTypeAndLookup(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.CreateCustomerType(ctx, domain.CustomerType{ID: "type-vip", Name: "VIP", DiscountPercent: 15}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreateCustomerType(ctx, domain.CustomerType{ID: "type-vip", Name: "VIP again"}); !errors.Is(err, store.ErrConstraint) {
		t.Fatalf("duplicate error = %v, want ErrConstraint", err)
	}

	ctype, err := s.GetCustomerType(ctx, "type-vip")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if ctype.DiscountPercent != 15 {
		t.Fatalf("discount = %g, want 15", ctype.DiscountPercent)
	}
}

func TestApplyTransactionAtomicity(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.CreateCustomer(ctx, domain.Customer{ID: "7001", Name: "Probe", BalanceCents: 100}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// A rejected transaction must leave no trace: no row, no balance change.
	_, err := s.ApplyTransaction(ctx, domain.Transaction{
		CustomerID:  "7001",
		Type:        domain.TxTypePurchase,
		AmountCents: -101,
	})
	if !errors.Is(err, store.ErrInsufficientBalance) {
		t.Fatalf("error = %v, want ErrInsufficientBalance", err)
	}

	customer, err := s.GetCustomerByID(ctx, "7001")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if customer.BalanceCents != 100 {
		t.Fatalf("balance = %d, want 100", customer.BalanceCents)
	}
	rows, err := s.ListTransactionsByCustomer(ctx, "7001", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rejected transaction left %d rows", len(rows))
	}
}

func TestApplyTransactionRejectsReusedID(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.CreateCustomer(ctx, domain.Customer{ID: "7002", Name: "Probe", BalanceCents: 1000}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	first, err := s.ApplyTransaction(ctx, domain.Transaction{
		ID:          "tx-fixed",
		CustomerID:  "7002",
		Type:        domain.TxTypeDeposit,
		AmountCents: 100,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if first.BalanceAfterCents != 1100 {
		t.Fatalf("balance after = %d, want 1100", first.BalanceAfterCents)
	}

	_, err = s.ApplyTransaction(ctx, domain.Transaction{
		ID:          "tx-fixed",
		CustomerID:  "7002",
		Type:        domain.TxTypeDeposit,
		AmountCents: 100,
	})
	if !errors.Is(err, store.ErrConstraint) {
		t.Fatalf("reused id error = %v, want ErrConstraint", err)
	}
}
