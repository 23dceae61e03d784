// Package service implements the ledger's business operations on top of a
// store.Repository: pricing purchases, moving balances, and the void/unvoid
// and edit-as-replace corrections.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"saldopos/backend/internal/cache"
	"saldopos/backend/internal/domain"
	"saldopos/backend/internal/money"
	"saldopos/backend/internal/pricing"
	"saldopos/backend/internal/store"
	"saldopos/backend/internal/xid"
)

type actorKey struct{}

// WithActor stamps the authenticated actor onto the context so audit entries
// and staff attribution survive through every layer.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFromContext(ctx context.Context) domain.Actor {
	if actor, ok := ctx.Value(actorKey{}).(domain.Actor); ok {
		return actor
	}
	return domain.Actor{}
}

var customerIDPattern = regexp.MustCompile(`^\d{4}$`)

type Service struct {
	repo        store.Repository
	settings    cache.SettingsCache
	settingsTTL time.Duration
}

func New(repo store.Repository, settingsCache cache.SettingsCache, settingsTTL time.Duration) *Service {
	if settingsCache == nil {
		settingsCache = cache.NoopSettingsCache{}
	}
	if settingsTTL <= 0 {
		settingsTTL = 30 * time.Second
	}
	return &Service{repo: repo, settings: settingsCache, settingsTTL: settingsTTL}
}

func (s *Service) GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	if !customerIDPattern.MatchString(customerID) {
		return nil, fmt.Errorf("%w: customer id must be 4 digits", store.ErrValidation)
	}
	return s.repo.GetCustomerByID(ctx, customerID)
}

// CreateCustomer opens a prepaid account under a freshly generated 4-digit
// code, retrying on the rare collision. An opening deposit, if any, lands as
// a normal ledger row so the balance stays derivable from transactions.
func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (*domain.Customer, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: customer name is required", store.ErrValidation)
	}
	if req.InitialDepositCents < 0 {
		return nil, fmt.Errorf("%w: initial deposit must not be negative", store.ErrValidation)
	}
	if req.TypeID != "" {
		if _, err := s.repo.GetCustomerType(ctx, req.TypeID); err != nil {
			return nil, err
		}
	}

	var customer *domain.Customer
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		customer, err = s.repo.CreateCustomer(ctx, domain.Customer{
			ID:     xid.NewCustomerCode(),
			Name:   strings.TrimSpace(req.Name),
			TypeID: req.TypeID,
		})
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrConstraint) {
			return nil, err
		}
	}
	if err != nil {
		return nil, fmt.Errorf("could not allocate a free account code: %w", err)
	}

	s.logAudit(ctx, "customer_create", "customer", customer.ID, customer.Name)

	if req.InitialDepositCents > 0 {
		deposit, err := s.applyDelta(ctx, customer.ID, domain.TxTypeDeposit, req.InitialDepositCents, "opening deposit")
		if err != nil {
			return nil, err
		}
		customer.BalanceCents = deposit.BalanceAfterCents
	}

	return customer, nil
}

// ProcessPurchase prices the product with options and the discount cascade,
// then charges the final total against the customer's balance as one atomic
// store operation.
func (s *Service) ProcessPurchase(ctx context.Context, customerID string, req domain.PurchaseRequest) (*domain.PurchaseResponse, error) {
	return s.purchase(ctx, customerID, req, "")
}

func (s *Service) purchase(ctx context.Context, customerID string, req domain.PurchaseRequest, editParentID string) (*domain.PurchaseResponse, error) {
	customer, err := s.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	product, err := s.resolveProduct(ctx, req.Barcode, req.ProductID)
	if err != nil {
		return nil, err
	}
	if !product.Active {
		return nil, store.ErrInactiveProduct
	}

	options := pricing.EvaluateOptions(*product, req.SelectedOptions)
	if len(options.MissingRequired) > 0 {
		return nil, fmt.Errorf("%w: missing required options: %s",
			store.ErrValidation, strings.Join(options.MissingRequired, ", "))
	}

	subtotal := product.PriceCents + options.TotalDeltaCents

	settings, err := s.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	ctype, err := s.customerType(ctx, customer.TypeID)
	if err != nil {
		return nil, err
	}

	cascade := pricing.ComposeDiscounts(subtotal, pricing.SourcesFor(settings, *product, *customer, ctype))

	// A fully discounted purchase still produces a ledger row; the zero
	// amount keeps the audit trail complete without moving the balance.
	tx := domain.Transaction{
		CustomerID:        customer.ID,
		Type:              domain.TxTypePurchase,
		ProductID:         product.ID,
		ProductName:       product.Name,
		ProductPriceCents: product.PriceCents,
		AmountCents:       -cascade.FinalTotalCents,
		Note:              req.Note,
		Options:           options.Snapshot,
		Discounts:         cascade.Lines,
		EditParentID:      editParentID,
		StaffID:           ActorFromContext(ctx).Username,
	}

	applied, err := s.repo.ApplyTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "purchase", "transaction", applied.ID,
		fmt.Sprintf("%s charged %s for %s", customer.ID, money.FormatCents(cascade.FinalTotalCents), product.Name))

	return &domain.PurchaseResponse{
		Transaction:        *applied,
		Product:            *product,
		ChargedAmountCents: cascade.FinalTotalCents,
		BalanceAfterCents:  applied.BalanceAfterCents,
	}, nil
}

func (s *Service) ProcessDeposit(ctx context.Context, customerID string, req domain.BalanceDeltaRequest) (*domain.BalanceDeltaResponse, error) {
	amount, err := resolveAmount(req.AmountCents, req.Amount)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: deposit amount must be positive", store.ErrValidation)
	}
	return s.applyDelta(ctx, customerID, domain.TxTypeDeposit, amount, req.Note)
}

func (s *Service) ProcessWithdrawal(ctx context.Context, customerID string, req domain.BalanceDeltaRequest) (*domain.BalanceDeltaResponse, error) {
	amount, err := resolveAmount(req.AmountCents, req.Amount)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: withdrawal amount must be positive", store.ErrValidation)
	}
	return s.applyDelta(ctx, customerID, domain.TxTypeWithdrawal, -amount, req.Note)
}

// ProcessAdjustment accepts a signed amount. The store's sanity guard rejects
// corrections that would overshoot below zero by more than their own size.
func (s *Service) ProcessAdjustment(ctx context.Context, customerID string, req domain.BalanceDeltaRequest) (*domain.BalanceDeltaResponse, error) {
	amount, err := resolveAmount(req.AmountCents, req.Amount)
	if err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, fmt.Errorf("%w: adjustment amount must be non-zero", store.ErrValidation)
	}
	return s.applyDelta(ctx, customerID, domain.TxTypeAdjustment, amount, req.Note)
}

func (s *Service) applyDelta(ctx context.Context, customerID string, txType string, amountCents int64, note string) (*domain.BalanceDeltaResponse, error) {
	return s.applyDeltaLinked(ctx, customerID, txType, amountCents, note, "")
}

func (s *Service) applyDeltaLinked(ctx context.Context, customerID string, txType string, amountCents int64, note string, editParentID string) (*domain.BalanceDeltaResponse, error) {
	customer, err := s.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	applied, err := s.repo.ApplyTransaction(ctx, domain.Transaction{
		CustomerID:   customer.ID,
		Type:         txType,
		AmountCents:  amountCents,
		Note:         note,
		EditParentID: editParentID,
		StaffID:      ActorFromContext(ctx).Username,
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, txType, "transaction", applied.ID,
		fmt.Sprintf("%s %s %s", customer.ID, txType, money.FormatCents(amountCents)))

	return &domain.BalanceDeltaResponse{
		Transaction:       *applied,
		BalanceAfterCents: applied.BalanceAfterCents,
	}, nil
}

// VoidTransaction reverses a transaction against the live balance. The
// original row keeps its balance_after snapshot; only the void fields change.
func (s *Service) VoidTransaction(ctx context.Context, transactionID string, note string) (*domain.VoidResponse, error) {
	voided, err := s.repo.VoidTransaction(ctx, transactionID, note, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	customer, err := s.repo.GetCustomerByID(ctx, voided.CustomerID)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "void", "transaction", voided.ID,
		fmt.Sprintf("reversed %s for %s", money.FormatCents(voided.AmountCents), voided.CustomerID))

	return &domain.VoidResponse{Transaction: *voided, BalanceAfterCents: customer.BalanceCents}, nil
}

// UnvoidTransaction re-applies a voided transaction against the live balance.
// The restoration note goes to the audit log; the row's void fields are
// cleared, not overwritten.
func (s *Service) UnvoidTransaction(ctx context.Context, transactionID string, note string) (*domain.VoidResponse, error) {
	restored, err := s.repo.UnvoidTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	customer, err := s.repo.GetCustomerByID(ctx, restored.CustomerID)
	if err != nil {
		return nil, err
	}

	detail := fmt.Sprintf("re-applied %s for %s", money.FormatCents(restored.AmountCents), restored.CustomerID)
	if note != "" {
		detail += ": " + note
	}
	s.logAudit(ctx, "unvoid", "transaction", restored.ID, detail)

	return &domain.VoidResponse{Transaction: *restored, BalanceAfterCents: customer.BalanceCents}, nil
}

// UpdatePurchaseTransaction edits a purchase by replacement: void the
// original, post a freshly priced purchase linked back to it, and restamp the
// original's void note with the replacement id. If posting the replacement
// fails, the original is unvoided so the account is exactly as before.
func (s *Service) UpdatePurchaseTransaction(ctx context.Context, transactionID string, req domain.PurchaseEditRequest) (*domain.EditResponse, error) {
	original, err := s.repo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if original.Type != domain.TxTypePurchase {
		return nil, fmt.Errorf("%w: transaction %s is not a purchase", store.ErrValidation, transactionID)
	}
	if original.Voided {
		return nil, store.ErrAlreadyVoided
	}

	customerID := original.CustomerID
	if req.CustomerID != "" {
		customerID = req.CustomerID
	}

	// Validate the replacement before touching the original.
	if _, err := s.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	product, err := s.resolveProduct(ctx, "", req.ProductID)
	if err != nil {
		return nil, err
	}
	if !product.Active {
		return nil, store.ErrInactiveProduct
	}
	options := pricing.EvaluateOptions(*product, req.SelectedOptions)
	if len(options.MissingRequired) > 0 {
		return nil, fmt.Errorf("%w: missing required options: %s",
			store.ErrValidation, strings.Join(options.MissingRequired, ", "))
	}

	voidedOriginal, err := s.repo.VoidTransaction(ctx, transactionID, "edited", time.Now().UTC())
	if err != nil {
		return nil, err
	}

	replacement, err := s.purchase(ctx, customerID, domain.PurchaseRequest{
		ProductID:       product.ID,
		SelectedOptions: req.SelectedOptions,
		Note:            req.Note,
	}, transactionID)
	if err != nil {
		if _, restoreErr := s.repo.UnvoidTransaction(ctx, transactionID); restoreErr != nil {
			log.Printf("[service] WARN: failed to restore %s after edit failure: %v", transactionID, restoreErr)
		}
		return nil, err
	}

	return s.finishEdit(ctx, voidedOriginal, replacement.Transaction)
}

// UpdateBalanceDeltaTransaction is the edit-as-replace path for deposits,
// withdrawals and adjustments.
func (s *Service) UpdateBalanceDeltaTransaction(ctx context.Context, transactionID string, req domain.BalanceEditRequest) (*domain.EditResponse, error) {
	original, err := s.repo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if original.Type == domain.TxTypePurchase {
		return nil, fmt.Errorf("%w: use the purchase edit for transaction %s", store.ErrValidation, transactionID)
	}
	if original.Voided {
		return nil, store.ErrAlreadyVoided
	}

	customerID := original.CustomerID
	if req.CustomerID != "" {
		customerID = req.CustomerID
	}
	if _, err := s.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}

	amount, err := resolveAmount(req.AmountCents, req.Amount)
	if err != nil {
		return nil, err
	}
	switch original.Type {
	case domain.TxTypeDeposit:
		if amount <= 0 {
			return nil, fmt.Errorf("%w: deposit amount must be positive", store.ErrValidation)
		}
	case domain.TxTypeWithdrawal:
		if amount <= 0 {
			return nil, fmt.Errorf("%w: withdrawal amount must be positive", store.ErrValidation)
		}
		amount = -amount
	case domain.TxTypeAdjustment:
	default:
		return nil, fmt.Errorf("%w: unknown transaction type %q", store.ErrValidation, original.Type)
	}

	voidedOriginal, err := s.repo.VoidTransaction(ctx, transactionID, "edited", time.Now().UTC())
	if err != nil {
		return nil, err
	}

	replacement, err := s.applyDeltaLinked(ctx, customerID, original.Type, amount, req.Note, transactionID)
	if err != nil {
		if _, restoreErr := s.repo.UnvoidTransaction(ctx, transactionID); restoreErr != nil {
			log.Printf("[service] WARN: failed to restore %s after edit failure: %v", transactionID, restoreErr)
		}
		return nil, err
	}

	return s.finishEdit(ctx, voidedOriginal, replacement.Transaction)
}

func (s *Service) finishEdit(ctx context.Context, original *domain.Transaction, replacement domain.Transaction) (*domain.EditResponse, error) {
	// The replacement row is already persisted with its parent link; only
	// the original's note needs stamping. Failures here are logged, not
	// fatal, because the balances are already correct.
	note := fmt.Sprintf("edited: replaced by %s", replacement.ID)
	if err := s.repo.SetVoidNote(ctx, original.ID, note); err != nil {
		log.Printf("[service] WARN: failed to stamp void note on %s: %v", original.ID, err)
	} else {
		original.VoidNote = note
	}

	s.logAudit(ctx, "edit", "transaction", original.ID,
		fmt.Sprintf("replaced by %s", replacement.ID))

	return &domain.EditResponse{
		Original:          *original,
		Replacement:       replacement,
		BalanceAfterCents: replacement.BalanceAfterCents,
	}, nil
}

func (s *Service) GetCustomerTransactions(ctx context.Context, customerID string, limit int) ([]domain.Transaction, error) {
	if _, err := s.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	return s.repo.ListTransactionsByCustomer(ctx, customerID, limit)
}

func (s *Service) ListAllTransactions(ctx context.Context, limit int) ([]domain.Transaction, error) {
	return s.repo.ListTransactions(ctx, limit)
}

// GetSettings reads through the cache. A cache failure degrades to a direct
// store read rather than failing the request.
func (s *Service) GetSettings(ctx context.Context) (domain.AppSettings, error) {
	cached, ok, err := s.settings.Get(ctx)
	if err != nil {
		log.Printf("[service] WARN: settings cache read failed: %v", err)
	} else if ok {
		return *cached, nil
	}

	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return domain.AppSettings{}, err
	}

	if err := s.settings.Set(ctx, &settings, s.settingsTTL); err != nil {
		log.Printf("[service] WARN: settings cache write failed: %v", err)
	}
	return settings, nil
}

func (s *Service) UpdateSettings(ctx context.Context, req domain.SettingsUpdateRequest) (domain.AppSettings, error) {
	if req.GlobalDiscountPercent < 0 || req.GlobalDiscountPercent > 100 {
		return domain.AppSettings{}, fmt.Errorf("%w: global discount percent must be 0-100", store.ErrValidation)
	}
	if req.GlobalDiscountFlatCents < 0 {
		return domain.AppSettings{}, fmt.Errorf("%w: global flat discount must not be negative", store.ErrValidation)
	}

	updated, err := s.repo.UpdateSettings(ctx, domain.AppSettings{
		GlobalDiscountPercent:   req.GlobalDiscountPercent,
		GlobalDiscountFlatCents: req.GlobalDiscountFlatCents,
	})
	if err != nil {
		return domain.AppSettings{}, err
	}

	if err := s.settings.Invalidate(ctx); err != nil {
		log.Printf("[service] WARN: settings cache invalidation failed: %v", err)
	}

	s.logAudit(ctx, "settings_update", "settings", "global",
		fmt.Sprintf("percent=%g flat=%s", updated.GlobalDiscountPercent, money.FormatCents(updated.GlobalDiscountFlatCents)))

	return updated, nil
}

func (s *Service) ExportBackup(ctx context.Context) (*domain.Snapshot, error) {
	snapshot, err := s.repo.ExportSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "backup_export", "snapshot", "", fmt.Sprintf("%d transactions", len(snapshot.Transactions)))
	return snapshot, nil
}

func (s *Service) ImportBackup(ctx context.Context, snapshot domain.Snapshot) error {
	if err := s.repo.ImportSnapshot(ctx, snapshot); err != nil {
		return err
	}
	if err := s.settings.Invalidate(ctx); err != nil {
		log.Printf("[service] WARN: settings cache invalidation failed: %v", err)
	}
	s.logAudit(ctx, "backup_import", "snapshot", "", fmt.Sprintf("%d transactions", len(snapshot.Transactions)))
	return nil
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) resolveProduct(ctx context.Context, barcode string, productID string) (*domain.Product, error) {
	switch {
	case barcode != "":
		return s.repo.GetProductByBarcode(ctx, barcode)
	case productID != "":
		return s.repo.GetProductByID(ctx, productID)
	default:
		return nil, fmt.Errorf("%w: barcode or product_id is required", store.ErrValidation)
	}
}

func (s *Service) customerType(ctx context.Context, typeID string) (*domain.CustomerType, error) {
	if typeID == "" {
		return nil, nil
	}
	ctype, err := s.repo.GetCustomerType(ctx, typeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// A dangling type reference must not block sales; the type
			// discount simply does not apply.
			log.Printf("[service] WARN: customer type %s not found", typeID)
			return nil, nil
		}
		return nil, err
	}
	return ctype, nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor := ActorFromContext(ctx)
	entry := domain.AuditLog{
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		log.Printf("[service] WARN: audit log write failed: %v", err)
	}
}

// resolveAmount accepts either whole cents or a decimal string ("12.50").
// Exactly one form must be provided; more than 2 decimal places is a
// precision error.
func resolveAmount(amountCents int64, amount string) (int64, error) {
	if amount != "" {
		if amountCents != 0 {
			return 0, fmt.Errorf("%w: provide amount_cents or amount, not both", store.ErrValidation)
		}
		return money.ParseAmount(amount)
	}
	if amountCents == 0 {
		return 0, fmt.Errorf("%w: amount is required", store.ErrValidation)
	}
	return amountCents, nil
}
