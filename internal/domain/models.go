package domain

import "time"

// Customer is a prepaid account. The 4-digit ID is the natural key handed to
// the customer and never changes; the balance is mutated only through ledger
// transactions.
type Customer struct {
	ID                string    `json:"customer_id"`
	Name              string    `json:"name"`
	BalanceCents      int64     `json:"balance_cents"`
	DiscountPercent   float64   `json:"discount_percent"`
	DiscountFlatCents int64     `json:"discount_flat_cents"`
	TypeID            string    `json:"type_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CustomerType carries default discounts. A customer inherits each field
// independently, only where they carry no override of their own.
type CustomerType struct {
	ID                string  `json:"type_id"`
	Name              string  `json:"name"`
	DiscountPercent   float64 `json:"discount_percent"`
	DiscountFlatCents int64   `json:"discount_flat_cents"`
}

type OptionChoice struct {
	ID              string `json:"id"`
	Label           string `json:"label"`
	PriceDeltaCents int64  `json:"price_delta_cents"`
}

type OptionGroup struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Required bool           `json:"required"`
	Multiple bool           `json:"multiple"`
	Choices  []OptionChoice `json:"choices"`
}

type Product struct {
	ID                string        `json:"product_id"`
	Name              string        `json:"name"`
	PriceCents        int64         `json:"price_cents"`
	Barcode           string        `json:"barcode,omitempty"`
	Category          string        `json:"category"`
	Active            bool          `json:"active"`
	DiscountPercent   float64       `json:"discount_percent"`
	DiscountFlatCents int64         `json:"discount_flat_cents"`
	Options           []OptionGroup `json:"options,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// OptionSelection is the typed form of a customer's option choice for one
// group, validated against the product's option schema at the boundary.
type OptionSelection struct {
	GroupID   string   `json:"group_id"`
	ChoiceIDs []string `json:"choice_ids"`
}

// SelectedOption is the labeled audit snapshot persisted on a transaction.
// It survives later edits to the product's option schema.
type SelectedOption struct {
	GroupID         string `json:"group_id"`
	GroupName       string `json:"group_name"`
	ChoiceID        string `json:"choice_id"`
	Label           string `json:"label"`
	PriceDeltaCents int64  `json:"price_delta_cents"`
}

type DiscountLine struct {
	Label       string `json:"label"`
	AmountCents int64  `json:"amount_cents"`
}

const (
	TxTypePurchase   = "purchase"
	TxTypeDeposit    = "deposit"
	TxTypeWithdrawal = "withdrawal"
	TxTypeAdjustment = "adjustment"
)

// Transaction is one immutable ledger row. Core fields are write-once; only
// the void fields and the edit-parent link may be set after creation, and a
// row is never physically deleted. BalanceAfterCents is a point-in-time audit
// snapshot and is never recomputed when other rows are voided later.
type Transaction struct {
	ID                string           `json:"transaction_id"`
	CustomerID        string           `json:"customer_id"`
	Type              string           `json:"type"`
	ProductID         string           `json:"product_id,omitempty"`
	ProductName       string           `json:"product_name,omitempty"`
	ProductPriceCents int64            `json:"product_price_cents,omitempty"`
	AmountCents       int64            `json:"amount_cents"`
	BalanceAfterCents int64            `json:"balance_after_cents"`
	Note              string           `json:"note,omitempty"`
	Options           []SelectedOption `json:"options,omitempty"`
	Discounts         []DiscountLine   `json:"discounts,omitempty"`
	Voided            bool             `json:"voided"`
	VoidedAt          *time.Time       `json:"voided_at,omitempty"`
	VoidNote          string           `json:"void_note,omitempty"`
	EditParentID      string           `json:"edit_parent_transaction_id,omitempty"`
	StaffID           string           `json:"staff_id,omitempty"`
	CreatedAt         time.Time        `json:"timestamp"`
}

type AppSettings struct {
	GlobalDiscountPercent   float64   `json:"global_discount_percent"`
	GlobalDiscountFlatCents int64     `json:"global_discount_flat_cents"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// CustomerCreateRequest opens a prepaid account. The 4-digit code is
// generated server-side; an optional opening deposit is posted as a regular
// ledger transaction.
type CustomerCreateRequest struct {
	Name                string `json:"name"`
	TypeID              string `json:"type_id,omitempty"`
	InitialDepositCents int64  `json:"initial_deposit_cents,omitempty"`
}

type PurchaseRequest struct {
	Barcode         string            `json:"barcode,omitempty"`
	ProductID       string            `json:"product_id,omitempty"`
	SelectedOptions []OptionSelection `json:"selected_options,omitempty"`
	Note            string            `json:"note,omitempty"`
}

type PurchaseResponse struct {
	Transaction        Transaction `json:"transaction"`
	Product            Product     `json:"product"`
	ChargedAmountCents int64       `json:"charged_amount_cents"`
	BalanceAfterCents  int64       `json:"balance_after_cents"`
}

// BalanceDeltaRequest covers deposits, withdrawals and manual adjustments.
// Amount may be given either as whole cents or as a decimal string ("12.50");
// the decimal form is validated to 2 places at the boundary.
type BalanceDeltaRequest struct {
	AmountCents int64  `json:"amount_cents,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Note        string `json:"note,omitempty"`
}

type BalanceDeltaResponse struct {
	Transaction       Transaction `json:"transaction"`
	BalanceAfterCents int64       `json:"balance_after_cents"`
}

type VoidRequest struct {
	Note       string `json:"note,omitempty"`
	ManagerPIN string `json:"manager_pin"`
}

type VoidResponse struct {
	Transaction       Transaction `json:"transaction"`
	BalanceAfterCents int64       `json:"balance_after_cents"`
}

type PurchaseEditRequest struct {
	CustomerID      string            `json:"customer_id,omitempty"`
	ProductID       string            `json:"product_id"`
	SelectedOptions []OptionSelection `json:"selected_options,omitempty"`
	Note            string            `json:"note,omitempty"`
	ManagerPIN      string            `json:"manager_pin"`
}

type BalanceEditRequest struct {
	CustomerID  string `json:"customer_id,omitempty"`
	AmountCents int64  `json:"amount_cents,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Note        string `json:"note,omitempty"`
	ManagerPIN  string `json:"manager_pin"`
}

type EditResponse struct {
	Original          Transaction `json:"original"`
	Replacement       Transaction `json:"replacement"`
	BalanceAfterCents int64       `json:"balance_after_cents"`
}

type TransactionListResponse struct {
	Transactions []Transaction `json:"transactions"`
}

type SettingsUpdateRequest struct {
	GlobalDiscountPercent   float64 `json:"global_discount_percent"`
	GlobalDiscountFlatCents int64   `json:"global_discount_flat_cents"`
}

// Snapshot is the exchange format of the backup/restore primitives: a
// consistent point-in-time copy of the whole store.
type Snapshot struct {
	ExportedAt    time.Time      `json:"exported_at"`
	Settings      AppSettings    `json:"settings"`
	CustomerTypes []CustomerType `json:"customer_types"`
	Customers     []Customer     `json:"customers"`
	Products      []Product      `json:"products"`
	Transactions  []Transaction  `json:"transactions"`
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

type Actor struct {
	Username string
	Role     string
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
