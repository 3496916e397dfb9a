package payments

import "time"

const (
	StateNew               = "new"
	StateAuthorization     = "authorization"
	StateCompleted         = "completed"
	StatePartiallyRefunded = "partially_refunded"
	StateRefunded          = "refunded"
	StateVoided            = "authorization_voided"
)

// Payment is one attempt to charge an order. Mutated only through state
// machine transitions, never hard-deleted.
type Payment struct {
	ID      string `gorm:"type:char(36);primaryKey"`
	OrderID string `gorm:"type:char(36);not null;index:ix_payments_order_id"`

	Provider string `gorm:"type:varchar(64);not null"`
	// RemoteID is the intent id; immutable after first write.
	RemoteID string `gorm:"type:varchar(128);not null;uniqueIndex:ux_payments_remote_id"`

	State         string `gorm:"type:varchar(32);not null"`
	AmountCents   int    `gorm:"not null"`
	RefundedCents int    `gorm:"not null;default:0"`
	Currency      string `gorm:"type:char(3);not null"`

	CreatedAt time.Time `gorm:"precision:3;not null"`
	UpdatedAt time.Time `gorm:"precision:3;not null"`
}

func (Payment) TableName() string { return "payments" }

const (
	KindCard      = "card"
	KindBankDebit = "bank_debit"
	KindWallet    = "wallet"
	KindBNPL      = "bnpl"
)

type MethodCapabilities struct {
	Reusable        bool
	SupportsCapture bool
}

// The kind set is closed; capabilities are static per kind.
var methodCapabilities = map[string]MethodCapabilities{
	KindCard:      {Reusable: true, SupportsCapture: true},
	KindBankDebit: {Reusable: true, SupportsCapture: false},
	KindWallet:    {Reusable: false, SupportsCapture: true},
	KindBNPL:      {Reusable: false, SupportsCapture: false},
}

func CapabilitiesFor(kind string) (MethodCapabilities, bool) {
	c, ok := methodCapabilities[kind]
	return c, ok
}

// PaymentMethod is a token referencing an instrument at the remote
// processor. Kind discriminates the variant; only that variant's columns
// are populated.
type PaymentMethod struct {
	ID       string  `gorm:"type:char(36);primaryKey"`
	UserID   *string `gorm:"type:char(36);index:ix_payment_methods_user_id"`
	RemoteID string  `gorm:"type:varchar(128);not null;uniqueIndex:ux_payment_methods_remote_id"`

	Kind     string `gorm:"type:varchar(32);not null"`
	Reusable bool   `gorm:"not null"`

	CardBrand    *string `gorm:"type:varchar(32)"`
	CardLast4    *string `gorm:"type:char(4)"`
	CardExpMonth *int
	CardExpYear  *int

	BankName  *string `gorm:"type:varchar(128)"`
	BankLast4 *string `gorm:"type:char(4)"`

	WalletEmail *string `gorm:"type:varchar(255)"`

	BNPLProvider *string `gorm:"type:varchar(64)"`

	CreatedAt time.Time `gorm:"precision:3;not null"`
	UpdatedAt time.Time `gorm:"precision:3;not null"`
}

func (PaymentMethod) TableName() string { return "payment_methods" }

func (m PaymentMethod) Capabilities() MethodCapabilities {
	c, ok := methodCapabilities[m.Kind]
	if !ok {
		return MethodCapabilities{}
	}
	return c
}

// UpdateFromRemote refreshes the variant fields from the remote resource.
// The kind never changes after creation.
func (m *PaymentMethod) UpdateFromRemote(r *RemoteMethod) {
	m.RemoteID = r.ID
	switch m.Kind {
	case KindCard:
		m.CardBrand = optStr(r.CardBrand)
		m.CardLast4 = optStr(r.CardLast4)
		m.CardExpMonth = optInt(r.CardExpMonth)
		m.CardExpYear = optInt(r.CardExpYear)
	case KindBankDebit:
		m.BankName = optStr(r.BankName)
		m.BankLast4 = optStr(r.BankLast4)
	case KindWallet:
		m.WalletEmail = optStr(r.WalletEmail)
	case KindBNPL:
		m.BNPLProvider = optStr(r.BNPLProvider)
	}
	m.UpdatedAt = time.Now()
}

// NewPaymentMethodFromRemote builds the local token for a confirmed remote
// payment-method resource.
func NewPaymentMethodFromRemote(id string, userID *string, r *RemoteMethod) PaymentMethod {
	caps, _ := CapabilitiesFor(r.Kind)
	now := time.Now()
	m := PaymentMethod{
		ID:        id,
		UserID:    userID,
		Kind:      r.Kind,
		Reusable:  caps.Reusable,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.UpdateFromRemote(r)
	return m
}

// GatewayCustomer is the stable 1:1 mapping between a local owner and the
// remote customer record, so repeat purchases never create duplicates.
type GatewayCustomer struct {
	UserID    string    `gorm:"type:char(36);primaryKey"`
	RemoteID  string    `gorm:"type:varchar(128);not null;uniqueIndex:ux_gateway_customers_remote_id"`
	CreatedAt time.Time `gorm:"precision:3;not null"`
}

func (GatewayCustomer) TableName() string { return "gateway_customers" }

const (
	RefundStatusInitiated = "initiated"
	RefundStatusSucceeded = "succeeded"
	RefundStatusFailed    = "failed"
)

// Refund is the local audit row for one refund attempt.
type Refund struct {
	ID        string `gorm:"type:char(36);primaryKey"`
	OrderID   string `gorm:"type:char(36);not null;index:ix_refunds_order_id"`
	PaymentID string `gorm:"type:char(36);not null;index:ix_refunds_payment_id;uniqueIndex:ux_refunds_payment_key,priority:1"`

	Provider    string  `gorm:"type:varchar(64);not null"`
	RemoteID    *string `gorm:"type:varchar(128)"`
	Status      string  `gorm:"type:varchar(32);not null"`
	AmountCents int     `gorm:"not null"`
	Currency    string  `gorm:"type:char(3);not null"`

	IdempotencyKey string  `gorm:"type:varchar(64);not null;uniqueIndex:ux_refunds_payment_key,priority:2"`
	Reason         *string `gorm:"type:varchar(255)"`
	ErrorMessage   *string `gorm:"type:varchar(255)"`

	CreatedAt time.Time `gorm:"precision:3;not null"`
	UpdatedAt time.Time `gorm:"precision:3;not null"`
}

func (Refund) TableName() string { return "refunds" }

func optStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}
