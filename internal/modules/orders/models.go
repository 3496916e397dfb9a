package orders

import "time"

const (
	StatusCreated           = "created"
	StatusCompleted         = "completed"
	StatusPartiallyRefunded = "partially_refunded"
	StatusRefunded          = "refunded"
	StatusCanceled          = "canceled"
)

// Order owns at most one pending intent reference at a time. The reference
// is cleared exactly when a payment derived from that intent reaches a
// terminal or capturable state.
type Order struct {
	ID       string  `gorm:"type:char(36);primaryKey"`
	UserID   *string `gorm:"type:char(36);index:ix_orders_user_id"`
	StoreID  string  `gorm:"type:char(36);not null"`
	Status   string  `gorm:"type:varchar(32);not null"`
	Currency string  `gorm:"type:char(3);not null"`

	TotalCents    int `gorm:"not null"`
	BalanceCents  int `gorm:"not null"` // amount still owed
	RefundedCents int `gorm:"not null;default:0"`

	PendingIntentID *string `gorm:"type:varchar(128);index:ix_orders_pending_intent"`
	PaymentMethodID *string `gorm:"type:char(36)"`

	PlacedAt   *time.Time `gorm:"precision:3"`
	RefundedAt *time.Time `gorm:"precision:3"`
	CreatedAt  time.Time  `gorm:"precision:3;not null"`
	UpdatedAt  time.Time  `gorm:"precision:3;not null"`
}

func (Order) TableName() string { return "orders" }

// Payable reports whether the order is still eligible for completion.
func (o Order) Payable() bool { return o.Status == StatusCreated }

// OrderEvent is the audit trail for operator actions.
type OrderEvent struct {
	ID          string    `gorm:"type:char(36);primaryKey"`
	OrderID     string    `gorm:"type:char(36);not null;index:ix_order_events_order_id"`
	ActorUserID string    `gorm:"type:varchar(64);not null"`
	Action      string    `gorm:"type:varchar(32);not null"` // capture|void|refund|complete
	FromStatus  string    `gorm:"type:varchar(32);not null"`
	ToStatus    string    `gorm:"type:varchar(32);not null"`
	Note        *string   `gorm:"type:varchar(255)"`
	CreatedAt   time.Time `gorm:"precision:3;not null"`
}

func (OrderEvent) TableName() string { return "order_events" }

// FinancialEntry is the money ledger. Entries are idempotent per
// (ref_type, ref_id, event), see EnsureFinancialEntry.
type FinancialEntry struct {
	ID          string    `gorm:"type:char(36);primaryKey"`
	OrderID     string    `gorm:"type:char(36);not null;index:ix_financial_entries_order_id"`
	Event       string    `gorm:"type:varchar(32);not null"`
	AmountCents int       `gorm:"not null"`
	Currency    string    `gorm:"type:char(3);not null"`
	RefType     string    `gorm:"type:varchar(16);not null;index:ix_financial_entries_ref,priority:1"`
	RefID       string    `gorm:"type:char(36);not null;index:ix_financial_entries_ref,priority:2"`
	CreatedAt   time.Time `gorm:"precision:3;not null"`
}

func (FinancialEntry) TableName() string { return "order_financial_entries" }
