package payments

import (
	"context"
	"net/http"
)

// Remote intent statuses.
const (
	IntentRequiresPaymentMethod = "requires_payment_method"
	IntentRequiresConfirmation  = "requires_confirmation"
	IntentRequiresAction        = "requires_action"
	IntentRequiresCapture       = "requires_capture"
	IntentProcessing            = "processing"
	IntentSucceeded             = "succeeded"
	IntentCanceled              = "canceled"
)

const (
	CaptureAutomatic      = "automatic"
	CaptureAutomaticAsync = "automatic_async"
	CaptureManual         = "manual"
)

// Metadata keys stamped onto remote objects.
const (
	MetaOrderID = "order_id"
	MetaStoreID = "store_id"
	// MetaInitiatedBy marks an operation issued by this system. A webhook
	// whose object echoes it is a confirmation of something already applied
	// locally. Best-effort: the idempotent transition check stays the real
	// safety net.
	MetaInitiatedBy = "initiated_by"
)

// Intent is the remote-owned lifecycle object, cached locally only as an
// id plus last-known status. Setup intents are normalized into the same
// shape with zero amounts.
type Intent struct {
	ID                  string
	Status              string
	AmountCents         int
	AmountReceivedCents int
	Currency            string
	CaptureMethod       string
	CustomerID          string
	PaymentMethodID     string
	ClientSecret        string
	Metadata            map[string]string
}

type CreateIntentParams struct {
	AmountCents     int
	Currency        string
	CaptureMethod   string
	CustomerID      string
	PaymentMethodID string
	Confirm         bool
	ReturnURL       string
	Metadata        map[string]string
	IdempotencyKey  string
}

type CaptureParams struct {
	AmountCents int // 0 = full capturable amount
}

type CancelParams struct {
	Reason string
}

type RefundParams struct {
	IntentID       string
	AmountCents    int
	Reason         string
	Metadata       map[string]string
	IdempotencyKey string
}

type RemoteRefund struct {
	ID          string
	Status      string
	AmountCents int
	Currency    string
}

// RemoteMethod is the remote payment-method resource, flattened across the
// closed kind set.
type RemoteMethod struct {
	ID           string
	Kind         string
	CustomerID   string
	CardBrand    string
	CardLast4    string
	CardExpMonth int
	CardExpYear  int
	BankName     string
	BankLast4    string
	WalletEmail  string
	BNPLProvider string
}

type CustomerParams struct {
	Email    string
	Name     string
	Metadata map[string]string
}

type Customer struct {
	ID    string
	Email string
}

// Event is a normalized inbound webhook notification.
type Event struct {
	ID                  string
	Type                string
	IntentID            string
	Status              string // intent status, payment_intent.* events
	AmountCents         int
	AmountReceivedCents int
	AmountRefundedCents int // charge.refunded: total refunded on the charge
	Currency            string
	Metadata            map[string]string
}

// Gateway is the remote API surface this core consumes. Implementations
// verify webhook signatures and translate wire errors into *RemoteError.
type Gateway interface {
	Name() string

	CreatePaymentIntent(ctx context.Context, p CreateIntentParams) (*Intent, error)
	GetPaymentIntent(ctx context.Context, id string) (*Intent, error)
	GetSetupIntent(ctx context.Context, id string) (*Intent, error)
	ConfirmPaymentIntent(ctx context.Context, id string) (*Intent, error)
	CapturePaymentIntent(ctx context.Context, id string, p CaptureParams) (*Intent, error)
	CancelPaymentIntent(ctx context.Context, id string, p CancelParams) (*Intent, error)
	UpdateIntentMetadata(ctx context.Context, id string, metadata map[string]string) (*Intent, error)

	CreateRefund(ctx context.Context, p RefundParams) (*RemoteRefund, error)

	GetPaymentMethod(ctx context.Context, id string) (*RemoteMethod, error)
	AttachPaymentMethod(ctx context.Context, id, customerID string) (*RemoteMethod, error)
	DetachPaymentMethod(ctx context.Context, id string) error

	CreateCustomer(ctx context.Context, p CustomerParams) (*Customer, error)

	// VerifyAndParseWebhook validates the signature over the raw body and
	// normalizes the payload.
	VerifyAndParseWebhook(headers http.Header, body []byte) (Event, error)
}
