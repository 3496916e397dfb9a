package payments

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"payfold.com/app/internal/modules/orders"
)

// IntentService creates, retrieves and confirms remote intents. All state
// it needs travels in explicit config; no ambient globals.
type IntentService struct {
	db      *gorm.DB
	gw      Gateway
	storeID string
	logger  *slog.Logger
}

func NewIntentService(db *gorm.DB, gw Gateway, storeID string) *IntentService {
	return &IntentService{db: db, gw: gw, storeID: storeID, logger: slog.Default()}
}

func (s *IntentService) SetLogger(l *slog.Logger) { s.logger = l }

func (s *IntentService) Gateway() Gateway { return s.gw }

// IntentOverrides merge over the default attribute set built from the order.
type IntentOverrides struct {
	CaptureMethod   string
	PaymentMethodID string // remote payment method id
	Confirm         *bool
	ReturnURL       string
	Metadata        map[string]string
}

type CreateIntentInput struct {
	OrderID     string
	ActorUserID *string
	// AttemptNonce feeds the idempotency key together with the order id, so
	// an ambiguous failure can be retried without risking duplicate intents.
	AttemptNonce string
	Overrides    IntentOverrides
}

// CreateIntent builds the default attribute set, creates the remote intent
// and persists the remote id onto the order's pending-intent reference
// before returning. Remote failures come back classified as *DeclineError.
func (s *IntentService) CreateIntent(ctx context.Context, in CreateIntentInput) (*Intent, error) {
	if in.OrderID == "" || in.AttemptNonce == "" {
		return nil, orders.ErrNotPayable
	}

	// Phase-1: order lock + gates + resolve local payment method
	var ord orders.Order
	var method *PaymentMethod
	var existingIntentID string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		ord, err = orders.GetForUpdate(ctx, tx, in.OrderID)
		if err != nil {
			return err
		}

		if ord.UserID != nil && (in.ActorUserID == nil || *ord.UserID != *in.ActorUserID) {
			return ErrForbidden
		}
		if !ord.Payable() {
			return orders.ErrNotPayable
		}

		// at most one pending intent per order
		if ord.PendingIntentID != nil {
			existingIntentID = *ord.PendingIntentID
			return nil
		}

		if ord.PaymentMethodID != nil {
			var m PaymentMethod
			if err := tx.WithContext(ctx).First(&m, "id = ?", *ord.PaymentMethodID).Error; err != nil {
				return err
			}
			method = &m
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if existingIntentID != "" {
		intent, err := s.GetIntent(ctx, existingIntentID)
		if err != nil {
			return nil, Classify(err)
		}
		switch {
		case intent == nil:
			// stale reference: fall through and create a fresh intent
		case intent.Status == IntentCanceled || intent.Status == IntentRequiresPaymentMethod:
			// the attempt is dead remotely; free the slot so this call can
			// mint a replacement instead of handing back a dead intent
			err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				return orders.ClearPendingIntent(ctx, tx, ord.ID)
			})
			if err != nil {
				return nil, err
			}
			s.logger.InfoContext(ctx, "pending intent dead, replacing",
				"order_id", ord.ID, "intent_id", existingIntentID, "status", intent.Status)
		default:
			return intent, nil
		}
	}

	// Phase-2: remote calls (outside tx)
	customerID, err := s.ensureCustomer(ctx, ord.UserID)
	if err != nil {
		return nil, Classify(err)
	}

	params := CreateIntentParams{
		AmountCents:    ord.BalanceCents,
		Currency:       strings.ToLower(ord.Currency),
		CaptureMethod:  CaptureAutomatic,
		CustomerID:     customerID,
		Confirm:        true,
		Metadata:       map[string]string{MetaOrderID: ord.ID, MetaStoreID: s.storeID},
		IdempotencyKey: "pi_create:" + ord.ID + ":" + in.AttemptNonce,
	}
	if method != nil {
		params.PaymentMethodID = method.RemoteID
		if method.Reusable && customerID != "" {
			if _, err := s.gw.AttachPaymentMethod(ctx, method.RemoteID, customerID); err != nil {
				return nil, Classify(err)
			}
		}
	}
	ov := in.Overrides
	if ov.CaptureMethod != "" {
		params.CaptureMethod = ov.CaptureMethod
	}
	if ov.PaymentMethodID != "" {
		params.PaymentMethodID = ov.PaymentMethodID
	}
	if ov.Confirm != nil {
		params.Confirm = *ov.Confirm
	}
	if ov.ReturnURL != "" {
		params.ReturnURL = ov.ReturnURL
	}
	for k, v := range ov.Metadata {
		params.Metadata[k] = v
	}

	intent, gerr := s.gw.CreatePaymentIntent(ctx, params)
	if gerr != nil {
		return nil, Classify(gerr)
	}

	// Phase-3: persist the reference in the same call, so a crash after the
	// remote create cannot lose it silently.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return orders.SetPendingIntent(ctx, tx, ord.ID, intent.ID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "intent created",
		"order_id", ord.ID, "intent_id", intent.ID, "status", intent.Status, "capture_method", params.CaptureMethod)
	return intent, nil
}

// GetIntent dispatches on the id's prefix convention. Unrecognized prefixes
// return (nil, nil) so callers treat "no intent" uniformly.
func (s *IntentService) GetIntent(ctx context.Context, id string) (*Intent, error) {
	switch {
	case strings.HasPrefix(id, "pi_"):
		return s.gw.GetPaymentIntent(ctx, id)
	case strings.HasPrefix(id, "seti_"):
		return s.gw.GetSetupIntent(ctx, id)
	default:
		return nil, nil
	}
}

// ConfirmIntent moves a requires_confirmation intent forward. The remote
// side treats re-confirmation as a no-op, but we do not assume that: the
// status is re-read after the call.
func (s *IntentService) ConfirmIntent(ctx context.Context, intent *Intent) (*Intent, error) {
	if intent.Status == IntentRequiresConfirmation {
		if _, err := s.gw.ConfirmPaymentIntent(ctx, intent.ID); err != nil {
			return nil, Classify(err)
		}
	}
	fresh, err := s.gw.GetPaymentIntent(ctx, intent.ID)
	if err != nil {
		return nil, Classify(err)
	}
	return fresh, nil
}

// SaveMethodFromRemote confirms the remote payment-method resource and
// writes the local token. Existing rows for the same remote id are
// refreshed, not duplicated.
func (s *IntentService) SaveMethodFromRemote(ctx context.Context, userID *string, remoteID string) (PaymentMethod, error) {
	r, err := s.gw.GetPaymentMethod(ctx, remoteID)
	if err != nil {
		return PaymentMethod{}, Classify(err)
	}
	if _, ok := CapabilitiesFor(r.Kind); !ok {
		return PaymentMethod{}, errors.New("unknown payment method kind: " + r.Kind)
	}

	var saved PaymentMethod
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing PaymentMethod
		e := tx.WithContext(ctx).First(&existing, "remote_id = ?", remoteID).Error
		if e == nil {
			existing.UpdateFromRemote(r)
			saved = existing
			return tx.WithContext(ctx).Save(&existing).Error
		}
		if !errors.Is(e, gorm.ErrRecordNotFound) {
			return e
		}
		saved = NewPaymentMethodFromRemote(uuid.NewString(), userID, r)
		return tx.WithContext(ctx).Create(&saved).Error
	})
	return saved, err
}

// DeleteMethod detaches the remote resource and removes the local token.
func (s *IntentService) DeleteMethod(ctx context.Context, id string) error {
	var m PaymentMethod
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return err
	}
	if err := s.gw.DetachPaymentMethod(ctx, m.RemoteID); err != nil {
		return Classify(err)
	}
	return s.db.WithContext(ctx).Delete(&PaymentMethod{}, "id = ?", m.ID).Error
}

// ensureCustomer keeps the stable 1:1 local-owner to remote-customer
// mapping. Guests get no customer record.
func (s *IntentService) ensureCustomer(ctx context.Context, userID *string) (string, error) {
	if userID == nil {
		return "", nil
	}

	var gc GatewayCustomer
	e := s.db.WithContext(ctx).First(&gc, "user_id = ?", *userID).Error
	if e == nil {
		return gc.RemoteID, nil
	}
	if !errors.Is(e, gorm.ErrRecordNotFound) {
		return "", e
	}

	cust, err := s.gw.CreateCustomer(ctx, CustomerParams{
		Metadata: map[string]string{"user_id": *userID, MetaStoreID: s.storeID},
	})
	if err != nil {
		return "", err
	}

	gc = GatewayCustomer{UserID: *userID, RemoteID: cust.ID, CreatedAt: time.Now()}
	if err := s.db.WithContext(ctx).Create(&gc).Error; err != nil {
		if isDup(err) {
			// lost the race: another request mapped the owner first
			var winner GatewayCustomer
			if e := s.db.WithContext(ctx).First(&winner, "user_id = ?", *userID).Error; e == nil {
				return winner.RemoteID, nil
			}
		}
		return "", err
	}
	return cust.ID, nil
}
