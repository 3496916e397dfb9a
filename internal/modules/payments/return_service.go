package payments

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"payfold.com/app/internal/modules/orders"
)

// ReturnService resolves the browser redirect after an off-box
// authentication challenge. It funnels into the same applyIntent path as
// the webhook processor, so whichever runs first wins and the loser
// observes a no-op.
type ReturnService struct {
	db      *gorm.DB
	intents *IntentService
	logger  *slog.Logger
}

func NewReturnService(db *gorm.DB, intents *IntentService) *ReturnService {
	return &ReturnService{db: db, intents: intents, logger: slog.Default()}
}

func (s *ReturnService) SetLogger(l *slog.Logger) { s.logger = l }

type ReturnInput struct {
	OrderID string
	// Exactly one of the two is set.
	PaymentIntentID string
	SetupIntentID   string
}

type ReturnResult struct {
	OrderID   string
	PaymentID string
	State     string
	MethodID  string
	// Pending: the remote side is still settling (automatic_async);
	// the webhook will finalize.
	Pending bool
	Decline *DeclineError
}

func (s *ReturnService) HandleReturn(ctx context.Context, in ReturnInput) (ReturnResult, error) {
	if (in.PaymentIntentID == "") == (in.SetupIntentID == "") {
		return ReturnResult{}, ErrIntentMismatch
	}
	intentID := in.PaymentIntentID
	if intentID == "" {
		intentID = in.SetupIntentID
	}

	ord, err := orders.NewRepo(s.db).Get(ctx, in.OrderID)
	if err != nil {
		return ReturnResult{}, err
	}

	// the id must match the order's recorded pending reference
	if ord.PendingIntentID == nil || *ord.PendingIntentID != intentID {
		return ReturnResult{}, ErrIntentMismatch
	}

	intent, err := s.intents.GetIntent(ctx, intentID)
	if err != nil {
		return ReturnResult{}, Classify(err)
	}
	if intent == nil {
		return ReturnResult{}, ErrIntentMismatch
	}

	if in.SetupIntentID != "" {
		return s.handleSetupReturn(ctx, &ord, intent)
	}
	return s.handlePaymentReturn(ctx, &ord, intent)
}

func (s *ReturnService) handlePaymentReturn(ctx context.Context, ord *orders.Order, intent *Intent) (ReturnResult, error) {
	if intent.Status == IntentRequiresConfirmation {
		fresh, err := s.intents.ConfirmIntent(ctx, intent)
		if err != nil {
			var de *DeclineError
			if errors.As(err, &de) && !de.Operator() {
				return ReturnResult{OrderID: ord.ID, Decline: de}, nil
			}
			return ReturnResult{}, err
		}
		intent = fresh
	}

	switch intent.Status {
	case IntentRequiresAction:
		return ReturnResult{OrderID: ord.ID, Decline: &DeclineError{
			Kind:      SoftDecline,
			Code:      "authentication_required",
			PublicMsg: "Additional authentication is required to complete the payment.",
		}}, nil

	case IntentRequiresPaymentMethod, IntentCanceled:
		// the attempt is dead; free the slot so a new intent can be created
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return orders.ClearPendingIntent(ctx, tx, ord.ID)
		})
		if err != nil {
			return ReturnResult{}, err
		}
		return ReturnResult{OrderID: ord.ID, Decline: &DeclineError{
			Kind:      HardDecline,
			Code:      "payment_failed",
			PublicMsg: genericDeclineMsg,
		}}, nil

	case IntentProcessing:
		return ReturnResult{OrderID: ord.ID, Pending: true}, nil
	}

	var outcome resolveOutcome
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := orders.GetForUpdate(ctx, tx, ord.ID)
		if err != nil {
			return err
		}
		outcome, err = applyIntent(ctx, tx, s.logger, s.intents.Gateway().Name(), &locked, intent)
		return err
	})
	if err != nil {
		return ReturnResult{}, err
	}

	res := ReturnResult{OrderID: ord.ID}
	if outcome.Payment != nil {
		res.PaymentID = outcome.Payment.ID
		res.State = outcome.Payment.State
	}
	if outcome.Skipped && outcome.Payment == nil {
		res.Pending = true
	}
	return res, nil
}

func (s *ReturnService) handleSetupReturn(ctx context.Context, ord *orders.Order, intent *Intent) (ReturnResult, error) {
	if intent.Status != IntentSucceeded {
		return ReturnResult{OrderID: ord.ID, Decline: &DeclineError{
			Kind:      HardDecline,
			Code:      "setup_failed",
			PublicMsg: "The payment method could not be saved. Please try again.",
		}}, nil
	}

	method, err := s.intents.SaveMethodFromRemote(ctx, ord.UserID, intent.PaymentMethodID)
	if err != nil {
		return ReturnResult{}, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Model(&orders.Order{}).
			Where("id = ?", ord.ID).
			Update("payment_method_id", method.ID).Error; err != nil {
			return err
		}
		return orders.ClearPendingIntent(ctx, tx, ord.ID)
	})
	if err != nil {
		return ReturnResult{}, err
	}

	return ReturnResult{OrderID: ord.ID, MethodID: method.ID}, nil
}
