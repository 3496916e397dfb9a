package payments

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"payfold.com/app/internal/modules/orders"
)

// resolveOutcome reports what applyIntent did, for logging and for the
// webhook event record.
type resolveOutcome struct {
	Payment *Payment
	Created bool
	Applied bool
	Skipped bool
	Reason  string
}

// applyIntent is the single transition path shared by the return handler
// and the webhook processor, so the two racing entry points converge on
// the same final state. The caller holds the order row lock in tx.
func applyIntent(ctx context.Context, tx *gorm.DB, logger *slog.Logger, provider string, ord *orders.Order, intent *Intent) (resolveOutcome, error) {
	target, failure := targetState(intent.Status)
	if target == "" {
		return resolveOutcome{Skipped: true, Reason: "intent status " + intent.Status + " requires no local transition"}, nil
	}

	var p Payment
	err := orders.LockForUpdate(tx).WithContext(ctx).First(&p, "provider = ? AND remote_id = ?", provider, intent.ID).Error
	switch {
	case err == nil:
		return applyToExisting(ctx, tx, logger, ord, intent, &p, target)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return createFromIntent(ctx, tx, logger, provider, ord, intent, target, failure)
	default:
		return resolveOutcome{}, err
	}
}

// targetState maps a remote intent status to the local payment state it
// implies. An empty target means the status carries no local transition;
// failure marks cancellation-style statuses.
func targetState(status string) (target string, failure bool) {
	switch status {
	case IntentRequiresCapture:
		return StateAuthorization, false
	case IntentSucceeded:
		return StateCompleted, false
	case IntentCanceled, IntentRequiresPaymentMethod:
		// canceled, or the attempt failed and the remote side handed the
		// intent back for a new payment method
		return StateVoided, true
	default:
		// processing, requires_action, requires_confirmation
		return "", false
	}
}

func createFromIntent(ctx context.Context, tx *gorm.DB, logger *slog.Logger, provider string, ord *orders.Order, intent *Intent, target string, failure bool) (resolveOutcome, error) {
	if failure {
		// nothing local to void; the decline surfaced (or will surface)
		// through the synchronous path
		return resolveOutcome{Skipped: true, Reason: "intent " + intent.Status + " before a payment existed"}, nil
	}
	if !ord.Payable() {
		return resolveOutcome{Skipped: true, Reason: "order " + ord.ID + " not eligible for completion"}, nil
	}

	amount := intent.AmountCents
	if target == StateCompleted && intent.AmountReceivedCents > 0 {
		// trust the actually received amount, not the requested one
		amount = intent.AmountReceivedCents
	}

	now := time.Now()
	p := Payment{
		ID:          uuid.NewString(),
		OrderID:     ord.ID,
		Provider:    provider,
		RemoteID:    intent.ID,
		State:       StateNew,
		AmountCents: amount,
		Currency:    ord.Currency,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.Transition(target); err != nil {
		return resolveOutcome{}, err
	}
	if err := tx.WithContext(ctx).Create(&p).Error; err != nil {
		return resolveOutcome{}, err
	}

	if err := placeOrder(ctx, tx, ord, &p); err != nil {
		return resolveOutcome{}, err
	}

	if p.State == StateCompleted {
		if err := orders.EnsureFinancialEntry(ctx, tx, orders.FinancialEntry{
			ID:          uuid.NewString(),
			OrderID:     ord.ID,
			Event:       "payment_succeeded",
			AmountCents: p.AmountCents,
			Currency:    p.Currency,
			RefType:     "payment",
			RefID:       p.ID,
			CreatedAt:   now,
		}); err != nil {
			return resolveOutcome{}, err
		}
	}

	logger.InfoContext(ctx, "payment created from intent",
		"order_id", ord.ID, "payment_id", p.ID, "intent_id", intent.ID, "state", p.State)
	return resolveOutcome{Payment: &p, Created: true, Applied: true}, nil
}

func applyToExisting(ctx context.Context, tx *gorm.DB, logger *slog.Logger, ord *orders.Order, intent *Intent, p *Payment, target string) (resolveOutcome, error) {
	if p.State == target {
		// second path lost the race; converged already
		if err := clearIfPending(ctx, tx, ord, intent.ID); err != nil {
			return resolveOutcome{}, err
		}
		return resolveOutcome{Payment: p, Skipped: true, Reason: "payment already " + target}, nil
	}

	// refund states never come from intent statuses; treat a terminal
	// payment as converged rather than an integrity failure
	if target == StateCompleted && (p.State == StatePartiallyRefunded || p.State == StateRefunded) {
		return resolveOutcome{Payment: p, Skipped: true, Reason: "payment already " + p.State}, nil
	}

	if err := p.Transition(target); err != nil {
		return resolveOutcome{}, err
	}

	now := time.Now()
	updates := map[string]any{"state": p.State, "updated_at": now}
	if p.State == StateCompleted && intent.AmountReceivedCents > 0 && intent.AmountReceivedCents != p.AmountCents {
		logger.WarnContext(ctx, "reconciling payment amount to remote amount_received",
			"payment_id", p.ID, "local_cents", p.AmountCents, "received_cents", intent.AmountReceivedCents)
		p.AmountCents = intent.AmountReceivedCents
		updates["amount_cents"] = p.AmountCents
	}
	if err := tx.WithContext(ctx).Model(&Payment{}).Where("id = ?", p.ID).Updates(updates).Error; err != nil {
		return resolveOutcome{}, err
	}

	switch p.State {
	case StateCompleted:
		if err := orders.EnsureFinancialEntry(ctx, tx, orders.FinancialEntry{
			ID:          uuid.NewString(),
			OrderID:     ord.ID,
			Event:       "payment_succeeded",
			AmountCents: p.AmountCents,
			Currency:    p.Currency,
			RefType:     "payment",
			RefID:       p.ID,
			CreatedAt:   now,
		}); err != nil {
			return resolveOutcome{}, err
		}
	case StateVoided:
		// released funds: the order owes the amount again
		if err := tx.WithContext(ctx).Model(&orders.Order{}).
			Where("id = ?", ord.ID).
			Updates(map[string]any{
				"balance_cents": gorm.Expr("balance_cents + ?", p.AmountCents),
				"updated_at":    now,
			}).Error; err != nil {
			return resolveOutcome{}, err
		}
	}

	if err := clearIfPending(ctx, tx, ord, intent.ID); err != nil {
		return resolveOutcome{}, err
	}

	logger.InfoContext(ctx, "payment transition applied",
		"order_id", ord.ID, "payment_id", p.ID, "intent_id", intent.ID, "state", p.State)
	return resolveOutcome{Payment: p, Applied: true}, nil
}

// placeOrder completes the order against a freshly created payment in a
// capturable or completed state, and clears the pending intent reference.
func placeOrder(ctx context.Context, tx *gorm.DB, ord *orders.Order, p *Payment) error {
	now := time.Now()
	balance := ord.BalanceCents - p.AmountCents
	if balance < 0 {
		balance = 0
	}

	updates := map[string]any{
		"status":        orders.StatusCompleted,
		"balance_cents": balance,
		"placed_at":     &now,
		"updated_at":    now,
	}
	if ord.PendingIntentID != nil && *ord.PendingIntentID == p.RemoteID {
		updates["pending_intent_id"] = nil
	}

	// optimistic guard on the origin status
	return tx.WithContext(ctx).Model(&orders.Order{}).
		Where("id = ? AND status = ?", ord.ID, orders.StatusCreated).
		Updates(updates).Error
}

// clearIfPending drops the order's pending reference when it points at the
// intent that just reached a capturable or terminal state.
func clearIfPending(ctx context.Context, tx *gorm.DB, ord *orders.Order, intentID string) error {
	if ord.PendingIntentID == nil || *ord.PendingIntentID != intentID {
		return nil
	}
	return orders.ClearPendingIntent(ctx, tx, ord.ID)
}
