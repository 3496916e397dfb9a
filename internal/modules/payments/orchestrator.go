package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"payfold.com/app/internal/modules/orders"
)

// Orchestrator executes the state-changing remote calls (capture, void,
// refund) guarded by local state preconditions. A precondition violation is
// a local programming error, distinct from a remote decline.
type Orchestrator struct {
	db     *gorm.DB
	gw     Gateway
	logger *slog.Logger
}

func NewOrchestrator(db *gorm.DB, gw Gateway) *Orchestrator {
	return &Orchestrator{db: db, gw: gw, logger: slog.Default()}
}

func (o *Orchestrator) SetLogger(l *slog.Logger) { o.logger = l }

// actorMarker is what outgoing metadata carries so the confirmation
// webhook can recognize its own echo.
func actorMarker(actorID string) string { return "merchant:" + actorID }

type CaptureInput struct {
	PaymentID   string
	AmountCents int // 0 = full authorized amount
	ActorID     string
}

type CaptureResult struct {
	PaymentID       string
	State           string
	AmountCents     int
	AlreadyCaptured bool
}

// Capture converts an authorized payment into a settled charge. Concurrent
// captures resolve to exactly one remote call; the losers observe
// "already completed" without error.
func (o *Orchestrator) Capture(ctx context.Context, in CaptureInput) (CaptureResult, error) {
	if in.PaymentID == "" || in.ActorID == "" {
		return CaptureResult{}, ErrNotCapturable
	}

	// Phase-1: lock + precondition
	var p Payment
	var ord orders.Order
	already := false
	amount := in.AmountCents

	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		p, ord, err = o.lockPayment(ctx, tx, in.PaymentID)
		if err != nil {
			return err
		}

		if p.State == StateCompleted {
			already = true
			return nil
		}
		if p.State != StateAuthorization {
			return fmt.Errorf("%w: state %s", ErrNotCapturable, p.State)
		}
		if amount <= 0 || amount > p.AmountCents {
			amount = p.AmountCents
		}
		return nil
	})
	if err != nil {
		return CaptureResult{}, err
	}
	if already {
		return CaptureResult{PaymentID: p.ID, State: p.State, AmountCents: p.AmountCents, AlreadyCaptured: true}, nil
	}

	// Phase-2: stamp the actor marker first, so the confirmation webhook
	// arrives self-sourced, then capture and re-read the observed truth
	if _, err := o.gw.UpdateIntentMetadata(ctx, p.RemoteID, map[string]string{MetaInitiatedBy: actorMarker(in.ActorID)}); err != nil {
		return CaptureResult{}, Classify(err)
	}
	if _, err := o.gw.CapturePaymentIntent(ctx, p.RemoteID, CaptureParams{AmountCents: amount}); err != nil {
		return CaptureResult{}, Classify(err)
	}
	intent, err := o.gw.GetPaymentIntent(ctx, p.RemoteID)
	if err != nil {
		return CaptureResult{}, Classify(err)
	}

	observed := intent.AmountReceivedCents
	if observed == 0 {
		observed = amount
	}
	if observed != amount {
		o.logger.WarnContext(ctx, "captured amount diverges from requested",
			"payment_id", p.ID, "requested_cents", amount, "received_cents", observed)
	}

	// Phase-3: finalize under the lock; the webhook may have landed in the
	// meantime despite the marker, so re-check state
	var res CaptureResult
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, ord, err = o.lockPayment(ctx, tx, in.PaymentID)
		if err != nil {
			return err
		}
		if p.State == StateCompleted {
			res = CaptureResult{PaymentID: p.ID, State: p.State, AmountCents: p.AmountCents, AlreadyCaptured: true}
			return nil
		}
		if err := p.Transition(StateCompleted); err != nil {
			return err
		}

		now := time.Now()
		p.AmountCents = observed
		if err := tx.WithContext(ctx).Model(&Payment{}).
			Where("id = ?", p.ID).
			Updates(map[string]any{
				"state":        p.State,
				"amount_cents": p.AmountCents,
				"updated_at":   now,
			}).Error; err != nil {
			return err
		}

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
			return err
		}

		res = CaptureResult{PaymentID: p.ID, State: p.State, AmountCents: p.AmountCents}
		return orders.AppendEvent(ctx, tx, orders.OrderEvent{
			OrderID:     ord.ID,
			ActorUserID: in.ActorID,
			Action:      "capture",
			FromStatus:  ord.Status,
			ToStatus:    ord.Status,
			Note:        optStr("payment_id=" + p.ID),
		})
	})
	if err != nil {
		return CaptureResult{}, err
	}
	return res, nil
}

type VoidInput struct {
	PaymentID string
	ActorID   string
}

type VoidResult struct {
	PaymentID     string
	State         string
	AlreadyVoided bool
}

// Void cancels an authorization before capture, releasing the held funds.
func (o *Orchestrator) Void(ctx context.Context, in VoidInput) (VoidResult, error) {
	if in.PaymentID == "" || in.ActorID == "" {
		return VoidResult{}, ErrNotVoidable
	}

	var p Payment
	var ord orders.Order
	already := false

	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		p, ord, err = o.lockPayment(ctx, tx, in.PaymentID)
		if err != nil {
			return err
		}
		if p.State == StateVoided {
			already = true
			return nil
		}
		if p.State != StateAuthorization {
			return fmt.Errorf("%w: state %s", ErrNotVoidable, p.State)
		}
		return nil
	})
	if err != nil {
		return VoidResult{}, err
	}
	if already {
		return VoidResult{PaymentID: p.ID, State: p.State, AlreadyVoided: true}, nil
	}

	if _, err := o.gw.UpdateIntentMetadata(ctx, p.RemoteID, map[string]string{MetaInitiatedBy: actorMarker(in.ActorID)}); err != nil {
		return VoidResult{}, Classify(err)
	}
	if _, err := o.gw.CancelPaymentIntent(ctx, p.RemoteID, CancelParams{Reason: "requested_by_customer"}); err != nil {
		return VoidResult{}, Classify(err)
	}

	var res VoidResult
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, ord, err = o.lockPayment(ctx, tx, in.PaymentID)
		if err != nil {
			return err
		}
		if p.State == StateVoided {
			res = VoidResult{PaymentID: p.ID, State: p.State, AlreadyVoided: true}
			return nil
		}
		if err := p.Transition(StateVoided); err != nil {
			return err
		}

		now := time.Now()
		if err := tx.WithContext(ctx).Model(&Payment{}).
			Where("id = ?", p.ID).
			Updates(map[string]any{"state": p.State, "updated_at": now}).Error; err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Model(&orders.Order{}).
			Where("id = ?", ord.ID).
			Updates(map[string]any{
				"balance_cents": gorm.Expr("balance_cents + ?", p.AmountCents),
				"updated_at":    now,
			}).Error; err != nil {
			return err
		}

		res = VoidResult{PaymentID: p.ID, State: p.State}
		return orders.AppendEvent(ctx, tx, orders.OrderEvent{
			OrderID:     ord.ID,
			ActorUserID: in.ActorID,
			Action:      "void",
			FromStatus:  ord.Status,
			ToStatus:    ord.Status,
			Note:        optStr("payment_id=" + p.ID),
		})
	})
	if err != nil {
		return VoidResult{}, err
	}
	return res, nil
}

type RefundInput struct {
	PaymentID      string
	AmountCents    int // 0 = full remaining
	ActorID        string
	IdempotencyKey string
	Reason         string
}

type RefundResult struct {
	RefundID     string
	PaymentState string
	AmountCents  int
	Idempotent   bool
}

// Refund returns funds on a completed payment. The remote call carries a
// caller-generated idempotency key so a retry after a timeout cannot create
// a duplicate remote refund.
func (o *Orchestrator) Refund(ctx context.Context, in RefundInput) (RefundResult, error) {
	if in.PaymentID == "" || in.ActorID == "" || in.IdempotencyKey == "" {
		return RefundResult{}, ErrNotRefundable
	}

	// Phase-1: lock + precondition + idempotency + refund(initiated) row
	var p Payment
	var ord orders.Order
	var ref Refund
	var amount int

	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		p, ord, err = o.lockPayment(ctx, tx, in.PaymentID)
		if err != nil {
			return err
		}

		if p.State != StateCompleted && p.State != StatePartiallyRefunded {
			return fmt.Errorf("%w: state %s", ErrNotRefundable, p.State)
		}

		remaining := p.AmountCents - p.RefundedCents
		if remaining <= 0 {
			return ErrNotRefundable
		}
		amount = in.AmountCents
		if amount <= 0 || amount > remaining {
			amount = remaining
		}

		// idempotency: payment + key
		var existing Refund
		e := tx.WithContext(ctx).First(&existing, "payment_id = ? AND idempotency_key = ?", p.ID, in.IdempotencyKey).Error
		if e == nil {
			ref = existing
			return nil
		}
		if !errors.Is(e, gorm.ErrRecordNotFound) {
			return e
		}

		now := time.Now()
		ref = Refund{
			ID:             uuid.NewString(),
			OrderID:        ord.ID,
			PaymentID:      p.ID,
			Provider:       o.gw.Name(),
			Status:         RefundStatusInitiated,
			AmountCents:    amount,
			Currency:       p.Currency,
			IdempotencyKey: in.IdempotencyKey,
			Reason:         optStr(in.Reason),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		return tx.WithContext(ctx).Create(&ref).Error
	})
	if err != nil {
		return RefundResult{}, err
	}

	if ref.Status == RefundStatusSucceeded {
		return RefundResult{RefundID: ref.ID, PaymentState: p.State, AmountCents: ref.AmountCents, Idempotent: true}, nil
	}

	// Phase-2: remote refund (outside tx)
	resp, gerr := o.gw.CreateRefund(ctx, RefundParams{
		IntentID:       p.RemoteID,
		AmountCents:    ref.AmountCents,
		Reason:         in.Reason,
		Metadata:       map[string]string{MetaInitiatedBy: actorMarker(in.ActorID), MetaOrderID: ord.ID},
		IdempotencyKey: in.IdempotencyKey,
	})
	if gerr != nil {
		de := Classify(gerr)
		if err := o.failRefund(ctx, ref.ID, ord, in.ActorID, de.Error()); err != nil {
			return RefundResult{}, err
		}
		return RefundResult{}, de
	}

	// reconcile to the observed post-operation amount, not the request
	observed := resp.AmountCents
	if observed == 0 {
		observed = ref.AmountCents
	}
	if observed != ref.AmountCents {
		o.logger.WarnContext(ctx, "refunded amount diverges from requested",
			"refund_id", ref.ID, "requested_cents", ref.AmountCents, "observed_cents", observed)
	}

	// Phase-3: finalize under the lock
	var res RefundResult
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, ord, err = o.lockPayment(ctx, tx, in.PaymentID)
		if err != nil {
			return err
		}

		now := time.Now()
		if err := tx.WithContext(ctx).Model(&Refund{}).
			Where("id = ?", ref.ID).
			Updates(map[string]any{
				"status":       RefundStatusSucceeded,
				"remote_id":    resp.ID,
				"amount_cents": observed,
				"updated_at":   now,
			}).Error; err != nil {
			return err
		}

		newRefunded := p.RefundedCents + observed
		if newRefunded > p.AmountCents {
			o.logger.WarnContext(ctx, "refund total exceeds payment amount, capping",
				"payment_id", p.ID, "refunded_cents", newRefunded, "amount_cents", p.AmountCents)
			newRefunded = p.AmountCents
		}
		if err := p.Transition(RefundState(p.AmountCents, newRefunded)); err != nil {
			return err
		}
		p.RefundedCents = newRefunded
		if err := tx.WithContext(ctx).Model(&Payment{}).
			Where("id = ?", p.ID).
			Updates(map[string]any{
				"state":          p.State,
				"refunded_cents": p.RefundedCents,
				"updated_at":     now,
			}).Error; err != nil {
			return err
		}

		if err := applyOrderRefund(ctx, tx, &ord, observed, now); err != nil {
			return err
		}
		if err := orders.EnsureFinancialEntry(ctx, tx, orders.FinancialEntry{
			ID:          uuid.NewString(),
			OrderID:     ord.ID,
			Event:       "refund_succeeded",
			AmountCents: -observed,
			Currency:    ref.Currency,
			RefType:     "refund",
			RefID:       ref.ID,
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		res = RefundResult{RefundID: ref.ID, PaymentState: p.State, AmountCents: observed}
		return orders.AppendEvent(ctx, tx, orders.OrderEvent{
			OrderID:     ord.ID,
			ActorUserID: in.ActorID,
			Action:      "refund",
			FromStatus:  ord.Status,
			ToStatus:    ord.Status,
			Note:        optStr("refund_id=" + ref.ID),
		})
	})
	if err != nil {
		return RefundResult{}, err
	}
	return res, nil
}

func (o *Orchestrator) failRefund(ctx context.Context, refundID string, ord orders.Order, actorID, msg string) error {
	return o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		if err := tx.WithContext(ctx).Model(&Refund{}).
			Where("id = ?", refundID).
			Updates(map[string]any{
				"status":        RefundStatusFailed,
				"error_message": truncate(msg, 250),
				"updated_at":    now,
			}).Error; err != nil {
			return err
		}
		return orders.AppendEvent(ctx, tx, orders.OrderEvent{
			OrderID:     ord.ID,
			ActorUserID: actorID,
			Action:      "refund",
			FromStatus:  ord.Status,
			ToStatus:    ord.Status,
			Note:        optStr("refund failed: " + truncate(msg, 200)),
		})
	})
}

// lockPayment takes the order lock first (the single serialization point),
// then the payment row.
func (o *Orchestrator) lockPayment(ctx context.Context, tx *gorm.DB, paymentID string) (Payment, orders.Order, error) {
	var probe Payment
	if err := tx.WithContext(ctx).First(&probe, "id = ?", paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Payment{}, orders.Order{}, ErrPaymentNotFound
		}
		return Payment{}, orders.Order{}, err
	}

	ord, err := orders.GetForUpdate(ctx, tx, probe.OrderID)
	if err != nil {
		return Payment{}, orders.Order{}, err
	}

	var p Payment
	if err := orders.LockForUpdate(tx).WithContext(ctx).First(&p, "id = ?", paymentID).Error; err != nil {
		return Payment{}, orders.Order{}, err
	}
	return p, ord, nil
}
