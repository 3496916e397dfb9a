package payments

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"payfold.com/app/internal/modules/orders"
	"payfold.com/app/internal/storage"
)

const (
	EventUnprocessed = "unprocessed"
	EventSucceeded   = "succeeded"
	EventFailed      = "failed"
	EventSkipped     = "skipped"
)

// WebhookEvent is the dedup store: unique(provider,event_id) guarantees
// at-most-one logical processing per remote event id under redelivery.
type WebhookEvent struct {
	ID          string         `gorm:"type:char(36);primaryKey"`
	Provider    string         `gorm:"type:varchar(64);not null;uniqueIndex:ux_webhook_events_provider_event,priority:1"`
	EventID     string         `gorm:"type:varchar(128);not null;uniqueIndex:ux_webhook_events_provider_event,priority:2"`
	EventType   string         `gorm:"type:varchar(64);not null"`
	PayloadJSON datatypes.JSON `gorm:"type:json;not null"`
	Signature   string         `gorm:"type:varchar(512);not null"`

	Status    string  `gorm:"type:varchar(16);not null"`
	Reason    *string `gorm:"type:varchar(255)"`
	PaymentID *string `gorm:"type:char(36)"`

	ReceivedAt  time.Time  `gorm:"precision:3;not null"`
	ProcessedAt *time.Time `gorm:"precision:3"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

// Only these types reach the state machine; everything else is recorded
// Skipped and acknowledged, never retried.
var supportedEventTypes = map[string]bool{
	"payment_intent.succeeded":                 true,
	"payment_intent.payment_failed":            true,
	"payment_intent.canceled":                  true,
	"payment_intent.amount_capturable_updated": true,
	"charge.refunded":                          true,
}

type WebhookService struct {
	db      *gorm.DB
	gw      Gateway
	archive storage.Archive
	logger  *slog.Logger
	// delay > 0 switches to deferred mode: acknowledge on receipt, process
	// a little later so the faster browser return path usually wins the
	// race and the webhook degenerates into the cheap self-source skip.
	delay time.Duration
}

func NewWebhookService(db *gorm.DB, gw Gateway) *WebhookService {
	return &WebhookService{db: db, gw: gw, logger: slog.Default()}
}

func (s *WebhookService) SetLogger(l *slog.Logger)        { s.logger = l }
func (s *WebhookService) SetArchive(a storage.Archive)    { s.archive = a }
func (s *WebhookService) SetProcessDelay(d time.Duration) { s.delay = d }

// Handle runs the pipeline for one verified inbound event. A non-nil error
// means the transport layer should answer non-2xx so the remote side
// redelivers.
func (s *WebhookService) Handle(ctx context.Context, ev Event, rawBody []byte, signature string) error {
	provider := s.gw.Name()

	row := WebhookEvent{
		ID:          uuid.NewString(),
		Provider:    provider,
		EventID:     ev.ID,
		EventType:   ev.Type,
		PayloadJSON: datatypes.JSON(json.RawMessage(rawBody)),
		Signature:   signature,
		Status:      EventUnprocessed,
		ReceivedAt:  time.Now(),
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if !isDup(err) {
			s.logger.ErrorContext(ctx, "failed to persist webhook event",
				"provider", provider, "event_id", ev.ID, "err", err)
			return err
		}

		// redelivery: terminal rows are acknowledged without reprocessing;
		// a failed row gets another attempt
		var existing WebhookEvent
		if err := s.db.WithContext(ctx).First(&existing, "provider = ? AND event_id = ?", provider, ev.ID).Error; err != nil {
			return err
		}
		if existing.Status != EventFailed {
			s.logger.InfoContext(ctx, "webhook event deduplicated",
				"provider", provider, "event_id", ev.ID, "type", ev.Type, "status", existing.Status)
			return nil
		}
		row = existing
	}

	if s.archive != nil {
		if err := s.archive.Put(ctx, provider+"_"+ev.ID, rawBody); err != nil {
			s.logger.ErrorContext(ctx, "webhook payload archive failed",
				"event_id", ev.ID, "err", err)
		}
	}

	if s.delay > 0 {
		time.AfterFunc(s.delay, func() {
			pctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.process(pctx, row.ID, ev); err != nil {
				s.logger.ErrorContext(pctx, "deferred webhook processing failed",
					"event_id", ev.ID, "type", ev.Type, "err", err)
			}
		})
		return nil
	}

	return s.process(ctx, row.ID, ev)
}

// process runs classify / self-source / resolve / apply / record for an
// already persisted event row.
func (s *WebhookService) process(ctx context.Context, rowID string, ev Event) error {
	if !supportedEventTypes[ev.Type] {
		return s.finish(ctx, rowID, EventSkipped, "unsupported event type: "+ev.Type, nil)
	}

	if actor := ev.Metadata[MetaInitiatedBy]; actor != "" {
		// confirmation echo of an operation this system already applied
		s.logger.InfoContext(ctx, "webhook event self-sourced, skipping",
			"event_id", ev.ID, "type", ev.Type, "initiated_by", actor)
		return s.finish(ctx, rowID, EventSkipped, "self-sourced: "+actor, nil)
	}

	var outcome resolveOutcome
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		orderID, err := s.resolveOrderID(ctx, tx, ev)
		if err != nil {
			return err
		}

		ord, err := orders.GetForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if ev.Type == "charge.refunded" {
			outcome, err = s.applyChargeRefunded(ctx, tx, &ord, ev)
			return err
		}

		intent := &Intent{
			ID:                  ev.IntentID,
			Status:              ev.Status,
			AmountCents:         ev.AmountCents,
			AmountReceivedCents: ev.AmountReceivedCents,
			Currency:            ev.Currency,
			Metadata:            ev.Metadata,
		}
		outcome, err = applyIntent(ctx, tx, s.logger, s.gw.Name(), &ord, intent)
		return err
	})
	if err != nil {
		// record the failure, then re-raise so the transport layer answers
		// non-2xx and the remote side redelivers
		if ferr := s.finish(ctx, rowID, EventFailed, err.Error(), nil); ferr != nil {
			s.logger.ErrorContext(ctx, "failed to record webhook failure",
				"event_id", ev.ID, "err", ferr)
		}
		s.logger.ErrorContext(ctx, "webhook event apply failed",
			"event_id", ev.ID, "type", ev.Type, "err", err)
		return err
	}

	status := EventSucceeded
	if outcome.Skipped {
		status = EventSkipped
	}
	var paymentID *string
	if outcome.Payment != nil {
		paymentID = &outcome.Payment.ID
	}
	if err := s.finish(ctx, rowID, status, outcome.Reason, paymentID); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "webhook event processed",
		"event_id", ev.ID, "type", ev.Type, "status", status, "reason", outcome.Reason)
	return nil
}

// resolveOrderID locates the order through the local payment, or through
// the intent's metadata when no payment exists yet (webhook beat the
// return handler).
func (s *WebhookService) resolveOrderID(ctx context.Context, tx *gorm.DB, ev Event) (string, error) {
	if ev.IntentID == "" {
		return "", errors.New("event carries no intent id")
	}

	var p Payment
	err := tx.WithContext(ctx).First(&p, "provider = ? AND remote_id = ?", s.gw.Name(), ev.IntentID).Error
	if err == nil {
		return p.OrderID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	orderID := ev.Metadata[MetaOrderID]
	if orderID == "" {
		// fall back to the remote intent's metadata; the event payload may
		// have been built before the metadata write landed
		intent, gerr := s.gw.GetPaymentIntent(ctx, ev.IntentID)
		if gerr != nil {
			return "", gerr
		}
		orderID = intent.Metadata[MetaOrderID]
	}
	if orderID == "" {
		return "", errors.New("cannot resolve order for intent " + ev.IntentID)
	}
	return orderID, nil
}

// applyChargeRefunded reconciles local refund totals to the remote total
// refunded on the charge. Monotone and capped at the payment amount.
func (s *WebhookService) applyChargeRefunded(ctx context.Context, tx *gorm.DB, ord *orders.Order, ev Event) (resolveOutcome, error) {
	var p Payment
	if err := orders.LockForUpdate(tx).WithContext(ctx).
		First(&p, "provider = ? AND remote_id = ?", s.gw.Name(), ev.IntentID).Error; err != nil {
		return resolveOutcome{}, err // not found: retry, the payment may still be in flight
	}

	observed := ev.AmountRefundedCents
	if observed > p.AmountCents {
		observed = p.AmountCents
	}
	if observed <= p.RefundedCents {
		return resolveOutcome{Payment: &p, Skipped: true, Reason: "refund total already reconciled"}, nil
	}

	delta := observed - p.RefundedCents
	p.RefundedCents = observed
	if err := p.Transition(RefundState(p.AmountCents, p.RefundedCents)); err != nil {
		return resolveOutcome{}, err
	}

	now := time.Now()
	if err := tx.WithContext(ctx).Model(&Payment{}).
		Where("id = ?", p.ID).
		Updates(map[string]any{
			"state":          p.State,
			"refunded_cents": p.RefundedCents,
			"updated_at":     now,
		}).Error; err != nil {
		return resolveOutcome{}, err
	}

	if err := applyOrderRefund(ctx, tx, ord, delta, now); err != nil {
		return resolveOutcome{}, err
	}

	return resolveOutcome{Payment: &p, Applied: true}, orders.EnsureFinancialEntry(ctx, tx, orders.FinancialEntry{
		ID:          uuid.NewString(),
		OrderID:     ord.ID,
		Event:       "refund_succeeded",
		AmountCents: -delta,
		Currency:    p.Currency,
		RefType:     "webhook_event",
		RefID:       ev.ID,
		CreatedAt:   now,
	})
}

// finish moves the event row to its terminal processing status exactly once.
func (s *WebhookService) finish(ctx context.Context, rowID, status, reason string, paymentID *string) error {
	now := time.Now()
	updates := map[string]any{
		"status":       status,
		"processed_at": &now,
	}
	if reason != "" {
		r := truncate(reason, 250)
		updates["reason"] = r
	}
	if paymentID != nil {
		updates["payment_id"] = *paymentID
	}
	return s.db.WithContext(ctx).Model(&WebhookEvent{}).
		Where("id = ?", rowID).
		Updates(updates).Error
}

// applyOrderRefund bumps the order's refunded totals and derives its status.
func applyOrderRefund(ctx context.Context, tx *gorm.DB, ord *orders.Order, deltaCents int, now time.Time) error {
	newRefunded := ord.RefundedCents + deltaCents
	newStatus := ord.Status
	var refundedAt *time.Time

	if newRefunded >= ord.TotalCents {
		newRefunded = ord.TotalCents
		newStatus = orders.StatusRefunded
		t := now
		refundedAt = &t
	} else {
		newStatus = orders.StatusPartiallyRefunded
	}

	if err := tx.WithContext(ctx).Model(&orders.Order{}).
		Where("id = ?", ord.ID).
		Updates(map[string]any{
			"refunded_cents": newRefunded,
			"status":         newStatus,
			"refunded_at":    refundedAt,
			"updated_at":     now,
		}).Error; err != nil {
		return err
	}
	ord.RefundedCents = newRefunded
	ord.Status = newStatus
	return nil
}

func isDup(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == 1062 {
		return true
	}
	// sqlite (tests)
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
