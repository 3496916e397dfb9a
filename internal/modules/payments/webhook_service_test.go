package payments

import (
	"context"
	"testing"

	"payfold.com/app/internal/modules/orders"
)

func succeededEvent(id, intentID, orderID string, amount int) Event {
	return Event{
		ID:                  id,
		Type:                "payment_intent.succeeded",
		IntentID:            intentID,
		Status:              IntentSucceeded,
		AmountCents:         amount,
		AmountReceivedCents: amount,
		Currency:            "eur",
		Metadata:            map[string]string{MetaOrderID: orderID},
	}
}

func eventRow(t *testing.T, svc *WebhookService, eventID string) WebhookEvent {
	t.Helper()
	var row WebhookEvent
	if err := svc.db.First(&row, "provider = ? AND event_id = ?", "fake", eventID).Error; err != nil {
		t.Fatalf("load event row: %v", err)
	}
	return row
}

func TestWebhookCreatesPaymentOnSucceeded(t *testing.T) {
	db := newTestDB(t)
	gw := newFakeGateway()
	svc := NewWebhookService(db, gw)
	ctx := context.Background()

	ord := mkOrder(t, db, 5000)
	ev := succeededEvent("evt_1", "pi_1", ord.ID, 5000)

	if err := svc.Handle(ctx, ev, []byte(`{}`), "sig"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	var p Payment
	if err := db.First(&p, "remote_id = ?", "pi_1").Error; err != nil {
		t.Fatalf("payment not created: %v", err)
	}
	if p.State != StateCompleted {
		t.Errorf("payment state = %s, want completed", p.State)
	}
	if p.AmountCents != 5000 {
		t.Errorf("payment amount = %d", p.AmountCents)
	}

	got := reloadOrder(t, db, ord.ID)
	if got.Status != orders.StatusCompleted {
		t.Errorf("order status = %s, want completed", got.Status)
	}
	if got.BalanceCents != 0 {
		t.Errorf("order balance = %d, want 0", got.BalanceCents)
	}
	if got.PlacedAt == nil {
		t.Error("placed_at not set")
	}

	var fin int64
	db.Model(&orders.FinancialEntry{}).Where("ref_type = ? AND ref_id = ?", "payment", p.ID).Count(&fin)
	if fin != 1 {
		t.Errorf("financial entries = %d, want 1", fin)
	}

	if row := eventRow(t, svc, "evt_1"); row.Status != EventSucceeded {
		t.Errorf("event row status = %s", row.Status)
	}
}

func TestWebhookDeduplicatesByEventID(t *testing.T) {
	db := newTestDB(t)
	gw := newFakeGateway()
	svc := NewWebhookService(db, gw)
	ctx := context.Background()

	ord := mkOrder(t, db, 5000)
	ev := succeededEvent("evt_dup", "pi_1", ord.ID, 5000)

	if err := svc.Handle(ctx, ev, []byte(`{}`), "sig"); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := svc.Handle(ctx, ev, []byte(`{}`), "sig"); err != nil {
		t.Fatalf("redelivery must ack, got %v", err)
	}

	var payments, events int64
	db.Model(&Payment{}).Count(&payments)
	db.Model(&WebhookEvent{}).Count(&events)
	if payments != 1 {
		t.Errorf("payments = %d, want 1", payments)
	}
	if events != 1 {
		t.Errorf("event rows = %d, want 1", events)
	}

	var fin int64
	db.Model(&orders.FinancialEntry{}).Count(&fin)
	if fin != 1 {
		t.Errorf("financial entries = %d, want 1", fin)
	}
}

func TestWebhookUnsupportedTypeSkipped(t *testing.T) {
	db := newTestDB(t)
	svc := NewWebhookService(db, newFakeGateway())

	ev := Event{ID: "evt_x", Type: "payment_intent.created", IntentID: "pi_1"}
	if err := svc.Handle(context.Background(), ev, []byte(`{}`), "sig"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	row := eventRow(t, svc, "evt_x")
	if row.Status != EventSkipped {
		t.Errorf("status = %s, want skipped", row.Status)
	}

	var payments int64
	svc.db.Model(&Payment{}).Count(&payments)
	if payments != 0 {
		t.Errorf("payments = %d, want 0", payments)
	}
}

func TestWebhookSelfSourcedSkipped(t *testing.T) {
	db := newTestDB(t)
	svc := NewWebhookService(db, newFakeGateway())

	ord := mkOrder(t, db, 5000)
	ev := succeededEvent("evt_self", "pi_1", ord.ID, 5000)
	ev.Metadata[MetaInitiatedBy] = "merchant:ops-1"

	if err := svc.Handle(context.Background(), ev, []byte(`{}`), "sig"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	row := eventRow(t, svc, "evt_self")
	if row.Status != EventSkipped {
		t.Errorf("status = %s, want skipped", row.Status)
	}

	var payments int64
	db.Model(&Payment{}).Count(&payments)
	if payments != 0 {
		t.Errorf("self-sourced event must not create a payment, got %d", payments)
	}
}

func TestWebhookFailedRowReprocessedOnRedelivery(t *testing.T) {
	db := newTestDB(t)
	gw := newFakeGateway()
	svc := NewWebhookService(db, gw)
	ctx := context.Background()

	ord := mkOrder(t, db, 5000)

	// no metadata and no remote intent: the order cannot be resolved
	ev := Event{
		ID:                  "evt_retry",
		Type:                "payment_intent.succeeded",
		IntentID:            "pi_1",
		Status:              IntentSucceeded,
		AmountCents:         5000,
		AmountReceivedCents: 5000,
	}
	if err := svc.Handle(ctx, ev, []byte(`{}`), "sig"); err == nil {
		t.Fatal("expected failure on unresolvable order")
	}
	if row := eventRow(t, svc, "evt_retry"); row.Status != EventFailed {
		t.Fatalf("status = %s, want failed", row.Status)
	}

	// the redelivery finds the remote intent carrying the order reference
	gw.putIntent(Intent{ID: "pi_1", Status: IntentSucceeded, Metadata: map[string]string{MetaOrderID: ord.ID}})
	if err := svc.Handle(ctx, ev, []byte(`{}`), "sig"); err != nil {
		t.Fatalf("redelivery after fix: %v", err)
	}

	if row := eventRow(t, svc, "evt_retry"); row.Status != EventSucceeded {
		t.Errorf("status = %s, want succeeded", row.Status)
	}
	var payments int64
	db.Model(&Payment{}).Count(&payments)
	if payments != 1 {
		t.Errorf("payments = %d, want 1", payments)
	}
}

func TestWebhookAfterReturnConverges(t *testing.T) {
	db := newTestDB(t)
	gw := newFakeGateway()
	svc := NewWebhookService(db, gw)
	ctx := context.Background()

	// the return handler already created the payment
	ord := mkOrder(t, db, 5000)
	p := mkPayment(t, db, ord.ID, "pi_1", StateCompleted, 5000)
	db.Model(&orders.Order{}).Where("id = ?", ord.ID).
		Updates(map[string]any{"status": orders.StatusCompleted, "balance_cents": 0})

	ev := succeededEvent("evt_late", "pi_1", ord.ID, 5000)
	if err := svc.Handle(ctx, ev, []byte(`{}`), "sig"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	row := eventRow(t, svc, "evt_late")
	if row.Status != EventSkipped {
		t.Errorf("status = %s, want skipped (already converged)", row.Status)
	}

	var payments int64
	db.Model(&Payment{}).Count(&payments)
	if payments != 1 {
		t.Errorf("payments = %d, want exactly 1", payments)
	}
	if got := reloadPayment(t, db, p.ID); got.State != StateCompleted {
		t.Errorf("payment state = %s", got.State)
	}
}

func TestWebhookRequiresCaptureCreatesAuthorization(t *testing.T) {
	db := newTestDB(t)
	svc := NewWebhookService(db, newFakeGateway())
	ctx := context.Background()

	ord := mkOrder(t, db, 5000)
	pending := "pi_auth"
	db.Model(&orders.Order{}).Where("id = ?", ord.ID).Update("pending_intent_id", pending)

	ev := Event{
		ID:          "evt_auth",
		Type:        "payment_intent.amount_capturable_updated",
		IntentID:    pending,
		Status:      IntentRequiresCapture,
		AmountCents: 5000,
		Currency:    "eur",
		Metadata:    map[string]string{MetaOrderID: ord.ID},
	}
	if err := svc.Handle(ctx, ev, []byte(`{}`), "sig"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	var p Payment
	if err := db.First(&p, "remote_id = ?", pending).Error; err != nil {
		t.Fatalf("payment not created: %v", err)
	}
	if p.State != StateAuthorization {
		t.Errorf("payment state = %s, want authorization", p.State)
	}

	got := reloadOrder(t, db, ord.ID)
	if got.Status != orders.StatusCompleted {
		t.Errorf("order status = %s, want completed", got.Status)
	}
	if got.PendingIntentID != nil {
		t.Error("pending intent reference not cleared")
	}
}

func TestChargeRefundedMonotone(t *testing.T) {
	db := newTestDB(t)
	svc := NewWebhookService(db, newFakeGateway())
	ctx := context.Background()

	ord := mkOrder(t, db, 5000)
	p := mkPayment(t, db, ord.ID, "pi_1", StateCompleted, 5000)
	db.Model(&orders.Order{}).Where("id = ?", ord.ID).
		Updates(map[string]any{"status": orders.StatusCompleted, "balance_cents": 0})

	refundEv := func(id string, totalRefunded int) Event {
		return Event{
			ID:                  id,
			Type:                "charge.refunded",
			IntentID:            "pi_1",
			AmountCents:         5000,
			AmountRefundedCents: totalRefunded,
			Currency:            "eur",
		}
	}

	if err := svc.Handle(ctx, refundEv("evt_r1", 2000), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("partial refund: %v", err)
	}
	got := reloadPayment(t, db, p.ID)
	if got.State != StatePartiallyRefunded || got.RefundedCents != 2000 {
		t.Errorf("after partial: state=%s refunded=%d", got.State, got.RefundedCents)
	}
	if o := reloadOrder(t, db, ord.ID); o.Status != orders.StatusPartiallyRefunded || o.RefundedCents != 2000 {
		t.Errorf("order after partial: status=%s refunded=%d", o.Status, o.RefundedCents)
	}

	// same running total again under a fresh event id: no double count
	if err := svc.Handle(ctx, refundEv("evt_r2", 2000), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("repeat total: %v", err)
	}
	if row := eventRow(t, svc, "evt_r2"); row.Status != EventSkipped {
		t.Errorf("repeat total status = %s, want skipped", row.Status)
	}
	if got := reloadPayment(t, db, p.ID); got.RefundedCents != 2000 {
		t.Errorf("refunded drifted to %d", got.RefundedCents)
	}

	if err := svc.Handle(ctx, refundEv("evt_r3", 5000), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("full refund: %v", err)
	}
	got = reloadPayment(t, db, p.ID)
	if got.State != StateRefunded || got.RefundedCents != 5000 {
		t.Errorf("after full: state=%s refunded=%d", got.State, got.RefundedCents)
	}
	if o := reloadOrder(t, db, ord.ID); o.Status != orders.StatusRefunded || o.RefundedAt == nil {
		t.Errorf("order after full: status=%s refunded_at=%v", o.Status, o.RefundedAt)
	}
}

func TestChargeRefundedCappedAtPaymentAmount(t *testing.T) {
	db := newTestDB(t)
	svc := NewWebhookService(db, newFakeGateway())
	ctx := context.Background()

	ord := mkOrder(t, db, 5000)
	p := mkPayment(t, db, ord.ID, "pi_1", StateCompleted, 5000)

	ev := Event{
		ID:                  "evt_over",
		Type:                "charge.refunded",
		IntentID:            "pi_1",
		AmountCents:         5000,
		AmountRefundedCents: 9000,
		Currency:            "eur",
	}
	if err := svc.Handle(ctx, ev, []byte(`{}`), "sig"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := reloadPayment(t, db, p.ID); got.RefundedCents != 5000 {
		t.Errorf("refunded = %d, want capped 5000", got.RefundedCents)
	}
}
