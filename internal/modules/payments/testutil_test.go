package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"payfold.com/app/internal/modules/orders"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	if err := db.AutoMigrate(
		&orders.Order{}, &orders.OrderEvent{}, &orders.FinancialEntry{},
		&Payment{}, &PaymentMethod{}, &GatewayCustomer{}, &Refund{}, &WebhookEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func mkOrder(t *testing.T, db *gorm.DB, totalCents int) orders.Order {
	t.Helper()
	now := time.Now()
	o := orders.Order{
		ID:           uuid.NewString(),
		StoreID:      "store-1",
		Status:       orders.StatusCreated,
		Currency:     "EUR",
		TotalCents:   totalCents,
		BalanceCents: totalCents,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := db.Create(&o).Error; err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func mkPayment(t *testing.T, db *gorm.DB, orderID, remoteID, state string, amountCents int) Payment {
	t.Helper()
	now := time.Now()
	p := Payment{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		Provider:    "fake",
		RemoteID:    remoteID,
		State:       state,
		AmountCents: amountCents,
		Currency:    "EUR",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("create payment: %v", err)
	}
	return p
}

func reloadOrder(t *testing.T, db *gorm.DB, id string) orders.Order {
	t.Helper()
	var o orders.Order
	if err := db.First(&o, "id = ?", id).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	return o
}

func reloadPayment(t *testing.T, db *gorm.DB, id string) Payment {
	t.Helper()
	var p Payment
	if err := db.First(&p, "id = ?", id).Error; err != nil {
		t.Fatalf("reload payment: %v", err)
	}
	return p
}

// fakeGateway keeps remote intents in memory and records every mutating
// call, so tests can assert on call counts and stamped metadata.
type fakeGateway struct {
	intents map[string]*Intent
	methods map[string]*RemoteMethod

	createCalls  int
	captureCalls int
	cancelCalls  int
	confirmCalls int
	refundCalls  int

	refundResp *RemoteRefund
	refundErr  error
	confirmErr error
	getErr     error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		intents: map[string]*Intent{},
		methods: map[string]*RemoteMethod{},
	}
}

func (g *fakeGateway) putIntent(in Intent) *Intent {
	if in.Metadata == nil {
		in.Metadata = map[string]string{}
	}
	g.intents[in.ID] = &in
	return &in
}

func (g *fakeGateway) Name() string { return "fake" }

func notFoundErr(id string) error {
	return &RemoteError{Type: "invalid_request_error", Code: "resource_missing", Message: "no such resource: " + id, HTTPStatus: http.StatusNotFound}
}

func (g *fakeGateway) CreatePaymentIntent(_ context.Context, p CreateIntentParams) (*Intent, error) {
	g.createCalls++
	in := Intent{
		ID:            fmt.Sprintf("pi_fake_%d", g.createCalls),
		Status:        IntentRequiresAction,
		AmountCents:   p.AmountCents,
		Currency:      p.Currency,
		CaptureMethod: p.CaptureMethod,
		CustomerID:    p.CustomerID,
		Metadata:      map[string]string{},
	}
	for k, v := range p.Metadata {
		in.Metadata[k] = v
	}
	return g.putIntent(in), nil
}

func (g *fakeGateway) GetPaymentIntent(_ context.Context, id string) (*Intent, error) {
	if g.getErr != nil {
		return nil, g.getErr
	}
	in, ok := g.intents[id]
	if !ok {
		return nil, notFoundErr(id)
	}
	cp := *in
	return &cp, nil
}

func (g *fakeGateway) GetSetupIntent(ctx context.Context, id string) (*Intent, error) {
	return g.GetPaymentIntent(ctx, id)
}

func (g *fakeGateway) ConfirmPaymentIntent(_ context.Context, id string) (*Intent, error) {
	g.confirmCalls++
	if g.confirmErr != nil {
		return nil, g.confirmErr
	}
	in, ok := g.intents[id]
	if !ok {
		return nil, notFoundErr(id)
	}
	in.Status = IntentSucceeded
	in.AmountReceivedCents = in.AmountCents
	cp := *in
	return &cp, nil
}

func (g *fakeGateway) CapturePaymentIntent(_ context.Context, id string, p CaptureParams) (*Intent, error) {
	g.captureCalls++
	in, ok := g.intents[id]
	if !ok {
		return nil, notFoundErr(id)
	}
	if in.Status != IntentRequiresCapture {
		return nil, &RemoteError{Type: "invalid_request_error", Code: "payment_intent_unexpected_state", HTTPStatus: http.StatusBadRequest}
	}
	in.Status = IntentSucceeded
	if p.AmountCents > 0 {
		in.AmountReceivedCents = p.AmountCents
	} else {
		in.AmountReceivedCents = in.AmountCents
	}
	cp := *in
	return &cp, nil
}

func (g *fakeGateway) CancelPaymentIntent(_ context.Context, id string, _ CancelParams) (*Intent, error) {
	g.cancelCalls++
	in, ok := g.intents[id]
	if !ok {
		return nil, notFoundErr(id)
	}
	in.Status = IntentCanceled
	cp := *in
	return &cp, nil
}

func (g *fakeGateway) UpdateIntentMetadata(_ context.Context, id string, metadata map[string]string) (*Intent, error) {
	in, ok := g.intents[id]
	if !ok {
		return nil, notFoundErr(id)
	}
	for k, v := range metadata {
		in.Metadata[k] = v
	}
	cp := *in
	return &cp, nil
}

func (g *fakeGateway) CreateRefund(_ context.Context, p RefundParams) (*RemoteRefund, error) {
	g.refundCalls++
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	if g.refundResp != nil {
		return g.refundResp, nil
	}
	return &RemoteRefund{ID: fmt.Sprintf("re_fake_%d", g.refundCalls), Status: "succeeded", AmountCents: p.AmountCents}, nil
}

func (g *fakeGateway) GetPaymentMethod(_ context.Context, id string) (*RemoteMethod, error) {
	m, ok := g.methods[id]
	if !ok {
		return nil, notFoundErr(id)
	}
	cp := *m
	return &cp, nil
}

func (g *fakeGateway) AttachPaymentMethod(_ context.Context, id, customerID string) (*RemoteMethod, error) {
	m, ok := g.methods[id]
	if !ok {
		return nil, notFoundErr(id)
	}
	m.CustomerID = customerID
	cp := *m
	return &cp, nil
}

func (g *fakeGateway) DetachPaymentMethod(_ context.Context, id string) error {
	if _, ok := g.methods[id]; !ok {
		return notFoundErr(id)
	}
	delete(g.methods, id)
	return nil
}

func (g *fakeGateway) CreateCustomer(_ context.Context, p CustomerParams) (*Customer, error) {
	return &Customer{ID: "cus_" + uuid.NewString()[:8], Email: p.Email}, nil
}

func (g *fakeGateway) VerifyAndParseWebhook(http.Header, []byte) (Event, error) {
	return Event{}, errors.New("not implemented in fake")
}
