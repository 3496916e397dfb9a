package stripegw

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"
)

const testSecret = "whsec_test"

func signedHeader(secret string, t int64, body []byte) string {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write([]byte(strconv.FormatInt(t, 10)))
	m.Write([]byte("."))
	m.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", t, hex.EncodeToString(m.Sum(nil)))
}

func testClient(secret string) *Client {
	return New(Config{APIKey: "sk_test", WebhookSecret: secret})
}

func intentBody(eventID, eventType string) []byte {
	return []byte(`{
		"id": "` + eventID + `",
		"type": "` + eventType + `",
		"data": {"object": {
			"id": "pi_123",
			"object": "payment_intent",
			"status": "succeeded",
			"amount": 5000,
			"amount_received": 5000,
			"currency": "eur",
			"metadata": {"order_id": "ord-1", "initiated_by": "merchant:ops-1"}
		}}
	}`)
}

func TestVerifyAndParsePaymentIntentEvent(t *testing.T) {
	c := testClient(testSecret)
	body := intentBody("evt_1", "payment_intent.succeeded")

	h := http.Header{}
	h.Set("Stripe-Signature", signedHeader(testSecret, time.Now().Unix(), body))

	ev, err := c.VerifyAndParseWebhook(h, body)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ev.ID != "evt_1" || ev.Type != "payment_intent.succeeded" {
		t.Errorf("envelope: %+v", ev)
	}
	if ev.IntentID != "pi_123" || ev.Status != "succeeded" {
		t.Errorf("intent fields: %+v", ev)
	}
	if ev.AmountReceivedCents != 5000 || ev.Currency != "eur" {
		t.Errorf("amounts: %+v", ev)
	}
	if ev.Metadata["order_id"] != "ord-1" || ev.Metadata["initiated_by"] != "merchant:ops-1" {
		t.Errorf("metadata: %v", ev.Metadata)
	}
}

func TestVerifyAndParseChargeRefunded(t *testing.T) {
	c := testClient(testSecret)
	body := []byte(`{
		"id": "evt_2",
		"type": "charge.refunded",
		"data": {"object": {
			"id": "ch_1",
			"object": "charge",
			"payment_intent": "pi_123",
			"amount": 5000,
			"amount_refunded": 2000,
			"currency": "eur",
			"metadata": {}
		}}
	}`)

	h := http.Header{}
	h.Set("Stripe-Signature", signedHeader(testSecret, time.Now().Unix(), body))

	ev, err := c.VerifyAndParseWebhook(h, body)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ev.IntentID != "pi_123" || ev.AmountRefundedCents != 2000 {
		t.Errorf("charge fields: %+v", ev)
	}
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	c := testClient(testSecret)
	body := intentBody("evt_1", "payment_intent.succeeded")

	h := http.Header{}
	h.Set("Stripe-Signature", signedHeader("whsec_other", time.Now().Unix(), body))

	if _, err := c.VerifyAndParseWebhook(h, body); !errors.Is(err, ErrBadSignature) {
		t.Errorf("err = %v, want ErrBadSignature", err)
	}
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	c := testClient(testSecret)
	body := intentBody("evt_1", "payment_intent.succeeded")

	h := http.Header{}
	h.Set("Stripe-Signature", signedHeader(testSecret, time.Now().Unix(), body))

	tampered := intentBody("evt_evil", "payment_intent.succeeded")
	if _, err := c.VerifyAndParseWebhook(h, tampered); !errors.Is(err, ErrBadSignature) {
		t.Errorf("err = %v, want ErrBadSignature", err)
	}
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	c := testClient(testSecret)
	body := intentBody("evt_1", "payment_intent.succeeded")

	old := time.Now().Add(-10 * time.Minute).Unix()
	h := http.Header{}
	h.Set("Stripe-Signature", signedHeader(testSecret, old, body))

	if _, err := c.VerifyAndParseWebhook(h, body); !errors.Is(err, ErrStaleTimestamp) {
		t.Errorf("err = %v, want ErrStaleTimestamp", err)
	}
}

func TestVerifyRejectsMissingHeader(t *testing.T) {
	c := testClient(testSecret)
	body := intentBody("evt_1", "payment_intent.succeeded")

	if _, err := c.VerifyAndParseWebhook(http.Header{}, body); !errors.Is(err, ErrMissingSignature) {
		t.Errorf("err = %v, want ErrMissingSignature", err)
	}
}

func TestVerifyAcceptsRotatedSecret(t *testing.T) {
	c := testClient(testSecret)
	body := intentBody("evt_1", "payment_intent.succeeded")

	ts := time.Now().Unix()
	stale := signedHeader("whsec_old", ts, body)
	good := signedHeader(testSecret, ts, body)
	// old v1 first, current secret's v1 second
	header := stale + "," + good[len(fmt.Sprintf("t=%d,", ts)):]

	h := http.Header{}
	h.Set("Stripe-Signature", header)

	if _, err := c.VerifyAndParseWebhook(h, body); err != nil {
		t.Errorf("rotation: %v", err)
	}
}

func TestUnverifiedModeWithoutSecret(t *testing.T) {
	c := testClient("")
	body := intentBody("evt_1", "payment_intent.succeeded")

	// no signature header at all: still parsed, loudly logged
	ev, err := c.VerifyAndParseWebhook(http.Header{}, body)
	if err != nil {
		t.Fatalf("unverified mode: %v", err)
	}
	if ev.ID != "evt_1" {
		t.Errorf("ev = %+v", ev)
	}
}

func TestParseRejectsMalformedPayload(t *testing.T) {
	c := testClient("")
	if _, err := c.VerifyAndParseWebhook(http.Header{}, []byte(`not json`)); err == nil {
		t.Error("malformed body must be rejected")
	}
	if _, err := c.VerifyAndParseWebhook(http.Header{}, []byte(`{"type":"x"}`)); err == nil {
		t.Error("missing id must be rejected")
	}
}
