package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"
)

type intentObject struct {
	ID             string            `json:"id"`
	Object         string            `json:"object"`
	Status         string            `json:"status"`
	Amount         int               `json:"amount"`
	AmountReceived int               `json:"amount_received"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
}

type chargeObject struct {
	ID             string            `json:"id"`
	Object         string            `json:"object"`
	PaymentIntent  string            `json:"payment_intent"`
	Amount         int               `json:"amount"`
	AmountRefunded int               `json:"amount_refunded"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
}

type webhookPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object any `json:"object"`
	} `json:"data"`
}

func main() {
	url := flag.String("url", "http://localhost:8080/webhooks/stripe", "Webhook URL")
	secret := flag.String("secret", os.Getenv("GATEWAY_WEBHOOK_SECRET"), "Webhook secret")
	eventID := flag.String("event-id", "evt_"+randomHex(12), "Event ID")
	eventType := flag.String("type", "payment_intent.succeeded", "Event type (payment_intent.succeeded, payment_intent.payment_failed, payment_intent.canceled, payment_intent.amount_capturable_updated, charge.refunded)")
	intentID := flag.String("intent", "pi_"+randomHex(12), "Payment intent id")
	orderID := flag.String("order", "", "Order id for metadata[order_id]")
	initiatedBy := flag.String("initiated-by", "", "Value for metadata[initiated_by] (simulates a self-sourced echo)")
	amount := flag.Int("amount", 5000, "Amount in cents")
	refunded := flag.Int("refunded", 0, "Total refunded in cents (charge.refunded)")
	currency := flag.String("currency", "eur", "Currency")
	dryRun := flag.Bool("dry-run", false, "Only print signature header, don't send")

	flag.Parse()

	if *secret == "" {
		fmt.Fprintf(os.Stderr, "Error: secret not provided and GATEWAY_WEBHOOK_SECRET not set\n")
		os.Exit(1)
	}

	md := map[string]string{}
	if *orderID != "" {
		md["order_id"] = *orderID
	}
	if *initiatedBy != "" {
		md["initiated_by"] = *initiatedBy
	}

	payload := webhookPayload{
		ID:   *eventID,
		Type: *eventType,
	}
	if *eventType == "charge.refunded" {
		payload.Data.Object = chargeObject{
			ID:             "ch_" + randomHex(12),
			Object:         "charge",
			PaymentIntent:  *intentID,
			Amount:         *amount,
			AmountRefunded: *refunded,
			Currency:       *currency,
			Metadata:       md,
		}
	} else {
		status := "succeeded"
		switch *eventType {
		case "payment_intent.payment_failed":
			status = "requires_payment_method"
		case "payment_intent.canceled":
			status = "canceled"
		case "payment_intent.amount_capturable_updated":
			status = "requires_capture"
		}
		payload.Data.Object = intentObject{
			ID:             *intentID,
			Object:         "payment_intent",
			Status:         status,
			Amount:         *amount,
			AmountReceived: *amount,
			Currency:       *currency,
			Metadata:       md,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling payload: %v\n", err)
		os.Exit(1)
	}

	// Compute signature
	t := time.Now().Unix()
	sig := computeSig([]byte(*secret), t, body)

	sigHeader := fmt.Sprintf("t=%d,v1=%s", t, sig)

	fmt.Printf("Stripe-Signature: %s\n", sigHeader)
	fmt.Printf("Body: %s\n", string(body))

	if *dryRun {
		fmt.Println("\n[DRY RUN] Not sending request")
		return
	}

	fmt.Printf("\nSending to %s...\n", *url)
	req, err := http.NewRequest("POST", *url, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating request: %v\n", err)
		os.Exit(1)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", sigHeader)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error sending request: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	fmt.Printf("Status: %d\n", resp.StatusCode)
	fmt.Printf("Response: %s\n", string(respBody))

	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}

func computeSig(secret []byte, t int64, body []byte) string {
	m := hmac.New(sha256.New, secret)
	m.Write([]byte(strconv.FormatInt(t, 10)))
	m.Write([]byte("."))
	m.Write(body)
	return hex.EncodeToString(m.Sum(nil))
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)[:n]
}
