package stripegw

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"payfold.com/app/internal/modules/payments"
)

type Config struct {
	APIKey        string
	WebhookSecret string
	BaseURL       string
	APIVersion    string
	Timeout       time.Duration
	// Tolerance bounds how old a webhook signature timestamp may be.
	Tolerance time.Duration
}

func ConfigFromEnv() Config {
	cfg := Config{
		APIKey:        os.Getenv("GATEWAY_API_KEY"),
		WebhookSecret: os.Getenv("GATEWAY_WEBHOOK_SECRET"),
		BaseURL:       os.Getenv("GATEWAY_BASE_URL"),
		APIVersion:    os.Getenv("GATEWAY_API_VERSION"),
	}
	if v := os.Getenv("GATEWAY_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Timeout = time.Duration(n) * time.Second
		}
	}
	return cfg
}

// Client talks to a Stripe-compatible payments API. Requests are
// form-encoded; responses and errors are JSON.
type Client struct {
	http   *resty.Client
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.stripe.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Tolerance == 0 {
		cfg.Tolerance = 5 * time.Minute
	}

	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetBasicAuth(cfg.APIKey, "").
		SetHeader("Content-Type", "application/x-www-form-urlencoded")
	if cfg.APIVersion != "" {
		rc.SetHeader("Stripe-Version", cfg.APIVersion)
	}

	return &Client{http: rc, cfg: cfg, logger: slog.Default()}
}

func (c *Client) SetLogger(l *slog.Logger) { c.logger = l }

func (c *Client) Name() string { return "stripe" }

type errEnvelope struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Param       string `json:"param"`
		Message     string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, idemKey string, out any) error {
	req := c.http.R().SetContext(ctx).SetError(&errEnvelope{})
	if out != nil {
		req.SetResult(out)
	}
	if form != nil {
		req.SetBody(form.Encode())
	}
	if idemKey != "" {
		req.SetHeader("Idempotency-Key", idemKey)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("gateway %s %s: %w", method, path, err)
	}
	if resp.IsError() {
		re := &payments.RemoteError{
			HTTPStatus: resp.StatusCode(),
			RequestID:  resp.Header().Get("Request-Id"),
		}
		if env, ok := resp.Error().(*errEnvelope); ok && env != nil {
			re.Type = env.Error.Type
			re.Code = env.Error.Code
			re.DeclineCode = env.Error.DeclineCode
			re.Param = env.Error.Param
			re.Message = env.Error.Message
		}
		if re.Message == "" {
			re.Message = resp.Status()
		}
		return re
	}
	return nil
}

type intentWire struct {
	ID             string            `json:"id"`
	Object         string            `json:"object"`
	Status         string            `json:"status"`
	Amount         int               `json:"amount"`
	AmountReceived int               `json:"amount_received"`
	Currency       string            `json:"currency"`
	CaptureMethod  string            `json:"capture_method"`
	Customer       string            `json:"customer"`
	PaymentMethod  string            `json:"payment_method"`
	ClientSecret   string            `json:"client_secret"`
	Metadata       map[string]string `json:"metadata"`
}

func (w *intentWire) toIntent() *payments.Intent {
	return &payments.Intent{
		ID:                  w.ID,
		Status:              w.Status,
		AmountCents:         w.Amount,
		AmountReceivedCents: w.AmountReceived,
		Currency:            w.Currency,
		CaptureMethod:       w.CaptureMethod,
		CustomerID:          w.Customer,
		PaymentMethodID:     w.PaymentMethod,
		ClientSecret:        w.ClientSecret,
		Metadata:            w.Metadata,
	}
}

func metadataForm(form url.Values, md map[string]string) {
	for k, v := range md {
		form.Set("metadata["+k+"]", v)
	}
}

func (c *Client) CreatePaymentIntent(ctx context.Context, p payments.CreateIntentParams) (*payments.Intent, error) {
	form := url.Values{}
	form.Set("amount", strconv.Itoa(p.AmountCents))
	form.Set("currency", p.Currency)
	if p.CaptureMethod != "" {
		form.Set("capture_method", p.CaptureMethod)
	}
	if p.CustomerID != "" {
		form.Set("customer", p.CustomerID)
	}
	if p.PaymentMethodID != "" {
		form.Set("payment_method", p.PaymentMethodID)
	}
	if p.Confirm {
		form.Set("confirm", "true")
	}
	if p.ReturnURL != "" {
		form.Set("return_url", p.ReturnURL)
	}
	metadataForm(form, p.Metadata)

	var w intentWire
	if err := c.do(ctx, "POST", "/v1/payment_intents", form, p.IdempotencyKey, &w); err != nil {
		return nil, err
	}
	return w.toIntent(), nil
}

func (c *Client) GetPaymentIntent(ctx context.Context, id string) (*payments.Intent, error) {
	var w intentWire
	if err := c.do(ctx, "GET", "/v1/payment_intents/"+url.PathEscape(id), nil, "", &w); err != nil {
		return nil, err
	}
	return w.toIntent(), nil
}

func (c *Client) GetSetupIntent(ctx context.Context, id string) (*payments.Intent, error) {
	var w intentWire
	if err := c.do(ctx, "GET", "/v1/setup_intents/"+url.PathEscape(id), nil, "", &w); err != nil {
		return nil, err
	}
	return w.toIntent(), nil
}

func (c *Client) ConfirmPaymentIntent(ctx context.Context, id string) (*payments.Intent, error) {
	var w intentWire
	if err := c.do(ctx, "POST", "/v1/payment_intents/"+url.PathEscape(id)+"/confirm", url.Values{}, "", &w); err != nil {
		return nil, err
	}
	return w.toIntent(), nil
}

func (c *Client) CapturePaymentIntent(ctx context.Context, id string, p payments.CaptureParams) (*payments.Intent, error) {
	form := url.Values{}
	if p.AmountCents > 0 {
		form.Set("amount_to_capture", strconv.Itoa(p.AmountCents))
	}
	var w intentWire
	if err := c.do(ctx, "POST", "/v1/payment_intents/"+url.PathEscape(id)+"/capture", form, "", &w); err != nil {
		return nil, err
	}
	return w.toIntent(), nil
}

func (c *Client) CancelPaymentIntent(ctx context.Context, id string, p payments.CancelParams) (*payments.Intent, error) {
	form := url.Values{}
	if p.Reason != "" {
		form.Set("cancellation_reason", p.Reason)
	}
	var w intentWire
	if err := c.do(ctx, "POST", "/v1/payment_intents/"+url.PathEscape(id)+"/cancel", form, "", &w); err != nil {
		return nil, err
	}
	return w.toIntent(), nil
}

func (c *Client) UpdateIntentMetadata(ctx context.Context, id string, metadata map[string]string) (*payments.Intent, error) {
	form := url.Values{}
	metadataForm(form, metadata)
	var w intentWire
	if err := c.do(ctx, "POST", "/v1/payment_intents/"+url.PathEscape(id), form, "", &w); err != nil {
		return nil, err
	}
	return w.toIntent(), nil
}

type refundWire struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   int    `json:"amount"`
	Currency string `json:"currency"`
}

func (c *Client) CreateRefund(ctx context.Context, p payments.RefundParams) (*payments.RemoteRefund, error) {
	form := url.Values{}
	form.Set("payment_intent", p.IntentID)
	if p.AmountCents > 0 {
		form.Set("amount", strconv.Itoa(p.AmountCents))
	}
	if p.Reason != "" {
		form.Set("reason", p.Reason)
	}
	metadataForm(form, p.Metadata)

	var w refundWire
	if err := c.do(ctx, "POST", "/v1/refunds", form, p.IdempotencyKey, &w); err != nil {
		return nil, err
	}
	return &payments.RemoteRefund{ID: w.ID, Status: w.Status, AmountCents: w.Amount, Currency: w.Currency}, nil
}

type methodWire struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Customer string `json:"customer"`
	Card     struct {
		Brand    string `json:"brand"`
		Last4    string `json:"last4"`
		ExpMonth int    `json:"exp_month"`
		ExpYear  int    `json:"exp_year"`
	} `json:"card"`
	USBankAccount struct {
		BankName string `json:"bank_name"`
		Last4    string `json:"last4"`
	} `json:"us_bank_account"`
	SepaDebit struct {
		BankCode string `json:"bank_code"`
		Last4    string `json:"last4"`
	} `json:"sepa_debit"`
	Link struct {
		Email string `json:"email"`
	} `json:"link"`
}

// remote method types collapse onto the closed local kind set
func kindForRemoteType(t string) string {
	switch t {
	case "card":
		return "card"
	case "us_bank_account", "sepa_debit":
		return "bank_debit"
	case "link", "paypal", "cashapp":
		return "wallet"
	case "klarna", "afterpay_clearpay", "affirm":
		return "bnpl"
	}
	return ""
}

func (w *methodWire) toMethod() *payments.RemoteMethod {
	m := &payments.RemoteMethod{
		ID:         w.ID,
		Kind:       kindForRemoteType(w.Type),
		CustomerID: w.Customer,
	}
	switch m.Kind {
	case "card":
		m.CardBrand = w.Card.Brand
		m.CardLast4 = w.Card.Last4
		m.CardExpMonth = w.Card.ExpMonth
		m.CardExpYear = w.Card.ExpYear
	case "bank_debit":
		m.BankName = w.USBankAccount.BankName
		m.BankLast4 = w.USBankAccount.Last4
		if m.BankLast4 == "" {
			m.BankName = w.SepaDebit.BankCode
			m.BankLast4 = w.SepaDebit.Last4
		}
	case "wallet":
		m.WalletEmail = w.Link.Email
	case "bnpl":
		m.BNPLProvider = w.Type
	}
	return m
}

func (c *Client) GetPaymentMethod(ctx context.Context, id string) (*payments.RemoteMethod, error) {
	var w methodWire
	if err := c.do(ctx, "GET", "/v1/payment_methods/"+url.PathEscape(id), nil, "", &w); err != nil {
		return nil, err
	}
	return w.toMethod(), nil
}

func (c *Client) AttachPaymentMethod(ctx context.Context, id, customerID string) (*payments.RemoteMethod, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	var w methodWire
	if err := c.do(ctx, "POST", "/v1/payment_methods/"+url.PathEscape(id)+"/attach", form, "", &w); err != nil {
		return nil, err
	}
	return w.toMethod(), nil
}

func (c *Client) DetachPaymentMethod(ctx context.Context, id string) error {
	return c.do(ctx, "POST", "/v1/payment_methods/"+url.PathEscape(id)+"/detach", url.Values{}, "", nil)
}

type customerWire struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (c *Client) CreateCustomer(ctx context.Context, p payments.CustomerParams) (*payments.Customer, error) {
	form := url.Values{}
	if p.Email != "" {
		form.Set("email", p.Email)
	}
	if p.Name != "" {
		form.Set("name", p.Name)
	}
	metadataForm(form, p.Metadata)

	var w customerWire
	if err := c.do(ctx, "POST", "/v1/customers", form, "", &w); err != nil {
		return nil, err
	}
	return &payments.Customer{ID: w.ID, Email: w.Email}, nil
}
