package payments

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// RemoteError is the wire-level failure shape gateway adapters return.
type RemoteError struct {
	Type        string // card_error|invalid_request_error|authentication_error|rate_limit_error|api_error
	Code        string
	DeclineCode string
	Param       string
	Message     string
	HTTPStatus  int
	RequestID   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("gateway: %s/%s: %s", e.Type, e.Code, e.Message)
}

type DeclineKind string

const (
	HardDecline          DeclineKind = "hard_decline"
	SoftDecline          DeclineKind = "soft_decline"
	RateLimited          DeclineKind = "rate_limited"
	InvalidRequest       DeclineKind = "invalid_request"
	AuthenticationFailed DeclineKind = "authentication_failed"
	NetworkError         DeclineKind = "network_error"
)

// DeclineError carries the classified kind plus a message that is safe to
// show to a customer. Raw remote text never reaches the customer.
type DeclineError struct {
	Kind      DeclineKind
	Code      string
	PublicMsg string
	Err       error
}

func (e *DeclineError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Kind, e.Code, e.Err)
}

func (e *DeclineError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is safe to retry with backoff.
func (e *DeclineError) Retryable() bool {
	return e.Kind == RateLimited || e.Kind == NetworkError
}

// Operator reports whether the failure is a configuration or integration
// bug that must surface to operators rather than customers.
func (e *DeclineError) Operator() bool {
	return e.Kind == AuthenticationFailed || e.Kind == InvalidRequest
}

const genericDeclineMsg = "Your payment could not be processed. Please try a different payment method."

// Decline codes the customer can fix by correcting input or using another
// card.
var hardDeclineMessages = map[string]string{
	"incorrect_number":        "The card number is incorrect. Please check it and try again.",
	"invalid_number":          "The card number is invalid. Please check it and try again.",
	"incorrect_cvc":           "The security code is incorrect. Please check it and try again.",
	"invalid_cvc":             "The security code is invalid. Please check it and try again.",
	"invalid_expiry_month":    "The expiration month is invalid.",
	"invalid_expiry_year":     "The expiration year is invalid.",
	"expired_card":            "The card has expired. Please use a different card.",
	"card_declined":           genericDeclineMsg,
	"insufficient_funds":      "The card has insufficient funds. Please use a different payment method.",
	"lost_card":               genericDeclineMsg,
	"stolen_card":             genericDeclineMsg,
	"currency_not_supported":  "The card does not support this currency. Please use a different card.",
	"card_not_supported":      "The card is not supported for this purchase. Please use a different card.",
	"processing_error":        genericDeclineMsg,
	"do_not_honor":            genericDeclineMsg,
	"generic_decline":         genericDeclineMsg,
	"transaction_not_allowed": genericDeclineMsg,
}

// Classify maps a remote failure to local decline semantics. Pure: no I/O,
// no state.
func Classify(err error) *DeclineError {
	if err == nil {
		return nil
	}

	var de *DeclineError
	if errors.As(err, &de) {
		return de
	}

	var re *RemoteError
	if !errors.As(err, &re) {
		// transport-level failure: timeout, refused, DNS
		if errors.Is(err, context.DeadlineExceeded) {
			return &DeclineError{Kind: NetworkError, Code: "timeout", PublicMsg: genericDeclineMsg, Err: err}
		}
		var ne net.Error
		if errors.As(err, &ne) {
			return &DeclineError{Kind: NetworkError, Code: "network", PublicMsg: genericDeclineMsg, Err: err}
		}
		return &DeclineError{Kind: NetworkError, Code: "unknown", PublicMsg: genericDeclineMsg, Err: err}
	}

	switch re.Type {
	case "card_error":
		code := re.DeclineCode
		if code == "" {
			code = re.Code
		}
		if code == "authentication_required" {
			// not a rejection: the customer must complete a challenge
			return &DeclineError{Kind: SoftDecline, Code: code, PublicMsg: "Additional authentication is required to complete the payment.", Err: re}
		}
		msg, ok := hardDeclineMessages[code]
		if !ok {
			msg = genericDeclineMsg
		}
		return &DeclineError{Kind: HardDecline, Code: code, PublicMsg: msg, Err: re}

	case "rate_limit_error":
		return &DeclineError{Kind: RateLimited, Code: re.Code, PublicMsg: genericDeclineMsg, Err: re}

	case "authentication_error":
		return &DeclineError{Kind: AuthenticationFailed, Code: re.Code, PublicMsg: genericDeclineMsg, Err: re}

	case "invalid_request_error":
		return &DeclineError{Kind: InvalidRequest, Code: re.Code, PublicMsg: genericDeclineMsg, Err: re}
	}

	switch re.HTTPStatus {
	case http.StatusTooManyRequests:
		return &DeclineError{Kind: RateLimited, Code: re.Code, PublicMsg: genericDeclineMsg, Err: re}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &DeclineError{Kind: AuthenticationFailed, Code: re.Code, PublicMsg: genericDeclineMsg, Err: re}
	case http.StatusBadRequest, http.StatusNotFound:
		return &DeclineError{Kind: InvalidRequest, Code: re.Code, PublicMsg: genericDeclineMsg, Err: re}
	}

	// 5xx and anything unrecognized: transient remote trouble
	return &DeclineError{Kind: NetworkError, Code: re.Code, PublicMsg: genericDeclineMsg, Err: re}
}
