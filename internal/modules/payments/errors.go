package payments

import "errors"

var (
	ErrInvalidTransition = errors.New("invalid payment state transition")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrIntentMismatch    = errors.New("intent does not match order's pending intent")
	ErrNotCapturable     = errors.New("payment not capturable")
	ErrNotVoidable       = errors.New("payment not voidable")
	ErrNotRefundable     = errors.New("payment not refundable")
	ErrForbidden         = errors.New("forbidden")
)
