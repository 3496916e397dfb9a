package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"payfold.com/app/internal/http/middleware"
	"payfold.com/app/internal/http/validation"
	"payfold.com/app/internal/modules/orders"
	"payfold.com/app/internal/modules/payments"
	"payfold.com/app/internal/shared/apperr"
)

type PaymentsHandler struct {
	Logger  *slog.Logger
	Intents *payments.IntentService
	Returns *payments.ReturnService
	Orch    *payments.Orchestrator
}

func NewPaymentsHandler(logger *slog.Logger, intents *payments.IntentService, returns *payments.ReturnService, orch *payments.Orchestrator) *PaymentsHandler {
	return &PaymentsHandler{Logger: logger, Intents: intents, Returns: returns, Orch: orch}
}

type payRequest struct {
	AttemptNonce    string            `json:"attempt_nonce" binding:"required,min=8,max=64"`
	CaptureMethod   string            `json:"capture_method" binding:"omitempty,oneof=automatic automatic_async manual"`
	PaymentMethodID string            `json:"payment_method_id" binding:"omitempty,max=128"`
	ReturnURL       string            `json:"return_url" binding:"omitempty,max=512"`
	Metadata        map[string]string `json:"metadata"`
}

// POST /orders/:id/pay
func (h *PaymentsHandler) Pay(c *gin.Context) {
	var req payRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperr.InvalidErr("Invalid request.", validation.FromBindError(err, &req)))
		return
	}

	var actor *string
	if uid := c.GetHeader("X-User-ID"); uid != "" {
		actor = &uid
	}

	intent, err := h.Intents.CreateIntent(c.Request.Context(), payments.CreateIntentInput{
		OrderID:      c.Param("id"),
		ActorUserID:  actor,
		AttemptNonce: req.AttemptNonce,
		Overrides: payments.IntentOverrides{
			CaptureMethod:   req.CaptureMethod,
			PaymentMethodID: req.PaymentMethodID,
			ReturnURL:       req.ReturnURL,
			Metadata:        req.Metadata,
		},
	})
	if err != nil {
		failPayment(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"intent_id":     intent.ID,
		"status":        intent.Status,
		"client_secret": intent.ClientSecret,
		"amount_cents":  intent.AmountCents,
		"currency":      intent.Currency,
	})
}

// GET /checkout/return?order_id=...&payment_intent=...  (or &setup_intent=...)
// The browser lands here after the remote flow; this path races the webhook.
func (h *PaymentsHandler) Return(c *gin.Context) {
	res, err := h.Returns.HandleReturn(c.Request.Context(), payments.ReturnInput{
		OrderID:         c.Query("order_id"),
		PaymentIntentID: c.Query("payment_intent"),
		SetupIntentID:   c.Query("setup_intent"),
	})
	if err != nil {
		failPayment(c, err)
		return
	}

	out := gin.H{"order_id": res.OrderID}
	switch {
	case res.Decline != nil:
		out["outcome"] = "declined"
		out["decline"] = declineBody(res.Decline)
	case res.Pending:
		out["outcome"] = "pending"
	case res.MethodID != "":
		out["outcome"] = "method_saved"
		out["payment_method_id"] = res.MethodID
	default:
		out["outcome"] = "paid"
		out["payment_id"] = res.PaymentID
		out["payment_state"] = res.State
	}
	c.JSON(http.StatusOK, out)
}

type captureRequest struct {
	AmountCents int `json:"amount_cents" binding:"omitempty,gt=0"`
}

// POST /admin/payments/:id/capture
func (h *PaymentsHandler) Capture(c *gin.Context) {
	var req captureRequest
	// body is optional; an empty body means full capture
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.Fail(c, apperr.InvalidErr("Invalid request.", validation.FromBindError(err, &req)))
		return
	}

	res, err := h.Orch.Capture(c.Request.Context(), payments.CaptureInput{
		PaymentID:   c.Param("id"),
		AmountCents: req.AmountCents,
		ActorID:     middleware.GetOperatorID(c),
	})
	if err != nil {
		failPayment(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payment_id":       res.PaymentID,
		"state":            res.State,
		"amount_cents":     res.AmountCents,
		"already_captured": res.AlreadyCaptured,
	})
}

// POST /admin/payments/:id/void
func (h *PaymentsHandler) Void(c *gin.Context) {
	res, err := h.Orch.Void(c.Request.Context(), payments.VoidInput{
		PaymentID: c.Param("id"),
		ActorID:   middleware.GetOperatorID(c),
	})
	if err != nil {
		failPayment(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payment_id":     res.PaymentID,
		"state":          res.State,
		"already_voided": res.AlreadyVoided,
	})
}

type refundRequest struct {
	AmountCents    int    `json:"amount_cents" binding:"omitempty,gt=0"`
	IdempotencyKey string `json:"idempotency_key" binding:"required,min=8,max=64"`
	Reason         string `json:"reason" binding:"omitempty,max=255"`
}

// POST /admin/payments/:id/refund
func (h *PaymentsHandler) Refund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperr.InvalidErr("Invalid request.", validation.FromBindError(err, &req)))
		return
	}

	res, err := h.Orch.Refund(c.Request.Context(), payments.RefundInput{
		PaymentID:      c.Param("id"),
		AmountCents:    req.AmountCents,
		ActorID:        middleware.GetOperatorID(c),
		IdempotencyKey: req.IdempotencyKey,
		Reason:         req.Reason,
	})
	if err != nil {
		failPayment(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"refund_id":     res.RefundID,
		"payment_state": res.PaymentState,
		"amount_cents":  res.AmountCents,
		"idempotent":    res.Idempotent,
	})
}

func declineBody(de *payments.DeclineError) gin.H {
	return gin.H{
		"kind":      string(de.Kind),
		"code":      de.Code,
		"message":   de.PublicMsg,
		"retryable": de.Retryable(),
	}
}

// failPayment maps service errors onto HTTP. Declines are not server
// errors: customers get 402 with a safe message, operator-class failures
// stay generic.
func failPayment(c *gin.Context, err error) {
	var de *payments.DeclineError
	if errors.As(err, &de) {
		if de.Operator() {
			middleware.Fail(c, apperr.Wrap(de))
			return
		}
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
			"error":   de.PublicMsg,
			"decline": declineBody(de),
		})
		return
	}

	switch {
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, payments.ErrPaymentNotFound):
		middleware.Fail(c, apperr.NotFoundErr("Not found."))
	case errors.Is(err, orders.ErrNotPayable):
		middleware.Fail(c, apperr.ConflictErr("Order is not payable."))
	case errors.Is(err, payments.ErrForbidden):
		middleware.Fail(c, apperr.ForbiddenErr("Access denied."))
	case errors.Is(err, payments.ErrIntentMismatch):
		middleware.Fail(c, apperr.ConflictErr("Intent does not belong to this order."))
	case errors.Is(err, payments.ErrNotCapturable),
		errors.Is(err, payments.ErrNotVoidable),
		errors.Is(err, payments.ErrNotRefundable),
		errors.Is(err, payments.ErrInvalidTransition):
		middleware.Fail(c, apperr.ConflictErr("Payment is not in a state that allows this operation."))
	default:
		middleware.Fail(c, apperr.Wrap(err))
	}
}
