package handlers

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"payfold.com/app/internal/modules/payments"
)

type WebhookHandler struct {
	Logger     *slog.Logger
	Gateway    payments.Gateway
	WebhookSvc *payments.WebhookService
}

func NewWebhookHandler(logger *slog.Logger, gw payments.Gateway, svc *payments.WebhookService) *WebhookHandler {
	return &WebhookHandler{Logger: logger, Gateway: gw, WebhookSvc: svc}
}

// POST /webhooks/stripe
// Body is raw JSON; signature header validated by the gateway adapter.
// 400 means the provider sent garbage; 500 asks the provider to retry.
func (h *WebhookHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"received": false, "error": "invalid body"})
		return
	}

	ev, err := h.Gateway.VerifyAndParseWebhook(c.Request.Header, body)
	if err != nil {
		h.Logger.WarnContext(c.Request.Context(), "webhook rejected", "err", err)
		c.JSON(http.StatusBadRequest, gin.H{"received": false, "error": "invalid signature or payload"})
		return
	}

	if err := h.WebhookSvc.Handle(c.Request.Context(), ev, body, c.GetHeader("Stripe-Signature")); err != nil {
		h.Logger.ErrorContext(c.Request.Context(), "webhook apply failed",
			"event_id", ev.ID, "type", ev.Type, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"received": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
