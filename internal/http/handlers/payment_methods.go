package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"payfold.com/app/internal/http/middleware"
	"payfold.com/app/internal/http/validation"
	"payfold.com/app/internal/modules/payments"
	"payfold.com/app/internal/shared/apperr"
)

type PaymentMethodsHandler struct {
	Logger  *slog.Logger
	Intents *payments.IntentService
}

func NewPaymentMethodsHandler(logger *slog.Logger, intents *payments.IntentService) *PaymentMethodsHandler {
	return &PaymentMethodsHandler{Logger: logger, Intents: intents}
}

type saveMethodRequest struct {
	RemoteID string `json:"remote_id" binding:"required,max=128"`
}

// POST /payment-methods
// Registers a remote payment method locally after the customer confirmed it.
func (h *PaymentMethodsHandler) Save(c *gin.Context) {
	var req saveMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperr.InvalidErr("Invalid request.", validation.FromBindError(err, &req)))
		return
	}

	var userID *string
	if uid := c.GetHeader("X-User-ID"); uid != "" {
		userID = &uid
	}

	m, err := h.Intents.SaveMethodFromRemote(c.Request.Context(), userID, req.RemoteID)
	if err != nil {
		failPayment(c, err)
		return
	}

	caps := m.Capabilities()
	c.JSON(http.StatusOK, gin.H{
		"id":               m.ID,
		"kind":             m.Kind,
		"reusable":         caps.Reusable,
		"supports_capture": caps.SupportsCapture,
	})
}

// DELETE /payment-methods/:id
func (h *PaymentMethodsHandler) Delete(c *gin.Context) {
	if err := h.Intents.DeleteMethod(c.Request.Context(), c.Param("id")); err != nil {
		failPayment(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
