package apphttp

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"payfold.com/app/internal/http/handlers"
	"payfold.com/app/internal/http/middleware"
	"payfold.com/app/internal/modules/payments"
	"payfold.com/app/internal/storage"
)

type Deps struct {
	Logger  *slog.Logger
	DB      *gorm.DB
	Gateway payments.Gateway
	Archive storage.Archive

	// OperatorToken guards the admin endpoints; empty disables them.
	OperatorToken string
	StoreID       string
	// WebhookDelay > 0 defers webhook processing after acknowledgment.
	WebhookDelay time.Duration
}

func NewRouter(d Deps) *gin.Engine {
	intents := payments.NewIntentService(d.DB, d.Gateway, d.StoreID)
	intents.SetLogger(d.Logger)

	webhooks := payments.NewWebhookService(d.DB, d.Gateway)
	webhooks.SetLogger(d.Logger)
	webhooks.SetArchive(d.Archive)
	webhooks.SetProcessDelay(d.WebhookDelay)

	returns := payments.NewReturnService(d.DB, intents)
	returns.SetLogger(d.Logger)

	orch := payments.NewOrchestrator(d.DB, d.Gateway)
	orch.SetLogger(d.Logger)

	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(d.Logger))
	r.Use(middleware.Recovery(d.Logger))
	r.Use(middleware.ErrorHandler(d.Logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	wh := handlers.NewWebhookHandler(d.Logger, d.Gateway, webhooks)
	r.POST("/webhooks/stripe", wh.Handle)

	ph := handlers.NewPaymentsHandler(d.Logger, intents, returns, orch)
	r.POST("/orders/:id/pay", ph.Pay)
	r.GET("/checkout/return", ph.Return)

	mh := handlers.NewPaymentMethodsHandler(d.Logger, intents)
	r.POST("/payment-methods", mh.Save)
	r.DELETE("/payment-methods/:id", mh.Delete)

	admin := r.Group("/admin", middleware.RequireOperator(d.OperatorToken))
	admin.POST("/payments/:id/capture", ph.Capture)
	admin.POST("/payments/:id/void", ph.Void)
	admin.POST("/payments/:id/refund", ph.Refund)

	return r
}
