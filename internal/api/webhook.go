package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"enrollment-service/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
	"go.uber.org/zap"
)

const maxWebhookBody = 64 << 10

// stripeWebhook turns Stripe payment intent events into payment events. The
// order is identified by the order_id metadata of the payment intent.
func (h *Handler) stripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable body"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, c.GetHeader("Stripe-Signature"), h.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.logger.Warn("Rejected Stripe webhook", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	switch string(event.Type) {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
	default:
		c.Status(http.StatusNoContent)
		return
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payment intent"})
		return
	}
	orderID := intent.Metadata["order_id"]
	if orderID == "" {
		h.logger.Warn("Stripe payment intent without order", zap.String("payment_intent", intent.ID))
		c.Status(http.StatusNoContent)
		return
	}

	base := models.BaseEvent{EventID: event.ID, Timestamp: time.Unix(event.Created, 0).UTC()}
	ctx := c.Request.Context()
	if string(event.Type) == "payment_intent.succeeded" {
		base.EventType = models.EventTypePaymentSucceeded
		err = h.payments.HandlePaymentSucceeded(ctx, &models.PaymentSucceededEvent{
			BaseEvent: base,
			OrderID:   orderID,
			Amount:    intent.Amount,
			TxID:      intent.ID,
		})
	} else {
		reason := "payment failed"
		if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
			reason = intent.LastPaymentError.Msg
		}
		base.EventType = models.EventTypePaymentFailed
		err = h.payments.HandlePaymentFailed(ctx, &models.PaymentFailedEvent{
			BaseEvent: base,
			OrderID:   orderID,
			Reason:    reason,
		})
	}
	if err != nil {
		h.logger.Error("Stripe webhook processing failed",
			zap.String("event_id", event.ID),
			zap.String("order_id", orderID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Processing failed"})
		return
	}
	c.Status(http.StatusNoContent)
}
