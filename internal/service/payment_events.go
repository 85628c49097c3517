package service

import (
	"context"
	"errors"
	"fmt"

	"enrollment-service/internal/models"
	"enrollment-service/internal/store"
	"enrollment-service/internal/util"

	"go.uber.org/zap"
)

// PaymentEventHandler applies events of the payment collaborator to orders.
// Each event is applied at most once.
type PaymentEventHandler struct {
	store  *store.Store
	orders *OrderService
	logger *zap.Logger
}

// NewPaymentEventHandler creates a new payment event handler
func NewPaymentEventHandler(store *store.Store, orders *OrderService) *PaymentEventHandler {
	return &PaymentEventHandler{
		store:  store,
		orders: orders,
		logger: util.GetLogger(),
	}
}

// HandlePaymentSucceeded confirms the payment of the order
func (h *PaymentEventHandler) HandlePaymentSucceeded(ctx context.Context, event *models.PaymentSucceededEvent) error {
	ctx, span := util.StartSpan(ctx, "PaymentEventHandler.HandlePaymentSucceeded")
	defer span.End()

	h.logger.Info("Handling payment success",
		zap.String("event_id", event.EventID),
		zap.String("order_id", event.OrderID),
		zap.String("tx_id", event.TxID))

	return h.handle(ctx, event.BaseEvent, func() error {
		return h.orders.ConfirmPayment(ctx, event.OrderID)
	})
}

// HandlePaymentFailed fails the order
func (h *PaymentEventHandler) HandlePaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	ctx, span := util.StartSpan(ctx, "PaymentEventHandler.HandlePaymentFailed")
	defer span.End()

	h.logger.Warn("Handling payment failure",
		zap.String("event_id", event.EventID),
		zap.String("order_id", event.OrderID),
		zap.String("reason", event.Reason))

	return h.handle(ctx, event.BaseEvent, func() error {
		return h.orders.FailPayment(ctx, event.OrderID, event.Reason)
	})
}

// handle runs apply unless the event was already processed. Outcomes that
// redelivery cannot change are recorded as processed; other errors are
// returned so that the event is delivered again.
func (h *PaymentEventHandler) handle(ctx context.Context, event models.BaseEvent, apply func() error) error {
	processed, err := h.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		util.PaymentEventsTotal.WithLabelValues(event.EventType, "duplicate").Inc()
		h.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	result := "applied"
	err = apply()
	var enrollErr *EnrollmentError
	switch {
	case err == nil:
	case errors.As(err, &enrollErr):
		result = "order_failed"
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNotFound):
		result = "ignored"
		h.logger.Warn("Payment event does not apply to the order",
			zap.String("event_id", event.EventID),
			zap.Error(err))
	default:
		util.PaymentEventsTotal.WithLabelValues(event.EventType, "error").Inc()
		return err
	}

	if err := h.store.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		h.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	util.PaymentEventsTotal.WithLabelValues(event.EventType, result).Inc()
	return nil
}
