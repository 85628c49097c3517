package worker

import (
	"context"

	"enrollment-service/internal/broker"
	"enrollment-service/internal/service"
	"enrollment-service/internal/util"

	"go.uber.org/zap"
)

// PaymentWorker applies payment collaborator events to orders
type PaymentWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewPaymentWorker creates a new payment worker
func NewPaymentWorker(consumer *broker.Consumer, payments *service.PaymentEventHandler) *PaymentWorker {
	return &PaymentWorker{
		consumer:     consumer,
		eventHandler: NewPaymentEventRouter(payments),
		logger:       util.GetLogger(),
	}
}

// NewPaymentEventRouter routes payment events to the payment event handler
func NewPaymentEventRouter(payments *service.PaymentEventHandler) *broker.EventHandler {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnPaymentSucceeded(payments.HandlePaymentSucceeded)
	eventHandler.OnPaymentFailed(payments.HandlePaymentFailed)
	return eventHandler
}

// Start starts the worker
func (w *PaymentWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *PaymentWorker) Stop() error {
	w.logger.Info("Stopping payment worker")
	return w.consumer.Close()
}
