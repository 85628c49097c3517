package service

import (
	"context"
	"time"

	"enrollment-service/internal/models"

	"github.com/google/uuid"
)

// EventPublisher publishes order lifecycle events
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error
	PublishCertificateIssued(ctx context.Context, event *models.CertificateIssuedEvent) error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) PublishOrderEvent(context.Context, *models.OrderEvent) error { return nil }

func (NopPublisher) PublishCertificateIssued(context.Context, *models.CertificateIssuedEvent) error {
	return nil
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

func newOrderEvent(eventType string, order *models.Order, reason string) *models.OrderEvent {
	return &models.OrderEvent{
		BaseEvent: newBaseEvent(eventType),
		OrderID:   order.ID,
		Owner:     order.Owner,
		ProductID: order.ProductID,
		State:     order.State,
		Reason:    reason,
	}
}
