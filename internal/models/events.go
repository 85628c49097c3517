package models

import "time"

// Event types
const (
	EventTypeOrderCreated      = "ORDER_CREATED"
	EventTypeOrderPaid         = "ORDER_PAID"
	EventTypeOrderFailed       = "ORDER_FAILED"
	EventTypeOrderFinished     = "ORDER_FINISHED"
	EventTypeCertificateIssued = "CERTIFICATE_ISSUED"
	EventTypePaymentSucceeded  = "PAYMENT_SUCCEEDED"
	EventTypePaymentFailed     = "PAYMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderEvent is published on every order state transition
type OrderEvent struct {
	BaseEvent
	OrderID   string `json:"order_id"`
	Owner     string `json:"owner"`
	ProductID string `json:"product_id"`
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
}

// CertificateIssuedEvent published once a certificate document is stored
type CertificateIssuedEvent struct {
	BaseEvent
	OrderID       string `json:"order_id"`
	CertificateID string `json:"certificate_id"`
	Owner         string `json:"owner"`
}

// PaymentSucceededEvent delivered by the payment collaborator
type PaymentSucceededEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"`
	TxID    string `json:"tx_id"`
}

// PaymentFailedEvent delivered by the payment collaborator
type PaymentFailedEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}
