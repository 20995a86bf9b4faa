package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderCompleted     = "ORDER_COMPLETED"
	EventTypeOrderFailed        = "ORDER_FAILED"
	EventTypeOrderCancelled     = "ORDER_CANCELLED"
	EventTypeDeliveryRequested  = "DELIVERY_REQUESTED"
	EventTypeChatSessionClaimed = "CHAT_SESSION_CLAIMED"
	EventTypeChatSessionClosed  = "CHAT_SESSION_CLOSED"
	EventTypeChatSessionReopen  = "CHAT_SESSION_REOPENED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderEvent carries an order lifecycle change
type OrderEvent struct {
	BaseEvent
	OrderID         string          `json:"order_id"`
	UserID          string          `json:"user_id"`
	Status          string          `json:"status"`
	PaymentMethod   string          `json:"payment_method"`
	ProcessedAmount decimal.Decimal `json:"processed_amount"`
	Currency        string          `json:"currency"`
	Reason          string          `json:"reason,omitempty"`
}

// DeliveryRequestedEvent asks the delivery worker to run a product's commands
type DeliveryRequestedEvent struct {
	BaseEvent
	OrderID   string `json:"order_id,omitempty"`
	UserID    string `json:"user_id"`
	ProductID string `json:"product_id"`
}

// ChatSessionEvent is published on claim, close and reopen
type ChatSessionEvent struct {
	BaseEvent
	SessionID string `json:"session_id"`
	AdminID   string `json:"admin_id,omitempty"`
	Status    string `json:"status"`
}
