package entity

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// OrderStatus enumerates the kitchen order lifecycle.
type OrderStatus string

const (
	StatusNew       OrderStatus = "new"
	StatusViewed    OrderStatus = "viewed"
	StatusPreparing OrderStatus = "preparing"
	StatusReady     OrderStatus = "ready"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
)

// Valid reports whether s is one of the six known statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusNew, StatusViewed, StatusPreparing, StatusReady, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s ends the preparation lifecycle.
func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Order is the local representation of the preparation work implied by one
// POS ticket. Created only by the ingestion scanner; SourceTicketID carries
// a unique index so re-ingesting the same ticket is a no-op.
type Order struct {
	bun.BaseModel `bun:"table:kds_orders,alias:o"`

	ID             int64           `bun:",pk,autoincrement"`
	SourceTicketID string          `bun:"source_ticket_id"`
	TicketNumber   int             `bun:"ticket_number"`
	Operator       string          `bun:"operator"`
	Status         OrderStatus     `bun:"status"`
	OrderTime      time.Time       `bun:"order_time"`
	ViewedAt       *time.Time      `bun:"viewed_at"`
	StartedAt      *time.Time      `bun:"started_at"`
	ReadyAt        *time.Time      `bun:"ready_at"`
	CompletedAt    *time.Time      `bun:"completed_at"`
	PrepSeconds    *int64          `bun:"prep_seconds"`
	CustomerInfo   json.RawMessage `bun:"customer_info,nullzero"`
	CreatedAt      time.Time       `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time       `bun:"updated_at,nullzero"`

	Items []*OrderItem `bun:"rel:has-many,join:id=order_id"`
}

// WaitingTime is how long the order has been (or was) waiting. The clock
// stops at completion, or at ready when the order was never completed.
func (o *Order) WaitingTime(now time.Time) time.Duration {
	end := now
	switch {
	case o.CompletedAt != nil:
		end = *o.CompletedAt
	case o.ReadyAt != nil:
		end = *o.ReadyAt
	}
	if end.Before(o.OrderTime) {
		return 0
	}
	return end.Sub(o.OrderTime)
}

// OrderItem is one preparation line of an Order. Items are written once at
// ingestion time and never mutated; they are removed with their order.
type OrderItem struct {
	bun.BaseModel `bun:"table:kds_order_items,alias:oi"`

	ID          int64           `bun:",pk,autoincrement"`
	OrderID     int64           `bun:"order_id"`
	ProductID   string          `bun:"product_id"`
	ProductName string          `bun:"product_name"`
	DisplayName string          `bun:"display_name,nullzero"`
	Quantity    float64         `bun:"quantity"`
	Modifiers   json.RawMessage `bun:"modifiers,nullzero"`
	Notes       string          `bun:"notes,nullzero"`
	CreatedAt   time.Time       `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
}

// Display resolves the name shown on the kitchen screen, falling back to the
// product name when no display override exists.
func (i *OrderItem) Display() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.ProductName
}
