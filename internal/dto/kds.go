package dto

import "encoding/json"

// OrderItemView is one preparation line as transmitted to display clients.
// ProductName is already display-resolved.
type OrderItemView struct {
	ID          int64           `json:"id"`
	ProductName string          `json:"product_name"`
	Quantity    string          `json:"quantity"`
	Modifiers   json.RawMessage `json:"modifiers,omitempty"`
	Notes       string          `json:"notes,omitempty"`
}

// OrderView is one kitchen order as transmitted to display clients.
type OrderView struct {
	ID           int64           `json:"id"`
	TicketNumber int             `json:"ticket_number"`
	Status       string          `json:"status"`
	OrderTime    string          `json:"order_time"`
	WaitingTime  string          `json:"waiting_time"`
	Items        []OrderItemView `json:"items"`
	CustomerInfo json.RawMessage `json:"customer_info,omitempty"`
}

// Snapshot is the point-in-time queue projection pushed to clients.
type Snapshot struct {
	Active    []OrderView `json:"active"`
	Completed []OrderView `json:"completed"`
}

// OrderSummary acknowledges a status update.
type OrderSummary struct {
	ID          int64  `json:"id"`
	Status      string `json:"status"`
	WaitingTime string `json:"waiting_time"`
}

// ScanResult reports a manual scan trigger.
type ScanResult struct {
	Triggered bool `json:"triggered"`
	Created   int  `json:"created"`
}

// ClearCompletedResult reports a retention sweep.
type ClearCompletedResult struct {
	Removed int64 `json:"removed"`
}

// ClearAllResult reports a queue flush.
type ClearAllResult struct {
	Transitioned int64 `json:"transitioned"`
}

// SystemStatus reports POS connectivity and queue health.
type SystemStatus struct {
	POSConnected bool   `json:"pos_connected"`
	LastOrder    string `json:"last_order"`
	ActiveOrders int    `json:"active_orders"`
}
