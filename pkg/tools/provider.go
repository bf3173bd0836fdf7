package tools

import (
	"context"

	"github.com/tobiasgrim/supportflow/pkg/conversation"
)

// OrderStatus is the normalized fulfillment status returned by the
// commerce backend adapter.
type OrderStatus string

// Normalized order statuses. Anything the adapter cannot map stays as
// the raw backend value and is treated as "in transit / unknown" by the
// decision logic.
const (
	StatusUnfulfilled OrderStatus = "UNFULFILLED"
	StatusInTransit   OrderStatus = "IN_TRANSIT"
	StatusDelivered   OrderStatus = "DELIVERED"
)

// Order is one commerce-backend order relevant to a conversation.
type Order struct {
	ID          string      `json:"id"`
	Status      OrderStatus `json:"status"`
	TrackingURL string      `json:"tracking_url,omitempty"`
}

// OrderLookupProvider is the strategy interface for the commerce
// backend. Implementations are injected at construction; tests wire the
// mock. The orchestration core never sees HTTP statuses or transport
// details; adapters translate those into errors or empty results.
type OrderLookupProvider interface {
	// LookupOrders returns the customer's recent orders, newest first.
	// An empty slice with nil error means the lookup succeeded but found
	// no records.
	LookupOrders(ctx context.Context, customer conversation.CustomerInfo) ([]Order, error)

	// LookupOrderByReference resolves a single order from a free-text
	// reference the customer supplied. Returns nil with nil error if the
	// reference matches nothing.
	LookupOrderByReference(ctx context.Context, reference string) (*Order, error)
}
