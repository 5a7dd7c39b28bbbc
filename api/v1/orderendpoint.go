package v1

import (
	"context"
	"encoding/json"
	"fmt"
)

// DataResponse is the canonical success envelope of the ordering API. Any
// other shape is a collaborator bug and fails decoding.
type DataResponse[T any] struct {
	Data T `json:"data"`
}

type ErrorResponse struct {
	Message string `json:"message"`
}

// OrderStatusSubmitted marks an order accepted on-device but not yet
// confirmed by the server.
const OrderStatusSubmitted = "SUBMITTED"

type OrderDTO struct {
	ID       string         `json:"id,omitempty"`
	TableID  string         `json:"tableId" validate:"required"`
	Items    []OrderItemDTO `json:"items" validate:"required,min=1,dive"`
	Subtotal float64        `json:"subtotal" validate:"gte=0"`
	Tax      float64        `json:"tax" validate:"gte=0"`
	Discount float64        `json:"discount" validate:"gte=0"`
	Total    float64        `json:"total" validate:"gte=0"`
	Notes    string         `json:"notes,omitempty"`
	Status   string         `json:"status,omitempty"`
	// Message is set on provisional orders to note the pending sync.
	Message string `json:"message,omitempty"`
}

type OrderItemDTO struct {
	MenuItemID string   `json:"menuItemId" validate:"required"`
	Name       string   `json:"name"`
	Quantity   int      `json:"quantity" validate:"gte=1"`
	UnitPrice  float64  `json:"unitPrice" validate:"gte=0"`
	Modifiers  []string `json:"modifiers,omitempty"`
}

type OrderEndpoint struct {
	transport *Transport
}

// Create posts an order payload and returns the server-confirmed order,
// including its server-assigned id.
func (ep *OrderEndpoint) Create(ctx context.Context, payload json.RawMessage) (*OrderDTO, error) {
	resp, err := ep.transport.Post(ctx, OrdersPath, payload)
	if err != nil {
		return nil, err
	}

	var result DataResponse[struct {
		Order *OrderDTO `json:"order"`
	}]
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	if result.Data.Order == nil || result.Data.Order.ID == "" {
		return nil, fmt.Errorf("malformed order response, missing order id")
	}
	return result.Data.Order, nil
}
