package v1

import (
	"context"
	"encoding/json"
)

type PaymentDTO struct {
	ID        string  `json:"id,omitempty"`
	OrderID   string  `json:"orderId" validate:"required"`
	Method    string  `json:"method" validate:"required"`
	Amount    float64 `json:"amount" validate:"gt=0"`
	Reference string  `json:"reference,omitempty"`
	Status    string  `json:"status,omitempty"`
}

type PaymentEndpoint struct {
	transport *Transport
}

// Process posts a payment payload. Any 2xx response counts as success; the
// body is not inspected.
func (ep *PaymentEndpoint) Process(ctx context.Context, payload json.RawMessage) error {
	_, err := ep.transport.Post(ctx, PaymentsPath, payload)
	return err
}
