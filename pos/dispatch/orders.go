package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	v1 "tablio.com/tablio/api/v1"
	"tablio.com/tablio/pos/model"
	"tablio.com/tablio/pos/store"
)

// ProvisionalMessage is attached to orders synthesized on-device.
const ProvisionalMessage = "Order saved on this device and will sync when the connection is restored"

// CreateOrder submits an order. Online it returns the server-confirmed
// order; otherwise the order is persisted locally and a provisional order
// comes back, shape-compatible with a confirmed one apart from the local id
// prefix, the SUBMITTED status and the sync message.
func (d *Dispatcher) CreateOrder(ctx context.Context, order *v1.OrderDTO) (*v1.OrderDTO, error) {
	if err := d.validate.Struct(order); err != nil {
		return nil, fmt.Errorf("invalid order: %w", err)
	}

	payload, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}

	data, err := d.Do(ctx, v1.OrdersPath, Options{Method: http.MethodPost, Body: payload})
	if err != nil {
		return nil, err
	}

	var result v1.OrderDTO
	if isProvisional(data) {
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("decode provisional order: %w", err)
		}
		return &result, nil
	}

	var envelope v1.DataResponse[struct {
		Order *v1.OrderDTO `json:"order"`
	}]
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	if envelope.Data.Order == nil || envelope.Data.Order.ID == "" {
		return nil, fmt.Errorf("malformed order response, missing order id")
	}
	return envelope.Data.Order, nil
}

func isProvisional(data json.RawMessage) bool {
	var probe struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.Status == v1.OrderStatusSubmitted
}

// ProcessPayment submits a payment. When the server cannot be reached the
// payment is persisted locally and ErrQueuedForSync comes back as the soft
// success signal.
func (d *Dispatcher) ProcessPayment(ctx context.Context, payment *v1.PaymentDTO) error {
	if err := d.validate.Struct(payment); err != nil {
		return fmt.Errorf("invalid payment: %w", err)
	}

	payload, err := json.Marshal(payment)
	if err != nil {
		return fmt.Errorf("encode payment: %w", err)
	}

	_, err = d.Do(ctx, v1.PaymentsPath, Options{Method: http.MethodPost, Body: payload})
	return err
}

// Menu fetches the menu, falling back to the 24h cache while offline.
func (d *Dispatcher) Menu(ctx context.Context) (json.RawMessage, error) {
	return d.Do(ctx, v1.MenuPath, Options{CacheResource: model.ResourceMenu})
}

// Tables fetches the table layout, falling back to the 1h cache.
func (d *Dispatcher) Tables(ctx context.Context) (json.RawMessage, error) {
	return d.Do(ctx, v1.TablesPath, Options{CacheResource: model.ResourceTables})
}

// Settings fetches tenant settings, falling back to the 1h cache.
func (d *Dispatcher) Settings(ctx context.Context) (json.RawMessage, error) {
	return d.Do(ctx, v1.SettingsPath, Options{CacheResource: model.ResourceSettings})
}

// saveOrderLocally persists the order and fabricates the provisional
// response. This is the one place the dispatcher invents a response body
// rather than deferring it.
func (d *Dispatcher) saveOrderLocally(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	offline := model.OfflineOrder{Payload: payload}
	if err := d.store.SaveOrder(ctx, &offline); err != nil {
		return nil, err
	}

	var provisional v1.OrderDTO
	if err := json.Unmarshal(payload, &provisional); err != nil {
		return nil, fmt.Errorf("decode order payload: %w", err)
	}
	provisional.ID = offline.LocalID
	provisional.Status = v1.OrderStatusSubmitted
	provisional.Message = ProvisionalMessage

	data, err := json.Marshal(&provisional)
	if err != nil {
		return nil, fmt.Errorf("encode provisional order: %w", err)
	}
	return data, nil
}

func (d *Dispatcher) savePaymentLocally(ctx context.Context, payload json.RawMessage) error {
	var dto v1.PaymentDTO
	if err := json.Unmarshal(payload, &dto); err != nil {
		return fmt.Errorf("decode payment payload: %w", err)
	}

	offline := model.OfflinePayment{OrderID: dto.OrderID, Payload: payload}
	if err := d.store.SavePayment(ctx, &offline); err != nil {
		return err
	}
	return &QueuedError{Kind: model.KindPayment}
}

// PendingReceipt renders the provisional view of a locally stored order,
// used by the UI to re-print receipts for unsynced orders.
func (d *Dispatcher) PendingReceipt(ctx context.Context, localID string) (*v1.OrderDTO, error) {
	offline, err := d.store.Order(ctx, localID)
	if err != nil {
		return nil, err
	}

	order, err := store.OrderPayload[v1.OrderDTO](offline)
	if err != nil {
		return nil, err
	}
	switch offline.Status {
	case model.StatusSynced:
		order.ID = *offline.ServerID
		order.Status = "CONFIRMED"
	case model.StatusFailed:
		order.ID = offline.LocalID
		order.Status = "FAILED"
		if offline.Error != nil {
			order.Message = *offline.Error
		}
	default:
		order.ID = offline.LocalID
		order.Status = v1.OrderStatusSubmitted
		order.Message = ProvisionalMessage
	}
	return order, nil
}

