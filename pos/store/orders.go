package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"tablio.com/tablio/pos/model"
)

// SaveOrder persists a new offline order. An empty LocalID is assigned a
// fresh local id; status defaults to pending.
func (s *Store) SaveOrder(ctx context.Context, order *model.OfflineOrder) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	if order.LocalID == "" {
		order.LocalID = NewLocalID()
	}
	if order.Status == "" {
		order.Status = model.StatusPending
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = s.now()
	}

	if err := db.Create(order).Error; err != nil {
		return fmt.Errorf("save order %s: %w", order.LocalID, err)
	}
	return nil
}

// Order loads one offline order by its local id.
func (s *Store) Order(ctx context.Context, localID string) (*model.OfflineOrder, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var order model.OfflineOrder
	if err := db.First(&order, "local_id = ?", localID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("order %s: %w", localID, ErrNotFound)
		}
		return nil, fmt.Errorf("load order %s: %w", localID, err)
	}
	return &order, nil
}

// UpdateOrderStatus transitions an order. The server id may only be supplied
// together with the synced status and is written exactly once; a second
// assignment with a different id is rejected.
func (s *Store) UpdateOrderStatus(ctx context.Context, localID, status string, serverID *string) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	return db.Transaction(func(tx *gorm.DB) error {
		var order model.OfflineOrder
		if err := tx.First(&order, "local_id = ?", localID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("order %s: %w", localID, ErrNotFound)
			}
			return err
		}

		updates := map[string]any{"status": status}
		if serverID != nil {
			if order.ServerID != nil && *order.ServerID != *serverID {
				return fmt.Errorf("order %s already has server id %s", localID, *order.ServerID)
			}
			if order.ServerID == nil {
				updates["server_id"] = *serverID
			}
		}
		if status == model.StatusSynced && order.SyncedAt == nil {
			updates["synced_at"] = s.now()
		}

		return tx.Model(&model.OfflineOrder{}).Where("local_id = ?", localID).Updates(updates).Error
	})
}

// DeleteOrder removes an offline order.
func (s *Store) DeleteOrder(ctx context.Context, localID string) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return db.Delete(&model.OfflineOrder{}, "local_id = ?", localID).Error
}

// PendingOrders returns all orders awaiting sync, oldest first.
func (s *Store) PendingOrders(ctx context.Context) ([]model.OfflineOrder, error) {
	return s.ordersByStatus(ctx, model.StatusPending)
}

// FailedOrders returns orders that exhausted their retries.
func (s *Store) FailedOrders(ctx context.Context) ([]model.OfflineOrder, error) {
	return s.ordersByStatus(ctx, model.StatusFailed)
}

func (s *Store) ordersByStatus(ctx context.Context, status string) ([]model.OfflineOrder, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var orders []model.OfflineOrder
	if err := db.Where("status = ?", status).Order("created_at, local_id").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("list %s orders: %w", status, err)
	}
	return orders, nil
}

// IncrementOrderRetry counts a failed sync attempt against an order. Once
// the retry count reaches the threshold the order transitions to failed and
// is excluded from further automatic replay; the returned flag reports that
// transition.
func (s *Store) IncrementOrderRetry(ctx context.Context, localID, cause string) (failed bool, err error) {
	db, err := s.conn(ctx)
	if err != nil {
		return false, err
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		var order model.OfflineOrder
		if err := tx.First(&order, "local_id = ?", localID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("order %s: %w", localID, ErrNotFound)
			}
			return err
		}

		updates := map[string]any{
			"retry_count": order.RetryCount + 1,
			"error":       cause,
		}
		if order.RetryCount+1 >= s.retryThreshold {
			updates["status"] = model.StatusFailed
			failed = true
		}
		return tx.Model(&model.OfflineOrder{}).Where("local_id = ?", localID).Updates(updates).Error
	})
	return failed, err
}

// MarkOrderFailed fails an order immediately, bypassing the retry budget.
// Used for permanently invalid payloads the server will never accept.
func (s *Store) MarkOrderFailed(ctx context.Context, localID, cause string) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return db.Model(&model.OfflineOrder{}).Where("local_id = ?", localID).
		Updates(map[string]any{"status": model.StatusFailed, "error": cause}).Error
}

// OrderPayload is a convenience decode of an order's stored payload.
func OrderPayload[T any](order *model.OfflineOrder) (*T, error) {
	var payload T
	if err := json.Unmarshal(order.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode order %s payload: %w", order.LocalID, err)
	}
	return &payload, nil
}
