package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"tablio.com/tablio/pos/model"
)

// AddToSyncQueue appends a mutation to the generic sync queue. Every call
// creates a distinct entry with a fresh monotonically increasing id, even
// for identical payloads; deduplication is the server's concern.
func (s *Store) AddToSyncQueue(ctx context.Context, kind string, payload json.RawMessage, endpoint, method string) (*model.QueuedOperation, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	op := model.QueuedOperation{
		Kind:      kind,
		Payload:   payload,
		Endpoint:  endpoint,
		Method:    method,
		Status:    model.StatusPending,
		CreatedAt: s.now(),
	}
	if err := db.Create(&op).Error; err != nil {
		return nil, fmt.Errorf("enqueue %s %s: %w", method, endpoint, err)
	}
	return &op, nil
}

// PendingSyncOperations returns queued operations awaiting replay, oldest
// first.
func (s *Store) PendingSyncOperations(ctx context.Context) ([]model.QueuedOperation, error) {
	return s.operationsByStatus(ctx, model.StatusPending)
}

// FailedSyncOperations returns queued operations that exhausted their
// retries.
func (s *Store) FailedSyncOperations(ctx context.Context) ([]model.QueuedOperation, error) {
	return s.operationsByStatus(ctx, model.StatusFailed)
}

func (s *Store) operationsByStatus(ctx context.Context, status string) ([]model.QueuedOperation, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var ops []model.QueuedOperation
	if err := db.Where("status = ?", status).Order("created_at, id").Find(&ops).Error; err != nil {
		return nil, fmt.Errorf("list %s operations: %w", status, err)
	}
	return ops, nil
}

// MarkSyncCompleted retires a queued operation after successful replay.
func (s *Store) MarkSyncCompleted(ctx context.Context, id uint) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	res := db.Model(&model.QueuedOperation{}).Where("id = ?", id).
		Update("status", model.StatusCompleted)
	if res.Error != nil {
		return fmt.Errorf("complete operation %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("operation %d: %w", id, ErrNotFound)
	}
	return nil
}

// IncrementRetryCount counts a failed replay against a queued operation,
// failing it once the threshold is reached.
func (s *Store) IncrementRetryCount(ctx context.Context, id uint, cause string) (failed bool, err error) {
	db, err := s.conn(ctx)
	if err != nil {
		return false, err
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		var op model.QueuedOperation
		if err := tx.First(&op, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("operation %d: %w", id, ErrNotFound)
			}
			return err
		}

		updates := map[string]any{
			"retry_count": op.RetryCount + 1,
			"error":       cause,
		}
		if op.RetryCount+1 >= s.retryThreshold {
			updates["status"] = model.StatusFailed
			failed = true
		}
		return tx.Model(&model.QueuedOperation{}).Where("id = ?", id).Updates(updates).Error
	})
	return failed, err
}

// MarkSyncFailed fails a queued operation immediately, bypassing the retry
// budget.
func (s *Store) MarkSyncFailed(ctx context.Context, id uint, cause string) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return db.Model(&model.QueuedOperation{}).Where("id = ?", id).
		Updates(map[string]any{"status": model.StatusFailed, "error": cause}).Error
}

// ClearOldSyncOperations deletes completed queue entries older than maxAge.
// Pending and failed entries are never deleted.
func (s *Store) ClearOldSyncOperations(ctx context.Context, maxAge time.Duration) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if maxAge <= 0 {
		maxAge = DefaultQueueMaxAge
	}

	cutoff := s.now().Add(-maxAge)
	if err := db.Where("status = ? AND created_at < ?", model.StatusCompleted, cutoff).
		Delete(&model.QueuedOperation{}).Error; err != nil {
		return fmt.Errorf("clear old operations: %w", err)
	}
	return nil
}

// Counts summarizes the queue backlog per category for status projections.
type Counts struct {
	PendingOrders     int64 `json:"pendingOrders"`
	FailedOrders      int64 `json:"failedOrders"`
	PendingPayments   int64 `json:"pendingPayments"`
	FailedPayments    int64 `json:"failedPayments"`
	PendingOperations int64 `json:"pendingOperations"`
	FailedOperations  int64 `json:"failedOperations"`
}

// QueueCounts reports pending and failed record counts per category.
func (s *Store) QueueCounts(ctx context.Context) (*Counts, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var counts Counts
	type target struct {
		model  any
		status string
		dest   *int64
	}
	targets := []target{
		{&model.OfflineOrder{}, model.StatusPending, &counts.PendingOrders},
		{&model.OfflineOrder{}, model.StatusFailed, &counts.FailedOrders},
		{&model.OfflinePayment{}, model.StatusPending, &counts.PendingPayments},
		{&model.OfflinePayment{}, model.StatusFailed, &counts.FailedPayments},
		{&model.QueuedOperation{}, model.StatusPending, &counts.PendingOperations},
		{&model.QueuedOperation{}, model.StatusFailed, &counts.FailedOperations},
	}
	for _, t := range targets {
		if err := db.Model(t.model).Where("status = ?", t.status).Count(t.dest).Error; err != nil {
			return nil, fmt.Errorf("count records: %w", err)
		}
	}
	return &counts, nil
}
