package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"tablio.com/tablio/pos/model"
)

// SavePayment persists a new offline payment. An empty LocalID is assigned
// a fresh local id; status defaults to pending.
func (s *Store) SavePayment(ctx context.Context, payment *model.OfflinePayment) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	if payment.LocalID == "" {
		payment.LocalID = NewLocalID()
	}
	if payment.Status == "" {
		payment.Status = model.StatusPending
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = s.now()
	}

	if err := db.Create(payment).Error; err != nil {
		return fmt.Errorf("save payment %s: %w", payment.LocalID, err)
	}
	return nil
}

// Payment loads one offline payment by its local id.
func (s *Store) Payment(ctx context.Context, localID string) (*model.OfflinePayment, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var payment model.OfflinePayment
	if err := db.First(&payment, "local_id = ?", localID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("payment %s: %w", localID, ErrNotFound)
		}
		return nil, fmt.Errorf("load payment %s: %w", localID, err)
	}
	return &payment, nil
}

// UpdatePaymentStatus transitions a payment; syncing stamps SyncedAt.
func (s *Store) UpdatePaymentStatus(ctx context.Context, localID, status string) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	updates := map[string]any{"status": status}
	if status == model.StatusSynced {
		updates["synced_at"] = s.now()
	}
	res := db.Model(&model.OfflinePayment{}).Where("local_id = ?", localID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update payment %s: %w", localID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("payment %s: %w", localID, ErrNotFound)
	}
	return nil
}

// PendingPayments returns all payments awaiting sync, oldest first.
func (s *Store) PendingPayments(ctx context.Context) ([]model.OfflinePayment, error) {
	return s.paymentsByStatus(ctx, model.StatusPending)
}

// FailedPayments returns payments that exhausted their retries.
func (s *Store) FailedPayments(ctx context.Context) ([]model.OfflinePayment, error) {
	return s.paymentsByStatus(ctx, model.StatusFailed)
}

func (s *Store) paymentsByStatus(ctx context.Context, status string) ([]model.OfflinePayment, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var payments []model.OfflinePayment
	if err := db.Where("status = ?", status).Order("created_at, local_id").Find(&payments).Error; err != nil {
		return nil, fmt.Errorf("list %s payments: %w", status, err)
	}
	return payments, nil
}

// IncrementPaymentRetry counts a failed sync attempt against a payment,
// failing it at the threshold. Same policy as orders.
func (s *Store) IncrementPaymentRetry(ctx context.Context, localID, cause string) (failed bool, err error) {
	db, err := s.conn(ctx)
	if err != nil {
		return false, err
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		var payment model.OfflinePayment
		if err := tx.First(&payment, "local_id = ?", localID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("payment %s: %w", localID, ErrNotFound)
			}
			return err
		}

		updates := map[string]any{
			"retry_count": payment.RetryCount + 1,
			"error":       cause,
		}
		if payment.RetryCount+1 >= s.retryThreshold {
			updates["status"] = model.StatusFailed
			failed = true
		}
		return tx.Model(&model.OfflinePayment{}).Where("local_id = ?", localID).Updates(updates).Error
	})
	return failed, err
}

// MarkPaymentFailed fails a payment immediately, bypassing the retry budget.
func (s *Store) MarkPaymentFailed(ctx context.Context, localID, cause string) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return db.Model(&model.OfflinePayment{}).Where("local_id = ?", localID).
		Updates(map[string]any{"status": model.StatusFailed, "error": cause}).Error
}
