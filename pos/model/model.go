package model

import (
	"encoding/json"
	"time"
)

// Record status values shared by orders, payments and queued operations.
const (
	StatusPending   = "pending"
	StatusSynced    = "synced"
	StatusFailed    = "failed"
	StatusCompleted = "completed"
)

// Kinds of queued operations.
const (
	KindOrder         = "order"
	KindPayment       = "payment"
	KindOrderUpdate   = "order_update"
	KindPaymentUpdate = "payment_update"
)

// Cache resource slots.
const (
	ResourceMenu     = "menu"
	ResourceTables   = "tables"
	ResourceSettings = "settings"
)

// OfflineOrder is a locally-created order awaiting server confirmation.
// ServerID is assigned exactly once, when the order syncs, and never changes.
type OfflineOrder struct {
	LocalID    string          `gorm:"primaryKey;column:local_id" json:"localId"`
	ServerID   *string         `gorm:"column:server_id;uniqueIndex" json:"serverId,omitempty"`
	Payload    json.RawMessage `gorm:"column:payload;type:text;not null" json:"payload"`
	Status     string          `gorm:"column:status;index;not null" json:"status"`
	RetryCount int             `gorm:"column:retry_count;not null" json:"retryCount"`
	Error      *string         `gorm:"column:error" json:"error,omitempty"`

	CreatedAt time.Time  `gorm:"column:created_at;index;not null" json:"createdAt"`
	SyncedAt  *time.Time `gorm:"column:synced_at" json:"syncedAt,omitempty"`
}

func (OfflineOrder) TableName() string {
	return "pos_orders"
}

// OfflinePayment is a locally-taken payment awaiting server confirmation.
// OrderID may reference either a server order id or the local id of an
// OfflineOrder that has not synced yet.
type OfflinePayment struct {
	LocalID    string          `gorm:"primaryKey;column:local_id" json:"localId"`
	OrderID    string          `gorm:"column:order_id;index;not null" json:"orderId"`
	Payload    json.RawMessage `gorm:"column:payload;type:text;not null" json:"payload"`
	Status     string          `gorm:"column:status;index;not null" json:"status"`
	RetryCount int             `gorm:"column:retry_count;not null" json:"retryCount"`
	Error      *string         `gorm:"column:error" json:"error,omitempty"`

	CreatedAt time.Time  `gorm:"column:created_at;index;not null" json:"createdAt"`
	SyncedAt  *time.Time `gorm:"column:synced_at" json:"syncedAt,omitempty"`
}

func (OfflinePayment) TableName() string {
	return "pos_payments"
}

// QueuedOperation is a generic mutation that could not be confirmed by the
// server. The payload is replayed verbatim against method+endpoint.
type QueuedOperation struct {
	ID         uint            `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	Kind       string          `gorm:"column:kind;not null" json:"kind"`
	Payload    json.RawMessage `gorm:"column:payload;type:text;not null" json:"payload"`
	Endpoint   string          `gorm:"column:endpoint;not null" json:"endpoint"`
	Method     string          `gorm:"column:method;not null" json:"method"`
	Status     string          `gorm:"column:status;index;not null" json:"status"`
	RetryCount int             `gorm:"column:retry_count;not null" json:"retryCount"`
	Error      *string         `gorm:"column:error" json:"error,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;index;not null" json:"createdAt"`
}

func (QueuedOperation) TableName() string {
	return "pos_sync_queue"
}

// CacheEntry holds the last known server response for one resource slot.
// Each write replaces the previous value entirely.
type CacheEntry struct {
	Resource  string          `gorm:"primaryKey;column:resource" json:"resource"`
	Payload   json.RawMessage `gorm:"column:payload;type:text;not null" json:"payload"`
	UpdatedAt time.Time       `gorm:"column:updated_at;not null" json:"updatedAt"`
}

func (CacheEntry) TableName() string {
	return "pos_cache"
}
