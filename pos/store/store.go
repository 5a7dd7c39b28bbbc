package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tablio.com/tablio/pos/model"
)

var (
	// ErrNotFound is returned when a record does not exist, or when a cache
	// slot is empty or past its TTL.
	ErrNotFound = errors.New("record not found")
	// ErrStorageUnavailable wraps failures of the underlying sqlite file.
	ErrStorageUnavailable = errors.New("local storage unavailable")
)

type LogLevel int

const (
	LogLevelSilent LogLevel = iota + 1
	LogLevelError
	LogLevelWarn
	LogLevelInfo
)

const (
	DefaultRetryThreshold = 5
	DefaultQueueMaxAge    = 7 * 24 * time.Hour
	DefaultMenuTTL        = 24 * time.Hour
	DefaultTablesTTL      = time.Hour
	DefaultSettingsTTL    = time.Hour
)

// LocalIDPrefix marks identifiers generated on this device, before the
// server has assigned a real one.
const LocalIDPrefix = "local-"

// NewLocalID generates a device-unique identifier for offline records.
func NewLocalID() string {
	return LocalIDPrefix + uuid.NewString()
}

// IsLocalID reports whether id was generated on a device rather than by
// the server.
func IsLocalID(id string) bool {
	return len(id) > len(LocalIDPrefix) && id[:len(LocalIDPrefix)] == LocalIDPrefix
}

type Options struct {
	LogLevel       LogLevel
	RetryThreshold int
	MenuTTL        time.Duration
	TablesTTL      time.Duration
	SettingsTTL    time.Duration
	Clock          func() time.Time
}

// Store is the durable device-local persistence layer: offline orders,
// offline payments, the generic sync queue and the TTL read caches.
// All records are owned by the store; other components never touch the
// database directly.
type Store struct {
	db *gorm.DB

	retryThreshold int
	ttls           map[string]time.Duration
	now            func() time.Time

	initOnce sync.Once
	initErr  error
}

// Open opens (or creates) the sqlite file at path. Schema setup is deferred
// to the first operation and performed exactly once, so concurrent callers
// can share a single Store safely.
func Open(path string, opts Options) (*Store, error) {
	gormLogLevel := logger.Silent
	switch opts.LogLevel {
	case LogLevelError:
		gormLogLevel = logger.Error
	case LogLevelWarn:
		gormLogLevel = logger.Warn
	case LogLevelInfo:
		gormLogLevel = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %v", path, ErrStorageUnavailable, err)
	}

	if opts.RetryThreshold <= 0 {
		opts.RetryThreshold = DefaultRetryThreshold
	}
	if opts.MenuTTL <= 0 {
		opts.MenuTTL = DefaultMenuTTL
	}
	if opts.TablesTTL <= 0 {
		opts.TablesTTL = DefaultTablesTTL
	}
	if opts.SettingsTTL <= 0 {
		opts.SettingsTTL = DefaultSettingsTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Store{
		db:             db,
		retryThreshold: opts.RetryThreshold,
		ttls: map[string]time.Duration{
			model.ResourceMenu:     opts.MenuTTL,
			model.ResourceTables:   opts.TablesTTL,
			model.ResourceSettings: opts.SettingsTTL,
		},
		now: opts.Clock,
	}, nil
}

// Init migrates the schema. Idempotent; every store operation calls it, so
// explicit calls are only needed to surface migration errors early.
func (s *Store) Init(ctx context.Context) error {
	s.initOnce.Do(func() {
		err := s.db.WithContext(ctx).AutoMigrate(
			&model.OfflineOrder{},
			&model.OfflinePayment{},
			&model.QueuedOperation{},
			&model.CacheEntry{},
		)
		if err != nil {
			s.initErr = fmt.Errorf("migrate schema: %w: %v", ErrStorageUnavailable, err)
		}
	})
	return s.initErr
}

func (s *Store) conn(ctx context.Context) (*gorm.DB, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s.db.WithContext(ctx), nil
}

// Close closes the underlying sqlite handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RetryThreshold is the retry count at which records transition to failed.
func (s *Store) RetryThreshold() int {
	return s.retryThreshold
}
