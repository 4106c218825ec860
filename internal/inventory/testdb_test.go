package inventory

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/pallet-works/stockroom-backend/pkg/db/models"
	"github.com/pallet-works/stockroom-backend/pkg/lock"
	"github.com/pallet-works/stockroom-backend/pkg/logger"
	"github.com/pallet-works/stockroom-backend/pkg/redis"
)

const testSchema = `
CREATE TABLE IF NOT EXISTS locations (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  code TEXT NOT NULL,
  name TEXT NOT NULL,
  type TEXT NOT NULL DEFAULT 'warehouse',
  is_default INTEGER NOT NULL DEFAULT 0,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (tenant_id, code)
);
CREATE TABLE IF NOT EXISTS products (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  sku TEXT NOT NULL,
  name TEXT NOT NULL,
  default_reorder_point INTEGER NOT NULL DEFAULT 0,
  default_reorder_qty INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (tenant_id, sku)
);
CREATE TABLE IF NOT EXISTS inventory_items (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  variant_id TEXT,
  location_id TEXT NOT NULL,
  available_qty INTEGER NOT NULL DEFAULT 0,
  reserved_qty INTEGER NOT NULL DEFAULT 0,
  reorder_point INTEGER NOT NULL DEFAULT 0,
  reorder_qty INTEGER NOT NULL DEFAULT 0,
  unit_cost TEXT NOT NULL DEFAULT '0',
  version INTEGER NOT NULL DEFAULT 0,
  last_movement_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS stock_reservations (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  inventory_item_id TEXT NOT NULL,
  order_id TEXT NOT NULL,
  qty INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  expires_at DATETIME NOT NULL,
  confirmed_at DATETIME,
  released_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS stock_movements (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  inventory_item_id TEXT NOT NULL,
  type TEXT NOT NULL,
  qty INTEGER NOT NULL,
  qty_before INTEGER NOT NULL,
  qty_after INTEGER NOT NULL,
  reference_type TEXT,
  reference_id TEXT,
  notes TEXT,
  actor TEXT NOT NULL DEFAULT 'system',
  created_at DATETIME
);`

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:inventory_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	for _, stmt := range strings.Split(testSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

func seedItem(t *testing.T, db *gorm.DB, available, reserved int) *models.InventoryItem {
	t.Helper()

	item := &models.InventoryItem{
		ID:           uuid.New(),
		TenantID:     uuid.New(),
		ProductID:    uuid.New(),
		LocationID:   uuid.New(),
		AvailableQty: available,
		ReservedQty:  reserved,
	}
	if err := db.Create(item).Error; err != nil {
		t.Fatalf("seed item: %v", err)
	}
	return item
}

// gormTx adapts a raw test connection to the transaction-runner surface the
// service consumes in production.
type gormTx struct {
	db *gorm.DB
}

func (g gormTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return g.db.WithContext(ctx).Transaction(fn)
}

// memStore is an in-process coordination store for exercising real leases
// without a running key-value server.
type memStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemStore() *memStore {
	return &memStore{values: map[string]string{}}
}

func (s *memStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.values[key]; held {
		return false, nil
	}
	s.values[key] = fmt.Sprint(value)
	return true, nil
}

func (s *memStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (s *memStore) CompareAndDelete(_ context.Context, key, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values[key] != token {
		return false, nil
	}
	delete(s.values, key)
	return true, nil
}

func (s *memStore) CompareAndSet(_ context.Context, key, token string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key] == token, nil
}

func (s *memStore) LockKey(parts ...string) string {
	return "test:lock:" + strings.Join(parts, ":")
}

func (s *memStore) held(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[key]
	return ok
}

func newTestService(t *testing.T, db *gorm.DB) (Service, *memStore) {
	t.Helper()

	store := newMemStore()
	logg := logger.New(logger.Options{ServiceName: "inventory-test", Output: io.Discard})
	locker, err := lock.NewLocker(store, logg, nil, lock.Options{
		TTL:         time.Second,
		MaxRetries:  2,
		BackoffBase: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("build locker: %v", err)
	}

	svc, err := NewService(Params{
		Tx:     gormTx{db: db},
		Repo:   NewRepository(db),
		Locker: locker,
		Logger: logg,
	})
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	return svc, store
}
