package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mystartupai/creditledger/internal/models"
	"gorm.io/gorm"
)

type dbConfigSnapshot struct {
	updatedAt time.Time
	values    map[string]json.RawMessage
}

var (
	snapshotMu sync.RWMutex
	snapshot   dbConfigSnapshot
)

// StoreDBConfig replaces the in-memory settings snapshot.
func StoreDBConfig(updatedAt time.Time, values map[string]json.RawMessage) {
	copied := make(map[string]json.RawMessage, len(values))
	for key, value := range values {
		copied[key] = append(json.RawMessage(nil), value...)
	}
	snapshotMu.Lock()
	snapshot = dbConfigSnapshot{updatedAt: updatedAt.UTC(), values: copied}
	snapshotMu.Unlock()
}

// DBConfigValue returns the raw JSON value stored for key.
func DBConfigValue(key string) (json.RawMessage, bool) {
	snapshotMu.RLock()
	defer snapshotMu.RUnlock()
	if snapshot.values == nil {
		return nil, false
	}
	value, ok := snapshot.values[key]
	return value, ok
}

// DBConfigUpdatedAt returns the newest settings row timestamp in the snapshot.
func DBConfigUpdatedAt() time.Time {
	snapshotMu.RLock()
	defer snapshotMu.RUnlock()
	return snapshot.updatedAt
}

// Refresh rebuilds the in-memory settings snapshot from the settings table.
func Refresh(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("settings: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var rows []models.Setting
	if errFind := db.WithContext(ctx).
		Select("key", "value", "updated_at").
		Order("key ASC").
		Find(&rows).Error; errFind != nil {
		return fmt.Errorf("settings: load: %w", errFind)
	}

	values := make(map[string]json.RawMessage, len(rows))
	maxUpdatedAt := time.Time{}
	for _, row := range rows {
		key := strings.TrimSpace(row.Key)
		if key == "" {
			continue
		}
		values[key] = json.RawMessage(row.Value)
		if rowUpdatedAt := row.UpdatedAt.UTC(); rowUpdatedAt.After(maxUpdatedAt) {
			maxUpdatedAt = rowUpdatedAt
		}
	}

	StoreDBConfig(maxUpdatedAt, values)
	return nil
}
