package progressmodule

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/juniorrony/torrenstream-sub000/internal/database"
)

// LocalCache is the durable on-device store holding the latest known
// playback position per media item. It is the write-ahead layer for all
// progress writes: the cache upsert always precedes the sync queue enqueue.
type LocalCache struct {
	db     *gorm.DB
	logger hclog.Logger
}

// NewLocalCache creates a new local progress cache
func NewLocalCache(db *gorm.DB, logger hclog.Logger) *LocalCache {
	return &LocalCache{
		db:     db,
		logger: logger.Named("progress-cache"),
	}
}

// Upsert writes the record, replacing any prior row for the same
// (user, media) pair.
func (c *LocalCache) Upsert(record *database.WatchProgressRecord) error {
	err := c.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "media_id"}, {Name: "user_id"}},
		UpdateAll: true,
	}).Create(record).Error
	if err != nil {
		return fmt.Errorf("failed to upsert progress record: %w", err)
	}
	return nil
}

// Get returns the record for a media item, or ErrNotFound.
func (c *LocalCache) Get(userID, mediaID string) (*database.WatchProgressRecord, error) {
	var record database.WatchProgressRecord
	err := c.db.Where("user_id = ? AND media_id = ?", userID, mediaID).First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read progress record: %w", err)
	}
	return &record, nil
}

// Delete removes the record for a media item. Missing rows are not an error.
func (c *LocalCache) Delete(userID, mediaID string) error {
	err := c.db.Where("user_id = ? AND media_id = ?", userID, mediaID).
		Delete(&database.WatchProgressRecord{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete progress record: %w", err)
	}
	return nil
}

// MarkSynced stamps the cached record synced. The update is guarded by the
// delivered write's timestamp so a record superseded by a newer pending
// write keeps its pending state.
func (c *LocalCache) MarkSynced(userID, mediaID string, upToMs int64) error {
	err := c.db.Model(&database.WatchProgressRecord{}).
		Where("user_id = ? AND media_id = ? AND updated_at_ms <= ?", userID, mediaID, upToMs).
		Update("sync_state", database.SyncStateSynced).Error
	if err != nil {
		return fmt.Errorf("failed to update sync state: %w", err)
	}
	return nil
}

// ContinueWatching returns the non-completed records whose watched fraction
// lies in [low, high), most recently updated first, truncated to limit.
func (c *LocalCache) ContinueWatching(userID string, low, high float64, limit int) ([]database.WatchProgressRecord, error) {
	var records []database.WatchProgressRecord
	query := c.db.Where("user_id = ? AND completed = ? AND duration_sec > 0", userID, false).
		Where("current_time_sec / duration_sec >= ? AND current_time_sec / duration_sec < ?", low, high).
		Order("updated_at_ms DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list continue-watching records: %w", err)
	}
	return records, nil
}
