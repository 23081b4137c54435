package progressmodule

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/juniorrony/torrenstream-sub000/internal/database"
)

// SyncQueue is the durable, ordered, de-duplicated queue of pending writes
// destined for the remote progress store. It holds at most one entry per
// (user, media) pair: a later write for the same media supersedes an
// earlier unsynced one, so drains never replay stale intermediate
// positions. The queue is shared by all playback sessions on the device.
type SyncQueue struct {
	db     *gorm.DB
	logger hclog.Logger
}

// NewSyncQueue creates a new sync queue
func NewSyncQueue(db *gorm.DB, logger hclog.Logger) *SyncQueue {
	return &SyncQueue{
		db:     db,
		logger: logger.Named("sync-queue"),
	}
}

// Enqueue inserts or replaces the entry for its (user, media) pair and
// resets it to pending.
func (q *SyncQueue) Enqueue(entry *database.SyncQueueEntry) error {
	entry.SyncState = database.SyncStatePending
	entry.Attempts = 0
	entry.LastError = ""
	err := q.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "media_id"}, {Name: "user_id"}},
		UpdateAll: true,
	}).Create(entry).Error
	if err != nil {
		return fmt.Errorf("failed to enqueue sync entry: %w", err)
	}
	return nil
}

// Get returns the queued entry for a media item, or ErrNotFound.
func (q *SyncQueue) Get(userID, mediaID string) (*database.SyncQueueEntry, error) {
	var entry database.SyncQueueEntry
	err := q.db.Where("user_id = ? AND media_id = ?", userID, mediaID).First(&entry).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read sync entry: %w", err)
	}
	return &entry, nil
}

// Pending returns all queued entries (pending and failed) in enqueue order.
func (q *SyncQueue) Pending(userID string) ([]database.SyncQueueEntry, error) {
	var entries []database.SyncQueueEntry
	err := q.db.Where("user_id = ?", userID).
		Order("enqueued_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sync entries: %w", err)
	}
	return entries, nil
}

// Remove deletes the entry for a media item after a successful drain. The
// delete is guarded by the delivered write's timestamp: an entry that
// coalesced a newer write while the drain was in flight stays queued.
func (q *SyncQueue) Remove(userID, mediaID string, upToMs int64) error {
	err := q.db.Where("user_id = ? AND media_id = ? AND updated_at_ms <= ?", userID, mediaID, upToMs).
		Delete(&database.SyncQueueEntry{}).Error
	if err != nil {
		return fmt.Errorf("failed to remove sync entry: %w", err)
	}
	return nil
}

// MarkFailed records a drain failure and leaves the entry queued for the
// next drain trigger.
func (q *SyncQueue) MarkFailed(userID, mediaID string, cause error) error {
	updates := map[string]interface{}{
		"sync_state": database.SyncStateFailed,
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": cause.Error(),
	}
	err := q.db.Model(&database.SyncQueueEntry{}).
		Where("user_id = ? AND media_id = ?", userID, mediaID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to mark sync entry failed: %w", err)
	}
	return nil
}

// Len returns the number of queued entries for the user.
func (q *SyncQueue) Len(userID string) (int64, error) {
	var count int64
	err := q.db.Model(&database.SyncQueueEntry{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count sync entries: %w", err)
	}
	return count, nil
}
