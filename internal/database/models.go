package database

import "time"

// SyncState tracks a watch-progress record's relationship to the remote
// progress store.
type SyncState string

const (
	SyncStatePending SyncState = "pending"
	SyncStateSynced  SyncState = "synced"
	SyncStateFailed  SyncState = "failed"
)

// QueueOp is the remote operation a queued entry represents.
type QueueOp string

const (
	QueueOpUpsert QueueOp = "upsert"
	QueueOpDelete QueueOp = "delete"
)

// WatchProgressRecord is the durable local cache entry holding the latest
// known playback position for a media item. One row per (user, media) pair,
// upserted on every accepted progress write, never appended.
type WatchProgressRecord struct {
	MediaID        string    `gorm:"primaryKey" json:"media_id"`
	UserID         string    `gorm:"primaryKey" json:"user_id"`
	CurrentTimeSec float64   `json:"current_time_sec"`
	DurationSec    float64   `json:"duration_sec"`
	FileName       string    `json:"file_name"`
	Completed      bool      `json:"completed"`
	UpdatedAtMs    int64     `gorm:"index" json:"updated_at_ms"`
	SyncState      SyncState `json:"sync_state"`
}

// PercentWatched returns the watched fraction in [0,1], or 0 when the
// duration is unknown.
func (r *WatchProgressRecord) PercentWatched() float64 {
	if r.DurationSec <= 0 {
		return 0
	}
	return r.CurrentTimeSec / r.DurationSec
}

// SyncQueueEntry is a pending remote write. The queue coalesces to one row
// per (user, media) pair: a later write replaces an earlier unsynced one,
// so stale intermediate positions are never replayed.
type SyncQueueEntry struct {
	MediaID        string    `gorm:"primaryKey" json:"media_id"`
	UserID         string    `gorm:"primaryKey" json:"user_id"`
	Op             QueueOp   `json:"op"`
	CurrentTimeSec float64   `json:"current_time_sec"`
	DurationSec    float64   `json:"duration_sec"`
	FileName       string    `json:"file_name"`
	Completed      bool      `json:"completed"`
	UpdatedAtMs    int64     `json:"updated_at_ms"`
	SyncState      SyncState `json:"sync_state"` // pending or failed; synced rows are removed
	Attempts       int       `json:"attempts"`
	LastError      string    `json:"last_error,omitempty"`
	EnqueuedAt     time.Time `gorm:"index" json:"enqueued_at"`
}
