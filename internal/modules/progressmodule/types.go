package progressmodule

import (
	"context"
	"errors"

	"github.com/juniorrony/torrenstream-sub000/internal/database"
)

// ErrNotFound is returned by progress stores when no record exists for a
// media item.
var ErrNotFound = errors.New("progress record not found")

// ProgressWrite is a request to persist the current playback position.
type ProgressWrite struct {
	MediaID        string  `json:"media_id"`
	CurrentTimeSec float64 `json:"current_time_sec"`
	DurationSec    float64 `json:"duration_sec"`
	FileName       string  `json:"file_name"`
	Completed      bool    `json:"completed"`
}

// ResumeDecision tells the presentation layer whether to offer a
// resume/restart prompt before playback starts. Derived, never stored.
type ResumeDecision struct {
	ShouldPrompt  bool                          `json:"should_prompt"`
	SavedProgress *database.WatchProgressRecord `json:"saved_progress,omitempty"`
}

// RemoteProgressStore is the remote progress storage API consumed by the
// sync engine. Implementations must be idempotent: upserting the same
// record any number of times converges to the same remote state
// (last-write-wins by UpdatedAtMs).
type RemoteProgressStore interface {
	Get(ctx context.Context, userID, mediaID string) (*database.WatchProgressRecord, error)
	Upsert(ctx context.Context, record *database.WatchProgressRecord) error
	Delete(ctx context.Context, userID, mediaID string) error
	ListContinueWatching(ctx context.Context, userID string, limit int) ([]database.WatchProgressRecord, error)

	// Ping reports whether the remote store is currently reachable.
	Ping(ctx context.Context) error
}

// EngineConfig holds the sync engine tunables. The write window is wider
// than the prompt window on purpose: near-completion progress still gets
// captured while re-prompting at 92% watched would be unhelpful.
type EngineConfig struct {
	UserID           string
	WriteWindowLow   float64 // default 0.05
	WriteWindowHigh  float64 // default 0.95
	PromptWindowHigh float64 // default 0.90
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		UserID:           "default",
		WriteWindowLow:   0.05,
		WriteWindowHigh:  0.95,
		PromptWindowHigh: 0.90,
	}
}
