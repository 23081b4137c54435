package progressmodule

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/juniorrony/torrenstream-sub000/internal/database"
)

// fakeRemote is an in-memory remote progress store with fault injection.
type fakeRemote struct {
	mu       sync.Mutex
	records  map[string]database.WatchProgressRecord
	upserts  int
	deletes  int
	failNext bool
	down     bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{records: make(map[string]database.WatchProgressRecord)}
}

func (f *fakeRemote) key(userID, mediaID string) string { return userID + "/" + mediaID }

func (f *fakeRemote) Get(ctx context.Context, userID, mediaID string) (*database.WatchProgressRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[f.key(userID, mediaID)]
	if !ok {
		return nil, ErrNotFound
	}
	return &record, nil
}

func (f *fakeRemote) Upsert(ctx context.Context, record *database.WatchProgressRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down || f.failNext {
		f.failNext = false
		return fmt.Errorf("remote store unavailable")
	}
	f.upserts++
	// Last-write-wins by timestamp: stale replays never regress state.
	key := f.key(record.UserID, record.MediaID)
	if existing, ok := f.records[key]; ok && existing.UpdatedAtMs > record.UpdatedAtMs {
		return nil
	}
	f.records[key] = *record
	return nil
}

func (f *fakeRemote) Delete(ctx context.Context, userID, mediaID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return fmt.Errorf("remote store unavailable")
	}
	f.deletes++
	delete(f.records, f.key(userID, mediaID))
	return nil
}

func (f *fakeRemote) ListContinueWatching(ctx context.Context, userID string, limit int) ([]database.WatchProgressRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, fmt.Errorf("remote store unavailable")
	}
	var out []database.WatchProgressRecord
	for _, record := range f.records {
		if record.UserID == userID {
			out = append(out, record)
		}
	}
	return out, nil
}

func (f *fakeRemote) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return fmt.Errorf("remote store unavailable")
	}
	return nil
}

func (f *fakeRemote) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts
}

func (f *fakeRemote) stored(userID, mediaID string) (database.WatchProgressRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[f.key(userID, mediaID)]
	return record, ok
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&database.WatchProgressRecord{}, &database.SyncQueueEntry{}))
	return db
}

func newTestEngine(t *testing.T, remote RemoteProgressStore) (*Engine, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	engine := NewEngine(db, remote, nil, DefaultEngineConfig(), hclog.NewNullLogger())
	return engine, db
}

func TestWriteWindowPolicy(t *testing.T) {
	tests := []struct {
		name     string
		write    ProgressWrite
		accepted bool
	}{
		{"no duration", ProgressWrite{MediaID: "m", CurrentTimeSec: 10, DurationSec: 0}, false},
		{"too early", ProgressWrite{MediaID: "m", CurrentTimeSec: 5, DurationSec: 300}, false},
		{"at lower bound", ProgressWrite{MediaID: "m", CurrentTimeSec: 15, DurationSec: 300}, true},
		{"mid playback", ProgressWrite{MediaID: "m", CurrentTimeSec: 150, DurationSec: 300}, true},
		{"just below upper bound", ProgressWrite{MediaID: "m", CurrentTimeSec: 284, DurationSec: 300}, true},
		{"at upper bound", ProgressWrite{MediaID: "m", CurrentTimeSec: 285, DurationSec: 300}, false},
		{"near end", ProgressWrite{MediaID: "m", CurrentTimeSec: 297, DurationSec: 300}, false},
		{"completed overrides window", ProgressWrite{MediaID: "m", CurrentTimeSec: 300, DurationSec: 300, Completed: true}, true},
		{"completed early", ProgressWrite{MediaID: "m", CurrentTimeSec: 2, DurationSec: 300, Completed: true}, true},
		{"completed without duration", ProgressWrite{MediaID: "m", CurrentTimeSec: 2, DurationSec: 0, Completed: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, db := newTestEngine(t, newFakeRemote())
			accepted := engine.SaveProgress(context.Background(), tt.write)
			assert.Equal(t, tt.accepted, accepted)

			var count int64
			require.NoError(t, db.Model(&database.WatchProgressRecord{}).Count(&count).Error)
			if tt.accepted {
				assert.Equal(t, int64(1), count)
			} else {
				assert.Equal(t, int64(0), count, "dropped writes must not touch the cache")
			}
		})
	}
}

func TestQueueCoalescesOfflineWrites(t *testing.T) {
	remote := newFakeRemote()
	remote.down = true
	engine, _ := newTestEngine(t, remote)
	ctx := context.Background()

	// Three auto-save ticks with no connectivity.
	for _, position := range []float64{30, 60, 90} {
		accepted := engine.SaveProgress(ctx, ProgressWrite{
			MediaID: "z", CurrentTimeSec: position, DurationSec: 600, FileName: "z.mkv",
		})
		require.True(t, accepted)
	}

	// The cache reflects the latest tick; the queue holds exactly one
	// pending entry, not three.
	record, err := engine.cache.Get("default", "z")
	require.NoError(t, err)
	assert.Equal(t, float64(90), record.CurrentTimeSec)
	assert.Equal(t, int64(1), engine.QueueDepth())

	// On reconnect exactly one remote upsert occurs.
	remote.mu.Lock()
	remote.down = false
	remote.mu.Unlock()
	engine.SetReachable(true)

	require.Eventually(t, func() bool {
		return engine.QueueDepth() == 0
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, remote.upsertCount())
	stored, ok := remote.stored("default", "z")
	require.True(t, ok)
	assert.Equal(t, float64(90), stored.CurrentTimeSec)
}

func TestDrainIsIdempotent(t *testing.T) {
	remote := newFakeRemote()
	engine, _ := newTestEngine(t, remote)
	ctx := context.Background()

	engine.SaveProgress(ctx, ProgressWrite{MediaID: "m", CurrentTimeSec: 100, DurationSec: 300})
	engine.Flush(ctx)
	before, ok := remote.stored("default", "m")
	require.True(t, ok)

	// Replaying the same record converges to the same remote state.
	engine.SaveProgress(ctx, ProgressWrite{MediaID: "m", CurrentTimeSec: 100, DurationSec: 300})
	engine.Flush(ctx)
	engine.Flush(ctx)

	after, ok := remote.stored("default", "m")
	require.True(t, ok)
	assert.Equal(t, before.CurrentTimeSec, after.CurrentTimeSec)
	assert.Equal(t, int64(0), engine.QueueDepth())
}

func TestFailedDrainStaysQueued(t *testing.T) {
	remote := newFakeRemote()
	engine, _ := newTestEngine(t, remote)
	ctx := context.Background()

	engine.SaveProgress(ctx, ProgressWrite{MediaID: "m", CurrentTimeSec: 100, DurationSec: 300})

	remote.mu.Lock()
	remote.failNext = true
	remote.mu.Unlock()
	engine.Flush(ctx)

	entry, err := engine.queue.Get("default", "m")
	require.NoError(t, err)
	assert.Equal(t, database.SyncStateFailed, entry.SyncState)
	assert.Equal(t, 1, entry.Attempts)

	// The next trigger retries and succeeds.
	engine.Flush(ctx)
	assert.Equal(t, int64(0), engine.QueueDepth())

	record, err := engine.cache.Get("default", "m")
	require.NoError(t, err)
	assert.Equal(t, database.SyncStateSynced, record.SyncState)
}

// blockingRemote gates upserts on a release channel so a drain can be held
// in flight while the test mutates the queue underneath it.
type blockingRemote struct {
	*fakeRemote
	entered chan struct{}
	release chan struct{}
}

func newBlockingRemote() *blockingRemote {
	return &blockingRemote{
		fakeRemote: newFakeRemote(),
		entered:    make(chan struct{}, 4),
		release:    make(chan struct{}),
	}
}

func (b *blockingRemote) Upsert(ctx context.Context, record *database.WatchProgressRecord) error {
	b.entered <- struct{}{}
	<-b.release
	return b.fakeRemote.Upsert(ctx, record)
}

func TestWriteDuringDrainStaysQueued(t *testing.T) {
	remote := newBlockingRemote()
	engine, _ := newTestEngine(t, remote)
	ctx := context.Background()

	base := time.Unix(1_000, 0)
	engine.clock = func() time.Time { return base }
	engine.SaveProgress(ctx, ProgressWrite{MediaID: "m", CurrentTimeSec: 60, DurationSec: 600})

	// Hold the drain of the 60s snapshot in flight.
	done := make(chan struct{})
	go func() {
		engine.Flush(ctx)
		close(done)
	}()
	<-remote.entered

	// An auto-save tick coalesces a newer position into the queue while the
	// stale snapshot is still being delivered.
	engine.clock = func() time.Time { return base.Add(30 * time.Second) }
	engine.SaveProgress(ctx, ProgressWrite{MediaID: "m", CurrentTimeSec: 200, DurationSec: 600})

	close(remote.release)
	<-done

	// The superseding write survives the stale drain's cleanup: it is still
	// queued and its cached record is still pending.
	entry, err := engine.queue.Get("default", "m")
	require.NoError(t, err)
	assert.Equal(t, float64(200), entry.CurrentTimeSec)

	record, err := engine.cache.Get("default", "m")
	require.NoError(t, err)
	assert.Equal(t, database.SyncStatePending, record.SyncState)

	// The next drain converges the remote to the latest accepted write.
	engine.Flush(ctx)
	stored, ok := remote.stored("default", "m")
	require.True(t, ok)
	assert.Equal(t, float64(200), stored.CurrentTimeSec)
	assert.Equal(t, int64(0), engine.QueueDepth())

	record, err = engine.cache.Get("default", "m")
	require.NoError(t, err)
	assert.Equal(t, database.SyncStateSynced, record.SyncState)
}

func TestResumeDecisionThresholds(t *testing.T) {
	tests := []struct {
		name         string
		position     float64
		duration     float64
		completed    bool
		shouldPrompt bool
	}{
		{"forty percent", 120, 300, false, true},
		{"just below prompt bound", 269, 300, false, true},
		{"at prompt bound", 270, 300, false, false},
		{"ninety-seven percent", 291, 300, false, false},
		{"too early", 5, 300, false, false},
		{"completed", 150, 300, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, db := newTestEngine(t, newFakeRemote())
			require.NoError(t, db.Create(&database.WatchProgressRecord{
				MediaID: "m", UserID: "default",
				CurrentTimeSec: tt.position, DurationSec: tt.duration,
				Completed: tt.completed, UpdatedAtMs: time.Now().UnixMilli(),
			}).Error)

			decision := engine.ResumeDecisionFor(context.Background(), "m")
			assert.Equal(t, tt.shouldPrompt, decision.ShouldPrompt)
			require.NotNil(t, decision.SavedProgress)
			assert.Equal(t, tt.position, decision.SavedProgress.CurrentTimeSec)
		})
	}
}

func TestResumeDecisionWithoutRecord(t *testing.T) {
	engine, _ := newTestEngine(t, newFakeRemote())
	decision := engine.ResumeDecisionFor(context.Background(), "missing")
	assert.False(t, decision.ShouldPrompt)
	assert.Nil(t, decision.SavedProgress)
}

func TestResumeDecisionBackfillsFromRemote(t *testing.T) {
	remote := newFakeRemote()
	remote.records["default/m"] = database.WatchProgressRecord{
		MediaID: "m", UserID: "default",
		CurrentTimeSec: 120, DurationSec: 300,
		UpdatedAtMs: time.Now().UnixMilli(),
	}
	engine, _ := newTestEngine(t, remote)
	engine.SetReachable(true)

	decision := engine.ResumeDecisionFor(context.Background(), "m")
	assert.True(t, decision.ShouldPrompt)
	require.NotNil(t, decision.SavedProgress)

	// The remote record landed in the local cache for the next lookup.
	record, err := engine.cache.Get("default", "m")
	require.NoError(t, err)
	assert.Equal(t, float64(120), record.CurrentTimeSec)
	assert.Equal(t, database.SyncStateSynced, record.SyncState)
}

func TestContinueWatchingProjection(t *testing.T) {
	engine, db := newTestEngine(t, newFakeRemote())
	now := time.Now().UnixMilli()

	seed := []database.WatchProgressRecord{
		{MediaID: "recent", UserID: "default", CurrentTimeSec: 120, DurationSec: 300, UpdatedAtMs: now},
		{MediaID: "older", UserID: "default", CurrentTimeSec: 60, DurationSec: 300, UpdatedAtMs: now - 1000},
		{MediaID: "done", UserID: "default", CurrentTimeSec: 150, DurationSec: 300, Completed: true, UpdatedAtMs: now},
		{MediaID: "barely-started", UserID: "default", CurrentTimeSec: 3, DurationSec: 300, UpdatedAtMs: now},
		{MediaID: "almost-done", UserID: "default", CurrentTimeSec: 291, DurationSec: 300, UpdatedAtMs: now},
	}
	for i := range seed {
		require.NoError(t, db.Create(&seed[i]).Error)
	}

	records := engine.ContinueWatching(context.Background(), 10)
	require.Len(t, records, 2)
	assert.Equal(t, "recent", records[0].MediaID)
	assert.Equal(t, "older", records[1].MediaID)

	records = engine.ContinueWatching(context.Background(), 1)
	require.Len(t, records, 1)
	assert.Equal(t, "recent", records[0].MediaID)
}

func TestMarkCompletedUsesStoredDuration(t *testing.T) {
	engine, _ := newTestEngine(t, newFakeRemote())
	ctx := context.Background()

	engine.SaveProgress(ctx, ProgressWrite{MediaID: "m", CurrentTimeSec: 120, DurationSec: 300, FileName: "m.mkv"})
	engine.MarkCompleted(ctx, "m")

	record, err := engine.cache.Get("default", "m")
	require.NoError(t, err)
	assert.True(t, record.Completed)
	assert.Equal(t, float64(300), record.CurrentTimeSec)
	assert.Equal(t, "m.mkv", record.FileName)
}

func TestDeleteQueuesRemoteDelete(t *testing.T) {
	remote := newFakeRemote()
	engine, _ := newTestEngine(t, remote)
	ctx := context.Background()

	engine.SaveProgress(ctx, ProgressWrite{MediaID: "m", CurrentTimeSec: 120, DurationSec: 300})
	engine.Flush(ctx)
	_, ok := remote.stored("default", "m")
	require.True(t, ok)

	engine.Delete(ctx, "m")
	_, err := engine.cache.Get("default", "m")
	assert.ErrorIs(t, err, ErrNotFound)

	engine.Flush(ctx)
	_, ok = remote.stored("default", "m")
	assert.False(t, ok)
	assert.Equal(t, int64(0), engine.QueueDepth())
}

func TestReachableTransitionTriggersDrain(t *testing.T) {
	remote := newFakeRemote()
	remote.down = true
	engine, _ := newTestEngine(t, remote)
	ctx := context.Background()

	engine.SaveProgress(ctx, ProgressWrite{MediaID: "m", CurrentTimeSec: 120, DurationSec: 300})
	require.Equal(t, int64(1), engine.QueueDepth())

	remote.mu.Lock()
	remote.down = false
	remote.mu.Unlock()

	// The unreachable-to-reachable transition drains the backlog.
	engine.SetReachable(true)
	require.Eventually(t, func() bool {
		return engine.QueueDepth() == 0
	}, time.Second, 10*time.Millisecond)

	// A new write while reachable drains that one record immediately.
	engine.SaveProgress(ctx, ProgressWrite{MediaID: "m2", CurrentTimeSec: 120, DurationSec: 300})
	require.Eventually(t, func() bool {
		return engine.QueueDepth() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestQueueOrderPreserved(t *testing.T) {
	remote := newFakeRemote()
	remote.down = true
	engine, _ := newTestEngine(t, remote)
	ctx := context.Background()

	engine.clock = func() time.Time { return time.Unix(0, 1_000_000) }
	engine.SaveProgress(ctx, ProgressWrite{MediaID: "a", CurrentTimeSec: 60, DurationSec: 300})
	engine.clock = func() time.Time { return time.Unix(0, 2_000_000) }
	engine.SaveProgress(ctx, ProgressWrite{MediaID: "b", CurrentTimeSec: 60, DurationSec: 300})

	entries, err := engine.queue.Pending("default")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].MediaID)
	assert.Equal(t, "b", entries[1].MediaID)
}
