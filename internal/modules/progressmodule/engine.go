package progressmodule

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/juniorrony/torrenstream-sub000/internal/database"
	"github.com/juniorrony/torrenstream-sub000/internal/events"
)

// Engine makes playback position durable with at-least-once delivery to
// the remote progress store while staying fully responsive when the remote
// store is unreachable. Every write lands in the local cache first, then
// in the sync queue, then drains opportunistically.
type Engine struct {
	logger   hclog.Logger
	cache    *LocalCache
	queue    *SyncQueue
	remote   RemoteProgressStore
	eventBus events.EventBus
	config   EngineConfig

	mu        sync.Mutex
	reachable bool
	draining  bool

	// clock is injectable for tests
	clock func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine creates a new watch-progress sync engine.
func NewEngine(db *gorm.DB, remote RemoteProgressStore, eventBus events.EventBus, config EngineConfig, logger hclog.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		logger:   logger.Named("sync-engine"),
		cache:    NewLocalCache(db, logger),
		queue:    NewSyncQueue(db, logger),
		remote:   remote,
		eventBus: eventBus,
		config:   config,
		clock:    time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the reachability probe loop.
func (e *Engine) Start(probeInterval time.Duration) {
	if probeInterval <= 0 {
		probeInterval = 30 * time.Second
	}
	go e.probeLoop(probeInterval)
}

// Shutdown stops the probe loop and performs one best-effort flush.
func (e *Engine) Shutdown() error {
	e.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e.Flush(ctx)
	return nil
}

// SaveProgress applies the write-window policy and, when accepted, writes
// through the cache into the sync queue. The caller is never blocked on
// remote delivery and never sees remote failures.
func (e *Engine) SaveProgress(ctx context.Context, write ProgressWrite) bool {
	if !e.acceptWrite(write) {
		e.logger.Debug("progress write outside window, dropped",
			"media_id", write.MediaID,
			"position", write.CurrentTimeSec,
			"duration", write.DurationSec)
		return false
	}

	now := e.clock().UnixMilli()
	record := &database.WatchProgressRecord{
		MediaID:        write.MediaID,
		UserID:         e.config.UserID,
		CurrentTimeSec: write.CurrentTimeSec,
		DurationSec:    write.DurationSec,
		FileName:       write.FileName,
		Completed:      write.Completed,
		UpdatedAtMs:    now,
		SyncState:      database.SyncStatePending,
	}

	// Local cache write comes first and must never fail the caller;
	// playback and remote sync continue independently of cache health.
	if err := e.cache.Upsert(record); err != nil {
		e.logger.Error("local progress cache write failed", "media_id", write.MediaID, "error", err)
	}

	entry := &database.SyncQueueEntry{
		MediaID:        write.MediaID,
		UserID:         e.config.UserID,
		Op:             database.QueueOpUpsert,
		CurrentTimeSec: write.CurrentTimeSec,
		DurationSec:    write.DurationSec,
		FileName:       write.FileName,
		Completed:      write.Completed,
		UpdatedAtMs:    now,
		EnqueuedAt:     e.clock(),
	}
	if err := e.queue.Enqueue(entry); err != nil {
		e.logger.Error("sync queue enqueue failed", "media_id", write.MediaID, "error", err)
		return true
	}

	e.publish(events.EventProgressSaved, write.MediaID, "progress saved")

	if e.Reachable() {
		go e.drainOne(e.ctx, write.MediaID)
	}
	return true
}

// acceptWrite implements the write-window policy: a write is accepted only
// if duration is known and either the position lies in the window or the
// write is the terminal completed one, which is always accepted.
func (e *Engine) acceptWrite(write ProgressWrite) bool {
	if write.DurationSec <= 0 {
		return false
	}
	if write.Completed {
		return true
	}
	pct := write.CurrentTimeSec / write.DurationSec
	return pct >= e.config.WriteWindowLow && pct < e.config.WriteWindowHigh
}

// ResumeDecisionFor derives the resume prompt decision for a media item.
// The local cache is consulted first; when it has no record and the remote
// store is reachable, the remote record is fetched and backfilled.
func (e *Engine) ResumeDecisionFor(ctx context.Context, mediaID string) ResumeDecision {
	record, err := e.cache.Get(e.config.UserID, mediaID)
	if err != nil {
		if err != ErrNotFound {
			e.logger.Warn("local progress cache read failed", "media_id", mediaID, "error", err)
		}
		record = e.backfillFromRemote(ctx, mediaID)
	}
	if record == nil {
		return ResumeDecision{}
	}

	pct := record.PercentWatched()
	shouldPrompt := !record.Completed &&
		pct >= e.config.WriteWindowLow &&
		pct < e.config.PromptWindowHigh

	return ResumeDecision{
		ShouldPrompt:  shouldPrompt,
		SavedProgress: record,
	}
}

func (e *Engine) backfillFromRemote(ctx context.Context, mediaID string) *database.WatchProgressRecord {
	if !e.Reachable() {
		return nil
	}
	record, err := e.remote.Get(ctx, e.config.UserID, mediaID)
	if err != nil {
		if err != ErrNotFound {
			e.logger.Debug("remote progress lookup failed", "media_id", mediaID, "error", err)
		}
		return nil
	}
	record.UserID = e.config.UserID
	record.SyncState = database.SyncStateSynced
	if err := e.cache.Upsert(record); err != nil {
		e.logger.Warn("failed to backfill progress cache", "media_id", mediaID, "error", err)
	}
	return record
}

// ContinueWatching returns the continue-watching list. The remote list is
// preferred when reachable; the locally derived projection is the fallback.
func (e *Engine) ContinueWatching(ctx context.Context, limit int) []database.WatchProgressRecord {
	if e.Reachable() {
		records, err := e.remote.ListContinueWatching(ctx, e.config.UserID, limit)
		if err == nil {
			return records
		}
		e.logger.Debug("remote continue-watching list failed, using local projection", "error", err)
	}

	records, err := e.cache.ContinueWatching(e.config.UserID, e.config.WriteWindowLow, e.config.PromptWindowHigh, limit)
	if err != nil {
		e.logger.Warn("local continue-watching projection failed", "error", err)
		return nil
	}
	return records
}

// MarkCompleted records a definitive finished state for a media item and
// queues the corresponding remote write.
func (e *Engine) MarkCompleted(ctx context.Context, mediaID string) {
	record, err := e.cache.Get(e.config.UserID, mediaID)
	if err != nil {
		record = &database.WatchProgressRecord{
			MediaID: mediaID,
			UserID:  e.config.UserID,
		}
	}
	e.SaveProgress(ctx, ProgressWrite{
		MediaID:        mediaID,
		CurrentTimeSec: record.DurationSec,
		DurationSec:    record.DurationSec,
		FileName:       record.FileName,
		Completed:      true,
	})
}

// Delete removes a media item's progress locally and queues the remote
// delete through the same durable, retried, idempotent discipline as
// writes.
func (e *Engine) Delete(ctx context.Context, mediaID string) {
	if err := e.cache.Delete(e.config.UserID, mediaID); err != nil {
		e.logger.Error("local progress delete failed", "media_id", mediaID, "error", err)
	}

	entry := &database.SyncQueueEntry{
		MediaID:     mediaID,
		UserID:      e.config.UserID,
		Op:          database.QueueOpDelete,
		UpdatedAtMs: e.clock().UnixMilli(),
		EnqueuedAt:  e.clock(),
	}
	if err := e.queue.Enqueue(entry); err != nil {
		e.logger.Error("sync queue enqueue failed", "media_id", mediaID, "error", err)
		return
	}

	e.publish(events.EventProgressDeleted, mediaID, "progress deleted")

	if e.Reachable() {
		go e.drainOne(e.ctx, mediaID)
	}
}

// Flush drains every queued entry. Called by the controller on session
// teardown; failures stay queued for the next trigger.
func (e *Engine) Flush(ctx context.Context) {
	e.drainAll(ctx)
}

// Reachable reports the last known reachability of the remote store.
func (e *Engine) Reachable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reachable
}

// SetReachable updates reachability. The unreachable-to-reachable
// transition triggers a full drain.
func (e *Engine) SetReachable(reachable bool) {
	e.mu.Lock()
	wasReachable := e.reachable
	e.reachable = reachable
	e.mu.Unlock()

	if reachable && !wasReachable {
		e.logger.Info("remote progress store reachable, draining queue")
		go e.drainAll(e.ctx)
	}
}

// QueueDepth returns the number of entries awaiting remote delivery.
func (e *Engine) QueueDepth() int64 {
	n, err := e.queue.Len(e.config.UserID)
	if err != nil {
		e.logger.Warn("failed to read sync queue depth", "error", err)
		return 0
	}
	return n
}

func (e *Engine) probeLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(e.ctx, interval/2)
			err := e.remote.Ping(ctx)
			cancel()
			e.SetReachable(err == nil)
		}
	}
}

// drainAll attempts remote delivery of every queued entry. Only one drain
// runs at a time; overlapping triggers coalesce.
func (e *Engine) drainAll(ctx context.Context) {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return
	}
	e.draining = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.draining = false
		e.mu.Unlock()
	}()

	entries, err := e.queue.Pending(e.config.UserID)
	if err != nil {
		e.logger.Warn("failed to list sync queue", "error", err)
		return
	}

	for i := range entries {
		if ctx.Err() != nil {
			return
		}
		e.deliver(ctx, &entries[i])
	}
}

// drainOne attempts remote delivery of a single media item's queued entry.
func (e *Engine) drainOne(ctx context.Context, mediaID string) {
	entry, err := e.queue.Get(e.config.UserID, mediaID)
	if err != nil {
		if err != ErrNotFound {
			e.logger.Warn("failed to read sync entry", "media_id", mediaID, "error", err)
		}
		return
	}
	e.deliver(ctx, entry)
}

// deliver performs the remote operation for one queued entry. Success
// removes the entry and marks the cached record synced; failure marks the
// entry failed and leaves it queued.
func (e *Engine) deliver(ctx context.Context, entry *database.SyncQueueEntry) {
	var err error
	switch entry.Op {
	case database.QueueOpDelete:
		err = e.remote.Delete(ctx, entry.UserID, entry.MediaID)
	default:
		record := &database.WatchProgressRecord{
			MediaID:        entry.MediaID,
			UserID:         entry.UserID,
			CurrentTimeSec: entry.CurrentTimeSec,
			DurationSec:    entry.DurationSec,
			FileName:       entry.FileName,
			Completed:      entry.Completed,
			UpdatedAtMs:    entry.UpdatedAtMs,
		}
		err = e.remote.Upsert(ctx, record)
	}

	if err != nil {
		e.logger.Debug("sync drain failed, will retry",
			"media_id", entry.MediaID,
			"op", entry.Op,
			"error", err)
		if qErr := e.queue.MarkFailed(entry.UserID, entry.MediaID, err); qErr != nil {
			e.logger.Warn("failed to mark sync entry failed", "media_id", entry.MediaID, "error", qErr)
		}
		e.publish(events.EventProgressFailed, entry.MediaID, "progress sync failed")
		return
	}

	// Removal and the synced stamp are both bounded by the delivered
	// timestamp: a write that coalesced into the queue while this delivery
	// was in flight supersedes the delivered snapshot and must stay pending.
	if err := e.queue.Remove(entry.UserID, entry.MediaID, entry.UpdatedAtMs); err != nil {
		e.logger.Warn("failed to remove drained sync entry", "media_id", entry.MediaID, "error", err)
	}
	if entry.Op == database.QueueOpUpsert {
		if err := e.cache.MarkSynced(entry.UserID, entry.MediaID, entry.UpdatedAtMs); err != nil {
			e.logger.Warn("failed to mark record synced", "media_id", entry.MediaID, "error", err)
		}
	}
	e.publish(events.EventProgressSynced, entry.MediaID, "progress synced")
}

func (e *Engine) publish(eventType events.EventType, mediaID, message string) {
	if e.eventBus == nil {
		return
	}
	event := events.NewEvent(eventType, "sync-engine", message, "")
	event.Target = mediaID
	_ = e.eventBus.PublishAsync(event)
}
