package playermodule

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/juniorrony/torrenstream-sub000/internal/database"
	"github.com/juniorrony/torrenstream-sub000/internal/modules/progressmodule"
	"github.com/juniorrony/torrenstream-sub000/internal/modules/streamingmodule"
)

// stubBackend is a scriptable session backend for controller tests.
type stubBackend struct {
	offer  *streamingmodule.SessionOffer
	err    error
	closed []string
}

func (b *stubBackend) OpenSession(ctx context.Context, sourceID string, fileIndex int) (*streamingmodule.SessionOffer, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.offer, nil
}

func (b *stubBackend) CloseSession(ctx context.Context, sessionID string) error {
	b.closed = append(b.closed, sessionID)
	return nil
}

func (b *stubBackend) DirectURL(sourceID string, fileIndex int) string {
	return fmt.Sprintf("http://backend/api/stream/%s/%d", sourceID, fileIndex)
}

func (b *stubBackend) FetchManifest(ctx context.Context, url string) ([]byte, error) {
	return nil, fmt.Errorf("no manifest")
}

// stubRemote is an unreachable remote progress store; the engine stays in
// local-only mode for these tests.
type stubRemote struct{}

func (stubRemote) Get(ctx context.Context, userID, mediaID string) (*database.WatchProgressRecord, error) {
	return nil, progressmodule.ErrNotFound
}
func (stubRemote) Upsert(ctx context.Context, record *database.WatchProgressRecord) error {
	return nil
}
func (stubRemote) Delete(ctx context.Context, userID, mediaID string) error { return nil }
func (stubRemote) ListContinueWatching(ctx context.Context, userID string, limit int) ([]database.WatchProgressRecord, error) {
	return nil, nil
}
func (stubRemote) Ping(ctx context.Context) error { return fmt.Errorf("unreachable") }

func startedOffer(id string) *streamingmodule.SessionOffer {
	return &streamingmodule.SessionOffer{
		Outcome:     streamingmodule.OutcomeStarted,
		SessionID:   id,
		ManifestURL: "http://backend/manifest.m3u8",
		QualityLevels: []streamingmodule.QualityLevel{
			{Label: "1080p", BitrateHint: 5_000_000},
		},
	}
}

type testRig struct {
	controller *Controller
	backend    *stubBackend
	engine     *progressmodule.Engine
	db         *gorm.DB
}

func newTestRig(t *testing.T, backend *stubBackend, config ControllerConfig) *testRig {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&database.WatchProgressRecord{}, &database.SyncQueueEntry{}))

	log := hclog.NewNullLogger()
	engine := progressmodule.NewEngine(db, stubRemote{}, nil, progressmodule.DefaultEngineConfig(), log)

	sampler := streamingmodule.NewBandwidthSampler(8, streamingmodule.DefaultSamplerThresholds())
	sessions := streamingmodule.NewManager(backend, sampler, nil, log)

	return &testRig{
		controller: NewController(sessions, engine, nil, config, log),
		backend:    backend,
		engine:     engine,
		db:         db,
	}
}

func (r *testRig) cachedRecord(t *testing.T, mediaID string) *database.WatchProgressRecord {
	t.Helper()
	var record database.WatchProgressRecord
	err := r.db.Where("media_id = ?", mediaID).First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return nil
	}
	require.NoError(t, err)
	return &record
}

func videoSource(name string) PlaybackSource {
	return PlaybackSource{SourceID: "src", FileIndex: 0, FileName: name}
}

func TestNeedsAdaptiveDelivery(t *testing.T) {
	tests := []struct {
		fileName string
		adaptive bool
	}{
		{"movie.mkv", true},
		{"movie.MKV", true},
		{"old.avi", true},
		{"clip.mp4", false},
		{"clip.webm", false},
		{"track.mp3", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.adaptive, needsAdaptiveDelivery(tt.fileName, nil), tt.fileName)
	}
}

func TestPlayDirectForPlayableContainer(t *testing.T) {
	rig := newTestRig(t, &stubBackend{}, DefaultControllerConfig())

	state, decision, err := rig.controller.Play(context.Background(), videoSource("clip.mp4"))
	require.NoError(t, err)

	assert.Equal(t, DeliveryDirect, state.DeliveryMode)
	assert.Equal(t, "http://backend/api/stream/src/0", state.PlaybackURL)
	assert.Equal(t, StatusReady, state.Timeline.Status)
	assert.False(t, decision.ShouldPrompt)
}

func TestPlayAdaptiveForRemuxContainer(t *testing.T) {
	rig := newTestRig(t, &stubBackend{offer: startedOffer("sess-1")}, DefaultControllerConfig())

	state, _, err := rig.controller.Play(context.Background(), videoSource("movie.mkv"))
	require.NoError(t, err)

	assert.Equal(t, DeliveryAdaptive, state.DeliveryMode)
	assert.Equal(t, "http://backend/manifest.m3u8", state.PlaybackURL)
	assert.Equal(t, StatusReady, state.Timeline.Status)
}

func TestNotReadyFallsBackToDirectSilently(t *testing.T) {
	backend := &stubBackend{offer: &streamingmodule.SessionOffer{Outcome: streamingmodule.OutcomeNotReady}}
	rig := newTestRig(t, backend, DefaultControllerConfig())

	state, _, err := rig.controller.Play(context.Background(), videoSource("movie.mkv"))
	require.NoError(t, err)

	// No error state: the controller proceeds straight to direct delivery.
	assert.Equal(t, DeliveryDirect, state.DeliveryMode)
	assert.Equal(t, StatusReady, state.Timeline.Status)
	assert.Empty(t, state.Timeline.ErrorCause)
}

func TestResumePromptAtMidProgress(t *testing.T) {
	rig := newTestRig(t, &stubBackend{}, DefaultControllerConfig())
	ctx := context.Background()

	// 120s of 300s watched (40%): inside the prompt window.
	accepted := rig.engine.SaveProgress(ctx, progressmodule.ProgressWrite{
		MediaID: "src:0", CurrentTimeSec: 120, DurationSec: 300, FileName: "clip.mp4",
	})
	require.True(t, accepted)

	state, decision, err := rig.controller.Play(ctx, videoSource("clip.mp4"))
	require.NoError(t, err)

	assert.True(t, decision.ShouldPrompt)
	require.NotNil(t, decision.SavedProgress)
	assert.Equal(t, float64(120), decision.SavedProgress.CurrentTimeSec)
	assert.True(t, state.AwaitResume)

	require.NoError(t, rig.controller.ResumeAt(120))
	assert.Equal(t, float64(120), rig.controller.Timeline().CurrentTimeSec)
	assert.False(t, rig.controller.State().AwaitResume)

	// The prompt can only be answered once.
	assert.ErrorIs(t, rig.controller.Restart(), ErrNotAwaitingResume)
}

func TestNoPromptNearCompletion(t *testing.T) {
	rig := newTestRig(t, &stubBackend{}, DefaultControllerConfig())
	ctx := context.Background()

	// 291s of 300s watched (97%): a record exists but sits past the
	// prompt window, so no resume prompt is offered.
	require.NoError(t, rig.db.Create(&database.WatchProgressRecord{
		MediaID: "src:0", UserID: "default",
		CurrentTimeSec: 291, DurationSec: 300, FileName: "clip.mp4",
		UpdatedAtMs: time.Now().UnixMilli(),
		SyncState:   database.SyncStateSynced,
	}).Error)

	state, decision, err := rig.controller.Play(ctx, videoSource("clip.mp4"))
	require.NoError(t, err)
	assert.False(t, decision.ShouldPrompt)
	assert.False(t, state.AwaitResume)
	// The position is still picked up silently.
	assert.Equal(t, float64(291), state.Timeline.CurrentTimeSec)
}

func TestRestartAnswersPrompt(t *testing.T) {
	rig := newTestRig(t, &stubBackend{}, DefaultControllerConfig())
	ctx := context.Background()

	rig.engine.SaveProgress(ctx, progressmodule.ProgressWrite{
		MediaID: "src:0", CurrentTimeSec: 120, DurationSec: 300, FileName: "clip.mp4",
	})

	_, decision, err := rig.controller.Play(ctx, videoSource("clip.mp4"))
	require.NoError(t, err)
	require.True(t, decision.ShouldPrompt)

	require.NoError(t, rig.controller.Restart())
	assert.Equal(t, float64(0), rig.controller.Timeline().CurrentTimeSec)
}

func TestEndedWritesCompletedRecord(t *testing.T) {
	rig := newTestRig(t, &stubBackend{}, DefaultControllerConfig())
	ctx := context.Background()

	_, _, err := rig.controller.Play(ctx, videoSource("clip.mp4"))
	require.NoError(t, err)

	_, err = rig.controller.HandleMediaEvent(ctx, MediaEvent{
		Type: MediaEventPlaying, CurrentTimeSec: 10, DurationSec: 300,
	})
	require.NoError(t, err)

	// Ended at 100%: outside the write window, but the terminal completed
	// write always goes through.
	_, err = rig.controller.HandleMediaEvent(ctx, MediaEvent{
		Type: MediaEventEnded, CurrentTimeSec: 300, DurationSec: 300,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusEnded, rig.controller.Timeline().Status)
	record := rig.cachedRecord(t, "src:0")
	require.NotNil(t, record)
	assert.True(t, record.Completed)
}

func TestAdaptiveFaultRecoveryThenFatalFallsBackToDirect(t *testing.T) {
	rig := newTestRig(t, &stubBackend{offer: startedOffer("sess-1")}, DefaultControllerConfig())
	ctx := context.Background()

	_, _, err := rig.controller.Play(ctx, videoSource("movie.mkv"))
	require.NoError(t, err)

	_, err = rig.controller.HandleMediaEvent(ctx, MediaEvent{
		Type: MediaEventPlaying, CurrentTimeSec: 30, DurationSec: 600,
	})
	require.NoError(t, err)

	// First media fault recovers in place with a decoder reset.
	directive, err := rig.controller.HandleMediaEvent(ctx, MediaEvent{
		Type: MediaEventError, Fault: "media", Message: "decode stalled",
	})
	require.NoError(t, err)
	assert.Equal(t, DirectiveResetDecoder, directive)
	assert.Equal(t, StatusBuffering, rig.controller.Timeline().Status)

	// A later fatal fault destroys the session and downgrades to direct
	// delivery without any user-facing error.
	directive, err = rig.controller.HandleMediaEvent(ctx, MediaEvent{
		Type: MediaEventError, Fault: "fatal", Message: "segment pipeline dead",
	})
	require.NoError(t, err)
	assert.Equal(t, DirectiveReload, directive)

	state := rig.controller.State()
	assert.Equal(t, DeliveryDirect, state.DeliveryMode)
	assert.Equal(t, StatusReady, state.Timeline.Status)
	assert.Empty(t, state.Timeline.ErrorCause)
	assert.Equal(t, []string{"sess-1"}, rig.backend.closed)
}

func TestRepeatedNetworkFaultFallsBackToDirect(t *testing.T) {
	rig := newTestRig(t, &stubBackend{offer: startedOffer("sess-1")}, DefaultControllerConfig())
	ctx := context.Background()

	_, _, err := rig.controller.Play(ctx, videoSource("movie.mkv"))
	require.NoError(t, err)

	directive, err := rig.controller.HandleMediaEvent(ctx, MediaEvent{Type: MediaEventError, Fault: "network"})
	require.NoError(t, err)
	assert.Equal(t, DirectiveResumeLoad, directive)

	directive, err = rig.controller.HandleMediaEvent(ctx, MediaEvent{Type: MediaEventError, Fault: "network"})
	require.NoError(t, err)
	assert.Equal(t, DirectiveReload, directive)
	assert.Equal(t, DeliveryDirect, rig.controller.State().DeliveryMode)
}

func TestDirectFaultRetriesOnceThenSurfacesError(t *testing.T) {
	rig := newTestRig(t, &stubBackend{}, DefaultControllerConfig())
	ctx := context.Background()

	_, _, err := rig.controller.Play(ctx, videoSource("clip.mp4"))
	require.NoError(t, err)

	directive, err := rig.controller.HandleMediaEvent(ctx, MediaEvent{
		Type: MediaEventError, Message: "source vanished",
	})
	require.NoError(t, err)
	assert.Equal(t, DirectiveReload, directive)

	directive, err = rig.controller.HandleMediaEvent(ctx, MediaEvent{
		Type: MediaEventError, Message: "source vanished",
	})
	require.NoError(t, err)
	assert.Equal(t, DirectiveNone, directive)

	timeline := rig.controller.Timeline()
	assert.Equal(t, StatusError, timeline.Status)
	assert.Equal(t, "source vanished", timeline.ErrorCause)
	assert.True(t, timeline.RecoveryAttempted)
}

func TestSourceSwitchTearsDownPreviousSession(t *testing.T) {
	backend := &stubBackend{offer: startedOffer("sess-1")}
	rig := newTestRig(t, backend, DefaultControllerConfig())
	ctx := context.Background()

	_, _, err := rig.controller.Play(ctx, PlaybackSource{SourceID: "first", FileIndex: 0, FileName: "a.mkv"})
	require.NoError(t, err)

	_, err = rig.controller.HandleMediaEvent(ctx, MediaEvent{
		Type: MediaEventPlaying, CurrentTimeSec: 60, DurationSec: 600,
	})
	require.NoError(t, err)

	backend.offer = startedOffer("sess-2")
	state, _, err := rig.controller.Play(ctx, PlaybackSource{SourceID: "second", FileIndex: 0, FileName: "b.mkv"})
	require.NoError(t, err)

	// The outgoing session was destroyed and its final progress written
	// before the new source started initializing.
	assert.Equal(t, []string{"sess-1"}, backend.closed)
	record := rig.cachedRecord(t, "first:0")
	require.NotNil(t, record)
	assert.Equal(t, float64(60), record.CurrentTimeSec)

	assert.Equal(t, "second:0", state.Source.MediaID())
	assert.Equal(t, StatusReady, state.Timeline.Status)
}

func TestAutosaveWritesWhilePlaying(t *testing.T) {
	config := DefaultControllerConfig()
	config.AutosaveInterval = 20 * time.Millisecond
	rig := newTestRig(t, &stubBackend{}, config)
	ctx := context.Background()

	_, _, err := rig.controller.Play(ctx, videoSource("clip.mp4"))
	require.NoError(t, err)

	_, err = rig.controller.HandleMediaEvent(ctx, MediaEvent{
		Type: MediaEventPlaying, CurrentTimeSec: 60, DurationSec: 600,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return rig.cachedRecord(t, "src:0") != nil
	}, time.Second, 10*time.Millisecond)
}

func TestAutosaveStopsOnClose(t *testing.T) {
	config := DefaultControllerConfig()
	config.AutosaveInterval = 20 * time.Millisecond
	rig := newTestRig(t, &stubBackend{}, config)
	ctx := context.Background()

	_, _, err := rig.controller.Play(ctx, videoSource("clip.mp4"))
	require.NoError(t, err)
	_, err = rig.controller.HandleMediaEvent(ctx, MediaEvent{
		Type: MediaEventPlaying, CurrentTimeSec: 60, DurationSec: 600,
	})
	require.NoError(t, err)

	rig.controller.Close(ctx)
	assert.Equal(t, StatusIdle, rig.controller.Timeline().Status)

	// A stale tick after teardown must not resurrect progress writes.
	require.NoError(t, rig.db.Where("1 = 1").Delete(&database.WatchProgressRecord{}).Error)
	time.Sleep(60 * time.Millisecond)
	assert.Nil(t, rig.cachedRecord(t, "src:0"))
}

func TestPauseKeepsTimelineAndStatus(t *testing.T) {
	rig := newTestRig(t, &stubBackend{}, DefaultControllerConfig())
	ctx := context.Background()

	_, _, err := rig.controller.Play(ctx, videoSource("clip.mp4"))
	require.NoError(t, err)
	_, err = rig.controller.HandleMediaEvent(ctx, MediaEvent{
		Type: MediaEventPlaying, CurrentTimeSec: 42, DurationSec: 600,
	})
	require.NoError(t, err)

	require.NoError(t, rig.controller.Pause())
	timeline := rig.controller.Timeline()
	assert.Equal(t, StatusPaused, timeline.Status)
	assert.Equal(t, float64(42), timeline.CurrentTimeSec)
}

func TestSeekClampsToDuration(t *testing.T) {
	rig := newTestRig(t, &stubBackend{}, DefaultControllerConfig())
	ctx := context.Background()

	_, _, err := rig.controller.Play(ctx, videoSource("clip.mp4"))
	require.NoError(t, err)
	_, err = rig.controller.HandleMediaEvent(ctx, MediaEvent{
		Type: MediaEventTimeUpdate, CurrentTimeSec: 10, DurationSec: 100,
	})
	require.NoError(t, err)

	require.NoError(t, rig.controller.Seek(500))
	assert.Equal(t, float64(100), rig.controller.Timeline().CurrentTimeSec)

	require.NoError(t, rig.controller.Seek(-5))
	assert.Equal(t, float64(0), rig.controller.Timeline().CurrentTimeSec)
}

func TestOperationsWithoutSource(t *testing.T) {
	rig := newTestRig(t, &stubBackend{}, DefaultControllerConfig())

	assert.ErrorIs(t, rig.controller.Pause(), ErrNoActiveSource)
	assert.ErrorIs(t, rig.controller.Seek(10), ErrNoActiveSource)
	_, err := rig.controller.HandleMediaEvent(context.Background(), MediaEvent{Type: MediaEventPlaying})
	assert.ErrorIs(t, err, ErrNoActiveSource)
}

func TestDetectMediaKind(t *testing.T) {
	assert.Equal(t, KindAudio, detectMediaKind("track.flac"))
	assert.Equal(t, KindVideo, detectMediaKind("movie.mkv"))
}
