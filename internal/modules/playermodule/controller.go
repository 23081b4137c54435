package playermodule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/juniorrony/torrenstream-sub000/internal/events"
	"github.com/juniorrony/torrenstream-sub000/internal/modules/progressmodule"
	"github.com/juniorrony/torrenstream-sub000/internal/modules/streamingmodule"
)

// Controller is the top-level playback state machine. It owns the media
// timeline, decides the delivery mode, drives auto-save, and exposes
// resume/restart decisions to the presentation layer.
//
// All mutation happens under one mutex; async completions (timer fires,
// negotiation results) are guarded by a generation token so a firing that
// belongs to a torn-down session is provably ignored.
type Controller struct {
	mu sync.Mutex

	source       *PlaybackSource
	timeline     PlaybackTimeline
	deliveryMode DeliveryMode
	playbackURL  string

	// directOnly marks a permanent downgrade: once a fatal streaming
	// fault forces direct delivery, the session never upgrades back.
	directOnly bool

	// awaitResume holds playback until the presentation layer answers
	// the resume prompt with ResumeAt or Restart.
	awaitResume bool

	// reloadAttempted tracks the single automatic re-init allowed after
	// a direct-delivery failure before the error is surfaced.
	reloadAttempted bool

	// generation invalidates stale timer fires and async completions.
	generation uint64

	autosaveCancel context.CancelFunc

	sessions *streamingmodule.Manager
	progress *progressmodule.Engine
	eventBus events.EventBus
	config   ControllerConfig
	logger   hclog.Logger

	// clock is injectable for tests
	clock func() time.Time
}

// NewController creates a playback session controller.
func NewController(sessions *streamingmodule.Manager, progress *progressmodule.Engine, eventBus events.EventBus, config ControllerConfig, logger hclog.Logger) *Controller {
	if config.AutosaveInterval <= 0 {
		config.AutosaveInterval = 30 * time.Second
	}
	if config.DefaultVolume <= 0 {
		config.DefaultVolume = 1.0
	}
	return &Controller{
		timeline: PlaybackTimeline{
			Status:       StatusIdle,
			Volume:       config.DefaultVolume,
			PlaybackRate: 1.0,
		},
		deliveryMode: "",
		sessions:     sessions,
		progress:     progress,
		eventBus:     eventBus,
		config:       config,
		logger:       logger.Named("controller"),
		clock:        time.Now,
	}
}

// Play starts playback of a source. If another source is active it is
// replaced: the auto-save timer stops, a final best-effort progress write
// goes out for the outgoing media item, and its streaming session is torn
// down strictly before the new source enters initialization.
//
// The returned state carries the resume decision; when AwaitResume is set
// the presentation layer must call ResumeAt or Restart before starting the
// media element.
func (c *Controller) Play(ctx context.Context, source PlaybackSource) (*PlaybackState, *progressmodule.ResumeDecision, error) {
	if source.SourceID == "" {
		return nil, nil, fmt.Errorf("source id is required")
	}
	if source.MediaKind == "" {
		source.MediaKind = detectMediaKind(source.FileName)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.source != nil {
		c.teardownLocked(ctx, "replaced")
	}

	c.generation++
	c.source = &source
	c.directOnly = false
	c.reloadAttempted = false
	c.awaitResume = false
	c.timeline = PlaybackTimeline{
		Status:       StatusInitializing,
		Volume:       c.timeline.Volume,
		Muted:        c.timeline.Muted,
		PlaybackRate: 1.0,
	}

	if err := c.initializeLocked(ctx); err != nil {
		c.enterErrorLocked(err.Error(), false)
		return nil, nil, err
	}

	decision := c.progress.ResumeDecisionFor(ctx, source.MediaID())
	if decision.ShouldPrompt {
		c.awaitResume = true
	} else if decision.SavedProgress != nil && !decision.SavedProgress.Completed {
		c.timeline.CurrentTimeSec = decision.SavedProgress.CurrentTimeSec
	}

	c.startAutosaveLocked()
	c.publish(events.EventPlaybackStarted, "playback starting", string(c.deliveryMode))

	return c.stateLocked(), &decision, nil
}

// initializeLocked resolves the delivery mode and playback URL. Adaptive
// negotiation outcomes that are not hard failures downgrade silently to
// direct delivery.
func (c *Controller) initializeLocked(ctx context.Context) error {
	mediaID := c.source.MediaID()

	wantAdaptive := !c.directOnly && needsAdaptiveDelivery(c.source.FileName, c.config.AdaptiveContainers)
	if wantAdaptive {
		session, err := c.sessions.Negotiate(ctx, c.source.SourceID, c.source.FileIndex)
		switch {
		case err == nil:
			c.deliveryMode = DeliveryAdaptive
			c.playbackURL = session.ManifestURL
			c.timeline.Status = StatusReady
			return nil
		case errors.Is(err, streamingmodule.ErrSessionNotReady):
			// Source still materializing. Not an error: direct
			// delivery serves this attempt.
			c.logger.Info("adaptive delivery not ready, using direct", "media_id", mediaID)
		case streamingmodule.IsManifestParseError(err):
			c.logger.Warn("manifest unusable, falling back to direct delivery",
				"media_id", mediaID, "error", err)
			c.directOnly = true
			c.publish(events.EventSessionFallback, "fallback to direct delivery", err.Error())
		default:
			c.logger.Warn("adaptive negotiation failed, falling back to direct delivery",
				"media_id", mediaID, "error", err)
			c.directOnly = true
			c.publish(events.EventSessionFallback, "fallback to direct delivery", err.Error())
		}
	}

	c.deliveryMode = DeliveryDirect
	c.playbackURL = c.sessions.DirectURL(c.source.SourceID, c.source.FileIndex)
	if c.playbackURL == "" {
		return ErrNoPlayableDelivery
	}
	c.timeline.Status = StatusReady
	return nil
}

// ResumeAt answers a pending resume prompt with a position.
func (c *Controller) ResumeAt(timeSec float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.awaitResume {
		return ErrNotAwaitingResume
	}
	c.awaitResume = false
	c.timeline.CurrentTimeSec = timeSec
	return nil
}

// Restart answers a pending resume prompt with "start over".
func (c *Controller) Restart() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.awaitResume {
		return ErrNotAwaitingResume
	}
	c.awaitResume = false
	c.timeline.CurrentTimeSec = 0
	return nil
}

// Pause records a pause request. The auto-save timer keeps running; only
// teardown cancels it.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.source == nil {
		return ErrNoActiveSource
	}
	if c.timeline.Status == StatusPlaying || c.timeline.Status == StatusBuffering {
		c.timeline.Status = StatusPaused
		c.publish(events.EventPlaybackPaused, "playback paused", "")
	}
	return nil
}

// Seek records a seek to the given position.
func (c *Controller) Seek(timeSec float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.source == nil {
		return ErrNoActiveSource
	}
	if timeSec < 0 {
		timeSec = 0
	}
	if c.timeline.DurationSec > 0 && timeSec > c.timeline.DurationSec {
		timeSec = c.timeline.DurationSec
	}
	c.timeline.CurrentTimeSec = timeSec
	return nil
}

// SetVolume sets the volume in [0, 1].
func (c *Controller) SetVolume(volume float64) error {
	if volume < 0 || volume > 1 {
		return fmt.Errorf("volume must be between 0 and 1")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeline.Volume = volume
	return nil
}

// SetMuted sets the muted flag.
func (c *Controller) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeline.Muted = muted
}

// SetPlaybackRate sets the playback rate.
func (c *Controller) SetPlaybackRate(rate float64) error {
	if rate <= 0 || rate > 4 {
		return fmt.Errorf("playback rate must be between 0 and 4")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeline.PlaybackRate = rate
	return nil
}

// SetLoop sets the loop flag.
func (c *Controller) SetLoop(loop bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeline.Loop = loop
}

// SetQuality delegates quality selection to the session manager.
func (c *Controller) SetQuality(label string) error {
	return c.sessions.SetQuality(label)
}

// Close ends playback: the auto-save timer stops, a final best-effort
// progress write goes out, the streaming session is destroyed, and the
// sync queue gets one explicit flush.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()
	if c.source == nil {
		c.mu.Unlock()
		return
	}
	c.teardownLocked(ctx, "closed")
	c.source = nil
	c.timeline.Status = StatusIdle
	c.timeline.CurrentTimeSec = 0
	c.timeline.DurationSec = 0
	c.mu.Unlock()

	c.progress.Flush(ctx)
}

// HandleMediaEvent ingests one discrete media element event and returns
// the directive the presentation layer should apply.
func (c *Controller) HandleMediaEvent(ctx context.Context, event MediaEvent) (MediaDirective, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.source == nil {
		return DirectiveNone, ErrNoActiveSource
	}

	if event.CurrentTimeSec > 0 {
		c.timeline.CurrentTimeSec = event.CurrentTimeSec
	}
	if event.DurationSec > 0 {
		c.timeline.DurationSec = event.DurationSec
	}

	switch event.Type {
	case MediaEventReady:
		if c.timeline.Status == StatusInitializing {
			c.timeline.Status = StatusReady
		}
	case MediaEventPlaying:
		if c.awaitResume {
			// Playback must not start before the resume prompt is
			// answered; treat an early playing event as the answer
			// "resume where the element is".
			c.awaitResume = false
		}
		c.timeline.Status = StatusPlaying
		c.timeline.ErrorCause = ""
		c.timeline.RecoveryAttempted = false
	case MediaEventPaused:
		c.timeline.Status = StatusPaused
		c.publish(events.EventPlaybackPaused, "playback paused", "")
	case MediaEventBuffering:
		if c.timeline.Status == StatusPlaying {
			c.timeline.Status = StatusBuffering
			c.publish(events.EventPlaybackBuffering, "playback buffering", "")
		}
	case MediaEventTimeUpdate:
		// Position already applied above.
	case MediaEventEnded:
		return c.handleEndedLocked(ctx)
	case MediaEventError:
		return c.handleFaultLocked(ctx, event)
	default:
		return DirectiveNone, fmt.Errorf("unknown media event type %q", event.Type)
	}

	return DirectiveNone, nil
}

// handleEndedLocked processes natural end-of-stream: the terminal progress
// write with completed=true always goes out, bypassing the write window.
func (c *Controller) handleEndedLocked(ctx context.Context) (MediaDirective, error) {
	c.timeline.Status = StatusEnded
	c.stopAutosaveLocked()

	c.progress.SaveProgress(ctx, progressmodule.ProgressWrite{
		MediaID:        c.source.MediaID(),
		CurrentTimeSec: c.timeline.CurrentTimeSec,
		DurationSec:    c.timeline.DurationSec,
		FileName:       c.source.FileName,
		Completed:      true,
	})
	c.publish(events.EventPlaybackFinished, "playback finished", "")

	if c.timeline.Loop {
		c.timeline.Status = StatusPlaying
		c.timeline.CurrentTimeSec = 0
		c.startAutosaveLocked()
		return DirectiveReload, nil
	}
	return DirectiveNone, nil
}

// handleFaultLocked runs the recovery ladder for a delivery fault.
//
// Adaptive faults are absorbed by the session manager's ladder: a first
// network fault resumes the load, a first media fault resets the decoder,
// anything else downgrades to direct delivery silently. Direct-delivery
// faults get one automatic reload before the error surfaces.
func (c *Controller) handleFaultLocked(ctx context.Context, event MediaEvent) (MediaDirective, error) {
	cause := event.Message
	if cause == "" {
		cause = "media playback error"
	}

	if c.deliveryMode == DeliveryAdaptive {
		action := c.sessions.Recover(ctx, classifyFault(event.Fault))
		switch action {
		case streamingmodule.RecoveryResumeLoad:
			c.timeline.Status = StatusBuffering
			return DirectiveResumeLoad, nil
		case streamingmodule.RecoveryResetDecoder:
			c.timeline.Status = StatusBuffering
			return DirectiveResetDecoder, nil
		case streamingmodule.RecoveryFallbackDirect:
			return c.fallbackToDirectLocked(ctx, cause)
		}
	}

	if !c.reloadAttempted {
		c.reloadAttempted = true
		c.logger.Warn("direct delivery fault, attempting one reload",
			"media_id", c.source.MediaID(), "cause", cause)
		c.timeline.Status = StatusInitializing
		if err := c.initializeLocked(ctx); err != nil {
			c.enterErrorLocked(cause, true)
			return DirectiveNone, nil
		}
		return DirectiveReload, nil
	}

	c.enterErrorLocked(cause, true)
	return DirectiveNone, nil
}

// fallbackToDirectLocked downgrades delivery to direct byte-range for the
// rest of the playback session. Silent: the only user-visible trace is the
// delivery-mode indicator.
func (c *Controller) fallbackToDirectLocked(ctx context.Context, cause string) (MediaDirective, error) {
	c.directOnly = true
	c.timeline.Status = StatusInitializing
	c.logger.Info("downgrading to direct delivery",
		"media_id", c.source.MediaID(), "cause", cause)

	if err := c.initializeLocked(ctx); err != nil {
		// Direct fallback also failed to start; this is the one case
		// that surfaces as a blocking error.
		c.enterErrorLocked(cause, true)
		return DirectiveNone, nil
	}
	return DirectiveReload, nil
}

func (c *Controller) enterErrorLocked(cause string, recoveryAttempted bool) {
	c.timeline.Status = StatusError
	c.timeline.ErrorCause = cause
	c.timeline.RecoveryAttempted = recoveryAttempted
	c.stopAutosaveLocked()
	c.publish(events.EventPlaybackError, "playback error", cause)
}

// teardownLocked stops the auto-save timer, writes final progress for the
// outgoing media item, and destroys its streaming session, in that order.
func (c *Controller) teardownLocked(ctx context.Context, reason string) {
	c.stopAutosaveLocked()
	c.saveProgressLocked(ctx, false)
	c.sessions.Destroy(ctx)
	c.generation++
	c.logger.Info("playback session torn down",
		"media_id", c.source.MediaID(), "reason", reason)
}

// saveProgressLocked issues a progress write for the current position.
func (c *Controller) saveProgressLocked(ctx context.Context, completed bool) {
	if c.source == nil {
		return
	}
	c.progress.SaveProgress(ctx, progressmodule.ProgressWrite{
		MediaID:        c.source.MediaID(),
		CurrentTimeSec: c.timeline.CurrentTimeSec,
		DurationSec:    c.timeline.DurationSec,
		FileName:       c.source.FileName,
		Completed:      completed,
	})
}

// startAutosaveLocked starts the fixed-cadence auto-save ticker for the
// current generation. A tick belonging to a stale generation is ignored.
func (c *Controller) startAutosaveLocked() {
	c.stopAutosaveLocked()

	gen := c.generation
	ctx, cancel := context.WithCancel(context.Background())
	c.autosaveCancel = cancel

	go func() {
		ticker := time.NewTicker(c.config.AutosaveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.autosaveTick(ctx, gen)
			}
		}
	}()
}

func (c *Controller) autosaveTick(ctx context.Context, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || c.source == nil {
		return
	}
	if c.timeline.Status != StatusPlaying {
		return
	}
	c.saveProgressLocked(ctx, false)
	c.publish(events.EventPlaybackProgress, "progress autosaved", "")
}

func (c *Controller) stopAutosaveLocked() {
	if c.autosaveCancel != nil {
		c.autosaveCancel()
		c.autosaveCancel = nil
	}
}

// State returns a snapshot of the playback state.
func (c *Controller) State() *PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Timeline returns a snapshot of the media timeline.
func (c *Controller) Timeline() PlaybackTimeline {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeline
}

func (c *Controller) stateLocked() *PlaybackState {
	state := &PlaybackState{
		Timeline:    c.timeline,
		AwaitResume: c.awaitResume,
	}
	if c.source != nil {
		source := *c.source
		state.Source = &source
		state.DeliveryMode = c.deliveryMode
		state.PlaybackURL = c.playbackURL
	}
	return state
}

// classifyFault maps a presentation-layer fault label to a session fault
// class. Unknown labels are treated as fatal.
func classifyFault(fault string) streamingmodule.FaultClass {
	switch fault {
	case string(streamingmodule.FaultNetwork):
		return streamingmodule.FaultNetwork
	case string(streamingmodule.FaultMedia):
		return streamingmodule.FaultMedia
	case string(streamingmodule.FaultManifestParse):
		return streamingmodule.FaultManifestParse
	default:
		return streamingmodule.FaultFatalStreaming
	}
}

func (c *Controller) publish(eventType events.EventType, title, message string) {
	if c.eventBus == nil {
		return
	}
	mediaID := ""
	if c.source != nil {
		mediaID = c.source.MediaID()
	}
	_ = c.eventBus.PublishAsync(events.NewPlaybackEvent(eventType, mediaID, title, message))
}
