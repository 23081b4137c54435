package streamingmodule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/juniorrony/torrenstream-sub000/internal/events"
)

// Manager owns the adaptive delivery session. At most one session is
// active at any time; negotiating a new one tears down the previous one
// first.
type Manager struct {
	mu      sync.Mutex
	backend SessionBackend
	sampler *BandwidthSampler

	session *StreamingSession

	// recovered tracks which fault classes were already recovered once
	// during the current session. A repeat of the same class escalates
	// to direct fallback.
	recovered map[FaultClass]bool

	eventBus events.EventBus
	logger   hclog.Logger
}

// NewManager creates a session manager.
func NewManager(backend SessionBackend, sampler *BandwidthSampler, eventBus events.EventBus, logger hclog.Logger) *Manager {
	return &Manager{
		backend:   backend,
		sampler:   sampler,
		recovered: make(map[FaultClass]bool),
		eventBus:  eventBus,
		logger:    logger.Named("session-manager"),
	}
}

// Negotiate opens an adaptive session for the given source file. Any
// previously active session is destroyed before the new negotiation
// starts, so a failed negotiation never leaves a stale session behind.
//
// Returns ErrSessionNotReady when the source is not materialized enough;
// callers treat that as a silent downgrade to direct delivery.
func (m *Manager) Negotiate(ctx context.Context, sourceID string, fileIndex int) (*StreamingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.destroyLocked(ctx, "replaced")

	mediaID := fmt.Sprintf("%s:%d", sourceID, fileIndex)

	offer, err := m.backend.OpenSession(ctx, sourceID, fileIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to negotiate session for %s: %w", mediaID, err)
	}

	switch offer.Outcome {
	case OutcomeNotReady:
		m.logger.Info("source not ready for adaptive delivery", "media_id", mediaID)
		return nil, ErrSessionNotReady
	case OutcomeFailed:
		return nil, fmt.Errorf("session negotiation rejected for %s: %s", mediaID, offer.Reason)
	}

	levels := offer.QualityLevels
	if len(levels) == 0 && offer.ManifestURL != "" {
		data, err := m.backend.FetchManifest(ctx, offer.ManifestURL)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch manifest for %s: %w", mediaID, err)
		}
		levels, err = parseMasterManifest(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrManifestParse, err)
		}
	}

	m.session = &StreamingSession{
		ID:             offer.SessionID,
		MediaID:        mediaID,
		ManifestURL:    offer.ManifestURL,
		QualityLevels:  levels,
		CurrentQuality: AutoQuality,
		NetworkQuality: NetworkUnknown,
	}
	m.recovered = make(map[FaultClass]bool)
	m.sampler.Reset()

	m.logger.Info("adaptive session negotiated",
		"session_id", m.session.ID, "media_id", mediaID, "quality_levels", len(levels))
	m.publish(events.EventSessionNegotiated, mediaID, "Session negotiated",
		fmt.Sprintf("adaptive session %s with %d quality levels", m.session.ID, len(levels)))

	return m.cloneLocked(), nil
}

// IsManifestParseError reports whether a Negotiate error was caused by an
// unparseable manifest.
func IsManifestParseError(err error) bool {
	return errors.Is(err, ErrManifestParse)
}

// Destroy tears down the active session, if any. Idempotent.
func (m *Manager) Destroy(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroyLocked(ctx, "closed")
}

func (m *Manager) destroyLocked(ctx context.Context, reason string) {
	if m.session == nil {
		return
	}
	sess := m.session
	m.session = nil
	m.recovered = make(map[FaultClass]bool)

	if sess.ID != "" {
		if err := m.backend.CloseSession(ctx, sess.ID); err != nil {
			// Local teardown proceeds regardless; the backend reaps
			// orphaned sessions on its own.
			m.logger.Warn("backend session teardown failed",
				"session_id", sess.ID, "error", err)
		}
	}

	m.logger.Info("session destroyed", "session_id", sess.ID, "media_id", sess.MediaID, "reason", reason)
	m.publish(events.EventSessionDestroyed, sess.MediaID, "Session destroyed", reason)
}

// Current returns a snapshot of the active session, or nil.
func (m *Manager) Current() *StreamingSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cloneLocked()
}

// SetQuality selects a quality level by label, or AutoQuality to let the
// delivery layer choose from the bandwidth estimate.
func (m *Manager) SetQuality(label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return ErrNoSession
	}
	if label != AutoQuality {
		found := false
		for _, level := range m.session.QualityLevels {
			if level.Label == label {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown quality level %q", label)
		}
	}
	if m.session.CurrentQuality == label {
		return nil
	}

	m.session.CurrentQuality = label
	m.logger.Info("quality changed", "session_id", m.session.ID, "quality", label)
	m.publish(events.EventQualityChanged, m.session.MediaID, "Quality changed", label)
	return nil
}

// Recover applies the recovery ladder to a delivery fault and returns the
// action the playback controller should take:
//
//   - first network fault: resume the load at the current position
//   - first media fault: reset the decode pipeline
//   - repeat of an already-recovered class, a manifest parse fault, or a
//     fatal fault: destroy the session and fall back to direct delivery
//
// Fallback is terminal for the session; the controller keeps direct
// delivery for the remainder of the playback session.
func (m *Manager) Recover(ctx context.Context, fault FaultClass) RecoveryAction {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return RecoveryFallbackDirect
	}

	mediaID := m.session.MediaID
	switch fault {
	case FaultNetwork:
		if !m.recovered[FaultNetwork] {
			m.recovered[FaultNetwork] = true
			m.logger.Info("recovering network fault by resuming load",
				"session_id", m.session.ID, "media_id", mediaID)
			return RecoveryResumeLoad
		}
	case FaultMedia:
		if !m.recovered[FaultMedia] {
			m.recovered[FaultMedia] = true
			m.logger.Info("recovering media fault by resetting decoder",
				"session_id", m.session.ID, "media_id", mediaID)
			return RecoveryResetDecoder
		}
	}

	m.logger.Warn("unrecoverable delivery fault, falling back to direct delivery",
		"session_id", m.session.ID, "media_id", mediaID, "fault", string(fault))
	m.destroyLocked(ctx, "fault: "+string(fault))
	m.publish(events.EventSessionFallback, mediaID, "Fallback to direct delivery", string(fault))
	return RecoveryFallbackDirect
}

// RecordSample feeds one delivery sample into the bandwidth sampler and
// refreshes the session's network-quality classification. A change in
// classification is published for observers.
func (m *Manager) RecordSample(bytes int64, elapsed time.Duration, stalled bool) {
	m.sampler.Record(bytes, elapsed, stalled)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return
	}

	m.session.BandwidthEstimateBps = m.sampler.EstimateBps()
	class := m.sampler.Classify()
	if class == m.session.NetworkQuality {
		return
	}
	m.session.NetworkQuality = class

	m.logger.Debug("network quality changed",
		"session_id", m.session.ID, "quality", string(class),
		"estimate_bps", m.session.BandwidthEstimateBps)
	m.publish(events.EventNetworkQuality, m.session.MediaID, "Network quality changed", string(class))
}

// UpdateStats records the delivery statistics reported by the media element.
func (m *Manager) UpdateStats(stats SessionStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return
	}
	m.session.Stats = stats
}

// DirectURL resolves the direct byte-range URL for a source file.
func (m *Manager) DirectURL(sourceID string, fileIndex int) string {
	return m.backend.DirectURL(sourceID, fileIndex)
}

func (m *Manager) cloneLocked() *StreamingSession {
	if m.session == nil {
		return nil
	}
	clone := *m.session
	clone.QualityLevels = append([]QualityLevel(nil), m.session.QualityLevels...)
	return &clone
}

func (m *Manager) publish(eventType events.EventType, mediaID, title, message string) {
	if m.eventBus == nil {
		return
	}
	event := events.NewEvent(eventType, "session-manager", title, message)
	event.Target = mediaID
	m.eventBus.PublishAsync(event)
}
