package streamingmodule

import (
	"context"
	"errors"
)

// Sentinel errors for session negotiation.
var (
	// ErrSessionNotReady means the source has not materialized enough to
	// support adaptive delivery. Not a failure: callers fall back to
	// direct delivery without surfacing an error.
	ErrSessionNotReady = errors.New("adaptive session not ready")

	// ErrNoSession is returned by operations that require an active session.
	ErrNoSession = errors.New("no active streaming session")

	// ErrManifestParse marks a negotiation that failed because the
	// manifest document could not be parsed. Treated as a fatal fault.
	ErrManifestParse = errors.New("failed to parse manifest")
)

// Outcome is the result of an adaptive session negotiation.
type Outcome string

const (
	OutcomeStarted  Outcome = "started"
	OutcomeNotReady Outcome = "not_ready"
	OutcomeFailed   Outcome = "failed"
)

// QualityLevel describes one variant offered by the adaptive session.
type QualityLevel struct {
	Label       string `json:"label"`
	BitrateHint int64  `json:"bitrate_hint"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	URI         string `json:"uri,omitempty"`
}

// AutoQuality is the quality selection that lets the delivery layer pick a
// level from the bandwidth estimate.
const AutoQuality = "auto"

// NetworkQuality is the sampler's coarse classification of delivery health.
type NetworkQuality string

const (
	NetworkExcellent NetworkQuality = "excellent"
	NetworkGood      NetworkQuality = "good"
	NetworkFair      NetworkQuality = "fair"
	NetworkPoor      NetworkQuality = "poor"
	NetworkUnknown   NetworkQuality = "unknown"
)

// SessionStats carries delivery statistics reported by the media element.
type SessionStats struct {
	DroppedFrames   int64   `json:"dropped_frames"`
	BufferedSeconds float64 `json:"buffered_seconds"`
}

// StreamingSession is an active adaptive delivery session. At most one is
// active per manager at any time.
type StreamingSession struct {
	ID                   string         `json:"id"`
	MediaID              string         `json:"media_id"`
	ManifestURL          string         `json:"manifest_url"`
	QualityLevels        []QualityLevel `json:"quality_levels"`
	CurrentQuality       string         `json:"current_quality"`
	NetworkQuality       NetworkQuality `json:"network_quality"`
	BandwidthEstimateBps int64          `json:"bandwidth_estimate_bps"`
	Stats                SessionStats   `json:"stats"`
}

// SessionOffer is what the backend returns from a negotiation.
type SessionOffer struct {
	Outcome       Outcome        `json:"outcome"`
	SessionID     string         `json:"session_id,omitempty"`
	ManifestURL   string         `json:"manifest_url,omitempty"`
	QualityLevels []QualityLevel `json:"quality_levels,omitempty"`
	Reason        string         `json:"reason,omitempty"`
}

// SessionBackend is the peer-transfer/streaming backend consumed by the
// session manager. Implementations negotiate adaptive sessions, resolve
// direct byte-range URLs, and serve manifest documents.
type SessionBackend interface {
	OpenSession(ctx context.Context, sourceID string, fileIndex int) (*SessionOffer, error)
	CloseSession(ctx context.Context, sessionID string) error
	DirectURL(sourceID string, fileIndex int) string
	FetchManifest(ctx context.Context, manifestURL string) ([]byte, error)
}

// FaultClass classifies a delivery failure for the recovery ladder.
type FaultClass string

const (
	// FaultNetwork is a transient network fault; recoverable by resuming
	// the load at the current position.
	FaultNetwork FaultClass = "network"

	// FaultMedia is a decodable-media fault; recoverable by resetting the
	// decode pipeline without reloading the network session.
	FaultMedia FaultClass = "media"

	// FaultManifestParse means the manifest document could not be parsed.
	// Treated as fatal.
	FaultManifestParse FaultClass = "manifest_parse"

	// FaultFatalStreaming is any unrecoverable streaming failure.
	FaultFatalStreaming FaultClass = "fatal_streaming"
)

// RecoveryAction is what the controller should do about a fault.
type RecoveryAction string

const (
	// RecoveryResumeLoad resumes loading at the current position without
	// resetting playback state.
	RecoveryResumeLoad RecoveryAction = "resume_load"

	// RecoveryResetDecoder re-initializes the decode pipeline in place.
	RecoveryResetDecoder RecoveryAction = "reset_decoder"

	// RecoveryFallbackDirect destroys the session and downgrades delivery
	// to direct byte-range for the rest of the playback session.
	RecoveryFallbackDirect RecoveryAction = "fallback_direct"
)
