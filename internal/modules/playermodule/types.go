package playermodule

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Sentinel errors for controller operations.
var (
	// ErrNoActiveSource is returned by operations that require playback
	// to be in progress.
	ErrNoActiveSource = errors.New("no active playback source")

	// ErrNotAwaitingResume is returned when a resume/restart callback
	// arrives but no resume prompt is pending.
	ErrNotAwaitingResume = errors.New("no resume decision pending")

	// ErrNoPlayableDelivery means neither adaptive nor direct delivery
	// could produce playable media.
	ErrNoPlayableDelivery = errors.New("no delivery mode can produce playable media")
)

// MediaKind distinguishes video from audio sources.
type MediaKind string

const (
	KindVideo MediaKind = "video"
	KindAudio MediaKind = "audio"
)

// PlaybackSource identifies what is being played. Immutable once playback
// starts; a new source always produces a new session.
type PlaybackSource struct {
	SourceID  string    `json:"source_id"`
	FileIndex int       `json:"file_index"`
	FileName  string    `json:"file_name"`
	MediaKind MediaKind `json:"media_kind"`
}

// MediaID is the opaque progress key for this source.
func (s PlaybackSource) MediaID() string {
	return fmt.Sprintf("%s:%d", s.SourceID, s.FileIndex)
}

// DeliveryMode is how the media bytes reach the player. Chosen once per
// source at session start; may be downgraded from adaptive to direct at
// runtime but never upgraded back within the same session.
type DeliveryMode string

const (
	DeliveryAdaptive DeliveryMode = "adaptive"
	DeliveryDirect   DeliveryMode = "direct"
)

// PlayerStatus is the controller state machine's current state.
type PlayerStatus string

const (
	StatusIdle         PlayerStatus = "idle"
	StatusInitializing PlayerStatus = "initializing"
	StatusReady        PlayerStatus = "ready"
	StatusPlaying      PlayerStatus = "playing"
	StatusPaused       PlayerStatus = "paused"
	StatusBuffering    PlayerStatus = "buffering"
	StatusEnded        PlayerStatus = "ended"
	StatusError        PlayerStatus = "error"
)

// PlaybackTimeline is the shared media timeline. Mutated only by the
// controller in response to media events or user intent; read by
// everything else.
type PlaybackTimeline struct {
	Status            PlayerStatus `json:"status"`
	CurrentTimeSec    float64      `json:"current_time_sec"`
	DurationSec       float64      `json:"duration_sec"`
	Volume            float64      `json:"volume"`
	Muted             bool         `json:"muted"`
	PlaybackRate      float64      `json:"playback_rate"`
	Loop              bool         `json:"loop"`
	ErrorCause        string       `json:"error_cause,omitempty"`
	RecoveryAttempted bool         `json:"recovery_attempted,omitempty"`
}

// MediaEventType is a discrete event reported by the media element in the
// presentation layer.
type MediaEventType string

const (
	MediaEventReady      MediaEventType = "ready"
	MediaEventPlaying    MediaEventType = "playing"
	MediaEventPaused     MediaEventType = "paused"
	MediaEventBuffering  MediaEventType = "buffering"
	MediaEventTimeUpdate MediaEventType = "timeupdate"
	MediaEventEnded      MediaEventType = "ended"
	MediaEventError      MediaEventType = "error"
)

// MediaEvent carries a media element callback into the controller.
type MediaEvent struct {
	Type           MediaEventType `json:"type"`
	CurrentTimeSec float64        `json:"current_time_sec"`
	DurationSec    float64        `json:"duration_sec"`
	Fault          string         `json:"fault,omitempty"`
	Message        string         `json:"message,omitempty"`
}

// MediaDirective tells the presentation layer what to do after an event is
// processed. Most events need no reaction beyond the updated timeline.
type MediaDirective string

const (
	DirectiveNone         MediaDirective = ""
	DirectiveResumeLoad   MediaDirective = "resume_load"
	DirectiveResetDecoder MediaDirective = "reset_decoder"
	DirectiveReload       MediaDirective = "reload"
)

// PlaybackState is the snapshot handed to the presentation layer: the
// timeline plus the delivery parameters it needs to load media.
type PlaybackState struct {
	Source       *PlaybackSource  `json:"source,omitempty"`
	Timeline     PlaybackTimeline `json:"timeline"`
	DeliveryMode DeliveryMode     `json:"delivery_mode,omitempty"`
	PlaybackURL  string           `json:"playback_url,omitempty"`
	AwaitResume  bool             `json:"await_resume,omitempty"`
}

// ControllerConfig holds the controller tunables.
type ControllerConfig struct {
	AutosaveInterval   time.Duration
	AdaptiveContainers []string
	DefaultVolume      float64
}

// DefaultControllerConfig returns the default controller tunables.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		AutosaveInterval:   30 * time.Second,
		AdaptiveContainers: defaultAdaptiveContainers,
		DefaultVolume:      1.0,
	}
}

// defaultAdaptiveContainers lists containers known to require
// remultiplexing or transcoding for in-browser playback.
var defaultAdaptiveContainers = []string{"mkv", "avi", "wmv", "flv", "ts", "mpg", "mpeg"}

// needsAdaptiveDelivery inspects the file's container type. Matroska-family
// and legacy containers request adaptive delivery; directly playable
// containers default to direct byte-range.
func needsAdaptiveDelivery(fileName string, adaptiveContainers []string) bool {
	if len(adaptiveContainers) == 0 {
		adaptiveContainers = defaultAdaptiveContainers
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	for _, container := range adaptiveContainers {
		if ext == strings.ToLower(container) {
			return true
		}
	}
	return false
}

// detectMediaKind guesses the media kind from the file extension when the
// presentation layer does not state it.
func detectMediaKind(fileName string) MediaKind {
	switch strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".") {
	case "mp3", "flac", "ogg", "aac", "m4a", "wav", "opus":
		return KindAudio
	default:
		return KindVideo
	}
}
