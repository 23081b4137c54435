// Package events provides the event bus used for playback lifecycle
// notifications between the controller, the sync engine, and observers.
package events

import (
	"time"
)

// EventType represents the type of event
type EventType string

// System-wide event types
const (
	// Playback lifecycle events
	EventPlaybackStarted   EventType = "playback.started"
	EventPlaybackPaused    EventType = "playback.paused"
	EventPlaybackBuffering EventType = "playback.buffering"
	EventPlaybackProgress  EventType = "playback.progress"
	EventPlaybackFinished  EventType = "playback.finished"
	EventPlaybackError     EventType = "playback.error"

	// Adaptive session events
	EventSessionNegotiated EventType = "session.negotiated"
	EventSessionFallback   EventType = "session.fallback"
	EventSessionDestroyed  EventType = "session.destroyed"
	EventQualityChanged    EventType = "session.quality_changed"
	EventNetworkQuality    EventType = "session.network_quality"

	// Watch-progress sync events
	EventProgressSaved   EventType = "progress.saved"
	EventProgressSynced  EventType = "progress.synced"
	EventProgressFailed  EventType = "progress.sync_failed"
	EventProgressDeleted EventType = "progress.deleted"

	// System events
	EventSystemStarted EventType = "system.started"
	EventSystemStopped EventType = "system.stopped"

	// General events
	EventError   EventType = "error"
	EventWarning EventType = "warning"
	EventInfo    EventType = "info"
)

// EventPriority represents the priority level of an event
type EventPriority int

const (
	PriorityLow      EventPriority = 1
	PriorityNormal   EventPriority = 5
	PriorityHigh     EventPriority = 10
	PriorityCritical EventPriority = 20
)

// Event represents a system event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"` // system, controller, session-manager, sync-engine
	Target    string                 `json:"target"` // usually a media ID
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data"`
	Priority  EventPriority          `json:"priority"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventHandler represents a function that handles events
type EventHandler func(event Event) error

// EventFilter represents filters for event subscriptions
type EventFilter struct {
	Types    []EventType    `json:"types,omitempty"`
	Sources  []string       `json:"sources,omitempty"`
	Priority *EventPriority `json:"priority,omitempty"`
}

// Subscription represents an event subscription
type Subscription struct {
	ID            string       `json:"id"`
	Filter        EventFilter  `json:"filter"`
	Handler       EventHandler `json:"-"`
	Subscriber    string       `json:"subscriber"`
	Created       time.Time    `json:"created"`
	LastTriggered *time.Time   `json:"last_triggered,omitempty"`
	TriggerCount  int64        `json:"trigger_count"`
}

// EventStats represents statistics about events
type EventStats struct {
	TotalEvents         int64            `json:"total_events"`
	EventsByType        map[string]int64 `json:"events_by_type"`
	RecentEvents        []Event          `json:"recent_events"`
	ActiveSubscriptions int              `json:"active_subscriptions"`
}

// EventBusConfig represents configuration for the event bus
type EventBusConfig struct {
	BufferSize      int `json:"buffer_size"`
	MaxRecentEvents int `json:"max_recent_events"`
}

// DefaultEventBusConfig returns default configuration
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		BufferSize:      1000,
		MaxRecentEvents: 100,
	}
}
