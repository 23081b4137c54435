package streamingmodule

import (
	"sync"
	"time"
)

// SamplerThresholds holds the classification cut-offs in bits per second.
type SamplerThresholds struct {
	ExcellentBps int64
	GoodBps      int64
	FairBps      int64
}

// DefaultSamplerThresholds returns the default classification cut-offs.
func DefaultSamplerThresholds() SamplerThresholds {
	return SamplerThresholds{
		ExcellentBps: 5_000_000,
		GoodBps:      2_000_000,
		FairBps:      800_000,
	}
}

type sample struct {
	bytes   int64
	elapsed time.Duration
	stalled bool
}

// BandwidthSampler keeps a rolling window of delivery statistics and
// produces a coarse network-quality classification. The classification is
// advisory and never raises errors; a missing sample simply skips one
// classification tick.
type BandwidthSampler struct {
	mu         sync.Mutex
	window     []sample
	maxSamples int
	thresholds SamplerThresholds
	lastClass  NetworkQuality
}

// NewBandwidthSampler creates a sampler with the given rolling window size.
func NewBandwidthSampler(windowSize int, thresholds SamplerThresholds) *BandwidthSampler {
	if windowSize <= 0 {
		windowSize = 8
	}
	return &BandwidthSampler{
		window:     make([]sample, 0, windowSize),
		maxSamples: windowSize,
		thresholds: thresholds,
		lastClass:  NetworkUnknown,
	}
}

// Record adds one delivery sample to the rolling window.
func (s *BandwidthSampler) Record(bytes int64, elapsed time.Duration, stalled bool) {
	if elapsed <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.window = append(s.window, sample{bytes: bytes, elapsed: elapsed, stalled: stalled})
	if len(s.window) > s.maxSamples {
		s.window = s.window[1:]
	}
	s.lastClass = s.classifyLocked()
}

// EstimateBps returns the rolling estimate of delivered bits per second.
func (s *BandwidthSampler) EstimateBps() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.estimateLocked()
}

// Classify returns the current network quality. With no samples yet the
// previous classification is kept, starting at unknown.
func (s *BandwidthSampler) Classify() NetworkQuality {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastClass
}

// Reset clears the window, e.g. when a new session starts.
func (s *BandwidthSampler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = s.window[:0]
	s.lastClass = NetworkUnknown
}

func (s *BandwidthSampler) estimateLocked() int64 {
	var totalBytes int64
	var totalElapsed time.Duration
	for _, sm := range s.window {
		totalBytes += sm.bytes
		totalElapsed += sm.elapsed
	}
	if totalElapsed <= 0 {
		return 0
	}
	return int64(float64(totalBytes*8) / totalElapsed.Seconds())
}

func (s *BandwidthSampler) classifyLocked() NetworkQuality {
	if len(s.window) == 0 {
		return s.lastClass
	}

	// A stall in the window caps the classification at fair.
	stalled := false
	for _, sm := range s.window {
		if sm.stalled {
			stalled = true
			break
		}
	}

	bps := s.estimateLocked()
	var class NetworkQuality
	switch {
	case bps > s.thresholds.ExcellentBps:
		class = NetworkExcellent
	case bps > s.thresholds.GoodBps:
		class = NetworkGood
	case bps > s.thresholds.FairBps:
		class = NetworkFair
	default:
		class = NetworkPoor
	}

	if stalled && (class == NetworkExcellent || class == NetworkGood) {
		class = NetworkFair
	}
	return class
}
