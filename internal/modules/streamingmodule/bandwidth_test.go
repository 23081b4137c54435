package streamingmodule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestSampler() *BandwidthSampler {
	return NewBandwidthSampler(8, DefaultSamplerThresholds())
}

func TestSamplerClassification(t *testing.T) {
	tests := []struct {
		name     string
		bytes    int64
		expected NetworkQuality
	}{
		// bytes delivered over one second; bps = bytes * 8
		{"excellent above 5 Mbps", 1_000_000, NetworkExcellent},
		{"good above 2 Mbps", 400_000, NetworkGood},
		{"fair above 800 kbps", 150_000, NetworkFair},
		{"poor below 800 kbps", 50_000, NetworkPoor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSampler()
			s.Record(tt.bytes, time.Second, false)
			assert.Equal(t, tt.expected, s.Classify())
		})
	}
}

func TestSamplerStartsUnknown(t *testing.T) {
	s := newTestSampler()
	assert.Equal(t, NetworkUnknown, s.Classify())
	assert.Equal(t, int64(0), s.EstimateBps())
}

func TestSamplerStallCapsClassification(t *testing.T) {
	s := newTestSampler()
	s.Record(1_000_000, time.Second, true)
	assert.Equal(t, NetworkFair, s.Classify())

	// A stall never upgrades an already-poor link.
	s = newTestSampler()
	s.Record(50_000, time.Second, true)
	assert.Equal(t, NetworkPoor, s.Classify())
}

func TestSamplerRollingWindow(t *testing.T) {
	s := NewBandwidthSampler(2, DefaultSamplerThresholds())
	s.Record(50_000, time.Second, false)
	s.Record(50_000, time.Second, false)
	assert.Equal(t, NetworkPoor, s.Classify())

	// Fast samples push the slow ones out of the window.
	s.Record(1_000_000, time.Second, false)
	s.Record(1_000_000, time.Second, false)
	assert.Equal(t, NetworkExcellent, s.Classify())
	assert.Equal(t, int64(8_000_000), s.EstimateBps())
}

func TestSamplerIgnoresZeroElapsed(t *testing.T) {
	s := newTestSampler()
	s.Record(1_000_000, 0, false)
	assert.Equal(t, NetworkUnknown, s.Classify())
}

func TestSamplerReset(t *testing.T) {
	s := newTestSampler()
	s.Record(1_000_000, time.Second, false)
	s.Reset()
	assert.Equal(t, NetworkUnknown, s.Classify())
	assert.Equal(t, int64(0), s.EstimateBps())
}
