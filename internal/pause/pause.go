// Package pause decides when a capture session should end because the speaker
// has gone quiet.
//
// The detector measures RMS energy per buffer, smooths it, and tracks audio
// position from the byte count it is fed rather than the wall clock, so the
// same input always produces the same decision.
package pause

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"
)

// Config holds pause detector settings
type Config struct {
	SampleRate int
	Channels   int

	// IgnoreTime is the grace period at the start of a session during which
	// a pause is never reported
	IgnoreTime time.Duration

	// PauseDuration is how long the smoothed level must stay below Threshold
	PauseDuration time.Duration

	// Threshold is the normalized RMS level (0.0 - 1.0) treated as speech
	Threshold float64

	// Smoothing is the weight of the newest buffer in the moving level (0 < s <= 1)
	Smoothing float64
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		SampleRate:    16000,
		Channels:      1,
		IgnoreTime:    2 * time.Second,
		PauseDuration: 1500 * time.Millisecond,
		Threshold:     0.02,
		Smoothing:     0.3,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.IgnoreTime < 0 {
		return fmt.Errorf("ignore time must not be negative, got %v", c.IgnoreTime)
	}
	if c.PauseDuration <= 0 {
		return fmt.Errorf("pause duration must be positive, got %v", c.PauseDuration)
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", c.Threshold)
	}
	if c.Smoothing <= 0 || c.Smoothing > 1 {
		return fmt.Errorf("smoothing must be in (0, 1], got %f", c.Smoothing)
	}
	return nil
}

// Stats is a snapshot of the detector
type Stats struct {
	Position     time.Duration `json:"position"`
	LastActivity time.Duration `json:"last_activity"`
	Level        float64       `json:"level"`
	Buffers      uint64        `json:"buffers"`
	Detected     bool          `json:"detected"`
}

// Detector reports a pause at most once per session
type Detector struct {
	config  Config
	onPause func()

	mu           sync.Mutex
	armed        bool
	detected     bool
	bytes        int64
	lastActivity int64 // byte offset of the last buffer above threshold
	level        float64
	buffers      uint64
}

// New creates a detector. onPause may be nil.
func New(config Config, onPause func()) (*Detector, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pause config: %w", err)
	}
	return &Detector{config: config, onPause: onPause}, nil
}

// Begin arms the detector and resets all session state
func (d *Detector) Begin() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = true
	d.detected = false
	d.bytes = 0
	d.lastActivity = 0
	d.level = 0
	d.buffers = 0
}

// AddLength accumulates the first n bytes of buf (16-bit little-endian PCM)
func (d *Detector) AddLength(buf []byte, n int) {
	if n > len(buf) {
		n = len(buf)
	}
	n -= n % 2
	if n <= 0 {
		return
	}

	level := rms(buf[:n])

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.armed || d.detected {
		return
	}

	if d.buffers == 0 {
		d.level = level
	} else {
		d.level = d.config.Smoothing*level + (1-d.config.Smoothing)*d.level
	}
	d.buffers++
	d.bytes += int64(n)

	if d.level >= d.config.Threshold {
		d.lastActivity = d.bytes
	}
}

// Monitor checks the pause condition and fires the callback the first time it
// holds. It reports whether a pause has been detected in this session.
func (d *Detector) Monitor() bool {
	d.mu.Lock()
	if !d.armed {
		d.mu.Unlock()
		return false
	}
	if d.detected {
		d.mu.Unlock()
		return true
	}

	pos := d.duration(d.bytes)
	silent := pos - d.duration(d.lastActivity)
	if pos < d.config.IgnoreTime || silent < d.config.PauseDuration {
		d.mu.Unlock()
		return false
	}
	d.detected = true
	d.mu.Unlock()

	if d.onPause != nil {
		d.onPause()
	}
	return true
}

// HasDetected reports whether a pause has fired since the last Begin
func (d *Detector) HasDetected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.detected
}

// Stats returns a snapshot of the current session
func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Position:     d.duration(d.bytes),
		LastActivity: d.duration(d.lastActivity),
		Level:        d.level,
		Buffers:      d.buffers,
		Detected:     d.detected,
	}
}

func (d *Detector) duration(bytes int64) time.Duration {
	bytesPerSecond := int64(d.config.SampleRate * d.config.Channels * 2)
	return time.Duration(bytes * int64(time.Second) / bytesPerSecond)
}

// rms returns the normalized root mean square of 16-bit little-endian samples
func rms(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < samples; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
		sum += s * s
	}
	return math.Sqrt(sum/float64(samples)) / 32768.0
}
