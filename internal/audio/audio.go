package audio

import (
	"errors"
	"fmt"
)

// Encoding identifies the sample format carried by a stream
type Encoding int

const (
	// PCM16 is signed 16-bit little-endian linear PCM
	PCM16 Encoding = iota
)

// String returns the string representation of the encoding
func (e Encoding) String() string {
	switch e {
	case PCM16:
		return "PCM16"
	default:
		return "Unknown"
	}
}

// DefaultSource selects the system default input device
const DefaultSource = -1

// Device represents an audio device
type Device struct {
	ID         int
	Name       string
	IsDefault  bool
	MaxInputs  int
	MaxOutputs int
}

// LatencyMode defines the latency priority
type LatencyMode int

const (
	// LowLatency prioritizes low latency (real-time)
	LowLatency LatencyMode = iota
	// HighStability prioritizes stability (larger buffer)
	HighStability
)

// Params describes one capture or playback stream. It is a value type and is
// never mutated after a session has been created from it.
type Params struct {
	SampleRate      int
	Channels        int
	BitDepth        int
	Source          int // device id, DefaultSource for the system default
	Encoding        Encoding
	FramesPerBuffer int
	Latency         LatencyMode
}

// DefaultParams returns the default capture parameters
// Sample rate: 16kHz, mono, 16-bit, 1024 frames per buffer
func DefaultParams() Params {
	return Params{
		SampleRate:      16000,
		Channels:        1,
		BitDepth:        16,
		Source:          DefaultSource,
		Encoding:        PCM16,
		FramesPerBuffer: 1024,
		Latency:         HighStability,
	}
}

// BytesPerFrame returns the size of one interleaved frame in bytes
func (p Params) BytesPerFrame() int {
	return p.Channels * p.BitDepth / 8
}

// BufferSize returns the number of bytes read per capture iteration
func (p Params) BufferSize() int {
	return p.FramesPerBuffer * p.BytesPerFrame()
}

// BytesPerSecond returns the byte rate of the stream
func (p Params) BytesPerSecond() int {
	return p.SampleRate * p.BytesPerFrame()
}

// Validate checks that the parameters describe a stream we can drive
func (p Params) Validate() error {
	if p.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", p.SampleRate)
	}
	if p.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", p.Channels)
	}
	if p.BitDepth != 16 || p.Encoding != PCM16 {
		return fmt.Errorf("unsupported format: %d-bit %s", p.BitDepth, p.Encoding)
	}
	if p.FramesPerBuffer <= 0 {
		return fmt.Errorf("frames per buffer must be positive, got %d", p.FramesPerBuffer)
	}
	return nil
}

// ErrStreamStopped is returned when an operation needs a running stream
var ErrStreamStopped = errors.New("audio: stream not started")

// ErrStreamClosed is returned when a released stream is used
var ErrStreamClosed = errors.New("audio: stream closed")

// InputStream is a hardware capture stream.
// This abstraction keeps the capture controller independent of PortAudio.
type InputStream interface {
	// Start begins capturing
	Start() error

	// Read blocks until one buffer of PCM is available and copies it into p
	Read(p []byte) (int, error)

	// Active reports whether the hardware is in the recording state
	Active() bool

	// Stop stops capturing without releasing the device
	Stop() error

	// Close releases the device
	Close() error
}

// OutputStream is a hardware playback stream
type OutputStream interface {
	// Write blocks until p has been handed to the device
	Write(p []byte) (int, error)

	// Stop drains pending audio and stops the stream without releasing it
	Stop() error

	// Flush discards audio not yet played
	Flush() error

	// Close releases the device
	Close() error
}

// InputOpener opens a capture stream for the given parameters
type InputOpener func(p Params) (InputStream, error)

// OutputOpener opens a playback stream for the given parameters
type OutputOpener func(p Params) (OutputStream, error)
