// Package recording drives one microphone capture session at a time on a
// dedicated goroutine and feeds every buffer to the pause detector, an
// optional WAV file and the registered listener.
package recording

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yok-tottii/ezvoice/internal/audio"
	"github.com/yok-tottii/ezvoice/internal/logger"
	"github.com/yok-tottii/ezvoice/internal/observe"
	"github.com/yok-tottii/ezvoice/internal/pause"
	"github.com/yok-tottii/ezvoice/internal/recognition"
)

// MaxInitAttempts bounds how often the input stream is opened before the
// session reports an audio error
const MaxInitAttempts = 4

// DefaultInitBackoff is the sleep between initialization attempts
const DefaultInitBackoff = 50 * time.Millisecond

var (
	// ErrNoListener is returned by StartRecording when no listener is registered
	ErrNoListener = errors.New("recording: no listener registered")
	// ErrAlreadyRecording is returned by StartRecording while a session is running
	ErrAlreadyRecording = errors.New("recording: session already active")
)

// ErrorCode classifies a capture failure
type ErrorCode int

const (
	// ErrorAudio covers hardware initialization and read failures
	ErrorAudio ErrorCode = iota + 1
	// ErrorInitialization covers failures before the hardware is touched, such
	// as a capture file that cannot be created
	ErrorInitialization
)

// String returns the string representation of the code
func (c ErrorCode) String() string {
	switch c {
	case ErrorAudio:
		return "Audio"
	case ErrorInitialization:
		return "Initialization"
	default:
		return "Unknown"
	}
}

// Listener receives capture progress. All callbacks run on the capture
// goroutine.
type Listener interface {
	OnRecordingStarted()
	OnBufferReceived(buf []byte)
	OnPauseDetected()
	OnRecordingEnded()
	OnFileWriteComplete(path string)
	OnError(code ErrorCode, err error)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Started           func()
	Buffer            func(buf []byte)
	Pause             func()
	Ended             func()
	FileWriteComplete func(path string)
	Error             func(code ErrorCode, err error)
}

func (f ListenerFuncs) OnRecordingStarted() {
	if f.Started != nil {
		f.Started()
	}
}

func (f ListenerFuncs) OnBufferReceived(buf []byte) {
	if f.Buffer != nil {
		f.Buffer(buf)
	}
}

func (f ListenerFuncs) OnPauseDetected() {
	if f.Pause != nil {
		f.Pause()
	}
}

func (f ListenerFuncs) OnRecordingEnded() {
	if f.Ended != nil {
		f.Ended()
	}
}

func (f ListenerFuncs) OnFileWriteComplete(path string) {
	if f.FileWriteComplete != nil {
		f.FileWriteComplete(path)
	}
}

func (f ListenerFuncs) OnError(code ErrorCode, err error) {
	if f.Error != nil {
		f.Error(code, err)
	}
}

// Option configures a Controller
type Option func(*Controller)

// WithListener registers the listener up front
func WithListener(l Listener) Option {
	return func(c *Controller) { c.listener = l }
}

// WithPauseDetector enables automatic stop on silence
func WithPauseDetector(d *pause.Detector) Option {
	return func(c *Controller) { c.detector = d }
}

// WithFileSink writes every session to a WAV file at path
func WithFileSink(path string) Option {
	return func(c *Controller) { c.filePath = path }
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(c *Controller) { c.log = l.With("recording") }
}

// WithMetrics sets the metrics instance
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithInitBackoff sets the sleep between initialization attempts
func WithInitBackoff(d time.Duration) Option {
	return func(c *Controller) { c.initBackoff = d }
}

// WithMaxDuration stops a session automatically after d. Zero disables it.
func WithMaxDuration(d time.Duration) Option {
	return func(c *Controller) { c.maxDuration = d }
}

// Controller owns the capture session
type Controller struct {
	params      audio.Params
	opener      audio.InputOpener
	state       *recognition.Coordinator
	detector    *pause.Detector
	filePath    string
	log         *logger.Logger
	metrics     *observe.Metrics
	initBackoff time.Duration
	maxDuration time.Duration

	mu        sync.Mutex // guards listener, active, done, stopTimer
	listener  Listener
	active    bool
	done      chan struct{}
	stopTimer *time.Timer

	recording   atomic.Bool
	interrupted atomic.Bool
	forced      atomic.Bool
	available   atomic.Bool

	errMu      sync.Mutex
	errLatched bool

	// shutdownMu serializes teardown of the session resources
	shutdownMu sync.Mutex
	stream     audio.InputStream
	sink       *wavSink
	tornDown   bool
}

// New creates a capture controller for params. state is shared with every
// other component that reads the recognition state.
func New(params audio.Params, opener audio.InputOpener, state *recognition.Coordinator, opts ...Option) (*Controller, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid capture parameters: %w", err)
	}
	if opener == nil {
		return nil, fmt.Errorf("input opener is required")
	}
	if state == nil {
		state = recognition.NewCoordinator()
	}

	c := &Controller{
		params:      params,
		opener:      opener,
		state:       state,
		log:         logger.Discard(),
		metrics:     observe.Default(),
		initBackoff: DefaultInitBackoff,
	}
	for _, o := range opts {
		o(c)
	}
	c.available.Store(true)

	return c, nil
}

// SetListener registers the listener for future sessions
func (c *Controller) SetListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

// Params returns the capture parameters
func (c *Controller) Params() audio.Params {
	return c.params
}

// StartRecording spawns the capture goroutine. Precondition failures are
// returned synchronously; everything after that is reported to the listener.
func (c *Controller) StartRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listener == nil {
		return ErrNoListener
	}
	if c.active {
		return ErrAlreadyRecording
	}

	c.errMu.Lock()
	c.errLatched = false
	c.errMu.Unlock()

	c.shutdownMu.Lock()
	c.tornDown = false
	c.shutdownMu.Unlock()

	c.interrupted.Store(false)
	c.forced.Store(false)
	c.recording.Store(true)
	c.active = true
	c.done = make(chan struct{})

	if c.maxDuration > 0 {
		c.stopTimer = time.AfterFunc(c.maxDuration, func() {
			c.log.Info("Maximum capture duration %v reached", c.maxDuration)
			c.StopRecording()
		})
	}

	go c.run(c.listener, c.done)
	return nil
}

// StopRecording asks the capture loop to finish after the current read. The
// session ends with OnRecordingEnded.
func (c *Controller) StopRecording() {
	if !c.recording.Load() {
		return
	}
	c.interrupted.Store(true)
	c.recording.Store(false)
	c.state.Set(recognition.Idle)
	c.log.Debug("Capture stop requested")
}

// ForceShutdown ends the session without any further listener callbacks and
// releases the input stream.
func (c *Controller) ForceShutdown() {
	c.forced.Store(true)
	c.interrupted.Store(true)
	c.recording.Store(false)
	c.state.Set(recognition.Idle)

	// StartRecording must not reset tornDown between the check and the release
	c.mu.Lock()
	defer c.mu.Unlock()

	// A running session tears itself down so the stream is never closed
	// under a blocked Read.
	if !c.active {
		c.audioShutdown(nil, true)
	}
}

// Wait blocks until the current capture goroutine has exited
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// IsRecording reports whether a session is capturing
func (c *Controller) IsRecording() bool {
	return c.recording.Load()
}

// IsAvailable reports whether the last session ended without a hardware error
func (c *Controller) IsAvailable() bool {
	return c.available.Load()
}

// WasInterrupted reports whether the last session was stopped on request or
// by a pause
func (c *Controller) WasInterrupted() bool {
	return c.interrupted.Load()
}

func (c *Controller) run(l Listener, done chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ctx := context.Background()
	c.metrics.CaptureSessions.Add(ctx, 1)

	defer func() {
		c.metrics.CaptureSessions.Add(ctx, -1)
		c.mu.Lock()
		c.active = false
		if c.stopTimer != nil {
			c.stopTimer.Stop()
			c.stopTimer = nil
		}
		c.mu.Unlock()
		close(done)
	}()

	defer func() {
		if r := recover(); r != nil {
			c.fail(l, ErrorAudio, fmt.Errorf("capture panicked: %v", r))
		}
	}()

	if c.filePath != "" {
		sink, err := newWAVSink(c.filePath, c.params)
		if err != nil {
			c.fail(l, ErrorInitialization, err)
			return
		}
		c.shutdownMu.Lock()
		c.sink = sink
		c.shutdownMu.Unlock()
	}

	stream, err := c.initialize()
	if err != nil {
		if !c.recording.Load() {
			c.log.Debug("Capture stopped during initialization")
			c.audioShutdown(l, true)
			return
		}
		c.fail(l, ErrorAudio, err)
		return
	}
	c.available.Store(true)

	c.shutdownMu.Lock()
	c.stream = stream
	sink := c.sink
	c.shutdownMu.Unlock()

	if c.detector != nil {
		c.detector.Begin()
	}

	c.log.Info("Capture started: %d Hz, %d channel(s), %d frames per buffer",
		c.params.SampleRate, c.params.Channels, c.params.FramesPerBuffer)

	buf := make([]byte, c.params.BufferSize())
	started := false
	paused := false

	for c.recording.Load() && stream.Active() {
		n, err := stream.Read(buf)
		if err != nil {
			if !c.recording.Load() {
				break
			}
			c.fail(l, ErrorAudio, fmt.Errorf("failed to read input stream: %w", err))
			return
		}
		if n <= 0 {
			continue
		}

		if !started {
			started = true
			c.state.Set(recognition.Listening)
			l.OnRecordingStarted()
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])

		c.metrics.CaptureFrames.Add(ctx, 1)
		c.metrics.CaptureBytes.Add(ctx, int64(n))

		if c.detector != nil {
			c.detector.AddLength(frame, n)
		}
		if sink != nil {
			if err := sink.Write(frame); err != nil {
				c.log.Error("%v", err)
			}
		}
		l.OnBufferReceived(frame)

		if c.detector != nil && c.detector.Monitor() {
			paused = true
			break
		}
	}

	c.recording.Store(false)
	c.state.Set(recognition.Idle)
	if paused {
		c.interrupted.Store(true)
		c.metrics.PausesDetected.Add(ctx, 1)
		c.log.Info("Pause detected, ending capture")
		l.OnPauseDetected()
	}
	c.audioShutdown(l, c.forced.Load())
}

// initialize opens and starts the input stream, retrying up to
// MaxInitAttempts times
func (c *Controller) initialize() (audio.InputStream, error) {
	var lastErr error
	for attempt := 1; attempt <= MaxInitAttempts; attempt++ {
		if !c.recording.Load() {
			return nil, errors.New("capture stopped")
		}

		stream, err := c.opener(c.params)
		if err == nil {
			if err = stream.Start(); err == nil {
				return stream, nil
			}
			if cerr := stream.Close(); cerr != nil {
				c.log.Debug("Failed to close stream after start error: %v", cerr)
			}
		}
		lastErr = err
		c.log.Warn("Capture init attempt %d/%d failed: %v", attempt, MaxInitAttempts, err)

		if attempt < MaxInitAttempts && c.initBackoff > 0 {
			time.Sleep(c.initBackoff)
		}
	}
	return nil, fmt.Errorf("failed to initialize capture after %d attempts: %w", MaxInitAttempts, lastErr)
}

// fail reports err once per session and tears down without further callbacks
func (c *Controller) fail(l Listener, code ErrorCode, err error) {
	c.errMu.Lock()
	if c.errLatched {
		c.errMu.Unlock()
		c.log.Debug("Suppressed duplicate capture error: %v", err)
		return
	}
	c.errLatched = true
	c.errMu.Unlock()

	c.recording.Store(false)
	c.available.Store(false)
	c.state.Set(recognition.Idle)
	c.metrics.CaptureErrors.Add(context.Background(), 1)
	c.log.Error("Capture failed (%s): %v", code, err)

	l.OnError(code, err)
	c.audioShutdown(l, true)
}

// audioShutdown releases the session and, unless forced, notifies the
// listener. Only the first call per session has any effect.
func (c *Controller) audioShutdown(l Listener, force bool) {
	path, released := c.release()
	if !released || force {
		return
	}

	l.OnRecordingEnded()
	if path != "" {
		l.OnFileWriteComplete(path)
	}
}

// release stops and closes the stream and file once per session. It returns
// the finished file path, if any, and whether this call did the work.
func (c *Controller) release() (string, bool) {
	c.shutdownMu.Lock()
	defer c.shutdownMu.Unlock()

	if c.tornDown {
		return "", false
	}
	c.tornDown = true

	if c.stream != nil {
		if err := c.stream.Stop(); err != nil {
			c.log.Warn("Failed to stop input stream: %v", err)
		}
		if err := c.stream.Close(); err != nil {
			c.log.Warn("Failed to close input stream: %v", err)
		}
		c.stream = nil
	}

	path := ""
	if c.sink != nil {
		if err := c.sink.Close(); err != nil {
			c.log.Error("%v", err)
		} else {
			path = c.sink.path
		}
		c.sink = nil
	}

	c.log.Debug("Capture resources released")
	return path, true
}
