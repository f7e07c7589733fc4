package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

var (
	paMu   sync.Mutex
	paRefs int
)

// Initialize initializes PortAudio. Calls are reference counted and must be
// balanced with Terminate.
func Initialize() error {
	paMu.Lock()
	defer paMu.Unlock()

	if paRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize PortAudio: %w", err)
		}
	}
	paRefs++
	return nil
}

// Terminate releases one Initialize reference
func Terminate() error {
	paMu.Lock()
	defer paMu.Unlock()

	if paRefs == 0 {
		return nil
	}
	paRefs--
	if paRefs == 0 {
		if err := portaudio.Terminate(); err != nil {
			return fmt.Errorf("failed to terminate PortAudio: %w", err)
		}
	}
	return nil
}

// ListDevices returns every device PortAudio knows about
func ListDevices() ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	defaultInput, err := portaudio.DefaultInputDevice()
	if err != nil {
		// If we can't get the default device, continue without marking any as default
		defaultInput = nil
	}

	result := make([]Device, 0, len(devices))
	for i, dev := range devices {
		result = append(result, Device{
			ID:         i,
			Name:       dev.Name,
			IsDefault:  defaultInput != nil && dev.Name == defaultInput.Name,
			MaxInputs:  dev.MaxInputChannels,
			MaxOutputs: dev.MaxOutputChannels,
		})
	}

	return result, nil
}

func resolveDevice(id int, input bool) (*portaudio.DeviceInfo, error) {
	if id == DefaultSource {
		if input {
			dev, err := portaudio.DefaultInputDevice()
			if err != nil {
				return nil, fmt.Errorf("failed to get default input device: %w", err)
			}
			return dev, nil
		}
		dev, err := portaudio.DefaultOutputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default output device: %w", err)
		}
		return dev, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	if id < 0 || id >= len(devices) {
		return nil, fmt.Errorf("invalid device ID: %d", id)
	}
	return devices[id], nil
}

func latencyFor(dev *portaudio.DeviceInfo, mode LatencyMode, input bool) time.Duration {
	switch {
	case input && mode == LowLatency:
		return dev.DefaultLowInputLatency
	case input:
		return dev.DefaultHighInputLatency
	case mode == LowLatency:
		return dev.DefaultLowOutputLatency
	default:
		return dev.DefaultHighOutputLatency
	}
}

// portAudioInput is a blocking PortAudio capture stream
type portAudioInput struct {
	mu      sync.Mutex
	stream  *portaudio.Stream
	buf     []int16
	started bool
	closed  bool
}

// OpenInput opens a blocking capture stream. It implements InputOpener.
func OpenInput(p Params) (InputStream, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	device, err := resolveDevice(p.Source, true)
	if err != nil {
		return nil, err
	}

	// Validate device has input channels
	if device.MaxInputChannels < p.Channels {
		return nil, fmt.Errorf("device '%s' (ID: %d) has %d input channels, need %d",
			device.Name, p.Source, device.MaxInputChannels, p.Channels)
	}

	in := &portAudioInput{buf: make([]int16, p.FramesPerBuffer*p.Channels)}

	streamParams := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: p.Channels,
			Latency:  latencyFor(device, p.Latency, true),
		},
		SampleRate:      float64(p.SampleRate),
		FramesPerBuffer: p.FramesPerBuffer,
	}

	stream, err := portaudio.OpenStream(streamParams, in.buf)
	if err != nil {
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	in.stream = stream

	return in, nil
}

func (in *portAudioInput) Start() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return ErrStreamClosed
	}
	if in.started {
		return nil
	}
	if err := in.stream.Start(); err != nil {
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	in.started = true
	return nil
}

func (in *portAudioInput) Read(p []byte) (int, error) {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return 0, ErrStreamClosed
	}
	if !in.started {
		in.mu.Unlock()
		return 0, ErrStreamStopped
	}
	stream := in.stream
	in.mu.Unlock()

	// An overflow only means samples were dropped before this buffer
	if err := stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return 0, fmt.Errorf("failed to read input stream: %w", err)
	}

	n := 0
	for _, s := range in.buf {
		if n+2 > len(p) {
			break
		}
		binary.LittleEndian.PutUint16(p[n:], uint16(s))
		n += 2
	}
	return n, nil
}

func (in *portAudioInput) Active() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.started && !in.closed
}

func (in *portAudioInput) Stop() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if !in.started || in.closed {
		return nil
	}
	in.started = false
	if err := in.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop input stream: %w", err)
	}
	return nil
}

func (in *portAudioInput) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return nil
	}
	in.closed = true
	if in.started {
		in.started = false
		_ = in.stream.Abort()
	}
	if err := in.stream.Close(); err != nil {
		return fmt.Errorf("failed to close input stream: %w", err)
	}
	return nil
}

// portAudioOutput is a blocking PortAudio playback stream. Writes are
// buffered until a full PortAudio buffer is available.
type portAudioOutput struct {
	mu      sync.Mutex
	stream  *portaudio.Stream
	out     []int16
	pending []byte
	started bool
	closed  bool
}

// OpenOutput opens a blocking playback stream. It implements OutputOpener.
func OpenOutput(p Params) (OutputStream, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	device, err := resolveDevice(p.Source, false)
	if err != nil {
		return nil, err
	}

	if device.MaxOutputChannels < p.Channels {
		return nil, fmt.Errorf("device '%s' (ID: %d) has %d output channels, need %d",
			device.Name, p.Source, device.MaxOutputChannels, p.Channels)
	}

	o := &portAudioOutput{out: make([]int16, p.FramesPerBuffer*p.Channels)}

	streamParams := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: p.Channels,
			Latency:  latencyFor(device, p.Latency, false),
		},
		SampleRate:      float64(p.SampleRate),
		FramesPerBuffer: p.FramesPerBuffer,
	}

	stream, err := portaudio.OpenStream(streamParams, o.out)
	if err != nil {
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	o.stream = stream

	return o, nil
}

func (o *portAudioOutput) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return 0, ErrStreamClosed
	}
	if !o.started {
		if err := o.stream.Start(); err != nil {
			return 0, fmt.Errorf("failed to start output stream: %w", err)
		}
		o.started = true
	}

	o.pending = append(o.pending, p...)
	for len(o.pending) >= len(o.out)*2 {
		if err := o.writeBufferLocked(); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// writeBufferLocked converts one PortAudio buffer worth of pending bytes,
// zero padding a short tail. Must be called with o.mu held.
func (o *portAudioOutput) writeBufferLocked() error {
	for i := range o.out {
		if i*2+1 < len(o.pending) {
			o.out[i] = int16(binary.LittleEndian.Uint16(o.pending[i*2:]))
		} else {
			o.out[i] = 0
		}
	}

	consumed := len(o.out) * 2
	if consumed > len(o.pending) {
		consumed = len(o.pending)
	}
	o.pending = o.pending[consumed:]

	// Underflow means the device ran dry before this buffer, which is expected
	// at the start of every utterance.
	if err := o.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
		return fmt.Errorf("failed to write output stream: %w", err)
	}
	return nil
}

func (o *portAudioOutput) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrStreamClosed
	}
	if !o.started {
		return ErrStreamStopped
	}

	if len(o.pending) > 0 {
		if err := o.writeBufferLocked(); err != nil {
			return err
		}
	}

	o.started = false
	if err := o.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop output stream: %w", err)
	}
	return nil
}

func (o *portAudioOutput) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.pending = o.pending[:0]
	if o.started && !o.closed {
		o.started = false
		if err := o.stream.Abort(); err != nil {
			return fmt.Errorf("failed to abort output stream: %w", err)
		}
	}
	return nil
}

func (o *portAudioOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	o.closed = true
	o.pending = nil
	if o.started {
		o.started = false
		_ = o.stream.Abort()
	}
	if err := o.stream.Close(); err != nil {
		return fmt.Errorf("failed to close output stream: %w", err)
	}
	return nil
}
