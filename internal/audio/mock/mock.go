// Package mock provides in-memory implementations of audio.InputStream and
// audio.OutputStream for unit tests.
//
// All mocks are safe for concurrent use and record their calls so tests can
// assert on counts after the fact.
package mock

import (
	"sync"
	"time"

	"github.com/yok-tottii/ezvoice/internal/audio"
)

// InputStream replays Frames on successive Reads, then returns silence.
type InputStream struct {
	mu sync.Mutex

	// Frames are returned in order by Read.
	Frames [][]byte

	// ReadError is returned by the Read call with index ErrorAt (zero based).
	ReadError error
	ErrorAt   int

	// StartError is returned by Start.
	StartError error

	// Interval paces Read so a capture loop does not spin. Defaults to 1ms.
	Interval time.Duration

	CallCountStart int
	CallCountRead  int
	CallCountStop  int
	CallCountClose int

	started bool
	closed  bool
}

// Start implements audio.InputStream.
func (s *InputStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartError != nil {
		return s.StartError
	}
	if s.closed {
		return audio.ErrStreamClosed
	}
	s.started = true
	return nil
}

// Read implements audio.InputStream.
func (s *InputStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	idx := s.CallCountRead
	s.CallCountRead++
	closed, started := s.closed, s.started
	interval := s.Interval
	var frame []byte
	if idx < len(s.Frames) {
		frame = s.Frames[idx]
	}
	readErr := s.ReadError
	errorAt := s.ErrorAt
	s.mu.Unlock()

	if closed {
		return 0, audio.ErrStreamClosed
	}
	if !started {
		return 0, audio.ErrStreamStopped
	}

	if interval <= 0 {
		interval = time.Millisecond
	}
	time.Sleep(interval)

	if readErr != nil && idx == errorAt {
		return 0, readErr
	}
	if frame != nil {
		return copy(p, frame), nil
	}
	clear(p)
	return len(p), nil
}

// Active implements audio.InputStream.
func (s *InputStream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.closed
}

// Stop implements audio.InputStream.
func (s *InputStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	s.started = false
	return nil
}

// Close implements audio.InputStream.
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closed = true
	s.started = false
	return nil
}

// Reads returns how many times Read was called.
func (s *InputStream) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountRead
}

// Closed reports whether Close was called.
func (s *InputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// InputOpener hands out Stream after failing the first Failures calls.
type InputOpener struct {
	mu sync.Mutex

	Stream   *InputStream
	Failures int
	Err      error

	Calls int
}

// Open implements audio.InputOpener.
func (o *InputOpener) Open(p audio.Params) (audio.InputStream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Calls++
	if o.Calls <= o.Failures {
		return nil, o.Err
	}
	return o.Stream, nil
}

// CallCount returns how many times Open was called.
func (o *InputOpener) CallCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Calls
}

// OutputStream records every Write. When Gate is non-nil each Write waits for
// a value on Gate (or for Close) before it completes.
type OutputStream struct {
	mu sync.Mutex

	Gate       chan struct{}
	WriteError error
	StopError  error

	writes         [][]byte
	CallCountStop  int
	CallCountFlush int
	CallCountClose int

	once   sync.Once
	closed chan struct{}
}

// NewOutputStream returns an OutputStream ready for use.
func NewOutputStream() *OutputStream {
	return &OutputStream{closed: make(chan struct{})}
}

func (s *OutputStream) closedCh() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed == nil {
		s.closed = make(chan struct{})
	}
	return s.closed
}

// Write implements audio.OutputStream.
func (s *OutputStream) Write(p []byte) (int, error) {
	closed := s.closedCh()

	select {
	case <-closed:
		return 0, audio.ErrStreamClosed
	default:
	}

	if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-closed:
			return 0, audio.ErrStreamClosed
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteError != nil {
		return 0, s.WriteError
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	s.writes = append(s.writes, cp)
	return len(p), nil
}

// Stop implements audio.OutputStream.
func (s *OutputStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	return s.StopError
}

// Flush implements audio.OutputStream.
func (s *OutputStream) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountFlush++
	return nil
}

// Close implements audio.OutputStream.
func (s *OutputStream) Close() error {
	closed := s.closedCh()
	s.mu.Lock()
	s.CallCountClose++
	s.mu.Unlock()
	s.once.Do(func() { close(closed) })
	return nil
}

// Writes returns a copy of every chunk written so far.
func (s *OutputStream) Writes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.writes))
	copy(out, s.writes)
	return out
}

// Bytes returns all written chunks concatenated.
func (s *OutputStream) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for _, w := range s.writes {
		out = append(out, w...)
	}
	return out
}

// Stops returns how many times Stop was called.
func (s *OutputStream) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountStop
}

// Closed reports whether Close was called.
func (s *OutputStream) Closed() bool {
	select {
	case <-s.closedCh():
		return true
	default:
		return false
	}
}

// OutputOpener hands out Streams in order, creating fresh ones when empty.
type OutputOpener struct {
	mu sync.Mutex

	Streams []*OutputStream
	Err     error

	opened []*OutputStream
}

// Open implements audio.OutputOpener.
func (o *OutputOpener) Open(p audio.Params) (audio.OutputStream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return nil, o.Err
	}
	var s *OutputStream
	if len(o.Streams) > 0 {
		s = o.Streams[0]
		o.Streams = o.Streams[1:]
	} else {
		s = NewOutputStream()
	}
	o.opened = append(o.opened, s)
	return s, nil
}

// Opened returns every stream handed out so far.
func (o *OutputOpener) Opened() []*OutputStream {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*OutputStream, len(o.opened))
	copy(out, o.opened)
	return out
}
