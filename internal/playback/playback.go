// Package playback serializes synthesized speech onto one output stream.
//
// Enqueue only appends and wakes a dedicated worker goroutine; the worker
// drains items in FIFO order, writing each payload in bounded chunks after
// skipping its 44-byte header.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/yok-tottii/ezvoice/internal/audio"
	"github.com/yok-tottii/ezvoice/internal/logger"
	"github.com/yok-tottii/ezvoice/internal/observe"
)

const (
	// HeaderSize is the non-audio prefix of every cached payload
	HeaderSize = 44

	// DefaultChunkSize is the maximum number of bytes per stream write
	DefaultChunkSize = 4096
)

// ErrClosed is returned by Enqueue after Close
var ErrClosed = errors.New("playback: queue closed")

var errCancelled = errors.New("playback: item cancelled")

// Listener receives per-utterance progress. Callbacks run on the worker
// goroutine and must not block for long.
type Listener interface {
	OnStart(utteranceID string)
	OnDone(utteranceID string)
	OnError(utteranceID string, err error)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Start func(utteranceID string)
	Done  func(utteranceID string)
	Error func(utteranceID string, err error)
}

func (f ListenerFuncs) OnStart(id string) {
	if f.Start != nil {
		f.Start(id)
	}
}

func (f ListenerFuncs) OnDone(id string) {
	if f.Done != nil {
		f.Done(id)
	}
}

func (f ListenerFuncs) OnError(id string, err error) {
	if f.Error != nil {
		f.Error(id, err)
	}
}

// Item is one queued utterance
type Item struct {
	PCM         []byte
	UtteranceID string
}

// Config holds queue settings
type Config struct {
	Params    audio.Params
	ChunkSize int
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Params:    audio.DefaultParams(),
		ChunkSize: DefaultChunkSize,
	}
}

// Option configures a Queue
type Option func(*Queue)

// WithListener sets the progress listener
func WithListener(l Listener) Option {
	return func(q *Queue) { q.listener = l }
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(q *Queue) { q.log = l.With("playback") }
}

// WithMetrics sets the metrics instance
func WithMetrics(m *observe.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// Queue is a FIFO of utterances drained by exactly one worker goroutine
type Queue struct {
	config   Config
	opener   audio.OutputOpener
	listener Listener
	log      *logger.Logger
	metrics  *observe.Metrics

	mu     sync.Mutex
	items  []Item
	stream audio.OutputStream
	gen    uint64 // bumped by an interrupting Stop
	closed bool

	notify chan struct{}
	quit   chan struct{}
	done   chan struct{}
}

// New creates a queue and starts its worker. The output stream is opened
// lazily on the first item.
func New(opener audio.OutputOpener, config Config, opts ...Option) *Queue {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}

	q := &Queue{
		config:   config,
		opener:   opener,
		listener: ListenerFuncs{},
		log:      logger.Discard(),
		metrics:  observe.Default(),
		notify:   make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}

	go q.run()
	return q
}

// Enqueue appends pcm for utteranceID and wakes the worker. The queue takes
// ownership of pcm.
func (q *Queue) Enqueue(pcm []byte, utteranceID string) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, Item{PCM: pcm, UtteranceID: utteranceID})
	q.mu.Unlock()

	q.metrics.PlaybackQueue.Add(context.Background(), 1)

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Len returns the number of items not yet fully written, including the one
// being played
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stop halts playback. With interrupt set the queue is cleared, the item in
// flight is cancelled without OnDone, and the output stream is released; the
// next Enqueue opens a new one. Otherwise the stream is stopped gracefully and
// queued items are kept.
func (q *Queue) Stop(interrupt bool) {
	q.mu.Lock()
	stream := q.stream

	if interrupt {
		dropped := len(q.items)
		q.items = nil
		q.gen++
		q.stream = nil
		q.mu.Unlock()

		q.metrics.PlaybackQueue.Add(context.Background(), int64(-dropped))
		q.log.Info("Interrupted playback, dropped %d item(s)", dropped)
		q.release(stream)
		return
	}
	q.mu.Unlock()

	if stream == nil {
		return
	}
	if err := stream.Stop(); err != nil {
		if errors.Is(err, audio.ErrStreamStopped) {
			q.log.Warn("Stop on a stream that was not playing: %v", err)
			return
		}
		q.log.Error("Failed to stop output stream: %v", err)
	}
}

// Close stops the worker, drops queued items and releases the stream. It is
// safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.Stop(true)
	close(q.quit)
	<-q.done
}

func (q *Queue) release(stream audio.OutputStream) {
	if stream == nil {
		return
	}
	if err := stream.Flush(); err != nil {
		q.log.Warn("Failed to flush output stream: %v", err)
	}
	if err := stream.Close(); err != nil {
		q.log.Warn("Failed to close output stream: %v", err)
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		select {
		case <-q.quit:
			return
		case <-q.notify:
			q.drain()
		}
	}
}

// drain plays items until the queue is empty
func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 || q.closed {
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		gen := q.gen
		stream, err := q.streamLocked()
		q.mu.Unlock()

		if err != nil {
			q.log.Error("Failed to open output stream for %s: %v", item.UtteranceID, err)
			if q.finish(gen) {
				q.metrics.RecordPlayback(context.Background(), "error")
				q.listener.OnError(item.UtteranceID, err)
			}
			continue
		}

		q.listener.OnStart(item.UtteranceID)
		writeErr := q.write(stream, item, gen)

		if !q.finish(gen) {
			q.log.Debug("Playback of %s cancelled", item.UtteranceID)
			q.metrics.RecordPlayback(context.Background(), "cancelled")
			continue
		}

		if q.Len() == 0 {
			if err := stream.Stop(); err != nil && !errors.Is(err, audio.ErrStreamStopped) {
				q.log.Warn("Failed to stop output stream: %v", err)
			}
		}

		if writeErr != nil {
			q.log.Error("Failed to play %s: %v", item.UtteranceID, writeErr)
			q.metrics.RecordPlayback(context.Background(), "error")
			q.listener.OnError(item.UtteranceID, writeErr)
			continue
		}
		q.metrics.RecordPlayback(context.Background(), "done")
		q.listener.OnDone(item.UtteranceID)
	}
}

// finish removes the head item unless an interrupt happened since gen was
// read. It reports whether the item was removed.
func (q *Queue) finish(gen uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.gen != gen || len(q.items) == 0 {
		return false
	}
	q.items = q.items[1:]
	q.metrics.PlaybackQueue.Add(context.Background(), -1)
	return true
}

func (q *Queue) streamLocked() (audio.OutputStream, error) {
	if q.stream != nil {
		return q.stream, nil
	}
	stream, err := q.opener(q.config.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	q.stream = stream
	return stream, nil
}

func (q *Queue) cancelled(gen uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.gen != gen
}

// write sends the payload after the header in chunks of at most ChunkSize
func (q *Queue) write(stream audio.OutputStream, item Item, gen uint64) error {
	pcm := item.PCM
	if len(pcm) <= HeaderSize {
		return nil
	}

	for offset := HeaderSize; offset < len(pcm); {
		if q.cancelled(gen) {
			return errCancelled
		}
		end := offset + q.config.ChunkSize
		if end > len(pcm) {
			end = len(pcm)
		}
		n, err := stream.Write(pcm[offset:end])
		if err != nil {
			return fmt.Errorf("failed to write at offset %d: %w", offset, err)
		}
		if n <= 0 {
			return fmt.Errorf("short write at offset %d", offset)
		}
		offset += n
		q.metrics.PlaybackBytes.Add(context.Background(), int64(n))
	}
	return nil
}
