// Package background runs fire-and-forget housekeeping tasks, such as
// deleting corrupted cache rows, off the audio and caller goroutines.
package background

import (
	"errors"
	"sync"

	"github.com/yok-tottii/ezvoice/internal/logger"
)

// ErrClosed is returned when submitting to a closed executor
var ErrClosed = errors.New("background: executor closed")

// Task is a unit of background work. A returned error is logged.
type Task func() error

// Config holds executor settings
type Config struct {
	// QueueSize bounds the number of pending tasks held by the worker
	QueueSize int
	Logger    *logger.Logger
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{QueueSize: 64}
}

type job struct {
	name string
	fn   Task
}

// Executor drains tasks on a single worker goroutine. When the
// queue is full a task runs on its own goroutine instead of blocking the
// submitter.
type Executor struct {
	log   *logger.Logger
	tasks chan job

	mu       sync.RWMutex
	closed   bool
	overflow sync.WaitGroup
	done     chan struct{}
}

// New creates an executor and starts its worker
func New(config Config) *Executor {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	log := config.Logger
	if log == nil {
		log = logger.Discard()
	}

	e := &Executor{
		log:   log.With("background"),
		tasks: make(chan job, config.QueueSize),
		done:  make(chan struct{}),
	}
	go e.run()
	return e
}

// Submit schedules fn under a descriptive name. It never blocks.
func (e *Executor) Submit(name string, fn Task) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}

	j := job{name: name, fn: fn}
	select {
	case e.tasks <- j:
	default:
		e.log.Debug("Queue full, running %s on a separate goroutine", name)
		e.overflow.Add(1)
		go func() {
			defer e.overflow.Done()
			e.execute(j)
		}()
	}
	return nil
}

// Close stops accepting tasks, waits for pending ones and stops the worker.
// It is safe to call more than once.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.done
		return
	}
	e.closed = true
	close(e.tasks)
	e.mu.Unlock()

	<-e.done
	e.overflow.Wait()
}

func (e *Executor) run() {
	defer close(e.done)
	for j := range e.tasks {
		e.execute(j)
	}
}

func (e *Executor) execute(j job) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("Task %s panicked: %v", j.name, r)
		}
	}()

	if err := j.fn(); err != nil {
		e.log.Warn("Task %s failed: %v", j.name, err)
	}
}
