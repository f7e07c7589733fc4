// Package recognition holds the process-wide speech recognition state shared
// by the capture path and anything that must not interrupt the user while the
// microphone is open.
package recognition

import (
	"sync"
)

// State represents the current recognition state
type State int

const (
	// Idle means no component is listening
	Idle State = iota
	// Listening means the microphone is delivering frames for recognition
	Listening
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Listening:
		return "Listening"
	default:
		return "Unknown"
	}
}

// Observer is notified after every state change
type Observer func(old, new State)

// Coordinator owns the recognition state. It is passed explicitly to every
// component that reads or transitions it. Writes are last-writer-wins: there
// is no arbitration between concurrent sessions.
type Coordinator struct {
	mu        sync.RWMutex
	state     State
	observers []Observer
}

// NewCoordinator creates a coordinator in the Idle state
func NewCoordinator() *Coordinator {
	return &Coordinator{state: Idle}
}

// Set transitions to s and reports whether the state changed. Observers run
// synchronously on the caller's goroutine, outside the lock.
func (c *Coordinator) Set(s State) bool {
	c.mu.Lock()
	old := c.state
	if old == s {
		c.mu.Unlock()
		return false
	}
	c.state = s
	observers := make([]Observer, len(c.observers))
	copy(observers, c.observers)
	c.mu.Unlock()

	for _, o := range observers {
		o(old, s)
	}
	return true
}

// Get returns the current state
func (c *Coordinator) Get() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsListening reports whether the state is Listening
func (c *Coordinator) IsListening() bool {
	return c.Get() == Listening
}

// Subscribe registers o for future state changes
func (c *Coordinator) Subscribe(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}
