package hotkey

import (
	"fmt"
	"strings"
	"sync"

	"golang.design/x/hotkey"
)

// RecordingMode defines how the hotkey triggers recording
type RecordingMode int

const (
	// PressToHold mode: record while key is held down
	PressToHold RecordingMode = iota
	// Toggle mode: first press starts, second press stops
	Toggle
)

// String returns the configuration name of the mode
func (m RecordingMode) String() string {
	switch m {
	case PressToHold:
		return "press-to-hold"
	case Toggle:
		return "toggle"
	default:
		return "unknown"
	}
}

// ParseMode converts "press-to-hold" or "toggle" to a RecordingMode
func ParseMode(s string) (RecordingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "press-to-hold", "":
		return PressToHold, nil
	case "toggle":
		return Toggle, nil
	default:
		return PressToHold, fmt.Errorf("invalid recording mode: %q", s)
	}
}

// EventType represents the type of hotkey event
type EventType int

const (
	// Pressed indicates the hotkey was pressed
	Pressed EventType = iota
	// Released indicates the hotkey was released
	Released
)

// Event represents a hotkey event
type Event struct {
	Type EventType
}

// Config holds hotkey configuration
type Config struct {
	Combo Combo
	Mode  RecordingMode
}

// DefaultConfig returns Ctrl+Alt+Space in press-to-hold mode
func DefaultConfig() Config {
	return Config{
		Combo: Combo{Ctrl: true, Alt: true, Key: "Space"},
		Mode:  PressToHold,
	}
}

// Manager manages global hotkey registration and events
type Manager struct {
	hk        *hotkey.Hotkey
	config    Config
	eventChan chan Event
	stopChan  chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
}

// New creates a new hotkey manager with the default configuration
func New() *Manager {
	return &Manager{
		config:    DefaultConfig(),
		eventChan: make(chan Event, 10),
		stopChan:  make(chan struct{}),
	}
}

// Register registers the hotkey with the system
func (m *Manager) Register(config Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("hotkey is already running, call Close() first")
	}

	mods, key, err := config.Combo.resolve()
	if err != nil {
		return err
	}

	m.config = config

	// Recreate channels (they may have been closed by a previous Close())
	m.stopChan = make(chan struct{})
	m.eventChan = make(chan Event, 10)

	hk := hotkey.New(mods, key)
	if err := hk.Register(); err != nil {
		return fmt.Errorf("failed to register hotkey %s: %w", config.Combo, err)
	}

	m.hk = hk
	m.running = true

	m.wg.Add(1)
	go m.listen(hk, m.eventChan, m.stopChan, config.Mode)

	return nil
}

// RegisterDefault registers the current configuration
func (m *Manager) RegisterDefault() error {
	return m.Register(m.GetConfig())
}

// listen monitors hotkey events and sends them to the event channel
func (m *Manager) listen(hk *hotkey.Hotkey, events chan<- Event, stop <-chan struct{}, mode RecordingMode) {
	defer m.wg.Done()

	toggleState := false
	send := func(e Event) {
		select {
		case events <- e:
		case <-stop:
		}
	}

	for {
		select {
		case <-hk.Keydown():
			switch mode {
			case PressToHold:
				send(Event{Type: Pressed})
			case Toggle:
				if !toggleState {
					send(Event{Type: Pressed})
				} else {
					send(Event{Type: Released})
				}
				toggleState = !toggleState
			}

		case <-hk.Keyup():
			if mode == PressToHold {
				send(Event{Type: Released})
			}

		case <-stop:
			return
		}
	}
}

// Events returns the event channel for receiving hotkey events
func (m *Manager) Events() <-chan Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eventChan
}

// Close unregisters the hotkey and stops listening
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	var unregisterErr error

	close(m.stopChan)
	m.wg.Wait()

	// Cleanup continues even if unregistering fails
	if m.hk != nil {
		if err := m.hk.Unregister(); err != nil {
			unregisterErr = fmt.Errorf("failed to unregister hotkey: %w", err)
		}
	}

	// Close event channel to notify consumers of shutdown
	close(m.eventChan)

	// Reset even on error so Register can be called again
	m.running = false

	return unregisterErr
}

// IsRunning returns whether the hotkey is currently registered and running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// GetConfig returns a copy of the current hotkey configuration
func (m *Manager) GetConfig() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}
