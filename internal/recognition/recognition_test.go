package recognition

import (
	"sync"
	"testing"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{Idle, "Idle"},
		{Listening, "Listening"},
		{State(99), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if result := tt.state.String(); result != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestNewCoordinator(t *testing.T) {
	c := NewCoordinator()

	if c.Get() != Idle {
		t.Errorf("Expected Idle, got %v", c.Get())
	}
	if c.IsListening() {
		t.Error("Expected not listening initially")
	}
}

func TestSetNotifiesObservers(t *testing.T) {
	c := NewCoordinator()

	var transitions [][2]State
	c.Subscribe(func(old, new State) {
		transitions = append(transitions, [2]State{old, new})
	})

	if !c.Set(Listening) {
		t.Error("Set(Listening) should report a change")
	}
	if c.Set(Listening) {
		t.Error("Setting the same state twice should not report a change")
	}
	if !c.Set(Idle) {
		t.Error("Set(Idle) should report a change")
	}

	want := [][2]State{{Idle, Listening}, {Listening, Idle}}
	if len(transitions) != len(want) {
		t.Fatalf("Expected %d transitions, got %d", len(want), len(transitions))
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestConcurrentWritersLastWins(t *testing.T) {
	c := NewCoordinator()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				c.Set(Listening)
			} else {
				c.Set(Idle)
			}
		}(i)
	}
	wg.Wait()

	c.Set(Idle)
	if c.Get() != Idle {
		t.Errorf("Expected the last write to win, got %v", c.Get())
	}
}
