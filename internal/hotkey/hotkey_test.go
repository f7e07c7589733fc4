package hotkey

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.design/x/hotkey"

	"github.com/yok-tottii/ezvoice/internal/config"
)

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}

	config := m.GetConfig()
	if !config.Combo.Ctrl || !config.Combo.Alt || config.Combo.Shift || config.Combo.Cmd {
		t.Errorf("Expected Ctrl+Alt default, got %+v", config.Combo)
	}

	if config.Combo.Key != "Space" {
		t.Errorf("Expected Space, got %q", config.Combo.Key)
	}

	if config.Mode != PressToHold {
		t.Errorf("Expected PressToHold mode, got %v", config.Mode)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    RecordingMode
		wantErr bool
	}{
		{"press-to-hold", PressToHold, false},
		{"", PressToHold, false},
		{"Toggle", Toggle, false},
		{"hold", PressToHold, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMode(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}

	if Toggle.String() != "toggle" || PressToHold.String() != "press-to-hold" {
		t.Error("Mode names should round-trip through ParseMode")
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		name    string
		want    hotkey.Key
		wantErr bool
	}{
		{"Space", hotkey.KeySpace, false},
		{"space", hotkey.KeySpace, false},
		{"r", hotkey.KeyR, false},
		{"7", hotkey.Key7, false},
		{"F5", hotkey.KeyF5, false},
		{"Esc", hotkey.KeyEscape, false},
		{"Enter", hotkey.KeyReturn, false},
		{"CapsLock", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKey(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseKey(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseKey(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestComboValidate(t *testing.T) {
	tests := []struct {
		name    string
		combo   Combo
		wantErr bool
	}{
		{"default", DefaultConfig().Combo, false},
		{"shift letter", Combo{Shift: true, Key: "A"}, false},
		{"no modifier", Combo{Key: "Space"}, true},
		{"unknown key", Combo{Ctrl: true, Key: "Hyper"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.combo.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestComboModifiers(t *testing.T) {
	mods := Combo{Ctrl: true, Shift: true, Alt: true, Cmd: true, Key: "A"}.Modifiers()
	want := []hotkey.Modifier{hotkey.ModCtrl, hotkey.ModShift, modAlt, modCmd}

	if len(mods) != len(want) {
		t.Fatalf("Expected %d modifiers, got %d", len(want), len(mods))
	}
	for i := range want {
		if mods[i] != want[i] {
			t.Errorf("Modifier %d: expected %v, got %v", i, want[i], mods[i])
		}
	}

	if got := (Combo{Ctrl: true, Key: "A"}).Modifiers(); len(got) != 1 {
		t.Errorf("Expected 1 modifier, got %d", len(got))
	}
}

func TestComboString(t *testing.T) {
	tests := []struct {
		combo Combo
		want  string
	}{
		{Combo{Ctrl: true, Alt: true, Key: "Space"}, "Ctrl+" + altName + "+Space"},
		{Combo{Cmd: true, Key: "space"}, cmdName + "+Space"},
		{Combo{Ctrl: true, Shift: true, Key: "a"}, "Ctrl+Shift+A"},
		{Combo{Alt: true, Key: "f10"}, altName + "+F10"},
		{Combo{Ctrl: true, Key: "esc"}, "Ctrl+Escape"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.combo.String(); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestCheckConflicts(t *testing.T) {
	tests := []struct {
		name           string
		combo          Combo
		expectConflict bool
	}{
		{"Spotlight conflict (Cmd+Space)", Combo{Cmd: true, Key: "Space"}, true},
		{"No conflict (Ctrl+Alt+Space)", Combo{Ctrl: true, Alt: true, Key: "Space"}, false},
		{"Force Quit conflict (Cmd+Alt+Esc)", Combo{Cmd: true, Alt: true, Key: "esc"}, true},
		{"IME switch (Ctrl+Space)", Combo{Ctrl: true, Key: "space"}, true},
		{"No conflict (Ctrl+Shift+R)", Combo{Ctrl: true, Shift: true, Key: "R"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conflicts := CheckConflicts(tt.combo)
			hasConflict := len(conflicts) > 0

			if hasConflict != tt.expectConflict {
				t.Errorf("Expected conflict=%v, got conflict=%v (found %d conflicts)",
					tt.expectConflict, hasConflict, len(conflicts))
			}
		})
	}
}

func TestComboEqual(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Combo
		expected bool
	}{
		{"same", Combo{Ctrl: true, Alt: true, Key: "Space"}, Combo{Ctrl: true, Alt: true, Key: "Space"}, true},
		{"key case", Combo{Ctrl: true, Key: "a"}, Combo{Ctrl: true, Key: "A"}, true},
		{"alias", Combo{Ctrl: true, Key: "Esc"}, Combo{Ctrl: true, Key: "Escape"}, true},
		{"different key", Combo{Ctrl: true, Key: "Space"}, Combo{Ctrl: true, Key: "Return"}, false},
		{"different modifiers", Combo{Ctrl: true, Key: "Space"}, Combo{Cmd: true, Key: "Space"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestRegisterRejectsInvalidCombo(t *testing.T) {
	m := New()

	err := m.Register(Config{Combo: Combo{Key: "Space"}, Mode: PressToHold})
	if err == nil {
		t.Fatal("Expected error for combo without modifiers")
	}
	if m.IsRunning() {
		t.Error("Manager should not be running after a failed Register")
	}
}

func TestManagerLifecycle(t *testing.T) {
	m := New()

	if m.IsRunning() {
		t.Error("Manager should not be running initially")
	}

	if err := m.Close(); err != nil {
		t.Errorf("Close() on non-running manager returned error: %v", err)
	}

	// Registering needs a display server and may clash with the desktop;
	// the bound event loop is covered through Bind below.
}

func TestEventChannel(t *testing.T) {
	m := New()

	eventChan := m.Events()
	if eventChan == nil {
		t.Fatal("Events() returned nil channel")
	}

	select {
	case <-eventChan:
		t.Error("Events channel should be empty initially")
	case <-time.After(10 * time.Millisecond):
	}
}

type fakeRecorder struct {
	mu       sync.Mutex
	calls    []string
	startErr error
}

func (r *fakeRecorder) StartRecording() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "start")
	return r.startErr
}

func (r *fakeRecorder) StopRecording() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "stop")
}

func (r *fakeRecorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestBindForwardsEvents(t *testing.T) {
	rec := &fakeRecorder{}
	events := make(chan Event, 4)
	events <- Event{Type: Pressed}
	events <- Event{Type: Released}
	events <- Event{Type: Pressed}
	close(events)

	done := make(chan struct{})
	go func() {
		Bind(context.Background(), events, rec, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Bind did not return after the channel closed")
	}

	want := []string{"start", "stop", "start"}
	got := rec.Calls()
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Call %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestBindContinuesAfterStartError(t *testing.T) {
	rec := &fakeRecorder{startErr: errors.New("busy")}
	events := make(chan Event, 2)
	events <- Event{Type: Pressed}
	events <- Event{Type: Released}
	close(events)

	Bind(context.Background(), events, rec, nil)

	if got := rec.Calls(); len(got) != 2 {
		t.Errorf("Expected both events handled, got %v", got)
	}
}

func TestBindStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan Event)

	done := make(chan struct{})
	go func() {
		Bind(ctx, events, &fakeRecorder{}, nil)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Bind did not return after cancel")
	}
}

func TestFromConfig(t *testing.T) {
	cfg, err := FromConfig(config.HotkeyConfig{Ctrl: true, Shift: true, Key: " ", Mode: "toggle"})
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	if cfg.Mode != Toggle {
		t.Errorf("Expected Toggle, got %v", cfg.Mode)
	}
	if !cfg.Combo.Equal(Combo{Ctrl: true, Shift: true, Key: "Space"}) {
		t.Errorf("Unexpected combo: %+v", cfg.Combo)
	}

	if _, err := FromConfig(config.HotkeyConfig{Key: "Space", Mode: "toggle"}); err == nil {
		t.Error("Expected error for combo without modifiers")
	}
	if _, err := FromConfig(config.HotkeyConfig{Ctrl: true, Key: "Space", Mode: "hold"}); err == nil {
		t.Error("Expected error for unknown mode")
	}
}
