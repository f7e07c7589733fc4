package pause

import (
	"encoding/binary"
	"testing"
	"time"
)

// 100ms of 16kHz mono 16-bit audio
const bufferBytes = 3200

func tone(amplitude int16) []byte {
	buf := make([]byte, bufferBytes)
	for i := 0; i < len(buf); i += 2 {
		v := amplitude
		if (i/2)%2 == 1 {
			v = -amplitude
		}
		binary.LittleEndian.PutUint16(buf[i:], uint16(v))
	}
	return buf
}

func testConfig() Config {
	return Config{
		SampleRate:    16000,
		Channels:      1,
		IgnoreTime:    500 * time.Millisecond,
		PauseDuration: 300 * time.Millisecond,
		Threshold:     0.1,
		Smoothing:     1.0,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
	if cfg.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", cfg.SampleRate)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }},
		{"zero channels", func(c *Config) { c.Channels = 0 }},
		{"negative ignore time", func(c *Config) { c.IgnoreTime = -time.Second }},
		{"zero pause duration", func(c *Config) { c.PauseDuration = 0 }},
		{"threshold above one", func(c *Config) { c.Threshold = 1.5 }},
		{"zero smoothing", func(c *Config) { c.Smoothing = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modify(&cfg)
			if _, err := New(cfg, nil); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestMonitorBeforeBegin(t *testing.T) {
	d, err := New(testConfig(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	d.AddLength(tone(0), bufferBytes)
	if d.Monitor() {
		t.Error("Monitor should not fire before Begin")
	}
}

func TestPauseAfterSpeech(t *testing.T) {
	fired := 0
	d, err := New(testConfig(), func() { fired++ })
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	d.Begin()

	for i := 0; i < 5; i++ {
		d.AddLength(tone(16384), bufferBytes)
		if d.Monitor() {
			t.Fatalf("Pause fired during speech at buffer %d", i)
		}
	}

	// Third silent buffer reaches 300ms of silence
	for i := 0; i < 2; i++ {
		d.AddLength(tone(0), bufferBytes)
		if d.Monitor() {
			t.Fatalf("Pause fired too early at silent buffer %d", i)
		}
	}
	d.AddLength(tone(0), bufferBytes)
	if !d.Monitor() {
		t.Fatal("Expected pause after 300ms of silence")
	}
	if fired != 1 {
		t.Errorf("Expected callback once, got %d", fired)
	}

	stats := d.Stats()
	if stats.Position != 800*time.Millisecond {
		t.Errorf("Expected position 800ms, got %v", stats.Position)
	}
	if stats.LastActivity != 500*time.Millisecond {
		t.Errorf("Expected last activity 500ms, got %v", stats.LastActivity)
	}
}

func TestPauseFiresOnce(t *testing.T) {
	fired := 0
	d, _ := New(testConfig(), func() { fired++ })
	d.Begin()

	for i := 0; i < 20; i++ {
		d.AddLength(tone(0), bufferBytes)
		d.Monitor()
	}

	if !d.HasDetected() {
		t.Error("HasDetected should be true after firing")
	}
	if !d.Monitor() {
		t.Error("Monitor should keep reporting the detected pause")
	}
	if fired != 1 {
		t.Errorf("Expected callback exactly once, got %d", fired)
	}
}

func TestIgnoreTime(t *testing.T) {
	cfg := testConfig()
	cfg.IgnoreTime = time.Second

	d, _ := New(cfg, nil)
	d.Begin()

	firedAt := -1
	for i := 0; i < 15; i++ {
		d.AddLength(tone(0), bufferBytes)
		if d.Monitor() {
			firedAt = i
			break
		}
	}
	if firedAt != 9 {
		t.Errorf("Expected pause at buffer 9 (1s), got %d", firedAt)
	}
}

func TestBeginResets(t *testing.T) {
	fired := 0
	d, _ := New(testConfig(), func() { fired++ })

	d.Begin()
	for i := 0; i < 10; i++ {
		d.AddLength(tone(0), bufferBytes)
		d.Monitor()
	}
	if !d.HasDetected() {
		t.Fatal("Expected first session to detect a pause")
	}

	d.Begin()
	if d.HasDetected() {
		t.Error("Begin should clear the detected flag")
	}
	if stats := d.Stats(); stats.Position != 0 || stats.Buffers != 0 {
		t.Errorf("Begin should reset stats, got %+v", stats)
	}

	for i := 0; i < 10; i++ {
		d.AddLength(tone(0), bufferBytes)
		d.Monitor()
	}
	if fired != 2 {
		t.Errorf("Expected one pause per session, got %d", fired)
	}
}

func TestSmoothingDelaysSilence(t *testing.T) {
	cfg := testConfig()
	cfg.Smoothing = 0.5

	d, _ := New(cfg, nil)
	d.Begin()

	d.AddLength(tone(16384), bufferBytes)
	first := d.Stats().Level
	d.AddLength(tone(0), bufferBytes)
	second := d.Stats().Level

	if second >= first || second == 0 {
		t.Errorf("Expected level to decay gradually, got %f then %f", first, second)
	}
	if got := d.Stats().LastActivity; got != 200*time.Millisecond {
		t.Errorf("Smoothed level should still count as activity, got %v", got)
	}
}

func TestAddLengthPartialBuffer(t *testing.T) {
	d, _ := New(testConfig(), nil)
	d.Begin()

	buf := tone(0)
	d.AddLength(buf, 1601)
	if got := d.Stats().Position; got != 50*time.Millisecond {
		t.Errorf("Expected 50ms from 1600 valid bytes, got %v", got)
	}

	d.AddLength(buf, 0)
	if got := d.Stats().Buffers; got != 1 {
		t.Errorf("Empty reads should be ignored, got %d buffers", got)
	}
}

func TestRMS(t *testing.T) {
	if got := rms(tone(0)); got != 0 {
		t.Errorf("Expected 0 for silence, got %f", got)
	}
	if got := rms(tone(16384)); got != 0.5 {
		t.Errorf("Expected 0.5 for half-scale square wave, got %f", got)
	}
	if got := rms(nil); got != 0 {
		t.Errorf("Expected 0 for empty input, got %f", got)
	}
}
