package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yok-tottii/ezvoice/internal/audio"
	"github.com/yok-tottii/ezvoice/internal/logger"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config == nil {
		t.Fatal("Expected default config to be created")
	}

	if err := config.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}

	if config.Hotkey.Key != "Space" {
		t.Errorf("Expected Key to be 'Space', got '%s'", config.Hotkey.Key)
	}

	if config.Hotkey.Mode != "press-to-hold" {
		t.Errorf("Expected Mode 'press-to-hold', got '%s'", config.Hotkey.Mode)
	}

	if config.Audio.InputDeviceID != audio.DefaultSource {
		t.Errorf("Expected default input device, got %d", config.Audio.InputDeviceID)
	}

	if config.Recording.MaxRecordTime != 60 {
		t.Errorf("Expected MaxRecordTime 60, got %d", config.Recording.MaxRecordTime)
	}

	if config.Playback.ChunkSize != 4096 {
		t.Errorf("Expected ChunkSize 4096, got %d", config.Playback.ChunkSize)
	}
}

func TestSaveAndLoad(t *testing.T) {
	tests := []struct {
		name string
		file string
	}{
		{"json", "config.json"},
		{"yaml", "config.yaml"},
		{"yml", "config.yml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), tt.file)

			config := DefaultConfig()
			config.Hotkey.Mode = "toggle"
			config.Audio.InputDeviceID = 3
			config.Pause.PauseDurationMS = 900

			if err := config.Save(configPath); err != nil {
				t.Fatalf("Failed to save config: %v", err)
			}

			if _, err := os.Stat(configPath); os.IsNotExist(err) {
				t.Fatal("Config file was not created")
			}

			loaded, err := Load(configPath)
			if err != nil {
				t.Fatalf("Failed to load config: %v", err)
			}

			if loaded.Hotkey.Mode != "toggle" {
				t.Errorf("Expected Mode 'toggle', got '%s'", loaded.Hotkey.Mode)
			}
			if loaded.Audio.InputDeviceID != 3 {
				t.Errorf("Expected InputDeviceID 3, got %d", loaded.Audio.InputDeviceID)
			}
			if loaded.Pause.PauseDurationMS != 900 {
				t.Errorf("Expected PauseDurationMS 900, got %d", loaded.Pause.PauseDurationMS)
			}
		})
	}
}

func TestSaveYAMLFormat(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := DefaultConfig().Save(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}
	if strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		t.Error("Expected YAML output, got JSON")
	}
	if !strings.Contains(string(data), "frames_per_buffer:") {
		t.Errorf("Expected snake_case YAML keys, got:\n%s", data)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := "pause:\n  enabled: false\nhotkey:\n  key: \"\"\n"
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Pause.Enabled {
		t.Error("Expected pause detection to be disabled")
	}
	if config.Hotkey.Key != "Space" {
		t.Errorf("Expected empty key to fall back to 'Space', got '%s'", config.Hotkey.Key)
	}
	if config.Audio.SampleRate != 16000 {
		t.Errorf("Expected default sample rate, got %d", config.Audio.SampleRate)
	}
}

func TestLoadInvalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(configPath, []byte("{not json"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("Expected parse error")
	}
}

func TestLoadNonexistent(t *testing.T) {
	config, err := Load("/nonexistent/path/config.json")
	if err != nil {
		t.Fatalf("Expected no error when loading nonexistent file, got: %v", err)
	}

	if config == nil {
		t.Fatal("Expected default config to be returned")
	}

	if config.Server.Port != DefaultConfig().Server.Port {
		t.Errorf("Expected default port, got %d", config.Server.Port)
	}
}

func TestUpdate(t *testing.T) {
	config := DefaultConfig()

	updates := map[string]interface{}{
		"input_device_id":   float64(1),
		"output_device_id":  float64(2),
		"max_record_time":   float64(90),
		"pause_enabled":     false,
		"pause_duration_ms": float64(2000),
		"log_level":         "debug",
		"hotkey": map[string]interface{}{
			"shift": true,
			"key":   "R",
			"mode":  "toggle",
		},
	}

	if err := config.Update(updates); err != nil {
		t.Fatalf("Failed to update config: %v", err)
	}

	if config.Audio.InputDeviceID != 1 || config.Audio.OutputDeviceID != 2 {
		t.Errorf("Unexpected device ids: %+v", config.Audio)
	}
	if config.Recording.MaxRecordTime != 90 {
		t.Errorf("Expected MaxRecordTime 90, got %d", config.Recording.MaxRecordTime)
	}
	if config.Pause.Enabled || config.Pause.PauseDurationMS != 2000 {
		t.Errorf("Unexpected pause settings: %+v", config.Pause)
	}
	if config.Log.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", config.Log.Level)
	}
	if !config.Hotkey.Shift || config.Hotkey.Key != "R" || config.Hotkey.Mode != "toggle" {
		t.Errorf("Unexpected hotkey: %+v", config.Hotkey)
	}
}

func TestUpdateInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		updates map[string]interface{}
	}{
		{"max record time", map[string]interface{}{"max_record_time": float64(0)}},
		{"pause duration", map[string]interface{}{"pause_duration_ms": float64(-1)}},
		{"log level", map[string]interface{}{"log_level": "loud"}},
		{"hotkey mode", map[string]interface{}{"hotkey": map[string]interface{}{"mode": "invalid"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := DefaultConfig().Update(tt.updates); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"sample rate", func(c *Config) { c.Audio.SampleRate = 0 }},
		{"latency", func(c *Config) { c.Audio.Latency = "fast" }},
		{"max record time", func(c *Config) { c.Recording.MaxRecordTime = 301 }},
		{"init backoff", func(c *Config) { c.Recording.InitBackoffMS = -1 }},
		{"pause threshold", func(c *Config) { c.Pause.Threshold = 2 }},
		{"chunk size", func(c *Config) { c.Playback.ChunkSize = 0 }},
		{"port", func(c *Config) { c.Server.Port = 70000 }},
		{"hotkey mode", func(c *Config) { c.Hotkey.Mode = "hold" }},
		{"log level", func(c *Config) { c.Log.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)
			if err := config.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}

	t.Run("disabled pause skips its checks", func(t *testing.T) {
		config := DefaultConfig()
		config.Pause.Enabled = false
		config.Pause.Threshold = 2
		if err := config.Validate(); err != nil {
			t.Errorf("Expected valid config, got %v", err)
		}
	})
}

func TestClone(t *testing.T) {
	original := DefaultConfig()
	original.Hotkey.Mode = "toggle"

	cloned := original.Clone()

	if cloned.Hotkey.Mode != original.Hotkey.Mode {
		t.Errorf("Expected Mode '%s', got '%s'", original.Hotkey.Mode, cloned.Hotkey.Mode)
	}

	cloned.Hotkey.Mode = "press-to-hold"

	if original.Hotkey.Mode != "toggle" {
		t.Error("Modifying clone affected original")
	}
}

func TestDerivedSettings(t *testing.T) {
	config := DefaultConfig()
	config.Audio.InputDeviceID = 4
	config.Audio.OutputDeviceID = 5
	config.Audio.Latency = "low"

	in := config.InputParams()
	if in.Source != 4 || in.Latency != audio.LowLatency {
		t.Errorf("Unexpected input params: %+v", in)
	}
	if out := config.OutputParams(); out.Source != 5 {
		t.Errorf("Expected output device 5, got %d", out.Source)
	}

	pc := config.PauseDetectorConfig()
	if pc.PauseDuration != time.Duration(config.Pause.PauseDurationMS)*time.Millisecond {
		t.Errorf("Unexpected pause duration: %v", pc.PauseDuration)
	}

	if config.MaxRecordDuration() != 60*time.Second {
		t.Errorf("Expected 60s, got %v", config.MaxRecordDuration())
	}
	if config.InitBackoff() != 50*time.Millisecond {
		t.Errorf("Expected 50ms, got %v", config.InitBackoff())
	}

	lc, err := config.LoggerConfig()
	if err != nil {
		t.Fatalf("LoggerConfig failed: %v", err)
	}
	if lc.Level != logger.INFO || !filepath.IsAbs(lc.LogDir) {
		t.Errorf("Unexpected logger config: %+v", lc)
	}

	sc, err := config.CacheStoreConfig()
	if err != nil {
		t.Fatalf("CacheStoreConfig failed: %v", err)
	}
	if !strings.HasSuffix(sc.Dir, filepath.Join(".ezvoice", "speechcache")) {
		t.Errorf("Unexpected cache dir: %s", sc.Dir)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("No home directory: %v", err)
	}

	got, err := ExpandPath("~/x/y")
	if err != nil {
		t.Fatalf("ExpandPath failed: %v", err)
	}
	if got != filepath.Join(home, "x", "y") {
		t.Errorf("Expected %s, got %s", filepath.Join(home, "x", "y"), got)
	}

	if got, _ := ExpandPath(""); got != "" {
		t.Errorf("Expected empty path, got %s", got)
	}
}

func TestGetConfigPath(t *testing.T) {
	path := GetConfigPath()

	if path == "" {
		t.Error("Expected non-empty config path")
	}

	if !strings.HasSuffix(path, filepath.Join("ezvoice", "config.json")) {
		t.Errorf("Expected path to end with ezvoice/config.json, got '%s'", path)
	}
}
