package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yok-tottii/ezvoice/internal/audio"
	"github.com/yok-tottii/ezvoice/internal/logger"
	"github.com/yok-tottii/ezvoice/internal/pause"
	"github.com/yok-tottii/ezvoice/internal/speechcache"
)

// Config holds application configuration
type Config struct {
	Audio     AudioConfig     `json:"audio" yaml:"audio"`
	Recording RecordingConfig `json:"recording" yaml:"recording"`
	Pause     PauseConfig     `json:"pause" yaml:"pause"`
	Playback  PlaybackConfig  `json:"playback" yaml:"playback"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
	Server    ServerConfig    `json:"server" yaml:"server"`
	Hotkey    HotkeyConfig    `json:"hotkey" yaml:"hotkey"`
	Log       LogConfig       `json:"log" yaml:"log"`
	mu        sync.RWMutex
}

// AudioConfig holds stream settings shared by capture and playback
type AudioConfig struct {
	InputDeviceID   int    `json:"input_device_id" yaml:"input_device_id"`   // -1 for system default
	OutputDeviceID  int    `json:"output_device_id" yaml:"output_device_id"` // -1 for system default
	SampleRate      int    `json:"sample_rate" yaml:"sample_rate"`
	Channels        int    `json:"channels" yaml:"channels"`
	FramesPerBuffer int    `json:"frames_per_buffer" yaml:"frames_per_buffer"`
	Latency         string `json:"latency" yaml:"latency"` // "low" or "stable"
}

// RecordingConfig holds capture session settings
type RecordingConfig struct {
	MaxRecordTime int    `json:"max_record_time" yaml:"max_record_time"` // seconds
	CaptureFile   string `json:"capture_file" yaml:"capture_file"`       // empty disables the WAV sink
	InitBackoffMS int    `json:"init_backoff_ms" yaml:"init_backoff_ms"`
}

// PauseConfig holds silence detection settings
type PauseConfig struct {
	Enabled         bool    `json:"enabled" yaml:"enabled"`
	IgnoreTimeMS    int     `json:"ignore_time_ms" yaml:"ignore_time_ms"`
	PauseDurationMS int     `json:"pause_duration_ms" yaml:"pause_duration_ms"`
	Threshold       float64 `json:"threshold" yaml:"threshold"`
	Smoothing       float64 `json:"smoothing" yaml:"smoothing"`
}

// PlaybackConfig holds playback queue settings
type PlaybackConfig struct {
	ChunkSize int `json:"chunk_size" yaml:"chunk_size"`
}

// CacheConfig holds speech cache settings
type CacheConfig struct {
	Dir        string `json:"dir" yaml:"dir"`
	SyncWrites bool   `json:"sync_writes" yaml:"sync_writes"`
	// ConfirmationKey is the cached utterance played after each capture
	ConfirmationKey string `json:"confirmation_key" yaml:"confirmation_key"`
}

// ServerConfig holds the local control surface settings
type ServerConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Port    int  `json:"port" yaml:"port"`
}

// HotkeyConfig holds hotkey configuration
type HotkeyConfig struct {
	Ctrl  bool   `json:"ctrl" yaml:"ctrl"`
	Shift bool   `json:"shift" yaml:"shift"`
	Alt   bool   `json:"alt" yaml:"alt"`
	Cmd   bool   `json:"cmd" yaml:"cmd"`
	Key   string `json:"key" yaml:"key"`   // e.g., "Space"
	Mode  string `json:"mode" yaml:"mode"` // "press-to-hold" or "toggle"
}

// LogConfig holds logger settings
type LogConfig struct {
	Dir           string `json:"dir" yaml:"dir"` // empty logs to stderr
	Level         string `json:"level" yaml:"level"`
	RetentionDays int    `json:"retention_days" yaml:"retention_days"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	params := audio.DefaultParams()
	pauseDefaults := pause.DefaultConfig()

	return &Config{
		Audio: AudioConfig{
			InputDeviceID:   audio.DefaultSource,
			OutputDeviceID:  audio.DefaultSource,
			SampleRate:      params.SampleRate,
			Channels:        params.Channels,
			FramesPerBuffer: params.FramesPerBuffer,
			Latency:         "stable",
		},
		Recording: RecordingConfig{
			MaxRecordTime: 60, // 60 seconds
			InitBackoffMS: 50,
		},
		Pause: PauseConfig{
			Enabled:         true,
			IgnoreTimeMS:    int(pauseDefaults.IgnoreTime / time.Millisecond),
			PauseDurationMS: int(pauseDefaults.PauseDuration / time.Millisecond),
			Threshold:       pauseDefaults.Threshold,
			Smoothing:       pauseDefaults.Smoothing,
		},
		Playback: PlaybackConfig{
			ChunkSize: 4096,
		},
		Cache: CacheConfig{
			Dir:             "~/.ezvoice/speechcache",
			ConfirmationKey: "capture-complete",
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    18765,
		},
		Hotkey: HotkeyConfig{
			Ctrl: true,
			Alt:  true,
			Key:  "Space",
			Mode: "press-to-hold",
		},
		Log: LogConfig{
			Dir:           "~/.ezvoice/logs",
			Level:         "info",
			RetentionDays: 7,
		},
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load loads configuration from the specified path. Files ending in .yaml or
// .yml are parsed as YAML, everything else as JSON. Fields missing from the
// file keep their defaults.
func Load(path string) (*Config, error) {
	// If file doesn't exist, return default config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if isYAML(path) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.Hotkey.Key == "" {
		config.Hotkey.Key = "Space"
	}

	return config, nil
}

// Save saves configuration to the specified path, in YAML when the extension
// asks for it
func (c *Config) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir, _ = os.UserHomeDir()
	}
	return filepath.Join(dir, "ezvoice", "config.json")
}

// Update updates configuration fields from a decoded JSON object
func (c *Config) Update(updates map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, value := range updates {
		switch key {
		case "input_device_id":
			if v, ok := value.(float64); ok {
				c.Audio.InputDeviceID = int(v)
			}
		case "output_device_id":
			if v, ok := value.(float64); ok {
				c.Audio.OutputDeviceID = int(v)
			}
		case "max_record_time":
			if v, ok := value.(float64); ok {
				if v <= 0 || v > 300 {
					return fmt.Errorf("invalid max_record_time: %v", v)
				}
				c.Recording.MaxRecordTime = int(v)
			}
		case "pause_enabled":
			if v, ok := value.(bool); ok {
				c.Pause.Enabled = v
			}
		case "pause_duration_ms":
			if v, ok := value.(float64); ok {
				if v <= 0 {
					return fmt.Errorf("invalid pause_duration_ms: %v", v)
				}
				c.Pause.PauseDurationMS = int(v)
			}
		case "log_level":
			if v, ok := value.(string); ok {
				if _, err := logger.ParseLevel(v); err != nil {
					return err
				}
				c.Log.Level = v
			}
		case "hotkey":
			if v, ok := value.(map[string]interface{}); ok {
				if ctrl, ok := v["ctrl"].(bool); ok {
					c.Hotkey.Ctrl = ctrl
				}
				if shift, ok := v["shift"].(bool); ok {
					c.Hotkey.Shift = shift
				}
				if alt, ok := v["alt"].(bool); ok {
					c.Hotkey.Alt = alt
				}
				if cmd, ok := v["cmd"].(bool); ok {
					c.Hotkey.Cmd = cmd
				}
				if key, ok := v["key"].(string); ok {
					c.Hotkey.Key = key
				}
				if mode, ok := v["mode"].(string); ok {
					if mode != "press-to-hold" && mode != "toggle" {
						return fmt.Errorf("invalid hotkey mode: %s", mode)
					}
					c.Hotkey.Mode = mode
				}
			}
		}
	}

	return nil
}

// SetHotkey replaces the hotkey section
func (c *Config) SetHotkey(hc HotkeyConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Hotkey = hc
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		Audio:     c.Audio,
		Recording: c.Recording,
		Pause:     c.Pause,
		Playback:  c.Playback,
		Cache:     c.Cache,
		Server:    c.Server,
		Hotkey:    c.Hotkey,
		Log:       c.Log,
	}
}

// ExpandPath expands ~ to home directory in file paths
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	return absPath, nil
}

// Validate validates all configuration fields
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.inputParams().Validate(); err != nil {
		return fmt.Errorf("invalid audio settings: %w", err)
	}
	if c.Audio.Latency != "low" && c.Audio.Latency != "stable" {
		return fmt.Errorf("invalid latency: %s (must be 'low' or 'stable')", c.Audio.Latency)
	}

	if c.Recording.MaxRecordTime <= 0 || c.Recording.MaxRecordTime > 300 {
		return fmt.Errorf("invalid max_record_time: %d (must be between 1 and 300 seconds)", c.Recording.MaxRecordTime)
	}
	if c.Recording.InitBackoffMS < 0 {
		return fmt.Errorf("invalid init_backoff_ms: %d", c.Recording.InitBackoffMS)
	}

	if c.Pause.Enabled {
		if err := c.pauseConfig().Validate(); err != nil {
			return fmt.Errorf("invalid pause settings: %w", err)
		}
	}

	if c.Playback.ChunkSize <= 0 {
		return fmt.Errorf("invalid chunk_size: %d", c.Playback.ChunkSize)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Hotkey.Mode != "press-to-hold" && c.Hotkey.Mode != "toggle" {
		return fmt.Errorf("invalid hotkey mode: %s (must be 'press-to-hold' or 'toggle')", c.Hotkey.Mode)
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}

	return nil
}

func (c *Config) inputParams() audio.Params {
	p := audio.DefaultParams()
	p.Source = c.Audio.InputDeviceID
	p.SampleRate = c.Audio.SampleRate
	p.Channels = c.Audio.Channels
	p.FramesPerBuffer = c.Audio.FramesPerBuffer
	if c.Audio.Latency == "low" {
		p.Latency = audio.LowLatency
	}
	return p
}

// InputParams returns the capture stream parameters
func (c *Config) InputParams() audio.Params {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inputParams()
}

// OutputParams returns the playback stream parameters
func (c *Config) OutputParams() audio.Params {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p := c.inputParams()
	p.Source = c.Audio.OutputDeviceID
	return p
}

func (c *Config) pauseConfig() pause.Config {
	return pause.Config{
		SampleRate:    c.Audio.SampleRate,
		Channels:      c.Audio.Channels,
		IgnoreTime:    time.Duration(c.Pause.IgnoreTimeMS) * time.Millisecond,
		PauseDuration: time.Duration(c.Pause.PauseDurationMS) * time.Millisecond,
		Threshold:     c.Pause.Threshold,
		Smoothing:     c.Pause.Smoothing,
	}
}

// PauseDetectorConfig returns the pause detector settings
func (c *Config) PauseDetectorConfig() pause.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pauseConfig()
}

// CacheStoreConfig returns the speech cache store settings with ~ expanded
func (c *Config) CacheStoreConfig() (speechcache.Config, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir, err := ExpandPath(c.Cache.Dir)
	if err != nil {
		return speechcache.Config{}, err
	}
	return speechcache.Config{Dir: dir, SyncWrites: c.Cache.SyncWrites}, nil
}

// LoggerConfig returns the logger settings with ~ expanded
func (c *Config) LoggerConfig() (logger.Config, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	level, err := logger.ParseLevel(c.Log.Level)
	if err != nil {
		return logger.Config{}, err
	}
	dir, err := ExpandPath(c.Log.Dir)
	if err != nil {
		return logger.Config{}, err
	}
	return logger.Config{LogDir: dir, Level: level, RetentionDays: c.Log.RetentionDays}, nil
}

// MaxRecordDuration returns the capture time limit
func (c *Config) MaxRecordDuration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Recording.MaxRecordTime) * time.Second
}

// InitBackoff returns the sleep between capture initialization attempts
func (c *Config) InitBackoff() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Recording.InitBackoffMS) * time.Millisecond
}
