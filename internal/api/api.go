// Package api implements the local JSON control surface.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/yok-tottii/ezvoice/internal/audio"
	"github.com/yok-tottii/ezvoice/internal/config"
	"github.com/yok-tottii/ezvoice/internal/hotkey"
	"github.com/yok-tottii/ezvoice/internal/logger"
	"github.com/yok-tottii/ezvoice/internal/permissions"
	"github.com/yok-tottii/ezvoice/internal/recording"
)

// Capture is the part of the capture controller the API drives
type Capture interface {
	StartRecording() error
	StopRecording()
	IsRecording() bool
	IsAvailable() bool
}

// Speech is the part of the speech service the API drives
type Speech interface {
	PlayCached(key string) (string, bool, error)
	Stop(interrupt bool)
	Pending() int
}

// Deps holds the components exposed over HTTP. Nil members disable the
// routes that need them.
type Deps struct {
	Config      *config.Config
	ConfigPath  string
	Capture     Capture
	Speech      Speech
	State       func() string
	ListDevices func() ([]audio.Device, error)
	Permissions *permissions.PermissionChecker
	Logger      *logger.Logger

	// OnHotkeyChanged reloads the hotkey in the running application
	OnHotkeyChanged func() error
}

// Handler manages API endpoints
type Handler struct {
	deps Deps
	log  *logger.Logger
}

// New creates a new API handler
func New(deps Deps) *Handler {
	log := deps.Logger
	if log == nil {
		log = logger.Discard()
	}
	if deps.ConfigPath == "" {
		deps.ConfigPath = config.GetConfigPath()
	}
	if deps.ListDevices == nil {
		deps.ListDevices = audio.ListDevices
	}
	return &Handler{deps: deps, log: log.With("api")}
}

// RegisterRoutes registers all API routes on the given mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", h.handleStatus)
	mux.HandleFunc("/api/devices", h.handleDevices)
	mux.HandleFunc("/api/capture/start", h.handleCaptureStart)
	mux.HandleFunc("/api/capture/stop", h.handleCaptureStop)
	mux.HandleFunc("/api/playback/stop", h.handlePlaybackStop)
	mux.HandleFunc("/api/speech/play", h.handleSpeechPlay)
	mux.HandleFunc("/api/settings", h.handleSettings)
	mux.HandleFunc("/api/hotkey/validate", h.handleHotkeyValidate)
	mux.HandleFunc("/api/hotkey/register", h.handleHotkeyRegister)
	mux.HandleFunc("/api/permissions", h.handlePermissions)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// Status is the body of GET /api/status
type Status struct {
	State           string `json:"state"`
	Recording       bool   `json:"recording"`
	Available       bool   `json:"available"`
	PendingPlayback int    `json:"pending_playback"`
}

// handleStatus handles GET /api/status
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	var s Status
	if h.deps.State != nil {
		s.State = h.deps.State()
	}
	if h.deps.Capture != nil {
		s.Recording = h.deps.Capture.IsRecording()
		s.Available = h.deps.Capture.IsAvailable()
	}
	if h.deps.Speech != nil {
		s.PendingPlayback = h.deps.Speech.Pending()
	}
	writeJSON(w, http.StatusOK, s)
}

// Device represents an audio device
type Device struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	IsDefault  bool   `json:"is_default"`
	MaxInputs  int    `json:"max_inputs"`
	MaxOutputs int    `json:"max_outputs"`
}

// convertAudioDevices converts audio.Device slice to api.Device slice
func convertAudioDevices(audioDevices []audio.Device) []Device {
	devices := make([]Device, 0, len(audioDevices))
	for _, dev := range audioDevices {
		devices = append(devices, Device{
			ID:         dev.ID,
			Name:       dev.Name,
			IsDefault:  dev.IsDefault,
			MaxInputs:  dev.MaxInputs,
			MaxOutputs: dev.MaxOutputs,
		})
	}
	return devices
}

// handleDevices handles GET /api/devices
func (h *Handler) handleDevices(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	audioDevices, err := h.deps.ListDevices()
	if err != nil {
		h.log.Warn("Failed to list audio devices: %v", err)
		// The system default is always selectable
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"devices": []Device{{ID: audio.DefaultSource, Name: "System default", IsDefault: true}},
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"devices": convertAudioDevices(audioDevices),
	})
}

// handleCaptureStart handles POST /api/capture/start
func (h *Handler) handleCaptureStart(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if h.deps.Capture == nil {
		writeError(w, http.StatusServiceUnavailable, "capture is not configured")
		return
	}

	if h.deps.Permissions != nil {
		if err := h.deps.Permissions.RequireMicrophone(); err != nil {
			writeError(w, http.StatusForbidden, "%v", err)
			return
		}
	}

	if err := h.deps.Capture.StartRecording(); err != nil {
		switch {
		case errors.Is(err, recording.ErrAlreadyRecording):
			writeError(w, http.StatusConflict, "%v", err)
		default:
			writeError(w, http.StatusInternalServerError, "failed to start capture: %v", err)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recording"})
}

// handleCaptureStop handles POST /api/capture/stop
func (h *Handler) handleCaptureStop(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if h.deps.Capture == nil {
		writeError(w, http.StatusServiceUnavailable, "capture is not configured")
		return
	}

	h.deps.Capture.StopRecording()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// handlePlaybackStop handles POST /api/playback/stop?interrupt=bool.
// interrupt defaults to true.
func (h *Handler) handlePlaybackStop(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if h.deps.Speech == nil {
		writeError(w, http.StatusServiceUnavailable, "playback is not configured")
		return
	}

	interrupt := true
	if v := r.URL.Query().Get("interrupt"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid interrupt value: %q", v)
			return
		}
		interrupt = b
	}

	h.deps.Speech.Stop(interrupt)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "stopped",
		"interrupt": interrupt,
		"pending":   h.deps.Speech.Pending(),
	})
}

// handleSpeechPlay handles POST /api/speech/play {"key": "..."}
func (h *Handler) handleSpeechPlay(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if h.deps.Speech == nil {
		writeError(w, http.StatusServiceUnavailable, "playback is not configured")
		return
	}

	var request struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil || request.Key == "" {
		writeError(w, http.StatusBadRequest, "request body must contain a key")
		return
	}

	id, ok, err := h.deps.Speech.PlayCached(request.Key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no cached speech for %q", request.Key)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"utterance_id": id})
}

// handleSettings handles GET and PUT /api/settings
func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	if h.deps.Config == nil {
		writeError(w, http.StatusServiceUnavailable, "settings are not available")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.deps.Config.Clone())
	case http.MethodPut:
		h.putSettings(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// putSettings updates the configuration
func (h *Handler) putSettings(w http.ResponseWriter, r *http.Request) {
	var updates map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.deps.Config.Update(updates); err != nil {
		writeError(w, http.StatusBadRequest, "failed to update config: %v", err)
		return
	}

	if err := h.deps.Config.Save(h.deps.ConfigPath); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save config: %v", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// handleHotkeyValidate handles POST /api/hotkey/validate
func (h *Handler) handleHotkeyValidate(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	var request config.HotkeyConfig
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if request.Mode == "" {
		request.Mode = "press-to-hold"
	}

	hk, err := hotkey.FromConfig(request)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"valid":     false,
			"message":   err.Error(),
			"conflicts": []string{},
		})
		return
	}

	conflictNames := []string{}
	for _, c := range hotkey.CheckConflicts(hk.Combo) {
		conflictNames = append(conflictNames, c.Name)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":     true,
		"display":   hk.Combo.String(),
		"conflicts": conflictNames,
	})
}

// handleHotkeyRegister handles POST /api/hotkey/register
func (h *Handler) handleHotkeyRegister(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if h.deps.Config == nil {
		writeError(w, http.StatusServiceUnavailable, "settings are not available")
		return
	}

	var request config.HotkeyConfig
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if request.Mode == "" {
		request.Mode = h.deps.Config.Clone().Hotkey.Mode
	}

	if _, err := hotkey.FromConfig(request); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	h.log.Debug("Registering hotkey: Ctrl=%v, Shift=%v, Alt=%v, Cmd=%v, Key=%q, Mode=%s",
		request.Ctrl, request.Shift, request.Alt, request.Cmd, request.Key, request.Mode)

	h.deps.Config.SetHotkey(request)
	if err := h.deps.Config.Save(h.deps.ConfigPath); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save config: %v", err)
		return
	}

	if h.deps.OnHotkeyChanged != nil {
		if err := h.deps.OnHotkeyChanged(); err != nil {
			// The config is already saved
			h.log.Warn("Failed to reload hotkey: %v", err)
			writeJSON(w, http.StatusOK, map[string]string{
				"status":  "partial",
				"message": fmt.Sprintf("Hotkey saved but reload failed: %v. Please restart the application.", err),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Hotkey registered and applied successfully",
	})
}

// Permission represents a system permission status
type Permission struct {
	Granted bool   `json:"granted"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// handlePermissions handles GET /api/permissions
func (h *Handler) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	checker := h.deps.Permissions
	if checker == nil {
		checker = permissions.NewPermissionChecker()
	}
	status := checker.CheckMicrophonePermission()

	writeJSON(w, http.StatusOK, map[string]Permission{
		"microphone": {
			Granted: status == permissions.PermissionAuthorized,
			Status:  status.String(),
			Message: status.Message(),
		},
	})
}
