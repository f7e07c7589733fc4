// Package permissions checks whether the process may open the microphone.
package permissions

import (
	"errors"
	"fmt"
)

// ErrMicrophoneDenied is returned when capture is not permitted
var ErrMicrophoneDenied = errors.New("microphone access not granted")

// PermissionStatus represents the status of a system permission
type PermissionStatus int

const (
	// PermissionNotDetermined means the user hasn't been asked yet
	PermissionNotDetermined PermissionStatus = 0
	// PermissionRestricted means the permission is restricted by parental controls
	PermissionRestricted PermissionStatus = 1
	// PermissionDenied means the user has explicitly denied the permission
	PermissionDenied PermissionStatus = 2
	// PermissionAuthorized means the user has authorized the permission
	PermissionAuthorized PermissionStatus = 3
)

// String returns the status name
func (ps PermissionStatus) String() string {
	switch ps {
	case PermissionNotDetermined:
		return "NotDetermined"
	case PermissionRestricted:
		return "Restricted"
	case PermissionDenied:
		return "Denied"
	case PermissionAuthorized:
		return "Authorized"
	default:
		return "Unknown"
	}
}

// Message returns a human-readable description of the status
func (ps PermissionStatus) Message() string {
	switch ps {
	case PermissionNotDetermined:
		return "Permission not yet determined"
	case PermissionRestricted:
		return "Permission restricted by parental controls"
	case PermissionDenied:
		return "Permission denied"
	case PermissionAuthorized:
		return "Permission authorized"
	default:
		return "Unknown permission status"
	}
}

// PermissionChecker checks microphone permission for the current platform
type PermissionChecker struct {
	status       func() PermissionStatus
	openSettings func() error
}

// NewPermissionChecker creates a checker backed by the operating system
func NewPermissionChecker() *PermissionChecker {
	return &PermissionChecker{
		status:       microphoneStatus,
		openSettings: openMicrophoneSettings,
	}
}

// CheckMicrophonePermission returns the current microphone permission status
func (pc *PermissionChecker) CheckMicrophonePermission() PermissionStatus {
	return pc.status()
}

// IsMicrophoneAuthorized returns whether microphone permission is granted
func (pc *PermissionChecker) IsMicrophoneAuthorized() bool {
	return pc.CheckMicrophonePermission() == PermissionAuthorized
}

// RequireMicrophone returns ErrMicrophoneDenied unless access is authorized.
// A status that has not been determined yet is allowed through so the
// system prompt appears when the stream is opened.
func (pc *PermissionChecker) RequireMicrophone() error {
	switch status := pc.CheckMicrophonePermission(); status {
	case PermissionAuthorized, PermissionNotDetermined:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrMicrophoneDenied, status)
	}
}

// RequestMicrophonePermission opens the system settings page for the microphone
func (pc *PermissionChecker) RequestMicrophonePermission() error {
	if err := pc.openSettings(); err != nil {
		return fmt.Errorf("failed to open microphone settings: %w", err)
	}
	return nil
}
