//go:build !darwin

package permissions

import "errors"

// Other platforms gate the microphone at the device level, not per process.
func microphoneStatus() PermissionStatus {
	return PermissionAuthorized
}

func openMicrophoneSettings() error {
	return errors.New("no microphone settings page on this platform")
}
