//go:build linux

package hotkey

import "golang.design/x/hotkey"

// X11 maps Alt to Mod1 and Super to Mod4 on common keyboard layouts.
const (
	modAlt = hotkey.Mod1
	modCmd = hotkey.Mod4

	altName = "Alt"
	cmdName = "Super"
)
