//go:build darwin

package hotkey

import "golang.design/x/hotkey"

const (
	modAlt = hotkey.ModOption
	modCmd = hotkey.ModCmd

	altName = "Option"
	cmdName = "Cmd"
)
