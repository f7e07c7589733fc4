package hotkey

import (
	"fmt"
	"strings"

	"golang.design/x/hotkey"

	"github.com/yok-tottii/ezvoice/internal/config"
)

// Combo is a platform independent key combination. Alt maps to Option and
// Cmd maps to Command on macOS, Cmd maps to the Windows/Super key elsewhere.
type Combo struct {
	Ctrl  bool
	Shift bool
	Alt   bool
	Cmd   bool
	Key   string
}

var keys = map[string]hotkey.Key{
	"A": hotkey.KeyA, "B": hotkey.KeyB, "C": hotkey.KeyC, "D": hotkey.KeyD,
	"E": hotkey.KeyE, "F": hotkey.KeyF, "G": hotkey.KeyG, "H": hotkey.KeyH,
	"I": hotkey.KeyI, "J": hotkey.KeyJ, "K": hotkey.KeyK, "L": hotkey.KeyL,
	"M": hotkey.KeyM, "N": hotkey.KeyN, "O": hotkey.KeyO, "P": hotkey.KeyP,
	"Q": hotkey.KeyQ, "R": hotkey.KeyR, "S": hotkey.KeyS, "T": hotkey.KeyT,
	"U": hotkey.KeyU, "V": hotkey.KeyV, "W": hotkey.KeyW, "X": hotkey.KeyX,
	"Y": hotkey.KeyY, "Z": hotkey.KeyZ,

	"0": hotkey.Key0, "1": hotkey.Key1, "2": hotkey.Key2, "3": hotkey.Key3,
	"4": hotkey.Key4, "5": hotkey.Key5, "6": hotkey.Key6, "7": hotkey.Key7,
	"8": hotkey.Key8, "9": hotkey.Key9,

	"F1": hotkey.KeyF1, "F2": hotkey.KeyF2, "F3": hotkey.KeyF3, "F4": hotkey.KeyF4,
	"F5": hotkey.KeyF5, "F6": hotkey.KeyF6, "F7": hotkey.KeyF7, "F8": hotkey.KeyF8,
	"F9": hotkey.KeyF9, "F10": hotkey.KeyF10, "F11": hotkey.KeyF11, "F12": hotkey.KeyF12,

	"SPACE":  hotkey.KeySpace,
	"RETURN": hotkey.KeyReturn,
	"ESCAPE": hotkey.KeyEscape,
	"DELETE": hotkey.KeyDelete,
	"TAB":    hotkey.KeyTab,
	"LEFT":   hotkey.KeyLeft,
	"RIGHT":  hotkey.KeyRight,
	"UP":     hotkey.KeyUp,
	"DOWN":   hotkey.KeyDown,
}

var keyAliases = map[string]string{
	"ENTER": "RETURN",
	"ESC":   "ESCAPE",
	"DEL":   "DELETE",
}

// normalizeKey returns the canonical upper-case key name
func normalizeKey(name string) string {
	// macOS input methods can report the space bar as a no-break space
	if name == "\u00a0" || name == " " {
		return "SPACE"
	}
	k := strings.ToUpper(strings.TrimSpace(name))
	if alias, ok := keyAliases[k]; ok {
		return alias
	}
	return k
}

// ParseKey looks up a key by name, case-insensitively
func ParseKey(name string) (hotkey.Key, error) {
	k, ok := keys[normalizeKey(name)]
	if !ok {
		return 0, fmt.Errorf("unsupported key: %q", name)
	}
	return k, nil
}

// Validate checks the combo has a known key and at least one modifier
func (c Combo) Validate() error {
	if _, err := ParseKey(c.Key); err != nil {
		return err
	}
	if !c.Ctrl && !c.Shift && !c.Alt && !c.Cmd {
		return fmt.Errorf("hotkey %s needs at least one modifier", c)
	}
	return nil
}

// Modifiers returns the platform modifiers for the combo
func (c Combo) Modifiers() []hotkey.Modifier {
	var mods []hotkey.Modifier
	if c.Ctrl {
		mods = append(mods, hotkey.ModCtrl)
	}
	if c.Shift {
		mods = append(mods, hotkey.ModShift)
	}
	if c.Alt {
		mods = append(mods, modAlt)
	}
	if c.Cmd {
		mods = append(mods, modCmd)
	}
	return mods
}

func (c Combo) resolve() ([]hotkey.Modifier, hotkey.Key, error) {
	if err := c.Validate(); err != nil {
		return nil, 0, err
	}
	key, _ := ParseKey(c.Key)
	return c.Modifiers(), key, nil
}

// String formats the combo as "Ctrl+Alt+Space"
func (c Combo) String() string {
	var parts []string
	if c.Ctrl {
		parts = append(parts, "Ctrl")
	}
	if c.Shift {
		parts = append(parts, "Shift")
	}
	if c.Alt {
		parts = append(parts, altName)
	}
	if c.Cmd {
		parts = append(parts, cmdName)
	}
	parts = append(parts, keyDisplayName(c.Key))
	return strings.Join(parts, "+")
}

func keyDisplayName(name string) string {
	k := normalizeKey(name)
	if k == "" {
		return "?"
	}
	if len(k) == 1 || (k[0] == 'F' && len(k) <= 3) {
		return k
	}
	return k[:1] + strings.ToLower(k[1:])
}

// FromConfig converts the persisted hotkey settings
func FromConfig(hc config.HotkeyConfig) (Config, error) {
	mode, err := ParseMode(hc.Mode)
	if err != nil {
		return Config{}, err
	}
	combo := Combo{Ctrl: hc.Ctrl, Shift: hc.Shift, Alt: hc.Alt, Cmd: hc.Cmd, Key: hc.Key}
	if err := combo.Validate(); err != nil {
		return Config{}, err
	}
	return Config{Combo: combo, Mode: mode}, nil
}
