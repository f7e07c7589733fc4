package hotkey

// ConflictInfo represents information about a known shortcut conflict
type ConflictInfo struct {
	Name        string
	Description string
	Combo       Combo
}

// knownConflicts lists common system and launcher shortcuts
var knownConflicts = []ConflictInfo{
	{
		Name:        "Spotlight",
		Description: "macOS Spotlight search",
		Combo:       Combo{Cmd: true, Key: "Space"},
	},
	{
		Name:        "Raycast",
		Description: "Raycast launcher (common default)",
		Combo:       Combo{Alt: true, Key: "Space"},
	},
	{
		Name:        "IME Switch",
		Description: "Input method editor switch",
		Combo:       Combo{Ctrl: true, Key: "Space"},
	},
	{
		Name:        "Force Quit",
		Description: "macOS Force Quit",
		Combo:       Combo{Alt: true, Cmd: true, Key: "Escape"},
	},
	{
		Name:        "Window Menu",
		Description: "Window menu on Windows and most Linux desktops",
		Combo:       Combo{Alt: true, Key: "Space"},
	},
	{
		Name:        "Task Manager",
		Description: "Windows Task Manager",
		Combo:       Combo{Ctrl: true, Shift: true, Key: "Escape"},
	},
}

// CheckConflicts returns the known shortcuts that use exactly this combo
func CheckConflicts(c Combo) []ConflictInfo {
	var conflicts []ConflictInfo
	for _, known := range knownConflicts {
		if known.Combo.Equal(c) {
			conflicts = append(conflicts, known)
		}
	}
	return conflicts
}

// Equal reports whether two combos press the same modifiers and key
func (c Combo) Equal(other Combo) bool {
	return c.Ctrl == other.Ctrl &&
		c.Shift == other.Shift &&
		c.Alt == other.Alt &&
		c.Cmd == other.Cmd &&
		normalizeKey(c.Key) == normalizeKey(other.Key)
}
