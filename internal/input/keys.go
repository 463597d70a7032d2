package input

import "strings"

// canonicalAliases folds alternative spellings onto one canonical name.
var canonicalAliases = map[string]string{
	"escape":    "esc",
	"return":    "enter",
	"control":   "ctrl",
	"lctrl":     "ctrl",
	"command":   "cmd",
	"super":     "cmd",
	"win":       "cmd",
	"windows":   "cmd",
	"meta":      "cmd",
	"option":    "alt",
	"lalt":      "alt",
	"lshift":    "shift",
	"del":       "delete",
	"ins":       "insert",
	"pgup":      "pageup",
	"page_up":   "pageup",
	"pgdn":      "pagedown",
	"page_down": "pagedown",
	"bksp":      "backspace",
	"spacebar":  "space",

	"arrowup":    "up",
	"arrowdown":  "down",
	"arrowleft":  "left",
	"arrowright": "right",
}

// robotNames maps canonical names to the names robotgo expects, where
// they differ.
var robotNames = map[string]string{
	"esc":  "escape",
	"ctrl": "control",
	"cmd":  "command",
}

// CanonicalKey returns the canonical lowercase name for a key, folding
// aliases such as "Escape" to "esc" and "win" to "cmd".
func CanonicalKey(name string) string {
	k := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := canonicalAliases[k]; ok {
		return alias
	}
	return k
}

// robotKey returns robotgo's name for a key.
func robotKey(name string) string {
	k := CanonicalKey(name)
	if r, ok := robotNames[k]; ok {
		return r
	}
	return k
}
