// Package input implements the OS-facing side of Keyrunner: a keystroke
// injector backed by robotgo and a system-wide key watcher backed by gohook.
//
// Both talk to the desktop session (X11, Windows or macOS) and need cgo.
// On macOS the process must be granted Accessibility permission, otherwise
// key events are silently dropped.
//
// Key names are accepted in the forms used by plan files ("ctrl", "win",
// "esc", "f5", "a") and translated to robotgo's names before injection.
// The watcher reports key names in the same canonical form, so the abort
// key configured as "esc" matches an Escape press on every platform.
package input
