package input

import (
	"errors"
	"fmt"

	"github.com/go-vgo/robotgo"
)

// ErrEmptyKey is returned when a key name is blank.
var ErrEmptyKey = errors.New("input: empty key name")

// RobotInjector sends keystrokes to the focused window through robotgo.
//
// robotgo panics on some unmapped keys; every method converts such a panic
// into an error so one bad key cannot kill a run.
type RobotInjector struct {
	keyTap    func(key string) error
	keyToggle func(key, direction string) error
	typeStr   func(text string)
}

// NewRobotInjector returns an injector bound to the current desktop session.
func NewRobotInjector() *RobotInjector {
	return &RobotInjector{
		keyTap:    func(key string) error { return robotgo.KeyTap(key) },
		keyToggle: func(key, direction string) error { return robotgo.KeyToggle(key, direction) },
		typeStr:   func(text string) { robotgo.TypeStr(text) },
	}
}

// PressKey taps one key.
func (r *RobotInjector) PressKey(key string) (err error) {
	defer recoverInto(&err, "pressing "+key)

	k := robotKey(key)
	if k == "" {
		return ErrEmptyKey
	}
	if err := r.keyTap(k); err != nil {
		return fmt.Errorf("pressing %q: %w", key, err)
	}
	return nil
}

// PressCombination holds keys down in order and releases them in reverse.
// Keys already held are released if a later key fails to go down.
func (r *RobotInjector) PressCombination(keys []string) (err error) {
	if len(keys) == 1 {
		return r.PressKey(keys[0])
	}

	names := make([]string, len(keys))
	for i, key := range keys {
		names[i] = robotKey(key)
		if names[i] == "" {
			return ErrEmptyKey
		}
	}

	var held []string
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("pressing combination %v: %v", keys, p)
		}
		if releaseErr := r.release(held); err == nil {
			err = releaseErr
		}
	}()

	for _, k := range names {
		if err := r.keyToggle(k, "down"); err != nil {
			return fmt.Errorf("holding %q: %w", k, err)
		}
		held = append(held, k)
	}
	return nil
}

// release lets go of held keys in reverse order and returns the first error.
func (r *RobotInjector) release(held []string) (err error) {
	defer recoverInto(&err, "releasing keys")

	for i := len(held) - 1; i >= 0; i-- {
		if upErr := r.keyToggle(held[i], "up"); upErr != nil && err == nil {
			err = fmt.Errorf("releasing %q: %w", held[i], upErr)
		}
	}
	return err
}

// TypeText types text character by character. Unicode is supported.
func (r *RobotInjector) TypeText(text string) (err error) {
	defer recoverInto(&err, "typing text")

	if text == "" {
		return nil
	}
	r.typeStr(text)
	return nil
}

// recoverInto turns a panic into an error assigned to *err.
func recoverInto(err *error, what string) {
	if p := recover(); p != nil {
		*err = fmt.Errorf("%s: %v", what, p)
	}
}
