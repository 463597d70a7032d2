package input

import (
	"errors"
	"fmt"
	"sync"
	"time"

	hook "github.com/robotn/gohook"
)

var (
	// ErrWatcherStarted is returned when Start is called twice.
	ErrWatcherStarted = errors.New("input: watcher already started")

	// ErrHookUnavailable is returned when the system-wide hook produced no
	// events after installation, typically because there is no desktop
	// session or the process lacks input-monitoring permission.
	ErrHookUnavailable = errors.New("input: keyboard hook unavailable")
)

// defaultReadyTimeout bounds how long Start waits for the hook's first
// event. libuiohook reports a successful install with a HookEnabled event.
const defaultReadyTimeout = 2 * time.Second

// HookWatcher reports every key-down event in the desktop session,
// regardless of which window has focus.
type HookWatcher struct {
	start        func() chan hook.Event
	end          func()
	readyTimeout time.Duration

	mu      sync.Mutex
	started bool
	done    chan struct{}
}

// NewHookWatcher returns a watcher backed by gohook.
func NewHookWatcher() *HookWatcher {
	return &HookWatcher{
		start:        hook.Start,
		end:          hook.End,
		readyTimeout: defaultReadyTimeout,
	}
}

// Start installs the hook and calls handler with the canonical name of
// each pressed key. The handler runs on the event loop and must not block.
//
// gohook reports install failures only by never sending events, so Start
// waits for the first event and returns ErrHookUnavailable if none arrives.
func (w *HookWatcher) Start(handler func(key string)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return ErrWatcherStarted
	}

	events := w.start()
	first, err := w.awaitReady(events)
	if err != nil {
		w.end()
		return err
	}

	w.done = make(chan struct{})
	w.started = true

	go func(done chan struct{}) {
		defer close(done)
		deliver(first, handler)
		for ev := range events {
			deliver(ev, handler)
		}
	}(w.done)

	return nil
}

// awaitReady returns the hook's first event, or ErrHookUnavailable when the
// stream closes or stays silent for readyTimeout.
func (w *HookWatcher) awaitReady(events chan hook.Event) (hook.Event, error) {
	timer := time.NewTimer(w.readyTimeout)
	defer timer.Stop()

	select {
	case ev, ok := <-events:
		if !ok {
			return hook.Event{}, fmt.Errorf("%w: event stream closed", ErrHookUnavailable)
		}
		return ev, nil
	case <-timer.C:
		return hook.Event{}, fmt.Errorf("%w: no events within %s", ErrHookUnavailable, w.readyTimeout)
	}
}

func deliver(ev hook.Event, handler func(key string)) {
	if ev.Kind != hook.KeyDown {
		return
	}
	if name := keyName(ev); name != "" {
		handler(name)
	}
}

// Stop removes the hook and waits for the event loop to drain.
func (w *HookWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return
	}
	w.end()
	<-w.done
	w.started = false
}

// charUndefined is the Keychar libuiohook reports for non-printing keys.
const charUndefined = 0xFFFF

// keyNames is the reverse of hook.Keycode, built once.
var (
	keyNamesOnce sync.Once
	keyNames     map[uint16]string
)

func keycodeName(code uint16) string {
	keyNamesOnce.Do(func() {
		keyNames = make(map[uint16]string, len(hook.Keycode))
		for name, c := range hook.Keycode {
			// Several names can share a code; keep the shortest, then the
			// alphabetically first, so the result is stable.
			if prev, ok := keyNames[c]; ok && (len(prev) < len(name) || (len(prev) == len(name) && prev < name)) {
				continue
			}
			keyNames[c] = name
		}
	})
	return keyNames[code]
}

// keyName resolves an event to a canonical key name, trying the virtual
// keycode, then the raw code, then the character.
func keyName(ev hook.Event) string {
	if name := keycodeName(ev.Keycode); name != "" {
		return CanonicalKey(name)
	}
	if name := hook.RawcodetoKeychar(ev.Rawcode); name != "" {
		return CanonicalKey(name)
	}
	if ev.Keychar != 0 && ev.Keychar != charUndefined {
		return CanonicalKey(string(ev.Keychar))
	}
	return ""
}
