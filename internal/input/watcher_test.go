package input

import (
	"errors"
	"sync"
	"testing"
	"time"

	hook "github.com/robotn/gohook"
)

// fakeHook stands in for the gohook event loop. Like libuiohook it
// announces a successful install with a HookEnabled event.
type fakeHook struct {
	events chan hook.Event
	once   sync.Once
	ended  int
}

func newFakeHook() *fakeHook {
	f := newSilentHook()
	f.events <- hook.Event{Kind: hook.HookEnabled}
	return f
}

// newSilentHook never announces itself, as when no hook can be installed.
func newSilentHook() *fakeHook {
	return &fakeHook{events: make(chan hook.Event, 16)}
}

func (f *fakeHook) watcher() *HookWatcher {
	return &HookWatcher{
		start: func() chan hook.Event { return f.events },
		end: func() {
			f.ended++
			f.once.Do(func() { close(f.events) })
		},
		readyTimeout: 50 * time.Millisecond,
	}
}

func TestHookWatcher_DeliversKeyDown(t *testing.T) {
	fh := newFakeHook()
	w := fh.watcher()

	var mu sync.Mutex
	var got []string
	if err := w.Start(func(key string) {
		mu.Lock()
		got = append(got, key)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	fh.events <- hook.Event{Kind: hook.KeyDown, Keycode: hook.Keycode["esc"]}
	fh.events <- hook.Event{Kind: hook.KeyUp, Keycode: hook.Keycode["esc"]}
	fh.events <- hook.Event{Kind: hook.KeyDown, Keycode: hook.Keycode["f12"]}

	// Stop drains the loop before returning.
	w.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("handler called %d times, want 2 (%v)", len(got), got)
	}
	if got[0] != "esc" {
		t.Errorf("first key = %q, want esc", got[0])
	}
	if got[1] != "f12" {
		t.Errorf("second key = %q, want f12", got[1])
	}
}

func TestHookWatcher_StartTwice(t *testing.T) {
	fh := newFakeHook()
	w := fh.watcher()

	if err := w.Start(func(string) {}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	if err := w.Start(func(string) {}); !errors.Is(err, ErrWatcherStarted) {
		t.Errorf("second Start() error = %v, want ErrWatcherStarted", err)
	}
}

func TestHookWatcher_UnavailableHook(t *testing.T) {
	fh := newSilentHook()
	w := fh.watcher()

	err := w.Start(func(string) { t.Error("handler called for an unavailable hook") })
	if !errors.Is(err, ErrHookUnavailable) {
		t.Fatalf("Start() error = %v, want ErrHookUnavailable", err)
	}
	if fh.ended != 1 {
		t.Errorf("end called %d times, want 1", fh.ended)
	}

	// Nothing is running, so Stop must not call end again.
	w.Stop()
	if fh.ended != 1 {
		t.Errorf("end called %d times after Stop, want 1", fh.ended)
	}
}

func TestHookWatcher_FirstKeyEventCountsAsReady(t *testing.T) {
	fh := newSilentHook()
	fh.events <- hook.Event{Kind: hook.KeyDown, Keycode: hook.Keycode["esc"]}
	w := fh.watcher()

	got := make(chan string, 1)
	if err := w.Start(func(key string) { got <- key }); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	select {
	case key := <-got:
		if key != "esc" {
			t.Errorf("key = %q, want esc", key)
		}
	case <-time.After(time.Second):
		t.Fatal("first key event was not delivered")
	}
}

func TestHookWatcher_StopIdempotent(t *testing.T) {
	fh := newFakeHook()
	w := fh.watcher()

	w.Stop()
	if fh.ended != 0 {
		t.Errorf("end called %d times before Start, want 0", fh.ended)
	}

	if err := w.Start(func(string) {}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		w.Stop()
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return")
	}
	if fh.ended != 1 {
		t.Errorf("end called %d times, want 1", fh.ended)
	}
}

func TestKeyName_FallsBackToKeychar(t *testing.T) {
	ev := hook.Event{Kind: hook.KeyDown, Keycode: 0xFFFE, Rawcode: 0xFFFE, Keychar: 'Q'}
	if got := keyName(ev); got != "q" {
		t.Errorf("keyName() = %q, want q", got)
	}
}

func TestKeycodeName_Stable(t *testing.T) {
	code := hook.Keycode["esc"]
	first := keycodeName(code)
	for range 10 {
		if got := keycodeName(code); got != first {
			t.Fatalf("keycodeName(%d) = %q, then %q", code, first, got)
		}
	}
	if CanonicalKey(first) != "esc" {
		t.Errorf("keycodeName(esc code) = %q, want a name folding to esc", first)
	}
}
