package automation

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Injector sends simulated keyboard input to the OS. Each call blocks until
// the OS has accepted the input.
type Injector interface {
	// PressKey taps one named key.
	PressKey(key string) error

	// PressCombination holds keys down in order, then releases them in reverse.
	PressCombination(keys []string) error

	// TypeText types text character by character.
	TypeText(text string) error
}

// HotkeyWatcher observes key presses system-wide, not only in a focused window.
type HotkeyWatcher interface {
	// Start begins delivering key-down events to handler. Called once.
	Start(handler func(key string)) error

	// Stop removes the system hook. Called once.
	Stop()
}

// ProgressReporter receives one report per completed sequence.
type ProgressReporter interface {
	ReportProgress(percent float64, message string)
}

// ProgressFunc adapts a plain function to ProgressReporter.
type ProgressFunc func(percent float64, message string)

// ReportProgress calls f.
func (f ProgressFunc) ReportProgress(percent float64, message string) {
	f(percent, message)
}

type noopProgress struct{}

func (noopProgress) ReportProgress(float64, string) {}

// RunRecorder persists run records. Repository satisfies it.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *Run) error
	UpdateRun(ctx context.Context, run *Run) error
}

// MQTTClient is the interface for publishing run events.
type MQTTClient interface {
	// Publish sends a message to the specified MQTT topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// WSHub is the interface for broadcasting WebSocket events.
type WSHub interface {
	// Broadcast sends an event to all clients subscribed to the given channel.
	Broadcast(channel string, payload any)
}

// MetricsWriter receives one summary point per finished run.
type MetricsWriter interface {
	WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, ts time.Time)
}

// State is the engine lifecycle state.
type State int32

const (
	// StateIdle accepts a new run.
	StateIdle State = iota
	// StateRunning has exactly one worker executing a plan.
	StateRunning
	// StateStopping has a stop requested but the worker has not exited yet.
	StateStopping
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*s = StateIdle
	case "running":
		*s = StateRunning
	case "stopping":
		*s = StateStopping
	default:
		return fmt.Errorf("unknown engine state %q", text)
	}
	return nil
}

// Engine defaults.
const (
	DefaultAbortKey    = "esc"
	DefaultStopTimeout = time.Second
)

// Options configures an Engine. Only Injector is required.
type Options struct {
	Injector Injector
	Watcher  HotkeyWatcher // nil disables the abort key

	AbortKey    string        // default "esc"
	StopTimeout time.Duration // bound on Stop's join wait, default 1s

	Runs    RunRecorder   // run log (may be nil)
	MQTT    MQTTClient    // run events (may be nil)
	Hub     WSHub         // run events (may be nil)
	Metrics MetricsWriter // run summaries (may be nil)
	Logger  Logger

	// Rand drives interval jitter and order shuffling. Tests seed it.
	Rand *rand.Rand
}

// Engine runs one plan at a time on a background worker.
//
// Start returns immediately; the worker walks rounds, sequences and actions,
// sleeping between actions and checking a per-run stop flag before each
// action and each sequence. Stop, the abort key and Close all set that flag
// and cancel any in-flight sleep.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Engine struct {
	injector    Injector
	watcher     HotkeyWatcher
	abortKey    string
	stopTimeout time.Duration

	runs    RunRecorder
	mqtt    MQTTClient
	hub     WSHub
	metrics MetricsWriter
	logger  Logger

	// rng is only touched by the worker, and there is one worker at a time.
	rng *rand.Rand

	// wait sleeps for d or until ctx is done. Returns false if cancelled.
	wait func(ctx context.Context, d time.Duration) bool

	state atomic.Int32

	mu        sync.Mutex // Protects active, onStopped, closed
	active    *activeRun
	onStopped func()
	closed    bool
	closeOnce sync.Once
}

// activeRun is the state of the run in flight.
type activeRun struct {
	plan     *Plan
	progress ProgressReporter
	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
	done     chan struct{}

	mu      sync.Mutex // Protects run, percent, message
	run     *Run
	percent float64
	message string
}

// requestStop sets the stop flag and cancels sleeps. Returns false if the
// flag was already set.
func (ar *activeRun) requestStop() bool {
	if ar.stopping.Swap(true) {
		return false
	}
	ar.cancel()
	return true
}

func (ar *activeRun) stopRequested() bool {
	return ar.stopping.Load()
}

// NewEngine creates an engine and starts the abort-key watcher.
//
// Returns:
//   - *Engine: engine in the idle state
//   - error: ErrNoInjector, or the watcher's start error wrapped
func NewEngine(opts Options) (*Engine, error) {
	if opts.Injector == nil {
		return nil, ErrNoInjector
	}
	if opts.AbortKey == "" {
		opts.AbortKey = DefaultAbortKey
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // jitter, not security
	}

	e := &Engine{
		injector:    opts.Injector,
		watcher:     opts.Watcher,
		abortKey:    opts.AbortKey,
		stopTimeout: opts.StopTimeout,
		runs:        opts.Runs,
		mqtt:        opts.MQTT,
		hub:         opts.Hub,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		rng:         opts.Rand,
		wait:        sleepContext,
	}

	if e.watcher != nil {
		if err := e.watcher.Start(e.handleKey); err != nil {
			return nil, fmt.Errorf("starting hotkey watcher: %w", err)
		}
		e.logger.Info("abort key armed", "key", e.abortKey)
	}

	return e, nil
}

// SetOnStopped registers the callback invoked once per run as the engine
// returns to idle, after natural completion or a stop.
func (e *Engine) SetOnStopped(callback func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStopped = callback
}

// Start begins running plan and returns true, or returns false without side
// effects if a run is already active. progress may be nil.
func (e *Engine) Start(plan *Plan, progress ProgressReporter) bool {
	_, err := e.StartRun(plan, progress, "")
	return err == nil
}

// StartRun is Start with a run ID and a reason for rejection.
//
// Parameters:
//   - plan: plan to run; the engine runs a deep copy
//   - progress: per-sequence progress receiver (may be nil)
//   - source: where the run was triggered from (api, mqtt, cli)
//
// Returns:
//   - string: ID of the new run
//   - error: ErrEngineBusy, ErrEngineClosed, or ErrInvalidPlan for a nil plan
func (e *Engine) StartRun(plan *Plan, progress ProgressReporter, source string) (string, error) {
	if plan == nil {
		return "", ErrInvalidPlan
	}
	if progress == nil {
		progress = noopProgress{}
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrEngineClosed
	}
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		e.mu.Unlock()
		return "", ErrEngineBusy
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := plan.DeepCopy()
	ar := &activeRun{
		plan:     p,
		progress: progress,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		run: &Run{
			ID:            GenerateID(),
			PlanID:        p.ID,
			PlanName:      p.Name,
			Status:        RunRunning,
			TriggerSource: source,
			StartedAt:     time.Now().UTC(),
		},
	}
	e.active = ar
	e.mu.Unlock()

	go e.execute(ar)

	return ar.run.ID, nil
}

// Stop requests the active run to stop and waits for the worker to exit,
// at most the configured stop timeout. No-op when idle.
//
// After a timeout the engine reports StateStopping until the worker
// notices the flag; Start is rejected until then.
func (e *Engine) Stop() {
	ar := e.requestStop()
	if ar == nil {
		return
	}

	timer := time.NewTimer(e.stopTimeout)
	defer timer.Stop()

	select {
	case <-ar.done:
	case <-timer.C:
		e.logger.Warn("run did not stop within timeout",
			"run_id", ar.run.ID,
			"timeout", e.stopTimeout,
		)
	}
}

// requestStop flags the active run without waiting. Returns the run, or nil
// when idle.
func (e *Engine) requestStop() *activeRun {
	e.mu.Lock()
	defer e.mu.Unlock()

	ar := e.active
	if ar == nil {
		return nil
	}
	if ar.requestStop() {
		e.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
		e.logger.Info("run stop requested", "run_id", ar.run.ID)
	}
	return ar
}

// handleKey is the HotkeyWatcher handler. It runs on the hook's event loop,
// so it only flags the run and never waits.
func (e *Engine) handleKey(key string) {
	if !strings.EqualFold(key, e.abortKey) {
		return
	}
	if e.State() != StateRunning {
		return
	}
	e.logger.Info("abort key pressed", "key", key)
	e.requestStop()
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// IsRunning reports whether a run is active and no stop has been requested.
func (e *Engine) IsRunning() bool {
	return e.State() == StateRunning
}

// EngineStatus is a point-in-time view of the engine.
type EngineStatus struct {
	State     State      `json:"state"`
	RunID     string     `json:"run_id,omitempty"`
	PlanID    string     `json:"plan_id,omitempty"`
	PlanName  string     `json:"plan_name,omitempty"`
	Progress  float64    `json:"progress"`
	Message   string     `json:"message,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// Status returns the current state and, while a run is active, its progress.
func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	ar := e.active
	status := EngineStatus{State: e.State()}
	e.mu.Unlock()

	if ar == nil {
		return status
	}

	ar.mu.Lock()
	defer ar.mu.Unlock()
	started := ar.run.StartedAt
	status.RunID = ar.run.ID
	status.PlanID = ar.run.PlanID
	status.PlanName = ar.run.PlanName
	status.Progress = ar.percent
	status.Message = ar.message
	status.StartedAt = &started
	return status
}

// Close stops any active run and removes the system-wide abort hook.
// Further Start calls fail with ErrEngineClosed. Safe to call more than once.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()

		e.Stop()

		if e.watcher != nil {
			e.watcher.Stop()
		}
		e.logger.Info("engine closed")
	})
}

// sleepContext waits for d or until ctx is done. Returns false if cancelled.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
