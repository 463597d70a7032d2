// Package automation provides the plan engine for Keyrunner.
//
// A Plan is an ordered list of Sequences replayed for a number of rounds.
// Each Sequence is an ordered list of Actions (a key, a chord, or literal
// text) replayed Count times with a delay after every action, optionally
// jittered and optionally in shuffled order.
//
// Architecture:
//
//	┌───────────────────────────────────────────────────────┐
//	│                  Engine (engine.go)                    │
//	│  Idle ──Start──▶ Running ──Stop/ESC──▶ Stopping        │
//	│   ▲                 │                      │           │
//	│   └──── finish ◀────┴──────────────────────┘           │
//	│                                                        │
//	│  Worker (runner.go)                                    │
//	│  1. for each round, for each sequence:                 │
//	│  2.   shuffle a copy once if random_order              │
//	│  3.   replay count times: dispatch, then sleep         │
//	│  4.   report progress                                  │
//	│  5. record run, publish MQTT/WebSocket, write metrics  │
//	│  6. back to Idle, fire onStopped                       │
//	│                                                        │
//	│  ┌──────────────┐    ┌──────────────┐                 │
//	│  │   Registry   │───▶│  Repository  │  plans + runs   │
//	│  │(registry.go) │    │(repository.go)│                │
//	│  └──────────────┘    └──────────────┘                 │
//	└───────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Action: one unit of keyboard input (single, combination, text)
//   - Sequence: actions plus count, interval and jitter flags
//   - Plan: sequences plus repeat_count and repeat_interval
//   - Run: record of one execution of a plan
//   - Engine: runs one plan at a time on a background worker
//   - Registry: thread-safe in-memory cache wrapping Repository
//
// # Cancellation
//
// Stop, the abort key and Close set a per-run atomic flag and cancel the
// run's context. The worker checks the flag before every action and every
// sequence, and every sleep returns early on cancellation, so a stop takes
// effect within one action's dispatch time.
//
// # Usage
//
//	repo := automation.NewSQLiteRepository(db.DB)
//	registry := automation.NewRegistry(repo)
//	registry.SetLogger(log)
//
//	engine, err := automation.NewEngine(automation.Options{
//	    Injector: input.NewRobotInjector(),
//	    Watcher:  input.NewHookWatcher(),
//	    Runs:     repo,
//	    Logger:   log,
//	})
//	defer engine.Close()
//
//	plan, _ := registry.GetPlan(ctx, id)
//	runID, err := engine.StartRun(plan, nil, "api")
package automation
