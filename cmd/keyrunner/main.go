// Keyrunner - keyboard automation engine
//
// Keyrunner replays plans of keystrokes (single keys, chords and typed text)
// into whichever window has focus. It runs either as a long-lived service
// with an HTTP API and optional MQTT remote control, or headless with
// -plan to execute one plan file and exit.
//
// A global abort key (esc by default) stops the active run from anywhere.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/keyrunner/migrations"

	"github.com/nerrad567/keyrunner/internal/api"
	"github.com/nerrad567/keyrunner/internal/automation"
	"github.com/nerrad567/keyrunner/internal/infrastructure/config"
	"github.com/nerrad567/keyrunner/internal/infrastructure/database"
	"github.com/nerrad567/keyrunner/internal/infrastructure/influxdb"
	"github.com/nerrad567/keyrunner/internal/infrastructure/logging"
	"github.com/nerrad567/keyrunner/internal/infrastructure/mqtt"
	"github.com/nerrad567/keyrunner/internal/input"
	"github.com/nerrad567/keyrunner/internal/remote"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// Trigger source recorded for runs started with -plan.
const triggerSourceCLI = "cli"

// Input backends. Replaced in tests, where no desktop session exists.
var (
	newInjector = func() automation.Injector { return input.NewRobotInjector() }
	newWatcher  = func() automation.HotkeyWatcher { return input.NewHookWatcher() }
)

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the parsed command-line flags.
type options struct {
	configPath  string
	planPath    string
	showVersion bool
}

// parseFlags parses args (without the program name).
func parseFlags(args []string, output io.Writer) (options, error) {
	var opts options
	flags := flag.NewFlagSet("keyrunner", flag.ContinueOnError)
	flags.SetOutput(output)
	flags.StringVar(&opts.configPath, "config", "", "path to config.yaml (default $KEYRUNNER_CONFIG or "+defaultConfigPath+")")
	flags.StringVar(&opts.planPath, "plan", "", "run this plan file headless and exit when it stops")
	flags.BoolVar(&opts.showVersion, "version", false, "print version and exit")

	if err := flags.Parse(args); err != nil {
		return options{}, err
	}
	if flags.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", flags.Args())
	}
	return opts, nil
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - args: Command-line arguments without the program name
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, args []string) error { //nolint:gocognit,gocyclo // startup sequence: each step is linear
	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Printf("keyrunner %s (%s, %s)\n", version, commit, date)
		return nil
	}

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Keyrunner",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, configPath, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if configPath == "" {
		log.Info("no configuration file, using defaults")
	} else {
		log.Info("configuration loaded", "path", configPath)
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Read the plan before touching anything else so a bad file fails fast.
	var plan *automation.Plan
	if opts.planPath != "" {
		plan, err = automation.LoadPlanFile(opts.planPath)
		if err != nil {
			return fmt.Errorf("loading plan: %w", err)
		}
		log.Info("plan loaded", "path", opts.planPath, "name", plan.Name, "sequences", len(plan.Sequences))
	}

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Plan registry
	repo := automation.NewSQLiteRepository(db.DB)
	registry := automation.NewRegistry(repo)
	registry.SetLogger(log)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading plan registry: %w", refreshErr)
	}
	log.Info("plan registry initialised", "plans", registry.GetPlanCount())

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// WebSocket hub, shared by the engine (publisher) and the API (clients)
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(hubCtx)

	engine, err := newEngine(cfg, repo, mqttClient, influxClient, hub, log)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	defer engine.Close()

	if plan != nil {
		return runPlan(ctx, engine, plan, log)
	}

	if seedErr := seedPlans(ctx, registry, cfg.Plans.Dir, log); seedErr != nil {
		return fmt.Errorf("seeding plans: %w", seedErr)
	}

	// Remote control over MQTT
	if mqttClient != nil {
		controller := remote.New(mqttClient, registry, engine)
		controller.SetLogger(log)
		if startErr := controller.Start(); startErr != nil {
			return fmt.Errorf("starting remote control: %w", startErr)
		}
		defer controller.Stop()
	}

	// HTTP API
	if cfg.API.Enabled {
		server, srvErr := api.New(api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log,
			Plans:   registry,
			Runs:    repo,
			Engine:  engine,
			MQTT:    mqttClient,
			DB:      db,
			Hub:     hub,
			Version: version,
		})
		if srvErr != nil {
			return fmt.Errorf("creating API server: %w", srvErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: API, remote, engine, hub, InfluxDB,
	// MQTT, database.
	return nil
}

// loadConfig resolves the configuration file and loads it.
//
// An explicit path (flag or KEYRUNNER_CONFIG) must exist. When neither is
// set and the default file is missing, built-in defaults are used and the
// returned path is empty.
func loadConfig(flagPath string) (*config.Config, string, error) {
	path, explicit := flagPath, flagPath != ""
	if !explicit {
		if env := os.Getenv("KEYRUNNER_CONFIG"); env != "" {
			path, explicit = env, true
		} else {
			path = defaultConfigPath
		}
	}

	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			cfg := config.Default()
			if err := cfg.Validate(); err != nil {
				return nil, "", fmt.Errorf("validating config: %w", err)
			}
			return cfg, "", nil
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// newEngine builds the engine with whichever optional sinks are connected.
// If the abort-key hook cannot be installed the engine runs without it.
func newEngine(
	cfg *config.Config,
	repo automation.Repository,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	hub *api.Hub,
	log *logging.Logger,
) (*automation.Engine, error) {
	opts := automation.Options{
		Injector:    newInjector(),
		AbortKey:    input.CanonicalKey(cfg.Engine.AbortKey),
		StopTimeout: cfg.GetStopTimeout(),
		Runs:        repo,
		Logger:      log,
	}
	// Leave interface fields nil rather than holding typed nil pointers.
	if hub != nil {
		opts.Hub = hub
	}
	if mqttClient != nil {
		opts.MQTT = mqttClient
	}
	if influxClient != nil {
		opts.Metrics = influxClient
	}

	if !cfg.Engine.HotkeyEnabled {
		log.Info("abort key disabled by configuration")
		return automation.NewEngine(opts)
	}

	opts.Watcher = newWatcher()
	engine, err := automation.NewEngine(opts)
	if err == nil {
		return engine, nil
	}

	log.Warn("abort key unavailable, continuing without it", "error", err)
	opts.Watcher = nil
	return automation.NewEngine(opts)
}

// runPlan executes one plan and blocks until it stops on its own, is
// aborted with the abort key, or ctx is cancelled.
func runPlan(ctx context.Context, engine *automation.Engine, plan *automation.Plan, log *logging.Logger) error {
	stopped := make(chan struct{})
	engine.SetOnStopped(func() { close(stopped) })

	progress := automation.ProgressFunc(func(percent float64, message string) {
		log.Info("progress", "percent", fmt.Sprintf("%.1f", percent), "message", message)
	})

	runID, err := engine.StartRun(plan, progress, triggerSourceCLI)
	if err != nil {
		return fmt.Errorf("starting run: %w", err)
	}
	log.Info("run started", "run_id", runID, "plan", plan.Name)

	select {
	case <-stopped:
	case <-ctx.Done():
		log.Info("interrupted, stopping run", "run_id", runID)
		engine.Stop()
	}

	log.Info("Keyrunner stopped")
	return nil
}

// defaultPlanFile is the file name DefaultPlan is written under.
const defaultPlanFile = "default"

// seedPlans imports the plan files in dir into an empty store. A directory
// without plan files first receives DefaultPlan. Unreadable files are
// logged and skipped.
func seedPlans(ctx context.Context, registry *automation.Registry, dir string, log *logging.Logger) error {
	if registry.GetPlanCount() > 0 {
		return nil
	}

	names, err := automation.ListPlanFiles(dir)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		path := automation.PlanFilePath(dir, defaultPlanFile)
		if err := automation.SavePlanFile(path, automation.DefaultPlan()); err != nil {
			return err
		}
		log.Info("default plan written", "path", path)
		names = []string{defaultPlanFile}
	}

	for _, name := range names {
		path := automation.PlanFilePath(dir, name)
		plan, err := automation.LoadPlanFile(path)
		if err != nil {
			log.Warn("skipping plan file", "path", path, "error", err)
			continue
		}
		if err := registry.ImportPlan(ctx, plan); err != nil {
			log.Warn("importing plan file failed", "path", path, "error", err)
			continue
		}
		log.Info("plan imported", "path", path, "id", plan.ID, "name", plan.Name)
	}
	return nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
