package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/waproxy/internal/bridgeapi"
	"github.com/Iron-Ham/waproxy/internal/config"
	"github.com/Iron-Ham/waproxy/internal/detect"
	"github.com/Iron-Ham/waproxy/internal/errors"
	"github.com/Iron-Ham/waproxy/internal/event"
	"github.com/Iron-Ham/waproxy/internal/journal"
	"github.com/Iron-Ham/waproxy/internal/logging"
	"github.com/Iron-Ham/waproxy/internal/metrics"
	"github.com/Iron-Ham/waproxy/internal/server"
	"github.com/Iron-Ham/waproxy/internal/status"
	"github.com/Iron-Ham/waproxy/internal/supervisor"
	"github.com/Iron-Ham/waproxy/internal/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge and serve the HTTP API",
	Long: `Start the WhatsApp bridge (unless bridge.auto_start is false), watch its log for
the pairing state, and serve the HTTP API until interrupted. The bridge is
stopped on exit.

GET /qr.png needs detect.pairing_code_pattern, a regex whose first group
captures the raw pairing payload from the bridge log. It is empty by default,
and /qr.png answers 404 until it is set.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Int("port", 0, "port to listen on (overrides server.port and $PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := applyPortFlag(cmd, cfg); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.File, cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return a.run(ctx)
}

// applyPortFlag overrides server.port with --port and validates the result
// like any other configured value.
func applyPortFlag(cmd *cobra.Command, cfg *config.Config) error {
	if !cmd.Flags().Changed("port") {
		return nil
	}
	port, err := cmd.Flags().GetInt("port")
	if err != nil {
		return err
	}
	cfg.Server.Port = port
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", config.ValidationErrors(errs))
	}
	return nil
}

// app is the wired proxy: one bridge supervisor, its log monitor, and the
// HTTP server in front of both.
type app struct {
	lock    *supervisor.Lock
	cfg     *config.Config
	logger  *logging.Logger
	bus     *event.Bus
	journal *journal.Journal
	tracker *status.Tracker
	bridge  *supervisor.Supervisor
	monitor *status.Monitor
	server  *server.Server

	closeOnce sync.Once
}

func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*app, error) {
	lock, err := supervisor.AcquireLock(cfg.Bridge.Dir, logger)
	if err != nil {
		return nil, err
	}

	bus := event.NewBus(logger)

	var j *journal.Journal
	if cfg.Journal.Enabled {
		j, err = journal.Open(cfg.Journal.Path, cfg.Journal.MaxEvents)
		if err != nil {
			_ = lock.Release()
			return nil, fmt.Errorf("failed to open event journal: %w", err)
		}
		j.SetLogger(logger)
		j.Attach(bus)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		m.Attach(bus)
	}

	scanner, err := detect.NewScanner(detect.Patterns{
		Authenticated: cfg.Detect.AuthenticatedPattern,
		QRMarker:      cfg.Detect.QRMarker,
		QRBlock:       cfg.Detect.QRBlockPattern,
		PairingCode:   cfg.Detect.PairingCodePattern,
	})
	if err != nil {
		if j != nil {
			_ = j.Close()
		}
		_ = lock.Release()
		return nil, err
	}

	tracker := status.NewTracker()
	bridge := supervisor.New(supervisor.OptionsFromConfig(cfg.Bridge), bus, logger)
	monitor := status.NewMonitor(status.MonitorOptions{
		LogPath:      bridge.LogPath(),
		PollInterval: cfg.Monitor.PollInterval,
		ErrorBackoff: cfg.Monitor.ErrorBackoff,
		WatchFile:    cfg.Monitor.WatchFile,
		WindowBytes:  cfg.Monitor.WindowBytes,
	}, scanner, tracker, bus, logger)
	monitor.Attach(bus)

	api := bridgeapi.NewClient(cfg.Bridge.APIURL, bridgeapi.WithTimeout(cfg.Bridge.APITimeout))
	dispatcherOpts := []tools.DispatcherOption{tools.WithBus(bus), tools.WithLogger(logger)}
	if m != nil {
		dispatcherOpts = append(dispatcherOpts, tools.WithRecorder(m))
	}
	dispatcher := tools.NewDispatcher(tools.DefaultRegistry(api), tracker, monitor, dispatcherOpts...)

	deps := server.Deps{
		Bridge:     bridge,
		Tracker:    tracker,
		Scanner:    monitor,
		Dispatcher: dispatcher,
		Metrics:    m,
		Bus:        bus,
		Logger:     logger,
	}
	// A nil *journal.Journal must not become a non-nil interface.
	if j != nil {
		deps.Journal = j
	}

	return &app{
		lock:    lock,
		cfg:     cfg,
		logger:  logger,
		bus:     bus,
		journal: j,
		tracker: tracker,
		bridge:  bridge,
		monitor: monitor,
		server:  server.New(ctx, server.OptionsFromConfig(cfg), deps),
	}, nil
}

// run starts the bridge, the monitor and the server, and blocks until ctx
// is cancelled or the server fails. The bridge is stopped before returning.
func (a *app) run(ctx context.Context) error {
	defer a.close()

	if a.cfg.Bridge.AutoStart {
		if err := a.bridge.Start(ctx); err != nil {
			// The API stays up so /qr can retry the start.
			a.logger.Error("failed to start bridge",
				"error", err,
				"severity", errors.GetSeverity(err).String(),
				"retryable", errors.IsRetryable(err),
				"user_facing", errors.IsUserFacing(err),
			)
		}
	}
	a.tracker.MarkStarted()
	a.logger.Info("waproxy started",
		"addr", a.cfg.Server.Addr(),
		"bridge", a.bridge.LogPath(),
		"api_url", a.cfg.Bridge.APIURL,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.monitor.Run(gctx) })
	g.Go(func() error { return a.server.Run(gctx) })
	return g.Wait()
}

func (a *app) close() {
	a.closeOnce.Do(func() {
		if err := a.bridge.Stop(); err != nil {
			a.logger.Error("failed to stop bridge", "error", err)
		}
		if a.journal != nil {
			if err := a.journal.Close(); err != nil {
				a.logger.Error("failed to close event journal", "error", err)
			}
		}
		if err := a.lock.Release(); err != nil {
			a.logger.Error("failed to release bridge lock", "error", err)
		}
	})
}
