package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"overlayd/internal/bus"
	"overlayd/internal/config"
	"overlayd/internal/daemon"
	"overlayd/internal/ipc"
	"overlayd/internal/logging"
	"overlayd/internal/protocol"
	"overlayd/internal/render"
	"overlayd/internal/shutdown"
	"overlayd/internal/state"
)

var errGraceExpired = errors.New("shutdown grace period expired")

func newDaemonCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run or stop the overlay daemon",
	}

	start := &cobra.Command{
		Use:   "start",
		Short: "Run the daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonStart(cmd, opts)
		},
	}
	start.Flags().StringVar(&opts.wsListen, "ws-listen", "", "websocket state feed address, empty disables (default from config)")

	stop := &cobra.Command{
		Use:   "shutdown",
		Short: "Ask the running daemon to exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.request(cmd, protocol.Shutdown{})
		},
	}

	cmd.AddCommand(start, stop)
	return cmd
}

// ============================================================================
// Daemon startup
// ============================================================================
// Startup order: config, logger, socket, state, renderers, then every
// long-running goroutine under one errgroup. A Shutdown request or
// SIGINT/SIGTERM fires the shutdown signal; the goroutines then get the
// configured grace period to return before the process gives up on them.
// ============================================================================

func runDaemonStart(cmd *cobra.Command, opts *globalOptions) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var level slog.LevelVar
	if err := logging.SetLevel(&level, cfg.Logging.Level); err != nil {
		return err
	}
	logger := logging.New(os.Stdout, &level)

	socketPath := config.ExpandPath(cfg.IPC.SocketPath)
	srv, err := ipc.Listen(socketPath, logger)
	if err != nil {
		return err
	}

	store := state.NewStore(cfg.Monitors, cfg.PanelDefaults())
	events := bus.New()
	defer events.Close()
	sd := shutdown.New()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)
	go func() {
		select {
		case sig := <-sigc:
			logger.Info("received signal, shutting down", "signal", sig.String())
			sd.Trigger()
		case <-sd.Done():
		}
	}()

	renderers := render.Multi{render.Log{Logger: logger}}
	var hub *render.Hub
	if cfg.Render.WsListen != "" {
		hub = render.NewHub(logger, render.HubConfig{})
		renderers = append(renderers, hub)
	}

	d := daemon.New(store, events, renderers, daemon.Animation{
		Ticks:        cfg.Animation.Ticks,
		TickInterval: cfg.TickInterval(),
		Alpha:        cfg.Animation.Alpha,
	}, logger)

	ctx, cancel := sd.Context(cmd.Context())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx, events, sd) })
	g.Go(func() error { return d.Run(gctx, sd) })
	if hub != nil {
		ws := render.NewServer(logger, hub, events)
		g.Go(func() error {
			hub.Run(gctx)
			return nil
		})
		g.Go(func() error {
			return ws.ListenAndServe(gctx, cfg.Render.WsListen, cfg.Render.WsPath, nil)
		})
	}

	cfgPath, _ := opts.configPath()
	if dirExists(filepath.Dir(config.ExpandPath(cfgPath))) {
		g.Go(func() error {
			return config.Watch(gctx, cfgPath, logger, func(next config.Config) {
				opts.overrides(cmd).Apply(&next)
				applyReload(logger, &level, cfg, next)
			})
		})
	} else {
		logger.Debug("config directory missing, live reload disabled", "path", cfgPath)
	}

	logger.Info("overlay daemon listening",
		"socket", socketPath,
		"monitors", cfg.Monitors,
		"ws_listen", cfg.Render.WsListen)

	done := make(chan struct{})
	var runErr error
	go func() {
		runErr = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if !shutdown.WaitGrace(done, cfg.Grace()) {
			logger.Error("daemon did not stop within grace period, forcing exit", "grace", cfg.Grace())
			return errGraceExpired
		}
	}

	if runErr != nil {
		logger.Error("daemon stopped with error", "error", runErr)
		return runErr
	}
	logger.Info("daemon stopped")
	return nil
}

// applyReload applies what can change while running. Today that is only the
// log level; anything else needs a restart and is reported as such.
func applyReload(logger *slog.Logger, level *slog.LevelVar, running, next config.Config) {
	if err := logging.SetLevel(level, next.Logging.Level); err != nil {
		logger.Warn("config reload: keeping log level", "error", err)
	} else {
		logger.Info("config reloaded", "log_level", next.Logging.Level)
	}

	if next.IPC.SocketPath != running.IPC.SocketPath ||
		!slices.Equal(next.Monitors, running.Monitors) ||
		next.Volume != running.Volume ||
		next.Brightness != running.Brightness ||
		next.Animation != running.Animation ||
		next.Render != running.Render {
		logger.Warn("config reload: restart the daemon to apply changes other than logging.level")
	}
}

func dirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
