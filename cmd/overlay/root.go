package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"overlayd/internal/config"
	"overlayd/internal/ipc"
	"overlayd/internal/protocol"
)

const clientTimeout = 5 * time.Second

// errRequestFailed is returned after the daemon answered with a Failure. The
// message has been printed by then.
var errRequestFailed = errors.New("request failed")

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	socket   string
	config   string
	logLevel string
	wsListen string
	monitor  int
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "overlay",
		Short: "On-screen overlay daemon and client",
		Long: `overlay drives per-monitor volume, brightness and launcher overlays.

"overlay daemon start" runs the daemon in the foreground. Every other
subcommand sends one request to the running daemon and prints the answer.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.socket, "socket", "", "unix socket path (default from config, "+config.DefaultConfig().IPC.SocketPath+")")
	pf.StringVar(&opts.config, "config", "", "config file (default "+config.DefaultPath()+")")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: error, warn, info, debug")
	pf.IntVar(&opts.monitor, "monitor", 0, "monitor index to target (default all monitors)")

	root.AddCommand(newDaemonCmd(opts))
	for _, w := range protocol.Widgets {
		root.AddCommand(newWidgetCmd(opts, w))
	}
	return root
}

// configPath returns the file to load and whether it must exist. An explicit
// --config must exist; the default location is optional.
func (o *globalOptions) configPath() (string, bool) {
	if o.config != "" {
		return o.config, true
	}
	return config.DefaultPath(), false
}

// overrides collects the flags that were given explicitly.
func (o *globalOptions) overrides(cmd *cobra.Command) config.FlagOverrides {
	var fo config.FlagOverrides
	flags := cmd.Flags()
	if flags.Changed("socket") {
		fo.SocketPath = &o.socket
	}
	if flags.Changed("log-level") {
		fo.LogLevel = &o.logLevel
	}
	if f := flags.Lookup("ws-listen"); f != nil && f.Changed {
		fo.WsListen = &o.wsListen
	}
	return fo
}

// loadConfig merges defaults, the config file and the flags.
func (o *globalOptions) loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, required := o.configPath()
	cfg, err := config.Load(path, required)
	if err != nil {
		return config.Config{}, err
	}
	o.overrides(cmd).Apply(&cfg)
	return cfg, nil
}

// socketPath resolves the daemon socket for client commands.
func (o *globalOptions) socketPath(cmd *cobra.Command) (string, error) {
	if cmd.Flags().Changed("socket") {
		return config.ExpandPath(o.socket), nil
	}
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return "", err
	}
	return config.ExpandPath(cfg.IPC.SocketPath), nil
}

// target maps --monitor to a selector. Omitting the flag selects every monitor.
func (o *globalOptions) target(cmd *cobra.Command) (protocol.TargetSelector, error) {
	if !cmd.Flags().Changed("monitor") {
		return protocol.AllTargets(), nil
	}
	if o.monitor < 0 {
		return protocol.TargetSelector{}, fmt.Errorf("--monitor must be >= 0, got %d", o.monitor)
	}
	return protocol.SingleTarget(o.monitor), nil
}

// request sends one command and prints the response. A Failure goes to stderr
// and turns into errRequestFailed so the process exits non-zero.
func (o *globalOptions) request(cmd *cobra.Command, c protocol.Command) error {
	path, err := o.socketPath(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), clientTimeout)
	defer cancel()

	resp, err := ipc.Send(ctx, path, c)
	if err != nil {
		return err
	}

	if _, failed := resp.(protocol.Failure); failed {
		fmt.Fprintln(cmd.ErrOrStderr(), protocol.Format(resp))
		return errRequestFailed
	}
	fmt.Fprintln(cmd.OutOrStdout(), protocol.Format(resp))
	return nil
}
