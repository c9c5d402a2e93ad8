package main

import (
	"fmt"
	"math"
	"strconv"

	"github.com/spf13/cobra"

	"overlayd/internal/protocol"
)

// opCommand describes how one OpKind appears on the command line.
type opCommand struct {
	name  string
	short string
	arg   string // empty when the op takes no argument
	build func(v float64) protocol.Op
}

func noArg(op func() protocol.Op) func(float64) protocol.Op {
	return func(float64) protocol.Op { return op() }
}

var opCommands = map[protocol.OpKind]opCommand{
	protocol.OpGet:        {"get", "Print the current value", "", noArg(protocol.Get)},
	protocol.OpSet:        {"set", "Animate to an exact value", "value", protocol.Set},
	protocol.OpSetSmooth:  {"set-smooth", "Animate to a value snapped to the step", "value", protocol.SetSmooth},
	protocol.OpSetRough:   {"set-rough", "Jump to a value without animating", "value", protocol.SetRough},
	protocol.OpIncrement:  {"inc", "Raise the value by an amount", "amount", protocol.Increment},
	protocol.OpDecrement:  {"dec", "Lower the value by an amount", "amount", protocol.Decrement},
	protocol.OpOpen:       {"open", "Show the panel", "", noArg(protocol.Open)},
	protocol.OpOpenTimed:  {"open-timed", "Show the panel and hide it after a delay", "seconds", protocol.OpenTimed},
	protocol.OpClose:      {"close", "Hide the panel", "", noArg(protocol.Close)},
	protocol.OpToggle:     {"toggle", "Show the panel if hidden, hide it otherwise", "", noArg(protocol.Toggle)},
	protocol.OpMute:       {"mute", "Mute", "", noArg(protocol.Mute)},
	protocol.OpUnmute:     {"unmute", "Unmute", "", noArg(protocol.Unmute)},
	protocol.OpToggleMute: {"toggle-mute", "Flip the mute flag", "", noArg(protocol.ToggleMute)},
	protocol.OpGetMute:    {"get-mute", "Print the mute flag", "", noArg(protocol.GetMute)},
}

// newWidgetCmd builds "overlay <widget>" with one subcommand per op the
// widget supports.
func newWidgetCmd(opts *globalOptions, w protocol.Widget) *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(w),
		Short: fmt.Sprintf("Control the %s overlay", w),
	}

	for _, kind := range protocol.OpsFor(w) {
		oc, ok := opCommands[kind]
		if !ok {
			continue
		}

		sub := &cobra.Command{
			Use:   oc.name,
			Short: oc.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				sel, err := opts.target(cmd)
				if err != nil {
					return err
				}
				c, err := buildPanelCommand(w, oc, args, sel)
				if err != nil {
					return err
				}
				return opts.request(cmd, c)
			},
		}
		if oc.arg != "" {
			sub.Use = oc.name + " <" + oc.arg + ">"
			sub.Args = cobra.ExactArgs(1)
		}
		cmd.AddCommand(sub)
	}
	return cmd
}

// buildPanelCommand turns positional arguments into a widget command.
func buildPanelCommand(w protocol.Widget, oc opCommand, args []string, sel protocol.TargetSelector) (protocol.Command, error) {
	var v float64
	if oc.arg != "" {
		if len(args) != 1 {
			return nil, fmt.Errorf("%s %s: expected <%s>", w, oc.name, oc.arg)
		}
		var err error
		v, err = parseValue(args[0])
		if err != nil {
			return nil, err
		}
	}

	c, ok := protocol.NewPanelCommand(w, oc.build(v), sel)
	if !ok {
		return nil, fmt.Errorf("unknown widget %q", w)
	}
	return c, nil
}

func parseValue(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid number %q: must be finite", s)
	}
	return v, nil
}
