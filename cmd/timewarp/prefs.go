package main

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/joeycumines/go-timewarp/prefs"
	"github.com/joeycumines/go-timewarp/speedconfig"
	"github.com/spf13/cobra"
)

var (
	runningColor = color.New(color.FgGreen, color.Bold)
	stoppedColor = color.New(color.FgYellow, color.Bold)
	speedColor   = color.New(color.FgCyan, color.Bold)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
)

func newToggleCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle",
		Short: "Start or stop virtualization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.config()
			if err != nil {
				return err
			}
			state, err := loadState(cmd, c, newLogger(cmd, c))
			if err != nil {
				return err
			}
			if _, err := state.Toggle(); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), state.Snapshot())
			return nil
		},
	}
}

func newSpeedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "speed N",
		Short: "Select the speed preset, one of " + joinInts(speedconfig.Presets()),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			preset, err := parsePreset(args[0])
			if err != nil {
				return err
			}
			c, err := opts.config()
			if err != nil {
				return err
			}
			state, err := loadState(cmd, c, newLogger(cmd, c))
			if err != nil {
				return err
			}
			if err := state.SetSpeed(preset); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), state.Snapshot())
			return nil
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.config()
			if err != nil {
				return err
			}
			state, err := loadState(cmd, c, newLogger(cmd, c))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printStatus(out, state.Snapshot())
			fmt.Fprintf(out, "prefs:    %s\n", c.Prefs.Path)
			return nil
		},
	}
}

// parsePreset accepts N or xN.
func parsePreset(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "x"))
	if err != nil {
		return 0, fmt.Errorf("invalid speed %q: %w", s, err)
	}
	if !speedconfig.IsPreset(v) {
		return 0, fmt.Errorf("%w: %d (allowed %s)", speedconfig.ErrInvalidPreset, v, joinInts(speedconfig.Presets()))
	}
	return v, nil
}

func printStatus(out io.Writer, p prefs.Preferences) {
	if p.Running {
		fmt.Fprintf(out, "state:    %s\n", runningColor.Sprint("running"))
	} else {
		fmt.Fprintf(out, "state:    %s\n", stoppedColor.Sprint("stopped"))
	}
	fmt.Fprintf(out, "selected: %s\n", speedColor.Sprintf("x%d", p.SelectedSpeed))
	fmt.Fprintf(out, "speed:    x%d\n", p.CurrentSpeed())
	fmt.Fprintf(out, "presets:  %s\n", formatPresets(p.Presets))
}

// formatPresets orders presets by value, then name.
func formatPresets(presets map[string]int) string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		if c := cmp.Compare(presets[a], presets[b]); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, presets[name])
	}
	return strings.Join(parts, " ")
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}
