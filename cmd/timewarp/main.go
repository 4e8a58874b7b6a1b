// Command timewarp runs page scripts under a virtualized clock, and edits
// the persisted speed preferences.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/joeycumines/go-timewarp/internal/hostconfig"
	"github.com/joeycumines/go-timewarp/internal/logging"
	"github.com/joeycumines/go-timewarp/prefs"
	"github.com/joeycumines/logiface"
	"github.com/spf13/cobra"
)

// rootOptions are the persistent flags, shared by every subcommand.
type rootOptions struct {
	configPath string
	prefsPath  string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := new(rootOptions)

	cmd := &cobra.Command{
		Use:          "timewarp",
		Short:        "Run page scripts with sped up timers and clocks",
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "configuration file (.toml, .yaml, or .yml)")
	flags.StringVar(&opts.prefsPath, "prefs", "", "preferences file, overriding the configuration")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level, overriding the configuration")

	cmd.AddCommand(
		newRunCmd(opts),
		newToggleCmd(opts),
		newSpeedCmd(opts),
		newStatusCmd(opts),
	)

	return cmd
}

// config loads the configuration file, if any, applying flag overrides.
func (x *rootOptions) config() (*hostconfig.Config, error) {
	var (
		c   *hostconfig.Config
		err error
	)
	if x.configPath != "" {
		if c, err = hostconfig.Load(x.configPath); err != nil {
			return nil, err
		}
	} else {
		c = hostconfig.Default()
	}
	if x.prefsPath != "" {
		c.Prefs.Path = x.prefsPath
	}
	if x.logLevel != "" {
		if _, err := logging.ParseLevel(x.logLevel); err != nil {
			return nil, err
		}
		c.Log.Level = x.logLevel
	}
	return c, nil
}

func newLogger(cmd *cobra.Command, c *hostconfig.Config) *logiface.Logger[logiface.Event] {
	return logging.New(
		logging.WithWriter(cmd.ErrOrStderr()),
		logging.WithLevel(c.LogLevel()),
		logging.WithRateLimits(c.LogRateLimits()),
	)
}

// loadState opens and initializes the preferences. A store that cannot be
// read falls back to the defaults, with a warning.
func loadState(cmd *cobra.Command, c *hostconfig.Config, logger *logiface.Logger[logiface.Event]) (*prefs.State, error) {
	store, err := prefs.NewFileStore(filepath.Clean(c.Prefs.Path))
	if err != nil {
		return nil, err
	}
	state, err := prefs.NewState(store, logger)
	if err != nil {
		return nil, err
	}
	if err := state.Initialize(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %v\n", warnColor.Sprint("warning:"), err)
	}
	return state, nil
}
