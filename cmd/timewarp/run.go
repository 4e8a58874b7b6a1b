package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/dop251/goja"
	eventloop "github.com/joeycumines/go-eventloop"
	"github.com/joeycumines/go-timewarp/channel"
	"github.com/joeycumines/go-timewarp/gojahost"
	"github.com/joeycumines/go-timewarp/internal/hostconfig"
	"github.com/joeycumines/go-timewarp/pagescript"
	"github.com/joeycumines/go-timewarp/prefs"
	"github.com/joeycumines/go-timewarp/relay"
	"github.com/joeycumines/go-timewarp/wire"
	"github.com/joeycumines/logiface"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type runOptions struct {
	duration time.Duration
	speed    string
	running  bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := new(runOptions)

	cmd := &cobra.Command{
		Use:   "run SCRIPT",
		Short: "Run a script with the page script installed",
		Long: `Run evaluates SCRIPT in a JavaScript runtime providing browser style
timers, performance.now, requestAnimationFrame, and console. The page script
is installed first, and is configured from the persisted preferences.

Runs until interrupted, or for the given duration.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := root.config()
			if err != nil {
				return err
			}
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			logger := newLogger(cmd, c)
			state, err := loadState(cmd, c, logger)
			if err != nil {
				return err
			}
			if opts.speed != "" {
				preset, err := parsePreset(opts.speed)
				if err != nil {
					return err
				}
				if err := state.SetSpeed(preset); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("running") {
				if err := state.SetRunning(opts.running); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			if opts.duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.duration)
				defer cancel()
			}

			s := &session{
				config: c,
				logger: logger,
				out:    cmd.OutOrStdout(),
			}
			return s.run(ctx, args[0], string(src), state)
		},
	}

	flags := cmd.Flags()
	flags.DurationVar(&opts.duration, "for", 0, "stop after this long (default: until interrupted)")
	flags.StringVar(&opts.speed, "speed", "", "select a speed preset before starting")
	flags.BoolVar(&opts.running, "running", false, "start or stop virtualization before starting")

	return cmd
}

// session is a single run: a script on an event loop, with a page endpoint,
// and a controller connected to it over an in-memory stream.
type session struct {
	config *hostconfig.Config
	logger *logiface.Logger[logiface.Event]
	out    io.Writer
}

func (x *session) run(ctx context.Context, name, src string, state *prefs.State) error {
	loop, err := eventloop.New()
	if err != nil {
		return err
	}
	host, err := gojahost.New(loop, goja.New(), append(x.config.HostOptions(), gojahost.WithLogger(x.logger))...)
	if err != nil {
		return err
	}
	if err := host.Bind(); err != nil {
		return err
	}

	pageConn, controllerConn := net.Pipe()
	pagePort, err := channel.NewStreamPort(pageConn)
	if err != nil {
		return err
	}
	defer pagePort.Close()
	controllerPort, err := channel.NewStreamPort(controllerConn)
	if err != nil {
		return err
	}
	defer controllerPort.Close()

	pageSender, err := channel.NewSender(pagePort, x.config.SenderOptions(x.logger)...)
	if err != nil {
		return err
	}
	controllerSender, err := channel.NewSender(controllerPort, x.config.SenderOptions(x.logger)...)
	if err != nil {
		return err
	}

	controller, err := relay.NewController(state, controllerSender,
		relay.WithControllerLogger(x.logger),
		relay.WithAckHandler(x.ack),
		relay.WithSourceOverrides(x.config.SourceOverrides()),
	)
	if err != nil {
		return err
	}

	started := time.Now()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return loop.Run(gctx)
	})

	g.Go(func() error {
		inst, err := x.install(gctx, host)
		if err != nil {
			return err
		}
		page, err := relay.NewPage(inst.Engine(), host, pageSender,
			relay.WithPageLogger(x.logger),
			relay.WithPageDrain(x.config.DrainConfig()),
		)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return page.Serve(gctx)
		})
		g.Go(func() error {
			return page.AnnounceReady(gctx)
		})
		return host.Eval(gctx, name, src)
	})

	g.Go(func() error {
		return controller.Serve(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		// unblocks the stream readers
		return errors.Join(pagePort.Close(), controllerPort.Close())
	})

	err = g.Wait()
	if ctx.Err() != nil {
		// anything failing after the deadline or interrupt is fallout
		x.logger.Debug().
			Err(err).
			Log(`timewarp: stopped`)
		err = nil
	}
	if err != nil {
		return err
	}

	pushed := controller.Pushed()
	fmt.Fprintf(x.out, "%s after %s at x%v\n", stoppedColor.Sprint("stopped"), time.Since(started).Round(time.Millisecond), pushed.Multiplier)
	return nil
}

// install runs [pagescript.Install] on the loop.
func (x *session) install(ctx context.Context, host *gojahost.Host) (*pagescript.Installation, error) {
	type result struct {
		inst *pagescript.Installation
		err  error
	}
	done := make(chan result, 1)
	if err := host.Submit(func() {
		inst, err := pagescript.Install(host.Runtime(),
			pagescript.WithLogger(x.logger),
			pagescript.WithEngineOptions(x.config.EngineOptions()...),
		)
		done <- result{inst, err}
	}); err != nil {
		return nil, fmt.Errorf("submit install: %w", err)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.inst, r.err
	}
}

// ack reports acknowledgements from the page. It is only called by the
// controller's Serve.
func (x *session) ack(env wire.Envelope) {
	switch env.Command {
	case wire.SpeedConfigApplied:
		if env.Speed != nil {
			fmt.Fprintf(x.out, "%s x%v\n", runningColor.Sprint("applied"), *env.Speed)
		}
	case wire.SpeedConfigError:
		fmt.Fprintf(x.out, "%s %s\n", errorColor.Sprint("rejected"), env.Error)
	}
}
