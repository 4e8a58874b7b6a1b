// Package logging constructs the structured loggers used by the timewarp
// commands, JSON lines via stumpy, behind the logiface API.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// DefaultRateLimits caps the hot-path log messages marked with Limit, per
// call site.
var DefaultRateLimits = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 60,
}

type (
	// Option configures [New].
	Option func(c *config)

	config struct {
		writer     io.Writer
		rateLimits map[time.Duration]int
		level      logiface.Level
		noTime     bool
	}
)

// WithWriter overrides the default writer, os.Stderr.
func WithWriter(w io.Writer) Option {
	return func(c *config) {
		c.writer = w
	}
}

// WithLevel overrides the default level, informational.
func WithLevel(level logiface.Level) Option {
	return func(c *config) {
		c.level = level
	}
}

// WithRateLimits overrides [DefaultRateLimits]. An empty map disables rate
// limiting.
func WithRateLimits(rates map[time.Duration]int) Option {
	return func(c *config) {
		c.rateLimits = rates
	}
}

// WithoutTime omits the time field, for deterministic output.
func WithoutTime() Option {
	return func(c *config) {
		c.noTime = true
	}
}

// New returns a logger, or nil if the level is disabled.
func New(opts ...Option) *logiface.Logger[logiface.Event] {
	c := config{
		writer:     os.Stderr,
		rateLimits: DefaultRateLimits,
		level:      logiface.LevelInformational,
	}
	for _, opt := range opts {
		opt(&c)
	}

	if !c.level.Enabled() {
		return nil
	}

	stumpyOpts := []stumpy.Option{stumpy.WithWriter(c.writer)}
	if c.noTime {
		stumpyOpts = append(stumpyOpts, stumpy.WithTimeField(``))
	} else {
		stumpyOpts = append(stumpyOpts, stumpy.WithTimeField(`time`))
	}

	loggerOpts := []logiface.Option[*stumpy.Event]{
		stumpy.L.WithStumpy(stumpyOpts...),
		stumpy.L.WithLevel(c.level),
	}
	if len(c.rateLimits) != 0 {
		loggerOpts = append(loggerOpts, stumpy.L.WithCategoryRateLimits(c.rateLimits))
	}

	return stumpy.L.New(loggerOpts...).Logger()
}

// ParseLevel parses a syslog keyword (emerg, alert, crit, err, warning,
// notice, info, debug), including the deprecated aliases, as well as trace
// and disabled.
func ParseLevel(s string) (logiface.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case `disabled`, `off`, `none`:
		return logiface.LevelDisabled, nil
	case `emerg`, `emergency`, `panic`:
		return logiface.LevelEmergency, nil
	case `alert`:
		return logiface.LevelAlert, nil
	case `crit`, `critical`:
		return logiface.LevelCritical, nil
	case `err`, `error`:
		return logiface.LevelError, nil
	case `warning`, `warn`:
		return logiface.LevelWarning, nil
	case `notice`:
		return logiface.LevelNotice, nil
	case `info`, `informational`, ``:
		return logiface.LevelInformational, nil
	case `debug`:
		return logiface.LevelDebug, nil
	case `trace`:
		return logiface.LevelTrace, nil
	default:
		return logiface.LevelDisabled, fmt.Errorf("logging: unknown level %q", s)
	}
}
