// Package hostconfig loads the optional configuration file of the timewarp
// command, in TOML or YAML.
package hostconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeycumines/go-timewarp/channel"
	"github.com/joeycumines/go-timewarp/gojahost"
	"github.com/joeycumines/go-timewarp/internal/logging"
	"github.com/joeycumines/go-timewarp/speedconfig"
	"github.com/joeycumines/go-timewarp/timewarp"
	"github.com/joeycumines/logiface"
	"gopkg.in/yaml.v3"
)

// Config is the root of the configuration file. Zero values take their
// defaults, see [Config.ApplyDefaults].
type Config struct {
	Log     LogConfig       `toml:"log" yaml:"log"`
	Frame   FrameConfig     `toml:"frame" yaml:"frame"`
	Retry   RetryConfig     `toml:"retry" yaml:"retry"`
	Drain   DrainConfig     `toml:"drain" yaml:"drain"`
	Sources map[string]bool `toml:"sources" yaml:"sources"`
	Prefs   PrefsConfig     `toml:"prefs" yaml:"prefs"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is a syslog keyword, trace, or disabled.
	Level string `toml:"level" yaml:"level"`
	// RateWindow and RateBurst limit hot-path messages, per call site.
	RateWindow time.Duration `toml:"rate_window" yaml:"rate_window"`
	RateBurst  int           `toml:"rate_burst" yaml:"rate_burst"`
}

// FrameConfig configures animation frames.
type FrameConfig struct {
	// Interval is the host's frame period.
	Interval time.Duration `toml:"interval" yaml:"interval"`
	// NominalMs is the timestamp spacing of expanded frame callbacks.
	NominalMs float64 `toml:"nominal_ms" yaml:"nominal_ms"`
	// MaxCalls caps expanded frame callbacks per frame.
	MaxCalls int `toml:"max_calls" yaml:"max_calls"`
}

// RetryConfig configures redelivery of channel messages.
type RetryConfig struct {
	InitialDelay time.Duration `toml:"initial_delay" yaml:"initial_delay"`
	Factor       float64       `toml:"factor" yaml:"factor"`
	MaxDelay     time.Duration `toml:"max_delay" yaml:"max_delay"`
	MaxAttempts  int           `toml:"max_attempts" yaml:"max_attempts"`
	// RateWindow and RateBurst throttle retries per command, if both set.
	RateWindow time.Duration `toml:"rate_window" yaml:"rate_window"`
	RateBurst  int           `toml:"rate_burst" yaml:"rate_burst"`
}

// DrainConfig configures batching of inbound channel messages.
type DrainConfig struct {
	MaxSize        int           `toml:"max_size" yaml:"max_size"`
	MinSize        int           `toml:"min_size" yaml:"min_size"`
	PartialTimeout time.Duration `toml:"partial_timeout" yaml:"partial_timeout"`
}

// PrefsConfig configures the preferences file.
type PrefsConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// DefaultPrefsFile is the preferences file name, within the user config
// directory, if there is one.
const DefaultPrefsFile = `timewarp/prefs.toml`

// Default returns the configuration used without a file.
func Default() *Config {
	c := new(Config)
	c.ApplyDefaults()
	return c
}

// Load reads a configuration file, choosing the format by extension:
// .toml, .yaml, or .yml. Defaults are applied, and the result validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("hostconfig: %w", err)
	}

	var c Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case `.toml`:
		md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&c)
		if err != nil {
			return nil, fmt.Errorf("hostconfig: failed to parse %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) != 0 {
			return nil, fmt.Errorf("hostconfig: unknown keys in %s: %v", path, undecoded)
		}
	case `.yaml`, `.yml`:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("hostconfig: failed to parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("hostconfig: unsupported file extension %q", ext)
	}

	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ApplyDefaults sets every zero value to its default.
func (c *Config) ApplyDefaults() {
	if c.Log.Level == `` {
		c.Log.Level = `info`
	}
	if c.Log.RateWindow == 0 && c.Log.RateBurst == 0 {
		c.Log.RateWindow, c.Log.RateBurst = time.Second, 5
	}
	if c.Frame.Interval == 0 {
		c.Frame.Interval = gojahost.DefaultFrameInterval
	}
	if c.Frame.NominalMs == 0 {
		c.Frame.NominalMs = timewarp.DefaultFrameInterval
	}
	if c.Frame.MaxCalls == 0 {
		c.Frame.MaxCalls = timewarp.DefaultMaxFrameCalls
	}
	d := channel.DefaultRetryPolicy()
	if c.Retry.InitialDelay == 0 {
		c.Retry.InitialDelay = d.InitialDelay
	}
	if c.Retry.Factor == 0 {
		c.Retry.Factor = d.Factor
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = d.MaxDelay
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = d.MaxAttempts
	}
	if c.Prefs.Path == `` {
		c.Prefs.Path = filepath.FromSlash(DefaultPrefsFile)
		if dir, err := os.UserConfigDir(); err == nil {
			c.Prefs.Path = filepath.Join(dir, c.Prefs.Path)
		}
	}
}

// Validate reports the first invalid value.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("hostconfig: log: %w", err)
	}
	if c.Log.RateWindow < 0 || c.Log.RateBurst < 0 {
		return errors.New("hostconfig: log: negative rate limit")
	}
	if c.Frame.Interval <= 0 {
		return fmt.Errorf("hostconfig: frame: invalid interval: %s", c.Frame.Interval)
	}
	if !(c.Frame.NominalMs > 0) {
		return fmt.Errorf("hostconfig: frame: invalid nominal_ms: %v", c.Frame.NominalMs)
	}
	if c.Frame.MaxCalls < 1 {
		return fmt.Errorf("hostconfig: frame: invalid max_calls: %d", c.Frame.MaxCalls)
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		return fmt.Errorf("hostconfig: retry: %w", err)
	}
	if (c.Retry.RateWindow > 0) != (c.Retry.RateBurst > 0) {
		return errors.New("hostconfig: retry: rate_window and rate_burst must be set together")
	}
	if c.Drain.MinSize < 0 || c.Drain.PartialTimeout < 0 {
		return errors.New("hostconfig: drain: negative value")
	}
	if c.Drain.MaxSize > 0 && c.Drain.MinSize > c.Drain.MaxSize {
		return errors.New("hostconfig: drain: min_size exceeds max_size")
	}
	for name := range c.Sources {
		if _, ok := speedconfig.ParseSource(name); !ok {
			return fmt.Errorf("hostconfig: sources: unknown source %q", name)
		}
	}
	if c.Prefs.Path == `` {
		return errors.New("hostconfig: prefs: no path")
	}
	return nil
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() logiface.Level {
	level, _ := logging.ParseLevel(c.Log.Level)
	return level
}

// LogRateLimits returns the logger rate limits, which may be empty.
func (c *Config) LogRateLimits() map[time.Duration]int {
	if c.Log.RateWindow <= 0 || c.Log.RateBurst <= 0 {
		return nil
	}
	return map[time.Duration]int{c.Log.RateWindow: c.Log.RateBurst}
}

// RetryPolicy returns the channel retry policy.
func (c *Config) RetryPolicy() channel.RetryPolicy {
	return channel.RetryPolicy{
		InitialDelay: c.Retry.InitialDelay,
		Factor:       c.Retry.Factor,
		MaxDelay:     c.Retry.MaxDelay,
		MaxAttempts:  c.Retry.MaxAttempts,
	}
}

// SenderOptions returns the options for channel senders.
func (c *Config) SenderOptions(logger *logiface.Logger[logiface.Event]) []channel.SenderOption {
	opts := []channel.SenderOption{
		channel.WithRetryPolicy(c.RetryPolicy()),
		channel.WithSenderLogger(logger),
	}
	if c.Retry.RateWindow > 0 && c.Retry.RateBurst > 0 {
		opts = append(opts, channel.WithRetryRates(map[time.Duration]int{c.Retry.RateWindow: c.Retry.RateBurst}))
	}
	return opts
}

// DrainConfig returns the inbound batching configuration.
func (c *Config) DrainConfig() *channel.DrainConfig {
	return &channel.DrainConfig{
		MaxSize:        c.Drain.MaxSize,
		MinSize:        c.Drain.MinSize,
		PartialTimeout: c.Drain.PartialTimeout,
	}
}

// SourceOverrides returns the sources explicitly enabled or disabled.
func (c *Config) SourceOverrides() map[speedconfig.Source]bool {
	if len(c.Sources) == 0 {
		return nil
	}
	m := make(map[speedconfig.Source]bool, len(c.Sources))
	for name, enabled := range c.Sources {
		if src, ok := speedconfig.ParseSource(name); ok {
			m[src] = enabled
		}
	}
	return m
}

// EngineOptions returns the frame options for a [timewarp.Engine].
func (c *Config) EngineOptions() []timewarp.Option {
	return []timewarp.Option{
		timewarp.WithFrameInterval(c.Frame.NominalMs),
		timewarp.WithMaxFrameCalls(c.Frame.MaxCalls),
	}
}

// HostOptions returns the frame options for a [gojahost.Host].
func (c *Config) HostOptions() []gojahost.Option {
	return []gojahost.Option{
		gojahost.WithFrameInterval(c.Frame.Interval),
	}
}
