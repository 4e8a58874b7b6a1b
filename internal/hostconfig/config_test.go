package hostconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joeycumines/go-timewarp/channel"
	"github.com/joeycumines/go-timewarp/gojahost"
	"github.com/joeycumines/go-timewarp/speedconfig"
	"github.com/joeycumines/go-timewarp/timewarp"
	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, logiface.LevelInformational, c.LogLevel())
	assert.Equal(t, map[time.Duration]int{time.Second: 5}, c.LogRateLimits())
	assert.Equal(t, gojahost.DefaultFrameInterval, c.Frame.Interval)
	assert.Equal(t, timewarp.DefaultFrameInterval, c.Frame.NominalMs)
	assert.Equal(t, timewarp.DefaultMaxFrameCalls, c.Frame.MaxCalls)
	assert.Equal(t, channel.DefaultRetryPolicy(), c.RetryPolicy())
	assert.Nil(t, c.SourceOverrides())
	assert.Len(t, c.SenderOptions(nil), 2)
	assert.Len(t, c.EngineOptions(), 2)
	assert.Len(t, c.HostOptions(), 1)
}

func TestLoad_toml(t *testing.T) {
	path := writeFile(t, `timewarp.toml`, `
[log]
level = "debug"
rate_window = "10s"
rate_burst = 3

[frame]
interval = "8ms"
max_calls = 4

[retry]
max_attempts = 2
rate_window = "1s"
rate_burst = 1

[drain]
max_size = 4
partial_timeout = "5ms"

[sources]
frame = false
wallclock = true

[prefs]
path = "/tmp/prefs.toml"
`)
	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, logiface.LevelDebug, c.LogLevel())
	assert.Equal(t, map[time.Duration]int{10 * time.Second: 3}, c.LogRateLimits())
	assert.Equal(t, 8*time.Millisecond, c.Frame.Interval)
	assert.Equal(t, timewarp.DefaultFrameInterval, c.Frame.NominalMs)
	assert.Equal(t, 4, c.Frame.MaxCalls)
	assert.Equal(t, 2, c.RetryPolicy().MaxAttempts)
	assert.Equal(t, channel.DefaultRetryPolicy().InitialDelay, c.RetryPolicy().InitialDelay)
	assert.Len(t, c.SenderOptions(nil), 3)
	assert.Equal(t, &channel.DrainConfig{MaxSize: 4, PartialTimeout: 5 * time.Millisecond}, c.DrainConfig())
	assert.Equal(t, map[speedconfig.Source]bool{
		speedconfig.AnimationFrame: false,
		speedconfig.WallClock:      true,
	}, c.SourceOverrides())
	assert.Equal(t, `/tmp/prefs.toml`, c.Prefs.Path)
}

func TestLoad_yaml(t *testing.T) {
	path := writeFile(t, `timewarp.yaml`, `
log:
  level: warn
frame:
  nominal_ms: 10
sources:
  interval: true
prefs:
  path: prefs.toml
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, logiface.LevelWarning, c.LogLevel())
	assert.Equal(t, 10.0, c.Frame.NominalMs)
	assert.Equal(t, map[speedconfig.Source]bool{speedconfig.IntervalScheduling: true}, c.SourceOverrides())
	assert.Equal(t, `prefs.toml`, c.Prefs.Path)
}

func TestLoad_emptyYAML(t *testing.T) {
	c, err := Load(writeFile(t, `empty.yml`, ``))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoad_invalid(t *testing.T) {
	for _, tc := range [...]struct {
		name    string
		file    string
		content string
		err     string
	}{
		{`unknown toml key`, `a.toml`, "[log]\nlevels = \"info\"\n", `unknown keys`},
		{`unknown yaml key`, `a.yaml`, "log:\n  levels: info\n", `failed to parse`},
		{`bad toml`, `a.toml`, `=`, `failed to parse`},
		{`bad level`, `a.toml`, "[log]\nlevel = \"loud\"\n", `unknown level`},
		{`bad source`, `a.yaml`, "sources:\n  sleep: true\n", `unknown source "sleep"`},
		{`bad retry`, `a.toml`, "[retry]\nfactor = 0.5\n", `backoff factor`},
		{`half retry rate`, `a.toml`, "[retry]\nrate_burst = 1\n", `set together`},
		{`bad drain`, `a.toml`, "[drain]\nmax_size = 2\nmin_size = 3\n", `exceeds max_size`},
		{`bad frame`, `a.toml`, "[frame]\nmax_calls = -1\n", `max_calls`},
		{`extension`, `a.json`, `{}`, `unsupported file extension`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.file, tc.content))
			assert.ErrorContains(t, err, tc.err)
		})
	}
}

func TestLoad_missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), `missing.toml`))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
