package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/joeycumines/go-timewarp/speedconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (x *syncBuffer) Write(b []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.Write(b)
}

func (x *syncBuffer) String() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.String()
}

// execute runs the root command, returning stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr syncBuffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func prefsFlag(t *testing.T) string {
	t.Helper()
	return `--prefs=` + filepath.Join(t.TempDir(), `prefs.toml`)
}

func TestStatus_defaults(t *testing.T) {
	stdout, _, err := execute(t, `status`, prefsFlag(t), `--log-level=off`)
	require.NoError(t, err)
	assert.Contains(t, stdout, `stopped`)
	assert.Contains(t, stdout, `x5`)
	assert.Contains(t, stdout, `speed:    x1`)
	assert.Contains(t, stdout, `presets:  x5=5 x10=10 x20=20 x30=30`)
}

func TestToggleAndSpeed(t *testing.T) {
	p := prefsFlag(t)

	stdout, _, err := execute(t, `speed`, `x20`, p, `--log-level=off`)
	require.NoError(t, err)
	assert.Contains(t, stdout, `stopped`)
	assert.Contains(t, stdout, `speed:    x1`)

	stdout, _, err = execute(t, `toggle`, p, `--log-level=off`)
	require.NoError(t, err)
	assert.Contains(t, stdout, `running`)
	assert.Contains(t, stdout, `speed:    x20`)

	// persisted
	stdout, _, err = execute(t, `status`, p, `--log-level=off`)
	require.NoError(t, err)
	assert.Contains(t, stdout, `running`)
	assert.Contains(t, stdout, `speed:    x20`)

	stdout, _, err = execute(t, `toggle`, p, `--log-level=off`)
	require.NoError(t, err)
	assert.Contains(t, stdout, `stopped`)
}

func TestSpeed_invalid(t *testing.T) {
	p := prefsFlag(t)
	_, stderr, err := execute(t, `speed`, `7`, p, `--log-level=off`)
	assert.ErrorIs(t, err, speedconfig.ErrInvalidPreset)
	assert.Contains(t, stderr, `invalid preset`)

	_, _, err = execute(t, `speed`, `fast`, p, `--log-level=off`)
	assert.ErrorContains(t, err, `invalid speed "fast"`)

	_, _, err = execute(t, `speed`, p)
	assert.Error(t, err)
}

func TestRoot_invalidFlags(t *testing.T) {
	_, _, err := execute(t, `status`, prefsFlag(t), `--log-level=loud`)
	assert.ErrorContains(t, err, `unknown level`)

	_, _, err = execute(t, `status`, `--config=`+filepath.Join(t.TempDir(), `missing.toml`))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStatus_config(t *testing.T) {
	dir := t.TempDir()
	prefsPath := filepath.Join(dir, `from-config.toml`)
	configPath := filepath.Join(dir, `timewarp.yaml`)
	require.NoError(t, os.WriteFile(configPath, []byte("log:\n  level: off\nprefs:\n  path: "+strconv.Quote(prefsPath)+"\n"), 0o644))

	_, _, err := execute(t, `toggle`, `--config=`+configPath)
	require.NoError(t, err)

	stdout, stderr, err := execute(t, `status`, `--config=`+configPath)
	require.NoError(t, err)
	assert.Empty(t, stderr)
	assert.Contains(t, stdout, `running`)
	assert.Contains(t, stdout, prefsPath)
	assert.FileExists(t, prefsPath)
}

func TestParsePreset(t *testing.T) {
	for _, tc := range [...]struct {
		in  string
		out int
		ok  bool
	}{
		{`10`, 10, true},
		{`x30`, 30, true},
		{` X5 `, 5, true},
		{`1`, 0, false},
		{`x`, 0, false},
		{`-5`, 0, false},
	} {
		v, err := parsePreset(tc.in)
		assert.Equal(t, tc.out, v, tc.in)
		assert.Equal(t, tc.ok, err == nil, tc.in)
	}
}

func TestFormatPresets(t *testing.T) {
	assert.Equal(t, `b=1 a=2 c=2`, formatPresets(map[string]int{`a`: 2, `b`: 1, `c`: 2}))
	assert.Empty(t, formatPresets(nil))
}

func writeScript(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), `page.js`)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

var tickPattern = regexp.MustCompile(`"msg":"tick"`)

// At x10, a 200ms interval ticks many times within a second.
func TestRun_speedsUpIntervals(t *testing.T) {
	script := writeScript(t, `
setInterval(function () { console.log('tick') }, 200);
`)
	stdout, stderr, err := execute(t, `run`, script, prefsFlag(t), `--speed=10`, `--running`, `--for=1s`, `--log-level=info`)
	require.NoError(t, err)
	assert.Contains(t, stdout, `applied`)
	assert.Contains(t, stdout, `x10`)
	assert.Contains(t, stdout, `stopped after`)
	// 4 ticks would be expected at x1
	assert.Greater(t, len(tickPattern.FindAllString(stderr, -1)), 10)
}

func TestRun_stoppedIsRealTime(t *testing.T) {
	script := writeScript(t, `
setInterval(function () { console.log('tick') }, 200);
`)
	stdout, stderr, err := execute(t, `run`, script, prefsFlag(t), `--running=false`, `--for=1s`, `--log-level=info`)
	require.NoError(t, err)
	assert.Contains(t, stdout, `applied x1`)
	assert.LessOrEqual(t, len(tickPattern.FindAllString(stderr, -1)), 5)
}

func TestRun_scriptError(t *testing.T) {
	script := writeScript(t, `throw new Error('broken page')`)
	_, _, err := execute(t, `run`, script, prefsFlag(t), `--for=5s`, `--log-level=off`)
	assert.ErrorContains(t, err, `broken page`)
}

func TestRun_missingScript(t *testing.T) {
	_, _, err := execute(t, `run`, filepath.Join(t.TempDir(), `missing.js`), prefsFlag(t))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
