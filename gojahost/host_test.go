package gojahost

import (
	"bytes"
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dop251/goja"
	eventloop "github.com/joeycumines/go-eventloop"
	"github.com/joeycumines/go-timewarp/internal/logging"
	"github.com/joeycumines/go-timewarp/pagescript"
	"github.com/joeycumines/go-timewarp/speedconfig"
	"github.com/joeycumines/go-timewarp/timewarp"
	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

type testHost struct {
	*Host
	logs *syncBuffer
	done chan any
}

// newTestHost returns a bound host, with its loop running, and a __done
// global that sends its argument to done.
func newTestHost(t *testing.T, opts ...Option) *testHost {
	t.Helper()

	loop, err := eventloop.New()
	require.NoError(t, err)

	logs := new(syncBuffer)
	logger := logging.New(logging.WithWriter(logs), logging.WithoutTime(), logging.WithLevel(logiface.LevelDebug), logging.WithRateLimits(nil))

	h, err := New(loop, goja.New(), append([]Option{WithLogger(logger), WithFrameInterval(time.Millisecond)}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, h.Bind())

	x := &testHost{Host: h, logs: logs, done: make(chan any, 16)}
	require.NoError(t, h.Runtime().Set(`__done`, func(call goja.FunctionCall) goja.Value {
		x.done <- call.Argument(0).Export()
		return goja.Undefined()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})

	return x
}

func (x *testHost) eval(t *testing.T, src string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, x.Eval(ctx, `test.js`, src))
}

func (x *testHost) wait(t *testing.T) any {
	t.Helper()
	select {
	case v := <-x.done:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal(`timed out waiting for __done`)
		return nil
	}
}

// call runs fn on the loop, waiting for it.
func (x *testHost) call(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, x.Submit(func() {
		defer close(done)
		fn()
	}))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal(`timed out waiting for the loop`)
	}
}

func TestNew_invalid(t *testing.T) {
	loop, err := eventloop.New()
	require.NoError(t, err)
	_, err = New(nil, goja.New())
	assert.ErrorContains(t, err, `loop cannot be nil`)
	_, err = New(loop, nil)
	assert.ErrorContains(t, err, `runtime cannot be nil`)
	_, err = New(loop, goja.New(), WithFrameInterval(0))
	assert.ErrorContains(t, err, `invalid frame interval`)
}

func TestHost_setTimeout_args(t *testing.T) {
	h := newTestHost(t)
	h.eval(t, `setTimeout(function (a, b) { __done(a + b) }, 1, 2, 3)`)
	assert.EqualValues(t, 5, h.wait(t))
}

func TestHost_setInterval(t *testing.T) {
	h := newTestHost(t)
	h.eval(t, `
var n = 0;
var id = setInterval(function (step) {
	n += step;
	if (n === 3) {
		clearInterval(id);
		setTimeout(function () { __done(n) }, 20);
	}
}, 1, 1);
`)
	assert.EqualValues(t, 3, h.wait(t))
}

func TestHost_clearTimeout(t *testing.T) {
	h := newTestHost(t)
	h.eval(t, `
var id = setTimeout(function () { __done('cleared') }, 5);
clearTimeout(id);
clearTimeout(undefined);
clearTimeout('nonsense');
clearInterval(-1);
setTimeout(function () { __done('ok') }, 20);
`)
	assert.Equal(t, `ok`, h.wait(t))
}

func TestHost_nonCallableHandler(t *testing.T) {
	h := newTestHost(t)
	h.eval(t, `__done([setTimeout('x = 1', 1), setInterval(null, 1)])`)
	assert.Equal(t, []any{int64(0), int64(0)}, h.wait(t))
}

func TestHost_globals(t *testing.T) {
	h := newTestHost(t)
	h.eval(t, `
var a = performance.now();
var b = performance.now();
__done([
	window === this,
	typeof a === 'number' && b >= a && a >= 0,
	typeof Date.now() === 'number',
	typeof window.setTimeout,
]);
`)
	assert.Equal(t, []any{true, true, true, `function`}, h.wait(t))
}

func TestHost_requestAnimationFrame(t *testing.T) {
	h := newTestHost(t)
	h.eval(t, `
var ts = [];
requestAnimationFrame(function (t) { ts.push(t) });
var c = requestAnimationFrame(function () { ts.push(-1) });
cancelAnimationFrame(c);
requestAnimationFrame(function (t) {
	ts.push(t);
	requestAnimationFrame(function (t2) { __done([ts.length, ts[0] === ts[1], t2 >= ts[1]]) });
});
`)
	assert.Equal(t, []any{int64(2), true, true}, h.wait(t))
}

func TestHost_requestAnimationFrame_cancelWithinFrame(t *testing.T) {
	h := newTestHost(t)
	h.eval(t, `
var called = false;
var second;
requestAnimationFrame(function () { cancelAnimationFrame(second) });
second = requestAnimationFrame(function () { called = true });
setTimeout(function () { __done(called) }, 30);
`)
	assert.Equal(t, false, h.wait(t))
}

func TestHost_requestAnimationFrame_notCallable(t *testing.T) {
	h := newTestHost(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := h.Eval(ctx, `test.js`, `requestAnimationFrame(42)`)
	assert.ErrorContains(t, err, `TypeError`)

	h.call(t, func() {
		_, err = h.RequestAnimationFrame(nil)
	})
	assert.ErrorIs(t, err, ErrNotCallable)
}

func TestHost_console(t *testing.T) {
	h := newTestHost(t)
	h.eval(t, `console.warn('hello', 1, {}); console.debug(); console.error(undefined)`)
	logs := h.logs.String()
	assert.Contains(t, logs, `{"lvl":"warning","source":"console","method":"warn","msg":"hello 1 [object Object]"}`)
	assert.Contains(t, logs, `"lvl":"debug","source":"console","method":"debug"`)
	assert.Contains(t, logs, `"lvl":"err","source":"console","method":"error","msg":"undefined"`)
}

func TestHost_uncaughtException(t *testing.T) {
	h := newTestHost(t)
	h.eval(t, `
setTimeout(function () { throw new Error('boom') }, 0);
requestAnimationFrame(function () { throw new Error('bang') });
setTimeout(function () { __done(true) }, 30);
`)
	assert.Equal(t, true, h.wait(t))
	logs := h.logs.String()
	assert.Contains(t, logs, `boom`)
	assert.Contains(t, logs, `bang`)
	assert.Contains(t, logs, `gojahost: uncaught exception`)
}

func TestHost_frameCallbackPanic(t *testing.T) {
	h := newTestHost(t)
	done := make(chan struct{})
	h.call(t, func() {
		_, err := h.RequestAnimationFrame(func(float64) { panic(`oops`) })
		require.NoError(t, err)
		_, err = h.RequestAnimationFrame(func(float64) { close(done) })
		require.NoError(t, err)
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal(`second callback not called`)
	}
	assert.Contains(t, h.logs.String(), `animation frame callback panicked`)
}

func TestHost_natives(t *testing.T) {
	h := newTestHost(t)

	fired := make(chan struct{})
	id, err := h.SetTimeout(func() { close(fired) }, 1)
	require.NoError(t, err)
	assert.NotZero(t, id)
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal(`timeout not fired`)
	}

	id, err = h.SetTimeout(nil, 1)
	require.NoError(t, err)
	assert.Zero(t, id)

	id, err = h.SetInterval(func() {}, 1000)
	require.NoError(t, err)
	assert.NoError(t, h.ClearInterval(id))

	now := float64(time.Now().UnixMilli())
	assert.InDelta(t, now, h.DateNow(), 1000)
	assert.Equal(t, math.Trunc(h.DateNow()), h.DateNow())
}

// An engine over the host fires a long timeout early, at speed 10.
func TestHost_engine(t *testing.T) {
	h := newTestHost(t)

	var engine *timewarp.Engine
	h.call(t, func() {
		var err error
		engine, err = timewarp.New(h, timewarp.WithClock(h), timewarp.WithFrameScheduler(h))
		require.NoError(t, err)
		_, err = engine.ApplyConfig(speedconfig.Patch{
			Speed:   ptr(10.0),
			Sources: map[speedconfig.Source]bool{speedconfig.OneShotScheduling: true},
		})
		require.NoError(t, err)
		assert.True(t, engine.CanCancelFrames())
	})

	start := time.Now()
	fired := make(chan time.Duration, 1)
	h.call(t, func() {
		_, err := engine.ScheduleOnce(func(...any) { fired <- time.Since(start) }, 2000)
		require.NoError(t, err)
	})
	select {
	case elapsed := <-fired:
		assert.Less(t, elapsed, time.Second)
	case <-time.After(5 * time.Second):
		t.Fatal(`virtual timeout not fired`)
	}
}

// The page script, installed over the host, runs a self-requesting
// animation loop at most max frame calls times per host frame.
func TestHost_pageScriptFrameLoop(t *testing.T) {
	h := newTestHost(t)

	h.call(t, func() {
		inst, err := pagescript.Install(h.Runtime())
		require.NoError(t, err)
		sources := make(map[speedconfig.Source]bool)
		for _, src := range speedconfig.Sources() {
			sources[src] = true
		}
		_, err = inst.Engine().ApplyConfig(speedconfig.Patch{Speed: ptr(20.0), Sources: sources})
		require.NoError(t, err)
	})

	h.eval(t, `
var n = 0;
function step() { n++; requestAnimationFrame(step) }
requestAnimationFrame(step);
`)

	result := make(chan []int64, 1)
	h.call(t, func() {
		var (
			counts []int64
			watch  func(float64)
		)
		watch = func(float64) {
			counts = append(counts, h.Runtime().Get(`n`).ToInteger())
			if len(counts) == 6 {
				result <- counts
				return
			}
			if _, err := h.RequestAnimationFrame(watch); err != nil {
				result <- nil
			}
		}
		_, err := h.RequestAnimationFrame(watch)
		require.NoError(t, err)
	})

	var counts []int64
	select {
	case counts = <-result:
	case <-time.After(5 * time.Second):
		t.Fatal(`frames stalled`)
	}
	require.Len(t, counts, 6)
	assert.Positive(t, counts[0])
	for i := 1; i < len(counts); i++ {
		assert.LessOrEqual(t, counts[i]-counts[i-1], int64(timewarp.DefaultMaxFrameCalls), i)
	}
}

func ptr[T any](v T) *T { return &v }

func TestLoopDelay(t *testing.T) {
	for _, tc := range [...]struct {
		in  float64
		out int
	}{
		{math.NaN(), 0},
		{-5, 0},
		{0, 0},
		{0.9, 0},
		{16.67, 16},
		{1000, 1000},
		{math.Inf(1), math.MaxInt32},
	} {
		assert.Equal(t, tc.out, loopDelay(tc.in), "%v", tc.in)
	}
}

func TestHandleArg(t *testing.T) {
	rt := goja.New()
	for _, tc := range [...]struct {
		in any
		id uint64
		ok bool
	}{
		{nil, 0, false},
		{int64(7), 7, true},
		{4294967296.0, 1 << 32, true},
		{`12`, 12, true},
		{`x`, 0, false},
		{-1, 0, false},
		{math.Pow(2, 60), 0, false},
	} {
		id, ok := handleArg(rt.ToValue(tc.in))
		assert.Equal(t, tc.id, id, "%v", tc.in)
		assert.Equal(t, tc.ok, ok, "%v", tc.in)
	}
	_, ok := handleArg(goja.Undefined())
	assert.False(t, ok)
}

func TestFormatArgs(t *testing.T) {
	rt := goja.New()
	assert.Equal(t, `a 1 true undefined`, formatArgs([]goja.Value{rt.ToValue(`a`), rt.ToValue(1), rt.ToValue(true), nil}))
	assert.Empty(t, formatArgs(nil))
	assert.True(t, strings.HasPrefix(formatArgs([]goja.Value{rt.NewObject()}), `[object`))
}
