package timewarp

import (
	"errors"
	"sort"
)

var errFakeNotFound = errors.New("fake: timer not found")

type fakeTimer struct {
	fn       func()
	delay    float64
	interval bool
}

// fakeNative is a manually driven platform. Nothing fires unless a test
// fires it.
type fakeNative struct {
	timers   map[uint64]*fakeTimer
	frames   map[uint64]func(float64)
	failSet  func(delay float64) error
	panicSet bool
	cleared  []uint64
	nextID   uint64
	now      float64
	wall     float64
}

func newFakeNative() *fakeNative {
	return &fakeNative{
		timers: make(map[uint64]*fakeTimer),
		frames: make(map[uint64]func(float64)),
		wall:   1_700_000_000_000,
	}
}

func (f *fakeNative) schedule(fn func(), delay float64, interval bool) (uint64, error) {
	if f.panicSet {
		panic("fake: native exploded")
	}
	if f.failSet != nil {
		if err := f.failSet(delay); err != nil {
			return 0, err
		}
	}
	if fn == nil {
		return 0, nil
	}
	f.nextID++
	f.timers[f.nextID] = &fakeTimer{fn: fn, delay: delay, interval: interval}
	return f.nextID, nil
}

func (f *fakeNative) clear(id uint64) error {
	f.cleared = append(f.cleared, id)
	if _, ok := f.timers[id]; !ok {
		return errFakeNotFound
	}
	delete(f.timers, id)
	return nil
}

func (f *fakeNative) SetTimeout(fn func(), delayMs float64) (uint64, error) {
	return f.schedule(fn, delayMs, false)
}

func (f *fakeNative) ClearTimeout(id uint64) error { return f.clear(id) }

func (f *fakeNative) SetInterval(fn func(), periodMs float64) (uint64, error) {
	return f.schedule(fn, periodMs, true)
}

func (f *fakeNative) ClearInterval(id uint64) error { return f.clear(id) }

func (f *fakeNative) PerformanceNow() float64 { return f.now }

func (f *fakeNative) DateNow() float64 { return f.wall }

func (f *fakeNative) RequestAnimationFrame(fn func(float64)) (uint64, error) {
	if fn == nil {
		return 0, nil
	}
	f.nextID++
	f.frames[f.nextID] = fn
	return f.nextID, nil
}

func (f *fakeNative) CancelAnimationFrame(id uint64) error {
	f.cleared = append(f.cleared, id)
	if _, ok := f.frames[id]; !ok {
		return errFakeNotFound
	}
	delete(f.frames, id)
	return nil
}

// fire runs the native timer id, as the platform would.
func (f *fakeNative) fire(id uint64) {
	t, ok := f.timers[id]
	if !ok {
		return
	}
	if !t.interval {
		delete(f.timers, id)
	}
	t.fn()
}

// frame runs every pending frame callback, with a shared timestamp.
func (f *fakeNative) frame(timestamp float64) {
	ids := make([]uint64, 0, len(f.frames))
	for id := range f.frames {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	pending := f.frames
	f.frames = make(map[uint64]func(float64))
	for _, id := range ids {
		pending[id](timestamp)
	}
}

// intervals returns the live native intervals.
func (f *fakeNative) intervals() []*fakeTimer {
	var s []*fakeTimer
	for _, t := range f.timers {
		if t.interval {
			s = append(s, t)
		}
	}
	return s
}

// nativeOnly implements Native, without Clock or FrameScheduler.
type nativeOnly struct {
	Native
}

// frameSchedulerOnly has no FrameCanceler.
type frameSchedulerOnly struct {
	f *fakeNative
}

func (x frameSchedulerOnly) RequestAnimationFrame(fn func(float64)) (uint64, error) {
	return x.f.RequestAnimationFrame(fn)
}
