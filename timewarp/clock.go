package timewarp

import (
	"math"

	"github.com/joeycumines/go-timewarp/speedconfig"
)

// accumulator integrates real elapsed time, scaled by the rate in effect at
// each observation. Scaling deltas rather than absolute readings keeps the
// virtual clock continuous across rate changes.
type accumulator struct {
	virtual float64
	last    float64
	seeded  bool
}

// advance observes the real clock value now, returning the virtual value.
// The first observation seeds both values with now.
func (a *accumulator) advance(now, scale float64) float64 {
	if !a.seeded {
		a.virtual = now
		a.last = now
		a.seeded = true
		return now
	}
	a.virtual += (now - a.last) * scale
	a.last = now
	return a.virtual
}

// ReadMonotonic is the virtualized performance.now, in milliseconds.
func (e *Engine) ReadMonotonic() float64 {
	return e.monotonic.advance(e.clock.PerformanceNow(), e.config.Scale(speedconfig.MonotonicClock))
}

// ReadWallClock is the virtualized Date.now, in whole milliseconds since the
// Unix epoch, rounded toward negative infinity.
func (e *Engine) ReadWallClock() int64 {
	return int64(math.Floor(e.wall.advance(e.clock.DateNow(), e.config.Scale(speedconfig.WallClock))))
}
