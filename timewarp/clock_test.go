package timewarp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccumulator_advance(t *testing.T) {
	var a accumulator
	assert.Equal(t, 500.0, a.advance(500, 10))
	assert.Equal(t, 600.0, a.advance(510, 10))
	assert.Equal(t, 610.0, a.advance(520, 1))
	assert.Equal(t, 610.0, a.advance(520, 30))
	assert.Equal(t, 670.0, a.advance(522, 30))
}

func TestEngine_ReadMonotonic(t *testing.T) {
	native := newFakeNative()
	e := newTestEngine(t, native)

	native.now = 1000
	assert.Equal(t, 1000.0, e.ReadMonotonic())

	native.now = 1100
	assert.Equal(t, 1100.0, e.ReadMonotonic())

	setSpeed(t, e, 10)
	native.now = 1110
	assert.Equal(t, 1200.0, e.ReadMonotonic())

	// continuous across a rate change
	setSpeed(t, e, 1)
	native.now = 1111
	assert.Equal(t, 1201.0, e.ReadMonotonic())
}

func TestEngine_ReadMonotonic_nonDecreasing(t *testing.T) {
	native := newFakeNative()
	e := newTestEngine(t, native)

	speeds := []float64{1, 5, 1, 10, 20, 1, 30}
	prev := e.ReadMonotonic()
	for i := 0; i < 300; i++ {
		if i%40 == 0 {
			setSpeed(t, e, speeds[(i/40)%len(speeds)])
		}
		native.now += float64(i%7) * 0.25
		v := e.ReadMonotonic()
		assert.GreaterOrEqual(t, v, prev, i)
		prev = v
	}
}

func TestEngine_ReadWallClock(t *testing.T) {
	native := newFakeNative()
	e := newTestEngine(t, native)

	native.wall = 1_700_000_000_000.75
	assert.Equal(t, int64(1_700_000_000_000), e.ReadWallClock())

	setSpeed(t, e, 5)
	native.wall += 1000
	assert.Equal(t, int64(1_700_000_005_000), e.ReadWallClock())

	native.wall += 0.1
	assert.Equal(t, int64(1_700_000_005_001), e.ReadWallClock())
}

func TestEngine_clocksIndependent(t *testing.T) {
	native := newFakeNative()
	e := newTestEngine(t, native)
	setSpeed(t, e, 20)

	native.now = 10
	e.ReadMonotonic()
	native.now = 20
	native.wall = 0
	assert.Equal(t, int64(0), e.ReadWallClock())
	assert.Equal(t, 210.0, e.ReadMonotonic())
	native.wall = 1
	assert.Equal(t, int64(20), e.ReadWallClock())
}
