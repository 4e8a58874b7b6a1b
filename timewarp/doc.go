// Package timewarp implements a time-virtualization engine, which makes a
// page context perceive time passing faster than it really does.
//
// # Overview
//
// An [Engine] sits between page code and the platform's timer, clock, and
// animation frame primitives, which are injected as capabilities ([Native],
// [Clock], [FrameScheduler], and optionally [FrameCanceler]). It exposes
// replacements for each primitive:
//
//   - [Engine.ScheduleInterval] / [Engine.ClearInterval] (setInterval)
//   - [Engine.ScheduleOnce] / [Engine.ClearTimeout] (setTimeout)
//   - [Engine.ReadMonotonic] (performance.now)
//   - [Engine.ReadWallClock] (Date.now)
//   - [Engine.RequestAnimationFrame] / [Engine.CancelAnimationFrame]
//
// The rate is controlled by a [speedconfig.Config], updated through
// [Engine.ApplyConfig] and [Engine.ApplySelection]. When the interval rate
// changes, every live interval is rescheduled, without changing the virtual
// handle held by page code. Clocks and animation frames read the live
// configuration on every tick.
//
// # Degradation
//
// Virtualization may silently degrade to real-time behavior, but must never
// break the page. Native faults, including panics, are recovered, logged,
// and retried once at the unmodified rate.
//
// # Execution Model
//
// The engine is confined to the page's event loop goroutine, and holds no
// locks. Run-to-completion semantics guarantee a configuration update
// finishes its reschedule pass before any other callback observes the new
// multiplier.
//
// [speedconfig.Config]: github.com/joeycumines/go-timewarp/speedconfig
package timewarp
