// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package timewarp

import (
	"fmt"
)

// Native is the platform timer scheduler the engine virtualizes. Delays are
// in (possibly fractional) milliseconds. Implementations return handles
// that are only meaningful to the same implementation.
//
// A nil fn must be accepted, with whatever behavior the platform has for a
// non-callable handler.
type Native interface {
	SetTimeout(fn func(), delayMs float64) (uint64, error)
	ClearTimeout(id uint64) error
	SetInterval(fn func(), periodMs float64) (uint64, error)
	ClearInterval(id uint64) error
}

// Clock is the platform's pair of real clocks, in milliseconds.
type Clock interface {
	// PerformanceNow is a monotonic clock, relative to an arbitrary origin.
	PerformanceNow() float64
	// DateNow is the wall clock, relative to the Unix epoch.
	DateNow() float64
}

// FrameScheduler is the platform's per-frame callback scheduler. Each
// request is single use.
type FrameScheduler interface {
	RequestAnimationFrame(fn func(timestamp float64)) (uint64, error)
}

// FrameCanceler is optionally implemented by platforms that can cancel a
// pending frame request.
type FrameCanceler interface {
	CancelAnimationFrame(id uint64) error
}

// NativeFault wraps a panic raised by a native call.
type NativeFault struct {
	Value any
	Op    string
}

func (e *NativeFault) Error() string {
	return fmt.Sprintf("timewarp: native %s panicked: %v", e.Op, e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e *NativeFault) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// protect converts a panic in a native call into an error, so page code never
// observes a fault introduced by virtualization.
func protect[T any](op string, fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &NativeFault{Op: op, Value: r}
		}
	}()
	return fn()
}

func protectErr(op string, fn func() error) error {
	_, err := protect(op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
