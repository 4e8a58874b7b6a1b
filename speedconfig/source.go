package speedconfig

import (
	"strings"
)

// Source identifies a time source that may be virtualized.
type Source uint8

const (
	IntervalScheduling Source = iota
	OneShotScheduling
	MonotonicClock
	WallClock
	AnimationFrame
	numSources
)

var sourceNames = [numSources]string{
	IntervalScheduling: "interval",
	OneShotScheduling:  "timeout",
	MonotonicClock:     "monotonic",
	WallClock:          "wallclock",
	AnimationFrame:     "frame",
}

// Sources returns every valid source, in declaration order.
func Sources() []Source {
	s := make([]Source, 0, numSources)
	for i := Source(0); i < numSources; i++ {
		s = append(s, i)
	}
	return s
}

// ParseSource is the inverse of [Source.String].
func ParseSource(name string) (Source, bool) {
	for i, v := range sourceNames {
		if v == name {
			return Source(i), true
		}
	}
	return 0, false
}

// Valid reports whether s is a known source.
func (s Source) Valid() bool { return s < numSources }

func (s Source) String() string {
	if s.Valid() {
		return sourceNames[s]
	}
	return "unknown"
}

// Flags is a set of sources subject to virtualization.
type Flags uint8

// AllSources has every source enabled.
const AllSources = Flags(1<<numSources - 1)

// FlagsOf builds a set from the given sources.
func FlagsOf(sources ...Source) (f Flags) {
	for _, s := range sources {
		f = f.With(s)
	}
	return
}

func (f Flags) Has(s Source) bool {
	return s.Valid() && f&(1<<s) != 0
}

func (f Flags) With(s Source) Flags {
	if !s.Valid() {
		return f
	}
	return f | 1<<s
}

func (f Flags) Without(s Source) Flags {
	return f &^ (1 << s)
}

func (f Flags) String() string {
	var names []string
	for _, s := range Sources() {
		if f.Has(s) {
			names = append(names, s.String())
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}
