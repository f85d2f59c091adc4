package nmea

import "github.com/edgeflow/timesyncd/internal/clock"

// status is the parser's output register (spec.md §3, GpsStatus).
// Feed (the GPS UART drain goroutine) writes it while the PPS watch
// goroutine and the HTTP status goroutine read it concurrently through
// Parser's exported getters; Parser guards every access to this struct
// with a mutex for exactly the reason discipline.Engine does (see
// DESIGN.md) -- this is plain concurrent access to non-atomic fields,
// not the momentary inconsistency spec.md §5 tolerates.
type status struct {
	positionValid bool
	lat           float64
	lon           float64
	alt           float64
	satCount      uint8

	timeValid bool
	utcHour   uint8
	utcMin    uint8
	utcSec    float64
	utcYear   int
	utcMonth  uint8
	utcDay    uint8

	lastPositionUpdate clock.Micros
	lastTimeUpdate     clock.Micros
}

// Fix is a snapshot of the position fields, returned by Parser.Location.
type Fix struct {
	Lat, Lon float64
	Alt      float64
	SatCount uint8
	// AgeMicros is now - lastPositionUpdate at the moment of the call.
	AgeMicros clock.Micros
}

func (s *status) recomputeTimeValid() {
	s.timeValid = s.utcYear > 1000
}
