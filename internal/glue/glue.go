// Package glue defines the narrow contracts spec.md §6 calls out
// between the core's three subsystems and the hardware/OS collaborators
// that drive them, plus the PPS update rule (spec.md §4.2) that ties the
// NMEA parser to the discipline engine without either package importing
// the other.
package glue

import "github.com/edgeflow/timesyncd/internal/clock"

// GPSTimeSource is the subset of nmea.Parser the PPS handler needs.
type GPSTimeSource interface {
	Time(now clock.Micros) (unixTime int64, ageMicros clock.Micros, ok bool)
}

// DisciplineSink is the subset of discipline.Engine the PPS handler needs.
type DisciplineSink interface {
	SetUTC(nowMicros int64, stratum uint8, refID uint32)
}

// RefIDGPS mirrors discipline.RefIDGPS; duplicated here (rather than
// imported) so this package stays dependency-free and usable from
// either side of the PPS wiring.
const RefIDGPS uint32 = 0x47505300

// FixStalenessLimit is the default maximum acceptable fix_age at PPS
// time (spec.md §6: fix_staleness_limit).
const FixStalenessLimit clock.Micros = 1_000_000

// PPSHandler implements the GPS PPS update rule of spec.md §4.2. It is
// invoked from interrupt/callback context on every rising (or, per
// configuration, falling) edge of the PPS line.
type PPSHandler struct {
	clk          clock.Source
	gps          GPSTimeSource
	discipline   DisciplineSink
	stalenessMax clock.Micros
}

// NewPPSHandler creates a handler with the default staleness limit.
func NewPPSHandler(clk clock.Source, gps GPSTimeSource, discipline DisciplineSink) *PPSHandler {
	return &PPSHandler{clk: clk, gps: gps, discipline: discipline, stalenessMax: FixStalenessLimit}
}

// WithStalenessLimit overrides the default fix_staleness_limit.
func (h *PPSHandler) WithStalenessLimit(limit clock.Micros) *PPSHandler {
	h.stalenessMax = limit
	return h
}

// OnEdge runs the five-step PPS update rule of spec.md §4.2. It returns
// true iff the discipline engine was updated.
func (h *PPSHandler) OnEdge() bool {
	now := h.clk.Now()

	unixTime, fixAge, ok := h.gps.Time(now)
	if !ok {
		return false
	}
	if fixAge > h.stalenessMax {
		return false
	}

	h.discipline.SetUTC(unixTime*1_000_000, 1, RefIDGPS)
	return true
}
