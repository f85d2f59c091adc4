// Package nmea implements a streaming, checksum-validating parser for
// the subset of NMEA-0183 sentences that carry position and wall-clock
// time: GGA, GLL, RMC and ZDA (spec.md §4.1).
package nmea

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/edgeflow/timesyncd/internal/clock"
)

const bufferSize = 128

// frameState is the framing state machine's two states (spec.md §4.1).
type frameState int

const (
	stateIdle frameState = iota
	stateInSentence
)

// Parser is a byte-by-byte NMEA-0183 recognizer. It owns its scanning
// buffer and the committed GpsStatus register. Feed is driven
// exclusively from the goroutine that drains the GPS UART and is not
// itself safe for concurrent use, but the committed register is read
// from the PPS watch goroutine and the HTTP status goroutine, so every
// read and write of status goes through mu (see status.go).
type Parser struct {
	clk clock.Source

	state  frameState
	buf    [bufferSize]byte
	cursor int

	mu     sync.RWMutex
	status status
}

// NewParser creates a Parser that timestamps commits using clk.
func NewParser(clk clock.Source) *Parser {
	return &Parser{clk: clk}
}

// Feed consumes one input byte. It returns true iff this byte completed
// a sentence whose checksum validated and whose observed fields were
// all well-formed (spec.md §4.1). Malformed input is always discarded
// silently; Feed never panics.
func (p *Parser) Feed(b byte) bool {
	switch p.state {
	case stateIdle:
		if b == '$' {
			p.state = stateInSentence
			p.cursor = 0
		}
		return false

	case stateInSentence:
		switch b {
		case '$':
			p.cursor = 0
			return false
		case '\r', '\n':
			p.state = stateIdle
			if p.cursor == 0 {
				return false
			}
			return p.parseSentence(p.buf[:p.cursor])
		default:
			if p.cursor >= bufferSize-1 {
				// Buffer overrun: discard, reset to idle (spec.md §7).
				p.state = stateIdle
				p.cursor = 0
				return false
			}
			p.buf[p.cursor] = b
			p.cursor++
			return false
		}
	}
	return false
}

// parseSentence validates the checksum of a fully-framed sentence body
// (talker ID and type included, leading '$' already stripped by the
// framer, trailing '*hh' still present and checked here) and, if
// valid, dispatches it for field extraction and commit.
func (p *Parser) parseSentence(body []byte) bool {
	if len(body) < 6 {
		return false
	}

	if len(body) < 3 {
		return false
	}
	star := len(body) - 3
	if body[star] != '*' {
		return false
	}

	var checksum byte
	for _, c := range body[:star] {
		checksum ^= c
	}
	hexDigits := body[star+1 : star+3]
	for _, c := range hexDigits {
		if !(c >= '0' && c <= '9') && !(c >= 'A' && c <= 'F') {
			return false
		}
	}
	declared, err := strconv.ParseUint(string(hexDigits), 16, 8)
	if err != nil {
		return false
	}
	if checksum != byte(declared) {
		return false
	}

	sentence := string(body[:star])
	if len(sentence) < 5 {
		return false
	}
	sentenceType := sentence[2:5]
	fields := strings.Split(sentence[5:], ",")
	// The leading element of fields is always "" (the comma right
	// after the 5-char type), strip it.
	if len(fields) > 0 && fields[0] == "" {
		fields = fields[1:]
	}

	switch sentenceType {
	case "GGA":
		return p.commitGGA(fields)
	case "GLL":
		return p.commitGLL(fields)
	case "RMC":
		return p.commitRMC(fields)
	case "ZDA":
		return p.commitZDA(fields)
	default:
		// Recognized only as far as framing/checksum go; tolerated
		// without field extraction (spec.md §4.1).
		return true
	}
}

func field(fields []string, i int) string {
	if i < 0 || i >= len(fields) {
		return ""
	}
	return fields[i]
}

// commitGGA implements the GGA field layout of spec.md §4.1:
// hhmmss.sss, lat, N|S, lon, E|W, fix_quality, nsat, hdop, alt, M, geoid, M, age, stid
func (p *Parser) commitGGA(f []string) bool {
	now := p.clk.Now()

	t, err := parseHHMMSS(field(f, 0))
	if err != nil {
		return false
	}
	ns, ok1, err := parseSingleChar(field(f, 2))
	if err != nil {
		return false
	}
	ew, ok2, err := parseSingleChar(field(f, 4))
	if err != nil {
		return false
	}
	lat, err := parseLatLon(field(f, 1), singleCharStr(ns, ok1), false)
	if err != nil {
		return false
	}
	lon, err := parseLatLon(field(f, 3), singleCharStr(ew, ok2), true)
	if err != nil {
		return false
	}
	fixQuality, err := parseUint(field(f, 5))
	if err != nil {
		return false
	}
	nsat, err := parseUint(field(f, 6))
	if err != nil {
		return false
	}
	alt, err := parseFixedFloat(field(f, 8))
	if err != nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	positionCarried := lat.present || lon.present || field(f, 5) != "" || field(f, 6) != ""
	if positionCarried {
		if lat.present {
			p.status.lat = lat.decimalDegrees
		}
		if lon.present {
			p.status.lon = lon.decimalDegrees
		}
		if field(f, 5) != "" {
			p.status.positionValid = fixQuality > 0
		}
		if field(f, 6) != "" {
			p.status.satCount = uint8(nsat)
		}
		p.status.alt = alt
		p.status.lastPositionUpdate = now
	}

	if t.present {
		p.status.utcHour = t.hour
		p.status.utcMin = t.min
		p.status.utcSec = t.sec
		p.status.recomputeTimeValid()
		p.status.lastTimeUpdate = now
	}

	return true
}

// commitGLL implements the GLL field layout:
// lat, N|S, lon, E|W, hhmmss.ss, A|V[, mode]
func (p *Parser) commitGLL(f []string) bool {
	now := p.clk.Now()

	ns, ok1, err := parseSingleChar(field(f, 1))
	if err != nil {
		return false
	}
	ew, ok2, err := parseSingleChar(field(f, 3))
	if err != nil {
		return false
	}
	lat, err := parseLatLon(field(f, 0), singleCharStr(ns, ok1), false)
	if err != nil {
		return false
	}
	lon, err := parseLatLon(field(f, 2), singleCharStr(ew, ok2), true)
	if err != nil {
		return false
	}
	status, ok, err := parseSingleChar(field(f, 5))
	if err != nil {
		return false
	}
	t, err := parseHHMMSS(field(f, 4))
	if err != nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if lat.present || lon.present || ok {
		if lat.present {
			p.status.lat = lat.decimalDegrees
		}
		if lon.present {
			p.status.lon = lon.decimalDegrees
		}
		if ok {
			p.status.positionValid = status == 'A'
		}
		p.status.lastPositionUpdate = now
	}

	if t.present {
		p.status.utcHour = t.hour
		p.status.utcMin = t.min
		p.status.utcSec = t.sec
		p.status.recomputeTimeValid()
		p.status.lastTimeUpdate = now
	}

	return true
}

// commitRMC implements the RMC field layout:
// hhmmss.ss, A|V, lat, N|S, lon, E|W, sog, cog, ddmmyy, magvar, E|W
func (p *Parser) commitRMC(f []string) bool {
	now := p.clk.Now()

	t, err := parseHHMMSS(field(f, 0))
	if err != nil {
		return false
	}
	rstatus, okStatus, err := parseSingleChar(field(f, 1))
	if err != nil {
		return false
	}
	ns, ok1, err := parseSingleChar(field(f, 3))
	if err != nil {
		return false
	}
	ew, ok2, err := parseSingleChar(field(f, 5))
	if err != nil {
		return false
	}
	lat, err := parseLatLon(field(f, 2), singleCharStr(ns, ok1), false)
	if err != nil {
		return false
	}
	lon, err := parseLatLon(field(f, 4), singleCharStr(ew, ok2), true)
	if err != nil {
		return false
	}
	date, err := parseDDMMYY(field(f, 8))
	if err != nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if lat.present || lon.present || okStatus {
		if lat.present {
			p.status.lat = lat.decimalDegrees
		}
		if lon.present {
			p.status.lon = lon.decimalDegrees
		}
		if okStatus {
			p.status.positionValid = rstatus == 'A'
		}
		p.status.lastPositionUpdate = now
	}

	if t.present || date.present {
		if t.present {
			p.status.utcHour = t.hour
			p.status.utcMin = t.min
			p.status.utcSec = t.sec
		}
		if date.present {
			p.status.utcYear = date.year
			p.status.utcMonth = date.month
			p.status.utcDay = date.day
		}
		p.status.recomputeTimeValid()
		p.status.lastTimeUpdate = now
	}

	return true
}

// commitZDA implements the ZDA field layout:
// hhmmss.sss, dd, mm, yyyy, zh, zm (the zone fields are read and
// discarded -- spec.md §9 commits to storing UTC unconditionally).
func (p *Parser) commitZDA(f []string) bool {
	now := p.clk.Now()

	t, err := parseHHMMSS(field(f, 0))
	if err != nil {
		return false
	}
	day, err := parseUint(field(f, 1))
	if err != nil {
		return false
	}
	month, err := parseUint(field(f, 2))
	if err != nil {
		return false
	}
	year, err := parseUint(field(f, 3))
	if err != nil {
		return false
	}

	dateCarried := field(f, 1) != "" || field(f, 2) != "" || field(f, 3) != ""

	p.mu.Lock()
	defer p.mu.Unlock()

	if t.present || dateCarried {
		if t.present {
			p.status.utcHour = t.hour
			p.status.utcMin = t.min
			p.status.utcSec = t.sec
		}
		if field(f, 1) != "" {
			p.status.utcDay = uint8(day)
		}
		if field(f, 2) != "" {
			p.status.utcMonth = uint8(month)
		}
		if field(f, 3) != "" {
			p.status.utcYear = int(year)
		}
		p.status.recomputeTimeValid()
		p.status.lastTimeUpdate = now
	}

	return true
}

func singleCharStr(c byte, ok bool) string {
	if !ok {
		return ""
	}
	return string(c)
}

type ddmmyy struct {
	day, month uint8
	year       int
	present    bool
}

// parseDDMMYY parses RMC's two-digit-year date field, expanding into
// the 2000-2099 window (the only one an appliance built today will see).
func parseDDMMYY(field string) (ddmmyy, error) {
	if field == "" {
		return ddmmyy{}, nil
	}
	n, err := parseUint(field)
	if err != nil {
		return ddmmyy{}, err
	}
	day := uint8((n / 10000) % 100)
	month := uint8((n / 100) % 100)
	year := 2000 + int(n%100)
	return ddmmyy{day: day, month: month, year: year, present: true}, nil
}

// Location returns the last-committed position, or ok=false if
// position_valid is not set (spec.md §4.1 get_location).
func (p *Parser) Location(now clock.Micros) (Fix, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.status.positionValid {
		return Fix{}, false
	}
	return Fix{
		Lat:       p.status.lat,
		Lon:       p.status.lon,
		Alt:       p.status.alt,
		SatCount:  p.status.satCount,
		AgeMicros: now - p.status.lastPositionUpdate,
	}, true
}

// Time returns the last-committed calendar time as a UNIX timestamp
// (fractional seconds truncated, matching the integer unix_time_t of
// spec.md §4.1's get_time) plus its age, or ok=false if time_valid is
// not set.
func (p *Parser) Time(now clock.Micros) (unixTime int64, ageMicros clock.Micros, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.status.timeValid {
		return 0, 0, false
	}
	t := time.Date(p.status.utcYear, time.Month(p.status.utcMonth), int(p.status.utcDay),
		int(p.status.utcHour), int(p.status.utcMin), int(p.status.utcSec), 0, time.UTC)
	return t.Unix(), now - p.status.lastTimeUpdate, true
}

// SatCount returns the number of satellites used in the latest fix.
func (p *Parser) SatCount() uint8 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status.satCount
}

// Snapshot is a read-only copy of every committed field, used by
// status/logging consumers (spec.md §6) that want more than the
// Location/Time getters expose.
type Snapshot struct {
	PositionValid bool
	Lat, Lon, Alt float64
	SatCount      uint8
	TimeValid     bool
	UTCHour, UTCMin uint8
	UTCSec        float64
	UTCYear       int
	UTCMonth, UTCDay uint8
}

// Snapshot returns the current register contents.
func (p *Parser) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Snapshot{
		PositionValid: p.status.positionValid,
		Lat:           p.status.lat,
		Lon:           p.status.lon,
		Alt:           p.status.alt,
		SatCount:      p.status.satCount,
		TimeValid:     p.status.timeValid,
		UTCHour:       p.status.utcHour,
		UTCMin:        p.status.utcMin,
		UTCSec:        p.status.utcSec,
		UTCYear:       p.status.utcYear,
		UTCMonth:      p.status.utcMonth,
		UTCDay:        p.status.utcDay,
	}
}
