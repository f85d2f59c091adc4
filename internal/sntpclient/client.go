// Package sntpclient implements the periodic SNTP v4 client of spec.md
// §4.4: a single-shot transaction per tick, with timeout-driven
// abandonment and DNS-retry-on-next-poll, and the RFC 5905
// initial-sync-vs-slew offset decision.
package sntpclient

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/eclesh/welford"
	"go.uber.org/zap"

	"github.com/edgeflow/timesyncd/internal/clock"
	"github.com/edgeflow/timesyncd/internal/ntpwire"
)

// Defaults from spec.md §6.
const (
	DefaultPollInterval = 120 * time.Second
	DefaultUDPTimeout   = 5 * time.Second
	DefaultMinVersion   = 3
	DefaultVersion      = 4
)

// Discipline is the subset of discipline.Engine the client updates.
type Discipline interface {
	SetUTC(nowMicros int64, stratum uint8, refID uint32)
	ApplyOffset(deltaMicros int64, stratum uint8, refID uint32)
	UTCMicros() int64
	LastSyncMonotonic() clock.Micros
}

// Resolver resolves a hostname to an IP, matching spec.md §6's
// dns_resolve collaborator contract. The production resolver
// (net.DefaultResolver) is synchronous from the caller's point of view
// but is always invoked from a background goroutine so a slow or
// hanging DNS server cannot stall the main loop's tick.
type Resolver interface {
	Resolve(hostname string) (net.IP, error)
}

// NetResolver is the production Resolver, backed by net.LookupIP.
type NetResolver struct{}

// Resolve implements Resolver.
func (NetResolver) Resolve(hostname string) (net.IP, error) {
	ips, err := net.LookupIP(hostname)
	if err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
	}
	if len(ips) > 0 {
		return ips[0], nil
	}
	return nil, fmt.Errorf("sntpclient: no addresses for %s", hostname)
}

// Config configures a Client; zero values are replaced by the
// spec.md §6 defaults in New.
type Config struct {
	ServerHost   string
	PollInterval time.Duration
	UDPTimeout   time.Duration
	MinVersion   uint8
	Version      uint8
}

func (c *Config) setDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.UDPTimeout == 0 {
		c.UDPTimeout = DefaultUDPTimeout
	}
	if c.MinVersion == 0 {
		c.MinVersion = DefaultMinVersion
	}
	if c.Version == 0 {
		c.Version = DefaultVersion
	}
}

// Client is SntpClientState (spec.md §3) plus the logic that drives it.
// DNS resolution and the response wait both run on background
// goroutines rather than nested callbacks -- spec.md §9's "tasks +
// channels" replacement for the original callback chain -- while Tick
// and the mutex-guarded fields keep the externally-visible state
// machine exactly as single-threaded as spec.md §4.4 describes.
type Client struct {
	cfg        Config
	clk        clock.Source
	discipline Discipline
	resolver   Resolver
	log        *zap.Logger

	mu         sync.Mutex
	everPolled bool
	inProgress bool
	deadline   clock.Micros
	conn       *net.UDPConn
	serverAddr *net.UDPAddr
	txTime     ntpwire.Timestamp

	offsetStats *welford.Stats
}

// New creates a Client. Once the first tick has polled, lastSync gating
// reads discipline.LastSyncMonotonic, so a GPS update resets the "next
// sync" deadline exactly as spec.md §4.2 requires; before that, a zero
// discipline.LastSyncMonotonic would otherwise look like a very recent
// sync, so everPolled forces the very first Tick to poll immediately
// regardless of the discipline engine's state (spec.md §4.4 Initialization).
func New(cfg Config, clk clock.Source, discipline Discipline, resolver Resolver, log *zap.Logger) *Client {
	cfg.setDefaults()
	return &Client{
		cfg:         cfg,
		clk:         clk,
		discipline:  discipline,
		resolver:    resolver,
		log:         log,
		offsetStats: welford.New(),
	}
}

// Tick runs one iteration of the client's state machine, to be called
// from the cooperative main loop (spec.md §4.4).
func (c *Client) Tick() {
	now := c.clk.Now()

	c.mu.Lock()
	if c.inProgress && now > c.deadline {
		c.log.Warn("sntp: response timed out, abandoning transaction",
			zap.String("server", c.cfg.ServerHost))
		c.closeLocked()
	}

	if c.everPolled && now-c.discipline.LastSyncMonotonic() < clock.Micros(c.cfg.PollInterval.Microseconds()) {
		c.mu.Unlock()
		return
	}
	if c.inProgress {
		c.mu.Unlock()
		return
	}

	c.everPolled = true
	c.deadline = now + clock.Micros(c.cfg.UDPTimeout.Microseconds())
	c.inProgress = true
	c.mu.Unlock()

	go c.resolveAndSend()
}

// resolveAndSend performs DNS resolution off the cooperative path; a
// failure here simply leaves in_progress cleared so the next poll
// retries from scratch (spec.md §7).
func (c *Client) resolveAndSend() {
	ip, err := c.resolver.Resolve(c.cfg.ServerHost)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inProgress {
		// Abandoned (timed out) while we were resolving.
		return
	}
	if err != nil {
		c.log.Warn("sntp: dns resolution failed", zap.String("host", c.cfg.ServerHost), zap.Error(err))
		c.closeLocked()
		return
	}

	addr := &net.UDPAddr{IP: ip, Port: 123}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		c.log.Warn("sntp: failed to open socket", zap.Error(err))
		c.closeLocked()
		return
	}

	req := ntpwire.Message{LI: ntpwire.LeapNone, VN: c.cfg.Version, Mode: ntpwire.ModeClient}
	req.TxTime = ntpwire.FromUnixMicros(c.discipline.UTCMicros())
	wire := req.Encode()

	if _, err := conn.WriteTo(wire[:], addr); err != nil {
		c.log.Warn("sntp: send failed", zap.Error(err))
		conn.Close()
		c.closeLocked()
		return
	}

	c.conn = conn
	c.serverAddr = addr
	c.txTime = req.TxTime
	go c.receiveLoop(conn, addr)
}

// receiveLoop waits for a single response datagram on conn (opened
// fresh per transaction, per spec.md §4.4) and hands it to handleResponse.
func (c *Client) receiveLoop(conn *net.UDPConn, expected *net.UDPAddr) {
	deadline := time.Now().Add(c.cfg.UDPTimeout)
	conn.SetReadDeadline(deadline)

	buf := make([]byte, ntpwire.MessageSize)
	n, from, err := conn.ReadFromUDP(buf)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		// A newer transaction (or a timeout abandonment) already
		// replaced/closed this one.
		return
	}
	defer c.closeLocked()

	if err != nil {
		return
	}

	if from.IP.String() != expected.IP.String() || from.Port != 123 {
		c.log.Warn("sntp: response from unexpected address", zap.String("from", from.String()))
		return
	}

	t4 := ntpwire.FromUnixMicros(c.discipline.UTCMicros())
	c.handleResponse(buf[:n], t4)
}

// closeLocked tears down any in-flight transaction. Caller must hold c.mu.
func (c *Client) closeLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.inProgress = false
}

// handleResponse implements spec.md §4.4's response-handling steps
// 2-6. Caller must hold c.mu.
func (c *Client) handleResponse(data []byte, t4 ntpwire.Timestamp) {
	msg, err := ntpwire.Decode(data)
	if err != nil {
		c.log.Warn("sntp: malformed response", zap.Error(err))
		return
	}
	if msg.Stratum == 0 || msg.Mode != ntpwire.ModeServer || msg.VN < c.cfg.MinVersion {
		c.log.Warn("sntp: response failed sanity checks",
			zap.Uint8("stratum", msg.Stratum), zap.Uint8("mode", msg.Mode), zap.Uint8("vn", msg.VN))
		return
	}

	refID := ntpwire.RefIDFromAddr(c.serverAddr.IP)
	apply(msg, t4, c.discipline, c.offsetStats, refID)
}

// apply computes the RFC 5905 offset formula and the initial-sync vs
// slew decision of spec.md §4.4, updating discipline accordingly. It is
// a free function so it can be exercised directly by tests with a
// synthetic Message and no networking. t4 is the destination timestamp,
// i.e. the engine's current UTC estimate sampled at datagram receipt
// (spec.md §4.4 step 1; see DESIGN.md for why this -- rather than the
// bare monotonic counter -- is the quantity that belongs in the same
// timescale as t1/t2/t3).
func apply(msg ntpwire.Message, t4 ntpwire.Timestamp, discipline Discipline, stats *welford.Stats, refID uint32) {
	t1 := msg.OrigTime
	t2 := msg.RxTime
	t3 := msg.TxTime

	soffset2 := int64(t2.Seconds) - int64(t1.Seconds) + int64(t3.Seconds) - int64(t4.Seconds)
	foffset2 := int64(t2.Fraction) - int64(t1.Fraction) + int64(t3.Fraction) - int64(t4.Fraction)

	// offsetMicros is the observed offset expressed in microseconds
	// regardless of which branch below applies the correction, so
	// OffsetStdDevSeconds always sees the same unit (spec.md §4.4's
	// soffset2/foffset2 split is a correction-path detail, not a
	// reason to change what the observational metric measures).
	offsetMicros := soffset2*500_000 + (foffset2*15625)>>27

	if abs64(soffset2) > 2 {
		absoluteMicros := ntpwire.NTPToUnixSeconds(t3.Seconds)*1_000_000 + int64(ntpwire.FractionToMicros(t3.Fraction))
		discipline.SetUTC(absoluteMicros, msg.Stratum, refID)
		if stats != nil {
			stats.Add(float64(offsetMicros) / 1_000_000)
		}
		return
	}

	deltaMicros := (foffset2 * 15625) >> 27
	deltaMicros += soffset2 * 500_000
	discipline.ApplyOffset(deltaMicros, msg.Stratum, refID)
	if stats != nil {
		stats.Add(float64(offsetMicros) / 1_000_000)
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// OffsetStdDevSeconds exposes the running standard deviation of
// observed clock offsets in seconds, surfaced on /metrics (SPEC_FULL.md domain
// stack) -- purely observational, never fed back into a correction.
func (c *Client) OffsetStdDevSeconds() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offsetStats.Stddev()
}
