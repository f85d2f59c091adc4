// Package ntpwire implements the RFC 5905 SNTP v4 wire codec: the
// 48-byte on-wire layout, big-endian multi-byte integers, the NTP
// fractional-second conversion, and NTP/UNIX epoch conversion
// (spec.md §4.3).
package ntpwire

import (
	"encoding/binary"
	"fmt"
	"net"
)

// MessageSize is the fixed length of an SNTP/NTP packet on the wire.
const MessageSize = 48

// NTPDelta is the number of seconds between the NTP epoch
// (1900-01-01) and the UNIX epoch (1970-01-01).
const NTPDelta int64 = 2_208_988_800

// Leap indicator values (the LI field).
const (
	LeapNone uint8 = iota
	LeapInsert
	LeapDelete
	LeapNotSynchronized
)

// Mode field values.
const (
	ModeReserved uint8 = iota
	ModeSymmetricActive
	ModeSymmetricPassive
	ModeClient
	ModeServer
	ModeBroadcast
	ModeControl
	ModePrivate
)

// Timestamp is an NTP 64-bit timestamp: 32-bit whole seconds since the
// NTP epoch followed by a 32-bit binary fraction of a second.
type Timestamp struct {
	Seconds  uint32 // wraps 2036
	Fraction uint32
}

// Message is the host-order representation of a 48-byte SNTP packet
// (spec.md §3 NtpMessage), field order matching the wire layout.
type Message struct {
	LI            uint8
	VN            uint8
	Mode          uint8
	Stratum       uint8
	Poll          int8
	Precision     int8
	RootDelay     uint32
	RootDispersion uint32
	RefID         uint32
	RefTime       Timestamp
	OrigTime      Timestamp
	RxTime        Timestamp
	TxTime        Timestamp
}

// Flags packs LI:2 / VN:3 / Mode:3 into the wire's single flags byte.
func (m Message) Flags() byte {
	return (m.LI&0x3)<<6 | (m.VN&0x7)<<3 | (m.Mode & 0x7)
}

// Encode writes m's 48-byte on-wire representation, all multi-byte
// integers big-endian (spec.md §4.3).
func (m Message) Encode() [MessageSize]byte {
	var buf [MessageSize]byte
	buf[0] = m.Flags()
	buf[1] = m.Stratum
	buf[2] = byte(m.Poll)
	buf[3] = byte(m.Precision)
	binary.BigEndian.PutUint32(buf[4:8], m.RootDelay)
	binary.BigEndian.PutUint32(buf[8:12], m.RootDispersion)
	binary.BigEndian.PutUint32(buf[12:16], m.RefID)
	putTimestamp(buf[16:24], m.RefTime)
	putTimestamp(buf[24:32], m.OrigTime)
	putTimestamp(buf[32:40], m.RxTime)
	putTimestamp(buf[40:48], m.TxTime)
	return buf
}

// Decode parses a 48-byte SNTP packet. It fails if data is not exactly
// MessageSize bytes long (spec.md §4.3).
func Decode(data []byte) (Message, error) {
	if len(data) != MessageSize {
		return Message{}, fmt.Errorf("ntpwire: expected %d bytes, got %d", MessageSize, len(data))
	}
	var m Message
	flags := data[0]
	m.LI = (flags >> 6) & 0x3
	m.VN = (flags >> 3) & 0x7
	m.Mode = flags & 0x7
	m.Stratum = data[1]
	m.Poll = int8(data[2])
	m.Precision = int8(data[3])
	m.RootDelay = binary.BigEndian.Uint32(data[4:8])
	m.RootDispersion = binary.BigEndian.Uint32(data[8:12])
	m.RefID = binary.BigEndian.Uint32(data[12:16])
	m.RefTime = getTimestamp(data[16:24])
	m.OrigTime = getTimestamp(data[24:32])
	m.RxTime = getTimestamp(data[32:40])
	m.TxTime = getTimestamp(data[40:48])
	return m, nil
}

func putTimestamp(b []byte, t Timestamp) {
	binary.BigEndian.PutUint32(b[0:4], t.Seconds)
	binary.BigEndian.PutUint32(b[4:8], t.Fraction)
}

func getTimestamp(b []byte) Timestamp {
	return Timestamp{
		Seconds:  binary.BigEndian.Uint32(b[0:4]),
		Fraction: binary.BigEndian.Uint32(b[4:8]),
	}
}

// MicrosToFraction converts microseconds in [0, 1_000_000) to the
// 32-bit NTP fraction: f = (u << 32) / 1_000_000, computed as
// (u << 26) / 15625 to stay in 64-bit integer arithmetic (spec.md §4.3).
func MicrosToFraction(u uint32) uint32 {
	return uint32((uint64(u) << 26) / 15625)
}

// FractionToMicros is the inverse of MicrosToFraction: (f * 15625) >> 26.
// Both conversions truncate, so a round trip can come back up to one
// microsecond low (1 -> 4294 -> 0).
func FractionToMicros(f uint32) uint32 {
	return uint32((uint64(f) * 15625) >> 26)
}

// UnixToNTPSeconds converts UNIX seconds to NTP seconds.
func UnixToNTPSeconds(unixSeconds int64) uint32 {
	return uint32(unixSeconds + NTPDelta)
}

// NTPToUnixSeconds converts NTP seconds to UNIX seconds.
func NTPToUnixSeconds(ntpSeconds uint32) int64 {
	return int64(ntpSeconds) - NTPDelta
}

// FromUnixMicros builds a Timestamp from a UNIX epoch microsecond count.
func FromUnixMicros(unixMicros int64) Timestamp {
	seconds := unixMicros / 1_000_000
	micros := unixMicros % 1_000_000
	if micros < 0 {
		seconds--
		micros += 1_000_000
	}
	return Timestamp{
		Seconds:  UnixToNTPSeconds(seconds),
		Fraction: MicrosToFraction(uint32(micros)),
	}
}

// ToUnixMicros converts a Timestamp to a UNIX epoch microsecond count.
func (t Timestamp) ToUnixMicros() int64 {
	return NTPToUnixSeconds(t.Seconds)*1_000_000 + int64(FractionToMicros(t.Fraction))
}

// RefIDFromIPv4 returns the raw 32-bit address as the reference
// identifier for an IPv4 upstream (spec.md §4.3).
func RefIDFromIPv4(a, b, c, d byte) uint32 {
	return binary.BigEndian.Uint32([]byte{a, b, c, d})
}

// RefIDFromIPv6Words XORs the four 32-bit words of an IPv6 address
// together, an approximation explicitly noted in spec.md §4.3/§9 as a
// substitute for an MD5 digest.
func RefIDFromIPv6Words(words [4]uint32) uint32 {
	return words[0] ^ words[1] ^ words[2] ^ words[3]
}

// RefIDFromAddr derives a reference identifier from an upstream
// server's IP, dispatching to the IPv4 or IPv6 form.
func RefIDFromAddr(ip net.IP) uint32 {
	if v4 := ip.To4(); v4 != nil {
		return binary.BigEndian.Uint32(v4)
	}
	v6 := ip.To16()
	if v6 == nil {
		return 0
	}
	var words [4]uint32
	for i := 0; i < 4; i++ {
		words[i] = binary.BigEndian.Uint32(v6[i*4 : i*4+4])
	}
	return RefIDFromIPv6Words(words)
}
