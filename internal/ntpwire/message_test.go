package ntpwire

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := Message{
		LI:             LeapNone,
		VN:             4,
		Mode:           ModeServer,
		Stratum:        1,
		Poll:           3,
		Precision:      -6,
		RootDelay:      0,
		RootDispersion: 0,
		RefID:          RefIDFromIPv4(127, 0, 0, 1),
		RefTime:        Timestamp{Seconds: 100, Fraction: 200},
		OrigTime:       Timestamp{Seconds: 1, Fraction: 2},
		RxTime:         Timestamp{Seconds: 3, Fraction: 4},
		TxTime:         Timestamp{Seconds: 5, Fraction: 6},
	}
	wire := m.Encode()
	require.Len(t, wire, MessageSize)

	decoded, err := Decode(wire[:])
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	_, err := Decode(make([]byte, 10))
	assert.Error(t, err)
}

func TestFractionMicrosRoundTripLaw(t *testing.T) {
	for _, micros := range []uint32{0, 1, 500_000, 999_999} {
		f := MicrosToFraction(micros)
		back := FractionToMicros(f)
		assert.InDelta(t, micros, back, 1, "micros=%d", micros)
	}
}

func TestEpochConversion(t *testing.T) {
	unixSeconds := int64(1_700_000_000)
	ntpSeconds := UnixToNTPSeconds(unixSeconds)
	assert.Equal(t, unixSeconds, NTPToUnixSeconds(ntpSeconds))
}

func TestFromUnixMicrosToUnixMicrosRoundTrip(t *testing.T) {
	unixMicros := int64(1_700_000_000_123_456)
	ts := FromUnixMicros(unixMicros)
	back := ts.ToUnixMicros()
	assert.InDelta(t, unixMicros, back, 1)
}

func TestRefIDFromIPv4(t *testing.T) {
	id := RefIDFromAddr(net.IPv4(192, 0, 2, 1))
	assert.Equal(t, RefIDFromIPv4(192, 0, 2, 1), id)
}

func TestRefIDFromIPv6IsXORFold(t *testing.T) {
	ip := net.ParseIP("2001:db8::1")
	id := RefIDFromAddr(ip)
	v6 := ip.To16()
	var words [4]uint32
	for i := 0; i < 4; i++ {
		words[i] = uint32(v6[i*4])<<24 | uint32(v6[i*4+1])<<16 | uint32(v6[i*4+2])<<8 | uint32(v6[i*4+3])
	}
	assert.Equal(t, RefIDFromIPv6Words(words), id)
}
