package hal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockGPIOWatchEdgeAndPushEdge(t *testing.T) {
	m := NewMockHAL()
	fired := 0
	err := m.GPIO().WatchEdge(18, EdgeRising, func(pin int) {
		fired++
		assert.Equal(t, 18, pin)
	})
	require.NoError(t, err)

	m.gpio.PushEdge()
	m.gpio.PushEdge()
	assert.Equal(t, 2, fired)
}

func TestMockSerialFeedAndRead(t *testing.T) {
	m := NewMockHAL()
	require.NoError(t, m.Serial().Open("/dev/mock0"))
	require.NoError(t, m.Serial().SetBaudRate(9600))

	m.serial.Feed([]byte("$GPGGA,test*00\r\n"))
	buf := make([]byte, 64)
	n, err := m.Serial().Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "$GPGGA,test*00\r\n", string(buf[:n]))
}

func TestGlobalHALRoundTrip(t *testing.T) {
	m := NewMockHAL()
	SetGlobalHAL(m)
	got, err := GetGlobalHAL()
	require.NoError(t, err)
	assert.Same(t, m, got)
}
