package discipline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edgeflow/timesyncd/internal/clock"
)

type fakeClock struct{ now clock.Micros }

func (c *fakeClock) Now() clock.Micros { return c.now }

func TestNewIsUnsynchronized(t *testing.T) {
	e := New(&fakeClock{})
	assert.Equal(t, Unsynchronized, e.Stratum())
}

func TestSetUTCUpdatesStateAndLastSync(t *testing.T) {
	clk := &fakeClock{now: 1000}
	e := New(clk)

	e.SetUTC(5_000_000, 1, RefIDGPS)
	assert.Equal(t, uint8(1), e.Stratum())
	assert.Equal(t, RefIDGPS, e.ReferenceID())
	assert.Equal(t, clock.Micros(1000), e.LastSyncMonotonic())
	assert.Equal(t, int64(5_000_000), e.UTCMicros())

	clk.now = 1500
	assert.Equal(t, int64(5_000_500), e.UTCMicros())
}

func TestApplyOffsetIsAdditive(t *testing.T) {
	clk := &fakeClock{now: 0}
	e := New(clk)
	e.SetUTC(1_000_000, 2, 0xAABBCCDD)

	e.ApplyOffset(250_000, 2, 0xAABBCCDD)
	assert.Equal(t, int64(1_250_000), e.UTCMicros())
}

func TestLatestWriteWinsRegardlessOfSource(t *testing.T) {
	clk := &fakeClock{now: 0}
	e := New(clk)
	e.SetUTC(1_000_000, 1, RefIDGPS)
	e.SetUTC(2_000_000, 3, 0x01020304)
	assert.Equal(t, uint8(3), e.Stratum())
	assert.Equal(t, uint32(0x01020304), e.ReferenceID())
	assert.Equal(t, int64(2_000_000), e.UTCMicros())
}
