package sntpserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edgeflow/timesyncd/internal/ntpwire"
)

type fakeDiscipline struct {
	utcMicros int64
	stratum   uint8
	refID     uint32
}

func (d *fakeDiscipline) UTCMicros() int64    { return d.utcMicros }
func (d *fakeDiscipline) Stratum() uint8      { return d.stratum }
func (d *fakeDiscipline) ReferenceID() uint32 { return d.refID }

func TestServerEchoesOrigTimeAndFillsReply(t *testing.T) {
	disc := &fakeDiscipline{utcMicros: 1_700_000_000_000_000, stratum: 1, refID: 0x47505300}
	s := New(disc, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()

	go func() {
		_ = s.ListenAndServe(ctx, "udp4", port)
	}()
	time.Sleep(50 * time.Millisecond)
	defer s.Close()

	client, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	defer client.Close()

	req := ntpwire.Message{LI: ntpwire.LeapNone, VN: 4, Mode: ntpwire.ModeClient, TxTime: ntpwire.Timestamp{Seconds: 123, Fraction: 456}}
	wire := req.Encode()
	_, err = client.Write(wire[:])
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, ntpwire.MessageSize)
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Equal(t, ntpwire.MessageSize, n)

	reply, err := ntpwire.Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, req.TxTime, reply.OrigTime)
	assert.Equal(t, uint8(4), reply.VN)
	assert.Equal(t, ntpwire.ModeServer, reply.Mode)
	assert.Equal(t, uint8(1), reply.Stratum)
	assert.Equal(t, Poll, reply.Poll)
	assert.Equal(t, Precision, reply.Precision)
	assert.Equal(t, uint32(0x47505300), reply.RefID)
}
