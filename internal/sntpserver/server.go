// Package sntpserver implements the stratum-1/2 SNTP server of
// spec.md §4.5: one UDP endpoint per address family, answering client
// requests from the discipline engine's current UTC estimate.
package sntpserver

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edgeflow/timesyncd/internal/ntpwire"
)

// Discipline is the subset of discipline.Engine the server reads.
type Discipline interface {
	UTCMicros() int64
	Stratum() uint8
	ReferenceID() uint32
}

// Precision is the server's advertised clock precision, 2^-6 s (~16ms),
// per spec.md §4.5.
const Precision int8 = -6

// Poll is the server's advertised poll interval exponent, per spec.md §4.5.
const Poll int8 = 3

// Server answers SNTP requests, one UDP endpoint per ListenAndServe call
// (typically one for "udp4" and one for "udp6"); Close shuts all of them
// down.
type Server struct {
	discipline Discipline
	log        *zap.Logger

	mu    sync.Mutex
	conns []*net.UDPConn
}

// New creates a Server; call ListenAndServe to start it.
func New(discipline Discipline, log *zap.Logger) *Server {
	return &Server{discipline: discipline, log: log}
}

// ListenAndServe opens a UDP endpoint on the given address family
// ("udp4" or "udp6") and port, and serves requests until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, network string, port int) error {
	conn, err := net.ListenUDP(network, &net.UDPAddr{Port: port})
	if err != nil {
		return fmt.Errorf("sntpserver: listen %s:%d: %w", network, port, err)
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, ntpwire.MessageSize)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("sntpserver: read failed", zap.Error(err))
			continue
		}
		reqCopy := make([]byte, n)
		copy(reqCopy, buf[:n])
		go s.handle(conn, from, reqCopy)
	}
}

// handle implements spec.md §4.5's five-step reply construction.
func (s *Server) handle(conn *net.UDPConn, from *net.UDPAddr, data []byte) {
	txID := uuid.NewString()

	t2 := ntpwire.FromUnixMicros(s.discipline.UTCMicros())

	req, err := ntpwire.Decode(data)
	if err != nil {
		s.log.Debug("sntpserver: malformed request", zap.String("txid", txID), zap.String("from", from.String()), zap.Error(err))
		return
	}

	reply := ntpwire.Message{
		LI:             ntpwire.LeapNone,
		VN:             4,
		Mode:           ntpwire.ModeServer,
		Stratum:        s.discipline.Stratum(),
		Poll:           Poll,
		Precision:      Precision,
		RootDelay:      0,
		RootDispersion: 0,
		RefID:          s.discipline.ReferenceID(),
		RefTime:        ntpwire.Timestamp{},
		OrigTime:       req.TxTime,
		RxTime:         t2,
	}

	reply.TxTime = ntpwire.FromUnixMicros(s.discipline.UTCMicros())

	wire := reply.Encode()
	if _, err := conn.WriteToUDP(wire[:], from); err != nil {
		s.log.Warn("sntpserver: send failed", zap.String("txid", txID), zap.Error(err))
	}
}

// Close shuts every listening socket opened by ListenAndServe down.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, conn := range s.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.conns = nil
	return firstErr
}
