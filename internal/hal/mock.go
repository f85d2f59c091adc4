package hal

import "sync"

// MockHAL is a non-Linux, test-friendly HAL: WatchEdge never fires on
// its own, but PushEdge lets a test or the non-Linux build drive it.
type MockHAL struct {
	gpio   *MockGPIO
	serial *MockSerial
	info   BoardInfo
}

// NewMockHAL creates a MockHAL.
func NewMockHAL() *MockHAL {
	return &MockHAL{
		gpio:   &MockGPIO{},
		serial: &MockSerial{},
		info:   BoardInfo{Name: "Mock Board", GPIOChip: "mock"},
	}
}

func (m *MockHAL) GPIO() GPIOProvider     { return m.gpio }
func (m *MockHAL) Serial() SerialProvider { return m.serial }
func (m *MockHAL) Info() BoardInfo        { return m.info }
func (m *MockHAL) Close() error           { return nil }

// MockGPIO records the last watcher installed and the current level,
// and lets tests simulate a PPS edge via PushEdge.
type MockGPIO struct {
	mu       sync.Mutex
	level    bool
	callback func(pin int)
	watchPin int
}

func (g *MockGPIO) WatchEdge(pin int, edge EdgeMode, callback func(pin int)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.watchPin = pin
	g.callback = callback
	return nil
}

func (g *MockGPIO) DigitalRead(pin int) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.level, nil
}

func (g *MockGPIO) Close() error { return nil }

// PushEdge simulates one PPS pulse, invoking the installed callback if any.
func (g *MockGPIO) PushEdge() {
	g.mu.Lock()
	g.level = !g.level
	cb := g.callback
	pin := g.watchPin
	g.mu.Unlock()
	if cb != nil {
		cb(pin)
	}
}

// MockSerial is an in-memory NMEA source: tests feed it via Feed.
type MockSerial struct {
	mu   sync.Mutex
	port string
	baud int
	buf  []byte
}

func (s *MockSerial) Open(port string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.port = port
	return nil
}

func (s *MockSerial) SetBaudRate(baud int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baud = baud
	return nil
}

func (s *MockSerial) Read(buffer []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := copy(buffer, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *MockSerial) Write(data []byte) (int, error) {
	return len(data), nil
}

func (s *MockSerial) Close() error { return nil }

// Feed appends bytes for the next Read calls to drain, simulating
// the GPS module's NMEA output.
func (s *MockSerial) Feed(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, data...)
}
