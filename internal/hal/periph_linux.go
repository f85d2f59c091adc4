//go:build linux
// +build linux

package hal

import (
	"fmt"
	"sync"

	"go.bug.st/serial"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphHAL drives the PPS pin via periph.io's gpioreg and the GPS
// UART via go.bug.st/serial.
type PeriphHAL struct {
	mu   sync.Mutex
	pins map[int]gpio.PinIO
	port serial.Port
	info BoardInfo
}

// NewPeriphHAL initializes periph.io's host drivers.
func NewPeriphHAL() (*PeriphHAL, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("hal: periph host init: %w", err)
	}
	return &PeriphHAL{
		pins: make(map[int]gpio.PinIO),
		info: BoardInfo{Name: "Linux (periph.io)", GPIOChip: "gpiochip0"},
	}, nil
}

func (h *PeriphHAL) GPIO() GPIOProvider     { return h }
func (h *PeriphHAL) Serial() SerialProvider { return h }
func (h *PeriphHAL) Info() BoardInfo        { return h.info }

func (h *PeriphHAL) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.port != nil {
		h.port.Close()
		h.port = nil
	}
	return nil
}

func (h *PeriphHAL) pin(n int) gpio.PinIO {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.pins[n]; ok {
		return p
	}
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", n))
	h.pins[n] = p
	return p
}

// WatchEdge implements GPIOProvider. periph.io's PinIn.WaitForEdge
// blocks, so it runs on a dedicated goroutine per pin for the
// appliance's lifetime.
func (h *PeriphHAL) WatchEdge(n int, edge EdgeMode, callback func(pin int)) error {
	p := h.pin(n)
	if p == nil {
		return fmt.Errorf("hal: no such pin GPIO%d", n)
	}
	var periphEdge gpio.Edge
	switch edge {
	case EdgeRising:
		periphEdge = gpio.RisingEdge
	case EdgeFalling:
		periphEdge = gpio.FallingEdge
	case EdgeBoth:
		periphEdge = gpio.BothEdges
	default:
		periphEdge = gpio.NoEdge
	}
	if err := p.In(gpio.PullNoChange, periphEdge); err != nil {
		return fmt.Errorf("hal: configure GPIO%d for edge watch: %w", n, err)
	}
	go func() {
		for p.WaitForEdge(-1) {
			callback(n)
		}
	}()
	return nil
}

func (h *PeriphHAL) DigitalRead(n int) (bool, error) {
	p := h.pin(n)
	if p == nil {
		return false, fmt.Errorf("hal: no such pin GPIO%d", n)
	}
	return p.Read() == gpio.High, nil
}

// Open implements SerialProvider, opening the GPS module's UART.
func (h *PeriphHAL) Open(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, err := serial.Open(path, &serial.Mode{BaudRate: 115200})
	if err != nil {
		return fmt.Errorf("hal: open serial %s: %w", path, err)
	}
	h.port = p
	return nil
}

func (h *PeriphHAL) SetBaudRate(baud int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.port == nil {
		return fmt.Errorf("hal: serial port not open")
	}
	return h.port.SetMode(&serial.Mode{BaudRate: baud})
}

func (h *PeriphHAL) Read(buf []byte) (int, error) {
	h.mu.Lock()
	p := h.port
	h.mu.Unlock()
	if p == nil {
		return 0, fmt.Errorf("hal: serial port not open")
	}
	return p.Read(buf)
}

func (h *PeriphHAL) Write(data []byte) (int, error) {
	h.mu.Lock()
	p := h.port
	h.mu.Unlock()
	if p == nil {
		return 0, fmt.Errorf("hal: serial port not open")
	}
	return p.Write(data)
}
