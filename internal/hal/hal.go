// Package hal is the Hardware Abstraction Layer this appliance needs:
// a GPIO pin for the GPS module's PPS line and a serial port for its
// NMEA UART. Both the Linux backend (periph.io) and MockHAL implement
// the same two interfaces, so the rest of the tree never imports
// periph.io directly.
package hal

import (
	"fmt"
	"sync"
)

// EdgeMode is the edge an interrupt-style watch should trigger on.
type EdgeMode int

const (
	EdgeNone EdgeMode = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

// GPIOProvider is the single pin this appliance drives: the PPS input.
type GPIOProvider interface {
	// WatchEdge invokes callback on every edge transition matching mode,
	// on a dedicated goroutine, until Close.
	WatchEdge(pin int, edge EdgeMode, callback func(pin int)) error
	// DigitalRead reads the pin's current level, mainly for diagnostics.
	DigitalRead(pin int) (bool, error)
	// Close releases the underlying pin handle(s).
	Close() error
}

// SerialProvider is the GPS module's NMEA UART.
type SerialProvider interface {
	Open(port string) error
	SetBaudRate(baud int) error
	Read(buffer []byte) (int, error)
	Write(data []byte) (int, error)
	Close() error
}

// HAL bundles the providers this appliance needs plus board identity,
// matching the global-singleton pattern used for every board peripheral.
type HAL interface {
	GPIO() GPIOProvider
	Serial() SerialProvider
	Info() BoardInfo
	Close() error
}

// BoardInfo identifies the running platform; the Linux build logs its
// name at startup.
type BoardInfo struct {
	Name     string
	GPIOChip string
}

var (
	globalHAL HAL
	halMu     sync.RWMutex
)

// SetGlobalHAL installs the process-wide HAL instance.
func SetGlobalHAL(h HAL) {
	halMu.Lock()
	defer halMu.Unlock()
	globalHAL = h
}

// GetGlobalHAL returns the process-wide HAL instance.
func GetGlobalHAL() (HAL, error) {
	halMu.RLock()
	defer halMu.RUnlock()
	if globalHAL == nil {
		return nil, fmt.Errorf("hal: not initialized")
	}
	return globalHAL, nil
}
