// Package serlink opens the diode's serial links. Each of the three
// priority lanes maps to one port, conventionally /dev/ttyS0..2.
package serlink

import (
	"github.com/ansel1/merry"
	"github.com/powerman/structlog"
	"go.bug.st/serial"
)

var log = structlog.New()

// DefaultPorts maps lane 1..3 to its serial device.
var DefaultPorts = [3]string{"/dev/ttyS0", "/dev/ttyS1", "/dev/ttyS2"}

// mode is the link line discipline: 115200 8N1, no flow control.
var mode = &serial.Mode{
	BaudRate: 115200,
	DataBits: 8,
	Parity:   serial.NoParity,
	StopBits: serial.OneStopBit,
}

// Open opens one link port.
func Open(name string) (serial.Port, error) {
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, merry.Prepend(err, name)
	}
	return p, nil
}

// Close closes a port, logging the failure if any.
func Close(p serial.Port, name string) {
	log.ErrIfFail(p.Close, "port", name)
}
