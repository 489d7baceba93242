// Package devices holds the pollable device adapters: Yokogawa
// recorders (GX20, DX200, DX1000) and generic Modbus devices. Each
// adapter reads its instrument over Modbus/TCP, assembles a wire
// record per poll and writes its points to the database on the far
// side of the link.
package devices

import (
	"context"
	"fmt"

	"github.com/grid-x/modbus"
	"github.com/powerman/structlog"
	"github.com/scada-tools/datadiode/internal/mbio"
	"github.com/scada-tools/datadiode/internal/pkg"
)

// Link is one open Modbus connection to a device.
type Link interface {
	mbio.Conn
	Close() error
}

// Dialer opens a link to addr for the given unit id. Adapters hold a
// Dialer rather than a concrete client so tests can substitute one.
type Dialer func(addr string, unitID byte) (Link, error)

type tcpLink struct {
	modbus.Client
	handler *modbus.TCPClientHandler
}

func (l tcpLink) Close() error { return l.handler.Close() }

// DialTCP opens a Modbus/TCP connection.
func DialTCP(addr string, unitID byte) (Link, error) {
	handler := modbus.NewTCPClientHandler(addr)
	handler.SetSlave(unitID)
	if err := handler.Connect(context.Background()); err != nil {
		return nil, err
	}
	return tcpLink{Client: modbus.NewClient(handler), handler: handler}, nil
}

// reconnectAfter is the cooldown length in polls: a disconnected device
// skips reconnectAfter-1 polls and attempts a fresh connection on the
// next one.
const reconnectAfter = 5

// conn wraps a Dialer with the cooldown reconnect policy shared by
// every adapter. While disconnected the device skips polls, attempting
// a fresh connection only every reconnectAfter cycles.
type conn struct {
	dial         Dialer
	dialAddr     string
	addr         string
	unitID       byte
	model        string
	link         Link
	disconnected bool
	cooldown     int
	log          *structlog.Logger
}

// newConn wires the reconnect policy around dial. dialAddr is the
// host:port the dialer opens, addr is the bare host used in operator
// facing messages.
func newConn(dial Dialer, dialAddr, addr string, unitID byte, model string, log *structlog.Logger) *conn {
	return &conn{dial: dial, dialAddr: dialAddr, addr: addr, unitID: unitID, model: model, log: log}
}

// connect prepares a fresh link for the coming poll. It reports
// whether the device may be polled this cycle.
func (c *conn) connect() bool {
	if !c.disconnected {
		c.close()
		if c.open() {
			return true
		}
		c.close()
		c.disconnected = true
		pkg.Severe(c.log, fmt.Sprintf("Error connecting to %s at IP Address: %s. Device is disconnected.", c.model, c.addr))
		return false
	}
	c.cooldown++
	if c.cooldown < reconnectAfter {
		return false
	}
	c.cooldown = 0
	if !c.open() {
		c.close()
		return false
	}
	c.disconnected = false
	pkg.Severe(c.log, fmt.Sprintf("Reconnected to %s at IP Address: %s", c.model, c.addr))
	return true
}

func (c *conn) open() bool {
	link, err := c.dial(c.dialAddr, c.unitID)
	if err != nil {
		c.log.PrintErr(err, "device", c.model, "addr", c.addr)
		return false
	}
	c.link = link
	return true
}

func (c *conn) close() {
	if c.link == nil {
		return
	}
	c.log.ErrIfFail(c.link.Close, "device", c.model, "addr", c.addr)
	c.link = nil
}

func (c *conn) reader() mbio.Reader {
	return mbio.Reader{Conn: c.link, Addr: c.addr}
}
