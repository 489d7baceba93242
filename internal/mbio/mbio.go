// Package mbio wraps a Modbus client with typed register-block reads.
// Transport failures never reach the caller: a failed read logs at
// SEVERE level and returns a nil slice, which the device adapters
// treat as "no data this cycle".
package mbio

import (
	"context"
	"encoding/binary"

	"github.com/ansel1/merry"
	"github.com/powerman/structlog"
	"github.com/scada-tools/datadiode/internal/pkg"
)

// Conn is the subset of the Modbus client the readers need.
// github.com/grid-x/modbus Client satisfies it.
type Conn interface {
	ReadInputRegisters(ctx context.Context, address, quantity uint16) ([]byte, error)
	ReadHoldingRegisters(ctx context.Context, address, quantity uint16) ([]byte, error)
}

// Reader performs typed block reads on one device connection.
// Addr names the device in failure logs.
type Reader struct {
	Conn Conn
	Addr string
}

// ShortInput reads count input registers as signed 16-bit values.
func (r Reader) ShortInput(ctx context.Context, start, count int) []int16 {
	return r.shorts(ctx, r.Conn.ReadInputRegisters, start, count)
}

// ShortHolding reads count holding registers as signed 16-bit values.
func (r Reader) ShortHolding(ctx context.Context, start, count int) []int16 {
	return r.shorts(ctx, r.Conn.ReadHoldingRegisters, start, count)
}

// BigEndianInput reads count 32-bit values from input registers,
// first register of each pair holding the high word.
func (r Reader) BigEndianInput(ctx context.Context, start, count int) []int32 {
	return r.ints(ctx, r.Conn.ReadInputRegisters, start, count, true)
}

// BigEndianHolding reads count 32-bit values from holding registers,
// first register of each pair holding the high word.
func (r Reader) BigEndianHolding(ctx context.Context, start, count int) []int32 {
	return r.ints(ctx, r.Conn.ReadHoldingRegisters, start, count, true)
}

// LittleEndianInput reads count 32-bit values from input registers,
// second register of each pair holding the high word.
func (r Reader) LittleEndianInput(ctx context.Context, start, count int) []int32 {
	return r.ints(ctx, r.Conn.ReadInputRegisters, start, count, false)
}

// LittleEndianHolding reads count 32-bit values from holding registers,
// second register of each pair holding the high word.
func (r Reader) LittleEndianHolding(ctx context.Context, start, count int) []int32 {
	return r.ints(ctx, r.Conn.ReadHoldingRegisters, start, count, false)
}

type readFunc = func(ctx context.Context, address, quantity uint16) ([]byte, error)

func (r Reader) shorts(ctx context.Context, read readFunc, start, count int) []int16 {
	if count <= 0 {
		return nil
	}
	b, err := read(ctx, uint16(start), uint16(count))
	if err != nil || len(b) < 2*count {
		r.fail(err)
		return nil
	}
	data := make([]int16, count)
	for i := range data {
		data[i] = int16(binary.BigEndian.Uint16(b[2*i:]))
	}
	return data
}

// Registers travel big-endian on the wire. A 32-bit value spans two
// registers, bigEndian selects which one carries the high word.
func (r Reader) ints(ctx context.Context, read readFunc, start, count int, bigEndian bool) []int32 {
	if count <= 0 {
		return nil
	}
	b, err := read(ctx, uint16(start), uint16(2*count))
	if err != nil || len(b) < 4*count {
		r.fail(err)
		return nil
	}
	data := make([]int32, count)
	for i := range data {
		r0 := uint32(binary.BigEndian.Uint16(b[4*i:]))
		r1 := uint32(binary.BigEndian.Uint16(b[4*i+2:]))
		if bigEndian {
			data[i] = int32(r0<<16 | r1)
		} else {
			data[i] = int32(r1<<16 | r0)
		}
	}
	return data
}

func (r Reader) fail(err error) {
	if err == nil {
		err = ErrShortResponse.Here()
	}
	pkg.Severe(log, "modbus read failed: "+err.Error(), "device", r.Addr)
}

var (
	log              = structlog.New()
	ErrShortResponse = merry.New("short modbus response")
)
