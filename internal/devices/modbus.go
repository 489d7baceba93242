package devices

import (
	"context"
	"fmt"
	"math"
	"net"
	"strconv"
	"time"

	"github.com/powerman/structlog"
	"github.com/scada-tools/datadiode/internal/db"
	"github.com/scada-tools/datadiode/internal/mbio"
	"github.com/scada-tools/datadiode/internal/pkg"
	"github.com/scada-tools/datadiode/internal/wire"
)

// DataType selects how a register block of a generic Modbus device is
// read and interpreted.
type DataType int

const (
	ShortHolding DataType = iota
	ShortInput
	BigEndianHolding
	BigEndianInput
	LittleEndianHolding
	LittleEndianInput
	SingleBitHolding
	SingleBitInput
)

// modbusModule is one register block of a generic Modbus device: a
// contiguous range read in one request, with the tags picking single
// values out of the block by reference offset.
type modbusModule struct {
	start    int
	nRegs    int
	dataType DataType

	tags     []string
	units    []string
	decimals []int
	refs     []int
}

func (m *modbusModule) addTag(tag, units string, decimals, ref int) {
	m.tags = append(m.tags, tag)
	m.units = append(m.units, units)
	m.decimals = append(m.decimals, decimals)
	m.refs = append(m.refs, ref)
}

// poll reads the block and extracts one value per tag. An incomplete
// read yields no points, which the device treats as a failed cycle.
// For the single bit kinds the decimals field is the bit index, for
// everything else it shifts the decimal point of the raw count.
func (m *modbusModule) poll(ctx context.Context, rd mbio.Reader) []wire.Point {
	switch m.dataType {
	case ShortHolding:
		return m.shortPoints(rd.ShortHolding(ctx, m.start, m.nRegs), false)
	case ShortInput:
		return m.shortPoints(rd.ShortInput(ctx, m.start, m.nRegs), false)
	case BigEndianHolding:
		return m.intPoints(rd.BigEndianHolding(ctx, m.start, m.nRegs/2))
	case BigEndianInput:
		return m.intPoints(rd.BigEndianInput(ctx, m.start, m.nRegs/2))
	case LittleEndianHolding:
		return m.intPoints(rd.LittleEndianHolding(ctx, m.start, m.nRegs/2))
	case LittleEndianInput:
		return m.intPoints(rd.LittleEndianInput(ctx, m.start, m.nRegs/2))
	case SingleBitHolding:
		return m.shortPoints(rd.ShortHolding(ctx, m.start, m.nRegs), true)
	case SingleBitInput:
		return m.shortPoints(rd.ShortInput(ctx, m.start, m.nRegs), true)
	}
	return nil
}

func (m *modbusModule) shortPoints(data []int16, singleBit bool) []wire.Point {
	if len(data) == 0 {
		return nil
	}
	points := make([]wire.Point, 0, len(m.tags))
	for i := range m.tags {
		ref := m.refs[i]
		if ref < 0 || ref >= len(data) {
			continue
		}
		v := float64(data[ref]) / math.Pow10(m.decimals[i])
		if singleBit {
			v = float64((data[ref] >> m.decimals[i]) & 1)
		}
		points = append(points, wire.Point{Value: v})
	}
	return points
}

func (m *modbusModule) intPoints(data []int32) []wire.Point {
	if len(data) == 0 {
		return nil
	}
	points := make([]wire.Point, 0, len(m.tags))
	for i := range m.tags {
		ref := m.refs[i] / 2
		if ref < 0 || ref >= len(data) {
			continue
		}
		points = append(points, wire.Point{Value: float64(data[ref]) / math.Pow10(m.decimals[i])})
	}
	return points
}

// Modbus is the adapter for a generic Modbus/TCP device described by
// a device config file. Its points carry no alarm statuses.
type Modbus struct {
	name     string
	addr     string
	port     int
	unitID   int
	priority int
	deviceID int32
	modules  []*modbusModule

	dial  Dialer
	conn  *conn
	count int
	log   *structlog.Logger
}

const modbusDefaultPort = 502

func newModbus(name string, deviceID int32, dial Dialer) *Modbus {
	return &Modbus{
		name:     name,
		port:     modbusDefaultPort,
		priority: 3,
		deviceID: deviceID,
		log:      structlog.New("device", name),
		dial:     dial,
	}
}

func (m *Modbus) Model() string   { return m.name }
func (m *Modbus) Addr() string    { return m.addr }
func (m *Modbus) DeviceID() int32 { return m.deviceID }
func (m *Modbus) Priority() int   { return m.priority }

func (m *Modbus) Close() {
	if m.conn != nil {
		m.conn.close()
	}
}

// Poll reads every module block and emits one record when the point
// count matches the configured tag count exactly.
func (m *Modbus) Poll(ctx context.Context) (wire.Record, bool) {
	if m.conn == nil || !m.conn.connect() {
		return wire.Record{}, false
	}
	defer m.conn.close()
	rd := m.conn.reader()

	t := time.Now()
	tagCount := 0
	var points []wire.Point
	for _, mod := range m.modules {
		tagCount += len(mod.tags)
		points = append(points, mod.poll(ctx, rd)...)
	}
	if len(points) != tagCount {
		pkg.Severe(m.log, fmt.Sprintf("Problem getting data from %s at IP Address: %s", m.name, m.addr))
		return wire.Record{}, false
	}
	return wire.Record{
		Time:     t,
		Device:   wire.ModbusDevice,
		DeviceID: m.deviceID,
		Points:   points,
	}, true
}

// UpdateDatabase keeps the device's wide current table fresh and
// appends to its historical table on the usual cadence.
func (m *Modbus) UpdateDatabase(w *db.Writer, rec wire.Record) {
	var tags []string
	for _, mod := range m.modules {
		tags = append(tags, mod.tags...)
	}
	values := make([]float64, len(rec.Points))
	for i, p := range rec.Points {
		values[i] = p.Value
	}
	m.count++
	if m.count == historyEvery {
		w.UpdateModbusRecord(m.name, tags, rec.Time, values)
		m.count = 0
	} else {
		w.UpdateModbusCurrent(m.name, tags, rec.Time, values)
	}
}

// bind finalizes the device once its config section is fully parsed,
// wrapping the configured endpoint in the reconnect policy.
func (m *Modbus) bind() {
	dialAddr := net.JoinHostPort(m.addr, strconv.Itoa(m.port))
	m.conn = newConn(m.dial, dialAddr, m.addr, byte(m.unitID), m.name, m.log)
}
