package devices

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/scada-tools/datadiode/internal/db"
	"github.com/scada-tools/datadiode/internal/pkg"
	"github.com/scada-tools/datadiode/internal/wire"
)

// DX register map, vendor manual section 6.3. Measurement channels
// are one input register each, math channels two registers apiece
// with the low word first. The instrument clock sits at 9000.
const (
	dxStartData       = 0
	dxStartAlarms     = 1000
	dxStartMath       = 2000
	dxStartMathAlarms = 3000
	dxClockAddr       = 9000
)

var dxAlarmMasks = [4]uint16{0x0F00, 0xF000, 0x000F, 0x00F0}

// DX is the adapter for the Yokogawa DX1000 and DX200 recorders.
// The two models share a register map and a config dump format and
// differ only in the model label written to the database.
type DX struct {
	recorderBase
	nData int
	nMath int
}

// NewDX parses the recorder's saved setup dump and returns the
// adapter. model is the label the factory resolved, YokogawaDX1000
// or YokogawaDX200.
func NewDX(model, configFile, addr string, unitID, priority int, deviceID int32, dial Dialer) (*DX, error) {
	lines, err := readConfigLines(configFile)
	if err != nil {
		return nil, err
	}
	d := &DX{recorderBase: newRecorderBase(model, configFile, addr, unitID, priority, deviceID, dial)}
	d.parse(lines)
	return d, nil
}

// parse walks the setup dump. SR lines describe channel ranges, SA
// lines the four alarm slots per channel, ST lines the channel tags.
func (d *DX) parse(lines []string) {
	alarms := make([]string, 4)
	for _, line := range lines {
		prefix, rest, ok := strings.Cut(line, ",")
		if !ok {
			continue
		}
		fields := strings.Split(rest, ",")
		switch {
		case strings.HasPrefix(prefix, "SR"):
			d.nData++
			units, dec := dxRange(rest, fields)
			d.units = append(d.units, units)
			d.decimals = append(d.decimals, dec)
		case strings.HasPrefix(prefix, "SA"):
			slot := atoiOr(fields[0], 0)
			if slot < 1 || slot > 4 {
				continue
			}
			if len(fields) > 2 && fields[1] == "ON" {
				alarms[slot-1] = fields[2]
			} else {
				alarms[slot-1] = "UNUSED"
			}
			if slot == 4 {
				d.alarmTypes = append(d.alarmTypes, alarms)
				alarms = make([]string, 4)
			}
		case strings.HasPrefix(prefix, "ST"):
			tag := strings.Trim(strings.TrimSpace(fields[0]), "'")
			if tag == "" {
				tag = "NO TAG/UNUSED"
			}
			d.tags = append(d.tags, tag)
		}
	}
}

// dxRange resolves one SR line to units and decimal shift. The
// matches are ordered: an unused channel wins over everything, then
// difference computation, scaling, square root and finally the plain
// input kinds.
func dxRange(rest string, fields []string) (string, int) {
	last := func(n int) string {
		if n > len(fields) {
			return ""
		}
		return strings.TrimSpace(fields[len(fields)-n])
	}
	switch {
	case strings.Contains(rest, "SKIP") || strings.Contains(rest, "VOLT,2V,-20000,20000"):
		return "UNUSED", 0
	case strings.Contains(rest, "DELTA"):
		switch {
		case strings.Contains(rest, "VOLT"):
			return "NO UNITS", dxVoltDecimals(rest)
		case strings.Contains(rest, "RTD"), strings.Contains(rest, "TC"):
			return "F", 1
		case strings.Contains(rest, "DI"):
			return "NO UNITS", 0
		case last(1) != "" && !isDigit(last(1)[0]):
			return last(1), 2
		default:
			return "NO UNITS", 2
		}
	case strings.Contains(rest, "SCALE"):
		switch {
		case strings.Contains(rest, "VOLT"), strings.Contains(rest, "DI"):
			return last(1), atoiOr(last(2), 0)
		case strings.Contains(rest, "RTD"), strings.Contains(rest, "TC"):
			return "F", atoiOr(last(2), 0)
		case strings.Contains(rest, "1-5V"):
			return last(2), atoiOr(last(3), 0)
		default:
			return last(1), 0
		}
	case strings.Contains(rest, "SQRT"):
		if strings.Contains(rest, "ON") {
			return last(3), atoiOr(last(4), 0)
		}
		return last(2), atoiOr(last(3), 0)
	case strings.Contains(rest, "VOLT"):
		return "V", dxVoltDecimals(rest)
	case strings.Contains(rest, "RTD"), strings.Contains(rest, "TC"):
		return "F", 1
	case strings.Contains(rest, "DI"):
		return "NO UNITS", 0
	}
	return "NO UNITS", 0
}

func dxVoltDecimals(rest string) int {
	switch {
	case strings.Contains(rest, "2V"):
		return 4
	case strings.Contains(rest, "20MV"), strings.Contains(rest, "6V"), strings.Contains(rest, "20V"):
		return 3
	default:
		return 2
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// Poll reads the measurement block, the alarm block and the math
// block, scales raw counts by the per-channel decimal shift and
// returns the record with unused channels removed.
func (d *DX) Poll(ctx context.Context) (wire.Record, bool) {
	if !d.conn.connect() {
		return wire.Record{}, false
	}
	defer d.conn.close()
	rd := d.conn.reader()

	t := d.clock(ctx)
	data := rd.ShortInput(ctx, dxStartData, d.nData)
	alarmWords := rd.ShortInput(ctx, dxStartAlarms, d.nData)
	mathData := rd.LittleEndianInput(ctx, dxStartMath, d.nMath)
	mathAlarms := rd.ShortInput(ctx, dxStartMathAlarms, d.nMath)

	if len(data) != d.nData || len(mathData) != d.nMath {
		pkg.Severe(d.log, fmt.Sprintf("Problem getting data from %s at IP Address: %s", d.model, d.addr))
		return wire.Record{}, false
	}

	points := make([]wire.Point, d.nData+d.nMath)
	for i, v := range data {
		points[i].Value = float64(v) / math.Pow10(d.decimals[i])
	}
	for i, v := range mathData {
		points[d.nData+i].Value = float64(v) / math.Pow10(d.decimals[d.nData+i])
	}
	words := append(append([]int16{}, alarmWords...), mathAlarms...)
	if len(words) == len(points) {
		for i, w := range words {
			points[i].Alarms = decodeAlarms(w, dxAlarmMasks)
		}
	}

	return wire.Record{
		Time:     t,
		Device:   wire.Recorder,
		DeviceID: d.deviceID,
		Points:   filterUnused(points, d.units),
	}, true
}

// clock reads the instrument clock, falling back to the host clock
// when the read fails.
func (d *DX) clock(ctx context.Context) time.Time {
	v := d.conn.reader().ShortInput(ctx, dxClockAddr, 7)
	if len(v) != 7 {
		return time.Now()
	}
	return time.Date(int(v[0]), time.Month(v[1]), int(v[2]),
		int(v[3]), int(v[4]), int(v[5]), int(v[6])*int(time.Millisecond), time.Local)
}

func (d *DX) UpdateDatabase(w *db.Writer, rec wire.Record) {
	d.writeRecord(w, rec, d.tags, d.units, d.alarmTypes)
}
