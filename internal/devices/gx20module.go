package devices

import (
	"context"
	"math"
	"strings"

	"github.com/scada-tools/datadiode/internal/mbio"
	"github.com/scada-tools/datadiode/internal/wire"
)

// gx20Module covers one run of consecutive channel numbers on a GX20.
// Expansion chassis leave gaps in the channel numbering, so the
// recorder's channels split into modules and each module reads its
// own register block.
type gx20Module struct {
	start      int
	n          int
	tags       []string
	units      []string
	decimals   []int
	alarmTypes [][]string
}

// Module register blocks sit above the controller's register file
// origin. Data is two registers per channel with the low word first,
// alarm status words sit 2500 registers up.
const (
	gxRegisterOrigin = 8999
	gxModuleAlarmOff = 2500
)

var gxAlarmMasks = [4]uint16{0x0001, 0x0002, 0x0004, 0x0008}

// newGX20Module re-scans the whole setup dump, collecting only the
// rows whose channel number belongs to this module's consecutive run.
func newGX20Module(start int, lines []string) *gx20Module {
	m := &gx20Module{start: start}
	channels := map[int]bool{start: true}
	lastChannel := start
	alarms := make([]string, 4)
	for _, line := range lines {
		prefix, rest, ok := strings.Cut(line, ",")
		if !ok {
			continue
		}
		fields := strings.Split(rest, ",")
		switch {
		case strings.HasPrefix(prefix, "SRANGEAI"):
			ch := atoiOr(fields[0], -1)
			if ch != lastChannel && ch != lastChannel+1 {
				continue
			}
			channels[ch] = true
			lastChannel = ch
			m.n++
			units, dec := gxRange(rest, fields)
			m.units = append(m.units, units)
			m.decimals = append(m.decimals, dec)
		case strings.HasPrefix(prefix, "SALARMIO"):
			if !channels[atoiOr(fields[0], -1)] || len(fields) < 4 {
				continue
			}
			slot := atoiOr(fields[1], 0)
			if slot < 1 || slot > 4 {
				continue
			}
			if fields[2] == "ON" {
				alarms[slot-1] = fields[3]
			} else {
				alarms[slot-1] = "UNUSED"
			}
			if slot == 4 {
				m.alarmTypes = append(m.alarmTypes, alarms)
				alarms = make([]string, 4)
			}
		case strings.HasPrefix(prefix, "STAGIO"):
			if !channels[atoiOr(fields[0], -1)] || len(fields) < 2 {
				continue
			}
			if fields[1] == "''" {
				m.tags = append(m.tags, "NO TAG/UNUSED")
			} else {
				m.tags = append(m.tags, strings.ReplaceAll(fields[len(fields)-1], "'", ""))
			}
		}
	}
	return m
}

// gxRange resolves one SRANGEAI line to units and decimal shift.
func gxRange(rest string, fields []string) (string, int) {
	last := func(n int) string {
		if n > len(fields) {
			return ""
		}
		return strings.TrimSpace(fields[len(fields)-n])
	}
	unitField := func(n int) string {
		f := last(n)
		if f == "''" || f == "" {
			return "NO UNITS"
		}
		return strings.ReplaceAll(f, "'", "")
	}
	switch {
	case strings.Contains(rest, "SKIP"),
		strings.Contains(rest, "VOLT,2V,OFF,-20000,20000,0"),
		strings.Contains(rest, "VOLT,200MV,SCALE,4000,20000,0,1,0,10000,"):
		return "UNUSED", 0
	case strings.Contains(rest, "DELTA"):
		switch {
		case strings.Contains(rest, "VOLT"):
			return "NO UNITS", gxVoltDecimals(rest)
		case strings.Contains(rest, "TC"):
			return "F", 1
		case strings.Contains(rest, "RTD"):
			return "F", gxRTDDecimals(rest)
		case strings.Contains(rest, "DI"):
			return "NO UNITS", 0
		default:
			return "NO UNITS", 2
		}
	case strings.Contains(rest, "SCALE"):
		if strings.Contains(rest, "GS") {
			return unitField(3), atoiOr(last(6), 0)
		}
		return unitField(1), atoiOr(last(4), 0)
	case strings.Contains(rest, "SQRT"):
		return unitField(4), atoiOr(last(7), 0)
	case strings.Contains(rest, "LOG"):
		return unitField(1), atoiOr(last(4), 0)
	case strings.Contains(rest, "VOLT"):
		return "V", gxVoltDecimals(rest)
	case strings.Contains(rest, "TC"):
		return "F", 1
	case strings.Contains(rest, "RTD"):
		return "F", gxRTDDecimals(rest)
	case strings.Contains(rest, "DI"):
		return "NO UNITS", 0
	}
	return "NO UNITS", 0
}

func gxVoltDecimals(rest string) int {
	switch {
	case strings.Contains(rest, "1V"), strings.Contains(rest, "2V"):
		return 4
	case strings.Contains(rest, "20MV"), strings.Contains(rest, "6V"), strings.Contains(rest, "20V"):
		return 3
	default:
		return 2
	}
}

func gxRTDDecimals(rest string) int {
	if strings.Contains(rest, "PT100-H") || strings.Contains(rest, "JPT100-H") {
		return 2
	}
	return 1
}

// poll reads the module's data and alarm blocks. ok is false when
// either block comes back incomplete, which fails the whole recorder
// cycle.
func (m *gx20Module) poll(ctx context.Context, rd mbio.Reader) ([]wire.Point, bool) {
	data := rd.LittleEndianInput(ctx, m.start+gxRegisterOrigin, m.n)
	alarmWords := rd.ShortInput(ctx, m.start+gxModuleAlarmOff+gxRegisterOrigin, m.n)
	if len(data) != m.n || len(alarmWords) != m.n {
		return nil, false
	}
	points := make([]wire.Point, m.n)
	for i, v := range data {
		points[i].Value = float64(v) / math.Pow10(m.decimals[i])
		points[i].Alarms = decodeAlarms(alarmWords[i], gxAlarmMasks)
	}
	return filterUnused(points, m.units), true
}
