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

// GX register map, vendor manual section 4.5. Channel data lives in
// the module blocks, the device-level blocks carry the math channels,
// two registers per value with the low word first.
const (
	gxStartData       = 0
	gxStartAlarms     = 2500
	gxStartMath       = 5000
	gxStartMathAlarms = 5500
)

// GX20 is the adapter for the Yokogawa GX20 recorder. Its channels
// split into modules, one per consecutive run of channel numbers,
// plus the device-level math channels. The GX20 exposes no stable
// clock register, records carry the host time.
type GX20 struct {
	recorderBase
	modules []*gx20Module

	// math channel metadata lives in the embedded base slices
	nData int
	nMath int
}

func NewGX20(model, configFile, addr string, unitID, priority int, deviceID int32, dial Dialer) (*GX20, error) {
	lines, err := readConfigLines(configFile)
	if err != nil {
		return nil, err
	}
	g := &GX20{recorderBase: newRecorderBase(model, configFile, addr, unitID, priority, deviceID, dial)}
	g.parse(lines)
	return g, nil
}

// parse creates one module per consecutive channel run and collects
// the math channel metadata at the device level.
func (g *GX20) parse(lines []string) {
	lastChannel := -1
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
			if lastChannel == -1 || ch != lastChannel+1 {
				g.modules = append(g.modules, newGX20Module(ch, lines))
			}
			lastChannel = ch
		case strings.HasPrefix(prefix, "SRANGEMATH"):
			if strings.Contains(rest, "OFF") {
				continue
			}
			g.nMath++
			if len(fields) > 4 && fields[1] == "ON" {
				g.units = append(g.units, strings.ReplaceAll(strings.TrimSpace(fields[len(fields)-1]), "'", ""))
				g.decimals = append(g.decimals, atoiOr(fields[4], 0))
			} else {
				g.units = append(g.units, "UNUSED")
				g.decimals = append(g.decimals, 0)
			}
		case strings.HasPrefix(prefix, "SALARMMATH"):
			if len(g.alarmTypes) >= g.nMath || len(fields) < 4 {
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
				g.alarmTypes = append(g.alarmTypes, alarms)
				alarms = make([]string, 4)
			}
		case strings.HasPrefix(prefix, "STAGMATH"):
			if len(g.tags) >= g.nMath || len(fields) < 2 {
				continue
			}
			if fields[1] == "''" {
				g.tags = append(g.tags, "NO TAG/UNUSED")
			} else {
				g.tags = append(g.tags, strings.ReplaceAll(fields[len(fields)-1], "'", ""))
			}
		}
	}
}

// Poll reads every module block first, then the device-level data and
// math blocks. A single incomplete block fails the whole cycle so the
// record never carries a partial sample set.
func (g *GX20) Poll(ctx context.Context) (wire.Record, bool) {
	if !g.conn.connect() {
		return wire.Record{}, false
	}
	defer g.conn.close()
	rd := g.conn.reader()

	t := time.Now()
	good := true
	var points []wire.Point
	for _, m := range g.modules {
		p, ok := m.poll(ctx, rd)
		if !ok {
			good = false
		}
		points = append(points, p...)
	}

	data := rd.LittleEndianInput(ctx, gxStartData, g.nData)
	alarmWords := rd.ShortInput(ctx, gxStartAlarms, g.nData)
	mathData := rd.LittleEndianInput(ctx, gxStartMath, g.nMath)
	mathAlarms := rd.ShortInput(ctx, gxStartMathAlarms, g.nMath)

	if !good || len(data) != g.nData || len(mathData) != g.nMath {
		pkg.Severe(g.log, fmt.Sprintf("Problem getting data from %s at IP Address: %s", g.model, g.addr))
		return wire.Record{}, false
	}

	device := make([]wire.Point, g.nData+g.nMath)
	for i, v := range data {
		device[i].Value = float64(v) / math.Pow10(g.decimals[i])
	}
	for i, v := range mathData {
		device[g.nData+i].Value = float64(v) / math.Pow10(g.decimals[g.nData+i])
	}
	words := append(append([]int16{}, alarmWords...), mathAlarms...)
	if len(words) == len(device) {
		for i, w := range words {
			device[i].Alarms = decodeAlarms(w, gxAlarmMasks)
		}
	}
	points = append(points, filterUnused(device, g.units)...)

	if len(points) == 0 {
		pkg.Severe(g.log, fmt.Sprintf("Problem getting data from %s at IP Address: %s", g.model, g.addr))
		return wire.Record{}, false
	}
	return wire.Record{
		Time:     t,
		Device:   wire.Recorder,
		DeviceID: g.deviceID,
		Points:   points,
	}, true
}

// UpdateDatabase walks the module metadata in module order, then the
// device-level math channels, matching the point order Poll emits.
func (g *GX20) UpdateDatabase(w *db.Writer, rec wire.Record) {
	var tags, units []string
	var alarmTypes [][]string
	for _, m := range g.modules {
		tags = append(tags, m.tags...)
		units = append(units, m.units...)
		alarmTypes = append(alarmTypes, m.alarmTypes...)
	}
	tags = append(tags, g.tags...)
	units = append(units, g.units...)
	alarmTypes = append(alarmTypes, g.alarmTypes...)
	g.writeRecord(w, rec, tags, units, alarmTypes)
}
