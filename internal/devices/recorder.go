package devices

import (
	"context"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/powerman/structlog"
	"github.com/scada-tools/datadiode/internal/db"
	"github.com/scada-tools/datadiode/internal/wire"
)

// Device is one pollable instrument on the transmit side.
type Device interface {
	Model() string
	Addr() string
	DeviceID() int32
	Priority() int

	// Poll gathers one sample set. ok is false when the device is
	// disconnected or the read came back incomplete.
	Poll(ctx context.Context) (rec wire.Record, ok bool)

	// UpdateDatabase writes a received record on the far side of the
	// link. Most cycles refresh current values only, every tenth
	// record also lands in the historical tables.
	UpdateDatabase(w *db.Writer, rec wire.Record)

	Close()
}

// historyEvery is the database cadence: one historical insert per
// this many received records, current values refreshed in between.
const historyEvery = 10

// recorderBase carries what every Yokogawa adapter shares: identity,
// per-point metadata parsed from the instrument config dump, the
// connection with its reconnect policy and the database cadence
// counter.
type recorderBase struct {
	model      string
	configFile string
	addr       string
	unitID     int
	priority   int
	deviceID   int32

	tags       []string
	units      []string
	decimals   []int
	alarmTypes [][]string

	conn  *conn
	count int
	log   *structlog.Logger
}

// recorderPort is the Modbus/TCP port the Yokogawa recorders listen on.
const recorderPort = "502"

func newRecorderBase(model, configFile, addr string, unitID, priority int, deviceID int32, dial Dialer) recorderBase {
	log := structlog.New("device", model, "addr", addr)
	return recorderBase{
		model:      model,
		configFile: configFile,
		addr:       addr,
		unitID:     unitID,
		priority:   clampPriority(priority, model, addr, log),
		deviceID:   deviceID,
		conn:       newConn(dial, net.JoinHostPort(addr, recorderPort), addr, byte(unitID), model, log),
		log:        log,
	}
}

func (b *recorderBase) Model() string   { return b.model }
func (b *recorderBase) Addr() string    { return b.addr }
func (b *recorderBase) DeviceID() int32 { return b.deviceID }
func (b *recorderBase) Priority() int   { return b.priority }
func (b *recorderBase) Close()          { b.conn.close() }

func (b *recorderBase) info() db.RecorderInfo {
	return db.RecorderInfo{
		Model:      b.model,
		Addr:       b.addr,
		UnitID:     b.unitID,
		ConfigFile: b.configFile,
	}
}

// writeRecord applies the cadence. Record points carry only the used
// channels, so a separate point index walks alongside the metadata.
func (b *recorderBase) writeRecord(w *db.Writer, rec wire.Record, tags, units []string, alarmTypes [][]string) {
	b.count++
	historical := b.count == historyEvery
	i := 0
	for j, u := range units {
		if strings.EqualFold(u, "UNUSED") {
			continue
		}
		if i >= len(rec.Points) {
			break
		}
		p := rec.Points[i]
		i++
		tag := "NO TAG/UNUSED"
		if j < len(tags) {
			tag = tags[j]
		}
		var types []string
		if j < len(alarmTypes) {
			types = alarmTypes[j]
		}
		if historical {
			w.AddTagRecord(rec.Time, p, tag, b.info(), u, types)
		} else {
			w.UpdateCurrentValue(tag, p, rec.Time)
		}
	}
	if historical {
		b.count = 0
	}
}

func clampPriority(priority int, model, addr string, log *structlog.Logger) int {
	if priority >= 1 && priority <= 3 {
		return priority
	}
	log.Printf("Priority level for %s at IP address %s is not between 1 and 3. Setting priority level to 3.", model, addr)
	return 3
}

// readConfigLines loads the instrument's saved setup dump, one line
// per setting, uppercased for the substring matching the parsers do.
func readConfigLines(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimRight(line, "\r")
		lines = append(lines, strings.ToUpper(line))
	}
	return lines, nil
}

// decodeAlarms expands one status word into four alarm flags.
func decodeAlarms(w int16, masks [4]uint16) []int32 {
	a := make([]int32, 4)
	for i, m := range masks {
		if uint16(w)&m != 0 {
			a[i] = 1
		}
	}
	return a
}

// filterUnused drops the points whose units mark the channel unused,
// keeping record payloads aligned with what the database writer
// expects.
func filterUnused(points []wire.Point, units []string) []wire.Point {
	kept := make([]wire.Point, 0, len(points))
	for i, p := range points {
		if i < len(units) && strings.EqualFold(units[i], "UNUSED") {
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return n
}
