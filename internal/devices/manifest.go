package devices

import (
	"os"
	"strings"

	"github.com/powerman/structlog"
	"github.com/scada-tools/datadiode/internal/pkg"
	"github.com/scada-tools/datadiode/internal/wire"
)

var log = structlog.New()

// Manifest is the device list both sides load. Order matters: record
// device ids are list indices, so transmit and receive must read the
// same file for the metadata to line up.
type Manifest struct {
	// Function is the role line value, Transmit or Receive.
	Function string

	Recorders []Device
	Modbus    []*Modbus
}

// LoadManifest reads the main config file. `**` and empty lines are
// comments, a `Function:` line names the role, a `Modbus, <path>` line
// pulls in a generic device config file and every other line describes
// one Yokogawa recorder. A device whose line or config file cannot be
// used is logged at SEVERE level and dropped, startup continues.
func LoadManifest(path string, dial Dialer) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := &Manifest{}
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "" || strings.Contains(line, "**"):

		case strings.HasPrefix(line, "Function:"):
			m.Function = strings.TrimSpace(line[strings.LastIndex(line, ":")+1:])

		case strings.HasPrefix(line, "Modbus"):
			_, file, ok := strings.Cut(line, ",")
			if !ok {
				pkg.Severe(log, "Modbus config line without a file path: "+line)
				continue
			}
			devices, err := ParseModbusConfig(strings.TrimSpace(file), int32(len(m.Modbus)), dial)
			if err != nil {
				pkg.Severe(log, "Error reading ModbusDevicesConfig file: "+err.Error())
				continue
			}
			m.Modbus = append(m.Modbus, devices...)

		default:
			rec, err := NewRecorder(line, int32(len(m.Recorders)), dial)
			if err != nil {
				pkg.Severe(log, "unable to set up recorder: "+err.Error(), "line", line)
				continue
			}
			m.Recorders = append(m.Recorders, rec)
		}
	}
	return m, nil
}

// Devices returns every configured device in manifest order,
// recorders first.
func (m *Manifest) Devices() []Device {
	all := make([]Device, 0, len(m.Recorders)+len(m.Modbus))
	all = append(all, m.Recorders...)
	for _, d := range m.Modbus {
		all = append(all, d)
	}
	return all
}

// Lookup resolves a received record to the device that produced it.
func (m *Manifest) Lookup(rec wire.Record) (Device, bool) {
	id := int(rec.DeviceID)
	switch rec.Device {
	case wire.Recorder:
		if id >= 0 && id < len(m.Recorders) {
			return m.Recorders[id], true
		}
	case wire.ModbusDevice:
		if id >= 0 && id < len(m.Modbus) {
			return m.Modbus[id], true
		}
	}
	return nil, false
}

// Close closes every device connection. Called at shutdown.
func (m *Manifest) Close() {
	for _, d := range m.Devices() {
		d.Close()
	}
}
