package devices

import (
	"os"
	"strings"
)

// dataTypeNames maps the config file spelling to the read kind.
var dataTypeNames = map[string]DataType{
	"short holding":         ShortHolding,
	"short input":           ShortInput,
	"big endian holding":    BigEndianHolding,
	"big endian input":      BigEndianInput,
	"little endian holding": LittleEndianHolding,
	"little endian input":   LittleEndianInput,
	"single bit holding":    SingleBitHolding,
	"single bit input":      SingleBitInput,
}

// ParseModbusConfig reads the generic Modbus device config file. The
// file is line oriented: a `Device Name:` line opens a device section,
// `IP Address:`, `Slave number:`, `Port:` and `Priority:` fill it in,
// a `Registers: start, end` line opens a register block (one-based
// inclusive), `Data Type:` selects the block's read kind and any other
// non-comment line is a tag row `tag, units, decimals, register`.
// Device ids are assigned in order of appearance starting at firstID,
// so devices from several config files share one id space.
func ParseModbusConfig(path string, firstID int32, dial Dialer) ([]*Modbus, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var devices []*Modbus
	var module *modbusModule
	nextID := firstID

	value := func(line string) string {
		return strings.TrimSpace(line[strings.Index(line, ":")+1:])
	}

	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "" || strings.Contains(line, "**"):

		case strings.HasPrefix(line, "Device Name:"):
			devices = append(devices, newModbus(value(line), nextID, dial))
			nextID++
			module = nil

		case len(devices) == 0:
			// settings before the first device section have no home

		case strings.HasPrefix(line, "IP Address:"):
			devices[len(devices)-1].addr = value(line)

		case strings.HasPrefix(line, "Slave number:"):
			devices[len(devices)-1].unitID = atoiOr(value(line), 0)

		case strings.HasPrefix(line, "Port:"):
			devices[len(devices)-1].port = atoiOr(value(line), modbusDefaultPort)

		case strings.HasPrefix(line, "Priority:"):
			d := devices[len(devices)-1]
			d.priority = clampPriority(atoiOr(value(line), 3), d.name, d.addr, d.log)

		case strings.HasPrefix(line, "Registers:"):
			start, end, ok := strings.Cut(value(line), ",")
			if !ok {
				continue
			}
			s := atoiOr(start, 1)
			e := atoiOr(end, s)
			module = &modbusModule{start: s - 1, nRegs: e - s + 1}
			d := devices[len(devices)-1]
			d.modules = append(d.modules, module)

		case strings.HasPrefix(line, "Data Type:"):
			if module == nil {
				continue
			}
			if dt, ok := dataTypeNames[strings.ToLower(value(line))]; ok {
				module.dataType = dt
			}

		default:
			if module == nil {
				continue
			}
			fields := strings.Split(line, ",")
			if len(fields) < 4 {
				continue
			}
			register := atoiOr(fields[3], 0)
			module.addTag(
				strings.TrimSpace(fields[0]),
				strings.TrimSpace(fields[1]),
				atoiOr(fields[2], 0),
				register-module.start-1,
			)
		}
	}

	for _, d := range devices {
		d.bind()
	}
	return devices, nil
}
