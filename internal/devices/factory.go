package devices

import (
	"strings"

	"github.com/ansel1/merry"
)

var ErrUnknownModel = merry.New("unknown recorder model")

// NewRecorder builds the adapter a manifest line names. The line is
// `Model,configFile,ip,unitId,priority`, model matching is case
// insensitive and the Yokogawa prefix is optional.
func NewRecorder(line string, deviceID int32, dial Dialer) (Device, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 5 {
		return nil, ErrUnknownModel.Here().Append(line)
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	configFile, addr := fields[1], fields[2]
	unitID := atoiOr(fields[3], 1)
	priority := atoiOr(fields[4], 3)

	switch strings.ToUpper(fields[0]) {
	case "YOKOGAWAGX20", "GX20":
		return NewGX20("YokogawaGX20", configFile, addr, unitID, priority, deviceID, dial)
	case "YOKOGAWADX200", "DX200":
		return NewDX("YokogawaDX200", configFile, addr, unitID, priority, deviceID, dial)
	case "YOKOGAWADX1000", "DX1000":
		return NewDX("YokogawaDX1000", configFile, addr, unitID, priority, deviceID, dial)
	}
	return nil, ErrUnknownModel.Here().Append(fields[0])
}
