package devices

import (
	"fmt"
	"testing"

	"github.com/ansel1/merry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/scada-tools/datadiode/internal/wire"
)

func TestNewRecorderUnknownModel(t *testing.T) {
	_, err := NewRecorder("BOGUS, x.txt, 10.0.0.9, 1, 1", 0, dialFake(&fakeLink{}))
	assert.True(t, merry.Is(err, ErrUnknownModel))

	_, err = NewRecorder("not a device line", 0, dialFake(&fakeLink{}))
	assert.True(t, merry.Is(err, ErrUnknownModel))
}

func TestNewRecorderModels(t *testing.T) {
	gx := writeConfig(t, "gx.txt", gxTestConfig)
	dx := writeConfig(t, "dx.txt", dxTestConfig)
	for _, c := range []struct {
		field string
		file  string
		model string
	}{
		{"GX20", gx, "YokogawaGX20"},
		{"YokogawaGX20", gx, "YokogawaGX20"},
		{"dx1000", dx, "YokogawaDX1000"},
		{"DX200", dx, "YokogawaDX200"},
	} {
		d, err := NewRecorder(fmt.Sprintf("%s, %s, 10.0.0.1, 1, 1", c.field, c.file), 0, dialFake(&fakeLink{}))
		require.NoError(t, err, c.field)
		assert.Equal(t, c.model, d.Model(), c.field)
	}
}

func TestLoadManifest(t *testing.T) {
	gx := writeConfig(t, "gx.txt", gxTestConfig)
	dx := writeConfig(t, "dx.txt", dxTestConfig)
	mb := writeConfig(t, "modbus.txt", modbusTestConfig)
	manifest := writeConfig(t, "config.txt", fmt.Sprintf(`** device manifest **
Function: Transmit
GX20, %s, 10.0.0.1, 1, 1
DX1000, %s, 10.0.0.2, 1, 5
BOGUS, nothing.txt, 10.0.0.3, 1, 1
Modbus, %s
`, gx, dx, mb))

	m, err := LoadManifest(manifest, dialFake(&fakeLink{}))
	require.NoError(t, err)
	assert.Equal(t, "Transmit", m.Function)
	require.Len(t, m.Recorders, 2, "a bad recorder line is dropped, startup continues")
	require.Len(t, m.Modbus, 1)

	assert.Equal(t, "YokogawaGX20", m.Recorders[0].Model())
	assert.Equal(t, 1, m.Recorders[0].Priority())
	assert.Equal(t, "YokogawaDX1000", m.Recorders[1].Model())
	assert.Equal(t, 3, m.Recorders[1].Priority(), "out of range priority falls to the lowest")

	devs := m.Devices()
	require.Len(t, devs, 3)
	assert.Equal(t, "PumpSkid", devs[2].Model())
}

func TestManifestLookup(t *testing.T) {
	gx := writeConfig(t, "gx.txt", gxTestConfig)
	mb := writeConfig(t, "modbus.txt", modbusTestConfig)
	manifest := writeConfig(t, "config.txt", fmt.Sprintf(`Function: Receive
GX20, %s, 10.0.0.1, 1, 1
Modbus, %s
`, gx, mb))

	m, err := LoadManifest(manifest, dialFake(&fakeLink{}))
	require.NoError(t, err)

	d, ok := m.Lookup(wire.Record{Device: wire.Recorder, DeviceID: 0})
	require.True(t, ok)
	assert.Equal(t, "YokogawaGX20", d.Model())

	d, ok = m.Lookup(wire.Record{Device: wire.ModbusDevice, DeviceID: 0})
	require.True(t, ok)
	assert.Equal(t, "PumpSkid", d.Model())

	_, ok = m.Lookup(wire.Record{Device: wire.Recorder, DeviceID: 5})
	assert.False(t, ok)
	_, ok = m.Lookup(wire.Record{Device: wire.ModbusDevice, DeviceID: -1})
	assert.False(t, ok)
}

func TestLoadManifestMissingFile(t *testing.T) {
	_, err := LoadManifest("no-such-file.txt", dialFake(&fakeLink{}))
	assert.Error(t, err)
}
