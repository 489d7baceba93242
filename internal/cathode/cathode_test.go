package cathode

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/scada-tools/datadiode/internal/lane"
	"github.com/scada-tools/datadiode/internal/wire"
)

func TestReceiveLoop(t *testing.T) {
	r1 := wire.Record{Time: time.UnixMilli(1000), Device: wire.Recorder, DeviceID: 0, Points: []wire.Point{{Value: 1}}}
	r2 := wire.Record{Time: time.UnixMilli(2000), Device: wire.ModbusDevice, DeviceID: 1, Points: []wire.Point{{Value: 2}}}
	var buf bytes.Buffer
	buf.Write(wire.Marshal(r1))
	buf.Write(wire.Marshal(r2))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := &lane.Lane{}
	ReceiveLoop(ctx, l, &buf, "test")

	require.Equal(t, 2, l.Len())
	got, _ := l.TryPop()
	assert.Equal(t, int32(0), got.DeviceID)
	got, _ = l.TryPop()
	assert.Equal(t, wire.ModbusDevice, got.Device)
}

func TestReceiveLoopSkipsGarbage(t *testing.T) {
	rec := wire.Record{Time: time.UnixMilli(3000), Device: wire.Recorder, DeviceID: 2, Points: []wire.Point{{Value: 5}}}
	var buf bytes.Buffer
	buf.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00})
	buf.Write(wire.Marshal(rec))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := &lane.Lane{}
	ReceiveLoop(ctx, l, &buf, "test")

	require.Equal(t, 1, l.Len())
	got, _ := l.TryPop()
	assert.Equal(t, int32(2), got.DeviceID)
}
