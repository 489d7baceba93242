package wire

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshal(t *testing.T) {
	rec := Record{
		Time:     time.UnixMilli(1700000000123),
		Device:   Recorder,
		DeviceID: 7,
		Points: []Point{
			{Value: 123.45, Alarms: []int32{1, 0, 0, 0}},
			{Value: -0.5},
			{Value: 0, Alarms: []int32{0, 0, 1, 1}},
		},
	}
	frame := Marshal(rec)
	got, err := Unmarshal(frame[4:])
	require.NoError(t, err)
	assert.Equal(t, rec.Time.UnixMilli(), got.Time.UnixMilli())
	assert.Equal(t, Recorder, got.Device)
	assert.Equal(t, int32(7), got.DeviceID)
	require.Len(t, got.Points, 3)
	assert.Equal(t, 123.45, got.Points[0].Value)
	assert.Equal(t, []int32{1, 0, 0, 0}, got.Points[0].Alarms)
	assert.Nil(t, got.Points[1].Alarms, "missing alarm statuses should stay nil through the codec")
	assert.Equal(t, []int32{0, 0, 1, 1}, got.Points[2].Alarms)
}

func TestMarshalNilAlarmsEncodedAsMinusOne(t *testing.T) {
	frame := Marshal(Record{Time: time.Now(), Points: []Point{{Value: 1}}})
	p := frame[4:]
	for i := 0; i < 4; i++ {
		off := headerSize + 8 + 4*i
		assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, p[off:off+4])
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := Unmarshal(nil)
	assert.Error(t, err)
	_, err = Unmarshal(make([]byte, headerSize-1))
	assert.Error(t, err)

	frame := Marshal(Record{Time: time.Now(), Points: []Point{{Value: 1}}})
	p := frame[4:]
	p[8] = 0xEE
	_, err = Unmarshal(p)
	assert.Error(t, err, "unknown device type")
}

func TestDecoderStream(t *testing.T) {
	r1 := Record{Time: time.UnixMilli(1000), Device: Recorder, DeviceID: 0, Points: []Point{{Value: 1}}}
	r2 := Record{Time: time.UnixMilli(2000), Device: ModbusDevice, DeviceID: 1, Points: []Point{{Value: 2}, {Value: 3}}}
	var buf bytes.Buffer
	buf.Write(Marshal(r1))
	buf.Write(Marshal(r2))

	dec := NewDecoder(&buf)

	got, skipped, err := dec.Next()
	require.NoError(t, err)
	assert.Zero(t, skipped)
	assert.Equal(t, int64(1000), got.Time.UnixMilli())

	got, skipped, err = dec.Next()
	require.NoError(t, err)
	assert.Zero(t, skipped)
	assert.Equal(t, ModbusDevice, got.Device)
	assert.Len(t, got.Points, 2)

	_, _, err = dec.Next()
	assert.Equal(t, io.EOF, err)
}

func TestDecoderResync(t *testing.T) {
	rec := Record{Time: time.UnixMilli(3000), Device: Recorder, DeviceID: 2, Points: []Point{{Value: 42}}}
	garbage := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	var buf bytes.Buffer
	buf.Write(garbage)
	buf.Write(Marshal(rec))

	dec := NewDecoder(&buf)
	got, skipped, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, len(garbage), skipped)
	assert.Equal(t, int32(2), got.DeviceID)
	assert.Equal(t, 42.0, got.Points[0].Value)
}

func TestPlausibleLength(t *testing.T) {
	assert.True(t, plausibleLength(headerSize))
	assert.True(t, plausibleLength(headerSize+pointSize))
	assert.False(t, plausibleLength(headerSize-1))
	assert.False(t, plausibleLength(headerSize+1))
	assert.False(t, plausibleLength(headerSize+(MaxPoints+1)*pointSize))
}
