package devices

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/scada-tools/datadiode/internal/wire"
)

// Two expansion modules: channels 1..2 and 11..12.
const gxTestConfig = `SRANGEAI,0001,TC,K,OFF,0.0,200.0,0
SRANGEAI,0002,TC,K,OFF,0.0,200.0,0
SRANGEAI,0011,VOLT,20MV,OFF,0,200,0
SRANGEAI,0012,SKIP
SALARMIO,0001,1,ON,H
SALARMIO,0001,2,OFF,H
SALARMIO,0001,3,OFF,L
SALARMIO,0001,4,OFF,L
SALARMIO,0002,1,OFF,H
SALARMIO,0002,2,OFF,H
SALARMIO,0002,3,OFF,L
SALARMIO,0002,4,ON,L
STAGIO,0001,'T1'
STAGIO,0002,'T2'
STAGIO,0011,'MV1'
STAGIO,0012,''
SRANGEMATH,001,ON,LOG,0,1,'M3/H'
SRANGEMATH,002,OFF
SALARMMATH,001,1,ON,H
SALARMMATH,001,2,OFF,H
SALARMMATH,001,3,OFF,L
SALARMMATH,001,4,OFF,L
STAGMATH,001,'FLOW'
`

func newTestGX20(t *testing.T, link *fakeLink) *GX20 {
	t.Helper()
	path := writeConfig(t, "gx.txt", gxTestConfig)
	g, err := NewGX20("YokogawaGX20", path, "10.0.0.1", 1, 1, 0, dialFake(link))
	require.NoError(t, err)
	return g
}

func TestGX20ParseModules(t *testing.T) {
	g := newTestGX20(t, &fakeLink{})
	require.Len(t, g.modules, 2, "a gap in the channel numbering starts a new module")

	m1, m2 := g.modules[0], g.modules[1]
	assert.Equal(t, 1, m1.start)
	assert.Equal(t, 2, m1.n)
	assert.Equal(t, []string{"F", "F"}, m1.units)
	assert.Equal(t, []int{1, 1}, m1.decimals)
	assert.Equal(t, []string{"T1", "T2"}, m1.tags)
	require.Len(t, m1.alarmTypes, 2)
	assert.Equal(t, []string{"H", "UNUSED", "UNUSED", "UNUSED"}, m1.alarmTypes[0])
	assert.Equal(t, []string{"UNUSED", "UNUSED", "UNUSED", "L"}, m1.alarmTypes[1])

	assert.Equal(t, 11, m2.start)
	assert.Equal(t, 2, m2.n)
	assert.Equal(t, []string{"V", "UNUSED"}, m2.units)
	assert.Equal(t, []string{"MV1", "NO TAG/UNUSED"}, m2.tags)
}

func TestGX20ParseMath(t *testing.T) {
	g := newTestGX20(t, &fakeLink{})
	assert.Zero(t, g.nData)
	assert.Equal(t, 1, g.nMath, "an OFF math channel does not count")
	assert.Equal(t, []string{"M3/H"}, g.units)
	assert.Equal(t, []int{1}, g.decimals)
	assert.Equal(t, []string{"FLOW"}, g.tags)
	require.Len(t, g.alarmTypes, 1)
	assert.Equal(t, []string{"H", "UNUSED", "UNUSED", "UNUSED"}, g.alarmTypes[0])
}

func gxModuleImage(link *fakeLink, start int, data []int32, alarms []uint16) {
	var dataRegs []uint16
	for _, v := range data {
		dataRegs = append(dataRegs, le32(v)...)
	}
	link.input[uint16(start+gxRegisterOrigin)] = regs(dataRegs...)
	link.input[uint16(start+gxModuleAlarmOff+gxRegisterOrigin)] = regs(alarms...)
}

func TestGX20Poll(t *testing.T) {
	link := &fakeLink{input: map[uint16][]byte{}}
	gxModuleImage(link, 1, []int32{250, 300}, []uint16{0x0005, 0})
	gxModuleImage(link, 11, []int32{1500, 0}, []uint16{0, 0})

	var mathRegs []uint16
	for _, v := range []int32{420, 0} {
		mathRegs = append(mathRegs, le32(v)...)
	}
	link.input[gxStartMath] = regs(mathRegs...)
	link.input[gxStartMathAlarms] = regs(0x0001, 0)

	g := newTestGX20(t, link)
	rec, ok := g.Poll(context.Background())
	require.True(t, ok)
	assert.Equal(t, wire.Recorder, rec.Device)

	// 2 points from module one, 1 from module two, 1 math channel
	require.Len(t, rec.Points, 4)
	assert.InDelta(t, 25.0, rec.Points[0].Value, 1e-9)
	assert.InDelta(t, 30.0, rec.Points[1].Value, 1e-9)
	assert.InDelta(t, 1.5, rec.Points[2].Value, 1e-9)
	assert.InDelta(t, 42.0, rec.Points[3].Value, 1e-9)
	assert.Equal(t, []int32{1, 0, 1, 0}, rec.Points[0].Alarms)
	assert.Equal(t, []int32{1, 0, 0, 0}, rec.Points[3].Alarms)
}

func TestGX20PollModuleFailureFailsCycle(t *testing.T) {
	link := &fakeLink{input: map[uint16][]byte{}}
	gxModuleImage(link, 1, []int32{250, 300}, []uint16{0, 0})
	// module two's image is missing entirely

	var mathRegs []uint16
	for _, v := range []int32{420, 0} {
		mathRegs = append(mathRegs, le32(v)...)
	}
	link.input[gxStartMath] = regs(mathRegs...)
	link.input[gxStartMathAlarms] = regs(0, 0)

	g := newTestGX20(t, link)
	_, ok := g.Poll(context.Background())
	assert.False(t, ok)
}

func TestGXRange(t *testing.T) {
	for _, c := range []struct {
		line  string
		units string
		dec   int
	}{
		{"SRANGEAI,0001,SKIP", "UNUSED", 0},
		{"SRANGEAI,0001,VOLT,2V,OFF,-20000,20000,0", "UNUSED", 0},
		{"SRANGEAI,0001,VOLT,200MV,SCALE,4000,20000,0,1,0,10000,", "UNUSED", 0},
		{"SRANGEAI,0001,TC,K,OFF,0.0,200.0,0", "F", 1},
		{"SRANGEAI,0001,RTD,PT100-H,OFF,0.0,200.0,0", "F", 2},
		{"SRANGEAI,0001,RTD,PT100,OFF,0.0,200.0,0", "F", 1},
		{"SRANGEAI,0001,VOLT,20MV,OFF,0,200,0", "V", 3},
		{"SRANGEAI,0001,DI,LEVEL,OFF,0,1,0", "NO UNITS", 0},
		{"SRANGEAI,0001,TC,K,DELTA,0,100,0", "F", 1},
		{"SRANGEAI,0001,LOG,INPUT,1,0,2,'PH'", "PH", 1},
	} {
		_, rest, ok := strings.Cut(c.line, ",")
		require.True(t, ok, c.line)
		units, dec := gxRange(rest, strings.Split(rest, ","))
		assert.Equal(t, c.units, units, c.line)
		assert.Equal(t, c.dec, dec, c.line)
	}
}

func TestDecodeAlarmsGX(t *testing.T) {
	assert.Equal(t, []int32{1, 0, 1, 0}, decodeAlarms(0x0005, gxAlarmMasks))
	assert.Equal(t, []int32{0, 1, 0, 1}, decodeAlarms(0x000A, gxAlarmMasks))
	assert.Equal(t, []int32{0, 0, 0, 0}, decodeAlarms(0, gxAlarmMasks))
	assert.Equal(t, []int32{1, 1, 1, 1}, decodeAlarms(0x000F, gxAlarmMasks))
}
