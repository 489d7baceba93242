package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/scada-tools/datadiode/internal/wire"
)

func TestBracket(t *testing.T) {
	assert.Equal(t, "[Tank Level 1]", bracket("Tank Level 1"))
}

func TestAlarmArgs(t *testing.T) {
	args := alarmArgs(wire.Point{Value: 1, Alarms: []int32{1, 0, 0, 1}})
	assert.Equal(t, [4]interface{}{int32(1), int32(0), int32(0), int32(1)}, args)

	args = alarmArgs(wire.Point{Value: 1})
	for _, a := range args {
		assert.Nil(t, a, "missing alarm statuses must reach the database as NULL")
	}
}
