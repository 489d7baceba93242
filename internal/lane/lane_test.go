package lane

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/scada-tools/datadiode/internal/wire"
)

func TestLaneFIFO(t *testing.T) {
	var l Lane
	for i := int32(0); i < 5; i++ {
		l.Push(wire.Record{DeviceID: i})
	}
	assert.Equal(t, 5, l.Len())
	for i := int32(0); i < 5; i++ {
		r, ok := l.TryPop()
		assert.True(t, ok)
		assert.Equal(t, i, r.DeviceID)
	}
	_, ok := l.TryPop()
	assert.False(t, ok)
	assert.Zero(t, l.Len())
}

func TestSetPriorityMapping(t *testing.T) {
	var s Set
	assert.Same(t, &s[0], s.Lane(1))
	assert.Same(t, &s[1], s.Lane(2))
	assert.Same(t, &s[2], s.Lane(3))
}

func TestSetOutOfRangeFallsToLowest(t *testing.T) {
	var s Set
	assert.Same(t, &s[2], s.Lane(0))
	assert.Same(t, &s[2], s.Lane(4))
	assert.Same(t, &s[2], s.Lane(-1))
}
