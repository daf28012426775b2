package profiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTick_ReturnsFalseBeforeUpdateIntervalElapses(t *testing.T) {
	p := NewProfiler()
	assert.False(t, p.Tick())
	assert.Equal(t, 1, p.forwardCount)
}

func TestTick_AccumulatesForwardCountAcrossCalls(t *testing.T) {
	p := NewProfiler()
	p.Tick()
	p.Tick()
	p.Tick()
	assert.Equal(t, 3, p.forwardCount)
}

func TestTick_LoggingResetsForwardCount(t *testing.T) {
	p := NewProfiler()
	p.updateInterval = 0
	p.forwardCount = 5

	logged := p.Tick()

	assert.True(t, logged)
	assert.Equal(t, 0, p.forwardCount)
}
