package loopguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoopGuardTriggersOnFullIdenticalWindow(t *testing.T) {
	g := New(3)
	assert.False(t, g.Record(1))
	assert.False(t, g.Record(1))
	assert.True(t, g.Record(1))
}

func TestLoopGuardDifferentRecordResetsStreak(t *testing.T) {
	g := New(2)
	assert.False(t, g.Record(1))
	assert.True(t, g.Record(1))
	assert.False(t, g.Record(2))
	assert.False(t, g.Record(3))
	assert.True(t, g.Record(3))
}

func TestLoopGuardThresholdOneTriggersEveryRecord(t *testing.T) {
	g := New(1)
	assert.True(t, g.Record(42))
	assert.True(t, g.Record(7))
}

func TestLoopGuardReset(t *testing.T) {
	g := New(2)
	g.Record(1)
	g.Record(1)
	g.Reset()
	assert.False(t, g.Record(1))
}
