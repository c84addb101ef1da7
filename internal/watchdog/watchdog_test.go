package watchdog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHeartbeatKeepsComponentAlive(t *testing.T) {
	w := New()
	w.Register("drive_base", 50*time.Millisecond)
	assert.True(t, w.Health("drive_base").Alive)

	time.Sleep(20 * time.Millisecond)
	w.Heartbeat("drive_base")
	assert.True(t, w.Health("drive_base").Alive)
}

func TestMissedDeadlineMarksDead(t *testing.T) {
	w := New()
	w.Register("camera", 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	assert.False(t, w.Health("camera").Alive)
	assert.Contains(t, w.CheckAll(), "camera")
}

func TestUnregisteredComponentReportsNotAlive(t *testing.T) {
	w := New()
	assert.False(t, w.Health("ghost").Alive)
}
