package timegetter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Times should be current and have millisecond precision.
func TestGetTime(t *testing.T) {
	before := time.Now().Add(-time.Millisecond)
	got := NewTimeGetter().GetTime()
	assert.WithinDuration(t, before, got, time.Second)
	assert.Zero(t, got.Nanosecond()%int(time.Millisecond))
}
