package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSleepFiresAfterTimeout(t *testing.T) {
	s := NewSleep(1.0)

	assert.Equal(t, SleepNone, s.Update(0.5))
	assert.Equal(t, SleepFellAsleep, s.Update(0.5))
	assert.True(t, s.Sleeping())
	// No repeat while still asleep.
	assert.Equal(t, SleepNone, s.Update(1.0))
}

func TestActivityResetsTimer(t *testing.T) {
	s := NewSleep(1.0)
	s.Update(0.9)
	s.Activity()
	assert.Equal(t, SleepNone, s.Update(0.9))
	assert.Equal(t, SleepFellAsleep, s.Update(0.2))
}

func TestActivityWakesUp(t *testing.T) {
	s := NewSleep(1.0)
	s.Update(1.0)
	assert.True(t, s.Sleeping())

	s.Activity()
	assert.Equal(t, SleepWokeUp, s.Update(0.016))
	assert.False(t, s.Sleeping())
}

func TestDisablingWakesSilently(t *testing.T) {
	s := NewSleep(1.0)
	s.Update(1.0)
	assert.True(t, s.Sleeping())

	s.SetTimeout(0)
	assert.False(t, s.Sleeping())
	assert.Equal(t, SleepNone, s.Update(10))
}

func TestZeroTimeoutNeverSleeps(t *testing.T) {
	s := NewSleep(0)
	assert.Equal(t, SleepNone, s.Update(1000))
	assert.False(t, s.Sleeping())
}
