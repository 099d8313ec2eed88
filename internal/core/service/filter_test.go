package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollingMeanRejectsNonPositiveCapacity(t *testing.T) {
	_, err := NewRollingMean(0, PowerSentinel)
	require.ErrorIs(t, err, ErrInvalidSettings)

	_, err = NewRollingMean(-3, PowerSentinel)
	require.ErrorIs(t, err, ErrInvalidSettings)
}

func TestRollingMeanStartsAtSentinel(t *testing.T) {
	r, err := NewRollingMean(4, PowerSentinel)
	require.NoError(t, err)

	assert.Equal(t, 4, r.Capacity())
	assert.InDelta(t, PowerSentinel, r.Mean(), 0.0001)
}

func TestRollingMeanSaturation(t *testing.T) {
	// after capacity pushes the sentinels must be fully evicted and the mean
	// must equal the arithmetic mean of the real samples exactly
	r, err := NewRollingMean(3, PowerSentinel)
	require.NoError(t, err)

	r.Push(100)
	assert.Less(t, r.Mean(), -60000.0, "one real sample cannot clear the sentinels")
	r.Push(200)
	r.Push(300)

	assert.Equal(t, 200.0, r.Mean())
}

func TestRollingMeanEvictsOldest(t *testing.T) {
	r, err := NewRollingMean(2, PowerSentinel)
	require.NoError(t, err)

	r.Push(10)
	r.Push(20)
	r.Push(40)

	assert.Equal(t, 30.0, r.Mean(), "10 must have been evicted")
}

func TestRollingMeanSingleSlot(t *testing.T) {
	r, err := NewRollingMean(1, PowerSentinel)
	require.NoError(t, err)

	r.Push(-120)
	assert.Equal(t, -120.0, r.Mean())
	r.Push(80)
	assert.Equal(t, 80.0, r.Mean())
}
