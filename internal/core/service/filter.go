package service

import "fmt"

// PowerSentinel is the value the DC power window is primed with. It sits far
// below any realistic power reading so the smoothed mean cannot clear a "high
// power" threshold until the window has been filled with real samples.
const PowerSentinel = -99999.9

// RollingMean is a fixed-capacity window over the most recent DC power
// samples. The window is always full: construction fills every slot with the
// sentinel and Push overwrites the oldest entry in place.
type RollingMean struct {
	buf  []float64
	next int
}

func NewRollingMean(capacity int, sentinel float64) (*RollingMean, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: rolling mean capacity must be >= 1, got %d", ErrInvalidSettings, capacity)
	}
	buf := make([]float64, capacity)
	for i := range buf {
		buf[i] = sentinel
	}
	return &RollingMean{buf: buf}, nil
}

func (r *RollingMean) Push(value float64) {
	r.buf[r.next] = value
	r.next = (r.next + 1) % len(r.buf)
}

func (r *RollingMean) Mean() float64 {
	if len(r.buf) == 0 {
		return 0.0
	}
	var sum float64
	for _, v := range r.buf {
		sum += v
	}
	return sum / float64(len(r.buf))
}

func (r *RollingMean) Capacity() int {
	return len(r.buf)
}
