package sensor

import (
	"math"
	"time"
)

// FPSCounter measures the achieved sampling rate of a camera loop.
// Not safe for concurrent use; each acquisition loop owns its own.
type FPSCounter struct {
	start  time.Time
	frames int
	fps    float64
}

func NewFPSCounter() *FPSCounter {
	return &FPSCounter{start: time.Now()}
}

// Update records one frame and refreshes the rate once per second.
func (c *FPSCounter) Update() {
	c.frames++
	elapsed := time.Since(c.start).Seconds()
	if elapsed > 1.0 {
		c.fps = float64(c.frames) / elapsed
		c.frames = 0
		c.start = time.Now()
	}
}

// Value returns the last measured rate, rounded to two decimals.
func (c *FPSCounter) Value() float64 {
	return math.Round(c.fps*100) / 100
}
