package sensor

import (
	"context"
	"encoding/binary"
	"errors"
	"math"

	"safety-monitoring/internal/pipeline"
)

// NoiseDetector converts a 16-bit little-endian PCM sample into a
// relative dB level and flags it against the configured threshold.
type NoiseDetector struct {
	// Threshold is the dB level above which the event carries an alert.
	Threshold float64
}

var ErrEmptySample = errors.New("empty audio sample")

func (d *NoiseDetector) Detect(_ context.Context, s Sample) (pipeline.Payload, error) {
	if len(s.Data) < 2 {
		return nil, ErrEmptySample
	}
	level := Decibels(s.Data)
	return &pipeline.NoisePayload{
		NoiseLevel: level,
		Threshold:  d.Threshold,
		Alert:      level > d.Threshold,
	}, nil
}

// Decibels computes the RMS of PCM16 data and maps it onto a 0-120
// relative dB scale, rounded to one decimal. The +100 shift and clamp
// match the uncalibrated-microphone scaling the dashboard expects.
func Decibels(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / math.MaxInt16
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(n))
	if rms < 1e-10 {
		return 0
	}
	db := 20*math.Log10(rms) + 100
	db = math.Max(0, math.Min(120, db))
	return math.Round(db*10) / 10
}
