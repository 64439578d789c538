package sensor

import (
	"context"
	"time"

	"safety-monitoring/internal/pipeline"
)

// Sample is one raw acquisition from a sensor device: a frame from a
// camera or a PCM chunk from a microphone.
type Sample struct {
	Data     []byte
	Captured time.Time
}

// Source owns one acquisition resource exclusively. Driver integration
// is external; implementations wrap a camera capture, an audio input
// stream, or a simulation.
type Source interface {
	Open() error
	// Acquire blocks until one sample is available or ctx expires.
	Acquire(ctx context.Context) (Sample, error)
	Close() error
}

// Detector turns one raw sample into a typed event payload. It is a
// black box to the worker; a failed detection skips the sample only.
type Detector interface {
	Detect(ctx context.Context, s Sample) (pipeline.Payload, error)
}
