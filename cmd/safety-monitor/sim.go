package main

import (
	"context"
	"encoding/binary"
	"math"
	"math/rand"
	"time"

	"safety-monitoring/internal/pipeline"
	"safety-monitoring/internal/sensor"
)

// Simulated devices and detectors stand in for the camera/audio drivers
// and inference models, which live outside this service. They produce
// realistic payload shapes at the configured cadence so the pipeline,
// store, and dashboard can run end to end.

type simCamera struct{}

func (s *simCamera) Open() error  { return nil }
func (s *simCamera) Close() error { return nil }

func (s *simCamera) Acquire(ctx context.Context) (sensor.Sample, error) {
	if err := ctx.Err(); err != nil {
		return sensor.Sample{}, err
	}
	return sensor.Sample{Captured: time.Now().UTC()}, nil
}

type simMicrophone struct {
	phase float64
}

func (s *simMicrophone) Open() error  { return nil }
func (s *simMicrophone) Close() error { return nil }

// Acquire emits a 2048-sample PCM16 sine chunk whose amplitude drifts,
// occasionally spiking past the alert threshold.
func (s *simMicrophone) Acquire(ctx context.Context) (sensor.Sample, error) {
	if err := ctx.Err(); err != nil {
		return sensor.Sample{}, err
	}
	amp := 0.05 + 0.1*rand.Float64()
	if rand.Float64() < 0.05 {
		amp = 0.6 + 0.4*rand.Float64() // loud burst
	}
	data := make([]byte, 2048*2)
	for i := 0; i < 2048; i++ {
		s.phase += 2 * math.Pi * 440 / 44100
		v := int16(amp * math.Sin(s.phase) * math.MaxInt16)
		binary.LittleEndian.PutUint16(data[2*i:], uint16(v))
	}
	return sensor.Sample{Data: data, Captured: time.Now().UTC()}, nil
}

type simPeopleDetector struct {
	fps *sensor.FPSCounter
}

func (d *simPeopleDetector) Detect(_ context.Context, _ sensor.Sample) (pipeline.Payload, error) {
	d.fps.Update()
	p := &pipeline.DetectionPayload{
		Camera:      "cam0",
		PeopleCount: rand.Intn(9),
		FPS:         d.fps.Value(),
	}
	if rand.Float64() < 0.02 {
		p.AccidentDetected = true
		p.AccidentType = "fall"
	}
	return p, nil
}

type simPPEDetector struct {
	fps *sensor.FPSCounter
}

var ppeItems = []string{"helmet", "vest", "gloves", "goggles"}

func (d *simPPEDetector) Detect(_ context.Context, _ sensor.Sample) (pipeline.Payload, error) {
	d.fps.Update()
	total := rand.Intn(7)
	fail := 0
	if total > 0 {
		fail = rand.Intn(total + 1)
	}
	missing := []string{}
	if fail > 0 {
		missing = append(missing, ppeItems[rand.Intn(len(ppeItems))])
	}
	return &pipeline.PPEPayload{
		Camera:          "cam10",
		PPECompliant:    total - fail,
		PPENonCompliant: fail,
		TotalDetected:   total,
		MissingItems:    missing,
		FPS:             d.fps.Value(),
	}, nil
}
