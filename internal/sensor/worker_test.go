package sensor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safety-monitoring/internal/pipeline"
)

type fakeSource struct {
	mu        sync.Mutex
	openErr   error
	failAfter int // fail acquires after this many successes, 0 = never
	acquires  int
	opened    int
	closed    int
	blockOn   chan struct{} // when set, Acquire blocks until ctx expires
}

func (s *fakeSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return s.openErr
	}
	s.opened++
	return nil
}

func (s *fakeSource) Acquire(ctx context.Context) (Sample, error) {
	if s.blockOn != nil {
		select {
		case <-ctx.Done():
			return Sample{}, ctx.Err()
		case <-s.blockOn:
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquires++
	if s.failAfter > 0 && s.acquires > s.failAfter {
		return Sample{}, errors.New("device unplugged")
	}
	return Sample{Captured: time.Now().UTC()}, nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSource) closedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeDetector struct {
	mu       sync.Mutex
	errFirst int // fail this many detections, then succeed
	calls    int
}

func (d *fakeDetector) Detect(context.Context, Sample) (pipeline.Payload, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls <= d.errFirst {
		return nil, errors.New("model not warmed up")
	}
	return &pipeline.NoisePayload{NoiseLevel: 42, Threshold: 85}, nil
}

func testConfig(name string) Config {
	return Config{
		Name:           name,
		Source:         pipeline.SourceAudio,
		Type:           pipeline.TypeNoiseLevel,
		Interval:       2 * time.Millisecond,
		AcquireTimeout: 50 * time.Millisecond,
	}
}

func TestWorkerProducesEvents(t *testing.T) {
	q := pipeline.NewQueue(100)
	src := &fakeSource{}
	w := NewWorker(testConfig("audio"), src, &fakeDetector{}, q)

	require.NoError(t, w.Start())
	assert.Equal(t, StateRunning, w.State())

	require.Eventually(t, func() bool { return q.Len() >= 3 }, 2*time.Second, 5*time.Millisecond)

	ev, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, pipeline.SourceAudio, ev.Source)
	assert.False(t, ev.Timestamp.IsZero())

	w.Stop()
	assert.Equal(t, StateStopped, w.State())
	assert.Equal(t, 1, src.closedCount())
}

func TestWorkerStartTwice(t *testing.T) {
	q := pipeline.NewQueue(10)
	w := NewWorker(testConfig("audio"), &fakeSource{}, &fakeDetector{}, q)

	require.NoError(t, w.Start())
	defer w.Stop()
	assert.ErrorIs(t, w.Start(), ErrAlreadyRunning)
}

func TestWorkerOpenFailureIsFatal(t *testing.T) {
	q := pipeline.NewQueue(10)
	var reported error
	cfg := testConfig("cam0")
	cfg.OnError = func(_ string, err error) { reported = err }

	w := NewWorker(cfg, &fakeSource{openErr: errors.New("no such device")}, &fakeDetector{}, q)
	err := w.Start()
	require.Error(t, err)
	assert.Equal(t, StateError, w.State())
	assert.ErrorContains(t, reported, "no such device")
}

func TestWorkerDetectorErrorSkipsSample(t *testing.T) {
	q := pipeline.NewQueue(100)
	det := &fakeDetector{errFirst: 3}
	w := NewWorker(testConfig("audio"), &fakeSource{}, det, q)

	require.NoError(t, w.Start())
	defer w.Stop()

	// Early detections fail and are skipped; the loop keeps running
	// and later samples still flow.
	require.Eventually(t, func() bool { return q.Len() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateRunning, w.State())
}

func TestWorkerSourceFailureEntersErrorState(t *testing.T) {
	q := pipeline.NewQueue(100)
	var mu sync.Mutex
	var reportedName string
	cfg := testConfig("cam0")
	cfg.OnError = func(name string, _ error) {
		mu.Lock()
		reportedName = name
		mu.Unlock()
	}

	w := NewWorker(cfg, &fakeSource{failAfter: 2}, &fakeDetector{}, q)
	require.NoError(t, w.Start())

	require.Eventually(t, func() bool { return w.State() == StateError }, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, "cam0", reportedName)
	mu.Unlock()

	// Stop on an errored worker settles it back to stopped.
	w.Stop()
	assert.Equal(t, StateStopped, w.State())
}

func TestWorkerStopIdempotent(t *testing.T) {
	q := pipeline.NewQueue(10)
	w := NewWorker(testConfig("audio"), &fakeSource{}, &fakeDetector{}, q)

	w.Stop() // never started

	require.NoError(t, w.Start())
	w.Stop()
	w.Stop()
	assert.Equal(t, StateStopped, w.State())
}

func TestWorkerStopBoundedByAcquireTimeout(t *testing.T) {
	q := pipeline.NewQueue(10)
	cfg := testConfig("audio")
	cfg.AcquireTimeout = 30 * time.Millisecond
	src := &fakeSource{blockOn: make(chan struct{})}

	w := NewWorker(cfg, src, &fakeDetector{}, q)
	require.NoError(t, w.Start())
	time.Sleep(10 * time.Millisecond) // let the loop enter a blocked acquire

	start := time.Now()
	w.Stop()
	assert.Less(t, time.Since(start), time.Second, "stop must not hang on a blocked acquire")
	assert.Equal(t, StateStopped, w.State())
}

func TestWorkerRestartAfterError(t *testing.T) {
	q := pipeline.NewQueue(100)
	src := &fakeSource{failAfter: 2}
	w := NewWorker(testConfig("audio"), src, &fakeDetector{}, q)

	require.NoError(t, w.Start())
	require.Eventually(t, func() bool { return w.State() == StateError }, 2*time.Second, 5*time.Millisecond)

	// The device comes back; an errored worker starts again directly,
	// without an intervening Stop.
	src.mu.Lock()
	src.failAfter = 0
	src.acquires = 0
	src.mu.Unlock()

	require.NoError(t, w.Start())
	defer w.Stop()

	require.Eventually(t, func() bool { return q.Len() > 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateRunning, w.State())
}

func TestWorkerRestartAfterStop(t *testing.T) {
	q := pipeline.NewQueue(100)
	src := &fakeSource{}
	w := NewWorker(testConfig("audio"), src, &fakeDetector{}, q)

	require.NoError(t, w.Start())
	w.Stop()
	require.NoError(t, w.Start())
	defer w.Stop()

	assert.Equal(t, StateRunning, w.State())
	require.Eventually(t, func() bool { return q.Len() > 0 }, 2*time.Second, 5*time.Millisecond)
}
