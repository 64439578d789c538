package sensor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"safety-monitoring/internal/pipeline"
	"safety-monitoring/pkg/logger"
)

// State is the worker lifecycle.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateError
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

var ErrAlreadyRunning = errors.New("worker already running")

type Config struct {
	// Name identifies the worker for control and status, e.g. "cam0".
	Name   string
	Source pipeline.Source
	Type   pipeline.Type

	// Interval is the target acquisition cadence.
	Interval time.Duration
	// AcquireTimeout bounds a single acquisition so shutdown stays
	// responsive even when the device call can block.
	AcquireTimeout time.Duration

	// OnError is invoked when the worker hits a fatal source failure
	// and transitions to the error state. Optional.
	OnError func(name string, err error)
}

// Worker owns one sensor source, acquires samples on a fixed cadence,
// runs the detector, and offers the resulting events to the queue
// without ever blocking on it.
type Worker struct {
	cfg   Config
	src   Source
	det   Detector
	queue *pipeline.Queue

	state int32

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWorker(cfg Config, src Source, det Detector, q *pipeline.Queue) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 2 * time.Second
	}
	return &Worker{cfg: cfg, src: src, det: det, queue: q}
}

func (w *Worker) Name() string {
	return w.cfg.Name
}

func (w *Worker) State() State {
	return State(atomic.LoadInt32(&w.state))
}

func (w *Worker) setState(s State) {
	atomic.StoreInt32(&w.state, int32(s))
}

// Start opens the source and launches the acquisition loop. Starting a
// worker that is already starting or running is an error; a stopped or
// errored worker may be started again.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.State() {
	case StateStarting, StateRunning:
		return ErrAlreadyRunning
	}
	w.setState(StateStarting)

	log := logger.Get().With("worker", w.cfg.Name)
	if err := w.src.Open(); err != nil {
		w.setState(StateError)
		err = fmt.Errorf("open source %s: %w", w.cfg.Name, err)
		log.Errorw("worker failed to open source", "error", err)
		w.reportError(err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	w.setState(StateRunning)

	go w.run(ctx, cancel)
	log.Infow("worker started", "interval_ms", w.cfg.Interval.Milliseconds())
	return nil
}

func (w *Worker) run(ctx context.Context, cancel context.CancelFunc) {
	defer close(w.done)
	// Released on every exit path, so an errored run does not leak its
	// context when the worker is started again.
	defer cancel()
	defer w.src.Close()
	log := logger.Get().With("worker", w.cfg.Name)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.setState(StateStopped)
			log.Infow("worker exiting", "reason", "stopped")
			return
		case <-ticker.C:
			if err := w.cycle(ctx); err != nil {
				if ctx.Err() != nil {
					w.setState(StateStopped)
					log.Infow("worker exiting", "reason", "stopped")
					return
				}
				// Source failures are fatal for this worker. Restart is
				// an explicit external decision, not a retry loop.
				w.setState(StateError)
				log.Errorw("worker source failed, entering error state", "error", err)
				w.reportError(err)
				return
			}
		}
	}
}

func (w *Worker) cycle(ctx context.Context) error {
	log := logger.Get().With("worker", w.cfg.Name)

	actx, cancel := context.WithTimeout(ctx, w.cfg.AcquireTimeout)
	sample, err := w.src.Acquire(actx)
	cancel()
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}

	payload, err := w.det.Detect(ctx, sample)
	if err != nil {
		// Transient: skip this sample, keep the cadence.
		log.Warnw("detection failed, sample skipped", "error", err)
		return nil
	}

	ts := sample.Captured
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	ev := pipeline.Event{
		Source:    w.cfg.Source,
		Type:      w.cfg.Type,
		Timestamp: ts,
		Payload:   payload,
	}
	if !w.queue.TryEnqueue(ev) {
		log.Debugw("queue full, event dropped")
	}
	return nil
}

// Stop signals the loop to exit and waits for the source to be
// released. Idempotent; the wait is bounded because a blocked acquire
// is cancelled and capped by AcquireTimeout.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel == nil {
		if w.State() == StateError {
			w.setState(StateStopped)
		}
		return
	}
	w.cancel()
	<-w.done
	w.cancel = nil

	if w.State() == StateError {
		w.setState(StateStopped)
	}
	logger.Get().Infow("worker stopped", "worker", w.cfg.Name)
}

func (w *Worker) reportError(err error) {
	if w.cfg.OnError != nil {
		w.cfg.OnError(w.cfg.Name, err)
	}
}
