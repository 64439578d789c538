package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"safety-monitoring/internal/pipeline"
	"safety-monitoring/pkg/logger"
)

// Summary aggregates the retained event history.
type Summary struct {
	TotalEvents     int64            `json:"total_events"`
	BySource        map[string]int64 `json:"by_source"`
	ByType          map[string]int64 `json:"by_type"`
	RecentAccidents int64            `json:"recent_accidents"`
	Timestamp       string           `json:"timestamp"`
}

// Backend is the primary durable log.
type Backend interface {
	InsertBatch(ctx context.Context, events []pipeline.Event) error
	Recent(ctx context.Context, limit int) ([]pipeline.Event, error)
	Summary(ctx context.Context) (Summary, error)
	MaxID(ctx context.Context) (int64, error)
	Close() error
}

// FlushMetrics receives persistence accounting. Counts advance per
// flushed batch, not per Append, since a buffered event's fate is
// unknown until its batch lands in the primary or the fallback log.
type FlushMetrics interface {
	AddPersisted(n int)
	AddDegraded(n int)
}

type Config struct {
	FlushInterval time.Duration
	FlushSize     int
	// Metrics, when set, is charged with each flushed batch.
	Metrics FlushMetrics
}

// Store buffers appends and flushes them to the primary backend on a
// size threshold or interval, retrying a failed flush against the
// fallback log. IDs and created_at are assigned at Append, so an event
// keeps the same identity whichever log it ends up in.
type Store struct {
	backend  Backend
	fallback *FallbackLog
	cfg      Config
	metrics  FlushMetrics

	seq      int64
	degraded int32

	mu        sync.Mutex
	buf       []pipeline.Event
	lastFlush time.Time
}

func New(ctx context.Context, backend Backend, fallback *FallbackLog, cfg Config) *Store {
	log := logger.Get()
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 60 * time.Second
	}
	if cfg.FlushSize <= 0 {
		cfg.FlushSize = 100
	}

	s := &Store{
		backend:   backend,
		fallback:  fallback,
		cfg:       cfg,
		metrics:   cfg.Metrics,
		lastFlush: time.Now(),
	}

	maxID, err := backend.MaxID(ctx)
	if err != nil {
		// The primary is unreachable at startup. Seed the sequence from
		// the clock so ids stay unique across restarts without it.
		s.seq = time.Now().UnixMilli()
		s.setDegraded(true)
		log.Warnw("primary store unavailable at startup, seeding ids from clock",
			"seed", s.seq, "error", err)
	} else {
		s.seq = maxID
	}

	log.Infow("event store initialized",
		"flush_interval_ms", cfg.FlushInterval.Milliseconds(),
		"flush_size", cfg.FlushSize,
		"next_id", s.seq+1,
	)
	return s
}

// Append records the event, assigning its id and created_at. The
// returned event carries both. A pipeline.ErrDegraded-wrapped error
// means the event is safe in the fallback log; any other error means
// both logs rejected the triggered flush.
func (s *Store) Append(ctx context.Context, ev pipeline.Event) (pipeline.Event, error) {
	ev.ID = atomic.AddInt64(&s.seq, 1)
	ev.CreatedAt = time.Now().UTC()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = ev.CreatedAt
	}

	s.mu.Lock()
	s.buf = append(s.buf, ev)
	full := len(s.buf) >= s.cfg.FlushSize
	s.mu.Unlock()

	if full {
		return ev, s.Flush(ctx)
	}
	return ev, nil
}

// Flush writes the buffered batch to the primary backend, falling back
// to the degraded log when the primary rejects it. Buffered events are
// never dropped on failure.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.buf
	s.buf = nil
	s.lastFlush = time.Now()
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	log := logger.Get().With("component", "event_store")

	if err := s.backend.InsertBatch(ctx, batch); err != nil {
		log.Warnw("primary flush failed, writing batch to fallback log",
			"count", len(batch), "error", err)
		s.setDegraded(true)
		if ferr := s.fallback.Append(batch); ferr != nil {
			log.Errorw("fallback flush failed, batch lost",
				"count", len(batch), "error", ferr)
			return fmt.Errorf("flush: primary: %v, fallback: %w", err, ferr)
		}
		if s.metrics != nil {
			s.metrics.AddDegraded(len(batch))
		}
		return fmt.Errorf("%w: %v", pipeline.ErrDegraded, err)
	}

	s.setDegraded(false)
	if s.metrics != nil {
		s.metrics.AddPersisted(len(batch))
	}
	log.Debugw("batch flushed", "count", len(batch))
	return nil
}

// FlushIfDue flushes when the interval elapsed since the last flush.
// Driven by the consumer loop's idle ticks.
func (s *Store) FlushIfDue(ctx context.Context) error {
	s.mu.Lock()
	due := len(s.buf) > 0 && time.Since(s.lastFlush) >= s.cfg.FlushInterval
	s.mu.Unlock()
	if !due {
		return nil
	}
	return s.Flush(ctx)
}

// Recent returns up to limit events, most recent first. Buffered events
// not yet flushed are included ahead of persisted ones.
func (s *Store) Recent(ctx context.Context, limit int) ([]pipeline.Event, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	pending := make([]pipeline.Event, len(s.buf))
	copy(pending, s.buf)
	s.mu.Unlock()

	out := make([]pipeline.Event, 0, limit)
	for i := len(pending) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, pending[i])
	}
	if len(out) == limit {
		return out, nil
	}

	persisted, err := s.backend.Recent(ctx, limit-len(out))
	if err != nil {
		logger.Get().Warnw("recent query hit degraded primary", "error", err)
		return out, nil
	}
	return append(out, persisted...), nil
}

// GetSummary aggregates counts by source and type over the retained
// history, buffered events included.
func (s *Store) GetSummary(ctx context.Context) (Summary, error) {
	sum, err := s.backend.Summary(ctx)
	if err != nil {
		logger.Get().Warnw("summary query hit degraded primary", "error", err)
		sum = Summary{}
	}
	if sum.BySource == nil {
		sum.BySource = map[string]int64{}
	}
	if sum.ByType == nil {
		sum.ByType = map[string]int64{}
	}

	s.mu.Lock()
	for _, ev := range s.buf {
		sum.TotalEvents++
		sum.BySource[string(ev.Source)]++
		sum.ByType[string(ev.Type)]++
		if dp, ok := ev.Payload.(*pipeline.DetectionPayload); ok && dp.AccidentDetected {
			sum.RecentAccidents++
		}
	}
	s.mu.Unlock()

	sum.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return sum, nil
}

// Degraded reports whether the last primary write failed.
func (s *Store) Degraded() bool {
	return atomic.LoadInt32(&s.degraded) == 1
}

func (s *Store) setDegraded(v bool) {
	if v {
		atomic.StoreInt32(&s.degraded, 1)
	} else {
		atomic.StoreInt32(&s.degraded, 0)
	}
}

// Close flushes the remaining buffer and releases both logs.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.Flush(ctx)
	if cerr := s.fallback.Close(); err == nil {
		err = cerr
	}
	if cerr := s.backend.Close(); err == nil {
		err = cerr
	}
	return err
}
