package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"safety-monitoring/pkg/logger"
)

// ErrDegraded is wrapped by EventStore.Append when the event was
// persisted to the fallback log instead of the primary one. The event
// is safe; the consumer only records the degraded condition.
var ErrDegraded = errors.New("event persisted to fallback log")

// Processor is the single consumer loop draining the queue. It is the
// sole writer to the store's append path, so no write lock is needed
// there. Persistence and broadcast are independent deliveries: one may
// degrade while the other succeeds.
type Processor struct {
	queue   *Queue
	store   EventStore
	hub     Broadcaster
	metrics *Metrics

	pollTimeout time.Duration
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

func NewProcessor(q *Queue, store EventStore, hub Broadcaster, metrics *Metrics, pollTimeout time.Duration) *Processor {
	if pollTimeout <= 0 {
		pollTimeout = 500 * time.Millisecond
	}
	return &Processor{
		queue:       q,
		store:       store,
		hub:         hub,
		metrics:     metrics,
		pollTimeout: pollTimeout,
	}
}

// Start launches the consumer loop. It runs until Stop is called.
func (p *Processor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(1)
	go p.run(ctx)
	logger.Get().Infow("event processor started", "poll_timeout_ms", p.pollTimeout.Milliseconds())
}

func (p *Processor) run(ctx context.Context) {
	defer p.wg.Done()
	log := logger.Get().With("component", "processor")

	// ctx only stops the loop; persistence of an event already taken
	// from the queue always runs to completion.
	opCtx := context.Background()

	for {
		select {
		case <-ctx.Done():
			// Drain what the producers already enqueued, then exit.
			for {
				ev, ok := p.queue.TryDequeue()
				if !ok {
					log.Infow("processor exiting", "reason", "stopped")
					return
				}
				p.handle(opCtx, ev)
			}
		default:
		}

		ev, ok := p.queue.Dequeue(p.pollTimeout)
		if !ok {
			// Idle tick: housekeeping.
			if err := p.store.FlushIfDue(opCtx); err != nil {
				log.Warnw("periodic flush failed", "error", err)
			}
			continue
		}
		p.handle(opCtx, ev)
	}
}

func (p *Processor) handle(ctx context.Context, ev Event) {
	log := logger.Get().With("component", "processor", "source", ev.Source, "type", ev.Type)
	p.metrics.IncReceived()

	// The store charges persisted/degraded counts per flushed batch;
	// the error here only classifies the outcome for logging.
	stored, err := p.store.Append(ctx, ev)
	switch {
	case err == nil:
	case errors.Is(err, ErrDegraded):
		log.Warnw("primary store degraded, event in fallback log", "event_id", stored.ID)
	default:
		log.Errorw("persistence failed", "error", err)
	}

	// Broadcast regardless of persistence outcome.
	p.hub.Broadcast(stored)
	p.metrics.IncBroadcast()
}

// Stop terminates the loop after draining the queue. Idempotent.
func (p *Processor) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
}
