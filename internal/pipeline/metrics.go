package pipeline

import (
	"sync/atomic"
	"time"
)

type Metrics struct {
	received  uint64
	persisted uint64
	degraded  uint64
	broadcast uint64

	startTime time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) IncReceived() {
	atomic.AddUint64(&m.received, 1)
}

// AddPersisted and AddDegraded advance per flushed batch: a buffered
// event's fate is unknown until its batch lands in one of the logs.
func (m *Metrics) AddPersisted(n int) {
	atomic.AddUint64(&m.persisted, uint64(n))
}

func (m *Metrics) AddDegraded(n int) {
	atomic.AddUint64(&m.degraded, uint64(n))
}

func (m *Metrics) IncBroadcast() {
	atomic.AddUint64(&m.broadcast, 1)
}

func (m *Metrics) GetReceived() uint64 {
	return atomic.LoadUint64(&m.received)
}

func (m *Metrics) GetPersisted() uint64 {
	return atomic.LoadUint64(&m.persisted)
}

func (m *Metrics) GetDegraded() uint64 {
	return atomic.LoadUint64(&m.degraded)
}

func (m *Metrics) GetBroadcast() uint64 {
	return atomic.LoadUint64(&m.broadcast)
}

// EPS is the average processed events per second since start.
func (m *Metrics) EPS() float64 {
	secs := time.Since(m.startTime).Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(m.GetReceived()) / secs
}

func (m *Metrics) StartTime() time.Time {
	return m.startTime
}
