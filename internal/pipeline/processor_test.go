package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mu         sync.Mutex
	events     []Event
	nextID     int64
	flushCalls int
	appendErr  error
}

func (s *mockStore) Append(_ context.Context, ev Event) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	ev.ID = s.nextID
	ev.CreatedAt = time.Now().UTC()
	if s.appendErr != nil {
		return ev, s.appendErr
	}
	s.events = append(s.events, ev)
	return ev, nil
}

func (s *mockStore) FlushIfDue(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushCalls++
	return nil
}

func (s *mockStore) stored() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *mockStore) flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushCalls
}

type mockHub struct {
	mu     sync.Mutex
	events []Event
}

func (h *mockHub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *mockHub) broadcasts() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events...)
}

func TestProcessorPersistsAndBroadcasts(t *testing.T) {
	q := NewQueue(10)
	store := &mockStore{}
	h := &mockHub{}
	m := NewMetrics()

	p := NewProcessor(q, store, h, m, 10*time.Millisecond)
	p.Start()
	defer p.Stop()

	for i := 0; i < 5; i++ {
		require.True(t, q.TryEnqueue(camEvent(i)))
	}

	require.Eventually(t, func() bool {
		return len(store.stored()) == 5 && m.GetBroadcast() == 5
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(5), m.GetReceived())

	stored := store.stored()
	require.Len(t, stored, 5)
	for i, ev := range stored {
		// Arrival order survives persistence, ids are assigned once.
		assert.Equal(t, i, ev.Payload.(*DetectionPayload).PeopleCount)
		assert.Equal(t, int64(i+1), ev.ID)
		assert.False(t, ev.Timestamp.After(ev.CreatedAt), "timestamp must not exceed created_at")
	}

	sent := h.broadcasts()
	require.Len(t, sent, 5)
	assert.Equal(t, int64(1), sent[0].ID, "broadcast carries the persisted id")
}

func TestProcessorSurvivesStoreFailure(t *testing.T) {
	q := NewQueue(10)
	store := &mockStore{appendErr: fmt.Errorf("%w: disk on fire", ErrDegraded)}
	h := &mockHub{}
	m := NewMetrics()

	p := NewProcessor(q, store, h, m, 10*time.Millisecond)
	p.Start()
	defer p.Stop()

	require.True(t, q.TryEnqueue(camEvent(1)))
	require.True(t, q.TryEnqueue(camEvent(2)))

	// Persistence degraded, broadcast still delivered.
	require.Eventually(t, func() bool {
		return m.GetReceived() == 2 && len(h.broadcasts()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, m.GetPersisted())
}

func TestProcessorIdleHousekeeping(t *testing.T) {
	q := NewQueue(1)
	store := &mockStore{}
	m := NewMetrics()

	p := NewProcessor(q, store, &mockHub{}, m, 5*time.Millisecond)
	p.Start()
	defer p.Stop()

	// No events: idle ticks must still drive periodic flushes.
	require.Eventually(t, func() bool {
		return store.flushes() >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestProcessorDrainsQueueOnStop(t *testing.T) {
	q := NewQueue(10)
	store := &mockStore{}
	h := &mockHub{}
	m := NewMetrics()

	p := NewProcessor(q, store, h, m, 50*time.Millisecond)
	p.Start()
	for i := 0; i < 8; i++ {
		require.True(t, q.TryEnqueue(camEvent(i)))
	}
	p.Stop()

	assert.Len(t, store.stored(), 8)
	assert.Zero(t, q.Len())
}
