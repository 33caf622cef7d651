package publisher

import (
	"context"
	"sync"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	r "github.com/fjod/go_cart/reservation-service/internal/repository"
	"github.com/segmentio/kafka-go"
)

type MockEventStore struct {
	mu        sync.Mutex
	Events    []*r.OutboxEvent
	FetchErr  error
	MarkErr   error
	Processed []int64
}

func (m *MockEventStore) GetUnprocessedEvents(context.Context, int) ([]*r.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	done := make(map[int64]bool, len(m.Processed))
	for _, id := range m.Processed {
		done[id] = true
	}
	var out []*r.OutboxEvent
	for _, e := range m.Events {
		if !done[e.ID] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockEventStore) MarkEventAsProcessed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MarkErr != nil {
		return m.MarkErr
	}
	m.Processed = append(m.Processed, id)
	return nil
}

func (m *MockEventStore) processed() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.Processed...)
}

type MockSink struct {
	mu        sync.Mutex
	Published []*r.OutboxEvent
	// FailFor maps event ids to the error Publish returns for them.
	FailFor map[int64]error
}

func (m *MockSink) Publish(_ context.Context, event *r.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailFor[event.ID]; err != nil {
		return err
	}
	m.Published = append(m.Published, event)
	return nil
}

func (m *MockSink) Close() error { return nil }

type MockSweeper struct {
	Calls   int
	Deleted int
	Err     error
}

func (m *MockSweeper) SweepOrphans(context.Context) (int, error) {
	m.Calls++
	return m.Deleted, m.Err
}

type MockDeliverer struct {
	Delivered []*domain.Notification
	Err       error
}

func (m *MockDeliverer) Deliver(_ context.Context, n *domain.Notification) error {
	if m.Err != nil {
		return m.Err
	}
	m.Delivered = append(m.Delivered, n)
	return nil
}

type MockWriter struct {
	Messages []kafka.Message
	Err      error
	Calls    int
}

func (m *MockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	m.Calls++
	if m.Err != nil {
		return m.Err
	}
	m.Messages = append(m.Messages, msgs...)
	return nil
}

func (m *MockWriter) Close() error { return nil }
