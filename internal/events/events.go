// Package events provides the in-process event bus that batch orchestration
// publishes to and the websocket stream consumes from.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType names a batch lifecycle event.
type EventType string

const (
	RunStarted   EventType = "RunStarted"
	RunFinished  EventType = "RunFinished"
	JobStarted   EventType = "JobStarted"
	JobCompleted EventType = "JobCompleted"
	JobFailed    EventType = "JobFailed"
)

// Event is one published lifecycle event.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// JobEventData describes the job an event refers to.
type JobEventData struct {
	RunID       string `json:"run_id"`
	JobName     string `json:"job_name,omitempty"`
	PortfolioID string `json:"portfolio_id,omitempty"`
	Error       string `json:"error,omitempty"`
	Skipped     bool   `json:"skipped,omitempty"`
}

// RunEventData describes the run an event refers to.
type RunEventData struct {
	RunID       string `json:"run_id"`
	TriggeredBy string `json:"triggered_by,omitempty"`
	Status      string `json:"status,omitempty"`
	JobsTotal   int    `json:"jobs_total,omitempty"`
	JobsFailed  int    `json:"jobs_failed,omitempty"`
}

const subscriberBuffer = 64

// Manager fans events out to subscribers. Slow subscribers drop events rather
// than block the orchestrator.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	log         zerolog.Logger
}

// NewManager creates an event manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		subscribers: make(map[int]chan Event),
		log:         log.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a new subscriber. The returned cancel function must be
// called to release the channel.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan Event, subscriberBuffer)
	m.subscribers[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if ch, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Emit publishes an event to every subscriber.
func (m *Manager) Emit(eventType EventType, data interface{}) {
	event := Event{Type: eventType, Timestamp: time.Now(), Data: data}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, ch := range m.subscribers {
		select {
		case ch <- event:
		default:
			m.log.Debug().Int("subscriber", id).Str("event", string(eventType)).Msg("Subscriber buffer full, dropping event")
		}
	}
}

// SubscriberCount reports how many subscribers are registered.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers)
}
