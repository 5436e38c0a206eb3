package orchestrator

import (
	"encoding/json"
	"sync"
	"time"
)

// Progress event names published during a turn.
const (
	EventStageStarted   = "stage.started"
	EventStageCompleted = "stage.completed"
	EventStepCompleted  = "step.completed"
	EventTurnCompleted  = "turn.completed"
)

// Event is a generic SSE payload wrapper.
type Event struct {
	Event     string    `json:"event"`
	SessionID string    `json:"session_id"`
	Time      time.Time `json:"time"`
	Payload   any       `json:"payload,omitempty"`
}

// subscriberBuffer holds a full turn's events for a reader that starts
// draining late.
const subscriberBuffer = 64

type subscriber chan []byte

// Hub fans progress events out to the subscribers of a session. Slow
// subscribers miss events instead of blocking the turn.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[subscriber]struct{} // sessionID -> set of subscribers
}

func NewHub() *Hub { return &Hub{subs: map[string]map[subscriber]struct{}{}} }

// Subscribe returns a channel of JSON-encoded events for sessionID. The
// returned func unsubscribes and closes the channel; it is safe to call
// more than once.
func (h *Hub) Subscribe(sessionID string) (<-chan []byte, func()) {
	ch := make(subscriber, subscriberBuffer)
	h.mu.Lock()
	set := h.subs[sessionID]
	if set == nil {
		set = map[subscriber]struct{}{}
		h.subs[sessionID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[sessionID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, sessionID)
				}
			}
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, unsubscribe
}

func (h *Hub) Publish(sessionID string, ev Event) {
	ev.SessionID = sessionID
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.RLock()
	for ch := range h.subs[sessionID] {
		// non-blocking send
		select {
		case ch <- b:
		default:
		}
	}
	h.mu.RUnlock()
}

// Subscribers returns the number of live subscribers for sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}
