package api

import (
	"sync"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
)

// sseEvent is one named event ready to be written to a client stream.
type sseEvent struct {
	Name string
	Data []byte
}

// Hub fans board events out to connected clients. Delivery is best-effort
// and at-most-once: each subscriber has a bounded buffer and events that do
// not fit are dropped for that subscriber.
type Hub struct {
	logger *log.Logger

	mu     sync.Mutex
	topics map[string]map[chan sseEvent]struct{}
}

const subscriberBuffer = 16

// NewHub creates an empty Hub.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{
		logger: logger,
		topics: make(map[string]map[chan sseEvent]struct{}),
	}
}

// Subscribe joins a board's channel.
func (h *Hub) Subscribe(boardID string) chan sseEvent {
	ch := make(chan sseEvent, subscriberBuffer)
	h.mu.Lock()
	subs, ok := h.topics[boardID]
	if !ok {
		subs = make(map[chan sseEvent]struct{})
		h.topics[boardID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe leaves a board's channel.
func (h *Hub) Unsubscribe(boardID string, ch chan sseEvent) {
	h.mu.Lock()
	if subs, ok := h.topics[boardID]; ok {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(h.topics, boardID)
		}
	}
	h.mu.Unlock()
}

// Publish delivers one event to every client currently subscribed to the
// board. A failed encode is logged, not surfaced; the real-time channel has
// no error path back to the writer.
func (h *Hub) Publish(boardID, event string, payload any) {
	data, err := sonic.ConfigStd.Marshal(payload)
	if err != nil {
		h.logger.Errorf("hub: encode %s for %s: %v", event, boardID, err)
		return
	}
	ev := sseEvent{Name: event, Data: data}

	h.mu.Lock()
	for ch := range h.topics[boardID] {
		select {
		case ch <- ev:
		default:
			h.logger.Debugf("hub: dropping %s for slow subscriber on %s", event, boardID)
		}
	}
	h.mu.Unlock()
}
