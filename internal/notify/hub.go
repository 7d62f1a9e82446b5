package notify

import (
	"sync"

	"go.uber.org/zap"
)

// Event is the settlement result pushed to the owning user's live connections.
type Event struct {
	TradeID uint   `json:"tradeId"`
	UserID  uint   `json:"userId"`
	Result  string `json:"result"`
	Status  string `json:"status"`
}

// Publisher is the interface the settlement engine depends on. Delivery is
// best-effort; a missed event is recovered by the client re-querying trade state.
type Publisher interface {
	Publish(userID uint, event Event)
}

// Hub fans settlement events out to per-user subscriber channels.
// It implements the Publisher interface.
type Hub struct {
	logger      *zap.Logger
	mu          sync.RWMutex
	subscribers map[uint]map[chan Event]struct{}
}

// ensure Hub implements the interface
var _ Publisher = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:      logger,
		subscribers: make(map[uint]map[chan Event]struct{}),
	}
}

// Subscribe registers a new channel for the user and returns it. A user may
// hold several subscriptions at once, one per live connection.
func (h *Hub) Subscribe(userID uint) chan Event {
	ch := make(chan Event, 8)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subscribers[userID] == nil {
		h.subscribers[userID] = make(map[chan Event]struct{})
	}
	h.subscribers[userID][ch] = struct{}{}
	return ch
}

// Unsubscribe removes the channel and closes it.
func (h *Hub) Unsubscribe(userID uint, ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[userID]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	if len(subs) == 0 {
		delete(h.subscribers, userID)
	}
	close(ch)
}

// Publish sends the event to every subscription the user currently holds.
// Sends never block: a subscriber whose buffer is full misses the event.
func (h *Hub) Publish(userID uint, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs := h.subscribers[userID]
	if len(subs) == 0 {
		h.logger.Debug("No live connections for user, dropping event",
			zap.Uint("user_id", userID), zap.Uint("trade_id", event.TradeID))
		return
	}

	for ch := range subs {
		select {
		case ch <- event:
		default:
			h.logger.Warn("Subscriber buffer full, dropping event",
				zap.Uint("user_id", userID), zap.Uint("trade_id", event.TradeID))
		}
	}
}

// SubscriberCount returns the number of live subscriptions for the user.
// Useful for testing.
func (h *Hub) SubscriberCount(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[userID])
}
