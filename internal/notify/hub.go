// Package notify fans metadata change events out to live subscribers.
// Delivery is best-effort and at-least-once: every event carries the full
// document, so consumers replace their cached state rather than apply
// deltas, and a dropped or duplicated event is harmless.
package notify

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/oleksiyp/kubernetes-native-secrets/pkg/models"
)

// subscriberBuffer is each subscriber's channel capacity. A subscriber
// that falls this far behind starts losing events; the next one it does
// receive still carries the complete current state.
const subscriberBuffer = 16

// Hub is the per-namespace subscription registry.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan models.MetadataEvent]struct{} // namespace → subscribers
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: map[string]map[chan models.MetadataEvent]struct{}{}}
}

// Subscribe registers interest in a namespace. The returned cancel
// function removes the subscription; the channel is closed afterwards.
func (h *Hub) Subscribe(namespace string) (<-chan models.MetadataEvent, func()) {
	ch := make(chan models.MetadataEvent, subscriberBuffer)

	h.mu.Lock()
	if h.subs[namespace] == nil {
		h.subs[namespace] = map[chan models.MetadataEvent]struct{}{}
	}
	h.subs[namespace][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[namespace], ch)
			if len(h.subs[namespace]) == 0 {
				delete(h.subs, namespace)
			}
			// Closed under the lock so Broadcast never sends on a
			// closed channel.
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Broadcast delivers an event to every subscriber of the namespace.
// Subscribers with a full buffer are skipped. Sends are non-blocking, so
// holding the lock across the fan-out is cheap.
func (h *Hub) Broadcast(namespace string, meta *models.NamespaceMetadata) {
	event := models.MetadataEvent{Namespace: namespace, Metadata: meta}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[namespace] {
		select {
		case ch <- event:
		default:
			log.Warn().Str("namespace", namespace).Msg("slow subscriber, dropping event")
		}
	}
}

// SubscriberCount returns the number of live subscriptions for a
// namespace. Used by metrics.
func (h *Hub) SubscriberCount(namespace string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[namespace])
}
