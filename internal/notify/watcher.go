package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oleksiyp/kubernetes-native-secrets/internal/storage"
	"github.com/oleksiyp/kubernetes-native-secrets/pkg/models"
)

// reconnectDelay is the fixed pause before re-establishing a failed watch
// stream. Retried indefinitely.
const reconnectDelay = 5 * time.Second

// Watcher tails the backend's metadata watch and rebroadcasts every
// observed change through the hub, so subscribers also see documents
// edited by other processes.
type Watcher struct {
	store storage.Backend
	hub   *Hub
	delay time.Duration
}

// NewWatcher creates a Watcher.
func NewWatcher(store storage.Backend, hub *Hub) *Watcher {
	return &Watcher{store: store, hub: hub, delay: reconnectDelay}
}

// Run blocks until ctx is cancelled, reconnecting the watch stream after
// every failure.
func (w *Watcher) Run(ctx context.Context) {
	events := make(chan models.MetadataEvent, 64)
	go w.forward(ctx, events)

	for {
		err := w.store.WatchMetadata(ctx, events)
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Dur("retry_in", w.delay).Msg("metadata watch failed, reconnecting")
		watchReconnects.Inc()

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.delay):
		}
	}
}

func (w *Watcher) forward(ctx context.Context, events <-chan models.MetadataEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			watchEvents.Inc()
			w.hub.Broadcast(ev.Namespace, ev.Metadata)
		}
	}
}
