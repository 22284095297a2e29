package notify

import (
	"context"
	"testing"
	"time"

	"github.com/oleksiyp/kubernetes-native-secrets/internal/storage"
	"github.com/oleksiyp/kubernetes-native-secrets/pkg/models"
)

func TestSubscribeReceivesBroadcast(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("team-a")
	defer cancel()

	meta := models.NewNamespaceMetadata("team-a")
	hub.Broadcast("team-a", meta)

	select {
	case ev := <-ch:
		if ev.Namespace != "team-a" {
			t.Errorf("unexpected namespace %s", ev.Namespace)
		}
		if ev.Metadata != meta {
			t.Error("event should carry the broadcast document")
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestBroadcastScopedToNamespace(t *testing.T) {
	hub := NewHub()
	chA, cancelA := hub.Subscribe("team-a")
	defer cancelA()
	chB, cancelB := hub.Subscribe("team-b")
	defer cancelB()

	hub.Broadcast("team-a", models.NewNamespaceMetadata("team-a"))

	select {
	case <-chA:
	case <-time.After(time.Second):
		t.Fatal("team-a subscriber should receive the event")
	}
	select {
	case <-chB:
		t.Fatal("team-b subscriber must not receive team-a events")
	default:
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("team-a")
	cancel()
	cancel() // idempotent

	// Must not panic on a closed subscriber.
	hub.Broadcast("team-a", models.NewNamespaceMetadata("team-a"))

	if _, open := <-ch; open {
		t.Error("channel should be closed after cancel")
	}
	if hub.SubscriberCount("team-a") != 0 {
		t.Error("subscription should be removed")
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe("team-a")
	defer cancel()

	meta := models.NewNamespaceMetadata("team-a")
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			hub.Broadcast("team-a", meta)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast must not block on a full subscriber buffer")
	}
}

func TestWatcherRebroadcastsExternalChanges(t *testing.T) {
	store := storage.NewMemoryBackend("team-a")
	hub := NewHub()
	watcher := NewWatcher(store, hub)
	watcher.delay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watcher.Run(ctx)

	ch, unsubscribe := hub.Subscribe("team-a")
	defer unsubscribe()

	// Give the watch loop a moment to attach.
	time.Sleep(20 * time.Millisecond)

	// An "external" writer modifies the document directly.
	meta := models.NewNamespaceMetadata("team-a")
	meta.Secrets["K"] = &models.SecretMeta{Owner: "alice@x.com", ValueHash: "h1"}
	if err := store.WriteMetadata(ctx, "team-a", meta, ""); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Namespace != "team-a" {
			t.Errorf("unexpected namespace %s", ev.Namespace)
		}
		if _, ok := ev.Metadata.Secrets["K"]; !ok {
			t.Error("event should carry the externally written document")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("external change was not rebroadcast")
	}
}
