package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/oleksiyp/kubernetes-native-secrets/pkg/models"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Auth happens via the bearer token before the upgrade, so cross-origin
	// dialers (CLI, dashboards) are fine.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// watchCommand is one client message on the watch socket.
type watchCommand struct {
	Action    string `json:"action"` // subscribe | unsubscribe
	Namespace string `json:"namespace"`
}

// WatchHandler handles GET /api/v1/ws. The client subscribes to namespaces
// and receives the full metadata document after every change.
func (s *Server) WatchHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	wsConnections.Inc()
	defer wsConnections.Dec()

	var writeMu sync.Mutex // one writer at a time per connection
	done := make(chan struct{})
	subs := map[string]func(){}
	defer func() {
		close(done)
		for _, cancel := range subs {
			cancel()
		}
		conn.Close()
	}()

	user := identityFrom(r.Context())
	for {
		var cmd watchCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}

		switch cmd.Action {
		case "subscribe":
			if cmd.Namespace == "" {
				continue
			}
			if _, ok := subs[cmd.Namespace]; ok {
				continue
			}
			events, cancel := s.hub.Subscribe(cmd.Namespace)
			subs[cmd.Namespace] = cancel
			log.Debug().Str("user", user).Str("namespace", cmd.Namespace).Msg("watch subscribed")
			go forwardEvents(conn, &writeMu, events, done)
		case "unsubscribe":
			if cancel, ok := subs[cmd.Namespace]; ok {
				cancel()
				delete(subs, cmd.Namespace)
			}
		}
	}
}

func forwardEvents(conn *websocket.Conn, writeMu *sync.Mutex, events <-chan models.MetadataEvent, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			writeMu.Lock()
			err := conn.WriteJSON(ev)
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
