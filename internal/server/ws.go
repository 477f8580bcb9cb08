package server

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/nailwatch/internal/app"
)

const writeWait = 2 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// Subscriber publishes status snapshots.
type Subscriber interface {
	Subscribe() (<-chan app.Status, func())
}

// LiveHandler streams status snapshots to websocket clients. Each client
// gets its own subscription, so a slow client only skips snapshots.
type LiveHandler struct {
	source  Subscriber
	log     logrus.FieldLogger
	clients atomic.Int32
}

// NewLiveHandler creates a LiveHandler fed by source.
func NewLiveHandler(source Subscriber, log logrus.FieldLogger) *LiveHandler {
	return &LiveHandler{source: source, log: log}
}

// Clients returns the number of connected clients.
func (h *LiveHandler) Clients() int {
	return int(h.clients.Load())
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	h.clients.Add(1)
	defer h.clients.Add(-1)

	updates, cancel := h.source.Subscribe()
	defer cancel()

	// Reading is only needed to notice the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case st, ok := <-updates:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(st); err != nil {
				h.log.WithError(err).Debug("websocket write failed")
				return
			}
		}
	}
}
