// Package wsserver serves pipeline events and subtitle updates to a local
// UI over a websocket: the UI subscribes here instead of the pipeline ever
// holding a reference to it.
package wsserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Cirno10124/stream-recognizer-go/internal/feedback"
)

// Message is the JSON envelope pushed to every connected client.
type Message struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Server upgrades HTTP connections to websockets and broadcasts pipeline
// events published on a feedback.EventBus to every connected client.
type Server struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan Message

	unsubscribe func()
}

// New builds a server that will broadcast every event published on bus.
// Call Handler to get the http.Handler to mount, and Close to detach from
// the bus and drop all clients.
func New(bus *feedback.EventBus) *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			// Local desktop UI: same-origin checks add no real protection
			// over a loopback listener, and the UI may load from a file://
			// or dev-server origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan Message),
	}
	s.unsubscribe = bus.SubscribeAll(s.onEvent)
	return s
}

func (s *Server) onEvent(e feedback.Event) {
	msg := Message{
		Type:      string(e.Type),
		SessionID: e.SessionID,
		Timestamp: e.Timestamp,
		Data:      e.Data,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, ch := range s.clients {
		select {
		case ch <- msg:
		default:
			logrus.WithField("remote", conn.RemoteAddr()).Warn("websocket client backlog full, dropping event")
		}
	}
}

// Handler returns the http.Handler that accepts and serves websocket
// upgrades.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveWS)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("websocket upgrade failed")
		return
	}

	ch := make(chan Message, 64)
	s.mu.Lock()
	s.clients[conn] = ch
	s.mu.Unlock()

	logrus.WithField("remote", conn.RemoteAddr()).Info("websocket client connected")

	go s.writeLoop(conn, ch)
	s.readLoop(conn, ch)
}

func (s *Server) writeLoop(conn *websocket.Conn, ch chan Message) {
	for msg := range ch {
		data, err := json.Marshal(msg)
		if err != nil {
			logrus.WithError(err).Warn("failed to marshal websocket message")
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// readLoop drains client frames (none are currently acted on; this is a
// push-only sink) until the connection closes, then unregisters it.
func (s *Server) readLoop(conn *websocket.Conn, ch chan Message) {
	defer s.disconnect(conn, ch)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) disconnect(conn *websocket.Conn, ch chan Message) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	close(ch)
	_ = conn.Close()
	logrus.WithField("remote", conn.RemoteAddr()).Info("websocket client disconnected")
}

// Close detaches from the event bus and closes every connected client.
func (s *Server) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, ch := range s.clients {
		close(ch)
		_ = conn.Close()
		delete(s.clients, conn)
	}
}
