// README: Live websocket sessions keyed by rider/driver id.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rideflow/internal/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

type session struct {
	id   types.ID
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (s *session) close() {
	s.once.Do(func() { close(s.send) })
}

// Hub tracks connected sessions. One identity may hold several sessions.
type Hub struct {
	mu       sync.RWMutex
	sessions map[types.ID]map[*session]bool
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		sessions: make(map[types.ID]map[*session]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: logger.With("component", "ws"),
	}
}

// Notify queues the event on every session of the recipient. A full
// session buffer drops the event for that session.
func (h *Hub) Notify(_ context.Context, recipient types.ID, event string, payload any) error {
	msg, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.sessions[recipient]
	if len(set) == 0 {
		return ErrNoSession
	}
	for s := range set {
		select {
		case s.send <- msg:
		default:
			h.log.Warn("session buffer full, dropping event", "recipient", recipient, "event", event)
		}
	}
	return nil
}

// Connected reports how many sessions the identity holds.
func (h *Hub) Connected(id types.ID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[id])
}

// Serve upgrades the request and pumps events to the caller until the
// connection closes. The caller must already be authenticated.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, id types.Identity) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	s := &session{id: id.ID, conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(s)
	h.log.Info("session connected", "id", id.ID, "kind", id.Kind)

	go h.writePump(s)
	h.readPump(s)
}

func (h *Hub) register(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[s.id]
	if !ok {
		set = make(map[*session]bool)
		h.sessions[s.id] = set
	}
	set[s] = true
}

func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	if set, ok := h.sessions[s.id]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.sessions, s.id)
		}
	}
	h.mu.Unlock()
	s.close()
}

// readPump discards client frames; it exists to process pongs and detect close.
func (h *Hub) readPump(s *session) {
	defer func() {
		h.unregister(s)
		_ = s.conn.Close()
		h.log.Info("session closed", "id", s.id)
	}()
	s.conn.SetReadLimit(4096)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(s *session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Warn("write to session failed", "id", s.id, "err", err)
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
