package dispatch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/vehicle-storefront/internal/models"
	"github.com/example/vehicle-storefront/internal/observability"
)

const (
	writeWait   = 5 * time.Second
	sendBacklog = 32
)

// WSSession represents one connected change feed client. Events are queued
// and written by the session's own goroutine.
type WSSession struct {
	conn *websocket.Conn
	send chan models.StoreEvent
	once sync.Once
}

// enqueue never blocks; it reports false when the client has fallen behind.
func (s *WSSession) enqueue(ev models.StoreEvent) bool {
	select {
	case s.send <- ev:
		return true
	default:
		return false
	}
}

func (s *WSSession) writeLoop() {
	for ev := range s.send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteJSON(ev); err != nil {
			_ = s.conn.Close()
			// drain so enqueue keeps failing fast until removal
			for range s.send {
			}
			return
		}
	}
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	_ = s.conn.Close()
}

// WSHub fans store change events out to every connected session and keeps
// the latest event per store so new clients start from current state.
type WSHub struct {
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[*WSSession]struct{}
	latest   map[string]models.StoreEvent
	order    []string
}

func NewWSHub(logger *slog.Logger) *WSHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHub{logger: logger, sessions: make(map[*WSSession]struct{}), latest: make(map[string]models.StoreEvent)}
}

// Add registers conn, replays the latest state of each store and reads from
// it until the client goes away. It blocks, so call it from the handler.
func (h *WSHub) Add(conn *websocket.Conn) {
	s := &WSSession{conn: conn, send: make(chan models.StoreEvent, sendBacklog)}
	h.mu.Lock()
	for _, store := range h.order {
		s.enqueue(h.latest[store])
	}
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	observability.WSClients.Inc()

	go s.writeLoop()
	defer h.remove(s)
	for {
		// clients never send anything meaningful; reading surfaces the close
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WSHub) remove(s *WSSession) {
	h.mu.Lock()
	_, ok := h.sessions[s]
	delete(h.sessions, s)
	h.mu.Unlock()
	if ok {
		observability.WSClients.Dec()
		s.once.Do(func() { close(s.send) })
	}
}

// Broadcast records ev as its store's latest state and queues it for every
// session. Sessions whose backlog is full are dropped.
func (h *WSHub) Broadcast(ev models.StoreEvent) {
	var slow []*WSSession
	h.mu.Lock()
	if _, seen := h.latest[ev.Store]; !seen {
		h.order = append(h.order, ev.Store)
	}
	h.latest[ev.Store] = ev
	for s := range h.sessions {
		if !s.enqueue(ev) {
			slow = append(slow, s)
		}
	}
	h.mu.Unlock()

	for _, s := range slow {
		h.logger.Warn("ws client too slow, dropping", "store", ev.Store)
		h.remove(s)
	}
}

func (h *WSHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close disconnects every session.
func (h *WSHub) Close() {
	h.mu.Lock()
	sessions := make([]*WSSession, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()
	for _, s := range sessions {
		h.remove(s)
	}
}
