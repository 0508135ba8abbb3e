package devserver

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// subscriber wraps one watching connection. Writes are serialized per
// connection: the audio read loop and the delayed final-frame goroutines
// broadcast concurrently, and gorilla conns allow one writer at a time.
type subscriber struct {
	writeMu sync.Mutex
	conn    *websocket.Conn
}

func (s *subscriber) writeJSON(frame interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(frame)
}

// hub fans transcript frames out to every client watching a meeting.
type hub struct {
	mu   sync.Mutex
	subs map[string]map[*websocket.Conn]*subscriber
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[*websocket.Conn]*subscriber)}
}

func (h *hub) add(meetingID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[meetingID]
	if !ok {
		set = make(map[*websocket.Conn]*subscriber)
		h.subs[meetingID] = set
	}
	set[conn] = &subscriber{conn: conn}
}

func (h *hub) remove(meetingID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[meetingID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.subs, meetingID)
		}
	}
}

// broadcast writes a JSON frame to every subscriber; dead connections are
// dropped on write failure.
func (h *hub) broadcast(meetingID string, frame interface{}) {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs[meetingID]))
	for _, sub := range h.subs[meetingID] {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		if err := sub.writeJSON(frame); err != nil {
			log.Printf("devserver: dropping transcript subscriber: %v", err)
			h.remove(meetingID, sub.conn)
			_ = sub.conn.Close()
		}
	}
}
