package rtc

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
)

// signalMessage is the signaling wire format.
// Types: "offer", "answer", "candidate", "ice-complete", "bye", "error".
type signalMessage struct {
	Type          string  `json:"type"`
	SDP           string  `json:"sdp,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	Error         string  `json:"error,omitempty"`
}

var signalUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// local dev tooling; restrict before exposing publicly
		return true
	},
}

// ServeSignaling runs offer/answer plus trickle ICE over a WebSocket and
// binds the negotiated peer to the given source. The handler returns when
// the peer or the socket goes away.
func ServeSignaling(w http.ResponseWriter, r *http.Request, src *RemoteSource) {
	conn, err := signalUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("rtc: ws upgrade: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	offerSDP, ok := awaitOffer(conn)
	if !ok {
		return
	}

	writer := newWSWriter(conn)
	defer writer.close()
	answer, err := src.Accept(offerSDP, func(c *webrtc.ICECandidate) {
		if c == nil {
			writer.send(signalMessage{Type: "ice-complete"})
			return
		}
		init := c.ToJSON()
		writer.send(signalMessage{Type: "candidate", Candidate: init.Candidate, SDPMid: init.SDPMid, SDPMLineIndex: init.SDPMLineIndex})
	})
	if err != nil {
		writer.send(signalMessage{Type: "error", Error: err.Error()})
		return
	}
	if !writer.send(signalMessage{Type: "answer", SDP: answer}) {
		return
	}

	for {
		_, data, rerr := conn.ReadMessage()
		if rerr != nil {
			return
		}
		var m signalMessage
		if json.Unmarshal(data, &m) != nil {
			continue
		}
		switch strings.ToLower(m.Type) {
		case "candidate":
			if m.Candidate == "" {
				continue
			}
			if err := src.AddCandidate(webrtc.ICECandidateInit{Candidate: m.Candidate, SDPMid: m.SDPMid, SDPMLineIndex: m.SDPMLineIndex}); err != nil {
				log.Printf("rtc: add candidate: %v", err)
			}
		case "bye":
			src.Stop()
			return
		}
	}
}

// awaitOffer reads frames until an offer or bye arrives.
func awaitOffer(conn *websocket.Conn) (string, bool) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return "", false
		}
		if mt != websocket.TextMessage {
			continue
		}
		var m signalMessage
		if json.Unmarshal(data, &m) != nil {
			continue
		}
		switch strings.ToLower(m.Type) {
		case "offer":
			if m.SDP != "" {
				return m.SDP, true
			}
		case "bye":
			return "", false
		}
	}
}

// wsWriter serializes writes; candidate callbacks fire from pion goroutines.
// close releases the pump goroutine; sends after close are rejected because
// pion callbacks can still fire once the handler has returned.
type wsWriter struct {
	conn *websocket.Conn

	mu     sync.Mutex
	ch     chan signalMessage
	closed bool
}

func newWSWriter(conn *websocket.Conn) *wsWriter {
	w := &wsWriter{conn: conn, ch: make(chan signalMessage, 32)}
	go func() {
		for m := range w.ch {
			if err := conn.WriteJSON(m); err != nil {
				return
			}
		}
	}()
	return w
}

func (w *wsWriter) send(m signalMessage) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	select {
	case w.ch <- m:
		return true
	default:
		return false
	}
}

func (w *wsWriter) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.ch)
}
