package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrReconnectExhausted is reported once the reconnect attempt cap is hit.
// The channel stops retrying until Connect is called again explicitly.
var ErrReconnectExhausted = errors.New("transport: reconnect attempts exhausted")

// ErrNotConnected is returned by Send/SendBinary while the socket is down.
var ErrNotConnected = errors.New("transport: not connected")

// Status describes the connection lifecycle of a Channel.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

const (
	// DefaultBackoffBase is the first reconnect delay; each further attempt doubles it.
	DefaultBackoffBase = 1000 * time.Millisecond
	// DefaultMaxAttempts caps unexpected-close reconnects.
	DefaultMaxAttempts = 5
)

// Envelope is the text-frame wire format. Binary frames carry no envelope.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// Handler receives the full raw text frame for its subscribed type.
type Handler func(msg []byte)

// StatusHandler observes status transitions plus the current reconnect attempt.
type StatusHandler func(s Status, attempt int)

type subscription struct {
	fn      Handler
	removed bool
}

type statusSubscription struct {
	fn      StatusHandler
	removed bool
}

// Channel is a reconnecting duplex WebSocket carrying binary audio frames and
// JSON event frames. One Channel per logical stream; lifecycle is owned by the
// session, never the process.
type Channel struct {
	url string

	// injectable for tests
	dial  func(url string) (*websocket.Conn, error)
	sleep func(d time.Duration)

	backoffBase time.Duration
	maxAttempts int

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	// closed is set by Disconnect and suppresses reconnection
	closed bool
	// reconnecting is true while a reconnectLoop is in flight; Connect is a
	// no-op during that window so the loop's dial and an explicit dial can
	// never race and leak a socket
	reconnecting bool
	attempt      int
	termErr error
	gen     int

	subs       map[string][]*subscription
	statusSubs []*statusSubscription

	writeMu sync.Mutex
}

// NewChannel constructs a channel for the given ws:// or wss:// URL.
func NewChannel(url string) *Channel {
	return &Channel{
		url: url,
		dial: func(url string) (*websocket.Conn, error) {
			dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
			conn, _, err := dialer.Dial(url, nil)
			return conn, err
		},
		sleep:       time.Sleep,
		backoffBase: DefaultBackoffBase,
		maxAttempts: DefaultMaxAttempts,
		subs:        make(map[string][]*subscription),
	}
}

// Connect dials the endpoint. It is idempotent: calling it while connected,
// or while an automatic reconnect is in flight, is a no-op. A successful
// open resets the reconnect attempt counter.
func (c *Channel) Connect() error {
	c.mu.Lock()
	if c.connected || c.reconnecting {
		c.mu.Unlock()
		return nil
	}
	c.closed = false
	c.termErr = nil
	c.mu.Unlock()

	c.notifyStatus(StatusConnecting)

	conn, err := c.dial(c.url)
	if err != nil {
		c.notifyStatus(StatusError)
		return fmt.Errorf("transport: dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.attempt = 0
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.notifyStatus(StatusConnected)
	go c.readLoop(conn, gen)
	return nil
}

// Disconnect closes the socket without scheduling a reconnect.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if wasConnected {
		c.notifyStatus(StatusDisconnected)
	}
	return nil
}

// Connected reports whether the socket is currently open.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Err returns the terminal error, if any (ErrReconnectExhausted after the cap).
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.termErr
}

// Send serializes a typed envelope {type, data, timestamp} as a text frame.
func (c *Channel) Send(msgType string, payload interface{}) error {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("transport: marshal %s payload: %w", msgType, err)
		}
		data = b
	} else {
		data = json.RawMessage("null")
	}
	env := Envelope{Type: msgType, Data: data, Timestamp: time.Now().Format(time.RFC3339Nano)}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("transport: marshal envelope: %w", err)
	}
	return c.write(websocket.TextMessage, b)
}

// SendBinary sends raw bytes with no envelope. Audio frames only; keeps the
// hot path free of JSON overhead.
func (c *Channel) SendBinary(buf []byte) error {
	return c.write(websocket.BinaryMessage, buf)
}

func (c *Channel) write(messageType int, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(messageType, data)
}

// Subscribe registers a handler for frames whose "type" field matches.
// Handlers for a type run synchronously in subscription order on the read
// goroutine. The returned function unsubscribes.
func (c *Channel) Subscribe(msgType string, fn Handler) func() {
	sub := &subscription{fn: fn}
	c.mu.Lock()
	c.subs[msgType] = append(c.subs[msgType], sub)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		sub.removed = true
		c.mu.Unlock()
	}
}

// SubscribeStatus registers a status listener; returns an unsubscribe func.
func (c *Channel) SubscribeStatus(fn StatusHandler) func() {
	sub := &statusSubscription{fn: fn}
	c.mu.Lock()
	c.statusSubs = append(c.statusSubs, sub)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		sub.removed = true
		c.mu.Unlock()
	}
}

func (c *Channel) notifyStatus(s Status) {
	c.mu.Lock()
	attempt := c.attempt
	listeners := make([]*statusSubscription, 0, len(c.statusSubs))
	kept := c.statusSubs[:0]
	for _, sub := range c.statusSubs {
		if sub.removed {
			continue
		}
		kept = append(kept, sub)
		listeners = append(listeners, sub)
	}
	c.statusSubs = kept
	c.mu.Unlock()

	for _, sub := range listeners {
		c.invokeStatus(sub, s, attempt)
	}
}

func (c *Channel) invokeStatus(sub *statusSubscription, s Status, attempt int) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("transport: status listener panic: %v", r)
		}
	}()
	sub.fn(s, attempt)
}

func (c *Channel) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.onReadClosed(gen, err)
			return
		}
		c.dispatch(message)
	}
}

// dispatch routes a text frame to subscribers of its type. Malformed frames
// are logged and dropped; a panicking handler must not starve the others.
func (c *Channel) dispatch(message []byte) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &probe); err != nil {
		log.Printf("transport: dropping malformed frame: %v", err)
		return
	}
	if probe.Type == "" {
		log.Printf("transport: dropping frame without type field")
		return
	}

	c.mu.Lock()
	subs := c.subs[probe.Type]
	handlers := make([]*subscription, 0, len(subs))
	kept := subs[:0]
	for _, sub := range subs {
		if sub.removed {
			continue
		}
		kept = append(kept, sub)
		handlers = append(handlers, sub)
	}
	if len(kept) == 0 {
		delete(c.subs, probe.Type)
	} else {
		c.subs[probe.Type] = kept
	}
	c.mu.Unlock()

	for _, sub := range handlers {
		c.invoke(sub, probe.Type, message)
	}
}

func (c *Channel) invoke(sub *subscription, msgType string, message []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("transport: %s handler panic: %v", msgType, r)
		}
	}()
	sub.fn(message)
}

// onReadClosed handles the read loop ending. Explicit Disconnect is final;
// anything else schedules the backoff reconnect.
func (c *Channel) onReadClosed(gen int, err error) {
	c.mu.Lock()
	if c.gen != gen {
		// a newer connection already took over
		c.mu.Unlock()
		return
	}
	wasClosed := c.closed
	c.connected = false
	c.conn = nil
	if !wasClosed {
		c.reconnecting = true
	}
	c.mu.Unlock()

	if wasClosed {
		return
	}
	log.Printf("transport: connection lost: %v", err)
	c.notifyStatus(StatusDisconnected)
	go c.reconnectLoop()
}

func (c *Channel) reconnectLoop() {
	for {
		c.mu.Lock()
		if c.closed {
			c.reconnecting = false
			c.mu.Unlock()
			return
		}
		c.attempt++
		attempt := c.attempt
		if attempt > c.maxAttempts {
			c.termErr = ErrReconnectExhausted
			c.reconnecting = false
			c.mu.Unlock()
			log.Printf("transport: giving up after %d reconnect attempts", c.maxAttempts)
			c.notifyStatus(StatusError)
			return
		}
		delay := c.backoffBase << (attempt - 1)
		c.mu.Unlock()

		log.Printf("transport: reconnect attempt %d in %s", attempt, delay)
		c.sleep(delay)

		c.mu.Lock()
		if c.closed {
			c.reconnecting = false
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		c.notifyStatus(StatusConnecting)
		conn, err := c.dial(c.url)
		if err != nil {
			log.Printf("transport: reconnect attempt %d failed: %v", attempt, err)
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.connected = true
		c.attempt = 0
		c.reconnecting = false
		c.gen++
		gen := c.gen
		c.mu.Unlock()

		c.notifyStatus(StatusConnected)
		go c.readLoop(conn, gen)
		return
	}
}
