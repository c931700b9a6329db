package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/HsiangNianian/cumo/internal/protocol"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

type clientConn struct {
	conn   *websocket.Conn
	remote string
	mu     sync.Mutex
}

func (c *clientConn) WriteFrame(f protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	messageType := websocket.BinaryMessage
	if f.Text {
		messageType = websocket.TextMessage
	}
	return c.conn.WriteMessage(messageType, f.Data)
}

type Options struct {
	Logger *log.Entry
	// MaxMessageBytes limits inbound frames; zero means unlimited.
	MaxMessageBytes int64
}

// Hub owns the single viewer connection slot. Inbound frames are handed to
// onMessage in arrival order; outbound frames are queued in the outbox and
// written by Run.
type Hub struct {
	log             *log.Entry
	upgrader        websocket.Upgrader
	onMessage       func(protocol.Frame)
	maxMessageBytes int64
	outbox          *Outbox

	mu      sync.Mutex
	slot    *clientConn
	changed chan struct{}
}

func NewHub(onMessage func(protocol.Frame), opts Options) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Hub{
		log: logger.WithField("component", "ws"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		onMessage:       onMessage,
		maxMessageBytes: opts.MaxMessageBytes,
		outbox:          NewOutbox(),
		changed:         make(chan struct{}),
	}
}

// Enqueue appends a frame to the outbound queue. It never blocks.
func (h *Hub) Enqueue(f protocol.Frame) {
	h.outbox.Push(f)
}

// Pending returns the number of frames not yet written.
func (h *Hub) Pending() int {
	return h.outbox.Len()
}

func (h *Hub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.slot != nil && h.slot.conn != nil
}

// HandleViewer upgrades the request and admits it only when no other viewer
// holds the slot. A rejected viewer is closed right away and the active one
// is left untouched.
func (h *Hub) HandleViewer(w http.ResponseWriter, r *http.Request) {
	client := &clientConn{remote: r.RemoteAddr}
	admitted := h.reserve(client)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("upgrade viewer ws failed: remote=%s err=%v", r.RemoteAddr, err)
		if admitted {
			h.release(client)
		}
		return
	}

	if !admitted {
		h.log.Infof("viewer rejected: remote=%s reason=slot occupied", r.RemoteAddr)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "another viewer is connected")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	if h.maxMessageBytes > 0 {
		conn.SetReadLimit(h.maxMessageBytes)
	}
	h.attach(client, conn)
	h.log.Infof("viewer connected: remote=%s", r.RemoteAddr)
	h.readViewer(client)
}

func (h *Hub) reserve(client *clientConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.slot != nil {
		return false
	}
	h.slot = client
	return true
}

func (h *Hub) attach(client *clientConn, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.conn = conn
	h.broadcastLocked()
}

func (h *Hub) release(client *clientConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.slot == client {
		h.slot = nil
		h.broadcastLocked()
	}
}

func (h *Hub) broadcastLocked() {
	close(h.changed)
	h.changed = make(chan struct{})
}

func (h *Hub) readViewer(client *clientConn) {
	defer func() {
		h.release(client)
		_ = client.conn.Close()
		h.log.Infof("viewer disconnected: remote=%s", client.remote)
	}()

	for {
		messageType, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warnf("recv viewer->controller failed: remote=%s err=%v", client.remote, err)
			}
			return
		}
		switch messageType {
		case websocket.TextMessage:
			h.onMessage(protocol.Frame{Text: true, Data: data})
		case websocket.BinaryMessage:
			h.onMessage(protocol.Frame{Data: data})
		}
	}
}

func (h *Hub) waitActive(ctx context.Context) (*clientConn, error) {
	for {
		h.mu.Lock()
		if h.slot != nil && h.slot.conn != nil {
			client := h.slot
			h.mu.Unlock()
			return client, nil
		}
		changed := h.changed
		h.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		}
	}
}

// Run is the single writer: it drains the outbox in FIFO order onto the
// active connection, waiting for a viewer when none is connected. A frame
// whose write fails is dropped and the connection is closed.
func (h *Hub) Run(ctx context.Context) error {
	for {
		frame, err := h.outbox.Pop(ctx)
		if err != nil {
			return nil
		}
		client, err := h.waitActive(ctx)
		if err != nil {
			return nil
		}
		if err := client.WriteFrame(frame); err != nil {
			h.log.Warnf("send controller->viewer failed: remote=%s bytes=%d err=%v", client.remote, len(frame.Data), err)
			_ = client.conn.Close()
			continue
		}
		h.log.Debugf("send controller->viewer: remote=%s bytes=%d text=%t", client.remote, len(frame.Data), frame.Text)
	}
}

// Close disconnects the active viewer, if any.
func (h *Hub) Close() {
	h.mu.Lock()
	var conn *websocket.Conn
	if h.slot != nil {
		conn = h.slot.conn
	}
	h.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}
