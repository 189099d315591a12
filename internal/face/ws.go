package face

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/hibiki-voice/hibiki/internal/playback"
	"github.com/hibiki-voice/hibiki/pkg/provider/tts"
)

// shapeMessage is the JSON pushed to websocket overlay clients.
type shapeMessage struct {
	Type  string `json:"type"`
	Shape string `json:"shape"`
}

// WSBroadcaster fans mouth-shape updates out to connected websocket clients
// (browser overlays rendering the avatar). It implements both
// playback.MouthSink and http.Handler; mount the handler wherever the
// overlay connects.
type WSBroadcaster struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	last    tts.MouthShape
	closed  bool
}

var _ playback.MouthSink = (*WSBroadcaster)(nil)
var _ http.Handler = (*WSBroadcaster)(nil)

// NewWSBroadcaster creates an empty broadcaster.
func NewWSBroadcaster(logger *slog.Logger) *WSBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSBroadcaster{
		logger:  logger,
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the client. The current
// shape is sent immediately so a reconnecting overlay renders correctly
// without waiting for the next change.
func (b *WSBroadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		b.logger.Warn("overlay accept failed", "error", err)
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	b.clients[conn] = struct{}{}
	last := b.last
	b.mu.Unlock()

	b.send(conn, last)

	// Hold the connection open; overlays never send application data, but a
	// read is needed to notice the close.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}

	b.mu.Lock()
	delete(b.clients, conn)
	b.mu.Unlock()
	conn.Close(websocket.StatusNormalClosure, "")
}

// SetMouth broadcasts the shape to every connected client.
func (b *WSBroadcaster) SetMouth(_ context.Context, shape tts.MouthShape) error {
	b.mu.Lock()
	b.last = shape
	conns := make([]*websocket.Conn, 0, len(b.clients))
	for c := range b.clients {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		b.send(c, shape)
	}
	return nil
}

// Close disconnects all clients.
func (b *WSBroadcaster) Close() error {
	b.mu.Lock()
	b.closed = true
	conns := make([]*websocket.Conn, 0, len(b.clients))
	for c := range b.clients {
		conns = append(conns, c)
	}
	b.clients = make(map[*websocket.Conn]struct{})
	b.mu.Unlock()

	for _, c := range conns {
		c.Close(websocket.StatusGoingAway, "shutting down")
	}
	return nil
}

func (b *WSBroadcaster) send(conn *websocket.Conn, shape tts.MouthShape) {
	msg, _ := json.Marshal(shapeMessage{Type: "mouth", Shape: shape.String()})
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
		b.logger.Debug("overlay write failed", "error", err)
	}
}
