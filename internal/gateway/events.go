package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// writeTimeout bounds one websocket write so a stalled client cannot
// block the publisher.
const writeTimeout = 5 * time.Second

// Broadcaster fans job outcomes out to connected websocket clients.
// Slow or broken clients are dropped, never waited on.
type Broadcaster struct {
	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
	logger *slog.Logger
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		conns:  make(map[*websocket.Conn]struct{}),
		logger: logger,
	}
}

// Len returns the current subscriber count.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// Publish sends the JSON encoding of v to every subscriber. Encoding
// failures are logged and dropped; per-connection write failures evict
// the connection.
func (b *Broadcaster) Publish(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("event encode failed", "error", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			delete(b.conns, conn)
			_ = conn.Close(websocket.StatusGoingAway, "write failed")
		}
	}
}

// ServeHTTP upgrades the request and holds the connection open until the
// client disconnects or the broadcaster closes.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket accept failed", "error", err)
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	b.conns[conn] = struct{}{}
	b.mu.Unlock()

	// Drain client frames to process control messages; any read error
	// means the client went away.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}

	b.mu.Lock()
	delete(b.conns, conn)
	b.mu.Unlock()
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// Close evicts every subscriber and rejects future ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for conn := range b.conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(b.conns, conn)
	}
}
