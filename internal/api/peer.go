package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"workbench/pkg/peer"
)

const relayWriteWait = 10 * time.Second

// PeerRelay bridges WebSocket peers and the server's in-process hub. Frames
// from one connection are published on the hub, and everything on the hub is
// written to every connection. Peers drop their own messages by sender.
type PeerRelay struct {
	hub      *peer.Hub
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns int
}

// NewPeerRelay creates a relay on hub.
func NewPeerRelay(hub *peer.Hub) *PeerRelay {
	return &PeerRelay{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Connections returns the number of connected peers.
func (p *PeerRelay) Connections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conns
}

// ServeHTTP upgrades the connection and relays until it closes.
// GET /api/peer
func (p *PeerRelay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("PeerRelay: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	p.mu.Lock()
	p.conns++
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.conns--
		p.mu.Unlock()
	}()

	var writeMu sync.Mutex
	unsubscribe := p.hub.Subscribe(func(msg peer.Message) {
		data, err := json.Marshal(msg)
		if err != nil {
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(relayWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			slog.Debug("PeerRelay: write failed", "error", err)
		}
	})
	defer unsubscribe()

	slog.Debug("PeerRelay: peer connected", "remote", r.RemoteAddr)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("PeerRelay: connection lost", "remote", r.RemoteAddr, "error", err)
			}
			return
		}
		var msg peer.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("PeerRelay: dropping malformed frame", "error", err)
			continue
		}
		ctx, cancel := context.WithTimeout(r.Context(), relayWriteWait)
		err = p.hub.Publish(ctx, msg)
		cancel()
		if err != nil {
			return
		}
	}
}
