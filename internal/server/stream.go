package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// statusHub pushes the composite status to websocket clients at the
// configured refresh interval, sparing the browser UI from polling
// /api/status.
type statusHub struct {
	app      *App
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
}

func newStatusHub(app *App) *statusHub {
	return &statusHub{
		app: app,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Same-origin browser UI; the session cookie already gates access.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: map[*websocket.Conn]struct{}{},
	}
}

// serve upgrades the request and streams status payloads until the client
// goes away or the hub closes.
func (h *statusHub) serve(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return nil
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return nil
	}
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(conn)
	return nil
}

func (h *statusHub) writeLoop(conn *websocket.Conn) {
	defer h.drop(conn)

	// Discard client messages but notice disconnects.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for {
		payload := h.app.statusSnapshot()
		if err := conn.WriteJSON(payload); err != nil {
			return
		}
		interval := time.Duration(payload.RefreshInterval) * time.Second
		if interval < time.Second {
			interval = time.Second
		}
		time.Sleep(interval)

		h.mu.Lock()
		closed := h.closed
		h.mu.Unlock()
		if closed {
			return
		}
	}
}

func (h *statusHub) drop(conn *websocket.Conn) {
	conn.Close()
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
}

func (h *statusHub) close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
}
