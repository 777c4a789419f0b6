package testutil

import (
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

func (b *Backend) socket(c echo.Context) error {
	if b.authenticate(c.Request()) == nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "not authenticated"})
	}
	conn, err := b.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil // the upgrader already answered
	}

	b.mu.Lock()
	b.sockets[conn] = true
	b.mu.Unlock()

	// drain until the client goes away
	for {
		if _, _, err = conn.ReadMessage(); err != nil {
			break
		}
	}

	b.mu.Lock()
	delete(b.sockets, conn)
	b.mu.Unlock()
	_ = conn.Close()
	return nil
}

// Sockets reports how many websocket clients are connected.
func (b *Backend) Sockets() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sockets)
}

// WaitSockets waits until exactly n websocket clients are connected.
func (b *Backend) WaitSockets(t *testing.T, n int) {
	t.Helper()
	Eventually(t, func() bool { return b.Sockets() == n }, "want %d sockets, got %d", n, b.Sockets())
}

// Push sends an event frame to every connected websocket client.
func (b *Backend) Push(t *testing.T, event string, data interface{}) {
	t.Helper()

	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.sockets {
		if err := conn.WriteJSON(map[string]interface{}{"event": event, "data": data}); err != nil {
			t.Fatalf("Push() failed: %v", err)
		}
	}
}

// CloseSockets drops every websocket client.
func (b *Backend) CloseSockets() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.sockets {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

// Eventually polls cond for up to two seconds.
func Eventually(t *testing.T, cond func() bool, msg string, args ...interface{}) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf(msg, args...)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
