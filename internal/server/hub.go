package server

import (
	"context"
	"sync"
	"time"

	"github.com/Tyrowin/chatrelay/internal/logging"
)

// Hub owns every live connection on this instance: it starts their pumps,
// tracks them until the transport closes, and closes them on shutdown.
// Identity lookup lives in the Registry; the Hub only knows connections.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	closing bool
	wg      sync.WaitGroup
	timeout time.Duration
}

// NewHub creates a hub. shutdownTimeout bounds how long shutdown waits for
// client pumps to exit.
func NewHub(shutdownTimeout time.Duration) *Hub {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		timeout: shutdownTimeout,
	}
}

// Attach starts the read and write pumps for c. It returns false if the hub
// is shutting down, in which case the caller must close the transport.
func (h *Hub) Attach(c *Client) bool {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.wg.Add(2)
	h.mu.Unlock()

	activeConnections.Inc()
	c.log().Info().Int("clients", count).Msg("client connected")

	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()
	return true
}

func (h *Hub) detach(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	if ok {
		activeConnections.Dec()
		c.log().Info().Int("clients", count).Msg("client disconnected")
	}
}

// Count returns the number of attached clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RunWithContext blocks until ctx is cancelled, then closes every client.
func (h *Hub) RunWithContext(ctx context.Context) error {
	<-ctx.Done()
	if err := h.Shutdown(h.timeout); err != nil {
		return err
	}
	return ctx.Err()
}

// Shutdown closes all clients and waits for their pumps to finish, or until
// timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.mu.Lock()
	h.closing = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	logging.Info().Int("clients", len(clients)).Msg("shutting down client connections")
	for _, c := range clients {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info().Msg("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		logging.Warn().Dur("timeout", timeout).Msg("hub shutdown timed out, some pumps still running")
		return context.DeadlineExceeded
	}
}

// String implements fmt.Stringer for supervisor logs.
func (h *Hub) String() string { return "websocket-hub" }
