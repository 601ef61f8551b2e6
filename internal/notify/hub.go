// Package notify delivers asynchronous room-update frames to the push
// connection of each online user. Delivery is best-effort and lossy: a user
// without a bound listener, or with a full outbound queue, simply misses the
// update.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"roomchat/internal/domain"
	"roomchat/internal/protocol"
)

// DefaultBuffer is the per-listener outbound queue depth.
const DefaultBuffer = 64

// Hub tracks one push listener per username and fans accepted messages out to
// them. Enqueueing is non-blocking; a dedicated sender goroutine per listener
// drains the queue onto the socket, so a slow or dead push connection never
// stalls command processing or the registry lock.
type Hub struct {
	mu        sync.RWMutex
	listeners map[string]*listener
	buffer    int
	logger    *logrus.Logger
	wg        sync.WaitGroup
}

type listener struct {
	username string
	conn     protocol.Conn
	send     chan []byte
}

// NewHub creates a hub. buffer <= 0 applies DefaultBuffer.
func NewHub(buffer int, logger *logrus.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		listeners: make(map[string]*listener),
		buffer:    buffer,
		logger:    logger,
	}
}

// Bind installs conn as the user's push sink, replacing any previous binding.
// The previous listener's queue is closed and its connection shut down.
func (h *Hub) Bind(username string, conn protocol.Conn) {
	l := &listener{
		username: username,
		conn:     conn,
		send:     make(chan []byte, h.buffer),
	}

	h.mu.Lock()
	prev := h.listeners[username]
	h.listeners[username] = l
	h.mu.Unlock()

	if prev != nil {
		close(prev.send)
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		l.run(h)
	}()
	h.logger.Infof("push listener bound for %s (%s)", username, conn.RemoteAddr())
}

// Unbind drops the binding if conn is still the user's current listener.
// Called when the listen connection's read loop observes a close.
func (h *Hub) Unbind(username string, conn protocol.Conn) {
	h.mu.Lock()
	l, ok := h.listeners[username]
	if !ok || l.conn != conn {
		h.mu.Unlock()
		return
	}
	delete(h.listeners, username)
	h.mu.Unlock()

	close(l.send)
	h.logger.Infof("push listener unbound for %s", username)
}

// Publish enqueues the update frame for each recipient with a bound listener.
// It never blocks: a full queue drops the update for that recipient only.
// Safe to call with the registry lock held.
func (h *Hub) Publish(msg domain.Message, recipients []string) {
	if len(recipients) == 0 {
		return
	}
	payload := protocol.UpdatePayload(msg)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, username := range recipients {
		l, ok := h.listeners[username]
		if !ok {
			continue
		}
		select {
		case l.send <- payload:
		default:
			h.logger.Warnf("push queue full for %s; dropping update for room %q", username, msg.RoomName)
		}
	}
}

// HasListener reports whether the user currently has a bound push sink.
func (h *Hub) HasListener(username string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.listeners[username]
	return ok
}

// Shutdown closes all listeners and waits for their senders to finish, up to
// the given timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.mu.Lock()
	for username, l := range h.listeners {
		delete(h.listeners, username)
		close(l.send)
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some senders may still be running")
		return context.DeadlineExceeded
	}
}

// run drains the outbound queue onto the push connection until the queue is
// closed or a write fails. A failed write unbinds this listener only; other
// recipients are unaffected.
func (l *listener) run(h *Hub) {
	defer l.conn.Close()

	for payload := range l.send {
		if err := l.conn.WriteFrame(payload); err != nil {
			h.logger.Warnf("push write to %s failed: %v", l.username, err)
			h.Unbind(l.username, l.conn)
			// Drain so a concurrent Publish cannot observe a closed queue
			// before Unbind removes the listener.
			for range l.send {
			}
			return
		}
	}
}
