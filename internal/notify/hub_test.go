package notify

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomchat/internal/domain"
)

// fakeConn records written frames. Reads block until the conn is closed.
type fakeConn struct {
	frames    chan []byte
	closed    chan struct{}
	failWrite bool
	gate      chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 128),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	<-c.closed
	return nil, errors.New("closed")
}

func (c *fakeConn) WriteFrame(payload []byte) error {
	if c.gate != nil {
		<-c.gate
	}
	if c.failWrite {
		return errors.New("write failed")
	}
	c.frames <- payload
	return nil
}

func (c *fakeConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "fake" }

func (c *fakeConn) recv(t *testing.T) string {
	t.Helper()
	select {
	case payload := <-c.frames:
		return string(payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for push frame")
		return ""
	}
}

func newTestHub(buffer int) *Hub {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewHub(buffer, logger)
}

func msg(text string) domain.Message {
	return domain.Message{RoomName: "team", Author: "alice", Text: text}
}

func TestPublishDeliversInOrder(t *testing.T) {
	hub := newTestHub(0)
	conn := newFakeConn()
	hub.Bind("bob", conn)

	hub.Publish(msg("one"), []string{"bob"})
	hub.Publish(msg("two"), []string{"bob"})
	hub.Publish(msg("three"), []string{"bob"})

	assert.Equal(t, "UPDATE|team|alice|one", conn.recv(t))
	assert.Equal(t, "UPDATE|team|alice|two", conn.recv(t))
	assert.Equal(t, "UPDATE|team|alice|three", conn.recv(t))
}

func TestPublishSkipsUnboundRecipients(t *testing.T) {
	hub := newTestHub(0)
	conn := newFakeConn()
	hub.Bind("bob", conn)

	hub.Publish(msg("hi"), []string{"carol", "bob"})
	assert.Equal(t, "UPDATE|team|alice|hi", conn.recv(t))
	assert.False(t, hub.HasListener("carol"))
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	hub := newTestHub(1)
	conn := newFakeConn()
	conn.gate = make(chan struct{})
	hub.Bind("bob", conn)

	// First update occupies the sender, second fills the queue, the rest are
	// dropped without blocking.
	hub.Publish(msg("0"), []string{"bob"})
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.listeners["bob"].send) == 0
	}, time.Second, 5*time.Millisecond)

	for i := 1; i < 5; i++ {
		hub.Publish(msg("x"), []string{"bob"})
	}

	close(conn.gate)
	assert.Equal(t, "UPDATE|team|alice|0", conn.recv(t))
	assert.Equal(t, "UPDATE|team|alice|x", conn.recv(t))

	select {
	case payload := <-conn.frames:
		t.Fatalf("unexpected extra frame %q", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBindReplacesPreviousListener(t *testing.T) {
	hub := newTestHub(0)
	old := newFakeConn()
	hub.Bind("bob", old)

	replacement := newFakeConn()
	hub.Bind("bob", replacement)

	// The old connection is shut down once its sender drains.
	select {
	case <-old.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("previous listener connection was not closed")
	}

	hub.Publish(msg("hi"), []string{"bob"})
	assert.Equal(t, "UPDATE|team|alice|hi", replacement.recv(t))
}

func TestWriteFailureUnbindsOnlyThatListener(t *testing.T) {
	hub := newTestHub(0)
	broken := newFakeConn()
	broken.failWrite = true
	healthy := newFakeConn()

	hub.Bind("bob", broken)
	hub.Bind("carol", healthy)

	hub.Publish(msg("hi"), []string{"bob", "carol"})

	assert.Equal(t, "UPDATE|team|alice|hi", healthy.recv(t))
	require.Eventually(t, func() bool { return !hub.HasListener("bob") }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, hub.HasListener("carol"))
}

func TestUnbindIgnoresStaleConn(t *testing.T) {
	hub := newTestHub(0)
	old := newFakeConn()
	hub.Bind("bob", old)
	replacement := newFakeConn()
	hub.Bind("bob", replacement)

	// Unbinding with the superseded conn must not drop the current one.
	hub.Unbind("bob", old)
	assert.True(t, hub.HasListener("bob"))

	hub.Unbind("bob", replacement)
	assert.False(t, hub.HasListener("bob"))
}

func TestShutdownClosesListeners(t *testing.T) {
	hub := newTestHub(0)
	conn := newFakeConn()
	hub.Bind("bob", conn)

	require.NoError(t, hub.Shutdown(2*time.Second))
	assert.False(t, hub.HasListener("bob"))

	select {
	case <-conn.closed:
	case <-time.After(time.Second):
		t.Fatal("listener connection was not closed on shutdown")
	}
}
