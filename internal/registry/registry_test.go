package registry

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomchat/internal/domain"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return New(logger)
}

type publishEvent struct {
	msg        domain.Message
	recipients []string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []publishEvent
}

func (n *recordingNotifier) Publish(msg domain.Message, recipients []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, publishEvent{msg: msg, recipients: recipients})
}

func (n *recordingNotifier) snapshot() []publishEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]publishEvent(nil), n.events...)
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Register("alice", "pw1")
	require.NoError(t, err)

	_, err = reg.Register("alice", "other")
	assert.ErrorIs(t, err, ErrDuplicateUsername)
}

func TestRegisterValidatesInput(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Register("", "pw")
	assert.Error(t, err)

	_, err = reg.Register("alice", "")
	assert.Error(t, err)
}

func TestBeginSessionFlows(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.Register("alice", "pw1")
	require.NoError(t, err)

	assert.ErrorIs(t, reg.BeginSession("nobody", "pw1", "a"), ErrUnknownUser)
	assert.ErrorIs(t, reg.BeginSession("alice", "wrong", "a"), ErrBadCredential)

	require.NoError(t, reg.BeginSession("alice", "pw1", "addr-1"))
	assert.True(t, reg.IsLoggedIn("alice"))

	// A second login never displaces the first session.
	assert.ErrorIs(t, reg.BeginSession("alice", "pw1", "addr-2"), ErrAlreadyLoggedIn)
	sessions := reg.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "addr-1", sessions[0].RemoteAddr)
}

func TestEndSessionIdempotent(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.Register("alice", "pw1")
	require.NoError(t, err)
	require.NoError(t, reg.BeginSession("alice", "pw1", "a"))

	reg.EndSession("alice")
	assert.False(t, reg.IsLoggedIn("alice"))

	// Second call is a no-op.
	reg.EndSession("alice")
	assert.False(t, reg.IsLoggedIn("alice"))

	// The user survives logout; only the session is transient.
	assert.Contains(t, reg.RegisteredUsernames(), "alice")
	require.NoError(t, reg.BeginSession("alice", "pw1", "b"))
}

func TestVisibleRooms(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.Register("alice", "pw1")
	require.NoError(t, err)

	assert.Equal(t, []string{domain.BroadcastRoom}, reg.VisibleRooms("alice"))

	require.NoError(t, reg.CreateRoom("alice", "team"))
	require.NoError(t, reg.CreateRoom("alice", "announcements"))
	assert.Equal(t, []string{domain.BroadcastRoom, "announcements", "team"}, reg.VisibleRooms("alice"))

	// Non-participants only see Broadcast.
	assert.Equal(t, []string{domain.BroadcastRoom}, reg.VisibleRooms("bob"))
}

func TestCreateRoomRejectsDuplicate(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.CreateRoom("alice", "team"))
	assert.ErrorIs(t, reg.CreateRoom("bob", "team"), ErrRoomExists)
}

func TestRoomAuthorization(t *testing.T) {
	reg := newTestRegistry(t)
	for _, u := range []string{"alice", "bob"} {
		_, err := reg.Register(u, "pw")
		require.NoError(t, err)
	}
	require.NoError(t, reg.CreateRoom("alice", "team"))

	_, err := reg.JoinRoom("bob", "team")
	assert.ErrorIs(t, err, ErrAccessDenied)
	_, err = reg.PostMessage("bob", "team", "hi")
	assert.ErrorIs(t, err, ErrAccessDenied)

	// A missing room is also reported as access denied.
	_, err = reg.JoinRoom("alice", "ghost")
	assert.ErrorIs(t, err, ErrAccessDenied)

	// Broadcast never denies an authenticated user.
	_, err = reg.JoinRoom("bob", domain.BroadcastRoom)
	assert.NoError(t, err)
	_, err = reg.PostMessage("bob", domain.BroadcastRoom, "hi all")
	assert.NoError(t, err)

	// Membership unlocks the room.
	require.NoError(t, reg.AddParticipants("team", []string{"bob"}))
	messages, err := reg.JoinRoom("bob", "team")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestAddParticipantsIgnoresUnknownUsers(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.Register("alice", "pw")
	require.NoError(t, err)
	_, err = reg.Register("bob", "pw")
	require.NoError(t, err)
	require.NoError(t, reg.CreateRoom("alice", "team"))

	require.NoError(t, reg.AddParticipants("team", []string{"bob", "ghost", ""}))

	participants, err := reg.RoomParticipants("team")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, participants)

	assert.ErrorIs(t, reg.AddParticipants("ghost-room", []string{"bob"}), ErrRoomNotFound)
}

func TestPostMessageAppendsInOrder(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.Register("alice", "pw")
	require.NoError(t, err)
	require.NoError(t, reg.CreateRoom("alice", "team"))

	for i := 0; i < 5; i++ {
		_, err := reg.PostMessage("alice", "team", strconv.Itoa(i))
		require.NoError(t, err)
	}

	messages, err := reg.JoinRoom("alice", "team")
	require.NoError(t, err)
	require.Len(t, messages, 5)
	for i, msg := range messages {
		assert.Equal(t, strconv.Itoa(i), msg.Text)
		assert.Equal(t, "alice", msg.Author)
		assert.Equal(t, "team", msg.RoomName)
		assert.NotEmpty(t, msg.ID)
		assert.False(t, msg.CreatedAt.IsZero())
	}
}

// Concurrent posters must never lose or reorder a writer's own messages.
func TestPostMessageConcurrentSerializability(t *testing.T) {
	reg := newTestRegistry(t)

	const writers = 8
	const perWriter = 50

	usernames := make([]string, writers)
	for i := range usernames {
		usernames[i] = fmt.Sprintf("user%d", i)
		_, err := reg.Register(usernames[i], "pw")
		require.NoError(t, err)
	}
	require.NoError(t, reg.CreateRoom(usernames[0], "team"))
	require.NoError(t, reg.AddParticipants("team", usernames))

	var wg sync.WaitGroup
	for _, username := range usernames {
		wg.Add(1)
		go func(username string) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := reg.PostMessage(username, "team", strconv.Itoa(i))
				assert.NoError(t, err)
			}
		}(username)
	}
	wg.Wait()

	messages, err := reg.JoinRoom(usernames[0], "team")
	require.NoError(t, err)
	require.Len(t, messages, writers*perWriter)

	// Each writer's messages appear in its own send order.
	next := make(map[string]int)
	for _, msg := range messages {
		seq, err := strconv.Atoi(msg.Text)
		require.NoError(t, err)
		assert.Equal(t, next[msg.Author], seq, "out-of-order message for %s", msg.Author)
		next[msg.Author]++
	}
}

func TestPostMessageNotifiesOtherOnlineParticipants(t *testing.T) {
	reg := newTestRegistry(t)
	notifier := &recordingNotifier{}
	reg.SetNotifier(notifier)

	for _, u := range []string{"alice", "bob", "carol"} {
		_, err := reg.Register(u, "pw")
		require.NoError(t, err)
	}
	require.NoError(t, reg.CreateRoom("alice", "team"))
	require.NoError(t, reg.AddParticipants("team", []string{"bob", "carol"}))

	// bob online, carol offline.
	require.NoError(t, reg.BeginSession("alice", "pw", "a"))
	require.NoError(t, reg.BeginSession("bob", "pw", "b"))

	_, err := reg.PostMessage("alice", "team", "hello")
	require.NoError(t, err)

	events := notifier.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "hello", events[0].msg.Text)
	assert.Equal(t, []string{"bob"}, events[0].recipients)
}

func TestPostMessageBroadcastNotifiesAllOnlineUsers(t *testing.T) {
	reg := newTestRegistry(t)
	notifier := &recordingNotifier{}
	reg.SetNotifier(notifier)

	for _, u := range []string{"alice", "bob", "carol"} {
		_, err := reg.Register(u, "pw")
		require.NoError(t, err)
		require.NoError(t, reg.BeginSession(u, "pw", u))
	}

	_, err := reg.PostMessage("alice", domain.BroadcastRoom, "hi all")
	require.NoError(t, err)

	events := notifier.snapshot()
	require.Len(t, events, 1)
	got := append([]string(nil), events[0].recipients...)
	sort.Strings(got)
	assert.Equal(t, []string{"bob", "carol"}, got)
}
