// Package registry owns the shared in-memory state of the chat server:
// registered users, live sessions, and rooms with their message logs. Every
// operation is serialized against a single registry-scoped lock; no operation
// performs socket I/O while holding it.
package registry

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"roomchat/internal/domain"
)

var (
	// ErrDuplicateUsername is returned when registering an existing username.
	ErrDuplicateUsername = errors.New("username already exists")
	// ErrUnknownUser is returned when login references an unregistered username.
	ErrUnknownUser = errors.New("unknown user")
	// ErrBadCredential is returned when the password does not match.
	ErrBadCredential = errors.New("username and password don't match")
	// ErrAlreadyLoggedIn is returned when the user already holds a session.
	ErrAlreadyLoggedIn = errors.New("user is already logged in")
	// ErrUnknownSession is returned when binding a listener for a user that is
	// not logged in.
	ErrUnknownSession = errors.New("no session for user")
	// ErrRoomExists is returned when creating a room whose name is taken.
	ErrRoomExists = errors.New("room already exists")
	// ErrRoomNotFound is returned when a named room does not exist.
	ErrRoomNotFound = errors.New("room not found")
	// ErrAccessDenied is returned when a user is not a participant of the room.
	ErrAccessDenied = errors.New("access denied")
)

// Notifier receives accepted messages for asynchronous delivery. Publish is
// called with the registry lock held and must only enqueue, never block.
type Notifier interface {
	Publish(msg domain.Message, recipients []string)
}

// Session is the live binding of an authenticated username to its command
// connection. At most one exists per username at any time.
type Session struct {
	Username   string
	RemoteAddr string
	StartedAt  time.Time
}

// Registry is the mutation-guarded store shared by all connection workers.
type Registry struct {
	mu       sync.RWMutex
	users    map[string]*domain.User
	sessions map[string]Session
	rooms    map[string]*domain.Room

	notifier Notifier
	logger   *logrus.Logger
}

// New creates a registry seeded with the Broadcast room.
func New(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	r := &Registry{
		users:    make(map[string]*domain.User),
		sessions: make(map[string]Session),
		rooms:    make(map[string]*domain.Room),
		logger:   logger,
	}
	r.rooms[domain.BroadcastRoom] = domain.NewRoom(domain.BroadcastRoom)
	return r
}

// SetNotifier installs the fan-out sink. Must be called before connections
// are accepted.
func (r *Registry) SetNotifier(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifier = n
}

// Register creates a new user. The secret is stored as a bcrypt hash.
func (r *Registry) Register(username, secret string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("username is required")
	}
	if secret == "" {
		return nil, errors.New("password is required")
	}

	r.mu.RLock()
	_, exists := r.users[username]
	r.mu.RUnlock()
	if exists {
		return nil, ErrDuplicateUsername
	}

	// Hashing is slow; keep it outside the lock and re-check on insert.
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[username]; exists {
		return nil, ErrDuplicateUsername
	}
	r.users[username] = user
	r.logger.Infof("new user registered: %s", username)
	return user, nil
}

// BeginSession authenticates the user and binds it to a command connection.
// A second attempt for a logged-in user fails without disturbing the first
// session.
func (r *Registry) BeginSession(username, secret, remoteAddr string) error {
	r.mu.RLock()
	user, exists := r.users[username]
	r.mu.RUnlock()
	if !exists {
		return ErrUnknownUser
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(secret)); err != nil {
		return ErrBadCredential
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, active := r.sessions[username]; active {
		return ErrAlreadyLoggedIn
	}
	r.sessions[username] = Session{
		Username:   username,
		RemoteAddr: remoteAddr,
		StartedAt:  time.Now().UTC(),
	}
	r.logger.Infof("session started for %s (%s)", username, remoteAddr)
	return nil
}

// EndSession releases the user's session. Idempotent: ending an absent
// session is a no-op.
func (r *Registry) EndSession(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, active := r.sessions[username]; !active {
		return
	}
	delete(r.sessions, username)
	r.logger.Infof("session ended for %s", username)
}

// IsLoggedIn reports whether the user currently holds a session. Listener
// binding uses it to reject unknown sessions.
func (r *Registry) IsLoggedIn(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, active := r.sessions[username]
	return active
}

// Sessions returns a snapshot of active sessions, sorted by username.
func (r *Registry) Sessions() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// RegisteredUsernames returns all known usernames, sorted.
func (r *Registry) RegisteredUsernames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.users))
	for name := range r.users {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// VisibleRooms lists Broadcast plus every room the user participates in.
// Broadcast comes first, the rest sorted by name.
func (r *Registry) VisibleRooms(username string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.rooms))
	for name, room := range r.rooms {
		if name == domain.BroadcastRoom {
			continue
		}
		if room.HasParticipant(username) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return append([]string{domain.BroadcastRoom}, names...)
}

// CreateRoom creates a room with the creator as its sole participant.
func (r *Registry) CreateRoom(username, roomName string) error {
	roomName = strings.TrimSpace(roomName)
	if roomName == "" {
		return errors.New("room name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rooms[roomName]; exists {
		return ErrRoomExists
	}
	room := domain.NewRoom(roomName)
	room.Participants[username] = struct{}{}
	r.rooms[roomName] = room
	r.logger.Infof("room %q created by %s", roomName, username)
	return nil
}

// AddParticipants adds the given registered usernames to the room. Unknown
// usernames are silently ignored; there is no removal path.
func (r *Registry) AddParticipants(roomName string, usernames []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[roomName]
	if !exists {
		return ErrRoomNotFound
	}
	for _, name := range usernames {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, known := r.users[name]; !known {
			r.logger.Debugf("ignoring unknown participant %q for room %q", name, roomName)
			continue
		}
		room.Participants[name] = struct{}{}
	}
	return nil
}

// JoinRoom authorizes the user for the room and returns a snapshot of its
// message log in append order.
func (r *Registry) JoinRoom(username, roomName string) ([]domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, err := r.authorizedRoom(username, roomName)
	if err != nil {
		return nil, err
	}
	return append([]domain.Message(nil), room.Messages...), nil
}

// PostMessage appends a message to the room log and hands it to the notifier
// for fan-out to every other online participant. The append and the enqueue
// happen inside one critical section so per-room delivery order always equals
// append order.
func (r *Registry) PostMessage(username, roomName, text string) (domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, err := r.authorizedRoom(username, roomName)
	if err != nil {
		return domain.Message{}, err
	}

	msg := domain.Message{
		ID:        uuid.NewString(),
		RoomName:  roomName,
		Author:    username,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	room.Messages = append(room.Messages, msg)

	if r.notifier != nil {
		r.notifier.Publish(msg, r.onlineRecipients(room, username))
	}
	return msg, nil
}

// RoomNames returns all room names, Broadcast first.
func (r *Registry) RoomNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.rooms))
	for name := range r.rooms {
		if name == domain.BroadcastRoom {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return append([]string{domain.BroadcastRoom}, names...)
}

// RoomMessages returns the room log regardless of membership. Serves the
// read-only admin surface, not the wire protocol.
func (r *Registry) RoomMessages(roomName string) ([]domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, exists := r.rooms[roomName]
	if !exists {
		return nil, ErrRoomNotFound
	}
	return append([]domain.Message(nil), room.Messages...), nil
}

// RoomParticipants returns the participant set of a room, sorted.
func (r *Registry) RoomParticipants(roomName string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, exists := r.rooms[roomName]
	if !exists {
		return nil, ErrRoomNotFound
	}
	out := make([]string, 0, len(room.Participants))
	for name := range room.Participants {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// authorizedRoom resolves the room and enforces the membership rule: any
// authenticated user may use Broadcast, everything else requires explicit
// participation. A missing room is reported as access denied, matching the
// command protocol's single failure reply.
func (r *Registry) authorizedRoom(username, roomName string) (*domain.Room, error) {
	room, exists := r.rooms[roomName]
	if !exists {
		return nil, ErrAccessDenied
	}
	if roomName != domain.BroadcastRoom && !room.HasParticipant(username) {
		return nil, ErrAccessDenied
	}
	return room, nil
}

// onlineRecipients lists every online participant of the room except the
// author. For Broadcast this is every logged-in user. Caller must hold the
// lock.
func (r *Registry) onlineRecipients(room *domain.Room, author string) []string {
	var recipients []string
	if room.Name == domain.BroadcastRoom {
		for name := range r.sessions {
			if name != author {
				recipients = append(recipients, name)
			}
		}
		return recipients
	}
	for name := range room.Participants {
		if name == author {
			continue
		}
		if _, online := r.sessions[name]; online {
			recipients = append(recipients, name)
		}
	}
	return recipients
}
