package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"roomchat/internal/notify"
	"roomchat/internal/protocol"
	"roomchat/internal/registry"
)

// Reply texts are part of the wire contract with existing clients.
const (
	replyJoinedRoom   = "SUCCESSFULLY JOINED ROOM!"
	replyAccessDenied = "Access Denied!"
	replySentMessage  = "SUCCESSFULLY SENT MESSAGE!"
	replyLoginOK      = "Login successful!"
	replyLogoutOK     = "Logout successful!"
)

// SessionHandler runs the per-connection protocol state machine:
// Unauthenticated accepts REGISTER, LOGIN and LISTEN; a successful login
// enters the authenticated command loop until LOGOUT or a transport error.
type SessionHandler struct {
	conn    protocol.Conn
	reg     *registry.Registry
	hub     *notify.Hub
	limiter *rateLimiter
	logger  *logrus.Logger

	username string
}

// NewSessionHandler wires a handler for one accepted connection.
func NewSessionHandler(conn protocol.Conn, reg *registry.Registry, hub *notify.Hub, rl RateLimitConfig, logger *logrus.Logger) *SessionHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &SessionHandler{
		conn:    conn,
		reg:     reg,
		hub:     hub,
		limiter: newRateLimiter(rl.Burst, rl.RefillInterval),
		logger:  logger,
	}
}

// Run drives the connection until it terminates. It always performs the same
// cleanup as an explicit LOGOUT: the session is released and the connection
// closed. The push-listener binding, if any, is left for the next LISTEN to
// replace.
func (h *SessionHandler) Run() {
	defer h.cleanup()

	for {
		payload, err := h.conn.ReadFrame()
		if err != nil {
			if !errors.Is(err, protocol.ErrConnectionClosed) {
				h.logger.Warnf("read from %s: %v", h.conn.RemoteAddr(), err)
			}
			return
		}

		cmd, err := protocol.ParseCommand(string(payload))
		if err != nil {
			h.logger.Warnf("protocol violation from %s: %v", h.conn.RemoteAddr(), err)
			return
		}

		var handlerErr error
		if h.username == "" {
			handlerErr = h.dispatchUnauthenticated(cmd)
		} else {
			handlerErr = h.dispatchAuthenticated(cmd)
		}
		if handlerErr != nil {
			if errors.Is(handlerErr, errTerminate) {
				return
			}
			h.logger.Warnf("session %s (%s): %v", h.username, h.conn.RemoteAddr(), handlerErr)
			return
		}
	}
}

// errTerminate signals an orderly end of the connection loop.
var errTerminate = errors.New("session terminated")

func (h *SessionHandler) dispatchUnauthenticated(cmd protocol.Command) error {
	switch cmd.Action {
	case protocol.ActionRegister:
		return h.handleRegister(cmd)
	case protocol.ActionLogin:
		return h.handleLogin(cmd)
	case protocol.ActionListen:
		return h.handleListen(cmd)
	default:
		return fmt.Errorf("command %s requires authentication", cmd.Action)
	}
}

func (h *SessionHandler) dispatchAuthenticated(cmd protocol.Command) error {
	switch cmd.Action {
	case protocol.ActionSendRooms:
		return h.handleSendRooms()
	case protocol.ActionSelectRoom:
		return h.handleSelectRoom(cmd)
	case protocol.ActionSendMessage:
		return h.handleSendMessage(cmd)
	case protocol.ActionCreateRoom:
		return h.handleCreateRoom(cmd)
	case protocol.ActionAddParticipants:
		return h.handleAddParticipants(cmd)
	case protocol.ActionLogout:
		return h.handleLogout()
	default:
		return fmt.Errorf("command %s not valid in authenticated state", cmd.Action)
	}
}

func (h *SessionHandler) handleRegister(cmd protocol.Command) error {
	username, password := cmd.Arg(0), cmd.Arg(1)

	_, err := h.reg.Register(username, password)
	switch {
	case err == nil:
		return h.reply(fmt.Sprintf("Registration successful! You can now login with username '%s'.", username))
	case errors.Is(err, registry.ErrDuplicateUsername):
		return h.reply("Registration failed! Username already exists!")
	default:
		h.logger.Warnf("registration for %q failed: %v", username, err)
		return h.reply("Registration failed!")
	}
}

func (h *SessionHandler) handleLogin(cmd protocol.Command) error {
	username, password := cmd.Arg(0), cmd.Arg(1)
	if username == "" || password == "" {
		return h.reply("Login failed.")
	}

	err := h.reg.BeginSession(username, password, h.conn.RemoteAddr())
	switch {
	case err == nil:
		h.username = username
		return h.reply(replyLoginOK)
	case errors.Is(err, registry.ErrUnknownUser):
		return h.reply("Login failed.")
	case errors.Is(err, registry.ErrBadCredential):
		return h.reply("Login failed. Username and Password don't match.")
	case errors.Is(err, registry.ErrAlreadyLoggedIn):
		return h.reply("Login failed. User is already logged in.")
	default:
		return h.reply("Login failed.")
	}
}

// handleListen turns this connection into the user's push sink. The worker
// then only waits for the peer to go away; it never becomes a command
// session, so cleanup here must not touch the user's session.
func (h *SessionHandler) handleListen(cmd protocol.Command) error {
	username := cmd.Arg(0)
	if !h.reg.IsLoggedIn(username) {
		return fmt.Errorf("%w: %q", registry.ErrUnknownSession, username)
	}

	h.hub.Bind(username, h.conn)

	// Block until the peer closes. Anything it sends on a push connection is
	// ignored.
	for {
		if _, err := h.conn.ReadFrame(); err != nil {
			h.hub.Unbind(username, h.conn)
			return errTerminate
		}
	}
}

func (h *SessionHandler) handleSendRooms() error {
	rooms := h.reg.VisibleRooms(h.username)
	return h.reply(strings.Join(rooms, protocol.Delimiter))
}

func (h *SessionHandler) handleSelectRoom(cmd protocol.Command) error {
	roomName := cmd.Arg(0)

	messages, err := h.reg.JoinRoom(h.username, roomName)
	if err != nil {
		return h.reply(replyAccessDenied)
	}

	if err := h.reply(replyJoinedRoom); err != nil {
		return err
	}
	blob, err := protocol.EncodeMessageLog(messages)
	if err != nil {
		return err
	}
	return h.conn.WriteFrame(blob)
}

func (h *SessionHandler) handleSendMessage(cmd protocol.Command) error {
	roomName, text := cmd.Arg(0), cmd.Arg(1)

	if !h.limiter.allow() {
		h.logger.Warnf("rate limit exceeded for %s; discarding message", h.username)
		return nil
	}

	if _, err := h.reg.PostMessage(h.username, roomName, text); err != nil {
		// Denied sends are silently dropped; the client gets no reply.
		h.logger.Debugf("message from %s to %q rejected: %v", h.username, roomName, err)
		return nil
	}
	return h.reply(replySentMessage)
}

func (h *SessionHandler) handleCreateRoom(cmd protocol.Command) error {
	roomName := cmd.Arg(0)
	if err := h.reg.CreateRoom(h.username, roomName); err != nil {
		h.logger.Warnf("create room %q by %s failed: %v", roomName, h.username, err)
	}
	return nil
}

// handleAddParticipants replies with the candidate usernames, then reads one
// follow-up frame carrying the chosen ones. A missing room yields an empty
// candidate list and no follow-up read.
func (h *SessionHandler) handleAddParticipants(cmd protocol.Command) error {
	roomName := cmd.Arg(0)

	if _, err := h.reg.RoomParticipants(roomName); err != nil {
		return h.reply("")
	}

	candidates := h.reg.RegisteredUsernames()
	if err := h.reply(strings.Join(candidates, protocol.Delimiter)); err != nil {
		return err
	}

	payload, err := h.conn.ReadFrame()
	if err != nil {
		return err
	}
	chosen := strings.Split(string(payload), protocol.Delimiter)
	if err := h.reg.AddParticipants(roomName, chosen); err != nil {
		h.logger.Warnf("add participants to %q failed: %v", roomName, err)
	}
	return nil
}

func (h *SessionHandler) handleLogout() error {
	if err := h.reply(replyLogoutOK); err != nil {
		return err
	}
	return errTerminate
}

func (h *SessionHandler) reply(text string) error {
	return h.conn.WriteFrame([]byte(text))
}

func (h *SessionHandler) cleanup() {
	if h.username != "" {
		h.reg.EndSession(h.username)
	}
	if err := h.conn.Close(); err != nil && !isExpectedCloseError(err) {
		h.logger.Debugf("close %s: %v", h.conn.RemoteAddr(), err)
	}
}

// isExpectedCloseError filters the errors every shutdown produces.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "use of closed network connection") ||
		strings.Contains(s, "broken pipe")
}
