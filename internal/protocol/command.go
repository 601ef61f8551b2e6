package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Delimiter separates the action tag and positional arguments inside a frame.
// Arguments are not escaped, so a delimiter inside message text mis-parses;
// that is a known limitation of the wire format, kept for compatibility.
const Delimiter = "|"

// Action identifies a client command. Tags are matched case-sensitively.
type Action string

const (
	ActionRegister        Action = "REGISTER"
	ActionLogin           Action = "LOGIN"
	ActionListen          Action = "LISTEN"
	ActionSendRooms       Action = "SEND_ROOMS"
	ActionSelectRoom      Action = "SELECT_ROOM"
	ActionSendMessage     Action = "SEND_MESSAGE"
	ActionCreateRoom      Action = "CREATE_ROOM"
	ActionAddParticipants Action = "ADD_PARTICIPANTS"
	ActionLogout          Action = "LOGOUT"
)

// ErrUnknownCommand is returned for a tag outside the fixed vocabulary.
// Handlers treat it as a protocol violation and close the connection.
var ErrUnknownCommand = errors.New("unknown command tag")

// Command is a parsed client frame: a closed action tag plus its arguments.
type Command struct {
	Action Action
	Args   []string
}

// Arg returns the i-th positional argument or "" when absent.
func (c Command) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// ParseCommand splits a frame payload into an action tag and its arguments.
func ParseCommand(payload string) (Command, error) {
	fields := strings.Split(payload, Delimiter)
	action := Action(fields[0])
	switch action {
	case ActionRegister, ActionLogin, ActionListen, ActionSendRooms,
		ActionSelectRoom, ActionSendMessage, ActionCreateRoom,
		ActionAddParticipants, ActionLogout:
		return Command{Action: action, Args: fields[1:]}, nil
	}
	return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, fields[0])
}
