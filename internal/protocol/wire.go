package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"roomchat/internal/domain"
)

// UpdateTag prefixes unsolicited push frames sent on a listen connection.
const UpdateTag = "UPDATE"

// UpdatePayload builds the push frame announcing a newly accepted message:
// UPDATE|room_name|author|text.
func UpdatePayload(msg domain.Message) []byte {
	return []byte(strings.Join([]string{UpdateTag, msg.RoomName, msg.Author, msg.Text}, Delimiter))
}

// EncodeMessageLog serializes a room's message history for the SELECT_ROOM
// reply. The blob is understood only by this system's own clients.
func EncodeMessageLog(messages []domain.Message) ([]byte, error) {
	if messages == nil {
		messages = []domain.Message{}
	}
	blob, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("encode message log: %w", err)
	}
	return blob, nil
}

// DecodeMessageLog is the inverse of EncodeMessageLog.
func DecodeMessageLog(blob []byte) ([]domain.Message, error) {
	var messages []domain.Message
	if err := json.Unmarshal(blob, &messages); err != nil {
		return nil, fmt.Errorf("decode message log: %w", err)
	}
	return messages, nil
}
