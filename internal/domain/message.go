package domain

import "time"

// Message is an immutable chat message accepted into exactly one room's log.
type Message struct {
	ID        string    `json:"id"`
	RoomName  string    `json:"room_name"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
