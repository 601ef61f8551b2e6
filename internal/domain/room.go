package domain

// BroadcastRoom is the universal room. It always exists, every authenticated
// user may read and post in it, and it is never deleted.
const BroadcastRoom = "Broadcast"

// Room is a named message channel with an explicit participant set and an
// append-only message log. The Broadcast room keeps an empty participant set;
// membership checks special-case it instead.
type Room struct {
	Name         string
	Participants map[string]struct{}
	Messages     []Message
}

// NewRoom creates an empty room.
func NewRoom(name string) *Room {
	return &Room{
		Name:         name,
		Participants: make(map[string]struct{}),
	}
}

// HasParticipant reports whether username is an explicit participant.
func (r *Room) HasParticipant(username string) bool {
	_, ok := r.Participants[username]
	return ok
}
