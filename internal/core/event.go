package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventJoined acknowledges that the client is a member of a user room.
	EventJoined EventKind = iota
	// EventNewMessage delivers a stored message to sender and receiver rooms.
	EventNewMessage
	// EventMessagesRead tells a sender that their messages were seen.
	EventMessagesRead
	// EventError notifies clients about a domain error.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventJoined:
		return "joined"
	case EventNewMessage:
		return "new_message"
	case EventMessagesRead:
		return "messages_read"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind    EventKind
	User    string
	Message *Message     // EventNewMessage
	Receipt *ReadReceipt // EventMessagesRead
	Error   *CoreError
}
