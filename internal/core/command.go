package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandJoin subscribes the client to a user's room.
	CommandJoin CommandKind = iota
	// CommandLeave unsubscribes the client from a user's room.
	CommandLeave
)

// Command represents an action requested by a client.
type Command struct {
	Kind   CommandKind
	UserID string
}

type clientCommand struct {
	client *Client
	cmd    *Command
}
