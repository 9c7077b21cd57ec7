package core

// Client is one transport connection as seen by the core layer.
// Rooms is owned by the hub goroutine.
type Client struct {
	ID     string
	Events chan *Event
	rooms  map[string]struct{}
}

// NewClient constructs a client with an initialized event channel.
func NewClient(id string) *Client {
	return &Client{
		ID:     id,
		Events: make(chan *Event, 32),
		rooms:  make(map[string]struct{}),
	}
}
