package core

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

const (
	defaultDedupSize = 4096
	defaultDedupTTL  = 5 * time.Minute
)

// Options tunes the hub.
type Options struct {
	// DedupSize bounds how many delivered message ids are remembered.
	DedupSize int
	// DedupTTL is how long a delivered message id suppresses repeats.
	DedupTTL time.Duration
}

type delivery struct {
	rooms []string
	event *Event
}

type roomsQuery struct {
	reply chan map[string]int
}

// Hub owns the per-user room map. All state is touched only by the Run
// goroutine; other goroutines talk to it over channels.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	commands   chan clientCommand
	deliveries chan delivery
	queries    chan roomsQuery

	rooms   map[string]*Room
	clients map[*Client]struct{}
	seen    *expirable.LRU[string, struct{}]

	running atomic.Bool
	stopped chan struct{}
	log     *zerolog.Logger
}

// NewHub creates a new hub. Run must be called before emits are accepted.
func NewHub(logger *zerolog.Logger, opts Options) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.DedupSize <= 0 {
		opts.DedupSize = defaultDedupSize
	}
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = defaultDedupTTL
	}

	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		commands:   make(chan clientCommand, 64),
		deliveries: make(chan delivery, 256),
		queries:    make(chan roomsQuery),
		rooms:      make(map[string]*Room),
		clients:    make(map[*Client]struct{}),
		seen:       expirable.NewLRU[string, struct{}](opts.DedupSize, nil, opts.DedupTTL),
		stopped:    make(chan struct{}),
		log:        logger,
	}
}

// Run processes hub traffic until ctx is cancelled. It must be called once.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		close(h.stopped)
		for c := range h.clients {
			close(c.Events)
		}
		h.clients = nil
		h.rooms = nil
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
		case c := <-h.unregister:
			h.removeClient(c)
		case cc := <-h.commands:
			h.handleCommand(cc.client, cc.cmd)
		case d := <-h.deliveries:
			h.deliver(d)
		case q := <-h.queries:
			sizes := make(map[string]int, len(h.rooms))
			for id, room := range h.rooms {
				sizes[id] = room.Len()
			}
			q.reply <- sizes
		}
	}
}

// Running reports whether the event loop is accepting work.
func (h *Hub) Running() bool {
	return h.running.Load()
}

// RegisterClient makes the client known to the hub.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.stopped:
	}
}

// UnregisterClient removes the client from every room and closes its event channel.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopped:
	}
}

// Join adds the client to userID's room. Joining twice is harmless.
func (h *Hub) Join(c *Client, userID string) {
	h.command(c, &Command{Kind: CommandJoin, UserID: userID})
}

// Leave removes the client from userID's room.
func (h *Hub) Leave(c *Client, userID string) {
	h.command(c, &Command{Kind: CommandLeave, UserID: userID})
}

func (h *Hub) command(c *Client, cmd *Command) {
	select {
	case h.commands <- clientCommand{client: c, cmd: cmd}:
	case <-h.stopped:
	}
}

// EmitNewMessage sends new_message to the sender's and receiver's rooms.
// A message id already delivered within the dedup window is dropped.
func (h *Hub) EmitNewMessage(msg *Message) error {
	if msg == nil || msg.ID == "" || msg.SenderID == "" || msg.ReceiverID == "" {
		h.log.Warn().Msg("dropping malformed new_message payload")
		return ErrBadPayload
	}
	return h.enqueue(delivery{
		rooms: []string{msg.SenderID, msg.ReceiverID},
		event: &Event{Kind: EventNewMessage, User: msg.SenderID, Message: msg},
	})
}

// EmitMessagesRead sends messages_read to the original sender's room only.
func (h *Hub) EmitMessagesRead(jobID, readBy, senderID string) error {
	if jobID == "" || readBy == "" || senderID == "" {
		h.log.Warn().Str("job_id", jobID).Msg("dropping malformed messages_read payload")
		return ErrBadPayload
	}
	return h.enqueue(delivery{
		rooms: []string{senderID},
		event: &Event{
			Kind:    EventMessagesRead,
			User:    readBy,
			Receipt: &ReadReceipt{JobID: jobID, ReadBy: readBy},
		},
	})
}

func (h *Hub) enqueue(d delivery) error {
	if !h.running.Load() {
		return ErrHubNotRunning
	}
	select {
	case h.deliveries <- d:
		return nil
	case <-h.stopped:
		return ErrHubNotRunning
	}
}

// Rooms returns a snapshot of room sizes keyed by user id.
func (h *Hub) Rooms(ctx context.Context) (map[string]int, error) {
	q := roomsQuery{reply: make(chan map[string]int, 1)}
	select {
	case h.queries <- q:
	case <-h.stopped:
		return nil, ErrHubNotRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case sizes := <-q.reply:
		return sizes, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) handleCommand(c *Client, cmd *Command) {
	if _, ok := h.clients[c]; !ok {
		h.log.Debug().Str("client_id", c.ID).Msg("command from unregistered client ignored")
		return
	}
	if cmd.UserID == "" {
		h.send(c, &Event{Kind: EventError, Error: NewError(ErrCodeBadRequest, "userId is required")})
		return
	}

	switch cmd.Kind {
	case CommandJoin:
		room, ok := h.rooms[cmd.UserID]
		if !ok {
			room = NewRoom(cmd.UserID)
			h.rooms[cmd.UserID] = room
		}
		if room.AddClient(c) {
			c.rooms[cmd.UserID] = struct{}{}
			h.log.Debug().Str("client_id", c.ID).Str("user_id", cmd.UserID).Int("members", room.Len()).Msg("client joined room")
		}
		h.send(c, &Event{Kind: EventJoined, User: cmd.UserID})
	case CommandLeave:
		h.leave(c, cmd.UserID)
	}
}

func (h *Hub) leave(c *Client, userID string) {
	room, ok := h.rooms[userID]
	if !ok {
		return
	}
	room.RemoveClient(c)
	delete(c.rooms, userID)
	if room.Empty() {
		delete(h.rooms, userID)
	}
}

func (h *Hub) removeClient(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	for userID := range c.rooms {
		h.leave(c, userID)
	}
	delete(h.clients, c)
	close(c.Events)
}

func (h *Hub) deliver(d delivery) {
	if d.event.Kind == EventNewMessage {
		id := d.event.Message.ID
		if h.seen.Contains(id) {
			h.log.Debug().Str("message_id", id).Msg("duplicate new_message suppressed")
			return
		}
		h.seen.Add(id, struct{}{})
	}

	delivered := make(map[string]struct{}, len(d.rooms))
	for _, userID := range d.rooms {
		if _, done := delivered[userID]; done {
			continue
		}
		delivered[userID] = struct{}{}

		room, ok := h.rooms[userID]
		if !ok {
			h.log.Debug().Str("user_id", userID).Str("event", d.event.Kind.String()).Msg("no connected members")
			continue
		}
		if dropped := room.Broadcast(d.event); dropped > 0 {
			h.log.Warn().Str("user_id", userID).Int("dropped", dropped).Str("event", d.event.Kind.String()).Msg("slow consumers skipped")
		}
	}
}

func (h *Hub) send(c *Client, ev *Event) {
	select {
	case c.Events <- ev:
	default:
		h.log.Warn().Str("client_id", c.ID).Str("event", ev.Kind.String()).Msg("client event buffer full")
	}
}
