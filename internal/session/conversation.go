package session

import (
	"sort"
	"sync"

	"github.com/vovakirdan/jobchat-server/internal/proto"
)

// Conversation is the client-side message list of one job. Local sends, live
// pushes and poll results all merge through it, keyed by message id.
// A read flag never goes back to unread.
type Conversation struct {
	mu    sync.Mutex
	index map[string]int
	msgs  []proto.MessagePayload
}

// NewConversation returns an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{index: make(map[string]int)}
}

// Apply merges one message and reports whether it was new.
func (c *Conversation) Apply(msg proto.MessagePayload) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	added := c.apply(msg)
	if added {
		c.reorder()
	}
	return added
}

// Merge applies a batch, typically a poll result, and returns how many were new.
func (c *Conversation) Merge(msgs []proto.MessagePayload) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := 0
	for _, m := range msgs {
		if c.apply(m) {
			added++
		}
	}
	if added > 0 {
		c.reorder()
	}
	return added
}

func (c *Conversation) apply(msg proto.MessagePayload) bool {
	if msg.ID == "" {
		return false
	}
	i, ok := c.index[msg.ID]
	if !ok {
		c.index[msg.ID] = len(c.msgs)
		c.msgs = append(c.msgs, msg)
		return true
	}

	cur := &c.msgs[i]
	cur.IsRead = cur.IsRead || msg.IsRead
	if msg.UpdatedAt.After(cur.UpdatedAt) {
		cur.UpdatedAt = msg.UpdatedAt
	}
	if cur.Sender == nil {
		cur.Sender = msg.Sender
	}
	if cur.Receiver == nil {
		cur.Receiver = msg.Receiver
	}
	return false
}

// reorder keeps the list in creation order; arrival order breaks ties.
func (c *Conversation) reorder() {
	sort.SliceStable(c.msgs, func(i, j int) bool {
		return c.msgs[i].CreatedAt.Before(c.msgs[j].CreatedAt)
	})
	for i, m := range c.msgs {
		c.index[m.ID] = i
	}
}

// MarkReadBy flags messages from senderID to readBy as read and returns how
// many changed. Used for optimistic updates on messages_read.
func (c *Conversation) MarkReadBy(senderID, readBy string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := 0
	for i := range c.msgs {
		m := &c.msgs[i]
		if m.SenderID == senderID && m.ReceiverID == readBy && !m.IsRead {
			m.IsRead = true
			changed++
		}
	}
	return changed
}

// Messages returns a copy of the list, oldest first.
func (c *Conversation) Messages() []proto.MessagePayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]proto.MessagePayload(nil), c.msgs...)
}

// Len returns the number of distinct messages.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}
