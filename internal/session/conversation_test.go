package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vovakirdan/jobchat-server/internal/proto"
)

func TestConversationReadFlagIsMonotonic(t *testing.T) {
	c := NewConversation()
	m := message("m1", "alice", "bob", time.Now())

	assert.True(t, c.Apply(m))
	read := m
	read.IsRead = true
	assert.False(t, c.Apply(read))
	assert.True(t, c.Messages()[0].IsRead)

	// A stale poll result must not un-read it.
	assert.Zero(t, c.Merge([]proto.MessagePayload{m}))
	assert.True(t, c.Messages()[0].IsRead)
}

func TestConversationOrdersByCreation(t *testing.T) {
	c := NewConversation()
	now := time.Now()

	c.Apply(message("m2", "alice", "bob", now.Add(time.Second)))
	added := c.Merge([]proto.MessagePayload{
		message("m1", "alice", "bob", now),
		message("m2", "alice", "bob", now.Add(time.Second)),
		message("m3", "bob", "alice", now.Add(2*time.Second)),
	})

	assert.Equal(t, 2, added)
	ids := []string{}
	for _, m := range c.Messages() {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids)

	// The index still resolves after reordering.
	read := message("m3", "bob", "alice", now.Add(2*time.Second))
	read.IsRead = true
	c.Apply(read)
	assert.True(t, c.Messages()[2].IsRead)
}

func TestConversationMarkReadBy(t *testing.T) {
	c := NewConversation()
	now := time.Now()
	c.Merge([]proto.MessagePayload{
		message("m1", "alice", "bob", now),
		message("m2", "alice", "carol", now.Add(time.Millisecond)),
		message("m3", "bob", "alice", now.Add(2*time.Millisecond)),
	})

	assert.Equal(t, 1, c.MarkReadBy("alice", "bob"))
	assert.Equal(t, 0, c.MarkReadBy("alice", "bob"))

	msgs := c.Messages()
	assert.True(t, msgs[0].IsRead)
	assert.False(t, msgs[1].IsRead)
	assert.False(t, msgs[2].IsRead)
}

func TestConversationIgnoresEmptyID(t *testing.T) {
	c := NewConversation()
	assert.False(t, c.Apply(proto.MessagePayload{Content: "ghost"}))
	assert.Zero(t, c.Len())
}
