package core

import "time"

// Participant is the minimal identity attached to a delivered message.
type Participant struct {
	ID    string
	Name  string
	Email string
	Role  string
}

// Message is the delivery payload: a stored message joined with both parties.
type Message struct {
	ID         string
	Content    string
	SenderID   string
	ReceiverID string
	JobID      string
	IsRead     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Sender     Participant
	Receiver   Participant
}

// ReadReceipt tells a sender that readBy has seen their messages in a job.
type ReadReceipt struct {
	JobID  string
	ReadBy string
}
