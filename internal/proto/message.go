package proto

import (
	"encoding/json"
	"time"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeJoin        = "join"
	InboundTypeSendMessage = "send_message"
	InboundTypeMarkRead    = "mark_read"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventJoined       = "joined"
	EventNewMessage   = "new_message"
	EventMessagesRead = "messages_read"
)

// JoinData subscribes the connection to a user's room.
type JoinData struct {
	UserID string `json:"userId"`
}

// SendMessageData is a created message echoed by its sender. It is only a
// delivery hint; the HTTP write is authoritative.
type SendMessageData struct {
	ID         string `json:"id"`
	Content    string `json:"content,omitempty"`
	SenderID   string `json:"senderId,omitempty"`
	ReceiverID string `json:"receiverId,omitempty"`
	JobID      string `json:"jobId,omitempty"`
}

// MarkReadData asks the server to mark a job conversation read on behalf of readBy.
type MarkReadData struct {
	JobID    string `json:"jobId"`
	ReadBy   string `json:"readBy"`
	SenderID string `json:"senderId,omitempty"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Participant is the denormalized identity attached to a message.
type Participant struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// MessagePayload is a message row as seen by clients, used by both the
// new_message event and the REST API.
type MessagePayload struct {
	ID         string       `json:"id"`
	Content    string       `json:"content"`
	SenderID   string       `json:"senderId"`
	ReceiverID string       `json:"receiverId"`
	JobID      string       `json:"jobId"`
	IsRead     bool         `json:"isRead"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
	Sender     *Participant `json:"sender,omitempty"`
	Receiver   *Participant `json:"receiver,omitempty"`
}

// MessagesReadData tells a sender their messages in a job were read.
type MessagesReadData struct {
	JobID  string `json:"jobId"`
	ReadBy string `json:"readBy"`
}

// JoinedData acknowledges a join.
type JoinedData struct {
	UserID string `json:"userId"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
