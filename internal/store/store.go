package store

import (
	"context"
	"errors"
	"slices"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Role describes what a user is allowed to do on the marketplace.
type Role string

const (
	RoleAdmin   Role = "admin"
	RolePoster  Role = "poster"
	RolePainter Role = "painter"
)

// User holds the identity fields the messaging core needs.
type User struct {
	ID        string
	Name      string
	Email     string
	Role      Role
	CreatedAt time.Time
}

// IsAdmin reports whether the user has the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Job is the conversation context a message belongs to.
type Job struct {
	ID        string
	PosterID  string
	Title     string
	CreatedAt time.Time
}

// Message represents a persisted conversation message.
// Content is immutable after insert; IsRead only moves from false to true.
type Message struct {
	ID         string
	Content    string
	SenderID   string
	ReceiverID string
	JobID      string
	IsRead     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// UserStore handles user lookups.
type UserStore interface {
	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// UpsertUser creates or replaces a user record.
	UpsertUser(ctx context.Context, user *User) error
}

// JobStore handles job lookups.
type JobStore interface {
	// GetJobByID retrieves a job by ID.
	GetJobByID(ctx context.Context, id string) (*Job, error)

	// CreateJob persists a job.
	CreateJob(ctx context.Context, job *Job) error
}

// MessageStore handles message persistence.
type MessageStore interface {
	// CreateMessage inserts a message, assigning ID and timestamps.
	CreateMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a single message by ID.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// ListMessages returns the job's messages where userID is sender or receiver,
	// oldest first.
	ListMessages(ctx context.Context, jobID, userID string) ([]*Message, error)

	// MarkRead flags every unread message in the job addressed to receiverID
	// as read in a single statement and reports which rows it flipped.
	MarkRead(ctx context.Context, jobID, receiverID string) (ReadResult, error)

	// MarkMessageRead flags a single message addressed to receiverID as read
	// and returns the updated row.
	MarkMessageRead(ctx context.Context, id, receiverID string) (*Message, error)
}

// ReadResult describes one batched read-marking.
type ReadResult struct {
	// Count is the number of rows updated.
	Count int64
	// Senders are the distinct senders of the updated rows, sorted.
	Senders []string
}

// NewReadResult builds a ReadResult from the sender of every updated row.
func NewReadResult(rowSenders []string) ReadResult {
	senders := slices.Clone(rowSenders)
	slices.Sort(senders)
	return ReadResult{Count: int64(len(rowSenders)), Senders: slices.Compact(senders)}
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	JobStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
