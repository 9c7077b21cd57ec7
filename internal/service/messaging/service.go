package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/jobchat-server/internal/store"
	"github.com/vovakirdan/jobchat-server/internal/utils"
)

// Service validates and authorizes message operations before they reach the store.
// The store it wraps may be a bridge.HookStore, in which case successful writes
// are also pushed to the fan-out hub.
type Service struct {
	store store.Store
	log   *zerolog.Logger
}

// New creates a new messaging service.
func New(st store.Store, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{store: st, log: logger}
}

// SendInput is a message as submitted by a client.
type SendInput struct {
	Content    string
	SenderID   string
	ReceiverID string
	JobID      string
}

// SendMessage stores a new message from callerID.
func (s *Service) SendMessage(ctx context.Context, callerID string, in SendInput) (*store.Message, error) {
	switch {
	case strings.TrimSpace(in.Content) == "":
		return nil, invalid("content", "required")
	case in.SenderID == "":
		return nil, invalid("senderId", "required")
	case in.ReceiverID == "":
		return nil, invalid("receiverId", "required")
	case in.JobID == "":
		return nil, invalid("jobId", "required")
	case in.SenderID == in.ReceiverID:
		return nil, invalid("receiverId", "must differ from senderId")
	}

	if callerID != in.SenderID {
		return nil, forbidden(callerID, "can only send messages as yourself")
	}

	job, err := s.lookupJob(ctx, in.JobID)
	if err != nil {
		return nil, err
	}
	sender, err := s.lookupUser(ctx, "senderId", in.SenderID)
	if err != nil {
		return nil, err
	}
	receiver, err := s.lookupUser(ctx, "receiverId", in.ReceiverID)
	if err != nil {
		return nil, err
	}

	if !isParty(job, sender) {
		return nil, forbidden(sender.ID, "not the job poster or an admin")
	}
	if !isParty(job, receiver) {
		return nil, forbidden(receiver.ID, "receiver is not the job poster or an admin")
	}

	msg := &store.Message{
		Content:    in.Content,
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		JobID:      in.JobID,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	s.log.Debug().Str("message_id", msg.ID).Str("job_id", msg.JobID).Str("sender_id", msg.SenderID).Msg("message stored")
	return msg, nil
}

// ListMessages returns userID's view of the job conversation, oldest first.
// Callers may only list their own view unless they are admins.
func (s *Service) ListMessages(ctx context.Context, callerID, jobID, userID string) ([]*store.Message, error) {
	if jobID == "" {
		return nil, invalid("jobId", "required")
	}
	if userID == "" {
		userID = callerID
	}
	if callerID != userID {
		caller, err := s.lookupUser(ctx, "callerId", callerID)
		if err != nil {
			return nil, err
		}
		if !caller.IsAdmin() {
			return nil, forbidden(callerID, "cannot list another user's messages")
		}
	}

	msgs, err := s.store.ListMessages(ctx, jobID, userID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// GetMessage returns a message the caller is a party to.
func (s *Service) GetMessage(ctx context.Context, callerID, id string) (*store.Message, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != callerID && msg.ReceiverID != callerID {
		return nil, forbidden(callerID, "not a party to this message")
	}
	return msg, nil
}

// MarkRead marks every unread message addressed to userID in the job as read and
// returns the number of rows updated. Only the receiver may mark their own messages.
// Calling it again with nothing unread returns 0.
func (s *Service) MarkRead(ctx context.Context, callerID, jobID, userID string) (int64, error) {
	if jobID == "" {
		return 0, invalid("jobId", "required")
	}
	if userID == "" {
		userID = callerID
	}
	if callerID != userID {
		return 0, forbidden(callerID, "can only mark your own messages read")
	}
	if _, err := s.lookupJob(ctx, jobID); err != nil {
		return 0, err
	}

	res, err := s.store.MarkRead(ctx, jobID, userID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}

	s.log.Debug().Str("job_id", jobID).Str("user_id", userID).Int64("count", res.Count).Msg("messages marked read")
	return res.Count, nil
}

// MarkMessageRead marks a single message addressed to the caller as read.
func (s *Service) MarkMessageRead(ctx context.Context, callerID, id string) (*store.Message, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	msg, err := s.store.MarkMessageRead(ctx, id, callerID)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// checkID rejects message ids the store could never have issued.
func checkID(id string) error {
	if id == "" {
		return invalid("id", "required")
	}
	if !utils.ValidID(id) {
		return invalid("id", "must be a uuid")
	}
	return nil
}

func (s *Service) lookupJob(ctx context.Context, id string) (*store.Job, error) {
	job, err := s.store.GetJobByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, invalid("jobId", "unknown job")
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *Service) lookupUser(ctx context.Context, field, id string) (*store.User, error) {
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, invalid(field, "unknown user")
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// isParty reports whether the user may take part in the job conversation.
func isParty(job *store.Job, user *store.User) bool {
	return user.IsAdmin() || user.ID == job.PosterID
}
