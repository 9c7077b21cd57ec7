// Package bridge turns message store writes into hub deliveries, either from
// inside the process (HookStore) or from database notifications (Listener).
// A deployment runs exactly one of them.
package bridge

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/jobchat-server/internal/core"
	"github.com/vovakirdan/jobchat-server/internal/store"
)

// Emitter is the fan-out surface the bridge delivers to. *core.Hub implements it.
type Emitter interface {
	EmitNewMessage(msg *core.Message) error
	EmitMessagesRead(jobID, readBy, senderID string) error
}

// Delivery joins a stored message with its sender and receiver.
// Lookup failures are logged and leave the participant with only its id set.
func Delivery(ctx context.Context, users store.UserStore, msg *store.Message, logger *zerolog.Logger) *core.Message {
	return &core.Message{
		ID:         msg.ID,
		Content:    msg.Content,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		JobID:      msg.JobID,
		IsRead:     msg.IsRead,
		CreatedAt:  msg.CreatedAt,
		UpdatedAt:  msg.UpdatedAt,
		Sender:     participant(ctx, users, msg.SenderID, logger),
		Receiver:   participant(ctx, users, msg.ReceiverID, logger),
	}
}

func participant(ctx context.Context, users store.UserStore, id string, logger *zerolog.Logger) core.Participant {
	u, err := users.GetUserByID(ctx, id)
	if err != nil {
		logger.Warn().Err(err).Str("user_id", id).Msg("participant lookup failed")
		return core.Participant{ID: id}
	}
	return core.Participant{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
		Role:  string(u.Role),
	}
}

func logEmitError(logger *zerolog.Logger, err error, event, jobID string) {
	if err == nil {
		return
	}
	logger.Warn().Err(err).Str("event", event).Str("job_id", jobID).Msg("realtime delivery skipped")
}
