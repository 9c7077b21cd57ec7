package bridge

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/jobchat-server/internal/store"
)

// HookStore decorates a store so that successful message writes are emitted to
// the hub synchronously, after the write returns and before control goes back
// to the caller. Emit failures are logged; the write result is never affected.
type HookStore struct {
	store.Store
	emitter Emitter
	log     *zerolog.Logger
}

// NewHookStore wraps inner with in-process delivery.
func NewHookStore(inner store.Store, emitter Emitter, logger *zerolog.Logger) *HookStore {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &HookStore{Store: inner, emitter: emitter, log: logger}
}

// CreateMessage stores msg and emits new_message to both parties.
func (h *HookStore) CreateMessage(ctx context.Context, msg *store.Message) error {
	if err := h.Store.CreateMessage(ctx, msg); err != nil {
		return err
	}

	err := h.emitter.EmitNewMessage(Delivery(ctx, h.Store, msg, h.log))
	logEmitError(h.log, err, "new_message", msg.JobID)
	return nil
}

// MarkRead marks the receiver's messages read and notifies each distinct
// sender of a row the update flipped.
func (h *HookStore) MarkRead(ctx context.Context, jobID, receiverID string) (store.ReadResult, error) {
	res, err := h.Store.MarkRead(ctx, jobID, receiverID)
	if err != nil {
		return store.ReadResult{}, err
	}

	for _, senderID := range res.Senders {
		err := h.emitter.EmitMessagesRead(jobID, receiverID, senderID)
		logEmitError(h.log, err, "messages_read", jobID)
	}
	return res, nil
}

// MarkMessageRead marks one message read and notifies its sender on the
// unread to read transition.
func (h *HookStore) MarkMessageRead(ctx context.Context, id, receiverID string) (*store.Message, error) {
	wasUnread := false
	if before, err := h.Store.GetMessage(ctx, id); err == nil {
		wasUnread = !before.IsRead
	}

	msg, err := h.Store.MarkMessageRead(ctx, id, receiverID)
	if err != nil {
		return nil, err
	}

	if wasUnread && msg.IsRead {
		err := h.emitter.EmitMessagesRead(msg.JobID, receiverID, msg.SenderID)
		logEmitError(h.log, err, "messages_read", msg.JobID)
	}
	return msg, nil
}
