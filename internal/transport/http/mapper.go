package http

import (
	"errors"
	"net/http"

	"github.com/vovakirdan/jobchat-server/internal/core"
	"github.com/vovakirdan/jobchat-server/internal/proto"
	"github.com/vovakirdan/jobchat-server/internal/service/messaging"
	"github.com/vovakirdan/jobchat-server/internal/store"
)

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventJoined:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventJoined,
			Data:  proto.JoinedData{UserID: event.User},
		}
	case core.EventNewMessage:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventNewMessage,
			Data:  payloadFromCore(event.Message),
		}
	case core.EventMessagesRead:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventMessagesRead,
			Data:  proto.MessagesReadData{JobID: event.Receipt.JobID, ReadBy: event.Receipt.ReadBy},
		}
	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: core.ErrCodeInternal, Msg: "unknown error"}}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: event.Error.Code, Msg: event.Error.Message},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}

func payloadFromCore(msg *core.Message) proto.MessagePayload {
	sender := participantPayload(msg.Sender)
	receiver := participantPayload(msg.Receiver)
	return proto.MessagePayload{
		ID:         msg.ID,
		Content:    msg.Content,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		JobID:      msg.JobID,
		IsRead:     msg.IsRead,
		CreatedAt:  msg.CreatedAt,
		UpdatedAt:  msg.UpdatedAt,
		Sender:     &sender,
		Receiver:   &receiver,
	}
}

func participantPayload(p core.Participant) proto.Participant {
	return proto.Participant{ID: p.ID, Name: p.Name, Email: p.Email, Role: p.Role}
}

func payloadFromStore(msg *store.Message) proto.MessagePayload {
	return proto.MessagePayload{
		ID:         msg.ID,
		Content:    msg.Content,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		JobID:      msg.JobID,
		IsRead:     msg.IsRead,
		CreatedAt:  msg.CreatedAt,
		UpdatedAt:  msg.UpdatedAt,
	}
}

// statusFor maps service errors to an HTTP status and a wire error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, messaging.ErrValidation):
		return http.StatusBadRequest, core.ErrCodeBadRequest
	case errors.Is(err, messaging.ErrForbidden):
		return http.StatusForbidden, core.ErrCodeForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, core.ErrCodeNotFound
	default:
		return http.StatusInternalServerError, core.ErrCodeInternal
	}
}

// protoError converts a service error into a wire error, hiding internal details.
func protoError(err error) *proto.Error {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		return &proto.Error{Code: code, Msg: "internal error"}
	}
	return &proto.Error{Code: code, Msg: err.Error()}
}
