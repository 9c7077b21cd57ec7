package http

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/jobchat-server/internal/auth"
	"github.com/vovakirdan/jobchat-server/internal/bridge"
	"github.com/vovakirdan/jobchat-server/internal/core"
	"github.com/vovakirdan/jobchat-server/internal/proto"
	"github.com/vovakirdan/jobchat-server/internal/service/messaging"
	"github.com/vovakirdan/jobchat-server/internal/store"
)

// connSession is one realtime connection, native or socket.io.
type connSession struct {
	client   *core.Client
	identity auth.Identity

	mu     sync.Mutex
	joined string
}

// caller is the token identity, or the joined user when tokens are not in use.
func (s *connSession) caller() string {
	if s.identity.UserID != "" {
		return s.identity.UserID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined
}

// realtime implements the inbound socket events shared by both transports.
type realtime struct {
	hub      *core.Hub
	messages *messaging.Service
	users    store.UserStore
	log      *zerolog.Logger
}

func (rt *realtime) join(sess *connSession, userID string) *proto.Error {
	if userID == "" {
		return badRequest("userId is required")
	}
	if sess.identity.UserID != "" && userID != sess.identity.UserID {
		rt.log.Warn().Str("client_id", sess.client.ID).Str("user_id", sess.identity.UserID).Str("room", userID).Msg("join of foreign room refused")
		return &proto.Error{Code: core.ErrCodeForbidden, Msg: "cannot join another user's room"}
	}

	sess.mu.Lock()
	sess.joined = userID
	sess.mu.Unlock()

	rt.hub.Join(sess.client, userID)
	return nil
}

// sendMessageHint re-emits a message its sender already stored over HTTP.
// The stored row is authoritative; the hub drops ids it already delivered.
func (rt *realtime) sendMessageHint(ctx context.Context, sess *connSession, hint proto.SendMessageData) *proto.Error {
	caller := sess.caller()
	if caller == "" {
		return &proto.Error{Code: core.ErrCodeUnauthorized, Msg: "join before sending"}
	}
	if hint.ID == "" {
		return badRequest("id is required")
	}

	msg, err := rt.messages.GetMessage(ctx, caller, hint.ID)
	if err != nil {
		return protoError(err)
	}
	if msg.SenderID != caller {
		return &proto.Error{Code: core.ErrCodeForbidden, Msg: "only the sender may announce a message"}
	}

	if err := rt.hub.EmitNewMessage(bridge.Delivery(ctx, rt.users, msg, rt.log)); err != nil {
		rt.log.Warn().Err(err).Str("message_id", msg.ID).Msg("send_message hint not delivered")
	}
	return nil
}

// markRead runs the read-receipt propagator on behalf of the caller.
func (rt *realtime) markRead(ctx context.Context, sess *connSession, mr proto.MarkReadData) *proto.Error {
	caller := sess.caller()
	if caller == "" {
		return &proto.Error{Code: core.ErrCodeUnauthorized, Msg: "join before marking read"}
	}

	n, err := rt.messages.MarkRead(ctx, caller, mr.JobID, mr.ReadBy)
	if err != nil {
		return protoError(err)
	}
	rt.log.Debug().Str("job_id", mr.JobID).Str("user_id", caller).Int64("count", n).Msg("mark_read over socket")
	return nil
}

func badRequest(msg string) *proto.Error {
	return &proto.Error{Code: core.ErrCodeBadRequest, Msg: msg}
}
