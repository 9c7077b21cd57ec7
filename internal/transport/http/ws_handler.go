package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/jobchat-server/internal/auth"
	"github.com/vovakirdan/jobchat-server/internal/core"
	"github.com/vovakirdan/jobchat-server/internal/proto"
	"github.com/vovakirdan/jobchat-server/internal/utils"
)

const (
	inboundPerSecond = 20
	inboundBurst     = 40
)

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub      *core.Hub
	sessions *realtime
	authn    *Authenticator
	maxBytes int64
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, rt *realtime, authn *Authenticator, maxBytes int64, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{hub: hub, sessions: rt, authn: authn, maxBytes: maxBytes, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	identity, err := h.authn.Identify(r)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws handshake rejected")
		stdhttp.Error(w, "unauthorized", stdhttp.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.maxBytes > 0 {
		conn.SetReadLimit(h.maxBytes)
	}

	client := core.NewClient(utils.NewID())
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client, identity)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, identity auth.Identity) error {
	limiter := rate.NewLimiter(rate.Limit(inboundPerSecond), inboundBurst)
	sess := &connSession{client: client, identity: identity}

	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			h.log.Debug().Err(err).Str("client_id", client.ID).Msg("read ws inbound")
			return err
		}

		var protoErr *proto.Error
		if !limiter.Allow() {
			protoErr = &proto.Error{Code: core.ErrCodeRateLimited, Msg: "slow down"}
		} else {
			protoErr = h.dispatch(ctx, sess, inbound)
		}
		if protoErr != nil {
			if err := wsjson.Write(ctx, conn, proto.Outbound{
				Type:  proto.OutboundTypeError,
				Error: protoErr,
			}); err != nil {
				return err
			}
		}
	}
}

func (h *WSHandler) dispatch(ctx context.Context, sess *connSession, inbound proto.Inbound) *proto.Error {
	switch inbound.Type {
	case proto.InboundTypeJoin:
		var join proto.JoinData
		if err := json.Unmarshal(inbound.Data, &join); err != nil {
			return badRequest("invalid join payload")
		}
		return h.sessions.join(sess, join.UserID)
	case proto.InboundTypeSendMessage:
		var hint proto.SendMessageData
		if err := json.Unmarshal(inbound.Data, &hint); err != nil {
			return badRequest("invalid send_message payload")
		}
		return h.sessions.sendMessageHint(ctx, sess, hint)
	case proto.InboundTypeMarkRead:
		var mr proto.MarkReadData
		if err := json.Unmarshal(inbound.Data, &mr); err != nil {
			return badRequest("invalid mark_read payload")
		}
		return h.sessions.markRead(ctx, sess, mr)
	default:
		return badRequest("unknown message type")
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("client_id", client.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
