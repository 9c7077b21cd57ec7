package http

import (
	"context"
	"net/http"
	"time"

	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/jobchat-server/internal/core"
	"github.com/vovakirdan/jobchat-server/internal/proto"
	"github.com/vovakirdan/jobchat-server/internal/utils"
)

const (
	socketNamespace = "/"
	// socketErrorEvent avoids the reserved "error" event of socket.io clients.
	socketErrorEvent = "app_error"
	socketEventTTL   = 10 * time.Second
)

// SocketIO serves the browser transport. Connections start as long-polling
// and upgrade to websocket when the network allows it; either way they feed
// the same hub as /ws.
type SocketIO struct {
	server *socketio.Server
	hub    *core.Hub
	rt     *realtime
	authn  *Authenticator
	log    *zerolog.Logger
}

func newSocketIO(hub *core.Hub, rt *realtime, authn *Authenticator, logger *zerolog.Logger) *SocketIO {
	s := &SocketIO{
		server: socketio.NewServer(&engineio.Options{
			Transports: []transport.Transport{
				&polling.Transport{
					CheckOrigin: func(*http.Request) bool { return true },
				},
				&websocket.Transport{
					CheckOrigin: func(*http.Request) bool { return true },
				},
			},
		}),
		hub:   hub,
		rt:    rt,
		authn: authn,
		log:   logger,
	}

	s.server.OnConnect(socketNamespace, s.onConnect)
	s.server.OnEvent(socketNamespace, proto.InboundTypeJoin, s.onJoin)
	s.server.OnEvent(socketNamespace, proto.InboundTypeSendMessage, s.onSendMessage)
	s.server.OnEvent(socketNamespace, proto.InboundTypeMarkRead, s.onMarkRead)
	s.server.OnError(socketNamespace, func(conn socketio.Conn, err error) {
		id := ""
		if conn != nil {
			id = conn.ID()
		}
		s.log.Debug().Err(err).Str("socket_id", id).Msg("socket.io error")
	})
	s.server.OnDisconnect(socketNamespace, s.onDisconnect)

	return s
}

// Serve runs the socket.io session loop until Close.
func (s *SocketIO) Serve() error {
	return s.server.Serve()
}

// Close stops accepting sessions and closes open ones.
func (s *SocketIO) Close() error {
	return s.server.Close()
}

// ServeHTTP implements http.Handler.
func (s *SocketIO) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.ServeHTTP(w, r)
}

func (s *SocketIO) onConnect(conn socketio.Conn) error {
	u := conn.URL()
	identity, err := s.authn.Identify(&http.Request{URL: &u, Header: conn.RemoteHeader()})
	if err != nil {
		s.log.Debug().Err(err).Str("socket_id", conn.ID()).Msg("socket.io connection rejected")
		return err
	}

	client := core.NewClient(utils.NewID())
	s.hub.RegisterClient(client)
	conn.SetContext(&connSession{client: client, identity: identity})

	go s.pump(conn, client)
	return nil
}

// pump forwards hub events to the socket until the hub drops the client.
func (s *SocketIO) pump(conn socketio.Conn, client *core.Client) {
	for ev := range client.Events {
		out := outboundFromEvent(ev)
		if out.Type == proto.OutboundTypeError {
			conn.Emit(socketErrorEvent, out.Error)
			continue
		}
		conn.Emit(out.Event, out.Data)
	}
}

func (s *SocketIO) onJoin(conn socketio.Conn, userID string) {
	sess, ok := s.sessionOf(conn)
	if !ok {
		return
	}
	if perr := s.rt.join(sess, userID); perr != nil {
		conn.Emit(socketErrorEvent, perr)
	}
}

func (s *SocketIO) onSendMessage(conn socketio.Conn, hint proto.SendMessageData) {
	sess, ok := s.sessionOf(conn)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), socketEventTTL)
	defer cancel()
	if perr := s.rt.sendMessageHint(ctx, sess, hint); perr != nil {
		conn.Emit(socketErrorEvent, perr)
	}
}

func (s *SocketIO) onMarkRead(conn socketio.Conn, mr proto.MarkReadData) {
	sess, ok := s.sessionOf(conn)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), socketEventTTL)
	defer cancel()
	if perr := s.rt.markRead(ctx, sess, mr); perr != nil {
		conn.Emit(socketErrorEvent, perr)
	}
}

func (s *SocketIO) onDisconnect(conn socketio.Conn, reason string) {
	sess, ok := s.sessionOf(conn)
	if !ok {
		return
	}
	s.log.Debug().Str("socket_id", conn.ID()).Str("reason", reason).Msg("socket.io disconnected")
	s.hub.UnregisterClient(sess.client)
}

func (s *SocketIO) sessionOf(conn socketio.Conn) (*connSession, bool) {
	sess, ok := conn.Context().(*connSession)
	return sess, ok && sess != nil
}
