package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/jobchat-server/internal/proto"
)

// Event is a server push received over a live connection.
type Event struct {
	Name    string
	Message *proto.MessagePayload
	Receipt *proto.MessagesReadData
	Error   *proto.Error
}

// joinTimeout bounds the wait for the server to acknowledge a join.
const joinTimeout = 5 * time.Second

// ErrJoinRefused is returned when the server answers a join with an error.
var ErrJoinRefused = errors.New("join refused")

// Conn is a live connection to the fan-out server.
type Conn interface {
	// Join subscribes to the user's room and returns once the server has
	// acknowledged it.
	Join(ctx context.Context, userID string) error
	SendHint(ctx context.Context, messageID string) error
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Dialer opens live connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// API is the part of the REST surface a session uses.
type API interface {
	ListMessages(ctx context.Context, jobID, userID string) ([]proto.MessagePayload, error)
	MarkRead(ctx context.Context, jobID string) (int64, error)
	SendMessage(ctx context.Context, jobID, receiverID, content string) (proto.MessagePayload, error)
}

// WSDialer connects to the native /ws endpoint.
type WSDialer struct {
	// URL is the ws:// or wss:// address of the /ws endpoint.
	URL   string
	Token string
}

// Dial opens a websocket and wraps it as a Conn.
func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parse ws url: %w", err)
	}
	if d.Token != "" {
		q := u.Query()
		q.Set("token", d.Token)
		u.RawQuery = q.Encode()
	}

	conn, resp, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", d.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
	// pending holds pushes read while waiting for a join ack.
	pending []Event
}

func (c *wsConn) write(ctx context.Context, typ string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return wsjson.Write(ctx, c.conn, proto.Inbound{Type: typ, Data: payload})
}

func (c *wsConn) Join(ctx context.Context, userID string) error {
	if err := c.write(ctx, proto.InboundTypeJoin, proto.JoinData{UserID: userID}); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()
	for {
		ev, err := c.read(ctx)
		if err != nil {
			return fmt.Errorf("wait for join ack: %w", err)
		}
		switch ev.Name {
		case proto.EventJoined:
			return nil
		case proto.OutboundTypeError:
			if ev.Error != nil {
				return fmt.Errorf("%w: %s: %s", ErrJoinRefused, ev.Error.Code, ev.Error.Msg)
			}
			return ErrJoinRefused
		default:
			c.pending = append(c.pending, ev)
		}
	}
}

func (c *wsConn) SendHint(ctx context.Context, messageID string) error {
	return c.write(ctx, proto.InboundTypeSendMessage, proto.SendMessageData{ID: messageID})
}

func (c *wsConn) Next(ctx context.Context) (Event, error) {
	if len(c.pending) > 0 {
		ev := c.pending[0]
		c.pending = c.pending[1:]
		return ev, nil
	}
	return c.read(ctx)
}

func (c *wsConn) read(ctx context.Context) (Event, error) {
	var out struct {
		Type  string          `json:"type"`
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
		Error *proto.Error    `json:"error"`
	}
	if err := wsjson.Read(ctx, c.conn, &out); err != nil {
		return Event{}, err
	}

	ev := Event{Name: out.Event, Error: out.Error}
	if out.Type == proto.OutboundTypeError {
		ev.Name = proto.OutboundTypeError
		return ev, nil
	}

	switch out.Event {
	case proto.EventNewMessage:
		var msg proto.MessagePayload
		if err := json.Unmarshal(out.Data, &msg); err != nil {
			return Event{}, fmt.Errorf("decode new_message: %w", err)
		}
		ev.Message = &msg
	case proto.EventMessagesRead:
		var receipt proto.MessagesReadData
		if err := json.Unmarshal(out.Data, &receipt); err != nil {
			return Event{}, fmt.Errorf("decode messages_read: %w", err)
		}
		ev.Receipt = &receipt
	}
	return ev, nil
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}

// APIClient calls the REST message endpoints.
type APIClient struct {
	BaseURL string
	// Token is sent as a bearer token; UserID is sent in X-User-ID when Token is empty.
	Token  string
	UserID string
	HTTP   *http.Client
}

// NewAPIClient returns a client with a bounded request timeout.
func NewAPIClient(baseURL, token, userID string) *APIClient {
	return &APIClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		UserID:  userID,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

// ListMessages fetches the caller's view of a job conversation.
func (c *APIClient) ListMessages(ctx context.Context, jobID, userID string) ([]proto.MessagePayload, error) {
	q := url.Values{"jobId": {jobID}}
	if userID != "" {
		q.Set("userId", userID)
	}
	var msgs []proto.MessagePayload
	if err := c.do(ctx, http.MethodGet, "/api/messages?"+q.Encode(), nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkRead marks the caller's unread messages in the job as read.
func (c *APIClient) MarkRead(ctx context.Context, jobID string) (int64, error) {
	var resp struct {
		Count int64 `json:"count"`
	}
	q := url.Values{"jobId": {jobID}}
	if err := c.do(ctx, http.MethodPost, "/api/messages/read?"+q.Encode(), nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// SendMessage stores a message from the caller.
func (c *APIClient) SendMessage(ctx context.Context, jobID, receiverID, content string) (proto.MessagePayload, error) {
	body := map[string]string{"jobId": jobID, "receiverId": receiverID, "content": content}
	var msg proto.MessagePayload
	err := c.do(ctx, http.MethodPost, "/api/messages", body, &msg)
	return msg, err
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	} else if c.UserID != "" {
		req.Header.Set("X-User-ID", c.UserID)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		return &StatusError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}
