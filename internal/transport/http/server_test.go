package http

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/jobchat-server/internal/core"
	"github.com/vovakirdan/jobchat-server/internal/proto"
	"github.com/vovakirdan/jobchat-server/internal/ratelimit"
)

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	var health HealthResponse
	if status := env.do(t, http.MethodGet, "/health", "", nil, &health); status != http.StatusOK {
		t.Fatalf("unexpected status: %d", status)
	}
	if health.Status != "ok" || health.Rooms != 0 {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestRESTRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	poster := env.token(t, "poster")
	admin := env.token(t, "admin")

	var created proto.MessagePayload
	status := env.do(t, http.MethodPost, "/api/messages", poster,
		SendMessageRequest{Content: "Hello", ReceiverID: "admin", JobID: "job-1"}, &created)
	if status != http.StatusCreated {
		t.Fatalf("send: status %d", status)
	}
	if created.ID == "" || created.SenderID != "poster" || created.IsRead {
		t.Fatalf("unexpected created message: %+v", created)
	}

	var list []proto.MessagePayload
	if status := env.do(t, http.MethodGet, "/api/messages?jobId=job-1", admin, nil, &list); status != http.StatusOK {
		t.Fatalf("list: status %d", status)
	}
	if len(list) != 1 || list[0].Content != "Hello" {
		t.Fatalf("unexpected list: %+v", list)
	}

	for _, want := range []int64{1, 0} {
		var resp MarkReadResponse
		if status := env.do(t, http.MethodPost, "/api/messages/read?jobId=job-1", admin, nil, &resp); status != http.StatusOK {
			t.Fatalf("mark read: status %d", status)
		}
		if resp.Count != want {
			t.Fatalf("mark read count %d, want %d", resp.Count, want)
		}
	}

	var got proto.MessagePayload
	if status := env.do(t, http.MethodGet, "/api/messages/"+created.ID, poster, nil, &got); status != http.StatusOK {
		t.Fatalf("get: status %d", status)
	}
	if !got.IsRead {
		t.Fatal("expected message to be read")
	}
}

func TestRESTErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	poster := env.token(t, "poster")
	stranger := env.token(t, "stranger")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{"no credentials", http.MethodGet, "/api/messages?jobId=job-1", "", nil, http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/api/messages?jobId=job-1", "garbage", nil, http.StatusUnauthorized},
		{"self message", http.MethodPost, "/api/messages", poster, SendMessageRequest{Content: "hi", ReceiverID: "poster", JobID: "job-1"}, http.StatusBadRequest},
		{"empty content", http.MethodPost, "/api/messages", poster, SendMessageRequest{Content: " ", ReceiverID: "admin", JobID: "job-1"}, http.StatusBadRequest},
		{"not a party", http.MethodPost, "/api/messages", stranger, SendMessageRequest{Content: "hi", ReceiverID: "admin", JobID: "job-1"}, http.StatusForbidden},
		{"foreign view", http.MethodGet, "/api/messages?jobId=job-1&userId=poster", stranger, nil, http.StatusForbidden},
		{"malformed message id", http.MethodPut, "/api/messages/nope/read", poster, nil, http.StatusBadRequest},
		{"unknown message", http.MethodPut, "/api/messages/00000000-0000-4000-8000-000000000000/read", poster, nil, http.StatusNotFound},
		{"missing job", http.MethodPost, "/api/messages/read", poster, nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp ErrorResponse
			if status := env.do(t, tt.method, tt.path, tt.token, tt.body, &resp); status != tt.want {
				t.Fatalf("status %d, want %d (%s)", status, tt.want, resp.Error)
			}
			if resp.Error == "" {
				t.Fatal("expected an error message")
			}
		})
	}
}

func sendAsHeader(t *testing.T, env *testEnv, userID string) int {
	t.Helper()

	body := strings.NewReader(`{"content":"hi","receiverId":"admin","jobId":"job-1"}`)
	req, err := http.NewRequest(http.MethodPost, env.ts.URL+"/api/messages", body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderUserID, userID)

	resp, err := env.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode
}

func TestHeaderIdentityIgnoredWhenSecretSet(t *testing.T) {
	env := newTestEnv(t)

	if status := sendAsHeader(t, env, "poster"); status != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", status)
	}
	msgs, err := env.store.ListMessages(context.Background(), "job-1", "poster")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no stored messages, got %d", len(msgs))
	}

	// The websocket handshake follows the same rule.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, strings.Replace(env.ts.URL, "http", "ws", 1)+"/ws?userId=poster", nil)
	if err == nil {
		t.Fatal("expected handshake without a token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}
}

func TestHeaderIdentityWithoutSecret(t *testing.T) {
	env := newTestEnv(t, withoutJWT())

	if status := sendAsHeader(t, env, "poster"); status != http.StatusCreated {
		t.Fatalf("status %d, want 201", status)
	}
}

func TestRESTRateLimit(t *testing.T) {
	env := newTestEnv(t, withLimiter(ratelimit.NewMemory(1)))
	poster := env.token(t, "poster")

	body := SendMessageRequest{Content: "hi", ReceiverID: "admin", JobID: "job-1"}
	if status := env.do(t, http.MethodPost, "/api/messages", poster, body, nil); status != http.StatusCreated {
		t.Fatalf("first send: status %d", status)
	}
	var resp ErrorResponse
	if status := env.do(t, http.MethodPost, "/api/messages", poster, body, &resp); status != http.StatusTooManyRequests {
		t.Fatalf("second send: status %d, want 429", status)
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	posterConn := env.dial(t, ctx, env.token(t, "poster"))
	adminConn := env.dial(t, ctx, env.token(t, "admin"))
	joinAs(t, ctx, posterConn, "poster")
	joinAs(t, ctx, adminConn, "admin")

	status := env.do(t, http.MethodPost, "/api/messages", env.token(t, "poster"),
		SendMessageRequest{Content: "Hello", ReceiverID: "admin", JobID: "job-1"}, nil)
	if status != http.StatusCreated {
		t.Fatalf("send: status %d", status)
	}

	for _, conn := range []*websocket.Conn{adminConn, posterConn} {
		var msg proto.MessagePayload
		expectEvent(t, ctx, conn, proto.EventNewMessage, &msg)
		if msg.Content != "Hello" || msg.IsRead {
			t.Fatalf("unexpected message: %+v", msg)
		}
		if msg.Sender == nil || msg.Sender.Name != "Pat" || msg.Receiver == nil || msg.Receiver.Role != "admin" {
			t.Fatalf("missing participants: %+v", msg)
		}
	}

	send(t, ctx, adminConn, proto.InboundTypeMarkRead, proto.MarkReadData{JobID: "job-1"})

	var receipt proto.MessagesReadData
	expectEvent(t, ctx, posterConn, proto.EventMessagesRead, &receipt)
	if receipt.JobID != "job-1" || receipt.ReadBy != "admin" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
}

func TestWebSocketSendHintIsDeduplicated(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	posterConn := env.dial(t, ctx, env.token(t, "poster"))
	adminConn := env.dial(t, ctx, env.token(t, "admin"))
	joinAs(t, ctx, posterConn, "poster")
	joinAs(t, ctx, adminConn, "admin")

	var created proto.MessagePayload
	env.do(t, http.MethodPost, "/api/messages", env.token(t, "poster"),
		SendMessageRequest{Content: "Quote?", ReceiverID: "admin", JobID: "job-1"}, &created)

	expectEvent(t, ctx, adminConn, proto.EventNewMessage, nil)

	send(t, ctx, posterConn, proto.InboundTypeSendMessage, proto.SendMessageData{ID: created.ID})

	// A second message proves the hint produced nothing in between.
	env.do(t, http.MethodPost, "/api/messages", env.token(t, "poster"),
		SendMessageRequest{Content: "Still there?", ReceiverID: "admin", JobID: "job-1"}, nil)

	var next proto.MessagePayload
	expectEvent(t, ctx, adminConn, proto.EventNewMessage, &next)
	if next.Content != "Still there?" {
		t.Fatalf("expected the second message, got %+v", next)
	}
}

func TestWebSocketRejectsForeignRoom(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx, env.token(t, "poster"))
	send(t, ctx, conn, proto.InboundTypeJoin, proto.JoinData{UserID: "admin"})

	out := read(t, ctx, conn)
	if out.Type != proto.OutboundTypeError || out.Error == nil || out.Error.Code != core.ErrCodeForbidden {
		t.Fatalf("expected forbidden error, got %+v", out)
	}

	send(t, ctx, conn, "shout", map[string]string{})
	out = read(t, ctx, conn)
	if out.Error == nil || out.Error.Code != core.ErrCodeBadRequest {
		t.Fatalf("expected bad_request for unknown type, got %+v", out)
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	env := newTestEnv(t, withJWTRequired())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(env.ts.URL, "http", "ws", 1) + "/ws"
	conn, resp, err := websocket.Dial(ctx, wsURL, nil)
	if err == nil {
		conn.Close(websocket.StatusNormalClosure, "")
		t.Fatal("expected handshake to fail without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}
}

func TestWebSocketDevIdentityFromJoin(t *testing.T) {
	env := newTestEnv(t, withoutJWT())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Without a token the joined room is the caller.
	conn := env.dial(t, ctx, "")
	joinAs(t, ctx, conn, "admin")

	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeMarkRead, Data: []byte(`{"jobId":"job-1"}`)}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var health HealthResponse
	deadline := time.Now().Add(time.Second)
	for {
		env.do(t, http.MethodGet, "/health", "", nil, &health)
		if health.Rooms == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if health.Rooms != 1 || health.Connections != 1 {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestSocketIOPollingHandshake(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.ts.Client().Get(env.ts.URL + "/socket.io/?EIO=3&transport=polling&token=" + env.token(t, "poster"))
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	buf := make([]byte, 512)
	n, _ := resp.Body.Read(buf)
	if !strings.Contains(string(buf[:n]), "sid") {
		t.Fatalf("expected an open packet with a sid, got %q", buf[:n])
	}
}
