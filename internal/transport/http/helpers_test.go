package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/jobchat-server/internal/auth"
	"github.com/vovakirdan/jobchat-server/internal/bridge"
	"github.com/vovakirdan/jobchat-server/internal/config"
	"github.com/vovakirdan/jobchat-server/internal/core"
	"github.com/vovakirdan/jobchat-server/internal/proto"
	"github.com/vovakirdan/jobchat-server/internal/ratelimit"
	"github.com/vovakirdan/jobchat-server/internal/service/messaging"
	"github.com/vovakirdan/jobchat-server/internal/store"
	"github.com/vovakirdan/jobchat-server/internal/store/sqlite"
)

const testSecret = "test-secret"

type testEnv struct {
	ts    *httptest.Server
	store store.Store
	hub   *core.Hub
	jwt   *auth.JWTConfig
}

type envOption func(*config.Config, *Deps)

func withLimiter(l ratelimit.Limiter) envOption {
	return func(_ *config.Config, d *Deps) { d.Limiter = l }
}

// withoutJWT runs the server with no secret, so callers are trusted by header.
func withoutJWT() envOption {
	return func(c *config.Config, d *Deps) {
		c.JWTSecret = ""
		d.JWT = nil
	}
}

func withJWTRequired() envOption {
	return func(c *config.Config, _ *Deps) { c.JWTRequired = true }
}

// createTestStore creates an in-memory SQLite store seeded with a job posted
// by "poster", an admin and a user who is not part of the job.
func createTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	for _, u := range []*store.User{
		{ID: "poster", Name: "Pat", Email: "pat@example.com", Role: store.RolePoster},
		{ID: "admin", Name: "Ada", Email: "ada@example.com", Role: store.RoleAdmin},
		{ID: "stranger", Name: "Sam", Email: "sam@example.com", Role: store.RolePoster},
	} {
		if err := st.UpsertUser(ctx, u); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	if err := st.CreateJob(ctx, &store.Job{ID: "job-1", PosterID: "poster", Title: "Fence"}); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return st
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	disabledLogger := zerolog.New(nil)
	st := createTestStore(t)

	hub := core.NewHub(&disabledLogger, core.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	deadline := time.Now().Add(time.Second)
	for !hub.Running() {
		if time.Now().After(deadline) {
			t.Fatal("hub did not start")
		}
		time.Sleep(time.Millisecond)
	}

	jwtCfg := &auth.JWTConfig{Secret: []byte(testSecret), TTL: time.Hour}
	cfg := config.Default()
	cfg.JWTSecret = testSecret
	deps := Deps{
		Hub:      hub,
		Messages: messaging.New(bridge.NewHookStore(st, hub, &disabledLogger), &disabledLogger),
		Users:    st,
		JWT:      jwtCfg,
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	server := NewServer(deps, &cfg, &disabledLogger)
	go func() { _ = server.SocketIO.Serve() }()
	t.Cleanup(func() { _ = server.SocketIO.Close() })

	ts := httptest.NewServer(server.HTTP.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, store: st, hub: hub, jwt: jwtCfg}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := auth.GenerateToken(e.jwt, auth.Identity{UserID: userID})
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return tok
}

// do sends a JSON request and returns the status and decoded body.
func (e *testEnv) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (e *testEnv) dial(t *testing.T, ctx context.Context, token string) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
	if token != "" {
		wsURL += "?token=" + token
	}
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

type outbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func read(t *testing.T, ctx context.Context, conn *websocket.Conn) outbound {
	t.Helper()
	var out outbound
	if err := wsjson.Read(ctx, conn, &out); err != nil {
		t.Fatalf("read outbound: %v", err)
	}
	return out
}

func expectEvent(t *testing.T, ctx context.Context, conn *websocket.Conn, event string, v any) {
	t.Helper()
	out := read(t, ctx, conn)
	if out.Type != proto.OutboundTypeEvent || out.Event != event {
		t.Fatalf("expected %s event, got %+v", event, out)
	}
	if v != nil {
		if err := json.Unmarshal(out.Data, v); err != nil {
			t.Fatalf("unmarshal %s: %v", event, err)
		}
	}
}

func joinAs(t *testing.T, ctx context.Context, conn *websocket.Conn, userID string) {
	t.Helper()
	send(t, ctx, conn, proto.InboundTypeJoin, proto.JoinData{UserID: userID})
	var joined proto.JoinedData
	expectEvent(t, ctx, conn, proto.EventJoined, &joined)
	if joined.UserID != userID {
		t.Fatalf("joined %q, want %q", joined.UserID, userID)
	}
}
