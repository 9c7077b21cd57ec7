package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/vovakirdan/jobchat-server/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	users := []*store.User{
		{ID: "poster", Name: "Pat Poster", Email: "pat@example.com", Role: store.RolePoster},
		{ID: "admin", Name: "Ada Admin", Email: "ada@example.com", Role: store.RoleAdmin},
		{ID: "other", Name: "Olly", Email: "olly@example.com", Role: store.RolePainter},
	}
	for _, u := range users {
		if err := s.UpsertUser(ctx, u); err != nil {
			t.Fatalf("upsert user %s: %v", u.ID, err)
		}
	}
	for _, id := range []string{"job-1", "job-2"} {
		if err := s.CreateJob(ctx, &store.Job{ID: id, PosterID: "poster", Title: "Paint fence"}); err != nil {
			t.Fatalf("create job %s: %v", id, err)
		}
	}
	return s
}

func send(t *testing.T, s *SQLiteStore, from, to, job, text string) *store.Message {
	t.Helper()

	msg := &store.Message{SenderID: from, ReceiverID: to, JobID: job, Content: text}
	if err := s.CreateMessage(context.Background(), msg); err != nil {
		t.Fatalf("create message %q: %v", text, err)
	}
	return msg
}

func TestCreateAndListMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := send(t, s, "poster", "admin", "job-1", "Hello")
	second := send(t, s, "admin", "poster", "job-1", "Hi back")
	send(t, s, "poster", "admin", "job-2", "other job")
	send(t, s, "other", "admin", "job-1", "not visible to poster")

	if first.ID == "" || first.IsRead || first.CreatedAt.IsZero() {
		t.Fatalf("unexpected created message: %+v", first)
	}

	msgs, err := s.ListMessages(ctx, "job-1", "poster")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].ID != first.ID || msgs[1].ID != second.ID {
		t.Errorf("unexpected order: %s, %s", msgs[0].Content, msgs[1].Content)
	}

	got, err := s.GetMessage(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if got.Content != "Hello" || got.SenderID != "poster" || got.ReceiverID != "admin" {
		t.Errorf("unexpected message: %+v", got)
	}
}

func TestCreateMessageRejectsSelfMessage(t *testing.T) {
	s := newTestStore(t)

	err := s.CreateMessage(context.Background(), &store.Message{
		SenderID: "poster", ReceiverID: "poster", JobID: "job-1", Content: "me",
	})
	if err == nil {
		t.Fatal("expected check constraint failure for self message")
	}
}

func TestMarkReadIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	send(t, s, "poster", "admin", "job-1", "one")
	send(t, s, "poster", "admin", "job-1", "two")
	send(t, s, "admin", "poster", "job-1", "reply")

	res, err := s.MarkRead(ctx, "job-1", "admin")
	if err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if res.Count != 2 {
		t.Fatalf("expected 2 rows updated, got %d", res.Count)
	}
	if len(res.Senders) != 1 || res.Senders[0] != "poster" {
		t.Fatalf("unexpected senders: %v", res.Senders)
	}

	res, err = s.MarkRead(ctx, "job-1", "admin")
	if err != nil {
		t.Fatalf("second MarkRead failed: %v", err)
	}
	if res.Count != 0 || len(res.Senders) != 0 {
		t.Fatalf("expected a no-op second call, got %+v", res)
	}

	msgs, err := s.ListMessages(ctx, "job-1", "admin")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	for _, m := range msgs {
		wantRead := m.ReceiverID == "admin"
		if m.IsRead != wantRead {
			t.Errorf("message %q: is_read=%v, want %v", m.Content, m.IsRead, wantRead)
		}
		if m.UpdatedAt.Before(m.CreatedAt) {
			t.Errorf("message %q: updated_at not bumped", m.Content)
		}
	}
}

func TestMarkReadReportsOnlyUpdatedSenders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	send(t, s, "poster", "admin", "job-1", "one")
	if _, err := s.MarkRead(ctx, "job-1", "admin"); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}

	// A message landing after the first pass is reported with its own sender.
	send(t, s, "other", "admin", "job-1", "late")
	send(t, s, "other", "admin", "job-1", "later")

	res, err := s.MarkRead(ctx, "job-1", "admin")
	if err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if res.Count != 2 {
		t.Fatalf("expected 2 rows updated, got %d", res.Count)
	}
	if len(res.Senders) != 1 || res.Senders[0] != "other" {
		t.Fatalf("expected only the late sender, got %v", res.Senders)
	}
}

func TestMarkMessageRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := send(t, s, "poster", "admin", "job-1", "Hello")

	if _, err := s.MarkMessageRead(ctx, msg.ID, "poster"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for wrong receiver, got %v", err)
	}

	got, err := s.MarkMessageRead(ctx, msg.ID, "admin")
	if err != nil {
		t.Fatalf("MarkMessageRead failed: %v", err)
	}
	if !got.IsRead {
		t.Fatal("expected message to be read")
	}

	// A repeat leaves the flag set.
	got, err = s.MarkMessageRead(ctx, msg.ID, "admin")
	if err != nil {
		t.Fatalf("repeat MarkMessageRead failed: %v", err)
	}
	if !got.IsRead {
		t.Fatal("read flag regressed")
	}
}

func TestLookupsReturnNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"user", func() error { _, err := s.GetUserByID(ctx, "ghost"); return err }},
		{"job", func() error { _, err := s.GetJobByID(ctx, "ghost"); return err }},
		{"message", func() error { _, err := s.GetMessage(ctx, "ghost"); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, store.ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}
