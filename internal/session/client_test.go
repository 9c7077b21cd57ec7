package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/jobchat-server/internal/proto"
)

func TestAPIClientRequests(t *testing.T) {
	var gotAuth, gotUser string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/messages", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUser = r.URL.Query().Get("userId")
		_ = json.NewEncoder(w).Encode([]proto.MessagePayload{{ID: "m1", JobID: r.URL.Query().Get("jobId")}})
	})
	mux.HandleFunc("/api/messages/read", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"user bob: can only mark your own messages read"}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := NewAPIClient(ts.URL+"/", "tok", "")
	msgs, err := c.ListMessages(context.Background(), "job-1", "alice")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "job-1", msgs[0].JobID)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "alice", gotUser)

	_, err = c.MarkRead(context.Background(), "job-1")
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusForbidden))
	assert.Contains(t, err.Error(), "can only mark")
}
