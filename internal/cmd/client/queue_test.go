package client

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewQueueCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAPIURLDefaultsToLocal(t *testing.T) {
	t.Setenv("RELAY_HTTP", "")
	require.Equal(t, "http://127.0.0.1:8080", APIURL())
	t.Setenv("RELAY_HTTP", "http://queue.internal:9090")
	require.Equal(t, "http://queue.internal:9090", APIURL())
}

func TestEnqueueCommandPostsMessage(t *testing.T) {
	var got struct {
		Type     string          `json:"type"`
		Payload  json.RawMessage `json:"payload"`
		Priority uint32          `json:"priority"`
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/queue/message", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"00000000000003e80000000000000001"}`))
	}))
	defer ts.Close()
	t.Setenv("RELAY_HTTP", ts.URL)

	out, err := runCommand(t, "enqueue", "--type", "email", "--payload", `{"to":"a@b"}`, "--priority", "2")
	require.NoError(t, err)
	require.Contains(t, out, "00000000000003e80000000000000001")
	require.Equal(t, "email", got.Type)
	require.Equal(t, uint32(2), got.Priority)
	require.JSONEq(t, `{"to":"a@b"}`, string(got.Payload))
}

func TestEnqueueCommandRejectsBadPayload(t *testing.T) {
	_, err := runCommand(t, "enqueue", "--payload", "not-json")
	require.Error(t, err)
}

func TestDequeueCommandHandlesEmptyQueue(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()
	t.Setenv("RELAY_HTTP", ts.URL)

	out, err := runCommand(t, "dequeue")
	require.NoError(t, err)
	require.Contains(t, out, "queue empty")
}

func TestAckCommandRequiresID(t *testing.T) {
	_, err := runCommand(t, "ack")
	require.Error(t, err)
}

func TestFailCommandSendsReason(t *testing.T) {
	var got map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/queue/message/abc123/fail", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"deadLettered":false}`))
	}))
	defer ts.Close()
	t.Setenv("RELAY_HTTP", ts.URL)

	out, err := runCommand(t, "fail", "abc123", "--reason", "worker crashed")
	require.NoError(t, err)
	require.Contains(t, out, "deadLettered")
	require.Equal(t, "worker crashed", got["reason"])
}

func TestErrorStatusSurfacesAsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"message not leased"}`))
	}))
	defer ts.Close()
	t.Setenv("RELAY_HTTP", ts.URL)

	out, err := runCommand(t, "ack", "abc123")
	require.Error(t, err)
	require.Contains(t, out, "message not leased")
}
