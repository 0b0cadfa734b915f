package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	cfgpkg "github.com/mood-agency/relay/internal/config"
	"github.com/mood-agency/relay/internal/runtime"
	pebblestore "github.com/mood-agency/relay/internal/storage/pebble"
)

func newTestServer(t *testing.T, mutate func(*cfgpkg.Config)) *httptest.Server {
	t.Helper()
	cfg := cfgpkg.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	rt, err := runtime.Open(runtime.Options{
		DataDir: t.TempDir(),
		Fsync:   pebblestore.FsyncModeAlways,
		Config:  cfg,
	})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	ts := httptest.NewServer(New(rt).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func enqueue(t *testing.T, ts *httptest.Server, priority uint32) string {
	t.Helper()
	resp := postJSON(t, ts.URL+"/api/queue/message", map[string]any{
		"type":     "email",
		"payload":  map[string]string{"to": "a@b"},
		"priority": priority,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("enqueue status: %d", resp.StatusCode)
	}
	var body struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &body)
	if body.ID == "" {
		t.Fatalf("enqueue returned no id")
	}
	return body.ID
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/v1/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status: %d", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["status"] != "ok" {
		t.Fatalf("health body: %v", body)
	}
}

func TestDequeueEmptyIsNoContent(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/api/queue/message")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("empty dequeue status: %d", resp.StatusCode)
	}
}

func TestEnqueueDequeueAckCycle(t *testing.T) {
	ts := newTestServer(t, nil)
	msgID := enqueue(t, ts, 2)

	resp, err := http.Get(ts.URL + "/api/queue/message")
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dequeue status: %d", resp.StatusCode)
	}
	var msg struct {
		ID       string          `json:"id"`
		Type     string          `json:"type"`
		Payload  json.RawMessage `json:"payload"`
		Priority uint32          `json:"priority"`
		Attempts int             `json:"attempts"`
	}
	decodeBody(t, resp, &msg)
	if msg.ID != msgID || msg.Type != "email" || msg.Priority != 2 || msg.Attempts != 0 {
		t.Fatalf("dequeued message: %+v", msg)
	}

	resp = postJSON(t, ts.URL+"/api/queue/message/"+msgID+"/ack", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ack status: %d", resp.StatusCode)
	}

	// second ack conflicts
	resp = postJSON(t, ts.URL+"/api/queue/message/"+msgID+"/ack", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate ack status: %d", resp.StatusCode)
	}
}

func TestAckBadIDIsBadRequest(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := postJSON(t, ts.URL+"/api/queue/message/not-hex/ack", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad id status: %d", resp.StatusCode)
	}
}

func TestFailReportsDeadLettered(t *testing.T) {
	ts := newTestServer(t, func(cfg *cfgpkg.Config) {
		cfg.Queue.MaxAttempts = 1
	})
	msgID := enqueue(t, ts, 0)

	resp, _ := http.Get(ts.URL + "/api/queue/message")
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/queue/message/"+msgID+"/fail", map[string]string{"reason": "worker crashed"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fail status: %d", resp.StatusCode)
	}
	var body map[string]bool
	decodeBody(t, resp, &body)
	if !body["deadLettered"] {
		t.Fatalf("maxAttempts=1 failure must dead-letter: %v", body)
	}

	resp, err := http.Get(ts.URL + "/api/queue/dead-letters")
	if err != nil {
		t.Fatalf("dead-letters: %v", err)
	}
	var dls struct {
		DeadLetters []struct {
			ID     string `json:"id"`
			Reason string `json:"reason"`
		} `json:"deadLetters"`
	}
	decodeBody(t, resp, &dls)
	if len(dls.DeadLetters) != 1 || dls.DeadLetters[0].ID != msgID || dls.DeadLetters[0].Reason != "worker crashed" {
		t.Fatalf("dead letters: %+v", dls)
	}
}

func TestStatusShape(t *testing.T) {
	ts := newTestServer(t, nil)
	for i := 0; i < 3; i++ {
		enqueue(t, ts, 0)
	}
	resp, _ := http.Get(ts.URL + "/api/queue/message")
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/api/queue/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var st struct {
		MainQueue       struct{ Length int `json:"length"` } `json:"mainQueue"`
		ProcessingQueue struct{ Length int `json:"length"` } `json:"processingQueue"`
		DeadLetterQueue struct{ Length int `json:"length"` } `json:"deadLetterQueue"`
		Metadata        struct {
			TotalProcessed uint64 `json:"totalProcessed"`
			TotalFailed    uint64 `json:"totalFailed"`
		} `json:"metadata"`
	}
	decodeBody(t, resp, &st)
	if st.MainQueue.Length != 2 || st.ProcessingQueue.Length != 1 || st.DeadLetterQueue.Length != 0 {
		t.Fatalf("status: %+v", st)
	}
}

func TestPeekKeepsMessagesQueued(t *testing.T) {
	ts := newTestServer(t, nil)
	enqueue(t, ts, 5)
	enqueue(t, ts, 1)

	resp, err := http.Get(ts.URL + "/api/queue/peek")
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	var body struct {
		Messages []struct {
			Priority uint32 `json:"priority"`
		} `json:"messages"`
	}
	decodeBody(t, resp, &body)
	if len(body.Messages) != 2 || body.Messages[0].Priority != 1 {
		t.Fatalf("peek: %+v", body)
	}

	resp, _ = http.Get(ts.URL + "/api/queue/status")
	var st struct {
		MainQueue struct{ Length int `json:"length"` } `json:"mainQueue"`
	}
	decodeBody(t, resp, &st)
	if st.MainQueue.Length != 2 {
		t.Fatalf("peek must not lease: %+v", st)
	}
}

func TestDequeueLongPollWakesOnEnqueue(t *testing.T) {
	ts := newTestServer(t, nil)

	type result struct {
		status int
		err    error
	}
	got := make(chan result, 1)
	go func() {
		resp, err := http.Get(ts.URL + "/api/queue/message?timeout=5")
		if err != nil {
			got <- result{0, err}
			return
		}
		resp.Body.Close()
		got <- result{resp.StatusCode, nil}
	}()

	time.Sleep(100 * time.Millisecond)
	enqueue(t, ts, 0)

	select {
	case r := <-got:
		if r.err != nil || r.status != http.StatusOK {
			t.Fatalf("long poll: %+v", r)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("long poll never returned")
	}
}

func TestDequeueBadTimeout(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/api/queue/message?timeout=nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad timeout status: %d", resp.StatusCode)
	}
}

func TestEnqueueInvalidBody(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := http.Post(ts.URL+"/api/queue/message", "application/json", bytes.NewReader([]byte("{")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid body status: %d", resp.StatusCode)
	}
}

func TestPriorityOrderOverHTTP(t *testing.T) {
	ts := newTestServer(t, nil)
	ids := make(map[string]uint32)
	for _, p := range []uint32{2, 0, 1, 0} {
		ids[enqueue(t, ts, p)] = p
	}

	var prios []uint32
	for i := 0; i < 4; i++ {
		resp, err := http.Get(ts.URL + "/api/queue/message")
		if err != nil {
			t.Fatalf("dequeue %d: %v", i, err)
		}
		var msg struct {
			ID string `json:"id"`
		}
		decodeBody(t, resp, &msg)
		prios = append(prios, ids[msg.ID])
	}
	want := []uint32{0, 0, 1, 2}
	if fmt.Sprint(prios) != fmt.Sprint(want) {
		t.Fatalf("dequeue priorities: %v", prios)
	}
}
