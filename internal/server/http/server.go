package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/mood-agency/relay/internal/queue"
	"github.com/mood-agency/relay/internal/runtime"
	"github.com/mood-agency/relay/pkg/id"
)

// Server exposes the queue engine over HTTP.
type Server struct {
	rt  *runtime.Runtime
	srv *http.Server
	lis net.Listener
}

func New(rt *runtime.Runtime) *Server {
	mux := http.NewServeMux()
	s := &Server{rt: rt, srv: &http.Server{Handler: cors(mux)}}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("POST /api/queue/message", s.handleEnqueue)
	mux.HandleFunc("GET /api/queue/message", s.handleDequeue)
	mux.HandleFunc("POST /api/queue/message/{id}/ack", s.handleAck)
	mux.HandleFunc("POST /api/queue/message/{id}/fail", s.handleFail)
	mux.HandleFunc("GET /api/queue/status", s.handleStatus)
	mux.HandleFunc("GET /api/queue/dead-letters", s.handleDeadLetters)
	mux.HandleFunc("GET /api/queue/peek", s.handlePeek)
	return s
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeQueueErr maps engine errors onto HTTP statuses. A resolution for a
// message that is not leased is a conflict, not a server fault.
func writeQueueErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrNotLeased):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "message not leased"})
	case errors.Is(err, queue.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "message not found"})
	case errors.Is(err, queue.ErrStoreUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store unavailable"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (id.ID, bool) {
	msgID, err := id.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad message id"})
		return id.Zero, false
	}
	return msgID, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_serving"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type enqueueReq struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Priority uint32          `json:"priority"`
}

// handleEnqueue adds a message to the queue.
// POST /api/queue/message
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	msgID, err := s.rt.Queue().Enqueue(r.Context(), req.Type, req.Payload, req.Priority, 0)
	if err != nil {
		writeQueueErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": msgID.String()})
}

// handleDequeue leases the next message. With ?timeout=N (seconds) the call
// long-polls; an empty queue answers 204.
// GET /api/queue/message?timeout=5
func (s *Server) handleDequeue(w http.ResponseWriter, r *http.Request) {
	var wait time.Duration
	if v := r.URL.Query().Get("timeout"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad timeout"})
			return
		}
		wait = time.Duration(secs) * time.Second
	}
	msg, err := s.rt.Queue().Dequeue(r.Context(), wait, 0)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		writeQueueErr(w, err)
		return
	}
	if msg == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// handleAck resolves a leased message as processed.
// POST /api/queue/message/{id}/ack
func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	msgID, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.rt.Queue().Ack(r.Context(), msgID); err != nil {
		writeQueueErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acked"})
}

type failReq struct {
	Reason string `json:"reason"`
}

// handleFail resolves a leased message as failed; the response reports
// whether it was dead-lettered.
// POST /api/queue/message/{id}/fail
func (s *Server) handleFail(w http.ResponseWriter, r *http.Request) {
	msgID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req failReq
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "unspecified"
	}
	dead, err := s.rt.Queue().Fail(r.Context(), msgID, req.Reason, 0)
	if err != nil {
		writeQueueErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deadLettered": dead})
}

// handleStatus reports queue lengths and lifetime counters.
// GET /api/queue/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.rt.Queue().Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"mainQueue":       map[string]any{"length": st.Queued},
		"processingQueue": map[string]any{"length": st.Processing},
		"deadLetterQueue": map[string]any{"length": st.DeadLettered},
		"metadata": map[string]any{
			"totalProcessed": st.TotalProcessed,
			"totalFailed":    st.TotalFailed,
		},
	})
}

// handleDeadLetters lists dead-lettered messages, oldest first.
// GET /api/queue/dead-letters?limit=N
func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100)
	dls, err := s.rt.Queue().ListDeadLetters(limit)
	if err != nil {
		writeQueueErr(w, err)
		return
	}
	if dls == nil {
		dls = []queue.DeadLetter{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deadLetters": dls})
}

// handlePeek lists queued messages in dequeue order without leasing them.
// GET /api/queue/peek?limit=N
func (s *Server) handlePeek(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100)
	msgs, err := s.rt.Queue().PeekReady(limit)
	if err != nil {
		writeQueueErr(w, err)
		return
	}
	if msgs == nil {
		msgs = []queue.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func parseLimit(r *http.Request, def int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
