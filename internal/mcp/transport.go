// Transport implements the Transport Layer: a single HTTP endpoint
// serving both inline request/response and SSE session semantics, per
// the spec's §4.7/§6.
//
// Grounded on the teacher's mcpgw.Gateway SSE subscriber table
// (internal/mcpgw/gateway.go: map[string][]chan models.MCPResponse,
// Subscribe/Unsubscribe) generalized from one-subscription-per-kitchen to
// one bounded, owned queue per sessionId.
package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/shibaleo/mcpist/internal/authz"
)

// DefaultSSEBufferSize bounds a session's pending outbound message queue.
// Beyond this, sends are dropped with a warning; the client must
// reconnect to recover.
const DefaultSSEBufferSize = 100

// session is one SSE client's owned state: an outbound queue and a done
// channel closed on disconnect.
type session struct {
	outbound chan []byte
	done     chan struct{}
	closeOne sync.Once
}

func newSession(bufferSize int) *session {
	return &session{
		outbound: make(chan []byte, bufferSize),
		done:     make(chan struct{}),
	}
}

// send enqueues a message for delivery over the SSE stream. Never blocks:
// if the queue is full the message is dropped and logged, per §4.7/§5 —
// the client must reconnect to recover a stuck/slow consumer.
func (s *session) send(sessionID string, payload []byte) {
	select {
	case s.outbound <- payload:
	default:
		log.Warn().Str("session_id", sessionID).Msg("sse outbound queue full, dropping message")
	}
}

func (s *session) close() {
	s.closeOne.Do(func() { close(s.done) })
}

// Transport serves the MCP endpoint's two modes over one mux route:
// inline POST and SSE GET/POST, dispatching decoded requests to Server.
type Transport struct {
	server     *Server
	bufferSize int

	mu       sync.Mutex
	sessions map[string]*session
}

// NewTransport builds a Transport over an MCP Server.
func NewTransport(server *Server, bufferSize int) *Transport {
	if bufferSize <= 0 {
		bufferSize = DefaultSSEBufferSize
	}
	return &Transport{server: server, bufferSize: bufferSize, sessions: make(map[string]*session)}
}

// ServeHTTP implements the single `/v1/mcp` endpoint: GET opens an SSE
// stream, POST without ?sessionId is inline, POST with ?sessionId is
// queued onto an existing session.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		t.serveSSE(w, r)
	case http.MethodPost:
		if sessionID := r.URL.Query().Get("sessionId"); sessionID != "" {
			t.servePostToSession(w, r, sessionID)
			return
		}
		t.serveInline(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// serveInline handles POST requests with no session: the response body
// IS the JSON-RPC response.
func (t *Transport) serveInline(w http.ResponseWriter, r *http.Request) {
	uc, ok := authz.UserFrom(r.Context())
	if !ok {
		http.Error(w, "mcp: missing authenticated user context", http.StatusInternalServerError)
		return
	}

	raw, err := readLimited(r)
	if err != nil {
		writeJSONRPCError(w, http.StatusBadRequest, errorResponse(nil, ErrParseError, "parse error"))
		return
	}

	resp := t.server.Handle(r.Context(), uc, raw)
	if resp == nil {
		// Notification: no response body.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// serveSSE opens a long-lived event stream. The first event is the
// `endpoint` event carrying the session's POST URL; subsequent `message`
// events deliver JSON-RPC responses as they complete.
func (t *Transport) serveSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "mcp: streaming unsupported", http.StatusInternalServerError)
		return
	}

	sessionID := newSessionID()
	sess := newSession(t.bufferSize)

	t.mu.Lock()
	t.sessions[sessionID] = sess
	t.mu.Unlock()
	defer t.removeSession(sessionID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	endpointURL := fmt.Sprintf("%s?sessionId=%s", r.URL.Path, sessionID)
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", endpointURL)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.done:
			return
		case payload := <-sess.outbound:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// servePostToSession queues a request onto an existing SSE session's
// dispatch; the HTTP response is just a 202, the real JSON-RPC response
// arrives as a `message` event on the stream.
func (t *Transport) servePostToSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	t.mu.Lock()
	sess, ok := t.sessions[sessionID]
	t.mu.Unlock()
	if !ok {
		http.Error(w, "mcp: unknown session", http.StatusNotFound)
		return
	}

	uc, ok := authz.UserFrom(r.Context())
	if !ok {
		http.Error(w, "mcp: missing authenticated user context", http.StatusInternalServerError)
		return
	}

	raw, err := readLimited(r)
	if err != nil {
		sess.send(sessionID, mustMarshal(errorResponse(nil, ErrParseError, "parse error")))
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	// The handler runs after the 202 is written: the real answer is
	// delivered asynchronously over the SSE stream, not this response.
	// The dispatch context lives as long as the session, so a client
	// disconnect cancels in-flight tool calls.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sess.done
		cancel()
	}()
	go func() {
		defer cancel()
		resp := t.server.Handle(ctx, uc, raw)
		if resp == nil {
			return
		}
		sess.send(sessionID, mustMarshal(resp))
	}()
}

func (t *Transport) removeSession(sessionID string) {
	t.mu.Lock()
	sess, ok := t.sessions[sessionID]
	delete(t.sessions, sessionID)
	t.mu.Unlock()
	if ok {
		sess.close()
	}
}

// maxInlineBodyBytes bounds request body size read for a single JSON-RPC
// message, generous enough for batch command streams up to the 10-command
// cap.
const maxInlineBodyBytes = 1 << 20 // 1 MiB

func readLimited(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, maxInlineBodyBytes))
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","error":{"code":-32603,"message":"internal error"}}`)
	}
	return b
}

func writeJSONRPCError(w http.ResponseWriter, status int, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func newSessionID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// SessionCount reports the number of live SSE sessions, for tests and
// health/metrics reporting.
func (t *Transport) SessionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
