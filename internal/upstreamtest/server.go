// Package upstreamtest provides a scripted upstream server for tests of
// the forwarder and the command line.
package upstreamtest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Response scripts the reply for one path.
type Response struct {
	StatusCode int
	Headers    map[string]string
	// Body is written in one piece with a Content-Length.
	Body string
	// Chunks are written one by one with a flush after each, which makes
	// net/http use chunked transfer encoding.
	Chunks     []string
	ChunkDelay time.Duration
	// Hold keeps the response open after the chunks until the client
	// cancels the request.
	Hold bool
}

// Request is what the server saw of one incoming request.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// Server is a scripted upstream.
type Server struct {
	server    *httptest.Server
	mu        sync.Mutex
	responses map[string]Response
	requests  []Request
	cancelled chan struct{}
}

// NewServer starts a Server.
func NewServer() *Server {
	s := &Server{
		responses: make(map[string]Response),
		cancelled: make(chan struct{}, 16),
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the base URL.
func (s *Server) URL() string {
	return s.server.URL
}

// Close shuts the server down.
func (s *Server) Close() {
	s.server.Close()
}

// SetResponse scripts the reply for path.
func (s *Server) SetResponse(path string, resp Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[path] = resp
}

// Requests returns the received requests in order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Cancelled receives a value whenever a held response saw its request
// context end.
func (s *Server) Cancelled() <-chan struct{} {
	return s.cancelled
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Method:   r.Method,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
		Header:   r.Header.Clone(),
		Body:     body,
	})
	resp, ok := s.responses[r.URL.Path]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}

	if len(resp.Chunks) == 0 && !resp.Hold {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, resp.Body)
		return
	}

	flusher := w.(http.Flusher)
	w.WriteHeader(status)
	flusher.Flush()
	for _, chunk := range resp.Chunks {
		if resp.ChunkDelay > 0 {
			select {
			case <-time.After(resp.ChunkDelay):
			case <-r.Context().Done():
				s.cancelled <- struct{}{}
				return
			}
		}
		if _, err := io.WriteString(w, chunk); err != nil {
			return
		}
		flusher.Flush()
	}
	if resp.Hold {
		<-r.Context().Done()
		s.cancelled <- struct{}{}
	}
}

// OllamaChatChunk returns one NDJSON line of an Ollama /api/chat stream.
func OllamaChatChunk(content string, done bool) string {
	b, _ := json.Marshal(map[string]any{
		"model":      "llama3",
		"created_at": "2024-01-01T00:00:00Z",
		"message":    map[string]any{"role": "assistant", "content": content},
		"done":       done,
	})
	return string(b) + "\n"
}

// OpenAIStreamEvent returns one SSE event of a chat completion stream.
func OpenAIStreamEvent(delta string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-123",
		"object":  "chat.completion.chunk",
		"model":   "gpt-4",
		"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": delta}}},
	})
	return "data: " + string(b) + "\n\n"
}
