package middleware

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"mercator-hq/llmtap/internal/upstreamtest"
	"mercator-hq/llmtap/pkg/proxy"
	"mercator-hq/llmtap/pkg/telemetry/logging"
)

func TestRecoveryMiddleware(t *testing.T) {
	t.Run("recovers from panic", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		})
		w := httptest.NewRecorder()
		RecoveryMiddleware(slog.New(slog.NewTextHandler(io.Discard, nil)))(handler).
			ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("Status code = %v, want %v", w.Code, http.StatusInternalServerError)
		}
		var resp proxy.ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("invalid error body: %v", err)
		}
		if resp.Error.Type != proxy.ErrorTypeServerError {
			t.Errorf("error type = %q", resp.Error.Type)
		}
	})

	t.Run("passes through normal requests", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("OK"))
		})
		w := httptest.NewRecorder()
		RecoveryMiddleware(nil)(handler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		if w.Code != http.StatusOK || w.Body.String() != "OK" {
			t.Errorf("got %d %q", w.Code, w.Body.String())
		}
	})

	t.Run("re-raises abort", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic(http.ErrAbortHandler)
		})
		defer func() {
			if recover() != http.ErrAbortHandler {
				t.Error("expected ErrAbortHandler to propagate")
			}
		}()
		RecoveryMiddleware(nil)(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"generates when absent", "", false},
		{"keeps client id", "client-abc-123", true},
		{"replaces id with spaces", "bad id", false},
		{"replaces oversized id", strings.Repeat("x", 200), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = logging.GetRequestID(r.Context())
			})
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			w := httptest.NewRecorder()
			RequestIDMiddleware(handler).ServeHTTP(w, req)

			if seen == "" {
				t.Fatal("request id missing from context")
			}
			if got := w.Header().Values(RequestIDHeader); len(got) != 0 {
				t.Errorf("response header set to %q, want untouched", got)
			}
			if tt.keep && seen != tt.incoming {
				t.Errorf("expected client id to be kept, got %q", seen)
			}
			if !tt.keep && seen == tt.incoming {
				t.Errorf("expected generated id, got %q", seen)
			}
		})
	}
}

func TestEchoRequestID(t *testing.T) {
	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
		RequestIDMiddleware, EchoRequestID)

	req := httptest.NewRequest(http.MethodGet, "/_llmtap/health", nil)
	req.Header.Set(RequestIDHeader, "client-7")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Values(RequestIDHeader); len(got) != 1 || got[0] != "client-7" {
		t.Errorf("X-Request-ID = %q, want [client-7]", got)
	}
}

func TestRequestIDMiddleware_ForwardedHeadersUnchanged(t *testing.T) {
	up := upstreamtest.NewServer()
	defer up.Close()
	up.SetResponse("/v1/models", upstreamtest.Response{
		Headers: map[string]string{"Content-Type": "application/json", "X-Request-Id": "req_upstream"},
		Body:    `{"data":[]}`,
	})
	upstream, err := proxy.NewUpstream(proxy.UpstreamConfig{BaseURL: up.URL()}, nil)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(Chain(proxy.NewForwarder(proxy.ForwarderConfig{Upstream: upstream}), RequestIDMiddleware))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/models")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if got := resp.Header.Values(RequestIDHeader); len(got) != 1 || got[0] != "req_upstream" {
		t.Errorf("X-Request-Id = %q, want [req_upstream]", got)
	}
	if got := up.Requests(); len(got) != 1 || got[0].Header.Get(RequestIDHeader) != "" {
		t.Error("proxy invented a request header for the upstream")
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetStartTime(r.Context()).IsZero() {
			t.Error("start time missing from context")
		}
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	})
	LoggingMiddleware(logger)(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/chat", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid log line %q: %v", buf.String(), err)
	}
	if entry["level"] != "ERROR" || entry["status"] != float64(502) || entry["bytes"] != float64(13) {
		t.Errorf("unexpected log entry %v", entry)
	}
}

func TestLoggingMiddleware_Flush(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("wrapped writer does not implement http.Flusher")
		}
		_, _ = w.Write([]byte("part"))
		f.Flush()
		if err := http.NewResponseController(w).Flush(); err != nil {
			t.Errorf("ResponseController.Flush: %v", err)
		}
	})
	rec := httptest.NewRecorder()
	LoggingMiddleware(slog.New(slog.NewTextHandler(io.Discard, nil)))(handler).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if !rec.Flushed {
		t.Error("flush did not reach the underlying writer")
	}
}

func TestBodyLimitMiddleware(t *testing.T) {
	var readErr error
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	})
	mw := BodyLimitMiddleware(8)(handler)

	t.Run("declared length too large", func(t *testing.T) {
		w := httptest.NewRecorder()
		mw.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))
		if w.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("status = %d, want 413", w.Code)
		}
		var resp proxy.ErrorResponse
		json.Unmarshal(w.Body.Bytes(), &resp)
		if resp.Error.Type != proxy.ErrorTypeRequestTooLarge {
			t.Errorf("error type = %q", resp.Error.Type)
		}
	})

	t.Run("undeclared length is capped", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", io.NopCloser(strings.NewReader("0123456789")))
		req.ContentLength = -1
		mw.ServeHTTP(httptest.NewRecorder(), req)
		var maxErr *http.MaxBytesError
		if !errors.As(readErr, &maxErr) {
			t.Errorf("expected MaxBytesError, got %v", readErr)
		}
	})

	t.Run("within limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		mw.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small")))
		if w.Code != http.StatusNoContent || readErr != nil {
			t.Errorf("status = %d, err = %v", w.Code, readErr)
		}
	})
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "handler") }),
		mark("outer"), mark("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if strings.Join(order, ",") != "outer,inner,handler" {
		t.Errorf("order = %v", order)
	}
}
