package replay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
)

// hopHeaders are recomputed by net/http when a capture is served again.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Transfer-Encoding",
	"Upgrade",
	"Te",
	"Trailer",
	"Content-Length",
}

// Copy writes the chunks to w on schedule and returns the number of
// bytes written. A w that implements http.Flusher is flushed after every
// chunk.
func (s *Sequence) Copy(ctx context.Context, w io.Writer) (int64, error) {
	flusher, _ := w.(http.Flusher)
	var n int64
	for chunk, err := range s.Chunks(ctx) {
		if err != nil {
			return n, err
		}
		m, err := w.Write(chunk)
		n += int64(m)
		if err != nil {
			return n, err
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	return n, nil
}

// ServeHTTP replays the recorded response: status, headers and body with
// the original pacing. Chunked captures are re-chunked by net/http;
// others carry their recorded length. A client disconnect stops the
// replay.
func (s *Sequence) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := s.capture.Response
	h := w.Header()
	for _, f := range resp.Headers.Without(hopHeaders...) {
		h.Add(f.Name, f.Value)
	}
	if !s.capture.Chunked() {
		h.Set("Content-Length", strconv.Itoa(resp.Size()))
	}
	w.WriteHeader(resp.Status)

	n, err := s.Copy(r.Context(), w)
	switch {
	case err == nil:
		s.logger.Debug("replay finished", "bytes", n, "speed", s.speed)
	case errors.Is(err, context.Canceled):
		s.logger.Info("replay cancelled by client", "bytes", n)
	default:
		s.logger.Warn("replay aborted", "bytes", n, "error", err)
	}
}
