package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"mercator-hq/llmtap/pkg/capture"
	"mercator-hq/llmtap/pkg/proxy"
	"mercator-hq/llmtap/pkg/proxy/middleware"
	"mercator-hq/llmtap/pkg/replay"
	"mercator-hq/llmtap/pkg/storage"
	"mercator-hq/llmtap/pkg/telemetry/health"
)

// routes builds the root handler. Paths under the admin prefix go to the
// admin mux; everything else is forwarded verbatim. The forwarder is not
// mounted on the mux so that ServeMux never cleans or redirects a
// forwarded path.
func (s *Server) routes() http.Handler {
	prefix := strings.TrimSuffix(s.config.Server.AdminPrefix, "/")
	admin := http.NewServeMux()

	admin.Handle(prefix+"/health", health.LivenessHandler())
	admin.Handle(prefix+"/ready", s.checker.ReadinessHandler())
	admin.Handle(prefix+"/version", health.VersionHandler(s.build.Version, s.build.Commit, s.build.BuildTime))
	if s.config.Telemetry.Metrics.Enabled {
		admin.Handle(s.config.Telemetry.Metrics.Path, s.collector.Handler())
	}
	if s.index != nil {
		admin.HandleFunc("GET "+prefix+"/replay/{id}", s.handleReplay)
		admin.HandleFunc("GET "+prefix+"/captures", s.handleListCaptures)
		admin.HandleFunc("GET "+prefix+"/captures/{id}", s.handleGetCapture)
	}
	if s.pruner != nil {
		admin.HandleFunc("POST "+prefix+"/captures/prune", s.handlePrune)
	}

	echoAdmin := middleware.EchoRequestID(admin)
	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == prefix || strings.HasPrefix(r.URL.Path, prefix+"/") {
			echoAdmin.ServeHTTP(w, r)
			return
		}
		s.forwarder.ServeHTTP(w, r)
	})

	return middleware.Chain(root,
		middleware.RecoveryMiddleware(s.logger),
		middleware.RequestIDMiddleware,
		middleware.LoggingMiddleware(s.logger),
		middleware.BodyLimitMiddleware(s.config.Server.MaxRequestBodyBytes),
	)
}

// captureSummary is the JSON shape of one index entry.
type captureSummary struct {
	ID        string     `json:"id"`
	Method    string     `json:"method"`
	URL       string     `json:"url"`
	Status    int        `json:"status,omitempty"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Complete  bool       `json:"complete"`
	Chunks    int        `json:"chunks"`
	Bytes     int        `json:"bytes"`
	File      string     `json:"file"`
}

func summarize(e storage.Entry) captureSummary {
	return captureSummary{
		ID:        e.ID,
		Method:    e.Method,
		URL:       e.URL,
		Status:    e.Status,
		StartTime: e.StartTime,
		EndTime:   e.EndTime,
		Complete:  e.Complete(),
		Chunks:    e.Chunks,
		Bytes:     e.Bytes,
		File:      e.Path,
	}
}

// handleReplay serves a stored capture again with its recorded pacing.
// The speed query parameter scales the gaps between chunks.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	speed := 1.0
	if v := r.URL.Query().Get("speed"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.writeError(w, badRequest("invalid speed "+strconv.Quote(v)))
			s.collector.RecordReplay("rejected", time.Since(start))
			return
		}
		speed = f
	}

	c, err := s.loadCapture(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		s.collector.RecordReplay("rejected", time.Since(start))
		return
	}

	seq, err := replay.New(c, speed, replay.WithClock(s.clock), replay.WithLogger(s.logger))
	switch {
	case errors.Is(err, replay.ErrInvalidSpeed):
		s.writeError(w, badRequest(err.Error()))
		s.collector.RecordReplay("rejected", time.Since(start))
		return
	case errors.Is(err, replay.ErrNoResponse):
		s.writeError(w, &proxy.RequestError{Message: err.Error(), Status: http.StatusConflict})
		s.collector.RecordReplay("rejected", time.Since(start))
		return
	case err != nil:
		s.writeError(w, err)
		s.collector.RecordReplay("failed", time.Since(start))
		return
	}

	seq.ServeHTTP(w, r)
	outcome := "completed"
	if r.Context().Err() != nil {
		outcome = "cancelled"
	}
	s.collector.RecordReplay(outcome, time.Since(start))
}

func (s *Server) handleListCaptures(w http.ResponseWriter, r *http.Request) {
	opts := storage.ListOptions{}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, badRequest("invalid limit "+strconv.Quote(v)))
			return
		}
		opts.Limit = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, badRequest("invalid since "+strconv.Quote(v)))
			return
		}
		opts.Since = t
	}
	opts.IncompleteOnly = q.Get("incomplete") == "true"

	entries, err := s.index.List(r.Context(), opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]captureSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, summarize(e))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// handleGetCapture returns the stored document as written to disk.
func (s *Server) handleGetCapture(w http.ResponseWriter, r *http.Request) {
	c, err := s.loadCapture(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := capture.Encode(w, c); err != nil {
		s.logger.WarnContext(r.Context(), "failed to write capture", "capture_id", c.ID, "error", err)
	}
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	n, err := s.pruner.Prune(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"deleted": n})
}

func (s *Server) loadCapture(ctx context.Context, id string) (*capture.Capture, error) {
	e, err := s.index.Get(ctx, id)
	if err != nil {
		switch {
		case storage.IsNotFound(err):
			return nil, &proxy.RequestError{Message: "capture " + strconv.Quote(id) + " not found", Status: http.StatusNotFound}
		case errors.Is(err, storage.ErrAmbiguousID):
			return nil, badRequest("capture id " + strconv.Quote(id) + " is ambiguous")
		}
		return nil, err
	}
	return s.store.Load(e.Path)
}

func badRequest(msg string) error {
	return &proxy.RequestError{Message: msg, Status: http.StatusBadRequest}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	resp := proxy.HandleError(err)
	if resp.Error.Status >= http.StatusInternalServerError {
		s.logger.Error("admin request failed", "error", err)
	}
	_ = proxy.WriteErrorResponse(w, resp)
}
