package health

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestNew_DefaultTimeout(t *testing.T) {
	if c := New(0); c.checkTimeout != 5*time.Second {
		t.Errorf("expected 5s default timeout, got %v", c.checkTimeout)
	}
}

func TestChecker_Check(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]CheckFunc
		want   string
	}{
		{"no checks", nil, "ready"},
		{
			"all healthy",
			map[string]CheckFunc{
				"upstream": func(context.Context) error { return nil },
				"index":    func(context.Context) error { return nil },
			},
			"ready",
		},
		{
			"one failing",
			map[string]CheckFunc{
				"upstream": func(context.Context) error { return errors.New("connection refused") },
				"index":    func(context.Context) error { return nil },
			},
			"degraded",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(time.Second)
			for name, fn := range tt.checks {
				c.Register(name, fn)
			}
			status := c.Check(context.Background())
			if status.Status != tt.want {
				t.Errorf("status = %q, want %q", status.Status, tt.want)
			}
			if len(status.Checks) != len(tt.checks) {
				t.Errorf("expected %d results, got %d", len(tt.checks), len(status.Checks))
			}
		})
	}
}

func TestChecker_Timeout(t *testing.T) {
	c := New(20 * time.Millisecond)
	c.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil
	})

	status := c.Check(context.Background())
	r := status.Checks["slow"]
	if r.Status != "unhealthy" || r.Message != ErrCheckTimeout.Error() {
		t.Errorf("expected timeout result, got %+v", r)
	}
}

func TestChecker_Names(t *testing.T) {
	c := New(time.Second)
	c.Register("upstream", func(context.Context) error { return nil })
	c.Register("index", func(context.Context) error { return nil })
	if got := c.Names(); !reflect.DeepEqual(got, []string{"index", "upstream"}) {
		t.Errorf("Names() = %v", got)
	}
}

func TestLivenessHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/_llmtap/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body, _ := io.ReadAll(rec.Body); string(body) != "ok" {
		t.Errorf("body = %q, want ok", body)
	}

	rec = httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodPost, "/_llmtap/health", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", rec.Code)
	}
}

func TestReadinessHandler(t *testing.T) {
	c := New(time.Second)
	c.Register("upstream", func(context.Context) error { return errors.New("down") })

	rec := httptest.NewRecorder()
	c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/_llmtap/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var status Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if status.Checks["upstream"].Message != "down" {
		t.Errorf("unexpected checks %+v", status.Checks)
	}
}

func TestVersionHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	VersionHandler("1.2.3", "abc", "now")(rec, httptest.NewRequest(http.MethodGet, "/_llmtap/version", nil))

	var info VersionInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	if info.Version != "1.2.3" || info.Commit != "abc" || info.GoVersion == "" {
		t.Errorf("unexpected info %+v", info)
	}
}
