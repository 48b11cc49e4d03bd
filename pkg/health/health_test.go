package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type pinger struct{ err error }

func (p pinger) Ping(ctx context.Context) error { return p.err }

func up(ctx context.Context) ComponentHealth { return ComponentHealth{Status: StatusUp} }

func down(ctx context.Context) ComponentHealth {
	return ComponentHealth{Status: StatusDown, Message: "no shards"}
}

func TestPingCheck(t *testing.T) {
	tests := []struct {
		name string
		p    Pinger
		want Status
		msg  string
	}{
		{"disabled", nil, StatusUp, "disabled"},
		{"healthy", pinger{}, StatusUp, ""},
		{"unreachable", pinger{err: errors.New("dial tcp: refused")}, StatusDegraded, "dial tcp: refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PingCheck(tt.p)(context.Background())
			if got.Status != tt.want || got.Message != tt.msg {
				t.Errorf("got %+v", got)
			}
		})
	}
}

func TestReadyHandler(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]Check
		status int
		want   Status
	}{
		{"all up", map[string]Check{"store": up}, http.StatusOK, StatusUp},
		{"degraded still serves", map[string]Check{"store": up, "redis": PingCheck(pinger{err: errors.New("x")})}, http.StatusOK, StatusDegraded},
		{"down", map[string]Check{"store": down, "redis": up}, http.StatusServiceUnavailable, StatusDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			for name, check := range tt.checks {
				c.Register(name, check)
			}
			rec := httptest.NewRecorder()
			c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			var report Report
			if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
				t.Fatal(err)
			}
			if report.Status != tt.want || len(report.Components) != len(tt.checks) {
				t.Errorf("report = %+v", report)
			}
		})
	}
}

func TestHungCheckIsDown(t *testing.T) {
	c := NewChecker()
	c.CheckTimeout = 20 * time.Millisecond
	c.Register("store", up)
	c.Register("source", func(ctx context.Context) ComponentHealth {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return ComponentHealth{Status: StatusUp}
	})

	report := c.Run(context.Background())
	if report.Status != StatusDown {
		t.Errorf("status = %s, want down", report.Status)
	}
	if got := report.Components["source"]; got.Message != "check timed out" {
		t.Errorf("source = %+v", got)
	}
	if got := report.Components["store"]; got.Status != StatusUp {
		t.Errorf("store = %+v", got)
	}
}
