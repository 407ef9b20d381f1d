package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/tamzrod/bms-telemetry/internal/command"
	"github.com/tamzrod/bms-telemetry/internal/decoder"
	"github.com/tamzrod/bms-telemetry/internal/matrix"
	"github.com/tamzrod/bms-telemetry/internal/observability"
	"github.com/tamzrod/bms-telemetry/internal/session"
)

func init() { gin.SetMode(gin.TestMode) }

// ---- fake controller ----

type fakeController struct {
	mu      sync.Mutex
	state   string
	soc     []float64
	req     command.PeriodicRequest
	stopped bool
	hub     *decoder.Hub
}

func newFake() *fakeController {
	return &fakeController{
		state: "waiting",
		req:   command.DefaultRequest,
		hub:   decoder.NewHub(),
	}
}

func (f *fakeController) guard() error {
	if f.stopped {
		return session.ErrStopped
	}
	return nil
}

func (f *fakeController) Run() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.guard(); err != nil {
		return err
	}
	f.state = "running"
	return nil
}

func (f *fakeController) Wait() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.guard(); err != nil {
		return err
	}
	f.state = "waiting"
	return nil
}

func (f *fakeController) SetSOC(p float64) error {
	if _, err := command.SetSOC(p); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.soc = append(f.soc, p)
	return nil
}

func (f *fakeController) RequestState(k command.RequestKind, d time.Duration) error {
	r := command.PeriodicRequest{Kind: k, Period: d}
	if err := r.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.req = r
	return nil
}

func (f *fakeController) StopRequests() error {
	f.mu.Lock()
	d := f.req.Period
	f.mu.Unlock()
	return f.RequestState(command.NoRequest, d)
}

func (f *fakeController) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return session.Status{
		ID:       "id-1",
		Name:     "pack-a",
		State:    f.state,
		Health:   "ok",
		Request:  f.req.Kind.String(),
		PeriodMs: f.req.Period.Milliseconds(),
	}
}

func (f *fakeController) Subscribe() *decoder.Subscription { return f.hub.Subscribe() }

// ---- helpers ----

func newServer(ctl Controller) *Server {
	return New(ctl, nil, prometheus.NewRegistry(), zerolog.Nop())
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

// ---- tests ----

func TestHealthzAndStatus(t *testing.T) {
	s := newServer(newFake())

	w := do(t, s, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("healthz: %d", w.Code)
	}

	w = do(t, s, http.MethodGet, "/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	var st session.Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Name != "pack-a" || st.Request != "none" || st.PeriodMs != 100 {
		t.Fatalf("status: %+v", st)
	}
}

func TestRunAndWait(t *testing.T) {
	ctl := newFake()
	s := newServer(ctl)

	if w := do(t, s, http.MethodPost, "/session/run", ""); w.Code != http.StatusOK {
		t.Fatalf("run: %d", w.Code)
	}
	if ctl.Status().State != "running" {
		t.Fatalf("state: %s", ctl.Status().State)
	}
	if w := do(t, s, http.MethodPost, "/session/wait", ""); w.Code != http.StatusOK {
		t.Fatalf("wait: %d", w.Code)
	}

	ctl.stopped = true
	if w := do(t, s, http.MethodPost, "/session/run", ""); w.Code != http.StatusConflict {
		t.Fatalf("run on stopped session: %d", w.Code)
	}
}

func TestSetSOC(t *testing.T) {
	cases := []struct {
		name string
		body string
		code int
	}{
		{"valid", `{"percent": 42.5}`, http.StatusAccepted},
		{"zero is valid", `{"percent": 0}`, http.StatusAccepted},
		{"above range", `{"percent": 100.5}`, http.StatusBadRequest},
		{"negative", `{"percent": -1}`, http.StatusBadRequest},
		{"missing", `{}`, http.StatusBadRequest},
		{"not json", `percent=3`, http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctl := newFake()
			s := newServer(ctl)
			w := do(t, s, http.MethodPost, "/commands/soc", tc.body)
			if w.Code != tc.code {
				t.Fatalf("code: got=%d want=%d body=%s", w.Code, tc.code, w.Body.String())
			}
			if tc.code != http.StatusAccepted && len(ctl.soc) != 0 {
				t.Fatalf("rejected input must not reach the session")
			}
		})
	}
}

func TestPeriodic(t *testing.T) {
	ctl := newFake()
	s := newServer(ctl)

	w := do(t, s, http.MethodPut, "/commands/periodic", `{"request":"standby","period_ms":250}`)
	if w.Code != http.StatusOK {
		t.Fatalf("put: %d %s", w.Code, w.Body.String())
	}
	if ctl.req.Kind != command.Standby || ctl.req.Period != 250*time.Millisecond {
		t.Fatalf("request: %+v", ctl.req)
	}

	// period omitted keeps the current one
	w = do(t, s, http.MethodPut, "/commands/periodic", `{"request":"normal"}`)
	if w.Code != http.StatusOK || ctl.req.Kind != command.Normal || ctl.req.Period != 250*time.Millisecond {
		t.Fatalf("put without period: %d %+v", w.Code, ctl.req)
	}

	for _, body := range []string{
		`{"request":"turbo","period_ms":100}`,
		`{"request":"standby","period_ms":0}`,
		`{"request":"standby","period_ms":5000}`,
		`{"period_ms":100}`,
	} {
		if w := do(t, s, http.MethodPut, "/commands/periodic", body); w.Code != http.StatusBadRequest {
			t.Fatalf("%s: got %d", body, w.Code)
		}
	}
	// previous valid request remains in force
	if ctl.req.Kind != command.Normal || ctl.req.Period != 250*time.Millisecond {
		t.Fatalf("request changed by invalid input: %+v", ctl.req)
	}

	w = do(t, s, http.MethodDelete, "/commands/periodic", "")
	if w.Code != http.StatusOK || ctl.req.Kind != command.NoRequest {
		t.Fatalf("delete: %d %+v", w.Code, ctl.req)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	m.FramesReceived.Inc()

	s := New(newFake(), m, reg, zerolog.Nop())
	w := do(t, s, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "bmsmon_adapter_frames_received_total 1") {
		t.Fatalf("metrics body missing counter:\n%s", w.Body.String())
	}
}

func TestEventsStream(t *testing.T) {
	ctl := newFake()
	srv := httptest.NewServer(newServer(ctl).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// the handler subscribes before streaming; publish once it is there
	go func() {
		for ctl.hub.Subscribers() == 0 && ctx.Err() == nil {
			time.Sleep(time.Millisecond)
		}
		ctl.hub.Publish(decoder.Record{At: time.Now(), Event: matrix.Current{Amps: 1.5}})
	}()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	var event, data string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if data != "" {
			break
		}
	}

	if event != "current" {
		t.Fatalf("event: %q", event)
	}
	if !strings.Contains(data, `"amps":1.5`) || !strings.Contains(data, `"session":"pack-a"`) {
		t.Fatalf("data: %s", data)
	}
}

// ---- lifecycle ----

func serveAsync(s *Server) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe("127.0.0.1:0") }()
	return done
}

func waitServe(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ListenAndServe: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server still serving after Shutdown")
	}
}

func TestShutdownBeforeListen(t *testing.T) {
	s := newServer(newFake())
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	waitServe(t, serveAsync(s))
}

func TestShutdownRacingListen(t *testing.T) {
	for i := 0; i < 20; i++ {
		s := newServer(newFake())
		done := serveAsync(s)
		if err := s.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
		waitServe(t, done)
	}
}
