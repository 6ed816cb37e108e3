package connectivity

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedOrigin answers probes with a switchable status.
type scriptedOrigin struct {
	mu     sync.Mutex
	status int
	down   bool
	paths  []string
}

func (o *scriptedOrigin) RoundTrip(req *http.Request) (*http.Response, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paths = append(o.paths, req.URL.Path)
	if o.down {
		return nil, errors.New("connection refused")
	}
	status := o.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader("ok")), Request: req}, nil
}

func (o *scriptedOrigin) set(down bool, status int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.down = down
	o.status = status
}

func newMonitor(t *testing.T, origin *scriptedOrigin, interval time.Duration) *Monitor {
	t.Helper()
	base, _ := url.Parse("http://farm.test/app/")
	m, err := New(Config{
		Origin:   base,
		Interval: interval,
		Client:   &http.Client{Transport: origin},
	})
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	return m
}

func TestNewRequiresOrigin(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestProbe(t *testing.T) {
	origin := &scriptedOrigin{}
	m := newMonitor(t, origin, time.Hour)
	ctx := context.Background()

	tests := []struct {
		name   string
		down   bool
		status int
		want   bool
	}{
		{name: "ok", status: http.StatusOK, want: true},
		{name: "client error still reachable", status: http.StatusNotFound, want: true},
		{name: "server error", status: http.StatusServiceUnavailable, want: false},
		{name: "transport error", down: true, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			origin.set(tc.down, tc.status)
			if got := m.Probe(ctx); got != tc.want {
				t.Fatalf("Probe = %v, want %v", got, tc.want)
			}
		})
	}
	if origin.paths[0] != "/app/api/health" {
		t.Fatalf("probe path = %q", origin.paths[0])
	}
}

func TestReportFiresOnOnlineOncePerTransition(t *testing.T) {
	m := newMonitor(t, &scriptedOrigin{}, time.Hour)
	ctx := context.Background()
	var onlineCalls int
	var changes []bool
	m.OnOnline(func(context.Context) { onlineCalls++ })
	m.OnChange(func(online bool) { changes = append(changes, online) })

	for _, state := range []bool{false, false, true, true, false, true, true} {
		m.Report(ctx, state)
	}

	if onlineCalls != 2 {
		t.Fatalf("online callbacks = %d, want 2", onlineCalls)
	}
	want := []bool{false, true, false, true}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Fatalf("changes = %v, want %v", changes, want)
		}
	}
	if !m.Online() {
		t.Fatal("expected online")
	}
}

func TestFirstOnlineObservationFires(t *testing.T) {
	m := newMonitor(t, &scriptedOrigin{}, time.Hour)
	fired := 0
	m.OnOnline(func(context.Context) { fired++ })

	m.Report(context.Background(), true)

	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
}

func TestRunDetectsRecoveryAndStops(t *testing.T) {
	origin := &scriptedOrigin{down: true}
	m := newMonitor(t, origin, 5*time.Millisecond)
	online := make(chan struct{}, 1)
	m.OnOnline(func(context.Context) {
		select {
		case online <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	origin.set(false, http.StatusOK)
	select {
	case <-online:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not observe recovery")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop")
	}
}
