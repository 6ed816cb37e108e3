// Package connectivity tracks whether the farm server is reachable and
// reports online transitions.
package connectivity

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/llakterian/Adonai-Farm-sub002/internal/platform/logging"
	"github.com/llakterian/Adonai-Farm-sub002/internal/platform/timeouts"
)

// DefaultHealthPath is probed on the origin when none is configured.
const DefaultHealthPath = "/api/health"

// Config wires a Monitor.
type Config struct {
	Origin     *url.URL
	HealthPath string
	Interval   time.Duration
	Timeout    time.Duration
	Client     *http.Client
	Logger     *zap.Logger
}

// Monitor probes the origin and notifies listeners of state changes.
// Listeners run on the goroutine that observed the change.
type Monitor struct {
	target   string
	interval time.Duration
	timeout  time.Duration
	client   *http.Client
	logger   *zap.Logger

	mu       sync.Mutex
	known    bool
	online   bool
	onOnline []func(context.Context)
	onChange []func(online bool)
	// notify serializes listener runs so transitions are delivered in order.
	notify sync.Mutex
}

// New builds a Monitor.
func New(cfg Config) (*Monitor, error) {
	if cfg.Origin == nil || cfg.Origin.Host == "" {
		return nil, errors.New("origin url is required")
	}
	healthPath := strings.TrimSpace(cfg.HealthPath)
	if healthPath == "" {
		healthPath = DefaultHealthPath
	}
	target := *cfg.Origin
	target.Path = strings.TrimRight(target.Path, "/") + "/" + strings.TrimLeft(healthPath, "/")
	target.RawQuery = ""

	interval := cfg.Interval
	if interval <= 0 {
		interval = timeouts.ProbeInterval
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = timeouts.Probe
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Monitor{
		target:   target.String(),
		interval: interval,
		timeout:  timeout,
		client:   client,
		logger:   logging.OrNop(cfg.Logger),
	}, nil
}

// OnOnline registers fn to run once per offline to online transition, and
// once for the first observation when it is online.
func (m *Monitor) OnOnline(fn func(context.Context)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOnline = append(m.onOnline, fn)
}

// OnChange registers fn to run whenever the observed state changes,
// including the first observation.
func (m *Monitor) OnChange(fn func(online bool)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Online reports the last observed state. It is false until the first
// observation.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Run probes immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.Report(ctx, m.Probe(ctx))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Report(ctx, m.Probe(ctx))
		}
	}
}

// Probe performs one health check. Any response below 500 counts as
// reachable.
func (m *Monitor) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.target, nil)
	if err != nil {
		m.logger.Warn("build probe request", zap.Error(err))
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Debug("origin probe failed", zap.String("target", m.target), zap.Error(err))
		return false
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
	}()
	return resp.StatusCode < http.StatusInternalServerError
}

// Report records an observed state and notifies listeners on a change.
func (m *Monitor) Report(ctx context.Context, online bool) {
	m.notify.Lock()
	defer m.notify.Unlock()

	m.mu.Lock()
	changed := !m.known || m.online != online
	cameOnline := online && (!m.known || !m.online)
	m.known = true
	m.online = online
	onOnline := append(([]func(context.Context))(nil), m.onOnline...)
	onChange := append(([]func(bool))(nil), m.onChange...)
	m.mu.Unlock()

	if !changed {
		return
	}
	m.logger.Info("connectivity changed", zap.Bool("online", online), zap.String("target", m.target))
	for _, fn := range onChange {
		fn(online)
	}
	if cameOnline {
		for _, fn := range onOnline {
			fn(ctx)
		}
	}
}
