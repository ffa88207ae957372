// Package syncer watches connectivity to the remote store and drives the
// forced reconciliation passes, with a bounded fixed-delay retry on
// failure. After the retries are spent it falls back to local-only state
// and keeps the last error visible until the next manual or
// connectivity-triggered attempt.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sethvargo/go-retry"
)

// ErrOffline is returned when a sync is requested while the remote store
// is unreachable; no remote calls are attempted in that state.
var ErrOffline = errors.New("offline, using local data")

type State string

const (
	StateOffline    State = "offline"
	StateOnlineIdle State = "online-idle"
	StateSyncing    State = "syncing"
	StateBackoff    State = "sync-error-backoff"
)

const (
	maxRetries        = 3
	defaultRetryDelay = 5 * time.Second
)

var (
	syncAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zaiko_sync_attempts_total",
		Help: "Reconciliation attempts against the remote store.",
	})
	syncFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zaiko_sync_failures_total",
		Help: "Failed reconciliation attempts.",
	})
)

// Reconciler is the piece that pulls remote state and replaces local state.
type Reconciler interface {
	ReconcileFromRemote(ctx context.Context) error
}

// Prober answers whether the remote store is reachable.
type Prober interface {
	Ping(ctx context.Context) error
}

// Status is a point-in-time snapshot for display.
type Status struct {
	State     State     `json:"state"`
	Online    bool      `json:"online"`
	LastSync  time.Time `json:"lastSync"`
	LastError string    `json:"lastError,omitempty"`
}

type Monitor struct {
	log           *slog.Logger
	rec           Reconciler
	probe         Prober
	probeInterval time.Duration
	retryDelay    time.Duration

	mu       sync.Mutex
	state    State
	syncing  bool
	lastSync time.Time
	lastErr  string
}

func New(rec Reconciler, probe Prober, probeInterval time.Duration, log *slog.Logger) *Monitor {
	return &Monitor{
		log:           log,
		rec:           rec,
		probe:         probe,
		probeInterval: probeInterval,
		retryDelay:    defaultRetryDelay,
		state:         StateOffline,
	}
}

// Run probes connectivity until ctx is cancelled. Regaining connectivity
// triggers a forced sync.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()

	m.checkConnectivity(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkConnectivity(ctx)
		}
	}
}

func (m *Monitor) checkConnectivity(ctx context.Context) {
	err := m.probe.Ping(ctx)

	m.mu.Lock()
	wasOffline := m.state == StateOffline
	if err != nil {
		if !wasOffline && !m.syncing {
			m.log.Warn("connectivity lost", "err", err)
			m.state = StateOffline
		}
		m.mu.Unlock()
		return
	}
	if wasOffline {
		m.state = StateOnlineIdle
	}
	m.mu.Unlock()

	if wasOffline {
		m.log.Info("connectivity regained, forcing sync")
		if err := m.Sync(ctx, true); err != nil {
			m.log.Error("sync after reconnect failed", "err", err)
		}
	}
}

// Sync runs a reconciliation pass. A pass already in progress is not
// re-entered unless force is set. On failure it retries up to maxRetries
// times at a fixed delay, then gives up and leaves the error visible.
func (m *Monitor) Sync(ctx context.Context, force bool) error {
	m.mu.Lock()
	if m.state == StateOffline && !force {
		m.mu.Unlock()
		return ErrOffline
	}
	if m.syncing && !force {
		m.mu.Unlock()
		return nil
	}
	m.syncing = true
	m.state = StateSyncing
	m.lastErr = ""
	m.mu.Unlock()

	err := retry.Do(ctx, retry.WithMaxRetries(maxRetries, retry.NewConstant(m.retryDelay)), func(ctx context.Context) error {
		m.setState(StateSyncing)
		syncAttempts.Inc()
		if err := m.rec.ReconcileFromRemote(ctx); err != nil {
			syncFailures.Inc()
			m.noteFailure(err)
			return retry.RetryableError(err)
		}
		return nil
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncing = false
	m.state = StateOnlineIdle
	if err != nil {
		// Retries exhausted: fall back to local data, keep the error on
		// display until the next attempt.
		m.lastErr = err.Error()
		return err
	}
	m.lastSync = time.Now()
	m.lastErr = ""
	return nil
}

func (m *Monitor) setState(st State) {
	m.mu.Lock()
	m.state = st
	m.mu.Unlock()
}

func (m *Monitor) noteFailure(err error) {
	m.mu.Lock()
	m.state = StateBackoff
	m.lastErr = err.Error()
	m.mu.Unlock()
}

func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:     m.state,
		Online:    m.state != StateOffline,
		LastSync:  m.lastSync,
		LastError: m.lastErr,
	}
}
