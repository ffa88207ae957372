package syncer

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type scriptedReconciler struct {
	calls    int
	failures int // fail this many calls before succeeding
	err      error
}

func (r *scriptedReconciler) ReconcileFromRemote(context.Context) error {
	r.calls++
	if r.calls <= r.failures {
		return r.err
	}
	return nil
}

type scriptedProber struct{ err error }

func (p *scriptedProber) Ping(context.Context) error { return p.err }

func newTestMonitor(rec Reconciler, probe Prober) *Monitor {
	m := New(rec, probe, time.Minute, slog.New(slog.DiscardHandler))
	m.retryDelay = time.Millisecond
	return m
}

func TestSyncSuccessUpdatesStatus(t *testing.T) {
	rec := &scriptedReconciler{}
	m := newTestMonitor(rec, &scriptedProber{})

	require.NoError(t, m.Sync(context.Background(), true))

	st := m.Status()
	require.Equal(t, StateOnlineIdle, st.State)
	require.True(t, st.Online)
	require.False(t, st.LastSync.IsZero())
	require.Empty(t, st.LastError)
	require.Equal(t, 1, rec.calls)
}

func TestSyncRetriesThenSucceeds(t *testing.T) {
	rec := &scriptedReconciler{failures: 2, err: errors.New("flaky")}
	m := newTestMonitor(rec, &scriptedProber{})

	require.NoError(t, m.Sync(context.Background(), true))
	require.Equal(t, 3, rec.calls)

	st := m.Status()
	require.Equal(t, StateOnlineIdle, st.State)
	require.Empty(t, st.LastError)
}

func TestSyncGivesUpAfterRetriesAndKeepsError(t *testing.T) {
	rec := &scriptedReconciler{failures: 100, err: errors.New("store down")}
	m := newTestMonitor(rec, &scriptedProber{})

	err := m.Sync(context.Background(), true)
	require.Error(t, err)

	// Initial attempt plus maxRetries, then local data wins.
	require.Equal(t, 1+maxRetries, rec.calls)

	st := m.Status()
	require.Equal(t, StateOnlineIdle, st.State)
	require.Contains(t, st.LastError, "store down")
	require.True(t, st.LastSync.IsZero())
}

func TestSyncWhileOfflineMakesNoRemoteCalls(t *testing.T) {
	rec := &scriptedReconciler{}
	m := newTestMonitor(rec, &scriptedProber{err: errors.New("unreachable")})

	err := m.Sync(context.Background(), false)
	require.ErrorIs(t, err, ErrOffline)
	require.Zero(t, rec.calls)

	st := m.Status()
	require.Equal(t, StateOffline, st.State)
	require.False(t, st.Online)
}

func TestConnectivityRegainedForcesSync(t *testing.T) {
	rec := &scriptedReconciler{}
	probe := &scriptedProber{err: errors.New("unreachable")}
	m := newTestMonitor(rec, probe)

	m.checkConnectivity(context.Background())
	require.Equal(t, StateOffline, m.Status().State)
	require.Zero(t, rec.calls)

	probe.err = nil
	m.checkConnectivity(context.Background())
	require.Equal(t, 1, rec.calls)
	require.Equal(t, StateOnlineIdle, m.Status().State)
}

func TestBackoffStateVisibleBetweenAttempts(t *testing.T) {
	rec := &scriptedReconciler{failures: 100, err: errors.New("store down")}
	m := newTestMonitor(rec, &scriptedProber{})
	m.retryDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Sync(ctx, true)
		close(done)
	}()

	// The monitor parks in the retry delay after the first failure.
	require.Eventually(t, func() bool {
		return m.Status().State == StateBackoff
	}, time.Second, 5*time.Millisecond)
	require.Contains(t, m.Status().LastError, "store down")

	cancel()
	<-done
}
