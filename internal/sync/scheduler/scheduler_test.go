// Package scheduler provides unit tests for the background sync scheduler.
package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/pedidolist/pedidolist-core/internal/errors"
	syncengine "github.com/pedidolist/pedidolist-core/internal/sync"
)

type fakeDrainer struct {
	pending int
	syncing bool
	result  *syncengine.DrainResult
	err     error
	drains  chan string
}

func newFakeDrainer(pending int, result *syncengine.DrainResult, err error) *fakeDrainer {
	return &fakeDrainer{pending: pending, result: result, err: err, drains: make(chan string, 8)}
}

func (f *fakeDrainer) Drain(ctx context.Context, token string) (*syncengine.DrainResult, error) {
	f.drains <- token
	return f.result, f.err
}

func (f *fakeDrainer) PendingCount() (int, error) {
	return f.pending, nil
}

func (f *fakeDrainer) IsSyncing() bool {
	return f.syncing
}

type fakeTokens struct {
	token    string
	err      error
	requests int
}

func (f *fakeTokens) RequestAuthToken(ctx context.Context) (string, error) {
	f.requests++
	return f.token, f.err
}

type fakeNotifier struct {
	started   int
	completed int
	failed    int
	synced    int
	conflicts int
	lastErr   error
}

func (f *fakeNotifier) SyncStarted() { f.started++ }
func (f *fakeNotifier) SyncCompleted(synced, conflicts int) {
	f.completed++
	f.synced = synced
	f.conflicts = conflicts
}
func (f *fakeNotifier) SyncFailed(err error) {
	f.failed++
	f.lastErr = err
}

// TestNewClampsInterval tests interval defaulting and the floor.
func TestNewClampsInterval(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		want     time.Duration
	}{
		{"zero uses default", 0, DefaultInterval},
		{"below floor clamped", time.Minute, MinInterval},
		{"above floor kept", 48 * time.Hour, 48 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(newFakeDrainer(0, nil, nil), &fakeTokens{}, &fakeNotifier{}, tt.interval)
			if s.Interval() != tt.want {
				t.Errorf("Interval = %v, want %v", s.Interval(), tt.want)
			}
		})
	}
}

// TestRunPassDrains tests the happy path: token fetched, drain run,
// completion broadcast.
func TestRunPassDrains(t *testing.T) {
	drainer := newFakeDrainer(2, &syncengine.DrainResult{Synced: 2, AutoCleared: 1, Conflicts: 1}, nil)
	tokens := &fakeTokens{token: "tok-1"}
	notify := &fakeNotifier{}
	s := New(drainer, tokens, notify, 0)

	s.runPass()

	select {
	case token := <-drainer.drains:
		if token != "tok-1" {
			t.Errorf("Expected drain with tok-1, got %q", token)
		}
	default:
		t.Fatal("Expected a drain pass")
	}

	if notify.started != 1 || notify.completed != 1 {
		t.Errorf("Expected started and completed broadcast, got %+v", notify)
	}
	if notify.synced != 3 || notify.conflicts != 1 {
		t.Errorf("Expected 3 synced and 1 conflict reported, got %+v", notify)
	}
}

// TestRunPassSkipsOffline tests that no pass runs while offline.
func TestRunPassSkipsOffline(t *testing.T) {
	drainer := newFakeDrainer(2, &syncengine.DrainResult{}, nil)
	s := New(drainer, &fakeTokens{token: "tok"}, &fakeNotifier{}, 0)

	s.SetOnline(false)
	s.runPass()

	if len(drainer.drains) != 0 {
		t.Error("Expected no drain while offline")
	}
}

// TestRunPassEmptyQueueReportsCompletion tests that an empty queue still gets
// the started/completed pair, with zero counts and no token request.
func TestRunPassEmptyQueueReportsCompletion(t *testing.T) {
	drainer := newFakeDrainer(0, &syncengine.DrainResult{}, nil)
	tokens := &fakeTokens{token: "tok"}
	notify := &fakeNotifier{}
	s := New(drainer, tokens, notify, 0)

	s.runPass()

	if notify.started != 1 || notify.completed != 1 {
		t.Errorf("Expected started and completed broadcast, got %+v", notify)
	}
	if notify.synced != 0 || notify.conflicts != 0 {
		t.Errorf("Expected zero counts for an empty queue, got %+v", notify)
	}
	if tokens.requests != 0 {
		t.Error("Expected no token request for an empty queue")
	}
	if len(drainer.drains) != 0 {
		t.Error("Expected no drain for an empty queue")
	}
}

// TestRunPassAbortsWithoutToken tests that a missing session aborts the pass
// after the started broadcast, reporting the failure so no pass dangles.
func TestRunPassAbortsWithoutToken(t *testing.T) {
	drainer := newFakeDrainer(2, &syncengine.DrainResult{}, nil)
	tokens := &fakeTokens{err: errors.New(errors.ErrAuthUnavailable, "no client")}
	notify := &fakeNotifier{}
	s := New(drainer, tokens, notify, 0)

	s.runPass()

	if len(drainer.drains) != 0 {
		t.Error("Expected no drain without a token")
	}
	if notify.started != 1 || notify.failed != 1 {
		t.Errorf("Expected started and failure broadcast, got %+v", notify)
	}
	if !errors.Is(notify.lastErr, errors.ErrAuthUnavailable) {
		t.Errorf("Expected ErrAuthUnavailable, got %v", notify.lastErr)
	}
}

// TestRunPassSkipsWhileEngineBusy tests that a pass yields before any
// broadcast when a foreground drain is already running.
func TestRunPassSkipsWhileEngineBusy(t *testing.T) {
	drainer := newFakeDrainer(2, &syncengine.DrainResult{}, nil)
	drainer.syncing = true
	notify := &fakeNotifier{}
	s := New(drainer, &fakeTokens{token: "tok"}, notify, 0)

	s.runPass()

	if len(drainer.drains) != 0 {
		t.Error("Expected no drain while the engine is busy")
	}
	if notify.started != 0 || notify.completed != 0 || notify.failed != 0 {
		t.Errorf("Expected no broadcasts, got %+v", notify)
	}
}

// TestRunPassYieldsToForeground tests that an in-progress drain is not an
// error worth broadcasting.
func TestRunPassYieldsToForeground(t *testing.T) {
	drainer := newFakeDrainer(1, nil, errors.New(errors.ErrSyncInProgress, "busy"))
	notify := &fakeNotifier{}
	s := New(drainer, &fakeTokens{token: "tok"}, notify, 0)

	s.runPass()

	if notify.failed != 0 {
		t.Errorf("Expected no failure broadcast, got %+v", notify)
	}
}

// TestRunPassReportsFailures tests the partial-failure broadcast.
func TestRunPassReportsFailures(t *testing.T) {
	drainer := newFakeDrainer(2, &syncengine.DrainResult{Synced: 1, Failed: 1}, nil)
	notify := &fakeNotifier{}
	s := New(drainer, &fakeTokens{token: "tok"}, notify, 0)

	s.runPass()

	if notify.failed != 1 || notify.completed != 0 {
		t.Errorf("Expected failure broadcast, got %+v", notify)
	}
	if !errors.Is(notify.lastErr, errors.ErrSyncFailed) {
		t.Errorf("Expected ErrSyncFailed, got %v", notify.lastErr)
	}
}

// TestReconnectFiresOneShot tests the offline-to-online one-shot pass.
func TestReconnectFiresOneShot(t *testing.T) {
	drainer := newFakeDrainer(1, &syncengine.DrainResult{Synced: 1}, nil)
	s := New(drainer, &fakeTokens{token: "tok"}, &fakeNotifier{}, 0)

	s.Start()
	defer s.Stop()

	s.SetOnline(false)
	s.SetOnline(true)

	select {
	case <-drainer.drains:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a drain pass after reconnect")
	}

	// Online-to-online is not a transition; no extra pass.
	s.SetOnline(true)
	select {
	case <-drainer.drains:
		t.Error("Expected no pass for a repeated online report")
	case <-time.After(100 * time.Millisecond):
	}
}

// TestTriggerRunsPass tests the on-demand trigger.
func TestTriggerRunsPass(t *testing.T) {
	drainer := newFakeDrainer(1, &syncengine.DrainResult{Synced: 1}, nil)
	s := New(drainer, &fakeTokens{token: "tok"}, &fakeNotifier{}, 0)

	s.Start()
	defer s.Stop()

	s.Trigger()

	select {
	case <-drainer.drains:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a drain pass after trigger")
	}
}
