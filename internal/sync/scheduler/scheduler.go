// Package scheduler runs background sync passes: a periodic pass on a fixed
// interval, a one-shot pass when connectivity returns, and on-demand passes
// requested over the bridge. It owns no credentials; every pass asks the
// connected UI for the current session token first and aborts the pass when
// none is available, without consuming queue retries.
package scheduler

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/pedidolist/pedidolist-core/internal/errors"
	"github.com/pedidolist/pedidolist-core/internal/logging"
	syncengine "github.com/pedidolist/pedidolist-core/internal/sync"
)

const (
	// DefaultInterval is the periodic pass interval.
	DefaultInterval = 24 * time.Hour

	// MinInterval is the floor for configured intervals so a misconfigured
	// daemon cannot hammer the remote API.
	MinInterval = 15 * time.Minute

	tokenTimeout = 10 * time.Second
	drainTimeout = 5 * time.Minute
)

// Drainer is the engine surface the scheduler drives.
type Drainer interface {
	Drain(ctx context.Context, token string) (*syncengine.DrainResult, error)
	PendingCount() (int, error)
	IsSyncing() bool
}

// TokenProvider supplies the current session token. *bridge.Hub is the
// production implementation.
type TokenProvider interface {
	RequestAuthToken(ctx context.Context) (string, error)
}

// Notifier receives sync lifecycle events. *bridge.Hub is the production
// implementation.
type Notifier interface {
	SyncStarted()
	SyncCompleted(synced, conflicts int)
	SyncFailed(err error)
}

// Scheduler triggers background drain passes.
type Scheduler struct {
	engine   Drainer
	tokens   TokenProvider
	notify   Notifier
	interval time.Duration

	trigger chan struct{}
	stop    chan struct{}
	wg      stdsync.WaitGroup

	mu      stdsync.Mutex
	running bool
	online  bool
}

// New creates a Scheduler. A non-positive interval uses the default; anything
// below the floor is clamped to it.
func New(engine Drainer, tokens TokenProvider, notify Notifier, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if interval < MinInterval {
		interval = MinInterval
	}
	return &Scheduler{
		engine:   engine,
		tokens:   tokens,
		notify:   notify,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		// Connectivity is assumed until a client reports otherwise.
		online: true,
	}
}

// Interval returns the effective periodic interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start launches the background loop. Starting twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop()

	logging.Info("Background sync scheduler started",
		map[string]interface{}{"interval": s.interval.String()})
}

// Stop terminates the background loop and waits for an in-flight pass.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()
}

// Trigger requests an immediate pass. Coalesces when one is already queued.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// SetOnline records a connectivity change reported by a client. The
// offline-to-online transition fires a one-shot pass so mutations queued
// while offline drain as soon as they can.
func (s *Scheduler) SetOnline(online bool) {
	s.mu.Lock()
	wasOnline := s.online
	s.online = online
	s.mu.Unlock()

	if online && !wasOnline {
		logging.Info("Connectivity restored, scheduling sync pass", nil)
		s.Trigger()
	}
}

// IsOnline reports the last connectivity status a client reported.
func (s *Scheduler) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.runPass()
		case <-s.trigger:
			s.runPass()
		}
	}
}

// runPass executes one background drain pass. Every pass that starts is
// reported to bridge clients and ends in exactly one completion or failure
// broadcast; an empty queue completes immediately with a zero count instead
// of going silent.
func (s *Scheduler) runPass() {
	if !s.IsOnline() {
		logging.Debug("Skipping sync pass while offline", nil)
		return
	}
	if s.engine.IsSyncing() {
		// The foreground got there first; its pass covers our work.
		logging.Debug("Sync already in progress, pass skipped", nil)
		return
	}

	s.notify.SyncStarted()

	pending, err := s.engine.PendingCount()
	if err != nil {
		logging.Error("Failed to read pending count", err, nil)
		s.notify.SyncFailed(err)
		return
	}
	if pending == 0 {
		// Nothing to push; the credential is only needed for actual pushes.
		s.notify.SyncCompleted(0, 0)
		return
	}

	tokenCtx, cancel := context.WithTimeout(context.Background(), tokenTimeout)
	token, err := s.tokens.RequestAuthToken(tokenCtx)
	cancel()
	if err != nil {
		// No session, no pushes. Queue entries keep their retries.
		logging.Warn("Auth token unavailable, sync pass aborted",
			map[string]interface{}{"error": err.Error()})
		s.notify.SyncFailed(err)
		return
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	result, err := s.engine.Drain(drainCtx, token)
	if err != nil {
		if errors.Is(err, errors.ErrSyncInProgress) {
			// Lost the race to a foreground pass between the check above and
			// the drain; that pass covers our work.
			logging.Debug("Sync already in progress, pass skipped", nil)
			return
		}
		s.notify.SyncFailed(err)
		return
	}

	if result.Failed > 0 {
		s.notify.SyncFailed(errors.New(errors.ErrSyncFailed,
			fmt.Sprintf("%d entities failed to sync", result.Failed)))
		return
	}

	s.notify.SyncCompleted(result.Synced+result.AutoCleared, result.Conflicts)
}
