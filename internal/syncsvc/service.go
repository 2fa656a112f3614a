// Package syncsvc implements the sync service (C8): the periodic
// driver that drains the queue, runs the dedupe sweep, and polls the
// remote account every 60 seconds, plus an on-demand entry point that
// runs only the queue drain (spec.md §4.8).
package syncsvc

import (
	"context"
	"sync"
	"time"

	"gtasksync/internal/logging"
	"gtasksync/internal/queue"
	"gtasksync/internal/reconcile"
	"gtasksync/internal/syncerr"
)

// defaultInterval is the periodic driver's cadence (spec.md §4.8).
const defaultInterval = 60 * time.Second

// EventType names a sync service event, mirroring the teacher's
// original Tauri event names with the frontend-facing "tasks:" prefix
// dropped since this service has no embedded frontend to address.
type EventType string

const (
	EventSyncComplete   EventType = "sync:complete"
	EventQueueProcessed EventType = "sync:queue-processed"
)

// Status is an Event's outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Event is emitted after each drain-only run and each full cycle.
type Event struct {
	Type        EventType
	Status      Status
	Error       string
	TimestampMs int64
}

// TokenProvider is the subset of internal/token.Provider the service
// depends on, kept as an interface so tests can fake token refresh
// without a keyring.
type TokenProvider interface {
	EnsureAccessToken(ctx context.Context, forceRefresh bool) (string, error)
}

// Service runs the periodic sync cycle and exposes an on-demand drain.
type Service struct {
	worker     *queue.Worker
	reconciler *reconcile.Reconciler
	tokens     TokenProvider
	log        *logging.Logger
	interval   time.Duration
	now        func() time.Time

	events   chan Event
	stop     chan struct{}
	stopOnce sync.Once
}

func New(worker *queue.Worker, reconciler *reconcile.Reconciler, tokens TokenProvider, log *logging.Logger) *Service {
	return &Service{
		worker:     worker,
		reconciler: reconciler,
		tokens:     tokens,
		log:        log,
		interval:   defaultInterval,
		now:        time.Now,
		events:     make(chan Event, 16),
		stop:       make(chan struct{}),
	}
}

// Events returns the channel sync:complete and sync:queue-processed
// events are published on. The channel is never closed by Stop, so a
// caller ranging over it should select on its own done signal too.
func (s *Service) Events() <-chan Event {
	return s.events
}

// Run blocks running the periodic driver: one cycle immediately, then
// one every interval, until ctx is cancelled or Stop is called
// (spec.md §4.8 "on start, run one cycle immediately; then every
// 60 s").
func (s *Service) Run(ctx context.Context) {
	s.runCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// Stop ends a running Run loop. Safe to call more than once or
// concurrently with Run.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// runCycle is drain queue → dedupe sweep → poll remote, emitting one
// sync:complete event for the whole cycle regardless of which step
// failed (spec.md §4.8).
func (s *Service) runCycle(ctx context.Context) {
	_ = s.RunOnce(ctx)
}

// RunOnce runs a single drain→dedupe→poll cycle and returns its error,
// the entry point the one-shot `sync` subcommand uses to run exactly
// one cycle and exit rather than entering Run's ticker loop.
func (s *Service) RunOnce(ctx context.Context) error {
	err := s.drainQueue(ctx)
	if err == nil {
		err = s.reconciler.DedupeSweep()
	}
	if err == nil {
		err = s.pollRemote(ctx)
	}
	if err != nil {
		s.log.Warn("sync cycle error: %v", err)
	}
	s.emit(EventSyncComplete, err)
	return err
}

// DrainQueueOnly runs just the queue drain and emits queue-processed,
// the on-demand entry point a foreground command-initiated task uses
// after a local write (spec.md §4.8).
func (s *Service) DrainQueueOnly(ctx context.Context) error {
	err := s.drainQueue(ctx)
	if err != nil {
		s.log.Warn("queue drain error: %v", err)
	}
	s.emit(EventQueueProcessed, err)
	return err
}

// drainQueue retries once with a forced token refresh if the worker
// reports RequiresTokenRefresh (spec.md §4.5 step 4 / original
// attempt-twice token loop).
func (s *Service) drainQueue(ctx context.Context) error {
	for attempt := 0; attempt < 2; attempt++ {
		accessToken, err := s.tokens.EnsureAccessToken(ctx, attempt > 0)
		if err != nil {
			return err
		}
		result, err := s.worker.Drain(ctx, accessToken)
		if err != nil {
			return err
		}
		if result == queue.Completed {
			return nil
		}
	}
	return syncerr.New(syncerr.KindInternal, "drain_queue", "token refresh did not resolve queue drain errors")
}

// pollRemote mirrors the original implementation's ensure_access_token
// attempt-twice-on-401 loop around the reconciler pull.
func (s *Service) pollRemote(ctx context.Context) error {
	for attempt := 0; attempt < 2; attempt++ {
		accessToken, err := s.tokens.EnsureAccessToken(ctx, attempt > 0)
		if err != nil {
			return err
		}
		err = s.reconciler.Pull(ctx, accessToken)
		if err == nil {
			return nil
		}
		if se, ok := err.(*syncerr.SyncError); ok && se.IsUnauthorized() && attempt == 0 {
			continue
		}
		return err
	}
	return syncerr.New(syncerr.KindInternal, "poll_remote", "token refresh did not resolve task polling errors")
}

func (s *Service) emit(t EventType, err error) {
	ev := Event{Type: t, TimestampMs: s.now().UnixMilli()}
	if err != nil {
		ev.Status = StatusError
		ev.Error = err.Error()
	} else {
		ev.Status = StatusSuccess
	}
	select {
	case s.events <- ev:
	default:
		s.log.Warn("dropped %s event, subscriber channel full", t)
	}
}
