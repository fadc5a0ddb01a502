// Package scheduler drives backups from a periodic timer and from filesystem
// change batches, running at most one backup at a time.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openmined/syftbackup/internal/backup"
	"github.com/openmined/syftbackup/internal/fswatch"
)

const DefaultInterval = 5 * time.Minute

type State string

const (
	StateIdle       State = "idle"
	StateMonitoring State = "monitoring"
)

type Trigger string

const (
	TriggerTimer  Trigger = "timer"
	TriggerEvents Trigger = "events"
	TriggerStart  Trigger = "start"
	TriggerManual Trigger = "manual"
)

// Runner executes one backup of a project.
type Runner interface {
	RunBackup(ctx context.Context, projectRoot string) *backup.Result
}

// EventSource delivers batches of filesystem changes until stopped.
type EventSource interface {
	Start(ctx context.Context) error
	Stop()
	Batches() <-chan fswatch.Batch
}

// SourceFactory builds a fresh event source for each monitoring session.
type SourceFactory func() (EventSource, error)

type Options struct {
	ProjectRoot string
	Interval    time.Duration
	RunOnStart  bool
	// Exclude reports whether a changed path must not trigger a backup.
	Exclude func(path string) bool
	Events  SourceFactory
}

type Status struct {
	State       State          `json:"state"`
	Running     bool           `json:"running"`
	ProjectRoot string         `json:"project_root"`
	Interval    time.Duration  `json:"interval"`
	NextRun     time.Time      `json:"next_run,omitzero"`
	Runs        int64          `json:"runs"`
	Failures    int64          `json:"failures"`
	Coalesced   int64          `json:"coalesced"`
	LastTrigger Trigger        `json:"last_trigger,omitempty"`
	LastResult  *backup.Result `json:"last_result,omitempty"`
}

type session struct {
	cancel  context.CancelFunc
	source  EventSource
	trigger chan Trigger
	loops   sync.WaitGroup
}

type Scheduler struct {
	runner Runner
	opts   Options

	mu      sync.Mutex
	state   State
	session *session
	nextRun time.Time
	last    *backup.Result
	lastTrg Trigger

	// runMu serialises runs across sessions and manual triggers
	runMu     sync.Mutex
	running   atomic.Bool
	workers   sync.WaitGroup
	runs      atomic.Int64
	failures  atomic.Int64
	coalesced atomic.Int64
}

func New(runner Runner, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Scheduler{
		runner: runner,
		opts:   opts,
		state:  StateIdle,
	}
}

// Start moves Idle to Monitoring. Calling it while monitoring does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateMonitoring {
		return nil
	}

	sctx, cancel := context.WithCancel(ctx)
	sess := &session{
		cancel:  cancel,
		trigger: make(chan Trigger, 1),
	}

	if s.opts.Events != nil {
		source, err := s.opts.Events()
		if err == nil {
			err = source.Start(sctx)
		}
		if err != nil {
			cancel()
			return err
		}
		sess.source = source
		sess.loops.Add(1)
		go s.eventLoop(sctx, sess)
	}

	sess.loops.Add(1)
	go s.timerLoop(sctx, sess)

	s.workers.Add(1)
	go s.worker(sctx, sess)

	if s.opts.RunOnStart {
		s.enqueue(sess, TriggerStart)
	}

	s.session = sess
	s.state = StateMonitoring
	s.nextRun = time.Now().Add(s.opts.Interval)
	slog.Info("monitoring started", "project", s.opts.ProjectRoot, "interval", s.opts.Interval)
	return nil
}

// Stop moves Monitoring to Idle. Pending triggers are dropped; a run already
// executing is left to finish. Calling it while idle does nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	sess := s.session
	if s.state == StateIdle || sess == nil {
		s.mu.Unlock()
		return
	}
	s.session = nil
	s.state = StateIdle
	s.nextRun = time.Time{}
	s.mu.Unlock()

	sess.cancel()
	if sess.source != nil {
		sess.source.Stop()
	}
	sess.loops.Wait()
	slog.Info("monitoring stopped", "project", s.opts.ProjectRoot)
}

// Wait blocks until every worker, including an in-flight run, has returned.
func (s *Scheduler) Wait() {
	s.workers.Wait()
}

// RunNow runs a backup immediately on the caller's goroutine. It fails with
// backup.ErrBackupInProgress instead of waiting when a run is executing.
func (s *Scheduler) RunNow(ctx context.Context) (*backup.Result, error) {
	if !s.runMu.TryLock() {
		return nil, backup.ErrBackupInProgress
	}
	defer s.runMu.Unlock()
	return s.execute(ctx, TriggerManual), nil
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:       s.state,
		Running:     s.running.Load(),
		ProjectRoot: s.opts.ProjectRoot,
		Interval:    s.opts.Interval,
		NextRun:     s.nextRun,
		Runs:        s.runs.Load(),
		Failures:    s.failures.Load(),
		Coalesced:   s.coalesced.Load(),
		LastTrigger: s.lastTrg,
		LastResult:  s.last,
	}
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// enqueue hands a trigger to the worker. The slot holds one pending trigger,
// so bursts collapse into a single follow-up run.
func (s *Scheduler) enqueue(sess *session, t Trigger) {
	select {
	case sess.trigger <- t:
	default:
		s.coalesced.Add(1)
		slog.Debug("backup trigger coalesced", "trigger", t)
	}
}

func (s *Scheduler) timerLoop(ctx context.Context, sess *session) {
	defer sess.loops.Done()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			s.nextRun = time.Now().Add(s.opts.Interval)
			s.mu.Unlock()
			s.enqueue(sess, TriggerTimer)
		}
	}
}

func (s *Scheduler) eventLoop(ctx context.Context, sess *session) {
	defer sess.loops.Done()

	batches := sess.source.Batches()
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-batches:
			if !ok {
				return
			}
			if path, relevant := s.firstRelevant(batch); relevant {
				slog.Debug("change detected", "path", path, "events", len(batch))
				s.enqueue(sess, TriggerEvents)
			}
		}
	}
}

func (s *Scheduler) firstRelevant(batch fswatch.Batch) (string, bool) {
	for _, ev := range batch {
		if s.opts.Exclude == nil || !s.opts.Exclude(ev.Path) {
			return ev.Path, true
		}
	}
	return "", false
}

func (s *Scheduler) worker(ctx context.Context, sess *session) {
	defer s.workers.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-sess.trigger:
			// a stop that raced with this trigger wins
			if ctx.Err() != nil {
				return
			}
			s.runMu.Lock()
			s.execute(context.WithoutCancel(ctx), t)
			s.runMu.Unlock()
		}
	}
}

// execute must be called with runMu held.
func (s *Scheduler) execute(ctx context.Context, t Trigger) *backup.Result {
	s.running.Store(true)
	defer s.running.Store(false)

	slog.Info("backup triggered", "trigger", t, "project", s.opts.ProjectRoot)
	res := s.runner.RunBackup(ctx, s.opts.ProjectRoot)

	s.runs.Add(1)
	if res == nil || !res.Success {
		s.failures.Add(1)
		if res != nil && errors.Is(res.Err, backup.ErrBackupInProgress) {
			slog.Warn("backup skipped", "trigger", t, "reason", res.Message)
		} else if res != nil {
			slog.Error("backup failed", "trigger", t, "stage", res.FailedStage, "error", res.Message)
		}
	}

	s.mu.Lock()
	s.last = res
	s.lastTrg = t
	s.mu.Unlock()

	return res
}
