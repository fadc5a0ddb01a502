package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openmined/syftbackup/internal/backup"
	"github.com/openmined/syftbackup/internal/fswatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	delay   time.Duration
	fail    atomic.Bool
	calls   atomic.Int32
	active  atomic.Int32
	overlap atomic.Bool
	release chan struct{}
	started chan struct{}
}

func newFakeRunner(delay time.Duration) *fakeRunner {
	return &fakeRunner{delay: delay, started: make(chan struct{}, 64)}
}

func (r *fakeRunner) RunBackup(ctx context.Context, _ string) *backup.Result {
	if r.active.Add(1) > 1 {
		r.overlap.Store(true)
	}
	defer r.active.Add(-1)

	r.calls.Add(1)
	r.started <- struct{}{}
	if r.release != nil {
		<-r.release
	}
	time.Sleep(r.delay)

	if ctx.Err() != nil {
		return &backup.Result{Message: "cancelled", Err: ctx.Err()}
	}
	if r.fail.Load() {
		return &backup.Result{Message: "boom", Err: errors.New("boom")}
	}
	return &backup.Result{Success: true, Message: "ok"}
}

type fakeSource struct {
	batches chan fswatch.Batch
	started atomic.Bool
	stopped atomic.Bool
	once    sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{batches: make(chan fswatch.Batch, 8)}
}

func (f *fakeSource) Start(context.Context) error { f.started.Store(true); return nil }
func (f *fakeSource) Stop()                       { f.once.Do(func() { f.stopped.Store(true) }) }
func (f *fakeSource) Batches() <-chan fswatch.Batch {
	return f.batches
}

func waitStarted(t *testing.T, r *fakeRunner) {
	t.Helper()
	select {
	case <-r.started:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "backup never started")
	}
}

func TestStartStop_Idempotent(t *testing.T) {
	s := New(newFakeRunner(0), Options{Interval: time.Hour})
	assert.Equal(t, StateIdle, s.State())

	s.Stop()
	assert.Equal(t, StateIdle, s.State())

	require.NoError(t, s.Start(t.Context()))
	require.NoError(t, s.Start(t.Context()))
	assert.Equal(t, StateMonitoring, s.State())
	assert.False(t, s.Status().NextRun.IsZero())

	s.Stop()
	s.Stop()
	assert.Equal(t, StateIdle, s.State())
	s.Wait()
}

func TestTimerTriggersRuns(t *testing.T) {
	runner := newFakeRunner(0)
	s := New(runner, Options{Interval: 20 * time.Millisecond})
	require.NoError(t, s.Start(t.Context()))

	waitStarted(t, runner)
	waitStarted(t, runner)
	s.Stop()
	s.Wait()

	assert.GreaterOrEqual(t, runner.calls.Load(), int32(2))
	assert.Equal(t, TriggerTimer, s.Status().LastTrigger)
}

func TestRunOnStart(t *testing.T) {
	runner := newFakeRunner(0)
	s := New(runner, Options{Interval: time.Hour, RunOnStart: true})
	require.NoError(t, s.Start(t.Context()))
	waitStarted(t, runner)
	s.Stop()
	s.Wait()
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestEventsTriggerOnlyWhenRelevant(t *testing.T) {
	runner := newFakeRunner(0)
	source := newFakeSource()
	s := New(runner, Options{
		Interval: time.Hour,
		Exclude:  func(p string) bool { return strings.Contains(p, "_mirror") || strings.HasSuffix(p, ".log") },
		Events:   func() (EventSource, error) { return source, nil },
	})
	require.NoError(t, s.Start(t.Context()))
	assert.True(t, source.started.Load())

	source.batches <- fswatch.Batch{
		{Path: "/p/demo_mirror/a.txt", Kind: fswatch.KindWrite},
		{Path: "/p/trace.log", Kind: fswatch.KindWrite},
	}
	select {
	case <-runner.started:
		t.Fatal("excluded batch triggered a backup")
	case <-time.After(100 * time.Millisecond):
	}

	source.batches <- fswatch.Batch{
		{Path: "/p/trace.log", Kind: fswatch.KindWrite},
		{Path: "/p/src/main.go", Kind: fswatch.KindWrite},
	}
	waitStarted(t, runner)

	s.Stop()
	s.Wait()
	assert.True(t, source.stopped.Load())
	assert.Equal(t, int32(1), runner.calls.Load())
	assert.Equal(t, TriggerEvents, s.Status().LastTrigger)
}

func TestTriggersCoalesceAndNeverOverlap(t *testing.T) {
	runner := newFakeRunner(0)
	runner.release = make(chan struct{})
	source := newFakeSource()
	s := New(runner, Options{
		Interval: time.Hour,
		Events:   func() (EventSource, error) { return source, nil },
	})
	require.NoError(t, s.Start(t.Context()))

	change := fswatch.Batch{{Path: "/p/a.txt", Kind: fswatch.KindWrite}}
	source.batches <- change
	waitStarted(t, runner)
	assert.True(t, s.Status().Running)

	// burst while the first run is blocked
	for range 5 {
		source.batches <- change
	}
	assert.Eventually(t, func() bool { return s.Status().Coalesced >= 4 }, 2*time.Second, 10*time.Millisecond)

	_, err := s.RunNow(t.Context())
	assert.ErrorIs(t, err, backup.ErrBackupInProgress)

	runner.release <- struct{}{}
	waitStarted(t, runner)
	runner.release <- struct{}{}

	assert.Eventually(t, func() bool { return !s.Status().Running }, 2*time.Second, 10*time.Millisecond)
	s.Stop()
	s.Wait()

	assert.Equal(t, int32(2), runner.calls.Load())
	assert.False(t, runner.overlap.Load())
}

func TestStopDoesNotInterruptRun(t *testing.T) {
	runner := newFakeRunner(0)
	runner.release = make(chan struct{})
	s := New(runner, Options{Interval: time.Hour, RunOnStart: true})
	require.NoError(t, s.Start(t.Context()))
	waitStarted(t, runner)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop blocked on the running backup")
	}
	assert.Equal(t, StateIdle, s.State())

	close(runner.release)
	s.Wait()

	last := s.Status().LastResult
	require.NotNil(t, last)
	assert.True(t, last.Success, "in-flight run must not see cancellation")
}

func TestFailuresDoNotStopSchedule(t *testing.T) {
	runner := newFakeRunner(0)
	runner.fail.Store(true)
	s := New(runner, Options{Interval: 20 * time.Millisecond})
	require.NoError(t, s.Start(t.Context()))

	waitStarted(t, runner)
	waitStarted(t, runner)
	waitStarted(t, runner)
	s.Stop()
	s.Wait()

	st := s.Status()
	assert.GreaterOrEqual(t, st.Failures, int64(3))
	assert.Equal(t, st.Runs, st.Failures)
}

func TestRunNowWhileIdle(t *testing.T) {
	runner := newFakeRunner(0)
	s := New(runner, Options{})

	res, err := s.RunNow(t.Context())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, TriggerManual, s.Status().LastTrigger)
	assert.Equal(t, DefaultInterval, s.Status().Interval)
}

func TestStartFailsWhenSourceFails(t *testing.T) {
	s := New(newFakeRunner(0), Options{
		Events: func() (EventSource, error) { return nil, errors.New("no inotify") },
	})
	assert.Error(t, s.Start(t.Context()))
	assert.Equal(t, StateIdle, s.State())
}

func TestRestartAfterStop(t *testing.T) {
	runner := newFakeRunner(0)
	s := New(runner, Options{Interval: time.Hour, RunOnStart: true})

	require.NoError(t, s.Start(t.Context()))
	waitStarted(t, runner)
	s.Stop()

	require.NoError(t, s.Start(t.Context()))
	waitStarted(t, runner)
	s.Stop()
	s.Wait()

	assert.Equal(t, int32(2), runner.calls.Load())
	assert.False(t, runner.overlap.Load())
}
