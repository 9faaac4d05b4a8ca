package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonathan/golden-record/internal/logger"
	"github.com/jonathan/golden-record/internal/store"
	"github.com/jonathan/golden-record/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRunner tracks order and overlap of runs
type recordingRunner struct {
	mu      sync.Mutex
	order   []string
	active  atomic.Int32
	overlap atomic.Bool
	hold    time.Duration
	err     error
	onRun   func(rec types.ResolutionRecord)
}

func (r *recordingRunner) Run(_ context.Context, rec types.ResolutionRecord) error {
	if r.active.Add(1) > 1 {
		r.overlap.Store(true)
	}
	defer r.active.Add(-1)

	r.mu.Lock()
	r.order = append(r.order, rec.ID)
	r.mu.Unlock()

	if r.onRun != nil {
		r.onRun(rec)
	}
	time.Sleep(r.hold)
	return r.err
}

func (r *recordingRunner) Order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.order...)
}

func item(id string) types.WorkItem {
	return types.WorkItem{ID: id, SourceRecord: types.SourceRecord{CustomerID: id, Name: id}, Transcript: "t"}
}

func TestDrain_FIFOWithoutOverlap(t *testing.T) {
	st := store.New(types.ModeBoth)
	runner := &recordingRunner{hold: 5 * time.Millisecond}
	s := New(st, runner, time.Millisecond, logger.NewTestLogger(t))

	assert.Equal(t, 3, s.Enqueue(item("a"), item("b"), item("c")))
	require.True(t, s.Start(context.Background()))
	s.Wait()

	assert.Equal(t, []string{"a", "b", "c"}, runner.Order())
	assert.False(t, runner.overlap.Load())
	assert.False(t, s.Running())
	assert.Equal(t, 0, st.Len())
	assert.Len(t, st.History(), 3)
}

func TestStart_NoOpWhenEmptyOrDraining(t *testing.T) {
	st := store.New(types.ModeBoth)
	release := make(chan struct{})
	runner := &recordingRunner{onRun: func(types.ResolutionRecord) { <-release }}
	s := New(st, runner, 0, nil)

	assert.False(t, s.Start(context.Background()), "empty queue")

	s.Enqueue(item("a"), item("b"))
	require.True(t, s.Start(context.Background()))
	assert.True(t, s.Running())
	assert.False(t, s.Start(context.Background()), "already draining")

	close(release)
	s.Wait()
	assert.Equal(t, []string{"a", "b"}, runner.Order())
}

func TestEnqueueWhileDraining(t *testing.T) {
	st := store.New(types.ModeBoth)
	var s *Scheduler
	runner := &recordingRunner{}
	runner.onRun = func(rec types.ResolutionRecord) {
		if rec.ID == "a" {
			s.Enqueue(item("late"))
		}
	}
	s = New(st, runner, time.Millisecond, nil)

	s.Enqueue(item("a"), item("b"))
	require.True(t, s.Start(context.Background()))
	s.Wait()

	assert.Equal(t, []string{"a", "b", "late"}, runner.Order())
}

func TestClearQueueStopsFurtherPops(t *testing.T) {
	st := store.New(types.ModeBoth)
	runner := &recordingRunner{}
	runner.onRun = func(types.ResolutionRecord) { st.ClearQueue() }
	s := New(st, runner, time.Millisecond, nil)

	s.Enqueue(item("a"), item("b"), item("c"))
	require.True(t, s.Start(context.Background()))
	s.Wait()

	assert.Equal(t, []string{"a"}, runner.Order())
}

func TestRunnerErrorDoesNotStopDrain(t *testing.T) {
	st := store.New(types.ModeBoth)
	runner := &recordingRunner{err: errors.New("record is already being resolved")}
	s := New(st, runner, 0, logger.NewTestLogger(t))

	s.Enqueue(item("a"), item("b"))
	require.True(t, s.Start(context.Background()))
	s.Wait()

	assert.Equal(t, []string{"a", "b"}, runner.Order())
	for _, rec := range st.History() {
		for _, path := range rec.Mode.Paths() {
			res := rec.PathResolution(path)
			assert.Equal(t, types.StateFailed, res.State, "%s %s", rec.ID, path)
			assert.Contains(t, res.Error, "already being resolved")
		}
	}
}

// gatedLogger holds the "queue drained" log line until released
type gatedLogger struct {
	logger.Logger
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (l *gatedLogger) Info(msg string, fields map[string]interface{}) {
	if msg == "queue drained" {
		l.once.Do(func() { close(l.entered) })
		<-l.release
	}
}

func TestStartDuringDrainExit(t *testing.T) {
	st := store.New(types.ModeBoth)
	runner := &recordingRunner{}
	log := &gatedLogger{
		Logger:  logger.NewNoOpLogger(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := New(st, runner, 0, log)

	s.Enqueue(item("a"))
	require.True(t, s.Start(context.Background()))
	<-log.entered

	s.Enqueue(item("b"))
	started := s.Start(context.Background())
	close(log.release)
	require.True(t, started, "a drain on its way out must not swallow a new start")

	s.Wait()
	assert.Equal(t, []string{"a", "b"}, runner.Order())
	assert.Equal(t, 0, st.Len())
	assert.False(t, s.Running())
}

func TestCancelStopsDrain(t *testing.T) {
	st := store.New(types.ModeBoth)
	ctx, cancel := context.WithCancel(context.Background())
	runner := &recordingRunner{}
	runner.onRun = func(types.ResolutionRecord) { cancel() }
	s := New(st, runner, time.Hour, nil)

	s.Enqueue(item("a"), item("b"))
	require.True(t, s.Start(ctx))
	s.Wait()

	assert.Equal(t, []string{"a"}, runner.Order())
	assert.Equal(t, 1, st.Len())
}

func TestRecordsUseModeAtDequeue(t *testing.T) {
	st := store.New(types.ModeFastOnly)
	runner := &recordingRunner{}
	var modes []types.Mode
	runner.onRun = func(rec types.ResolutionRecord) {
		modes = append(modes, rec.Mode)
		_ = st.SetMode(types.ModeDeepOnly)
	}
	s := New(st, runner, 0, nil)

	s.Enqueue(item("a"), item("b"))
	require.True(t, s.Start(context.Background()))
	s.Wait()

	assert.Equal(t, []types.Mode{types.ModeFastOnly, types.ModeDeepOnly}, modes)
}
