// Package scheduler drains the work queue one item at a time.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/jonathan/golden-record/internal/logger"
	"github.com/jonathan/golden-record/internal/metrics"
	"github.com/jonathan/golden-record/internal/store"
	"github.com/jonathan/golden-record/internal/types"
)

// DefaultDelay is the pause between two items
const DefaultDelay = 1500 * time.Millisecond

// Runner resolves one dequeued record and returns when it has settled
type Runner interface {
	Run(ctx context.Context, rec types.ResolutionRecord) error
}

// Scheduler owns the draining flag. At most one drain runs at a time and
// item N+1 is never dequeued before item N has settled.
type Scheduler struct {
	store  *store.Store
	runner Runner
	delay  time.Duration
	log    logger.Logger

	mu       sync.Mutex
	draining bool
	done     chan struct{}
}

// New creates a scheduler. A negative delay is treated as zero.
func New(st *store.Store, runner Runner, delay time.Duration, log logger.Logger) *Scheduler {
	if delay < 0 {
		delay = 0
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Scheduler{store: st, runner: runner, delay: delay, log: log}
}

// Enqueue appends items to the queue tail; safe while draining
func (s *Scheduler) Enqueue(items ...types.WorkItem) int {
	return s.store.Enqueue(items...)
}

// Start begins draining in the background. It returns false without doing
// anything when a drain is already running or the queue is empty.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	if s.draining || s.store.Len() == 0 {
		s.mu.Unlock()
		return false
	}
	s.draining = true
	done := make(chan struct{})
	s.done = done
	metrics.SetDraining(true)
	s.mu.Unlock()

	go s.drain(ctx, done)
	return true
}

// Running reports whether a drain is in progress
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}

// Wait blocks until the current drain, if any, has stopped
func (s *Scheduler) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *Scheduler) drain(ctx context.Context, done chan struct{}) {
	defer close(done)

	processed := 0
	for {
		if ctx.Err() != nil {
			s.stopDraining()
			s.log.Info("drain cancelled", map[string]interface{}{"processed": processed})
			return
		}

		// The emptiness check and the flag reset happen under one lock so a
		// concurrent Start either sees the item or sees the drain gone.
		s.mu.Lock()
		if s.store.Len() == 0 {
			s.draining = false
			metrics.SetDraining(false)
			s.mu.Unlock()
			s.log.Info("queue drained", map[string]interface{}{"processed": processed})
			return
		}
		s.mu.Unlock()

		rec, ok := s.store.Dequeue()
		if !ok {
			// cleared between the check and the pop
			continue
		}

		if err := s.runner.Run(ctx, rec); err != nil {
			s.log.WithError(err).Error("work item did not run", map[string]interface{}{"record_id": rec.ID})
			s.abandon(rec, err)
		}
		processed++

		timer := time.NewTimer(s.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (s *Scheduler) stopDraining() {
	s.mu.Lock()
	s.draining = false
	metrics.SetDraining(false)
	s.mu.Unlock()
}

// abandon fails the selected paths of a record the runner refused, so the
// record is left retryable instead of running forever
func (s *Scheduler) abandon(rec types.ResolutionRecord, err error) {
	msg := "Not started: " + err.Error()
	for _, path := range rec.Mode.Paths() {
		s.store.UpdatePath(rec.ID, path, rec.PathResolution(path).Attempt, func(r *types.ModelResolution) {
			r.State = types.StateFailed
			r.Result = nil
			r.Error = msg
			r.Logs = append(r.Logs, msg)
		})
	}
}
