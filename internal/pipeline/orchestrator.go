// Package pipeline resolves work items: it runs the fast and deep model paths
// concurrently, consolidates their results into a golden record and re-runs
// records on demand.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/golden-record/internal/logger"
	"github.com/jonathan/golden-record/internal/metrics"
	"github.com/jonathan/golden-record/internal/store"
	"github.com/jonathan/golden-record/internal/types"
)

// ErrInFlight is returned when a record is already being resolved
var ErrInFlight = errors.New("record is already being resolved")

// ErrNoResult is reported when a collaborator returns neither a result nor an error
var ErrNoResult = errors.New("no result returned")

// Gateway is the remote inference collaborator
type Gateway interface {
	Summarize(ctx context.Context, transcript string) (string, error)
	FastResolve(ctx context.Context, item types.WorkItem, onPartial func(string)) (*types.ResultProfile, error)
	DeepResolve(ctx context.Context, item types.WorkItem, onPartial func(string)) (*types.ResultProfile, error)
	Synthesize(ctx context.Context, item types.WorkItem, fast, deep *types.ResultProfile) (*types.ResultProfile, error)
}

// ProgressEvent reports a terminal transition of a path or consolidation
type ProgressEvent struct {
	RecordID  string     `json:"record_id"`
	Path      types.Path `json:"path,omitempty"`
	Stage     string     `json:"stage"`
	Message   string     `json:"message"`
	ElapsedMs int64      `json:"elapsed_ms"`
}

// Progress stages
const (
	StageCompleted     = "completed"
	StageFailed        = "failed"
	StageConsolidated  = "consolidated"
	StageConsolidation = "consolidation_failed"
)

// ProgressCallback is called from path goroutines and must be safe for concurrent use
type ProgressCallback func(event ProgressEvent)

// Options configures an Orchestrator
type Options struct {
	Logger     logger.Logger
	OnProgress ProgressCallback
}

// Orchestrator runs one record at a time per record id
type Orchestrator struct {
	gw         Gateway
	store      *store.Store
	log        logger.Logger
	onProgress ProgressCallback

	background sync.WaitGroup
}

// New creates an Orchestrator writing into st
func New(gw Gateway, st *store.Store, opts Options) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Orchestrator{
		gw:         gw,
		store:      st,
		log:        log,
		onProgress: opts.OnProgress,
	}
}

// Run resolves a record freshly created by the store's Dequeue. It returns
// once every selected path and the consolidation, if any, are terminal. Path
// failures are recorded on the record, not returned.
func (o *Orchestrator) Run(ctx context.Context, rec types.ResolutionRecord) error {
	if !o.store.TryAcquire(rec.ID) {
		return ErrInFlight
	}
	defer o.store.Release(rec.ID)

	o.summarize(ctx, rec.ID, rec.Source.Transcript)

	attempts := map[types.Path]int{
		types.PathFast: rec.Fast.Attempt,
		types.PathDeep: rec.Deep.Attempt,
	}
	o.resolve(ctx, rec.Source, rec.Mode, attempts)
	return nil
}

// Wait blocks until summary side channels and background retries have finished
func (o *Orchestrator) Wait() {
	o.background.Wait()
}

func (o *Orchestrator) resolve(ctx context.Context, item types.WorkItem, mode types.Mode, attempts map[types.Path]int) {
	log := o.log.With(map[string]interface{}{"record_id": item.ID, "mode": string(mode)})
	log.Info("resolving work item", nil)

	// Paths never cancel each other
	var g errgroup.Group
	for _, path := range mode.Paths() {
		g.Go(func() error {
			o.runPath(ctx, log, item, path, attempts[path])
			return nil
		})
	}
	_ = g.Wait()

	if mode != types.ModeBoth {
		return
	}

	rec, err := o.store.Record(item.ID)
	if err != nil {
		// History was cleared while the paths ran
		log.Warn("record disappeared before consolidation", nil)
		return
	}
	if rec.Fast.State != types.StateCompleted || rec.Deep.State != types.StateCompleted {
		log.Info("skipping consolidation", map[string]interface{}{
			"fast": string(rec.Fast.State),
			"deep": string(rec.Deep.State),
		})
		return
	}
	o.consolidate(ctx, log, item, rec.Fast.Result, rec.Deep.Result)
}

func (o *Orchestrator) runPath(ctx context.Context, log logger.Logger, item types.WorkItem, path types.Path, attempt int) {
	label := pathLabel(path)
	log = log.With(map[string]interface{}{"path": string(path), "attempt": attempt})

	o.store.UpdatePath(item.ID, path, attempt, func(r *types.ModelResolution) {
		r.Logs = append(r.Logs, fmt.Sprintf("%s started (attempt %d)", label, attempt))
	})

	onPartial := func(text string) {
		o.store.UpdatePath(item.ID, path, attempt, func(r *types.ModelResolution) {
			r.PartialText = text
		})
	}

	start := time.Now()
	profile, err := o.callPath(ctx, path, item, onPartial)
	elapsed := time.Since(start)
	elapsedMs := elapsed.Milliseconds()

	if err != nil {
		msg := err.Error()
		applied := o.store.UpdatePath(item.ID, path, attempt, func(r *types.ModelResolution) {
			r.State = types.StateFailed
			r.Result = nil
			r.Error = msg
			r.ElapsedMs = elapsedMs
			r.Logs = append(r.Logs, fmt.Sprintf("%s failed after %dms: %s", label, elapsedMs, msg))
		})
		log.WithError(err).Warn("path failed", map[string]interface{}{"elapsed_ms": elapsedMs, "applied": applied})
		metrics.ObservePath(string(path), false, elapsed.Seconds())
		o.emit(ProgressEvent{RecordID: item.ID, Path: path, Stage: StageFailed, Message: msg, ElapsedMs: elapsedMs})
		return
	}

	applied := o.store.UpdatePath(item.ID, path, attempt, func(r *types.ModelResolution) {
		r.State = types.StateCompleted
		r.Result = profile
		r.Error = ""
		r.ElapsedMs = elapsedMs
		r.Logs = append(r.Logs, fmt.Sprintf("%s completed in %dms (confidence %.2f)", label, elapsedMs, profile.Confidence))
	})
	log.Info("path completed", map[string]interface{}{"elapsed_ms": elapsedMs, "applied": applied})
	metrics.ObservePath(string(path), true, elapsed.Seconds())
	o.emit(ProgressEvent{
		RecordID:  item.ID,
		Path:      path,
		Stage:     StageCompleted,
		Message:   fmt.Sprintf("%s completed", label),
		ElapsedMs: elapsedMs,
	})
}

// callPath invokes the gateway and converts panics and empty returns into errors
func (o *Orchestrator) callPath(ctx context.Context, path types.Path, item types.WorkItem, onPartial func(string)) (profile *types.ResultProfile, err error) {
	defer func() {
		if r := recover(); r != nil {
			profile, err = nil, fmt.Errorf("%s panicked: %v", pathLabel(path), r)
		}
	}()

	if path == types.PathDeep {
		profile, err = o.gw.DeepResolve(ctx, item, onPartial)
	} else {
		profile, err = o.gw.FastResolve(ctx, item, onPartial)
	}
	if err == nil && profile == nil {
		err = ErrNoResult
	}
	if err != nil {
		profile = nil
	}
	return profile, err
}

func (o *Orchestrator) consolidate(ctx context.Context, log logger.Logger, item types.WorkItem, fast, deep *types.ResultProfile) {
	logs := []string{"Synthesizing golden record"}
	o.store.SetConsolidated(item.ID, types.ConsolidatedResolution{
		State: types.StateRunning,
		Logs:  append([]string{}, logs...),
	})

	start := time.Now()
	profile, err := o.callSynthesize(ctx, item, fast, deep)
	elapsedMs := time.Since(start).Milliseconds()

	if err != nil {
		msg := err.Error()
		o.store.SetConsolidated(item.ID, types.ConsolidatedResolution{
			State:     types.StateFailed,
			Error:     msg,
			ElapsedMs: elapsedMs,
			Logs:      append(logs, fmt.Sprintf("Consolidation failed after %dms: %s", elapsedMs, msg)),
		})
		log.WithError(err).Warn("consolidation failed", map[string]interface{}{"elapsed_ms": elapsedMs})
		metrics.ObserveConsolidation(false)
		o.emit(ProgressEvent{RecordID: item.ID, Stage: StageConsolidation, Message: msg, ElapsedMs: elapsedMs})
		return
	}

	o.store.SetConsolidated(item.ID, types.ConsolidatedResolution{
		State:     types.StateCompleted,
		Result:    profile,
		ElapsedMs: elapsedMs,
		Logs:      append(logs, fmt.Sprintf("Golden record ready in %dms", elapsedMs)),
	})
	log.Info("consolidation completed", map[string]interface{}{"elapsed_ms": elapsedMs})
	metrics.ObserveConsolidation(true)
	o.emit(ProgressEvent{RecordID: item.ID, Stage: StageConsolidated, Message: "Golden record ready", ElapsedMs: elapsedMs})
}

func (o *Orchestrator) callSynthesize(ctx context.Context, item types.WorkItem, fast, deep *types.ResultProfile) (profile *types.ResultProfile, err error) {
	defer func() {
		if r := recover(); r != nil {
			profile, err = nil, fmt.Errorf("synthesis panicked: %v", r)
		}
	}()

	profile, err = o.gw.Synthesize(ctx, item, fast, deep)
	if err == nil && profile == nil {
		err = ErrNoResult
	}
	if err != nil {
		profile = nil
	}
	return profile, err
}

// summarize fires the summary side channel. It never affects the paths; a
// failed or panicking summarizer leaves the summary absent.
func (o *Orchestrator) summarize(ctx context.Context, id, transcript string) {
	o.background.Add(1)
	go func() {
		defer o.background.Done()
		defer func() {
			if r := recover(); r != nil {
				o.log.Warn("summarizer panicked", map[string]interface{}{"record_id": id, "panic": fmt.Sprint(r)})
			}
		}()

		summary, err := o.gw.Summarize(ctx, transcript)
		if err != nil {
			o.log.WithError(err).Warn("summary unavailable", map[string]interface{}{"record_id": id})
			return
		}
		o.store.SetSummary(id, summary)
	}()
}

func (o *Orchestrator) emit(ev ProgressEvent) {
	if o.onProgress != nil {
		o.onProgress(ev)
	}
}

func pathLabel(path types.Path) string {
	if path == types.PathDeep {
		return "Deep path"
	}
	return "Fast path"
}
