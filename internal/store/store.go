// Package store holds the authoritative workbench state: the FIFO queue, the
// resolution history and the processing mode. Producers never hold copies of
// records across suspension points; every mutation is a closure applied to the
// current record under the store lock, and observers are notified after the
// lock is released.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jonathan/golden-record/internal/metrics"
	"github.com/jonathan/golden-record/internal/types"
)

// ErrRecordNotFound is returned when no history record has the requested id
var ErrRecordNotFound = errors.New("record not found")

// ErrInvalidMode is returned by SetMode for unknown modes
var ErrInvalidMode = errors.New("invalid mode")

// InterruptedMessage marks paths that were running when the state was last saved
const InterruptedMessage = "Interrupted: the workbench stopped before this path finished"

// EventKind identifies what changed
type EventKind string

// Event kinds
const (
	EventQueueChanged   EventKind = "queue"
	EventHistoryChanged EventKind = "history"
	EventRecordUpdated  EventKind = "record"
	EventModeChanged    EventKind = "mode"
)

// Event is delivered to subscribers after a mutation
type Event struct {
	Kind     EventKind `json:"kind"`
	RecordID string    `json:"record_id,omitempty"`
}

// RetryPlan is what the retry coordinator needs to re-run a record
type RetryPlan struct {
	Item         types.WorkItem
	Mode         types.Mode
	Attempts     map[types.Path]int
	NeedsSummary bool
}

// Store is safe for concurrent use
type Store struct {
	mu       sync.Mutex
	queue    []types.WorkItem
	history  []types.ResolutionRecord
	index    map[string]int
	mode     types.Mode
	inflight map[string]bool

	subMu  sync.RWMutex
	subs   map[int]func(Event)
	nextID int
}

// New creates an empty store in the given mode
func New(mode types.Mode) *Store {
	if !mode.Valid() {
		mode = types.ModeBoth
	}
	return &Store{
		index:    make(map[string]int),
		mode:     mode,
		inflight: make(map[string]bool),
		subs:     make(map[int]func(Event)),
	}
}

// Subscribe registers fn for every subsequent event and returns a function
// that removes it. fn runs on the mutating goroutine and must not block.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(events ...Event) {
	s.subMu.RLock()
	subs := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.RUnlock()

	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
}

// Mode returns the currently selected mode
func (s *Store) Mode() types.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode changes the mode used for items dequeued or retried from now on
func (s *Store) SetMode(mode types.Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	s.mu.Lock()
	changed := s.mode != mode
	s.mode = mode
	s.mu.Unlock()

	if changed {
		s.notify(Event{Kind: EventModeChanged})
	}
	return nil
}

// Enqueue appends items to the tail. Items whose id is already queued or in
// history are skipped. It returns how many were added.
func (s *Store) Enqueue(items ...types.WorkItem) int {
	s.mu.Lock()
	seen := make(map[string]bool, len(s.queue))
	for _, q := range s.queue {
		seen[q.ID] = true
	}
	added := 0
	for _, item := range items {
		if item.ID == "" || seen[item.ID] {
			continue
		}
		if _, ok := s.index[item.ID]; ok {
			continue
		}
		seen[item.ID] = true
		s.queue = append(s.queue, item)
		added++
	}
	depth := len(s.queue)
	s.mu.Unlock()

	if added > 0 {
		metrics.QueueDepth.Set(float64(depth))
		s.notify(Event{Kind: EventQueueChanged})
	}
	return added
}

// Dequeue pops the head item and appends its record, created in the current
// mode, to history in the same critical section. ok is false when the queue is empty.
func (s *Store) Dequeue() (rec types.ResolutionRecord, ok bool) {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return types.ResolutionRecord{}, false
	}
	item := s.queue[0]
	s.queue = s.queue[1:]
	rec = types.NewRecord(item, s.mode)
	s.index[rec.ID] = len(s.history)
	s.history = append(s.history, rec)
	depth := len(s.queue)
	out := rec.Clone()
	s.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	s.notify(Event{Kind: EventQueueChanged}, Event{Kind: EventHistoryChanged, RecordID: rec.ID})
	return out, true
}

// Len returns the queue depth
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Queue returns a copy of the pending items in FIFO order
func (s *Store) Queue() []types.WorkItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.WorkItem{}, s.queue...)
}

// History returns deep copies of all records in insertion order
func (s *Store) History() []types.ResolutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyLocked()
}

func (s *Store) historyLocked() []types.ResolutionRecord {
	out := make([]types.ResolutionRecord, len(s.history))
	for i, rec := range s.history {
		out[i] = rec.Clone()
	}
	return out
}

// Record returns a deep copy of one record
func (s *Store) Record(id string) (types.ResolutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return types.ResolutionRecord{}, ErrRecordNotFound
	}
	return s.history[i].Clone(), nil
}

// Snapshot returns the persistable state
func (s *Store) Snapshot() types.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.Snapshot{
		Queue:   append([]types.WorkItem{}, s.queue...),
		History: s.historyLocked(),
	}
}

// Restore replaces queue and history with a loaded snapshot. Paths or
// consolidations that were still running are marked failed so they can be retried.
func (s *Store) Restore(snap types.Snapshot) {
	s.mu.Lock()
	s.queue = append([]types.WorkItem{}, snap.Queue...)
	s.history = make([]types.ResolutionRecord, 0, len(snap.History))
	s.index = make(map[string]int, len(snap.History))
	for _, rec := range snap.History {
		if _, dup := s.index[rec.ID]; dup {
			continue
		}
		rec = rec.Clone()
		interrupt(&rec)
		s.index[rec.ID] = len(s.history)
		s.history = append(s.history, rec)
	}
	depth := len(s.queue)
	s.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	s.notify(Event{Kind: EventQueueChanged}, Event{Kind: EventHistoryChanged})
}

func interrupt(rec *types.ResolutionRecord) {
	for _, p := range []types.Path{types.PathFast, types.PathDeep} {
		res := rec.PathResolution(p)
		if res.State == types.StateRunning {
			res.State = types.StateFailed
			res.Result = nil
			res.Error = InterruptedMessage
			res.Logs = append(res.Logs, InterruptedMessage)
		}
	}
	if rec.Consolidated != nil && rec.Consolidated.State == types.StateRunning {
		rec.Consolidated.State = types.StateFailed
		rec.Consolidated.Error = InterruptedMessage
	}
}

// UpdatePath applies fn to one path of a record when attempt is still the
// path's current attempt. Updates from superseded attempts are dropped and
// reported as false.
func (s *Store) UpdatePath(id string, path types.Path, attempt int, fn func(*types.ModelResolution)) bool {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	rec := s.history[i].Clone()
	res := rec.PathResolution(path)
	if res.Attempt != attempt {
		s.mu.Unlock()
		return false
	}
	fn(res)
	s.history[i] = rec
	s.mu.Unlock()

	s.notify(Event{Kind: EventRecordUpdated, RecordID: id})
	return true
}

// SetConsolidated stores the consolidation outcome for a record
func (s *Store) SetConsolidated(id string, c types.ConsolidatedResolution) bool {
	return s.updateRecord(id, func(rec *types.ResolutionRecord) {
		rec.Consolidated = &c
	})
}

// SetSummary stores the synopsis for a record
func (s *Store) SetSummary(id, summary string) bool {
	return s.updateRecord(id, func(rec *types.ResolutionRecord) {
		rec.Summary = &summary
	})
}

func (s *Store) updateRecord(id string, fn func(*types.ResolutionRecord)) bool {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	rec := s.history[i].Clone()
	fn(&rec)
	s.history[i] = rec
	s.mu.Unlock()

	s.notify(Event{Kind: EventRecordUpdated, RecordID: id})
	return true
}

// PrepareRetry resets the paths selected by the current mode: each goes back
// to running on a new attempt with logs, stream text and error cleared. Prior
// results are kept until overwritten. Any consolidation is discarded.
func (s *Store) PrepareRetry(id string) (RetryPlan, error) {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return RetryPlan{}, ErrRecordNotFound
	}
	rec := s.history[i].Clone()
	mode := s.mode
	plan := RetryPlan{
		Item:         rec.Source,
		Mode:         mode,
		Attempts:     make(map[types.Path]int, 2),
		NeedsSummary: rec.Summary == nil,
	}
	rec.Mode = mode
	for _, p := range mode.Paths() {
		res := rec.PathResolution(p)
		res.State = types.StateRunning
		res.Logs = []string{}
		res.PartialText = ""
		res.Error = ""
		res.ElapsedMs = 0
		res.Attempt++
		plan.Attempts[p] = res.Attempt
	}
	rec.Consolidated = nil
	s.history[i] = rec
	s.mu.Unlock()

	s.notify(Event{Kind: EventRecordUpdated, RecordID: id})
	return plan, nil
}

// ClearQueue drops every pending item. An item already dequeued is unaffected.
func (s *Store) ClearQueue() {
	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()

	metrics.QueueDepth.Set(0)
	s.notify(Event{Kind: EventQueueChanged})
}

// ClearHistory drops every record
func (s *Store) ClearHistory() {
	s.mu.Lock()
	s.history = nil
	s.index = make(map[string]int)
	s.mu.Unlock()

	s.notify(Event{Kind: EventHistoryChanged})
}

// TryAcquire marks a record as in flight. It returns false if it already was.
func (s *Store) TryAcquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[id] {
		return false
	}
	s.inflight[id] = true
	return true
}

// Release clears the in-flight mark
func (s *Store) Release(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

// InFlight reports whether a record is being resolved
func (s *Store) InFlight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight[id]
}
