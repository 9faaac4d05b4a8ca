package types

// Mode selects which model paths run for an item
type Mode string

// Processing modes
const (
	ModeFastOnly Mode = "fast_only"
	ModeDeepOnly Mode = "deep_only"
	ModeBoth     Mode = "both"
)

// Valid reports whether m is one of the known modes
func (m Mode) Valid() bool {
	switch m {
	case ModeFastOnly, ModeDeepOnly, ModeBoth:
		return true
	}
	return false
}

// Selects reports whether the mode runs the given path
func (m Mode) Selects(path Path) bool {
	switch m {
	case ModeFastOnly:
		return path == PathFast
	case ModeDeepOnly:
		return path == PathDeep
	case ModeBoth:
		return path == PathFast || path == PathDeep
	}
	return false
}

// Paths returns the paths selected by the mode, fast first
func (m Mode) Paths() []Path {
	var paths []Path
	for _, p := range []Path{PathFast, PathDeep} {
		if m.Selects(p) {
			paths = append(paths, p)
		}
	}
	return paths
}

// Path identifies one of the two model paths
type Path string

// Model paths
const (
	PathFast Path = "fast"
	PathDeep Path = "deep"
)

// State is the lifecycle state of a model path or of the consolidation step
type State string

// Lifecycle states
const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions are expected
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ModelResolution tracks one model path for one work item
type ModelResolution struct {
	Result      *ResultProfile `json:"result,omitempty"`
	Logs        []string       `json:"logs"`
	ElapsedMs   int64          `json:"elapsed_ms"`
	State       State          `json:"state"`
	PartialText string         `json:"partial_text,omitempty"`
	Error       string         `json:"error,omitempty"`
	Attempt     int            `json:"attempt"`
}

// ConsolidatedResolution is the synthesis of both model paths (the Golden Record)
type ConsolidatedResolution struct {
	Result    *ResultProfile `json:"result,omitempty"`
	Logs      []string       `json:"logs"`
	ElapsedMs int64          `json:"elapsed_ms"`
	State     State          `json:"state"`
	Error     string         `json:"error,omitempty"`
}

// ResolutionRecord is the history entry for one dequeued work item
type ResolutionRecord struct {
	ID           string                  `json:"id"`
	Source       WorkItem                `json:"source"`
	Mode         Mode                    `json:"mode"`
	Fast         ModelResolution         `json:"fast"`
	Deep         ModelResolution         `json:"deep"`
	Consolidated *ConsolidatedResolution `json:"consolidated,omitempty"`
	Summary      *string                 `json:"summary,omitempty"`
}

// NewRecord creates the history entry for a freshly dequeued item. Paths selected by
// mode start running on their first attempt; the others stay pending and are never populated.
func NewRecord(item WorkItem, mode Mode) ResolutionRecord {
	rec := ResolutionRecord{
		ID:     item.ID,
		Source: item,
		Mode:   mode,
		Fast:   ModelResolution{State: StatePending, Logs: []string{}},
		Deep:   ModelResolution{State: StatePending, Logs: []string{}},
	}
	for _, p := range mode.Paths() {
		res := rec.PathResolution(p)
		res.State = StateRunning
		res.Attempt = 1
	}
	return rec
}

// PathResolution returns a pointer to the resolution of the given path
func (r *ResolutionRecord) PathResolution(path Path) *ModelResolution {
	if path == PathDeep {
		return &r.Deep
	}
	return &r.Fast
}

// Clone returns a deep copy so callers can never alias store-owned state
func (r ResolutionRecord) Clone() ResolutionRecord {
	out := r
	out.Fast = r.Fast.clone()
	out.Deep = r.Deep.clone()
	if r.Consolidated != nil {
		c := *r.Consolidated
		if c.Logs != nil {
			c.Logs = append([]string{}, r.Consolidated.Logs...)
		}
		c.Result = r.Consolidated.Result.clone()
		out.Consolidated = &c
	}
	if r.Summary != nil {
		s := *r.Summary
		out.Summary = &s
	}
	return out
}

func (m ModelResolution) clone() ModelResolution {
	out := m
	if m.Logs != nil {
		out.Logs = append([]string{}, m.Logs...)
	}
	out.Result = m.Result.clone()
	return out
}

func (p *ResultProfile) clone() *ResultProfile {
	if p == nil {
		return nil
	}
	out := *p
	if p.ChangedFields != nil {
		out.ChangedFields = append([]string{}, p.ChangedFields...)
	}
	return &out
}

// BestProfile returns the most authoritative profile available for the record:
// consolidated, then deep, then fast. It returns nil when no path produced a result.
func (r ResolutionRecord) BestProfile() *ResultProfile {
	if r.Consolidated != nil && r.Consolidated.Result != nil {
		return r.Consolidated.Result
	}
	if r.Deep.Result != nil {
		return r.Deep.Result
	}
	return r.Fast.Result
}

// Snapshot is the persisted form of the workbench state
type Snapshot struct {
	Queue   []WorkItem         `json:"queue"`
	History []ResolutionRecord `json:"history"`
}
