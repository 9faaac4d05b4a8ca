package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jonathan/golden-record/internal/export"
	"github.com/jonathan/golden-record/internal/samples"
	"github.com/jonathan/golden-record/internal/types"
)

// maxSamplesPerRequest bounds POST /queue/samples
const maxSamplesPerRequest = 50

// StateResponse is the full workbench state
type StateResponse struct {
	Mode     types.Mode               `json:"mode"`
	Draining bool                     `json:"draining"`
	Queue    []types.WorkItem         `json:"queue"`
	History  []types.ResolutionRecord `json:"history"`
}

// ModeRequest selects the processing mode
type ModeRequest struct {
	Mode types.Mode `json:"mode"`
}

// ManualItemRequest is a work item entered by hand
type ManualItemRequest struct {
	SourceRecord types.SourceRecord `json:"source_record"`
	Transcript   string             `json:"transcript"`
}

// EnqueueResponse reports what was appended to the queue
type EnqueueResponse struct {
	Added int              `json:"added"`
	Items []types.WorkItem `json:"items"`
}

// DrainResponse reports whether a new drain was started
type DrainResponse struct {
	Started  bool `json:"started"`
	Draining bool `json:"draining"`
	Queued   int  `json:"queued"`
}

func (s *Server) state() StateResponse {
	snap := s.store.Snapshot()
	return StateResponse{
		Mode:     s.store.Mode(),
		Draining: s.scheduler.Running(),
		Queue:    snap.Queue,
		History:  snap.History,
	}
}

// handleState returns queue, history and mode
func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.state())
}

func (s *Server) handleGetMode(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, ModeRequest{Mode: s.store.Mode()})
}

// handleSetMode changes the mode for items dequeued from now on
func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req ModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := s.store.SetMode(req.Mode); err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, ModeRequest{Mode: s.store.Mode()})
}

// handleEnqueue appends a manually entered work item
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req ManualItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	item, err := samples.NewManualItem(req.SourceRecord, req.Transcript)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	added := s.store.Enqueue(item)
	s.log.Info("manual item enqueued", map[string]interface{}{"item_id": item.ID})
	s.jsonResponse(w, http.StatusCreated, EnqueueResponse{Added: added, Items: []types.WorkItem{item}})
}

// handleEnqueueSamples appends generated work items; ?count=N, default 1
func (s *Server) handleEnqueueSamples(w http.ResponseWriter, r *http.Request) {
	count := 1
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSamplesPerRequest {
			err := &ErrValidation{Field: "count", Message: fmt.Sprintf("must be between 1 and %d", maxSamplesPerRequest)}
			s.errorResponse(w, HTTPStatus(err), err.Error())
			return
		}
		count = n
	}

	s.samplesMu.Lock()
	items := s.samples.Items(count)
	s.samplesMu.Unlock()

	added := s.store.Enqueue(items...)
	s.jsonResponse(w, http.StatusCreated, EnqueueResponse{Added: added, Items: items})
}

// handleClearQueue empties the queue; an in-flight item is unaffected
func (s *Server) handleClearQueue(w http.ResponseWriter, _ *http.Request) {
	s.store.ClearQueue()
	w.WriteHeader(http.StatusNoContent)
}

// handleStartDrain starts draining; a no-op while draining or when the queue is empty
func (s *Server) handleStartDrain(w http.ResponseWriter, _ *http.Request) {
	started := s.scheduler.Start(s.baseCtx)
	status := http.StatusOK
	if started {
		status = http.StatusAccepted
	}
	s.jsonResponse(w, status, DrainResponse{
		Started:  started,
		Draining: s.scheduler.Running(),
		Queued:   s.store.Len(),
	})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Record(chi.URLParam(r, "id"))
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, rec)
}

// handleRetry re-runs a record with the current mode
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.retrier.RetryAsync(s.baseCtx, id); err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	s.log.Info("retry started", map[string]interface{}{"record_id": id})
	s.jsonResponse(w, http.StatusAccepted, map[string]string{"record_id": id, "status": "retrying"})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, _ *http.Request) {
	s.store.ClearHistory()
	w.WriteHeader(http.StatusNoContent)
}

// handleExport downloads the history, or one record with ?id=, as JSON or CSV.
// An empty selection answers 204 with no body.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := export.FormatJSON
	if r.URL.Path == "/export.csv" {
		format = export.FormatCSV
	}
	id := r.URL.Query().Get("id")

	records := export.Select(s.store.History(), id)
	if len(records) == 0 {
		w.WriteHeader(HTTPStatus(export.ErrNothingToExport))
		return
	}

	contentType := "application/json"
	if format == export.FormatCSV {
		contentType = "text/csv"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(format, id)))
	if err := export.Write(w, format, records); err != nil && !errors.Is(err, export.ErrNothingToExport) {
		s.log.WithError(err).Error("export failed", map[string]interface{}{"format": string(format)})
	}
}
