package server

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jonathan/golden-record/internal/store"
	"github.com/jonathan/golden-record/internal/types"
)

const (
	eventBuffer       = 256
	heartbeatInterval = 15 * time.Second
)

// ChangeEvent is streamed for every store mutation. Record carries the updated
// record for record events; other kinds tell the client to refetch /state.
type ChangeEvent struct {
	Kind     store.EventKind         `json:"kind"`
	RecordID string                  `json:"record_id,omitempty"`
	Record   *types.ResolutionRecord `json:"record,omitempty"`
}

// handleEvents streams store changes as server-sent events. The first event is
// "ready" with the full state; "resync" means events were dropped for a slow client.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events := make(chan store.Event, eventBuffer)
	var overflow atomic.Bool
	unsubscribe := s.store.Subscribe(func(ev store.Event) {
		select {
		case events <- ev:
		default:
			overflow.Store(true)
		}
	})
	defer unsubscribe()

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := sse.WriteEvent("ready", s.state()); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.baseCtx.Done():
			return
		case <-heartbeat.C:
			if err := sse.WritePing(); err != nil {
				return
			}
		case ev := <-events:
			if overflow.Swap(false) {
				if err := sse.WriteEvent("resync", s.state()); err != nil {
					return
				}
				continue
			}
			if err := sse.WriteEvent("change", s.changeEvent(ev)); err != nil {
				return
			}
		}
	}
}

func (s *Server) changeEvent(ev store.Event) ChangeEvent {
	out := ChangeEvent{Kind: ev.Kind, RecordID: ev.RecordID}
	if ev.Kind == store.EventRecordUpdated && ev.RecordID != "" {
		if rec, err := s.store.Record(ev.RecordID); err == nil {
			out.Record = &rec
		}
	}
	return out
}
