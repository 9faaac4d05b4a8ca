package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jonathan/golden-record/internal/logger"
	"github.com/jonathan/golden-record/internal/store"
	"github.com/jonathan/golden-record/internal/types"
)

// Persister mirrors the store into a KV backend. State is read once by Load;
// after Start every queue, history and mode change schedules a write. Bursts of
// changes (streamed chunks) coalesce into one write of the latest snapshot.
type Persister struct {
	kv    KV
	store *store.Store
	log   logger.Logger

	saveMu     sync.Mutex
	stateDirty atomic.Bool
	modeDirty  atomic.Bool
	signal     chan struct{}

	unsubscribe func()
	stop        chan struct{}
	done        chan struct{}
}

// New creates a persister for st
func New(kv KV, st *store.Store, log logger.Logger) *Persister {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Persister{
		kv:     kv,
		store:  st,
		log:    log,
		signal: make(chan struct{}, 1),
	}
}

// Load restores mode and state. Absent keys leave the store empty; unreadable
// values are logged and treated as empty.
func (p *Persister) Load(ctx context.Context) error {
	modeBytes, err := p.kv.Get(ctx, ModeKey)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return fmt.Errorf("failed to load mode: %w", err)
	default:
		if setErr := p.store.SetMode(types.Mode(modeBytes)); setErr != nil {
			p.log.WithError(setErr).Warn("ignoring persisted mode", nil)
		}
	}

	stateBytes, err := p.kv.Get(ctx, StateKey)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	var snap types.Snapshot
	if err := json.Unmarshal(stateBytes, &snap); err != nil {
		p.log.WithError(err).Warn("persisted state is unreadable, starting empty", map[string]interface{}{
			"key": StateKey,
		})
		return nil
	}

	p.store.Restore(snap)
	p.log.Info("restored workbench state", map[string]interface{}{
		"queue":   len(snap.Queue),
		"history": len(snap.History),
	})
	return nil
}

// SaveState writes the current queue and history
func (p *Persister) SaveState(ctx context.Context) error {
	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	data, err := json.Marshal(p.store.Snapshot())
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	return p.kv.Set(ctx, StateKey, data)
}

// SaveMode writes the current mode
func (p *Persister) SaveMode(ctx context.Context) error {
	p.saveMu.Lock()
	defer p.saveMu.Unlock()
	return p.kv.Set(ctx, ModeKey, []byte(p.store.Mode()))
}

// Start subscribes to store changes and writes them in the background until
// Stop is called or ctx ends.
func (p *Persister) Start(ctx context.Context) {
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.unsubscribe = p.store.Subscribe(func(ev store.Event) {
		if ev.Kind == store.EventModeChanged {
			p.modeDirty.Store(true)
		} else {
			p.stateDirty.Store(true)
		}
		select {
		case p.signal <- struct{}{}:
		default:
		}
	})

	go func() {
		defer close(p.done)
		for {
			select {
			case <-p.signal:
				p.flush(ctx)
			case <-p.stop:
				p.flush(context.WithoutCancel(ctx))
				return
			case <-ctx.Done():
				p.flush(context.WithoutCancel(ctx))
				return
			}
		}
	}()
}

// Stop unsubscribes, waits for the writer to exit and writes any pending change
func (p *Persister) Stop() {
	if p.unsubscribe == nil {
		return
	}
	p.unsubscribe()
	select {
	case <-p.done:
		// the writer exited with its context; catch up on later changes
		p.flush(context.Background())
	default:
		close(p.stop)
		<-p.done
	}
	p.unsubscribe = nil
}

func (p *Persister) flush(ctx context.Context) {
	if p.modeDirty.Swap(false) {
		if err := p.SaveMode(ctx); err != nil {
			p.log.WithError(err).Error("failed to persist mode", nil)
		}
	}
	if p.stateDirty.Swap(false) {
		if err := p.SaveState(ctx); err != nil {
			p.log.WithError(err).Error("failed to persist state", nil)
		}
	}
}
