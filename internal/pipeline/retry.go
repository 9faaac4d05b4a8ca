package pipeline

import (
	"context"

	"github.com/jonathan/golden-record/internal/metrics"
)

// Retry re-runs a record with the currently selected mode. Only the paths that
// mode selects are reset; other paths and other records are untouched. The
// consolidation is always discarded and recomputed when both paths complete.
func (o *Orchestrator) Retry(ctx context.Context, id string) error {
	if err := o.acquireForRetry(id); err != nil {
		return err
	}
	defer o.store.Release(id)
	return o.retryAcquired(ctx, id)
}

// RetryAsync validates and claims the record synchronously, then resolves it
// in the background. Use Wait to block until it finishes.
func (o *Orchestrator) RetryAsync(ctx context.Context, id string) error {
	if err := o.acquireForRetry(id); err != nil {
		return err
	}

	o.background.Add(1)
	go func() {
		defer o.background.Done()
		defer o.store.Release(id)
		if err := o.retryAcquired(ctx, id); err != nil {
			o.log.WithError(err).Warn("retry aborted", map[string]interface{}{"record_id": id})
		}
	}()
	return nil
}

func (o *Orchestrator) acquireForRetry(id string) error {
	if _, err := o.store.Record(id); err != nil {
		return err
	}
	if !o.store.TryAcquire(id) {
		return ErrInFlight
	}
	return nil
}

func (o *Orchestrator) retryAcquired(ctx context.Context, id string) error {
	plan, err := o.store.PrepareRetry(id)
	if err != nil {
		return err
	}
	metrics.Retries.Inc()
	o.log.Info("retrying record", map[string]interface{}{"record_id": id, "mode": string(plan.Mode)})

	if plan.NeedsSummary {
		o.summarize(ctx, id, plan.Item.Transcript)
	}
	o.resolve(ctx, plan.Item, plan.Mode, plan.Attempts)
	return nil
}
