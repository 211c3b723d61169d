package reconciler

import (
	"context"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/metrics"
)

// TriggerDrain schedules a background drain and returns immediately. A
// trigger while one is already pending is dropped; a trigger during a
// running drain schedules exactly one more.
func (r *Reconciler) TriggerDrain() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

func (r *Reconciler) drainWorker() {
	defer r.wg.Done()

	for {
		select {
		case <-r.trigger:
			if _, _, err := r.Drain(r.ctx); err != nil {
				r.logger.Warn().Err(err).Msg("Background drain failed")
			}
		case <-r.ctx.Done():
			return
		}
	}
}

// Drain pushes queued mutations in order until the queue is empty or a push
// fails. The failed entry and everything after it stay queued. Only one
// drain runs at a time.
func (r *Reconciler) Drain(ctx context.Context) (pushed, remaining int, err error) {
	r.drainMu.Lock()
	defer r.drainMu.Unlock()

	items, err := r.queue.PeekAll()
	if err != nil {
		metrics.DrainsTotal.WithLabelValues("error").Inc()
		return 0, 0, err
	}
	defer func() {
		metrics.QueueDepth.Set(float64(remaining))
	}()

	if len(items) == 0 {
		metrics.DrainsTotal.WithLabelValues("empty").Inc()
		return 0, 0, nil
	}

	for i, item := range items {
		if ctx.Err() != nil || !r.remote.Push(ctx, item.Entry) {
			remaining = len(items) - i
			metrics.DrainsTotal.WithLabelValues("blocked").Inc()
			r.logger.Info().
				Uint64("key", item.Key).
				Str("action", string(item.Entry.Action)).
				Str("collection", string(item.Entry.Collection)).
				Int("pushed", pushed).
				Int("remaining", remaining).
				Msg("Queue blocked, will retry later")
			r.publishQueue(events.EventQueueBlocked, pushed, remaining)
			return pushed, remaining, nil
		}

		if err := r.queue.Remove(item.Key); err != nil {
			// The entry was accepted remotely and will be pushed again
			remaining = len(items) - i
			metrics.DrainsTotal.WithLabelValues("error").Inc()
			return pushed, remaining, err
		}
		pushed++
	}

	metrics.DrainsTotal.WithLabelValues("drained").Inc()
	r.logger.Debug().Int("pushed", pushed).Msg("Queue drained")
	r.publishQueue(events.EventQueueDrained, pushed, 0)
	return pushed, 0, nil
}

func (r *Reconciler) publishQueue(eventType events.EventType, pushed, remaining int) {
	r.publish(eventType, string(eventType), &SyncResult{Pushed: pushed, Remaining: remaining})
}
