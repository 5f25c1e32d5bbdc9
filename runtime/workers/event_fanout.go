package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"local-language/contract"
	"local-language/domain/event"
)

const DefaultSinkTimeout = 2 * time.Second

var _ contract.Worker = (*EventFanout)(nil)

// EventFanout hands every domain event to each sink, in order.
//
// Delivery is best effort: a sink that fails or exceeds its timeout is
// logged and skipped, the next event still goes out. It serves side
// effects (rendering, cache, search index), the coordinator never waits
// on it.
type EventFanout struct {
	log         *slog.Logger
	events      <-chan event.DomainEvent
	sinks       []contract.EventSink
	sinkTimeout time.Duration
}

func NewEventFanout(log *slog.Logger, events <-chan event.DomainEvent, sinkTimeout time.Duration) *EventFanout {
	if sinkTimeout <= 0 {
		sinkTimeout = DefaultSinkTimeout
	}
	return &EventFanout{log: log.With("component", "fanout"), events: events, sinkTimeout: sinkTimeout}
}

func (w *EventFanout) Add(sinks ...contract.EventSink) *EventFanout {
	w.sinks = append(w.sinks, sinks...)
	return w
}

func (w *EventFanout) Run(ctx context.Context) error {
	for {
		select {
		case e := <-w.events:
			w.Fanout(ctx, e)
		case <-ctx.Done():
			w.log.Debug("Context done, stopping fanout")
			return nil
		}
	}
}

// Fanout One sink after the other, each bounded by the sink timeout
func (w *EventFanout) Fanout(ctx context.Context, e event.DomainEvent) {
	for _, sink := range w.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
		if err := sink.Consume(sinkCtx, e); err != nil {
			w.log.Warn("Sink failed", "sink", fmt.Sprintf("%T", sink), "event", fmt.Sprintf("%T", e), "error", err)
		}
		cancel()
	}
}
