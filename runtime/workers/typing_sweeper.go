package workers

import (
	"context"
	"log/slog"
	"time"
)

// TypingSweeper periodically expires remote typing entries, so a lost
// typing=false still clears the indicator.
type TypingSweeper struct {
	log      *slog.Logger
	sweep    func()
	interval time.Duration
}

func NewTypingSweeper(log *slog.Logger, sweep func(), interval time.Duration) *TypingSweeper {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &TypingSweeper{log: log, sweep: sweep, interval: interval}
}

func (w *TypingSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping typing sweep")
			return nil
		case <-ticker.C:
			w.sweep()
		}
	}
}
