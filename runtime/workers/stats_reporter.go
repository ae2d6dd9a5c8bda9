package workers

import (
	"context"
	"file-relay/observability"
	"log/slog"
	"time"
)

type QueueStats interface {
	Stats() (backlog int, workers int)
}

// StatsReporterWorker periodically logs process CPU/memory next to the dispatch queue load.
type StatsReporterWorker struct {
	log      *slog.Logger
	queue    QueueStats
	interval time.Duration
	sample   func() (observability.ProcessStats, error)
}

func NewStatsReporterWorker(log *slog.Logger, queue QueueStats, interval time.Duration) *StatsReporterWorker {
	return &StatsReporterWorker{
		log:      log,
		queue:    queue,
		interval: interval,
		sample:   observability.CurrentProcessStats,
	}
}

func (w *StatsReporterWorker) Run(ctx context.Context) error {
	w.log.Info("Starting stats reporter worker", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.report()
		}
	}
}

func (w *StatsReporterWorker) report() {
	backlog, workers := w.queue.Stats()
	stats, err := w.sample()
	if err != nil {
		w.log.Debug("Unable to sample process stats", "error", err)
		w.log.Info("Relay stats", "backlog", backlog, "workers", workers)
		return
	}
	attrs := append([]any{"backlog", backlog, "workers", workers}, stats.LogAttrs()...)
	w.log.Info("Relay stats", attrs...)
}
