package notify

import (
	"context"
	"time"

	"github.com/rewired-gh/dipwatch/internal/logger"
	"github.com/rewired-gh/dipwatch/internal/models"
)

// Reporter renders one stats snapshot. It must not mutate the view.
type Reporter interface {
	Report(ctx context.Context, view models.StatsView) error
}

// LogReporter logs the aggregate counts of a snapshot.
type LogReporter struct {
	log *logger.Logger
}

func NewLogReporter(log *logger.Logger) *LogReporter {
	return &LogReporter{log: log.Component("stats")}
}

func (r *LogReporter) Report(_ context.Context, view models.StatsView) error {
	r.log.Info("Stats: %d pairs total, %d with data, %d active, threshold %.2f%%, uptime %s",
		view.TotalSymbols, view.SymbolsWithData, view.ActiveSymbols,
		view.ThresholdPercent, logger.Duration(view.Uptime))
	return nil
}

// RunReporters hands a fresh snapshot to every reporter each interval until ctx is cancelled.
func RunReporters(ctx context.Context, interval time.Duration, snapshot func() models.StatsView, log *logger.Logger, reporters ...Reporter) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			view := snapshot()
			for _, r := range reporters {
				if err := r.Report(ctx, view); err != nil {
					log.Warn("Stats report failed: %v", err)
				}
			}
		}
	}
}
