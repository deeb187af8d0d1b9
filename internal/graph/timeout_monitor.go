package graph

import (
	"log/slog"
	"time"

	"github.com/cysecmato/cysecmato/internal/metrics"
)

// timeoutMonitor logs queries that fail or get close to their operation
// timeout, so a slow catalog shows up before it starts timing out.
type timeoutMonitor struct {
	logger       *slog.Logger
	warningRatio float64
}

func newTimeoutMonitor(logger *slog.Logger) *timeoutMonitor {
	return &timeoutMonitor{logger: logger, warningRatio: 0.8}
}

// observe classifies one finished query. It returns the level it logged at,
// which keeps the thresholds testable without capturing log output.
func (tm *timeoutMonitor) observe(operation string, records int, duration time.Duration, err error) slog.Level {
	metrics.GraphQueries.WithLabelValues(operation, metrics.Outcome(err)).Observe(duration.Seconds())
	timeout := GetConfigForOperation(operation).Timeout
	attrs := []any{
		"operation", operation,
		"duration_ms", duration.Milliseconds(),
		"timeout_seconds", timeout.Seconds(),
	}

	switch {
	case err != nil && duration >= timeout:
		tm.logger.Error("query timed out", append(attrs, "error", err)...)
		return slog.LevelError
	case err != nil:
		tm.logger.Warn("query failed", append(attrs, "error", err)...)
		return slog.LevelWarn
	case timeout > 0 && duration >= time.Duration(float64(timeout)*tm.warningRatio):
		tm.logger.Warn("query approaching timeout",
			append(attrs, "records", records, "percent_used", duration.Seconds()/timeout.Seconds()*100)...)
		return slog.LevelWarn
	default:
		tm.logger.Debug("query completed", append(attrs, "records", records)...)
		return slog.LevelDebug
	}
}
