package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aionmeter/aionmeter/internal/util"
)

// Pruner trims a store to its retention limit.
type Pruner interface {
	Prune() (int64, error)
}

// DiagnosticsPruneTask keeps the decode failure journal at its retention size.
func DiagnosticsPruneTask(store Pruner, interval time.Duration) Task {
	return Task{
		Name:       "diagnostics_prune",
		Interval:   interval,
		RunAtStart: true,
		Run: func(ctx context.Context) error {
			removed, err := store.Prune()
			if err != nil {
				return fmt.Errorf("failed to prune diagnostics: %w", err)
			}
			if removed > 0 {
				log.Info().Int64("removed", removed).Msg("diagnostics journal pruned")
			}
			return nil
		},
	}
}

// ProcessUsageTask logs the meter's own CPU and memory footprint.
func ProcessUsageTask(interval time.Duration) Task {
	return Task{
		Name:     "process_usage",
		Interval: interval,
		Run: func(ctx context.Context) error {
			usage, err := util.GetProcessUsage()
			if err != nil {
				return err
			}
			log.Info().
				Float64("cpu_percent", usage.CPUPercent).
				Uint64("rss_mb", usage.RSSMB).
				Int("goroutines", usage.Goroutines).
				Msg("process usage")
			return nil
		},
	}
}
