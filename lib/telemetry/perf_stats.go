package telemetry

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"go.opentelemetry.io/otel"
)

var meter = otel.Meter("go.perf_stats")

var (
	cpuGauge, _       = meter.Float64Gauge("cpu_usage")
	memoryGauge, _    = meter.Int64Gauge("allocated_mb")
	goroutineGauge, _ = meter.Int64Gauge("goroutine_count")
)

const perfStatsInterval = time.Second * 30

// InstrumentPerfStats samples process-level stats until ctx is cancelled.
func InstrumentPerfStats(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(perfStatsInterval)
		defer ticker.Stop()

		var memStats runtime.MemStats
		for {
			select {
			case <-ticker.C:
				runtime.ReadMemStats(&memStats)
				memoryGauge.Record(ctx, int64(memStats.Alloc/1_000_000))
				goroutineGauge.Record(ctx, int64(runtime.NumGoroutine()))

				cpuUsage, err := cpu.Percent(time.Minute, false)
				if err != nil {
					slog.Warn("failed to read cpu usage", "err", err)
					continue
				}
				cpuGauge.Record(ctx, cpuUsage[0])
			case <-ctx.Done():
				return
			}
		}
	}()
}
