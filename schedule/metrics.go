package schedule

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// runMetrics periodically logs process and host resource usage so a batch
// daemon left running overnight leaves a trail of what it was consuming.
func (s *Scheduler) runMetrics(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logSystemMetrics()
		}
	}
}

func (s *Scheduler) logSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	fields := []any{
		"goroutines", runtime.NumGoroutine(),
		"heap_alloc_mb", memStats.HeapAlloc / 1024 / 1024,
		"gc_cycles", memStats.NumGC,
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		fields = append(fields, "sys_mem_used_pct", vm.UsedPercent)
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		fields = append(fields, "sys_cpu_pct", percents[0])
	}

	s.logger.Infow("System metrics", fields...)
}
