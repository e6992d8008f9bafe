package metricsx

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// PollHostStats periodically samples host CPU and memory utilization into
// the HostCPUPercent/HostMemoryPercent gauges, stopping when ctx is
// cancelled. It is a read-only feed the orchestrator exposes alongside its
// own queue/worker gauges — never a scheduler input (spec §9: explicit
// config over reflective auto-tuning).
func (m *Metrics) PollHostStats(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
				m.HostCPUPercent.Set(pcts[0])
			}
			if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
				m.HostMemoryPercent.Set(vm.UsedPercent)
			}
		}
	}
}
