package metrics

import (
	"context"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"fnobot/logger"
)

var (
	systemCPUPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fnobot_system_cpu_percent",
		Help: "主机 CPU 使用率",
	})
	systemMemPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fnobot_system_memory_percent",
		Help: "主机内存使用率",
	})
	processMemBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fnobot_process_memory_bytes",
		Help: "进程常驻内存",
	})
)

// SystemCollector 周期采集主机与进程资源占用
type SystemCollector struct {
	interval time.Duration
	proc     *process.Process
}

// NewSystemCollector 创建资源采集器
func NewSystemCollector(interval time.Duration) *SystemCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn("⚠️ 进程资源采集不可用: %v", err)
	}
	return &SystemCollector{interval: interval, proc: proc}
}

// Run 阻塞采集直到 ctx 取消，调用方负责起 goroutine
func (c *SystemCollector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

func (c *SystemCollector) collect() {
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		systemCPUPercent.Set(percents[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		systemMemPercent.Set(vm.UsedPercent)
	}
	if c.proc != nil {
		if info, err := c.proc.MemoryInfo(); err == nil {
			processMemBytes.Set(float64(info.RSS))
		}
	}
}
