package sysload

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/procfs"
)

// Metrics: снимок ресурсов машины. Temperature равна 0, если датчик недоступен.
type Metrics struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	LoadAverage   float64 `json:"load_average"`
	Temperature   float64 `json:"temperature"`
}

// Sampler снимает показатели системы.
type Sampler interface {
	Sample(ctx context.Context) (Metrics, error)
}

// ProcSampler читает /proc. CPU считается по разнице с предыдущим снимком, температуру не снимает.
type ProcSampler struct {
	proc    procfs.FS
	mu      sync.Mutex
	prevCPU *procfs.CPUStat
}

// NewProcSampler открывает procfs по умолчанию.
func NewProcSampler() (*ProcSampler, error) {
	proc, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	return &ProcSampler{proc: proc}, nil
}

func (s *ProcSampler) Sample(ctx context.Context) (Metrics, error) {
	if err := ctx.Err(); err != nil {
		return Metrics{}, err
	}

	stat, err := s.proc.Stat()
	if err != nil {
		return Metrics{}, fmt.Errorf("read stat: %w", err)
	}
	cpu := stat.CPUTotal

	s.mu.Lock()
	prev := s.prevCPU
	s.prevCPU = &cpu
	s.mu.Unlock()

	meminfo, err := s.proc.Meminfo()
	if err != nil {
		return Metrics{}, fmt.Errorf("read meminfo: %w", err)
	}
	loadavg, err := s.proc.LoadAvg()
	if err != nil {
		return Metrics{}, fmt.Errorf("read loadavg: %w", err)
	}

	return Metrics{
		CPUPercent:    cpuPercent(prev, cpu),
		MemoryPercent: memoryPercent(meminfo),
		LoadAverage:   loadavg.Load1,
	}, nil
}

func cpuTimes(c procfs.CPUStat) (busy, total float64) {
	idle := c.Idle + c.Iowait
	busy = c.User + c.Nice + c.System + c.IRQ + c.SoftIRQ + c.Steal
	return busy, busy + idle
}

// cpuPercent без предыдущего снимка считает среднюю загрузку с момента старта.
func cpuPercent(prev *procfs.CPUStat, cur procfs.CPUStat) float64 {
	busy, total := cpuTimes(cur)
	if prev != nil {
		prevBusy, prevTotal := cpuTimes(*prev)
		if total > prevTotal {
			busy -= prevBusy
			total -= prevTotal
		}
	}
	if total <= 0 {
		return 0
	}
	return clampPercent(busy / total * 100)
}

func memoryPercent(m procfs.Meminfo) float64 {
	if m.MemTotal == nil || *m.MemTotal == 0 {
		return 0
	}
	var available uint64
	switch {
	case m.MemAvailable != nil:
		available = *m.MemAvailable
	case m.MemFree != nil:
		available = *m.MemFree
	}
	return memoryPercentFor(*m.MemTotal, available)
}

func memoryPercentFor(total, available uint64) float64 {
	if total == 0 {
		return 0
	}
	if available > total {
		available = total
	}
	return clampPercent(float64(total-available) / float64(total) * 100)
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
