package metrics

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// SystemSampler periodically refreshes the process CPU/memory gauges,
// following the smoothing approach of the teacher's
// internal/metrics.SystemMetrics: an exponential moving average over
// gopsutil samples rather than raw per-tick values.
type SystemSampler struct {
	reg   *Registry
	proc  *process.Process
	mu    sync.Mutex
	ema   float64
	stop  chan struct{}
	done  chan struct{}
}

// NewSystemSampler attaches a sampler to the current process. If gopsutil
// cannot locate the process (exotic sandboxing, missing /proc), cpu
// percentage samples are silently skipped and only goroutine count is
// reported.
func NewSystemSampler(reg *Registry) *SystemSampler {
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &SystemSampler{
		reg:  reg,
		proc: proc,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Run samples on interval until Stop is called. Intended to run in its own
// goroutine for the lifetime of the process.
func (s *SystemSampler) Run(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.sample()
	for {
		select {
		case <-ticker.C:
			s.sample()
		case <-s.stop:
			return
		}
	}
}

// Stop halts sampling and waits for the loop to exit.
func (s *SystemSampler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *SystemSampler) sample() {
	if s.reg != nil {
		s.reg.Goroutines.Set(float64(runtime.NumGoroutine()))
	}
	if s.proc == nil {
		return
	}

	if cpuPercent, err := s.proc.CPUPercent(); err == nil {
		s.mu.Lock()
		if s.ema == 0 {
			s.ema = cpuPercent
		} else {
			const alpha = 0.3
			s.ema = alpha*cpuPercent + (1-alpha)*s.ema
		}
		ema := s.ema
		s.mu.Unlock()
		if s.reg != nil {
			s.reg.ProcessCPUPercent.Set(ema)
		}
	}

	if memInfo, err := s.proc.MemoryInfo(); err == nil && memInfo != nil && s.reg != nil {
		s.reg.ProcessMemoryMB.Set(float64(memInfo.RSS) / 1024 / 1024)
	}
}
