// Package procstats periodically samples resource usage (RSS, CPU%) of
// supervised child processes via gopsutil, for surfacing through stk-servers.
package procstats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Sample is one resource reading for a single instance.
type Sample struct {
	RSSBytes   uint64
	CPUPercent float64
	SampledAt  time.Time
}

const ringSize = 32

// ring is a small fixed-capacity circular buffer of samples, newest last.
type ring struct {
	mu     sync.Mutex
	buf    [ringSize]Sample
	count  int
	cursor int
}

func (r *ring) push(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.cursor] = s
	r.cursor = (r.cursor + 1) % ringSize
	if r.count < ringSize {
		r.count++
	}
}

// latest returns the most recently pushed sample and whether one exists.
func (r *ring) latest() (Sample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return Sample{}, false
	}
	idx := (r.cursor - 1 + ringSize) % ringSize
	return r.buf[idx], true
}

// history returns up to ringSize samples, oldest first.
func (r *ring) history() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sample, 0, r.count)
	start := (r.cursor - r.count + ringSize) % ringSize
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%ringSize])
	}
	return out
}

// Sampler periodically samples one OS process's resource usage.
type Sampler struct {
	interval time.Duration
	rings    sync.Map // map[string]*ring, keyed by instance name
}

// NewSampler returns a Sampler that samples every interval.
func NewSampler(interval time.Duration) *Sampler {
	return &Sampler{interval: interval}
}

// Watch samples pid under name until ctx is done or the process can no
// longer be sampled (it already exited). Sampling failures are swallowed —
// a gone process simply stops producing samples, it never fails the
// supervisor.
func (s *Sampler) Watch(ctx context.Context, name string, pid int32) {
	r := &ring{}
	s.rings.Store(name, r)

	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		slog.Debug("procstats: cannot attach to process", "name", name, "pid", pid, "err", err)
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample, err := sampleOnce(ctx, proc)
			if err != nil {
				return // process is gone; the instance's own exit handler notices separately
			}
			r.push(sample)
		}
	}
}

func sampleOnce(ctx context.Context, proc *process.Process) (Sample, error) {
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return Sample{}, err
	}
	cpu, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		return Sample{}, err
	}
	return Sample{RSSBytes: mem.RSS, CPUPercent: cpu, SampledAt: time.Now()}, nil
}

// Latest returns the most recent sample for name, if any has been taken.
func (s *Sampler) Latest(name string) (Sample, bool) {
	v, ok := s.rings.Load(name)
	if !ok {
		return Sample{}, false
	}
	return v.(*ring).latest()
}

// History returns the retained samples for name, oldest first.
func (s *Sampler) History(name string) []Sample {
	v, ok := s.rings.Load(name)
	if !ok {
		return nil
	}
	return v.(*ring).history()
}
