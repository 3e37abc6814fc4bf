package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Clock returns the current time in unix milliseconds. Tests substitute a
// fixed clock; everything time-dependent in the engine goes through it.
type Clock func() int64

func SystemClock() int64 { return time.Now().UnixMilli() }

type schedJob struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
	inFlight atomic.Bool
}

// Scheduler fires named jobs on fixed intervals, one goroutine per job. A
// firing is skipped when the previous run of the same job is still going, so
// a slow fetch or flush never stacks up behind itself.
type Scheduler struct {
	log  *zap.Logger
	jobs []*schedJob
}

func NewScheduler(log *zap.Logger) *Scheduler {
	return &Scheduler{log: log}
}

func (s *Scheduler) Register(name string, interval time.Duration, fn func(ctx context.Context)) {
	if interval <= 0 {
		return
	}
	s.jobs = append(s.jobs, &schedJob{name: name, interval: interval, fn: fn})
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		wg.Add(1)
		go func(job *schedJob) {
			defer wg.Done()
			s.runJob(ctx, job)
		}(job)
	}
	wg.Wait()
}

func (s *Scheduler) runJob(ctx context.Context, job *schedJob) {
	ticker := time.NewTicker(job.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !job.inFlight.CompareAndSwap(false, true) {
				s.log.Warn("job still running, skipping", zap.String("job", job.name))
				continue
			}
			go func() {
				defer job.inFlight.Store(false)
				job.fn(ctx)
			}()
		}
	}
}
