package sched

import (
	"context"
	"log"
	"sync"
	"time"
)

// Job is a unit of scheduled work. A job's error is logged, never
// fatal; the schedule keeps ticking.
type Job func(ctx context.Context) error

// Scheduler runs named jobs on fixed intervals. Jobs fire first after
// one full interval, not at registration time.
type Scheduler struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
	base    context.Context
	stop    context.CancelFunc
}

func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cancels: map[string]context.CancelFunc{},
		base:    ctx,
		stop:    cancel,
	}
}

// RegisterInterval schedules job under name. Re-registering a name
// cancels the previous schedule, so interval changes take effect by
// registering again.
func (s *Scheduler) RegisterInterval(name string, every time.Duration, job Job) {
	if every <= 0 {
		log.Printf("[Sched] %s: non-positive interval, not scheduling", name)
		return
	}

	s.mu.Lock()
	if cancel, ok := s.cancels[name]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(s.base)
	s.cancels[name] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx, name, every, job)
	log.Printf("[Sched] %s: every %s", name, every)
}

// Cancel removes one schedule. Unknown names are a no-op.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.cancels[name]; ok {
		cancel()
		delete(s.cancels, name)
	}
}

// Stop cancels every schedule and waits for in-flight jobs to return.
func (s *Scheduler) Stop() {
	s.stop()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, every time.Duration, job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOne(ctx, name, job)
		}
	}
}

// runOne isolates a single invocation so a panicking job cannot take
// the scheduler down.
func (s *Scheduler) runOne(ctx context.Context, name string, job Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Sched] %s: panic recovered: %v", name, r)
		}
	}()

	start := time.Now()
	if err := job(ctx); err != nil {
		log.Printf("[Sched] %s: %v", name, err)
		return
	}
	log.Printf("[Sched] %s: done in %s", name, time.Since(start).Round(time.Millisecond))
}
