// Package sweep runs the periodic lifecycle tasks: reminders, strike and
// cutoff accounting, review escalation, appeal expiry, completion, and
// archival. Tasks are independent; one failing or running long never blocks
// the others.
package sweep

import (
	"context"
	"log"
	"runtime/debug"
	"sync"
	"time"
)

// Task is one named sweep pass. Run must be idempotent: ticks can overlap
// restarts and every write it performs is guarded by a conditional update or
// a sent marker.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

type Scheduler struct {
	interval time.Duration
	tasks    []*taskState
}

type taskState struct {
	Task
	mu sync.Mutex // single-flight per task
}

func NewScheduler(interval time.Duration, tasks ...Task) *Scheduler {
	s := &Scheduler{interval: interval}
	for _, t := range tasks {
		s.tasks = append(s.tasks, &taskState{Task: t})
	}
	return s
}

// Start launches one goroutine per task and returns. Each task fires once
// immediately, then on every interval tick until ctx is canceled. A tick that
// arrives while the previous run of the same task is still going is skipped.
func (s *Scheduler) Start(ctx context.Context, wg *sync.WaitGroup) {
	for _, t := range s.tasks {
		wg.Add(1)
		go func(t *taskState) {
			defer wg.Done()
			s.runOnce(ctx, t)
			ticker := time.NewTicker(s.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.runOnce(ctx, t)
				}
			}
		}(t)
	}
}

func (s *Scheduler) runOnce(ctx context.Context, t *taskState) {
	if !t.mu.TryLock() {
		log.Printf("sweep task=%s skipped=still_running", t.Name)
		return
	}
	defer t.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("sweep task=%s panic=%v\n%s", t.Name, r, debug.Stack())
		}
	}()
	start := time.Now()
	if err := t.Run(ctx); err != nil {
		log.Printf("sweep task=%s error=%q elapsed=%s", t.Name, err, time.Since(start).Round(time.Millisecond))
		return
	}
	log.Printf("sweep task=%s ok elapsed=%s", t.Name, time.Since(start).Round(time.Millisecond))
}
