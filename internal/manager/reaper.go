package manager

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"npud/internal/hal"
	"npud/pkg/types"
)

// reapLoop runs the periodic sweep: deadline enforcement for running tasks
// and removal of terminal tasks past the retention window.
func (s *Scheduler) reapLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep(time.Now())
		case <-s.stop:
			return
		}
	}
}

// sweep transitions every running task past its deadline to failed-timeout
// and releases its allocation unconditionally, whether or not the driver
// call has returned. Release is idempotent, so the eventual driver return
// finds nothing left to reclaim.
func (s *Scheduler) sweep(now time.Time) {
	var released []*Allocation
	var cancels []context.CancelFunc

	s.mu.Lock()
	for id, t := range s.tasks {
		switch {
		case t.state == types.TaskRunning && now.After(t.deadline):
			t.state = types.TaskFailed
			t.reason = hal.ErrTimeout("deadline exceeded").Error()
			t.finishedAt = now
			s.failed++
			tasksTotal.WithLabelValues(string(types.TaskFailed)).Inc()
			released = append(released, t.alloc)
			if t.cancel != nil {
				cancels = append(cancels, t.cancel)
			}
			s.pub.Publish(Event{Name: "task_timeout", TaskID: t.id})
			log.Info().Str("task", string(t.id)).Str("device", string(t.device.ID())).
				Msg("task deadline elapsed, reclaiming resources")
		case t.state.Terminal() && !t.finishedAt.IsZero() && now.Sub(t.finishedAt) > s.cfg.TaskRetention:
			delete(s.tasks, id)
		}
	}
	s.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	for _, a := range released {
		s.alloc.Release(a)
	}
	if len(released) > 0 {
		s.wake()
	}
}
