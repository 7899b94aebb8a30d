package session

import (
	"context"
	"time"
)

// post queues fn for the loop. Work posted after teardown is dropped.
func (s *Session) post(fn func()) {
	s.mu.Lock()
	if s.sealed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, fn)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Do runs fn on the session loop. It is the only method safe to call from
// other goroutines.
func (s *Session) Do(fn func()) {
	s.post(fn)
}

// drain runs queued work until the inbox is empty, including work queued
// by the work itself.
func (s *Session) drain() int {
	ran := 0
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()
		if len(batch) == 0 {
			return ran
		}
		for _, fn := range batch {
			fn()
			ran++
		}
	}
}

// Step is one loop iteration at now: pending inbox work, due tasks, one
// frame, then whatever the frame queued.
func (s *Session) Step(now time.Time) {
	s.drain()
	if s.phase != PhaseRunning {
		return
	}
	s.sched.Advance(now)
	s.Frame(now)
	s.drain()
}

// Run drives the session from a frame ticker and the inbox until ctx is
// done, the session goes idle or it is stopped. Cancelling ctx stops the
// session. Run returns ErrIdle after an idle teardown.
func (s *Session) Run(ctx context.Context) error {
	if s.phase == PhaseCreated {
		return ErrNoPlayer
	}
	ticker := time.NewTicker(s.cfg.FrameInterval)
	defer ticker.Stop()
	for {
		switch s.phase {
		case PhaseIdle:
			return ErrIdle
		case PhaseStopped:
			return nil
		}
		select {
		case <-ctx.Done():
			return s.Stop("shutdown")
		case <-s.wake:
			s.drain()
		case <-ticker.C:
			s.Step(s.clock())
		}
	}
}
