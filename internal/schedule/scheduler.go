// Package schedule runs interval and one-shot tasks cooperatively from the
// owner's loop. Nothing here spawns goroutines; Advance is called with the
// current time and runs whatever has come due.
package schedule

import (
	"sort"
	"time"
)

type entry struct {
	name     string
	interval time.Duration
	next     time.Time
	fn       func(now time.Time)
	seq      uint64
}

// Scheduler is not safe for concurrent use; it belongs to one loop.
type Scheduler struct {
	entries []*entry
	seq     uint64
	stopped bool
}

func New() *Scheduler {
	return &Scheduler{}
}

// Every registers fn to run each interval, first at start+interval. A task
// that falls behind runs once and resumes one interval after the late run.
func (s *Scheduler) Every(name string, interval time.Duration, start time.Time, fn func(now time.Time)) {
	if s.stopped || interval <= 0 || fn == nil {
		return
	}
	s.Cancel(name)
	s.seq++
	s.entries = append(s.entries, &entry{name: name, interval: interval, next: start.Add(interval), fn: fn, seq: s.seq})
}

// At registers fn to run once at or after at.
func (s *Scheduler) At(at time.Time, fn func(now time.Time)) {
	if s.stopped || fn == nil {
		return
	}
	s.seq++
	s.entries = append(s.entries, &entry{next: at, fn: fn, seq: s.seq})
}

// Cancel removes the named interval task.
func (s *Scheduler) Cancel(name string) {
	if name == "" {
		return
	}
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.name != name {
			kept = append(kept, e)
		}
	}
	s.entries = kept
}

// Stop drops every task; later registrations are ignored.
func (s *Scheduler) Stop() {
	s.stopped = true
	s.entries = nil
}

// Stopped reports whether Stop was called.
func (s *Scheduler) Stopped() bool {
	return s.stopped
}

// Len counts pending tasks.
func (s *Scheduler) Len() int {
	return len(s.entries)
}

// Has reports whether the named interval task is registered.
func (s *Scheduler) Has(name string) bool {
	for _, e := range s.entries {
		if e.name == name {
			return true
		}
	}
	return false
}

// Advance runs every task due at now, earliest first, and returns how many ran.
func (s *Scheduler) Advance(now time.Time) int {
	ran := 0
	for !s.stopped {
		due := s.popDue(now)
		if due == nil {
			break
		}
		due.fn(now)
		ran++
		if due.interval > 0 && !s.stopped {
			due.next = due.next.Add(due.interval)
			if !due.next.After(now) {
				due.next = now.Add(due.interval)
			}
			s.entries = append(s.entries, due)
		}
	}
	return ran
}

func (s *Scheduler) popDue(now time.Time) *entry {
	if len(s.entries) == 0 {
		return nil
	}
	sort.SliceStable(s.entries, func(i, j int) bool {
		if s.entries[i].next.Equal(s.entries[j].next) {
			return s.entries[i].seq < s.entries[j].seq
		}
		return s.entries[i].next.Before(s.entries[j].next)
	})
	first := s.entries[0]
	if first.next.After(now) {
		return nil
	}
	s.entries = s.entries[1:]
	return first
}
