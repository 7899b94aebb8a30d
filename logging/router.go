package logging

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

type NamedSink struct {
	Name string
	Sink Sink
}

// Counter names mirrored into Config.Metrics.
const (
	MetricEventsTotal  = "logging_events_total"
	MetricDroppedTotal = "logging_dropped_total"
	MetricSinkFailures = "logging_sink_failures_total"
)

// Router stamps, filters and decorates published events on one dispatch
// goroutine and hands them to a worker per sink. Publish never blocks: a full
// queue drops the event and counts it. A failing sink cools down and skips
// events until the cooldown expires.
type Router struct {
	clock    Clock
	floor    Severity
	fields   map[string]any
	warnGap  time.Duration
	metrics  *Metrics
	fallback *log.Logger

	queue   chan Event
	workers []*sinkWorker
	quit    chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool

	forwarded atomic.Uint64
	dropped   atomic.Uint64
	nextWarn  atomic.Int64
}

type RouterStats struct {
	EventsTotal  uint64
	DroppedTotal uint64
	Sinks        map[string]SinkStats
}

// SinkStats counts one sink's outcomes. Dropped covers a full sink backlog
// and events skipped while the sink cooled down after a failure.
type SinkStats struct {
	Written  uint64
	Dropped  uint64
	Failures uint64
}

func NewRouter(clock Clock, cfg Config, namedSinks []NamedSink) (*Router, error) {
	if clock == nil {
		clock = ClockFunc(time.Now)
	}
	queueSize := cfg.BufferSize
	if queueSize <= 0 {
		queueSize = 512
	}
	warnGap := cfg.DropWarnInterval
	if warnGap <= 0 {
		warnGap = 5 * time.Second
	}
	r := &Router{
		clock:    clock,
		floor:    cfg.MinimumSeverity,
		fields:   cfg.CloneFields(),
		warnGap:  warnGap,
		metrics:  cfg.Metrics,
		fallback: log.New(os.Stderr, "[logging] ", log.LstdFlags),
		queue:    make(chan Event, queueSize),
		quit:     make(chan struct{}),
	}

	seen := make(map[string]struct{}, len(namedSinks))
	for _, named := range namedSinks {
		if named.Sink == nil {
			continue
		}
		if _, dup := seen[named.Name]; dup {
			return nil, fmt.Errorf("logging: duplicate sink %q", named.Name)
		}
		seen[named.Name] = struct{}{}
		r.workers = append(r.workers, &sinkWorker{
			name:     named.Name,
			sink:     named.Sink,
			events:   make(chan Event, cfg.sinkBuffer(queueSize)),
			router:   r,
			cooldown: cfg.SinkCooldown,
		})
	}

	r.wg.Add(1 + len(r.workers))
	go r.dispatch()
	for _, w := range r.workers {
		go w.run()
	}
	return r, nil
}

func (r *Router) dispatch() {
	defer r.wg.Done()
	defer func() {
		for _, w := range r.workers {
			close(w.events)
		}
	}()
	for {
		select {
		case event := <-r.queue:
			r.forward(event)
		case <-r.quit:
			for {
				select {
				case event := <-r.queue:
					r.forward(event)
				default:
					return
				}
			}
		}
	}
}

func (r *Router) forward(event Event) {
	if event.Severity < r.floor {
		return
	}
	if event.Time.IsZero() {
		event.Time = r.clock.Now()
	}
	if len(r.fields) > 0 {
		event = cloneForFields(event)
		if event.Extra == nil {
			event.Extra = make(map[string]any, len(r.fields))
		}
		for k, v := range r.fields {
			if _, set := event.Extra[k]; !set {
				event.Extra[k] = v
			}
		}
	}
	r.forwarded.Add(1)
	r.metrics.TelemetryAdd(MetricEventsTotal, 1)
	for _, w := range r.workers {
		w.offer(event)
	}
}

// Publish queues an event. Untyped events and events published after Close
// are ignored.
func (r *Router) Publish(_ context.Context, event Event) {
	if event.Type == "" || r.closed.Load() {
		return
	}
	select {
	case r.queue <- event:
	default:
		r.dropped.Add(1)
		r.metrics.TelemetryAdd(MetricDroppedTotal, 1)
		r.warn("queue full, dropping %s", event.Type)
	}
}

// warn writes to the fallback logger at most once per warn interval.
func (r *Router) warn(format string, args ...any) {
	now := time.Now().UnixNano()
	next := r.nextWarn.Load()
	if now < next {
		return
	}
	if r.nextWarn.CompareAndSwap(next, now+r.warnGap.Nanoseconds()) {
		r.fallback.Printf(format, args...)
	}
}

// Close stops dispatch, flushes queued events to the sinks and closes them.
func (r *Router) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(r.quit)
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	var firstErr error
	for _, w := range r.workers {
		if err := w.sink.Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("logging: close sink %s: %w", w.name, err)
		}
	}
	return firstErr
}

func (r *Router) Stats() RouterStats {
	stats := RouterStats{
		EventsTotal:  r.forwarded.Load(),
		DroppedTotal: r.dropped.Load(),
		Sinks:        make(map[string]SinkStats, len(r.workers)),
	}
	for _, w := range r.workers {
		stats.Sinks[w.name] = SinkStats{
			Written:  w.written.Load(),
			Dropped:  w.dropped.Load(),
			Failures: w.failures.Load(),
		}
	}
	return stats
}

func (r *Router) Sink(name string) Sink {
	for _, w := range r.workers {
		if w.name == name {
			return w.sink
		}
	}
	return nil
}

type sinkWorker struct {
	name     string
	sink     Sink
	events   chan Event
	router   *Router
	cooldown time.Duration

	// touched only by run
	streak      int
	resumeAfter time.Time

	written  atomic.Uint64
	dropped  atomic.Uint64
	failures atomic.Uint64
}

func (w *sinkWorker) offer(event Event) {
	select {
	case w.events <- cloneForFields(event):
	default:
		w.dropped.Add(1)
		w.router.warn("sink %s backlog full, dropping %s", w.name, event.Type)
	}
}

func (w *sinkWorker) run() {
	defer w.router.wg.Done()
	for event := range w.events {
		if !w.resumeAfter.IsZero() && time.Now().Before(w.resumeAfter) {
			w.dropped.Add(1)
			continue
		}
		if err := w.sink.Write(event); err != nil {
			w.fail(err)
			continue
		}
		w.written.Add(1)
		w.streak = 0
		w.resumeAfter = time.Time{}
	}
}

// fail doubles the cooldown per consecutive failure, capped at 32 steps.
func (w *sinkWorker) fail(err error) {
	w.failures.Add(1)
	w.router.metrics.TelemetryAdd(MetricSinkFailures, 1)
	w.streak++
	step := w.cooldown
	if step <= 0 {
		step = time.Second
	}
	delay := step << min(w.streak-1, 5)
	w.resumeAfter = time.Now().Add(delay)
	w.router.fallback.Printf("sink %s failed: %v (skipping events for %s)", w.name, err, delay)
}
