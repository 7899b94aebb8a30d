package sinks

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"flowarena/logging"
)

type jsonLine struct {
	Type     logging.EventType   `json:"type"`
	Frame    uint64              `json:"frame"`
	Time     string              `json:"time"`
	Severity string              `json:"severity"`
	Category string              `json:"category,omitempty"`
	Actor    logging.EntityRef   `json:"actor"`
	Targets  []logging.EntityRef `json:"targets,omitempty"`
	Payload  any                 `json:"payload,omitempty"`
	Extra    map[string]any      `json:"extra,omitempty"`
}

// JSON emits newline-delimited events. With a positive flush interval output
// is buffered and flushed on a ticker and on Close; otherwise every line is
// flushed as it is written.
type JSON struct {
	mu      sync.Mutex
	buf     *bufio.Writer
	enc     *json.Encoder
	eager   bool
	stop    chan struct{}
	stopped sync.Once
}

func NewJSON(w io.Writer, flushInterval time.Duration) *JSON {
	if w == nil {
		w = io.Discard
	}
	buf := bufio.NewWriter(w)
	s := &JSON{
		buf:   buf,
		enc:   json.NewEncoder(buf),
		eager: flushInterval <= 0,
		stop:  make(chan struct{}),
	}
	if !s.eager {
		go s.flushEvery(flushInterval)
	}
	return s
}

func (s *JSON) Write(event logging.Event) error {
	line := jsonLine{
		Type:     event.Type,
		Frame:    event.Tick,
		Time:     event.Time.UTC().Format(time.RFC3339Nano),
		Severity: event.Severity.String(),
		Category: event.Category,
		Actor:    event.Actor,
		Targets:  event.Targets,
		Payload:  event.Payload,
		Extra:    event.Extra,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(line); err != nil {
		return err
	}
	if s.eager {
		return s.buf.Flush()
	}
	return nil
}

func (s *JSON) Close(context.Context) error {
	s.stopped.Do(func() { close(s.stop) })
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Flush()
}

func (s *JSON) flushEvery(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			_ = s.buf.Flush()
			s.mu.Unlock()
		}
	}
}
