package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"

	"flowarena/logging"
)

// ConsoleSink renders one human-readable line per event:
//
//	WARN  gameplay scoring.hazard_hit frame=412 player:p1 -> flow:k9 {"score":3} room=r1
type ConsoleSink struct {
	logger *log.Logger
}

func NewConsoleSink(w io.Writer) *ConsoleSink {
	if w == nil {
		w = io.Discard
	}
	return &ConsoleSink{logger: log.New(w, "", log.LstdFlags)}
}

func (s *ConsoleSink) Write(event logging.Event) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%-5s %s %s frame=%d %s",
		strings.ToUpper(event.Severity.String()), orDash(event.Category), event.Type, event.Tick, entity(event.Actor))
	if len(event.Targets) > 0 {
		refs := make([]string, len(event.Targets))
		for i, t := range event.Targets {
			refs[i] = entity(t)
		}
		b.WriteString(" -> ")
		b.WriteString(strings.Join(refs, ","))
	}
	if event.Payload != nil {
		if data, err := json.Marshal(event.Payload); err == nil {
			b.WriteByte(' ')
			b.Write(data)
		} else {
			fmt.Fprintf(&b, " %+v", event.Payload)
		}
	}
	if len(event.Extra) > 0 {
		keys := make([]string, 0, len(event.Extra))
		for k := range event.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, event.Extra[k])
		}
	}
	s.logger.Print(b.String())
	return nil
}

func (s *ConsoleSink) Close(context.Context) error {
	return nil
}

func entity(ref logging.EntityRef) string {
	switch {
	case ref.ID == "" && ref.Kind == "":
		return "-"
	case ref.ID == "":
		return string(ref.Kind)
	case ref.Kind == "":
		return ref.ID
	}
	return string(ref.Kind) + ":" + ref.ID
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
