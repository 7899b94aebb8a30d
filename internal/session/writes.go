package session

import (
	"context"
	"errors"
	"time"

	"flowarena/internal/collision"
	"flowarena/internal/record"
	"flowarena/internal/scoreboard"
	"flowarena/internal/store"
	"flowarena/internal/telemetry"
	"flowarena/logging/slots"
	"flowarena/logging/storeops"
)

// async runs a store round trip through the runner. Failures are logged,
// counted and swallowed; none of these writes has a caller to report to.
func (s *Session) async(op string, path store.Path, fn func(ctx context.Context) error) {
	tick := s.frame
	timeout := s.cfg.StoreTimeout
	s.inflight.Add(1)
	s.runner(func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.maintenanceFailed(tick, op, path, err)
		}
	})
}

func (s *Session) maintenanceFailed(tick uint64, op string, path store.Path, err error) {
	s.logger.Printf("session: %s %s: %v", op, path, err)
	s.metrics.Add(telemetry.MetricMaintenanceErrors, 1)
	storeops.MaintenanceFailed(context.Background(), s.pub, tick, s.actor(), storeops.FailurePayload{
		Op:    op,
		Path:  path.String(),
		Error: err.Error(),
	}, nil)
}

func (s *Session) slotPtr() *int {
	if slot, ok := s.slots.Slot(); ok {
		return record.SlotPtr(slot)
	}
	return nil
}

// storeCommitter applies scoring transitions as transactions on the
// player's score and lifetime record.
type storeCommitter struct {
	s *Session
}

func (c storeCommitter) Catch(hit collision.Hit) {
	c.commit(hit, 1, scoreboard.Delta{Catches: 1})
}

func (c storeCommitter) Hazard(hit collision.Hit) {
	c.commit(hit, -1, scoreboard.Delta{Hits: 1})
}

func (c storeCommitter) commit(hit collision.Hit, delta int, lifetime scoreboard.Delta) {
	s := c.s
	id := s.cfg.PlayerID
	lifetime.Slot = s.slotPtr()
	lifetime.Locale = s.cfg.Locale
	lifetime.At = s.clock()
	scorePath := s.playerPath().Child("score")
	s.async("score", scorePath, func(ctx context.Context) error {
		// A missing score means the player record is gone; writing one
		// would resurrect a partial record.
		_, scoreErr := store.TransactJSON(ctx, s.st, scorePath, func(cur *int) (*int, bool) {
			if cur == nil {
				return nil, false
			}
			next := *cur + delta
			if next < 0 {
				next = 0
			}
			return &next, true
		})
		return errors.Join(scoreErr, scoreboard.Record(ctx, s.st, id, lifetime))
	})
}

// flowRetirer tags expired flows and deletes retired ones remotely.
type flowRetirer struct {
	s *Session
}

func (r flowRetirer) Retire(flow record.Flow, expired bool) {
	s := r.s
	path := store.Join(store.Flows, flow.Key)
	if expired {
		s.metrics.Add(telemetry.MetricFlowsExpired, 1)
	}
	s.async("retire", path, func(ctx context.Context) error {
		if expired {
			_, err := store.TransactJSON(ctx, s.st, path, func(cur *record.Flow) (*record.Flow, bool) {
				if cur == nil || cur.Expired {
					return nil, false
				}
				next := *cur
				next.Expired = true
				return &next, true
			})
			if err != nil {
				return err
			}
		}
		return s.st.Delete(ctx, path)
	})
}

// slotWriter persists slot decisions on the player record.
type slotWriter struct {
	s *Session
}

func (w slotWriter) ClaimSlot(slot int, claimedAt time.Time) {
	s := w.s
	path := s.playerPath()
	at := record.Millis(claimedAt)
	fields := map[string]any{
		"colorIndex": slot,
		"active":     true,
		"queued":     false,
		"claimedAt":  at,
		"lastSeen":   at,
	}
	s.async("claim", path, func(ctx context.Context) error {
		return s.st.Update(ctx, path, fields)
	})
}

func (w slotWriter) EnterQueue() {
	s := w.s
	path := s.playerPath()
	fields := map[string]any{
		"colorIndex": nil,
		"active":     false,
		"queued":     true,
	}
	s.async("queue", path, func(ctx context.Context) error {
		return s.st.Update(ctx, path, fields)
	})
}

// slotEvents publishes slot transitions.
type slotEvents struct {
	s *Session
}

func (e slotEvents) SlotClaimed(slot int) {
	slots.SlotClaimed(context.Background(), e.s.pub, e.s.frame, e.s.actor(), slots.SlotPayload{Slot: slot}, nil)
}

func (e slotEvents) SlotQueued() {
	slots.SlotQueued(context.Background(), e.s.pub, e.s.frame, e.s.actor(), nil)
}

func (e slotEvents) SlotLost(slot int) {
	slots.SlotLost(context.Background(), e.s.pub, e.s.frame, e.s.actor(), slots.SlotPayload{Slot: slot}, nil)
}

func (e slotEvents) ClaimAvailable(slot int) {
	slots.ClaimAvailable(context.Background(), e.s.pub, e.s.frame, e.s.actor(), slots.SlotPayload{Slot: slot}, nil)
}
