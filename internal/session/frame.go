package session

import (
	"context"
	"fmt"
	"math"
	"time"

	"flowarena/internal/arena"
	"flowarena/internal/collision"
	"flowarena/internal/record"
	"flowarena/internal/slots"
	"flowarena/internal/store"
	"flowarena/internal/telemetry"
	"flowarena/logging"
	presencelog "flowarena/logging/presence"
	"flowarena/logging/scoring"
	"flowarena/logging/storeops"
)

// Frame advances the simulation to now: flows move, expire and evict, the
// local player's arc is tested against them, a throttled move is flushed and
// idleness is checked. Frame never blocks on the store.
func (s *Session) Frame(now time.Time) {
	if s.phase != PhaseRunning {
		return
	}
	s.frame++
	active, evicted := s.cache.Advance(now, s.difficulty.Multiplier())
	if evicted > 0 {
		s.metrics.Add(telemetry.MetricFlowsEvicted, uint64(evicted))
	}
	s.metrics.Store(telemetry.MetricFlowsCached, uint64(s.cache.Len()))

	if player := s.collisionPlayer(); player != nil {
		targets := make([]collision.Target, 0, len(active))
		for _, entry := range active {
			if entry.Expired {
				continue
			}
			targets = append(targets, collision.Target{
				ID:     entry.Flow.ID(),
				Angle:  entry.Flow.Angle,
				Radius: entry.Radius,
				Evil:   entry.Flow.Evil,
				Layer:  entry.Flow.Layer,
			})
		}
		for _, hit := range s.collision.Check(now, player, targets) {
			s.cache.Remove(hit.FlowID, now)
			s.publishHit(hit)
		}
	}

	s.visible = s.visible[:0]
	for _, entry := range active {
		if !s.collision.PendingRemoval(entry.Flow.ID()) {
			s.visible = append(s.visible, entry)
		}
	}

	s.flushMove(now)
	if s.presence.Check(now) {
		s.goIdle(now)
	}
}

// collisionPlayer is the local collision shape. Players without a slot are
// spectators and cannot score.
func (s *Session) collisionPlayer() *collision.Player {
	if s.slots.State() != slots.Assigned {
		return nil
	}
	return &collision.Player{ID: s.cfg.PlayerID, Angle: s.self.Angle, Layer: s.self.Layer}
}

func (s *Session) publishHit(hit collision.Hit) {
	payload := scoring.HitPayload{Angle: hit.Angle, Radius: hit.Radius, Layer: hit.Layer, Delta: 1}
	if hit.Evil {
		payload.Delta = -1
		s.metrics.Add(telemetry.MetricHazardHits, 1)
		scoring.HazardHit(context.Background(), s.pub, s.frame, s.actor(), logging.FlowRef(hit.FlowID), payload, nil)
		return
	}
	s.metrics.Add(telemetry.MetricFlowsCaught, 1)
	scoring.FlowCaught(context.Background(), s.pub, s.frame, s.actor(), logging.FlowRef(hit.FlowID), payload, nil)
}

// Move applies local input. Invalid input is rejected before any store
// call; valid input resets the idle timer only when it changes something.
func (s *Session) Move(angle float64, layer int) error {
	if err := s.usable(); err != nil {
		return err
	}
	if math.IsNaN(angle) || math.IsInf(angle, 0) || !arena.ValidLayer(layer) {
		reason := "non-finite angle"
		if !arena.ValidLayer(layer) {
			reason = "layer out of range"
		}
		presencelog.InputRejected(context.Background(), s.pub, s.frame, s.actor(), presencelog.InputRejectedPayload{
			Reason: reason,
			Angle:  angle,
			Layer:  layer,
		}, nil)
		return fmt.Errorf("%w: %s", ErrInvalidInput, reason)
	}
	angle = arena.NormalizeAngle(angle)
	if angle == s.self.Angle && layer == s.self.Layer {
		return nil
	}
	now := s.clock()
	s.self.Angle = angle
	s.self.Layer = layer
	s.presence.NoteInput(now)
	s.moveDirty = true
	s.flushMove(now)
	return nil
}

// flushMove writes the latest position at most once per throttle window.
func (s *Session) flushMove(now time.Time) {
	if !s.moveDirty || now.Sub(s.lastMoveWrite) < s.cfg.MoveThrottle {
		return
	}
	s.moveDirty = false
	s.lastMoveWrite = now
	fields := map[string]any{
		"angle":    s.self.Angle,
		"layer":    s.self.Layer,
		"lastSeen": record.Millis(now),
	}
	path := s.playerPath()
	s.async("move", path, func(ctx context.Context) error {
		return s.st.Update(ctx, path, fields)
	})
}

// SetFocus records window focus. It is informational and never counts as input.
func (s *Session) SetFocus(focused bool) {
	if s.presence == nil || !s.presence.SetFocus(focused) {
		return
	}
	s.publishFocus()
}

// SetVisible records page visibility. Informational like SetFocus.
func (s *Session) SetVisible(visible bool) {
	if s.presence == nil || !s.presence.SetVisible(visible) {
		return
	}
	s.publishFocus()
}

func (s *Session) publishFocus() {
	presencelog.FocusChanged(context.Background(), s.pub, s.frame, s.actor(), presencelog.FocusPayload{
		Focused: s.presence.Focused(),
		Visible: s.presence.Visible(),
	}, nil)
}

func (s *Session) publishIdle(now time.Time) {
	presencelog.WentIdle(context.Background(), s.pub, s.frame, s.actor(), presencelog.IdlePayload{
		IdleForMillis: s.presence.IdleFor(now).Milliseconds(),
	}, nil)
}

func (s *Session) onPlayers(snap store.Snapshot) {
	if s.phase != PhaseRunning {
		return
	}
	players, rejected := record.Players(snap)
	for _, r := range rejected {
		s.reject(store.Join(store.Players, r.Key), r.Err)
	}
	s.players = players
	present := false
	for _, p := range players {
		if p.ID == s.cfg.PlayerID {
			present = true
			s.self.Score = p.Score
			s.self.LastSeen = p.LastSeen
		}
	}
	now := s.clock()
	if present {
		s.restoring = false
	} else {
		s.restoreSelf(now)
	}
	freshness := s.cfg.Presence.Freshness
	s.slots.Observe(now, players, func(p record.Player) bool {
		return freshness <= 0 || s.isOnline(p, now)
	})
}

// restoreSelf rewrites the local player after its record was deleted or
// replaced by an unreadable one, keeping the last known score and slot.
func (s *Session) restoreSelf(now time.Time) {
	if s.restoring {
		return
	}
	s.restoring = true
	p := s.Self()
	p.LastSeen = record.Millis(now)
	p.Queued = s.slots.State() == slots.Queued
	p.ClaimedAt = s.slots.ClaimedAt()
	path := s.playerPath()
	s.async("restore", path, func(ctx context.Context) error {
		return s.st.Write(ctx, path, p)
	})
}

func (s *Session) onFlows(snap store.Snapshot) {
	if s.phase != PhaseRunning {
		return
	}
	flows, rejected := record.Flows(snap)
	for _, r := range rejected {
		s.reject(store.Join(store.Flows, r.Key), r.Err)
	}
	s.cache.Merge(flows, s.clock(), s.difficulty.Multiplier())
}

// reject reports a dropped record once per path.
func (s *Session) reject(path store.Path, err error) {
	if _, seen := s.rejected[path]; seen {
		return
	}
	s.rejected[path] = struct{}{}
	s.metrics.Add(telemetry.MetricRecordsRejected, 1)
	storeops.RecordRejected(context.Background(), s.pub, s.frame, s.actor(), storeops.RejectPayload{
		Path:   path.String(),
		Reason: err.Error(),
	}, nil)
}
