package session

import (
	"context"
	"time"

	"flowarena/internal/presence"
	"flowarena/internal/record"
	"flowarena/internal/scoreboard"
	"flowarena/internal/spawn"
	"flowarena/internal/store"
	"flowarena/internal/telemetry"
	"flowarena/logging/lifecycle"
	spawnlog "flowarena/logging/spawn"
)

const (
	taskSpawn      = "spawn"
	taskHazard     = "hazard"
	taskHeartbeat  = "heartbeat"
	taskDifficulty = "difficulty"
	taskIdle       = "idle"
	taskScoreboard = "scoreboard"
	taskCleanup    = "cleanup"
)

func (s *Session) registerTasks(now time.Time) {
	s.sched.Every(taskSpawn, s.cfg.Spawn.Interval, now, func(at time.Time) {
		s.spawnTick(spawn.KindBenign, at)
	})
	s.sched.Every(taskHazard, s.cfg.Spawn.HazardInterval, now, func(at time.Time) {
		if s.spawner.HazardAllowed(s.difficulty.Level()) {
			s.spawnTick(spawn.KindHazard, at)
		}
	})
	s.sched.Every(taskHeartbeat, s.cfg.Presence.Heartbeat, now, s.heartbeat)
	s.sched.Every(taskDifficulty, s.cfg.TaskInterval, now, s.difficultyTick)
	s.sched.Every(taskIdle, s.cfg.TaskInterval, now, func(at time.Time) {
		if s.presence.Check(at) {
			s.goIdle(at)
		}
	})
	s.sched.Every(taskScoreboard, s.cfg.TaskInterval, now, s.refreshScoreboard)
	s.sched.Every(taskCleanup, s.cfg.CleanupInterval, now, s.cleanup)
}

func (s *Session) isOnline(p record.Player, now time.Time) bool {
	return presence.Online(p, now, s.cfg.Presence.Freshness)
}

func (s *Session) freshPlayers(now time.Time) int {
	return presence.CountFresh(s.players, now, s.cfg.Presence.Freshness)
}

// spawnTick sizes a burst and races for the gate in the background. The
// result re-enters the loop through the inbox.
func (s *Session) spawnTick(kind spawn.Kind, now time.Time) {
	fresh := s.freshPlayers(now)
	count := s.spawner.BurstSize(kind, fresh)
	if count == 0 {
		spawnlog.BurstSkipped(context.Background(), s.pub, s.frame, s.actor(), spawnlog.SkipPayload{Kind: string(kind), Reason: "no fresh players"}, nil)
		return
	}
	timeout := s.cfg.StoreTimeout
	s.inflight.Add(1)
	s.runner(func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		granted, err := s.spawner.Acquire(ctx, s.st, kind, now)
		s.post(func() { s.onGate(kind, count, fresh, granted, err) })
	})
}

func (s *Session) onGate(kind spawn.Kind, count, fresh int, granted bool, err error) {
	if s.phase != PhaseRunning {
		return
	}
	if err != nil {
		s.maintenanceFailed(s.frame, "spawn-gate", spawn.GatePath(kind), err)
		return
	}
	if !granted {
		s.metrics.Add(telemetry.MetricSpawnGateLost, 1)
		spawnlog.BurstSkipped(context.Background(), s.pub, s.frame, s.actor(), spawnlog.SkipPayload{Kind: string(kind), Reason: "gate held"}, nil)
		return
	}
	spawnlog.BurstGranted(context.Background(), s.pub, s.frame, s.actor(), spawnlog.BurstPayload{Kind: string(kind), Count: count, FreshPlayers: fresh}, nil)
	for _, planned := range s.spawner.Plan(kind, s.clock(), count) {
		flow := planned.Flow
		s.sched.At(planned.At, func(time.Time) { s.emit(flow) })
	}
}

func (s *Session) emit(flow record.Flow) {
	s.async("spawn", store.Join(store.Flows), func(ctx context.Context) error {
		if _, err := spawn.Emit(ctx, s.st, flow); err != nil {
			return err
		}
		s.metrics.Add(telemetry.MetricFlowsSpawned, 1)
		return nil
	})
}

func (s *Session) heartbeat(now time.Time) {
	path := s.playerPath()
	fields := map[string]any{"lastSeen": record.Millis(now)}
	s.async("heartbeat", path, func(ctx context.Context) error {
		return s.st.Update(ctx, path, fields)
	})
}

func (s *Session) difficultyTick(now time.Time) {
	change := s.difficulty.Tick(now, s.freshPlayers(now) > 0)
	if change.RolledOver {
		s.collision.Reset()
		s.sessionStart = s.difficulty.Epoch()
		lifecycle.RolledOver(context.Background(), s.pub, s.frame, s.actor(), lifecycle.RolloverPayload{
			EpochMillis: record.Millis(s.sessionStart),
		}, nil)
	}
	if change.LevelChanged {
		lifecycle.LevelChanged(context.Background(), s.pub, s.frame, s.actor(), lifecycle.LevelPayload{
			Level:      change.Level,
			Multiplier: s.difficulty.Multiplier(),
		}, nil)
	}
}

func (s *Session) refreshScoreboard(now time.Time) {
	s.board = scoreboard.Live(s.players, s.sessionStart, now, s.cfg.Presence.Freshness)
}

// cleanup forgets old local bookkeeping and prunes stale shared records.
func (s *Session) cleanup(now time.Time) {
	s.collision.CollectGarbage(now)
	s.cache.Collect(now)
	s.rejected = make(map[store.Path]struct{})
	cfg := s.cfg.Prune
	s.async("cleanup", store.Join(store.Players), func(ctx context.Context) error {
		report, err := scoreboard.PruneStale(ctx, s.st, now, cfg)
		if report.PlayersArchived+report.PlayersInvalid+report.FlowsDeleted > 0 {
			s.logger.Printf("session: cleanup archived %d players, dropped %d invalid players, deleted %d flows",
				report.PlayersArchived, report.PlayersInvalid, report.FlowsDeleted)
		}
		return err
	})
}
