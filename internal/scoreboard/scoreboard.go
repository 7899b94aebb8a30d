// Package scoreboard derives the live session ranking and maintains the
// lifetime highscore collection.
package scoreboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"flowarena/internal/arena"
	"flowarena/internal/record"
	"flowarena/internal/store"
)

// Row is one line of the live scoreboard.
type Row struct {
	ID     string
	Score  int
	Slot   *int
	Online bool
	Locale string
}

// Live ranks players seen since sessionStart by score, then id.
func Live(players []record.Player, sessionStart, now time.Time, freshness time.Duration) []Row {
	since := record.Millis(sessionStart)
	rows := make([]Row, 0, len(players))
	for _, p := range players {
		if p.LastSeen < since {
			continue
		}
		rows = append(rows, Row{
			ID:     p.ID,
			Score:  p.Score,
			Slot:   p.ColorIndex,
			Online: p.LastSeen > 0 && now.Sub(record.FromMillis(p.LastSeen)) <= freshness,
			Locale: p.Locale,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		return rows[i].ID < rows[j].ID
	})
	return rows
}

// TopHighscores reads the best lifetime records, most catches first.
func TopHighscores(ctx context.Context, st store.Store, limit int) ([]record.Highscore, error) {
	snap, err := st.ReadOnce(ctx, store.Join(store.Highscores), store.Query{OrderBy: "catches", LimitToLast: limit})
	if err != nil {
		return nil, fmt.Errorf("scoreboard: read highscores: %w", err)
	}
	scores, _ := record.Highscores(snap)
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Catches != scores[j].Catches {
			return scores[i].Catches > scores[j].Catches
		}
		return scores[i].ID < scores[j].ID
	})
	return scores, nil
}

// Delta is a change to a lifetime aggregate.
type Delta struct {
	Catches int
	Hits    int
	Slot    *int
	Locale  string
	At      time.Time
}

// Merge applies d to cur, creating the aggregate when absent. Counters never
// go negative; metadata is only overwritten by non-empty values.
func Merge(cur *record.Highscore, id string, d Delta) *record.Highscore {
	next := record.Highscore{ID: id}
	if cur != nil {
		next = *cur
		next.ID = id
	}
	next.Catches += d.Catches
	next.Hits += d.Hits
	if next.Catches < 0 {
		next.Catches = 0
	}
	if next.Hits < 0 {
		next.Hits = 0
	}
	if d.Slot != nil {
		next.ColorIndex = record.SlotPtr(*d.Slot)
	}
	if d.Locale != "" {
		next.Locale = d.Locale
	}
	if !d.At.IsZero() {
		next.UpdatedAt = record.Millis(d.At)
	}
	return &next
}

// Record merges d into highscores/{id} transactionally. Blocking.
func Record(ctx context.Context, st store.Store, id string, d Delta) error {
	_, err := store.TransactJSON(ctx, st, store.Join(store.Highscores, id), func(cur *record.Highscore) (*record.Highscore, bool) {
		return Merge(cur, id, d), true
	})
	if err != nil {
		return fmt.Errorf("scoreboard: record highscore %s: %w", id, err)
	}
	return nil
}

// PruneConfig bounds what the cleanup considers stale.
type PruneConfig struct {
	// StaleAfter is how long a player may go unseen before it is archived.
	StaleAfter time.Duration
	// FlowMaxAge is how old a flow may be before it is deleted regardless of tags.
	FlowMaxAge time.Duration
}

func DefaultPruneConfig() PruneConfig {
	return PruneConfig{
		StaleAfter: 2 * time.Minute,
		// Slowest flows at level 1 leave the arena after FlowTravel/0.8.
		FlowMaxAge: 3 * arena.FlowTravel,
	}
}

// Report summarizes a cleanup pass.
type Report struct {
	PlayersArchived int
	PlayersInvalid  int
	FlowsDeleted    int
}

// PruneStale archives stale players into their highscore records, deletes
// them, and deletes flows nobody retired. Individual failures are collected
// and the pass continues.
func PruneStale(ctx context.Context, st store.Store, now time.Time, cfg PruneConfig) (Report, error) {
	var report Report
	var errs []error

	snap, err := st.ReadOnce(ctx, store.Join(store.Players), store.Query{})
	if err != nil {
		return report, fmt.Errorf("scoreboard: read players: %w", err)
	}
	players, rejected := record.Players(snap)
	for _, r := range rejected {
		if err := st.Delete(ctx, store.Join(store.Players, r.Key)); err != nil {
			errs = append(errs, err)
			continue
		}
		report.PlayersInvalid++
	}
	for _, p := range players {
		if !stale(p, now, cfg.StaleAfter) {
			continue
		}
		removed, ok, err := deleteIfStale(ctx, st, p.ID, now, cfg.StaleAfter)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		if err := Record(ctx, st, removed.ID, Delta{Slot: removed.ColorIndex, Locale: removed.Locale, At: now}); err != nil {
			errs = append(errs, err)
		}
		report.PlayersArchived++
	}

	snap, err = st.ReadOnce(ctx, store.Join(store.Flows), store.Query{})
	if err != nil {
		errs = append(errs, fmt.Errorf("scoreboard: read flows: %w", err))
		return report, errors.Join(errs...)
	}
	flows, rejectedFlows := record.Flows(snap)
	doomed := make([]string, 0, len(rejectedFlows))
	for _, r := range rejectedFlows {
		doomed = append(doomed, r.Key)
	}
	for _, f := range flows {
		if f.Expired || now.Sub(record.FromMillis(f.SpawnTime)) > cfg.FlowMaxAge {
			doomed = append(doomed, f.Key)
		}
	}
	for _, key := range doomed {
		if err := st.Delete(ctx, store.Join(store.Flows, key)); err != nil {
			errs = append(errs, err)
			continue
		}
		report.FlowsDeleted++
	}
	return report, errors.Join(errs...)
}

func stale(p record.Player, now time.Time, after time.Duration) bool {
	return now.Sub(record.FromMillis(p.LastSeen)) > after
}

// deleteIfStale removes players/{id} only while the stored record is still
// stale, so a heartbeat landing after the read keeps the player.
func deleteIfStale(ctx context.Context, st store.Store, id string, now time.Time, after time.Duration) (record.Player, bool, error) {
	var removed record.Player
	res, err := st.Transact(ctx, store.Join(store.Players, id), func(cur json.RawMessage) (json.RawMessage, bool) {
		if cur == nil {
			return nil, false
		}
		p, err := record.DecodePlayer(id, cur)
		if err != nil || !stale(p, now, after) {
			return nil, false
		}
		removed = p
		return nil, true
	})
	if err != nil {
		return record.Player{}, false, fmt.Errorf("scoreboard: delete stale player %s: %w", id, err)
	}
	return removed, res.Committed, nil
}

// PruneHighscores deletes lifetime records with fewer than minCatches
// catches and returns how many were removed.
func PruneHighscores(ctx context.Context, st store.Store, minCatches int) (int, error) {
	snap, err := st.ReadOnce(ctx, store.Join(store.Highscores), store.Query{})
	if err != nil {
		return 0, fmt.Errorf("scoreboard: read highscores: %w", err)
	}
	scores, rejected := record.Highscores(snap)
	keys := make([]string, 0, len(rejected))
	for _, r := range rejected {
		keys = append(keys, r.Key)
	}
	for _, h := range scores {
		if h.Catches < minCatches {
			keys = append(keys, h.ID)
		}
	}
	removed := 0
	var errs []error
	for _, key := range keys {
		if err := st.Delete(ctx, store.Join(store.Highscores, key)); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
