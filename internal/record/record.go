// Package record defines the tagged schemas of the three room collections and
// validates store snapshots before they reach the simulation.
package record

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"golang.org/x/crypto/sha3"

	"flowarena/internal/arena"
	"flowarena/internal/store"
)

// ErrInvalidRecord marks a snapshot child that could not be coerced.
var ErrInvalidRecord = errors.New("record: invalid")

// Player is the live state of one participant.
type Player struct {
	ID         string  `json:"id" jsonschema:"required"`
	Angle      float64 `json:"angle" jsonschema:"minimum=0"`
	Layer      int     `json:"layer" jsonschema:"minimum=0,maximum=4"`
	Score      int     `json:"score" jsonschema:"minimum=0"`
	ColorIndex *int    `json:"colorIndex,omitempty" jsonschema:"minimum=0,maximum=7"`
	Active     bool    `json:"active"`
	Queued     bool    `json:"queued,omitempty"`
	LastSeen   int64   `json:"lastSeen"`
	ClaimedAt  int64   `json:"claimedAt,omitempty"`
	JoinedAt   int64   `json:"joinedAt,omitempty"`
	Locale     string  `json:"locale,omitempty"`
}

// Flow is a traveling entity. Key is the store key and is not serialized.
type Flow struct {
	Key       string  `json:"-"`
	SpawnTime int64   `json:"spawnTime" jsonschema:"required,minimum=1"`
	Angle     float64 `json:"angle" jsonschema:"required,minimum=0"`
	Evil      bool    `json:"evil"`
	Layer     int     `json:"layer" jsonschema:"minimum=0,maximum=4"`
	Expired   bool    `json:"expired,omitempty"`
}

// Highscore is the lifetime aggregate for one identity.
type Highscore struct {
	ID         string `json:"id" jsonschema:"required"`
	Catches    int    `json:"catches" jsonschema:"minimum=0"`
	Hits       int    `json:"hits" jsonschema:"minimum=0"`
	ColorIndex *int   `json:"colorIndex,omitempty"`
	Locale     string `json:"locale,omitempty"`
	UpdatedAt  int64  `json:"updatedAt"`
}

// Millis converts a time to the Unix millisecond timestamps stored in records.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts a stored timestamp back to a time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// Slot returns the player's color slot, if any.
func (p Player) Slot() (int, bool) {
	if p.ColorIndex == nil {
		return 0, false
	}
	return *p.ColorIndex, true
}

// SlotPtr boxes a slot index for the ColorIndex fields.
func SlotPtr(slot int) *int {
	return &slot
}

// ID identifies the flow: its store key when known, otherwise its content hash.
func (f Flow) ID() string {
	if f.Key != "" {
		return f.Key
	}
	return ContentID(f.SpawnTime, f.Angle)
}

// ContentID derives an identity from (spawnTime, angle) with the angle rounded
// to micro-radians. Distinct flows share an ID only if both values coincide.
func ContentID(spawnTime int64, angle float64) string {
	rounded := math.Round(angle*1e6) / 1e6
	input := strconv.FormatInt(spawnTime, 10) + "|" + strconv.FormatFloat(rounded, 'f', 6, 64)
	sum := sha3.Sum256([]byte(input))
	return "c-" + hex.EncodeToString(sum[:8])
}

type wirePlayer struct {
	ID         string   `json:"id"`
	Angle      *float64 `json:"angle"`
	Layer      *float64 `json:"layer"`
	Score      *float64 `json:"score"`
	ColorIndex *float64 `json:"colorIndex"`
	Active     bool     `json:"active"`
	Queued     bool     `json:"queued"`
	LastSeen   float64  `json:"lastSeen"`
	ClaimedAt  float64  `json:"claimedAt"`
	JoinedAt   float64  `json:"joinedAt"`
	Locale     string   `json:"locale"`
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func slotFrom(v *float64) *int {
	if v == nil || !finite(*v) || *v != math.Trunc(*v) {
		return nil
	}
	slot := int(*v)
	if slot < 0 || slot >= arena.PaletteSize {
		return nil
	}
	return &slot
}

// DecodePlayer validates a players/{key} value. Missing angle or layer and
// non-finite numbers are rejected; negative scores and out-of-palette slots
// are coerced.
func DecodePlayer(key string, raw json.RawMessage) (Player, error) {
	var w wirePlayer
	if err := json.Unmarshal(raw, &w); err != nil {
		return Player{}, fmt.Errorf("%w: player %s: %v", ErrInvalidRecord, key, err)
	}
	if w.Angle == nil || !finite(*w.Angle) {
		return Player{}, fmt.Errorf("%w: player %s: bad angle", ErrInvalidRecord, key)
	}
	if w.Layer == nil || !finite(*w.Layer) || *w.Layer != math.Trunc(*w.Layer) || !arena.ValidLayer(int(*w.Layer)) {
		return Player{}, fmt.Errorf("%w: player %s: bad layer", ErrInvalidRecord, key)
	}
	p := Player{
		ID:         key,
		Angle:      arena.NormalizeAngle(*w.Angle),
		Layer:      int(*w.Layer),
		ColorIndex: slotFrom(w.ColorIndex),
		Active:     w.Active,
		Queued:     w.Queued,
		LastSeen:   int64(w.LastSeen),
		ClaimedAt:  int64(w.ClaimedAt),
		JoinedAt:   int64(w.JoinedAt),
		Locale:     w.Locale,
	}
	if w.Score != nil && finite(*w.Score) && *w.Score > 0 {
		p.Score = int(math.Floor(*w.Score))
	}
	return p, nil
}

type wireFlow struct {
	SpawnTime *float64 `json:"spawnTime"`
	Angle     *float64 `json:"angle"`
	Evil      bool     `json:"evil"`
	Layer     float64  `json:"layer"`
	Expired   bool     `json:"expired"`
}

// DecodeFlow validates a flows/{key} value.
func DecodeFlow(key string, raw json.RawMessage) (Flow, error) {
	var w wireFlow
	if err := json.Unmarshal(raw, &w); err != nil {
		return Flow{}, fmt.Errorf("%w: flow %s: %v", ErrInvalidRecord, key, err)
	}
	if w.SpawnTime == nil || !finite(*w.SpawnTime) || *w.SpawnTime <= 0 {
		return Flow{}, fmt.Errorf("%w: flow %s: bad spawnTime", ErrInvalidRecord, key)
	}
	if w.Angle == nil || !finite(*w.Angle) {
		return Flow{}, fmt.Errorf("%w: flow %s: bad angle", ErrInvalidRecord, key)
	}
	layer := int(w.Layer)
	if !arena.ValidLayer(layer) {
		layer = 0
	}
	return Flow{
		Key:       key,
		SpawnTime: int64(*w.SpawnTime),
		Angle:     arena.NormalizeAngle(*w.Angle),
		Evil:      w.Evil,
		Layer:     layer,
		Expired:   w.Expired,
	}, nil
}

type wireHighscore struct {
	Catches    float64  `json:"catches"`
	Hits       float64  `json:"hits"`
	ColorIndex *float64 `json:"colorIndex"`
	Locale     string   `json:"locale"`
	UpdatedAt  float64  `json:"updatedAt"`
}

// DecodeHighscore validates a highscores/{key} value. Negative counters clamp to zero.
func DecodeHighscore(key string, raw json.RawMessage) (Highscore, error) {
	var w wireHighscore
	if err := json.Unmarshal(raw, &w); err != nil {
		return Highscore{}, fmt.Errorf("%w: highscore %s: %v", ErrInvalidRecord, key, err)
	}
	h := Highscore{
		ID:         key,
		ColorIndex: slotFrom(w.ColorIndex),
		Locale:     w.Locale,
		UpdatedAt:  int64(w.UpdatedAt),
	}
	if finite(w.Catches) && w.Catches > 0 {
		h.Catches = int(w.Catches)
	}
	if finite(w.Hits) && w.Hits > 0 {
		h.Hits = int(w.Hits)
	}
	return h, nil
}

// Rejection describes a child dropped at the boundary.
type Rejection struct {
	Key string
	Err error
}

// Players decodes every child of a players snapshot.
func Players(snap store.Snapshot) ([]Player, []Rejection) {
	return decodeAll(snap, DecodePlayer)
}

// Flows decodes every child of a flows snapshot, preserving window order.
func Flows(snap store.Snapshot) ([]Flow, []Rejection) {
	return decodeAll(snap, DecodeFlow)
}

// Highscores decodes every child of a highscores snapshot.
func Highscores(snap store.Snapshot) ([]Highscore, []Rejection) {
	return decodeAll(snap, DecodeHighscore)
}

func decodeAll[T any](snap store.Snapshot, decode func(string, json.RawMessage) (T, error)) ([]T, []Rejection) {
	if !snap.Exists {
		return nil, nil
	}
	out := make([]T, 0, len(snap.Children))
	var rejected []Rejection
	for _, child := range snap.Children {
		v, err := decode(child.Key, child.Value)
		if err != nil {
			rejected = append(rejected, Rejection{Key: child.Key, Err: err})
			continue
		}
		out = append(out, v)
	}
	return out, rejected
}
