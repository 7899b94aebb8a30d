// Package session runs one client's simulation of a shared room: it owns
// the component state, a cooperative scheduler and an inbox through which
// store callbacks and finished round trips re-enter the loop.
//
// Session methods are not safe for concurrent use. Run owns the session
// while it executes; other goroutines hand work to it with Do.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"flowarena/internal/arena"
	"flowarena/internal/collision"
	"flowarena/internal/difficulty"
	"flowarena/internal/flowcache"
	"flowarena/internal/presence"
	"flowarena/internal/record"
	"flowarena/internal/schedule"
	"flowarena/internal/scoreboard"
	"flowarena/internal/slots"
	"flowarena/internal/spawn"
	"flowarena/internal/store"
	"flowarena/internal/telemetry"
	"flowarena/logging"
	"flowarena/logging/lifecycle"
)

var (
	ErrNoPlayer     = errors.New("session: not started")
	ErrIdle         = errors.New("session: idle")
	ErrStopped      = errors.New("session: stopped")
	ErrInvalidInput = errors.New("session: invalid input")
	ErrNoVacancy    = errors.New("session: no free slot")
)

// Phase is the session lifecycle state.
type Phase int

const (
	PhaseCreated Phase = iota
	PhaseRunning
	PhaseIdle
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhaseIdle:
		return "idle"
	case PhaseStopped:
		return "stopped"
	default:
		return "created"
	}
}

type Config struct {
	PlayerID string
	Locale   string

	FrameInterval time.Duration
	MoveThrottle  time.Duration
	// TaskInterval paces the difficulty, idle and scoreboard tasks.
	TaskInterval    time.Duration
	CleanupInterval time.Duration
	// StoreTimeout bounds each background store round trip.
	StoreTimeout time.Duration

	Prune      scoreboard.PruneConfig
	Collision  collision.Config
	Cache      flowcache.Config
	Spawn      spawn.Config
	Slots      slots.Config
	Presence   presence.Config
	Difficulty difficulty.Config
}

func DefaultConfig() Config {
	return Config{
		FrameInterval:   time.Second / 60,
		MoveThrottle:    50 * time.Millisecond,
		TaskInterval:    time.Second,
		CleanupInterval: 30 * time.Second,
		StoreTimeout:    5 * time.Second,
		Prune:           scoreboard.DefaultPruneConfig(),
		Collision:       collision.DefaultConfig(),
		Cache:           flowcache.DefaultConfig(),
		Spawn:           spawn.DefaultConfig(),
		Slots:           slots.DefaultConfig(),
		Presence:        presence.DefaultConfig(),
		Difficulty:      difficulty.DefaultConfig(),
	}
}

// Runner executes blocking store work. Background is the production
// runner; Inline runs the work on the caller and suits deterministic tests.
type Runner func(fn func())

func Background(fn func()) { go fn() }

func Inline(fn func()) { fn() }

type Deps struct {
	Store     store.Store
	Clock     func() time.Time
	Rand      *rand.Rand
	Publisher logging.Publisher
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Runner    Runner
}

// Session is one client's participation in a room.
type Session struct {
	cfg     Config
	st      store.Store
	clock   func() time.Time
	rng     *rand.Rand
	pub     logging.Publisher
	logger  telemetry.Logger
	metrics telemetry.Metrics
	runner  Runner

	mu       sync.Mutex
	queue    []func()
	sealed   bool
	wake     chan struct{}
	inflight sync.WaitGroup

	sched      *schedule.Scheduler
	collision  *collision.Engine
	cache      *flowcache.Cache
	spawner    *spawn.Coordinator
	slots      *slots.Allocator
	presence   *presence.Tracker
	difficulty *difficulty.Controller

	phase        Phase
	frame        uint64
	self         record.Player
	players      []record.Player
	visible      []flowcache.Entry
	board        []scoreboard.Row
	sessionStart time.Time
	unsubs       []store.Unsubscribe
	rejected     map[store.Path]struct{}

	moveDirty     bool
	lastMoveWrite time.Time
	restoring     bool
}

func New(cfg Config, deps Deps) (*Session, error) {
	if deps.Store == nil {
		return nil, errors.New("session: store is required")
	}
	if cfg.PlayerID == "" {
		cfg.PlayerID = uuid.NewString()
	}
	if err := store.Join(store.Players, cfg.PlayerID).Validate(); err != nil {
		return nil, fmt.Errorf("session: player id %q: %w", cfg.PlayerID, err)
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultConfig().FrameInterval
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultConfig().StoreTimeout
	}
	s := &Session{
		cfg:      cfg,
		st:       deps.Store,
		clock:    deps.Clock,
		rng:      deps.Rand,
		pub:      deps.Publisher,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		runner:   deps.Runner,
		wake:     make(chan struct{}, 1),
		sched:    schedule.New(),
		rejected: make(map[store.Path]struct{}),
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if s.pub == nil {
		s.pub = logging.NopPublisher()
	}
	if s.logger == nil {
		s.logger = telemetry.NopLogger()
	}
	if s.metrics == nil {
		s.metrics = telemetry.NopMetrics()
	}
	if s.runner == nil {
		s.runner = Background
	}
	s.collision = collision.NewEngine(cfg.Collision, storeCommitter{s: s})
	s.cache = flowcache.New(cfg.Cache, flowRetirer{s: s})
	s.spawner = spawn.New(cfg.Spawn, s.rng)
	s.slots = slots.New(cfg.Slots, cfg.PlayerID, slotWriter{s: s}, slotEvents{s: s})
	return s, nil
}

func (s *Session) actor() logging.EntityRef {
	return logging.PlayerRef(s.cfg.PlayerID)
}

func (s *Session) playerPath() store.Path {
	return store.Join(store.Players, s.cfg.PlayerID)
}

// Start joins the room: it writes the local player at a random angle,
// subscribes to players and the flow window and registers the periodic
// tasks. Start blocks on the initial write.
func (s *Session) Start(ctx context.Context) error {
	if s.phase != PhaseCreated {
		return fmt.Errorf("session: start while %s", s.phase)
	}
	now := s.clock()
	nowMillis := record.Millis(now)
	s.self = record.Player{
		ID:       s.cfg.PlayerID,
		Angle:    s.rng.Float64() * 2 * math.Pi,
		Layer:    s.rng.Intn(arena.Layers),
		LastSeen: nowMillis,
		JoinedAt: nowMillis,
		Locale:   s.cfg.Locale,
	}
	if err := s.st.Write(ctx, s.playerPath(), s.self); err != nil {
		return fmt.Errorf("session: join: %w", err)
	}

	s.presence = presence.NewTracker(s.cfg.Presence, now)
	s.difficulty = difficulty.New(s.cfg.Difficulty, now)
	s.sessionStart = now
	s.lastMoveWrite = now
	s.phase = PhaseRunning

	unsubPlayers, err := s.st.Subscribe(store.Join(store.Players), store.Query{}, func(snap store.Snapshot) {
		s.post(func() { s.onPlayers(snap) })
	})
	if err != nil {
		s.teardown()
		s.phase = PhaseStopped
		return fmt.Errorf("session: subscribe players: %w", err)
	}
	s.unsubs = append(s.unsubs, unsubPlayers)

	window := store.Query{OrderBy: "spawnTime", LimitToLast: s.cfg.Cache.WindowSize}
	unsubFlows, err := s.st.Subscribe(store.Join(store.Flows), window, func(snap store.Snapshot) {
		s.post(func() { s.onFlows(snap) })
	})
	if err != nil {
		s.teardown()
		s.phase = PhaseStopped
		return fmt.Errorf("session: subscribe flows: %w", err)
	}
	s.unsubs = append(s.unsubs, unsubFlows)

	s.registerTasks(now)
	lifecycle.SessionStarted(ctx, s.pub, s.frame, s.actor(), lifecycle.StartedPayload{
		Angle:  s.self.Angle,
		Layer:  s.self.Layer,
		Locale: s.cfg.Locale,
	}, nil)
	s.drain()
	return nil
}

// teardown stops everything the session scheduled or subscribed to. It
// does not touch the store records.
func (s *Session) teardown() {
	s.sched.Stop()
	for _, unsubscribe := range s.unsubs {
		unsubscribe()
	}
	s.unsubs = nil
	s.slots.Release()
	s.mu.Lock()
	s.sealed = true
	s.queue = nil
	s.mu.Unlock()
}

// Stop leaves the room: the local player's metadata is archived into its
// highscore record, the player is deleted and the store is released.
// In-flight background work is awaited, never cancelled.
func (s *Session) Stop(reason string) error {
	switch s.phase {
	case PhaseStopped:
		return nil
	case PhaseCreated:
		s.phase = PhaseStopped
		return s.st.Close()
	case PhaseIdle:
		s.phase = PhaseStopped
		return nil
	}
	now := s.clock()
	slot := s.slotPtr()
	s.phase = PhaseStopped
	lifecycle.SessionStopped(context.Background(), s.pub, s.frame, s.actor(), lifecycle.StoppedPayload{Reason: reason}, nil)
	s.teardown()
	s.inflight.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
	defer cancel()
	archiveErr := scoreboard.Record(ctx, s.st, s.cfg.PlayerID, scoreboard.Delta{Slot: slot, Locale: s.cfg.Locale, At: now})
	deleteErr := s.st.Delete(ctx, s.playerPath())
	closeErr := s.st.Close()
	return errors.Join(archiveErr, deleteErr, closeErr)
}

// goIdle tears the session down after the idle timeout. The player record
// stays, marked inactive, until the stale cleanup archives it.
func (s *Session) goIdle(now time.Time) {
	if s.phase != PhaseRunning {
		return
	}
	s.phase = PhaseIdle
	s.publishIdle(now)
	s.teardown()
	path := s.playerPath()
	timeout := s.cfg.StoreTimeout
	s.runner(func() {
		s.inflight.Wait()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.st.Update(ctx, path, map[string]any{"active": false}); err != nil {
			s.logger.Printf("session: mark %s inactive: %v", path, err)
		}
		if err := s.st.Close(); err != nil {
			s.logger.Printf("session: release store: %v", err)
		}
	})
}

func (s *Session) Phase() Phase {
	return s.phase
}

// ID is the local player's identity.
func (s *Session) ID() string {
	return s.cfg.PlayerID
}

// Self is the local player as last known, with the committed score.
func (s *Session) Self() record.Player {
	p := s.self
	if slot, ok := s.slots.Slot(); ok {
		p.ColorIndex = record.SlotPtr(slot)
		p.Active = true
	}
	return p
}

// Players is the last validated players snapshot.
func (s *Session) Players() []record.Player {
	return append([]record.Player(nil), s.players...)
}

// Flows is the set of flows visible in the last frame, oldest first.
func (s *Session) Flows() []flowcache.Entry {
	return append([]flowcache.Entry(nil), s.visible...)
}

// Scoreboard is the live ranking as of the last scoreboard task.
func (s *Session) Scoreboard() []scoreboard.Row {
	return append([]scoreboard.Row(nil), s.board...)
}

func (s *Session) SlotState() slots.State {
	return s.slots.State()
}

func (s *Session) ClaimAvailable() bool {
	return s.slots.ClaimAvailable()
}

// Claim takes a vacant slot for a queued player.
func (s *Session) Claim() (int, error) {
	if err := s.usable(); err != nil {
		return 0, err
	}
	slot, ok := s.slots.Claim(s.clock())
	if !ok {
		return 0, ErrNoVacancy
	}
	return slot, nil
}

func (s *Session) Level() int {
	if s.difficulty == nil {
		return 1
	}
	return s.difficulty.Level()
}

// Hurt reports whether the hazard hurt state is showing.
func (s *Session) Hurt() bool {
	return s.collision.Hurt(s.clock())
}

// Frames counts simulated frames.
func (s *Session) Frames() uint64 {
	return s.frame
}

// TopHighscores reads the lifetime leaderboard. Blocking; safe from any goroutine.
func (s *Session) TopHighscores(ctx context.Context, limit int) ([]record.Highscore, error) {
	return scoreboard.TopHighscores(ctx, s.st, limit)
}

func (s *Session) usable() error {
	switch s.phase {
	case PhaseCreated:
		return ErrNoPlayer
	case PhaseIdle:
		return ErrIdle
	case PhaseStopped:
		return ErrStopped
	}
	return nil
}
