// Package engine is the deferred-action resolution core: a bounded-batch
// scheduler, a type-dispatch handler registry, the per-type resolution
// handlers, and the battle formation subsystem. The engine owns no entity
// persistence; it reads and mutates the world through the collaborator
// interfaces in internal/game/world and the stores in internal/storage.
package engine

import (
	stderrors "errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/lowenmark/crownfall/internal/game/action"
	"github.com/lowenmark/crownfall/internal/game/world"
	"github.com/lowenmark/crownfall/internal/random"
	"github.com/lowenmark/crownfall/internal/storage"
	"github.com/lowenmark/crownfall/internal/telemetry"
)

// Config is the engine's configuration snapshot, passed at construction.
type Config struct {
	// MaxProgress caps how many due actions one Progress pass resolves.
	MaxProgress int
	// TravelSpeedMod scales the travel nudge applied after a disengage.
	TravelSpeedMod float64
	// ImmediateActions enables synchronous resolution of standing actions
	// at enqueue time. Testing affordance, off in production.
	ImmediateActions bool
	// ClaimLease is how long a fetched due action stays invisible to
	// concurrent workers.
	ClaimLease time.Duration
	// ResearchInterval is the delay between research cycle advances.
	ResearchInterval time.Duration
}

func (c Config) normalized() Config {
	if c.MaxProgress <= 0 {
		c.MaxProgress = 5
	}
	if c.TravelSpeedMod <= 0 {
		c.TravelSpeedMod = 1.0
	}
	if c.ClaimLease <= 0 {
		c.ClaimLease = time.Minute
	}
	if c.ResearchInterval <= 0 {
		c.ResearchInterval = time.Hour
	}
	return c
}

// Deps bundles the engine's collaborators. Actions and Battles are
// required; nil optional collaborators disable the handlers that need them
// only at call time, never at construction.
type Deps struct {
	Actions storage.ActionStore
	Battles storage.BattleStore

	World         world.Directory
	History       world.History
	Politics      world.Politics
	Interactions  world.Interactions
	Geography     world.Geography
	Communication world.Communication
	Permissions   world.Permissions
	Military      world.Military
	Eligibility   world.Eligibility

	Telemetry *telemetry.Emitter

	// Clock supplies the current time; defaults to time.Now.
	Clock func() time.Time
	// Roll draws a uniform random integer in [0, n); defaults to a
	// crypto-seeded math/rand source.
	Roll func(n int) int
}

// Engine wires the scheduler, registry, handlers and battle formation
// together around one configuration snapshot.
type Engine struct {
	cfg  Config
	reg  *Registry
	deps Deps
}

// New builds an engine and registers every action handler. Registration is
// static; a duplicate or malformed registration is a programming error and
// fails construction.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Roll == nil {
		seed, err := random.NewSeed()
		if err != nil {
			return nil, fmt.Errorf("seed random source: %w", err)
		}
		rng := rand.New(rand.NewSource(seed))
		deps.Roll = rng.Intn
	}

	e := &Engine{
		cfg:  cfg.normalized(),
		reg:  NewRegistry(),
		deps: deps,
	}

	registrations := []struct {
		t action.Type
		h Handler
	}{
		{action.TypeSettlementTake, Handler{Resolve: e.resolveSettlementTake, Update: e.updateSettlementTake}},
		{action.TypeSettlementEnter, Handler{Resolve: e.resolveSettlementEnter}},
		{action.TypeSettlementRename, Handler{Resolve: e.resolveSettlementRename}},
		{action.TypeSettlementGrant, Handler{Resolve: e.resolveSettlementGrant}},
		{action.TypeSettlementAttack, Handler{Resolve: e.resolveMilitaryBattle, NeverImmediate: true}},
		{action.TypeSettlementDefend, Handler{Resolve: e.resolveCleanup("settlement.defend.ended"), Update: e.updateSettlementDefend}},
		{action.TypeSettlementLoot, Handler{Resolve: e.resolveCleanup("settlement.loot.ended")}},

		{action.TypeMilitaryBattle, Handler{Resolve: e.resolveMilitaryBattle, NeverImmediate: true}},
		{action.TypeMilitaryBlock, Handler{Resolve: e.resolveCleanup("military.block.ended"), Update: e.updateMilitaryBlock}},
		{action.TypeMilitaryDamage, Handler{Resolve: e.resolveCleanup("")}},
		{action.TypeMilitaryHire, Handler{Resolve: e.resolveCleanup("")}},
		{action.TypeMilitaryRegroup, Handler{Resolve: e.resolveCleanup("military.regroup.ended")}},
		{action.TypeMilitaryDisengage, Handler{Resolve: e.resolveMilitaryDisengage, NeverImmediate: true}},
		{action.TypeMilitaryIntercepted, Handler{Resolve: e.resolveCleanup("")}},
		{action.TypeMilitaryAid, Handler{Resolve: e.resolveMilitaryAid, Update: e.updateMilitaryAid}},
		{action.TypeMilitaryEvade, Handler{Resolve: e.resolveCleanup("")}},

		{action.TypeCharacterEscape, Handler{Resolve: e.resolveCharacterEscape}},

		{action.TypeTaskResearch, Handler{Resolve: e.resolveTaskResearch}},

		{action.TypePersonalPrisonAssign, Handler{Resolve: e.resolveCleanup("")}},
	}
	for _, r := range registrations {
		if err := e.reg.Register(r.t, r.h); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Registry exposes the handler registry, mainly for introspection in tests.
func (e *Engine) Registry() *Registry {
	return e.reg
}

func (e *Engine) now() time.Time {
	return e.deps.Clock().UTC()
}

func (e *Engine) roll(n int) int {
	return e.deps.Roll(n)
}

func isNotFound(err error) bool {
	return stderrors.Is(err, storage.ErrNotFound)
}
