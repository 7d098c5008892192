// Package storage defines the durable store interfaces the resolution
// engine depends on. Implementations live in subpackages; the engine only
// sees these interfaces.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/lowenmark/crownfall/internal/game/action"
	"github.com/lowenmark/crownfall/internal/game/world"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ActionStore persists scheduled actions and supplies due-action queries.
type ActionStore interface {
	SaveAction(ctx context.Context, act *action.Action) error
	Action(ctx context.Context, id string) (*action.Action, error)
	DeleteAction(ctx context.Context, id string) error

	// FetchDue returns at most limit actions whose deadline is strictly in
	// the past, earliest-due first, and claims each returned action for
	// the lease duration. An action claimed by one worker is excluded from
	// concurrent fetches until its lease expires or the action is deleted.
	FetchDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*action.Action, error)

	// ActionsByCharacter lists the character's actions ordered by priority.
	ActionsByCharacter(ctx context.Context, characterID string) ([]*action.Action, error)

	// ActionsBySettlement lists actions targeting the settlement.
	ActionsBySettlement(ctx context.Context, settlementID string) ([]*action.Action, error)

	// MaxPriority returns the highest priority among the character's
	// actions, or zero when the character has none.
	MaxPriority(ctx context.Context, characterID string) (int, error)
}

// BattleStore persists battle aggregates. Group membership is part of the
// aggregate so side changes commit atomically with a single save.
type BattleStore interface {
	SaveBattle(ctx context.Context, battle *world.Battle) error
	Battle(ctx context.Context, id string) (*world.Battle, error)
	// BattleByGroup returns the battle containing the given group.
	BattleByGroup(ctx context.Context, groupID string) (*world.Battle, error)
	DeleteBattle(ctx context.Context, id string) error
}

// TelemetryEvent is one operational telemetry record.
type TelemetryEvent struct {
	ID        int64
	Name      string
	Severity  string
	Attrs     map[string]string
	Timestamp time.Time
}

// TelemetryStore persists operational telemetry events.
type TelemetryStore interface {
	AppendTelemetryEvent(ctx context.Context, evt TelemetryEvent) error
	ListTelemetryEvents(ctx context.Context, limit int) ([]TelemetryEvent, error)
}
