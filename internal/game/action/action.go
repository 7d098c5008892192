// Package action defines the unit of deferred work the engine schedules
// and resolves.
package action

import (
	"strings"
	"time"

	"github.com/lowenmark/crownfall/internal/errors"
	"github.com/lowenmark/crownfall/internal/platform/id"
)

// Type is a dot-namespaced action type tag, e.g. "settlement.take".
type Type string

// Registered action types.
const (
	TypeSettlementTake   Type = "settlement.take"
	TypeSettlementEnter  Type = "settlement.enter"
	TypeSettlementRename Type = "settlement.rename"
	TypeSettlementGrant  Type = "settlement.grant"
	TypeSettlementAttack Type = "settlement.attack"
	TypeSettlementDefend Type = "settlement.defend"
	TypeSettlementLoot   Type = "settlement.loot"

	TypeMilitaryBattle      Type = "military.battle"
	TypeMilitaryBlock       Type = "military.block"
	TypeMilitaryDamage      Type = "military.damage"
	TypeMilitaryHire        Type = "military.hire"
	TypeMilitaryRegroup     Type = "military.regroup"
	TypeMilitaryDisengage   Type = "military.disengage"
	TypeMilitaryIntercepted Type = "military.intercepted"
	TypeMilitaryAid         Type = "military.aid"
	TypeMilitaryEvade       Type = "military.evade"

	TypeCharacterEscape Type = "character.escape"

	TypeTaskResearch Type = "task.research"

	TypePersonalPrisonAssign Type = "personal.prisonassign"
)

// Normalize canonicalizes a type tag for registry lookup.
func Normalize(t Type) Type {
	return Type(strings.ToLower(strings.TrimSpace(string(t))))
}

// StringValue markers carried by actions.
const (
	ValueForced     = "forced"
	ValueAttack     = "attack"
	ValueAllow      = "allow"
	ValueKeepClaim  = "keep_claim"
	ValueClearRealm = "clear_realm"
)

// Action is a scheduled, typed unit of deferred game-state change tied to
// an actor and optional targets. Relations to other actions form a contest
// graph stored as identifier sets.
type Action struct {
	ID   string
	Type Type

	CharacterID string

	TargetCharacterID   string
	TargetSettlementID  string
	TargetRealmID       string
	TargetBattleGroupID string
	TargetListingID     string

	// StringValue is a free-form parameter, e.g. "forced" or "keep_claim".
	StringValue string

	Started time.Time
	// Complete is the maturity deadline. A nil Complete marks a standing
	// action that only blocks and is never picked up by the timed scheduler.
	Complete *time.Time

	// Priority is strictly increasing per character; Queue assigns it.
	Priority int

	Hidden      bool
	Hourly      bool
	CanCancel   bool
	BlockTravel bool

	// OpposedActionID points back at the action this one contests.
	OpposedActionID string
	// OpposingActionIDs and SupportingActionIDs form the contest graph
	// other handlers count soldiers across.
	OpposingActionIDs   []string
	SupportingActionIDs []string

	// AssignedEntourageIDs lists NPC followers tied up by this action.
	AssignedEntourageIDs []string
}

// New creates an action of the given type for the character, with the
// defaults the engine expects: visible, non-hourly, cancelable.
func New(t Type, characterID string) *Action {
	return &Action{
		ID:          id.MustNewID(),
		Type:        t,
		CharacterID: characterID,
		CanCancel:   true,
	}
}

// Validate checks structural invariants common to all actions.
func (a *Action) Validate() error {
	if strings.TrimSpace(string(a.Type)) == "" {
		return errors.New(errors.CodeActionTypeRequired, "action type is required")
	}
	if strings.TrimSpace(a.CharacterID) == "" {
		return errors.New(errors.CodeActionCharacterRequired, "action character is required")
	}
	return nil
}

// Standing reports whether the action has no maturity deadline.
func (a *Action) Standing() bool {
	return a.Complete == nil
}

// Due reports whether the action has matured at the given instant.
func (a *Action) Due(now time.Time) bool {
	return a.Complete != nil && a.Complete.Before(now)
}

// CompleteAt sets the maturity deadline.
func (a *Action) CompleteAt(t time.Time) *Action {
	a.Complete = &t
	return a
}

// AddOpposing links another action into this action's opposing set.
func (a *Action) AddOpposing(actionID string) {
	for _, existing := range a.OpposingActionIDs {
		if existing == actionID {
			return
		}
	}
	a.OpposingActionIDs = append(a.OpposingActionIDs, actionID)
}

// AddSupporting links another action into this action's supporting set.
func (a *Action) AddSupporting(actionID string) {
	for _, existing := range a.SupportingActionIDs {
		if existing == actionID {
			return
		}
	}
	a.SupportingActionIDs = append(a.SupportingActionIDs, actionID)
}
