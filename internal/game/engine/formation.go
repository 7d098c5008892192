package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/lowenmark/crownfall/internal/errors"
	"github.com/lowenmark/crownfall/internal/game/action"
	"github.com/lowenmark/crownfall/internal/game/world"
	"github.com/lowenmark/crownfall/internal/platform/id"
)

// BattleResult describes a freshly formed battle.
type BattleResult struct {
	// Time is the preparation-phase duration before fighting starts.
	Time time.Duration
	// Outside reports whether any defender was caught in the open.
	Outside bool
	Battle  *world.Battle
}

// CreateBattle forms a battle between the initiating character and the
// target characters, optionally anchored to a settlement under siege. The
// initiator lands on the attacker side, every target on the defender side,
// forced. Targets with a standing evade order get an automatic disengage
// attempt scheduled, and standing defenders of the settlement are pulled
// into the defender group.
func (e *Engine) CreateBattle(ctx context.Context, characterID, settlementID string, targetIDs []string) (*BattleResult, error) {
	if len(targetIDs) == 0 {
		return nil, errors.New(errors.CodeBattleNoTargets, "battle needs at least one target")
	}
	char, err := e.deps.World.Character(ctx, characterID)
	if err != nil {
		return nil, fmt.Errorf("load initiator: %w", err)
	}
	if char.InBattle() {
		return nil, errors.WithMetadata(errors.CodeBattleCharacterBusy,
			"initiator is already fighting", map[string]string{"character": characterID})
	}

	targets := make([]*world.Character, 0, len(targetIDs))
	outside := false
	for _, targetID := range targetIDs {
		target, err := e.deps.World.Character(ctx, targetID)
		if err != nil {
			return nil, fmt.Errorf("load target %s: %w", targetID, err)
		}
		if target.InsideSettlementID == "" {
			outside = true
		}
		targets = append(targets, target)
	}

	battle := &world.Battle{
		ID:      id.MustNewID(),
		Started: e.now(),
	}
	battle.Groups = []*world.BattleGroup{
		{ID: id.MustNewID(), BattleID: battle.ID, Attacker: true},
		{ID: id.MustNewID(), BattleID: battle.ID},
	}
	attackerGroup, defenderGroup := battle.Groups[0], battle.Groups[1]

	var settlement *world.Settlement
	if settlementID != "" {
		settlement, err = e.deps.World.Settlement(ctx, settlementID)
		if err != nil {
			return nil, fmt.Errorf("load settlement: %w", err)
		}
		battle.Name = settlement.Name
		battle.Location = settlement.Center
		battle.SettlementID = settlement.ID
		battle.Siege = true
		if err := e.log(ctx, world.SettlementRef(settlement.ID), "settlement.attacked",
			map[string]string{"character": characterID}, world.SeverityMedium, true); err != nil {
			return nil, err
		}
	} else {
		battle.Name = char.Name
		battle.Location = centroid(targets)
	}

	prep, err := e.deps.Military.PreparationTime(ctx, battle)
	if err != nil {
		return nil, fmt.Errorf("preparation time: %w", err)
	}
	battle.InitialComplete = battle.Started.Add(prep)
	battle.Complete = battle.InitialComplete

	channelID, err := e.deps.Communication.CreateChannel(ctx, battle.Name, battle.ID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeBattleChannelFailure, "create battle channel", err)
	}
	battle.ChannelID = channelID
	if settlement != nil && settlement.OwnerID != "" {
		if err := e.deps.Communication.JoinChannel(ctx, settlement.OwnerID, channelID); err != nil {
			return nil, errors.Wrap(errors.CodeBattleChannelFailure, "join settlement owner to channel", err)
		}
	}

	if err := e.deps.Battles.SaveBattle(ctx, battle); err != nil {
		return nil, fmt.Errorf("save battle: %w", err)
	}

	if _, err := e.JoinBattle(ctx, characterID, battle, attackerGroup.ID, false, false); err != nil {
		return nil, fmt.Errorf("join initiator: %w", err)
	}
	for _, target := range targets {
		companionID, err := e.JoinBattle(ctx, target.ID, battle, defenderGroup.ID, false, true)
		if err != nil {
			return nil, fmt.Errorf("join target %s: %w", target.ID, err)
		}
		evading, err := e.hasStandingAction(ctx, target.ID, action.TypeMilitaryEvade)
		if err != nil {
			return nil, err
		}
		if evading {
			if _, err := e.CreateDisengage(ctx, target.ID, defenderGroup.ID, companionID); err != nil {
				return nil, fmt.Errorf("schedule evade disengage for %s: %w", target.ID, err)
			}
			if err := e.log(ctx, world.CharacterRef(target.ID), "battle.evading",
				map[string]string{"battle": battle.ID, "time": prep.String()}, world.SeverityHigh, false); err != nil {
				return nil, err
			}
		} else {
			if err := e.log(ctx, world.CharacterRef(target.ID), "battle.attacked",
				map[string]string{"battle": battle.ID, "time": prep.String()}, world.SeverityHigh, false); err != nil {
				return nil, err
			}
		}
	}

	if settlement != nil {
		if err := e.pullStandingDefenders(ctx, battle, defenderGroup.ID, settlement.ID); err != nil {
			return nil, err
		}
	}

	return &BattleResult{Time: prep, Outside: outside, Battle: battle}, nil
}

// pullStandingDefenders joins every character holding a standing defend
// order on the settlement into the defender group.
func (e *Engine) pullStandingDefenders(ctx context.Context, battle *world.Battle, groupID, settlementID string) error {
	acts, err := e.deps.Actions.ActionsBySettlement(ctx, settlementID)
	if err != nil {
		return fmt.Errorf("list settlement actions: %w", err)
	}
	for _, other := range acts {
		if other.Type != action.TypeSettlementDefend {
			continue
		}
		defender, err := e.deps.World.Character(ctx, other.CharacterID)
		if err != nil {
			return fmt.Errorf("load defender %s: %w", other.CharacterID, err)
		}
		if battle.Group(groupID).HasMember(defender.ID) {
			continue
		}
		if _, err := e.JoinBattle(ctx, defender.ID, battle, groupID, false, false); err != nil {
			return fmt.Errorf("join standing defender %s: %w", defender.ID, err)
		}
		if err := e.log(ctx, world.CharacterRef(defender.ID), "settlement.defend.engaged",
			map[string]string{"settlement": settlementID, "battle": battle.ID}, world.SeverityHigh, false); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) hasStandingAction(ctx context.Context, characterID string, t action.Type) (bool, error) {
	acts, err := e.deps.Actions.ActionsByCharacter(ctx, characterID)
	if err != nil {
		return false, fmt.Errorf("list character actions: %w", err)
	}
	for _, other := range acts {
		if other.Type == t && other.Standing() {
			return true, nil
		}
	}
	return false, nil
}

func centroid(chars []*world.Character) world.Point {
	if len(chars) == 0 {
		return world.Point{}
	}
	var p world.Point
	for _, c := range chars {
		p.X += c.Location.X
		p.Y += c.Location.Y
	}
	p.X /= float64(len(chars))
	p.Y /= float64(len(chars))
	return p
}

// JoinBattle places the character into the given group, creating the
// non-cancelable companion action that represents the membership. The
// character leaves every other group of the battle first; the group change
// and the companion action are persisted in that order so a partial
// failure never leaves the character on two sides.
func (e *Engine) JoinBattle(ctx context.Context, characterID string, battle *world.Battle, groupID string, recalcTimer, forced bool) (string, error) {
	group := battle.Group(groupID)
	if group == nil {
		return "", errors.WithMetadata(errors.CodeBattleGroupNotFound,
			"battle group not found", map[string]string{"battle": battle.ID, "group": groupID})
	}
	char, err := e.deps.World.Character(ctx, characterID)
	if err != nil {
		return "", fmt.Errorf("load character: %w", err)
	}

	for _, other := range battle.Groups {
		if other.ID != groupID {
			other.RemoveMember(characterID)
		}
	}
	for _, memberID := range group.MemberIDs {
		if err := e.log(ctx, world.CharacterRef(memberID), "battle.ally_joined",
			map[string]string{"character": characterID, "battle": battle.ID}, world.SeverityLow, false); err != nil {
			return "", err
		}
	}
	group.AddMember(characterID)
	if err := e.deps.Battles.SaveBattle(ctx, battle); err != nil {
		return "", fmt.Errorf("save battle: %w", err)
	}

	companionType := action.TypeMilitaryBattle
	if battle.SettlementID != "" && group.Attacker {
		companionType = action.TypeSettlementAttack
	}
	companion := action.New(companionType, characterID)
	companion.TargetBattleGroupID = groupID
	companion.TargetSettlementID = battle.SettlementID
	companion.CanCancel = false
	companion.BlockTravel = true
	if forced {
		companion.StringValue = action.ValueForced
	}
	if _, err := e.Queue(ctx, companion, true); err != nil {
		return "", fmt.Errorf("queue battle companion: %w", err)
	}

	kept := char.BattleGroupIDs[:0]
	for _, existing := range char.BattleGroupIDs {
		if battle.Group(existing) == nil {
			kept = append(kept, existing)
		}
	}
	char.BattleGroupIDs = append(kept, groupID)
	char.TravelLocked = true
	if err := e.deps.World.SaveCharacter(ctx, char); err != nil {
		return "", fmt.Errorf("save character: %w", err)
	}

	if recalcTimer {
		if err := e.deps.Military.RecalculateBattleTimer(ctx, battle.ID); err != nil {
			return "", fmt.Errorf("recalculate battle timer: %w", err)
		}
	}
	if battle.ChannelID != "" {
		if err := e.deps.Communication.JoinChannel(ctx, characterID, battle.ChannelID); err != nil {
			return "", errors.Wrap(errors.CodeBattleChannelFailure, "join battle channel", err)
		}
	}
	return companion.ID, nil
}

// CalculateDisengageTime computes how long slipping away takes. The result
// is deterministic: party size and composition set the time, the random
// draw happens only at resolution.
func (e *Engine) CalculateDisengageTime(char *world.Character) time.Duration {
	base := 15.0 + math.Sqrt(float64(len(char.EntourageIDs)*10))
	takes := float64(len(char.Soldiers) * 5)
	for _, s := range char.Soldiers {
		if s.Wounded {
			takes += 5
		}
		switch s.Type {
		case world.SoldierCavalry, world.SoldierMountedArcher:
			takes += 3
		case world.SoldierHeavyInfantry:
			takes += 2
		}
	}
	base += math.Sqrt(takes)
	return time.Duration(base*60) * time.Second
}

// CreateDisengage schedules a disengage attempt against the group, opposed
// to the attack that pinned the character and linked into its own opposing
// set so contest counting elsewhere sees it.
func (e *Engine) CreateDisengage(ctx context.Context, characterID, groupID, opposedActionID string) (QueueResult, error) {
	char, err := e.deps.World.Character(ctx, characterID)
	if err != nil {
		return QueueResult{}, fmt.Errorf("load character: %w", err)
	}
	act := action.New(action.TypeMilitaryDisengage, characterID)
	act.TargetBattleGroupID = groupID
	act.OpposedActionID = opposedActionID
	act.AddOpposing(act.ID)
	act.CompleteAt(e.now().Add(e.CalculateDisengageTime(char)))
	return e.Queue(ctx, act, true)
}
