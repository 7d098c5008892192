package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/lowenmark/crownfall/internal/game/action"
	"github.com/lowenmark/crownfall/internal/game/world"
)

// regroupCooldown is how long a character is tied up reorganizing after an
// enemy slips away.
const regroupCooldown = 60 * time.Minute

// disengageIncompatible lists the action types that pin a character in
// place: a character mid-way through any of these cannot sneak away.
var disengageIncompatible = []action.Type{
	action.TypeMilitaryBlock,
	action.TypeMilitaryDamage,
	action.TypeSettlementLoot,
	action.TypeSettlementAttack,
	action.TypeSettlementDefend,
}

// resolveMilitaryBattle is the placeholder for battle companion actions.
// Turn-by-turn combat belongs to the military subsystem; the action exists
// so its presence can block travel and be queried, and it is removed by the
// battle's own conclusion, not by maturing here.
func (e *Engine) resolveMilitaryBattle(ctx context.Context, act *action.Action) error {
	return nil
}

// disengageChance computes the escape probability in percent. Larger
// parties are easier to spot, a thin enemy screen is easier to slip, and a
// character pinned by an incompatible action cannot slip at all.
func (e *Engine) disengageChance(ctx context.Context, char *world.Character, enemySoldiers int) (int, error) {
	acts, err := e.deps.Actions.ActionsByCharacter(ctx, char.ID)
	if err != nil {
		return 0, fmt.Errorf("list character actions: %w", err)
	}
	for _, other := range acts {
		for _, incompatible := range disengageIncompatible {
			if other.Type == incompatible {
				return 0, nil
			}
		}
	}

	party := char.ActiveSoldiers() + len(char.EntourageIDs)
	chance := 40 - math.Sqrt(float64(party*5))

	spot, err := e.deps.Geography.SpotFactor(ctx, char.ID)
	if err != nil {
		return 0, fmt.Errorf("spot factor: %w", err)
	}
	if spot > 0 {
		chance /= spot
	}

	switch {
	case enemySoldiers < 5:
		chance += 30
	case enemySoldiers < 10:
		chance += 20
	case enemySoldiers < 25:
		chance += 10
	}

	return int(math.Min(80, math.Max(5, chance))), nil
}

func (e *Engine) resolveMilitaryDisengage(ctx context.Context, act *action.Action) error {
	if act.TargetBattleGroupID == "" {
		return e.discardInvalid(ctx, act, "missing battle group target")
	}
	char, err := e.deps.World.Character(ctx, act.CharacterID)
	if err != nil {
		return fmt.Errorf("load character: %w", err)
	}
	battle, err := e.deps.Battles.BattleByGroup(ctx, act.TargetBattleGroupID)
	if err != nil {
		if isNotFound(err) {
			// Battle already concluded; nothing left to slip away from.
			return e.deleteAction(ctx, act)
		}
		return fmt.Errorf("load battle: %w", err)
	}
	enemy := battle.Enemy(act.TargetBattleGroupID)
	enemySoldiers := 0
	if enemy != nil {
		for _, memberID := range enemy.MemberIDs {
			member, err := e.deps.World.Character(ctx, memberID)
			if err != nil {
				return fmt.Errorf("load enemy %s: %w", memberID, err)
			}
			enemySoldiers += member.ActiveSoldiers()
		}
	}

	chance, err := e.disengageChance(ctx, char, enemySoldiers)
	if err != nil {
		return err
	}
	escaped := e.roll(100) < chance

	if escaped {
		if err := e.deps.Military.RemoveFromBattleGroup(ctx, char.ID, act.TargetBattleGroupID); err != nil {
			return fmt.Errorf("leave battle group: %w", err)
		}
		if enemy != nil {
			for _, memberID := range enemy.MemberIDs {
				regroup := action.New(action.TypeMilitaryRegroup, memberID)
				regroup.CanCancel = false
				regroup.CompleteAt(e.now().Add(regroupCooldown))
				if _, err := e.Queue(ctx, regroup, true); err != nil {
					return fmt.Errorf("queue regroup for %s: %w", memberID, err)
				}
			}
		}
		if err := e.log(ctx, world.CharacterRef(char.ID), "military.disengage.success",
			map[string]string{"battle": battle.ID}, world.SeverityMedium, false); err != nil {
			return err
		}
		if err := e.deleteAction(ctx, act); err != nil {
			return err
		}
	} else {
		// Convert in place into a hidden intercepted marker.
		act.Type = action.TypeMilitaryIntercepted
		act.Hidden = true
		act.CanCancel = false
		act.Complete = nil
		if err := e.deps.Actions.SaveAction(ctx, act); err != nil {
			return fmt.Errorf("save intercepted marker: %w", err)
		}
		if err := e.log(ctx, world.CharacterRef(char.ID), "military.disengage.failed",
			map[string]string{"battle": battle.ID}, world.SeverityMedium, false); err != nil {
			return err
		}
	}

	if err := e.unblockBattleAction(ctx, char.ID, act.TargetBattleGroupID); err != nil {
		return err
	}
	return e.nudgeTravel(ctx, char, escaped)
}

// unblockBattleAction clears the travel block on the character's pending
// battle companion action for the group, so the character can move again
// whether the slip succeeded or was intercepted.
func (e *Engine) unblockBattleAction(ctx context.Context, characterID, groupID string) error {
	acts, err := e.deps.Actions.ActionsByCharacter(ctx, characterID)
	if err != nil {
		return fmt.Errorf("list character actions: %w", err)
	}
	for _, other := range acts {
		if other.TargetBattleGroupID != groupID {
			continue
		}
		if other.Type != action.TypeMilitaryBattle && other.Type != action.TypeSettlementAttack {
			continue
		}
		if !other.BlockTravel {
			continue
		}
		other.BlockTravel = false
		if err := e.deps.Actions.SaveAction(ctx, other); err != nil {
			return fmt.Errorf("unblock battle action %s: %w", other.ID, err)
		}
	}
	return nil
}

// nudgeTravel pushes a mid-travel character slightly past the engagement
// point so they are not trapped exactly where the fight started.
func (e *Engine) nudgeTravel(ctx context.Context, char *world.Character, escaped bool) error {
	if escaped {
		char.TravelLocked = false
	}
	if char.Traveling {
		frac := 0.05
		if escaped {
			frac = 0.1
		}
		char.Progress = math.Min(1.0, char.Progress+frac*char.Speed*e.cfg.TravelSpeedMod)
	}
	if err := e.deps.World.SaveCharacter(ctx, char); err != nil {
		return fmt.Errorf("save character: %w", err)
	}
	return nil
}

// updateMilitaryAid fires whenever circumstances change around a pending
// aid order: once the helper is free and the target is in reach and in
// battle, the helper joins every group the target fights in.
func (e *Engine) updateMilitaryAid(ctx context.Context, act *action.Action) error {
	if act.TargetCharacterID == "" {
		return e.discardInvalid(ctx, act, "missing character target")
	}
	char, err := e.deps.World.Character(ctx, act.CharacterID)
	if err != nil {
		return fmt.Errorf("load character: %w", err)
	}
	if char.InBattle() {
		return nil
	}
	acts, err := e.deps.Actions.ActionsByCharacter(ctx, char.ID)
	if err != nil {
		return fmt.Errorf("list character actions: %w", err)
	}
	for _, other := range acts {
		if other.Type == action.TypeMilitaryRegroup {
			return nil
		}
	}

	target, err := e.deps.World.Character(ctx, act.TargetCharacterID)
	if err != nil {
		return fmt.Errorf("load aid target: %w", err)
	}
	if !target.InBattle() {
		return nil
	}
	if target.InsideSettlementID != char.InsideSettlementID {
		return nil
	}
	dist, err := e.deps.Geography.DistanceToCharacter(ctx, char.ID, target.ID)
	if err != nil {
		return fmt.Errorf("distance to target: %w", err)
	}
	reach, err := e.deps.Geography.InteractionDistance(ctx, char.ID)
	if err != nil {
		return fmt.Errorf("interaction distance: %w", err)
	}
	if dist > reach {
		return nil
	}

	for _, groupID := range target.BattleGroupIDs {
		battle, err := e.deps.Battles.BattleByGroup(ctx, groupID)
		if err != nil {
			return fmt.Errorf("load battle for group %s: %w", groupID, err)
		}
		if _, err := e.JoinBattle(ctx, char.ID, battle, groupID, true, false); err != nil {
			return fmt.Errorf("join battle %s: %w", battle.ID, err)
		}
	}
	return e.deleteAction(ctx, act)
}

// resolveMilitaryAid is the terminal path, reached only when the update
// pass never managed to place the helper into a battle.
func (e *Engine) resolveMilitaryAid(ctx context.Context, act *action.Action) error {
	if err := e.log(ctx, world.CharacterRef(act.CharacterID), "military.aid.ended",
		map[string]string{"target": act.TargetCharacterID}, world.SeverityLow, false); err != nil {
		return err
	}
	return e.deleteAction(ctx, act)
}

// updateMilitaryBlock scans for targets inside twice the character's
// interaction range and opens a battle against any the listing policy
// selects: in attack mode the listed characters, in allow mode everyone
// else. A blocker already fighting waits for that battle to finish.
func (e *Engine) updateMilitaryBlock(ctx context.Context, act *action.Action) error {
	char, err := e.deps.World.Character(ctx, act.CharacterID)
	if err != nil {
		return fmt.Errorf("load character: %w", err)
	}
	if char.InBattle() {
		return nil
	}
	reach, err := e.deps.Geography.InteractionDistance(ctx, act.CharacterID)
	if err != nil {
		return fmt.Errorf("interaction distance: %w", err)
	}
	nearby, err := e.deps.Geography.CharactersNear(ctx, act.CharacterID, 2*reach, world.NearOptions{OnlyActive: true})
	if err != nil {
		return fmt.Errorf("characters near: %w", err)
	}

	var targets []string
	for _, otherID := range nearby {
		listed := false
		if act.TargetListingID != "" {
			listed, err = e.deps.Permissions.CheckListing(ctx, act.TargetListingID, otherID)
			if err != nil {
				return fmt.Errorf("check listing for %s: %w", otherID, err)
			}
		}
		if (listed && act.StringValue == action.ValueAttack) || (!listed && act.StringValue == action.ValueAllow) {
			targets = append(targets, otherID)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	if _, err := e.CreateBattle(ctx, act.CharacterID, "", targets); err != nil {
		return fmt.Errorf("create block battle: %w", err)
	}
	return e.deleteAction(ctx, act)
}
