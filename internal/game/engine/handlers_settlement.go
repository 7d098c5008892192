package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/lowenmark/crownfall/internal/game/action"
	"github.com/lowenmark/crownfall/internal/game/world"
)

// log writes a history event, tolerating an absent history collaborator.
func (e *Engine) log(ctx context.Context, subject world.Ref, key string, params map[string]string, severity world.Severity, public bool) error {
	if e.deps.History == nil {
		return nil
	}
	return e.deps.History.LogEvent(ctx, subject, key, params, severity, public, 0)
}

// deleteAction terminally removes the action and releases any entourage
// NPCs it tied up.
func (e *Engine) deleteAction(ctx context.Context, act *action.Action) error {
	for _, npcID := range act.AssignedEntourageIDs {
		if err := e.deps.World.SetEntourageAction(ctx, npcID, ""); err != nil {
			return fmt.Errorf("release entourage %s: %w", npcID, err)
		}
	}
	if err := e.deps.Actions.DeleteAction(ctx, act.ID); err != nil {
		return fmt.Errorf("delete action %s: %w", act.ID, err)
	}
	return nil
}

// resolveCleanup builds the terminal handler for occupy-only actions: they
// exist to tie up a character for a duration and, on maturity, just log
// (when a key is given) and remove themselves.
func (e *Engine) resolveCleanup(eventKey string) ResolveFunc {
	return func(ctx context.Context, act *action.Action) error {
		if eventKey != "" {
			if err := e.log(ctx, world.CharacterRef(act.CharacterID), eventKey, nil, world.SeverityLow, false); err != nil {
				return err
			}
		}
		return e.deleteAction(ctx, act)
	}
}

// soldiersBehind sums the active soldier counts of the characters owning
// the listed actions. Missing actions are skipped: a contest participant
// that already resolved no longer counts.
func (e *Engine) soldiersBehind(ctx context.Context, actionIDs []string) (int, error) {
	total := 0
	for _, id := range actionIDs {
		other, err := e.deps.Actions.Action(ctx, id)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return 0, fmt.Errorf("load contest action %s: %w", id, err)
		}
		char, err := e.deps.World.Character(ctx, other.CharacterID)
		if err != nil {
			return 0, fmt.Errorf("load contest character %s: %w", other.CharacterID, err)
		}
		total += char.ActiveSoldiers()
	}
	return total, nil
}

// checkSettlementTake re-verifies the takeover and, on failure, writes the
// failure event pair. Used both at resolution and on every update pass, so
// a takeover that loses its footing is invalidated as soon as noticed.
func (e *Engine) checkSettlementTake(ctx context.Context, act *action.Action) (bool, error) {
	ok, reason, err := e.deps.Eligibility.CanTakeSettlement(ctx, act.CharacterID, act.TargetSettlementID)
	if err != nil {
		return false, fmt.Errorf("check settlement take: %w", err)
	}
	if ok {
		return true, nil
	}
	params := map[string]string{"settlement": act.TargetSettlementID, "reason": reason}
	if err := e.log(ctx, world.CharacterRef(act.CharacterID), "settlement.take.failed", params, world.SeverityMedium, false); err != nil {
		return false, err
	}
	if err := e.log(ctx, world.SettlementRef(act.TargetSettlementID), "settlement.take.repelled",
		map[string]string{"character": act.CharacterID}, world.SeverityMedium, true); err != nil {
		return false, err
	}
	return false, nil
}

func (e *Engine) resolveSettlementTake(ctx context.Context, act *action.Action) error {
	if act.TargetSettlementID == "" {
		return e.discardInvalid(ctx, act, "missing settlement target")
	}
	ok, err := e.checkSettlementTake(ctx, act)
	if err != nil {
		return err
	}
	if !ok {
		return e.deleteAction(ctx, act)
	}

	settlement, err := e.deps.World.Settlement(ctx, act.TargetSettlementID)
	if err != nil {
		return fmt.Errorf("load settlement: %w", err)
	}
	if settlement.OwnerID != "" {
		if err := e.deps.History.CloseLog(ctx, world.SettlementRef(settlement.ID), settlement.OwnerID); err != nil {
			return fmt.Errorf("close previous owner log: %w", err)
		}
	}
	if err := e.deps.History.OpenLog(ctx, world.SettlementRef(act.TargetSettlementID), act.CharacterID); err != nil {
		return fmt.Errorf("open settlement log: %w", err)
	}

	if err := e.deps.Politics.ChangeSettlementOwner(ctx, act.TargetSettlementID, act.CharacterID, "settlement.take"); err != nil {
		return fmt.Errorf("transfer ownership: %w", err)
	}
	if act.StringValue != action.ValueKeepClaim {
		// The conquered settlement leaves the defender's realm even when the
		// conqueror brings none of their own.
		if err := e.deps.Politics.ChangeSettlementRealm(ctx, act.TargetSettlementID, act.TargetRealmID, "settlement.take"); err != nil {
			return fmt.Errorf("transfer realm: %w", err)
		}
	}

	char, err := e.deps.World.Character(ctx, act.CharacterID)
	if err != nil {
		return fmt.Errorf("load character: %w", err)
	}
	if char.InsideSettlementID != act.TargetSettlementID {
		if _, err := e.deps.Interactions.EnterSettlement(ctx, act.CharacterID, act.TargetSettlementID); err != nil {
			return fmt.Errorf("enter taken settlement: %w", err)
		}
	}

	params := map[string]string{"settlement": act.TargetSettlementID, "character": act.CharacterID}
	if err := e.log(ctx, world.SettlementRef(act.TargetSettlementID), "settlement.take.success", params, world.SeverityHigh, true); err != nil {
		return err
	}
	if err := e.log(ctx, world.CharacterRef(act.CharacterID), "settlement.take.success", params, world.SeverityHigh, false); err != nil {
		return err
	}
	return e.deleteAction(ctx, act)
}

// updateSettlementTake re-verifies the takeover, dropping it when the
// character can no longer take, and otherwise recomputes the deadline
// proportionally when attacker or defender strength changes. Repeated
// calls with unchanged inputs converge on the same deadline.
func (e *Engine) updateSettlementTake(ctx context.Context, act *action.Action) error {
	if act.Complete == nil || act.TargetSettlementID == "" {
		return nil
	}
	ok, err := e.checkSettlementTake(ctx, act)
	if err != nil {
		return err
	}
	if !ok {
		return e.deleteAction(ctx, act)
	}
	char, err := e.deps.World.Character(ctx, act.CharacterID)
	if err != nil {
		return fmt.Errorf("load character: %w", err)
	}
	attackers := char.ActiveSoldiers()
	supporting, err := e.soldiersBehind(ctx, act.SupportingActionIDs)
	if err != nil {
		return err
	}
	attackers += supporting
	defenders, err := e.soldiersBehind(ctx, act.OpposingActionIDs)
	if err != nil {
		return err
	}

	newDur, err := e.deps.Military.TimeToTake(ctx, act.TargetSettlementID, act.CharacterID, attackers, defenders)
	if err != nil {
		return fmt.Errorf("compute take time: %w", err)
	}
	oldDur := act.Complete.Sub(act.Started)
	if oldDur <= 0 {
		return nil
	}
	if math.Abs(float64(newDur-oldDur)) <= 0.01*float64(oldDur) {
		return nil
	}

	now := e.now()
	done := math.Min(1, float64(now.Sub(act.Started))/float64(oldDur))
	act.Started = now.Add(-time.Duration(done * float64(newDur)))
	act.CompleteAt(now.Add(time.Duration((1 - done) * float64(newDur))))
	if err := e.deps.Actions.SaveAction(ctx, act); err != nil {
		return fmt.Errorf("save rescheduled takeover: %w", err)
	}
	return nil
}

func (e *Engine) resolveSettlementEnter(ctx context.Context, act *action.Action) error {
	if act.TargetSettlementID == "" {
		return e.discardInvalid(ctx, act, "missing settlement target")
	}
	entered, err := e.deps.Interactions.EnterSettlement(ctx, act.CharacterID, act.TargetSettlementID)
	if err != nil {
		return fmt.Errorf("enter settlement: %w", err)
	}
	key := "settlement.enter.refused"
	if entered {
		key = "settlement.enter.success"
	}
	if err := e.log(ctx, world.CharacterRef(act.CharacterID), key,
		map[string]string{"settlement": act.TargetSettlementID}, world.SeverityLow, false); err != nil {
		return err
	}
	return e.deleteAction(ctx, act)
}

func (e *Engine) resolveSettlementRename(ctx context.Context, act *action.Action) error {
	if act.TargetSettlementID == "" {
		return e.discardInvalid(ctx, act, "missing settlement target")
	}
	newName := strings.TrimSpace(act.StringValue)
	reason := ""
	if newName == "" {
		reason = "empty_name"
	} else {
		ok, denied, err := e.deps.Eligibility.CanRenameSettlement(ctx, act.CharacterID, act.TargetSettlementID)
		if err != nil {
			return fmt.Errorf("check settlement rename: %w", err)
		}
		if !ok {
			reason = denied
		}
	}
	if reason != "" {
		if err := e.log(ctx, world.CharacterRef(act.CharacterID), "settlement.rename.failed",
			map[string]string{"settlement": act.TargetSettlementID, "reason": reason}, world.SeverityLow, false); err != nil {
			return err
		}
		return e.deleteAction(ctx, act)
	}

	settlement, err := e.deps.World.Settlement(ctx, act.TargetSettlementID)
	if err != nil {
		return fmt.Errorf("load settlement: %w", err)
	}
	oldName := settlement.Name
	settlement.Name = newName
	if settlement.HasGeoMarker {
		settlement.GeoMarkerName = newName
	}
	if err := e.deps.World.SaveSettlement(ctx, settlement); err != nil {
		return fmt.Errorf("save renamed settlement: %w", err)
	}

	params := map[string]string{"old": oldName, "new": newName, "character": act.CharacterID}
	if err := e.log(ctx, world.SettlementRef(settlement.ID), "settlement.rename.success", params, world.SeverityMedium, true); err != nil {
		return err
	}
	if err := e.log(ctx, world.CharacterRef(act.CharacterID), "settlement.rename.success", params, world.SeverityLow, false); err != nil {
		return err
	}
	return e.deleteAction(ctx, act)
}

func (e *Engine) resolveSettlementGrant(ctx context.Context, act *action.Action) error {
	if act.TargetSettlementID == "" {
		return e.discardInvalid(ctx, act, "missing settlement target")
	}
	if act.TargetCharacterID == "" {
		return e.discardInvalid(ctx, act, "missing grantee target")
	}
	ok, reason, err := e.deps.Eligibility.CanGrantSettlement(ctx, act.CharacterID, act.TargetSettlementID)
	if err != nil {
		return fmt.Errorf("check settlement grant: %w", err)
	}
	if !ok {
		if err := e.log(ctx, world.CharacterRef(act.CharacterID), "settlement.grant.failed",
			map[string]string{"settlement": act.TargetSettlementID, "reason": reason}, world.SeverityLow, false); err != nil {
			return err
		}
		return e.deleteAction(ctx, act)
	}

	settlement, err := e.deps.World.Settlement(ctx, act.TargetSettlementID)
	if err != nil {
		return fmt.Errorf("load settlement: %w", err)
	}
	if settlement.OwnerID != "" {
		if err := e.deps.History.CloseLog(ctx, world.SettlementRef(settlement.ID), settlement.OwnerID); err != nil {
			return fmt.Errorf("close previous owner log: %w", err)
		}
	}
	if err := e.deps.History.OpenLog(ctx, world.SettlementRef(act.TargetSettlementID), act.TargetCharacterID); err != nil {
		return fmt.Errorf("open settlement log: %w", err)
	}
	if err := e.deps.Politics.ChangeSettlementOwner(ctx, act.TargetSettlementID, act.TargetCharacterID, "settlement.grant"); err != nil {
		return fmt.Errorf("grant ownership: %w", err)
	}
	if act.StringValue == action.ValueClearRealm {
		if err := e.deps.Politics.ChangeSettlementRealm(ctx, act.TargetSettlementID, "", "settlement.grant"); err != nil {
			return fmt.Errorf("clear realm: %w", err)
		}
	}

	params := map[string]string{"settlement": act.TargetSettlementID, "from": act.CharacterID, "to": act.TargetCharacterID}
	if err := e.log(ctx, world.SettlementRef(act.TargetSettlementID), "settlement.grant.success", params, world.SeverityHigh, true); err != nil {
		return err
	}
	if err := e.log(ctx, world.CharacterRef(act.TargetCharacterID), "settlement.grant.received", params, world.SeverityMedium, false); err != nil {
		return err
	}
	return e.deleteAction(ctx, act)
}

// updateSettlementDefend drops a standing defend order once the character
// drifts out of the settlement's action range.
func (e *Engine) updateSettlementDefend(ctx context.Context, act *action.Action) error {
	if act.TargetSettlementID == "" {
		return e.discardInvalid(ctx, act, "missing settlement target")
	}
	dist, err := e.deps.Geography.DistanceToSettlement(ctx, act.CharacterID, act.TargetSettlementID)
	if err != nil {
		return fmt.Errorf("distance to settlement: %w", err)
	}
	maxDist, err := e.deps.Geography.ActionDistance(ctx, act.TargetSettlementID)
	if err != nil {
		return fmt.Errorf("action distance: %w", err)
	}
	if dist <= maxDist {
		return nil
	}
	if err := e.log(ctx, world.CharacterRef(act.CharacterID), "settlement.defend.abandoned",
		map[string]string{"settlement": act.TargetSettlementID}, world.SeverityLow, false); err != nil {
		return err
	}
	return e.deleteAction(ctx, act)
}
