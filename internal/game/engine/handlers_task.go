package engine

import (
	"context"
	"fmt"

	"github.com/lowenmark/crownfall/internal/game/action"
	"github.com/lowenmark/crownfall/internal/game/world"
)

// researchSubject picks the log the research action digs through. A realm
// target wins over a settlement, a settlement over a character.
func researchSubject(act *action.Action) (world.Ref, bool) {
	switch {
	case act.TargetRealmID != "":
		return world.RealmRef(act.TargetRealmID), true
	case act.TargetSettlementID != "":
		return world.SettlementRef(act.TargetSettlementID), true
	case act.TargetCharacterID != "":
		return world.CharacterRef(act.TargetCharacterID), true
	}
	return world.Ref{}, false
}

// resolveTaskResearch walks the researcher's read-access watermark one
// cycle boundary further into the past per tick. Once no earlier boundary
// remains the archive is fully opened and the task completes.
func (e *Engine) resolveTaskResearch(ctx context.Context, act *action.Action) error {
	subject, ok := researchSubject(act)
	if !ok {
		return e.discardInvalid(ctx, act, "missing research target")
	}

	watermark, err := e.deps.History.AccessFrom(ctx, subject, act.CharacterID)
	if err != nil {
		return fmt.Errorf("read access watermark: %w", err)
	}
	earlier, found, err := e.deps.History.MaxCycleBefore(ctx, subject, watermark)
	if err != nil {
		return fmt.Errorf("find earlier cycle: %w", err)
	}
	if !found {
		if err := e.log(ctx, world.CharacterRef(act.CharacterID), "task.research.complete",
			map[string]string{"subject": subject.ID}, world.SeverityLow, false); err != nil {
			return err
		}
		return e.deleteAction(ctx, act)
	}

	if err := e.deps.History.SetAccessFrom(ctx, subject, act.CharacterID, earlier); err != nil {
		return fmt.Errorf("advance access watermark: %w", err)
	}
	act.CompleteAt(e.now().Add(e.cfg.ResearchInterval))
	if err := e.deps.Actions.SaveAction(ctx, act); err != nil {
		return fmt.Errorf("reschedule research: %w", err)
	}
	return nil
}
