package engine

import (
	"context"
	"fmt"

	"github.com/lowenmark/crownfall/internal/game/action"
	"github.com/lowenmark/crownfall/internal/game/world"
)

// Escape odds depend on whether the captor's player is paying attention.
const (
	escapeChanceWatched   = 10
	escapeChanceAbandoned = 100
)

func (e *Engine) resolveCharacterEscape(ctx context.Context, act *action.Action) error {
	char, err := e.deps.World.Character(ctx, act.CharacterID)
	if err != nil {
		return fmt.Errorf("load character: %w", err)
	}
	if char.PrisonerOfID == "" {
		// Released some other way while the attempt was pending.
		return e.deleteAction(ctx, act)
	}
	captor, err := e.deps.World.Character(ctx, char.PrisonerOfID)
	if err != nil {
		return fmt.Errorf("load captor: %w", err)
	}

	chance := escapeChanceAbandoned
	if captor.Active {
		chance = escapeChanceWatched
	}
	if e.roll(100) < chance {
		char.PrisonerOfID = ""
		if err := e.deps.World.SaveCharacter(ctx, char); err != nil {
			return fmt.Errorf("save escaped prisoner: %w", err)
		}
		kept := captor.PrisonerIDs[:0]
		for _, id := range captor.PrisonerIDs {
			if id != char.ID {
				kept = append(kept, id)
			}
		}
		captor.PrisonerIDs = kept
		if err := e.deps.World.SaveCharacter(ctx, captor); err != nil {
			return fmt.Errorf("save captor: %w", err)
		}
		params := map[string]string{"character": char.ID, "captor": captor.ID}
		if err := e.log(ctx, world.CharacterRef(char.ID), "character.escape.success", params, world.SeverityHigh, false); err != nil {
			return err
		}
		if err := e.log(ctx, world.CharacterRef(captor.ID), "character.escape.lost_prisoner", params, world.SeverityMedium, false); err != nil {
			return err
		}
	} else {
		if err := e.log(ctx, world.CharacterRef(char.ID), "character.escape.failed",
			map[string]string{"captor": captor.ID}, world.SeverityLow, false); err != nil {
			return err
		}
		if err := e.log(ctx, world.CharacterRef(captor.ID), "character.escape.attempted",
			map[string]string{"character": char.ID}, world.SeverityMedium, false); err != nil {
			return err
		}
	}
	return e.deleteAction(ctx, act)
}
