package engine

import (
	"context"
	"fmt"

	"github.com/lowenmark/crownfall/internal/errors"
	"github.com/lowenmark/crownfall/internal/game/action"
	"github.com/lowenmark/crownfall/internal/telemetry"
)

// QueueResult reports how an enqueue was handled.
type QueueResult struct {
	// Success is the resolution outcome when Immediate, and true otherwise.
	Success bool
	// Immediate reports whether the action resolved synchronously instead
	// of being persisted for later pickup.
	Immediate bool
}

// Progress is the tick entry point. It fetches due actions, earliest-due
// first and capped at the configured batch size, and resolves each in turn.
// A failing item is recorded and the batch continues; only a failing fetch
// aborts the pass.
func (e *Engine) Progress(ctx context.Context) error {
	due, err := e.deps.Actions.FetchDue(ctx, e.now(), e.cfg.MaxProgress, e.cfg.ClaimLease)
	if err != nil {
		return fmt.Errorf("fetch due actions: %w", err)
	}
	for _, act := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := e.Resolve(ctx, act); err != nil {
			e.deps.Telemetry.Emit(ctx, "action.resolve_failed", telemetry.SeverityError, map[string]string{
				"action_id": act.ID,
				"type":      string(act.Type),
				"error":     err.Error(),
			})
		}
	}
	return nil
}

// Queue schedules the action. A standing action whose handler permits it
// resolves synchronously when the immediate-actions toggle is on; otherwise
// the action receives the character's next priority slot and is persisted
// for the scheduler.
func (e *Engine) Queue(ctx context.Context, act *action.Action, neverImmediate bool) (QueueResult, error) {
	if err := act.Validate(); err != nil {
		return QueueResult{}, err
	}
	handler, ok := e.reg.Lookup(act.Type)
	if !ok {
		return QueueResult{}, errors.WithMetadata(errors.CodeActionUnknownType,
			"cannot queue action of unknown type", map[string]string{"type": string(act.Type)})
	}
	act.Type = action.Normalize(act.Type)
	act.Started = e.now()

	if e.cfg.ImmediateActions && act.Standing() && !neverImmediate && !handler.NeverImmediate {
		ok, err := e.Resolve(ctx, act)
		return QueueResult{Success: ok, Immediate: true}, err
	}

	max, err := e.deps.Actions.MaxPriority(ctx, act.CharacterID)
	if err != nil {
		return QueueResult{}, fmt.Errorf("next priority for %s: %w", act.CharacterID, err)
	}
	act.Priority = max + 1
	if err := e.deps.Actions.SaveAction(ctx, act); err != nil {
		return QueueResult{}, fmt.Errorf("persist queued action: %w", err)
	}
	return QueueResult{Success: true}, nil
}

// Resolve dispatches the action to its handler. An unregistered type is
// stale data: the action is removed, a telemetry event recorded, and the
// call reports failure without an error.
func (e *Engine) Resolve(ctx context.Context, act *action.Action) (bool, error) {
	handler, ok := e.reg.Lookup(act.Type)
	if !ok {
		e.deps.Telemetry.Emit(ctx, "action.unknown_type", telemetry.SeverityWarn, map[string]string{
			"action_id": act.ID,
			"type":      string(act.Type),
		})
		if err := e.deps.Actions.DeleteAction(ctx, act.ID); err != nil {
			return false, fmt.Errorf("remove stale action %s: %w", act.ID, err)
		}
		return false, nil
	}
	if err := handler.Resolve(ctx, act); err != nil {
		return false, err
	}
	return true, nil
}

// Update runs the action's recompute pass, reporting whether the type has
// one. Types without an update handler are no-ops.
func (e *Engine) Update(ctx context.Context, act *action.Action) (bool, error) {
	handler, ok := e.reg.Lookup(act.Type)
	if !ok || handler.Update == nil {
		return false, nil
	}
	if err := handler.Update(ctx, act); err != nil {
		return true, err
	}
	return true, nil
}

// discardInvalid removes an action that is structurally unable to resolve,
// recording why. Invalid actions never linger in the store.
func (e *Engine) discardInvalid(ctx context.Context, act *action.Action, reason string) error {
	e.deps.Telemetry.Emit(ctx, "action.invalid", telemetry.SeverityWarn, map[string]string{
		"action_id": act.ID,
		"type":      string(act.Type),
		"reason":    reason,
	})
	if err := e.deps.Actions.DeleteAction(ctx, act.ID); err != nil {
		return fmt.Errorf("remove invalid action %s: %w", act.ID, err)
	}
	return nil
}
