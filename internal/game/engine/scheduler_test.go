package engine

import (
	"context"
	"testing"
	"time"

	"github.com/lowenmark/crownfall/internal/errors"
	"github.com/lowenmark/crownfall/internal/game/action"
	"github.com/lowenmark/crownfall/internal/storage"
)

func TestProgressResolvesBoundedBatch(t *testing.T) {
	env := newTestEnv(t, Config{MaxProgress: 5})
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		act := action.New(action.TypeMilitaryHire, "char-1")
		act.CompleteAt(env.now.Add(-time.Duration(i+1) * time.Minute))
		if _, err := env.engine.Queue(ctx, act, false); err != nil {
			t.Fatalf("queue: %v", err)
		}
	}

	if err := env.engine.Progress(ctx); err != nil {
		t.Fatalf("progress: %v", err)
	}
	remaining, err := env.actions.ActionsByCharacter(ctx, "char-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 3 {
		t.Fatalf("remaining = %d, want 3", len(remaining))
	}
	// The survivors are the least overdue ones: the batch picks earliest-due.
	for _, act := range remaining {
		if act.Complete.Before(env.now.Add(-3 * time.Minute)) {
			t.Fatalf("earliest-due action %s skipped", act.ID)
		}
	}
}

func TestQueueAssignsStrictlyIncreasingPriority(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	var last int
	for i := 0; i < 4; i++ {
		act := action.New(action.TypeMilitaryHire, "char-1")
		act.CompleteAt(env.now.Add(time.Hour))
		if _, err := env.engine.Queue(ctx, act, false); err != nil {
			t.Fatalf("queue: %v", err)
		}
		if act.Priority <= last {
			t.Fatalf("priority %d not greater than %d", act.Priority, last)
		}
		last = act.Priority
	}

	// Another character starts its own sequence.
	other := action.New(action.TypeMilitaryHire, "char-2")
	other.CompleteAt(env.now.Add(time.Hour))
	if _, err := env.engine.Queue(ctx, other, false); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if other.Priority != 1 {
		t.Fatalf("priority = %d, want 1", other.Priority)
	}
}

func TestQueueImmediateResolution(t *testing.T) {
	env := newTestEnv(t, Config{ImmediateActions: true})
	ctx := context.Background()

	act := action.New(action.TypeMilitaryHire, "char-1")
	res, err := env.engine.Queue(ctx, act, false)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if !res.Immediate || !res.Success {
		t.Fatalf("result = %+v, want immediate success", res)
	}
	if _, err := env.actions.Action(ctx, act.ID); err != storage.ErrNotFound {
		t.Fatalf("immediate action persisted: %v", err)
	}
}

func TestQueueImmediateRespectsCapability(t *testing.T) {
	env := newTestEnv(t, Config{ImmediateActions: true})
	ctx := context.Background()

	// Battle companions declare they cannot run synchronously.
	act := action.New(action.TypeMilitaryBattle, "char-1")
	res, err := env.engine.Queue(ctx, act, false)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if res.Immediate {
		t.Fatal("battle action resolved immediately")
	}
	if _, err := env.actions.Action(ctx, act.ID); err != nil {
		t.Fatalf("battle action not persisted: %v", err)
	}

	// The caller can also force deferral explicitly.
	deferred := action.New(action.TypeMilitaryHire, "char-1")
	res, err = env.engine.Queue(ctx, deferred, true)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if res.Immediate {
		t.Fatal("neverImmediate action resolved immediately")
	}
}

func TestQueueRejectsUnknownType(t *testing.T) {
	env := newTestEnv(t, Config{})
	act := action.New("bogus.type", "char-1")
	_, err := env.engine.Queue(context.Background(), act, false)
	if !errors.IsCode(err, errors.CodeActionUnknownType) {
		t.Fatalf("err = %v, want CodeActionUnknownType", err)
	}
}

func TestResolveRemovesStaleType(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	act := action.New("legacy.ritual", "char-1")
	act.CompleteAt(env.now.Add(-time.Minute))
	if err := env.actions.SaveAction(ctx, act); err != nil {
		t.Fatalf("save: %v", err)
	}

	ok, err := env.engine.Resolve(ctx, act)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ok {
		t.Fatal("stale action reported success")
	}
	if _, err := env.actions.Action(ctx, act.ID); err != storage.ErrNotFound {
		t.Fatalf("stale action still stored: %v", err)
	}
	events, err := env.telemetry.ListTelemetryEvents(ctx, 5)
	if err != nil {
		t.Fatalf("telemetry: %v", err)
	}
	if len(events) != 1 || events[0].Name != "action.unknown_type" {
		t.Fatalf("telemetry = %+v", events)
	}
}

func TestUpdateWithoutHandlerIsNoop(t *testing.T) {
	env := newTestEnv(t, Config{})
	act := action.New(action.TypeMilitaryHire, "char-1")
	handled, err := env.engine.Update(context.Background(), act)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if handled {
		t.Fatal("hire has no update pass")
	}
}
