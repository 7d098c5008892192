package engine

import (
	"context"
	"testing"

	"github.com/lowenmark/crownfall/internal/game/action"
	"github.com/lowenmark/crownfall/internal/game/world"
	"github.com/lowenmark/crownfall/internal/storage"
)

func TestEscapeFromInactiveCaptorAlwaysSucceeds(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	env.world.PutCharacter(&world.Character{ID: "char-p", PrisonerOfID: "char-c"})
	env.world.PutCharacter(&world.Character{ID: "char-c", Active: false, PrisonerIDs: []string{"char-p"}})

	act := action.New(action.TypeCharacterEscape, "char-p")
	if err := env.actions.SaveAction(ctx, act); err != nil {
		t.Fatalf("save: %v", err)
	}
	env.roll = 99 // even the worst draw beats an absent captor
	if _, err := env.engine.Resolve(ctx, act); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	prisoner, _ := env.world.Character(ctx, "char-p")
	if prisoner.PrisonerOfID != "" {
		t.Fatalf("still captive of %q", prisoner.PrisonerOfID)
	}
	captor, _ := env.world.Character(ctx, "char-c")
	if len(captor.PrisonerIDs) != 0 {
		t.Fatalf("captor prisoners = %v", captor.PrisonerIDs)
	}
	if _, err := env.actions.Action(ctx, act.ID); err != storage.ErrNotFound {
		t.Fatalf("action still stored: %v", err)
	}
}

func TestEscapeFromActiveCaptor(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	env.world.PutCharacter(&world.Character{ID: "char-p", PrisonerOfID: "char-c"})
	env.world.PutCharacter(&world.Character{ID: "char-c", Active: true, PrisonerIDs: []string{"char-p"}})

	// A watched prisoner slips only on a draw below 10.
	act := action.New(action.TypeCharacterEscape, "char-p")
	if err := env.actions.SaveAction(ctx, act); err != nil {
		t.Fatalf("save: %v", err)
	}
	env.roll = 10
	if _, err := env.engine.Resolve(ctx, act); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	prisoner, _ := env.world.Character(ctx, "char-p")
	if prisoner.PrisonerOfID != "char-c" {
		t.Fatal("escaped past an active captor on a failing draw")
	}
	events := env.world.EventsFor(world.CharacterRef("char-p"))
	if len(events) != 1 || events[0].Key != "character.escape.failed" {
		t.Fatalf("events = %+v", events)
	}
	// The captor hears about the attempt.
	captorEvents := env.world.EventsFor(world.CharacterRef("char-c"))
	if len(captorEvents) != 1 || captorEvents[0].Key != "character.escape.attempted" {
		t.Fatalf("captor events = %+v", captorEvents)
	}
	// The attempt is one-shot either way.
	if _, err := env.actions.Action(ctx, act.ID); err != storage.ErrNotFound {
		t.Fatalf("action still stored: %v", err)
	}

	retry := action.New(action.TypeCharacterEscape, "char-p")
	if err := env.actions.SaveAction(ctx, retry); err != nil {
		t.Fatalf("save retry: %v", err)
	}
	env.roll = 9
	if _, err := env.engine.Resolve(ctx, retry); err != nil {
		t.Fatalf("resolve retry: %v", err)
	}
	prisoner, _ = env.world.Character(ctx, "char-p")
	if prisoner.PrisonerOfID != "" {
		t.Fatal("winning draw did not free the prisoner")
	}
}

func TestEscapeWithoutCaptorJustCleansUp(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	env.world.PutCharacter(&world.Character{ID: "char-p"})
	act := action.New(action.TypeCharacterEscape, "char-p")
	if err := env.actions.SaveAction(ctx, act); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := env.engine.Resolve(ctx, act); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := env.actions.Action(ctx, act.ID); err != storage.ErrNotFound {
		t.Fatalf("action still stored: %v", err)
	}
}
