package worldmem

import (
	"context"
	"testing"
	"time"

	"github.com/lowenmark/crownfall/internal/game/action"
	"github.com/lowenmark/crownfall/internal/game/world"
	"github.com/lowenmark/crownfall/internal/storage"
)

func TestDirectoryRoundTripCopies(t *testing.T) {
	w := New()
	ctx := context.Background()

	original := &world.Character{ID: "char-1", Name: "Aldric", Soldiers: []world.Soldier{{Type: world.SoldierArcher}}}
	w.PutCharacter(original)
	original.Name = "changed after put"

	loaded, err := w.Character(ctx, "char-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Name != "Aldric" {
		t.Fatalf("name = %q, fixture aliased", loaded.Name)
	}
	loaded.Soldiers[0].Wounded = true
	again, _ := w.Character(ctx, "char-1")
	if again.Soldiers[0].Wounded {
		t.Fatal("stored character aliased by loaded copy")
	}

	if _, err := w.Character(ctx, "missing"); err != storage.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestHistoryCycles(t *testing.T) {
	w := New()
	ctx := context.Background()
	subject := world.SettlementRef("set-1")

	w.SetCycles(subject, []int{5, 15, 25})
	cycle, ok, err := w.MaxCycleBefore(ctx, subject, 20)
	if err != nil {
		t.Fatalf("max cycle: %v", err)
	}
	if !ok || cycle != 15 {
		t.Fatalf("cycle = %d ok = %v, want 15 true", cycle, ok)
	}
	_, ok, err = w.MaxCycleBefore(ctx, subject, 5)
	if err != nil {
		t.Fatalf("max cycle: %v", err)
	}
	if ok {
		t.Fatal("found a boundary older than the oldest")
	}
}

func TestActionStoreClaims(t *testing.T) {
	s := NewActionStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	act := action.New(action.TypeMilitaryHire, "char-1")
	act.CompleteAt(now.Add(-time.Minute))
	if err := s.SaveAction(ctx, act); err != nil {
		t.Fatalf("save: %v", err)
	}

	due, err := s.FetchDue(ctx, now, 5, time.Minute)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("due = %d, want 1", len(due))
	}
	again, err := s.FetchDue(ctx, now, 5, time.Minute)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("claimed action fetched twice")
	}
	later, err := s.FetchDue(ctx, now.Add(2*time.Minute), 5, time.Minute)
	if err != nil {
		t.Fatalf("post-lease fetch: %v", err)
	}
	if len(later) != 1 {
		t.Fatalf("post-lease due = %d, want 1", len(later))
	}
}

func TestBattleStoreGroupIndex(t *testing.T) {
	s := NewBattleStore()
	ctx := context.Background()

	battle := &world.Battle{ID: "battle-1", Groups: []*world.BattleGroup{
		{ID: "grp-a", BattleID: "battle-1", Attacker: true},
		{ID: "grp-b", BattleID: "battle-1"},
	}}
	if err := s.SaveBattle(ctx, battle); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := s.BattleByGroup(ctx, "grp-b")
	if err != nil {
		t.Fatalf("by group: %v", err)
	}
	if loaded.ID != "battle-1" {
		t.Fatalf("battle = %q", loaded.ID)
	}
	if err := s.DeleteBattle(ctx, "battle-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.BattleByGroup(ctx, "grp-a"); err != storage.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
