package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/lowenmark/crownfall/internal/game/action"
	"github.com/lowenmark/crownfall/internal/game/world"
	"github.com/lowenmark/crownfall/internal/storage"
)

// fixtureBattle stores a two-group battle with char-d defending against
// char-e, plus char-d's travel-blocking companion action.
func fixtureBattle(t *testing.T, env *testEnv, enemySoldiers int) (*world.Battle, *action.Action) {
	t.Helper()
	ctx := context.Background()

	battle := &world.Battle{
		ID:       "battle-1",
		Started:  env.now.Add(-time.Hour),
		Complete: env.now.Add(time.Hour),
		Groups: []*world.BattleGroup{
			{ID: "grp-att", BattleID: "battle-1", Attacker: true, MemberIDs: []string{"char-e"}},
			{ID: "grp-def", BattleID: "battle-1", MemberIDs: []string{"char-d"}},
		},
	}
	if err := env.battles.SaveBattle(ctx, battle); err != nil {
		t.Fatalf("save battle: %v", err)
	}
	env.world.PutCharacter(&world.Character{ID: "char-e", Soldiers: soldiers(enemySoldiers)})

	companion := action.New(action.TypeMilitaryBattle, "char-d")
	companion.TargetBattleGroupID = "grp-def"
	companion.CanCancel = false
	companion.BlockTravel = true
	if err := env.actions.SaveAction(ctx, companion); err != nil {
		t.Fatalf("save companion: %v", err)
	}
	return battle, companion
}

func TestDisengageChanceScenario(t *testing.T) {
	// 500 soldiers against 3 active enemies: 40 - sqrt(2500) + 30 = 20.
	env := newTestEnv(t, Config{})
	env.world.PutCharacter(&world.Character{ID: "char-d", Soldiers: soldiers(500)})

	char, err := env.world.Character(context.Background(), "char-d")
	if err != nil {
		t.Fatalf("load character: %v", err)
	}
	chance, err := env.engine.disengageChance(context.Background(), char, 3)
	if err != nil {
		t.Fatalf("chance: %v", err)
	}
	if chance != 20 {
		t.Fatalf("chance = %d, want 20", chance)
	}
}

func TestDisengageChanceMonotonicAndClamped(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	prev := 101
	for _, partySize := range []int{0, 10, 50, 200, 1000} {
		env.world.PutCharacter(&world.Character{ID: "char-d", Soldiers: soldiers(partySize)})
		char, err := env.world.Character(ctx, "char-d")
		if err != nil {
			t.Fatalf("load character: %v", err)
		}
		chance, err := env.engine.disengageChance(ctx, char, 50)
		if err != nil {
			t.Fatalf("chance: %v", err)
		}
		if chance > prev {
			t.Fatalf("chance grew from %d to %d at party %d", prev, chance, partySize)
		}
		if chance < 5 || chance > 80 {
			t.Fatalf("chance %d outside [5,80]", chance)
		}
		prev = chance
	}
}

func TestDisengageChanceZeroWhenPinned(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	for _, pinning := range []action.Type{
		action.TypeMilitaryBlock,
		action.TypeMilitaryDamage,
		action.TypeSettlementLoot,
		action.TypeSettlementAttack,
		action.TypeSettlementDefend,
	} {
		env.world.PutCharacter(&world.Character{ID: "char-d"})
		pin := action.New(pinning, "char-d")
		if err := env.actions.SaveAction(ctx, pin); err != nil {
			t.Fatalf("save pin: %v", err)
		}
		char, err := env.world.Character(ctx, "char-d")
		if err != nil {
			t.Fatalf("load character: %v", err)
		}
		chance, err := env.engine.disengageChance(ctx, char, 0)
		if err != nil {
			t.Fatalf("chance: %v", err)
		}
		if chance != 0 {
			t.Fatalf("chance = %d with pending %s, want 0", chance, pinning)
		}
		if err := env.actions.DeleteAction(ctx, pin.ID); err != nil {
			t.Fatalf("delete pin: %v", err)
		}
	}
}

func TestDisengageSuccess(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	env.world.PutCharacter(&world.Character{
		ID: "char-d", Soldiers: soldiers(4),
		Traveling: true, TravelLocked: true, Progress: 0.5, Speed: 1.0,
		BattleGroupIDs: []string{"grp-def"},
	})
	_, companion := fixtureBattle(t, env, 3)

	act := action.New(action.TypeMilitaryDisengage, "char-d")
	act.TargetBattleGroupID = "grp-def"
	act.CompleteAt(env.now.Add(-time.Minute))
	if err := env.actions.SaveAction(ctx, act); err != nil {
		t.Fatalf("save: %v", err)
	}

	env.roll = 0 // guaranteed slip
	if _, err := env.engine.Resolve(ctx, act); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	battle, err := env.battles.Battle(ctx, "battle-1")
	if err != nil {
		t.Fatalf("load battle: %v", err)
	}
	if battle.Group("grp-def").HasMember("char-d") {
		t.Fatal("character still in group")
	}
	if _, err := env.actions.Action(ctx, act.ID); err != storage.ErrNotFound {
		t.Fatalf("disengage action still stored: %v", err)
	}

	// Every enemy gets a one-hour regroup cooldown.
	enemyActs, err := env.actions.ActionsByCharacter(ctx, "char-e")
	if err != nil {
		t.Fatalf("list enemy actions: %v", err)
	}
	if len(enemyActs) != 1 || enemyActs[0].Type != action.TypeMilitaryRegroup {
		t.Fatalf("enemy actions = %+v", enemyActs)
	}
	if enemyActs[0].CanCancel {
		t.Fatal("regroup is cancelable")
	}
	if want := env.now.Add(60 * time.Minute); !enemyActs[0].Complete.Equal(want) {
		t.Fatalf("regroup complete = %v, want %v", enemyActs[0].Complete, want)
	}

	// The companion battle action no longer blocks travel.
	updated, err := env.actions.Action(ctx, companion.ID)
	if err != nil {
		t.Fatalf("load companion: %v", err)
	}
	if updated.BlockTravel {
		t.Fatal("companion still blocks travel")
	}

	char, _ := env.world.Character(ctx, "char-d")
	if char.TravelLocked {
		t.Fatal("travel still locked")
	}
	if math.Abs(char.Progress-0.6) > 1e-9 {
		t.Fatalf("progress = %v, want 0.6", char.Progress)
	}
}

func TestDisengageFailureConvertsToIntercepted(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	env.world.PutCharacter(&world.Character{
		ID: "char-d", Soldiers: soldiers(4),
		Traveling: true, TravelLocked: true, Progress: 0.5, Speed: 1.0,
		BattleGroupIDs: []string{"grp-def"},
	})
	fixtureBattle(t, env, 3)

	act := action.New(action.TypeMilitaryDisengage, "char-d")
	act.TargetBattleGroupID = "grp-def"
	act.CompleteAt(env.now.Add(-time.Minute))
	if err := env.actions.SaveAction(ctx, act); err != nil {
		t.Fatalf("save: %v", err)
	}

	env.roll = 99 // caught
	if _, err := env.engine.Resolve(ctx, act); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	marker, err := env.actions.Action(ctx, act.ID)
	if err != nil {
		t.Fatalf("load marker: %v", err)
	}
	if marker.Type != action.TypeMilitaryIntercepted {
		t.Fatalf("type = %q, want intercepted", marker.Type)
	}
	if !marker.Hidden || marker.CanCancel || !marker.Standing() {
		t.Fatalf("marker = %+v, want hidden non-cancelable standing", marker)
	}

	battle, _ := env.battles.Battle(ctx, "battle-1")
	if !battle.Group("grp-def").HasMember("char-d") {
		t.Fatal("character left group despite being caught")
	}
	char, _ := env.world.Character(ctx, "char-d")
	if math.Abs(char.Progress-0.55) > 1e-9 {
		t.Fatalf("progress = %v, want 0.55", char.Progress)
	}
}

func TestMilitaryAidUpdateJoinsTargetBattle(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	env.world.PutCharacter(&world.Character{ID: "char-helper", Location: world.Point{X: 1}})
	env.world.PutCharacter(&world.Character{
		ID: "char-d", Location: world.Point{X: 2},
		Soldiers: soldiers(4), BattleGroupIDs: []string{"grp-def"},
	})
	battle, _ := fixtureBattle(t, env, 3)
	battle.ChannelID, _ = env.world.CreateChannel(ctx, "battle", battle.ID)
	if err := env.battles.SaveBattle(ctx, battle); err != nil {
		t.Fatalf("save battle: %v", err)
	}

	aid := action.New(action.TypeMilitaryAid, "char-helper")
	aid.TargetCharacterID = "char-d"
	if err := env.actions.SaveAction(ctx, aid); err != nil {
		t.Fatalf("save aid: %v", err)
	}

	if _, err := env.engine.Update(ctx, aid); err != nil {
		t.Fatalf("update: %v", err)
	}

	updated, err := env.battles.Battle(ctx, "battle-1")
	if err != nil {
		t.Fatalf("load battle: %v", err)
	}
	if !updated.Group("grp-def").HasMember("char-helper") {
		t.Fatal("helper not in defender group")
	}
	if _, err := env.actions.Action(ctx, aid.ID); err != storage.ErrNotFound {
		t.Fatalf("aid action still stored: %v", err)
	}
	if env.world.RecalcCount("battle-1") != 1 {
		t.Fatalf("recalc count = %d, want 1", env.world.RecalcCount("battle-1"))
	}
}

func TestMilitaryAidUpdateWaitsWhileRegrouping(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	env.world.PutCharacter(&world.Character{ID: "char-helper"})
	env.world.PutCharacter(&world.Character{ID: "char-d", BattleGroupIDs: []string{"grp-def"}})
	fixtureBattle(t, env, 3)

	regroup := action.New(action.TypeMilitaryRegroup, "char-helper")
	regroup.CompleteAt(env.now.Add(time.Hour))
	if err := env.actions.SaveAction(ctx, regroup); err != nil {
		t.Fatalf("save regroup: %v", err)
	}
	aid := action.New(action.TypeMilitaryAid, "char-helper")
	aid.TargetCharacterID = "char-d"
	if err := env.actions.SaveAction(ctx, aid); err != nil {
		t.Fatalf("save aid: %v", err)
	}

	if _, err := env.engine.Update(ctx, aid); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := env.actions.Action(ctx, aid.ID); err != nil {
		t.Fatalf("aid action dropped while regrouping: %v", err)
	}
	battle, _ := env.battles.Battle(ctx, "battle-1")
	if battle.Group("grp-def").HasMember("char-helper") {
		t.Fatal("regrouping helper joined anyway")
	}
}

func TestMilitaryAidResolveLogsAndDeletes(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	aid := action.New(action.TypeMilitaryAid, "char-helper")
	aid.TargetCharacterID = "char-d"
	if err := env.actions.SaveAction(ctx, aid); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := env.engine.Resolve(ctx, aid); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	events := env.world.EventsFor(world.CharacterRef("char-helper"))
	if len(events) != 1 || events[0].Key != "military.aid.ended" {
		t.Fatalf("events = %+v", events)
	}
	if _, err := env.actions.Action(ctx, aid.ID); err != storage.ErrNotFound {
		t.Fatalf("aid action still stored: %v", err)
	}
}

func TestMilitaryBlockUpdateOpensBattle(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	env.world.PutCharacter(&world.Character{ID: "char-b", Name: "Berta", Location: world.Point{}})
	env.world.PutCharacter(&world.Character{ID: "char-prey", Active: true, Location: world.Point{X: 3}})
	env.world.PutCharacter(&world.Character{ID: "char-far", Active: true, Location: world.Point{X: 500}})
	env.world.SetListing("listing-hostiles", "char-prey", "char-far")

	block := action.New(action.TypeMilitaryBlock, "char-b")
	block.TargetListingID = "listing-hostiles"
	block.StringValue = action.ValueAttack
	if err := env.actions.SaveAction(ctx, block); err != nil {
		t.Fatalf("save block: %v", err)
	}

	if _, err := env.engine.Update(ctx, block); err != nil {
		t.Fatalf("update: %v", err)
	}

	battle, err := env.battles.BattleByGroup(ctx, groupOf(t, env, "char-prey"))
	if err != nil {
		t.Fatalf("battle for prey: %v", err)
	}
	attacker := battle.Groups[0]
	if !attacker.Attacker || !attacker.HasMember("char-b") {
		t.Fatalf("attacker group = %+v", attacker)
	}
	if battle.Group(groupOf(t, env, "char-far")) != nil {
		t.Fatal("out-of-range character pulled into battle")
	}
	if _, err := env.actions.Action(ctx, block.ID); err != storage.ErrNotFound {
		t.Fatalf("block action still stored: %v", err)
	}
}

func TestMilitaryBlockUpdateNoTargetsKeepsWatching(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	env.world.PutCharacter(&world.Character{ID: "char-b"})
	env.world.PutCharacter(&world.Character{ID: "char-neutral", Active: true, Location: world.Point{X: 1}})
	env.world.SetListing("listing-hostiles")

	block := action.New(action.TypeMilitaryBlock, "char-b")
	block.TargetListingID = "listing-hostiles"
	block.StringValue = action.ValueAttack
	if err := env.actions.SaveAction(ctx, block); err != nil {
		t.Fatalf("save block: %v", err)
	}
	if _, err := env.engine.Update(ctx, block); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := env.actions.Action(ctx, block.ID); err != nil {
		t.Fatalf("block action dropped: %v", err)
	}
}

func TestMilitaryBlockUpdateAllowModeSparesListed(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	env.world.PutCharacter(&world.Character{ID: "char-b", Name: "Berta"})
	env.world.PutCharacter(&world.Character{ID: "char-friend", Active: true, Location: world.Point{X: 2}})
	env.world.PutCharacter(&world.Character{ID: "char-stranger", Active: true, Location: world.Point{X: 3}})
	env.world.SetListing("listing-friends", "char-friend")

	block := action.New(action.TypeMilitaryBlock, "char-b")
	block.TargetListingID = "listing-friends"
	block.StringValue = action.ValueAllow
	if err := env.actions.SaveAction(ctx, block); err != nil {
		t.Fatalf("save block: %v", err)
	}
	if _, err := env.engine.Update(ctx, block); err != nil {
		t.Fatalf("update: %v", err)
	}

	if groupOf(t, env, "char-friend") != "" {
		t.Fatal("allow-listed character pulled into battle")
	}
	battle, err := env.battles.BattleByGroup(ctx, groupOf(t, env, "char-stranger"))
	if err != nil {
		t.Fatalf("battle for stranger: %v", err)
	}
	if !battle.Groups[0].HasMember("char-b") {
		t.Fatalf("blocker missing from attacker group: %v", battle.Groups[0].MemberIDs)
	}
}

func TestMilitaryBlockUpdateWaitsWhileInBattle(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	env.world.PutCharacter(&world.Character{ID: "char-b", BattleGroupIDs: []string{"grp-elsewhere"}})
	env.world.PutCharacter(&world.Character{ID: "char-prey", Active: true, Location: world.Point{X: 1}})
	env.world.SetListing("listing-hostiles", "char-prey")

	block := action.New(action.TypeMilitaryBlock, "char-b")
	block.TargetListingID = "listing-hostiles"
	block.StringValue = action.ValueAttack
	if err := env.actions.SaveAction(ctx, block); err != nil {
		t.Fatalf("save block: %v", err)
	}
	if _, err := env.engine.Update(ctx, block); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := env.actions.Action(ctx, block.ID); err != nil {
		t.Fatalf("block action dropped while fighting: %v", err)
	}
	if got := groupOf(t, env, "char-prey"); got != "" {
		t.Fatalf("prey engaged by a busy blocker: %q", got)
	}
}

// groupOf returns the first battle group the character belongs to.
func groupOf(t *testing.T, env *testEnv, characterID string) string {
	t.Helper()
	char, err := env.world.Character(context.Background(), characterID)
	if err != nil {
		t.Fatalf("load %s: %v", characterID, err)
	}
	if len(char.BattleGroupIDs) == 0 {
		return ""
	}
	return char.BattleGroupIDs[0]
}
