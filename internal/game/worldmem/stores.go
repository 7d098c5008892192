package worldmem

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lowenmark/crownfall/internal/game/action"
	"github.com/lowenmark/crownfall/internal/game/world"
	"github.com/lowenmark/crownfall/internal/storage"
)

// ActionStore is a memory-backed storage.ActionStore with the same claim
// semantics as the durable store.
type ActionStore struct {
	mu      sync.Mutex
	actions map[string]*action.Action
	claims  map[string]time.Time
}

// NewActionStore creates an empty in-memory action store.
func NewActionStore() *ActionStore {
	return &ActionStore{
		actions: make(map[string]*action.Action),
		claims:  make(map[string]time.Time),
	}
}

func (s *ActionStore) SaveAction(ctx context.Context, act *action.Action) error {
	if act == nil || act.ID == "" {
		return fmt.Errorf("action with id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[act.ID] = cloneAction(act)
	return nil
}

func (s *ActionStore) Action(ctx context.Context, id string) (*action.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	act, ok := s.actions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneAction(act), nil
}

func (s *ActionStore) DeleteAction(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.actions, id)
	delete(s.claims, id)
	return nil
}

func (s *ActionStore) FetchDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*action.Action, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*action.Action
	for _, act := range s.actions {
		if act.Complete == nil || !act.Complete.Before(now) {
			continue
		}
		if claimedUntil, claimed := s.claims[act.ID]; claimed && now.Before(claimedUntil) {
			continue
		}
		due = append(due, act)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Complete.Before(*due[j].Complete) })
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]*action.Action, 0, len(due))
	for _, act := range due {
		s.claims[act.ID] = now.Add(lease)
		out = append(out, cloneAction(act))
	}
	return out, nil
}

func (s *ActionStore) ActionsByCharacter(ctx context.Context, characterID string) ([]*action.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*action.Action
	for _, act := range s.actions {
		if act.CharacterID == characterID {
			out = append(out, cloneAction(act))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

func (s *ActionStore) ActionsBySettlement(ctx context.Context, settlementID string) ([]*action.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*action.Action
	for _, act := range s.actions {
		if act.TargetSettlementID == settlementID {
			out = append(out, cloneAction(act))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

func (s *ActionStore) MaxPriority(ctx context.Context, characterID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := 0
	for _, act := range s.actions {
		if act.CharacterID == characterID && act.Priority > max {
			max = act.Priority
		}
	}
	return max, nil
}

func cloneAction(act *action.Action) *action.Action {
	clone := *act
	if act.Complete != nil {
		complete := *act.Complete
		clone.Complete = &complete
	}
	clone.OpposingActionIDs = append([]string(nil), act.OpposingActionIDs...)
	clone.SupportingActionIDs = append([]string(nil), act.SupportingActionIDs...)
	clone.AssignedEntourageIDs = append([]string(nil), act.AssignedEntourageIDs...)
	return &clone
}

// BattleStore is a memory-backed storage.BattleStore.
type BattleStore struct {
	mu      sync.Mutex
	battles map[string]*world.Battle
	byGroup map[string]string
}

// NewBattleStore creates an empty in-memory battle store.
func NewBattleStore() *BattleStore {
	return &BattleStore{
		battles: make(map[string]*world.Battle),
		byGroup: make(map[string]string),
	}
}

func (s *BattleStore) SaveBattle(ctx context.Context, battle *world.Battle) error {
	if battle == nil || battle.ID == "" {
		return fmt.Errorf("battle with id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for groupID, battleID := range s.byGroup {
		if battleID == battle.ID {
			delete(s.byGroup, groupID)
		}
	}
	s.battles[battle.ID] = cloneBattle(battle)
	for _, group := range battle.Groups {
		s.byGroup[group.ID] = battle.ID
	}
	return nil
}

func (s *BattleStore) Battle(ctx context.Context, id string) (*world.Battle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	battle, ok := s.battles[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneBattle(battle), nil
}

func (s *BattleStore) BattleByGroup(ctx context.Context, groupID string) (*world.Battle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	battleID, ok := s.byGroup[groupID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	battle, ok := s.battles[battleID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneBattle(battle), nil
}

func (s *BattleStore) DeleteBattle(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	battle, ok := s.battles[id]
	if !ok {
		return nil
	}
	for _, group := range battle.Groups {
		delete(s.byGroup, group.ID)
	}
	delete(s.battles, id)
	return nil
}

func cloneBattle(battle *world.Battle) *world.Battle {
	clone := *battle
	clone.Groups = make([]*world.BattleGroup, 0, len(battle.Groups))
	for _, group := range battle.Groups {
		g := *group
		g.MemberIDs = append([]string(nil), group.MemberIDs...)
		clone.Groups = append(clone.Groups, &g)
	}
	return &clone
}

// TelemetryStore is a memory-backed storage.TelemetryStore.
type TelemetryStore struct {
	mu     sync.Mutex
	seq    int64
	events []storage.TelemetryEvent
}

// NewTelemetryStore creates an empty in-memory telemetry store.
func NewTelemetryStore() *TelemetryStore {
	return &TelemetryStore{}
}

func (s *TelemetryStore) AppendTelemetryEvent(ctx context.Context, evt storage.TelemetryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	evt.ID = s.seq
	s.events = append(s.events, evt)
	return nil
}

func (s *TelemetryStore) ListTelemetryEvents(ctx context.Context, limit int) ([]storage.TelemetryEvent, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.TelemetryEvent, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}

// Interface assertions.
var (
	_ storage.ActionStore    = (*ActionStore)(nil)
	_ storage.BattleStore    = (*BattleStore)(nil)
	_ storage.TelemetryStore = (*TelemetryStore)(nil)
)
