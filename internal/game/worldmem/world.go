// Package worldmem is an in-memory world backend: it implements every
// collaborator interface the engine consumes, plus memory-backed action and
// battle stores. Tests build fixtures on it, and the daemon falls back to
// it when no campaign backend is wired up.
package worldmem

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/lowenmark/crownfall/internal/game/world"
	"github.com/lowenmark/crownfall/internal/storage"
)

// Event is one recorded history entry.
type Event struct {
	Subject        world.Ref
	Key            string
	Params         map[string]string
	Severity       world.Severity
	Public         bool
	RetentionHours int
}

// Channel is one in-memory communication channel.
type Channel struct {
	ID       string
	Name     string
	BattleID string
	Members  []string
}

type refKey string

func keyOf(r world.Ref) refKey {
	return refKey(string(r.Kind) + "/" + r.ID)
}

// World holds the in-memory entity graph and implements the engine's
// collaborator interfaces.
type World struct {
	mu sync.RWMutex

	characters  map[string]*world.Character
	settlements map[string]*world.Settlement
	realms      map[string]*world.Realm

	entourageActions map[string]string

	events     []Event
	logReaders map[refKey]map[string]bool
	access     map[refKey]map[string]int
	cycles     map[refKey][]int

	channels    map[string]*Channel
	channelSeq  int
	listings    map[string]map[string]bool
	entryDenied map[string]bool

	interactionDist float64
	actionDist      float64
	spotFactors     map[string]float64

	prepTime     time.Duration
	recalcCount  map[string]int
	timeToTake   func(attackers, defenders int) time.Duration
	takeDenied   map[string]string
	renameDenied map[string]string
	grantDenied  map[string]string

	battles storage.BattleStore
}

// New creates an empty in-memory world with permissive defaults.
func New() *World {
	return &World{
		characters:       make(map[string]*world.Character),
		settlements:      make(map[string]*world.Settlement),
		realms:           make(map[string]*world.Realm),
		entourageActions: make(map[string]string),
		logReaders:       make(map[refKey]map[string]bool),
		access:           make(map[refKey]map[string]int),
		cycles:           make(map[refKey][]int),
		channels:         make(map[string]*Channel),
		listings:         make(map[string]map[string]bool),
		entryDenied:      make(map[string]bool),
		interactionDist:  5,
		actionDist:       10,
		spotFactors:      make(map[string]float64),
		prepTime:         30 * time.Minute,
		recalcCount:      make(map[string]int),
		takeDenied:       make(map[string]string),
		renameDenied:     make(map[string]string),
		grantDenied:      make(map[string]string),
	}
}

// AttachBattles wires the battle store the military collaborator mutates
// when removing characters from groups.
func (w *World) AttachBattles(battles storage.BattleStore) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.battles = battles
}

// --- fixtures -------------------------------------------------------------

// PutCharacter stores a character fixture.
func (w *World) PutCharacter(c *world.Character) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.characters[c.ID] = cloneCharacter(c)
}

// PutSettlement stores a settlement fixture.
func (w *World) PutSettlement(s *world.Settlement) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.settlements[s.ID] = cloneSettlement(s)
}

// PutRealm stores a realm fixture.
func (w *World) PutRealm(r *world.Realm) {
	w.mu.Lock()
	defer w.mu.Unlock()
	clone := *r
	w.realms[r.ID] = &clone
}

// SetCycles seeds the history cycle boundaries for a subject's log.
func (w *World) SetCycles(subject world.Ref, cycles []int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cycles[keyOf(subject)] = append([]int(nil), cycles...)
}

// SetListing seeds a permission listing with the characters it matches.
func (w *World) SetListing(listingID string, characterIDs ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	members := make(map[string]bool, len(characterIDs))
	for _, id := range characterIDs {
		members[id] = true
	}
	w.listings[listingID] = members
}

// DenyEntry refuses future entry into the settlement.
func (w *World) DenyEntry(settlementID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entryDenied[settlementID] = true
}

// DenyTake makes CanTakeSettlement fail with the given reason.
func (w *World) DenyTake(characterID, settlementID, reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.takeDenied[characterID+"/"+settlementID] = reason
}

// DenyRename makes CanRenameSettlement fail with the given reason.
func (w *World) DenyRename(characterID, settlementID, reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.renameDenied[characterID+"/"+settlementID] = reason
}

// DenyGrant makes CanGrantSettlement fail with the given reason.
func (w *World) DenyGrant(characterID, settlementID, reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.grantDenied[characterID+"/"+settlementID] = reason
}

// SetSpotFactor overrides the character's local spotting multiplier.
func (w *World) SetSpotFactor(characterID string, factor float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.spotFactors[characterID] = factor
}

// SetPreparationTime overrides the fixed preparation-phase duration.
func (w *World) SetPreparationTime(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prepTime = d
}

// SetTimeToTake overrides the takeover duration function.
func (w *World) SetTimeToTake(f func(attackers, defenders int) time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timeToTake = f
}

// Events returns a snapshot of every recorded history event.
func (w *World) Events() []Event {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]Event(nil), w.events...)
}

// EventsFor returns the recorded events whose subject matches.
func (w *World) EventsFor(subject world.Ref) []Event {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out []Event
	for _, evt := range w.events {
		if evt.Subject == subject {
			out = append(out, evt)
		}
	}
	return out
}

// Channels returns a snapshot of every created channel.
func (w *World) Channels() []*Channel {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*Channel, 0, len(w.channels))
	for _, ch := range w.channels {
		clone := *ch
		clone.Members = append([]string(nil), ch.Members...)
		out = append(out, &clone)
	}
	return out
}

// RecalcCount reports how often the battle's timer was recalculated.
func (w *World) RecalcCount(battleID string) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.recalcCount[battleID]
}

// EntourageAction reports the action an entourage NPC is bound to.
func (w *World) EntourageAction(npcID string) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.entourageActions[npcID]
}

// LogOpen reports whether the reader has access to the subject's log.
func (w *World) LogOpen(subject world.Ref, readerID string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.logReaders[keyOf(subject)][readerID]
}

// --- world.Directory ------------------------------------------------------

func (w *World) Character(ctx context.Context, id string) (*world.Character, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	c, ok := w.characters[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneCharacter(c), nil
}

func (w *World) SaveCharacter(ctx context.Context, character *world.Character) error {
	if character == nil || character.ID == "" {
		return fmt.Errorf("character with id is required")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.characters[character.ID] = cloneCharacter(character)
	return nil
}

func (w *World) Settlement(ctx context.Context, id string) (*world.Settlement, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.settlements[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneSettlement(s), nil
}

func (w *World) SaveSettlement(ctx context.Context, settlement *world.Settlement) error {
	if settlement == nil || settlement.ID == "" {
		return fmt.Errorf("settlement with id is required")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.settlements[settlement.ID] = cloneSettlement(settlement)
	return nil
}

func (w *World) Realm(ctx context.Context, id string) (*world.Realm, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	r, ok := w.realms[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	clone := *r
	return &clone, nil
}

func (w *World) SetEntourageAction(ctx context.Context, npcID, actionID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if actionID == "" {
		delete(w.entourageActions, npcID)
		return nil
	}
	w.entourageActions[npcID] = actionID
	return nil
}

// --- world.History --------------------------------------------------------

func (w *World) LogEvent(ctx context.Context, subject world.Ref, key string, params map[string]string, severity world.Severity, public bool, retentionHours int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cloned := make(map[string]string, len(params))
	for k, v := range params {
		cloned[k] = v
	}
	w.events = append(w.events, Event{
		Subject:        subject,
		Key:            key,
		Params:         cloned,
		Severity:       severity,
		Public:         public,
		RetentionHours: retentionHours,
	})
	return nil
}

func (w *World) OpenLog(ctx context.Context, subject world.Ref, readerID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	k := keyOf(subject)
	if w.logReaders[k] == nil {
		w.logReaders[k] = make(map[string]bool)
	}
	w.logReaders[k][readerID] = true
	return nil
}

func (w *World) CloseLog(ctx context.Context, subject world.Ref, readerID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.logReaders[keyOf(subject)], readerID)
	return nil
}

func (w *World) AccessFrom(ctx context.Context, subject world.Ref, readerID string) (int, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.access[keyOf(subject)][readerID], nil
}

func (w *World) SetAccessFrom(ctx context.Context, subject world.Ref, readerID string, cycle int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	k := keyOf(subject)
	if w.access[k] == nil {
		w.access[k] = make(map[string]int)
	}
	w.access[k][readerID] = cycle
	return nil
}

func (w *World) MaxCycleBefore(ctx context.Context, subject world.Ref, cycle int) (int, bool, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	best, found := 0, false
	for _, c := range w.cycles[keyOf(subject)] {
		if c < cycle && (!found || c > best) {
			best, found = c, true
		}
	}
	return best, found, nil
}

// --- world.Politics -------------------------------------------------------

func (w *World) ChangeSettlementOwner(ctx context.Context, settlementID, newOwnerID, reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.settlements[settlementID]
	if !ok {
		return storage.ErrNotFound
	}
	s.OwnerID = newOwnerID
	return nil
}

func (w *World) ChangeSettlementRealm(ctx context.Context, settlementID, realmID, reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.settlements[settlementID]
	if !ok {
		return storage.ErrNotFound
	}
	s.RealmID = realmID
	return nil
}

// --- world.Interactions ---------------------------------------------------

func (w *World) EnterSettlement(ctx context.Context, characterID, settlementID string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.entryDenied[settlementID] {
		return false, nil
	}
	c, ok := w.characters[characterID]
	if !ok {
		return false, storage.ErrNotFound
	}
	if _, ok := w.settlements[settlementID]; !ok {
		return false, storage.ErrNotFound
	}
	c.InsideSettlementID = settlementID
	return true, nil
}

// --- world.Geography ------------------------------------------------------

func (w *World) InteractionDistance(ctx context.Context, characterID string) (float64, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.interactionDist, nil
}

func (w *World) ActionDistance(ctx context.Context, settlementID string) (float64, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.actionDist, nil
}

func (w *World) DistanceToSettlement(ctx context.Context, characterID, settlementID string) (float64, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	c, ok := w.characters[characterID]
	if !ok {
		return 0, storage.ErrNotFound
	}
	s, ok := w.settlements[settlementID]
	if !ok {
		return 0, storage.ErrNotFound
	}
	return distance(c.Location, s.Center), nil
}

func (w *World) DistanceToCharacter(ctx context.Context, characterID, otherID string) (float64, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	a, ok := w.characters[characterID]
	if !ok {
		return 0, storage.ErrNotFound
	}
	b, ok := w.characters[otherID]
	if !ok {
		return 0, storage.ErrNotFound
	}
	return distance(a.Location, b.Location), nil
}

func (w *World) SpotFactor(ctx context.Context, characterID string) (float64, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if f, ok := w.spotFactors[characterID]; ok {
		return f, nil
	}
	return 1, nil
}

func (w *World) CharactersNear(ctx context.Context, characterID string, radius float64, opts world.NearOptions) ([]string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	self, ok := w.characters[characterID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	var out []string
	for id, c := range w.characters {
		if id == characterID {
			continue
		}
		if opts.OnlyActive && !c.Active {
			continue
		}
		if !opts.IncludeInSettlements && c.InsideSettlementID != "" {
			continue
		}
		if distance(self.Location, c.Location) <= radius {
			out = append(out, id)
		}
	}
	return out, nil
}

// --- world.Communication --------------------------------------------------

func (w *World) CreateChannel(ctx context.Context, name string, battleID string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.channelSeq++
	id := fmt.Sprintf("channel-%d", w.channelSeq)
	w.channels[id] = &Channel{ID: id, Name: name, BattleID: battleID}
	return id, nil
}

func (w *World) JoinChannel(ctx context.Context, characterID, channelID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, ok := w.channels[channelID]
	if !ok {
		return storage.ErrNotFound
	}
	for _, member := range ch.Members {
		if member == characterID {
			return nil
		}
	}
	ch.Members = append(ch.Members, characterID)
	return nil
}

// --- world.Permissions ----------------------------------------------------

func (w *World) CheckListing(ctx context.Context, listingID, characterID string) (bool, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.listings[listingID][characterID], nil
}

// --- world.Military -------------------------------------------------------

func (w *World) PreparationTime(ctx context.Context, battle *world.Battle) (time.Duration, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.prepTime, nil
}

func (w *World) RecalculateBattleTimer(ctx context.Context, battleID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recalcCount[battleID]++
	return nil
}

func (w *World) RemoveFromBattleGroup(ctx context.Context, characterID, groupID string) error {
	w.mu.RLock()
	battles := w.battles
	w.mu.RUnlock()
	if battles == nil {
		return fmt.Errorf("no battle store attached")
	}
	battle, err := battles.BattleByGroup(ctx, groupID)
	if err != nil {
		return err
	}
	group := battle.Group(groupID)
	if group == nil {
		return storage.ErrNotFound
	}
	group.RemoveMember(characterID)
	if err := battles.SaveBattle(ctx, battle); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.characters[characterID]; ok {
		kept := c.BattleGroupIDs[:0]
		for _, id := range c.BattleGroupIDs {
			if id != groupID {
				kept = append(kept, id)
			}
		}
		c.BattleGroupIDs = kept
	}
	return nil
}

func (w *World) TimeToTake(ctx context.Context, settlementID, characterID string, attackers, defenders int) (time.Duration, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.timeToTake != nil {
		return w.timeToTake(attackers, defenders), nil
	}
	// More attackers shorten the takeover, defenders stretch it.
	scale := float64(defenders+5) / float64(attackers+5)
	return time.Duration(float64(2*time.Hour) * (1 + scale)), nil
}

// --- world.Eligibility ----------------------------------------------------

func (w *World) CanTakeSettlement(ctx context.Context, characterID, settlementID string) (bool, string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if reason, ok := w.takeDenied[characterID+"/"+settlementID]; ok {
		return false, reason, nil
	}
	return true, "", nil
}

func (w *World) CanRenameSettlement(ctx context.Context, characterID, settlementID string) (bool, string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if reason, ok := w.renameDenied[characterID+"/"+settlementID]; ok {
		return false, reason, nil
	}
	return true, "", nil
}

func (w *World) CanGrantSettlement(ctx context.Context, characterID, settlementID string) (bool, string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if reason, ok := w.grantDenied[characterID+"/"+settlementID]; ok {
		return false, reason, nil
	}
	return true, "", nil
}

// --- helpers --------------------------------------------------------------

func distance(a, b world.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func cloneCharacter(c *world.Character) *world.Character {
	clone := *c
	clone.Soldiers = append([]world.Soldier(nil), c.Soldiers...)
	clone.EntourageIDs = append([]string(nil), c.EntourageIDs...)
	clone.PrisonerIDs = append([]string(nil), c.PrisonerIDs...)
	clone.BattleGroupIDs = append([]string(nil), c.BattleGroupIDs...)
	return &clone
}

func cloneSettlement(s *world.Settlement) *world.Settlement {
	clone := *s
	return &clone
}

// Interface assertions.
var (
	_ world.Directory     = (*World)(nil)
	_ world.History       = (*World)(nil)
	_ world.Politics      = (*World)(nil)
	_ world.Interactions  = (*World)(nil)
	_ world.Geography     = (*World)(nil)
	_ world.Communication = (*World)(nil)
	_ world.Permissions   = (*World)(nil)
	_ world.Military      = (*World)(nil)
	_ world.Eligibility   = (*World)(nil)
)
