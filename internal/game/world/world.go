// Package world holds the entities the resolution engine reads and mutates,
// addressed by stable string identifiers. Relations between entities are
// stored as identifier sets rather than object references so the graph stays
// acyclic and serializable.
package world

import "time"

// Point is a location in world coordinates.
type Point struct {
	X float64
	Y float64
}

// RefKind identifies the entity kind behind a Ref.
type RefKind string

const (
	RefCharacter  RefKind = "character"
	RefSettlement RefKind = "settlement"
	RefRealm      RefKind = "realm"
	RefBattle     RefKind = "battle"
)

// Ref addresses an entity that can own a history log or receive events.
type Ref struct {
	Kind RefKind
	ID   string
}

// CharacterRef builds a character Ref.
func CharacterRef(id string) Ref { return Ref{Kind: RefCharacter, ID: id} }

// SettlementRef builds a settlement Ref.
func SettlementRef(id string) Ref { return Ref{Kind: RefSettlement, ID: id} }

// RealmRef builds a realm Ref.
func RealmRef(id string) Ref { return Ref{Kind: RefRealm, ID: id} }

// Soldier is one unit in a character's army.
type Soldier struct {
	Type    string
	Wounded bool
}

// Soldier unit types the engine cares about when computing disengage times.
const (
	SoldierCavalry       = "cavalry"
	SoldierMountedArcher = "mounted archer"
	SoldierHeavyInfantry = "heavy infantry"
	SoldierLightInfantry = "light infantry"
	SoldierArcher        = "archer"
)

// Character is an actor in the world. The engine owns none of its
// persistence; it reads and mutates instances through a Directory.
type Character struct {
	ID   string
	Name string

	// Active reports whether the player behind the character is playing.
	Active bool

	Soldiers     []Soldier
	EntourageIDs []string

	Location           Point
	InsideSettlementID string

	// Traveling is true while the character is moving along a travel
	// route; Progress is the fraction of the route completed and Speed
	// the per-day fraction the character covers.
	Traveling    bool
	TravelLocked bool
	Progress     float64
	Speed        float64

	PrisonerOfID string
	PrisonerIDs  []string

	// BattleGroupIDs lists every battle group the character currently
	// belongs to. A character is on at most one side of any single battle.
	BattleGroupIDs []string
}

// ActiveSoldiers counts soldiers fit to fight.
func (c *Character) ActiveSoldiers() int {
	n := 0
	for _, s := range c.Soldiers {
		if !s.Wounded {
			n++
		}
	}
	return n
}

// InBattle reports whether the character belongs to any battle group.
func (c *Character) InBattle() bool {
	return len(c.BattleGroupIDs) > 0
}

// InGroup reports whether the character belongs to the given battle group.
func (c *Character) InGroup(groupID string) bool {
	for _, id := range c.BattleGroupIDs {
		if id == groupID {
			return true
		}
	}
	return false
}

// Settlement is a populated place with an owner and optional realm.
type Settlement struct {
	ID      string
	Name    string
	OwnerID string
	RealmID string

	Center Point

	// GeoMarkerName mirrors the settlement name on the paired map marker,
	// when one exists.
	GeoMarkerName string
	HasGeoMarker  bool
}

// Realm is a political entity settlements can belong to.
type Realm struct {
	ID   string
	Name string
}

// Battle is an active conflict aggregate with exactly two opposing groups.
type Battle struct {
	ID           string
	Name         string
	Location     Point
	SettlementID string
	Siege        bool

	Started         time.Time
	InitialComplete time.Time
	Complete        time.Time

	ChannelID string

	Groups []*BattleGroup
}

// BattleGroup is one side of a battle.
type BattleGroup struct {
	ID       string
	BattleID string
	Attacker bool

	MemberIDs []string
}

// Group returns the battle's group with the given id, or nil.
func (b *Battle) Group(groupID string) *BattleGroup {
	for _, g := range b.Groups {
		if g.ID == groupID {
			return g
		}
	}
	return nil
}

// Enemy returns the group opposing the given group within the battle, or nil.
func (b *Battle) Enemy(groupID string) *BattleGroup {
	for _, g := range b.Groups {
		if g.ID != groupID {
			return g
		}
	}
	return nil
}

// HasMember reports whether the group contains the character.
func (g *BattleGroup) HasMember(characterID string) bool {
	for _, id := range g.MemberIDs {
		if id == characterID {
			return true
		}
	}
	return false
}

// AddMember adds the character to the group if not already present.
func (g *BattleGroup) AddMember(characterID string) {
	if g.HasMember(characterID) {
		return
	}
	g.MemberIDs = append(g.MemberIDs, characterID)
}

// RemoveMember removes the character from the group.
func (g *BattleGroup) RemoveMember(characterID string) {
	kept := g.MemberIDs[:0]
	for _, id := range g.MemberIDs {
		if id != characterID {
			kept = append(kept, id)
		}
	}
	g.MemberIDs = kept
}
