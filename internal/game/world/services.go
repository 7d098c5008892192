package world

import (
	"context"
	"time"
)

// Severity grades history events for display and retention.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
)

// Directory reads and writes world entities. Durable entity storage lives
// outside the engine; the engine only issues loads and saves.
type Directory interface {
	Character(ctx context.Context, id string) (*Character, error)
	SaveCharacter(ctx context.Context, character *Character) error

	Settlement(ctx context.Context, id string) (*Settlement, error)
	SaveSettlement(ctx context.Context, settlement *Settlement) error

	Realm(ctx context.Context, id string) (*Realm, error)

	// SetEntourageAction binds or releases an entourage NPC to an action.
	// An empty actionID releases the NPC.
	SetEntourageAction(ctx context.Context, npcID, actionID string) error
}

// History writes the narrative event log and manages per-reader log access.
type History interface {
	// LogEvent records an event on the subject's log. retentionHours of
	// zero means the event is kept indefinitely.
	LogEvent(ctx context.Context, subject Ref, key string, params map[string]string, severity Severity, public bool, retentionHours int) error

	OpenLog(ctx context.Context, subject Ref, readerID string) error
	CloseLog(ctx context.Context, subject Ref, readerID string) error

	// AccessFrom returns the reader's current research watermark on the
	// subject's log: the oldest cycle the reader can already read.
	AccessFrom(ctx context.Context, subject Ref, readerID string) (int, error)
	// SetAccessFrom moves the reader's research watermark.
	SetAccessFrom(ctx context.Context, subject Ref, readerID string, cycle int) error
	// MaxCycleBefore returns the newest cycle boundary strictly older than
	// the given cycle, or ok=false when no earlier boundary remains.
	MaxCycleBefore(ctx context.Context, subject Ref, cycle int) (int, bool, error)
}

// Politics applies ownership and realm membership changes.
type Politics interface {
	ChangeSettlementOwner(ctx context.Context, settlementID, newOwnerID, reason string) error
	// ChangeSettlementRealm moves the settlement to realmID; an empty
	// realmID clears realm membership.
	ChangeSettlementRealm(ctx context.Context, settlementID, realmID, reason string) error
}

// Interactions covers physical character-world interaction checks.
type Interactions interface {
	// EnterSettlement moves the character inside the settlement, returning
	// false when entry is refused.
	EnterSettlement(ctx context.Context, characterID, settlementID string) (bool, error)
}

// NearOptions filters nearby-character searches.
type NearOptions struct {
	// IncludeInSettlements includes characters currently inside a settlement.
	IncludeInSettlements bool
	// ExcludeSelf is implied; engines never target the searching character.
	OnlyActive bool
}

// Geography answers distance and terrain questions.
type Geography interface {
	InteractionDistance(ctx context.Context, characterID string) (float64, error)
	ActionDistance(ctx context.Context, settlementID string) (float64, error)
	DistanceToSettlement(ctx context.Context, characterID, settlementID string) (float64, error)
	DistanceToCharacter(ctx context.Context, characterID, otherID string) (float64, error)
	// SpotFactor is the local spotting multiplier: higher terrain
	// visibility makes sneaking away harder.
	SpotFactor(ctx context.Context, characterID string) (float64, error)
	CharactersNear(ctx context.Context, characterID string, radius float64, opts NearOptions) ([]string, error)
}

// Communication manages message channels tied to world aggregates.
type Communication interface {
	CreateChannel(ctx context.Context, name string, battleID string) (string, error)
	JoinChannel(ctx context.Context, characterID, channelID string) error
}

// Permissions evaluates listing-based allow/attack policies.
type Permissions interface {
	// CheckListing reports whether the character matches the listing.
	CheckListing(ctx context.Context, listingID, characterID string) (bool, error)
}

// Military owns battle timing math and real-time battle progression.
type Military interface {
	// PreparationTime computes the preparation-phase duration for a newly
	// formed battle.
	PreparationTime(ctx context.Context, battle *Battle) (time.Duration, error)
	// RecalculateBattleTimer re-derives the battle's preparation deadline
	// after participants change.
	RecalculateBattleTimer(ctx context.Context, battleID string) error
	// RemoveFromBattleGroup takes the character out of the group and
	// cleans up the military side of membership.
	RemoveFromBattleGroup(ctx context.Context, characterID, groupID string) error
	// TimeToTake computes the total duration of a settlement takeover
	// given current attacker and additional defender soldier counts.
	TimeToTake(ctx context.Context, settlementID, characterID string, attackers, defenders int) (time.Duration, error)
}

// Eligibility runs the named collaborator checks gating contested actions.
// A failed check returns ok=false plus a reason key suitable for event
// parameters; err is reserved for collaborator failures.
type Eligibility interface {
	CanTakeSettlement(ctx context.Context, characterID, settlementID string) (ok bool, reason string, err error)
	CanRenameSettlement(ctx context.Context, characterID, settlementID string) (ok bool, reason string, err error)
	CanGrantSettlement(ctx context.Context, characterID, settlementID string) (ok bool, reason string, err error)
}
