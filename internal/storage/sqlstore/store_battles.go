package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lowenmark/crownfall/internal/game/world"
	"github.com/lowenmark/crownfall/internal/storage"
)

// battleRecord is the persisted form of a battle aggregate. Groups are
// embedded so side changes commit atomically with one save.
type battleRecord struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	LocationX       float64             `json:"location_x"`
	LocationY       float64             `json:"location_y"`
	SettlementID    string              `json:"settlement_id,omitempty"`
	Siege           bool                `json:"siege"`
	Started         int64               `json:"started"`
	InitialComplete int64               `json:"initial_complete"`
	Complete        int64               `json:"complete"`
	ChannelID       string              `json:"channel_id,omitempty"`
	Groups          []battleGroupRecord `json:"groups"`
}

type battleGroupRecord struct {
	ID        string   `json:"id"`
	Attacker  bool     `json:"attacker"`
	MemberIDs []string `json:"member_ids,omitempty"`
}

// SaveBattle upserts the battle aggregate and its group index rows.
func (s *Store) SaveBattle(ctx context.Context, battle *world.Battle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	if battle == nil {
		return fmt.Errorf("battle is required")
	}
	if strings.TrimSpace(battle.ID) == "" {
		return fmt.Errorf("battle id is required")
	}

	payload, err := json.Marshal(encodeBattle(battle))
	if err != nil {
		return fmt.Errorf("encode battle: %w", err)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save-battle transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO battles (id, settlement_id, payload) VALUES (?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	settlement_id = excluded.settlement_id,
	payload = excluded.payload
`), battle.ID, battle.SettlementID, string(payload)); err != nil {
		return fmt.Errorf("save battle: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM battle_groups WHERE battle_id = ?"), battle.ID); err != nil {
		return fmt.Errorf("clear battle groups: %w", err)
	}
	for _, group := range battle.Groups {
		if _, err := tx.ExecContext(ctx,
			s.rebind("INSERT INTO battle_groups (group_id, battle_id) VALUES (?, ?)"),
			group.ID, battle.ID,
		); err != nil {
			return fmt.Errorf("index battle group %s: %w", group.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save-battle transaction: %w", err)
	}
	return nil
}

// Battle loads one battle aggregate by id.
func (s *Store) Battle(ctx context.Context, id string) (*world.Battle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	var payload string
	err := s.sqlDB.QueryRowContext(ctx, s.rebind("SELECT payload FROM battles WHERE id = ?"), id).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load battle: %w", err)
	}
	return decodeBattlePayload(payload)
}

// BattleByGroup loads the battle containing the given group.
func (s *Store) BattleByGroup(ctx context.Context, groupID string) (*world.Battle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	var payload string
	err := s.sqlDB.QueryRowContext(ctx, s.rebind(`
SELECT b.payload
FROM battles b
JOIN battle_groups g ON g.battle_id = b.id
WHERE g.group_id = ?
`), groupID).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load battle by group: %w", err)
	}
	return decodeBattlePayload(payload)
}

// DeleteBattle removes the battle and its group index rows.
func (s *Store) DeleteBattle(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete-battle transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM battle_groups WHERE battle_id = ?"), id); err != nil {
		return fmt.Errorf("delete battle groups: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM battles WHERE id = ?"), id); err != nil {
		return fmt.Errorf("delete battle: %w", err)
	}
	return tx.Commit()
}

func encodeBattle(battle *world.Battle) battleRecord {
	record := battleRecord{
		ID:              battle.ID,
		Name:            battle.Name,
		LocationX:       battle.Location.X,
		LocationY:       battle.Location.Y,
		SettlementID:    battle.SettlementID,
		Siege:           battle.Siege,
		Started:         battle.Started.UTC().UnixMilli(),
		InitialComplete: battle.InitialComplete.UTC().UnixMilli(),
		Complete:        battle.Complete.UTC().UnixMilli(),
		ChannelID:       battle.ChannelID,
	}
	for _, group := range battle.Groups {
		record.Groups = append(record.Groups, battleGroupRecord{
			ID:        group.ID,
			Attacker:  group.Attacker,
			MemberIDs: group.MemberIDs,
		})
	}
	return record
}

func decodeBattlePayload(payload string) (*world.Battle, error) {
	var record battleRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, fmt.Errorf("decode battle: %w", err)
	}
	battle := &world.Battle{
		ID:              record.ID,
		Name:            record.Name,
		Location:        world.Point{X: record.LocationX, Y: record.LocationY},
		SettlementID:    record.SettlementID,
		Siege:           record.Siege,
		Started:         time.UnixMilli(record.Started).UTC(),
		InitialComplete: time.UnixMilli(record.InitialComplete).UTC(),
		Complete:        time.UnixMilli(record.Complete).UTC(),
		ChannelID:       record.ChannelID,
	}
	for _, group := range record.Groups {
		battle.Groups = append(battle.Groups, &world.BattleGroup{
			ID:        group.ID,
			BattleID:  record.ID,
			Attacker:  group.Attacker,
			MemberIDs: group.MemberIDs,
		})
	}
	return battle, nil
}
