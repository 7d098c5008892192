package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lowenmark/crownfall/internal/game/action"
	"github.com/lowenmark/crownfall/internal/storage"
)

const actionColumns = `
	id,
	type,
	character_id,
	target_character_id,
	target_settlement_id,
	target_realm_id,
	target_battlegroup_id,
	target_listing_id,
	string_value,
	started,
	complete,
	priority,
	hidden,
	hourly,
	can_cancel,
	block_travel,
	opposed_action_id,
	opposing_actions,
	supporting_actions,
	assigned_entourage`

// SaveAction upserts one action record.
func (s *Store) SaveAction(ctx context.Context, act *action.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	if act == nil {
		return fmt.Errorf("action is required")
	}
	if strings.TrimSpace(act.ID) == "" {
		return fmt.Errorf("action id is required")
	}
	if err := act.Validate(); err != nil {
		return err
	}

	opposing, err := encodeIDs(act.OpposingActionIDs)
	if err != nil {
		return fmt.Errorf("encode opposing actions: %w", err)
	}
	supporting, err := encodeIDs(act.SupportingActionIDs)
	if err != nil {
		return fmt.Errorf("encode supporting actions: %w", err)
	}
	entourage, err := encodeIDs(act.AssignedEntourageIDs)
	if err != nil {
		return fmt.Errorf("encode assigned entourage: %w", err)
	}

	var complete sql.NullInt64
	if act.Complete != nil {
		complete = sql.NullInt64{Int64: act.Complete.UTC().UnixMilli(), Valid: true}
	}

	_, err = s.sqlDB.ExecContext(ctx, s.rebind(`
INSERT INTO actions (`+actionColumns+`
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	type = excluded.type,
	character_id = excluded.character_id,
	target_character_id = excluded.target_character_id,
	target_settlement_id = excluded.target_settlement_id,
	target_realm_id = excluded.target_realm_id,
	target_battlegroup_id = excluded.target_battlegroup_id,
	target_listing_id = excluded.target_listing_id,
	string_value = excluded.string_value,
	started = excluded.started,
	complete = excluded.complete,
	priority = excluded.priority,
	hidden = excluded.hidden,
	hourly = excluded.hourly,
	can_cancel = excluded.can_cancel,
	block_travel = excluded.block_travel,
	opposed_action_id = excluded.opposed_action_id,
	opposing_actions = excluded.opposing_actions,
	supporting_actions = excluded.supporting_actions,
	assigned_entourage = excluded.assigned_entourage
`),
		act.ID,
		string(action.Normalize(act.Type)),
		act.CharacterID,
		act.TargetCharacterID,
		act.TargetSettlementID,
		act.TargetRealmID,
		act.TargetBattleGroupID,
		act.TargetListingID,
		act.StringValue,
		act.Started.UTC().UnixMilli(),
		complete,
		act.Priority,
		boolInt(act.Hidden),
		boolInt(act.Hourly),
		boolInt(act.CanCancel),
		boolInt(act.BlockTravel),
		act.OpposedActionID,
		opposing,
		supporting,
		entourage,
	)
	if err != nil {
		return fmt.Errorf("save action: %w", err)
	}
	return nil
}

// Action loads one action by id.
func (s *Store) Action(ctx context.Context, id string) (*action.Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	row := s.sqlDB.QueryRowContext(ctx, s.rebind(`
SELECT`+actionColumns+`
FROM actions
WHERE id = ?
`), id)
	act, err := scanAction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load action: %w", err)
	}
	return act, nil
}

// DeleteAction removes one action by id. Deleting a missing action is not
// an error: resolution and cancellation may race.
func (s *Store) DeleteAction(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, s.rebind("DELETE FROM actions WHERE id = ?"), id); err != nil {
		return fmt.Errorf("delete action: %w", err)
	}
	return nil
}

// FetchDue claims and returns at most limit matured actions, earliest-due
// first. The select and the claim commit in one transaction so concurrent
// workers never double-resolve an action.
func (s *Store) FetchDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*action.Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	if lease <= 0 {
		return nil, fmt.Errorf("lease must be greater than zero")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin fetch-due transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
SELECT` + actionColumns + `
FROM actions
WHERE complete IS NOT NULL
  AND complete < ?
  AND (claimed_until IS NULL OR claimed_until < ?)
ORDER BY complete ASC
LIMIT ?`
	if s.dialect == DialectPostgres {
		query += "\nFOR UPDATE SKIP LOCKED"
	}

	nowMilli := now.UTC().UnixMilli()
	rows, err := tx.QueryContext(ctx, s.rebind(query), nowMilli, nowMilli, limit)
	if err != nil {
		return nil, fmt.Errorf("query due actions: %w", err)
	}

	var due []*action.Action
	for rows.Next() {
		act, err := scanAction(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan due action: %w", err)
		}
		due = append(due, act)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate due actions: %w", err)
	}
	rows.Close()

	claimUntil := now.Add(lease).UTC().UnixMilli()
	for _, act := range due {
		if _, err := tx.ExecContext(ctx,
			s.rebind("UPDATE actions SET claimed_until = ? WHERE id = ?"),
			claimUntil, act.ID,
		); err != nil {
			return nil, fmt.Errorf("claim action %s: %w", act.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit fetch-due transaction: %w", err)
	}
	return due, nil
}

// ActionsByCharacter lists the character's actions ordered by priority.
func (s *Store) ActionsByCharacter(ctx context.Context, characterID string) ([]*action.Action, error) {
	return s.listActions(ctx, "character_id", characterID, "priority ASC")
}

// ActionsBySettlement lists actions targeting the settlement.
func (s *Store) ActionsBySettlement(ctx context.Context, settlementID string) ([]*action.Action, error) {
	return s.listActions(ctx, "target_settlement_id", settlementID, "started ASC")
}

func (s *Store) listActions(ctx context.Context, column, value, order string) ([]*action.Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx, s.rebind(`
SELECT`+actionColumns+`
FROM actions
WHERE `+column+` = ?
ORDER BY `+order), value)
	if err != nil {
		return nil, fmt.Errorf("list actions by %s: %w", column, err)
	}
	defer rows.Close()

	var acts []*action.Action
	for rows.Next() {
		act, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		acts = append(acts, act)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return acts, nil
}

// MaxPriority returns the highest priority among the character's actions.
func (s *Store) MaxPriority(ctx context.Context, characterID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.ready(); err != nil {
		return 0, err
	}

	var max int
	err := s.sqlDB.QueryRowContext(ctx,
		s.rebind("SELECT COALESCE(MAX(priority), 0) FROM actions WHERE character_id = ?"),
		characterID,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max priority: %w", err)
	}
	return max, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(row rowScanner) (*action.Action, error) {
	var (
		act        action.Action
		typeTag    string
		started    int64
		complete   sql.NullInt64
		hidden     int
		hourly     int
		canCancel  int
		block      int
		opposing   string
		supporting string
		entourage  string
	)
	if err := row.Scan(
		&act.ID,
		&typeTag,
		&act.CharacterID,
		&act.TargetCharacterID,
		&act.TargetSettlementID,
		&act.TargetRealmID,
		&act.TargetBattleGroupID,
		&act.TargetListingID,
		&act.StringValue,
		&started,
		&complete,
		&act.Priority,
		&hidden,
		&hourly,
		&canCancel,
		&block,
		&act.OpposedActionID,
		&opposing,
		&supporting,
		&entourage,
	); err != nil {
		return nil, err
	}

	act.Type = action.Type(typeTag)
	act.Started = time.UnixMilli(started).UTC()
	if complete.Valid {
		at := time.UnixMilli(complete.Int64).UTC()
		act.Complete = &at
	}
	act.Hidden = hidden != 0
	act.Hourly = hourly != 0
	act.CanCancel = canCancel != 0
	act.BlockTravel = block != 0

	var err error
	if act.OpposingActionIDs, err = decodeIDs(opposing); err != nil {
		return nil, fmt.Errorf("decode opposing actions: %w", err)
	}
	if act.SupportingActionIDs, err = decodeIDs(supporting); err != nil {
		return nil, fmt.Errorf("decode supporting actions: %w", err)
	}
	if act.AssignedEntourageIDs, err = decodeIDs(entourage); err != nil {
		return nil, fmt.Errorf("decode assigned entourage: %w", err)
	}
	return &act, nil
}

func encodeIDs(ids []string) (string, error) {
	if len(ids) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeIDs(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" || raw == "[]" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
