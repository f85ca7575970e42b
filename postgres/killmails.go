package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"killbase/ingest"
	"killbase/itemtree"
)

// Column sets are fixed per entity; only the row count of a bulk statement
// varies at runtime.
var (
	killmailColumns = []string{
		"killmail_id", "killmail_time", "hash", "solar_system_id",
		"region_id", "constellation_id", "security", "moon_id", "war_id",
		"victim_character_id", "victim_corporation_id", "victim_alliance_id", "victim_faction_id",
		"ship_type_id", "ship_group_id", "damage_taken",
		"position_x", "position_y", "position_z",
		"top_character_id", "top_corporation_id", "top_alliance_id", "top_ship_type_id",
		"solo", "npc", "awox", "attacker_count",
		"ship_value", "dropped_value", "destroyed_value", "total_value",
	}

	attackerColumns = []string{
		"killmail_id", "killmail_time", "character_id", "corporation_id",
		"alliance_id", "faction_id", "ship_type_id", "weapon_type_id",
		"damage_done", "final_blow", "security_status",
	}
)

// ExistingKillmailIDs reports which of the given killmail IDs are stored.
func (db *DB) ExistingKillmailIDs(ctx context.Context, killmailIDs []int32) (map[int32]bool, error) {
	rows, err := db.Pool.Query(ctx, `SELECT killmail_id FROM killmails WHERE killmail_id = ANY($1)`, killmailIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing killmail IDs: %w", err)
	}
	defer rows.Close()

	existing := map[int32]bool{}
	for rows.Next() {
		var killmailID int32
		if err := rows.Scan(&killmailID); err != nil {
			return nil, err
		}
		existing[killmailID] = true
	}

	return existing, rows.Err()
}

// InsertKillmails bulk-inserts killmail rows. Conflicts do nothing: a stored
// killmail is immutable and authoritative, and the dedup check upstream may
// race a concurrent batch.
func (db *DB) InsertKillmails(ctx context.Context, killmails []ingest.KillmailRow) error {
	if len(killmails) == 0 {
		return nil
	}

	args := make([]any, 0, len(killmails)*len(killmailColumns))
	for _, row := range killmails {
		var x, y, z any
		if row.Position != nil {
			x, y, z = row.Position.X, row.Position.Y, row.Position.Z
		}

		args = append(args,
			row.KillmailID, row.KillmailTime, row.Hash, row.SolarSystemID,
			row.RegionID, row.ConstellationID, row.Security, nullableID(row.MoonID), nullableID(row.WarID),
			row.VictimCharacterID, row.VictimCorporationID, row.VictimAllianceID, row.VictimFactionID,
			row.ShipTypeID, row.ShipGroupID, row.DamageTaken,
			x, y, z,
			row.TopCharacterID, row.TopCorporationID, row.TopAllianceID, row.TopShipTypeID,
			row.Solo, row.Npc, row.Awox, row.AttackerCount,
			row.ShipValue, row.DroppedValue, row.DestroyedValue, row.TotalValue,
		)
	}

	sql := bulkInsertSQL("killmails", killmailColumns, len(killmails)) + " ON CONFLICT DO NOTHING"
	if _, err := db.Pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to bulk insert killmails: %w", err)
	}

	return nil
}

func (db *DB) InsertAttackers(ctx context.Context, attackers []ingest.AttackerRow) error {
	if len(attackers) == 0 {
		return nil
	}

	args := make([]any, 0, len(attackers)*len(attackerColumns))
	for _, row := range attackers {
		args = append(args,
			row.KillmailID, row.KillmailTime, row.CharacterID, row.CorporationID,
			row.AllianceID, row.FactionID, row.ShipTypeID, row.WeaponTypeID,
			row.DamageDone, row.FinalBlow, row.SecurityStatus,
		)
	}

	sql := bulkInsertSQL("attackers", attackerColumns, len(attackers))
	if _, err := db.Pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to bulk insert attackers: %w", err)
	}

	return nil
}

// InsertItems stores one killmail's flattened item tree. The store cannot
// self-reference within a single insert, so this is two passes in one
// transaction: insert the flat rows collecting their assigned IDs, then patch
// parent_item_id using the positional references.
func (db *DB) InsertItems(ctx context.Context, killmailID int32, killmailTime time.Time, items []itemtree.FlatItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin item transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	inserts := &pgx.Batch{}
	for _, flat := range items {
		inserts.Queue(`
			INSERT INTO items (killmail_id, killmail_time, item_type_id, flag, quantity_dropped, quantity_destroyed, singleton)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING item_id
		`, killmailID, killmailTime, flat.Item.ItemTypeID, flat.Item.Flag,
			flat.Item.QuantityDropped, flat.Item.QuantityDestroyed, flat.Item.Singleton)
	}

	itemIDs := make([]int64, len(items))
	results := tx.SendBatch(ctx, inserts)
	for i := range items {
		if err = results.QueryRow().Scan(&itemIDs[i]); err != nil {
			_ = results.Close()
			return fmt.Errorf("failed to insert item: %w", err)
		}
	}
	if err = results.Close(); err != nil {
		return fmt.Errorf("failed to finish item inserts: %w", err)
	}

	patches := &pgx.Batch{}
	for i, flat := range items {
		if flat.ParentIndex == nil {
			continue
		}
		patches.Queue(`UPDATE items SET parent_item_id = $1 WHERE item_id = $2`, itemIDs[*flat.ParentIndex], itemIDs[i])
	}

	if patches.Len() > 0 {
		if err = tx.SendBatch(ctx, patches).Close(); err != nil {
			return fmt.Errorf("failed to patch item parents: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit items: %w", err)
	}

	return nil
}

func bulkInsertSQL(table string, columns []string, rowCount int) string {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(columns, ", "))
	sb.WriteString(") VALUES ")

	arg := 1
	for row := 0; row < rowCount; row++ {
		if row > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for col := range columns {
			if col > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", arg)
			arg++
		}
		sb.WriteString(")")
	}

	return sb.String()
}

func nullableID(id int32) any {
	if id == 0 {
		return nil
	}
	return id
}
