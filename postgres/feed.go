package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"killbase"
	"killbase/itemtree"
)

const packageSelect = `
	SELECT killmail_id, killmail_time, hash, solar_system_id, moon_id, war_id,
	       victim_character_id, victim_corporation_id, victim_alliance_id, victim_faction_id,
	       ship_type_id, damage_taken, position_x, position_y, position_z,
	       solo, npc, awox, dropped_value, destroyed_value, total_value
	FROM killmails
`

// NewestPackage assembles the single most recently stored killmail.
func (db *DB) NewestPackage(ctx context.Context) (*killbase.FeedPackage, bool, error) {
	return db.fetchPackage(ctx, packageSelect+` ORDER BY killmail_id DESC LIMIT 1`)
}

// NextPackageAfter assembles the oldest killmail with an ID strictly greater
// than the given one.
func (db *DB) NextPackageAfter(ctx context.Context, killmailID int32) (*killbase.FeedPackage, bool, error) {
	return db.fetchPackage(ctx, packageSelect+` WHERE killmail_id > $1 ORDER BY killmail_id ASC LIMIT 1`, killmailID)
}

func (db *DB) fetchPackage(ctx context.Context, sql string, args ...any) (*killbase.FeedPackage, bool, error) {
	var (
		killmail       killbase.Killmail
		hash           string
		moonID, warID  *int32
		x, y, z        *float64
		solo, npc      bool
		awox           bool
		droppedValue   float64
		destroyedValue float64
		totalValue     float64
	)

	err := db.Pool.QueryRow(ctx, sql, args...).Scan(
		&killmail.KillmailID, &killmail.KillmailTime, &hash, &killmail.SolarSystemID, &moonID, &warID,
		&killmail.Victim.CharacterID, &killmail.Victim.CorporationID, &killmail.Victim.AllianceID, &killmail.Victim.FactionID,
		&killmail.Victim.ShipTypeID, &killmail.Victim.DamageTaken, &x, &y, &z,
		&solo, &npc, &awox, &droppedValue, &destroyedValue, &totalValue,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query killmail: %w", err)
	}

	if moonID != nil {
		killmail.MoonID = *moonID
	}
	if warID != nil {
		killmail.WarID = *warID
	}
	if x != nil && y != nil && z != nil {
		killmail.Victim.Position = &killbase.Position{X: *x, Y: *y, Z: *z}
	}

	killmail.Attackers, err = db.killmailAttackers(ctx, killmail.KillmailID)
	if err != nil {
		return nil, false, err
	}

	killmail.Victim.Items, err = db.killmailItems(ctx, killmail.KillmailID)
	if err != nil {
		return nil, false, err
	}

	locationID := int64(killmail.SolarSystemID)
	if killmail.MoonID != 0 {
		locationID = int64(killmail.MoonID)
	}

	return &killbase.FeedPackage{
		KillID:   killmail.KillmailID,
		Killmail: killmail,
		Meta: killbase.KillmailMeta{
			LocationID:     locationID,
			Hash:           hash,
			DroppedValue:   droppedValue,
			DestroyedValue: destroyedValue,
			TotalValue:     totalValue,
			Npc:            npc,
			Solo:           solo,
			Awox:           awox,
			Href:           fmt.Sprintf("https://esi.evetech.net/latest/killmails/%d/%s/", killmail.KillmailID, hash),
			Labels:         []string{},
		},
	}, true, nil
}

func (db *DB) killmailAttackers(ctx context.Context, killmailID int32) ([]killbase.Attacker, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT character_id, corporation_id, alliance_id, faction_id,
		       ship_type_id, weapon_type_id, damage_done, final_blow, security_status
		FROM attackers
		WHERE killmail_id = $1
		ORDER BY attacker_id
	`, killmailID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attackers: %w", err)
	}
	defer rows.Close()

	attackers := []killbase.Attacker{}
	for rows.Next() {
		var attacker killbase.Attacker
		if err := rows.Scan(
			&attacker.CharacterID, &attacker.CorporationID, &attacker.AllianceID, &attacker.FactionID,
			&attacker.ShipTypeID, &attacker.WeaponTypeID, &attacker.DamageDone, &attacker.FinalBlow, &attacker.SecurityStatus,
		); err != nil {
			return nil, err
		}
		attackers = append(attackers, attacker)
	}

	return attackers, rows.Err()
}

func (db *DB) killmailItems(ctx context.Context, killmailID int32) ([]killbase.Item, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT item_id, parent_item_id, item_type_id, flag, quantity_dropped, quantity_destroyed, singleton
		FROM items
		WHERE killmail_id = $1
		ORDER BY item_id
	`, killmailID)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	stored := []itemtree.StoredItem{}
	for rows.Next() {
		var row itemtree.StoredItem
		if err := rows.Scan(
			&row.ItemID, &row.ParentItemID, &row.Item.ItemTypeID, &row.Item.Flag,
			&row.Item.QuantityDropped, &row.Item.QuantityDestroyed, &row.Item.Singleton,
		); err != nil {
			return nil, err
		}
		stored = append(stored, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return itemtree.Reconstruct(stored), nil
}
