package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"killbase/ingest"
)

func (db *DB) SolarSystems(ctx context.Context, systemIDs []int32) (map[int32]ingest.SolarSystem, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT solar_system_id, region_id, constellation_id, security
		FROM solar_systems
		WHERE solar_system_id = ANY($1)
	`, systemIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query solar systems: %w", err)
	}
	defer rows.Close()

	systems := map[int32]ingest.SolarSystem{}
	for rows.Next() {
		var systemID int32
		var system ingest.SolarSystem
		if err := rows.Scan(&systemID, &system.RegionID, &system.ConstellationID, &system.Security); err != nil {
			return nil, err
		}
		systems[systemID] = system
	}

	return systems, rows.Err()
}

func (db *DB) ShipGroups(ctx context.Context, typeIDs []int32) (map[int32]int32, error) {
	rows, err := db.Pool.Query(ctx, `SELECT type_id, group_id FROM inv_types WHERE type_id = ANY($1)`, typeIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query ship groups: %w", err)
	}
	defer rows.Close()

	groups := map[int32]int32{}
	for rows.Next() {
		var typeID, groupID int32
		if err := rows.Scan(&typeID, &groupID); err != nil {
			return nil, err
		}
		groups[typeID] = groupID
	}

	return groups, rows.Err()
}

// Prices resolves one price per type: the closest daily snapshot at or before
// the given date, for the given market region.
func (db *DB) Prices(ctx context.Context, typeIDs []int32, date time.Time, regionID int32) (map[int32]float64, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT DISTINCT ON (type_id) type_id, average_price
		FROM market_prices
		WHERE type_id = ANY($1) AND region_id = $2 AND price_date <= $3
		ORDER BY type_id, price_date DESC
	`, typeIDs, regionID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query market prices: %w", err)
	}
	defer rows.Close()

	prices := map[int32]float64{}
	for rows.Next() {
		var typeID int32
		var price float64
		if err := rows.Scan(&typeID, &price); err != nil {
			return nil, err
		}
		prices[typeID] = price
	}

	return prices, rows.Err()
}

func (db *DB) CustomPrice(ctx context.Context, typeID int32, date time.Time) (float64, bool, error) {
	var price float64
	err := db.Pool.QueryRow(ctx, `
		SELECT price FROM custom_prices
		WHERE type_id = $1 AND price_date <= $2
		ORDER BY price_date DESC
		LIMIT 1
	`, typeID, date).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query custom price: %w", err)
	}

	return price, true, nil
}

// ReprocessingValue sums the as-of prices of the materials the type yields
// when broken down. Types without material data estimate to zero.
func (db *DB) ReprocessingValue(ctx context.Context, typeID int32, date time.Time, regionID int32) (float64, error) {
	var estimate float64
	err := db.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(m.quantity * p.average_price), 0)
		FROM type_materials m
		JOIN LATERAL (
			SELECT average_price
			FROM market_prices
			WHERE type_id = m.material_type_id AND region_id = $2 AND price_date <= $3
			ORDER BY price_date DESC
			LIMIT 1
		) p ON true
		WHERE m.type_id = $1
	`, typeID, regionID, date).Scan(&estimate)
	if err != nil {
		return 0, fmt.Errorf("failed to query reprocessing value: %w", err)
	}

	return estimate, nil
}

func (db *DB) ShipGroup(ctx context.Context, typeID int32) (int32, bool, error) {
	var groupID int32
	err := db.Pool.QueryRow(ctx, `SELECT group_id FROM inv_types WHERE type_id = $1`, typeID).Scan(&groupID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query ship group: %w", err)
	}

	return groupID, true, nil
}
