// Package ingest persists killmails exactly once. It deduplicates incoming
// batches against the store, values them, denormalizes lookups, and writes
// killmail, attacker, and item rows through a bulk store interface.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"killbase"
	"killbase/itemtree"
	"killbase/value"
)

// Store is the relational backend for killmail writes. Inserts must be
// idempotent: a row that already exists is silently left untouched.
type Store interface {
	// ExistingKillmailIDs reports which of the given IDs are already stored.
	ExistingKillmailIDs(ctx context.Context, killmailIDs []int32) (map[int32]bool, error)

	// InsertKillmails bulk-inserts killmail rows, doing nothing on conflict.
	InsertKillmails(ctx context.Context, rows []KillmailRow) error

	// InsertAttackers bulk-inserts attacker rows.
	InsertAttackers(ctx context.Context, rows []AttackerRow) error

	// InsertItems stores one killmail's flattened item tree and patches the
	// positional parent references with the assigned surrogate IDs.
	InsertItems(ctx context.Context, killmailID int32, killmailTime time.Time, items []itemtree.FlatItem) error
}

// Lookups resolves static reference data, bulk per batch rather than per row.
type Lookups interface {
	SolarSystems(ctx context.Context, systemIDs []int32) (map[int32]SolarSystem, error)
	ShipGroups(ctx context.Context, typeIDs []int32) (map[int32]int32, error)
}

type SolarSystem struct {
	RegionID        int32
	ConstellationID int32
	Security        float64
}

// KillmailRow is the denormalized killmail record as stored.
type KillmailRow struct {
	KillmailID    int32
	KillmailTime  time.Time
	Hash          string
	SolarSystemID int32

	RegionID        int32
	ConstellationID int32
	Security        float64

	MoonID int32
	WarID  int32

	VictimCharacterID   *int32
	VictimCorporationID int32
	VictimAllianceID    *int32
	VictimFactionID     *int32

	ShipTypeID  int32
	ShipGroupID int32
	DamageTaken int32
	Position    *killbase.Position

	TopCharacterID   *int32
	TopCorporationID *int32
	TopAllianceID    *int32
	TopShipTypeID    *int32

	Solo bool
	Npc  bool
	Awox bool

	AttackerCount int32

	ShipValue      float64
	DroppedValue   float64
	DestroyedValue float64
	TotalValue     float64
}

type AttackerRow struct {
	KillmailID   int32
	KillmailTime time.Time

	CharacterID   *int32
	CorporationID *int32
	AllianceID    *int32
	FactionID     *int32
	ShipTypeID    *int32
	WeaponTypeID  *int32

	DamageDone     int32
	FinalBlow      bool
	SecurityStatus float64
}

// Incoming is one killmail handed to the writer. Hash may be empty when the
// producer has no upstream verification hash for it.
type Incoming struct {
	Killmail *killbase.Killmail
	Hash     string
}

// Result reports what a batch actually did. SkippedExisting counts both
// intra-batch duplicates and killmails that were already stored.
type Result struct {
	Inserted        int
	SkippedExisting int
}

const (
	// attackerChunkRows keeps one bulk statement under the store's
	// parameter-count ceiling.
	attackerChunkRows = 5000

	killmailChunkRows = 1000
)

type Writer struct {
	store     Store
	lookups   Lookups
	appraiser *value.Appraiser
	tracker   *ActivityTracker
	logger    zerolog.Logger
}

func NewWriter(store Store, lookups Lookups, appraiser *value.Appraiser, tracker *ActivityTracker, logger zerolog.Logger) *Writer {
	return &Writer{
		store:     store,
		lookups:   lookups,
		appraiser: appraiser,
		tracker:   tracker,
		logger:    logger,
	}
}

// StoreOne persists a single killmail, reporting whether it was new.
func (w *Writer) StoreOne(ctx context.Context, killmail *killbase.Killmail, hash string) (bool, error) {
	result, err := w.StoreMany(ctx, []Incoming{{Killmail: killmail, Hash: hash}})
	if err != nil {
		return false, err
	}

	return result.Inserted == 1, nil
}

// StoreMany is the bulk ingestion path. Calling it twice with the same or
// overlapping batches never duplicates or mutates stored killmails. A store
// failure fails the whole batch; callers retry the batch as a unit.
func (w *Writer) StoreMany(ctx context.Context, batch []Incoming) (Result, error) {
	result := Result{}

	// Intra-batch dedup, first occurrence wins.
	seen := make(map[int32]bool, len(batch))
	distinct := make([]Incoming, 0, len(batch))
	for _, incoming := range batch {
		if incoming.Killmail == nil {
			continue
		}
		if seen[incoming.Killmail.KillmailID] {
			result.SkippedExisting++
			continue
		}
		seen[incoming.Killmail.KillmailID] = true
		distinct = append(distinct, incoming)
	}

	if len(distinct) == 0 {
		return result, nil
	}

	killmailIDs := make([]int32, 0, len(distinct))
	for _, incoming := range distinct {
		killmailIDs = append(killmailIDs, incoming.Killmail.KillmailID)
	}

	existing, err := w.store.ExistingKillmailIDs(ctx, killmailIDs)
	if err != nil {
		w.logger.Error().Err(err).Int("batch-size", len(batch)).Msg("failed to check existing killmails")
		return result, fmt.Errorf("failed to check existing killmails: %w", err)
	}

	fresh := make([]Incoming, 0, len(distinct))
	for _, incoming := range distinct {
		if existing[incoming.Killmail.KillmailID] {
			result.SkippedExisting++
			continue
		}
		fresh = append(fresh, incoming)
	}

	if len(fresh) == 0 {
		return result, nil
	}

	killmails := make([]*killbase.Killmail, 0, len(fresh))
	for _, incoming := range fresh {
		killmails = append(killmails, incoming.Killmail)
	}

	appraisals := w.appraiser.AppraiseBatch(ctx, killmails)

	systems, groups, err := w.batchLookups(ctx, killmails)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to resolve batch lookups")
		return result, err
	}

	killmailRows := make([]KillmailRow, 0, len(fresh))
	attackerRows := []AttackerRow{}

	for i, incoming := range fresh {
		appraisal := appraisals[i]
		if appraisal.Err != nil {
			// Storage still proceeds; the killmail just carries no value.
			w.logger.Warn().Err(appraisal.Err).Int32("killmail-id", incoming.Killmail.KillmailID).Msg("failed to value killmail")
			appraisal.Breakdown = value.Breakdown{}
		}

		killmailRows = append(killmailRows, buildKillmailRow(incoming, appraisal.Breakdown, systems, groups))

		for _, attacker := range incoming.Killmail.Attackers {
			attackerRows = append(attackerRows, AttackerRow{
				KillmailID:     incoming.Killmail.KillmailID,
				KillmailTime:   incoming.Killmail.KillmailTime,
				CharacterID:    attacker.CharacterID,
				CorporationID:  attacker.CorporationID,
				AllianceID:     attacker.AllianceID,
				FactionID:      attacker.FactionID,
				ShipTypeID:     attacker.ShipTypeID,
				WeaponTypeID:   attacker.WeaponTypeID,
				DamageDone:     attacker.DamageDone,
				FinalBlow:      attacker.FinalBlow,
				SecurityStatus: attacker.SecurityStatus,
			})
		}
	}

	for _, chunk := range chunkRows(killmailRows, killmailChunkRows) {
		if err := w.store.InsertKillmails(ctx, chunk); err != nil {
			w.logger.Error().Err(err).Msg("failed to insert killmails")
			return result, fmt.Errorf("failed to insert killmails: %w", err)
		}
	}

	for _, chunk := range chunkRows(attackerRows, attackerChunkRows) {
		if err := w.store.InsertAttackers(ctx, chunk); err != nil {
			w.logger.Error().Err(err).Msg("failed to insert attackers")
			return result, fmt.Errorf("failed to insert attackers: %w", err)
		}
	}

	// Item trees go in per killmail: the parent patch needs each killmail's
	// own freshly assigned item IDs.
	for _, incoming := range fresh {
		flat := itemtree.Flatten(incoming.Killmail.Victim.Items)
		if len(flat) == 0 {
			continue
		}

		if err := w.store.InsertItems(ctx, incoming.Killmail.KillmailID, incoming.Killmail.KillmailTime, flat); err != nil {
			w.logger.Error().Err(err).Int32("killmail-id", incoming.Killmail.KillmailID).Msg("failed to insert items")
			return result, fmt.Errorf("failed to insert items for killmail %d: %w", incoming.Killmail.KillmailID, err)
		}
	}

	result.Inserted = len(fresh)

	// Fire and forget: activity tracking never fails the batch.
	if w.tracker != nil {
		if err := w.tracker.Track(ctx, killmails); err != nil {
			w.logger.Warn().Err(err).Msg("failed to track entity activity")
		}
	}

	return result, nil
}

func (w *Writer) batchLookups(ctx context.Context, killmails []*killbase.Killmail) (map[int32]SolarSystem, map[int32]int32, error) {
	systemIDs := distinctIDs(killmails, func(killmail *killbase.Killmail) int32 { return killmail.SolarSystemID })
	shipTypeIDs := distinctIDs(killmails, func(killmail *killbase.Killmail) int32 { return killmail.Victim.ShipTypeID })

	systems, err := w.lookups.SolarSystems(ctx, systemIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve solar systems: %w", err)
	}

	groups, err := w.lookups.ShipGroups(ctx, shipTypeIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve ship groups: %w", err)
	}

	return systems, groups, nil
}

func buildKillmailRow(incoming Incoming, breakdown value.Breakdown, systems map[int32]SolarSystem, groups map[int32]int32) KillmailRow {
	killmail := incoming.Killmail

	hash := incoming.Hash
	if hash == "" {
		hash = FallbackHash(killmail)
	}

	solo, npc, awox := killFlags(killmail)

	row := KillmailRow{
		KillmailID:          killmail.KillmailID,
		KillmailTime:        killmail.KillmailTime,
		Hash:                hash,
		SolarSystemID:       killmail.SolarSystemID,
		MoonID:              killmail.MoonID,
		WarID:               killmail.WarID,
		VictimCharacterID:   killmail.Victim.CharacterID,
		VictimCorporationID: killmail.Victim.CorporationID,
		VictimAllianceID:    killmail.Victim.AllianceID,
		VictimFactionID:     killmail.Victim.FactionID,
		ShipTypeID:          killmail.Victim.ShipTypeID,
		ShipGroupID:         groups[killmail.Victim.ShipTypeID],
		DamageTaken:         killmail.Victim.DamageTaken,
		Position:            killmail.Victim.Position,
		Solo:                solo,
		Npc:                 npc,
		Awox:                awox,
		AttackerCount:       int32(len(killmail.Attackers)),
		ShipValue:           breakdown.ShipValue,
		DroppedValue:        breakdown.DroppedValue,
		DestroyedValue:      breakdown.DestroyedValue,
		TotalValue:          breakdown.TotalValue,
	}

	if system, ok := systems[killmail.SolarSystemID]; ok {
		row.RegionID = system.RegionID
		row.ConstellationID = system.ConstellationID
		row.Security = system.Security
	}

	if top := topAttacker(killmail.Attackers); top != nil {
		row.TopCharacterID = top.CharacterID
		row.TopCorporationID = top.CorporationID
		row.TopAllianceID = top.AllianceID
		row.TopShipTypeID = top.ShipTypeID
	}

	return row
}

// topAttacker credits the final blow, or the highest damage dealt when no
// final blow is marked.
func topAttacker(attackers []killbase.Attacker) *killbase.Attacker {
	var top *killbase.Attacker

	for i := range attackers {
		attacker := &attackers[i]
		if attacker.FinalBlow {
			return attacker
		}
		if top == nil || attacker.DamageDone > top.DamageDone {
			top = attacker
		}
	}

	return top
}

func killFlags(killmail *killbase.Killmail) (solo bool, npc bool, awox bool) {
	players := 0
	for _, attacker := range killmail.Attackers {
		if attacker.CharacterID == nil {
			continue
		}
		players++

		if attacker.CorporationID != nil && *attacker.CorporationID == killmail.Victim.CorporationID {
			awox = true
		}
	}

	npc = players == 0
	solo = players == 1 && len(killmail.Attackers) == 1

	return solo, npc, awox
}

func distinctIDs(killmails []*killbase.Killmail, pick func(*killbase.Killmail) int32) []int32 {
	seen := map[int32]bool{}
	ids := make([]int32, 0, len(killmails))

	for _, killmail := range killmails {
		id := pick(killmail)
		if id != 0 && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	return ids
}

func chunkRows[T any](rows []T, size int) [][]T {
	if len(rows) == 0 {
		return nil
	}

	chunks := make([][]T, 0, len(rows)/size+1)
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		chunks = append(chunks, rows[start:end])
	}

	return chunks
}
