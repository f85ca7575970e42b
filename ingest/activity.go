package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"killbase"
)

type EntityKind string

const (
	EntityCharacter   EntityKind = "character"
	EntityCorporation EntityKind = "corporation"
	EntityAlliance    EntityKind = "alliance"
)

type Entity struct {
	ID   int32
	Kind EntityKind
}

// ActivityStore records when entities were last seen in combat.
// Implementations must be monotonic: a bump with an older timestamp than the
// stored one leaves the stored value untouched.
type ActivityStore interface {
	BumpLastActive(ctx context.Context, entities []Entity, lastActive time.Time) error
}

// ActivityTracker bumps last-seen-in-combat timestamps for every character,
// corporation, and alliance touched by a batch, victim or attacker alike.
type ActivityTracker struct {
	store  ActivityStore
	logger zerolog.Logger
}

func NewActivityTracker(store ActivityStore, logger zerolog.Logger) *ActivityTracker {
	return &ActivityTracker{store: store, logger: logger}
}

// Track collects the distinct entities of the batch and bumps them all to the
// batch's latest killmail timestamp in one store call.
func (t *ActivityTracker) Track(ctx context.Context, killmails []*killbase.Killmail) error {
	if len(killmails) == 0 {
		return nil
	}

	seen := map[Entity]bool{}
	entities := []Entity{}
	add := func(id *int32, kind EntityKind) {
		if id == nil || *id == 0 {
			return
		}
		entity := Entity{ID: *id, Kind: kind}
		if !seen[entity] {
			seen[entity] = true
			entities = append(entities, entity)
		}
	}

	var latest time.Time
	for _, killmail := range killmails {
		if killmail.KillmailTime.After(latest) {
			latest = killmail.KillmailTime
		}

		add(killmail.Victim.CharacterID, EntityCharacter)
		victimCorporation := killmail.Victim.CorporationID
		add(&victimCorporation, EntityCorporation)
		add(killmail.Victim.AllianceID, EntityAlliance)

		for _, attacker := range killmail.Attackers {
			add(attacker.CharacterID, EntityCharacter)
			add(attacker.CorporationID, EntityCorporation)
			add(attacker.AllianceID, EntityAlliance)
		}
	}

	if len(entities) == 0 {
		return nil
	}

	return t.store.BumpLastActive(ctx, entities, latest)
}
