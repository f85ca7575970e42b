package postgres

import (
	"context"
	"fmt"
	"time"

	"killbase/ingest"
)

// BumpLastActive advances last-seen-in-combat timestamps. GREATEST keeps the
// bump monotonic under out-of-order backfill batches.
func (db *DB) BumpLastActive(ctx context.Context, entities []ingest.Entity, lastActive time.Time) error {
	if len(entities) == 0 {
		return nil
	}

	ids := make([]int32, 0, len(entities))
	kinds := make([]string, 0, len(entities))
	for _, entity := range entities {
		ids = append(ids, entity.ID)
		kinds = append(kinds, string(entity.Kind))
	}

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO entity_activity (entity_id, entity_kind, last_active)
		SELECT unnest($1::int[]), unnest($2::text[]), $3
		ON CONFLICT (entity_id, entity_kind)
		DO UPDATE SET last_active = GREATEST(entity_activity.last_active, EXCLUDED.last_active)
	`, ids, kinds, lastActive)
	if err != nil {
		return fmt.Errorf("failed to bump entity activity: %w", err)
	}

	return nil
}
