package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"killbase"
	"killbase/ingest"
	"killbase/postgres"
	"killbase/value"
)

// backfill walks a directory of killmail JSON dumps (one killmail object or
// an array per file) and feeds them through the bulk ingestion path. Nothing
// is fatal mid-run: malformed files are logged and counted, and a batch that
// keeps failing after retries is counted and skipped. Idempotent inserts make
// a rerun for the failed remainder safe.
func main() {
	ctx := context.Background()

	log.Logger = log.Output(killbase.LogOut{})

	var (
		dir       = flag.String("dir", "", "directory containing killmail JSON files")
		batchSize = flag.Int("batch", 500, "killmails per StoreMany batch")
	)
	flag.Parse()

	if *dir == "" {
		log.Fatal().Msg("missing -dir")
	}

	config, err := killbase.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read config")
	}

	db, err := postgres.Connect(ctx, config.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}

	defer db.Close()

	appraiser := value.NewAppraiser(db, config.MarketRegionID, config.CapitalGroupIDs, log.With().Str("component", "value").Logger())
	tracker := ingest.NewActivityTracker(db, log.With().Str("component", "activity").Logger())
	writer := ingest.NewWriter(db, db, appraiser, tracker, log.With().Str("component", "ingest").Logger())

	files, err := listKillmailFiles(*dir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", *dir).Msg("failed to list killmail files")
	}

	var (
		totals        ingest.Result
		failed        int
		failedBatches int
		pending       []ingest.Incoming
	)

	flush := func() {
		if len(pending) == 0 {
			return
		}

		result, err := storeWithRetry(ctx, writer, pending, storeAttempts, retryDelay)
		if err != nil {
			failedBatches++
			log.Error().Err(err).Int("killmails", len(pending)).Msg("batch failed after retries, skipping")
			pending = pending[:0]
			return
		}

		totals.Inserted += result.Inserted
		totals.SkippedExisting += result.SkippedExisting

		log.Info().
			Int("inserted", result.Inserted).
			Int("skipped-existing", result.SkippedExisting).
			Msg("stored batch")

		pending = pending[:0]
	}

	for _, path := range files {
		killmails, err := readKillmailFile(path)
		if err != nil {
			failed++
			log.Warn().Err(err).Str("file", path).Msg("skipping malformed killmail file")
			continue
		}

		for _, killmail := range killmails {
			pending = append(pending, ingest.Incoming{Killmail: killmail})
			if len(pending) >= *batchSize {
				flush()
			}
		}
	}

	flush()

	log.Info().
		Int("inserted", totals.Inserted).
		Int("skipped-existing", totals.SkippedExisting).
		Int("failed", failed).
		Int("failed-batches", failedBatches).
		Int("files", len(files)).
		Msg("backfill finished")

	if failedBatches > 0 {
		log.Warn().Int("failed-batches", failedBatches).Msg("rerun to retry failed batches")
	}
}

const (
	storeAttempts = 3
	retryDelay    = 2 * time.Second
)

type batchStore interface {
	StoreMany(ctx context.Context, batch []ingest.Incoming) (ingest.Result, error)
}

// storeWithRetry retries transient store failures a few times before giving
// the batch up to the caller.
func storeWithRetry(ctx context.Context, store batchStore, batch []ingest.Incoming, attempts int, delay time.Duration) (ingest.Result, error) {
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := store.StoreMany(ctx, batch)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if attempt == attempts {
			break
		}

		log.Warn().Err(err).Int("attempt", attempt).Msg("batch store failed, retrying")

		select {
		case <-ctx.Done():
			return ingest.Result{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	return ingest.Result{}, lastErr
}

func listKillmailFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	files := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}

	sort.Strings(files)

	return files, nil
}

// readKillmailFile accepts either a single killmail object or an array.
func readKillmailFile(path string) ([]*killbase.Killmail, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "[") {
		var killmails []*killbase.Killmail
		if err := json.Unmarshal(payload, &killmails); err != nil {
			return nil, err
		}
		return killmails, nil
	}

	var killmail killbase.Killmail
	if err := json.Unmarshal(payload, &killmail); err != nil {
		return nil, err
	}

	return []*killbase.Killmail{&killmail}, nil
}
