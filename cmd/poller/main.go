package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/antihax/goesi"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"killbase"
	"killbase/ingest"
	"killbase/postgres"
	"killbase/value"
)

func main() {
	ctx := context.Background()

	log.Logger = log.Output(killbase.LogOut{})

	config, err := killbase.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read config")
	}

	if config.UpstreamQueueID == "" {
		log.Fatal().Msg("missing upstream queue ID")
	}

	if config.EsiContactInformation == "" {
		log.Fatal().Msg("missing ESI contact information")
	}

	db, err := postgres.Connect(ctx, config.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}

	defer db.Close()

	appraiser := value.NewAppraiser(db, config.MarketRegionID, config.CapitalGroupIDs, log.With().Str("component", "value").Logger())
	tracker := ingest.NewActivityTracker(db, log.With().Str("component", "activity").Logger())
	writer := ingest.NewWriter(db, db, appraiser, tracker, log.With().Str("component", "ingest").Logger())

	httpClient := &http.Client{Timeout: 10 * time.Second}

	esiClient := goesi.NewAPIClient(httpClient, fmt.Sprintf("Killbase/%s (%s)", killbase.Version, config.EsiContactInformation))

	go watchRedisQ(ctx, log.With().Str("source", "redisq").Logger(), writer, esiClient, config.UpstreamQueueID)

	<-make(chan bool, 1)
}

func processKillmail(ctx context.Context, logger zerolog.Logger, writer *ingest.Writer, esiClient *goesi.APIClient, killmailID int32, hash string) {
	esiKillmail, _, err := esiClient.ESI.KillmailsApi.GetKillmailsKillmailIdKillmailHash(ctx, hash, killmailID, nil)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch killmail from ESI")
		return
	}

	killmail := convertESIKillmail(esiKillmail)

	inserted, err := writer.StoreOne(ctx, &killmail, hash)
	if err != nil {
		logger.Error().Err(err).Msg("failed to store killmail")
		return
	}

	if !inserted {
		logger.Debug().Msg("killmail already stored")
		return
	}

	logger.Info().Msg("stored killmail")
}
