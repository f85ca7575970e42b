package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"killbase"
	"killbase/postgres"
)

func main() {
	ctx := context.Background()

	log.Logger = log.Output(killbase.LogOut{})

	config, err := killbase.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read config")
	}

	if err := postgres.Migrate(ctx, config.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate")
	}

	log.Info().Msg("schema is up to date")
}
