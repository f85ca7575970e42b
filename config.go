package killbase

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Environment           string
	Port                  int
	EsiContactInformation string

	DatabaseURL string
	RedisURL    string

	UpstreamQueueID string

	// MarketRegionID is the reference market used for all price lookups.
	// Defaults to The Forge.
	MarketRegionID int32

	// CapitalGroupIDs are the ship groups whose market prices are too thin to
	// trust; their hulls are always valued by reprocessing estimate instead.
	CapitalGroupIDs []int32
}

const (
	EnvironmentProduction = "production"

	defaultMarketRegionID = 10000002
)

// defaultCapitalGroupIDs covers titans and supercarriers.
var defaultCapitalGroupIDs = []int32{30, 659}

func NewConfig() (Config, error) {
	config := Config{
		Environment:           os.Getenv("ENVIRONMENT"),
		Port:                  8081,
		EsiContactInformation: os.Getenv("ESI_CONTACT_INFORMATION"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisURL:              os.Getenv("REDIS_URL"),
		UpstreamQueueID:       os.Getenv("UPSTREAM_QUEUE_ID"),
		MarketRegionID:        defaultMarketRegionID,
		CapitalGroupIDs:       defaultCapitalGroupIDs,
	}

	if config.DatabaseURL == "" {
		return config, errors.New("missing database url")
	}

	if config.RedisURL == "" {
		return config, errors.New("missing redis url")
	}

	if raw := os.Getenv("MARKET_REGION_ID"); raw != "" {
		regionID, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return config, fmt.Errorf("invalid market region ID: %w", err)
		}
		config.MarketRegionID = int32(regionID)
	}

	if raw := os.Getenv("CAPITAL_GROUP_IDS"); raw != "" {
		groupIDs, err := parseIDList(raw)
		if err != nil {
			return config, fmt.Errorf("invalid capital group IDs: %w", err)
		}
		config.CapitalGroupIDs = groupIDs
	}

	return config, nil
}

func parseIDList(raw string) ([]int32, error) {
	parts := strings.Split(raw, ",")
	ids := make([]int32, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 32)
		if err != nil {
			return nil, err
		}
		ids = append(ids, int32(id))
	}
	return ids, nil
}
