package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/antihax/goesi"
	"github.com/rs/zerolog"

	"killbase/ingest"
)

// UpstreamPackage is the zkillboard RedisQ announcement: kill ID plus the
// verification hash needed to fetch the full killmail from ESI.
type UpstreamPackage struct {
	KillID int32 `json:"killID"`
	Zkb    struct {
		Hash string `json:"hash"`
	} `json:"zkb"`
}

type UpstreamResponse struct {
	Package *UpstreamPackage `json:"package"`
}

func watchRedisQ(ctx context.Context, logger zerolog.Logger, writer *ingest.Writer, esiClient *goesi.APIClient, queueID string) {
	for {
		response, err := fetchRedisQ(ctx, logger, queueID)
		if err != nil {
			logger.Error().Err(err).Msg("failed to fetch")

			// Sleep with context cancellation
			select {
			case <-ctx.Done():
			case <-time.After(10 * time.Second):
			}

			continue
		}

		if response.Package == nil {
			continue
		}

		if isKillmailCached(response.Package.KillID) {
			continue
		}

		go processKillmail(ctx, logger.With().Int32("killmail-id", response.Package.KillID).Logger(), writer, esiClient, response.Package.KillID, response.Package.Zkb.Hash)
	}
}

func fetchRedisQ(ctx context.Context, logger zerolog.Logger, queueID string) (UpstreamResponse, error) {
	httpClient := &http.Client{
		Timeout: 15 * time.Second,
	}

	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("https://zkillredisq.stream/listen.php?queueID=%s&ttw=10", queueID), nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create request")
	}

	res, err := httpClient.Do(req)
	if err != nil {
		return UpstreamResponse{}, fmt.Errorf("failed to send request: %w", err)
	}

	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return UpstreamResponse{}, fmt.Errorf("failed to read response: %w", err)
	}

	if res.StatusCode != http.StatusOK {
		return UpstreamResponse{}, fmt.Errorf("unexpected status code: %d", res.StatusCode)
	}

	var response UpstreamResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return UpstreamResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}

	return response, nil
}
