package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"killbase"
)

// noopconsumer drains the long-poll feed and logs what it gets. Useful as a
// smoke test that the whole pipeline delivers, and as a reference consumer.
func main() {
	ctx := context.Background()

	log.Logger = log.Output(killbase.LogOut{})
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	feedURL := os.Getenv("FEED_URL")
	if feedURL == "" {
		feedURL = "http://localhost:8081/listen"
	}

	queueID := os.Getenv("QUEUE_ID")
	if queueID == "" {
		log.Fatal().Msg("missing queue ID")
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}

	for {
		response, err := pollFeed(ctx, httpClient, feedURL, queueID)
		if err != nil {
			log.Error().Err(err).Msg("failed to poll feed")
			time.Sleep(1 * time.Second)
			continue
		}

		if response.Package == nil {
			log.Debug().Msg("nothing new")
			continue
		}

		log.Info().
			Int32("killmail-id", response.Package.KillID).
			Float64("total-value", response.Package.Meta.TotalValue).
			Msg("received killmail")
	}
}

func pollFeed(ctx context.Context, httpClient *http.Client, feedURL string, queueID string) (killbase.FeedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s?queueID=%s&ttw=10", feedURL, queueID), nil)
	if err != nil {
		return killbase.FeedResponse{}, fmt.Errorf("failed to create request: %w", err)
	}

	res, err := httpClient.Do(req)
	if err != nil {
		return killbase.FeedResponse{}, fmt.Errorf("failed to send request: %w", err)
	}

	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return killbase.FeedResponse{}, fmt.Errorf("failed to read response: %w", err)
	}

	if res.StatusCode != http.StatusOK {
		return killbase.FeedResponse{}, fmt.Errorf("unexpected status code: %d", res.StatusCode)
	}

	var response killbase.FeedResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return killbase.FeedResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}

	return response, nil
}
