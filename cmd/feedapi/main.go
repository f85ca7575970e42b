package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/olahol/melody"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"killbase"
	"killbase/feed"
	"killbase/httperror"
	"killbase/postgres"
)

func main() {
	ctx := context.Background()

	log.Logger = log.Output(killbase.LogOut{})

	config, err := killbase.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read config")
	}

	rdb := redis.NewClient(&redis.Options{Addr: config.RedisURL})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}

	defer rdb.Close()

	db, err := postgres.Connect(ctx, config.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}

	defer db.Close()

	feedService := feed.NewService(db, feed.NewRedisCursorStore(rdb), 0, log.With().Str("component", "feed").Logger())

	m := melody.New()

	// No limit on messages
	m.Config.MaxMessageSize = 0
	m.Config.WriteWait = 5 * time.Second

	r := NewRouter()
	r.Use(middleware.Logger)

	r.Get("/_healthz", func(w http.ResponseWriter, r *http.Request) *httperror.HTTPError {
		w.WriteHeader(http.StatusOK)
		return nil
	})

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) *httperror.HTTPError {
		w.Write([]byte(killbase.Version))
		w.WriteHeader(http.StatusOK)
		return nil
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) *httperror.HTTPError {
		render.HTML(w, r, "<html><body>killbase feed</body></html>")
		return nil
	})

	r.Get("/listen", func(w http.ResponseWriter, r *http.Request) *httperror.HTTPError {
		ctx := r.Context()

		queueID := r.URL.Query().Get("queueID")
		if queueID == "" {
			return httperror.BadRequest("queueID is required")
		}
		if len(queueID) > 128 {
			return httperror.BadRequest("queue ID must be 128 characters or less")
		}

		wait := feed.DefaultWait
		if raw := r.URL.Query().Get("ttw"); raw != "" {
			seconds, err := strconv.Atoi(raw)
			if err != nil {
				return httperror.BadRequestWithError("invalid ttw", err)
			}
			wait = feed.ClampWait(seconds)
		}

		pkg, err := feedService.Poll(ctx, queueID, wait)
		if err != nil && !errors.Is(err, context.Canceled) {
			return httperror.InternalServerError("failed to poll feed", err)
		}

		render.JSON(w, r, killbase.FeedResponse{Package: pkg})
		return nil
	})

	r.Get("/websocket/{queueID}", func(w http.ResponseWriter, r *http.Request) *httperror.HTTPError {
		queueID := chi.URLParam(r, "queueID")
		if len(queueID) > 128 {
			return httperror.BadRequest("queue ID must be 128 characters or less")
		}

		m.HandleRequestWithKeys(w, r, map[string]any{"queueID": queueID})
		return nil
	})

	m.HandleConnect(func(s *melody.Session) {
		queueID := s.Keys["queueID"].(string)

		log.Info().Str("queueID", queueID).Msg("new websocket connection")

		go streamToWebsocket(s.Request.Context(), log.With().Str("queue-id", queueID).Logger(), feedService, s, queueID)
	})

	m.HandleDisconnect(func(s *melody.Session) {
		queueID := s.Keys["queueID"].(string)

		log.Info().Str("queueID", queueID).Msg("closed websocket connection")
	})

	log.Info().Int("port", config.Port).Msg("http server listening")

	srv := &http.Server{Addr: fmt.Sprintf(":%d", config.Port), Handler: r}
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("http listener failed")
	}
}

// streamToWebsocket drains the feed for one websocket consumer. Cursor state
// lives under its own key prefix so polling and websocket consumers with the
// same queue ID do not fight over a position.
func streamToWebsocket(ctx context.Context, logger zerolog.Logger, feedService *feed.Service, s *melody.Session, queueID string) {
	cursorID := "ws:" + queueID

	for {
		select {
		case <-ctx.Done():
			return

		default:
			pkg, err := feedService.Poll(ctx, cursorID, feed.MaxWait)
			if err != nil {
				if errors.Is(err, context.Canceled) && s.IsClosed() {
					return
				}

				logger.Error().Err(err).Msg("failed to poll feed for websocket")
				if err := s.CloseWithMsg(melody.FormatCloseMessage(melody.CloseInternalServerErr, "internal server error")); err != nil {
					logger.Error().Err(err).Msg("failed to close websocket after poll error")
				}

				return
			}

			if pkg == nil {
				continue
			}

			payload, err := json.Marshal(pkg)
			if err != nil {
				logger.Error().Err(err).Msg("failed to encode feed package")
				continue
			}

			if err := s.WriteWithDeadline(payload, 0); err != nil {
				logger.Error().Err(err).Msg("failed to write to websocket")
				if err := s.CloseWithMsg(melody.FormatCloseMessage(melody.CloseAbnormalClosure, "write failed")); err != nil {
					logger.Error().Err(err).Msg("failed to close websocket after write error")
				}

				return
			}
		}
	}
}
