package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"

	"genie-chat/handler"
	"genie-chat/internal/app"
	"genie-chat/internal/polling"
)

func main() {
	ctx := context.Background()

	log, err := app.NewLogger(os.Stdout, os.Getenv("LOG_FORMAT"), os.Getenv("LOG_LEVEL"))
	if err != nil {
		slog.Error("failed to create logger", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(log)

	// ---- Configuration (read only here) ----
	cfg := app.Config{
		GenieHost:         mustEnv("GENIE_HOST"),
		SpaceID:           mustEnv("GENIE_SPACE_ID"),
		StateTable:        mustEnv("STATE_TABLE"),
		ParamPrefix:       mustEnv("PARAM_PREFIX"),
		MaxRetries:        envInt("GENIE_MAX_RETRIES", 3),
		MaxQuestionLength: envInt("MAX_QUESTION_LENGTH", 2000),
		Polling: polling.Config{
			Timeout:             envDuration("GENIE_TIMEOUT", polling.DefaultTimeout),
			FollowUpSettle:      envDuration("FOLLOW_UP_SETTLE", polling.DefaultFollowUpSettle),
			InitialStableChecks: envInt("FOLLOW_UP_INITIAL_STABLE_CHECKS", polling.DefaultInitialStableChecks),
			ChainStableChecks:   envInt("FOLLOW_UP_CHAIN_STABLE_CHECKS", polling.DefaultChainStableChecks),
			MaxFollowUpCycles:   envInt("FOLLOW_UP_MAX_CYCLES", polling.DefaultMaxFollowUpCycles),
		},
	}

	// ---- Services ----
	svc, err := app.Build(ctx, cfg, log, prometheus.DefaultRegisterer)
	if err != nil {
		log.Error("failed to build services", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(svc.Chat, handler.WithLogger(log))
	if err != nil {
		log.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// envDuration accepts Go durations ("90s") or a bare number of seconds.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return time.Duration(secs * float64(time.Second))
}
