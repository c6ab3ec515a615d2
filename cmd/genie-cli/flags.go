package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"genie-chat/internal/app"
	"genie-chat/internal/polling"
)

// GenieFlags are shared by every subcommand. Defaults come from the same
// environment variables the Lambda reads.
type GenieFlags struct {
	Host        string
	SpaceID     string
	Token       string
	ParamPrefix string
	StateTable  string

	Timeout           time.Duration
	MaxRetries        int
	MaxQuestionLength int
	LogLevel          string
	LogFormat         string

	FollowUpSettle      time.Duration
	InitialStableChecks int
	ChainStableChecks   int
	MaxFollowUpCycles   int
}

func NewGenieFlags() *GenieFlags {
	return &GenieFlags{
		Host:              os.Getenv("GENIE_HOST"),
		SpaceID:           os.Getenv("GENIE_SPACE_ID"),
		Token:             os.Getenv("GENIE_TOKEN"),
		ParamPrefix:       os.Getenv("PARAM_PREFIX"),
		StateTable:        os.Getenv("STATE_TABLE"),
		Timeout:           envDuration("GENIE_TIMEOUT", polling.DefaultTimeout),
		MaxRetries:        envInt("GENIE_MAX_RETRIES", 3),
		MaxQuestionLength: envInt("MAX_QUESTION_LENGTH", 2000),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		LogFormat:         envOr("LOG_FORMAT", "text"),

		FollowUpSettle:      envDuration("FOLLOW_UP_SETTLE", polling.DefaultFollowUpSettle),
		InitialStableChecks: envInt("FOLLOW_UP_INITIAL_STABLE_CHECKS", polling.DefaultInitialStableChecks),
		ChainStableChecks:   envInt("FOLLOW_UP_CHAIN_STABLE_CHECKS", polling.DefaultChainStableChecks),
		MaxFollowUpCycles:   envInt("FOLLOW_UP_MAX_CYCLES", polling.DefaultMaxFollowUpCycles),
	}
}

func (f *GenieFlags) BindFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.Host, "host", f.Host, "Workspace host, with or without scheme (env GENIE_HOST)")
	flagSet.StringVar(&f.SpaceID, "space", f.SpaceID, "Genie space id (env GENIE_SPACE_ID)")
	flagSet.StringVar(&f.Token, "token", f.Token, "Access token; takes precedence over the parameter store (env GENIE_TOKEN)")
	flagSet.StringVar(&f.ParamPrefix, "param-prefix", f.ParamPrefix, "SSM prefix holding <prefix>/genie-token (env PARAM_PREFIX)")
	flagSet.StringVar(&f.StateTable, "table", f.StateTable, "DynamoDB table for conversation ownership, needed by serve (env STATE_TABLE)")
	flagSet.DurationVar(&f.Timeout, "timeout", f.Timeout, "Overall time budget for one question")
	flagSet.IntVar(&f.MaxRetries, "max-retries", f.MaxRetries, "Attempts per remote call on transient errors")
	flagSet.IntVar(&f.MaxQuestionLength, "max-question-length", f.MaxQuestionLength, "Longest accepted question in characters")
	flagSet.StringVar(&f.LogLevel, "log-level", f.LogLevel, "Log level (debug,info,warn,error)")
	flagSet.StringVar(&f.LogFormat, "log-format", f.LogFormat, "Log format (text,json)")
	flagSet.DurationVar(&f.FollowUpSettle, "follow-up-settle", f.FollowUpSettle, "Wait between follow-up checks (env FOLLOW_UP_SETTLE)")
	flagSet.IntVar(&f.InitialStableChecks, "follow-up-initial-stable-checks", f.InitialStableChecks, "Quiet checks before giving up on a first follow-up (env FOLLOW_UP_INITIAL_STABLE_CHECKS)")
	flagSet.IntVar(&f.ChainStableChecks, "follow-up-chain-stable-checks", f.ChainStableChecks, "Quiet checks that end a started follow-up chain (env FOLLOW_UP_CHAIN_STABLE_CHECKS)")
	flagSet.IntVar(&f.MaxFollowUpCycles, "follow-up-max-cycles", f.MaxFollowUpCycles, "Upper bound on follow-up checks per question (env FOLLOW_UP_MAX_CYCLES)")
}

func (f *GenieFlags) Config() app.Config {
	return app.Config{
		GenieHost:         f.Host,
		SpaceID:           f.SpaceID,
		Token:             f.Token,
		ParamPrefix:       f.ParamPrefix,
		StateTable:        f.StateTable,
		MaxRetries:        f.MaxRetries,
		MaxQuestionLength: f.MaxQuestionLength,
		Polling: polling.Config{
			Timeout:             f.Timeout,
			FollowUpSettle:      f.FollowUpSettle,
			InitialStableChecks: f.InitialStableChecks,
			ChainStableChecks:   f.ChainStableChecks,
			MaxFollowUpCycles:   f.MaxFollowUpCycles,
		},
	}
}

func (f *GenieFlags) Logger() (*slog.Logger, error) {
	// Logs go to stderr so command output on stdout stays machine-readable.
	return app.NewLogger(os.Stderr, f.LogFormat, f.LogLevel)
}

func (f *GenieFlags) Build(ctx context.Context, reg prometheus.Registerer) (*app.Services, *slog.Logger, error) {
	log, err := f.Logger()
	if err != nil {
		return nil, nil, err
	}
	svc, err := app.Build(ctx, f.Config(), log, reg)
	if err != nil {
		return nil, nil, err
	}
	return svc, log, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
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
