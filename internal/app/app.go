package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"

	"genie-chat/internal/integrations/genie"
	"genie-chat/internal/integrations/paramstore"
	"genie-chat/internal/polling"
	"genie-chat/internal/repository"
	"genie-chat/internal/usecase"
)

// Config holds everything needed to assemble the services. Entry points fill
// it from the environment or from flags.
type Config struct {
	GenieHost   string
	SpaceID     string
	Token       string
	ParamPrefix string
	StateTable  string

	MaxRetries        int
	MaxQuestionLength int
	Polling           polling.Config
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.GenieHost) == "" {
		return errors.New("app: genie host is required")
	}
	if strings.TrimSpace(c.SpaceID) == "" {
		return errors.New("app: genie space id is required")
	}
	if strings.TrimSpace(c.Token) == "" && strings.TrimSpace(c.ParamPrefix) == "" {
		return errors.New("app: either a token or a parameter prefix is required")
	}
	return nil
}

func (c Config) needsAWS() bool {
	return c.StateTable != "" || (c.Token == "" && c.ParamPrefix != "")
}

// Services are the assembled use cases. Chat is nil when no state table is
// configured.
type Services struct {
	Genie *usecase.GenieService
	Chat  *usecase.ChatService
}

// NewLogger builds a slog logger writing text or json at the named level.
func NewLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("app: invalid log level %q: %w", level, err)
		}
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("app: unknown log format %q", format)
	}
}

// Build wires the Genie client, polling engine and, when a state table is
// set, the ownership ledger. Metrics are registered on reg when it is non-nil.
func Build(ctx context.Context, cfg Config, log *slog.Logger, reg prometheus.Registerer) (*Services, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	var awsCfg aws.Config
	if cfg.needsAWS() {
		var err error
		awsCfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: load aws config: %w", err)
		}
	}

	opts := []genie.Option{}
	if cfg.Token != "" {
		opts = append(opts, genie.WithToken(cfg.Token))
	} else {
		params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, fmt.Errorf("app: parameter store: %w", err)
		}
		opts = append(opts, genie.WithParamStore(params, cfg.ParamPrefix))
	}
	client, err := genie.NewClient(cfg.GenieHost, cfg.SpaceID, opts...)
	if err != nil {
		return nil, err
	}

	metrics, err := polling.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("app: register metrics: %w", err)
	}
	clock := polling.RealClock()
	retrier := polling.NewRetrier(cfg.MaxRetries, clock, log, metrics)
	engine, err := polling.NewEngine(client, retrier, clock, cfg.Polling, log, metrics)
	if err != nil {
		return nil, err
	}
	genieSvc, err := usecase.NewGenieService(client, engine, log)
	if err != nil {
		return nil, err
	}

	svc := &Services{Genie: genieSvc}
	if cfg.StateTable == "" {
		return svc, nil
	}

	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
	if err != nil {
		return nil, err
	}
	ledger, err := repository.NewCachedLedger(store)
	if err != nil {
		return nil, err
	}
	svc.Chat, err = usecase.NewChatService(genieSvc, ledger, cfg.MaxQuestionLength, log)
	if err != nil {
		return nil, err
	}
	return svc, nil
}
