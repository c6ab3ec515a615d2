package polling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"genie-chat/internal/domain"
)

const (
	DefaultTimeout             = 600 * time.Second
	DefaultInitialPollInterval = time.Second
	DefaultMaxPollInterval     = 60 * time.Second
	DefaultFollowUpSettle      = 3 * time.Second
	DefaultInitialStableChecks = 3
	DefaultChainStableChecks   = 6
	DefaultMaxFollowUpCycles   = 20
)

// Backend is the slice of the Genie API the engine needs to observe messages.
type Backend interface {
	GetMessage(ctx context.Context, conversationID, messageID string) (domain.Message, error)
	ListConversationMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
}

// Config tunes polling and follow-up detection. Zero values take the defaults.
type Config struct {
	Timeout             time.Duration
	InitialPollInterval time.Duration
	MaxPollInterval     time.Duration

	// The follow-up thresholds are empirical: three quiet checks before any
	// follow-up has been seen, six once a chain has started.
	FollowUpSettle      time.Duration
	InitialStableChecks int
	ChainStableChecks   int
	MaxFollowUpCycles   int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.InitialPollInterval <= 0 {
		c.InitialPollInterval = DefaultInitialPollInterval
	}
	if c.MaxPollInterval <= 0 {
		c.MaxPollInterval = DefaultMaxPollInterval
	}
	if c.MaxPollInterval < c.InitialPollInterval {
		c.MaxPollInterval = c.InitialPollInterval
	}
	if c.FollowUpSettle <= 0 {
		c.FollowUpSettle = DefaultFollowUpSettle
	}
	if c.InitialStableChecks <= 0 {
		c.InitialStableChecks = DefaultInitialStableChecks
	}
	if c.ChainStableChecks <= 0 {
		c.ChainStableChecks = DefaultChainStableChecks
	}
	if c.MaxFollowUpCycles <= 0 {
		c.MaxFollowUpCycles = DefaultMaxFollowUpCycles
	}
	return c
}

// Engine drives messages to a terminal state and settles follow-up chains.
// It holds no per-call state and may serve concurrent requests.
type Engine struct {
	backend Backend
	retrier *Retrier
	clock   Clock
	cfg     Config
	log     *slog.Logger
	metrics *Metrics
}

// NewEngine validates its collaborators and applies config defaults.
func NewEngine(backend Backend, retrier *Retrier, clock Clock, cfg Config, log *slog.Logger, metrics *Metrics) (*Engine, error) {
	if backend == nil {
		return nil, errors.New("polling: backend must not be nil")
	}
	if retrier == nil {
		return nil, errors.New("polling: retrier must not be nil")
	}
	if clock == nil {
		clock = RealClock()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		backend: backend,
		retrier: retrier,
		clock:   clock,
		cfg:     cfg.withDefaults(),
		log:     log,
		metrics: metrics,
	}, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Retrier exposes the engine's retry executor so callers wrap their own
// remote calls with the same policy.
func (e *Engine) Retrier() *Retrier { return e.retrier }

// Clock returns the engine's time source.
func (e *Engine) Clock() Clock { return e.clock }

// NewBudget opens a budget of the configured timeout starting now.
func (e *Engine) NewBudget() Budget {
	return NewBudget(e.clock.Now(), e.cfg.Timeout)
}

// Poll waits for a message to reach a terminal status within budget. With
// checkFollowUps it also settles any follow-up messages the agent chains
// after it and returns the last one as the answer.
func (e *Engine) Poll(ctx context.Context, conversationID, messageID string, budget Budget, checkFollowUps bool) domain.PollResult {
	res, outcome := e.poll(ctx, conversationID, messageID, budget, checkFollowUps)
	e.metrics.poll(outcome, res.ElapsedSeconds)
	return res
}

func (e *Engine) poll(ctx context.Context, conversationID, messageID string, budget Budget, checkFollowUps bool) (domain.PollResult, string) {
	interval := e.cfg.InitialPollInterval

	for !budget.Exceeded(e.clock.Now()) {
		msg, err := Do(ctx, e.retrier, "get_message", func(ctx context.Context) (domain.Message, error) {
			return e.backend.GetMessage(ctx, conversationID, messageID)
		})
		if err != nil {
			if ctx.Err() != nil {
				return e.cancelled(ctx, conversationID, messageID, budget)
			}
			if !IsRetryable(err) {
				return domain.PollResult{
					Error:          err.Error(),
					ElapsedSeconds: budget.Elapsed(e.clock.Now()),
					ConversationID: conversationID,
					MessageID:      messageID,
				}, "error"
			}
			e.log.Warn("message status check failed", "conversation_id", conversationID, "message_id", messageID, "err", err)
			if sleepErr := e.sleep(ctx, interval, budget); sleepErr != nil {
				return e.cancelled(ctx, conversationID, messageID, budget)
			}
			interval = NextInterval(interval, e.cfg.MaxPollInterval)
			continue
		}

		switch Evaluate(msg.Status) {
		case Succeeded:
			if checkFollowUps {
				if final, ok := e.reconcile(ctx, conversationID, messageID, budget); ok {
					return final, "superseded"
				}
			}
			res := resultFrom(Extract(msg), conversationID, messageID)
			res.ElapsedSeconds = budget.Elapsed(e.clock.Now())
			e.log.Info("query completed", "conversation_id", conversationID, "message_id", messageID, "elapsed_seconds", res.ElapsedSeconds)
			return res, "completed"

		case Failed:
			reason := msg.Error
			if reason == "" {
				reason = fmt.Sprintf("query %s", msg.Status)
			}
			e.log.Warn("query failed", "conversation_id", conversationID, "message_id", messageID, "status", msg.Status, "reason", reason)
			return domain.PollResult{
				Error:          reason,
				ElapsedSeconds: budget.Elapsed(e.clock.Now()),
				ConversationID: conversationID,
				MessageID:      messageID,
			}, "failed"
		}

		if err := e.sleep(ctx, interval, budget); err != nil {
			return e.cancelled(ctx, conversationID, messageID, budget)
		}
		interval = NextInterval(interval, e.cfg.MaxPollInterval)
	}

	elapsed := budget.Elapsed(e.clock.Now())
	e.log.Warn("query timed out", "conversation_id", conversationID, "message_id", messageID, "elapsed_seconds", elapsed)
	return domain.PollResult{
		Error:          fmt.Sprintf("query timed out after %.0f seconds", elapsed),
		ElapsedSeconds: elapsed,
		ConversationID: conversationID,
		MessageID:      messageID,
	}, "timeout"
}

// sleep waits d, clipped to whatever remains of the budget.
func (e *Engine) sleep(ctx context.Context, d time.Duration, budget Budget) error {
	if remaining := budget.Deadline.Sub(e.clock.Now()); remaining < d {
		d = remaining
	}
	return e.clock.Sleep(ctx, d)
}

func (e *Engine) cancelled(ctx context.Context, conversationID, messageID string, budget Budget) (domain.PollResult, string) {
	return domain.PollResult{
		Error:          fmt.Sprintf("polling cancelled: %v", context.Cause(ctx)),
		ElapsedSeconds: budget.Elapsed(e.clock.Now()),
		ConversationID: conversationID,
		MessageID:      messageID,
	}, "cancelled"
}

func resultFrom(ex Extraction, conversationID, messageID string) domain.PollResult {
	return domain.PollResult{
		Success:        true,
		Response:       ex.Answer,
		SQLQuery:       ex.Query,
		FollowUp:       ex.FollowUp,
		Warning:        ex.Warning,
		ConversationID: conversationID,
		MessageID:      messageID,
	}
}
