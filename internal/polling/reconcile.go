package polling

import (
	"context"

	"genie-chat/internal/domain"
)

// reconcile watches a conversation after messageID completed and reports the
// message that actually ends the agent's chain of follow-ups. ok is false when
// the original message stands. Failures here never fail the request.
func (e *Engine) reconcile(ctx context.Context, conversationID, messageID string, budget Budget) (domain.PollResult, bool) {
	originalID := messageID
	lastKnownID := messageID
	stable := 0
	outcome := "cycle_cap"

	log := e.log.With("conversation_id", conversationID, "original_message_id", originalID)

loop:
	for cycle := 1; cycle <= e.cfg.MaxFollowUpCycles; cycle++ {
		if budget.Exceeded(e.clock.Now()) {
			log.Warn("deadline reached while checking for follow-up messages")
			outcome = "deadline"
			break
		}

		if err := e.clock.Sleep(ctx, e.cfg.FollowUpSettle); err != nil {
			outcome = "cancelled"
			break
		}

		messages, err := Do(ctx, e.retrier, "list_conversation_messages", func(ctx context.Context) ([]domain.Message, error) {
			return e.backend.ListConversationMessages(ctx, conversationID)
		})
		if err != nil {
			log.Warn("failed to list conversation messages for follow-up check", "err", err)
			outcome = "list_error"
			break
		}
		if len(messages) == 0 {
			outcome = "list_empty"
			break
		}

		latest := latestMessage(messages, lastKnownID)
		if latest.ID == lastKnownID {
			stable++
			required := e.cfg.InitialStableChecks
			if lastKnownID != originalID {
				required = e.cfg.ChainStableChecks
			}
			if stable >= required {
				log.Debug("conversation stabilized", "cycle", cycle, "stable_checks", stable)
				outcome = "stable"
				break
			}
			log.Debug("no new message yet", "cycle", cycle, "stable_checks", stable, "required", required)
			continue
		}

		stable = 0
		log.Info("follow-up message detected", "message_id", latest.ID, "status", latest.Status, "cycle", cycle)

		switch Evaluate(latest.Status) {
		case Failed:
			log.Warn("follow-up message failed; keeping original result", "message_id", latest.ID, "status", latest.Status)
			e.metrics.followUp("follow_up_failed")
			return domain.PollResult{}, false
		case Succeeded:
			lastKnownID = latest.ID
			continue loop
		}

		res, _ := e.poll(ctx, conversationID, latest.ID, budget, false)
		if !res.Success {
			log.Warn("follow-up message did not complete; keeping original result", "message_id", latest.ID, "err", res.Error)
			e.metrics.followUp("follow_up_failed")
			return domain.PollResult{}, false
		}
		lastKnownID = latest.ID
	}

	if lastKnownID == originalID {
		e.metrics.followUp(outcome)
		return domain.PollResult{}, false
	}

	final, err := Do(ctx, e.retrier, "get_message", func(ctx context.Context) (domain.Message, error) {
		return e.backend.GetMessage(ctx, conversationID, lastKnownID)
	})
	if err != nil {
		log.Warn("failed to fetch final follow-up message", "message_id", lastKnownID, "err", err)
		e.metrics.followUp("final_fetch_error")
		return domain.PollResult{}, false
	}

	res := resultFrom(Extract(final), conversationID, lastKnownID)
	res.ElapsedSeconds = budget.Elapsed(e.clock.Now())
	log.Info("returning follow-up message as final answer", "message_id", lastKnownID)
	e.metrics.followUp("superseded")
	return res, true
}

// latestMessage picks the most recently updated message. On a timestamp tie
// the already-known message wins, so a tie never counts as something new.
func latestMessage(messages []domain.Message, knownID string) domain.Message {
	best := messages[0]
	for _, m := range messages[1:] {
		switch {
		case m.UpdatedAt.After(best.UpdatedAt):
			best = m
		case m.UpdatedAt.Equal(best.UpdatedAt) && m.ID == knownID:
			best = m
		}
	}
	return best
}
