package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"genie-chat/internal/domain"
)

func NewAskCommand(f *GenieFlags) *cobra.Command {
	var conversationID string

	cmd := &cobra.Command{
		Use:   "ask QUESTION...",
		Short: "Ask a question and wait for the settled answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return errors.New("question must not be empty")
			}
			svc, _, err := f.Build(cmd.Context(), nil)
			if err != nil {
				return err
			}

			var res domain.PollResult
			if conversationID != "" {
				res = svc.Genie.ContinueConversation(cmd.Context(), conversationID, question)
			} else {
				res = svc.Genie.Ask(cmd.Context(), question)
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("question failed: %s", res.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "Continue this conversation instead of starting a new one")
	return cmd
}

func NewConversationsCommand(f *GenieFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "conversations",
		Short: "List conversations in the space",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := f.Build(cmd.Context(), nil)
			if err != nil {
				return err
			}
			convs, err := svc.Genie.ListConversations(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), convs)
		},
	}
}

func NewMessagesCommand(f *GenieFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "messages CONVERSATION_ID",
		Short: "Print a conversation transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := f.Build(cmd.Context(), nil)
			if err != nil {
				return err
			}
			entries, err := svc.Genie.GetConversationMessages(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entries)
		},
	}
}

func NewQueryResultCommand(f *GenieFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "query-result CONVERSATION_ID MESSAGE_ID",
		Short: "Fetch the table behind a message's SQL query",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := f.Build(cmd.Context(), nil)
			if err != nil {
				return err
			}
			result := svc.Genie.GetQueryResult(cmd.Context(), args[0], args[1])
			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if result.Error != "" {
				return errors.New(result.Error)
			}
			return nil
		},
	}
}

func NewFeedbackCommand(f *GenieFlags) *cobra.Command {
	return &cobra.Command{
		Use:       "feedback CONVERSATION_ID MESSAGE_ID positive|negative",
		Short:     "Rate an answer",
		Args:      cobra.ExactArgs(3),
		ValidArgs: []string{"positive", "negative"},
		RunE: func(cmd *cobra.Command, args []string) error {
			rating := strings.ToLower(args[2])
			if rating != "positive" && rating != "negative" {
				return fmt.Errorf("rating must be positive or negative, got %q", args[2])
			}
			svc, _, err := f.Build(cmd.Context(), nil)
			if err != nil {
				return err
			}
			return svc.Genie.SendFeedback(cmd.Context(), args[0], args[1], rating)
		},
	}
}

func NewDeleteCommand(f *GenieFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete CONVERSATION_ID",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, log, err := f.Build(cmd.Context(), nil)
			if err != nil {
				return err
			}
			if err := svc.Genie.DeleteConversation(cmd.Context(), args[0]); err != nil {
				return err
			}
			log.Info("deleted conversation", "conversation_id", args[0])
			return nil
		},
	}
}
