package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	f := NewGenieFlags()

	rootCmd := &cobra.Command{
		Use:           "genie-cli",
		Short:         "Ask questions of a Genie space and inspect its conversations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	f.BindFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		NewAskCommand(f),
		NewConversationsCommand(f),
		NewMessagesCommand(f),
		NewQueryResultCommand(f),
		NewFeedbackCommand(f),
		NewDeleteCommand(f),
		NewServeCommand(f),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
