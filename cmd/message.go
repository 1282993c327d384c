package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/helpthread/helpthread/internal/syncclient"
)

func newMessageCmd() *cobra.Command {
	var author string

	cmd := &cobra.Command{
		Use:   "message <email-id> <text>",
		Short: "Add a suggestion to a tagged email's thread",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, store, err := newSyncClient()
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := client.AddSuggestion(cmd.Context(), syncclient.AddSuggestionRequest{
				EmailID: args[0],
				Text:    args[1],
				Author:  author,
			})
			if err != nil {
				return err
			}
			if result.RemoteErr != nil {
				logger.Warn("saved locally only; server sync failed",
					zap.Error(result.RemoteErr))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added suggestion %s as %s\n",
				result.Message.ID, result.Message.Author)
			return nil
		},
	}

	cmd.Flags().StringVar(&author, "author", "", "author address (default: resolved identity)")
	return cmd
}

func newMessagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "messages <email-id>",
		Short: "Show the suggestion thread for a tagged email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, store, err := newSyncClient()
			if err != nil {
				return err
			}
			defer store.Close()

			emails, err := client.ListTaggedEmails(cmd.Context(), "")
			if err != nil {
				emails = nil
			}
			rec, ok := emails[args[0]]
			if !ok {
				rec, err = store.Get(args[0])
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s  [%s]\n", rec.Email.Subject, rec.Status)
			if len(rec.Suggestions) == 0 {
				fmt.Fprintln(out, "no suggestions yet")
				return nil
			}
			thread := rec.Suggestions
			sort.SliceStable(thread, func(i, j int) bool {
				return thread[i].Timestamp < thread[j].Timestamp
			})
			for _, msg := range thread {
				fmt.Fprintf(out, "- %s (%s at %s)\n", msg.Text, msg.Author, formatMillis(msg.Timestamp))
			}
			return nil
		},
	}
}
