package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/helpthread/helpthread/internal/helpthread"
	"github.com/helpthread/helpthread/internal/syncclient"
)

func newTagCmd() *cobra.Command {
	var (
		subject string
		body    string
		from    string
		to      string
		note    string
		people  []string
	)

	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Tag colleagues for help on an email",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, store, err := newSyncClient()
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := client.TagEmail(cmd.Context(), syncclient.TagEmailRequest{
				Email: helpthread.EmailSnapshot{
					Subject:   subject,
					Body:      body,
					From:      from,
					To:        to,
					Timestamp: time.Now().UnixMilli(),
				},
				TaggedPeople: people,
				Note:         note,
			})
			if err != nil {
				return err
			}
			if result.RemoteErr != nil {
				logger.Warn("saved locally only; server sync failed",
					zap.Error(result.RemoteErr))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tagged %s on %q (%s)\n",
				joinPeople(result.Email.TaggedPeople), subject, result.Email.EmailID)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "email subject")
	cmd.Flags().StringVar(&body, "body", "", "email body")
	cmd.Flags().StringVar(&from, "from", "", "email sender")
	cmd.Flags().StringVar(&to, "to", "", "email recipient")
	cmd.Flags().StringVar(&note, "note", "", "note for the tagged colleagues")
	cmd.Flags().StringSliceVar(&people, "person", nil, "colleague email to tag (repeatable)")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("person")
	return cmd
}

func joinPeople(people []string) string {
	switch len(people) {
	case 0:
		return "nobody"
	case 1:
		return people[0]
	default:
		return fmt.Sprintf("%s and %d others", people[0], len(people)-1)
	}
}
