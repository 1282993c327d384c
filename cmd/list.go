package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/helpthread/helpthread/internal/helpthread"
)

func newListCmd() *cobra.Command {
	var userEmail string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List emails you were tagged on, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, store, err := newSyncClient()
			if err != nil {
				return err
			}
			defer store.Close()

			emails, err := client.ListTaggedEmails(cmd.Context(), userEmail)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(emails) == 0 {
				fmt.Fprintln(out, "no tagged emails")
				return nil
			}

			records := make([]helpthread.TaggedEmail, 0, len(emails))
			for _, rec := range emails {
				records = append(records, rec)
			}
			sort.Slice(records, func(i, j int) bool {
				return records[i].Timestamp > records[j].Timestamp
			})

			suggestions := 0
			for _, rec := range records {
				fmt.Fprintf(out, "%s  [%s]\n", rec.Email.Subject, rec.Status)
				fmt.Fprintf(out, "  id: %s\n", rec.EmailID)
				fmt.Fprintf(out, "  from %s, tagged by %s at %s\n",
					rec.Email.From, rec.Requester, formatMillis(rec.Timestamp))
				if rec.Note != "" {
					fmt.Fprintf(out, "  note: %s\n", rec.Note)
				}
				fmt.Fprintf(out, "  suggestions: %d\n", len(rec.Suggestions))
				suggestions += len(rec.Suggestions)
			}
			fmt.Fprintf(out, "\n%d tagged emails, %d suggestions\n", len(records), suggestions)
			return nil
		},
	}

	cmd.Flags().StringVar(&userEmail, "user", "", "list for this address instead of the resolved one")
	return cmd
}

func formatMillis(millis int64) string {
	if millis == 0 {
		return "-"
	}
	return time.UnixMilli(millis).Format(time.RFC3339)
}
