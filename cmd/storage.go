package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newStorageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Inspect or reset the local record cache",
	}
	cmd.AddCommand(newStorageDumpCmd())
	cmd.AddCommand(newStorageClearCmd())
	return cmd
}

func newStorageDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print the whole local cache as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := newLocalStore()
			defer store.Close()

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(store.Dump())
		},
	}
}

func newStorageClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every locally cached record (irreversible)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear without --yes")
			}
			store := newLocalStore()
			defer store.Close()

			tagged, suggestions := store.Stats()
			if err := store.Clear(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d tagged emails and %d suggestions\n",
				tagged, suggestions)
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the irreversible clear")
	return cmd
}
