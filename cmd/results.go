package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/httprunner/provisioner/internal/config"
	"github.com/httprunner/provisioner/pkg/storage"
	"github.com/spf13/cobra"
)

func newResultsCmd() *cobra.Command {
	var flagSQLite string

	cmd := &cobra.Command{
		Use:   "results",
		Short: "Print the latest stored provisioning report",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := strings.TrimSpace(flagSQLite)
			if path == "" {
				return fmt.Errorf("--sqlite or $PROVISION_SQLITE_PATH is required")
			}
			sink, err := storage.NewSQLiteSink(path)
			if err != nil {
				return err
			}
			defer sink.Close()
			report, err := sink.LatestRun(cmd.Context())
			if err != nil {
				return err
			}
			payload, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(payload))
			return nil
		},
	}
	cmd.Flags().StringVar(&flagSQLite, "sqlite", config.String("PROVISION_SQLITE_PATH", ""), "SQLite database written by install --sqlite")
	return cmd
}
