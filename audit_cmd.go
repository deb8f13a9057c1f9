package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/filevault/internal/audit"
)

const defaultAuditLimit = 50

func newAuditCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent logins and file operations",
		Long:  "Print the most recent entries from the audit database configured by AUDIT_DB, newest first.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return errors.New("--limit must be positive")
			}

			logger := buildLogger(nil)

			cfg, err := loadConfig(logger)
			if err != nil {
				return err
			}

			if cfg.AuditDB == "" {
				return errors.New("audit trail is disabled (set AUDIT_DB in the config file)")
			}

			store, err := audit.Open(cmd.Context(), cfg.AuditDB, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), entries)
			}

			printAuditTable(cmd.OutOrStdout(), entries, time.Now())

			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", defaultAuditLimit, "maximum number of entries to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output in JSON format")

	return cmd
}

func printAuditTable(w io.Writer, entries []audit.Entry, now time.Time) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No audit entries.")

		return
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			formatTime(e.At.Local(), now),
			e.Username,
			e.Action,
			e.Name,
			e.RemoteAddr,
			e.Detail,
		})
	}

	printTable(w, []string{"TIME", "USER", "ACTION", "NAME", "CLIENT", "DETAIL"}, rows)
}
