package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/filevault/internal/transfer"
	"github.com/tonimelisma/filevault/internal/vault"
)

type lsJSONItem struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

func newLsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List files in the vault directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger(nil)

			cfg, err := loadConfig(logger)
			if err != nil {
				return err
			}

			v, err := vault.New(cfg.UploadDir, transfer.NewEngine(nil, nil, logger), logger)
			if err != nil {
				return err
			}

			files, err := v.List()
			if err != nil {
				return err
			}

			if asJSON {
				return printLsJSON(cmd.OutOrStdout(), files)
			}

			printLsTable(cmd.OutOrStdout(), files, time.Now())

			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output in JSON format")

	return cmd
}

func printLsJSON(w io.Writer, files []vault.FileInfo) error {
	items := make([]lsJSONItem, 0, len(files))
	for _, f := range files {
		items = append(items, lsJSONItem{Name: f.Name, Size: f.Size, Modified: f.Modified})
	}

	return printJSON(w, items)
}

func printLsTable(w io.Writer, files []vault.FileInfo, now time.Time) {
	if len(files) == 0 {
		fmt.Fprintln(w, "Vault is empty.")

		return
	}

	rows := make([][]string, 0, len(files))
	for _, f := range files {
		rows = append(rows, []string{f.Name, formatSize(f.Size), formatTime(f.Modified, now)})
	}

	printTable(w, []string{"NAME", "SIZE", "MODIFIED"}, rows)
}
