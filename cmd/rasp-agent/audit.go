package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/dagbolade/rasp-agent/internal/audit"
	"github.com/spf13/cobra"
)

var auditFlags struct {
	dbPath    string
	requestID string
	format    string
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List recorded alarms",
	Long: `Print the alarms stored in the audit database, newest first.

Examples:
  rasp-agent audit
  rasp-agent audit --request-id 6f1c2a8e-... --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := auditFlags.dbPath
		if dbPath == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dbPath = cfg.Audit.DBPath
		}
		if dbPath == "" {
			return fmt.Errorf("no audit database configured (set audit.db_path or --db)")
		}

		store, err := audit.NewSQLiteStore(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		var entries []audit.Entry
		if auditFlags.requestID != "" {
			entries, err = store.ForRequest(ctx, auditFlags.requestID)
		} else {
			entries, err = store.GetAll(ctx)
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch auditFlags.format {
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		case "text":
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTIME\tREQUEST\tTYPE\tACTION\tSOURCE\tMESSAGE")
			for _, e := range entries {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
					e.ID, e.Timestamp.Format("2006-01-02 15:04:05"), e.RequestID, e.CheckType, e.Action, e.Source, e.Message)
			}
			return tw.Flush()
		default:
			return fmt.Errorf("unknown format %q", auditFlags.format)
		}
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().StringVar(&auditFlags.dbPath, "db", "", "audit database (default audit.db_path)")
	auditCmd.Flags().StringVar(&auditFlags.requestID, "request-id", "", "only alarms of this request")
	auditCmd.Flags().StringVar(&auditFlags.format, "format", "text", "output format: text, json")
}
