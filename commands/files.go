package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/config"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/storage"
)

func filesCmd() *cobra.Command {
	var (
		clientName     string
		unverifiedOnly bool
		limit          int
		asJSON         bool
	)

	cmd := &cobra.Command{
		Use:   "files",
		Short: "List files stored by the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openServerStore()
			if err != nil {
				return err
			}
			defer func() {
				_ = store.Close()
			}()

			records, err := store.ListFiles(storage.FileFilter{
				ClientName:     clientName,
				UnverifiedOnly: unverifiedOnly,
				Limit:          limit,
			})
			if err != nil {
				return err
			}

			if asJSON {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(records)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CLIENT\tFILE\tSIZE\tCKSUM\tVERIFIED\tRECEIVED")
			for _, record := range records {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%t\t%s\n",
					record.ClientName, record.Filename, record.Filesize, record.Checksum, record.Verified,
					time.UnixMilli(record.ReceivedAt).Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&clientName, "client", "", "only files of this client")
	cmd.Flags().BoolVar(&unverifiedOnly, "unverified", false, "only files whose checksum was not confirmed")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows (default 100)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func eventsCmd() *cobra.Command {
	var (
		eventType  string
		clientName string
		severity   string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recorded security events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openServerStore()
			if err != nil {
				return err
			}
			defer func() {
				_ = store.Close()
			}()

			events, err := store.GetSecurityEvents(storage.SecurityEventFilter{
				EventType:  eventType,
				ClientName: clientName,
				Severity:   severity,
				Limit:      limit,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tSEVERITY\tTYPE\tCLIENT\tDETAILS")
			for _, event := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					time.UnixMilli(event.Timestamp).Format(time.RFC3339),
					event.Severity, event.EventType, eventClient(event), event.Summary())
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&eventType, "type", "", "only events of this type")
	cmd.Flags().StringVar(&clientName, "client", "", "only events of this client")
	cmd.Flags().StringVar(&severity, "severity", "", "only events of this severity (info, warning, critical)")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rows")
	return cmd
}

func eventClient(event storage.SecurityEvent) string {
	switch {
	case event.ClientName != "":
		return event.ClientName
	case event.ClientID != uuid.Nil:
		return event.ClientID.String()
	default:
		return "-"
	}
}

func openServerStore() (*storage.Store, error) {
	cfg, _, err := config.LoadOrCreateServer()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	store, _, err := storage.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return store, nil
}
