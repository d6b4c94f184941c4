package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	appcrypto "github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/crypto"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/models"
)

func clientsCmd() *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "clients",
		Short: "List registered clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openServerStore()
			if err != nil {
				return err
			}
			defer func() {
				_ = store.Close()
			}()

			var clients []models.Client
			if id != "" {
				clientID, err := uuid.Parse(id)
				if err != nil {
					return fmt.Errorf("invalid --id: %w", err)
				}
				client, err := store.GetClientByID(clientID)
				if err != nil {
					return err
				}
				clients = []models.Client{*client}
			} else if clients, err = store.ListClients(); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tID\tKEY\tREGISTERED\tLAST SEEN")
			for _, client := range clients {
				key := "-"
				if client.HasPublicKey() {
					key = appcrypto.KeyFingerprint(client.PublicKey)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					client.Name, client.ID, key,
					time.UnixMilli(client.RegisteredAt).Format(time.RFC3339),
					time.UnixMilli(client.LastSeen).Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "show only the client with this id")
	return cmd
}
