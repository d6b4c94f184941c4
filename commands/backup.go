package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/client"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/config"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/discovery"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/network"
)

func backupCmd() *cobra.Command {
	var (
		server     string
		username   string
		passphrase string
	)

	cmd := &cobra.Command{
		Use:   "backup [file...]",
		Short: "Back up files to the server",
		Long: "Back up files to the server. Files given as arguments replace the " +
			"list from client.json or transfer.info. A server address of \"auto\" " +
			"finds the server over mDNS.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.LoadOrCreateClient()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if server != "" {
				cfg.ServerAddress = server
			}
			if username != "" {
				cfg.Username = username
			}
			if len(args) > 0 {
				cfg.Files = args
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBackup(ctx, cmd, cfg, passphrase)
		},
	}

	cmd.Flags().StringVar(&server, "server", "", `server host:port, or "auto" for mDNS lookup`)
	cmd.Flags().StringVar(&username, "username", "", "client name to register as")
	cmd.Flags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the stored private key")
	return cmd
}

func runBackup(ctx context.Context, cmd *cobra.Command, cfg *config.ClientConfig, passphrase string) error {
	log := logger.WithField("component", "backup")

	address := cfg.ServerAddress
	if address == config.ServerAddressAuto {
		found, err := discovery.FindServer(ctx, discovery.Config{})
		if err != nil {
			return fmt.Errorf("find server: %w", err)
		}
		log.WithField("address", found).Info("found server over mDNS")
		address = found
	}

	backup, err := client.New(client.Options{
		Address:      address,
		Name:         cfg.Username,
		IdentityPath: cfg.IdentityPath,
		Passphrase:   passphrase,
		ChunkSize:    cfg.ChunkSize,
		MaxFileSize:  cfg.MaxFileSize,
		Dial: network.DialOptions{
			ConnectionTimeout: cfg.DialTimeout.Duration,
			IOTimeout:         cfg.IOTimeout.Duration,
		},
		Retry: client.RetryOptions{
			InitialInterval: cfg.RetryInterval.Duration,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = backup.Close()
	}()

	results, err := backup.Run(ctx, cfg.Files)
	out := cmd.OutOrStdout()
	for _, result := range results {
		fmt.Fprintf(out, "%s\t%d bytes\tcksum %d\tattempts %d\n", result.Filename, result.Size, result.Checksum, result.Attempts)
	}
	if err != nil {
		var fatal *client.FatalError
		if errors.As(err, &fatal) {
			fmt.Fprintf(cmd.ErrOrStderr(), "fatal: %v\n", fatal)
		}
		return err
	}

	fmt.Fprintf(out, "client %s: %d file(s) backed up\n", backup.ID(), len(results))
	return nil
}
