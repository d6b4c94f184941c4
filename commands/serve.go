package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/config"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/discovery"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/network"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/session"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/storage"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/transfer"
)

func serveCmd() *cobra.Command {
	var (
		port      int
		advertise bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the backup server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := config.LoadOrCreateServer()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("advertise") {
				cfg.Advertise = advertise
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, cfgPath)
		},
	}

	cmd.Flags().IntVar(&port, "port", config.DefaultServerPort, "listening port (overrides config and port.info)")
	cmd.Flags().BoolVar(&advertise, "advertise", false, "advertise the server over mDNS")
	return cmd
}

func runServer(ctx context.Context, cfg *config.ServerConfig, cfgPath string) error {
	log := logger.WithField("component", "server")

	store, dbPath, err := storage.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("database close failed")
		}
	}()
	store.SetSecurityEventRetention(cfg.SecurityEventRetention.Duration)

	if removed, err := transfer.CleanStaleTemporaries(cfg.FilesDir); err != nil {
		log.WithError(err).Warn("stale temporary cleanup failed")
	} else if removed > 0 {
		log.WithField("removed", removed).Info("removed stale temporary files")
	}

	manager, err := session.NewManager(store, session.Options{
		FilesDir:        cfg.FilesDir,
		SessionTimeout:  cfg.SessionTimeout.Duration,
		TransferTimeout: cfg.TransferTimeout.Duration,
		SweepInterval:   cfg.SweepInterval.Duration,
		Logger:          logger.WithField("component", "session"),
	})
	if err != nil {
		return err
	}
	manager.Start()
	defer func() {
		_ = manager.Close()
	}()

	server, err := network.Listen(cfg.ListenAddress(), manager, network.ServerOptions{
		ReadTimeout:              cfg.ReadTimeout.Duration,
		MaxPayloadSize:           cfg.MaxPayloadSize,
		ConnectionRateLimitPerIP: cfg.ConnectionRateLimitPerIP,
		OnInboundConnectionRateLimit: func(remoteIP string) {
			recordEvent(store, log, storage.EventConnectionRateLimited, map[string]any{
				"remote_ip": remoteIP,
			})
		},
		OnProtocolViolation: func(remoteIP string, err error) {
			recordEvent(store, log, storage.EventProtocolViolation, map[string]any{
				"remote_ip": remoteIP,
				"error":     err.Error(),
			})
		},
		Logger: logger.WithField("component", "network"),
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = server.Close()
	}()

	log.WithFields(logrus.Fields{
		"address":   server.Addr().String(),
		"config":    cfgPath,
		"database":  dbPath,
		"files_dir": cfg.FilesDir,
	}).Info("backup server listening")

	if cfg.Advertise {
		hostname, _ := os.Hostname()
		if hostname == "" {
			hostname = "encbackup"
		}
		advertiser, err := discovery.StartAdvertiser(discovery.Config{
			InstanceName: hostname,
			ServerID:     uuid.NewString(),
			Port:         cfg.Port,
		})
		if err != nil {
			log.WithError(err).Warn("mDNS advertisement failed")
		} else {
			defer advertiser.Stop()
			log.Info("advertising over mDNS")
		}
	}

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

func recordEvent(store *storage.Store, log logrus.FieldLogger, eventType string, details map[string]any) {
	if err := store.RecordSecurityEvent(eventType, uuid.Nil, storage.SecuritySeverityWarning, details); err != nil {
		log.WithError(err).Warn("record security event failed")
	}
}
