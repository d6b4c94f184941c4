package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/client"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/config"
)

var (
	dataDir   string
	logLevel  string
	logFormat string

	logger = logrus.New()
)

// Execute runs the root command.
func Execute() error {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		var fatal *client.FatalError
		if !errors.As(err, &fatal) {
			fmt.Fprintln(root.ErrOrStderr(), "error:", err)
		}
		return err
	}
	return nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "encbackup",
		Short:         "Encrypted file backup client and server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if dataDir != "" {
				if err := os.Setenv(config.DataDirEnv, dataDir); err != nil {
					return err
				}
			}
			return configureLogger(logger, logLevel, logFormat)
		},
	}

	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default: OS config dir)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	root.AddCommand(serveCmd(), backupCmd(), filesCmd(), eventsCmd(), clientsCmd())
	return root
}

func configureLogger(log *logrus.Logger, level, format string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid --log-level %q", level)
	}
	log.SetLevel(parsed)

	switch strings.ToLower(format) {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid --log-format %q", format)
	}
	return nil
}
