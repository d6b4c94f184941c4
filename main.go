package main

import (
	"os"

	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
