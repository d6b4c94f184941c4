package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const (
	// ServerAddressAuto asks the client to find the server over mDNS.
	ServerAddressAuto = "auto"
	// TransferInfoFileName optionally holds server address, username and
	// files, one per line.
	TransferInfoFileName = "transfer.info"

	clientConfigFileName = "client.json"
	identityFileName     = "me.info"
)

// ClientConfig contains persistent backup-client settings.
type ClientConfig struct {
	ServerAddress string   `json:"server_address"`
	Username      string   `json:"username"`
	Files         []string `json:"files"`
	ChunkSize     int      `json:"chunk_size"`
	MaxFileSize   int64    `json:"max_file_size"`
	DialTimeout   Duration `json:"dial_timeout"`
	IOTimeout     Duration `json:"io_timeout"`
	RetryInterval Duration `json:"retry_interval"`
	IdentityPath  string   `json:"identity_path"`

	DataDir string `json:"-"`
}

// ClientConfigPath returns the client config path for a data directory.
func ClientConfigPath(dataDir string) string {
	return filepath.Join(dataDir, clientConfigFileName)
}

// LoadOrCreateClient ensures directories and client.json exist, then returns
// the config and its path. A transfer.info file in the data directory
// overrides the fields it carries.
func LoadOrCreateClient() (*ClientConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ClientConfigPath(dataDir)
	cfg := &ClientConfig{}
	if err := loadOrCreate(cfgPath, cfg, func() bool { return normalizeClientDefaults(cfg, dataDir) }); err != nil {
		return nil, "", err
	}
	cfg.DataDir = dataDir

	if err := cfg.ApplyTransferInfo(filepath.Join(dataDir, TransferInfoFileName)); err != nil {
		return nil, "", err
	}
	return cfg, cfgPath, nil
}

// ApplyTransferInfo overrides the server address, username and file list
// from a transfer.info file. A missing file changes nothing.
func (c *ClientConfig) ApplyTransferInfo(path string) error {
	lines, err := readSmallFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", TransferInfoFileName, err)
	}
	if len(lines) < 2 {
		return fmt.Errorf("%s: want server address and username lines", path)
	}

	c.ServerAddress = lines[0]
	c.Username = lines[1]
	if len(lines) > 2 {
		c.Files = append([]string(nil), lines[2:]...)
	}
	return nil
}

// Validate reports settings the client cannot run without.
func (c *ClientConfig) Validate() error {
	if c.ServerAddress == "" {
		return errors.New("config: server address is required")
	}
	if c.Username == "" {
		return errors.New("config: username is required")
	}
	for _, file := range c.Files {
		info, err := os.Stat(file)
		if err != nil {
			return fmt.Errorf("config: file %q: %w", file, err)
		}
		if info.IsDir() {
			return fmt.Errorf("config: %q is a directory", file)
		}
	}
	return nil
}

func normalizeClientDefaults(cfg *ClientConfig, dataDir string) bool {
	updated := false

	if cfg.ServerAddress == "" {
		cfg.ServerAddress = fmt.Sprintf("127.0.0.1:%d", DefaultServerPort)
		updated = true
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1 << 20
		updated = true
	}
	if cfg.MaxFileSize < 0 {
		cfg.MaxFileSize = 0
		updated = true
	}
	updated = defaultDuration(&cfg.DialTimeout, 30*time.Second) || updated
	updated = defaultDuration(&cfg.IOTimeout, 60*time.Second) || updated
	updated = defaultDuration(&cfg.RetryInterval, 500*time.Millisecond) || updated
	if cfg.IdentityPath == "" {
		cfg.IdentityPath = filepath.Join(dataDir, identityFileName)
		updated = true
	}

	return updated
}
