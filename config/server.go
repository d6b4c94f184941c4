package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"
)

const (
	// DefaultServerPort is the listening port when neither config nor port.info sets one.
	DefaultServerPort = 1256
	// PortFileName optionally holds the listening port on its first line.
	PortFileName = "port.info"

	serverConfigFileName = "server.json"
)

// ServerConfig contains persistent backup-server settings.
type ServerConfig struct {
	ListenHost               string   `json:"listen_host"`
	Port                     int      `json:"port"`
	FilesDir                 string   `json:"files_dir"`
	SessionTimeout           Duration `json:"session_timeout"`
	TransferTimeout          Duration `json:"transfer_timeout"`
	SweepInterval            Duration `json:"sweep_interval"`
	ReadTimeout              Duration `json:"read_timeout"`
	MaxPayloadSize           uint32   `json:"max_payload_size"`
	ConnectionRateLimitPerIP int      `json:"connection_rate_limit_per_ip"`
	SecurityEventRetention   Duration `json:"security_event_retention"`
	Advertise                bool     `json:"advertise"`

	// DataDir is where the config, database and default files dir live.
	DataDir string `json:"-"`
}

// ServerConfigPath returns the server config path for a data directory.
func ServerConfigPath(dataDir string) string {
	return filepath.Join(dataDir, serverConfigFileName)
}

// LoadOrCreateServer ensures directories and server.json exist, then returns
// the config and its path. A port.info file in the data directory overrides
// the configured port.
func LoadOrCreateServer() (*ServerConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ServerConfigPath(dataDir)
	cfg := &ServerConfig{}
	if err := loadOrCreate(cfgPath, cfg, func() bool { return normalizeServerDefaults(cfg, dataDir) }); err != nil {
		return nil, "", err
	}
	cfg.DataDir = dataDir

	port, err := PortFromFile(filepath.Join(dataDir, PortFileName))
	if err != nil {
		return nil, "", err
	}
	if port > 0 {
		cfg.Port = port
	}
	return cfg, cfgPath, nil
}

// PortFromFile reads a port.info file. A missing file yields 0 and no error.
func PortFromFile(path string) (int, error) {
	lines, err := readSmallFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read %s: %w", PortFileName, err)
	}
	if len(lines) == 0 {
		return 0, fmt.Errorf("%s is empty", path)
	}
	port, err := parsePort(lines[0])
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return port, nil
}

// ListenAddress returns host:port for net.Listen.
func (c *ServerConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.ListenHost, c.Port)
}

func normalizeServerDefaults(cfg *ServerConfig, dataDir string) bool {
	updated := false

	if cfg.Port <= 0 || cfg.Port > 65535 {
		cfg.Port = DefaultServerPort
		updated = true
	}
	if cfg.FilesDir == "" {
		cfg.FilesDir = filepath.Join(dataDir, filesDirName)
		updated = true
	}
	updated = defaultDuration(&cfg.SessionTimeout, 10*time.Minute) || updated
	updated = defaultDuration(&cfg.TransferTimeout, 2*time.Minute) || updated
	updated = defaultDuration(&cfg.SweepInterval, 30*time.Second) || updated
	updated = defaultDuration(&cfg.ReadTimeout, 60*time.Second) || updated
	updated = defaultDuration(&cfg.SecurityEventRetention, 90*24*time.Hour) || updated
	if cfg.MaxPayloadSize == 0 {
		cfg.MaxPayloadSize = 16 * 1024 * 1024
		updated = true
	}
	if cfg.ConnectionRateLimitPerIP < 0 {
		cfg.ConnectionRateLimitPerIP = 0
		updated = true
	}

	return updated
}

func defaultDuration(d *Duration, fallback time.Duration) bool {
	if d.Duration > 0 {
		return false
	}
	d.Duration = fallback
	return true
}
