package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultConfigPath is the default location for the config file
	DefaultConfigPath = "/etc/mergerd/mergerd.conf"
	// DefaultListenAddr is the default address for the API listener
	DefaultListenAddr = "0.0.0.0:50051"
	// DefaultDBPath is the default location of the mount registry
	DefaultDBPath = "/var/lib/mergerd/registry"
	// DefaultMergerfsBin is the default mergerfs binary name
	DefaultMergerfsBin = "mergerfs"
	// DefaultUmountBin is the default graceful unmount binary name
	DefaultUmountBin = "umount"
	// DefaultFusermountBin is the default forced unmount binary name
	DefaultFusermountBin = "fusermount"
	// DefaultCommandTimeoutSecs bounds each external tool invocation
	DefaultCommandTimeoutSecs = 30
)

// Config holds the daemon configuration
type Config struct {
	// ListenAddr is the address the API server binds to
	ListenAddr string `toml:"listen"`
	// DBPath is the directory holding the mount registry database
	DBPath string `toml:"db_path"`
	// ServerCert is the server TLS certificate path
	ServerCert string `toml:"server_cert"`
	// ServerKey is the server TLS private key path
	ServerKey string `toml:"server_key"`
	// ClientCA is the CA bundle client certificates must chain to
	ClientCA string `toml:"ca_cert"`
	// BaseDir, when set, restricts all mount destinations to this
	// directory
	BaseDir string `toml:"base_dir"`
	// MergerfsBin is the mergerfs binary name or path
	MergerfsBin string `toml:"mergerfs_bin"`
	// UmountBin is the graceful unmount binary name or path
	UmountBin string `toml:"umount_bin"`
	// FusermountBin is the forced unmount binary name or path
	FusermountBin string `toml:"fusermount_bin"`
	// CommandTimeoutSecs bounds each external tool invocation in
	// seconds
	CommandTimeoutSecs int `toml:"command_timeout"`
}

// Load loads configuration from a TOML file
// Returns an empty config if the file doesn't exist
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

// Merge merges CLI flags into the config, with CLI flags taking
// precedence over config file values. Empty CLI values are ignored.
func (c *Config) Merge(listen, dbPath, serverCert, serverKey, clientCA, baseDir string) {
	if listen != "" {
		c.ListenAddr = listen
	}
	if dbPath != "" {
		c.DBPath = dbPath
	}
	if serverCert != "" {
		c.ServerCert = serverCert
	}
	if serverKey != "" {
		c.ServerKey = serverKey
	}
	if clientCA != "" {
		c.ClientCA = clientCA
	}
	if baseDir != "" {
		c.BaseDir = baseDir
	}
}

// ApplyDefaults applies default values for any unset fields
func (c *Config) ApplyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.DBPath == "" {
		c.DBPath = DefaultDBPath
	}
	if c.MergerfsBin == "" {
		c.MergerfsBin = DefaultMergerfsBin
	}
	if c.UmountBin == "" {
		c.UmountBin = DefaultUmountBin
	}
	if c.FusermountBin == "" {
		c.FusermountBin = DefaultFusermountBin
	}
	if c.CommandTimeoutSecs == 0 {
		c.CommandTimeoutSecs = DefaultCommandTimeoutSecs
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ServerCert == "" || c.ServerKey == "" {
		return fmt.Errorf("server certificate and key are required (use --server-cert/--server-key or set them in the config file)")
	}
	if c.ClientCA == "" {
		return fmt.Errorf("client CA is required (use --ca-cert or set 'ca_cert' in the config file)")
	}
	if c.CommandTimeoutSecs < 0 {
		return fmt.Errorf("command_timeout must not be negative")
	}
	return nil
}
