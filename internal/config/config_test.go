package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileReturnsEmptyConfig(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != "" {
		t.Errorf("expected empty config, got %+v", cfg)
	}
}

func TestLoad_ParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mergerd.conf")
	content := `
listen = "127.0.0.1:7443"
db_path = "/var/lib/mergerd/db"
server_cert = "/etc/mergerd/server.crt"
base_dir = "/mnt/pools"
command_timeout = 10
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:7443" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.BaseDir != "/mnt/pools" {
		t.Errorf("BaseDir = %q", cfg.BaseDir)
	}
	if cfg.CommandTimeoutSecs != 10 {
		t.Errorf("CommandTimeoutSecs = %d", cfg.CommandTimeoutSecs)
	}
}

func TestMerge_CLITakesPrecedence(t *testing.T) {
	cfg := &Config{ListenAddr: "file:1", DBPath: "/file/db"}
	cfg.Merge("cli:1", "", "", "", "", "/mnt/base")

	if cfg.ListenAddr != "cli:1" {
		t.Errorf("ListenAddr = %q, want cli:1", cfg.ListenAddr)
	}
	if cfg.DBPath != "/file/db" {
		t.Errorf("DBPath = %q, empty CLI value must not override", cfg.DBPath)
	}
	if cfg.BaseDir != "/mnt/base" {
		t.Errorf("BaseDir = %q", cfg.BaseDir)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.MergerfsBin != DefaultMergerfsBin || cfg.UmountBin != DefaultUmountBin || cfg.FusermountBin != DefaultFusermountBin {
		t.Errorf("tool defaults not applied: %+v", cfg)
	}
	if cfg.CommandTimeoutSecs != DefaultCommandTimeoutSecs {
		t.Errorf("CommandTimeoutSecs = %d", cfg.CommandTimeoutSecs)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Error("missing TLS material must fail validation")
	}

	cfg.ServerCert = "/etc/mergerd/server.crt"
	cfg.ServerKey = "/etc/mergerd/server.key"
	cfg.ClientCA = "/etc/mergerd/ca.crt"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}
