package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/unionfs-tools/mergerd/internal/config"
	"github.com/unionfs-tools/mergerd/internal/driver"
	"github.com/unionfs-tools/mergerd/internal/log"
	"github.com/unionfs-tools/mergerd/internal/mount"
	"github.com/unionfs-tools/mergerd/internal/registry"
	"github.com/unionfs-tools/mergerd/internal/server"
	"github.com/unionfs-tools/mergerd/internal/version"
)

func main() {
	cmd := &cli.Command{
		Name:  "mergerd",
		Usage: "A daemon that manages mergerfs union mounts over an authenticated API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Aliases: []string{"l"},
				Usage:   "Address for the API listener",
			},
			&cli.StringFlag{
				Name:  "db-path",
				Usage: "Directory for the mount registry database",
			},
			&cli.StringFlag{
				Name:  "server-cert",
				Usage: "Server TLS certificate path",
			},
			&cli.StringFlag{
				Name:  "server-key",
				Usage: "Server TLS private key path",
			},
			&cli.StringFlag{
				Name:  "ca-cert",
				Usage: "CA bundle that client certificates must chain to",
			},
			&cli.StringFlag{
				Name:  "base-dir",
				Usage: "Restrict mount destinations to this directory",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Configuration file path",
				Value:   config.DefaultConfigPath,
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
			&cli.BoolFlag{
				Name:    "version",
				Aliases: []string{"V"},
				Usage:   "Print version information",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	// Handle version flag
	if cmd.Bool("version") {
		fmt.Println(version.String())
		return nil
	}

	// Setup logging
	log.Setup(cmd.Bool("verbose"))

	// Load config file
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Merge CLI flags (CLI takes precedence)
	cfg.Merge(
		cmd.String("listen"),
		cmd.String("db-path"),
		cmd.String("server-cert"),
		cmd.String("server-key"),
		cmd.String("ca-cert"),
		cmd.String("base-dir"),
	)

	// Apply defaults
	cfg.ApplyDefaults()

	// Validate config
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log.Info("starting mergerd",
		"listen", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"base_dir", cfg.BaseDir,
	)

	// Ensure the registry directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return fmt.Errorf("create registry directory: %w", err)
	}

	store, err := registry.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("failed to close registry", "error", err)
		}
	}()

	observer := mount.NewProcObserver()
	executor := mount.NewExecRunner(
		cfg.MergerfsBin,
		cfg.UmountBin,
		cfg.FusermountBin,
		time.Duration(cfg.CommandTimeoutSecs)*time.Second,
	)

	d := driver.New(store, observer, executor, cfg.BaseDir)

	tlsConf, err := server.NewTLSConfig(server.TLSFiles{
		CertFile:     cfg.ServerCert,
		KeyFile:      cfg.ServerKey,
		ClientCAFile: cfg.ClientCA,
	})
	if err != nil {
		return fmt.Errorf("configure TLS: %w", err)
	}

	return server.Serve(cfg.ListenAddr, tlsConf, server.NewRouter(d))
}
