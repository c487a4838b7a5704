// Package main is the entry point for the hostbot database migration tool.
// It applies the embedded schema of the configured SQLite or PostgreSQL backend.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/cloudspb/hostbot/internal/config"
	"github.com/cloudspb/hostbot/internal/logging"
	"github.com/cloudspb/hostbot/internal/repository/backend"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	flags := pflag.NewFlagSet("hostbot-migrate", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "", "path to the configuration file")
	flags.Usage = printUsage
	_ = flags.Parse(os.Args[1:])

	if flags.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flags.Arg(0)

	switch command {
	case "version":
		fmt.Printf("hostbot Migration Tool\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)

	case "up", "status":
		if err := migrate(*configPath, command == "up"); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	case "help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func migrate(configPath string, apply bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging)
	ctx := context.Background()

	store, err := backend.Open(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	before, err := store.Database.Version(ctx)
	if err != nil {
		return err
	}

	if !apply {
		fmt.Printf("Driver: %s\nSchema version: %d\n", cfg.Database.Driver, before)
		return nil
	}

	if err := store.Database.Migrate(ctx); err != nil {
		return err
	}
	after, err := store.Database.Version(ctx)
	if err != nil {
		return err
	}

	if after == before {
		fmt.Printf("Schema is up to date (version %d)\n", after)
	} else {
		fmt.Printf("Migrated schema from version %d to %d\n", before, after)
	}
	return nil
}

func printUsage() {
	fmt.Println(`hostbot Migration Tool

Usage:
  hostbot-migrate [--config file] <command>

Commands:
  up          Apply all pending migrations
  status      Show the current schema version
  version     Print version information
  help        Show this help message

Environment Variables:
  HOSTBOT_DATABASE_DRIVER    sqlite or postgres
  HOSTBOT_DATABASE_PATH      SQLite database file

Examples:
  hostbot-migrate up
  hostbot-migrate --config /etc/hostbot/config.yaml status`)
}
