// Package main is the entry point for the hostbot admin CLI.
// It runs the administrator commands of the bot against the configured
// database and hosting panel.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/cloudspb/hostbot/internal/app"
	"github.com/cloudspb/hostbot/internal/backup"
	"github.com/cloudspb/hostbot/internal/config"
	"github.com/cloudspb/hostbot/internal/logging"
	"github.com/cloudspb/hostbot/internal/pkg/crypto"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// snapshotActionLimit bounds the audit entries included in an export.
const snapshotActionLimit = 10000

type options struct {
	configPath string
	adminID    int64
	reason     string
	remote     bool
	limit      int
}

func main() {
	var opts options
	flags := pflag.NewFlagSet("hostbot-admin", pflag.ExitOnError)
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to the configuration file")
	flags.Int64Var(&opts.adminID, "as", 0, "acting admin id (default: first configured admin)")
	flags.StringVar(&opts.reason, "reason", "", "ban reason")
	flags.BoolVar(&opts.remote, "remote", false, "also delete the server on the hosting panel")
	flags.IntVar(&opts.limit, "limit", 20, "number of log entries to show")
	flags.Usage = printUsage
	_ = flags.Parse(os.Args[1:])

	args := flags.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	command := args[0]
	switch command {
	case "version":
		fmt.Printf("hostbot Admin CLI\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		return

	case "hash-token":
		if len(args) != 2 {
			fail(errors.New("usage: hostbot-admin hash-token <token>"))
		}
		hash, err := crypto.HashPassword(args[1])
		if err != nil {
			fail(err)
		}
		fmt.Println(hash)
		return

	case "help":
		printUsage()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, command, args[1:]); err != nil {
		stop()
		fail(err)
	}
}

func run(ctx context.Context, opts options, command string, args []string) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging)

	adminID, err := actingAdmin(cfg, opts.adminID)
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	switch command {
	case "ban":
		if err := needArgs(args, 1, "ban <@username|id>"); err != nil {
			return err
		}
		user, err := a.Admin.Ban(ctx, adminID, args[0], opts.reason)
		if err != nil {
			return err
		}
		fmt.Printf("Banned %s: %s\n", user.Handle(), user.BanReasonOrEmpty())

	case "unban":
		if err := needArgs(args, 1, "unban <@username|id>"); err != nil {
			return err
		}
		user, err := a.Admin.Unban(ctx, adminID, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Unbanned %s\n", user.Handle())

	case "give":
		if err := needArgs(args, 1, "give <@username|id>"); err != nil {
			return err
		}
		result, err := a.Admin.GiveServer(ctx, adminID, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Server:   %s (%s)\n", result.Name, result.RemoteID)
		fmt.Printf("Username: %s\n", result.Credentials.Username)
		fmt.Printf("Password: %s\n", result.Credentials.Password)
		fmt.Printf("Email:    %s\n", result.Credentials.Email)

	case "delete":
		if err := needArgs(args, 1, "delete <remote-id> [--remote]"); err != nil {
			return err
		}
		if err := a.Admin.DeleteServer(ctx, adminID, args[0], opts.remote); err != nil {
			return err
		}
		fmt.Printf("Deleted server %s\n", args[0])

	case "start", "stop":
		if err := needArgs(args, 1, command+" <remote-id>"); err != nil {
			return err
		}
		if err := a.Admin.Power(ctx, adminID, args[0], command); err != nil {
			return err
		}
		fmt.Printf("Sent %s to server %s\n", command, args[0])

	case "delete-user":
		if err := needArgs(args, 1, "delete-user <@username|id> [--remote]"); err != nil {
			return err
		}
		report, err := a.Admin.DeleteUserServers(ctx, adminID, args[0], opts.remote)
		if err != nil {
			return err
		}
		return printJSON(report)

	case "info":
		if err := needArgs(args, 1, "info <remote-id>"); err != nil {
			return err
		}
		details, err := a.Admin.ServerInfo(ctx, adminID, args[0])
		if err != nil {
			return err
		}
		return printJSON(details)

	case "servers":
		accounts, err := a.Admin.ListServers(ctx, adminID)
		if err != nil {
			return err
		}
		return printJSON(accounts)

	case "stats":
		stats, err := a.Admin.Statistics(ctx, adminID)
		if err != nil {
			return err
		}
		return printJSON(stats)

	case "logs":
		entries, err := a.Admin.RecentActions(ctx, adminID, opts.limit)
		if err != nil {
			return err
		}
		return printJSON(entries)

	case "reconcile":
		if a.Reconciler == nil {
			return errors.New("hosting panel is not configured")
		}
		return printJSON(a.Reconciler.RunOnce(ctx))

	case "export":
		exporter, err := backup.NewS3Exporter(ctx, cfg.Backup, logger)
		if err != nil {
			return err
		}
		snap, err := backup.Collect(ctx, a.Store.Repos, snapshotActionLimit)
		if err != nil {
			return err
		}
		key, err := exporter.Export(ctx, snap)
		if err != nil {
			return err
		}
		fmt.Printf("Exported s3://%s/%s\n", cfg.Backup.Bucket, key)

	case "backups":
		exporter, err := backup.NewS3Exporter(ctx, cfg.Backup, logger)
		if err != nil {
			return err
		}
		keys, err := exporter.List(ctx)
		if err != nil {
			return err
		}
		for _, key := range keys {
			fmt.Println(key)
		}

	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", command)
	}
	return nil
}

// actingAdmin returns the explicit --as id or the first configured admin.
func actingAdmin(cfg *config.Config, explicit int64) (int64, error) {
	if explicit != 0 {
		return explicit, nil
	}
	ids, err := cfg.Admin.ParseIDs()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, errors.New("no admin ids configured; set HOSTBOT_ADMIN_IDS or pass --as")
	}
	return ids[0], nil
}

func needArgs(args []string, n int, usage string) error {
	if len(args) < n {
		return errors.New("usage: hostbot-admin " + usage)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func printUsage() {
	fmt.Println(`hostbot Admin CLI

Usage:
  hostbot-admin [flags] <command> [arguments]

Commands:
  ban <target>          Ban a user (--reason)
  unban <target>        Lift a ban
  give <target>         Provision a server for a user, skipping eligibility checks
  delete <remote-id>    Delete a server record (--remote also deletes it on the panel)
  delete-user <target>  Delete every server of a user (--remote)
  start <remote-id>     Start a server on the panel
  stop <remote-id>      Stop a server on the panel
  info <remote-id>      Show a server with its owner and panel state
  servers               List all servers
  stats                 Show user and server statistics
  logs                  Show recent admin actions (--limit)
  reconcile             Compare panel servers with local records once
  export                Upload a database snapshot to the backup bucket
  backups               List uploaded snapshots
  hash-token <token>    Print a bcrypt hash for server.api_token
  version               Print version information
  help                  Show this help message

Targets are "@username" or a numeric chat id.

Flags:
  -c, --config string   path to the configuration file
      --as int          acting admin id (default: first configured admin)

Examples:
  hostbot-admin ban @spammer --reason "multiple accounts"
  hostbot-admin give 123456789
  hostbot-admin delete 1a2b3c4d --remote
  hostbot-admin logs --limit 50`)
}
