package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	app := &cli.App{
		Name:  "settle",
		Usage: "Asset issuance and settlement service CLI",
		Description: `A command-line tool for managing and debugging the settle service.

Use this CLI to run migrations, inspect database state, drive ledger
operations, manage Temporal reconciliation schedules, and stream events.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Database inspection and migration commands
			{
				Name:  "db",
				Usage: "Database inspection and migration commands",
				Subcommands: []*cli.Command{
					migrateCommand(),
					listWalletsCommand(),
					getWalletCommand(),
					listAssetsCommand(),
					listPurchasesCommand(),
					getTransactionCommand(),
				},
			},
			// Ledger operations
			{
				Name:  "ledger",
				Usage: "Ledger account and payment commands",
				Subcommands: []*cli.Command{
					generateAccountCommand(),
					activateAccountCommand(),
					refreshBalancesCommand(),
					trustCommand(),
					isActiveCommand(),
					payCommand(),
					historyCommand(),
				},
			},
			// Asset issuance and settlement
			{
				Name:  "asset",
				Usage: "Asset issuance and settlement commands",
				Subcommands: []*cli.Command{
					createAssetCommand(),
					settlePurchaseCommand(),
				},
			},
			// Temporal inspection and management commands
			{
				Name:  "temporal",
				Usage: "Temporal inspection and management commands",
				Subcommands: []*cli.Command{
					listSchedulesCommand(),
					describeScheduleCommand(),
					pauseScheduleCommand(),
					resumeScheduleCommand(),
					deleteScheduleCommand(),
					createScheduleCommand(),
				},
			},
			// NATS event streaming commands
			{
				Name:  "nats",
				Usage: "NATS event streaming commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
					inspectStreamCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "horizon-url",
				Usage:   "Horizon API URL",
				EnvVars: []string{"HORIZON_URL"},
				Value:   "https://horizon-testnet.stellar.org",
			},
			&cli.StringFlag{
				Name:    "network-passphrase",
				Usage:   "Ledger network passphrase",
				EnvVars: []string{"STELLAR_NETWORK_PASSPHRASE"},
				Value:   "Test SDF Network ; September 2015",
			},
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_HOST"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
