package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/uhx/settle/service/db"
	"github.com/uhx/settle/service/stellar"
)

// getLedgerClient builds a ledger client from the global flags.
func getLedgerClient(c *cli.Context) *stellar.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	horizonURL := c.String("horizon-url")
	return stellar.NewClient(
		stellar.NewHorizonClient(horizonURL),
		c.String("network-passphrase"),
		horizonURL,
		nil,
		logger,
	)
}

func generateAccountCommand() *cli.Command {
	return &cli.Command{
		Name:  "generate-account",
		Usage: "Generate a new keypair and register it as a wallet",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "network",
				Usage: "Network tag recorded on the wallet",
				Value: "testnet",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			accounts := stellar.NewAccountManager(getLedgerClient(c), c.String("network"))
			wallet, err := accounts.GenerateAccount()
			if err != nil {
				return fmt.Errorf("failed to generate account: %w", err)
			}

			created, err := store.CreateWallet(context.Background(), db.CreateWalletParams{
				Address:  wallet.Address,
				Seed:     wallet.Seed,
				Network:  wallet.Network,
				Balances: wallet.Balances,
			})
			if err != nil {
				return fmt.Errorf("failed to persist wallet: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(created)
			}

			fmt.Printf("✓ Account generated: %s\n", created.Address)
			fmt.Printf("  Wallet ID: %s\n", created.ID)
			fmt.Printf("  Network:   %s\n", created.Network)
			fmt.Fprintln(os.Stderr, "The seed is stored in the wallet row; it is never printed.")
			return nil
		},
	}
}

func activateAccountCommand() *cli.Command {
	return &cli.Command{
		Name:      "activate-account",
		Usage:     "Fund a generated account so it exists on the ledger",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "funder",
				Usage:    "Address of the wallet that funds the activation",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "reserve",
				Usage: "Starting native-unit balance",
				Value: "2",
			},
			&cli.StringFlag{
				Name:  "ref",
				Usage: "Local reference id embedded as the transaction memo",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}

			reserve, err := decimal.NewFromString(c.String("reserve"))
			if err != nil {
				return fmt.Errorf("invalid reserve: %w", err)
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			ctx := context.Background()
			wallet, err := store.GetWalletByAddress(ctx, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to load wallet: %w", err)
			}
			funder, err := store.GetWalletByAddress(ctx, c.String("funder"))
			if err != nil {
				return fmt.Errorf("failed to load funder wallet: %w", err)
			}

			accounts := stellar.NewAccountManager(getLedgerClient(c), wallet.Network)
			activated, err := accounts.ActivateAccount(ctx, wallet, reserve, funder, c.String("ref"))
			if err != nil {
				return fmt.Errorf("failed to activate account: %w", err)
			}

			if _, err := store.UpdateWalletBalances(ctx, wallet.ID, activated.Balances); err != nil {
				return fmt.Errorf("failed to persist balances: %w", err)
			}

			fmt.Printf("✓ Account activated: %s\n", wallet.Address)
			fmt.Printf("  Balances: %s\n", formatBalances(activated.Balances))
			return nil
		},
	}
}

func refreshBalancesCommand() *cli.Command {
	return &cli.Command{
		Name:      "refresh-balances",
		Usage:     "Re-read a wallet's ledger balances and persist them",
		ArgsUsage: "<address>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			ctx := context.Background()
			wallet, err := store.GetWalletByAddress(ctx, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to load wallet: %w", err)
			}

			accounts := stellar.NewAccountManager(getLedgerClient(c), wallet.Network)
			refreshed, err := accounts.RefreshBalances(ctx, wallet)
			if err != nil {
				return fmt.Errorf("failed to refresh balances: %w", err)
			}

			updated, err := store.UpdateWalletBalances(ctx, wallet.ID, refreshed.Balances)
			if err != nil {
				return fmt.Errorf("failed to persist balances: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(updated)
			}

			fmt.Printf("✓ Balances refreshed: %s\n", wallet.Address)
			fmt.Printf("  %s\n", formatBalances(updated.Balances))
			return nil
		},
	}
}

func trustCommand() *cli.Command {
	return &cli.Command{
		Name:      "trust",
		Usage:     "Establish a trust line so a wallet can hold an issued asset",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "code", Usage: "Asset code", Required: true},
			&cli.StringFlag{Name: "issuer", Usage: "Asset issuer address", Required: true},
			&cli.StringFlag{Name: "limit", Usage: "Trust limit (empty for maximum)"},
			&cli.StringFlag{Name: "ref", Usage: "Local reference id embedded as the transaction memo"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}

			limit := decimal.Decimal{}
			if raw := c.String("limit"); raw != "" {
				var err error
				limit, err = decimal.NewFromString(raw)
				if err != nil {
					return fmt.Errorf("invalid limit: %w", err)
				}
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			ctx := context.Background()
			wallet, err := store.GetWalletByAddress(ctx, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to load wallet: %w", err)
			}

			asset := stellar.AssetRef{Code: c.String("code"), Issuer: c.String("issuer")}
			accounts := stellar.NewAccountManager(getLedgerClient(c), wallet.Network)
			trusted, err := accounts.CreateTrust(ctx, wallet, []stellar.AssetRef{asset}, limit, c.String("ref"))
			if err != nil {
				return fmt.Errorf("failed to create trust line: %w", err)
			}

			if _, err := store.UpdateWalletBalances(ctx, wallet.ID, trusted.Balances); err != nil {
				return fmt.Errorf("failed to persist balances: %w", err)
			}

			fmt.Printf("✓ Trust line established: %s trusts %s:%s\n", wallet.Address, asset.Code, asset.Issuer)
			return nil
		},
	}
}

func isActiveCommand() *cli.Command {
	return &cli.Command{
		Name:      "is-active",
		Usage:     "Check whether an account exists on the ledger",
		ArgsUsage: "<address>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account address")
			}
			address := c.Args().First()

			accounts := stellar.NewAccountManager(getLedgerClient(c), "")
			active, err := accounts.IsActive(context.Background(), &db.Wallet{Address: address})
			if err != nil {
				return fmt.Errorf("failed to check account: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]interface{}{"address": address, "active": active})
			}

			if active {
				fmt.Printf("✓ %s is active on the ledger\n", address)
			} else {
				fmt.Printf("✗ %s is not active (never funded)\n", address)
			}
			return nil
		},
	}
}

func payCommand() *cli.Command {
	return &cli.Command{
		Name:  "pay",
		Usage: "Submit a payment between two registered wallets",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "from", Usage: "Payor wallet address", Required: true},
			&cli.StringFlag{Name: "to", Usage: "Payee wallet address", Required: true},
			&cli.StringFlag{Name: "amount", Usage: "Amount to pay", Required: true},
			&cli.StringFlag{Name: "code", Usage: "Asset code (empty for native)"},
			&cli.StringFlag{Name: "issuer", Usage: "Asset issuer (empty for native)"},
			&cli.StringFlag{Name: "ref", Usage: "Local reference id embedded as the transaction memo"},
		},
		Action: func(c *cli.Context) error {
			amount, err := decimal.NewFromString(c.String("amount"))
			if err != nil {
				return fmt.Errorf("invalid amount: %w", err)
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			ctx := context.Background()
			payor, err := store.GetWalletByAddress(ctx, c.String("from"))
			if err != nil {
				return fmt.Errorf("failed to load payor wallet: %w", err)
			}
			payee, err := store.GetWalletByAddress(ctx, c.String("to"))
			if err != nil {
				return fmt.Errorf("failed to load payee wallet: %w", err)
			}

			asset := stellar.NativeAssetRef()
			if code := c.String("code"); code != "" {
				asset = stellar.AssetRef{Code: code, Issuer: c.String("issuer")}
			}

			submitter := stellar.NewSubmitter(getLedgerClient(c))
			hash, err := submitter.CreatePayment(ctx, payor, payee, amount, asset, c.String("ref"))
			if err != nil {
				return fmt.Errorf("payment failed: %w", err)
			}

			fmt.Printf("✓ Payment submitted\n")
			fmt.Printf("  Hash: %s\n", hash)
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Fetch and reconcile a wallet's ledger history",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"n"},
				Usage:   "Number of ledger records to fetch",
				Value:   20,
			},
			&cli.StringFlag{
				Name:  "asset",
				Usage: "Only include records touching this asset code",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			ctx := context.Background()
			wallet, err := store.GetWalletByAddress(ctx, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to load wallet: %w", err)
			}

			reconciler := stellar.NewReconciler(getLedgerClient(c), store)
			records, err := reconciler.GetTransactionHistory(ctx, wallet, stellar.HistoryFilter{
				Count:     c.Int("count"),
				AssetCode: c.String("asset"),
			})
			if err != nil {
				return fmt.Errorf("failed to fetch history: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(records)
			}

			for i, txn := range records {
				if i > 0 {
					fmt.Println("────────────────────────────────────────────────────")
				}
				fmt.Printf("Type:    %s\n", txn.Type)
				fmt.Printf("Status:  %s\n", txn.Status)
				fmt.Printf("Amount:  %s %s\n", txn.Amount.Value.String(), txn.Amount.Code)
				if txn.Ref != nil {
					fmt.Printf("Ref:     %s\n", *txn.Ref)
				}
				if txn.PostingDate != nil {
					fmt.Printf("Posted:  %s\n", txn.PostingDate.Format(time.RFC3339))
				}
			}
			fmt.Fprintf(os.Stderr, "\nTotal: %d records\n", len(records))
			return nil
		},
	}
}
