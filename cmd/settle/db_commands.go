package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/itchyny/gojq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/uhx/settle/service/db"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending schema migrations",
		Action: func(c *cli.Context) error {
			pool, closer, err := getPool(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := db.Migrate(context.Background(), pool); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Println("✓ Migrations applied")
			return nil
		},
	}
}

func listWalletsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-wallets",
		Usage:   "List all registered wallets",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "filter",
				Aliases: []string{"f"},
				Usage:   "jq expression applied to each wallet (truthy results pass)",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			wallets, err := store.ListWallets(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list wallets: %w", err)
			}

			filtered, err := applyJQFilter(c.String("filter"), wallets)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(filtered)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ADDRESS\tNETWORK\tBALANCES\tCREATED")
			count := 0
			for _, item := range filtered {
				wallet, ok := item.(*db.Wallet)
				if !ok {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					wallet.Address,
					wallet.Network,
					formatBalances(wallet.Balances),
					wallet.CreatedAt.Format(time.RFC3339),
				)
				count++
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d wallets\n", count)
			return nil
		},
	}
}

func getWalletCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-wallet",
		Usage:     "Get wallet details",
		Aliases:   []string{"get"},
		ArgsUsage: "<address>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}

			address := c.Args().First()
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			wallet, err := store.GetWalletByAddress(context.Background(), address)
			if err != nil {
				return fmt.Errorf("failed to get wallet: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(wallet)
			}

			fmt.Printf("Address:   %s\n", wallet.Address)
			fmt.Printf("Network:   %s\n", wallet.Network)
			fmt.Printf("Balances:  %s\n", formatBalances(wallet.Balances))
			fmt.Printf("Created:   %s\n", wallet.CreatedAt.Format(time.RFC3339))
			fmt.Printf("Updated:   %s\n", wallet.UpdatedAt.Format(time.RFC3339))

			return nil
		},
	}
}

func listAssetsCommand() *cli.Command {
	return &cli.Command{
		Name:  "list-assets",
		Usage: "List all issued assets with their offers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "filter",
				Aliases: []string{"f"},
				Usage:   "jq expression applied to each asset (truthy results pass)",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			assets, err := store.ListAssets(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list assets: %w", err)
			}

			filtered, err := applyJQFilter(c.String("filter"), assets)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(filtered)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tISSUER\tKYC\tOFFERS\tCREATED")
			count := 0
			for _, item := range filtered {
				asset, ok := item.(*db.Asset)
				if !ok {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%v\t%d\t%s\n",
					asset.Code,
					asset.Issuer,
					asset.KYCRequirement,
					len(asset.Offers),
					asset.CreatedAt.Format(time.RFC3339),
				)
				count++
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d assets\n", count)
			return nil
		},
	}
}

func listPurchasesCommand() *cli.Command {
	return &cli.Command{
		Name:  "list-purchases",
		Usage: "List pending purchases awaiting settlement",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			purchases, err := store.ListPendingPurchases(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list purchases: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(purchases)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tBUYER\tASSET\tQUANTITY\tAMOUNT\tSTATUS")
			for _, p := range purchases {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s %s\t%s\n",
					p.ID,
					p.BuyerID,
					p.AssetID,
					p.Quantity.String(),
					p.Amount.Value.String(),
					p.Amount.Code,
					p.Status,
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d pending purchases\n", len(purchases))
			return nil
		},
	}
}

func getTransactionCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-transaction",
		Usage:     "Get transaction details",
		Aliases:   []string{"tx"},
		ArgsUsage: "<transaction-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction id")
			}

			id, err := uuid.Parse(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid transaction id: %w", err)
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			txn, err := store.GetTransaction(context.Background(), id)
			if err != nil {
				return fmt.Errorf("failed to get transaction: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(txn)
			}

			fmt.Printf("ID:           %s\n", txn.ID)
			fmt.Printf("Type:         %s\n", txn.Type)
			fmt.Printf("Status:       %s\n", txn.Status)
			fmt.Printf("Amount:       %s %s\n", txn.Amount.Value.String(), txn.Amount.Code)
			if txn.Ref != nil {
				fmt.Printf("Ref:          %s\n", *txn.Ref)
			}
			if txn.PostingDate != nil {
				fmt.Printf("Posting Date: %s\n", txn.PostingDate.Format(time.RFC3339))
			}
			fmt.Printf("Created:      %s\n", txn.CreatedAt.Format(time.RFC3339))

			return nil
		},
	}
}

// Helper function to connect to database.
func getPool(c *cli.Context) (*pgxpool.Pool, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, func() { pool.Close() }, nil
}

func getStore(c *cli.Context) (*db.Store, func(), error) {
	pool, closer, err := getPool(c)
	if err != nil {
		return nil, nil, err
	}
	return db.NewStore(pool), closer, nil
}

// Helper function to output JSON.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// applyJQFilter keeps the items for which the jq expression yields a truthy
// value. An empty expression keeps everything. Items are round-tripped
// through JSON so the expression sees the wire shape.
func applyJQFilter[T any](expr string, items []T) ([]interface{}, error) {
	out := make([]interface{}, 0, len(items))
	if expr == "" {
		for _, item := range items {
			out = append(out, item)
		}
		return out, nil
	}

	code, err := compileJQ(expr)
	if err != nil {
		return nil, err
	}

	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal item: %w", err)
		}
		var doc interface{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal item: %w", err)
		}

		iter := code.Run(doc)
		v, ok := iter.Next()
		if !ok {
			continue
		}
		if _, isErr := v.(error); isErr {
			continue
		}
		if isTruthy(v) {
			out = append(out, item)
		}
	}
	return out, nil
}

func compileJQ(expr string) (*gojq.Code, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
	}
	return code, nil
}

// isTruthy follows jq semantics: false and null are falsy, everything else
// is truthy.
func isTruthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	default:
		return true
	}
}

func formatBalances(balances []db.MonetaryAmount) string {
	if len(balances) == 0 {
		return "(none)"
	}
	out := ""
	for i, b := range balances {
		if i > 0 {
			out += ", "
		}
		out += b.Value.String() + " " + b.Code
	}
	return out
}
