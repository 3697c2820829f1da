package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/uhx/settle/service/db"
	"github.com/uhx/settle/service/exchange"
	"github.com/uhx/settle/service/solana"
	"github.com/uhx/settle/service/stellar"
)

func createAssetCommand() *cli.Command {
	return &cli.Command{
		Name:  "create-asset",
		Usage: "Issue a new asset: create accounts, mint supply, post offers",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "code", Usage: "Asset code (3-12 uppercase alphanumerics)", Required: true},
			&cli.StringFlag{Name: "supply", Usage: "Total supply to mint", Required: true},
			&cli.StringFlag{Name: "creator", Usage: "Address of the wallet funding account activation", Required: true},
			&cli.BoolFlag{Name: "fixed-supply", Usage: "Lock the issuing account after minting"},
			&cli.BoolFlag{Name: "kyc", Usage: "Gate the asset behind KYC"},
			&cli.StringFlag{Name: "reserve", Usage: "Starting native-unit balance per created account", Value: "2"},
			&cli.StringFlag{Name: "offer-amount", Usage: "Quantity to list for sale (omit for no offer)"},
			&cli.StringFlag{Name: "offer-price", Usage: "Price per unit for the offer"},
			&cli.StringFlag{Name: "offer-code", Usage: "Currency code the offer is priced in", Value: "XLM"},
			&cli.BoolFlag{Name: "public", Usage: "Make the offer public (posted on the ledger)"},
		},
		Action: func(c *cli.Context) error {
			supply, err := decimal.NewFromString(c.String("supply"))
			if err != nil {
				return fmt.Errorf("invalid supply: %w", err)
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
			creator, err := store.GetWalletByAddress(ctx, c.String("creator"))
			if err != nil {
				return fmt.Errorf("failed to load creator wallet: %w", err)
			}

			ledger := getLedgerClient(c)
			accounts := stellar.NewAccountManager(ledger, creator.Network)
			submitter := stellar.NewSubmitter(ledger)

			// Solvency is judged on the recorded balance; refresh it first so
			// a recently funded creator is not rejected.
			if refreshed, err := accounts.RefreshBalances(ctx, creator); err == nil {
				creator = refreshed
				if _, err := store.UpdateWalletBalances(ctx, creator.ID, creator.Balances); err != nil {
					return fmt.Errorf("failed to persist creator balances: %w", err)
				}
			}

			params := exchange.CreateAssetParams{
				Code:            c.String("code"),
				Supply:          supply,
				FixedSupply:     c.Bool("fixed-supply"),
				KYCRequirement:  c.Bool("kyc"),
				Creator:         creator,
				StartingReserve: reserve,
			}

			if offerAmount := c.String("offer-amount"); offerAmount != "" {
				amount, err := decimal.NewFromString(offerAmount)
				if err != nil {
					return fmt.Errorf("invalid offer-amount: %w", err)
				}
				price, err := decimal.NewFromString(c.String("offer-price"))
				if err != nil {
					return fmt.Errorf("invalid offer-price: %w", err)
				}
				params.Offers = []exchange.OfferSpec{{
					Price:  db.MonetaryAmount{Value: price, Code: c.String("offer-code")},
					Amount: amount,
					Public: c.Bool("public"),
				}}
			}

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelInfo,
			}))
			orchestrator := exchange.NewOrchestrator(exchange.NewStore(store), accounts, submitter, nil, logger)

			asset, err := orchestrator.CreateAsset(ctx, params)
			if err != nil {
				return fmt.Errorf("issuance failed: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(asset)
			}

			fmt.Printf("✓ Asset issued: %s\n", asset.Code)
			fmt.Printf("  Issuer:  %s\n", asset.Issuer)
			fmt.Printf("  Offers:  %d\n", len(asset.Offers))
			return nil
		},
	}
}

func settlePurchaseCommand() *cli.Command {
	return &cli.Command{
		Name:      "settle-purchase",
		Usage:     "Run settlement for a pending purchase",
		ArgsUsage: "<purchase-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "rail",
				Usage: "Payment rail: stellar or solana",
				Value: "stellar",
			},
			&cli.StringFlag{
				Name:    "solana-rpc-url",
				Usage:   "Solana RPC URL (solana rail only)",
				EnvVars: []string{"SOLANA_RPC_URL"},
			},
			&cli.StringFlag{
				Name:    "bridge-wallet",
				Usage:   "Bridge wallet that receives the buyer's payment (solana rail only)",
				EnvVars: []string{"SOLANA_BRIDGE_WALLET"},
			},
			&cli.StringFlag{
				Name:    "lamports-per-unit",
				Usage:   "Lamports per invoiced unit (solana rail only)",
				Value:   "1000000000",
				EnvVars: []string{"SOLANA_LAMPORTS_PER_UNIT"},
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: purchase id")
			}

			id, err := uuid.Parse(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid purchase id: %w", err)
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			ctx := context.Background()
			purchase, err := store.GetPurchase(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to load purchase: %w", err)
			}

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelInfo,
			}))
			ledger := getLedgerClient(c)
			accounts := stellar.NewAccountManager(ledger, "")
			submitter := stellar.NewSubmitter(ledger)
			exchangeStore := exchange.NewStore(store)

			var processor exchange.Processor
			switch c.String("rail") {
			case "stellar":
				processor = exchange.NewStellarProcessor(exchangeStore, accounts, submitter, nil, nil, logger)
			case "solana":
				rpcURL := c.String("solana-rpc-url")
				bridge := c.String("bridge-wallet")
				if rpcURL == "" || bridge == "" {
					return fmt.Errorf("solana rail requires --solana-rpc-url and --bridge-wallet")
				}
				lamports, err := decimal.NewFromString(c.String("lamports-per-unit"))
				if err != nil {
					return fmt.Errorf("invalid lamports-per-unit: %w", err)
				}
				rail := solana.NewClient(solana.NewRPCClient(rpcURL), nil, logger)
				processor = exchange.NewSolanaProcessor(exchangeStore, accounts, submitter, rail, nil, bridge, lamports, nil, logger)
			default:
				return fmt.Errorf("unknown rail %q (must be stellar or solana)", c.String("rail"))
			}

			settled, settleErr := processor.Settle(ctx, purchase)
			if settled == nil {
				return fmt.Errorf("settlement failed: %w", settleErr)
			}

			if c.Bool("json") {
				return outputJSON(settled)
			}

			fmt.Printf("Purchase %s settled on %s rail\n", settled.ID, processor.Rail())
			fmt.Printf("  Status: %s\n", settled.Status)
			if settled.Ref != nil {
				fmt.Printf("  Ref:    %s\n", *settled.Ref)
			}
			if settleErr != nil {
				fmt.Fprintf(os.Stderr, "settlement error: %v\n", settleErr)
			}
			return nil
		},
	}
}
