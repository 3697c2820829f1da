package exchange

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/uhx/settle/service/db"
	"github.com/uhx/settle/service/metrics"
	"github.com/uhx/settle/service/nats"
	"github.com/uhx/settle/service/solana"
	"github.com/uhx/settle/service/stellar"
)

// Settlement failure reference codes recorded on the transaction row.
const (
	RefInsufficientFunds = "INSUFFICIENT_FUNDS"
	RefCommsFailure      = "COMMS_FAILURE"
	RefSettlementFailed  = "SETTLEMENT_FAILED"
)

// Publisher is the event sink settlement outcomes are announced on.
type Publisher interface {
	PublishSettlement(ctx context.Context, event *nats.SettlementEvent) error
}

// Processor settles a pending purchase on one payment rail. Settle always
// moves the purchase to a terminal status; the error return reports why a
// purchase failed, alongside the Failed row.
type Processor interface {
	Rail() string
	Settle(ctx context.Context, purchase *db.Purchase) (*db.Purchase, error)
}

// StellarProcessor settles purchases whose payment leg and delivery leg both
// live on the primary ledger: the buyer pays the invoiced amount and receives
// the purchased asset in one atomic transaction.
type StellarProcessor struct {
	store     Store
	accounts  *stellar.AccountManager
	submitter *stellar.Submitter
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics

	// AsTrade settles via matching offers instead of crossed payments.
	AsTrade bool
}

// NewStellarProcessor wires a settlement processor for the primary rail.
func NewStellarProcessor(store Store, accounts *stellar.AccountManager, submitter *stellar.Submitter, publisher Publisher, m *metrics.Metrics, logger *slog.Logger) *StellarProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &StellarProcessor{
		store:     store,
		accounts:  accounts,
		submitter: submitter,
		publisher: publisher,
		logger:    logger,
		metrics:   m,
	}
}

func (p *StellarProcessor) Rail() string { return "stellar" }

// Settle runs the full settlement flow for one pending purchase. The buyer's
// recorded balance is checked before any ledger traffic: an insolvent buyer
// fails the purchase without a single ledger call.
func (p *StellarProcessor) Settle(ctx context.Context, purchase *db.Purchase) (*db.Purchase, error) {
	start := time.Now()
	settled, err := p.settle(ctx, purchase)
	p.record("stellar", start, err)
	return settled, err
}

func (p *StellarProcessor) settle(ctx context.Context, purchase *db.Purchase) (*db.Purchase, error) {
	if purchase.Status != db.TransactionStatusPending {
		return purchase, nil
	}
	if purchase.PayorWalletID == nil {
		return nil, fmt.Errorf("purchase %s has no payor wallet", purchase.ID)
	}

	buyer, err := p.store.GetWallet(ctx, *purchase.PayorWalletID)
	if err != nil {
		return nil, fmt.Errorf("failed to load buyer wallet: %w", err)
	}
	asset, err := p.store.GetAsset(ctx, purchase.AssetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load asset: %w", err)
	}
	distribution, err := p.store.GetWallet(ctx, purchase.DistributorWalletID)
	if err != nil {
		return nil, fmt.Errorf("failed to load distribution wallet: %w", err)
	}

	// Solvency gate on the recorded balance. Failing here settles the row
	// terminally with zero ledger traffic.
	if insufficient := checkBuyerFunds(buyer, purchase.Amount); insufficient != nil {
		failed, settleErr := p.fail(ctx, purchase, RefInsufficientFunds)
		if settleErr != nil {
			return nil, settleErr
		}
		return failed, insufficient
	}

	assetRef := stellar.AssetRef{Code: asset.Code, Issuer: asset.Issuer}
	if err := p.ensureTrust(ctx, buyer, assetRef, purchase.ID.String()); err != nil {
		failed, settleErr := p.fail(ctx, purchase, refForError(err))
		if settleErr != nil {
			return nil, settleErr
		}
		return failed, err
	}

	hash, err := p.submitter.ExchangeAsset(ctx,
		distribution, buyer,
		purchase.Quantity, assetRef,
		purchase.Amount.Value, stellar.AssetRef{Code: purchase.Amount.Code},
		purchase.ID.String(), p.AsTrade)
	if err != nil {
		failed, settleErr := p.fail(ctx, purchase, refForError(err))
		if settleErr != nil {
			return nil, settleErr
		}
		return failed, err
	}

	return p.complete(ctx, purchase, hash)
}

// ensureTrust establishes the buyer's trust line for the purchased asset if
// the recorded balances show none.
func (p *StellarProcessor) ensureTrust(ctx context.Context, buyer *db.Wallet, assetRef stellar.AssetRef, refID string) error {
	if buyer.Balance(assetRef.Code) != nil {
		return nil
	}
	updated, err := p.accounts.CreateTrust(ctx, buyer, []stellar.AssetRef{assetRef}, decimal.Decimal{}, refID)
	if err != nil {
		return err
	}
	if _, err := p.store.UpdateWalletBalances(ctx, buyer.ID, updated.Balances); err != nil {
		return fmt.Errorf("failed to record trust line: %w", err)
	}
	return nil
}

// complete settles the row with the ledger transaction hash as its reference.
func (p *StellarProcessor) complete(ctx context.Context, purchase *db.Purchase, hash string) (*db.Purchase, error) {
	return finishPurchase(ctx, p.store, p.publisher, p.logger, purchase, db.TransactionStatusComplete, hash, p.Rail())
}

func (p *StellarProcessor) fail(ctx context.Context, purchase *db.Purchase, ref string) (*db.Purchase, error) {
	return finishPurchase(ctx, p.store, p.publisher, p.logger, purchase, db.TransactionStatusFailed, ref, p.Rail())
}

func (p *StellarProcessor) record(rail string, start time.Time, err error) {
	if p.metrics == nil {
		return
	}
	status := "complete"
	if err != nil {
		status = "failed"
	}
	p.metrics.RecordSettlement(rail, status, time.Since(start).Seconds())
}

// SolanaProcessor settles purchases whose payment leg arrives on the
// secondary chain: the buyer sends lamports to a bridge wallet with the
// purchase's correlation memo, and delivery happens on the primary ledger
// once that inbound payment is found.
type SolanaProcessor struct {
	store     Store
	accounts  *stellar.AccountManager
	submitter *stellar.Submitter
	rail      *solana.Client
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics

	// BridgeWallet receives the buyer's payment on the secondary chain.
	BridgeWallet string
	// LamportsPerUnit converts the invoiced amount to lamports.
	LamportsPerUnit decimal.Decimal
}

// NewSolanaProcessor wires a settlement processor for the secondary rail.
func NewSolanaProcessor(store Store, accounts *stellar.AccountManager, submitter *stellar.Submitter, rail *solana.Client, publisher Publisher, bridgeWallet string, lamportsPerUnit decimal.Decimal, m *metrics.Metrics, logger *slog.Logger) *SolanaProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SolanaProcessor{
		store:           store,
		accounts:        accounts,
		submitter:       submitter,
		rail:            rail,
		publisher:       publisher,
		logger:          logger,
		metrics:         m,
		BridgeWallet:    bridgeWallet,
		LamportsPerUnit: lamportsPerUnit,
	}
}

func (p *SolanaProcessor) Rail() string { return "solana" }

// Settle verifies the memo-correlated inbound payment on the secondary chain
// and, once found, delivers the purchased asset on the primary ledger.
func (p *SolanaProcessor) Settle(ctx context.Context, purchase *db.Purchase) (*db.Purchase, error) {
	start := time.Now()
	settled, err := p.settle(ctx, purchase)
	p.record(start, err)
	return settled, err
}

func (p *SolanaProcessor) settle(ctx context.Context, purchase *db.Purchase) (*db.Purchase, error) {
	if purchase.Status != db.TransactionStatusPending {
		return purchase, nil
	}
	if purchase.PayorWalletID == nil {
		return nil, fmt.Errorf("purchase %s has no payor wallet", purchase.ID)
	}

	buyer, err := p.store.GetWallet(ctx, *purchase.PayorWalletID)
	if err != nil {
		return nil, fmt.Errorf("failed to load buyer wallet: %w", err)
	}
	asset, err := p.store.GetAsset(ctx, purchase.AssetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load asset: %w", err)
	}
	distribution, err := p.store.GetWallet(ctx, purchase.DistributorWalletID)
	if err != nil {
		return nil, fmt.Errorf("failed to load distribution wallet: %w", err)
	}

	// The buyer's funds live on the other chain; solvency means the bridge
	// wallet already received a memo-correlated payment covering the invoice.
	bridge, err := solanago.PublicKeyFromBase58(p.BridgeWallet)
	if err != nil {
		return nil, fmt.Errorf("invalid bridge wallet %q: %w", p.BridgeWallet, err)
	}
	digest := stellar.MemoHash(purchase.ID.String())
	memo := hex.EncodeToString(digest[:])
	minLamports := purchase.Amount.Value.Mul(p.LamportsPerUnit).IntPart()

	payment, err := p.rail.FindPayment(ctx, solana.FindPaymentParams{
		Wallet:      bridge,
		Memo:        memo,
		MinLamports: uint64(minLamports),
	})
	if err != nil {
		return nil, err
	}
	if payment == nil {
		failed, settleErr := p.fail(ctx, purchase, RefInsufficientFunds)
		if settleErr != nil {
			return nil, settleErr
		}
		return failed, &stellar.InsufficientFundsError{
			Address:  p.BridgeWallet,
			Code:     purchase.Amount.Code,
			Required: purchase.Amount.Value.String(),
			Held:     "0",
		}
	}

	p.logger.InfoContext(ctx, "bridge payment verified",
		"purchase_id", purchase.ID,
		"signature", payment.Signature,
		"lamports", payment.Lamports,
	)

	assetRef := stellar.AssetRef{Code: asset.Code, Issuer: asset.Issuer}
	if buyer.Balance(assetRef.Code) == nil {
		updated, err := p.accounts.CreateTrust(ctx, buyer, []stellar.AssetRef{assetRef}, decimal.Decimal{}, purchase.ID.String())
		if err != nil {
			failed, settleErr := p.fail(ctx, purchase, refForError(err))
			if settleErr != nil {
				return nil, settleErr
			}
			return failed, err
		}
		if _, err := p.store.UpdateWalletBalances(ctx, buyer.ID, updated.Balances); err != nil {
			return nil, fmt.Errorf("failed to record trust line: %w", err)
		}
	}

	hash, err := p.submitter.CreatePayment(ctx, distribution, buyer, purchase.Quantity, assetRef, purchase.ID.String())
	if err != nil {
		failed, settleErr := p.fail(ctx, purchase, refForError(err))
		if settleErr != nil {
			return nil, settleErr
		}
		return failed, err
	}

	return finishPurchase(ctx, p.store, p.publisher, p.logger, purchase, db.TransactionStatusComplete, hash, p.Rail())
}

func (p *SolanaProcessor) fail(ctx context.Context, purchase *db.Purchase, ref string) (*db.Purchase, error) {
	return finishPurchase(ctx, p.store, p.publisher, p.logger, purchase, db.TransactionStatusFailed, ref, p.Rail())
}

func (p *SolanaProcessor) record(start time.Time, err error) {
	if p.metrics == nil {
		return
	}
	status := "complete"
	if err != nil {
		status = "failed"
	}
	p.metrics.RecordSettlement("solana", status, time.Since(start).Seconds())
}

// finishPurchase settles the transaction row terminally, re-reads the
// purchase, and announces the outcome. Publish failures are logged, not
// returned: the settlement itself already happened.
func finishPurchase(ctx context.Context, store Store, publisher Publisher, logger *slog.Logger, purchase *db.Purchase, status db.TransactionStatus, ref, rail string) (*db.Purchase, error) {
	if _, err := store.SettleTransaction(ctx, db.SettleTransactionParams{
		ID:          purchase.ID,
		Status:      status,
		Ref:         ref,
		PostingDate: time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("failed to settle purchase %s: %w", purchase.ID, err)
	}

	settled, err := store.GetPurchase(ctx, purchase.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload purchase %s: %w", purchase.ID, err)
	}

	if publisher != nil {
		event := &nats.SettlementEvent{
			PurchaseID: settled.ID.String(),
			BuyerID:    settled.BuyerID.String(),
			AssetID:    settled.AssetID.String(),
			Rail:       rail,
			Status:     string(status),
			Ref:        ref,
			Amount:     settled.Amount.Value.String(),
			Code:       settled.Amount.Code,
			Quantity:   settled.Quantity.String(),
			Timestamp:  time.Now().UTC(),
		}
		if err := publisher.PublishSettlement(ctx, event); err != nil {
			logger.WarnContext(ctx, "failed to publish settlement event",
				"purchase_id", settled.ID, "error", err)
		}
	}
	return settled, nil
}

// checkBuyerFunds compares the buyer's recorded balance for the invoiced
// code against the invoice. A nil return means the buyer can pay.
func checkBuyerFunds(buyer *db.Wallet, invoice db.MonetaryAmount) error {
	held := buyer.Balance(invoice.Code)
	if held != nil && held.Value.GreaterThanOrEqual(invoice.Value) {
		return nil
	}
	heldValue := "0"
	if held != nil {
		heldValue = held.Value.String()
	}
	return &stellar.InsufficientFundsError{
		Address:  buyer.Address,
		Code:     invoice.Code,
		Required: invoice.Value.String(),
		Held:     heldValue,
	}
}

// refForError maps a settlement error to the reference code recorded on the
// failed transaction row.
func refForError(err error) string {
	if stellar.IsCommsError(err) {
		return RefCommsFailure
	}
	return RefSettlementFailed
}
