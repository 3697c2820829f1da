package stellar

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"

	"github.com/uhx/settle/service/db"
)

// defaultTxTimeout bounds how long a submitted transaction stays valid, in
// seconds.
const defaultTxTimeout = 300

// exchangeWindow is the validity window for two-party exchange transactions.
// Both signatures must land within ±10 seconds of build time.
const exchangeWindow = 10 * time.Second

// Submitter builds, signs, and submits ledger transactions. All asset
// references are resolved to AssetRef before reaching this layer, and all
// amounts are rounded to ledger precision before hitting the wire.
type Submitter struct {
	*Client
}

// NewSubmitter creates a Submitter on top of the shared ledger gateway.
func NewSubmitter(c *Client) *Submitter {
	return &Submitter{Client: c}
}

// CreatePayment submits a single payment from payor to payee. When refID is
// non-empty the transaction carries the sha256(refID) correlation memo.
// The payor must already trust the asset (or it must be the native unit);
// otherwise the ledger rejects the transaction and the error surfaces as a
// communications failure. Returns the ledger transaction hash.
func (s *Submitter) CreatePayment(ctx context.Context, payor, payee *db.Wallet, amount decimal.Decimal, asset AssetRef, refID string) (string, error) {
	unlock := s.lockAddresses(payor.Address)
	defer unlock()

	source, err := loadSourceAccount(ctx, s.Client, payor.Address)
	if err != nil {
		return "", err
	}

	params := txnbuild.TransactionParams{
		SourceAccount:        source,
		IncrementSequenceNum: true,
		Operations: []txnbuild.Operation{
			&txnbuild.Payment{
				Destination: payee.Address,
				Amount:      FormatAmount(amount),
				Asset:       asset.ToTxnBuild(),
			},
		},
		BaseFee:       txnbuild.MinBaseFee,
		Preconditions: txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(defaultTxTimeout)},
	}
	if refID != "" {
		params.Memo = txnbuild.MemoHash(MemoHash(refID))
	}

	tx, err := txnbuild.NewTransaction(params)
	if err != nil {
		return "", fmt.Errorf("failed to build payment: %w", err)
	}
	resp, err := s.submitTx(ctx, tx, walletSigner(payor))
	if err != nil {
		s.recordSubmit("payment", false)
		return "", err
	}

	s.recordSubmit("payment", true)
	s.logger.InfoContext(ctx, "payment submitted",
		"payor", payor.Address,
		"payee", payee.Address,
		"amount", FormatAmount(amount),
		"code", asset.Code,
		"hash", resp.Hash,
	)
	return resp.Hash, nil
}

// CreateSellOffer posts a manage-sell-offer from seller: amount units of
// selling offered at price (in units of buying per unit of selling).
// Returns the ledger-assigned offer identifier.
func (s *Submitter) CreateSellOffer(ctx context.Context, seller *db.Wallet, selling, buying AssetRef, amount, priceValue decimal.Decimal) (int64, error) {
	unlock := s.lockAddresses(seller.Address)
	defer unlock()

	source, err := loadSourceAccount(ctx, s.Client, seller.Address)
	if err != nil {
		return 0, err
	}

	p, err := PriceRatio(decimal.NewFromInt(1), Round(priceValue))
	if err != nil {
		return 0, err
	}

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        source,
		IncrementSequenceNum: true,
		Operations: []txnbuild.Operation{
			&txnbuild.ManageSellOffer{
				Selling: selling.ToTxnBuild(),
				Buying:  buying.ToTxnBuild(),
				Amount:  FormatAmount(amount),
				Price:   p,
			},
		},
		BaseFee:       txnbuild.MinBaseFee,
		Preconditions: txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(defaultTxTimeout)},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to build sell offer: %w", err)
	}
	resp, err := s.submitTx(ctx, tx, walletSigner(seller))
	if err != nil {
		s.recordSubmit("sell_offer", false)
		return 0, err
	}

	offerID, err := offerIDFromResult(resp.ResultXdr)
	if err != nil {
		return 0, fmt.Errorf("submitted offer but could not decode result: %w", err)
	}

	s.recordSubmit("sell_offer", true)
	s.logger.InfoContext(ctx, "sell offer posted",
		"seller", seller.Address,
		"selling", selling.Code,
		"buying", buying.Code,
		"offer_id", offerID,
	)
	return offerID, nil
}

// ExchangeAsset atomically swaps selling (from seller) for buying (from
// buyer) in a single ledger transaction carrying both parties' signatures.
// The ledger's per-transaction atomicity makes this all-or-nothing: a
// partial signature is a rejection, never a partial execution.
//
// When asTrade is true the swap is expressed as two crossing offers with tie
// prices buying/selling and its inverse; otherwise as two simultaneous
// payments. Either way the transaction is only valid within ±10 seconds of
// build time.
func (s *Submitter) ExchangeAsset(ctx context.Context, seller, buyer *db.Wallet, sellingAmount decimal.Decimal, selling AssetRef, buyingAmount decimal.Decimal, buying AssetRef, refID string, asTrade bool) (string, error) {
	unlock := s.lockAddresses(seller.Address, buyer.Address)
	defer unlock()

	source, err := loadSourceAccount(ctx, s.Client, seller.Address)
	if err != nil {
		return "", err
	}

	var ops []txnbuild.Operation
	if asTrade {
		sellPrice, err := PriceRatio(sellingAmount, buyingAmount)
		if err != nil {
			return "", err
		}
		buyPrice, err := PriceRatio(buyingAmount, sellingAmount)
		if err != nil {
			return "", err
		}
		ops = []txnbuild.Operation{
			&txnbuild.ManageSellOffer{
				SourceAccount: seller.Address,
				Selling:       selling.ToTxnBuild(),
				Buying:        buying.ToTxnBuild(),
				Amount:        FormatAmount(sellingAmount),
				Price:         sellPrice,
			},
			&txnbuild.ManageSellOffer{
				SourceAccount: buyer.Address,
				Selling:       buying.ToTxnBuild(),
				Buying:        selling.ToTxnBuild(),
				Amount:        FormatAmount(buyingAmount),
				Price:         buyPrice,
			},
		}
	} else {
		ops = []txnbuild.Operation{
			&txnbuild.Payment{
				SourceAccount: seller.Address,
				Destination:   buyer.Address,
				Amount:        FormatAmount(sellingAmount),
				Asset:         selling.ToTxnBuild(),
			},
			&txnbuild.Payment{
				SourceAccount: buyer.Address,
				Destination:   seller.Address,
				Amount:        FormatAmount(buyingAmount),
				Asset:         buying.ToTxnBuild(),
			},
		}
	}

	now := time.Now()
	params := txnbuild.TransactionParams{
		SourceAccount:        source,
		IncrementSequenceNum: true,
		Operations:           ops,
		BaseFee:              txnbuild.MinBaseFee,
		Preconditions: txnbuild.Preconditions{
			TimeBounds: txnbuild.NewTimebounds(
				now.Add(-exchangeWindow).Unix(),
				now.Add(exchangeWindow).Unix(),
			),
		},
	}
	if refID != "" {
		params.Memo = txnbuild.MemoHash(MemoHash(refID))
	}

	tx, err := txnbuild.NewTransaction(params)
	if err != nil {
		return "", fmt.Errorf("failed to build exchange: %w", err)
	}

	resp, err := s.submitTx(ctx, tx, walletSigner(seller), walletSigner(buyer))
	if err != nil {
		s.recordSubmit("exchange", false)
		return "", err
	}

	s.recordSubmit("exchange", true)
	s.logger.InfoContext(ctx, "exchange submitted",
		"seller", seller.Address,
		"buyer", buyer.Address,
		"selling", selling.Code,
		"buying", buying.Code,
		"as_trade", asTrade,
		"hash", resp.Hash,
	)
	return resp.Hash, nil
}

func (s *Submitter) recordSubmit(kind string, ok bool) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if !ok {
		status = "error"
	}
	s.metrics.RecordSubmit(kind, status)
}

// offerIDFromResult extracts the ledger-assigned offer id from a submitted
// transaction's result XDR.
func offerIDFromResult(resultXDR string) (int64, error) {
	var result xdr.TransactionResult
	if err := xdr.SafeUnmarshalBase64(resultXDR, &result); err != nil {
		return 0, fmt.Errorf("failed to unmarshal result xdr: %w", err)
	}
	opResults, ok := result.OperationResults()
	if !ok {
		return 0, fmt.Errorf("transaction result carries no operation results")
	}
	for _, opr := range opResults {
		tr, ok := opr.GetTr()
		if !ok {
			continue
		}
		mso, ok := tr.GetManageSellOfferResult()
		if !ok || mso.Success == nil {
			continue
		}
		if offer, ok := mso.Success.Offer.GetOffer(); ok {
			return int64(offer.OfferId), nil
		}
	}
	return 0, fmt.Errorf("no offer entry in transaction result")
}
