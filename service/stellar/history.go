package stellar

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/protocols/horizon/operations"

	"github.com/uhx/settle/service/db"
)

// historyPageSize is how many ledger transactions are requested per page
// while walking a wallet's history.
const historyPageSize = 50

// ReconcilerStore is the slice of the persistence boundary the reconciler
// needs: the wallet directory for address resolution and the transaction
// table for memo-hash correlation.
type ReconcilerStore interface {
	ListWallets(ctx context.Context) ([]*db.Wallet, error)
	GetTransactionByMemoHash(ctx context.Context, memoHash []byte) (*db.Transaction, error)
	SettleTransaction(ctx context.Context, params db.SettleTransactionParams) (*db.Transaction, error)
}

// HistoryFilter bounds a history query.
type HistoryFilter struct {
	Count     int    // maximum records to produce; 0 means a single page
	Offset    int    // matching records to skip before producing output
	AssetCode string // when set, only operations moving this asset
}

// Reconciler paginates a wallet's ledger history, classifies each remote
// operation, and joins it against locally persisted records by memo hash.
// A memo match merges ledger truth (posting date, final amount, terminal
// status) into the existing local row instead of fabricating a new one.
type Reconciler struct {
	*Client
	store ReconcilerStore
}

// NewReconciler creates a Reconciler on top of the shared ledger gateway.
func NewReconciler(c *Client, store ReconcilerStore) *Reconciler {
	return &Reconciler{Client: c, store: store}
}

// GetTransactionHistory walks the wallet's ledger history newest-first and
// returns up to filter.Count classified records. Unrecognized operation
// kinds are dropped. The walk stops once the count target is met or the
// ledger returns an empty page.
func (r *Reconciler) GetTransactionHistory(ctx context.Context, wallet *db.Wallet, filter HistoryFilter) ([]*db.Transaction, error) {
	count := filter.Count
	if count <= 0 {
		count = historyPageSize
	}

	// Address resolution is cached for the duration of one call.
	addressIndex, err := r.buildAddressIndex(ctx)
	if err != nil {
		return nil, err
	}

	var (
		out     []*db.Transaction
		cursor  string
		skipped int
	)

	for len(out) < count {
		req := horizonclient.TransactionRequest{
			ForAccount: wallet.Address,
			Order:      horizonclient.OrderDesc,
			Limit:      historyPageSize,
			Cursor:     cursor,
		}
		page, err := r.horizon.Transactions(ctx, req)
		if err != nil {
			return nil, NewCommsError("transactions", err)
		}
		if len(page.Embedded.Records) == 0 {
			break
		}

		for i := range page.Embedded.Records {
			ledgerTx := page.Embedded.Records[i]
			cursor = ledgerTx.PagingToken()

			records, err := r.classifyTransaction(ctx, &ledgerTx, filter.AssetCode, addressIndex)
			if err != nil {
				r.logger.WarnContext(ctx, "skipping unclassifiable ledger transaction",
					"hash", ledgerTx.Hash,
					"error", err,
				)
				continue
			}
			for _, rec := range records {
				if skipped < filter.Offset {
					skipped++
					continue
				}
				out = append(out, rec)
				if len(out) >= count {
					break
				}
			}
			if len(out) >= count {
				break
			}
		}
	}

	r.logger.InfoContext(ctx, "reconciled wallet history",
		"address", wallet.Address,
		"records", len(out),
	)
	return out, nil
}

// classifyTransaction expands one ledger transaction into local records,
// merging against stored rows when its memo hash matches one.
func (r *Reconciler) classifyTransaction(ctx context.Context, ledgerTx *horizon.Transaction, assetCode string, addressIndex map[string]*db.Wallet) ([]*db.Transaction, error) {
	local := r.lookupByMemo(ctx, ledgerTx)

	opsPage, err := r.horizon.Operations(ctx, horizonclient.OperationRequest{
		ForTransaction: ledgerTx.Hash,
		Limit:          historyPageSize,
	})
	if err != nil {
		return nil, NewCommsError("operations", err)
	}

	var out []*db.Transaction
	for _, op := range opsPage.Embedded.Records {
		rec, ok, err := r.classifyOperation(op, assetCode, addressIndex)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue // unrecognized kinds are dropped
		}

		if local != nil {
			// Ledger truth wins: merge observed fields into the stored row.
			merged, err := r.store.SettleTransaction(ctx, db.SettleTransactionParams{
				ID:          local.ID,
				Status:      db.TransactionStatusComplete,
				Ref:         ledgerTx.Hash,
				Amount:      &rec.Amount,
				PostingDate: ledgerTx.LedgerCloseTime,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to merge ledger record: %w", err)
			}
			out = append(out, merged)
			continue
		}

		ref := ledgerTx.Hash
		rec.Ref = &ref
		posting := ledgerTx.LedgerCloseTime
		rec.PostingDate = &posting
		rec.Status = db.TransactionStatusComplete
		if !ledgerTx.Successful {
			rec.Status = db.TransactionStatusFailed
		}
		out = append(out, rec)
	}
	return out, nil
}

// classifyOperation maps a remote operation kind onto a local transaction
// record. Returns ok=false for kinds this system does not track.
func (r *Reconciler) classifyOperation(op operations.Operation, assetCode string, addressIndex map[string]*db.Wallet) (*db.Transaction, bool, error) {
	switch v := op.(type) {
	case operations.Payment:
		code := v.Asset.Code
		if v.Asset.Type == "native" {
			code = NativeAssetCode
		}
		if assetCode != "" && code != assetCode {
			return nil, false, nil
		}
		value, err := decimal.NewFromString(v.Amount)
		if err != nil {
			return nil, false, fmt.Errorf("invalid ledger amount %q: %w", v.Amount, err)
		}
		rec := &db.Transaction{
			Type:   db.TransactionTypePayment,
			Amount: db.MonetaryAmount{Value: value, Code: code},
		}
		if w := addressIndex[v.From]; w != nil {
			rec.PayorWalletID = &w.ID
		}
		if w := addressIndex[v.To]; w != nil {
			rec.PayeeWalletID = &w.ID
		}
		return rec, true, nil

	case operations.CreateAccount:
		if assetCode != "" && assetCode != NativeAssetCode {
			return nil, false, nil
		}
		value, err := decimal.NewFromString(v.StartingBalance)
		if err != nil {
			return nil, false, fmt.Errorf("invalid starting balance %q: %w", v.StartingBalance, err)
		}
		rec := &db.Transaction{
			Type:   db.TransactionTypeAccountManagement,
			Amount: db.MonetaryAmount{Value: value, Code: NativeAssetCode},
		}
		if w := addressIndex[v.Funder]; w != nil {
			rec.PayorWalletID = &w.ID
		}
		if w := addressIndex[v.Account]; w != nil {
			rec.PayeeWalletID = &w.ID
		}
		return rec, true, nil

	case operations.ChangeTrust:
		if assetCode != "" && v.Asset.Code != assetCode {
			return nil, false, nil
		}
		rec := &db.Transaction{
			Type:   db.TransactionTypeTrust,
			Amount: db.MonetaryAmount{Value: decimal.Zero, Code: v.Asset.Code},
		}
		if w := addressIndex[v.Trustor]; w != nil {
			rec.PayorWalletID = &w.ID
		}
		return rec, true, nil

	default:
		return nil, false, nil
	}
}

// lookupByMemo resolves the transaction's hash memo (if any) to a local row.
func (r *Reconciler) lookupByMemo(ctx context.Context, ledgerTx *horizon.Transaction) *db.Transaction {
	if ledgerTx.MemoType != "hash" || ledgerTx.Memo == "" {
		return nil
	}
	digest, err := base64.StdEncoding.DecodeString(ledgerTx.Memo)
	if err != nil {
		r.logger.WarnContext(ctx, "undecodable hash memo", "hash", ledgerTx.Hash, "error", err)
		return nil
	}
	local, err := r.store.GetTransactionByMemoHash(ctx, digest)
	if err != nil {
		return nil
	}
	return local
}

func (r *Reconciler) buildAddressIndex(ctx context.Context) (map[string]*db.Wallet, error) {
	wallets, err := r.store.ListWallets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	index := make(map[string]*db.Wallet, len(wallets))
	for _, w := range wallets {
		index[w.Address] = w
	}
	return index, nil
}
