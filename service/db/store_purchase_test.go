package db

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTransaction(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	payor := mustWallet(t, store, "GPAYOR1")
	payee := mustWallet(t, store, "GPAYEE1")

	id := uuid.New()
	digest := sha256.Sum256([]byte(id.String()))

	txn, err := store.CreateTransaction(ctx, CreateTransactionParams{
		ID:            id,
		Type:          TransactionTypePayment,
		PayorWalletID: &payor.ID,
		PayeeWalletID: &payee.ID,
		Amount:        MonetaryAmount{Value: decimal.RequireFromString("10.5"), Code: "XLM"},
		Fee:           decimal.RequireFromString("0.00001"),
		MemoHash:      digest[:],
	})
	require.NoError(t, err)

	assert.Equal(t, id, txn.ID)
	assert.Equal(t, TransactionTypePayment, txn.Type)
	assert.Equal(t, TransactionStatusPending, txn.Status)
	assert.True(t, txn.Amount.Value.Equal(decimal.RequireFromString("10.5")))
	assert.Equal(t, "XLM", txn.Amount.Code)
	assert.Equal(t, digest[:], txn.MemoHash)
	assert.Nil(t, txn.Ref)
	assert.Nil(t, txn.PostingDate)
}

func TestCreateTransaction_GeneratesID(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	txn, err := store.CreateTransaction(ctx, CreateTransactionParams{
		Type:   TransactionTypeDeposit,
		Amount: MonetaryAmount{Value: decimal.NewFromInt(5), Code: "XLM"},
		Fee:    decimal.Zero,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, txn.ID)
}

func TestGetTransactionByMemoHash(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	id := uuid.New()
	digest := sha256.Sum256([]byte(id.String()))

	created, err := store.CreateTransaction(ctx, CreateTransactionParams{
		ID:       id,
		Type:     TransactionTypePayment,
		Amount:   MonetaryAmount{Value: decimal.NewFromInt(1), Code: "XLM"},
		Fee:      decimal.Zero,
		MemoHash: digest[:],
	})
	require.NoError(t, err)

	found, err := store.GetTransactionByMemoHash(ctx, digest[:])
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	other := sha256.Sum256([]byte("something else"))
	_, err = store.GetTransactionByMemoHash(ctx, other[:])
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSettleTransaction(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	txn, err := store.CreateTransaction(ctx, CreateTransactionParams{
		Type:   TransactionTypePayment,
		Amount: MonetaryAmount{Value: decimal.NewFromInt(25), Code: "XLM"},
		Fee:    decimal.Zero,
	})
	require.NoError(t, err)

	posting := time.Now().UTC().Truncate(time.Second)
	settled, err := store.SettleTransaction(ctx, SettleTransactionParams{
		ID:          txn.ID,
		Status:      TransactionStatusComplete,
		Ref:         "abcdef0123456789",
		PostingDate: posting,
	})
	require.NoError(t, err)

	assert.Equal(t, TransactionStatusComplete, settled.Status)
	require.NotNil(t, settled.Ref)
	assert.Equal(t, "abcdef0123456789", *settled.Ref)
	require.NotNil(t, settled.PostingDate)
}

func TestSettleTransaction_TerminalRowsImmutable(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	txn, err := store.CreateTransaction(ctx, CreateTransactionParams{
		Type:   TransactionTypePayment,
		Amount: MonetaryAmount{Value: decimal.NewFromInt(7), Code: "XLM"},
		Fee:    decimal.Zero,
	})
	require.NoError(t, err)

	_, err = store.SettleTransaction(ctx, SettleTransactionParams{
		ID:          txn.ID,
		Status:      TransactionStatusFailed,
		Ref:         "SETTLEMENT_FAILED",
		PostingDate: time.Now().UTC(),
	})
	require.NoError(t, err)

	// A second settlement attempt must not overwrite the terminal state.
	again, err := store.SettleTransaction(ctx, SettleTransactionParams{
		ID:          txn.ID,
		Status:      TransactionStatusComplete,
		Ref:         "abcdef",
		PostingDate: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, TransactionStatusFailed, again.Status)
	require.NotNil(t, again.Ref)
	assert.Equal(t, "SETTLEMENT_FAILED", *again.Ref)
}

func TestSettleTransaction_OverridesAmount(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	txn, err := store.CreateTransaction(ctx, CreateTransactionParams{
		Type:   TransactionTypePayment,
		Amount: MonetaryAmount{Value: decimal.NewFromInt(10), Code: "XLM"},
		Fee:    decimal.Zero,
	})
	require.NoError(t, err)

	observed := MonetaryAmount{Value: decimal.RequireFromString("9.9999999"), Code: "XLM"}
	settled, err := store.SettleTransaction(ctx, SettleTransactionParams{
		ID:          txn.ID,
		Status:      TransactionStatusComplete,
		Ref:         "deadbeef",
		Amount:      &observed,
		PostingDate: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.True(t, settled.Amount.Value.Equal(observed.Value))
}

func TestCreatePurchase(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	buyer := mustWallet(t, store, "GBUYER1")
	asset, distribution := mustAsset(t, store, "HLTH")

	id := uuid.New()
	digest := sha256.Sum256([]byte(id.String()))

	purchase, err := store.CreatePurchase(ctx, CreatePurchaseParams{
		Transaction: CreateTransactionParams{
			ID:            id,
			PayorWalletID: &buyer.ID,
			Amount:        MonetaryAmount{Value: decimal.NewFromInt(20), Code: "XLM"},
			Fee:           decimal.Zero,
			MemoHash:      digest[:],
		},
		BuyerID:             buyer.ID,
		AssetID:             asset.ID,
		Quantity:            decimal.NewFromInt(4),
		DistributorWalletID: distribution.ID,
	})
	require.NoError(t, err)

	// The transaction type is forced to purchase regardless of input.
	assert.Equal(t, TransactionTypePurchase, purchase.Type)
	assert.Equal(t, TransactionStatusPending, purchase.Status)
	assert.Equal(t, buyer.ID, purchase.BuyerID)
	assert.Equal(t, asset.ID, purchase.AssetID)
	assert.True(t, purchase.Quantity.Equal(decimal.NewFromInt(4)))
	assert.Equal(t, distribution.ID, purchase.DistributorWalletID)
}

func TestListPendingPurchases(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	buyer := mustWallet(t, store, "GBUYER2")
	asset, distribution := mustAsset(t, store, "HLTH")

	mkPurchase := func() *Purchase {
		p, err := store.CreatePurchase(ctx, CreatePurchaseParams{
			Transaction: CreateTransactionParams{
				PayorWalletID: &buyer.ID,
				Amount:        MonetaryAmount{Value: decimal.NewFromInt(5), Code: "XLM"},
				Fee:           decimal.Zero,
			},
			BuyerID:             buyer.ID,
			AssetID:             asset.ID,
			Quantity:            decimal.NewFromInt(1),
			DistributorWalletID: distribution.ID,
		})
		require.NoError(t, err)
		return p
	}

	first := mkPurchase()
	second := mkPurchase()

	// Settle the first; only the second should remain pending.
	_, err := store.SettleTransaction(ctx, SettleTransactionParams{
		ID:          first.ID,
		Status:      TransactionStatusComplete,
		Ref:         "cafebabe",
		PostingDate: time.Now().UTC(),
	})
	require.NoError(t, err)

	pending, err := store.ListPendingPurchases(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)
}
