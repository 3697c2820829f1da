package stellar

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhx/settle/service/metrics"
)

func TestCreatePayment(t *testing.T) {
	h := &mockHorizon{}
	h.activeAccount()
	h.acceptSubmissions("paymenthash")
	s := NewSubmitter(testClient(t, h))

	payor := testWallet(t)
	payee := testWallet(t)

	hash, err := s.CreatePayment(context.Background(), payor, payee,
		decimal.RequireFromString("10.123456789"), NativeAssetRef(), "txn-id-1")
	require.NoError(t, err)
	assert.Equal(t, "paymenthash", hash)
	require.Len(t, h.submitted, 1)

	tx := h.submitted[0]
	ops := tx.Operations()
	require.Len(t, ops, 1)
	payment, ok := ops[0].(*txnbuild.Payment)
	require.True(t, ok)
	assert.Equal(t, payee.Address, payment.Destination)
	// Amounts are rounded to ledger precision before hitting the wire.
	assert.Equal(t, "10.1234568", payment.Amount)

	memo, ok := tx.Memo().(txnbuild.MemoHash)
	require.True(t, ok)
	assert.Equal(t, txnbuild.MemoHash(MemoHash("txn-id-1")), memo)
}

func TestCreatePayment_SubmitFailure(t *testing.T) {
	h := &mockHorizon{}
	h.activeAccount()
	h.submitFn = func(_ context.Context, _ *txnbuild.Transaction) (horizon.Transaction, error) {
		return horizon.Transaction{}, fmt.Errorf("tx_bad_seq")
	}
	s := NewSubmitter(testClient(t, h))

	_, err := s.CreatePayment(context.Background(), testWallet(t), testWallet(t),
		decimal.NewFromInt(1), NativeAssetRef(), "")
	require.Error(t, err)
	assert.True(t, IsCommsError(err))
}

func TestCreatePayment_BadSeed(t *testing.T) {
	h := &mockHorizon{}
	h.activeAccount()
	s := NewSubmitter(testClient(t, h))

	payor := testWallet(t)
	payor.Seed = "not a seed"

	_, err := s.CreatePayment(context.Background(), payor, testWallet(t),
		decimal.NewFromInt(1), NativeAssetRef(), "")
	require.Error(t, err)
	var secErr *SecurityError
	assert.ErrorAs(t, err, &secErr)
	assert.Zero(t, h.submitCalls)
}

// sellOfferResultXDR builds the result envelope Horizon returns after a
// manage-sell-offer creates a resting offer.
func sellOfferResultXDR(t *testing.T, seller string, offerID int64) string {
	t.Helper()
	entry := xdr.OfferEntry{
		SellerId: xdr.MustAddress(seller),
		OfferId:  xdr.Int64(offerID),
		Selling:  xdr.MustNewCreditAsset("HLTH", seller),
		Buying:   xdr.MustNewNativeAsset(),
		Amount:   xdr.Int64(1000000000),
		Price:    xdr.Price{N: 1, D: 1},
	}
	result := xdr.TransactionResult{
		Result: xdr.TransactionResultResult{
			Code: xdr.TransactionResultCodeTxSuccess,
			Results: &[]xdr.OperationResult{
				{
					Code: xdr.OperationResultCodeOpInner,
					Tr: &xdr.OperationResultTr{
						Type: xdr.OperationTypeManageSellOffer,
						ManageSellOfferResult: &xdr.ManageSellOfferResult{
							Code: xdr.ManageSellOfferResultCodeManageSellOfferSuccess,
							Success: &xdr.ManageOfferSuccessResult{
								Offer: xdr.ManageOfferSuccessResultOffer{
									Effect: xdr.ManageOfferEffectManageOfferCreated,
									Offer:  &entry,
								},
							},
						},
					},
				},
			},
		},
	}
	b64, err := xdr.MarshalBase64(result)
	require.NoError(t, err)
	return b64
}

func TestCreateSellOffer(t *testing.T) {
	seller := testWallet(t)

	h := &mockHorizon{}
	h.activeAccount()
	h.submitFn = func(_ context.Context, _ *txnbuild.Transaction) (horizon.Transaction, error) {
		return horizon.Transaction{
			Hash:       "offerhash",
			Successful: true,
			ResultXdr:  sellOfferResultXDR(t, seller.Address, 987654),
		}, nil
	}
	s := NewSubmitter(testClient(t, h))

	offerID, err := s.CreateSellOffer(context.Background(), seller,
		AssetRef{Code: "HLTH", Issuer: seller.Address}, NativeAssetRef(),
		decimal.NewFromInt(100), decimal.RequireFromString("2.5"))
	require.NoError(t, err)
	assert.Equal(t, int64(987654), offerID)

	require.Len(t, h.submitted, 1)
	ops := h.submitted[0].Operations()
	require.Len(t, ops, 1)
	mso, ok := ops[0].(*txnbuild.ManageSellOffer)
	require.True(t, ok)
	assert.Equal(t, "100.0000000", mso.Amount)
	assert.Equal(t, int32(5), int32(mso.Price.N))
	assert.Equal(t, int32(2), int32(mso.Price.D))
}

func TestSubmitFailuresRecorded(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	h := &mockHorizon{}
	h.activeAccount()
	h.submitFn = func(_ context.Context, _ *txnbuild.Transaction) (horizon.Transaction, error) {
		return horizon.Transaction{}, fmt.Errorf("tx_insufficient_fee")
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewSubmitter(NewClient(h, "Test SDF Network ; September 2015", "testnet", m, logger))

	seller := testWallet(t)

	_, err := s.CreatePayment(context.Background(), seller, testWallet(t),
		decimal.NewFromInt(1), NativeAssetRef(), "")
	require.Error(t, err)

	_, err = s.CreateSellOffer(context.Background(), seller,
		AssetRef{Code: "HLTH", Issuer: seller.Address}, NativeAssetRef(),
		decimal.NewFromInt(1), decimal.NewFromInt(1))
	require.Error(t, err)

	// Rejected submissions count under the error status, same as the
	// exchange path.
	expected := `
# HELP ledger_submits_total Total number of submitted ledger transactions by kind and status
# TYPE ledger_submits_total counter
ledger_submits_total{kind="payment",status="error"} 1
ledger_submits_total{kind="sell_offer",status="error"} 1
`
	require.NoError(t, promtestutil.GatherAndCompare(registry,
		strings.NewReader(expected), "ledger_submits_total"))
}

func TestExchangeAsset_AsPayments(t *testing.T) {
	h := &mockHorizon{}
	h.activeAccount()
	h.acceptSubmissions("exchangehash")
	s := NewSubmitter(testClient(t, h))

	seller := testWallet(t)
	buyer := testWallet(t)

	hash, err := s.ExchangeAsset(context.Background(), seller, buyer,
		decimal.NewFromInt(4), AssetRef{Code: "HLTH", Issuer: "GISSUER"},
		decimal.NewFromInt(10), NativeAssetRef(),
		"purchase-id", false)
	require.NoError(t, err)
	assert.Equal(t, "exchangehash", hash)

	require.Len(t, h.submitted, 1)
	tx := h.submitted[0]

	ops := tx.Operations()
	require.Len(t, ops, 2)
	first, ok := ops[0].(*txnbuild.Payment)
	require.True(t, ok)
	assert.Equal(t, seller.Address, first.SourceAccount)
	assert.Equal(t, buyer.Address, first.Destination)
	second, ok := ops[1].(*txnbuild.Payment)
	require.True(t, ok)
	assert.Equal(t, buyer.Address, second.SourceAccount)
	assert.Equal(t, seller.Address, second.Destination)

	// Both parties sign the single atomic transaction.
	assert.Len(t, tx.Signatures(), 2)

	// The exchange carries the purchase correlation memo so reconciliation
	// can merge it against the local row.
	memo, ok := tx.Memo().(txnbuild.MemoHash)
	require.True(t, ok)
	assert.Equal(t, txnbuild.MemoHash(MemoHash("purchase-id")), memo)

	// The transaction is only valid within the exchange window.
	bounds := tx.Timebounds()
	window := bounds.MaxTime - bounds.MinTime
	assert.Equal(t, int64(2*exchangeWindow/time.Second), window)
}

func TestExchangeAsset_AsTrade(t *testing.T) {
	h := &mockHorizon{}
	h.activeAccount()
	h.acceptSubmissions("tradehash")
	s := NewSubmitter(testClient(t, h))

	seller := testWallet(t)
	buyer := testWallet(t)

	_, err := s.ExchangeAsset(context.Background(), seller, buyer,
		decimal.NewFromInt(4), AssetRef{Code: "HLTH", Issuer: "GISSUER"},
		decimal.NewFromInt(10), NativeAssetRef(),
		"purchase-id", true)
	require.NoError(t, err)

	require.Len(t, h.submitted, 1)
	memo, ok := h.submitted[0].Memo().(txnbuild.MemoHash)
	require.True(t, ok)
	assert.Equal(t, txnbuild.MemoHash(MemoHash("purchase-id")), memo)

	ops := h.submitted[0].Operations()
	require.Len(t, ops, 2)

	sell, ok := ops[0].(*txnbuild.ManageSellOffer)
	require.True(t, ok)
	buy, ok := ops[1].(*txnbuild.ManageSellOffer)
	require.True(t, ok)

	// Tie prices: buying/selling on one side and its inverse on the other.
	assert.Equal(t, int32(5), int32(sell.Price.N))
	assert.Equal(t, int32(2), int32(sell.Price.D))
	assert.Equal(t, int32(2), int32(buy.Price.N))
	assert.Equal(t, int32(5), int32(buy.Price.D))
}

func TestOfferIDFromResult_BadXDR(t *testing.T) {
	_, err := offerIDFromResult("not-xdr")
	require.Error(t, err)
}
