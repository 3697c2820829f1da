package exchange

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/txnbuild"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhx/settle/service/db"
	"github.com/uhx/settle/service/stellar"
)

func newOrchestrator(t *testing.T, store Store, f *fakeHorizon) *Orchestrator {
	t.Helper()
	accounts, submitter := testLedger(t, f)
	return NewOrchestrator(store, accounts, submitter, nil, testLogger())
}

func TestCreateAsset_InvalidCode(t *testing.T) {
	store := newMemStore()
	f := &fakeHorizon{}
	o := newOrchestrator(t, store, f)

	creator := fundedWallet(t, store, xlm("100"))

	for _, code := range []string{"", "ab", "lowercase", "WAY-TOO!", "THIRTEENCHARS"} {
		_, err := o.CreateAsset(context.Background(), CreateAssetParams{
			Code:    code,
			Supply:  decimal.NewFromInt(1000),
			Creator: creator,
		})
		var invalid *stellar.InvalidNameError
		require.ErrorAs(t, err, &invalid, "code %q", code)
	}

	// Validation failures never touch the ledger.
	assert.Zero(t, f.accountDetailCalls)
	assert.Empty(t, f.submitted)
}

func TestCreateAsset_DuplicateCode(t *testing.T) {
	store := newMemStore()
	f := &fakeHorizon{}
	o := newOrchestrator(t, store, f)

	creator := fundedWallet(t, store, xlm("100"))
	_, err := store.CreateAsset(context.Background(), db.CreateAssetParams{Code: "HLTH", Issuer: "GISSUER"})
	require.NoError(t, err)

	_, err = o.CreateAsset(context.Background(), CreateAssetParams{
		Code:    "HLTH",
		Supply:  decimal.NewFromInt(1000),
		Creator: creator,
	})
	var dup *stellar.DuplicateNameError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "HLTH", dup.Code)
	assert.Empty(t, f.submitted)
}

func TestCreateAsset_InsolventCreator(t *testing.T) {
	store := newMemStore()
	f := &fakeHorizon{}
	o := newOrchestrator(t, store, f)

	creator := fundedWallet(t, store, xlm("5.9999999"))

	_, err := o.CreateAsset(context.Background(), CreateAssetParams{
		Code:    "HLTH",
		Supply:  decimal.NewFromInt(1000),
		Creator: creator,
	})
	var insufficient *stellar.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Zero(t, f.accountDetailCalls)
	assert.Empty(t, f.submitted)
}

func TestCreateAsset(t *testing.T) {
	store := newMemStore()
	f := &fakeHorizon{}
	o := newOrchestrator(t, store, f)

	creator := fundedWallet(t, store, xlm("100"))

	asset, err := o.CreateAsset(context.Background(), CreateAssetParams{
		Code:    "HLTH",
		Supply:  decimal.NewFromInt(1000),
		Creator: creator,
	})
	require.NoError(t, err)
	require.NotNil(t, asset)

	assert.Equal(t, "HLTH", asset.Code)
	assert.NotEmpty(t, asset.Issuer)
	assert.Nil(t, asset.SupplyWalletID)

	// Issuing and distribution wallets persisted alongside the creator.
	assert.Len(t, store.wallets, 3)

	// Two activations, one trust line, one mint.
	var creates, trusts, payments int
	for _, op := range f.submittedOps() {
		switch op.(type) {
		case *txnbuild.CreateAccount:
			creates++
		case *txnbuild.ChangeTrust:
			trusts++
		case *txnbuild.Payment:
			payments++
		}
	}
	assert.Equal(t, 2, creates)
	assert.Equal(t, 1, trusts)
	assert.Equal(t, 1, payments)

	assert.Contains(t, o.Catalogue(), "HLTH")
}

func TestCreateAsset_FixedSupplyLocksIssuer(t *testing.T) {
	store := newMemStore()
	f := &fakeHorizon{}
	o := newOrchestrator(t, store, f)

	creator := fundedWallet(t, store, xlm("100"))

	_, err := o.CreateAsset(context.Background(), CreateAssetParams{
		Code:        "HLTH",
		Supply:      decimal.NewFromInt(1000),
		FixedSupply: true,
		Creator:     creator,
	})
	require.NoError(t, err)

	var locked bool
	for _, op := range f.submittedOps() {
		if setOpts, ok := op.(*txnbuild.SetOptions); ok {
			require.NotNil(t, setOpts.MasterWeight)
			assert.Equal(t, txnbuild.Threshold(0), *setOpts.MasterWeight)
			locked = true
		}
	}
	assert.True(t, locked, "expected issuer lock submission")
}

func TestCreateAsset_KYCGetsSupplyWallet(t *testing.T) {
	store := newMemStore()
	f := &fakeHorizon{}
	o := newOrchestrator(t, store, f)

	creator := fundedWallet(t, store, xlm("100"))

	asset, err := o.CreateAsset(context.Background(), CreateAssetParams{
		Code:           "HLTH",
		Supply:         decimal.NewFromInt(1000),
		KYCRequirement: true,
		Creator:        creator,
	})
	require.NoError(t, err)
	require.NotNil(t, asset.SupplyWalletID)

	// Creator + issuing + distribution + supply.
	assert.Len(t, store.wallets, 4)

	// Distribution and supply both trust the asset.
	var trusts int
	for _, op := range f.submittedOps() {
		if _, ok := op.(*txnbuild.ChangeTrust); ok {
			trusts++
		}
	}
	assert.Equal(t, 2, trusts)
}

func TestCreateAsset_PublicOfferOnKYCAssetRejected(t *testing.T) {
	store := newMemStore()
	f := &fakeHorizon{}
	o := newOrchestrator(t, store, f)

	creator := fundedWallet(t, store, xlm("100"))

	_, err := o.CreateAsset(context.Background(), CreateAssetParams{
		Code:           "HLTH",
		Supply:         decimal.NewFromInt(1000),
		KYCRequirement: true,
		Creator:        creator,
		Offers: []OfferSpec{
			{Price: xlm("2.5"), Amount: decimal.NewFromInt(100), Public: true},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-KYC")
	// Rejected during persistence, before any ledger traffic.
	assert.Empty(t, f.submitted)
}

func TestCreateAsset_PublicOfferPosted(t *testing.T) {
	store := newMemStore()
	f := &fakeHorizon{}
	f.submitFn = offerAwareSubmit(t, 424242)
	o := newOrchestrator(t, store, f)

	creator := fundedWallet(t, store, xlm("100"))

	asset, err := o.CreateAsset(context.Background(), CreateAssetParams{
		Code:    "HLTH",
		Supply:  decimal.NewFromInt(1000),
		Creator: creator,
		Offers: []OfferSpec{
			{Price: xlm("2.5"), Amount: decimal.NewFromInt(100), Public: true},
		},
	})
	require.NoError(t, err)
	require.Len(t, asset.Offers, 1)

	// The ledger-assigned offer id is recorded on the stored row.
	require.NotNil(t, asset.Offers[0].LedgerOfferID)
	assert.Equal(t, int64(424242), *asset.Offers[0].LedgerOfferID)

	stored := store.offers[asset.Offers[0].ID]
	require.NotNil(t, stored)
	require.NotNil(t, stored.LedgerOfferID)
	assert.Equal(t, int64(424242), *stored.LedgerOfferID)
}

func TestCreateAsset_MintFailureRemovesFromCatalogue(t *testing.T) {
	store := newMemStore()
	f := &fakeHorizon{}
	f.submitFn = func(tx *txnbuild.Transaction) (horizon.Transaction, error) {
		ops := tx.Operations()
		if len(ops) > 0 {
			if _, ok := ops[0].(*txnbuild.Payment); ok {
				return horizon.Transaction{}, fmt.Errorf("op_no_trust")
			}
		}
		return horizon.Transaction{Hash: "txhash", Successful: true}, nil
	}
	o := newOrchestrator(t, store, f)

	creator := fundedWallet(t, store, xlm("100"))

	_, err := o.CreateAsset(context.Background(), CreateAssetParams{
		Code:    "HLTH",
		Supply:  decimal.NewFromInt(1000),
		Creator: creator,
	})
	require.Error(t, err)
	assert.NotContains(t, o.Catalogue(), "HLTH")
}

func TestCreateAsset_GatedOfferFundedFromSupply(t *testing.T) {
	store := newMemStore()
	f := &fakeHorizon{}
	o := newOrchestrator(t, store, f)

	creator := fundedWallet(t, store, xlm("100"))

	asset, err := o.CreateAsset(context.Background(), CreateAssetParams{
		Code:           "HLTH",
		Supply:         decimal.NewFromInt(1000),
		KYCRequirement: true,
		Creator:        creator,
		Offers: []OfferSpec{
			{Price: xlm("1"), Amount: decimal.NewFromInt(250)},
		},
	})
	require.NoError(t, err)
	require.Len(t, asset.Offers, 1)
	require.NotNil(t, asset.SupplyWalletID)
	assert.Equal(t, *asset.SupplyWalletID, asset.Offers[0].WalletID)

	// Mint to distribution, then the gated tranche moves on to supply.
	var payments int
	for _, op := range f.submittedOps() {
		if _, ok := op.(*txnbuild.Payment); ok {
			payments++
		}
	}
	assert.Equal(t, 2, payments)
}
