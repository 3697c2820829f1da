package exchange

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/protocols/horizon/base"
	"github.com/stellar/go/protocols/horizon/operations"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/require"

	"github.com/uhx/settle/service/db"
	"github.com/uhx/settle/service/stellar"
)

// memStore is an in-memory Store so saga and settlement flows can run
// without a database.
type memStore struct {
	wallets   map[uuid.UUID]*db.Wallet
	assets    map[uuid.UUID]*db.Asset
	offers    map[uuid.UUID]*db.Offer
	purchases map[uuid.UUID]*db.Purchase
}

func newMemStore() *memStore {
	return &memStore{
		wallets:   make(map[uuid.UUID]*db.Wallet),
		assets:    make(map[uuid.UUID]*db.Asset),
		offers:    make(map[uuid.UUID]*db.Offer),
		purchases: make(map[uuid.UUID]*db.Purchase),
	}
}

func (m *memStore) RunInTx(ctx context.Context, fn func(Store) error) error {
	return fn(m)
}

func (m *memStore) CreateWallet(_ context.Context, params db.CreateWalletParams) (*db.Wallet, error) {
	w := &db.Wallet{
		ID:       uuid.New(),
		Address:  params.Address,
		Seed:     params.Seed,
		Network:  params.Network,
		Balances: params.Balances,
	}
	m.wallets[w.ID] = w
	return w, nil
}

func (m *memStore) GetWallet(_ context.Context, id uuid.UUID) (*db.Wallet, error) {
	if w, ok := m.wallets[id]; ok {
		return w, nil
	}
	return nil, db.ErrNotFound
}

func (m *memStore) UpdateWalletBalances(_ context.Context, id uuid.UUID, balances []db.MonetaryAmount) (*db.Wallet, error) {
	w, ok := m.wallets[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	w.Balances = balances
	return w, nil
}

func (m *memStore) CreateAsset(_ context.Context, params db.CreateAssetParams) (*db.Asset, error) {
	a := &db.Asset{
		ID:                  uuid.New(),
		Code:                params.Code,
		Issuer:              params.Issuer,
		DistributorWalletID: params.DistributorWalletID,
		SupplyWalletID:      params.SupplyWalletID,
		KYCRequirement:      params.KYCRequirement,
	}
	m.assets[a.ID] = a
	return a, nil
}

func (m *memStore) GetAsset(_ context.Context, id uuid.UUID) (*db.Asset, error) {
	if a, ok := m.assets[id]; ok {
		return a, nil
	}
	return nil, db.ErrNotFound
}

func (m *memStore) GetAssetByCode(_ context.Context, code string) (*db.Asset, error) {
	for _, a := range m.assets {
		if a.Code == code {
			return a, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *memStore) CreateOffer(_ context.Context, params db.CreateOfferParams) (*db.Offer, error) {
	o := &db.Offer{
		ID:        uuid.New(),
		AssetID:   params.AssetID,
		WalletID:  params.WalletID,
		Price:     params.Price,
		Amount:    params.Amount,
		Public:    params.Public,
		StartDate: params.StartDate,
		StopDate:  params.StopDate,
	}
	m.offers[o.ID] = o
	return o, nil
}

func (m *memStore) UpdateOfferLedgerID(_ context.Context, id uuid.UUID, ledgerOfferID int64) (*db.Offer, error) {
	o, ok := m.offers[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	o.LedgerOfferID = &ledgerOfferID
	return o, nil
}

func (m *memStore) ListOffersByAsset(_ context.Context, assetID uuid.UUID) ([]*db.Offer, error) {
	var out []*db.Offer
	for _, o := range m.offers {
		if o.AssetID == assetID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memStore) GetPurchase(_ context.Context, id uuid.UUID) (*db.Purchase, error) {
	if p, ok := m.purchases[id]; ok {
		return p, nil
	}
	return nil, db.ErrNotFound
}

func (m *memStore) SettleTransaction(_ context.Context, params db.SettleTransactionParams) (*db.Transaction, error) {
	p, ok := m.purchases[params.ID]
	if !ok {
		return nil, db.ErrNotFound
	}
	if p.Status == db.TransactionStatusPending {
		p.Status = params.Status
		ref := params.Ref
		p.Ref = &ref
		posting := params.PostingDate
		p.PostingDate = &posting
		if params.Amount != nil {
			p.Amount = *params.Amount
		}
	}
	return &p.Transaction, nil
}

// addPurchase registers a pending purchase row.
func (m *memStore) addPurchase(buyer *db.Wallet, asset *db.Asset, distribution *db.Wallet, amount db.MonetaryAmount, quantity decimal.Decimal) *db.Purchase {
	p := &db.Purchase{
		Transaction: db.Transaction{
			ID:            uuid.New(),
			Type:          db.TransactionTypePurchase,
			PayorWalletID: &buyer.ID,
			Amount:        amount,
			Status:        db.TransactionStatusPending,
		},
		BuyerID:             buyer.ID,
		AssetID:             asset.ID,
		Quantity:            quantity,
		DistributorWalletID: distribution.ID,
	}
	m.purchases[p.ID] = p
	return p
}

// fakeHorizon implements stellar.HorizonClient for saga tests: every
// account is active and submissions go through submitFn.
type fakeHorizon struct {
	submitFn func(tx *txnbuild.Transaction) (horizon.Transaction, error)

	accountDetailCalls int
	submitted          []*txnbuild.Transaction
}

func (f *fakeHorizon) AccountDetail(_ context.Context, accountID string) (horizon.Account, error) {
	f.accountDetailCalls++
	return horizon.Account{
		AccountID: accountID,
		Sequence:  1,
		Balances: []horizon.Balance{
			{Balance: "100.0000000", Asset: base.Asset{Type: "native"}},
		},
	}, nil
}

func (f *fakeHorizon) SubmitTransaction(_ context.Context, tx *txnbuild.Transaction) (horizon.Transaction, error) {
	f.submitted = append(f.submitted, tx)
	if f.submitFn == nil {
		return horizon.Transaction{Hash: "txhash", Ledger: 1, Successful: true}, nil
	}
	return f.submitFn(tx)
}

func (f *fakeHorizon) Transactions(_ context.Context, _ horizonclient.TransactionRequest) (horizon.TransactionsPage, error) {
	return horizon.TransactionsPage{}, fmt.Errorf("unexpected Transactions")
}

func (f *fakeHorizon) Operations(_ context.Context, _ horizonclient.OperationRequest) (operations.OperationsPage, error) {
	return operations.OperationsPage{}, fmt.Errorf("unexpected Operations")
}

// submittedOps flattens every operation across all submitted transactions.
func (f *fakeHorizon) submittedOps() []txnbuild.Operation {
	var out []txnbuild.Operation
	for _, tx := range f.submitted {
		out = append(out, tx.Operations()...)
	}
	return out
}

func testLedger(t *testing.T, f *fakeHorizon) (*stellar.AccountManager, *stellar.Submitter) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := stellar.NewClient(f, "Test SDF Network ; September 2015", "testnet", nil, logger)
	return stellar.NewAccountManager(client, "testnet"), stellar.NewSubmitter(client)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fundedWallet builds a keypair-backed wallet holding the given balances.
func fundedWallet(t *testing.T, store *memStore, balances ...db.MonetaryAmount) *db.Wallet {
	t.Helper()
	kp, err := keypair.Random()
	require.NoError(t, err)
	w, err := store.CreateWallet(context.Background(), db.CreateWalletParams{
		Address:  kp.Address(),
		Seed:     kp.Seed(),
		Network:  "testnet",
		Balances: balances,
	})
	require.NoError(t, err)
	return w
}

func xlm(value string) db.MonetaryAmount {
	return db.MonetaryAmount{Value: decimal.RequireFromString(value), Code: "XLM"}
}

// sellOfferResult builds the result XDR Horizon answers a resting
// manage-sell-offer with.
func sellOfferResult(t *testing.T, seller string, offerID int64) string {
	t.Helper()
	entry := xdr.OfferEntry{
		SellerId: xdr.MustAddress(seller),
		OfferId:  xdr.Int64(offerID),
		Selling:  xdr.MustNewCreditAsset("HLTH", seller),
		Buying:   xdr.MustNewNativeAsset(),
		Amount:   xdr.Int64(1),
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

// offerAwareSubmit answers manage-sell-offer submissions with a decodable
// offer result and everything else with a plain hash.
func offerAwareSubmit(t *testing.T, offerID int64) func(tx *txnbuild.Transaction) (horizon.Transaction, error) {
	return func(tx *txnbuild.Transaction) (horizon.Transaction, error) {
		ops := tx.Operations()
		if len(ops) == 1 {
			if _, ok := ops[0].(*txnbuild.ManageSellOffer); ok {
				seller := tx.SourceAccount().AccountID
				return horizon.Transaction{
					Hash:       "offerhash",
					Successful: true,
					ResultXdr:  sellOfferResult(t, seller, offerID),
				}, nil
			}
		}
		return horizon.Transaction{Hash: "txhash", Ledger: 1, Successful: true}, nil
	}
}
