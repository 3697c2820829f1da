package stellar

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/txnbuild"

	"github.com/uhx/settle/service/db"
)

// signer wraps a secret seed for transaction signing.
type signer struct {
	seed string
}

func (s signer) keypair() (*keypair.Full, error) {
	kp, err := keypair.ParseFull(s.seed)
	if err != nil {
		return nil, &SecurityError{Reason: "parsing wallet seed", Err: err}
	}
	return kp, nil
}

func walletSigner(w *db.Wallet) signer {
	return signer{seed: w.Seed}
}

// AccountManager handles the ledger-account lifecycle: keypair generation,
// activation (funding the minimum reserve), trust lines, and issuer locking.
type AccountManager struct {
	*Client
	networkTag string // ledger kind tag stored on generated wallets
}

// NewAccountManager creates an AccountManager on top of the shared ledger
// gateway. networkTag is the tag stored on wallets it generates.
func NewAccountManager(c *Client, networkTag string) *AccountManager {
	return &AccountManager{Client: c, networkTag: networkTag}
}

// GenerateAccount produces a fresh keypair entirely offline. The returned
// wallet is not yet active on the ledger and carries no balances.
func (m *AccountManager) GenerateAccount() (*db.Wallet, error) {
	kp, err := keypair.Random()
	if err != nil {
		return nil, &SecurityError{Reason: "generating keypair", Err: err}
	}
	return &db.Wallet{
		Address:  kp.Address(),
		Seed:     kp.Seed(),
		Network:  m.networkTag,
		Balances: []db.MonetaryAmount{},
	}, nil
}

// ActivateAccount creates the wallet's ledger account, funding the starting
// reserve from funder. When refID is non-empty the transaction carries the
// sha256(refID) correlation memo. On success the wallet's cached balances
// are refreshed from the ledger.
func (m *AccountManager) ActivateAccount(ctx context.Context, wallet *db.Wallet, startingReserve decimal.Decimal, funder *db.Wallet, refID string) (*db.Wallet, error) {
	unlock := m.lockAddresses(funder.Address)
	defer unlock()

	source, err := m.sourceAccount(ctx, funder.Address)
	if err != nil {
		return nil, err
	}

	params := txnbuild.TransactionParams{
		SourceAccount:        source,
		IncrementSequenceNum: true,
		Operations: []txnbuild.Operation{
			&txnbuild.CreateAccount{
				Destination: wallet.Address,
				Amount:      FormatAmount(startingReserve),
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
		return nil, fmt.Errorf("failed to build account creation: %w", err)
	}
	if _, err := m.submitTx(ctx, tx, walletSigner(funder)); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "account activated",
		"address", wallet.Address,
		"funder", funder.Address,
		"reserve", startingReserve.String(),
	)

	return m.RefreshBalances(ctx, wallet)
}

// CreateTrust adds one change-trust operation per asset, signed by the
// wallet itself. A wallet without a trust line cannot receive that asset;
// payment attempts must be preceded by this call.
func (m *AccountManager) CreateTrust(ctx context.Context, wallet *db.Wallet, assets []AssetRef, limit decimal.Decimal, refID string) (*db.Wallet, error) {
	if len(assets) == 0 {
		return wallet, nil
	}

	unlock := m.lockAddresses(wallet.Address)
	defer unlock()

	source, err := m.sourceAccount(ctx, wallet.Address)
	if err != nil {
		return nil, err
	}

	ops := make([]txnbuild.Operation, 0, len(assets))
	for _, a := range assets {
		if a.IsNative() {
			return nil, fmt.Errorf("cannot create a trust line for the native asset")
		}
		op := &txnbuild.ChangeTrust{Line: a.ToChangeTrust()}
		if !limit.IsZero() {
			op.Limit = FormatAmount(limit)
		}
		ops = append(ops, op)
	}

	params := txnbuild.TransactionParams{
		SourceAccount:        source,
		IncrementSequenceNum: true,
		Operations:           ops,
		BaseFee:              txnbuild.MinBaseFee,
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(defaultTxTimeout)},
	}
	if refID != "" {
		params.Memo = txnbuild.MemoHash(MemoHash(refID))
	}

	tx, err := txnbuild.NewTransaction(params)
	if err != nil {
		return nil, fmt.Errorf("failed to build change trust: %w", err)
	}
	if _, err := m.submitTx(ctx, tx, walletSigner(wallet)); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "trust lines established",
		"address", wallet.Address,
		"assets", len(assets),
	)
	return wallet, nil
}

// LockIssuer zeroes the issuer's master signing weight and all thresholds.
// Irreversible: once applied the account can sign nothing, so no further
// supply can ever be minted.
func (m *AccountManager) LockIssuer(ctx context.Context, wallet *db.Wallet) error {
	unlock := m.lockAddresses(wallet.Address)
	defer unlock()

	source, err := m.sourceAccount(ctx, wallet.Address)
	if err != nil {
		return err
	}

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        source,
		IncrementSequenceNum: true,
		Operations: []txnbuild.Operation{
			&txnbuild.SetOptions{
				MasterWeight:    txnbuild.NewThreshold(0),
				LowThreshold:    txnbuild.NewThreshold(0),
				MediumThreshold: txnbuild.NewThreshold(0),
				HighThreshold:   txnbuild.NewThreshold(0),
			},
		},
		BaseFee:       txnbuild.MinBaseFee,
		Preconditions: txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(defaultTxTimeout)},
	})
	if err != nil {
		return fmt.Errorf("failed to build set options: %w", err)
	}
	if _, err := m.submitTx(ctx, tx, walletSigner(wallet)); err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "issuer locked", "address", wallet.Address)
	return nil
}

// IsActive probes the ledger for the wallet's account. A not-found response
// means "not active" and is not an error; any other fault propagates as a
// communications failure.
func (m *AccountManager) IsActive(ctx context.Context, wallet *db.Wallet) (bool, error) {
	_, err := m.loadAccount(ctx, wallet.Address)
	if err != nil {
		if horizonclient.IsNotFoundError(err) {
			return false, nil
		}
		return false, NewCommsError("account_detail", err)
	}
	return true, nil
}

// RefreshBalances reads the wallet's ledger account and replaces the cached
// balance list with what the ledger reports.
func (m *AccountManager) RefreshBalances(ctx context.Context, wallet *db.Wallet) (*db.Wallet, error) {
	account, err := m.loadAccount(ctx, wallet.Address)
	if err != nil {
		return nil, NewCommsError("account_detail", err)
	}
	balances, err := balancesFromAccount(account)
	if err != nil {
		return nil, err
	}
	wallet.Balances = balances
	return wallet, nil
}

// sourceAccount loads the current sequence number for an address and wraps
// it for transaction building.
func (m *AccountManager) sourceAccount(ctx context.Context, address string) (*txnbuild.SimpleAccount, error) {
	return loadSourceAccount(ctx, m.Client, address)
}

func loadSourceAccount(ctx context.Context, c *Client, address string) (*txnbuild.SimpleAccount, error) {
	account, err := c.loadAccount(ctx, address)
	if err != nil {
		return nil, NewCommsError("account_detail", err)
	}
	seq, err := account.GetSequenceNumber()
	if err != nil {
		return nil, NewCommsError("account_detail", err)
	}
	sa := txnbuild.NewSimpleAccount(address, seq)
	return &sa, nil
}

func balancesFromAccount(account horizon.Account) ([]db.MonetaryAmount, error) {
	balances := make([]db.MonetaryAmount, 0, len(account.Balances))
	for _, b := range account.Balances {
		value, err := decimal.NewFromString(b.Balance)
		if err != nil {
			return nil, fmt.Errorf("invalid ledger balance %q: %w", b.Balance, err)
		}
		code := b.Code
		if b.Type == "native" {
			code = NativeAssetCode
		}
		balances = append(balances, db.MonetaryAmount{Value: value, Code: code})
	}
	return balances, nil
}
