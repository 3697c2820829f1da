// Package exchange holds the asset-issuance saga and the per-rail purchase
// settlement processors. It drives the ledger through the stellar package
// and the local ledger-of-record through the persistence boundary.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/uhx/settle/service/db"
	"github.com/uhx/settle/service/metrics"
	"github.com/uhx/settle/service/stellar"
)

// assetCodePattern is the only accepted shape for asset codes.
var assetCodePattern = regexp.MustCompile(`^[A-Z0-9]{3,12}$`)

// minIssuerReserve is the native-unit balance the creator must hold before
// an issuance saga touches the ledger or the store.
var minIssuerReserve = decimal.NewFromInt(6)

// Store is the slice of the persistence boundary the exchange layer needs.
// RunInTx runs fn with a Store bound to one relational transaction.
type Store interface {
	RunInTx(ctx context.Context, fn func(Store) error) error

	CreateWallet(ctx context.Context, params db.CreateWalletParams) (*db.Wallet, error)
	GetWallet(ctx context.Context, id uuid.UUID) (*db.Wallet, error)
	UpdateWalletBalances(ctx context.Context, id uuid.UUID, balances []db.MonetaryAmount) (*db.Wallet, error)

	CreateAsset(ctx context.Context, params db.CreateAssetParams) (*db.Asset, error)
	GetAsset(ctx context.Context, id uuid.UUID) (*db.Asset, error)
	GetAssetByCode(ctx context.Context, code string) (*db.Asset, error)

	CreateOffer(ctx context.Context, params db.CreateOfferParams) (*db.Offer, error)
	UpdateOfferLedgerID(ctx context.Context, id uuid.UUID, ledgerOfferID int64) (*db.Offer, error)
	ListOffersByAsset(ctx context.Context, assetID uuid.UUID) ([]*db.Offer, error)

	GetPurchase(ctx context.Context, id uuid.UUID) (*db.Purchase, error)
	SettleTransaction(ctx context.Context, params db.SettleTransactionParams) (*db.Transaction, error)
}

// NewStore adapts the concrete db.Store to the exchange Store interface.
func NewStore(s *db.Store) Store {
	return storeAdapter{s}
}

type storeAdapter struct {
	*db.Store
}

func (a storeAdapter) RunInTx(ctx context.Context, fn func(Store) error) error {
	return a.Store.RunInTx(ctx, func(tx *db.Store) error {
		return fn(storeAdapter{tx})
	})
}

// OfferFunding declares which wallet an offer draws from.
type OfferFunding string

const (
	// FundingAuto selects the wallet from the offer's visibility: public
	// non-KYC offers draw from distribution, gated offers from supply when
	// a supply wallet exists, otherwise distribution.
	FundingAuto OfferFunding = "auto"

	// FundDistribution pins the offer to the distribution wallet.
	FundDistribution OfferFunding = "distribution"

	// FundSupply pins the offer to the supply wallet.
	FundSupply OfferFunding = "supply"
)

// OfferSpec describes one sale offer to create alongside an asset.
type OfferSpec struct {
	Price     db.MonetaryAmount
	Amount    decimal.Decimal
	Public    bool
	StartDate *time.Time
	StopDate  *time.Time
	Funding   OfferFunding
}

// CreateAssetParams describes a full issuance request.
type CreateAssetParams struct {
	Code            string
	Supply          decimal.Decimal
	FixedSupply     bool
	KYCRequirement  bool
	Offers          []OfferSpec
	Creator         *db.Wallet      // funds account activation
	StartingReserve decimal.Decimal // native units per created account
}

// Orchestrator runs the asset-issuance saga: create issuing, distribution,
// and (optionally) supply accounts, register the asset and its offers
// locally, activate and fund the accounts, mint supply, and optionally lock
// the issuer.
//
// Ledger calls cannot participate in the relational transaction; a failure
// after accounts are created leaves them live on the ledger, orphaned but
// harmless since the matching asset record is removed.
type Orchestrator struct {
	store     Store
	accounts  *stellar.AccountManager
	submitter *stellar.Submitter
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu        sync.Mutex
	catalogue []string // codes of assets this process has issued or loaded
}

// NewOrchestrator creates an issuance orchestrator. If m is nil, no metrics
// are recorded.
func NewOrchestrator(store Store, accounts *stellar.AccountManager, submitter *stellar.Submitter, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:     store,
		accounts:  accounts,
		submitter: submitter,
		logger:    logger,
		metrics:   m,
	}
}

// Catalogue returns the asset codes currently registered in memory.
func (o *Orchestrator) Catalogue() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.catalogue))
	copy(out, o.catalogue)
	return out
}

// CreateAsset runs the issuance saga. Validation failures (bad or duplicate
// code, creator solvency) surface as typed business errors before any ledger
// or store write happens.
func (o *Orchestrator) CreateAsset(ctx context.Context, params CreateAssetParams) (*db.Asset, error) {
	asset, err := o.createAsset(ctx, params)
	o.recordIssuance(err)
	return asset, err
}

func (o *Orchestrator) createAsset(ctx context.Context, params CreateAssetParams) (*db.Asset, error) {
	// Step 1: validation. No writes of any kind before this passes.
	if !assetCodePattern.MatchString(params.Code) {
		return nil, &stellar.InvalidNameError{Code: params.Code}
	}
	if o.inCatalogue(params.Code) {
		return nil, &stellar.DuplicateNameError{Code: params.Code}
	}
	if _, err := o.store.GetAssetByCode(ctx, params.Code); err == nil {
		return nil, &stellar.DuplicateNameError{Code: params.Code}
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("failed to check asset code: %w", err)
	}
	if err := o.checkCreatorSolvency(params.Creator); err != nil {
		return nil, err
	}

	if params.StartingReserve.IsZero() {
		params.StartingReserve = decimal.NewFromInt(2)
	}

	// Step 2: generate keypairs and persist the local rows in one relational
	// transaction.
	issuing, err := o.accounts.GenerateAccount()
	if err != nil {
		return nil, err
	}
	distribution, err := o.accounts.GenerateAccount()
	if err != nil {
		return nil, err
	}
	var supply *db.Wallet
	if o.needsSupplyWallet(params) {
		if supply, err = o.accounts.GenerateAccount(); err != nil {
			return nil, err
		}
	}

	var asset *db.Asset
	err = o.store.RunInTx(ctx, func(tx Store) error {
		var txErr error
		if issuing, txErr = tx.CreateWallet(ctx, walletParams(issuing)); txErr != nil {
			return txErr
		}
		if distribution, txErr = tx.CreateWallet(ctx, walletParams(distribution)); txErr != nil {
			return txErr
		}
		var supplyID *uuid.UUID
		if supply != nil {
			if supply, txErr = tx.CreateWallet(ctx, walletParams(supply)); txErr != nil {
				return txErr
			}
			supplyID = &supply.ID
		}

		asset, txErr = tx.CreateAsset(ctx, db.CreateAssetParams{
			Code:                params.Code,
			Issuer:              issuing.Address,
			DistributorWalletID: distribution.ID,
			SupplyWalletID:      supplyID,
			KYCRequirement:      params.KYCRequirement,
		})
		if txErr != nil {
			return txErr
		}

		for _, spec := range params.Offers {
			if spec.Public && params.KYCRequirement {
				return fmt.Errorf("public offers require a non-KYC asset")
			}
			funding := o.fundingWallet(spec, params, distribution, supply)
			offer, txErr := tx.CreateOffer(ctx, db.CreateOfferParams{
				AssetID:   asset.ID,
				WalletID:  funding.ID,
				Price:     spec.Price,
				Amount:    spec.Amount,
				Public:    spec.Public,
				StartDate: spec.StartDate,
				StopDate:  spec.StopDate,
			})
			if txErr != nil {
				return txErr
			}
			asset.Offers = append(asset.Offers, *offer)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist asset: %w", err)
	}

	// Step 3: activate the accounts and establish trust. These are external
	// network calls outside the relational transaction above.
	assetRef := stellar.AssetRef{Code: asset.Code, Issuer: issuing.Address}
	if err := o.activateAccounts(ctx, params, asset, issuing, distribution, supply); err != nil {
		return nil, err
	}
	if _, err := o.accounts.CreateTrust(ctx, distribution, []stellar.AssetRef{assetRef}, params.Supply, asset.ID.String()); err != nil {
		return nil, err
	}
	if supply != nil {
		if _, err := o.accounts.CreateTrust(ctx, supply, []stellar.AssetRef{assetRef}, params.Supply, asset.ID.String()); err != nil {
			return nil, err
		}
	}

	o.appendCatalogue(asset.Code)

	// Steps 4-5: mint, forward gated supply, optionally lock. A failure here
	// pops the catalogue entry; ledger accounts created above stay live.
	if err := o.mintAndLock(ctx, params, asset, issuing, distribution, supply); err != nil {
		o.popCatalogue(asset.Code)
		return nil, err
	}

	// Step 7: post sell offers for public, non-gated listings.
	if err := o.postPublicOffers(ctx, params, asset, assetRef, distribution); err != nil {
		return nil, err
	}

	o.logger.InfoContext(ctx, "asset issued",
		"code", asset.Code,
		"issuer", issuing.Address,
		"supply", params.Supply.String(),
		"fixed", params.FixedSupply,
	)
	return asset, nil
}

func (o *Orchestrator) checkCreatorSolvency(creator *db.Wallet) error {
	balance := creator.Balance(stellar.NativeAssetCode)
	if balance == nil || balance.Value.LessThan(minIssuerReserve) {
		held := "0"
		if balance != nil {
			held = balance.Value.String()
		}
		return &stellar.InsufficientFundsError{
			Address:  creator.Address,
			Code:     stellar.NativeAssetCode,
			Required: minIssuerReserve.String(),
			Held:     held,
		}
	}
	return nil
}

func (o *Orchestrator) needsSupplyWallet(params CreateAssetParams) bool {
	if params.KYCRequirement {
		return true
	}
	for _, spec := range params.Offers {
		if spec.Funding == FundSupply {
			return true
		}
	}
	return false
}

// fundingWallet applies the offer funding policy. The branches are explicit:
// a pinned wallet wins; otherwise public non-KYC offers draw from
// distribution and gated offers from supply when one exists.
func (o *Orchestrator) fundingWallet(spec OfferSpec, params CreateAssetParams, distribution, supply *db.Wallet) *db.Wallet {
	switch spec.Funding {
	case FundDistribution:
		return distribution
	case FundSupply:
		if supply != nil {
			return supply
		}
		return distribution
	default:
		if spec.Public && !params.KYCRequirement {
			return distribution
		}
		if supply != nil {
			return supply
		}
		return distribution
	}
}

func (o *Orchestrator) activateAccounts(ctx context.Context, params CreateAssetParams, asset *db.Asset, issuing, distribution, supply *db.Wallet) error {
	refID := asset.ID.String()
	for _, w := range []*db.Wallet{issuing, distribution, supply} {
		if w == nil {
			continue
		}
		activated, err := o.accounts.ActivateAccount(ctx, w, params.StartingReserve, params.Creator, refID)
		if err != nil {
			return err
		}
		if _, err := o.store.UpdateWalletBalances(ctx, w.ID, activated.Balances); err != nil {
			return fmt.Errorf("failed to record activated balances: %w", err)
		}
	}
	return nil
}

func (o *Orchestrator) mintAndLock(ctx context.Context, params CreateAssetParams, asset *db.Asset, issuing, distribution, supply *db.Wallet) error {
	assetRef := stellar.AssetRef{Code: asset.Code, Issuer: issuing.Address}
	refID := asset.ID.String()

	if _, err := o.submitter.CreatePayment(ctx, issuing, distribution, params.Supply, assetRef, refID); err != nil {
		return err
	}

	// A gated active sale draws its tranche from the supply wallet.
	if supply != nil {
		now := time.Now()
		for i := range asset.Offers {
			offer := &asset.Offers[i]
			if offer.Public || !offer.Active(now) || offer.WalletID != supply.ID {
				continue
			}
			if _, err := o.submitter.CreatePayment(ctx, distribution, supply, offer.Amount, assetRef, refID); err != nil {
				return err
			}
		}
	}

	if params.FixedSupply {
		if err := o.accounts.LockIssuer(ctx, issuing); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) postPublicOffers(ctx context.Context, params CreateAssetParams, asset *db.Asset, assetRef stellar.AssetRef, distribution *db.Wallet) error {
	for i := range asset.Offers {
		offer := &asset.Offers[i]
		if !offer.Public || params.KYCRequirement {
			continue
		}
		ledgerOfferID, err := o.submitter.CreateSellOffer(ctx, distribution,
			assetRef, stellar.AssetRef{Code: offer.Price.Code},
			offer.Amount, offer.Price.Value)
		if err != nil {
			return err
		}
		updated, err := o.store.UpdateOfferLedgerID(ctx, offer.ID, ledgerOfferID)
		if err != nil {
			return fmt.Errorf("failed to record ledger offer id: %w", err)
		}
		asset.Offers[i] = *updated
	}
	return nil
}

func (o *Orchestrator) inCatalogue(code string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, c := range o.catalogue {
		if c == code {
			return true
		}
	}
	return false
}

func (o *Orchestrator) appendCatalogue(code string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.catalogue = append(o.catalogue, code)
}

func (o *Orchestrator) popCatalogue(code string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.catalogue) - 1; i >= 0; i-- {
		if o.catalogue[i] == code {
			o.catalogue = append(o.catalogue[:i], o.catalogue[i+1:]...)
			return
		}
	}
}

func (o *Orchestrator) recordIssuance(err error) {
	if o.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	o.metrics.RecordIssuance(status)
}

func walletParams(w *db.Wallet) db.CreateWalletParams {
	return db.CreateWalletParams{
		Address:  w.Address,
		Seed:     w.Seed,
		Network:  w.Network,
		Balances: w.Balances,
	}
}
