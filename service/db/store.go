package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so every query can run
// either standalone or inside a caller-managed relational transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides database operations for the service.
type Store struct {
	pool *pgxpool.Pool
	db   DBTX
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// WithTx returns a Store whose queries run inside tx. The caller owns the
// transaction lifecycle (commit/rollback).
func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{pool: s.pool, db: tx}
}

// RunInTx begins a transaction, runs fn with a tx-bound Store, and commits.
// Any error from fn rolls the transaction back and is returned.
func (s *Store) RunInTx(ctx context.Context, fn func(*Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(s.WithTx(tx)); err != nil {
		tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// --- Wallets ---

// CreateWalletParams contains the parameters for persisting a new wallet.
type CreateWalletParams struct {
	Address  string
	Seed     string
	Network  string
	Balances []MonetaryAmount
}

// CreateWallet persists a freshly generated keypair.
func (s *Store) CreateWallet(ctx context.Context, params CreateWalletParams) (*Wallet, error) {
	balances, err := marshalBalances(params.Balances)
	if err != nil {
		return nil, err
	}
	id := uuid.New()
	row := s.db.QueryRow(ctx, `
		INSERT INTO wallets (id, address, seed, network, balances)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, address, seed, network, balances, created_at, updated_at`,
		id, params.Address, params.Seed, params.Network, balances,
	)
	return scanWallet(row)
}

// GetWallet retrieves a wallet by id.
func (s *Store) GetWallet(ctx context.Context, id uuid.UUID) (*Wallet, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, address, seed, network, balances, created_at, updated_at
		FROM wallets WHERE id = $1`, id)
	return scanWallet(row)
}

// GetWalletByAddress retrieves a wallet by its public address.
func (s *Store) GetWalletByAddress(ctx context.Context, address string) (*Wallet, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, address, seed, network, balances, created_at, updated_at
		FROM wallets WHERE address = $1`, address)
	return scanWallet(row)
}

// ListWallets retrieves all wallets.
func (s *Store) ListWallets(ctx context.Context) ([]*Wallet, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, address, seed, network, balances, created_at, updated_at
		FROM wallets ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []*Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// UpdateWalletBalances refreshes a wallet's cached balances after a ledger
// read. Balances are the only mutable field on a wallet.
func (s *Store) UpdateWalletBalances(ctx context.Context, id uuid.UUID, balances []MonetaryAmount) (*Wallet, error) {
	raw, err := marshalBalances(balances)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRow(ctx, `
		UPDATE wallets SET balances = $2, updated_at = now()
		WHERE id = $1
		RETURNING id, address, seed, network, balances, created_at, updated_at`,
		id, raw)
	return scanWallet(row)
}

// --- Assets ---

// CreateAssetParams contains the parameters for persisting a new asset.
type CreateAssetParams struct {
	Code                string
	Issuer              string
	DistributorWalletID uuid.UUID
	SupplyWalletID      *uuid.UUID
	KYCRequirement      bool
}

// CreateAsset persists an asset row.
func (s *Store) CreateAsset(ctx context.Context, params CreateAssetParams) (*Asset, error) {
	id := uuid.New()
	row := s.db.QueryRow(ctx, `
		INSERT INTO assets (id, code, issuer, distributor_wallet_id, supply_wallet_id, kyc_requirement)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, code, issuer, distributor_wallet_id, supply_wallet_id, kyc_requirement, created_at`,
		id, params.Code, params.Issuer, params.DistributorWalletID, params.SupplyWalletID, params.KYCRequirement,
	)
	return scanAsset(row)
}

// GetAsset retrieves an asset by id.
func (s *Store) GetAsset(ctx context.Context, id uuid.UUID) (*Asset, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, code, issuer, distributor_wallet_id, supply_wallet_id, kyc_requirement, created_at
		FROM assets WHERE id = $1`, id)
	return scanAsset(row)
}

// GetAssetByCode retrieves an asset by its code.
func (s *Store) GetAssetByCode(ctx context.Context, code string) (*Asset, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, code, issuer, distributor_wallet_id, supply_wallet_id, kyc_requirement, created_at
		FROM assets WHERE code = $1`, code)
	return scanAsset(row)
}

// ListAssets retrieves all assets with their offers.
func (s *Store) ListAssets(ctx context.Context) ([]*Asset, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, code, issuer, distributor_wallet_id, supply_wallet_id, kyc_requirement, created_at
		FROM assets ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, a := range assets {
		offers, err := s.ListOffersByAsset(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		for _, o := range offers {
			a.Offers = append(a.Offers, *o)
		}
	}
	return assets, nil
}

// --- Offers ---

// CreateOfferParams contains the parameters for persisting an offer.
type CreateOfferParams struct {
	AssetID   uuid.UUID
	WalletID  uuid.UUID
	Price     MonetaryAmount
	Amount    decimal.Decimal
	Public    bool
	StartDate *time.Time
	StopDate  *time.Time
}

// CreateOffer persists an offer row.
func (s *Store) CreateOffer(ctx context.Context, params CreateOfferParams) (*Offer, error) {
	id := uuid.New()
	row := s.db.QueryRow(ctx, `
		INSERT INTO offers (id, asset_id, wallet_id, price_value, price_code, amount, public, start_date, stop_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, asset_id, wallet_id, price_value, price_code, amount, public, start_date, stop_date, ledger_offer_id, created_at`,
		id, params.AssetID, params.WalletID,
		params.Price.Value.String(), params.Price.Code, params.Amount.String(),
		params.Public, params.StartDate, params.StopDate,
	)
	return scanOffer(row)
}

// UpdateOfferLedgerID records the ledger-assigned offer identifier after a
// sell offer is posted.
func (s *Store) UpdateOfferLedgerID(ctx context.Context, id uuid.UUID, ledgerOfferID int64) (*Offer, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE offers SET ledger_offer_id = $2
		WHERE id = $1
		RETURNING id, asset_id, wallet_id, price_value, price_code, amount, public, start_date, stop_date, ledger_offer_id, created_at`,
		id, ledgerOfferID)
	return scanOffer(row)
}

// ListOffersByAsset retrieves all offers for an asset.
func (s *Store) ListOffersByAsset(ctx context.Context, assetID uuid.UUID) ([]*Offer, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, asset_id, wallet_id, price_value, price_code, amount, public, start_date, stop_date, ledger_offer_id, created_at
		FROM offers WHERE asset_id = $1 ORDER BY created_at`, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offers []*Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

// --- Transactions ---

// CreateTransactionParams contains the parameters for creating a local
// transaction row. When ID is zero a fresh id is generated; MemoHash is the
// caller-computed digest of that id.
type CreateTransactionParams struct {
	ID            uuid.UUID
	Type          TransactionType
	PayorWalletID *uuid.UUID
	PayeeWalletID *uuid.UUID
	Amount        MonetaryAmount
	Fee           decimal.Decimal
	Status        TransactionStatus
	MemoHash      []byte
}

// CreateTransaction inserts a new transaction row.
func (s *Store) CreateTransaction(ctx context.Context, params CreateTransactionParams) (*Transaction, error) {
	if params.ID == uuid.Nil {
		params.ID = uuid.New()
	}
	if params.Status == "" {
		params.Status = TransactionStatusPending
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO transactions (id, type, payor_wallet_id, payee_wallet_id, amount_value, amount_code, fee, status, memo_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, type, payor_wallet_id, payee_wallet_id, amount_value, amount_code, fee, status, ref, posting_date, memo_hash, created_at`,
		params.ID, params.Type, params.PayorWalletID, params.PayeeWalletID,
		params.Amount.Value.String(), params.Amount.Code, params.Fee.String(),
		params.Status, params.MemoHash,
	)
	return scanTransaction(row)
}

// GetTransaction retrieves a transaction by id.
func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, type, payor_wallet_id, payee_wallet_id, amount_value, amount_code, fee, status, ref, posting_date, memo_hash, created_at
		FROM transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

// GetTransactionByMemoHash resolves a ledger-observed memo back to the local
// row that produced it.
func (s *Store) GetTransactionByMemoHash(ctx context.Context, memoHash []byte) (*Transaction, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, type, payor_wallet_id, payee_wallet_id, amount_value, amount_code, fee, status, ref, posting_date, memo_hash, created_at
		FROM transactions WHERE memo_hash = $1`, memoHash)
	return scanTransaction(row)
}

// SettleTransactionParams contains the terminal-state fields for a
// transaction.
type SettleTransactionParams struct {
	ID          uuid.UUID
	Status      TransactionStatus
	Ref         string
	Amount      *MonetaryAmount // optional: ledger-observed final amount
	PostingDate time.Time
}

// SettleTransaction moves a pending row to its terminal state. Rows already
// terminal are left untouched and returned as-is, so a settled transaction
// stays immutable even if two settlers race.
func (s *Store) SettleTransaction(ctx context.Context, params SettleTransactionParams) (*Transaction, error) {
	var row pgx.Row
	if params.Amount != nil {
		row = s.db.QueryRow(ctx, `
			UPDATE transactions
			SET status = $2, ref = $3, posting_date = $4, amount_value = $5, amount_code = $6
			WHERE id = $1 AND status = 'pending'
			RETURNING id, type, payor_wallet_id, payee_wallet_id, amount_value, amount_code, fee, status, ref, posting_date, memo_hash, created_at`,
			params.ID, params.Status, params.Ref, params.PostingDate,
			params.Amount.Value.String(), params.Amount.Code)
	} else {
		row = s.db.QueryRow(ctx, `
			UPDATE transactions SET status = $2, ref = $3, posting_date = $4
			WHERE id = $1 AND status = 'pending'
			RETURNING id, type, payor_wallet_id, payee_wallet_id, amount_value, amount_code, fee, status, ref, posting_date, memo_hash, created_at`,
			params.ID, params.Status, params.Ref, params.PostingDate)
	}
	txn, err := scanTransaction(row)
	if err == nil {
		return txn, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	// Already terminal (or absent); return current state.
	return s.GetTransaction(ctx, params.ID)
}

// --- Purchases ---

// CreatePurchaseParams contains the parameters for creating a purchase.
type CreatePurchaseParams struct {
	Transaction         CreateTransactionParams
	BuyerID             uuid.UUID
	QuoteID             *uuid.UUID
	AssetID             uuid.UUID
	Quantity            decimal.Decimal
	DistributorWalletID uuid.UUID
}

// CreatePurchase inserts a transaction row and its purchase extension.
// Call inside RunInTx when participating in a larger relational scope.
func (s *Store) CreatePurchase(ctx context.Context, params CreatePurchaseParams) (*Purchase, error) {
	params.Transaction.Type = TransactionTypePurchase
	txn, err := s.CreateTransaction(ctx, params.Transaction)
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO purchases (transaction_id, buyer_id, quote_id, asset_id, quantity, distributor_wallet_id)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		txn.ID, params.BuyerID, params.QuoteID, params.AssetID,
		params.Quantity.String(), params.DistributorWalletID,
	)
	if err != nil {
		return nil, err
	}
	return s.GetPurchase(ctx, txn.ID)
}

const purchaseQuery = `
	SELECT t.id, t.type, t.payor_wallet_id, t.payee_wallet_id, t.amount_value, t.amount_code,
	       t.fee, t.status, t.ref, t.posting_date, t.memo_hash, t.created_at,
	       p.buyer_id, p.quote_id, p.asset_id, p.quantity, p.distributor_wallet_id
	FROM transactions t
	JOIN purchases p ON p.transaction_id = t.id`

// GetPurchase retrieves a purchase by its transaction id.
func (s *Store) GetPurchase(ctx context.Context, id uuid.UUID) (*Purchase, error) {
	row := s.db.QueryRow(ctx, purchaseQuery+` WHERE t.id = $1`, id)
	return scanPurchase(row)
}

// ListPendingPurchases retrieves purchases awaiting settlement, oldest first.
func (s *Store) ListPendingPurchases(ctx context.Context) ([]*Purchase, error) {
	rows, err := s.db.Query(ctx, purchaseQuery+` WHERE t.status = 'pending' ORDER BY t.created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var purchases []*Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

// --- scan helpers ---

func marshalBalances(balances []MonetaryAmount) ([]byte, error) {
	if balances == nil {
		balances = []MonetaryAmount{}
	}
	raw, err := json.Marshal(balances)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal balances: %w", err)
	}
	return raw, nil
}

func scanWallet(row pgx.Row) (*Wallet, error) {
	var w Wallet
	var raw []byte
	err := row.Scan(&w.ID, &w.Address, &w.Seed, &w.Network, &raw, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, mapScanErr(err)
	}
	if err := json.Unmarshal(raw, &w.Balances); err != nil {
		return nil, fmt.Errorf("failed to unmarshal balances: %w", err)
	}
	return &w, nil
}

func scanAsset(row pgx.Row) (*Asset, error) {
	var a Asset
	err := row.Scan(&a.ID, &a.Code, &a.Issuer, &a.DistributorWalletID, &a.SupplyWalletID, &a.KYCRequirement, &a.CreatedAt)
	if err != nil {
		return nil, mapScanErr(err)
	}
	return &a, nil
}

func scanOffer(row pgx.Row) (*Offer, error) {
	var o Offer
	var priceValue, amount string
	err := row.Scan(&o.ID, &o.AssetID, &o.WalletID, &priceValue, &o.Price.Code, &amount,
		&o.Public, &o.StartDate, &o.StopDate, &o.LedgerOfferID, &o.CreatedAt)
	if err != nil {
		return nil, mapScanErr(err)
	}
	if o.Price.Value, err = decimal.NewFromString(priceValue); err != nil {
		return nil, fmt.Errorf("invalid stored price: %w", err)
	}
	if o.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid stored amount: %w", err)
	}
	return &o, nil
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var t Transaction
	var amountValue, fee string
	err := row.Scan(&t.ID, &t.Type, &t.PayorWalletID, &t.PayeeWalletID, &amountValue, &t.Amount.Code,
		&fee, &t.Status, &t.Ref, &t.PostingDate, &t.MemoHash, &t.CreatedAt)
	if err != nil {
		return nil, mapScanErr(err)
	}
	if t.Amount.Value, err = decimal.NewFromString(amountValue); err != nil {
		return nil, fmt.Errorf("invalid stored amount: %w", err)
	}
	if t.Fee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("invalid stored fee: %w", err)
	}
	return &t, nil
}

func scanPurchase(row pgx.Row) (*Purchase, error) {
	var p Purchase
	var amountValue, fee, quantity string
	err := row.Scan(&p.ID, &p.Type, &p.PayorWalletID, &p.PayeeWalletID, &amountValue, &p.Amount.Code,
		&fee, &p.Status, &p.Ref, &p.PostingDate, &p.MemoHash, &p.CreatedAt,
		&p.BuyerID, &p.QuoteID, &p.AssetID, &quantity, &p.DistributorWalletID)
	if err != nil {
		return nil, mapScanErr(err)
	}
	if p.Amount.Value, err = decimal.NewFromString(amountValue); err != nil {
		return nil, fmt.Errorf("invalid stored amount: %w", err)
	}
	if p.Fee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("invalid stored fee: %w", err)
	}
	if p.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, fmt.Errorf("invalid stored quantity: %w", err)
	}
	return &p, nil
}

func mapScanErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
