package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MonetaryAmount is a decimal value tagged with an asset code. "XLM" is
// reserved for the network's native unit.
type MonetaryAmount struct {
	Value decimal.Decimal `json:"value"`
	Code  string          `json:"code"`
}

// Wallet mirrors a ledger account: a keypair plus the balances observed at
// the last ledger read.
//
// Seed is private key material. It must never be logged or serialized to
// clients; it is excluded from JSON marshaling.
type Wallet struct {
	ID        uuid.UUID        `json:"id"`
	Address   string           `json:"address"`
	Seed      string           `json:"-"`
	Network   string           `json:"network"`
	Balances  []MonetaryAmount `json:"balances"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Balance returns the wallet's cached balance for a code, or nil if the
// wallet holds no balance in that asset.
func (w *Wallet) Balance(code string) *MonetaryAmount {
	for i := range w.Balances {
		if w.Balances[i].Code == code {
			return &w.Balances[i]
		}
	}
	return nil
}

// Asset is a custom token issued on the ledger.
type Asset struct {
	ID                  uuid.UUID  `json:"id"`
	Code                string     `json:"code"`
	Issuer              string     `json:"issuer"` // issuing wallet address
	DistributorWalletID uuid.UUID  `json:"distributor_wallet_id"`
	SupplyWalletID      *uuid.UUID `json:"supply_wallet_id,omitempty"`
	KYCRequirement      bool       `json:"kyc_requirement"`
	Offers              []Offer    `json:"offers,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// Offer is a sale listing for an asset, funded from either the distribution
// or the supply wallet.
type Offer struct {
	ID            uuid.UUID       `json:"id"`
	AssetID       uuid.UUID       `json:"asset_id"`
	WalletID      uuid.UUID       `json:"wallet_id"` // funding wallet
	Price         MonetaryAmount  `json:"price"`
	Amount        decimal.Decimal `json:"amount"`
	Public        bool            `json:"public"`
	StartDate     *time.Time      `json:"start_date,omitempty"`
	StopDate      *time.Time      `json:"stop_date,omitempty"`
	LedgerOfferID *int64          `json:"ledger_offer_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Active reports whether the offer is currently within its sale window.
func (o *Offer) Active(now time.Time) bool {
	if o.StartDate != nil && now.Before(*o.StartDate) {
		return false
	}
	if o.StopDate != nil && now.After(*o.StopDate) {
		return false
	}
	return true
}

// TransactionType classifies a local transaction row.
type TransactionType string

const (
	TransactionTypePayment           TransactionType = "payment"
	TransactionTypeTrust             TransactionType = "trust"
	TransactionTypeRefund            TransactionType = "refund"
	TransactionTypeDeposit           TransactionType = "deposit"
	TransactionTypeAccountManagement TransactionType = "account_management"
	TransactionTypePurchase          TransactionType = "purchase"
	TransactionTypeAirdrop           TransactionType = "airdrop"
)

// TransactionStatus is the lifecycle state of a local transaction row.
// Pending transitions exactly once to Complete or Failed; both are terminal.
type TransactionStatus string

const (
	TransactionStatusPending  TransactionStatus = "pending"
	TransactionStatusComplete TransactionStatus = "complete"
	TransactionStatusFailed   TransactionStatus = "failed"
)

// Transaction is the local ledger-of-record row for a money movement. Ref
// holds the ledger transaction hash on success or an error code on failure.
// MemoHash is the sha256 digest of the row id (binary) embedded on the
// ledger transaction for reverse correlation.
type Transaction struct {
	ID            uuid.UUID         `json:"id"`
	Type          TransactionType   `json:"type"`
	PayorWalletID *uuid.UUID        `json:"payor_wallet_id,omitempty"`
	PayeeWalletID *uuid.UUID        `json:"payee_wallet_id,omitempty"`
	Amount        MonetaryAmount    `json:"amount"`
	Fee           decimal.Decimal   `json:"fee"`
	Status        TransactionStatus `json:"status"`
	Ref           *string           `json:"ref,omitempty"`
	PostingDate   *time.Time        `json:"posting_date,omitempty"`
	MemoHash      []byte            `json:"memo_hash,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Purchase specializes Transaction with buyer and sale context.
type Purchase struct {
	Transaction
	BuyerID             uuid.UUID       `json:"buyer_id"`
	QuoteID             *uuid.UUID      `json:"quote_id,omitempty"`
	AssetID             uuid.UUID       `json:"asset_id"`
	Quantity            decimal.Decimal `json:"quantity"`
	DistributorWalletID uuid.UUID       `json:"distributor_wallet_id"`
}
