package nats

import (
	"time"

	"github.com/google/uuid"

	"github.com/uhx/settle/service/db"
)

// SettlementEvent announces a purchase reaching a terminal status.
// Published to the subject "settlements.{rail}" in JetStream.
type SettlementEvent struct {
	PurchaseID string `json:"purchase_id"`
	BuyerID    string `json:"buyer_id"`
	AssetID    string `json:"asset_id"`

	// Rail is the payment rail that settled the purchase.
	Rail   string `json:"rail"`
	Status string `json:"status"`
	Ref    string `json:"ref,omitempty"`

	// Invoiced amount and purchased quantity.
	Amount   string `json:"amount"`
	Code     string `json:"code"`
	Quantity string `json:"quantity"`

	Timestamp   time.Time `json:"timestamp"`
	PublishedAt time.Time `json:"published_at"`
}

// ReconciliationEvent announces a ledger record observed during a history
// scan. Published to the subject "reconciliation.{wallet_address}".
type ReconciliationEvent struct {
	WalletAddress string `json:"wallet_address"`

	TransactionID string `json:"transaction_id,omitempty"`
	Ref           string `json:"ref,omitempty"` // ledger transaction hash
	Type          string `json:"type"`
	Status        string `json:"status"`

	Amount string `json:"amount"`
	Code   string `json:"code"`

	// Merged reports whether the record matched a local row by memo.
	Merged bool `json:"merged"`

	PostingDate *time.Time `json:"posting_date,omitempty"`
	PublishedAt time.Time  `json:"published_at"`
}

// ReconciliationEventFromTransaction converts a reconciled transaction row
// to an event for publishing.
func ReconciliationEventFromTransaction(walletAddress string, txn *db.Transaction) *ReconciliationEvent {
	event := &ReconciliationEvent{
		WalletAddress: walletAddress,
		Type:          string(txn.Type),
		Status:        string(txn.Status),
		Amount:        txn.Amount.Value.String(),
		Code:          txn.Amount.Code,
		Merged:        len(txn.MemoHash) > 0,
		PostingDate:   txn.PostingDate,
		PublishedAt:   time.Now().UTC(),
	}
	if txn.ID != uuid.Nil {
		event.TransactionID = txn.ID.String()
	}
	if txn.Ref != nil {
		event.Ref = *txn.Ref
	}
	return event
}
