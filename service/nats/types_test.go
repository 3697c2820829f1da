package nats

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhx/settle/service/db"
)

func TestReconciliationEventFromTransaction(t *testing.T) {
	ref := "ledgerhash"
	posting := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	txn := &db.Transaction{
		ID:          uuid.New(),
		Type:        db.TransactionTypePurchase,
		Amount:      db.MonetaryAmount{Value: decimal.RequireFromString("12.5"), Code: "HLTH"},
		Status:      db.TransactionStatusComplete,
		Ref:         &ref,
		PostingDate: &posting,
	}
	digest := sha256.Sum256([]byte(txn.ID.String()))
	txn.MemoHash = digest[:]

	event := ReconciliationEventFromTransaction("GWALLET", txn)

	assert.Equal(t, "GWALLET", event.WalletAddress)
	assert.Equal(t, txn.ID.String(), event.TransactionID)
	assert.Equal(t, "ledgerhash", event.Ref)
	assert.Equal(t, string(db.TransactionTypePurchase), event.Type)
	assert.Equal(t, string(db.TransactionStatusComplete), event.Status)
	assert.Equal(t, "12.5", event.Amount)
	assert.Equal(t, "HLTH", event.Code)
	assert.True(t, event.Merged)
	require.NotNil(t, event.PostingDate)
	assert.True(t, posting.Equal(*event.PostingDate))
	assert.False(t, event.PublishedAt.IsZero())
}

func TestReconciliationEventFromTransaction_UnmergedLedgerRecord(t *testing.T) {
	// Ledger records with no memo correlation carry no local row id.
	txn := &db.Transaction{
		Type:   db.TransactionTypePayment,
		Amount: db.MonetaryAmount{Value: decimal.NewFromInt(3), Code: "XLM"},
		Status: db.TransactionStatusComplete,
	}

	event := ReconciliationEventFromTransaction("GWALLET", txn)

	assert.Empty(t, event.TransactionID)
	assert.Empty(t, event.Ref)
	assert.False(t, event.Merged)
	assert.Nil(t, event.PostingDate)
}

func TestMockPublisher_RecordsEvents(t *testing.T) {
	m := NewMockPublisher()
	ctx := context.Background()

	require.NoError(t, m.PublishSettlement(ctx, &SettlementEvent{PurchaseID: "p1"}))
	require.NoError(t, m.PublishReconciliation(ctx, &ReconciliationEvent{WalletAddress: "GA"}))
	require.NoError(t, m.PublishReconciliationBatch(ctx, []*ReconciliationEvent{
		{WalletAddress: "GA"},
		{WalletAddress: "GB"},
	}))

	assert.Len(t, m.GetSettlementEvents(), 1)
	assert.Len(t, m.GetReconciliationEvents(), 3)
	assert.Len(t, m.GetReconciliationEventsForWallet("GA"), 2)
	assert.Len(t, m.GetReconciliationEventsForWallet("GB"), 1)
}

func TestMockPublisher_PublishError(t *testing.T) {
	m := NewMockPublisher()
	m.SetPublishError(errors.New("nats down"))

	err := m.PublishSettlement(context.Background(), &SettlementEvent{PurchaseID: "p1"})
	require.Error(t, err)
	assert.Empty(t, m.GetSettlementEvents())

	m.Reset()
	require.NoError(t, m.PublishSettlement(context.Background(), &SettlementEvent{PurchaseID: "p1"}))
	assert.Len(t, m.GetSettlementEvents(), 1)
}
