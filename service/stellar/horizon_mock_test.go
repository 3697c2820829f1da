package stellar

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/protocols/horizon/operations"
	"github.com/stellar/go/support/render/problem"
	"github.com/stellar/go/txnbuild"
	"github.com/stretchr/testify/require"

	"github.com/uhx/settle/service/db"
)

// mockHorizon implements HorizonClient with overridable function fields.
// Unset calls fail loudly so a test only exercises the paths it wires.
type mockHorizon struct {
	accountDetailFn func(ctx context.Context, accountID string) (horizon.Account, error)
	submitFn        func(ctx context.Context, tx *txnbuild.Transaction) (horizon.Transaction, error)
	transactionsFn  func(ctx context.Context, req horizonclient.TransactionRequest) (horizon.TransactionsPage, error)
	operationsFn    func(ctx context.Context, req horizonclient.OperationRequest) (operations.OperationsPage, error)

	accountDetailCalls int
	submitCalls        int
	submitted          []*txnbuild.Transaction
}

func (m *mockHorizon) AccountDetail(ctx context.Context, accountID string) (horizon.Account, error) {
	m.accountDetailCalls++
	if m.accountDetailFn == nil {
		return horizon.Account{}, fmt.Errorf("unexpected AccountDetail(%s)", accountID)
	}
	return m.accountDetailFn(ctx, accountID)
}

func (m *mockHorizon) SubmitTransaction(ctx context.Context, tx *txnbuild.Transaction) (horizon.Transaction, error) {
	m.submitCalls++
	m.submitted = append(m.submitted, tx)
	if m.submitFn == nil {
		return horizon.Transaction{}, fmt.Errorf("unexpected SubmitTransaction")
	}
	return m.submitFn(ctx, tx)
}

func (m *mockHorizon) Transactions(ctx context.Context, req horizonclient.TransactionRequest) (horizon.TransactionsPage, error) {
	if m.transactionsFn == nil {
		return horizon.TransactionsPage{}, fmt.Errorf("unexpected Transactions")
	}
	return m.transactionsFn(ctx, req)
}

func (m *mockHorizon) Operations(ctx context.Context, req horizonclient.OperationRequest) (operations.OperationsPage, error) {
	if m.operationsFn == nil {
		return operations.OperationsPage{}, fmt.Errorf("unexpected Operations")
	}
	return m.operationsFn(ctx, req)
}

// activeAccount wires AccountDetail to report every address as an active
// account at sequence 1.
func (m *mockHorizon) activeAccount() {
	m.accountDetailFn = func(_ context.Context, accountID string) (horizon.Account, error) {
		return horizon.Account{AccountID: accountID, Sequence: 1}, nil
	}
}

// acceptSubmissions wires SubmitTransaction to accept everything with a
// fixed hash.
func (m *mockHorizon) acceptSubmissions(hash string) {
	m.submitFn = func(_ context.Context, _ *txnbuild.Transaction) (horizon.Transaction, error) {
		return horizon.Transaction{Hash: hash, Ledger: 1234, Successful: true}, nil
	}
}

func notFoundError() error {
	return &horizonclient.Error{
		Problem: problem.P{
			Type:   "https://stellar.org/horizon-errors/not_found",
			Title:  "Resource Missing",
			Status: 404,
		},
	}
}

func testClient(t *testing.T, h *mockHorizon) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(h, "Test SDF Network ; September 2015", "testnet", nil, logger)
}

// testWallet builds a wallet backed by a real random keypair so signing
// works offline.
func testWallet(t *testing.T) *db.Wallet {
	t.Helper()
	kp, err := keypair.Random()
	require.NoError(t, err)
	return &db.Wallet{
		Address:  kp.Address(),
		Seed:     kp.Seed(),
		Network:  "testnet",
		Balances: []db.MonetaryAmount{},
	}
}
