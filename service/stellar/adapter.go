package stellar

import (
	"context"
	"net/http"
	"time"

	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/protocols/horizon/operations"
	"github.com/stellar/go/txnbuild"
)

// realHorizonClient adapts the stellar SDK's Horizon client to our
// HorizonClient interface. The SDK client carries its own request timeout,
// so the context parameters exist for interface symmetry with mocks.
type realHorizonClient struct {
	client *horizonclient.Client
}

// NewHorizonClient creates a HorizonClient that talks to the given Horizon
// endpoint, e.g. https://horizon-testnet.stellar.org.
func NewHorizonClient(horizonURL string) HorizonClient {
	client := &horizonclient.Client{
		HorizonURL: horizonURL,
		HTTP:       &http.Client{Timeout: 30 * time.Second},
	}
	client.SetHorizonTimeout(30 * time.Second)
	return &realHorizonClient{client: client}
}

func (r *realHorizonClient) AccountDetail(_ context.Context, accountID string) (horizon.Account, error) {
	return r.client.AccountDetail(horizonclient.AccountRequest{AccountID: accountID})
}

func (r *realHorizonClient) SubmitTransaction(_ context.Context, tx *txnbuild.Transaction) (horizon.Transaction, error) {
	return r.client.SubmitTransaction(tx)
}

func (r *realHorizonClient) Transactions(_ context.Context, req horizonclient.TransactionRequest) (horizon.TransactionsPage, error) {
	return r.client.Transactions(req)
}

func (r *realHorizonClient) Operations(_ context.Context, req horizonclient.OperationRequest) (operations.OperationsPage, error) {
	return r.client.Operations(req)
}
