package stellar

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/protocols/horizon/operations"
	"github.com/stellar/go/txnbuild"

	"github.com/uhx/settle/service/metrics"
)

// HorizonClient is an interface for the Horizon operations we need.
// This allows us to mock the ledger boundary in tests without hitting a
// real Horizon instance.
type HorizonClient interface {
	AccountDetail(ctx context.Context, accountID string) (horizon.Account, error)

	SubmitTransaction(ctx context.Context, tx *txnbuild.Transaction) (horizon.Transaction, error)

	Transactions(ctx context.Context, req horizonclient.TransactionRequest) (horizon.TransactionsPage, error)

	Operations(ctx context.Context, req horizonclient.OperationRequest) (operations.OperationsPage, error)
}

// Client is the shared ledger gateway. It wraps the Horizon boundary with
// logging, call metrics, and per-address submission locks.
//
// The ledger enforces strictly increasing sequence numbers per account, so
// two concurrent submissions signed from the same source race and one is
// rejected. Every build+submit path must hold the lock for each source
// address involved for the full load-sequence/build/sign/submit window.
type Client struct {
	horizon    HorizonClient
	passphrase string
	endpoint   string // Horizon endpoint identifier for metrics
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewClient creates a new ledger gateway. The endpoint parameter is used for
// metrics labeling (e.g. "testnet", "pubnet", or the Horizon hostname).
// If m is nil, no metrics will be recorded.
func NewClient(h HorizonClient, passphrase, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		horizon:    h,
		passphrase: passphrase,
		endpoint:   endpoint,
		logger:     logger,
		metrics:    m,
		locks:      make(map[string]*sync.Mutex),
	}
}

// NetworkPassphrase returns the passphrase transactions are signed against.
func (c *Client) NetworkPassphrase() string { return c.passphrase }

// lockAddresses acquires the submission lock for every address, in sorted
// order so two callers locking overlapping address sets cannot deadlock.
// The returned func releases all locks in reverse order.
func (c *Client) lockAddresses(addrs ...string) func() {
	uniq := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		uniq[a] = struct{}{}
	}
	sorted := make([]string, 0, len(uniq))
	for a := range uniq {
		sorted = append(sorted, a)
	}
	sort.Strings(sorted)

	held := make([]*sync.Mutex, 0, len(sorted))
	for _, a := range sorted {
		c.mu.Lock()
		l, ok := c.locks[a]
		if !ok {
			l = &sync.Mutex{}
			c.locks[a] = l
		}
		c.mu.Unlock()
		l.Lock()
		held = append(held, l)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

// loadAccount fetches the current ledger state for an address, recording
// call metrics. Not-found is returned as-is so callers can distinguish an
// inactive account from a communications failure.
func (c *Client) loadAccount(ctx context.Context, address string) (horizon.Account, error) {
	start := time.Now()
	account, err := c.horizon.AccountDetail(ctx, address)
	c.recordCall("account_detail", start, err)
	return account, err
}

// submitTx signs tx with the given signers and submits it, recording call
// metrics. Any Horizon error is wrapped as a communications failure.
// Callers must already hold the submission locks for every source address.
func (c *Client) submitTx(ctx context.Context, tx *txnbuild.Transaction, signers ...signer) (horizon.Transaction, error) {
	signed := tx
	for _, s := range signers {
		kp, err := s.keypair()
		if err != nil {
			return horizon.Transaction{}, err
		}
		signed, err = signed.Sign(c.passphrase, kp)
		if err != nil {
			return horizon.Transaction{}, &SecurityError{Reason: "signing transaction", Err: err}
		}
	}

	start := time.Now()
	resp, err := c.horizon.SubmitTransaction(ctx, signed)
	c.recordCall("submit_transaction", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "transaction submission failed", "error", err)
		return horizon.Transaction{}, NewCommsError("submit_transaction", err)
	}

	c.logger.InfoContext(ctx, "transaction submitted",
		"hash", resp.Hash,
		"ledger", resp.Ledger,
	)
	return resp, nil
}

func (c *Client) recordCall(op string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordHorizonCall(op, status, c.endpoint, time.Since(start).Seconds())
}
