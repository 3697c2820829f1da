// Package temporal schedules and runs the recurring wallet-reconciliation
// workflow. Each tracked wallet gets its own Temporal schedule that triggers
// ReconcileWalletWorkflow at the configured interval.
package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/uhx/settle/service/db"
	"github.com/uhx/settle/service/metrics"
	natspkg "github.com/uhx/settle/service/nats"
	"github.com/uhx/settle/service/stellar"
)

// ReconcileWalletInput contains the input parameters for reconciling a wallet.
type ReconcileWalletInput struct {
	WalletAddress string `json:"wallet_address"`
	Count         int    `json:"count"`                // ledger records to scan per run
	AssetCode     string `json:"asset_code,omitempty"` // optional filter
}

// ReconcileWalletResult contains the result of one reconciliation run.
type ReconcileWalletResult struct {
	Address       string    `json:"address"`
	RecordCount   int       `json:"record_count"`
	MergedCount   int       `json:"merged_count"`
	ReconcileTime time.Time `json:"reconcile_time"`
	Error         *string   `json:"error,omitempty"`
}

// FetchHistoryInput contains parameters for the FetchHistory activity.
type FetchHistoryInput struct {
	WalletAddress string `json:"wallet_address"`
	Count         int    `json:"count"`
	AssetCode     string `json:"asset_code,omitempty"`
}

// FetchHistoryResult contains the reconciled records from one history scan.
type FetchHistoryResult struct {
	Transactions []*db.Transaction `json:"transactions"`
}

// PublishRecordsInput contains parameters for the PublishRecords activity.
type PublishRecordsInput struct {
	WalletAddress string            `json:"wallet_address"`
	Transactions  []*db.Transaction `json:"transactions"`
}

// PublishRecordsResult contains the result of publishing reconciled records.
type PublishRecordsResult struct {
	Published int `json:"published"`
}

// RefreshBalancesInput contains parameters for the RefreshBalances activity.
type RefreshBalancesInput struct {
	WalletAddress string `json:"wallet_address"`
}

// RefreshBalancesResult contains the refreshed balance list.
type RefreshBalancesResult struct {
	Balances []db.MonetaryAmount `json:"balances"`
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	GetWalletByAddress(ctx context.Context, address string) (*db.Wallet, error)
	UpdateWalletBalances(ctx context.Context, id uuid.UUID, balances []db.MonetaryAmount) (*db.Wallet, error)
}

// ReconcilerInterface defines the history operations needed by activities.
// This allows for easy mocking in tests.
type ReconcilerInterface interface {
	GetTransactionHistory(ctx context.Context, wallet *db.Wallet, filter stellar.HistoryFilter) ([]*db.Transaction, error)
}

// AccountsInterface defines the ledger account operations needed by activities.
// This allows for easy mocking in tests.
type AccountsInterface interface {
	RefreshBalances(ctx context.Context, wallet *db.Wallet) (*db.Wallet, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
// This allows for easy mocking in tests.
type PublisherInterface interface {
	PublishReconciliationBatch(ctx context.Context, events []*natspkg.ReconciliationEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// All dependencies are explicit.
type Activities struct {
	store      StoreInterface
	reconciler ReconcilerInterface
	accounts   AccountsInterface
	publisher  PublisherInterface
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If m is nil, no metrics will be recorded.
func NewActivities(
	store StoreInterface,
	reconciler ReconcilerInterface,
	accounts AccountsInterface,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:      store,
		reconciler: reconciler,
		accounts:   accounts,
		publisher:  publisher,
		metrics:    m,
		logger:     logger,
	}
}

// FetchHistory scans the wallet's ledger history and merges memo-correlated
// records into the local ledger of record.
func (a *Activities) FetchHistory(ctx context.Context, input FetchHistoryInput) (*FetchHistoryResult, error) {
	start := time.Now()
	defer a.recordActivity("FetchHistory", start)

	a.logger.DebugContext(ctx, "fetching ledger history",
		"address", input.WalletAddress,
		"count", input.Count,
		"asset_code", input.AssetCode,
	)

	wallet, err := a.store.GetWalletByAddress(ctx, input.WalletAddress)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to load wallet",
			"address", input.WalletAddress,
			"error", err,
		)
		return nil, fmt.Errorf("failed to load wallet %s: %w", input.WalletAddress, err)
	}

	transactions, err := a.reconciler.GetTransactionHistory(ctx, wallet, stellar.HistoryFilter{
		Count:     input.Count,
		AssetCode: input.AssetCode,
	})
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to fetch ledger history",
			"address", input.WalletAddress,
			"error", err,
		)
		return nil, fmt.Errorf("failed to fetch ledger history: %w", err)
	}

	a.logger.InfoContext(ctx, "fetched ledger history",
		"address", input.WalletAddress,
		"count", len(transactions),
	)
	return &FetchHistoryResult{Transactions: transactions}, nil
}

// PublishRecords publishes reconciled records to NATS for downstream
// subscribers. Publishing is best effort; the merge already happened.
func (a *Activities) PublishRecords(ctx context.Context, input PublishRecordsInput) (*PublishRecordsResult, error) {
	start := time.Now()
	defer a.recordActivity("PublishRecords", start)

	if len(input.Transactions) == 0 || a.publisher == nil {
		return &PublishRecordsResult{}, nil
	}

	events := make([]*natspkg.ReconciliationEvent, 0, len(input.Transactions))
	for _, txn := range input.Transactions {
		events = append(events, natspkg.ReconciliationEventFromTransaction(input.WalletAddress, txn))
	}

	if err := a.publisher.PublishReconciliationBatch(ctx, events); err != nil {
		a.logger.ErrorContext(ctx, "failed to publish reconciliation events",
			"address", input.WalletAddress,
			"count", len(events),
			"error", err,
		)
		return nil, fmt.Errorf("failed to publish reconciliation events: %w", err)
	}

	a.logger.DebugContext(ctx, "published reconciliation events",
		"address", input.WalletAddress,
		"count", len(events),
	)
	return &PublishRecordsResult{Published: len(events)}, nil
}

// RefreshBalances re-reads the wallet's ledger balances and persists them.
func (a *Activities) RefreshBalances(ctx context.Context, input RefreshBalancesInput) (*RefreshBalancesResult, error) {
	start := time.Now()
	defer a.recordActivity("RefreshBalances", start)

	wallet, err := a.store.GetWalletByAddress(ctx, input.WalletAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet %s: %w", input.WalletAddress, err)
	}

	refreshed, err := a.accounts.RefreshBalances(ctx, wallet)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to refresh balances",
			"address", input.WalletAddress,
			"error", err,
		)
		return nil, fmt.Errorf("failed to refresh balances: %w", err)
	}

	if _, err := a.store.UpdateWalletBalances(ctx, wallet.ID, refreshed.Balances); err != nil {
		return nil, fmt.Errorf("failed to persist balances: %w", err)
	}

	a.logger.DebugContext(ctx, "refreshed wallet balances",
		"address", input.WalletAddress,
		"balance_count", len(refreshed.Balances),
	)
	return &RefreshBalancesResult{Balances: refreshed.Balances}, nil
}

func (a *Activities) recordActivity(name string, start time.Time) {
	if a.metrics == nil {
		return
	}
	a.metrics.RecordReconcileActivity(name, time.Since(start).Seconds())
}
