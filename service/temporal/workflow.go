package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// defaultHistoryCount bounds how many ledger records one run scans.
const defaultHistoryCount = 50

// ReconcileWalletWorkflow is the Temporal workflow that reconciles one
// wallet's ledger history against the local ledger of record. It is
// triggered by a per-wallet Temporal schedule at a configured interval.
//
// The workflow performs these steps:
//  1. Fetch the wallet's recent ledger history and merge memo-correlated
//     records into local rows (FetchHistory activity)
//  2. Publish reconciled records to NATS (PublishRecords activity)
//  3. Refresh the wallet's cached balances from the ledger (RefreshBalances
//     activity)
func ReconcileWalletWorkflow(ctx workflow.Context, input ReconcileWalletInput) (*ReconcileWalletResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ReconcileWalletWorkflow started", "address", input.WalletAddress)

	result := &ReconcileWalletResult{
		Address:       input.WalletAddress,
		ReconcileTime: workflow.Now(ctx),
	}

	count := input.Count
	if count <= 0 {
		count = defaultHistoryCount
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 300 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	// Step 1: fetch and merge ledger history.
	var fetchResult *FetchHistoryResult
	err := workflow.ExecuteActivity(ctx, a.FetchHistory, FetchHistoryInput{
		WalletAddress: input.WalletAddress,
		Count:         count,
		AssetCode:     input.AssetCode,
	}).Get(ctx, &fetchResult)
	if err != nil {
		errMsg := fmt.Sprintf("failed to fetch ledger history: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to fetch ledger history: %w", err)
	}

	result.RecordCount = len(fetchResult.Transactions)
	for _, txn := range fetchResult.Transactions {
		if len(txn.MemoHash) > 0 {
			result.MergedCount++
		}
	}

	logger.Info("fetched ledger history",
		"address", input.WalletAddress,
		"record_count", result.RecordCount,
		"merged_count", result.MergedCount,
	)

	// Step 2: publish reconciled records. Best effort: a publish failure is
	// logged but does not fail the run, the merge already happened.
	if len(fetchResult.Transactions) > 0 {
		var publishResult *PublishRecordsResult
		err = workflow.ExecuteActivity(ctx, a.PublishRecords, PublishRecordsInput{
			WalletAddress: input.WalletAddress,
			Transactions:  fetchResult.Transactions,
		}).Get(ctx, &publishResult)
		if err != nil {
			logger.Warn("failed to publish reconciled records",
				"address", input.WalletAddress,
				"error", err,
			)
		} else {
			logger.Debug("published reconciled records",
				"address", input.WalletAddress,
				"published", publishResult.Published,
			)
		}
	}

	// Step 3: refresh cached balances.
	var refreshResult *RefreshBalancesResult
	err = workflow.ExecuteActivity(ctx, a.RefreshBalances, RefreshBalancesInput{
		WalletAddress: input.WalletAddress,
	}).Get(ctx, &refreshResult)
	if err != nil {
		errMsg := fmt.Sprintf("failed to refresh balances: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to refresh balances: %w", err)
	}

	logger.Info("ReconcileWalletWorkflow completed successfully",
		"address", input.WalletAddress,
		"record_count", result.RecordCount,
		"merged_count", result.MergedCount,
		"balance_count", len(refreshResult.Balances),
	)

	return result, nil
}
