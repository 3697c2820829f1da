package temporal

import (
	"context"
	"time"
)

// Scheduler manages Temporal schedules for wallet reconciliation.
// Each wallet gets its own schedule that triggers ReconcileWalletWorkflow.
type Scheduler interface {
	// CreateWalletSchedule creates a new schedule for reconciling a wallet.
	CreateWalletSchedule(ctx context.Context, address string, interval time.Duration) error

	// UpsertWalletSchedule creates the schedule or updates its interval.
	UpsertWalletSchedule(ctx context.Context, address string, interval time.Duration) error

	// DeleteWalletSchedule deletes the schedule for a wallet.
	// This stops the wallet from being reconciled.
	DeleteWalletSchedule(ctx context.Context, address string) error
}

// scheduleID returns the Temporal schedule ID for a wallet address.
func scheduleID(address string) string {
	return "reconcile-wallet-" + address
}
