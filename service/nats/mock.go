package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu                   sync.RWMutex
	settlementEvents     []*SettlementEvent
	reconciliationEvents []*ReconciliationEvent
	publishError         error
	closed               bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		settlementEvents:     make([]*SettlementEvent, 0),
		reconciliationEvents: make([]*ReconciliationEvent, 0),
	}
}

// PublishSettlement records the event and returns any configured error.
func (m *MockPublisher) PublishSettlement(ctx context.Context, event *SettlementEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.settlementEvents = append(m.settlementEvents, event)
	return nil
}

// PublishReconciliation records the event and returns any configured error.
func (m *MockPublisher) PublishReconciliation(ctx context.Context, event *ReconciliationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.reconciliationEvents = append(m.reconciliationEvents, event)
	return nil
}

// PublishReconciliationBatch records the events and returns any configured error.
func (m *MockPublisher) PublishReconciliationBatch(ctx context.Context, events []*ReconciliationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.reconciliationEvents = append(m.reconciliationEvents, events...)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetSettlementEvents returns all published settlement events (for testing).
func (m *MockPublisher) GetSettlementEvents() []*SettlementEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*SettlementEvent, len(m.settlementEvents))
	copy(events, m.settlementEvents)
	return events
}

// GetReconciliationEvents returns all published reconciliation events (for testing).
func (m *MockPublisher) GetReconciliationEvents() []*ReconciliationEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*ReconciliationEvent, len(m.reconciliationEvents))
	copy(events, m.reconciliationEvents)
	return events
}

// GetReconciliationEventsForWallet returns events published for a specific wallet.
func (m *MockPublisher) GetReconciliationEventsForWallet(address string) []*ReconciliationEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*ReconciliationEvent, 0)
	for _, event := range m.reconciliationEvents {
		if event.WalletAddress == address {
			events = append(events, event)
		}
	}
	return events
}

// SetPublishError configures the mock to return an error on every publish.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// Reset clears all published events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settlementEvents = make([]*SettlementEvent, 0)
	m.reconciliationEvents = make([]*ReconciliationEvent, 0)
	m.publishError = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
