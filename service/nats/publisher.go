package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/uhx/settle/service/metrics"
)

// Publisher defines the interface for publishing settlement and
// reconciliation events to NATS.
type Publisher interface {
	// PublishSettlement publishes a settlement outcome to JetStream.
	// The event is published to the subject "settlements.{rail}".
	PublishSettlement(ctx context.Context, event *SettlementEvent) error

	// PublishReconciliation publishes a reconciled ledger record.
	// The event is published to the subject "reconciliation.{wallet_address}".
	PublishReconciliation(ctx context.Context, event *ReconciliationEvent) error

	// PublishReconciliationBatch publishes multiple reconciliation events.
	// This is more efficient than calling PublishReconciliation multiple times.
	PublishReconciliationBatch(ctx context.Context, events []*ReconciliationEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes settlement and reconciliation events to NATS
// JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	logger  *slog.Logger
	metrics *metrics.Metrics
}

const (
	// StreamName is the name of the JetStream stream for ledger events.
	StreamName = "SETTLE"

	// SettlementSubjects is the subject pattern for settlement outcomes.
	SettlementSubjects = "settlements.*"

	// ReconciliationSubjects is the subject pattern for reconciled records.
	ReconciliationSubjects = "reconciliation.*"

	// StreamRetention is how long messages are retained (30 days by default).
	StreamRetention = 30 * 24 * time.Hour
)

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists. If m is nil, no metrics
// are recorded.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("settle-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		logger:  logger,
		metrics: m,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	streamConfig := jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Settlement and reconciliation events",
		Subjects:    []string{SettlementSubjects, ReconciliationSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}

	_, err = p.js.CreateStream(ctx, streamConfig)
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishSettlement publishes a settlement outcome.
func (p *JetStreamPublisher) PublishSettlement(ctx context.Context, event *SettlementEvent) error {
	if event.PublishedAt.IsZero() {
		event.PublishedAt = time.Now().UTC()
	}
	subject := fmt.Sprintf("settlements.%s", event.Rail)

	if err := p.publish(ctx, subject, event); err != nil {
		return fmt.Errorf("failed to publish settlement: %w", err)
	}

	p.logger.Debug("published settlement event",
		"subject", subject,
		"purchase_id", event.PurchaseID,
		"status", event.Status,
	)
	return nil
}

// PublishReconciliation publishes a single reconciled ledger record.
func (p *JetStreamPublisher) PublishReconciliation(ctx context.Context, event *ReconciliationEvent) error {
	if event.PublishedAt.IsZero() {
		event.PublishedAt = time.Now().UTC()
	}
	subject := fmt.Sprintf("reconciliation.%s", event.WalletAddress)

	if err := p.publish(ctx, subject, event); err != nil {
		return fmt.Errorf("failed to publish reconciliation record: %w", err)
	}

	p.logger.Debug("published reconciliation event",
		"subject", subject,
		"wallet", event.WalletAddress,
		"ref", event.Ref,
	)
	return nil
}

// PublishReconciliationBatch publishes multiple reconciliation events.
func (p *JetStreamPublisher) PublishReconciliationBatch(ctx context.Context, events []*ReconciliationEvent) error {
	if len(events) == 0 {
		return nil
	}

	for _, event := range events {
		if err := p.PublishReconciliation(ctx, event); err != nil {
			// Log and continue; one bad record must not sink the batch.
			p.logger.Error("failed to publish reconciliation record in batch",
				"wallet", event.WalletAddress,
				"ref", event.Ref,
				"error", err,
			)
			continue
		}
	}

	p.logger.Debug("published reconciliation batch",
		"count", len(events),
	)
	return nil
}

func (p *JetStreamPublisher) publish(ctx context.Context, subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	start := time.Now()
	_, err = p.js.Publish(ctx, subject, data)
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(subject, status, time.Since(start).Seconds())
	}
	return err
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
