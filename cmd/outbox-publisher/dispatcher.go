package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/calderahq/backoffice-backend/pkg/config"
	"github.com/calderahq/backoffice-backend/pkg/db/models"
	"github.com/calderahq/backoffice-backend/pkg/enums"
	"github.com/calderahq/backoffice-backend/pkg/logger"
	"github.com/calderahq/backoffice-backend/pkg/outbox/registry"
	"github.com/calderahq/backoffice-backend/pkg/pubsub"
)

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type outboxRows interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetterSink interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// topicPublisher is the slice of the pubsub client the dispatcher needs: a
// readiness probe and a blocking publish to a named topic.
type topicPublisher interface {
	Ping(context.Context) error
	Publish(ctx context.Context, topic string, msg *gcppubsub.Message) error
}

// dispatcher drains outbox_events rows and pushes them to the fulfillment and
// inventory topics. Each polling round runs in one transaction over the
// SKIP LOCKED fetch, so concurrent instances never double-publish a row.
type dispatcher struct {
	logg           *logger.Logger
	db             txRunner
	repo           outboxRows
	dlq            deadLetterSink
	resolver       eventResolver
	topics         topicPublisher
	batchSize      int
	maxAttempts    int
	pollInterval   time.Duration
	publishTimeout time.Duration
	maxBackoff     time.Duration
	jitter         time.Duration
}

func newDispatcher(
	cfg config.OutboxConfig,
	logg *logger.Logger,
	db txRunner,
	topics topicPublisher,
	repo outboxRows,
	resolver eventResolver,
	dlq deadLetterSink,
) (*dispatcher, error) {
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if db == nil {
		return nil, errors.New("database client is required")
	}
	if topics == nil {
		return nil, errors.New("topic publisher is required")
	}
	if repo == nil {
		return nil, errors.New("outbox repository is required")
	}
	if resolver == nil {
		return nil, errors.New("event registry is required")
	}
	if dlq == nil {
		return nil, errors.New("dlq repository is required")
	}

	return &dispatcher{
		logg:           logg,
		db:             db,
		repo:           repo,
		dlq:            dlq,
		resolver:       resolver,
		topics:         topics,
		batchSize:      positiveOr(cfg.BatchSize, 50),
		maxAttempts:    positiveOr(cfg.MaxAttempts, 10),
		pollInterval:   millisOr(cfg.PollIntervalMS, 500*time.Millisecond),
		publishTimeout: millisOr(cfg.PublishTimeoutMS, 15*time.Second),
		maxBackoff:     millisOr(cfg.MaxBackoffMS, 10*time.Second),
		jitter:         millisOr(cfg.JitterMS, 250*time.Millisecond),
	}, nil
}

func positiveOr(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func millisOr(ms int, fallback time.Duration) time.Duration {
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

// Run polls until the context is canceled. Transient batch errors stretch the
// poll interval up to maxBackoff; a drained batch polls again immediately.
func (d *dispatcher) Run(ctx context.Context) error {
	if err := d.db.Ping(ctx); err != nil {
		d.logg.Error(ctx, "database ping failed", err)
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := d.topics.Ping(ctx); err != nil {
		d.logg.Error(ctx, "pubsub ping failed", err)
		return fmt.Errorf("pubsub ping failed: %w", err)
	}

	delay := d.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			d.logg.Info(ctx, "outbox dispatcher context canceled")
			return err
		}

		dispatched, err := d.drainOnce(ctx)
		switch {
		case err != nil:
			d.logg.Error(ctx, "outbox batch failed", err)
			delay = min(delay*2, d.maxBackoff)
		case dispatched > 0:
			delay = d.pollInterval
			continue
		default:
			delay = d.pollInterval
		}

		if err := d.idle(ctx, delay); err != nil {
			return err
		}
	}
}

// drainOnce claims one batch of unpublished rows and dispatches each in turn.
// A row that fails transiently is marked and left for the next round; the
// rest of the batch still goes out.
func (d *dispatcher) drainOnce(ctx context.Context) (int, error) {
	dispatched := 0
	err := d.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := d.repo.FetchUnpublishedForPublish(tx, d.batchSize, d.maxAttempts)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := d.dispatchRow(ctx, tx, row); err != nil {
				return err
			}
			dispatched++
		}
		return nil
	})
	return dispatched, err
}

func (d *dispatcher) dispatchRow(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) error {
	resolved, err := d.resolver.Resolve(row)
	if err != nil {
		return d.park(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, err)
	}

	logCtx := d.logg.WithFields(ctx, d.rowFields(row, resolved))
	publishErr := d.publish(ctx, row, resolved)
	if publishErr == nil {
		if err := d.repo.MarkPublishedTx(tx, row.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		d.logg.Info(logCtx, "outbox event published")
		return nil
	}

	var nonRetryable registry.NonRetryableError
	if errors.As(publishErr, &nonRetryable) {
		return d.park(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, publishErr)
	}
	if row.AttemptCount+1 >= d.maxAttempts {
		return d.park(ctx, tx, row, enums.OutboxDLQReasonMaxAttempts,
			fmt.Errorf("max publish attempts reached: %w", publishErr))
	}

	d.logg.Warn(d.logg.WithField(logCtx, "error", publishErr.Error()), "outbox publish failed")
	if err := d.repo.MarkFailedTx(tx, row.ID, publishErr); err != nil {
		return fmt.Errorf("mark failure %s: %w", row.ID, err)
	}
	return nil
}

func (d *dispatcher) publish(ctx context.Context, row models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	msg := &gcppubsub.Message{
		Data: row.Payload,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(row.EventType),
			"aggregate_type": string(row.AggregateType),
			"aggregate_id":   row.AggregateID.String(),
			"occurred_at":    resolved.Envelope.OccurredAt.Format(time.RFC3339Nano),
		},
	}
	publishCtx, cancel := context.WithTimeout(ctx, d.publishTimeout)
	defer cancel()
	return d.topics.Publish(publishCtx, resolved.Descriptor.Topic, msg)
}

// park moves the row to the dead-letter table and marks it terminal; the row
// never comes back into rotation.
func (d *dispatcher) park(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	logCtx := d.logg.WithFields(ctx, map[string]any{
		"outbox_id":    row.ID.String(),
		"event_type":   row.EventType,
		"error_reason": reason,
		"error":        cause.Error(),
	})
	d.logg.Warn(logCtx, "outbox event parked in dlq")

	message := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &message,
		AttemptCount:  row.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := d.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", row.ID, err)
	}
	if err := d.repo.MarkTerminalTx(tx, row.ID, cause, d.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", row.ID, err)
	}
	return nil
}

func (d *dispatcher) rowFields(row models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      row.ID.String(),
		"event_type":     row.EventType,
		"aggregate_type": row.AggregateType,
		"aggregate_id":   row.AggregateID.String(),
		"attempt_count":  row.AttemptCount,
		"topic":          resolved.Descriptor.Topic,
		"event_id":       resolved.Envelope.EventID,
	}
	if row.LastError != nil {
		fields["last_error"] = *row.LastError
	}
	return fields
}

func (d *dispatcher) idle(ctx context.Context, delay time.Duration) error {
	if d.jitter > 0 {
		delay += rand.N(d.jitter)
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// pubsubTopics adapts the shared pubsub client to the dispatcher's publish
// surface. An unconfigured topic is terminal, not transient.
type pubsubTopics struct {
	client *pubsub.Client
}

func (p pubsubTopics) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

func (p pubsubTopics) Publish(ctx context.Context, topic string, msg *gcppubsub.Message) error {
	pub := p.client.Publisher(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}
	_, err := pub.Publish(ctx, msg).Get(ctx)
	return err
}
