package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/calderahq/backoffice-backend/pkg/config"
	"github.com/calderahq/backoffice-backend/pkg/db/models"
	"github.com/calderahq/backoffice-backend/pkg/enums"
	"github.com/calderahq/backoffice-backend/pkg/logger"
	"github.com/calderahq/backoffice-backend/pkg/outbox"
	"github.com/calderahq/backoffice-backend/pkg/outbox/payloads"
	"github.com/calderahq/backoffice-backend/pkg/outbox/registry"
)

const (
	testFulfillmentTopic = "fulfillment-events"
	testInventoryTopic   = "inventory-events"
)

func TestDispatcherRoutesEventsByTopic(t *testing.T) {
	shipped := shipmentRow(t, enums.EventShipmentShipped)
	released := eventRow(t, enums.EventStockReleased, enums.AggregateStockRecord, payloads.StockReleasedEvent{
		VariantID:  uuid.New(),
		LocationID: uuid.New(),
		Qty:        3,
		ReleasedAt: time.Now(),
	})
	rows := &memoryRows{rows: []models.OutboxEvent{shipped, released}}
	topics := &scriptedTopics{}
	d := newTestDispatcher(t, rows, topics, nil, config.OutboxConfig{})

	dispatched, err := d.drainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain returned error: %v", err)
	}
	if dispatched != 2 {
		t.Fatalf("expected 2 rows dispatched, got %d", dispatched)
	}
	if len(topics.topics) != 2 || topics.topics[0] != testFulfillmentTopic || topics.topics[1] != testInventoryTopic {
		t.Fatalf("unexpected topic routing: %v", topics.topics)
	}
	if len(rows.published) != 2 {
		t.Fatalf("expected both rows marked published, got %d", len(rows.published))
	}
	if got := topics.msgs[0].Attributes["event_type"]; got != string(enums.EventShipmentShipped) {
		t.Fatalf("unexpected event_type attribute: %s", got)
	}
	if topics.msgs[1].Attributes["aggregate_id"] != released.AggregateID.String() {
		t.Fatalf("aggregate_id attribute mismatch")
	}
}

func TestDispatcherKeepsDrainingAfterTransientError(t *testing.T) {
	first := shipmentRow(t, enums.EventShipmentShipped)
	second := shipmentRow(t, enums.EventShipmentDelivered)
	rows := &memoryRows{rows: []models.OutboxEvent{first, second}}
	topics := &scriptedTopics{errs: []error{errors.New("transient"), nil}}
	d := newTestDispatcher(t, rows, topics, nil, config.OutboxConfig{})

	dispatched, err := d.drainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain returned error: %v", err)
	}
	if dispatched != 2 {
		t.Fatalf("expected 2 rows dispatched, got %d", dispatched)
	}
	if len(rows.failed) != 1 || rows.failed[0] != first.ID {
		t.Fatalf("expected first row marked failed, got %v", rows.failed)
	}
	if len(rows.published) != 1 || rows.published[0] != second.ID {
		t.Fatalf("expected second row published, got %v", rows.published)
	}
	if len(rows.terminal) != 0 {
		t.Fatalf("transient failure must not be terminal")
	}
}

func TestDispatcherParksMalformedPayload(t *testing.T) {
	row := shipmentRow(t, enums.EventShipmentShipped)
	row.Payload = json.RawMessage(`{"version":1,"eventId":"x","occurredAt":"2026-01-01T00:00:00Z","data":null}`)
	rows := &memoryRows{rows: []models.OutboxEvent{row}}
	topics := &scriptedTopics{}
	dlq := &memoryDLQ{}
	d := newTestDispatcher(t, rows, topics, dlq, config.OutboxConfig{})

	if _, err := d.drainOnce(context.Background()); err != nil {
		t.Fatalf("drain returned error: %v", err)
	}
	if len(topics.topics) != 0 {
		t.Fatalf("malformed row must not be published")
	}
	if len(dlq.entries) != 1 {
		t.Fatalf("expected dlq entry, got %d", len(dlq.entries))
	}
	entry := dlq.entries[0]
	if entry.EventID != row.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if entry.ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
	if len(rows.terminal) != 1 || rows.terminal[0] != row.ID {
		t.Fatalf("expected row marked terminal, got %v", rows.terminal)
	}
}

func TestDispatcherParksAfterMaxAttempts(t *testing.T) {
	row := shipmentRow(t, enums.EventShipmentShipped)
	row.AttemptCount = 2
	rows := &memoryRows{rows: []models.OutboxEvent{row}}
	topics := &scriptedTopics{errs: []error{errors.New("transient")}}
	dlq := &memoryDLQ{}
	d := newTestDispatcher(t, rows, topics, dlq, config.OutboxConfig{MaxAttempts: 3})

	if _, err := d.drainOnce(context.Background()); err != nil {
		t.Fatalf("drain returned error: %v", err)
	}
	if len(dlq.entries) != 1 {
		t.Fatalf("expected dlq entry, got %d", len(dlq.entries))
	}
	if dlq.entries[0].ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("unexpected error reason: %s", dlq.entries[0].ErrorReason)
	}
	if len(rows.failed) != 0 {
		t.Fatalf("exhausted row must be parked, not retried")
	}
}

func newTestDispatcher(t *testing.T, rows *memoryRows, topics *scriptedTopics, dlq *memoryDLQ, cfg config.OutboxConfig) *dispatcher {
	t.Helper()
	if dlq == nil {
		dlq = &memoryDLQ{}
	}
	resolver, err := newTestRegistry()
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "outbox-publisher-test",
		Output:      io.Discard,
	})
	d, err := newDispatcher(cfg, logg, noTxDB{}, topics, rows, resolver, dlq)
	if err != nil {
		t.Fatalf("construct dispatcher: %v", err)
	}
	return d
}

func newTestRegistry() (eventResolver, error) {
	return registry.NewEventRegistry(config.PubSubConfig{
		FulfillmentTopic: testFulfillmentTopic,
		InventoryTopic:   testInventoryTopic,
	})
}

func shipmentRow(t *testing.T, eventType enums.OutboxEventType) models.OutboxEvent {
	t.Helper()
	return eventRow(t, eventType, enums.AggregateShipment, payloads.ShipmentStatusEvent{
		ShipmentID: uuid.New(),
		OrderID:    uuid.New(),
		LocationID: uuid.New(),
		Status:     enums.ShipmentStatusShipped,
		ChangedAt:  time.Now(),
	})
}

func eventRow(t *testing.T, eventType enums.OutboxEventType, aggregateType enums.OutboxAggregateType, data any) models.OutboxEvent {
	t.Helper()
	body, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	envelope, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now(),
		Data:       body,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   uuid.New(),
		Payload:       envelope,
	}
}

type memoryRows struct {
	rows      []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (m *memoryRows) FetchUnpublishedForPublish(_ *gorm.DB, _, _ int) ([]models.OutboxEvent, error) {
	return m.rows, nil
}

func (m *memoryRows) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	m.published = append(m.published, id)
	return nil
}

func (m *memoryRows) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	m.failed = append(m.failed, id)
	return nil
}

func (m *memoryRows) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	m.terminal = append(m.terminal, id)
	return nil
}

type memoryDLQ struct {
	entries []models.OutboxDLQ
}

func (m *memoryDLQ) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	m.entries = append(m.entries, entry)
	return nil
}

type scriptedTopics struct {
	errs   []error
	topics []string
	msgs   []*gcppubsub.Message
}

func (s *scriptedTopics) Ping(context.Context) error {
	return nil
}

func (s *scriptedTopics) Publish(_ context.Context, topic string, msg *gcppubsub.Message) error {
	s.topics = append(s.topics, topic)
	s.msgs = append(s.msgs, msg)
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

type noTxDB struct{}

func (noTxDB) Ping(context.Context) error {
	return nil
}

func (noTxDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}
