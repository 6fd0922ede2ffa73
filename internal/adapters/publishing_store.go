// Package adapters decorates outbound ports with cross-cutting behaviour.
package adapters

import (
	"context"
	"log/slog"

	"finai/internal/amqp"
	"finai/internal/core"
	"finai/internal/ports"
)

// Publisher announces table changes to the sync worker.
type Publisher interface {
	PublishTableSync(ctx context.Context, msg *amqp.TableSyncMessage) error
}

// PublishingStore wraps a TableStore and publishes a sync message after
// every successful write. Publish failures are logged and swallowed: the
// write already succeeded and the worker sweep picks up pending rows.
type PublishingStore struct {
	store     ports.TableStore
	publisher Publisher
	logger    *slog.Logger
}

var _ ports.TableStore = (*PublishingStore)(nil)

func NewPublishingStore(store ports.TableStore, publisher Publisher, logger *slog.Logger) *PublishingStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublishingStore{store: store, publisher: publisher, logger: logger}
}

func (s *PublishingStore) List(ctx context.Context, ownerID string) ([]core.Table, error) {
	return s.store.List(ctx, ownerID)
}

func (s *PublishingStore) Upsert(ctx context.Context, ownerID string, t core.Table) (core.Table, error) {
	saved, err := s.store.Upsert(ctx, ownerID, t)
	if err != nil {
		return saved, err
	}
	s.publish(ctx, amqp.NewTableSyncMessage(saved.ID, ownerID, saved.Revision, amqp.OpUpsert))
	return saved, nil
}

func (s *PublishingStore) Delete(ctx context.Context, tableID string) error {
	if err := s.store.Delete(ctx, tableID); err != nil {
		return err
	}
	s.publish(ctx, amqp.NewTableSyncMessage(tableID, "", 0, amqp.OpDelete))
	return nil
}

// Provision forwards to the wrapped store when it supports provisioning.
func (s *PublishingStore) Provision(ctx context.Context) error {
	p, ok := s.store.(ports.Provisioner)
	if !ok {
		return nil
	}
	return p.Provision(ctx)
}

func (s *PublishingStore) publish(ctx context.Context, msg *amqp.TableSyncMessage) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishTableSync(ctx, msg); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish table sync message",
			"table_id", msg.TableID,
			"operation", string(msg.Operation),
			"revision", msg.Revision,
			"error", err)
	}
}
