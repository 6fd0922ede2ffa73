package adapters

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"finai/internal/amqp"
	"finai/internal/core"
	"finai/internal/storage/memory"
)

type recordingPublisher struct {
	msgs []*amqp.TableSyncMessage
	err  error
}

func (p *recordingPublisher) PublishTableSync(_ context.Context, msg *amqp.TableSyncMessage) error {
	p.msgs = append(p.msgs, msg)
	return p.err
}

type failingStore struct{ memory.Store }

func (*failingStore) Upsert(context.Context, string, core.Table) (core.Table, error) {
	return core.Table{}, errors.New("disk full")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func table(id string) core.Table {
	return core.Table{ID: id, Name: "Budget", CreatedAt: time.Unix(0, 0).UTC()}
}

func TestPublishingStorePublishesAfterWrites(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	s := NewPublishingStore(memory.New(), pub, quietLogger())

	saved, err := s.Upsert(ctx, "owner-1", table("t1"))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Delete(ctx, "t1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if len(pub.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(pub.msgs))
	}
	up := pub.msgs[0]
	if up.Operation != amqp.OpUpsert || up.TableID != "t1" || up.OwnerID != "owner-1" || up.Revision != saved.Revision {
		t.Fatalf("unexpected upsert message %+v", up)
	}
	if pub.msgs[1].Operation != amqp.OpDelete || pub.msgs[1].TableID != "t1" {
		t.Fatalf("unexpected delete message %+v", pub.msgs[1])
	}
}

func TestPublishingStoreIgnoresPublishErrors(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	s := NewPublishingStore(memory.New(), pub, quietLogger())

	if _, err := s.Upsert(context.Background(), "owner-1", table("t1")); err != nil {
		t.Fatalf("publish failure must not fail the write: %v", err)
	}
}

func TestPublishingStoreSkipsFailedWrites(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewPublishingStore(&failingStore{}, pub, quietLogger())

	if _, err := s.Upsert(context.Background(), "owner-1", table("t1")); err == nil {
		t.Fatalf("expected error")
	}
	if len(pub.msgs) != 0 {
		t.Fatalf("nothing should be published for a failed write")
	}
}

func TestPublishingStoreWithoutPublisher(t *testing.T) {
	s := NewPublishingStore(memory.New(), nil, quietLogger())
	if _, err := s.Upsert(context.Background(), "o", table("t1")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Provision(context.Background()); err != nil {
		t.Fatalf("Provision on memory store: %v", err)
	}
}
