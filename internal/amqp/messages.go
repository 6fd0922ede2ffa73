package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Operation is the kind of change a sync message announces.
type Operation string

const (
	OpUpsert Operation = "upsert"
	OpDelete Operation = "delete"
)

// TableSyncMessage announces that a table snapshot changed. It carries only
// identifiers; the worker reads the current snapshot from the database.
type TableSyncMessage struct {
	TableID   string    `json:"table_id"`
	OwnerID   string    `json:"owner_id"`
	Revision  int64     `json:"revision"`
	Operation Operation `json:"operation"`
	Timestamp time.Time `json:"timestamp"`
}

func NewTableSyncMessage(tableID, ownerID string, revision int64, op Operation) *TableSyncMessage {
	return &TableSyncMessage{
		TableID:   tableID,
		OwnerID:   ownerID,
		Revision:  revision,
		Operation: op,
		Timestamp: time.Now(),
	}
}

func (m *TableSyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// TableSyncMessageFromJSON decodes and validates a message body.
func TableSyncMessageFromJSON(data []byte) (*TableSyncMessage, error) {
	var msg TableSyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.TableID == "" {
		return nil, errors.New("sync message without table_id")
	}
	switch msg.Operation {
	case OpUpsert, OpDelete:
	default:
		return nil, fmt.Errorf("unknown sync operation %q", msg.Operation)
	}
	return &msg, nil
}
