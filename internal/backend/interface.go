// Package backend selects and wires the TableStore implementation.
package backend

import (
	"context"

	"finai/internal/ports"
	"finai/internal/storage"
)

// CleanupFunc releases backend resources.
type CleanupFunc func() error

// BackendResult is what a Factory hands to the server.
type BackendResult struct {
	Store ports.TableStore
	// Provisioner is nil when the store needs no provisioning.
	Provisioner ports.Provisioner
	// Repository is set for the sqlite backend only.
	Repository *storage.SQLiteRepository
	Cleanup    CleanupFunc
}

// Close runs Cleanup when one is set.
func (r *BackendResult) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}

type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds what backend creation needs from the application config.
type Config struct {
	Type BackendType

	// memory
	SeedFile string

	// sqlite
	SQLiteDBPath      string
	SQLiteAutoMigrate bool

	// sync events, sqlite only
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
