package ports

import (
	"context"

	"finai/internal/core"
)

// Ports for outbound adapters.
type (
	// TableStore persists whole table snapshots per owner. Implementations
	// return an error wrapping core.ErrNotProvisioned when the backing
	// storage has not been set up.
	TableStore interface {
		List(ctx context.Context, ownerID string) ([]core.Table, error)
		Upsert(ctx context.Context, ownerID string, t core.Table) (core.Table, error)
		Delete(ctx context.Context, tableID string) error
	}

	// Provisioner creates the backing storage for a TableStore.
	Provisioner interface {
		Provision(ctx context.Context) error
	}

	// Assistant is the text generation collaborator.
	Assistant interface {
		// DraftTable proposes a table for the prompt. Malformed model output
		// is an error wrapping core.ErrMalformedDraft.
		DraftTable(ctx context.Context, prompt string) (core.TableDraft, error)
		// Advise answers the prompt using the owner's tables as context.
		Advise(ctx context.Context, tables []core.Table, prompt string) (string, error)
	}

	// TableExporter mirrors persisted tables to an external destination.
	TableExporter interface {
		ExportTable(ctx context.Context, ownerID string, t core.Table) (ref string, err error)
		RemoveTable(ctx context.Context, tableID string) error
	}
)
