package storage

import (
	"context"

	"github.com/poiesic/prepdocs/core"
)

// Ledger persists the last successfully processed fingerprint of each source.
// Implementations must be thread-safe, and Commit must be atomic per source.
type Ledger interface {
	// Lookup returns the recorded digest for sourceID.
	// The boolean is false when the source has never been committed.
	Lookup(ctx context.Context, sourceID string) (core.Digest, bool, error)

	// Commit durably records entry, replacing any previous entry for its source.
	// Callers commit only after the sink has accepted the source's chunks.
	Commit(ctx context.Context, entry core.LedgerEntry) error

	// Forget removes the entry for sourceID. Forgetting an unknown source is not an error.
	Forget(ctx context.Context, sourceID string) error

	// Close releases resources held by the ledger.
	Close() error
}

// Lister is implemented by ledgers that can enumerate their entries.
type Lister interface {
	// Entries returns every committed entry ordered by source ID.
	Entries(ctx context.Context) ([]core.LedgerEntry, error)
}

// Resetter is implemented by ledgers that can drop every entry at once.
type Resetter interface {
	// Reset forgets every source the ledger knows about.
	Reset(ctx context.Context) error
}
