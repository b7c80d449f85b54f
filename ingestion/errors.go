package ingestion

import "errors"

var (
	// ErrLedgerRequired is returned when a ledger is not provided.
	ErrLedgerRequired = errors.New("ledger required")

	// ErrSinkRequired is returned when a sink is not provided.
	ErrSinkRequired = errors.New("sink required")

	// ErrChunkerRequired is returned when a chunker is not provided.
	ErrChunkerRequired = errors.New("chunker required")

	// ErrInvalidMaxAttempts is returned when a retry policy allows no attempts.
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")
)
