package badger

import "strings"

// Key prefixes for different data types
const (
	ledgerPrefix = "ledger:"
)

// makeLedgerKey generates the key holding a source's ledger entry.
// Format: ledger:<sourceID>
func makeLedgerKey(sourceID string) []byte {
	buf := make([]byte, 0, len(ledgerPrefix)+len(sourceID))
	buf = append(buf, ledgerPrefix...)
	return append(buf, sourceID...)
}

// sourceIDFromKey strips the ledger prefix from a key.
func sourceIDFromKey(key []byte) string {
	return strings.TrimPrefix(string(key), ledgerPrefix)
}
