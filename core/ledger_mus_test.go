package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerEntryMUS(t *testing.T) {
	entry := LedgerEntry{
		SourceID:    "/data/pdfs/handbook.pdf",
		Digest:      FingerprintBytes([]byte("handbook")),
		Units:       12,
		Chunks:      4,
		CommittedAt: time.Date(2025, 6, 1, 12, 30, 0, 123000, time.UTC),
	}

	buf := make([]byte, LedgerEntryMUS.Size(entry))
	n := LedgerEntryMUS.Marshal(entry, buf)
	assert.Equal(t, len(buf), n)

	decoded, m, err := LedgerEntryMUS.Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, n, m)
	assert.Equal(t, entry, decoded)

	skipped, err := LedgerEntryMUS.Skip(buf)
	require.NoError(t, err)
	assert.Equal(t, n, skipped)
}

func TestLedgerEntryMUS_Truncated(t *testing.T) {
	entry := LedgerEntry{SourceID: "x", Digest: FingerprintBytes([]byte("x"))}
	buf := make([]byte, LedgerEntryMUS.Size(entry))
	LedgerEntryMUS.Marshal(entry, buf)

	_, _, err := LedgerEntryMUS.Unmarshal(buf[:len(buf)-3])
	assert.Error(t, err)
}
