package storage

import (
	"testing"
	"time"

	"github.com/poiesic/prepdocs/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalLedgerEntry(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)

	tests := []struct {
		name  string
		entry *core.LedgerEntry
	}{
		{
			name: "local file",
			entry: &core.LedgerEntry{
				SourceID:    "/srv/data/pdfs/policy.pdf",
				Digest:      core.FingerprintBytes([]byte("policy")),
				Units:       30,
				Chunks:      9,
				CommittedAt: now,
			},
		},
		{
			name: "url source",
			entry: &core.LedgerEntry{
				SourceID:    "https://example.com/files/guide.pdf?rev=3",
				Digest:      core.FingerprintBytes([]byte("guide")),
				CommittedAt: now,
			},
		},
		{
			name: "unicode source id",
			entry: &core.LedgerEntry{
				SourceID:    "/data/rapports/bilan-été.xlsx",
				Digest:      core.FingerprintBytes([]byte("bilan")),
				Units:       1,
				Chunks:      1,
				CommittedAt: now,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := MarshalLedgerEntry(tt.entry)
			require.NotEmpty(t, data)

			decoded, err := UnmarshalLedgerEntry(data)
			require.NoError(t, err)
			assert.Equal(t, tt.entry, decoded)
		})
	}
}

func TestUnmarshalLedgerEntry_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty data", []byte{}},
		{"truncated string", []byte{0x10, 'a'}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalLedgerEntry(tt.data)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSerializationFailed)
		})
	}
}

func TestValidateEntry(t *testing.T) {
	digest := core.FingerprintBytes([]byte("x"))

	assert.NoError(t, ValidateEntry(&core.LedgerEntry{SourceID: "a", Digest: digest}))
	assert.ErrorIs(t, ValidateEntry(&core.LedgerEntry{Digest: digest}), ErrEmptySourceID)
	assert.ErrorIs(t, ValidateEntry(&core.LedgerEntry{SourceID: "a"}), ErrZeroDigest)
}
