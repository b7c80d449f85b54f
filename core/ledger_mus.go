package core

import (
	"fmt"

	"github.com/mus-format/mus-go"
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// LedgerEntryMUS is the MUS serializer for LedgerEntry.
// Field order: SourceID, Digest, Units, Chunks, CommittedAt (unix micro, UTC).
var LedgerEntryMUS = ledgerEntryMUS{}

var _ mus.Serializer[LedgerEntry] = LedgerEntryMUS

type ledgerEntryMUS struct{}

func (s ledgerEntryMUS) Marshal(v LedgerEntry, bs []byte) (n int) {
	n = ord.String.Marshal(v.SourceID, bs)
	n += ord.ByteSlice.Marshal(v.Digest[:], bs[n:])
	n += varint.Int.Marshal(v.Units, bs[n:])
	n += varint.Int.Marshal(v.Chunks, bs[n:])
	return n + raw.TimeUnixMicroUTC.Marshal(v.CommittedAt, bs[n:])
}

func (s ledgerEntryMUS) Unmarshal(bs []byte) (v LedgerEntry, n int, err error) {
	v.SourceID, n, err = ord.String.Unmarshal(bs)
	if err != nil {
		return
	}
	var (
		n1     int
		digest []byte
	)
	digest, n1, err = ord.ByteSlice.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	if len(digest) != DigestSize {
		err = fmt.Errorf("ledger entry: digest has %d bytes", len(digest))
		return
	}
	copy(v.Digest[:], digest)
	v.Units, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Chunks, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.CommittedAt, n1, err = raw.TimeUnixMicroUTC.Unmarshal(bs[n:])
	n += n1
	return
}

func (s ledgerEntryMUS) Size(v LedgerEntry) (size int) {
	size = ord.String.Size(v.SourceID)
	size += ord.ByteSlice.Size(v.Digest[:])
	size += varint.Int.Size(v.Units)
	size += varint.Int.Size(v.Chunks)
	return size + raw.TimeUnixMicroUTC.Size(v.CommittedAt)
}

func (s ledgerEntryMUS) Skip(bs []byte) (n int, err error) {
	n, err = ord.String.Skip(bs)
	if err != nil {
		return
	}
	var n1 int
	n1, err = ord.ByteSlice.Skip(bs[n:])
	n += n1
	if err != nil {
		return
	}
	n1, err = varint.Int.Skip(bs[n:])
	n += n1
	if err != nil {
		return
	}
	n1, err = varint.Int.Skip(bs[n:])
	n += n1
	if err != nil {
		return
	}
	n1, err = raw.TimeUnixMicroUTC.Skip(bs[n:])
	n += n1
	return
}
