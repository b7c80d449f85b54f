package core

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/go-crypt/x/blake2b"
)

// DigestSize is the fingerprint length in bytes.
const DigestSize = 16

// fingerprintBlockSize is the read size used when streaming sources.
const fingerprintBlockSize = 4096

// Digest is a content fingerprint used only for change detection.
type Digest [DigestSize]byte

// String returns the lowercase hex form of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether the digest is unset.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// ParseDigest decodes the hex form produced by Digest.String.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("parse digest: %w", err)
	}
	if len(raw) != DigestSize {
		return d, fmt.Errorf("parse digest: want %d bytes, got %d", DigestSize, len(raw))
	}
	copy(d[:], raw)
	return d, nil
}

// Fingerprint streams r through BLAKE2b-128 in fixed-size blocks.
// The result depends only on the bytes read, not on how the reader buffers them.
func Fingerprint(r io.Reader) (Digest, error) {
	var d Digest
	h, err := blake2b.New(DigestSize, nil)
	if err != nil {
		return d, err
	}
	buf := make([]byte, fingerprintBlockSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return d, err
	}
	copy(d[:], h.Sum(nil))
	return d, nil
}

// FingerprintBytes fingerprints an in-memory byte slice.
func FingerprintBytes(b []byte) Digest {
	// Reading from a bytes.Reader cannot fail.
	d, _ := Fingerprint(bytes.NewReader(b))
	return d
}
