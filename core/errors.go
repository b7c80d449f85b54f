// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import (
	"context"
	"errors"
	"fmt"
)

// Processing errors. Per-source errors wrap one of these so the run summary
// can report a kind for every failure.
var (
	// ErrUnsupportedFormat indicates the source extension maps to no extractor.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrExtraction indicates a malformed or unreadable document.
	ErrExtraction = errors.New("extraction failed")

	// ErrConfiguration indicates invalid global settings. It is fatal to a run.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrSink indicates the embedding sink rejected a source's chunks.
	ErrSink = errors.New("sink failed")

	// ErrSource indicates the source bytes could not be read or fetched.
	ErrSource = errors.New("source unreadable")

	// ErrLedger indicates the fingerprint ledger could not be read or written.
	ErrLedger = errors.New("ledger failed")
)

// Chunk validation errors. They classify as extraction failures.
var (
	// ErrInvalidChunks indicates chunking lost, duplicated or reordered units.
	ErrInvalidChunks = fmt.Errorf("%w: invalid chunk sequence", ErrExtraction)

	// ErrEmptyChunk indicates a chunk with no units.
	ErrEmptyChunk = errors.New("chunk has no units")
)

// ErrorKind names a failure class in run summaries.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindUnsupportedFormat ErrorKind = "UnsupportedFormat"
	KindExtraction        ErrorKind = "ExtractionError"
	KindConfiguration     ErrorKind = "ConfigurationError"
	KindSink              ErrorKind = "SinkError"
	KindSource            ErrorKind = "SourceError"
	KindLedger            ErrorKind = "LedgerError"
	KindCanceled          ErrorKind = "Canceled"
	KindUnknown           ErrorKind = "Unknown"
)

// KindOf classifies err by the sentinel it wraps.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrUnsupportedFormat):
		return KindUnsupportedFormat
	case errors.Is(err, ErrExtraction):
		return KindExtraction
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrSink):
		return KindSink
	case errors.Is(err, ErrSource):
		return KindSource
	case errors.Is(err, ErrLedger):
		return KindLedger
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindUnknown
	}
}

// IsFatal reports whether err must abort a whole run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration)
}
