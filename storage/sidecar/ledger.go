// Package sidecar stores ledger entries as small files next to their sources.
//
// A local source /data/report.pdf is tracked in /data/report.pdf.fingerprint.
// Remote sources have no directory of their own, so their files live in the
// state directory under a name derived from the URL.
package sidecar

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/poiesic/prepdocs/core"
	"github.com/poiesic/prepdocs/storage"
)

// Suffix is appended to a source path to name its sidecar file.
const Suffix = ".fingerprint"

// ErrNoStateDir is returned when a remote source is used without a state directory.
var ErrNoStateDir = errors.New("sidecar ledger: state directory required for remote sources")

// Ledger implements storage.Ledger with one file per source.
type Ledger struct {
	stateDir string
	folders  []string
	locks    storage.KeyedMutex
}

var (
	_ storage.Ledger   = (*Ledger)(nil)
	_ storage.Resetter = (*Ledger)(nil)
)

// Option configures a sidecar ledger.
type Option func(*Ledger) error

// WithFolder registers a source folder, or a single source file, whose
// sidecars Reset removes.
func WithFolder(path string) Option {
	return func(l *Ledger) error {
		if path == "" {
			return nil
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		l.folders = append(l.folders, abs)
		return nil
	}
}

// NewLedger returns a sidecar ledger. stateDir holds entries for remote
// sources and may be empty when only local files are ingested.
func NewLedger(stateDir string, opts ...Option) (storage.Ledger, error) {
	if stateDir != "" {
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			return nil, err
		}
	}
	l := &Ledger{stateDir: stateDir}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// IsSidecar reports whether name is a ledger file rather than a document.
func IsSidecar(name string) bool {
	return strings.HasSuffix(name, Suffix)
}

func (l *Ledger) pathFor(sourceID string) (string, error) {
	if sourceID == "" {
		return "", storage.ErrEmptySourceID
	}
	if filepath.IsAbs(sourceID) {
		return sourceID + Suffix, nil
	}
	if l.stateDir == "" {
		return "", ErrNoStateDir
	}
	name := core.FingerprintBytes([]byte(sourceID)).String()
	return filepath.Join(l.stateDir, name+Suffix), nil
}

// Lookup reads the sidecar for a source.
func (l *Ledger) Lookup(ctx context.Context, sourceID string) (core.Digest, bool, error) {
	path, err := l.pathFor(sourceID)
	if err != nil {
		return core.Digest{}, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return core.Digest{}, false, nil
		}
		return core.Digest{}, false, err
	}
	entry, err := parseEntry(data)
	if err != nil {
		return core.Digest{}, false, fmt.Errorf("%s: %w", path, err)
	}
	return entry.Digest, true, nil
}

// Commit writes the sidecar through a temp file and rename so readers never
// see a partial record.
func (l *Ledger) Commit(ctx context.Context, entry core.LedgerEntry) error {
	if err := storage.ValidateEntry(&entry); err != nil {
		return err
	}
	path, err := l.pathFor(entry.SourceID)
	if err != nil {
		return err
	}
	if entry.CommittedAt.IsZero() {
		entry.CommittedAt = time.Now().UTC()
	}

	unlock := l.locks.Lock(entry.SourceID)
	defer unlock()

	tmp, err := os.CreateTemp(filepath.Dir(path), ".fingerprint-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(formatEntry(entry)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Forget removes the sidecar for a source.
func (l *Ledger) Forget(ctx context.Context, sourceID string) error {
	path, err := l.pathFor(sourceID)
	if err != nil {
		return err
	}
	unlock := l.locks.Lock(sourceID)
	defer unlock()

	return removeIfExists(path)
}

// Reset removes every sidecar in the state directory and in the registered
// folders.
func (l *Ledger) Reset(ctx context.Context) error {
	dirs := l.folders
	if l.stateDir != "" {
		dirs = append([]string{l.stateDir}, dirs...)
	}
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := os.Stat(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		if !info.IsDir() {
			if err := removeIfExists(dir + Suffix); err != nil {
				return err
			}
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.IsDir() || !IsSidecar(e.Name()) {
				continue
			}
			if err := removeIfExists(filepath.Join(dir, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Close is a no-op; sidecar files need no teardown.
func (l *Ledger) Close() error {
	return nil
}

// formatEntry renders "digest units chunks committed-at source" on one line.
// The digest comes first so the file reads like a checksum file.
func formatEntry(e core.LedgerEntry) []byte {
	return []byte(fmt.Sprintf("%s %d %d %s %s\n",
		e.Digest, e.Units, e.Chunks, e.CommittedAt.Format(time.RFC3339Nano), e.SourceID))
}

func parseEntry(data []byte) (core.LedgerEntry, error) {
	var entry core.LedgerEntry
	fields := strings.SplitN(strings.TrimSpace(string(data)), " ", 5)

	digest, err := core.ParseDigest(fields[0])
	if err != nil {
		return entry, err
	}
	entry.Digest = digest

	// Bare digest files carry no counts.
	if len(fields) < 5 {
		return entry, nil
	}
	if entry.Units, err = strconv.Atoi(fields[1]); err != nil {
		return entry, fmt.Errorf("parse units: %w", err)
	}
	if entry.Chunks, err = strconv.Atoi(fields[2]); err != nil {
		return entry, fmt.Errorf("parse chunks: %w", err)
	}
	if entry.CommittedAt, err = time.Parse(time.RFC3339Nano, fields[3]); err != nil {
		return entry, fmt.Errorf("parse timestamp: %w", err)
	}
	entry.SourceID = fields[4]
	return entry, nil
}
