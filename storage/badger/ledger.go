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


package badger

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/prepdocs/core"
	"github.com/poiesic/prepdocs/storage"
)

// Ledger implements storage.Ledger for BadgerDB.
type Ledger struct {
	backend   *Backend
	ownsStore bool
	locks     storage.KeyedMutex
}

var (
	_ storage.Ledger = (*Ledger)(nil)
	_ storage.Lister   = (*Ledger)(nil)
	_ storage.Resetter = (*Ledger)(nil)
)

// NewLedger creates a ledger on an open backend. The caller keeps ownership of backend.
func NewLedger(backend *Backend) (storage.Ledger, error) {
	return newLedger(backend, false)
}

// OpenLedger opens a backend at path and returns a ledger that closes it.
func OpenLedger(path string) (storage.Ledger, error) {
	backend, err := OpenBackend(path, false)
	if err != nil {
		return nil, err
	}
	return newLedger(backend, true)
}

func newLedger(backend *Backend, owns bool) (*Ledger, error) {
	if backend == nil || backend.IsClosed() {
		return nil, storage.ErrStorageClosed
	}
	return &Ledger{
		backend:   backend,
		ownsStore: owns,
	}, nil
}

// Lookup retrieves the digest recorded for a source.
// Returns false if the source has never been committed.
func (l *Ledger) Lookup(ctx context.Context, sourceID string) (core.Digest, bool, error) {
	entry, err := l.load(sourceID)
	if err != nil || entry == nil {
		return core.Digest{}, false, err
	}
	return entry.Digest, true, nil
}

// Commit persists an entry, overwriting the previous one for the same source.
func (l *Ledger) Commit(ctx context.Context, entry core.LedgerEntry) error {
	if err := storage.ValidateEntry(&entry); err != nil {
		return err
	}
	unlock := l.locks.Lock(entry.SourceID)
	defer unlock()

	if l.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	return l.backend.WithTx(func(tx *badger.Txn) error {
		if entry.CommittedAt.IsZero() {
			entry.CommittedAt = time.Now().UTC()
		}
		if err := tx.Set(makeLedgerKey(entry.SourceID), storage.MarshalLedgerEntry(&entry)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// Forget deletes the entry for a source.
func (l *Ledger) Forget(ctx context.Context, sourceID string) error {
	if sourceID == "" {
		return storage.ErrEmptySourceID
	}
	unlock := l.locks.Lock(sourceID)
	defer unlock()

	if l.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	return l.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Delete(makeLedgerKey(sourceID)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// Entries returns all committed entries in key order.
func (l *Ledger) Entries(ctx context.Context) ([]core.LedgerEntry, error) {
	if l.backend.IsClosed() {
		return nil, storage.ErrStorageClosed
	}
	var entries []core.LedgerEntry
	err := l.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(ledgerPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := iter.Item()
			err := item.Value(func(val []byte) error {
				entry, err := storage.UnmarshalLedgerEntry(val)
				if err != nil {
					l.backend.logger.Warn("skipping unreadable ledger entry",
						"source", sourceIDFromKey(item.Key()), "err", err)
					return nil
				}
				entries = append(entries, *entry)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	return entries, err
}

// Reset drops every ledger entry.
func (l *Ledger) Reset(ctx context.Context) error {
	if l.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	n, err := l.backend.DeletePrefix([]byte(ledgerPrefix))
	if err != nil {
		return err
	}
	l.backend.logger.Debug("ledger reset", "entries", n)
	return nil
}

// Close closes the backend when the ledger opened it.
func (l *Ledger) Close() error {
	if !l.ownsStore || l.backend.IsClosed() {
		return nil
	}
	return l.backend.Close()
}

// load retrieves the entry for a source.
// Returns nil, nil if no entry exists.
func (l *Ledger) load(sourceID string) (*core.LedgerEntry, error) {
	if sourceID == "" {
		return nil, storage.ErrEmptySourceID
	}
	if l.backend.IsClosed() {
		return nil, storage.ErrStorageClosed
	}
	var entry *core.LedgerEntry
	err := l.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeLedgerKey(sourceID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}

		return item.Value(func(val []byte) error {
			var unmarshalErr error
			entry, unmarshalErr = storage.UnmarshalLedgerEntry(val)
			return unmarshalErr
		})
	}, false)

	return entry, err
}
